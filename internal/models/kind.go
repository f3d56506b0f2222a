// Copyright 2021 FerretDB Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package models

import (
	"strconv"
	"strings"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Kind is a field type from the field catalog.
type Kind int

// Field kinds.
const (
	_ Kind = iota

	AutoField
	BigAutoField
	CharField
	TextField
	EmailField
	SlugField
	URLField
	UUIDField
	IntegerField
	SmallIntegerField
	BigIntegerField
	PositiveIntegerField
	BooleanField
	FloatField
	DecimalField
	DateField
	DateTimeField
	TimeField
	DurationField
	BinaryField
	JSONField
	ForeignKey
)

var kindNames = map[Kind]string{
	AutoField:            "AutoField",
	BigAutoField:         "BigAutoField",
	CharField:            "CharField",
	TextField:            "TextField",
	EmailField:           "EmailField",
	SlugField:            "SlugField",
	URLField:             "URLField",
	UUIDField:            "UUIDField",
	IntegerField:         "IntegerField",
	SmallIntegerField:    "SmallIntegerField",
	BigIntegerField:      "BigIntegerField",
	PositiveIntegerField: "PositiveIntegerField",
	BooleanField:         "BooleanField",
	FloatField:           "FloatField",
	DecimalField:         "DecimalField",
	DateField:            "DateField",
	DateTimeField:        "DateTimeField",
	TimeField:            "TimeField",
	DurationField:        "DurationField",
	BinaryField:          "BinaryField",
	JSONField:            "JSONField",
	ForeignKey:           "ForeignKey",
}

// kindsByName is the reverse of kindNames.
var kindsByName = func() map[string]Kind {
	res := make(map[string]Kind, len(kindNames))
	for k, n := range kindNames {
		res[n] = k
	}

	return res
}()

// String implements fmt.Stringer.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}

	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// ParseKind returns the field kind with the given catalog name.
//
// Names may be qualified as "fields.CharField" or "models.CharField".
func ParseKind(name string) (Kind, error) {
	n := name
	if i := strings.LastIndexByte(n, '.'); i >= 0 {
		n = n[i+1:]
	}

	if k, ok := kindsByName[n]; ok {
		return k, nil
	}

	return 0, ormerrors.Newf(ormerrors.ErrorCodeModel, "Unknown field: %s", name)
}

// IsAuto returns true for auto-incrementing primary key kinds.
func (k Kind) IsAuto() bool {
	return k == AutoField || k == BigAutoField
}

// IsText returns true for kinds stored as strings with an optional length limit.
func (k Kind) IsText() bool {
	switch k {
	case CharField, TextField, EmailField, SlugField, URLField:
		return true
	default:
		return false
	}
}

// IsInteger returns true for integer kinds, including auto fields and foreign keys.
func (k Kind) IsInteger() bool {
	switch k {
	case AutoField, BigAutoField, IntegerField, SmallIntegerField, BigIntegerField, PositiveIntegerField, ForeignKey:
		return true
	default:
		return false
	}
}

// defaultMaxLength returns the default max_length for the kind, or zero.
func (k Kind) defaultMaxLength() int {
	switch k {
	case EmailField:
		return 254
	case SlugField:
		return 50
	case URLField:
		return 200
	default:
		return 0
	}
}

// GoType returns the Go type name used for the kind in generated model sources.
func (k Kind) GoType() string {
	switch k {
	case AutoField, BigAutoField, BigIntegerField, ForeignKey:
		return "int64"
	case IntegerField, PositiveIntegerField:
		return "int32"
	case SmallIntegerField:
		return "int16"
	case CharField, TextField, EmailField, SlugField, URLField, DecimalField:
		return "string"
	case UUIDField:
		return "uuid.UUID"
	case BooleanField:
		return "bool"
	case FloatField:
		return "float64"
	case DateField, DateTimeField, TimeField:
		return "time.Time"
	case DurationField:
		return "time.Duration"
	case BinaryField:
		return "[]byte"
	case JSONField:
		return "map[string]any"
	default:
		return "any"
	}
}

// OnDelete is a foreign key deletion behavior.
type OnDelete string

// Foreign key deletion behaviors.
const (
	Cascade    OnDelete = "CASCADE"
	Protect    OnDelete = "PROTECT"
	SetNull    OnDelete = "SET_NULL"
	SetDefault OnDelete = "SET_DEFAULT"
	DoNothing  OnDelete = "DO_NOTHING"
	Restrict   OnDelete = "RESTRICT"
)

// ParseOnDelete returns the deletion behavior with the given name.
func ParseOnDelete(s string) (OnDelete, error) {
	switch o := OnDelete(strings.ToUpper(s)); o {
	case Cascade, Protect, SetNull, SetDefault, DoNothing, Restrict:
		return o, nil
	default:
		return "", ormerrors.Newf(ormerrors.ErrorCodeModel, "Unknown on_delete behavior: %s", s)
	}
}

// SQL returns the referential action used in FOREIGN KEY clauses.
func (o OnDelete) SQL() string {
	switch o {
	case Cascade:
		return "CASCADE"
	case SetNull:
		return "SET NULL"
	case SetDefault:
		return "SET DEFAULT"
	case Restrict, Protect:
		return "RESTRICT"
	default:
		return "NO ACTION"
	}
}
