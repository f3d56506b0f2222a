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
	"reflect"
	"strings"
	"unicode"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Choice is a single allowed value of a field with choices.
type Choice struct {
	Value any
	Label string
}

// Field describes a single model field.
type Field struct {
	// Name is the attribute name, in snake_case.
	Name string

	// DBColumn overrides the column name; see Column.
	DBColumn string

	Kind Kind

	MaxLength     int
	MaxDigits     int
	DecimalPlaces int

	Null       bool
	Blank      bool
	Unique     bool
	PrimaryKey bool
	DBIndex    bool

	// Default is used when the value is not set. Nil means no default.
	Default any

	Choices []Choice

	// To is the name of the referenced model for ForeignKey fields.
	To       string
	OnDelete OnDelete

	AutoNow    bool
	AutoNowAdd bool

	// index of the struct field, nil for dynamic models
	index []int
	typ   reflect.Type
}

// Column returns the database column name.
//
// Foreign keys use the "<name>_id" column unless overridden.
func (f *Field) Column() string {
	if f.DBColumn != "" {
		return f.DBColumn
	}

	if f.Kind == ForeignKey {
		return f.Name + "_id"
	}

	return f.Name
}

// HasDefault returns true if the database or the caller does not have to provide the value.
func (f *Field) HasDefault() bool {
	return f.Default != nil || f.Kind.IsAuto() || f.AutoNow || f.AutoNowAdd
}

// Check validates the field definition.
func (f *Field) Check() error {
	if f.Name == "" {
		return ormerrors.New(ormerrors.ErrorCodeModel, "Field name must not be empty", nil)
	}

	if !isIdentifier(f.Column()) {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Invalid column name %q for field %q", f.Column(), f.Name)
	}

	if _, ok := kindNames[f.Kind]; !ok {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Field %q has no type", f.Name)
	}

	if f.MaxLength == 0 {
		f.MaxLength = f.Kind.defaultMaxLength()
	}

	switch f.Kind {
	case CharField:
		if f.MaxLength <= 0 {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "CharField %q must define 'max_length'", f.Name)
		}

	case DecimalField:
		if f.MaxDigits <= 0 {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "DecimalField %q must define 'max_digits'", f.Name)
		}

		if f.DecimalPlaces < 0 || f.DecimalPlaces > f.MaxDigits {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "DecimalField %q: 'max_digits' must be greater or equal to 'decimal_places'", f.Name)
		}

	case ForeignKey:
		if f.To == "" {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "ForeignKey %q must define 'to'", f.Name)
		}

		if f.OnDelete == "" {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "ForeignKey %q must define 'on_delete'", f.Name)
		}

		if f.OnDelete == SetNull && !f.Null {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "ForeignKey %q specifies on_delete=SET_NULL, but cannot be null", f.Name)
		}

	case AutoField, BigAutoField:
		if !f.PrimaryKey {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "%s %q must set primary_key", f.Kind, f.Name)
		}
	}

	if f.PrimaryKey && f.Null {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Primary key %q cannot be null", f.Name)
	}

	return nil
}

// clone returns a shallow copy of the field with its own choices.
func (f *Field) clone() *Field {
	res := *f
	res.Choices = append([]Choice(nil), f.Choices...)

	return &res
}

// SnakeCase converts a Go identifier like "CreatedAt" or "HTTPStatus" to "created_at" or "http_status".
func SnakeCase(s string) string {
	runes := []rune(s)

	var sb strings.Builder

	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prevLower := unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

				if prevLower || (nextLower && unicode.IsUpper(runes[i-1])) {
					sb.WriteByte('_')
				}
			}

			sb.WriteRune(unicode.ToLower(r))

			continue
		}

		sb.WriteRune(r)
	}

	return sb.String()
}

// isIdentifier returns true if s can be used as an unquoted table or column name.
func isIdentifier(s string) bool {
	if s == "" {
		return false
	}

	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}

	return true
}
