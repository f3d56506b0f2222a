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
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// TagName is the struct tag key used for model fields.
const TagName = "sqlorm"

var (
	timeType     = reflect.TypeOf(time.Time{})
	durationType = reflect.TypeOf(time.Duration(0))
	uuidType     = reflect.TypeOf(uuid.UUID{})
	bytesType    = reflect.TypeOf([]byte(nil))
)

// NewField creates a field of the given kind from options like the ones used in model definition files.
//
// Option values may be of any type produced by JSON or YAML decoders.
func NewField(name, kind string, opts map[string]any) (*Field, error) {
	k, err := ParseKind(kind)
	if err != nil {
		return nil, err
	}

	f := &Field{
		Name: name,
		Kind: k,
	}

	for key, v := range opts {
		if err = applyOption(f, key, v); err != nil {
			return nil, err
		}
	}

	if err = f.Check(); err != nil {
		return nil, err
	}

	return f, nil
}

// parseTag parses `sqlorm:"CharField,max_length=100,unique"` into the field.
//
// The first item is the kind unless it is an option or a flag.
func parseTag(f *Field, tag string) error {
	for i, item := range strings.Split(tag, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		key, value, hasValue := strings.Cut(item, "=")

		if i == 0 && !hasValue && !isFlag(key) {
			k, err := ParseKind(key)
			if err != nil {
				return err
			}

			f.Kind = k

			continue
		}

		var v any = true
		if hasValue {
			v = value
		}

		if err := applyOption(f, key, v); err != nil {
			return err
		}
	}

	return nil
}

// isFlag returns true for boolean options that can be used without a value.
func isFlag(s string) bool {
	switch s {
	case "null", "blank", "unique", "primary_key", "db_index", "auto_now", "auto_now_add":
		return true
	default:
		return false
	}
}

// applyOption sets a single field option.
func applyOption(f *Field, key string, v any) error {
	var err error

	switch key {
	case "column", "db_column":
		f.DBColumn, err = optString(v)
	case "max_length":
		f.MaxLength, err = optInt(v)
	case "max_digits":
		f.MaxDigits, err = optInt(v)
	case "decimal_places":
		f.DecimalPlaces, err = optInt(v)
	case "null":
		f.Null, err = optBool(v)
	case "blank":
		f.Blank, err = optBool(v)
	case "unique":
		f.Unique, err = optBool(v)
	case "primary_key":
		f.PrimaryKey, err = optBool(v)
	case "db_index":
		f.DBIndex, err = optBool(v)
	case "auto_now":
		f.AutoNow, err = optBool(v)
	case "auto_now_add":
		f.AutoNowAdd, err = optBool(v)
	case "to":
		f.To, err = optString(v)
	case "on_delete":
		var s string
		if s, err = optString(v); err == nil {
			f.OnDelete, err = ParseOnDelete(s)
		}
	case "default":
		f.Default = v
		if s, ok := v.(string); ok {
			f.Default = parseDefault(f.Kind, s)
		}
	case "choices":
		f.Choices, err = optChoices(v)
	default:
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Unknown option %q for field %q", key, f.Name)
	}

	if err != nil {
		return ormerrors.New(ormerrors.ErrorCodeModel, fmt.Sprintf("Invalid option %q for field %q", key, f.Name), err)
	}

	return nil
}

// parseDefault converts a default given as a string to the kind's natural type.
func parseDefault(k Kind, s string) any {
	switch {
	case k.IsInteger():
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return i
		}
	case k == BooleanField:
		if b, err := strconv.ParseBool(s); err == nil {
			return b
		}
	case k == FloatField:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	}

	return s
}

func optString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case fmt.Stringer:
		return v.String(), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func optInt(v any) (int, error) {
	switch v := v.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func optBool(v any) (bool, error) {
	switch v := v.(type) {
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

// optChoices accepts "a|b|c", a list of values, or a list of [value, label] pairs.
func optChoices(v any) ([]Choice, error) {
	switch v := v.(type) {
	case string:
		var res []Choice
		for _, s := range strings.Split(v, "|") {
			res = append(res, Choice{Value: s, Label: s})
		}

		return res, nil

	case []any:
		res := make([]Choice, 0, len(v))

		for _, e := range v {
			switch e := e.(type) {
			case []any:
				if len(e) != 2 {
					return nil, fmt.Errorf("expected [value, label] pair, got %d elements", len(e))
				}

				res = append(res, Choice{Value: e[0], Label: fmt.Sprint(e[1])})

			default:
				res = append(res, Choice{Value: e, Label: fmt.Sprint(e)})
			}
		}

		return res, nil

	case []Choice:
		return v, nil

	default:
		return nil, fmt.Errorf("expected list of choices, got %T", v)
	}
}

// inferKind returns the default kind for a Go type.
func inferKind(t reflect.Type) (Kind, bool) {
	switch t {
	case timeType:
		return DateTimeField, true
	case durationType:
		return DurationField, true
	case uuidType:
		return UUIDField, true
	case bytesType:
		return BinaryField, true
	}

	switch t.Kind() {
	case reflect.String:
		return TextField, true
	case reflect.Bool:
		return BooleanField, true
	case reflect.Int8, reflect.Int16:
		return SmallIntegerField, true
	case reflect.Int32:
		return IntegerField, true
	case reflect.Int, reflect.Int64:
		return BigIntegerField, true
	case reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint, reflect.Uint64:
		return PositiveIntegerField, true
	case reflect.Float32, reflect.Float64:
		return FloatField, true
	case reflect.Map, reflect.Slice, reflect.Struct:
		return JSONField, true
	default:
		return 0, false
	}
}

// fieldsFromStruct collects fields of the struct type.
//
// Embedded structs are abstract bases: their fields are inherited.
// Fields of the outer struct override inherited fields with the same name.
func fieldsFromStruct(t reflect.Type, index []int) ([]*Field, error) {
	var res []*Field

	add := func(f *Field) {
		for i, e := range res {
			if e.Name == f.Name {
				res[i] = f
				return
			}
		}

		res = append(res, f)
	}

	for i := range t.NumField() {
		sf := t.Field(i)
		idx := append(append([]int(nil), index...), i)

		tag, hasTag := sf.Tag.Lookup(TagName)
		if tag == "-" {
			continue
		}

		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !hasTag {
			inherited, err := fieldsFromStruct(sf.Type, idx)
			if err != nil {
				return nil, err
			}

			for _, f := range inherited {
				add(f)
			}

			continue
		}

		if !sf.IsExported() {
			continue
		}

		f, err := fieldFromStruct(sf, tag)
		if err != nil {
			return nil, err
		}

		f.index = idx
		add(f)
	}

	return res, nil
}

// fieldFromStruct creates a field for a single struct field.
func fieldFromStruct(sf reflect.StructField, tag string) (*Field, error) {
	f := &Field{
		Name: SnakeCase(sf.Name),
		typ:  sf.Type,
	}

	t := sf.Type
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
		f.Null = true
	}

	if err := parseTag(f, tag); err != nil {
		return nil, err
	}

	if f.Kind == 0 {
		k, ok := inferKind(t)
		if !ok {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Cannot infer field type for %s (%s)", sf.Name, sf.Type)
		}

		f.Kind = k

		if f.Name == "id" && k.IsInteger() {
			f.Kind = BigAutoField
			if k == IntegerField {
				f.Kind = AutoField
			}

			f.PrimaryKey = true
		}
	}

	if f.Kind == ForeignKey {
		f.Name = strings.TrimSuffix(f.Name, "_id")
	}

	return f, nil
}
