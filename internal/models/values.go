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
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// timeLayouts are tried in order when a driver returns time values as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
	"15:04:05.999999999",
}

// structValue returns the addressable struct value for a pointer to the model's struct.
func (m *Model) structValue(v any) (reflect.Value, error) {
	if m.typ == nil {
		return reflect.Value{}, ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s is not backed by a Go struct", m.Name)
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Type() != m.typ {
		return reflect.Value{}, ormerrors.Newf(ormerrors.ErrorCodeModel, "Expected *%s, got %T", m.typ.Name(), v)
	}

	return rv.Elem(), nil
}

// Values returns field values of the struct pointed to by v, keyed by field name.
//
// Nil pointers are returned as nil; other pointers are dereferenced.
func (m *Model) Values(v any) (map[string]any, error) {
	sv, err := m.structValue(v)
	if err != nil {
		return nil, err
	}

	res := make(map[string]any, len(m.Fields))

	for _, f := range m.Fields {
		fv := sv.FieldByIndex(f.index)
		if fv.Kind() == reflect.Pointer {
			if fv.IsNil() {
				res[f.Name] = nil
				continue
			}

			fv = fv.Elem()
		}

		res[f.Name] = fv.Interface()
	}

	return res, nil
}

// Value returns a single field value of the struct pointed to by v.
func (m *Model) Value(v any, f *Field) (any, error) {
	values, err := m.Values(v)
	if err != nil {
		return nil, err
	}

	return values[f.Name], nil
}

// SetValue sets a single field of the struct pointed to by v.
//
// The value is converted the same way as values read from the database.
func (m *Model) SetValue(v any, f *Field, value any) error {
	sv, err := m.structValue(v)
	if err != nil {
		return err
	}

	if value != nil {
		if value, err = DBValue(f, value); err != nil {
			return err
		}
	}

	s := &fieldScanner{f: f, dst: sv.FieldByIndex(f.index)}

	return s.Scan(value)
}

// ScanDest returns scan destinations for the given columns of the struct pointed to by v.
func (m *Model) ScanDest(v any, columns []string) ([]any, error) {
	sv, err := m.structValue(v)
	if err != nil {
		return nil, err
	}

	res := make([]any, len(columns))

	for i, c := range columns {
		f := m.Field(c)
		if f == nil {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s has no column %q", m.Name, c)
		}

		res[i] = &fieldScanner{f: f, dst: sv.FieldByIndex(f.index)}
	}

	return res, nil
}

// DBValue converts a Go value of the field to a value accepted by database drivers.
func DBValue(f *Field, v any) (any, error) {
	if v == nil {
		return nil, nil
	}

	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil, nil
		}

		v = rv.Elem().Interface()
	}

	switch f.Kind {
	case JSONField:
		if s, ok := v.(string); ok && json.Valid([]byte(s)) {
			return s, nil
		}

		b, err := json.Marshal(v)
		if err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeValidation, fmt.Sprintf("Field %q: value is not JSON serializable", f.Name), err)
		}

		return string(b), nil

	case DurationField:
		if d, ok := v.(time.Duration); ok {
			return d.Microseconds(), nil
		}

	case UUIDField:
		switch u := v.(type) {
		case uuid.UUID:
			return u.String(), nil
		case string:
			parsed, err := uuid.Parse(u)
			if err != nil {
				return nil, ormerrors.New(ormerrors.ErrorCodeValidation, fmt.Sprintf("Field %q: %q is not a valid UUID", f.Name, u), err)
			}

			return parsed.String(), nil
		}
	}

	if valuer, ok := v.(driver.Valuer); ok {
		return valuer.Value()
	}

	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeValidation, "Field %q: value %d is out of range", f.Name, u)
		}

		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.String:
		return rv.String(), nil
	case reflect.Bool:
		return rv.Bool(), nil
	default:
		return v, nil
	}
}

// fieldScanner scans a single column into a struct field.
type fieldScanner struct {
	f   *Field
	dst reflect.Value
}

// Scan implements sql.Scanner.
func (s *fieldScanner) Scan(src any) error {
	if err := scanValue(s.f, s.dst, src); err != nil {
		return lazyerrors.Errorf("field %q: %w", s.f.Name, err)
	}

	return nil
}

// scanValue stores src into dst, converting database representations to Go types.
func scanValue(f *Field, dst reflect.Value, src any) error {
	if src == nil {
		dst.SetZero()
		return nil
	}

	if dst.Kind() == reflect.Pointer {
		elem := reflect.New(dst.Type().Elem())
		if err := scanValue(f, elem.Elem(), src); err != nil {
			return err
		}

		dst.Set(elem)

		return nil
	}

	if f.Kind == JSONField && dst.Type() != bytesType && dst.Kind() != reflect.String {
		var b []byte

		switch src := src.(type) {
		case string:
			b = []byte(src)
		case []byte:
			b = src
		default:
			return fmt.Errorf("unexpected JSON value type %T", src)
		}

		p := reflect.New(dst.Type())
		if err := json.Unmarshal(b, p.Interface()); err != nil {
			return err
		}

		dst.Set(p.Elem())

		return nil
	}

	if dst.Type() == durationType {
		us, err := asInt(src)
		if err != nil {
			return err
		}

		dst.SetInt(int64(time.Duration(us) * time.Microsecond))

		return nil
	}

	if scanner, ok := dst.Addr().Interface().(sql.Scanner); ok {
		return scanner.Scan(src)
	}

	if dst.Type() == timeType {
		t, err := asTime(src)
		if err != nil {
			return err
		}

		dst.Set(reflect.ValueOf(t))

		return nil
	}

	switch dst.Kind() {
	case reflect.String:
		switch src := src.(type) {
		case string:
			dst.SetString(src)
		case []byte:
			dst.SetString(string(src))
		case time.Time:
			dst.SetString(src.Format(time.RFC3339Nano))
		default:
			dst.SetString(fmt.Sprint(src))
		}

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := asInt(src)
		if err != nil {
			return err
		}

		if dst.OverflowInt(i) {
			return fmt.Errorf("value %d overflows %s", i, dst.Type())
		}

		dst.SetInt(i)

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := asInt(src)
		if err != nil {
			return err
		}

		if i < 0 || dst.OverflowUint(uint64(i)) {
			return fmt.Errorf("value %d overflows %s", i, dst.Type())
		}

		dst.SetUint(uint64(i))

	case reflect.Float32, reflect.Float64:
		switch src := src.(type) {
		case float64:
			dst.SetFloat(src)
		case float32:
			dst.SetFloat(float64(src))
		case int64:
			dst.SetFloat(float64(src))
		case []byte, string:
			fl, err := strconv.ParseFloat(fmt.Sprintf("%s", src), 64)
			if err != nil {
				return err
			}

			dst.SetFloat(fl)
		default:
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}

	case reflect.Bool:
		switch src := src.(type) {
		case bool:
			dst.SetBool(src)
		case int64:
			dst.SetBool(src != 0)
		case []byte, string:
			b, err := strconv.ParseBool(fmt.Sprintf("%s", src))
			if err != nil {
				return err
			}

			dst.SetBool(b)
		default:
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}

	case reflect.Slice:
		if dst.Type() != bytesType {
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}

		switch src := src.(type) {
		case []byte:
			dst.SetBytes(append([]byte(nil), src...))
		case string:
			dst.SetBytes([]byte(src))
		default:
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}

	default:
		sv := reflect.ValueOf(src)
		if !sv.Type().ConvertibleTo(dst.Type()) {
			return fmt.Errorf("cannot convert %T to %s", src, dst.Type())
		}

		dst.Set(sv.Convert(dst.Type()))
	}

	return nil
}

// asInt converts integer-like database values.
func asInt(src any) (int64, error) {
	switch src := src.(type) {
	case int64:
		return src, nil
	case int32:
		return int64(src), nil
	case int:
		return int64(src), nil
	case float64:
		return int64(src), nil
	case bool:
		if src {
			return 1, nil
		}

		return 0, nil
	case []byte:
		return strconv.ParseInt(string(src), 10, 64)
	case string:
		return strconv.ParseInt(src, 10, 64)
	default:
		return 0, fmt.Errorf("cannot convert %T to integer", src)
	}
}

// asTime converts time-like database values.
func asTime(src any) (time.Time, error) {
	var s string

	switch src := src.(type) {
	case time.Time:
		return src, nil
	case []byte:
		s = string(src)
	case string:
		s = src
	default:
		return time.Time{}, fmt.Errorf("cannot convert %T to time.Time", src)
	}

	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("cannot parse %q as time", s)
}
