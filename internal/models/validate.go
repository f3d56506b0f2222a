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
	"math"
	"net/mail"
	"net/url"
	"reflect"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// FieldErrors maps field names to validation messages.
type FieldErrors map[string][]string

// Error implements error interface.
func (fe FieldErrors) Error() string {
	names := maps.Keys(fe)
	slices.Sort(names)

	parts := make([]string, len(names))
	for i, n := range names {
		parts[i] = n + ": " + strings.Join(fe[n], " ")
	}

	return strings.Join(parts, "; ")
}

var (
	slugRE    = regexp.MustCompile(`^[-a-zA-Z0-9_]+$`)
	decimalRE = regexp.MustCompile(`^[-+]?(\d*)(?:\.(\d*))?$`)
)

// integer ranges of database column types
var intRanges = map[Kind][2]int64{
	SmallIntegerField:    {math.MinInt16, math.MaxInt16},
	IntegerField:         {math.MinInt32, math.MaxInt32},
	PositiveIntegerField: {0, math.MaxInt32},
	AutoField:            {math.MinInt32, math.MaxInt32},
}

// Validate checks values (keyed by field name) against field definitions.
//
// Missing values of fields with defaults are not checked.
// It returns a ValidationError with FieldErrors listing every failing field.
func Validate(m *Model, values map[string]any) error {
	errs := make(FieldErrors)

	for _, f := range m.Fields {
		v, ok := values[f.Name]
		if !ok && f.HasDefault() {
			continue
		}

		if f.Kind.IsAuto() && isZero(v) {
			continue
		}

		if msgs := validateField(f, v); len(msgs) > 0 {
			errs[f.Name] = msgs
		}
	}

	if len(errs) == 0 {
		return nil
	}

	return ormerrors.New(ormerrors.ErrorCodeValidation, "Validation failed for "+m.Name, errs)
}

// validateField returns validation messages for a single value.
func validateField(f *Field, v any) []string {
	if v != nil {
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				v = nil
			} else {
				v = rv.Elem().Interface()
			}
		}
	}

	if v == nil {
		if f.Null || f.AutoNow || f.AutoNowAdd {
			return nil
		}

		return []string{"This field cannot be null."}
	}

	empty := isEmpty(v)

	if empty {
		if f.Blank {
			return nil
		}

		return []string{"This field cannot be blank."}
	}

	var res []string

	if len(f.Choices) > 0 && !empty {
		var found bool

		for _, c := range f.Choices {
			if fmt.Sprint(c.Value) == fmt.Sprint(v) {
				found = true
				break
			}
		}

		if !found {
			res = append(res, fmt.Sprintf("Value %q is not a valid choice.", fmt.Sprint(v)))
		}
	}

	if f.Kind.IsText() {
		s, ok := v.(string)
		if !ok {
			return append(res, fmt.Sprintf("Expected a string, got %T.", v))
		}

		if f.MaxLength > 0 {
			if n := utf8.RuneCountInString(s); n > f.MaxLength {
				res = append(res, fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", f.MaxLength, n))
			}
		}

		if !empty {
			switch f.Kind {
			case EmailField:
				if a, err := mail.ParseAddress(s); err != nil || a.Address != s {
					res = append(res, "Enter a valid email address.")
				}

			case URLField:
				u, err := url.Parse(s)
				if err != nil || u.Host == "" || !slices.Contains([]string{"http", "https", "ftp", "ftps"}, u.Scheme) {
					res = append(res, "Enter a valid URL.")
				}

			case SlugField:
				if !slugRE.MatchString(s) {
					res = append(res, "Enter a valid slug consisting of letters, numbers, underscores or hyphens.")
				}
			}
		}
	}

	switch f.Kind {
	case UUIDField:
		switch v := v.(type) {
		case uuid.UUID:
		case string:
			if _, err := uuid.Parse(v); err != nil {
				res = append(res, fmt.Sprintf("%q is not a valid UUID.", v))
			}
		default:
			res = append(res, fmt.Sprintf("%v is not a valid UUID.", v))
		}

	case DecimalField:
		res = append(res, validateDecimal(f, fmt.Sprint(v))...)

	case SmallIntegerField, IntegerField, PositiveIntegerField, AutoField:
		if i, ok := toInt64(v); ok {
			r := intRanges[f.Kind]
			if i < r[0] {
				res = append(res, fmt.Sprintf("Ensure this value is greater than or equal to %d.", r[0]))
			}

			if i > r[1] {
				res = append(res, fmt.Sprintf("Ensure this value is less than or equal to %d.", r[1]))
			}
		}
	}

	return res
}

// validateDecimal checks the number of digits of a decimal value.
func validateDecimal(f *Field, s string) []string {
	match := decimalRE.FindStringSubmatch(s)
	if match == nil || (match[1] == "" && match[2] == "") {
		return []string{"A valid number is required."}
	}

	whole := strings.TrimLeft(match[1], "0")
	frac := strings.TrimRight(match[2], "0")

	var res []string

	if len(whole)+len(frac) > f.MaxDigits {
		res = append(res, fmt.Sprintf("Ensure that there are no more than %d digits in total.", f.MaxDigits))
	}

	if len(frac) > f.DecimalPlaces {
		res = append(res, fmt.Sprintf("Ensure that there are no more than %d decimal places.", f.DecimalPlaces))
	}

	if maxWhole := f.MaxDigits - f.DecimalPlaces; len(whole) > maxWhole {
		res = append(res, fmt.Sprintf("Ensure that there are no more than %d digits before the decimal point.", maxWhole))
	}

	return res
}

// isEmpty returns true for Django's "empty values": nil, empty strings, slices, and maps.
func isEmpty(v any) bool {
	if v == nil {
		return true
	}

	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.String, reflect.Slice, reflect.Map:
		return rv.Len() == 0
	default:
		return false
	}
}

// isZero returns true for nil and zero values of any type.
func isZero(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// toInt64 converts integer values of any Go type.
func toInt64(v any) (int64, bool) {
	switch rv := reflect.ValueOf(v); rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int64(rv.Uint()), true
	default:
		return 0, false
	}
}
