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

package query

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Lookup is a comparison applied to a field in a filter key like "name__icontains".
type Lookup string

// Supported lookups.
const (
	Exact      Lookup = "exact"
	IExact     Lookup = "iexact"
	Contains   Lookup = "contains"
	IContains  Lookup = "icontains"
	StartsWith Lookup = "startswith"
	EndsWith   Lookup = "endswith"
	GT         Lookup = "gt"
	GTE        Lookup = "gte"
	LT         Lookup = "lt"
	LTE        Lookup = "lte"
	In         Lookup = "in"
	IsNull     Lookup = "isnull"
)

var lookups = map[Lookup]struct{}{
	Exact: {}, IExact: {}, Contains: {}, IContains: {}, StartsWith: {}, EndsWith: {},
	GT: {}, GTE: {}, LT: {}, LTE: {}, In: {}, IsNull: {},
}

var operators = map[Lookup]string{
	Exact: "=",
	GT:    ">",
	GTE:   ">=",
	LT:    "<",
	LTE:   "<=",
}

// likeEscape is the escape character for LIKE patterns.
const likeEscape = "!"

// condition is a single compiled filter key.
type condition struct {
	f      *models.Field
	lookup Lookup
	value  any
}

// parseCondition parses the filter key like "price__gte" for the model.
func parseCondition(m *models.Model, key string, value any) (*condition, error) {
	name, lookup := key, Exact

	if i := strings.LastIndex(key, "__"); i > 0 {
		if l := Lookup(key[i+2:]); isLookup(l) {
			name, lookup = key[:i], l
		}
	}

	if strings.Contains(name, "__") {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "Unsupported lookup %q for %s", key, m.Name)
	}

	f := m.Field(name)
	if f == nil {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "Cannot resolve keyword %q into field of %s", name, m.Name).
			WithHint("Choices are: " + strings.Join(m.FieldNames(), ", "))
	}

	c := &condition{f: f, lookup: lookup}

	switch lookup {
	case IsNull:
		b, ok := value.(bool)
		if !ok {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "The value of %q must be a boolean, got %T", key, value)
		}

		c.value = b

	case In:
		rv := reflect.ValueOf(value)
		if value == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "The value of %q must be a slice, got %T", key, value)
		}

		values := make([]any, rv.Len())
		for i := range values {
			v, err := models.DBValue(f, rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}

			values[i] = v
		}

		c.value = values

	case Contains, IContains, StartsWith, EndsWith, IExact:
		if value == nil {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "The value of %q must not be nil", key)
		}

		c.value = fmt.Sprint(value)

	default:
		v, err := models.DBValue(f, value)
		if err != nil {
			return nil, err
		}

		if v == nil && lookup != Exact {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "The value of %q must not be nil", key)
		}

		c.value = v
	}

	return c, nil
}

// isLookup returns true if l is a supported lookup.
func isLookup(l Lookup) bool {
	_, ok := lookups[l]
	return ok
}

// sql renders the condition with ? placeholders, appending arguments.
func (c *condition) sql(b backends.Backend, args *[]any) string {
	col := b.Quote(c.f.Column())

	switch c.lookup {
	case IsNull:
		if c.value.(bool) {
			return col + " IS NULL"
		}

		return col + " IS NOT NULL"

	case In:
		values := c.value.([]any)
		if len(values) == 0 {
			return "1 = 0"
		}

		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = "?"
			*args = append(*args, v)
		}

		return col + " IN (" + strings.Join(placeholders, ", ") + ")"

	case IExact:
		*args = append(*args, strings.ToLower(c.value.(string)))
		return "LOWER(" + col + ") = ?"

	case Contains, IContains, StartsWith, EndsWith:
		pattern := escapeLike(c.value.(string))

		switch c.lookup {
		case Contains, IContains:
			pattern = "%" + pattern + "%"
		case StartsWith:
			pattern += "%"
		case EndsWith:
			pattern = "%" + pattern
		}

		if c.lookup == IContains {
			col = "LOWER(" + col + ")"
			pattern = strings.ToLower(pattern)
		}

		*args = append(*args, pattern)

		return col + " LIKE ? ESCAPE '" + likeEscape + "'"

	default:
		if c.value == nil {
			return col + " IS NULL"
		}

		*args = append(*args, c.value)

		return col + " " + operators[c.lookup] + " ?"
	}
}

// escapeLike escapes LIKE wildcards in s.
func escapeLike(s string) string {
	return strings.NewReplacer(likeEscape, likeEscape+likeEscape, "%", likeEscape+"%", "_", likeEscape+"_").Replace(s)
}
