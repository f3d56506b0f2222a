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

// Package query compiles model queries to SQL.
//
// Queries are built from filter keys like "name__icontains" and rendered
// with ? placeholders, rebound for the backend.
package query

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Q maps filter keys to values. Keys are combined with AND.
type Q map[string]any

// node is a group of conditions combined with AND, possibly negated.
type node struct {
	negate bool
	conds  []*condition
}

// Query is a select, update, or delete query for a single model.
//
// Methods that change the query return a new one; Query values are never modified.
type Query struct {
	m     *models.Model
	where []node

	// nil means model ordering; empty means no ordering
	order []string

	limit  int
	offset int
}

// New returns a query that matches all rows of the model's table.
func New(m *models.Model) *Query {
	return &Query{m: m}
}

// Model returns the model of the query.
func (q *Query) Model() *models.Model {
	return q.m
}

// clone returns a copy of the query that can be modified.
func (q *Query) clone() *Query {
	res := *q
	res.where = slices.Clone(q.where)

	if q.order != nil {
		res.order = slices.Clone(q.order)
	}

	return &res
}

// Filter returns a query with conditions added.
func (q *Query) Filter(filter Q) (*Query, error) {
	return q.add(filter, false)
}

// Exclude returns a query that excludes rows matching all conditions.
func (q *Query) Exclude(filter Q) (*Query, error) {
	return q.add(filter, true)
}

// add returns a query with a new condition group.
func (q *Query) add(filter Q, negate bool) (*Query, error) {
	if q.sliced() {
		return nil, ormerrors.New(ormerrors.ErrorCodeQuery, "Cannot filter a query once a slice has been taken", nil)
	}

	keys := maps.Keys(filter)
	slices.Sort(keys)

	n := node{negate: negate, conds: make([]*condition, 0, len(keys))}

	for _, k := range keys {
		c, err := parseCondition(q.m, k, filter[k])
		if err != nil {
			return nil, err
		}

		n.conds = append(n.conds, c)
	}

	res := q.clone()
	if len(n.conds) > 0 {
		res.where = append(res.where, n)
	}

	return res, nil
}

// OrderBy returns a query with the given ordering; "-name" means descending order.
// Without arguments, ordering is cleared.
func (q *Query) OrderBy(fields ...string) (*Query, error) {
	for _, o := range fields {
		if q.m.Field(strings.TrimPrefix(o, "-")) == nil {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "Cannot resolve keyword %q into field of %s", o, q.m.Name)
		}
	}

	res := q.clone()
	res.order = append([]string{}, fields...)

	return res, nil
}

// Ordered returns true if the query has explicit or model ordering.
func (q *Query) Ordered() bool {
	if q.order != nil {
		return len(q.order) > 0
	}

	return len(q.m.Ordering) > 0
}

// Slice returns a query with LIMIT and OFFSET. Zero limit means no limit.
func (q *Query) Slice(limit, offset int) (*Query, error) {
	if limit < 0 || offset < 0 {
		return nil, ormerrors.New(ormerrors.ErrorCodeQuery, "Negative limit or offset is not supported", nil)
	}

	res := q.clone()
	res.limit = limit
	res.offset = offset

	return res, nil
}

// Limit returns the limit, or 0.
func (q *Query) Limit() int {
	return q.limit
}

// Offset returns the offset, or 0.
func (q *Query) Offset() int {
	return q.offset
}

// sliced returns true if LIMIT or OFFSET is set.
func (q *Query) sliced() bool {
	return q.limit > 0 || q.offset > 0
}

// whereSQL returns the WHERE clause (with a leading space) or an empty string.
func (q *Query) whereSQL(b backends.Backend, args *[]any) string {
	if len(q.where) == 0 {
		return ""
	}

	parts := make([]string, len(q.where))

	for i, n := range q.where {
		conds := make([]string, len(n.conds))
		for j, c := range n.conds {
			conds[j] = c.sql(b, args)
		}

		s := strings.Join(conds, " AND ")

		switch {
		case n.negate:
			s = "NOT (" + s + ")"
		case len(q.where) > 1 && len(conds) > 1:
			s = "(" + s + ")"
		}

		parts[i] = s
	}

	return " WHERE " + strings.Join(parts, " AND ")
}

// orderSQL returns the ORDER BY clause (with a leading space) or an empty string.
func (q *Query) orderSQL(b backends.Backend) string {
	order := q.order
	if order == nil {
		order = q.m.Ordering
	}

	if len(order) == 0 {
		return ""
	}

	parts := make([]string, len(order))

	for i, o := range order {
		dir := " ASC"
		if strings.HasPrefix(o, "-") {
			dir = " DESC"
		}

		parts[i] = b.Quote(q.m.Field(strings.TrimPrefix(o, "-")).Column()) + dir
	}

	return " ORDER BY " + strings.Join(parts, ", ")
}

// sliceSQL returns LIMIT and OFFSET clauses (with a leading space) or an empty string.
func (q *Query) sliceSQL() string {
	switch {
	case q.limit > 0 && q.offset > 0:
		return fmt.Sprintf(" LIMIT %d OFFSET %d", q.limit, q.offset)
	case q.limit > 0:
		return fmt.Sprintf(" LIMIT %d", q.limit)
	case q.offset > 0:
		// OFFSET without LIMIT is not supported by all databases
		return fmt.Sprintf(" LIMIT %d OFFSET %d", int64(math.MaxInt64), q.offset)
	default:
		return ""
	}
}

// columns returns quoted column names; all model columns if none are given.
func (q *Query) columns(b backends.Backend, names []string) ([]string, error) {
	if len(names) == 0 {
		names = q.m.Columns()
	}

	res := make([]string, len(names))

	for i, name := range names {
		f := q.m.Field(name)
		if f == nil {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "Cannot resolve keyword %q into field of %s", name, q.m.Name)
		}

		res[i] = b.Quote(f.Column())
	}

	return res, nil
}

// Select returns SELECT statement for the given fields (all if none are given).
func (q *Query) Select(b backends.Backend, fields ...string) (string, []any, error) {
	cols, err := q.columns(b, fields)
	if err != nil {
		return "", nil, err
	}

	var args []any

	s := "SELECT " + strings.Join(cols, ", ") + " FROM " + b.Quote(q.m.Table) +
		q.whereSQL(b, &args) + q.orderSQL(b) + q.sliceSQL()

	return b.Rebind(s), args, nil
}

// Count returns SELECT COUNT(*) statement.
func (q *Query) Count(b backends.Backend) (string, []any) {
	var args []any

	where := q.whereSQL(b, &args)

	if q.sliced() {
		inner := "SELECT 1 FROM " + b.Quote(q.m.Table) + where + q.sliceSQL()
		return b.Rebind("SELECT COUNT(*) FROM (" + inner + ") " + b.Quote("sub")), args
	}

	return b.Rebind("SELECT COUNT(*) FROM " + b.Quote(q.m.Table) + where), args
}

// Exists returns a statement that selects at most one row.
func (q *Query) Exists(b backends.Backend) (string, []any) {
	var args []any

	s := "SELECT 1 FROM " + b.Quote(q.m.Table) + q.whereSQL(b, &args)

	if q.offset > 0 {
		s += fmt.Sprintf(" LIMIT 1 OFFSET %d", q.offset)
	} else {
		s += " LIMIT 1"
	}

	return b.Rebind(s), args
}

// Delete returns DELETE statement.
func (q *Query) Delete(b backends.Backend) (string, []any, error) {
	if q.sliced() {
		return "", nil, ormerrors.New(ormerrors.ErrorCodeQuery, "Cannot use 'limit' or 'offset' with delete", nil)
	}

	var args []any

	s := "DELETE FROM " + b.Quote(q.m.Table) + q.whereSQL(b, &args)

	return b.Rebind(s), args, nil
}

// Update returns UPDATE statement that sets the given fields.
func (q *Query) Update(b backends.Backend, values map[string]any) (string, []any, error) {
	if q.sliced() {
		return "", nil, ormerrors.New(ormerrors.ErrorCodeQuery, "Cannot update a query once a slice has been taken", nil)
	}

	if len(values) == 0 {
		return "", nil, ormerrors.New(ormerrors.ErrorCodeQuery, "Update requires at least one field", nil)
	}

	names := maps.Keys(values)
	slices.Sort(names)

	sets := make([]string, len(names))
	args := make([]any, 0, len(names))

	for i, name := range names {
		f := q.m.Field(name)
		if f == nil {
			return "", nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "Cannot resolve keyword %q into field of %s", name, q.m.Name)
		}

		if f.PrimaryKey {
			return "", nil, ormerrors.Newf(ormerrors.ErrorCodeQuery, "Primary key %q can't be updated", name)
		}

		v, err := models.DBValue(f, values[name])
		if err != nil {
			return "", nil, err
		}

		sets[i] = b.Quote(f.Column()) + " = ?"
		args = append(args, v)
	}

	s := "UPDATE " + b.Quote(q.m.Table) + " SET " + strings.Join(sets, ", ") + q.whereSQL(b, &args)

	return b.Rebind(s), args, nil
}

// Insert returns INSERT statement for the given columns.
func Insert(b backends.Backend, m *models.Model, columns []string) string {
	if len(columns) == 0 {
		if b.Name() == config.EngineMySQL {
			return "INSERT INTO " + b.Quote(m.Table) + " () VALUES ()"
		}

		return "INSERT INTO " + b.Quote(m.Table) + " DEFAULT VALUES"
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))

	for i, c := range columns {
		quoted[i] = b.Quote(c)
		placeholders[i] = "?"
	}

	s := "INSERT INTO " + b.Quote(m.Table) + " (" + strings.Join(quoted, ", ") + ") VALUES (" + strings.Join(placeholders, ", ") + ")"

	return b.Rebind(s)
}
