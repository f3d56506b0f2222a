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

package sqlorm

import (
	"context"
	"fmt"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/query"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// maxGetResults is the number of rows fetched by Get to report multiple objects.
const maxGetResults = 21

// QuerySet is a lazy query for objects of a model.
//
// Methods that refine the query return a new QuerySet; errors are reported by methods that run it.
type QuerySet[T any] struct {
	mg    *Manager[T]
	q     *query.Query
	using string
	err   error
}

// with returns a copy of the query set with the given query or error.
func (qs *QuerySet[T]) with(q *query.Query, err error) *QuerySet[T] {
	res := *qs

	switch {
	case qs.err != nil:
	case err != nil:
		res.err = err
	default:
		res.q = q
	}

	return &res
}

// Filter returns a query set of objects that also match the filter.
func (qs *QuerySet[T]) Filter(filter Q) *QuerySet[T] {
	return qs.with(qs.q.Filter(filter))
}

// Exclude returns a query set without objects matching the filter.
func (qs *QuerySet[T]) Exclude(filter Q) *QuerySet[T] {
	return qs.with(qs.q.Exclude(filter))
}

// OrderBy returns a query set with the given ordering; "-name" means descending order.
// Without arguments, ordering (including the model's default one) is cleared.
func (qs *QuerySet[T]) OrderBy(fields ...string) *QuerySet[T] {
	return qs.with(qs.q.OrderBy(fields...))
}

// Limit returns a query set with at most n objects.
func (qs *QuerySet[T]) Limit(n int) *QuerySet[T] {
	return qs.with(qs.q.Slice(n, qs.q.Offset()))
}

// Offset returns a query set that skips n objects.
func (qs *QuerySet[T]) Offset(n int) *QuerySet[T] {
	return qs.with(qs.q.Slice(qs.q.Limit(), n))
}

// Using returns a query set for the database with the given alias.
func (qs *QuerySet[T]) Using(alias string) *QuerySet[T] {
	res := *qs
	res.using = alias

	return &res
}

// run calls f with the backend and the executor for the query set's database.
func (qs *QuerySet[T]) run(ctx context.Context, f func(b backendExecutor) error) error {
	if qs.err != nil {
		return qs.err
	}

	h, b, err := qs.mg.env(qs.using)
	if err != nil {
		return err
	}

	q, err := h.Executor(ctx, qs.using)
	if err != nil {
		return err
	}

	return f(backendExecutor{Backend: b, q: q})
}

// All returns matching objects.
func (qs *QuerySet[T]) All(ctx context.Context) ([]*T, error) {
	defer observability.FuncCall(ctx)()

	return qs.fetch(ctx, qs.q)
}

// fetch returns objects for the query.
func (qs *QuerySet[T]) fetch(ctx context.Context, q *query.Query) ([]*T, error) {
	m := qs.mg.m
	res := []*T{}

	err := qs.run(ctx, func(be backendExecutor) error {
		stmt, args, err := q.Select(be)
		if err != nil {
			return err
		}

		rows, err := be.q.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}

		defer rows.Close()

		cols := m.Columns()

		for rows.Next() {
			obj := new(T)

			dest, err := m.ScanDest(obj, cols)
			if err != nil {
				return err
			}

			if err = rows.Scan(dest...); err != nil {
				return err
			}

			res = append(res, obj)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, queryError("Failed to query "+m.Name, err)
	}

	return res, nil
}

// First returns the first matching object, or nil if there are none.
//
// Without explicit or default ordering, objects are ordered by primary key.
func (qs *QuerySet[T]) First(ctx context.Context) (*T, error) {
	if qs.err != nil {
		return nil, qs.err
	}

	q := qs.q
	if !q.Ordered() {
		var err error
		if q, err = q.OrderBy("pk"); err != nil {
			return nil, err
		}
	}

	q, err := q.Slice(1, q.Offset())
	if err != nil {
		return nil, err
	}

	res, err := qs.fetch(ctx, q)
	if err != nil || len(res) == 0 {
		return nil, err
	}

	return res[0], nil
}

// Get returns the single matching object.
//
// It returns a query error with ErrDoesNotExist or ErrMultipleObjectsReturned cause
// if there are no or several matching objects.
func (qs *QuerySet[T]) Get(ctx context.Context) (*T, error) {
	if qs.err != nil {
		return nil, qs.err
	}

	q := qs.q
	if q.Limit() == 0 {
		var err error
		if q, err = q.Slice(maxGetResults, q.Offset()); err != nil {
			return nil, err
		}
	}

	res, err := qs.fetch(ctx, q)
	if err != nil {
		return nil, err
	}

	name := qs.mg.m.Name

	switch n := len(res); n {
	case 0:
		return nil, ormerrors.New(ormerrors.ErrorCodeQuery, name+" matching query", ErrDoesNotExist)
	case 1:
		return res[0], nil
	case maxGetResults:
		return nil, ormerrors.New(ormerrors.ErrorCodeQuery, fmt.Sprintf("Get returned more than %d %s objects", n-1, name), ErrMultipleObjectsReturned)
	default:
		return nil, ormerrors.New(ormerrors.ErrorCodeQuery, fmt.Sprintf("Get returned %d %s objects", n, name), ErrMultipleObjectsReturned)
	}
}

// Count returns the number of matching objects.
func (qs *QuerySet[T]) Count(ctx context.Context) (int64, error) {
	var res int64

	err := qs.run(ctx, func(be backendExecutor) error {
		stmt, args := qs.q.Count(be)
		return be.q.QueryRowContext(ctx, stmt, args...).Scan(&res)
	})
	if err != nil {
		return 0, queryError("Failed to count "+qs.mg.m.Name, err)
	}

	return res, nil
}

// Exists returns true if there is at least one matching object.
func (qs *QuerySet[T]) Exists(ctx context.Context) (bool, error) {
	var res bool

	err := qs.run(ctx, func(be backendExecutor) error {
		stmt, args := qs.q.Exists(be)

		rows, err := be.q.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}

		defer rows.Close()

		res = rows.Next()

		return rows.Err()
	})
	if err != nil {
		return false, queryError("Failed to query "+qs.mg.m.Name, err)
	}

	return res, nil
}

// Delete deletes matching objects and returns the number of deleted rows.
func (qs *QuerySet[T]) Delete(ctx context.Context) (int64, error) {
	defer observability.FuncCall(ctx)()

	var res int64

	err := qs.run(ctx, func(be backendExecutor) error {
		stmt, args, err := qs.q.Delete(be)
		if err != nil {
			return err
		}

		r, err := be.q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}

		res, err = r.RowsAffected()

		return err
	})
	if err != nil {
		return 0, queryError("Failed to delete "+qs.mg.m.Name, err)
	}

	return res, nil
}

// Update sets fields (keyed by name) of matching objects and returns the number of matched rows.
func (qs *QuerySet[T]) Update(ctx context.Context, values map[string]any) (int64, error) {
	defer observability.FuncCall(ctx)()

	var res int64

	err := qs.run(ctx, func(be backendExecutor) error {
		stmt, args, err := qs.q.Update(be, values)
		if err != nil {
			return err
		}

		r, err := be.q.ExecContext(ctx, stmt, args...)
		if err != nil {
			return err
		}

		res, err = r.RowsAffected()

		return err
	})
	if err != nil {
		return 0, queryError("Failed to update "+qs.mg.m.Name, err)
	}

	return res, nil
}

// Values returns matching rows as maps keyed by the given field names (all fields if none are given).
//
// Values are returned as reported by the driver; byte slices of non-binary fields are converted to strings.
func (qs *QuerySet[T]) Values(ctx context.Context, fields ...string) ([]map[string]any, error) {
	m := qs.mg.m

	if len(fields) == 0 {
		fields = m.FieldNames()
	}

	res := []map[string]any{}

	err := qs.run(ctx, func(be backendExecutor) error {
		stmt, args, err := qs.q.Select(be, fields...)
		if err != nil {
			return err
		}

		rows, err := be.q.QueryContext(ctx, stmt, args...)
		if err != nil {
			return err
		}

		defer rows.Close()

		for rows.Next() {
			row := make([]any, len(fields))
			dest := make([]any, len(fields))

			for i := range row {
				dest[i] = &row[i]
			}

			if err = rows.Scan(dest...); err != nil {
				return err
			}

			d := make(map[string]any, len(fields))

			for i, name := range fields {
				v := row[i]
				if b, ok := v.([]byte); ok && m.Field(name).Kind != models.BinaryField {
					v = string(b)
				}

				d[name] = v
			}

			res = append(res, d)
		}

		return rows.Err()
	})
	if err != nil {
		return nil, queryError("Failed to query "+m.Name, err)
	}

	return res, nil
}

// backendExecutor is a backend with the query executor of the alias.
type backendExecutor struct {
	backends.Backend
	q fsql.Querier
}
