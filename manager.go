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
	"errors"
	"reflect"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/query"
	"github.com/FerretDB/sqlorm/internal/schema"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// ModelOptions are optional model metadata: table name, database alias, ordering.
type ModelOptions = models.Options

// Q maps filter keys like "name__icontains" to values. Keys are combined with AND.
//
// Supported lookups are exact (the default), iexact, contains, icontains,
// startswith, endswith, gt, gte, lt, lte, in, and isnull.
type Q = query.Q

// SchemaDiff describes differences between a model and its table.
type SchemaDiff = schema.Diff

// Manager provides access to objects of a registered model.
type Manager[T any] struct {
	o *ORM
	m *models.Model
}

// Register registers the struct type T as a model of the default instance.
//
// Fields are described by `sqlorm:"..."` tags. Registering a model with the same name again replaces it.
func Register[T any](opts *ModelOptions) (*Manager[T], error) {
	return RegisterWith[T](std, opts)
}

// MustRegister is like Register, but panics on error.
func MustRegister[T any](opts *ModelOptions) *Manager[T] {
	m, err := Register[T](opts)
	if err != nil {
		panic(err)
	}

	return m
}

// RegisterWith registers the struct type T as a model of the given instance.
func RegisterWith[T any](o *ORM, opts *ModelOptions) (*Manager[T], error) {
	m, err := models.FromStruct(reflect.TypeFor[T](), opts)
	if err != nil {
		return nil, err
	}

	if err = o.r.Register(m); err != nil {
		return nil, err
	}

	return &Manager[T]{o: o, m: m}, nil
}

// ModelName returns the model name.
func (mg *Manager[T]) ModelName() string {
	return mg.m.Name
}

// TableName returns the table name.
func (mg *Manager[T]) TableName() string {
	return mg.m.Table
}

// Fields returns field names in declaration order.
func (mg *Manager[T]) Fields() []string {
	return mg.m.FieldNames()
}

// DatabaseAlias returns the alias of the model's database.
func (mg *Manager[T]) DatabaseAlias() string {
	return mg.m.Using
}

// env returns the handler and the backend for the alias.
func (mg *Manager[T]) env(alias string) (*conns.Handler, backends.Backend, error) {
	h, err := mg.o.handler()
	if err != nil {
		return nil, nil, err
	}

	b, err := h.Backend(alias)
	if err != nil {
		return nil, nil, err
	}

	return h, b, nil
}

// now returns the current time for auto_now fields, in UTC if USE_TZ is set.
func now(h *conns.Handler) time.Time {
	t := time.Now().Truncate(time.Microsecond)
	if h.Settings().UseTZ {
		return t.UTC()
	}

	return t
}

// isZero returns true for nil and zero values.
func isZero(v any) bool {
	return v == nil || reflect.ValueOf(v).IsZero()
}

// queryError wraps driver errors; errors of this package are returned as is.
func queryError(msg string, err error) error {
	var e *ormerrors.Error
	if errors.As(err, &e) {
		return err
	}

	return ormerrors.New(ormerrors.ErrorCodeQuery, msg, err)
}

// New returns a new object with field defaults set.
func (mg *Manager[T]) New() *T {
	obj := new(T)

	for _, f := range mg.m.Fields {
		if f.Default == nil {
			continue
		}

		if err := mg.m.SetValue(obj, f, f.Default); err != nil {
			mg.o.logger().Warn("Failed to set default.", zap.String("model", mg.m.Name), zap.String("field", f.Name), zap.Error(err))
		}
	}

	return obj
}

// Query returns a query set of all objects.
func (mg *Manager[T]) Query() *QuerySet[T] {
	return &QuerySet[T]{mg: mg, q: query.New(mg.m), using: mg.m.Using}
}

// Filter returns a query set of objects matching the filter.
func (mg *Manager[T]) Filter(filter Q) *QuerySet[T] {
	return mg.Query().Filter(filter)
}

// Exclude returns a query set of objects not matching the filter.
func (mg *Manager[T]) Exclude(filter Q) *QuerySet[T] {
	return mg.Query().Exclude(filter)
}

// OrderBy returns a query set of all objects with the given ordering.
func (mg *Manager[T]) OrderBy(fields ...string) *QuerySet[T] {
	return mg.Query().OrderBy(fields...)
}

// Using returns a query set of all objects in the database with the given alias.
func (mg *Manager[T]) Using(alias string) *QuerySet[T] {
	return mg.Query().Using(alias)
}

// All returns all objects.
func (mg *Manager[T]) All(ctx context.Context) ([]*T, error) {
	return mg.Query().All(ctx)
}

// Count returns the number of objects.
func (mg *Manager[T]) Count(ctx context.Context) (int64, error) {
	return mg.Query().Count(ctx)
}

// Get returns the single object matching the filter.
//
// It returns a query error with ErrDoesNotExist or ErrMultipleObjectsReturned cause
// if there are no or several matching objects.
func (mg *Manager[T]) Get(ctx context.Context, filter Q) (*T, error) {
	return mg.Filter(filter).Get(ctx)
}

// Create inserts a new object.
//
// A zero auto-incrementing primary key is set to the generated value.
// Fields with auto_now or auto_now_add are set to the current time.
func (mg *Manager[T]) Create(ctx context.Context, obj *T) error {
	return mg.insert(ctx, obj)
}

// insert inserts the object into the model's database.
func (mg *Manager[T]) insert(ctx context.Context, obj *T) error {
	defer observability.FuncCall(ctx)()

	alias := mg.m.Using

	h, b, err := mg.env(alias)
	if err != nil {
		return err
	}

	values, err := mg.m.Values(obj)
	if err != nil {
		return err
	}

	t := now(h)
	pk := mg.m.PK()

	var cols []string
	var args []any
	var generated bool

	for _, f := range mg.m.Fields {
		v := values[f.Name]

		switch {
		case f.Kind.IsAuto() && isZero(v):
			generated = true
			continue

		case f.AutoNow || f.AutoNowAdd:
			if err = mg.m.SetValue(obj, f, t); err != nil {
				return err
			}

			v = t
		}

		dv, err := models.DBValue(f, v)
		if err != nil {
			return err
		}

		cols = append(cols, f.Column())
		args = append(args, dv)
	}

	stmt := query.Insert(b, mg.m, cols)

	err = h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
		q, err := h.Executor(ctx, alias)
		if err != nil {
			return err
		}

		if !generated {
			_, err = q.ExecContext(ctx, stmt, args...)
			return err
		}

		id, err := b.InsertReturningID(ctx, q, stmt, pk.Column(), args...)
		if err != nil {
			return err
		}

		return mg.m.SetValue(obj, pk, id)
	})
	if err != nil {
		return queryError("Failed to create "+mg.m.Name, err)
	}

	return nil
}

// Save updates the object, or inserts it if it has no primary key yet or no row was updated.
//
// Fields with auto_now are set to the current time.
func (mg *Manager[T]) Save(ctx context.Context, obj *T) error {
	defer observability.FuncCall(ctx)()

	values, err := mg.m.Values(obj)
	if err != nil {
		return err
	}

	pk := mg.m.PK()
	pkv := values[pk.Name]

	if isZero(pkv) && pk.Kind.IsAuto() {
		return mg.insert(ctx, obj)
	}

	alias := mg.m.Using

	h, b, err := mg.env(alias)
	if err != nil {
		return err
	}

	t := now(h)
	set := make(map[string]any, len(values))

	for _, f := range mg.m.Fields {
		switch {
		case f.PrimaryKey:
			continue
		case f.AutoNow:
			if err = mg.m.SetValue(obj, f, t); err != nil {
				return err
			}

			set[f.Name] = t
		default:
			set[f.Name] = values[f.Name]
		}
	}

	q, err := query.New(mg.m).Filter(Q{"pk": pkv})
	if err != nil {
		return err
	}

	// update and insert run in a single transaction
	err = h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
		exec, err := h.Executor(ctx, alias)
		if err != nil {
			return err
		}

		var updated int64

		if len(set) == 0 {
			stmt, args := q.Exists(b)

			rows, err := exec.QueryContext(ctx, stmt, args...)
			if err != nil {
				return err
			}

			if rows.Next() {
				updated = 1
			}

			if err = rows.Err(); err != nil {
				_ = rows.Close()
				return err
			}

			if err = rows.Close(); err != nil {
				return err
			}
		} else {
			stmt, args, err := q.Update(b, set)
			if err != nil {
				return err
			}

			res, err := exec.ExecContext(ctx, stmt, args...)
			if err != nil {
				return err
			}

			if updated, err = res.RowsAffected(); err != nil {
				return err
			}
		}

		if updated > 0 {
			return nil
		}

		return mg.insert(ctx, obj)
	})
	if err != nil {
		return queryError("Failed to save "+mg.m.Name, err)
	}

	return nil
}

// Delete deletes the object by primary key and returns the number of deleted rows.
func (mg *Manager[T]) Delete(ctx context.Context, obj *T) (int64, error) {
	values, err := mg.m.Values(obj)
	if err != nil {
		return 0, err
	}

	pk := mg.m.PK()

	pkv := values[pk.Name]
	if isZero(pkv) && pk.Kind.IsAuto() {
		return 0, ormerrors.Newf(ormerrors.ErrorCodeQuery, "%s object can't be deleted because its %s is not set", mg.m.Name, pk.Name)
	}

	return mg.Filter(Q{"pk": pkv}).Delete(ctx)
}

// GetOrCreate returns the object matching the filter, or creates it.
//
// A new object gets values from exact lookups of the filter and from defaults.
// It returns true if the object was created.
func (mg *Manager[T]) GetOrCreate(ctx context.Context, filter Q, defaults map[string]any) (*T, bool, error) {
	h, err := mg.o.handler()
	if err != nil {
		return nil, false, err
	}

	var obj *T
	var created bool

	err = h.InTransaction(ctx, mg.m.Using, true, func(ctx context.Context) error {
		var err error
		if obj, err = mg.Get(ctx, filter); !errors.Is(err, ErrDoesNotExist) {
			return err
		}

		obj = mg.New()

		for k, v := range filter {
			name, ok := strings.CutSuffix(k, "__exact")
			if !ok && strings.Contains(k, "__") {
				continue
			}

			if err = mg.set(obj, name, v); err != nil {
				return err
			}
		}

		for k, v := range defaults {
			if err = mg.set(obj, k, v); err != nil {
				return err
			}
		}

		if err = mg.insert(ctx, obj); err != nil {
			return err
		}

		created = true

		return nil
	})
	if err != nil {
		return nil, false, err
	}

	return obj, created, nil
}

// set sets a field of the object by name.
func (mg *Manager[T]) set(obj *T, name string, v any) error {
	f := mg.m.Field(name)
	if f == nil {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "%s has no field named %q", mg.m.Name, name)
	}

	return mg.m.SetValue(obj, f, v)
}

// FullClean validates all fields of the object.
//
// It returns a validation error with FieldErrors cause listing every failing field.
func (mg *Manager[T]) FullClean(obj *T) error {
	values, err := mg.m.Values(obj)
	if err != nil {
		return err
	}

	return models.Validate(mg.m, values)
}

// ToDict returns field values of the object suitable for JSON.
//
// If fields is not empty, only those fields are included; excluded fields are omitted.
func (mg *Manager[T]) ToDict(obj *T, fields, exclude []string) (map[string]any, error) {
	values, err := mg.m.Values(obj)
	if err != nil {
		return nil, err
	}

	return models.ToDict(mg.m, values, fields, exclude), nil
}

// ToJSON returns the object as JSON. Positive indent enables pretty-printing.
func (mg *Manager[T]) ToJSON(obj *T, indent int) ([]byte, error) {
	values, err := mg.m.Values(obj)
	if err != nil {
		return nil, err
	}

	return models.ToJSON(mg.m, values, indent)
}

// Migrate creates the model's table or adds missing columns. It returns applied changes.
func (mg *Manager[T]) Migrate(ctx context.Context) ([]string, error) {
	s, err := mg.o.helpers()
	if err != nil {
		return nil, err
	}

	return s.Migrate(ctx, mg.m)
}

// CreateTable creates the model's table if it does not exist. It returns true if it was created.
func (mg *Manager[T]) CreateTable(ctx context.Context) (bool, error) {
	s, err := mg.o.helpers()
	if err != nil {
		return false, err
	}

	return s.CreateTable(ctx, mg.m)
}

// TableExists returns true if the model's table exists.
func (mg *Manager[T]) TableExists(ctx context.Context) (bool, error) {
	s, err := mg.o.helpers()
	if err != nil {
		return false, err
	}

	return s.ModelTableExists(ctx, mg.m)
}

// DropTable drops the model's table with all data; confirm must be true.
// It returns false if the table did not exist.
func (mg *Manager[T]) DropTable(ctx context.Context, confirm bool) (bool, error) {
	s, err := mg.o.helpers()
	if err != nil {
		return false, err
	}

	return s.DropTable(ctx, mg.m, confirm)
}

// GetSchemaDiff compares the model with its table.
func (mg *Manager[T]) GetSchemaDiff(ctx context.Context) (*SchemaDiff, error) {
	s, err := mg.o.helpers()
	if err != nil {
		return nil, err
	}

	return s.GetSchemaDiff(ctx, mg.m)
}

// SyncSchema adds missing columns and, if dropExtra is true, drops columns not in the model.
// It returns applied changes.
func (mg *Manager[T]) SyncSchema(ctx context.Context, dropExtra bool) ([]string, error) {
	s, err := mg.o.helpers()
	if err != nil {
		return nil, err
	}

	return s.SyncSchema(ctx, mg.m, dropExtra)
}
