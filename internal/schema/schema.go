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

// Package schema provides schema management helpers: table creation,
// column changes, table recreation and introspection.
//
// All operations run on the model's database alias (or the given one),
// inside the active transaction if the context carries one.
package schema

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// Schema provides schema management helpers for registered models.
type Schema struct {
	h *conns.Handler
	r *models.Registry
	l *zap.Logger

	// version overrides the detected server version; used by tests
	version string
}

// New creates a new Schema.
func New(h *conns.Handler, r *models.Registry, l *zap.Logger) *Schema {
	return &Schema{
		h: h,
		r: r,
		l: l,
	}
}

// executor returns the backend and the query executor for the alias.
func (s *Schema) executor(ctx context.Context, alias string) (backends.Backend, fsql.Querier, error) {
	b, err := s.h.Backend(alias)
	if err != nil {
		return nil, nil, err
	}

	q, err := s.h.Executor(ctx, alias)
	if err != nil {
		return nil, nil, err
	}

	return b, q, nil
}

// features returns features of the database server for the alias.
func (s *Schema) features(ctx context.Context, b backends.Backend, q fsql.Querier) (backends.Features, error) {
	version := s.version
	if version == "" {
		var err error
		if version, err = b.Version(ctx, q); err != nil {
			return backends.Features{}, ormerrors.New(ormerrors.ErrorCodeConnection, "Failed to get database version", err)
		}
	}

	return b.Features(version), nil
}

// exec executes DDL statements in a transaction.
func (s *Schema) exec(ctx context.Context, alias string, statements ...string) error {
	return s.h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
		q, err := s.h.Executor(ctx, alias)
		if err != nil {
			return err
		}

		for _, stmt := range statements {
			if _, err = q.ExecContext(ctx, stmt); err != nil {
				return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to execute "+firstLine(stmt), err)
			}
		}

		return nil
	})
}

// CreateTableSQL returns statements that create the model's table and indexes.
//
// Foreign key targets are resolved through the registry;
// unknown models are assumed to use the default table name and an "id" primary key.
func CreateTableSQL(b backends.Backend, r *models.Registry, m *models.Model) []string {
	defs := make([]string, 0, len(m.Fields))
	var constraints, indexes []string

	for _, f := range m.Fields {
		defs = append(defs, backends.ColumnDefinition(b, f))

		if f.Kind == models.ForeignKey {
			table, column := foreignKeyTarget(r, f)
			constraints = append(constraints, backends.ForeignKeyConstraint(b, f, table, column))
		}

		if (f.DBIndex || f.Kind == models.ForeignKey) && !f.Unique && !f.PrimaryKey {
			name := fmt.Sprintf("%s_%s_idx", m.Table, f.Column())
			indexes = append(indexes, fmt.Sprintf("CREATE INDEX %s ON %s (%s)", b.Quote(name), b.Quote(m.Table), b.Quote(f.Column())))
		}
	}

	defs = append(defs, constraints...)

	res := make([]string, 0, 1+len(indexes))
	res = append(res, fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", b.Quote(m.Table), strings.Join(defs, ",\n    ")))

	return append(res, indexes...)
}

// foreignKeyTarget returns the table and column referenced by the foreign key field.
func foreignKeyTarget(r *models.Registry, f *models.Field) (string, string) {
	if r != nil {
		if target, ok := r.Get(f.To); ok {
			return target.Table, target.PK().Column()
		}
	}

	return models.DefaultTable(f.To), "id"
}

// DropTableSQL returns the DROP TABLE statement.
func DropTableSQL(b backends.Backend, table string) string {
	return "DROP TABLE " + b.Quote(table)
}

// TableNames returns table names for the alias.
func (s *Schema) TableNames(ctx context.Context, alias string) ([]string, error) {
	defer observability.FuncCall(ctx)()

	b, q, err := s.executor(ctx, alias)
	if err != nil {
		return nil, err
	}

	res, err := b.TableNames(ctx, q)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConnection, "Failed to get table names", err)
	}

	return res, nil
}

// TableExists returns true if the table exists.
func (s *Schema) TableExists(ctx context.Context, alias, table string) (bool, error) {
	names, err := s.TableNames(ctx, alias)
	if err != nil {
		return false, err
	}

	return slices.Contains(names, table), nil
}

// ModelTableExists returns true if the model's table exists.
func (s *Schema) ModelTableExists(ctx context.Context, m *models.Model) (bool, error) {
	return s.TableExists(ctx, m.Using, m.Table)
}

// CreateTable creates the model's table if it does not exist.
//
// It returns true if the table was created.
func (s *Schema) CreateTable(ctx context.Context, m *models.Model) (bool, error) {
	defer observability.FuncCall(ctx)()

	exists, err := s.ModelTableExists(ctx, m)
	if err != nil || exists {
		return false, err
	}

	b, err := s.h.Backend(m.Using)
	if err != nil {
		return false, err
	}

	if err = s.exec(ctx, m.Using, CreateTableSQL(b, s.r, m)...); err != nil {
		return false, err
	}

	s.l.Info("Created table.", zap.String("model", m.Name), zap.String("table", m.Table))

	return true, nil
}

// CreateAllTables creates tables for all registered models.
//
// Errors are logged and do not stop the loop.
// It returns names of created tables.
func (s *Schema) CreateAllTables(ctx context.Context) []string {
	var res []string

	for _, m := range s.r.Models() {
		created, err := s.CreateTable(ctx, m)
		if err != nil {
			s.l.Error("Failed to create table.", zap.String("model", m.Name), zap.Error(err))
			continue
		}

		if created {
			res = append(res, m.Table)
		}
	}

	return res
}

// Migrate creates the model's table if it does not exist,
// or adds missing columns otherwise. Existing data is preserved.
//
// It returns applied changes.
func (s *Schema) Migrate(ctx context.Context, m *models.Model) ([]string, error) {
	defer observability.FuncCall(ctx)()

	created, err := s.CreateTable(ctx, m)
	if err != nil {
		return nil, err
	}

	if created {
		return []string{"created table " + m.Table}, nil
	}

	return s.SyncSchema(ctx, m, false)
}

// MigrateAll migrates all registered models.
//
// Errors are logged and do not stop the loop; the first one is returned.
func (s *Schema) MigrateAll(ctx context.Context) ([]string, error) {
	var res []string
	var firstErr error

	for _, m := range s.r.Models() {
		changes, err := s.Migrate(ctx, m)
		if err != nil {
			s.l.Error("Failed to migrate model.", zap.String("model", m.Name), zap.Error(err))

			if firstErr == nil {
				firstErr = err
			}

			continue
		}

		res = append(res, changes...)
	}

	return res, firstErr
}

// DropTable drops the model's table.
//
// It requires confirm to be true. It returns false if the table did not exist.
func (s *Schema) DropTable(ctx context.Context, m *models.Model, confirm bool) (bool, error) {
	if !confirm {
		return false, ormerrors.Newf(ormerrors.ErrorCodeModel, "Dropping table %s requires confirmation", m.Table).
			WithHint("Call DropTable with confirm=true to delete all data")
	}

	return s.DropTableByName(ctx, m.Using, m.Table)
}

// DropTableByName drops the table. It returns false if the table did not exist.
func (s *Schema) DropTableByName(ctx context.Context, alias, table string) (bool, error) {
	defer observability.FuncCall(ctx)()

	b, err := s.h.Backend(alias)
	if err != nil {
		return false, err
	}

	err = s.exec(ctx, alias, DropTableSQL(b, table))
	if err != nil {
		if b.IsUndefinedTable(err) {
			return false, nil
		}

		return false, err
	}

	s.l.Info("Dropped table.", zap.String("table", table))

	return true, nil
}

// firstLine returns the first line of the statement for error messages.
func firstLine(stmt string) string {
	line, _, _ := strings.Cut(stmt, "\n")
	return strings.TrimSpace(line)
}
