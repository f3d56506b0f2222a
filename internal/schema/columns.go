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

package schema

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// GetTableColumns returns columns of the table, or empty slice if it does not exist.
func (s *Schema) GetTableColumns(ctx context.Context, alias, table string) ([]backends.Column, error) {
	defer observability.FuncCall(ctx)()

	b, q, err := s.executor(ctx, alias)
	if err != nil {
		return nil, err
	}

	res, err := b.TableColumns(ctx, q, table)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConnection, "Failed to get table description for "+table, err)
	}

	return res, nil
}

// ColumnExists returns true if the table has the column.
func (s *Schema) ColumnExists(ctx context.Context, alias, table, column string) (bool, error) {
	columns, err := s.GetTableColumns(ctx, alias, table)
	if err != nil {
		return false, err
	}

	for _, c := range columns {
		if c.Name == column {
			return true, nil
		}
	}

	return false, nil
}

// AddColumn adds a column of the given SQL type to the table.
//
// Default is a literal SQL fragment like `'pending'` or `0`; empty string means no default.
// NOT NULL columns require a default.
func (s *Schema) AddColumn(ctx context.Context, alias, table, column, typ string, nullable bool, dflt string) error {
	defer observability.FuncCall(ctx)()

	if !nullable && dflt == "" {
		return ormerrors.Newf(ormerrors.ErrorCodeMigration, "Cannot add NOT NULL column %s to %s without a default", column, table).
			WithHint("Make the column nullable or provide a default")
	}

	b, err := s.h.Backend(alias)
	if err != nil {
		return err
	}

	if err = s.exec(ctx, alias, b.AddColumnSQL(table, backends.ColumnSQL(b, column, typ, nullable, dflt))); err != nil {
		return err
	}

	s.l.Info("Added column.", zap.String("table", table), zap.String("column", column), zap.String("type", typ))

	return nil
}

// SafeAddColumn adds a column like AddColumn, but returns false if it already exists.
func (s *Schema) SafeAddColumn(ctx context.Context, alias, table, column, typ string, nullable bool, dflt string) (bool, error) {
	exists, err := s.ColumnExists(ctx, alias, table, column)
	if err != nil {
		return false, err
	}

	if exists {
		s.l.Debug("Column already exists.", zap.String("table", table), zap.String("column", column))
		return false, nil
	}

	err = s.AddColumn(ctx, alias, table, column, typ, nullable, dflt)
	if err != nil {
		b, _ := s.h.Backend(alias)
		if b != nil && b.IsDuplicateColumn(err) {
			return false, nil
		}

		return false, err
	}

	return true, nil
}

// RenameColumn renames the column.
//
// Old SQLite versions recreate the table.
func (s *Schema) RenameColumn(ctx context.Context, alias, table, oldName, newName string) error {
	defer observability.FuncCall(ctx)()

	err := s.alterOrRecreate(
		ctx, alias, table,
		func(f backends.Features) bool { return f.RenameColumn },
		func(b backends.Backend) (string, error) { return b.RenameColumnSQL(table, oldName, newName) },
		func(c *backends.Column, _ *string) bool {
			if c.Name == oldName {
				c.Name = newName
			}

			return true
		},
	)
	if err != nil {
		return err
	}

	s.l.Info("Renamed column.", zap.String("table", table), zap.String("old", oldName), zap.String("new", newName))

	return nil
}

// ChangeColumnType changes the column's SQL type converting existing values.
//
// SQLite recreates the table with CAST.
func (s *Schema) ChangeColumnType(ctx context.Context, alias, table, column, newType string) error {
	defer observability.FuncCall(ctx)()

	b, err := s.h.Backend(alias)
	if err != nil {
		return err
	}

	err = s.alterOrRecreate(
		ctx, alias, table,
		func(f backends.Features) bool { return f.AlterColumnType },
		func(b backends.Backend) (string, error) { return b.AlterColumnTypeSQL(table, column, newType) },
		func(c *backends.Column, copyExpr *string) bool {
			if c.Name == column {
				*copyExpr = fmt.Sprintf("CAST(%s AS %s)", b.Quote(column), newType)
				c.Type = newType
			}

			return true
		},
	)
	if err != nil {
		return err
	}

	s.l.Info("Changed column type.", zap.String("table", table), zap.String("column", column), zap.String("type", newType))

	return nil
}

// DropColumn drops the column.
//
// Old SQLite versions recreate the table.
func (s *Schema) DropColumn(ctx context.Context, alias, table, column string) error {
	defer observability.FuncCall(ctx)()

	err := s.alterOrRecreate(
		ctx, alias, table,
		func(f backends.Features) bool { return f.DropColumn },
		func(b backends.Backend) (string, error) { return b.DropColumnSQL(table, column) },
		func(c *backends.Column, _ *string) bool {
			return c.Name != column
		},
	)
	if err != nil {
		return err
	}

	s.l.Info("Dropped column.", zap.String("table", table), zap.String("column", column))

	return nil
}

// alterOrRecreate executes the ALTER TABLE statement returned by alter if the server supports it,
// and recreates the table with f otherwise.
func (s *Schema) alterOrRecreate(
	ctx context.Context, alias, table string,
	supported func(backends.Features) bool,
	alter func(backends.Backend) (string, error),
	f func(c *backends.Column, copyExpr *string) bool,
) error {
	b, q, err := s.executor(ctx, alias)
	if err != nil {
		return err
	}

	features, err := s.features(ctx, b, q)
	if err != nil {
		return err
	}

	if !supported(features) {
		return s.recreateWith(ctx, alias, table, f)
	}

	stmt, err := alter(b)
	if err != nil {
		return err
	}

	return s.exec(ctx, alias, stmt)
}

// DefaultSQL renders the field's default as a literal SQL fragment.
//
// It returns false if the field has no default that can be expressed in SQL.
func DefaultSQL(f *models.Field) (string, bool) {
	if !f.HasDefault() {
		return "", false
	}

	v, err := models.DBValue(f, f.Default)
	if err != nil || v == nil {
		return "", false
	}

	switch v := v.(type) {
	case string:
		return quoteString(v), true
	case bool:
		if v {
			return "TRUE", true
		}

		return "FALSE", true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case time.Time:
		return quoteString(v.Format(dateLayout(f.Kind))), true
	case []byte:
		return "", false
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return "", false
		}

		return quoteString(string(b)), true
	}
}

// dateLayout returns the layout for the literal of date and time kinds.
func dateLayout(k models.Kind) string {
	switch k {
	case models.DateField:
		return time.DateOnly
	case models.TimeField:
		return "15:04:05.999999"
	default:
		return "2006-01-02 15:04:05.999999"
	}
}

// quoteString returns the SQL string literal.
func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
