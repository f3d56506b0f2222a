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
	"strings"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// TypeMismatch describes a column whose type differs from the model.
type TypeMismatch struct {
	Column   string `json:"column"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// Diff describes differences between the model and its table.
type Diff struct {
	Table          string         `json:"table"`
	TableExists    bool           `json:"table_exists"`
	MissingInDB    []string       `json:"missing_in_db"`
	ExtraInDB      []string       `json:"extra_in_db"`
	TypeMismatches []TypeMismatch `json:"type_mismatches"`
}

// Empty returns true if there are no differences.
func (d *Diff) Empty() bool {
	return d.TableExists && len(d.MissingInDB) == 0 && len(d.ExtraInDB) == 0 && len(d.TypeMismatches) == 0
}

// expectedType returns the column type the field should have.
func expectedType(b backends.Backend, f *models.Field) string {
	if f.Kind.IsAuto() {
		t, _, _ := strings.Cut(b.AutoPrimaryKey(f), " ")
		return t
	}

	return b.ColumnType(f)
}

// GetSchemaDiff compares the model with its table.
//
// Columns are listed in model (for missing) or table (for extra) order.
func (s *Schema) GetSchemaDiff(ctx context.Context, m *models.Model) (*Diff, error) {
	defer observability.FuncCall(ctx)()

	b, err := s.h.Backend(m.Using)
	if err != nil {
		return nil, err
	}

	columns, err := s.GetTableColumns(ctx, m.Using, m.Table)
	if err != nil {
		return nil, err
	}

	res := &Diff{
		Table:          m.Table,
		TableExists:    len(columns) > 0,
		MissingInDB:    []string{},
		ExtraInDB:      []string{},
		TypeMismatches: []TypeMismatch{},
	}

	actual := make(map[string]backends.Column, len(columns))
	for _, c := range columns {
		actual[c.Name] = c
	}

	expected := make(map[string]struct{}, len(m.Fields))

	for _, f := range m.Fields {
		col := f.Column()
		expected[col] = struct{}{}

		c, ok := actual[col]
		if !ok {
			res.MissingInDB = append(res.MissingInDB, col)
			continue
		}

		if t := expectedType(b, f); !b.SameType(t, c.Type) {
			res.TypeMismatches = append(res.TypeMismatches, TypeMismatch{
				Column:   col,
				Expected: t,
				Actual:   c.Type,
			})
		}
	}

	for _, c := range columns {
		if _, ok := expected[c.Name]; !ok {
			res.ExtraInDB = append(res.ExtraInDB, c.Name)
		}
	}

	return res, nil
}

// SyncSchema adds columns missing in the model's table, and drops extra ones if dropExtra is true.
// The table is created if it does not exist.
// Type mismatches are only logged.
//
// It returns applied changes.
func (s *Schema) SyncSchema(ctx context.Context, m *models.Model, dropExtra bool) ([]string, error) {
	defer observability.FuncCall(ctx)()

	diff, err := s.GetSchemaDiff(ctx, m)
	if err != nil {
		return nil, err
	}

	if !diff.TableExists {
		created, err := s.CreateTable(ctx, m)
		if err != nil || !created {
			return nil, err
		}

		return []string{"created table " + m.Table}, nil
	}

	b, err := s.h.Backend(m.Using)
	if err != nil {
		return nil, err
	}

	l := s.l.With(zap.String("model", m.Name), zap.String("table", m.Table))

	var res []string

	for _, col := range diff.MissingInDB {
		f := m.Field(col)

		if f.Kind.IsAuto() || f.PrimaryKey {
			l.Warn("Primary key column can't be added to the existing table.", zap.String("column", col))
			continue
		}

		dflt, ok := DefaultSQL(f)

		nullable := f.Null
		if !nullable && !ok {
			l.Warn("Column without default is added as nullable.", zap.String("column", col))
			nullable = true
		}

		stmt := b.AddColumnSQL(m.Table, backends.ColumnSQL(b, col, b.ColumnType(f), nullable, dflt))
		if err = s.exec(ctx, m.Using, stmt); err != nil {
			return res, err
		}

		res = append(res, "added column "+col)
	}

	if dropExtra {
		for _, col := range diff.ExtraInDB {
			if err = s.DropColumn(ctx, m.Using, m.Table, col); err != nil {
				return res, err
			}

			res = append(res, "dropped column "+col)
		}
	}

	for _, tm := range diff.TypeMismatches {
		l.Warn(
			"Column type differs from the model.",
			zap.String("column", tm.Column), zap.String("expected", tm.Expected), zap.String("actual", tm.Actual),
		)
	}

	if len(res) > 0 {
		l.Info("Schema synchronized.", zap.Strings("changes", res))
	}

	return res, nil
}
