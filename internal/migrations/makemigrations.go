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

package migrations

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/schema"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// Plan is the result of MakeMigrations.
type Plan struct {
	// Version and File are set only if there are changes.
	Version int64
	File    string

	// Operations are human-readable descriptions like "Create model Book".
	Operations []string

	Up   []string
	Down []string

	// Content is the migration file content.
	Content string

	// Diff is the unified diff of the snapshot file.
	Diff string

	// Written is true if the migration and the snapshot were written.
	Written bool
}

// Changed returns true if there are changes to migrate.
func (p *Plan) Changed() bool {
	return len(p.Operations) > 0
}

// MakeMigrations compares registered models on the default database with the snapshot
// and generates the next migration.
//
// If dryRun is true, nothing is written.
// An empty name is replaced with "initial" for the first migration and "auto_<timestamp>" for others.
func (m *Migrator) MakeMigrations(name string, dryRun bool) (*Plan, error) {
	b, err := m.h.Backend(config.DefaultAlias)
	if err != nil {
		return nil, err
	}

	old, err := loadState(m.dir)
	if err != nil {
		return nil, err
	}

	oldModels, err := old.byName()
	if err != nil {
		return nil, err
	}

	current := make([]*models.Model, 0, m.r.Len())

	for _, model := range m.r.Models() {
		switch {
		case model.Abstract:
			continue
		case model.Using != config.DefaultAlias:
			m.l.Debug("Model is not migrated.", zap.String("model", model.Name), zap.String("using", model.Using))
			continue
		}

		current = append(current, model)
	}

	p := new(Plan)
	if err = plan(p, b, m.r, m.l, oldModels, current); err != nil {
		return nil, err
	}

	if !p.Changed() {
		return p, nil
	}

	last, err := m.lastVersion()
	if err != nil {
		return nil, err
	}

	p.Version = max(last, old.Version) + 1

	if name == "" {
		name = "auto_" + m.now().UTC().Format("20060102_1504")
		if p.Version == 1 {
			name = "initial"
		}
	}

	p.File = fmt.Sprintf("%05d_%s.sql", p.Version, sanitize(name))
	p.Content = render(p)

	next := &State{
		Version: p.Version,
		Models:  make([]models.ModelDefinition, len(current)),
	}

	for i, model := range current {
		next.Models[i] = model.Definition()
	}

	oldB, err := old.marshal()
	if err != nil {
		return nil, err
	}

	if len(old.Models) == 0 && old.Version == 0 {
		oldB = nil
	}

	nextB, err := next.marshal()
	if err != nil {
		return nil, err
	}

	p.Diff, err = difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        difflib.SplitLines(string(oldB)),
		B:        difflib.SplitLines(string(nextB)),
		FromFile: StateFile,
		ToFile:   StateFile,
		Context:  3,
	})
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to render snapshot diff", err)
	}

	if dryRun {
		return p, nil
	}

	path := filepath.Join(m.dir, p.File)
	if err = os.WriteFile(path, []byte(p.Content), 0o666); err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to write "+p.File, err)
	}

	if err = next.save(m.dir); err != nil {
		_ = os.Remove(path)
		return nil, err
	}

	p.Written = true

	m.l.Info("Migration created.", zap.String("file", path), zap.Strings("operations", p.Operations))

	return p, nil
}

// plan fills operations and statements for changes between old and current models.
func plan(p *Plan, b backends.Backend, r *models.Registry, l *zap.Logger, old map[string]*models.Model, current []*models.Model) error {
	// reverse statements are collected in order and reversed at the end
	var down [][]string

	seen := make(map[string]struct{}, len(current))

	for _, m := range orderByDependencies(current) {
		seen[m.Name] = struct{}{}

		prev, ok := old[m.Name]
		if !ok {
			p.Operations = append(p.Operations, "Create model "+m.Name)
			p.Up = append(p.Up, schema.CreateTableSQL(b, r, m)...)
			down = append(down, []string{schema.DropTableSQL(b, m.Table)})

			continue
		}

		if prev.Table != m.Table {
			p.Operations = append(p.Operations, fmt.Sprintf("Rename table %s to %s", prev.Table, m.Table))
			p.Up = append(p.Up, b.RenameTableSQL(prev.Table, m.Table))
			down = append(down, []string{b.RenameTableSQL(m.Table, prev.Table)})
		}

		for _, f := range m.Fields {
			pf := fieldByColumn(prev, f.Column())

			switch {
			case pf == nil:
				if f.Kind.IsAuto() || f.PrimaryKey {
					l.Warn("Primary key column can't be added to the existing table.", zap.String("model", m.Name), zap.String("column", f.Column()))
					continue
				}

				p.Operations = append(p.Operations, fmt.Sprintf("Add field %s to %s", f.Name, m.Name))
				p.Up = append(p.Up, b.AddColumnSQL(m.Table, addDefinition(b, l, m, f)))
				down = append(down, []string{dropColumn(b, m.Table, f.Column())})

			case columnType(b, pf) != columnType(b, f):
				p.Operations = append(p.Operations, fmt.Sprintf("Alter field %s on %s", f.Name, m.Name))
				p.Up = append(p.Up, alterColumn(b, m.Table, f.Column(), b.ColumnType(f)))
				down = append(down, []string{alterColumn(b, m.Table, f.Column(), b.ColumnType(pf))})
			}
		}

		for _, pf := range prev.Fields {
			if fieldByColumn(m, pf.Column()) != nil {
				continue
			}

			p.Operations = append(p.Operations, fmt.Sprintf("Remove field %s from %s", pf.Name, m.Name))
			p.Up = append(p.Up, dropColumn(b, m.Table, pf.Column()))
			down = append(down, []string{b.AddColumnSQL(m.Table, addDefinition(b, l, prev, pf))})
		}
	}

	var deleted []*models.Model

	for _, m := range old {
		if _, ok := seen[m.Name]; !ok {
			deleted = append(deleted, m)
		}
	}

	slices.SortFunc(deleted, func(a, b *models.Model) int { return strings.Compare(a.Name, b.Name) })

	// dependents are dropped first
	deleted = orderByDependencies(deleted)
	oldRegistry := models.NewRegistry(l)

	for _, m := range deleted {
		if err := oldRegistry.Register(m); err != nil {
			return lazyerrors.Error(err)
		}
	}

	for i := len(deleted) - 1; i >= 0; i-- {
		m := deleted[i]

		p.Operations = append(p.Operations, "Delete model "+m.Name)
		p.Up = append(p.Up, schema.DropTableSQL(b, m.Table))
		down = append(down, schema.CreateTableSQL(b, oldRegistry, m))
	}

	for i := len(down) - 1; i >= 0; i-- {
		p.Down = append(p.Down, down[i]...)
	}

	return nil
}

// fieldByColumn returns the model field with the given column, or nil.
func fieldByColumn(m *models.Model, column string) *models.Field {
	for _, f := range m.Fields {
		if f.Column() == column {
			return f
		}
	}

	return nil
}

// addDefinition returns the column definition for ADD COLUMN.
//
// NOT NULL columns without default are added as nullable because existing rows have no value.
func addDefinition(b backends.Backend, l *zap.Logger, m *models.Model, f *models.Field) string {
	dflt, ok := schema.DefaultSQL(f)

	nullable := f.Null
	if !nullable && !ok {
		l.Warn("Column without default is added as nullable.", zap.String("model", m.Name), zap.String("column", f.Column()))
		nullable = true
	}

	return backends.ColumnSQL(b, f.Column(), b.ColumnType(f), nullable, dflt)
}

// columnType returns the type part of the column definition.
func columnType(b backends.Backend, f *models.Field) string {
	if f.Kind.IsAuto() {
		return b.AutoPrimaryKey(f)
	}

	return b.ColumnType(f)
}

// dropColumn returns DROP COLUMN statement, or a comment if the backend can't drop columns.
func dropColumn(b backends.Backend, table, column string) string {
	stmt, err := b.DropColumnSQL(table, column)
	if err != nil {
		return unsupported(b, "Dropping column "+column, err)
	}

	return stmt
}

// alterColumn returns ALTER COLUMN statement, or a comment if the backend can't change column types.
func alterColumn(b backends.Backend, table, column, typ string) string {
	stmt, err := b.AlterColumnTypeSQL(table, column, typ)
	if err != nil {
		return unsupported(b, fmt.Sprintf("Changing type of column %s to %s", column, typ), err)
	}

	return stmt
}

// unsupported returns an SQL comment for an operation that can't be expressed by a single statement.
func unsupported(b backends.Backend, op string, err error) string {
	if errors.Is(err, backends.ErrUnsupported) {
		return fmt.Sprintf("-- %s is not supported by %s; use ChangeColumnType or RecreateTable", op, b.Vendor())
	}

	return fmt.Sprintf("-- %s: %s", op, err)
}

// orderByDependencies returns models ordered so that foreign key targets come first.
//
// Cycles and references to other models are ignored.
func orderByDependencies(ms []*models.Model) []*models.Model {
	pending := make(map[string]*models.Model, len(ms))
	for _, m := range ms {
		pending[m.Name] = m
	}

	res := make([]*models.Model, 0, len(ms))

	for len(res) < len(ms) {
		progress := false

		for _, m := range ms {
			if _, ok := pending[m.Name]; !ok {
				continue
			}

			ready := true

			for _, f := range m.Fields {
				if _, ok := pending[f.To]; ok && f.Kind == models.ForeignKey && f.To != m.Name {
					ready = false
					break
				}
			}

			if ready {
				res = append(res, m)
				delete(pending, m.Name)
				progress = true
			}
		}

		if !progress {
			for _, m := range ms {
				if _, ok := pending[m.Name]; ok {
					res = append(res, m)
					delete(pending, m.Name)
				}
			}
		}
	}

	return res
}

// render returns goose SQL migration file content.
func render(p *Plan) string {
	var sb strings.Builder

	sb.WriteString("-- Generated by sqlorm makemigrations.\n")

	for _, op := range p.Operations {
		sb.WriteString("--   " + op + "\n")
	}

	sb.WriteString("\n-- +goose Up\n")
	writeStatements(&sb, p.Up)

	sb.WriteString("\n-- +goose Down\n")
	writeStatements(&sb, p.Down)

	return sb.String()
}

// writeStatements writes statements terminated by semicolons; comments are written as is.
func writeStatements(sb *strings.Builder, statements []string) {
	for _, stmt := range statements {
		sb.WriteString(stmt)

		if !strings.HasPrefix(stmt, "--") {
			sb.WriteByte(';')
		}

		sb.WriteByte('\n')
	}
}

// sanitize returns a migration name usable in a file name.
func sanitize(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))

	res := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		default:
			return '_'
		}
	}, name)

	if res == "" {
		return "migration"
	}

	return res
}
