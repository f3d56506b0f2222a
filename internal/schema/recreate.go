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
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// DefaultBackupSuffix is appended to the table name by BackupTable.
const DefaultBackupSuffix = "_backup"

// columnCopy describes how a column of the recreated table is filled.
type columnCopy struct {
	to   string
	expr string
}

// BackupTable copies all rows of the table into a new table named table+suffix,
// replacing an existing backup. Empty suffix means DefaultBackupSuffix.
//
// It returns the backup table name.
func (s *Schema) BackupTable(ctx context.Context, alias, table, suffix string) (string, error) {
	defer observability.FuncCall(ctx)()

	if suffix == "" {
		suffix = DefaultBackupSuffix
	}

	backup := table + suffix

	err := s.h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
		b, err := s.h.Backend(alias)
		if err != nil {
			return err
		}

		if _, err = s.DropTableByName(ctx, alias, backup); err != nil {
			return err
		}

		return s.exec(ctx, alias, b.CopyTableSQL(backup, table))
	})
	if err != nil {
		return "", err
	}

	s.l.Info("Backed up table.", zap.String("table", table), zap.String("backup", backup))

	return backup, nil
}

// RestoreTable replaces all rows of the table with rows of the backup table.
// The table is created if it does not exist.
// If dropBackup is true, the backup table is dropped afterwards.
func (s *Schema) RestoreTable(ctx context.Context, alias, table, suffix string, dropBackup bool) error {
	defer observability.FuncCall(ctx)()

	if suffix == "" {
		suffix = DefaultBackupSuffix
	}

	backup := table + suffix

	err := s.h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
		b, err := s.h.Backend(alias)
		if err != nil {
			return err
		}

		names, err := s.TableNames(ctx, alias)
		if err != nil {
			return err
		}

		if !slices.Contains(names, backup) {
			return ormerrors.Newf(ormerrors.ErrorCodeMigration, "Backup table %s does not exist", backup).
				WithHint("Call BackupTable first")
		}

		var stmts []string

		if slices.Contains(names, table) {
			stmts = append(stmts,
				"DELETE FROM "+b.Quote(table),
				fmt.Sprintf("INSERT INTO %s SELECT * FROM %s", b.Quote(table), b.Quote(backup)),
			)
		} else {
			stmts = append(stmts, b.CopyTableSQL(table, backup))
		}

		if dropBackup {
			stmts = append(stmts, DropTableSQL(b, backup))
		}

		return s.exec(ctx, alias, stmts...)
	})
	if err != nil {
		return err
	}

	s.l.Info("Restored table.", zap.String("table", table), zap.String("backup", backup))

	return nil
}

// RecreateTable replaces the table with one created by newSchema (a CREATE TABLE statement)
// in a transaction, copying values of the listed columns.
//
// The old table is renamed to a temporary name, the new one is created,
// rows are copied, and the old table is dropped.
// Indexes created by CREATE INDEX are recreated if their columns still exist.
func (s *Schema) RecreateTable(ctx context.Context, alias, table, newSchema string, columnsToCopy []string) error {
	b, err := s.h.Backend(alias)
	if err != nil {
		return err
	}

	return s.recreate(ctx, alias, table, func(context.Context, fsql.Querier, []backends.Index) (*rebuildPlan, error) {
		p := &rebuildPlan{
			schema: newSchema,
			copies: make([]columnCopy, len(columnsToCopy)),
		}

		for i, c := range columnsToCopy {
			p.copies[i] = columnCopy{to: c, expr: b.Quote(c)}
		}

		return p, nil
	})
}

// rebuildPlan describes the new table.
type rebuildPlan struct {
	schema  string            // CREATE TABLE statement with the original table name
	copies  []columnCopy      // columns filled from the old table
	renames map[string]string // old column name -> new column name
}

// planFunc returns the plan for the table with the given indexes.
type planFunc func(ctx context.Context, q fsql.Querier, indexes []backends.Index) (*rebuildPlan, error)

// recreate rebuilds the table according to the plan.
//
// For backends that enforce foreign keys by table name (SQLite), outside of a transaction
// the table is rebuilt on a dedicated connection with enforcement and rename side effects disabled,
// so rows of referencing tables are kept and their constraints keep pointing to the table.
// Foreign keys are checked before commit.
// Inside a transaction enforcement can't be changed, so referenced tables are rejected.
func (s *Schema) recreate(ctx context.Context, alias, table string, plan planFunc) error {
	defer observability.FuncCall(ctx)()

	b, err := s.h.Backend(alias)
	if err != nil {
		return err
	}

	rb, ok := b.(backends.TableRebuilder)
	if !ok {
		return s.h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
			return s.rebuild(ctx, alias, table, b, nil, plan)
		})
	}

	if s.h.HasTransaction(ctx, alias) {
		return s.h.InTransaction(ctx, alias, true, func(ctx context.Context) error {
			q, err := s.h.Executor(ctx, alias)
			if err != nil {
				return err
			}

			refs, err := rb.ReferencingTables(ctx, q, table)
			if err != nil {
				return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get foreign keys referencing "+table, err)
			}

			if len(refs) > 0 {
				return ormerrors.Newf(
					ormerrors.ErrorCodeMigration,
					"Table %s is referenced by %s and can't be rebuilt inside a transaction",
					table, strings.Join(refs, ", "),
				).WithHint("Run the schema change outside of a transaction")
			}

			return s.rebuild(ctx, alias, table, b, rb, plan)
		})
	}

	conn, err := s.h.Conn(ctx, alias)
	if err != nil {
		return err
	}

	disable, restore := rb.DisableForeignKeys()

	for _, stmt := range disable {
		if _, err = conn.ExecContext(ctx, stmt); err != nil {
			_ = conn.Discard()
			return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to execute "+stmt, err)
		}
	}

	err = s.h.InConnTransaction(ctx, alias, conn, func(ctx context.Context) error {
		return s.rebuild(ctx, alias, table, b, rb, plan)
	})

	// settings must be restored even if ctx is canceled
	rctx := context.WithoutCancel(ctx)

	for _, stmt := range restore {
		if _, rerr := conn.ExecContext(rctx, stmt); rerr != nil {
			s.l.Warn("Failed to restore connection settings, discarding connection.", zap.String("statement", stmt), zap.Error(rerr))
			_ = conn.Discard()

			if err == nil {
				err = ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to execute "+stmt, rerr)
			}

			return err
		}
	}

	if cerr := conn.Close(); cerr != nil && err == nil {
		err = ormerrors.New(ormerrors.ErrorCodeConnection, "Failed to release connection", cerr)
	}

	return err
}

// rebuild runs the statements of recreate in the active transaction.
//
// rb is nil for backends that don't implement backends.TableRebuilder.
func (s *Schema) rebuild(ctx context.Context, alias, table string, b backends.Backend, rb backends.TableRebuilder, plan planFunc) error {
	q, err := s.h.Executor(ctx, alias)
	if err != nil {
		return err
	}

	var indexes []backends.Index

	if rb != nil {
		if indexes, err = rb.Indexes(ctx, q, table); err != nil {
			return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get indexes of "+table, err)
		}
	}

	p, err := plan(ctx, q, indexes)
	if err != nil {
		return err
	}

	tmp := table + "__" + strings.ReplaceAll(uuid.NewString(), "-", "")[:12]

	stmts := []string{
		b.RenameTableSQL(table, tmp),
		p.schema,
	}

	if len(p.copies) > 0 {
		to := make([]string, len(p.copies))
		exprs := make([]string, len(p.copies))

		for i, c := range p.copies {
			to[i] = b.Quote(c.to)
			exprs[i] = c.expr
		}

		stmts = append(stmts, fmt.Sprintf(
			"INSERT INTO %s (%s) SELECT %s FROM %s",
			b.Quote(table), strings.Join(to, ", "), strings.Join(exprs, ", "), b.Quote(tmp),
		))
	}

	stmts = append(stmts, DropTableSQL(b, tmp))

	if err = s.exec(ctx, alias, stmts...); err != nil {
		return err
	}

	if rb == nil {
		s.l.Info("Recreated table.", zap.String("table", table))
		return nil
	}

	columns, err := b.TableColumns(ctx, q, table)
	if err != nil {
		return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get table description for "+table, err)
	}

	if stmts = s.indexStatements(b, table, indexes, p.renames, columns); len(stmts) > 0 {
		if err = s.exec(ctx, alias, stmts...); err != nil {
			return err
		}
	}

	violations, err := rb.ForeignKeyViolations(ctx, q, table)
	if err != nil {
		return ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to check foreign keys of "+table, err)
	}

	if len(violations) > 0 {
		return ormerrors.Newf(
			ormerrors.ErrorCodeMigration,
			"Recreating table %s violates foreign key constraints: %s",
			table, strings.Join(violations, "; "),
		)
	}

	s.l.Info("Recreated table.", zap.String("table", table), zap.Int("indexes", len(indexes)))

	return nil
}

// indexStatements returns statements that recreate CREATE INDEX indexes of the table
// with renamed columns. Indexes on removed columns are skipped.
func (s *Schema) indexStatements(b backends.Backend, table string, indexes []backends.Index, renames map[string]string, columns []backends.Column) []string {
	exists := make(map[string]bool, len(columns))
	for _, c := range columns {
		exists[c.Name] = true
	}

	var res []string

	for _, idx := range indexes {
		if idx.Origin != "c" {
			continue
		}

		var renamed, missing, expr bool

		cols := make([]string, len(idx.Columns))

		for i, c := range idx.Columns {
			if c == "" {
				expr = true
				continue
			}

			if n, ok := renames[c]; ok && n != c {
				renamed = true
				c = n
			}

			if !exists[c] {
				missing = true
			}

			cols[i] = b.Quote(c)
		}

		switch {
		case missing:
			s.l.Warn("Index column was removed, skipping index.", zap.String("table", table), zap.String("index", idx.Name))

		case !renamed && idx.SQL != "":
			res = append(res, idx.SQL)

		case expr:
			s.l.Warn("Expression index uses renamed columns, skipping index.", zap.String("table", table), zap.String("index", idx.Name))

		default:
			stmt := "CREATE INDEX "
			if idx.Unique {
				stmt = "CREATE UNIQUE INDEX "
			}

			res = append(res, stmt+b.Quote(idx.Name)+" ON "+b.Quote(table)+" ("+strings.Join(cols, ", ")+")")
		}
	}

	return res
}

// recreateWith recreates the table from its introspected definition.
//
// f is called for each column and may modify it and its copy expression;
// it returns false to remove the column.
// Primary keys, AUTOINCREMENT, UNIQUE and FOREIGN KEY constraints, and indexes are preserved,
// except those on removed columns. CHECK constraints are not preserved.
func (s *Schema) recreateWith(ctx context.Context, alias, table string, f func(c *backends.Column, copyExpr *string) bool) error {
	b, err := s.h.Backend(alias)
	if err != nil {
		return err
	}

	return s.recreate(ctx, alias, table, func(ctx context.Context, q fsql.Querier, indexes []backends.Index) (*rebuildPlan, error) {
		return s.planFromColumns(ctx, q, b, table, indexes, f)
	})
}

// planFromColumns builds the plan for recreateWith.
func (s *Schema) planFromColumns(
	ctx context.Context, q fsql.Querier, b backends.Backend, table string, indexes []backends.Index,
	f func(c *backends.Column, copyExpr *string) bool,
) (*rebuildPlan, error) {
	columns, err := b.TableColumns(ctx, q, table)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get table description for "+table, err)
	}

	if len(columns) == 0 {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeMigration, "Table %s does not exist", table)
	}

	var autoincrement bool
	var foreignKeys []backends.ForeignKey

	if rb, ok := b.(backends.TableRebuilder); ok {
		var tableSQL string
		if tableSQL, err = rb.TableSQL(ctx, q, table); err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get table definition for "+table, err)
		}

		autoincrement = strings.Contains(strings.ToUpper(tableSQL), "AUTOINCREMENT")

		if foreignKeys, err = rb.ForeignKeys(ctx, q, table); err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get foreign keys of "+table, err)
		}
	}

	var pks []string

	for _, c := range columns {
		if c.PrimaryKey {
			pks = append(pks, c.Name)
		}
	}

	p := &rebuildPlan{
		renames: make(map[string]string, len(columns)),
	}

	var defs []string
	var newPKs []string

	for _, c := range columns {
		oldName := c.Name
		expr := b.Quote(c.Name)

		if !f(&c, &expr) {
			continue
		}

		p.renames[oldName] = c.Name

		var dflt string
		if c.Default != nil {
			dflt = *c.Default
		}

		var def string

		switch {
		case c.PrimaryKey && len(pks) == 1:
			def = b.Quote(c.Name) + " " + c.Type + " NOT NULL PRIMARY KEY"
			if autoincrement {
				def += " AUTOINCREMENT"
			}
		default:
			def = backends.ColumnSQL(b, c.Name, c.Type, c.Nullable && !c.PrimaryKey, dflt)
		}

		if c.PrimaryKey {
			newPKs = append(newPKs, b.Quote(c.Name))
		}

		defs = append(defs, def)
		p.copies = append(p.copies, columnCopy{to: c.Name, expr: expr})
	}

	if len(pks) > 1 && len(newPKs) > 0 {
		defs = append(defs, "PRIMARY KEY ("+strings.Join(newPKs, ", ")+")")
	}

	for _, idx := range indexes {
		if idx.Origin != "u" {
			continue
		}

		if cols, ok := p.quoteRenamed(b, idx.Columns); ok {
			defs = append(defs, "UNIQUE ("+strings.Join(cols, ", ")+")")
		}
	}

	for _, fk := range foreignKeys {
		cols, ok := p.quoteRenamed(b, fk.Columns)
		if !ok {
			s.l.Warn("Foreign key column was removed, skipping constraint.", zap.String("table", table), zap.String("references", fk.RefTable))
			continue
		}

		refColumns := fk.RefColumns

		// self-references follow renames
		if fk.RefTable == table {
			if refColumns, ok = p.renamedNames(refColumns); !ok {
				continue
			}
		}

		defs = append(defs, foreignKeySQL(b, cols, fk, refColumns))
	}

	p.schema = fmt.Sprintf("CREATE TABLE %s (\n    %s\n)", b.Quote(table), strings.Join(defs, ",\n    "))

	return p, nil
}

// renamedNames returns new names of the columns, or false if any column was removed.
func (p *rebuildPlan) renamedNames(columns []string) ([]string, bool) {
	res := make([]string, len(columns))

	for i, c := range columns {
		n, ok := p.renames[c]
		if !ok {
			return nil, false
		}

		res[i] = n
	}

	return res, true
}

// quoteRenamed returns quoted new names of the columns, or false if any column was removed.
func (p *rebuildPlan) quoteRenamed(b backends.Backend, columns []string) ([]string, bool) {
	res, ok := p.renamedNames(columns)
	if !ok || len(res) == 0 {
		return nil, false
	}

	for i, c := range res {
		res[i] = b.Quote(c)
	}

	return res, true
}

// foreignKeySQL returns the FOREIGN KEY table constraint.
func foreignKeySQL(b backends.Backend, columns []string, fk backends.ForeignKey, refColumns []string) string {
	res := "FOREIGN KEY (" + strings.Join(columns, ", ") + ") REFERENCES " + b.Quote(fk.RefTable)

	if len(refColumns) > 0 {
		quoted := make([]string, len(refColumns))
		for i, c := range refColumns {
			quoted[i] = b.Quote(c)
		}

		res += " (" + strings.Join(quoted, ", ") + ")"
	}

	if a := strings.ToUpper(fk.OnDelete); a != "" && a != "NO ACTION" {
		res += " ON DELETE " + a
	}

	if a := strings.ToUpper(fk.OnUpdate); a != "" && a != "NO ACTION" {
		res += " ON UPDATE " + a
	}

	return res
}
