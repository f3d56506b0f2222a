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

// Package sqlite provides the SQLite dialect.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"
	"modernc.org/sqlite"
	sqlitelib "modernc.org/sqlite/lib"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// Minimal versions for ALTER TABLE forms.
const (
	renameColumnVersion = "3.25.0"
	dropColumnVersion   = "3.35.0"
)

// Backend implements backends.Backend for SQLite.
type Backend struct{}

// New returns SQLite backend.
func New() *Backend {
	return new(Backend)
}

// Name implements backends.Backend interface.
func (b *Backend) Name() string {
	return config.EngineSQLite
}

// Vendor implements backends.Backend interface.
func (b *Backend) Vendor() string {
	return "SQLite"
}

// DriverName implements backends.Backend interface.
func (b *Backend) DriverName() string {
	return "sqlite"
}

// Memory returns true if the configuration is for an in-memory database.
func Memory(c *config.Database) bool {
	return c.Name == ":memory:" || strings.Contains(c.Name, "mode=memory")
}

// DSN implements backends.Backend interface.
func (b *Backend) DSN(c *config.Database) (string, error) {
	values := url.Values{}
	values.Add("_pragma", "busy_timeout(5000)")
	values.Add("_pragma", "foreign_keys(1)")

	for k, v := range c.Options {
		switch v := v.(type) {
		case []any:
			for _, e := range v {
				values.Add(k, fmt.Sprint(e))
			}
		default:
			values.Add(k, fmt.Sprint(v))
		}
	}

	name := c.Name
	if name == ":memory:" {
		return "file::memory:?" + values.Encode(), nil
	}

	name = strings.TrimPrefix(name, "file:")

	if path, query, ok := strings.Cut(name, "?"); ok {
		extra, err := url.ParseQuery(query)
		if err != nil {
			return "", lazyerrors.Error(err)
		}

		for k, vs := range extra {
			for _, v := range vs {
				values.Add(k, v)
			}
		}

		name = path
	}

	return "file:" + name + "?" + values.Encode(), nil
}

// Open implements backends.Backend interface.
func (b *Backend) Open(c *config.Database, l *zap.Logger) (*sql.DB, error) {
	dsn, err := b.DSN(c)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db, err := sql.Open(b.DriverName(), dsn)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	// https://www.sqlite.org/inmemorydb.html
	if Memory(c) {
		db.SetMaxIdleConns(1)
		db.SetMaxOpenConns(1)
		db.SetConnMaxLifetime(0)

		l.Debug("Using a single connection for in-memory database.")

		return db, nil
	}

	backends.ApplyPoolHints(db, c)

	return db, nil
}

// Quote implements backends.Backend interface.
func (b *Backend) Quote(identifier string) string {
	return backends.QuoteWith(identifier, `"`)
}

// Placeholder implements backends.Backend interface.
func (b *Backend) Placeholder(int) string {
	return "?"
}

// Rebind implements backends.Backend interface.
func (b *Backend) Rebind(query string) string {
	return query
}

// ColumnType implements backends.Backend interface.
func (b *Backend) ColumnType(f *models.Field) string {
	switch f.Kind {
	case models.AutoField, models.IntegerField:
		return "integer"
	case models.BigAutoField, models.BigIntegerField, models.ForeignKey, models.DurationField:
		return "bigint"
	case models.SmallIntegerField:
		return "smallint"
	case models.PositiveIntegerField:
		return "integer unsigned"
	case models.CharField, models.EmailField, models.SlugField, models.URLField:
		return fmt.Sprintf("varchar(%d)", f.MaxLength)
	case models.TextField, models.JSONField:
		return "text"
	case models.UUIDField:
		return "char(36)"
	case models.BooleanField:
		return "bool"
	case models.FloatField:
		return "real"
	case models.DecimalField:
		return "decimal"
	case models.DateField:
		return "date"
	case models.DateTimeField:
		return "datetime"
	case models.TimeField:
		return "time"
	case models.BinaryField:
		return "BLOB"
	default:
		panic(fmt.Sprintf("unexpected field kind %s", f.Kind))
	}
}

// AutoPrimaryKey implements backends.Backend interface.
func (b *Backend) AutoPrimaryKey(*models.Field) string {
	return "integer NOT NULL PRIMARY KEY AUTOINCREMENT"
}

// SameType implements backends.Backend interface.
func (b *Backend) SameType(declared, actual string) bool {
	return strings.EqualFold(strings.TrimSpace(declared), strings.TrimSpace(actual))
}

// TableNames implements backends.Backend interface.
func (b *Backend) TableNames(ctx context.Context, q fsql.Querier) ([]string, error) {
	query := `SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []string

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, name)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// TableColumns implements backends.Backend interface.
func (b *Backend) TableColumns(ctx context.Context, q fsql.Querier, table string) ([]backends.Column, error) {
	query := fmt.Sprintf(`PRAGMA table_info(%s)`, b.Quote(table))

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	res := []backends.Column{}

	for rows.Next() {
		var cid, notNull, pk int
		var name, typ string
		var dflt sql.NullString

		if err = rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, lazyerrors.Error(err)
		}

		c := backends.Column{
			Name:       name,
			Type:       typ,
			Nullable:   notNull == 0,
			PrimaryKey: pk > 0,
		}

		if dflt.Valid {
			c.Default = &dflt.String
		}

		res = append(res, c)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// TableSQL implements backends.TableRebuilder interface.
//
// It returns empty string if the table does not exist.
func (b *Backend) TableSQL(ctx context.Context, q fsql.Querier, table string) (string, error) {
	var res sql.NullString

	err := q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&res)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return "", lazyerrors.Error(err)
	}

	return res.String, nil
}

// ForeignKeys implements backends.TableRebuilder interface.
func (b *Backend) ForeignKeys(ctx context.Context, q fsql.Querier, table string) ([]backends.ForeignKey, error) {
	query := fmt.Sprintf(`PRAGMA foreign_key_list(%s)`, b.Quote(table))

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []backends.ForeignKey

	byID := map[int]int{}

	for rows.Next() {
		var id, seq int
		var refTable, from, onUpdate, onDelete, match string
		var to sql.NullString

		if err = rows.Scan(&id, &seq, &refTable, &from, &to, &onUpdate, &onDelete, &match); err != nil {
			return nil, lazyerrors.Error(err)
		}

		i, ok := byID[id]
		if !ok {
			i = len(res)
			byID[id] = i

			res = append(res, backends.ForeignKey{
				RefTable: refTable,
				OnUpdate: onUpdate,
				OnDelete: onDelete,
			})
		}

		res[i].Columns = append(res[i].Columns, from)

		if to.Valid {
			res[i].RefColumns = append(res[i].RefColumns, to.String)
		}
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// Indexes implements backends.TableRebuilder interface.
func (b *Backend) Indexes(ctx context.Context, q fsql.Querier, table string) ([]backends.Index, error) {
	query := fmt.Sprintf(`PRAGMA index_list(%s)`, b.Quote(table))

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	var res []backends.Index

	for rows.Next() {
		var seq, unique, partial int
		var name, origin string

		if err = rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			_ = rows.Close()
			return nil, lazyerrors.Error(err)
		}

		res = append(res, backends.Index{
			Name:   name,
			Unique: unique != 0,
			Origin: origin,
		})
	}

	if err = rows.Err(); err != nil {
		_ = rows.Close()
		return nil, lazyerrors.Error(err)
	}

	if err = rows.Close(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	for i, idx := range res {
		if res[i].Columns, err = b.indexColumns(ctx, q, idx.Name); err != nil {
			return nil, err
		}

		var stmt sql.NullString

		err = q.QueryRowContext(ctx, `SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`, idx.Name).Scan(&stmt)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return nil, lazyerrors.Error(err)
		}

		res[i].SQL = stmt.String
	}

	return res, nil
}

// indexColumns returns column names of the index in order.
func (b *Backend) indexColumns(ctx context.Context, q fsql.Querier, index string) ([]string, error) {
	query := fmt.Sprintf(`PRAGMA index_info(%s)`, b.Quote(index))

	rows, err := q.QueryContext(ctx, query)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []string

	for rows.Next() {
		var seqno, cid int
		var name sql.NullString

		if err = rows.Scan(&seqno, &cid, &name); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, name.String)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// ReferencingTables implements backends.TableRebuilder interface.
func (b *Backend) ReferencingTables(ctx context.Context, q fsql.Querier, table string) ([]string, error) {
	query := `SELECT DISTINCT m.name FROM sqlite_master AS m, pragma_foreign_key_list(m.name) AS p ` +
		`WHERE m.type = 'table' AND p."table" = ? COLLATE NOCASE ORDER BY m.name`

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []string

	for rows.Next() {
		var name string
		if err = rows.Scan(&name); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, name)
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// ForeignKeyViolations implements backends.TableRebuilder interface.
func (b *Backend) ForeignKeyViolations(ctx context.Context, q fsql.Querier, table string) ([]string, error) {
	tables, err := b.ReferencingTables(ctx, q, table)
	if err != nil {
		return nil, err
	}

	if !slices.Contains(tables, table) {
		tables = append(tables, table)
	}

	var res []string

	for _, t := range tables {
		var violations []string
		if violations, err = b.foreignKeyCheck(ctx, q, t); err != nil {
			return nil, err
		}

		res = append(res, violations...)
	}

	return res, nil
}

// foreignKeyCheck returns violations of foreign keys of the given table.
func (b *Backend) foreignKeyCheck(ctx context.Context, q fsql.Querier, table string) ([]string, error) {
	rows, err := q.QueryContext(ctx, fmt.Sprintf(`PRAGMA foreign_key_check(%s)`, b.Quote(table)))
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	var res []string

	for rows.Next() {
		var child, parent string
		var rowid sql.NullInt64
		var fkid int

		if err = rows.Scan(&child, &rowid, &parent, &fkid); err != nil {
			return nil, lazyerrors.Error(err)
		}

		res = append(res, fmt.Sprintf("%s row %d references missing %s row", child, rowid.Int64, parent))
	}

	if err = rows.Err(); err != nil {
		return nil, lazyerrors.Error(err)
	}

	return res, nil
}

// DisableForeignKeys implements backends.TableRebuilder interface.
//
// See https://www.sqlite.org/lang_altertable.html#otheralter.
func (b *Backend) DisableForeignKeys() ([]string, []string) {
	disable := []string{`PRAGMA foreign_keys = OFF`, `PRAGMA legacy_alter_table = ON`}
	restore := []string{`PRAGMA legacy_alter_table = OFF`, `PRAGMA foreign_keys = ON`}

	return disable, restore
}

// Version implements backends.Backend interface.
func (b *Backend) Version(ctx context.Context, q fsql.Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, `SELECT sqlite_version()`).Scan(&v); err != nil {
		return "", lazyerrors.Error(err)
	}

	return v, nil
}

// Features implements backends.Backend interface.
func (b *Backend) Features(version string) backends.Features {
	return backends.Features{
		RenameColumn:    versionAtLeast(version, renameColumnVersion),
		DropColumn:      versionAtLeast(version, dropColumnVersion),
		AlterColumnType: false,
	}
}

// versionAtLeast compares the version with the minimal one.
func versionAtLeast(version, minimal string) bool {
	var major, minor, patch int
	_, _ = fmt.Sscanf(minimal, "%d.%d.%d", &major, &minor, &patch)

	return backends.VersionAtLeast(version, major, minor, patch)
}

// InsertReturningID implements backends.Backend interface.
func (b *Backend) InsertReturningID(ctx context.Context, q fsql.Querier, query string, _ string, args ...any) (int64, error) {
	res, err := q.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, lazyerrors.Error(err)
	}

	return id, nil
}

// AddColumnSQL implements backends.Backend interface.
func (b *Backend) AddColumnSQL(table, definition string) string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, b.Quote(table), definition)
}

// RenameColumnSQL implements backends.Backend interface.
//
// The caller should check Features first.
func (b *Backend) RenameColumnSQL(table, oldName, newName string) (string, error) {
	return fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`, b.Quote(table), b.Quote(oldName), b.Quote(newName)), nil
}

// AlterColumnTypeSQL implements backends.Backend interface.
//
// SQLite can't change column types; tables are recreated instead.
func (b *Backend) AlterColumnTypeSQL(string, string, string) (string, error) {
	return "", backends.ErrUnsupported
}

// DropColumnSQL implements backends.Backend interface.
//
// The caller should check Features first.
func (b *Backend) DropColumnSQL(table, column string) (string, error) {
	return fmt.Sprintf(`ALTER TABLE %s DROP COLUMN %s`, b.Quote(table), b.Quote(column)), nil
}

// RenameTableSQL implements backends.Backend interface.
func (b *Backend) RenameTableSQL(oldName, newName string) string {
	return fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, b.Quote(oldName), b.Quote(newName))
}

// CopyTableSQL implements backends.Backend interface.
func (b *Backend) CopyTableSQL(newTable, oldTable string) string {
	return fmt.Sprintf(`CREATE TABLE %s AS SELECT * FROM %s`, b.Quote(newTable), b.Quote(oldTable))
}

// IsUndefinedTable implements backends.Backend interface.
func (b *Backend) IsUndefinedTable(err error) bool {
	return isError(err, "no such table")
}

// IsDuplicateColumn implements backends.Backend interface.
func (b *Backend) IsDuplicateColumn(err error) bool {
	return isError(err, "duplicate column name")
}

// isError returns true if err is a generic SQLite error with the given message.
func isError(err error, msg string) bool {
	var e *sqlite.Error
	if !errors.As(err, &e) || e.Code() != sqlitelib.SQLITE_ERROR {
		return false
	}

	return strings.Contains(e.Error(), msg)
}

// check interfaces
var (
	_ backends.Backend        = (*Backend)(nil)
	_ backends.TableRebuilder = (*Backend)(nil)
)
