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

// Package postgresql provides the PostgreSQL dialect.
package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	zapadapter "github.com/jackc/pgx-zap"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jackc/pgx/v5/tracelog"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// Backend implements backends.Backend for PostgreSQL.
type Backend struct{}

// New returns PostgreSQL backend.
func New() *Backend {
	return new(Backend)
}

// Name implements backends.Backend interface.
func (b *Backend) Name() string {
	return config.EnginePostgreSQL
}

// Vendor implements backends.Backend interface.
func (b *Backend) Vendor() string {
	return "PostgreSQL"
}

// DriverName implements backends.Backend interface.
func (b *Backend) DriverName() string {
	return "pgx"
}

// DSN implements backends.Backend interface.
func (b *Backend) DSN(c *config.Database) (string, error) {
	u := &url.URL{
		Scheme: "postgres",
		Path:   "/" + c.Name,
	}

	if c.User != "" {
		u.User = url.User(c.User)
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		}
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}

	u.Host = host
	if c.Port != "" {
		u.Host = net.JoinHostPort(host, c.Port)
	}

	values := url.Values{}
	for k, v := range c.Options {
		values.Set(k, fmt.Sprint(v))
	}

	u.RawQuery = values.Encode()

	return u.String(), nil
}

// Open implements backends.Backend interface.
//
// Queries are traced with pgx tracer that logs to the given logger.
func (b *Backend) Open(c *config.Database, l *zap.Logger) (*sql.DB, error) {
	dsn, err := b.DSN(c)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	connConfig, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	connConfig.Tracer = &tracelog.TraceLog{
		Logger:   zapadapter.NewLogger(l.Named("pgx")),
		LogLevel: tracelog.LogLevelDebug,
	}

	db := stdlib.OpenDB(*connConfig)
	backends.ApplyPoolHints(db, c)

	return db, nil
}

// Quote implements backends.Backend interface.
func (b *Backend) Quote(identifier string) string {
	return pgx.Identifier{identifier}.Sanitize()
}

// Placeholder implements backends.Backend interface.
func (b *Backend) Placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

// Rebind implements backends.Backend interface.
func (b *Backend) Rebind(query string) string {
	return backends.RebindDollar(query)
}

// ColumnType implements backends.Backend interface.
func (b *Backend) ColumnType(f *models.Field) string {
	switch f.Kind {
	case models.AutoField, models.IntegerField, models.PositiveIntegerField:
		return "integer"
	case models.BigAutoField, models.BigIntegerField, models.ForeignKey, models.DurationField:
		return "bigint"
	case models.SmallIntegerField:
		return "smallint"
	case models.CharField, models.EmailField, models.SlugField, models.URLField:
		return fmt.Sprintf("varchar(%d)", f.MaxLength)
	case models.TextField:
		return "text"
	case models.JSONField:
		return "jsonb"
	case models.UUIDField:
		return "uuid"
	case models.BooleanField:
		return "boolean"
	case models.FloatField:
		return "double precision"
	case models.DecimalField:
		return fmt.Sprintf("numeric(%d, %d)", f.MaxDigits, f.DecimalPlaces)
	case models.DateField:
		return "date"
	case models.DateTimeField:
		return "timestamp with time zone"
	case models.TimeField:
		return "time"
	case models.BinaryField:
		return "bytea"
	default:
		panic(fmt.Sprintf("unexpected field kind %s", f.Kind))
	}
}

// AutoPrimaryKey implements backends.Backend interface.
func (b *Backend) AutoPrimaryKey(f *models.Field) string {
	return b.ColumnType(f) + " NOT NULL PRIMARY KEY GENERATED BY DEFAULT AS IDENTITY"
}

var (
	commaSpaceRE = regexp.MustCompile(`\s*,\s*`)

	typeAliases = map[string]string{
		"int":         "integer",
		"int4":        "integer",
		"int8":        "bigint",
		"int2":        "smallint",
		"bool":        "boolean",
		"float8":      "double precision",
		"float4":      "real",
		"time":        "time without time zone",
		"timestamp":   "timestamp without time zone",
		"timestamptz": "timestamp with time zone",
	}
)

// normalizeType converts type names to the form returned by format_type().
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = commaSpaceRE.ReplaceAllString(t, ",")

	if a, ok := typeAliases[t]; ok {
		return a
	}

	switch {
	case strings.HasPrefix(t, "varchar"):
		return "character varying" + strings.TrimPrefix(t, "varchar")
	case strings.HasPrefix(t, "decimal"):
		return "numeric" + strings.TrimPrefix(t, "decimal")
	case strings.HasPrefix(t, "char("):
		return "character" + strings.TrimPrefix(t, "char")
	}

	return t
}

// SameType implements backends.Backend interface.
func (b *Backend) SameType(declared, actual string) bool {
	return normalizeType(declared) == normalizeType(actual)
}

// TableNames implements backends.Backend interface.
func (b *Backend) TableNames(ctx context.Context, q fsql.Querier) ([]string, error) {
	query := `SELECT tablename FROM pg_catalog.pg_tables WHERE schemaname = current_schema() ORDER BY tablename`

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
	query := `SELECT a.attname, format_type(a.atttypid, a.atttypmod), NOT a.attnotnull, ` +
		`pg_get_expr(d.adbin, d.adrelid), COALESCE(i.indisprimary, false) ` +
		`FROM pg_attribute a ` +
		`JOIN pg_class c ON c.oid = a.attrelid ` +
		`JOIN pg_namespace n ON n.oid = c.relnamespace ` +
		`LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum ` +
		`LEFT JOIN pg_index i ON i.indrelid = a.attrelid AND a.attnum = ANY(i.indkey) AND i.indisprimary ` +
		`WHERE n.nspname = current_schema() AND c.relname = $1 AND a.attnum > 0 AND NOT a.attisdropped ` +
		`ORDER BY a.attnum`

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	res := []backends.Column{}

	for rows.Next() {
		var c backends.Column
		var dflt sql.NullString

		if err = rows.Scan(&c.Name, &c.Type, &c.Nullable, &dflt, &c.PrimaryKey); err != nil {
			return nil, lazyerrors.Error(err)
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

// Version implements backends.Backend interface.
func (b *Backend) Version(ctx context.Context, q fsql.Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, `SHOW server_version`).Scan(&v); err != nil {
		return "", lazyerrors.Error(err)
	}

	return v, nil
}

// Features implements backends.Backend interface.
func (b *Backend) Features(string) backends.Features {
	return backends.Features{
		RenameColumn:    true,
		DropColumn:      true,
		AlterColumnType: true,
	}
}

// InsertReturningID implements backends.Backend interface.
func (b *Backend) InsertReturningID(ctx context.Context, q fsql.Querier, query string, pk string, args ...any) (int64, error) {
	var id int64
	if err := q.QueryRowContext(ctx, query+" RETURNING "+b.Quote(pk), args...).Scan(&id); err != nil {
		return 0, err
	}

	return id, nil
}

// AddColumnSQL implements backends.Backend interface.
func (b *Backend) AddColumnSQL(table, definition string) string {
	return fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s`, b.Quote(table), definition)
}

// RenameColumnSQL implements backends.Backend interface.
func (b *Backend) RenameColumnSQL(table, oldName, newName string) (string, error) {
	return fmt.Sprintf(`ALTER TABLE %s RENAME COLUMN %s TO %s`, b.Quote(table), b.Quote(oldName), b.Quote(newName)), nil
}

// AlterColumnTypeSQL implements backends.Backend interface.
func (b *Backend) AlterColumnTypeSQL(table, column, newType string) (string, error) {
	c := b.Quote(column)
	return fmt.Sprintf(`ALTER TABLE %s ALTER COLUMN %s TYPE %s USING %s::%s`, b.Quote(table), c, newType, c, newType), nil
}

// DropColumnSQL implements backends.Backend interface.
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
	return isCode(err, pgerrcode.UndefinedTable)
}

// IsDuplicateColumn implements backends.Backend interface.
func (b *Backend) IsDuplicateColumn(err error) bool {
	return isCode(err, pgerrcode.DuplicateColumn)
}

// isCode returns true if err is a PostgreSQL error with the given code.
func isCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == code
}

// check interfaces
var (
	_ backends.Backend = (*Backend)(nil)
)
