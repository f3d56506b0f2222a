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

// Package mysql provides the MySQL dialect.
package mysql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// MySQL server error numbers.
const (
	errNoSuchTable  = 1146
	errDupFieldName = 1060
)

// Connection defaults.
const (
	defaultHost    = "127.0.0.1"
	defaultPort    = "3306"
	defaultCharset = "utf8mb4"
)

// Backend implements backends.Backend for MySQL.
type Backend struct{}

// New returns MySQL backend.
func New() *Backend {
	return new(Backend)
}

// Name implements backends.Backend interface.
func (b *Backend) Name() string {
	return config.EngineMySQL
}

// Vendor implements backends.Backend interface.
func (b *Backend) Vendor() string {
	return "MySQL"
}

// DriverName implements backends.Backend interface.
func (b *Backend) DriverName() string {
	return "mysql"
}

// DSN implements backends.Backend interface.
//
// Options are passed as DSN parameters.
func (b *Backend) DSN(c *config.Database) (string, error) {
	host, port := c.Host, c.Port
	if host == "" {
		host = defaultHost
	}

	if port == "" {
		port = defaultPort
	}

	cfg := mysql.NewConfig()
	cfg.User = c.User
	cfg.Passwd = c.Password
	cfg.Net = "tcp"
	cfg.Addr = net.JoinHostPort(host, port)
	cfg.DBName = c.Name
	cfg.ParseTime = true
	cfg.Params = map[string]string{
		"charset": defaultCharset,
	}

	if strings.HasPrefix(host, "/") {
		cfg.Net = "unix"
		cfg.Addr = host
	}

	for k, v := range c.Options {
		cfg.Params[k] = fmt.Sprint(v)
	}

	return cfg.FormatDSN(), nil
}

// Open implements backends.Backend interface.
func (b *Backend) Open(c *config.Database, l *zap.Logger) (*sql.DB, error) {
	dsn, err := b.DSN(c)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	cfg.Logger = mysqlLogger{l: l.Named("mysql").Sugar()}

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db := sql.OpenDB(connector)
	backends.ApplyPoolHints(db, c)

	return db, nil
}

// mysqlLogger adapts zap to mysql.Logger.
type mysqlLogger struct {
	l *zap.SugaredLogger
}

// Print implements mysql.Logger.
func (ml mysqlLogger) Print(v ...any) {
	ml.l.Warn(v...)
}

// Quote implements backends.Backend interface.
func (b *Backend) Quote(identifier string) string {
	return backends.QuoteWith(identifier, "`")
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
	case models.PositiveIntegerField:
		return "integer UNSIGNED"
	case models.BigAutoField, models.BigIntegerField, models.ForeignKey, models.DurationField:
		return "bigint"
	case models.SmallIntegerField:
		return "smallint"
	case models.CharField, models.EmailField, models.SlugField, models.URLField:
		return fmt.Sprintf("varchar(%d)", f.MaxLength)
	case models.TextField:
		return "longtext"
	case models.JSONField:
		return "json"
	case models.UUIDField:
		return "char(36)"
	case models.BooleanField:
		return "bool"
	case models.FloatField:
		return "double precision"
	case models.DecimalField:
		return fmt.Sprintf("numeric(%d, %d)", f.MaxDigits, f.DecimalPlaces)
	case models.DateField:
		return "date"
	case models.DateTimeField:
		return "datetime(6)"
	case models.TimeField:
		return "time(6)"
	case models.BinaryField:
		return "longblob"
	default:
		panic(fmt.Sprintf("unexpected field kind %s", f.Kind))
	}
}

// AutoPrimaryKey implements backends.Backend interface.
func (b *Backend) AutoPrimaryKey(f *models.Field) string {
	return b.ColumnType(f) + " NOT NULL PRIMARY KEY AUTO_INCREMENT"
}

var (
	commaSpaceRE   = regexp.MustCompile(`\s*,\s*`)
	displayWidthRE = regexp.MustCompile(`^(tinyint|smallint|int|bigint)\(\d+\)`)
)

// normalizeType converts type names to the form of information_schema.COLUMNS.COLUMN_TYPE.
func normalizeType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	t = commaSpaceRE.ReplaceAllString(t, ",")

	for from, to := range map[string]string{
		"integer":          "int",
		"double precision": "double",
		"numeric":          "decimal",
		"boolean":          "tinyint(1)",
		"bool":             "tinyint(1)",
	} {
		if t == from || strings.HasPrefix(t, from+" ") || strings.HasPrefix(t, from+"(") {
			t = to + strings.TrimPrefix(t, from)
			break
		}
	}

	// display widths are not reported since MySQL 8.0.19
	if t != "tinyint(1)" {
		t = displayWidthRE.ReplaceAllString(t, "$1")
	}

	return t
}

// SameType implements backends.Backend interface.
func (b *Backend) SameType(declared, actual string) bool {
	return normalizeType(declared) == normalizeType(actual)
}

// TableNames implements backends.Backend interface.
func (b *Backend) TableNames(ctx context.Context, q fsql.Querier) ([]string, error) {
	query := `SELECT TABLE_NAME FROM information_schema.TABLES ` +
		`WHERE TABLE_SCHEMA = DATABASE() AND TABLE_TYPE = 'BASE TABLE' ORDER BY TABLE_NAME`

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
	query := `SELECT COLUMN_NAME, COLUMN_TYPE, IS_NULLABLE = 'YES', COLUMN_DEFAULT, COLUMN_KEY = 'PRI' ` +
		`FROM information_schema.COLUMNS WHERE TABLE_SCHEMA = DATABASE() AND TABLE_NAME = ? ` +
		`ORDER BY ORDINAL_POSITION`

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
	if err := q.QueryRowContext(ctx, `SELECT VERSION()`).Scan(&v); err != nil {
		return "", lazyerrors.Error(err)
	}

	return v, nil
}

// Features implements backends.Backend interface.
func (b *Backend) Features(version string) backends.Features {
	return backends.Features{
		RenameColumn:    backends.VersionAtLeast(version, 8, 0, 0),
		DropColumn:      true,
		AlterColumnType: true,
	}
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
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", b.Quote(table), definition)
}

// RenameColumnSQL implements backends.Backend interface.
func (b *Backend) RenameColumnSQL(table, oldName, newName string) (string, error) {
	return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s", b.Quote(table), b.Quote(oldName), b.Quote(newName)), nil
}

// AlterColumnTypeSQL implements backends.Backend interface.
func (b *Backend) AlterColumnTypeSQL(table, column, newType string) (string, error) {
	return fmt.Sprintf("ALTER TABLE %s MODIFY %s %s", b.Quote(table), b.Quote(column), newType), nil
}

// DropColumnSQL implements backends.Backend interface.
func (b *Backend) DropColumnSQL(table, column string) (string, error) {
	return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", b.Quote(table), b.Quote(column)), nil
}

// RenameTableSQL implements backends.Backend interface.
func (b *Backend) RenameTableSQL(oldName, newName string) string {
	return fmt.Sprintf("RENAME TABLE %s TO %s", b.Quote(oldName), b.Quote(newName))
}

// CopyTableSQL implements backends.Backend interface.
func (b *Backend) CopyTableSQL(newTable, oldTable string) string {
	return fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM %s", b.Quote(newTable), b.Quote(oldTable))
}

// IsUndefinedTable implements backends.Backend interface.
func (b *Backend) IsUndefinedTable(err error) bool {
	return isNumber(err, errNoSuchTable)
}

// IsDuplicateColumn implements backends.Backend interface.
func (b *Backend) IsDuplicateColumn(err error) bool {
	return isNumber(err, errDupFieldName)
}

// isNumber returns true if err is a MySQL server error with the given number.
func isNumber(err error, number uint16) bool {
	var e *mysql.MySQLError
	return errors.As(err, &e) && e.Number == number
}

// check interfaces
var (
	_ backends.Backend = (*Backend)(nil)
	_ mysql.Logger     = mysqlLogger{}
)
