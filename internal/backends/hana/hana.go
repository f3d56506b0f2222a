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

// Package hana provides the SAP HANA dialect.
package hana

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/SAP/go-hdb/driver"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// Errors codes from HANA.
const (
	errInvalidTableName    = 259
	errDuplicateColumnName = 324
)

// Backend implements backends.Backend for SAP HANA.
type Backend struct{}

// New returns SAP HANA backend.
func New() *Backend {
	return new(Backend)
}

// Name implements backends.Backend interface.
func (b *Backend) Name() string {
	return config.EngineHANA
}

// Vendor implements backends.Backend interface.
func (b *Backend) Vendor() string {
	return "SAP HANA"
}

// DriverName implements backends.Backend interface.
func (b *Backend) DriverName() string {
	return driver.DriverName
}

// DSN implements backends.Backend interface.
//
// NAME is used as the default schema.
func (b *Backend) DSN(c *config.Database) (string, error) {
	if c.Host == "" {
		return "", lazyerrors.New("HOST is required for SAP HANA")
	}

	u := &url.URL{
		Scheme: "hdb",
		Host:   c.Host,
	}

	if c.Port != "" {
		u.Host = net.JoinHostPort(c.Host, c.Port)
	}

	if c.User != "" {
		u.User = url.UserPassword(c.User, c.Password)
	}

	values := url.Values{}
	if c.Name != "" {
		values.Set("defaultSchema", c.Name)
	}

	for k, v := range c.Options {
		values.Set(k, fmt.Sprint(v))
	}

	u.RawQuery = values.Encode()

	return u.String(), nil
}

// Open implements backends.Backend interface.
func (b *Backend) Open(c *config.Database, l *zap.Logger) (*sql.DB, error) {
	dsn, err := b.DSN(c)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(b.DriverName(), dsn)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	l.Debug("Opened SAP HANA pool.", zap.String("host", c.Host), zap.String("schema", c.Name))

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
	case models.AutoField, models.IntegerField, models.PositiveIntegerField:
		return "INTEGER"
	case models.BigAutoField, models.BigIntegerField, models.ForeignKey, models.DurationField:
		return "BIGINT"
	case models.SmallIntegerField:
		return "SMALLINT"
	case models.CharField, models.EmailField, models.SlugField, models.URLField:
		return fmt.Sprintf("NVARCHAR(%d)", f.MaxLength)
	case models.TextField, models.JSONField:
		return "NCLOB"
	case models.UUIDField:
		return "NVARCHAR(36)"
	case models.BooleanField:
		return "BOOLEAN"
	case models.FloatField:
		return "DOUBLE"
	case models.DecimalField:
		return fmt.Sprintf("DECIMAL(%d,%d)", f.MaxDigits, f.DecimalPlaces)
	case models.DateField:
		return "DATE"
	case models.DateTimeField:
		return "TIMESTAMP"
	case models.TimeField:
		return "TIME"
	case models.BinaryField:
		return "BLOB"
	default:
		panic(fmt.Sprintf("unexpected field kind %s", f.Kind))
	}
}

// AutoPrimaryKey implements backends.Backend interface.
func (b *Backend) AutoPrimaryKey(f *models.Field) string {
	return b.ColumnType(f) + " GENERATED BY DEFAULT AS IDENTITY NOT NULL PRIMARY KEY"
}

// SameType implements backends.Backend interface.
func (b *Backend) SameType(declared, actual string) bool {
	norm := func(s string) string {
		return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
	}

	return norm(declared) == norm(actual)
}

// TableNames implements backends.Backend interface.
func (b *Backend) TableNames(ctx context.Context, q fsql.Querier) ([]string, error) {
	rows, err := q.QueryContext(ctx, `SELECT TABLE_NAME FROM SYS.TABLES WHERE SCHEMA_NAME = CURRENT_SCHEMA ORDER BY TABLE_NAME`)
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
	query := `SELECT c.COLUMN_NAME, c.DATA_TYPE_NAME, c.LENGTH, c.SCALE, c.IS_NULLABLE, c.DEFAULT_VALUE, ` +
		`(SELECT COUNT(*) FROM SYS.CONSTRAINTS k WHERE k.SCHEMA_NAME = c.SCHEMA_NAME AND k.TABLE_NAME = c.TABLE_NAME ` +
		`AND k.COLUMN_NAME = c.COLUMN_NAME AND k.IS_PRIMARY_KEY = 'TRUE') ` +
		`FROM SYS.TABLE_COLUMNS c WHERE c.SCHEMA_NAME = CURRENT_SCHEMA AND c.TABLE_NAME = ? ORDER BY c.POSITION`

	rows, err := q.QueryContext(ctx, query, table)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}
	defer rows.Close()

	res := []backends.Column{}

	for rows.Next() {
		var name, typ, nullable string
		var length, scale sql.NullInt64
		var dflt sql.NullString
		var pk int

		if err = rows.Scan(&name, &typ, &length, &scale, &nullable, &dflt, &pk); err != nil {
			return nil, lazyerrors.Error(err)
		}

		c := backends.Column{
			Name:       name,
			Type:       formatType(typ, length, scale),
			Nullable:   nullable == "TRUE",
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

// formatType renders the column type the same way ColumnType does.
func formatType(typ string, length, scale sql.NullInt64) string {
	switch typ {
	case "NVARCHAR", "VARCHAR", "NCHAR", "CHAR", "VARBINARY":
		if length.Valid {
			return fmt.Sprintf("%s(%d)", typ, length.Int64)
		}
	case "DECIMAL":
		if length.Valid && scale.Valid {
			return fmt.Sprintf("%s(%d,%d)", typ, length.Int64, scale.Int64)
		}
	}

	return typ
}

// Version implements backends.Backend interface.
func (b *Backend) Version(ctx context.Context, q fsql.Querier) (string, error) {
	var v string
	if err := q.QueryRowContext(ctx, `SELECT VERSION FROM SYS.M_DATABASE`).Scan(&v); err != nil {
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
//
// CURRENT_IDENTITY_VALUE is per session, so the caller must use a transaction.
func (b *Backend) InsertReturningID(ctx context.Context, q fsql.Querier, query string, _ string, args ...any) (int64, error) {
	if _, err := q.ExecContext(ctx, query, args...); err != nil {
		return 0, err
	}

	var id int64
	if err := q.QueryRowContext(ctx, `SELECT CURRENT_IDENTITY_VALUE() FROM DUMMY`).Scan(&id); err != nil {
		return 0, lazyerrors.Error(err)
	}

	return id, nil
}

// AddColumnSQL implements backends.Backend interface.
func (b *Backend) AddColumnSQL(table, definition string) string {
	return fmt.Sprintf(`ALTER TABLE %s ADD (%s)`, b.Quote(table), definition)
}

// RenameColumnSQL implements backends.Backend interface.
func (b *Backend) RenameColumnSQL(table, oldName, newName string) (string, error) {
	return fmt.Sprintf(`RENAME COLUMN %s.%s TO %s`, b.Quote(table), b.Quote(oldName), b.Quote(newName)), nil
}

// AlterColumnTypeSQL implements backends.Backend interface.
func (b *Backend) AlterColumnTypeSQL(table, column, newType string) (string, error) {
	return fmt.Sprintf(`ALTER TABLE %s ALTER (%s %s)`, b.Quote(table), b.Quote(column), newType), nil
}

// DropColumnSQL implements backends.Backend interface.
func (b *Backend) DropColumnSQL(table, column string) (string, error) {
	return fmt.Sprintf(`ALTER TABLE %s DROP (%s)`, b.Quote(table), b.Quote(column)), nil
}

// RenameTableSQL implements backends.Backend interface.
func (b *Backend) RenameTableSQL(oldName, newName string) string {
	return fmt.Sprintf(`RENAME TABLE %s TO %s`, b.Quote(oldName), b.Quote(newName))
}

// CopyTableSQL implements backends.Backend interface.
func (b *Backend) CopyTableSQL(newTable, oldTable string) string {
	return fmt.Sprintf(`CREATE TABLE %s AS (SELECT * FROM %s) WITH DATA`, b.Quote(newTable), b.Quote(oldTable))
}

// IsUndefinedTable implements backends.Backend interface.
func (b *Backend) IsUndefinedTable(err error) bool {
	return isCode(err, errInvalidTableName)
}

// IsDuplicateColumn implements backends.Backend interface.
func (b *Backend) IsDuplicateColumn(err error) bool {
	return isCode(err, errDuplicateColumnName)
}

// isCode returns true if err is a HANA error with the given code.
func isCode(err error, code int) bool {
	var dbError driver.Error
	return errors.As(err, &dbError) && dbError.Code() == code
}

// check interfaces
var (
	_ backends.Backend = (*Backend)(nil)
)
