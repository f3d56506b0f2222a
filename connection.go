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
	"database/sql"
	"strings"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// DatabaseInfo describes a database connection.
type DatabaseInfo = conns.Info

// Column describes a table column as reported by the database.
type Column = backends.Column

// RawOptions are optional parameters of ExecuteRawSQL and ExecuteRawSQLDict.
type RawOptions struct {
	// Using is the database alias; "default" if empty.
	Using string

	// NoFetch executes the statement without reading rows.
	NoFetch bool
}

// alias returns the database alias of raw options.
func (opts *RawOptions) alias() string {
	if opts == nil || opts.Using == "" {
		return DefaultAlias
	}

	return opts.Using
}

// GetConnection returns the connection pool for the alias, opening it if needed.
//
// The pool is owned by the instance and must not be closed by the caller.
func (o *ORM) GetConnection(ctx context.Context, alias string) (*sql.DB, error) {
	h, err := o.handler()
	if err != nil {
		return nil, err
	}

	db, err := h.Get(ctx, alias)
	if err != nil {
		return nil, err
	}

	return db.SQLDB(), nil
}

// CloseConnection closes the connection pool for the alias. It is reopened on next use.
func (o *ORM) CloseConnection(alias string) error {
	h, err := o.handler()
	if err != nil {
		return err
	}

	return h.Close(alias)
}

// CloseAllConnections closes all connection pools. They are reopened on next use.
func (o *ORM) CloseAllConnections() error {
	h, err := o.handler()
	if err != nil {
		return err
	}

	return h.CloseAll()
}

// Transaction runs f in a transaction on the database with the given alias.
//
// The transaction is committed if f returns nil and rolled back otherwise.
// Nested calls with the context passed to f use savepoints.
// All queries that should be a part of the transaction must use that context.
func (o *ORM) Transaction(ctx context.Context, alias string, f func(ctx context.Context) error) error {
	h, err := o.handler()
	if err != nil {
		return err
	}

	return h.InTransaction(ctx, alias, true, f)
}

// ExecuteRawSQL executes the SQL statement with ? placeholders and returns rows.
//
// Byte slices of non-binary columns are converted to strings.
// With NoFetch, nil is returned.
func (o *ORM) ExecuteRawSQL(ctx context.Context, query string, params []any, opts *RawOptions) ([][]any, error) {
	var res [][]any

	err := o.raw(ctx, query, params, opts, func(columns []string, row []any) {
		res = append(res, row)
	})
	if err != nil {
		return nil, err
	}

	if res == nil && (opts == nil || !opts.NoFetch) {
		res = [][]any{}
	}

	return res, nil
}

// ExecuteRawSQLDict is like ExecuteRawSQL, but returns rows as maps keyed by column names.
func (o *ORM) ExecuteRawSQLDict(ctx context.Context, query string, params []any, opts *RawOptions) ([]map[string]any, error) {
	var res []map[string]any

	err := o.raw(ctx, query, params, opts, func(columns []string, row []any) {
		d := make(map[string]any, len(columns))
		for i, c := range columns {
			d[c] = row[i]
		}

		res = append(res, d)
	})
	if err != nil {
		return nil, err
	}

	if res == nil && (opts == nil || !opts.NoFetch) {
		res = []map[string]any{}
	}

	return res, nil
}

// raw executes the statement and calls f for each row.
func (o *ORM) raw(ctx context.Context, query string, params []any, opts *RawOptions, f func(columns []string, row []any)) error {
	defer observability.FuncCall(ctx)()

	h, err := o.handler()
	if err != nil {
		return err
	}

	alias := opts.alias()

	b, err := h.Backend(alias)
	if err != nil {
		return err
	}

	q, err := h.Executor(ctx, alias)
	if err != nil {
		return err
	}

	query = b.Rebind(query)

	if opts != nil && opts.NoFetch {
		if _, err = q.ExecContext(ctx, query, params...); err != nil {
			return ormerrors.New(ormerrors.ErrorCodeQuery, "Failed to execute raw SQL", err)
		}

		return nil
	}

	rows, err := q.QueryContext(ctx, query, params...)
	if err != nil {
		return ormerrors.New(ormerrors.ErrorCodeQuery, "Failed to execute raw SQL", err)
	}

	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return ormerrors.New(ormerrors.ErrorCodeQuery, "Failed to execute raw SQL", err)
	}

	types, err := rows.ColumnTypes()
	if err != nil {
		return ormerrors.New(ormerrors.ErrorCodeQuery, "Failed to execute raw SQL", err)
	}

	binary := make([]bool, len(types))
	for i, t := range types {
		binary[i] = binaryType(t.DatabaseTypeName())
	}

	for rows.Next() {
		row := make([]any, len(columns))
		dest := make([]any, len(columns))

		for i := range row {
			dest[i] = &row[i]
		}

		if err = rows.Scan(dest...); err != nil {
			return ormerrors.New(ormerrors.ErrorCodeQuery, "Failed to read raw SQL results", err)
		}

		for i, v := range row {
			if b, ok := v.([]byte); ok && !binary[i] {
				row[i] = string(b)
			}
		}

		f(columns, row)
	}

	if err = rows.Err(); err != nil {
		return ormerrors.New(ormerrors.ErrorCodeQuery, "Failed to read raw SQL results", err)
	}

	return nil
}

// binaryType returns true if values of the database column type should be kept as bytes.
func binaryType(typ string) bool {
	typ = strings.ToUpper(typ)

	for _, t := range []string{"BLOB", "BINARY", "BYTEA", "RAW", "IMAGE"} {
		if strings.Contains(typ, t) {
			return true
		}
	}

	return false
}

// GetDatabaseInfo returns vendor, version, and name of the database with the given alias.
func (o *ORM) GetDatabaseInfo(ctx context.Context, alias string) (*DatabaseInfo, error) {
	h, err := o.handler()
	if err != nil {
		return nil, err
	}

	return h.Info(ctx, alias)
}

// GetTableNames returns sorted table names of the database with the given alias.
func (o *ORM) GetTableNames(ctx context.Context, alias string) ([]string, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	return s.TableNames(ctx, alias)
}

// GetTableDescription returns columns of the table.
func (o *ORM) GetTableDescription(ctx context.Context, alias, table string) ([]Column, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	return s.GetTableColumns(ctx, alias, table)
}

// GetConnection returns the connection pool of the default instance for the alias.
func GetConnection(ctx context.Context, alias string) (*sql.DB, error) {
	return std.GetConnection(ctx, alias)
}

// CloseConnection closes the connection pool of the default instance for the alias.
func CloseConnection(alias string) error { return std.CloseConnection(alias) }

// CloseAllConnections closes all connection pools of the default instance.
func CloseAllConnections() error { return std.CloseAllConnections() }

// Transaction runs f in a transaction on the database of the default instance with the given alias.
func Transaction(ctx context.Context, alias string, f func(ctx context.Context) error) error {
	return std.Transaction(ctx, alias, f)
}

// ExecuteRawSQL executes the SQL statement on the database of the default instance.
func ExecuteRawSQL(ctx context.Context, query string, params []any, opts *RawOptions) ([][]any, error) {
	return std.ExecuteRawSQL(ctx, query, params, opts)
}

// ExecuteRawSQLDict executes the SQL statement on the database of the default instance.
func ExecuteRawSQLDict(ctx context.Context, query string, params []any, opts *RawOptions) ([]map[string]any, error) {
	return std.ExecuteRawSQLDict(ctx, query, params, opts)
}

// GetDatabaseInfo returns information about the database of the default instance.
func GetDatabaseInfo(ctx context.Context, alias string) (*DatabaseInfo, error) {
	return std.GetDatabaseInfo(ctx, alias)
}

// GetTableNames returns table names of the database of the default instance.
func GetTableNames(ctx context.Context, alias string) ([]string, error) {
	return std.GetTableNames(ctx, alias)
}

// GetTableDescription returns columns of the table in the database of the default instance.
func GetTableDescription(ctx context.Context, alias, table string) ([]Column, error) {
	return std.GetTableDescription(ctx, alias, table)
}
