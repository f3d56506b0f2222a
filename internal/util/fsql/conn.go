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

package fsql

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
	"github.com/FerretDB/sqlorm/internal/util/resource"
)

// Conn wraps [*database/sql.Conn] with tracing, logging, and resource tracking.
//
// It is used for connection-scoped settings that must not leak to other pool users.
type Conn struct {
	sqlConn *sql.Conn
	name    string
	l       *zap.Logger
	token   *resource.Token
}

// Conn returns a single connection from the pool.
//
// The caller must call Close (or Discard) to return it.
func (db *DB) Conn(ctx context.Context) (*Conn, error) {
	defer observability.FuncCall(ctx)()

	c, err := db.sqlDB.Conn(ctx)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	res := &Conn{
		sqlConn: c,
		name:    db.name,
		l:       db.l,
		token:   resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res, nil
}

// QueryContext calls [*sql.Conn.QueryContext].
func (c *Conn) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	return queryContext(ctx, c.sqlConn, c.name, c.l, query, args...)
}

// QueryRowContext calls [*sql.Conn.QueryRowContext].
func (c *Conn) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer observability.FuncCall(ctx)()

	return queryRowContext(ctx, c.sqlConn, c.name, c.l, query, args...)
}

// ExecContext calls [*sql.Conn.ExecContext].
func (c *Conn) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	return execContext(ctx, c.sqlConn, c.name, c.l, query, args...)
}

// BeginTx starts a new transaction on the connection.
func (c *Conn) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	defer observability.FuncCall(ctx)()

	sqlTx, err := c.sqlConn.BeginTx(ctx, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	c.l.Debug("Transaction started on dedicated connection.")

	return wrapTx(sqlTx, c.name, c.l), nil
}

// InTransaction wraps the given function f in a transaction on the connection.
//
// See [DB.InTransaction].
func (c *Conn) InTransaction(ctx context.Context, f func(*Tx) error) error {
	defer observability.FuncCall(ctx)()

	return inTransaction(ctx, c.BeginTx, f)
}

// Close returns the connection to the pool.
func (c *Conn) Close() error {
	resource.Untrack(c, c.token)
	return c.sqlConn.Close()
}

// Discard closes the underlying driver connection instead of returning it to the pool.
//
// It is used when connection-scoped settings could not be restored.
func (c *Conn) Discard() error {
	resource.Untrack(c, c.token)

	_ = c.sqlConn.Raw(func(any) error {
		return driver.ErrBadConn
	})

	if err := c.sqlConn.Close(); err != nil && !errors.Is(err, sql.ErrConnDone) {
		return lazyerrors.Error(err)
	}

	return nil
}

// check interfaces
var (
	_ Querier = (*Conn)(nil)
)
