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

// Package fsql provides [database/sql] utilities.
package fsql

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
	"github.com/FerretDB/sqlorm/internal/util/resource"
)

// Querier is implemented by both *DB and *Tx.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// DB wraps [*database/sql.DB] with tracing, metrics, logging, and resource tracking.
//
// It exposes the subset of *sql.DB methods we use.
// It also exposes additional methods.
type DB struct {
	*metricsCollector

	sqlDB *sql.DB
	name  string
	l     *zap.Logger
	token *resource.Token
}

// WrapDB creates a new DB.
//
// Name is used for metric label values, span attributes, etc.
// Logger (that will be named) is used for query logging.
func WrapDB(db *sql.DB, name string, l *zap.Logger) *DB {
	if db == nil {
		return nil
	}

	res := &DB{
		metricsCollector: newMetricsCollector(name, db.Stats),
		sqlDB:            db,
		name:             name,
		l:                l.Named(name),
		token:            resource.NewToken(),
	}

	resource.Track(res, res.token)

	return res
}

// Name returns the name given to WrapDB.
func (db *DB) Name() string {
	return db.name
}

// SQLDB returns the wrapped [*sql.DB] for libraries that require it.
//
// The caller must not close it.
func (db *DB) SQLDB() *sql.DB {
	return db.sqlDB
}

// Close calls [*sql.DB.Close].
func (db *DB) Close() error {
	resource.Untrack(db, db.token)
	return db.sqlDB.Close()
}

// PingContext calls [*sql.DB.PingContext].
func (db *DB) PingContext(ctx context.Context) error {
	defer observability.FuncCall(ctx)()

	return db.sqlDB.PingContext(ctx)
}

// QueryContext calls [*sql.DB.QueryContext].
func (db *DB) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	defer observability.FuncCall(ctx)()

	return queryContext(ctx, db.sqlDB, db.name, db.l, query, args...)
}

// QueryRowContext calls [*sql.DB.QueryRowContext].
func (db *DB) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	defer observability.FuncCall(ctx)()

	return queryRowContext(ctx, db.sqlDB, db.name, db.l, query, args...)
}

// ExecContext calls [*sql.DB.ExecContext].
func (db *DB) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	defer observability.FuncCall(ctx)()

	return execContext(ctx, db.sqlDB, db.name, db.l, query, args...)
}

// BeginTx starts a new transaction.
func (db *DB) BeginTx(ctx context.Context, opts *sql.TxOptions) (*Tx, error) {
	defer observability.FuncCall(ctx)()

	sqlTx, err := db.sqlDB.BeginTx(ctx, opts)
	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	db.l.Debug("Transaction started.")

	return wrapTx(sqlTx, db.name, db.l), nil
}

// InTransaction wraps the given function f in a transaction.
//
// If f returns an error or context is canceled, the transaction is rolled back.
func (db *DB) InTransaction(ctx context.Context, f func(*Tx) error) error {
	defer observability.FuncCall(ctx)()

	return inTransaction(ctx, db.BeginTx, f)
}

// inTransaction starts a transaction with begin and wraps f in it.
func inTransaction(ctx context.Context, begin func(context.Context, *sql.TxOptions) (*Tx, error), f func(*Tx) error) (err error) {
	var tx *Tx

	if tx, err = begin(ctx, nil); err != nil {
		return
	}

	var done bool

	defer func() {
		// It is not enough to check `err == nil` there,
		// because in tests `f` could contain testify/require.XXX or `testing.TB.FailNow()` calls
		// that call `runtime.Goexit()`, leaving `err` unset in `err = f(tx)` below.
		// This situation would hang a test.
		//
		// As a bonus, checking a separate variable also handles any panics in `f`,
		// including `panic(nil)` that is problematic for tests too.
		if done {
			return
		}

		if err == nil {
			err = lazyerrors.Errorf("transaction was not committed")
		}

		_ = tx.Rollback()
	}()

	if err = f(tx); err != nil {
		// do not wrap f's error because the caller depends on it in some cases
		return
	}

	if err = tx.Commit(); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	done = true

	return
}

// sqlQuerier is implemented by *sql.DB, *sql.Conn and *sql.Tx.
type sqlQuerier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// queryContext runs a query with logging and tracing.
func queryContext(ctx context.Context, q sqlQuerier, name string, l *zap.Logger, query string, args ...any) (*sql.Rows, error) {
	ctx, span := observability.StartQuerySpan(ctx, name, query)

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	l.Sugar().With(fields...).Debugf(">>> %s", query)

	rows, err := q.QueryContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(err))
	l.Sugar().With(fields...).Debugf("<<< %s", query)

	observability.EndSpan(span, err)

	return rows, err
}

// queryRowContext runs a single-row query with logging and tracing.
func queryRowContext(ctx context.Context, q sqlQuerier, name string, l *zap.Logger, query string, args ...any) *sql.Row {
	ctx, span := observability.StartQuerySpan(ctx, name, query)

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	l.Sugar().With(fields...).Debugf(">>> %s", query)

	row := q.QueryRowContext(ctx, query, args...)

	fields = append(fields, zap.Duration("time", time.Since(start)), zap.Error(row.Err()))
	l.Sugar().With(fields...).Debugf("<<< %s", query)

	observability.EndSpan(span, row.Err())

	return row
}

// execContext runs a statement with logging and tracing.
func execContext(ctx context.Context, q sqlQuerier, name string, l *zap.Logger, query string, args ...any) (sql.Result, error) {
	ctx, span := observability.StartQuerySpan(ctx, name, query)

	start := time.Now()

	fields := []any{zap.Any("args", args)}
	l.Sugar().With(fields...).Debugf(">>> %s", query)

	res, err := q.ExecContext(ctx, query, args...)

	// to differentiate between 0 and nil
	var ra *int64

	if res != nil {
		rav, _ := res.RowsAffected()
		ra = &rav
	}

	fields = append(fields, zap.Int64p("rows", ra), zap.Duration("time", time.Since(start)), zap.Error(err))
	l.Sugar().With(fields...).Debugf("<<< %s", query)

	observability.EndSpan(span, err)

	return res, err
}

// check interfaces
var (
	_ prometheus.Collector = (*DB)(nil)
	_ Querier              = (*DB)(nil)
)
