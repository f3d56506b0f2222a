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

package conns

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// txKey is the context key for the active transaction of the given handler and alias.
type txKey struct {
	h     *Handler
	alias string
}

// txState represents the active transaction.
type txState struct {
	tx      *fsql.Tx
	backend backends.Backend

	// number of savepoints created so far; transactions are not used concurrently
	savepoints int
}

// Executor returns the active transaction for the alias from the context,
// or the connection pool if there is none.
func (h *Handler) Executor(ctx context.Context, alias string) (fsql.Querier, error) {
	if st, ok := ctx.Value(txKey{h, alias}).(*txState); ok {
		return st.tx, nil
	}

	return h.Get(ctx, alias)
}

// InTransaction wraps f in a transaction for the given alias.
//
// The outermost call starts the transaction; it is committed if f returns nil
// and rolled back if f returns an error or panics.
// Nested calls create savepoints if savepoint is true
// and join the outer transaction otherwise.
//
// f should use the passed context and Executor to run queries in the transaction.
func (h *Handler) InTransaction(ctx context.Context, alias string, savepoint bool, f func(context.Context) error) error {
	defer observability.FuncCall(ctx)()

	if st, ok := ctx.Value(txKey{h, alias}).(*txState); ok {
		if !savepoint {
			return f(ctx)
		}

		return h.inSavepoint(ctx, st, f)
	}

	c, err := h.get(ctx, alias)
	if err != nil {
		return err
	}

	return c.db.InTransaction(ctx, func(tx *fsql.Tx) error {
		st := &txState{
			tx:      tx,
			backend: c.backend,
		}

		return f(context.WithValue(ctx, txKey{h, alias}, st))
	})
}

// HasTransaction returns true if the context carries an active transaction for the alias.
func (h *Handler) HasTransaction(ctx context.Context, alias string) bool {
	_, ok := ctx.Value(txKey{h, alias}).(*txState)
	return ok
}

// Conn returns a dedicated connection for the alias.
//
// The caller must close it.
func (h *Handler) Conn(ctx context.Context, alias string) (*fsql.Conn, error) {
	c, err := h.get(ctx, alias)
	if err != nil {
		return nil, err
	}

	return c.db.Conn(ctx)
}

// InConnTransaction wraps f in a transaction on the given dedicated connection for the alias.
//
// Executor and nested InTransaction calls in f use that transaction.
func (h *Handler) InConnTransaction(ctx context.Context, alias string, conn *fsql.Conn, f func(context.Context) error) error {
	defer observability.FuncCall(ctx)()

	if h.HasTransaction(ctx, alias) {
		return lazyerrors.Errorf("transaction for %q is already active", alias)
	}

	b, err := h.Backend(alias)
	if err != nil {
		return err
	}

	return conn.InTransaction(ctx, func(tx *fsql.Tx) error {
		st := &txState{
			tx:      tx,
			backend: b,
		}

		return f(context.WithValue(ctx, txKey{h, alias}, st))
	})
}

// inSavepoint wraps f in a savepoint of the active transaction.
func (h *Handler) inSavepoint(ctx context.Context, st *txState, f func(context.Context) error) (err error) {
	st.savepoints++
	name := st.backend.Quote(fmt.Sprintf("sqlorm_sp_%d", st.savepoints))

	if _, err = st.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return lazyerrors.Error(err)
	}

	var done bool

	defer func() {
		// see fsql.DB.InTransaction
		if done {
			return
		}

		if _, rerr := st.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rerr != nil {
			h.l.Warn("Failed to roll back to savepoint.", zap.String("savepoint", name), zap.Error(rerr))
		}

		if err == nil {
			err = lazyerrors.Errorf("savepoint %s was not released", name)
		}
	}()

	if err = f(ctx); err != nil {
		return
	}

	if _, err = st.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		err = lazyerrors.Error(err)
		return
	}

	done = true

	return
}
