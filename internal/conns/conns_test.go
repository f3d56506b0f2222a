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
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	sqlormtestutil "github.com/FerretDB/sqlorm/internal/util/testutil"
	"github.com/FerretDB/sqlorm/internal/util/testutil/teststress"
)

// setup returns a handler for a new SQLite database with a single table.
func setup(t *testing.T) (context.Context, *Handler) {
	t.Helper()

	ctx := sqlormtestutil.Ctx(t)

	settings, err := config.New(&config.Database{
		Engine:     "sqlite3",
		Name:       sqlormtestutil.SQLitePath(t),
		ConnMaxAge: -1,
	}, nil)
	require.NoError(t, err)

	h := New(settings, sqlormtestutil.Logger(t))
	t.Cleanup(h.Shutdown)

	db, err := h.Get(ctx, config.DefaultAlias)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, `CREATE TABLE "t" ("v" integer NOT NULL)`)
	require.NoError(t, err)

	return ctx, h
}

// count returns the number of rows in the test table.
func count(t *testing.T, ctx context.Context, q fsql.Querier) int {
	t.Helper()

	var res int
	require.NoError(t, q.QueryRowContext(ctx, `SELECT COUNT(*) FROM "t"`).Scan(&res))

	return res
}

func TestHandler(t *testing.T) {
	t.Parallel()

	ctx, h := setup(t)

	assert.Equal(t, []string{"default"}, h.Aliases())
	assert.Equal(t, []string{"default"}, h.Open())

	db1, err := h.Get(ctx, "default")
	require.NoError(t, err)
	db2, err := h.Get(ctx, "default")
	require.NoError(t, err)
	assert.Same(t, db1, db2)

	_, err = h.Get(ctx, "other")
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeConnection))
	assert.Contains(t, err.Error(), "The connection 'other' doesn't exist.")

	_, err = h.Config("other")
	assert.ErrorIs(t, err, ormerrors.ErrConnection)

	c, err := h.Config("default")
	require.NoError(t, err)
	assert.Equal(t, "sqlite3", c.Engine)

	info, err := h.Info(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "sqlite", info.Engine)
	assert.Equal(t, "SQLite", info.Vendor)
	assert.NotEmpty(t, info.Version)

	require.NoError(t, h.Close("default"))
	assert.Empty(t, h.Open())
	require.NoError(t, h.Close("default"))

	db3, err := h.Get(ctx, "default")
	require.NoError(t, err)
	assert.NotSame(t, db1, db3)
}

func TestAdd(t *testing.T) {
	t.Parallel()

	ctx, h := setup(t)

	err := h.Add("memory", &config.Database{Engine: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, []string{"default", "memory"}, h.Aliases())

	db, err := h.Get(ctx, "memory")
	require.NoError(t, err)
	assert.Equal(t, 1, db.SQLDB().Stats().MaxOpenConnections)

	err = h.Add("memory", &config.Database{Engine: "sqlite", Name: ":memory:", ConnMaxAge: -1})
	require.NoError(t, err)
	assert.Equal(t, []string{"default"}, h.Open())

	err = h.Add("bad", &config.Database{Engine: "oracle", Name: "x"})
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeConfiguration))

	settings, err := config.New(&config.Database{Engine: "sqlite", Name: ":memory:"}, nil)
	require.NoError(t, err)

	h.Reset(settings)
	assert.Empty(t, h.Open())
	assert.Equal(t, []string{"default"}, h.Aliases())
}

func TestConcurrentGet(t *testing.T) {
	t.Parallel()

	ctx, h := setup(t)
	require.NoError(t, h.Close("default"))

	dbs := make([]*fsql.DB, teststress.NumGoroutines)

	teststress.Stress(t, func(i int, ready chan<- struct{}, start <-chan struct{}) {
		ready <- struct{}{}
		<-start

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)

		dbs[i] = db
	})

	for _, db := range dbs {
		assert.Same(t, dbs[0], db)
	}
}

func TestInTransaction(t *testing.T) {
	t.Parallel()

	insert := func(ctx context.Context, h *Handler, v int) error {
		q, err := h.Executor(ctx, "default")
		if err != nil {
			return err
		}

		_, err = q.ExecContext(ctx, `INSERT INTO "t" ("v") VALUES (?)`, v)

		return err
	}

	t.Run("Commit", func(t *testing.T) {
		t.Parallel()

		ctx, h := setup(t)

		err := h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
			q, err := h.Executor(ctx, "default")
			require.NoError(t, err)
			assert.IsType(t, new(fsql.Tx), q)

			return insert(ctx, h, 1)
		})
		require.NoError(t, err)

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, ctx, db))
	})

	t.Run("Rollback", func(t *testing.T) {
		t.Parallel()

		ctx, h := setup(t)

		errRollback := errors.New("rollback")

		err := h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
			require.NoError(t, insert(ctx, h, 1))
			return errRollback
		})
		require.ErrorIs(t, err, errRollback)

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 0, count(t, ctx, db))
	})

	t.Run("Savepoint", func(t *testing.T) {
		t.Parallel()

		ctx, h := setup(t)

		errInner := errors.New("inner")

		err := h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
			require.NoError(t, insert(ctx, h, 1))

			err := h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
				require.NoError(t, insert(ctx, h, 2))
				return errInner
			})
			require.ErrorIs(t, err, errInner)

			err = h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
				return insert(ctx, h, 3)
			})
			require.NoError(t, err)

			q, err := h.Executor(ctx, "default")
			require.NoError(t, err)
			assert.Equal(t, 2, count(t, ctx, q))

			return nil
		})
		require.NoError(t, err)

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 2, count(t, ctx, db))
	})

	t.Run("Join", func(t *testing.T) {
		t.Parallel()

		ctx, h := setup(t)

		errOuter := errors.New("outer")

		err := h.InTransaction(ctx, "default", false, func(ctx context.Context) error {
			err := h.InTransaction(ctx, "default", false, func(ctx context.Context) error {
				return insert(ctx, h, 1)
			})
			require.NoError(t, err)

			return errOuter
		})
		require.ErrorIs(t, err, errOuter)

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 0, count(t, ctx, db))
	})

	t.Run("OtherHandler", func(t *testing.T) {
		t.Parallel()

		ctx, h1 := setup(t)
		_, h2 := setup(t)

		err := h1.InTransaction(ctx, "default", true, func(ctx context.Context) error {
			assert.True(t, h1.HasTransaction(ctx, "default"))
			assert.False(t, h2.HasTransaction(ctx, "default"))

			q, err := h2.Executor(ctx, "default")
			require.NoError(t, err)
			assert.IsType(t, new(fsql.DB), q)

			return insert(ctx, h2, 1)
		})
		require.NoError(t, err)

		db1, err := h1.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 0, count(t, ctx, db1))

		db2, err := h2.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, ctx, db2))
	})

	t.Run("DedicatedConn", func(t *testing.T) {
		t.Parallel()

		ctx, h := setup(t)

		conn, err := h.Conn(ctx, "default")
		require.NoError(t, err)

		err = h.InConnTransaction(ctx, "default", conn, func(ctx context.Context) error {
			q, err := h.Executor(ctx, "default")
			require.NoError(t, err)
			assert.IsType(t, new(fsql.Tx), q)

			err = h.InConnTransaction(ctx, "default", conn, func(context.Context) error { return nil })
			require.Error(t, err)

			return insert(ctx, h, 1)
		})
		require.NoError(t, err)
		require.NoError(t, conn.Close())

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 1, count(t, ctx, db))
	})

	t.Run("Panic", func(t *testing.T) {
		t.Parallel()

		ctx, h := setup(t)

		assert.Panics(t, func() {
			_ = h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
				require.NoError(t, insert(ctx, h, 1))
				panic("boom")
			})
		})

		db, err := h.Get(ctx, "default")
		require.NoError(t, err)
		assert.Equal(t, 0, count(t, ctx, db))
	})
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	_, h := setup(t)

	expected := `
		# HELP sqlorm_conns_open The current number of open database aliases.
		# TYPE sqlorm_conns_open gauge
		sqlorm_conns_open 1
	`
	assert.NoError(t, testutil.CollectAndCompare(h, strings.NewReader(expected), "sqlorm_conns_open"))
	assert.Positive(t, testutil.CollectAndCount(h, "sqlorm_sqldb_open"))
}
