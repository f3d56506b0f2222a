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
	"database/sql"
	"errors"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	_ "modernc.org/sqlite"
)

func setup(t *testing.T) *DB {
	t.Helper()

	sqlDB, err := sql.Open("sqlite", "file:"+t.TempDir()+"/test.sqlite3")
	require.NoError(t, err)

	db := WrapDB(sqlDB, "test", zaptest.NewLogger(t))
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return db
}

func TestDB(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	db := setup(t)

	require.NoError(t, db.PingContext(ctx))
	assert.Equal(t, "test", db.Name())
	assert.NotNil(t, db.SQLDB())

	_, err := db.ExecContext(ctx, `CREATE TABLE t (id INTEGER PRIMARY KEY, v TEXT)`)
	require.NoError(t, err)

	res, err := db.ExecContext(ctx, `INSERT INTO t (v) VALUES (?), (?)`, "a", "b")
	require.NoError(t, err)

	n, err := res.RowsAffected()
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var count int
	require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&count))
	assert.Equal(t, 2, count)

	rows, err := db.QueryContext(ctx, `SELECT v FROM t ORDER BY id`)
	require.NoError(t, err)

	var vs []string

	for rows.Next() {
		var v string
		require.NoError(t, rows.Scan(&v))
		vs = append(vs, v)
	}

	require.NoError(t, rows.Err())
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"a", "b"}, vs)
}

func TestInTransaction(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	db := setup(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)

	count := func() int {
		var n int
		require.NoError(t, db.QueryRowContext(ctx, `SELECT COUNT(*) FROM t`).Scan(&n))
		return n
	}

	t.Run("Commit", func(t *testing.T) {
		err := db.InTransaction(ctx, func(tx *Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('a')`)
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, count())
	})

	t.Run("Rollback", func(t *testing.T) {
		expected := errors.New("boom")

		err := db.InTransaction(ctx, func(tx *Tx) error {
			_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('b')`)
			require.NoError(t, err)

			return expected
		})
		require.ErrorIs(t, err, expected)
		assert.Equal(t, 1, count())
	})

	t.Run("Panic", func(t *testing.T) {
		assert.Panics(t, func() {
			_ = db.InTransaction(ctx, func(tx *Tx) error {
				_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('c')`)
				require.NoError(t, err)

				panic("boom")
			})
		})
		assert.Equal(t, 1, count())
	})
}

func TestConn(t *testing.T) {
	t.Parallel()

	ctx := t.Context()
	db := setup(t)

	_, err := db.ExecContext(ctx, `CREATE TABLE t (v TEXT)`)
	require.NoError(t, err)

	foreignKeys := func(q Querier) int {
		var v int
		require.NoError(t, q.QueryRowContext(ctx, `PRAGMA foreign_keys`).Scan(&v))
		return v
	}

	c, err := db.Conn(ctx)
	require.NoError(t, err)

	_, err = c.ExecContext(ctx, `PRAGMA foreign_keys = ON`)
	require.NoError(t, err)
	assert.Equal(t, 1, foreignKeys(c))

	err = c.InTransaction(ctx, func(tx *Tx) error {
		_, err := tx.ExecContext(ctx, `INSERT INTO t VALUES ('a')`)
		return err
	})
	require.NoError(t, err)

	rows, err := c.QueryContext(ctx, `SELECT v FROM t`)
	require.NoError(t, err)
	require.True(t, rows.Next())
	require.NoError(t, rows.Close())

	require.NoError(t, c.Discard())
	assert.Equal(t, 0, db.SQLDB().Stats().OpenConnections)

	// settings of the discarded connection are gone
	assert.Equal(t, 0, foreignKeys(db))

	c, err = db.Conn(ctx)
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.Equal(t, 1, db.SQLDB().Stats().Idle)
}

func TestMetrics(t *testing.T) {
	t.Parallel()

	db := setup(t)
	require.NoError(t, db.PingContext(t.Context()))

	expected := `
		# HELP sqlorm_sqldb_open The number of established connections both in use and idle.
		# TYPE sqlorm_sqldb_open gauge
		sqlorm_sqldb_open{name="test"} 1
	`

	err := testutil.CollectAndCompare(db, strings.NewReader(expected), "sqlorm_sqldb_open")
	assert.NoError(t, err)
}
