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

package sqlite

import (
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/testutil"
)

// setup opens a new SQLite database in a temporary directory.
func setup(t *testing.T) (*Backend, *fsql.DB) {
	t.Helper()

	b := New()

	sqlDB, err := b.Open(&config.Database{Engine: config.EngineSQLite, Name: testutil.SQLitePath(t), ConnMaxAge: -1}, testutil.Logger(t))
	require.NoError(t, err)

	db := fsql.WrapDB(sqlDB, "test", testutil.Logger(t))

	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	return b, db
}

func TestDSN(t *testing.T) {
	t.Parallel()

	b := New()

	for name, tc := range map[string]struct {
		db       *config.Database
		expected string
	}{
		"File": {
			db:       &config.Database{Name: "db.sqlite3"},
			expected: "file:db.sqlite3?_pragma=busy_timeout%285000%29&_pragma=foreign_keys%281%29",
		},
		"Memory": {
			db:       &config.Database{Name: ":memory:"},
			expected: "file::memory:?_pragma=busy_timeout%285000%29&_pragma=foreign_keys%281%29",
		},
		"Query": {
			db:       &config.Database{Name: "file:/tmp/x.db?mode=ro"},
			expected: "file:/tmp/x.db?_pragma=busy_timeout%285000%29&_pragma=foreign_keys%281%29&mode=ro",
		},
		"Options": {
			db: &config.Database{Name: "x.db", Options: map[string]any{"_txlock": "immediate"}},
			expected: "file:x.db?_pragma=busy_timeout%285000%29&_pragma=foreign_keys%281%29" +
				"&_txlock=immediate",
		},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			actual, err := b.DSN(tc.db)
			require.NoError(t, err)
			assert.Equal(t, tc.expected, actual)
		})
	}
}

func TestIntrospection(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, db := setup(t)

	names, err := b.TableNames(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, names)

	id, err := models.NewField("id", "BigAutoField", map[string]any{"primary_key": true})
	require.NoError(t, err)

	title, err := models.NewField("title", "CharField", map[string]any{"max_length": 100})
	require.NoError(t, err)

	body, err := models.NewField("body", "TextField", map[string]any{"null": true})
	require.NoError(t, err)

	query := `CREATE TABLE "articles" (` +
		backends.ColumnDefinition(b, id) + `, ` +
		backends.ColumnDefinition(b, title) + `, ` +
		backends.ColumnDefinition(b, body) + `)`
	assert.Equal(
		t,
		`CREATE TABLE "articles" ("id" integer NOT NULL PRIMARY KEY AUTOINCREMENT, `+
			`"title" varchar(100) NOT NULL, "body" text NULL)`,
		query,
	)

	_, err = db.ExecContext(ctx, query)
	require.NoError(t, err)

	names, err = b.TableNames(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, []string{"articles"}, names)

	columns, err := b.TableColumns(ctx, db, "articles")
	require.NoError(t, err)
	require.Len(t, columns, 3)

	assert.Equal(t, backends.Column{Name: "id", Type: "integer", PrimaryKey: true}, columns[0])
	assert.Equal(t, backends.Column{Name: "title", Type: "varchar(100)"}, columns[1])
	assert.Equal(t, backends.Column{Name: "body", Type: "text", Nullable: true}, columns[2])

	columns, err = b.TableColumns(ctx, db, "missing")
	require.NoError(t, err)
	assert.Empty(t, columns)

	tableSQL, err := b.TableSQL(ctx, db, "articles")
	require.NoError(t, err)
	assert.Contains(t, tableSQL, "AUTOINCREMENT")

	id64, err := b.InsertReturningID(ctx, db, `INSERT INTO "articles" ("title") VALUES (?)`, "id", "first")
	require.NoError(t, err)
	assert.Equal(t, int64(1), id64)

	version, err := b.Version(ctx, db)
	require.NoError(t, err)
	assert.True(t, backends.VersionAtLeast(version, 3, 0, 0), "%s", version)
}

func TestRebuildIntrospection(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, db := setup(t)

	for _, q := range []string{
		`CREATE TABLE "author" ("id" integer NOT NULL PRIMARY KEY, "name" text NOT NULL UNIQUE)`,
		`CREATE TABLE "book" ("id" integer NOT NULL PRIMARY KEY, "author_id" bigint NOT NULL, "title" text, ` +
			`FOREIGN KEY ("author_id") REFERENCES "author" ("id") ON DELETE CASCADE)`,
		`CREATE INDEX "book_title_idx" ON "book" ("title")`,
	} {
		_, err := db.ExecContext(ctx, q)
		require.NoError(t, err)
	}

	fks, err := b.ForeignKeys(ctx, db, "book")
	require.NoError(t, err)

	expected := []backends.ForeignKey{{
		Columns:    []string{"author_id"},
		RefTable:   "author",
		RefColumns: []string{"id"},
		OnUpdate:   "NO ACTION",
		OnDelete:   "CASCADE",
	}}
	assert.Equal(t, expected, fks)

	indexes, err := b.Indexes(ctx, db, "book")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "book_title_idx", indexes[0].Name)
	assert.Equal(t, "c", indexes[0].Origin)
	assert.Equal(t, []string{"title"}, indexes[0].Columns)
	assert.Contains(t, indexes[0].SQL, "CREATE INDEX")

	indexes, err = b.Indexes(ctx, db, "author")
	require.NoError(t, err)
	require.Len(t, indexes, 1)
	assert.Equal(t, "u", indexes[0].Origin)
	assert.True(t, indexes[0].Unique)
	assert.Equal(t, []string{"name"}, indexes[0].Columns)
	assert.Empty(t, indexes[0].SQL)

	refs, err := b.ReferencingTables(ctx, db, "author")
	require.NoError(t, err)
	assert.Equal(t, []string{"book"}, refs)

	refs, err = b.ReferencingTables(ctx, db, "book")
	require.NoError(t, err)
	assert.Empty(t, refs)

	conn, err := db.Conn(ctx)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, conn.Discard())
	})

	disable, _ := b.DisableForeignKeys()
	for _, q := range disable {
		_, err = conn.ExecContext(ctx, q)
		require.NoError(t, err)
	}

	_, err = conn.ExecContext(ctx, `INSERT INTO "book" ("author_id", "title") VALUES (?, ?)`, 42, "Orphan")
	require.NoError(t, err)

	violations, err := b.ForeignKeyViolations(ctx, conn, "author")
	require.NoError(t, err)
	assert.Equal(t, []string{"book row 1 references missing author row"}, violations)
}

func TestErrors(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	b, db := setup(t)

	_, err := db.ExecContext(ctx, `SELECT * FROM "missing"`)
	require.Error(t, err)
	assert.True(t, b.IsUndefinedTable(err))
	assert.False(t, b.IsDuplicateColumn(err))

	_, err = db.ExecContext(ctx, `CREATE TABLE "t" ("a" integer)`)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, b.AddColumnSQL("t", `"a" integer NULL`))
	require.Error(t, err)
	assert.True(t, b.IsDuplicateColumn(err))
	assert.False(t, b.IsUndefinedTable(err))

	assert.False(t, b.IsUndefinedTable(nil))
	assert.False(t, b.IsUndefinedTable(sql.ErrNoRows))
}

func TestFeatures(t *testing.T) {
	t.Parallel()

	b := New()

	assert.Equal(t, backends.Features{}, b.Features("3.24.0"))
	assert.Equal(t, backends.Features{RenameColumn: true}, b.Features("3.25.0"))
	assert.Equal(t, backends.Features{RenameColumn: true, DropColumn: true}, b.Features("3.45.1"))

	_, err := b.AlterColumnTypeSQL("t", "a", "text")
	assert.ErrorIs(t, err, backends.ErrUnsupported)
}

func TestSameType(t *testing.T) {
	t.Parallel()

	b := New()

	assert.True(t, b.SameType("varchar(100)", "VARCHAR(100)"))
	assert.False(t, b.SameType("varchar(100)", "varchar(200)"))
}
