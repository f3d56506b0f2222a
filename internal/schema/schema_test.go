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

package schema

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/backends/sqlite"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/testutil"
)

type Author struct {
	ID   int64
	Name string `sqlorm:"CharField,max_length=100"`
}

type Book struct {
	ID     int64
	Title  string `sqlorm:"CharField,max_length=200,db_index"`
	Author int64  `sqlorm:"ForeignKey,to=Author,on_delete=CASCADE"`
	Price  string `sqlorm:"DecimalField,max_digits=8,decimal_places=2,null"`
}

// setup returns a Schema for a new SQLite database with registered Author and Book models.
func setup(t *testing.T) (context.Context, *Schema, *conns.Handler) {
	t.Helper()

	ctx := testutil.Ctx(t)
	l := testutil.Logger(t)

	settings, err := config.New(&config.Database{
		Engine:     config.EngineSQLite,
		Name:       testutil.SQLitePath(t),
		ConnMaxAge: -1,
	}, nil)
	require.NoError(t, err)

	h := conns.New(settings, l)
	t.Cleanup(h.Shutdown)

	r := models.NewRegistry(l)

	for _, v := range []any{new(Author), new(Book)} {
		m, err := models.FromStruct(v, nil)
		require.NoError(t, err)
		require.NoError(t, r.Register(m))
	}

	return ctx, New(h, r, l), h
}

// model returns the registered model.
func model(t *testing.T, s *Schema, name string) *models.Model {
	t.Helper()

	m, ok := s.r.Get(name)
	require.True(t, ok)

	return m
}

// exec executes the query on the default database.
func exec(t *testing.T, ctx context.Context, h *conns.Handler, query string, args ...any) {
	t.Helper()

	db, err := h.Get(ctx, config.DefaultAlias)
	require.NoError(t, err)

	_, err = db.ExecContext(ctx, query, args...)
	require.NoError(t, err)
}

// query returns all rows of the query on the default database.
func query(t *testing.T, ctx context.Context, h *conns.Handler, query string, args ...any) [][]any {
	t.Helper()

	db, err := h.Get(ctx, config.DefaultAlias)
	require.NoError(t, err)

	rows, err := db.QueryContext(ctx, query, args...)
	require.NoError(t, err)

	defer rows.Close()

	columns, err := rows.Columns()
	require.NoError(t, err)

	var res [][]any

	for rows.Next() {
		row := make([]any, len(columns))
		dest := make([]any, len(columns))

		for i := range row {
			dest[i] = &row[i]
		}

		require.NoError(t, rows.Scan(dest...))
		res = append(res, row)
	}

	require.NoError(t, rows.Err())

	return res
}

func TestCreateTableSQL(t *testing.T) {
	t.Parallel()

	_, s, _ := setup(t)

	actual := CreateTableSQL(sqlite.New(), s.r, model(t, s, "Book"))
	expected := []string{
		`CREATE TABLE "sqlorm_app_book" (` + "\n" +
			`    "id" integer NOT NULL PRIMARY KEY AUTOINCREMENT,` + "\n" +
			`    "title" varchar(200) NOT NULL,` + "\n" +
			`    "author_id" bigint NOT NULL,` + "\n" +
			`    "price" decimal NULL,` + "\n" +
			`    FOREIGN KEY ("author_id") REFERENCES "sqlorm_app_author" ("id") ON DELETE CASCADE` + "\n" +
			`)`,
		`CREATE INDEX "sqlorm_app_book_title_idx" ON "sqlorm_app_book" ("title")`,
		`CREATE INDEX "sqlorm_app_book_author_id_idx" ON "sqlorm_app_book" ("author_id")`,
	}
	assert.Equal(t, expected, actual)
}

func TestCreateTable(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	book := model(t, s, "Book")

	exists, err := s.ModelTableExists(ctx, book)
	require.NoError(t, err)
	assert.False(t, exists)

	created := s.CreateAllTables(ctx)
	assert.Equal(t, []string{"sqlorm_app_author", "sqlorm_app_book"}, created)

	exists, err = s.ModelTableExists(ctx, book)
	require.NoError(t, err)
	assert.True(t, exists)

	assert.Empty(t, s.CreateAllTables(ctx))

	ok, err := s.CreateTable(ctx, book)
	require.NoError(t, err)
	assert.False(t, ok)

	exec(t, ctx, h, `INSERT INTO "sqlorm_app_author" ("name") VALUES (?)`, "Tolstoy")
	exec(t, ctx, h, `INSERT INTO "sqlorm_app_book" ("title", "author_id") VALUES (?, ?)`, "War and Peace", 1)

	changes, err := s.MigrateAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, changes)

	rows := query(t, ctx, h, `SELECT "title" FROM "sqlorm_app_book"`)
	assert.Equal(t, [][]any{{"War and Peace"}}, rows)

	_, err = s.DropTable(ctx, book, false)
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeModel))
	assert.Contains(t, err.Error(), "confirm=true")

	dropped, err := s.DropTable(ctx, book, true)
	require.NoError(t, err)
	assert.True(t, dropped)

	dropped, err = s.DropTable(ctx, book, true)
	require.NoError(t, err)
	assert.False(t, dropped)
}

func TestMigrate(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	author := model(t, s, "Author")

	changes, err := s.Migrate(ctx, author)
	require.NoError(t, err)
	assert.Equal(t, []string{"created table sqlorm_app_author"}, changes)

	exec(t, ctx, h, `INSERT INTO "sqlorm_app_author" ("name") VALUES (?)`, "Tolstoy")

	changes, err = s.Migrate(ctx, author)
	require.NoError(t, err)
	assert.Empty(t, changes)

	bio, err := models.NewField("bio", "TextField", map[string]any{"null": true})
	require.NoError(t, err)

	country, err := models.NewField("country", "CharField", map[string]any{"max_length": 2, "default": "RU"})
	require.NoError(t, err)

	rating, err := models.NewField("rating", "IntegerField", nil)
	require.NoError(t, err)

	extended, err := models.New("Author", append(author.Fields, bio, country, rating), nil)
	require.NoError(t, err)

	changes, err = s.Migrate(ctx, extended)
	require.NoError(t, err)
	assert.Equal(t, []string{"added column bio", "added column country", "added column rating"}, changes)

	rows := query(t, ctx, h, `SELECT "name", "bio", "country", "rating" FROM "sqlorm_app_author"`)
	assert.Equal(t, [][]any{{"Tolstoy", nil, "RU", nil}}, rows)

	changes, err = s.Migrate(ctx, extended)
	require.NoError(t, err)
	assert.Empty(t, changes)
}

func TestAddColumn(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	exec(t, ctx, h, `CREATE TABLE "t" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" VARCHAR(100) NOT NULL)`)
	exec(t, ctx, h, `INSERT INTO "t" ("name") VALUES (?)`, "Original Row")

	require.NoError(t, s.AddColumn(ctx, "default", "t", "status", "VARCHAR(50)", false, "'pending'"))
	require.NoError(t, s.AddColumn(ctx, "default", "t", "description", "TEXT", true, ""))
	require.NoError(t, s.AddColumn(ctx, "default", "t", "count", "INTEGER", false, "0"))

	err := s.AddColumn(ctx, "default", "t", "broken", "INTEGER", false, "")
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeMigration))

	rows := query(t, ctx, h, `SELECT "name", "status", "description", "count" FROM "t"`)
	assert.Equal(t, [][]any{{"Original Row", "pending", nil, int64(0)}}, rows)

	added, err := s.SafeAddColumn(ctx, "default", "t", "status", "VARCHAR(50)", true, "")
	require.NoError(t, err)
	assert.False(t, added)

	added, err = s.SafeAddColumn(ctx, "default", "t", "notes", "TEXT", true, "")
	require.NoError(t, err)
	assert.True(t, added)

	exists, err := s.ColumnExists(ctx, "default", "t", "notes")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = s.ColumnExists(ctx, "default", "t", "missing")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestColumnChanges(t *testing.T) {
	t.Parallel()

	for name, version := range map[string]string{
		"Current": "",
		"Old":     "3.24.0",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, s, h := setup(t)
			s.version = version

			exec(t, ctx, h, `CREATE TABLE "t" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "old_name" VARCHAR(100), "amount" VARCHAR(50), "junk" TEXT)`)
			exec(t, ctx, h, `INSERT INTO "t" ("old_name", "amount", "junk") VALUES (?, ?, ?)`, "Test Value", "100", "x")
			exec(t, ctx, h, `INSERT INTO "t" ("old_name", "amount", "junk") VALUES (?, ?, ?)`, "Other", "200", "y")

			require.NoError(t, s.RenameColumn(ctx, "default", "t", "old_name", "new_name"))
			require.NoError(t, s.ChangeColumnType(ctx, "default", "t", "amount", "INTEGER"))
			require.NoError(t, s.DropColumn(ctx, "default", "t", "junk"))

			rows := query(t, ctx, h, `SELECT * FROM "t" ORDER BY "id"`)
			assert.Equal(t, [][]any{{int64(1), "Test Value", int64(100)}, {int64(2), "Other", int64(200)}}, rows)

			columns, err := s.GetTableColumns(ctx, "default", "t")
			require.NoError(t, err)
			require.Len(t, columns, 3)
			assert.Equal(t, "new_name", columns[1].Name)
			assert.Equal(t, "INTEGER", columns[2].Type)

			// AUTOINCREMENT is kept
			exec(t, ctx, h, `DELETE FROM "t" WHERE "id" = 2`)
			exec(t, ctx, h, `INSERT INTO "t" ("new_name", "amount") VALUES (?, ?)`, "Third", 300)

			rows = query(t, ctx, h, `SELECT "id" FROM "t" WHERE "new_name" = ?`, "Third")
			assert.Equal(t, [][]any{{int64(3)}}, rows)
		})
	}
}

// foreignKeys returns foreign keys of the table.
func foreignKeys(t *testing.T, ctx context.Context, h *conns.Handler, table string) []backends.ForeignKey {
	t.Helper()

	db, err := h.Get(ctx, config.DefaultAlias)
	require.NoError(t, err)

	res, err := sqlite.New().ForeignKeys(ctx, db, table)
	require.NoError(t, err)

	return res
}

// indexes returns columns of the table's indexes by index name.
func indexes(t *testing.T, ctx context.Context, h *conns.Handler, table string) map[string][]string {
	t.Helper()

	db, err := h.Get(ctx, config.DefaultAlias)
	require.NoError(t, err)

	list, err := sqlite.New().Indexes(ctx, db, table)
	require.NoError(t, err)

	res := make(map[string][]string, len(list))
	for _, idx := range list {
		res[idx.Name] = idx.Columns
	}

	return res
}

func TestRecreateReferencedTables(t *testing.T) {
	t.Parallel()

	for name, version := range map[string]string{
		"Current": "",
		"Old":     "3.24.0",
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			ctx, s, h := setup(t)
			s.version = version

			require.Len(t, s.CreateAllTables(ctx), 2)
			exec(t, ctx, h, `CREATE TABLE "tag" (`+
				`"id" integer NOT NULL PRIMARY KEY, "slug" varchar(50) NOT NULL UNIQUE, `+
				`"book_id" bigint NULL REFERENCES "sqlorm_app_book" ("id") ON DELETE SET NULL)`)

			exec(t, ctx, h, `INSERT INTO "sqlorm_app_author" ("name") VALUES (?)`, "Herbert")
			exec(t, ctx, h, `INSERT INTO "sqlorm_app_book" ("title", "author_id", "price") VALUES (?, ?, ?)`, "Dune", 1, "9.99")
			exec(t, ctx, h, `INSERT INTO "sqlorm_app_book" ("title", "author_id", "price") VALUES (?, ?, ?)`, "Messiah", 1, "7.50")
			exec(t, ctx, h, `INSERT INTO "tag" ("slug", "book_id") VALUES (?, ?)`, "scifi", 1)

			bookFK := backends.ForeignKey{
				Columns:    []string{"author_id"},
				RefTable:   "sqlorm_app_author",
				RefColumns: []string{"id"},
				OnUpdate:   "NO ACTION",
				OnDelete:   "CASCADE",
			}

			// parent table
			require.NoError(t, s.ChangeColumnType(ctx, "default", "sqlorm_app_author", "name", "text"))

			rows := query(t, ctx, h, `SELECT "title", "author_id" FROM "sqlorm_app_book" ORDER BY "id"`)
			assert.Equal(t, [][]any{{"Dune", int64(1)}, {"Messiah", int64(1)}}, rows)
			assert.Equal(t, []backends.ForeignKey{bookFK}, foreignKeys(t, ctx, h, "sqlorm_app_book"))

			// table that is both a child and a parent
			require.NoError(t, s.ChangeColumnType(ctx, "default", "sqlorm_app_book", "price", "real"))
			require.NoError(t, s.RenameColumn(ctx, "default", "sqlorm_app_book", "title", "name"))
			require.NoError(t, s.DropColumn(ctx, "default", "sqlorm_app_book", "price"))

			rows = query(t, ctx, h, `SELECT * FROM "sqlorm_app_book" ORDER BY "id"`)
			assert.Equal(t, [][]any{{int64(1), "Dune", int64(1)}, {int64(2), "Messiah", int64(1)}}, rows)

			assert.Equal(t, []backends.ForeignKey{bookFK}, foreignKeys(t, ctx, h, "sqlorm_app_book"))
			expectedIndexes := map[string][]string{
				"sqlorm_app_book_title_idx":     {"name"},
				"sqlorm_app_book_author_id_idx": {"author_id"},
			}
			assert.Equal(t, expectedIndexes, indexes(t, ctx, h, "sqlorm_app_book"))

			tagFK := backends.ForeignKey{
				Columns:    []string{"book_id"},
				RefTable:   "sqlorm_app_book",
				RefColumns: []string{"id"},
				OnUpdate:   "NO ACTION",
				OnDelete:   "SET NULL",
			}
			assert.Equal(t, []backends.ForeignKey{tagFK}, foreignKeys(t, ctx, h, "tag"))

			// unique constraint of a child table is kept
			require.NoError(t, s.ChangeColumnType(ctx, "default", "tag", "slug", "varchar(100)"))
			assert.Equal(t, []backends.ForeignKey{tagFK}, foreignKeys(t, ctx, h, "tag"))

			db, err := h.Get(ctx, config.DefaultAlias)
			require.NoError(t, err)

			_, err = db.ExecContext(ctx, `INSERT INTO "tag" ("slug") VALUES (?)`, "scifi")
			assert.Error(t, err)

			_, err = db.ExecContext(ctx, `INSERT INTO "sqlorm_app_book" ("name", "author_id") VALUES (?, ?)`, "Orphan", 999)
			assert.Error(t, err)

			// cascades still work
			exec(t, ctx, h, `DELETE FROM "sqlorm_app_author" WHERE "id" = 1`)
			assert.Empty(t, query(t, ctx, h, `SELECT * FROM "sqlorm_app_book"`))
			assert.Equal(t, [][]any{{"scifi", nil}}, query(t, ctx, h, `SELECT "slug", "book_id" FROM "tag"`))
		})
	}
}

func TestRecreateInTransaction(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	require.Len(t, s.CreateAllTables(ctx), 2)
	exec(t, ctx, h, `INSERT INTO "sqlorm_app_author" ("name") VALUES (?)`, "Herbert")
	exec(t, ctx, h, `INSERT INTO "sqlorm_app_book" ("title", "author_id") VALUES (?, ?)`, "Dune", 1)

	err := h.InTransaction(ctx, "default", true, func(ctx context.Context) error {
		err := s.ChangeColumnType(ctx, "default", "sqlorm_app_author", "name", "text")
		require.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeMigration), "%v", err)
		assert.Contains(t, err.Error(), "sqlorm_app_book")

		return s.ChangeColumnType(ctx, "default", "sqlorm_app_book", "price", "real")
	})
	require.NoError(t, err)

	columns, err := s.GetTableColumns(ctx, "default", "sqlorm_app_book")
	require.NoError(t, err)
	require.Len(t, columns, 4)
	assert.Equal(t, "real", columns[3].Type)

	assert.Len(t, foreignKeys(t, ctx, h, "sqlorm_app_book"), 1)
	assert.Len(t, indexes(t, ctx, h, "sqlorm_app_book"), 2)

	rows := query(t, ctx, h, `SELECT "title" FROM "sqlorm_app_book"`)
	assert.Equal(t, [][]any{{"Dune"}}, rows)
}

func TestBackupRestore(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	exec(t, ctx, h, `CREATE TABLE "backup_test" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "data" VARCHAR(100))`)
	exec(t, ctx, h, `INSERT INTO "backup_test" ("data") VALUES (?)`, "Important Data")

	err := s.RestoreTable(ctx, "default", "backup_test", "", false)
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeMigration))

	backup, err := s.BackupTable(ctx, "default", "backup_test", "")
	require.NoError(t, err)
	assert.Equal(t, "backup_test_backup", backup)

	rows := query(t, ctx, h, `SELECT * FROM "backup_test_backup"`)
	assert.Equal(t, [][]any{{int64(1), "Important Data"}}, rows)

	// existing backup is replaced
	_, err = s.BackupTable(ctx, "default", "backup_test", "")
	require.NoError(t, err)

	exec(t, ctx, h, `DELETE FROM "backup_test"`)
	require.NoError(t, s.RestoreTable(ctx, "default", "backup_test", "", false))

	rows = query(t, ctx, h, `SELECT * FROM "backup_test"`)
	assert.Equal(t, [][]any{{int64(1), "Important Data"}}, rows)

	exec(t, ctx, h, `DROP TABLE "backup_test"`)
	require.NoError(t, s.RestoreTable(ctx, "default", "backup_test", "", true))

	rows = query(t, ctx, h, `SELECT * FROM "backup_test"`)
	assert.Equal(t, [][]any{{int64(1), "Important Data"}}, rows)

	exists, err := s.TableExists(ctx, "default", "backup_test_backup")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRecreateTable(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	exec(t, ctx, h, `CREATE TABLE "recreate_test" ("id" INTEGER PRIMARY KEY AUTOINCREMENT, "name" VARCHAR(100), "old_field" VARCHAR(50))`)
	exec(t, ctx, h, `INSERT INTO "recreate_test" ("name", "old_field") VALUES (?, ?)`, "Test 1", "old_value")
	exec(t, ctx, h, `INSERT INTO "recreate_test" ("name", "old_field") VALUES (?, ?)`, "Test 2", "old_value_2")

	newSchema := `CREATE TABLE "recreate_test" (
		"id" INTEGER PRIMARY KEY AUTOINCREMENT,
		"name" VARCHAR(100),
		"new_field" VARCHAR(50) DEFAULT 'default_value'
	)`
	require.NoError(t, s.RecreateTable(ctx, "default", "recreate_test", newSchema, []string{"id", "name"}))

	rows := query(t, ctx, h, `SELECT "id", "name", "new_field" FROM "recreate_test" ORDER BY "id"`)
	expected := [][]any{
		{int64(1), "Test 1", "default_value"},
		{int64(2), "Test 2", "default_value"},
	}
	assert.Equal(t, expected, rows)

	names, err := s.TableNames(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, []string{"recreate_test"}, names)
}

func TestSchemaDiff(t *testing.T) {
	t.Parallel()

	ctx, s, h := setup(t)

	exec(t, ctx, h, `CREATE TABLE "sync_test" ("id" integer NOT NULL PRIMARY KEY AUTOINCREMENT, "name" text NOT NULL, "legacy" text NULL)`)
	exec(t, ctx, h, `INSERT INTO "sync_test" ("name", "legacy") VALUES (?, ?)`, "Original", "old")

	name, err := models.NewField("name", "CharField", map[string]any{"max_length": 100})
	require.NoError(t, err)

	status, err := models.NewField("status", "CharField", map[string]any{"max_length": 50, "default": "active"})
	require.NoError(t, err)

	m, err := models.New("SyncTest", []*models.Field{name, status}, &models.Options{Table: "sync_test"})
	require.NoError(t, err)

	diff, err := s.GetSchemaDiff(ctx, m)
	require.NoError(t, err)

	expected := &Diff{
		Table:       "sync_test",
		TableExists: true,
		MissingInDB: []string{"status"},
		ExtraInDB:   []string{"legacy"},
		TypeMismatches: []TypeMismatch{
			{Column: "name", Expected: "varchar(100)", Actual: "text"},
		},
	}
	assert.Equal(t, expected, diff)
	assert.False(t, diff.Empty())

	changes, err := s.SyncSchema(ctx, m, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"added column status", "dropped column legacy"}, changes)

	rows := query(t, ctx, h, `SELECT * FROM "sync_test"`)
	assert.Equal(t, [][]any{{int64(1), "Original", "active"}}, rows)

	missing, err := models.New("Missing", []*models.Field{name}, nil)
	require.NoError(t, err)

	diff, err = s.GetSchemaDiff(ctx, missing)
	require.NoError(t, err)
	assert.False(t, diff.TableExists)
	assert.Equal(t, []string{"id", "name"}, diff.MissingInDB)
}

func TestInspect(t *testing.T) {
	t.Parallel()

	ctx, s, _ := setup(t)

	s.CreateAllTables(ctx)

	ms, err := s.Inspect(ctx, "default", nil)
	require.NoError(t, err)
	require.Len(t, ms, 2)

	book := ms[1]
	assert.Equal(t, "Book", book.Name)
	assert.Equal(t, "sqlorm_app_book", book.Table)
	assert.Equal(t, []string{"id", "title", "author_id", "price"}, book.Columns())
	assert.Equal(t, models.AutoField, book.Field("id").Kind)
	assert.Equal(t, models.CharField, book.Field("title").Kind)
	assert.Equal(t, 200, book.Field("title").MaxLength)
	assert.Equal(t, models.BigIntegerField, book.Field("author_id").Kind)
	assert.Equal(t, models.DecimalField, book.Field("price").Kind)
	assert.True(t, book.Field("price").Null)

	src, err := RenderGo("models", ms)
	require.NoError(t, err)

	expected := `// Code generated by sqlorm inspectdb; DO NOT EDIT.

package models

// Author is generated from table "sqlorm_app_author".
type Author struct {
	ID   int64  ` + "`" + `sqlorm:"AutoField,primary_key"` + "`" + `
	Name string ` + "`" + `sqlorm:"CharField,max_length=100"` + "`" + `
}

// Book is generated from table "sqlorm_app_book".
type Book struct {
	ID       int64   ` + "`" + `sqlorm:"AutoField,primary_key"` + "`" + `
	Title    string  ` + "`" + `sqlorm:"CharField,max_length=200"` + "`" + `
	AuthorID int64   ` + "`" + `sqlorm:"BigIntegerField"` + "`" + `
	Price    *string ` + "`" + `sqlorm:"DecimalField,max_digits=10,decimal_places=5,null"` + "`" + `
}
`
	assert.Equal(t, expected, string(src))

	_, err = s.Inspect(ctx, "default", []string{"missing"})
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeModel))
}
