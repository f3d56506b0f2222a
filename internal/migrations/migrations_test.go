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

package migrations

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/sqlorm/internal/backends/hana"
	"github.com/FerretDB/sqlorm/internal/backends/sqlite"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/schema"
	"github.com/FerretDB/sqlorm/internal/util/testutil"
)

// field returns a new field or fails the test.
func field(t *testing.T, name, kind string, opts map[string]any) *models.Field {
	t.Helper()

	f, err := models.NewField(name, kind, opts)
	require.NoError(t, err)

	return f
}

// register registers a new dynamic model.
func register(t *testing.T, r *models.Registry, name string, fields ...*models.Field) {
	t.Helper()

	m, err := models.New(name, fields, nil)
	require.NoError(t, err)
	require.NoError(t, r.Register(m))
}

// setup returns a Migrator for a new SQLite database and a new migrations directory.
func setup(t *testing.T) (context.Context, *Migrator, *models.Registry, *schema.Schema) {
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

	m, err := New(h, r, filepath.Join(t.TempDir(), "migrations"), l)
	require.NoError(t, err)

	m.now = func() time.Time {
		return time.Date(2024, 3, 18, 14, 39, 0, 0, time.UTC)
	}

	return ctx, m, r, schema.New(h, r, l)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := New(nil, nil, "", testutil.Logger(t))
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeConfiguration))

	dir := filepath.Join(t.TempDir(), "a", "b")
	m, err := New(nil, nil, dir, testutil.Logger(t))
	require.NoError(t, err)
	assert.Equal(t, dir, m.Dir())
	assert.DirExists(t, dir)
}

func TestMigrations(t *testing.T) {
	t.Parallel()

	ctx, m, r, s := setup(t)

	statuses, err := m.ShowMigrations(ctx)
	require.NoError(t, err)
	assert.Empty(t, statuses)

	applied, err := m.Migrate(ctx)
	require.NoError(t, err)
	assert.Empty(t, applied)

	register(t, r, "Author", field(t, "name", "CharField", map[string]any{"max_length": 100}))
	register(t, r, "Book",
		field(t, "title", "CharField", map[string]any{"max_length": 200}),
		field(t, "author", "ForeignKey", map[string]any{"to": "Author", "on_delete": "CASCADE"}),
	)

	t.Run("Initial", func(t *testing.T) {
		p, err := m.MakeMigrations("", false)
		require.NoError(t, err)

		assert.True(t, p.Written)
		assert.Equal(t, int64(1), p.Version)
		assert.Equal(t, "00001_initial.sql", p.File)
		assert.Equal(t, []string{"Create model Author", "Create model Book"}, p.Operations)
		assert.Equal(t, []string{`DROP TABLE "sqlorm_app_book"`, `DROP TABLE "sqlorm_app_author"`}, p.Down)

		b, err := os.ReadFile(filepath.Join(m.Dir(), p.File))
		require.NoError(t, err)
		assert.Equal(t, p.Content, string(b))
		assert.Contains(t, p.Content, "-- +goose Up\nCREATE TABLE \"sqlorm_app_author\" (\n")
		assert.Contains(t, p.Content, "-- +goose Down\nDROP TABLE \"sqlorm_app_book\";\n")
		assert.FileExists(t, filepath.Join(m.Dir(), StateFile))

		p, err = m.MakeMigrations("", false)
		require.NoError(t, err)
		assert.False(t, p.Changed())
		assert.False(t, p.Written)
	})

	t.Run("Migrate", func(t *testing.T) {
		applied, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"00001_initial.sql"}, applied)

		exists, err := s.TableExists(ctx, config.DefaultAlias, "sqlorm_app_book")
		require.NoError(t, err)
		assert.True(t, exists)

		applied, err = m.Migrate(ctx)
		require.NoError(t, err)
		assert.Empty(t, applied)

		statuses, err := m.ShowMigrations(ctx)
		require.NoError(t, err)
		require.Len(t, statuses, 1)
		assert.Equal(t, int64(1), statuses[0].Version)
		assert.Equal(t, "00001_initial.sql", statuses[0].File)
		assert.True(t, statuses[0].Applied)
	})

	t.Run("AddField", func(t *testing.T) {
		register(t, r, "Author",
			field(t, "name", "CharField", map[string]any{"max_length": 100}),
			field(t, "bio", "TextField", map[string]any{"null": true}),
		)

		p, err := m.MakeMigrations("Add bio", true)
		require.NoError(t, err)

		assert.False(t, p.Written)
		assert.Equal(t, "00002_add_bio.sql", p.File)
		assert.Equal(t, []string{"Add field bio to Author"}, p.Operations)
		assert.Equal(t, []string{`ALTER TABLE "sqlorm_app_author" ADD COLUMN "bio" text NULL`}, p.Up)
		assert.Equal(t, []string{`ALTER TABLE "sqlorm_app_author" DROP COLUMN "bio"`}, p.Down)
		assert.Contains(t, p.Diff, "--- "+StateFile)
		assert.Contains(t, p.Diff, `+          "name": "bio",`)
		assert.NoFileExists(t, filepath.Join(m.Dir(), p.File))

		p, err = m.MakeMigrations("Add bio", false)
		require.NoError(t, err)
		assert.True(t, p.Written)

		statuses, err := m.ShowMigrations(ctx)
		require.NoError(t, err)
		require.Len(t, statuses, 2)
		assert.False(t, statuses[1].Applied)

		applied, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"00002_add_bio.sql"}, applied)

		exists, err := s.ColumnExists(ctx, config.DefaultAlias, "sqlorm_app_author", "bio")
		require.NoError(t, err)
		assert.True(t, exists)
	})

	t.Run("DeleteModel", func(t *testing.T) {
		require.True(t, r.Unregister("Book"))

		p, err := m.MakeMigrations("", false)
		require.NoError(t, err)

		assert.Equal(t, "00003_auto_20240318_1439.sql", p.File)
		assert.Equal(t, []string{"Delete model Book"}, p.Operations)
		assert.Equal(t, []string{`DROP TABLE "sqlorm_app_book"`}, p.Up)
		require.Len(t, p.Down, 2)
		assert.Contains(t, p.Down[0], `CREATE TABLE "sqlorm_app_book"`)
		assert.Contains(t, p.Down[0], `REFERENCES "sqlorm_app_author" ("id") ON DELETE CASCADE`)

		applied, err := m.Migrate(ctx)
		require.NoError(t, err)
		assert.Equal(t, []string{"00003_auto_20240318_1439.sql"}, applied)

		exists, err := s.TableExists(ctx, config.DefaultAlias, "sqlorm_app_book")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestInvalidState(t *testing.T) {
	t.Parallel()

	_, m, _, _ := setup(t)

	require.NoError(t, os.WriteFile(filepath.Join(m.Dir(), StateFile), []byte("{"), 0o666))

	_, err := m.MakeMigrations("", true)
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeMigration))
}

func TestPlan(t *testing.T) {
	t.Parallel()

	l := testutil.Logger(t)
	b := sqlite.New()
	r := models.NewRegistry(l)

	prev, err := models.New("Item", []*models.Field{
		field(t, "name", "CharField", map[string]any{"max_length": 10}),
		field(t, "count", "IntegerField", nil),
	}, nil)
	require.NoError(t, err)

	current, err := models.New("Item", []*models.Field{
		field(t, "name", "CharField", map[string]any{"max_length": 20}),
		field(t, "price", "FloatField", map[string]any{"default": 1.5}),
		field(t, "qty", "IntegerField", nil),
	}, &models.Options{Table: "items"})
	require.NoError(t, err)

	p := new(Plan)
	require.NoError(t, plan(p, b, r, l, map[string]*models.Model{"Item": prev}, []*models.Model{current}))

	expected := []string{
		"Rename table sqlorm_app_item to items",
		"Alter field name on Item",
		"Add field price to Item",
		"Add field qty to Item",
		"Remove field count from Item",
	}
	assert.Equal(t, expected, p.Operations)

	expected = []string{
		`ALTER TABLE "sqlorm_app_item" RENAME TO "items"`,
		"-- Changing type of column name to varchar(20) is not supported by SQLite; use ChangeColumnType or RecreateTable",
		`ALTER TABLE "items" ADD COLUMN "price" real DEFAULT 1.5 NOT NULL`,
		`ALTER TABLE "items" ADD COLUMN "qty" integer NULL`,
		`ALTER TABLE "items" DROP COLUMN "count"`,
	}
	assert.Equal(t, expected, p.Up)

	expected = []string{
		`ALTER TABLE "items" ADD COLUMN "count" integer NULL`,
		`ALTER TABLE "items" DROP COLUMN "qty"`,
		`ALTER TABLE "items" DROP COLUMN "price"`,
		"-- Changing type of column name to varchar(10) is not supported by SQLite; use ChangeColumnType or RecreateTable",
		`ALTER TABLE "items" RENAME TO "sqlorm_app_item"`,
	}
	assert.Equal(t, expected, p.Down)
}

func TestOrderByDependencies(t *testing.T) {
	t.Parallel()

	newModel := func(name, to string) *models.Model {
		var fields []*models.Field
		if to != "" {
			fields = append(fields, field(t, models.SnakeCase(to), "ForeignKey", map[string]any{"to": to, "on_delete": "CASCADE"}))
		}

		m, err := models.New(name, fields, nil)
		require.NoError(t, err)

		return m
	}

	comment := newModel("Comment", "Post")
	post := newModel("Post", "User")
	user := newModel("User", "")
	self := newModel("Node", "Node")

	actual := orderByDependencies([]*models.Model{comment, post, self, user})

	names := make([]string, len(actual))
	for i, m := range actual {
		names[i] = m.Name
	}

	assert.Equal(t, []string{"Node", "User", "Post", "Comment"}, names)
}

func TestDialect(t *testing.T) {
	t.Parallel()

	d, err := dialect(sqlite.New())
	require.NoError(t, err)
	assert.EqualValues(t, "sqlite3", d)

	_, err = dialect(hana.New())
	assert.True(t, ormerrors.ErrorCodeIs(err, ormerrors.ErrorCodeMigration))
	assert.Contains(t, err.Error(), "SAP HANA")
}

func TestSanitize(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "add_bio", sanitize(" Add bio "))
	assert.Equal(t, "add_user_email", sanitize("add-user.email"))
	assert.Equal(t, "migration", sanitize(""))
}

func TestPlanInvalidDeletedModel(t *testing.T) {
	t.Parallel()

	l := testutil.Logger(t)

	gone, err := models.New("Gone", []*models.Field{
		field(t, "name", "CharField", map[string]any{"max_length": 10}),
	}, nil)
	require.NoError(t, err)

	gone.Table = "not a table"

	err = plan(new(Plan), sqlite.New(), models.NewRegistry(l), l, map[string]*models.Model{"Gone": gone}, nil)
	assert.ErrorIs(t, err, ormerrors.ErrModel)
}
