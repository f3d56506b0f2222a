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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm"
	"github.com/FerretDB/sqlorm/internal/util/testutil"
	"github.com/FerretDB/sqlorm/internal/util/version"
)

const modelsYAML = `
models:
  - name: Author
    fields:
      - name: name
        type: CharField
        options:
          max_length: 100
  - name: Book
    fields:
      - name: title
        type: CharField
        options:
          max_length: 200
      - name: author
        type: ForeignKey
        options:
          to: Author
          on_delete: CASCADE
`

// setup returns a configured instance with models loaded from a temporary file.
func setup(t *testing.T, withModels bool) (*sqlorm.ORM, *setupOpts) {
	t.Helper()

	dir := t.TempDir()

	opts := &setupOpts{
		databaseURL:   "sqlite:///" + filepath.Join(dir, "db.sqlite3"),
		migrationsDir: filepath.Join(dir, "migrations"),
	}

	if withModels {
		opts.models = filepath.Join(dir, "models.yaml")
		require.NoError(t, os.WriteFile(opts.models, []byte(modelsYAML), 0o666))
	}

	o := sqlorm.New(testutil.Logger(t))
	t.Cleanup(o.Shutdown)

	require.NoError(t, setupORM(o, opts, testutil.Logger(t)))

	return o, opts
}

func TestLogLevel(t *testing.T) {
	t.Parallel()

	level, err := logLevel("error", 2)
	require.NoError(t, err)
	assert.Equal(t, zap.ErrorLevel, level)

	level, err = logLevel("", 0)
	require.NoError(t, err)
	assert.Equal(t, zap.WarnLevel, level)

	level, err = logLevel("", 2)
	require.NoError(t, err)
	assert.Equal(t, zap.DebugLevel, level)

	_, err = logLevel("loud", 1)
	assert.Error(t, err)
}

func TestSetupORM(t *testing.T) {
	t.Parallel()

	t.Run("URL", func(t *testing.T) {
		t.Parallel()

		o, opts := setup(t, true)

		assert.Equal(t, opts.migrationsDir, o.GetMigrationsDir())
		assert.Equal(t, []string{"Author", "Book"}, o.RegisteredModels())
	})

	t.Run("ConfigFile", func(t *testing.T) {
		t.Parallel()

		dir := t.TempDir()
		path := filepath.Join(dir, "sqlorm.yaml")
		content := "database:\n  ENGINE: sqlite\n  NAME: " + filepath.Join(dir, "db.sqlite3") + "\ndebug: true\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o666))

		o := sqlorm.New(testutil.Logger(t))
		t.Cleanup(o.Shutdown)

		migrationsDir := filepath.Join(dir, "migrations")
		err := setupORM(o, &setupOpts{config: path, migrationsDir: migrationsDir}, testutil.Logger(t))
		require.NoError(t, err)

		assert.Equal(t, migrationsDir, o.GetMigrationsDir())

		s, err := o.GetSettings()
		require.NoError(t, err)
		assert.True(t, s.Debug)
	})

	t.Run("MissingConfigFile", func(t *testing.T) {
		t.Parallel()

		o := sqlorm.New(testutil.Logger(t))
		t.Cleanup(o.Shutdown)

		err := setupORM(o, &setupOpts{config: filepath.Join(t.TempDir(), "missing.yaml")}, testutil.Logger(t))
		assert.ErrorIs(t, err, sqlorm.ErrConfiguration)
	})
}

func TestMigrationCommands(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)
	o, opts := setup(t, true)

	var buf bytes.Buffer
	require.NoError(t, showMigrations(ctx, &buf, o))
	assert.Equal(t, "sqlorm_app\n (no migrations)\n", buf.String())

	buf.Reset()
	require.NoError(t, makeMigrations(&buf, o, "", true, 1))
	expected := "Migrations for 'sqlorm_app':\n" +
		"  00001_initial.sql\n" +
		"    - Create model Author\n" +
		"    - Create model Book\n"
	assert.Equal(t, expected, buf.String())
	assert.NoFileExists(t, filepath.Join(opts.migrationsDir, "00001_initial.sql"))

	buf.Reset()
	require.NoError(t, makeMigrations(&buf, o, "", false, 1))
	assert.Equal(t, expected, buf.String())
	assert.FileExists(t, filepath.Join(opts.migrationsDir, "00001_initial.sql"))

	buf.Reset()
	require.NoError(t, makeMigrations(&buf, o, "", false, 1))
	assert.Equal(t, "No changes detected\n", buf.String())

	buf.Reset()
	require.NoError(t, showMigrations(ctx, &buf, o))
	assert.Equal(t, "sqlorm_app\n [ ] 00001_initial.sql\n", buf.String())

	buf.Reset()
	require.NoError(t, migrate(ctx, &buf, o))
	assert.Equal(t, "  Applying 00001_initial.sql... OK\n", buf.String())

	buf.Reset()
	require.NoError(t, migrate(ctx, &buf, o))
	assert.Equal(t, "  No migrations to apply.\n", buf.String())

	buf.Reset()
	require.NoError(t, showMigrations(ctx, &buf, o))
	assert.Equal(t, "sqlorm_app\n [X] 00001_initial.sql\n", buf.String())

	buf.Reset()
	require.NoError(t, inspectDB(ctx, &buf, o, "models", []string{"sqlorm_app_book"}))
	assert.Contains(t, buf.String(), "package models")
	assert.Contains(t, buf.String(), "type Book struct {")
}

func TestSyncDB(t *testing.T) {
	t.Parallel()

	ctx := testutil.Ctx(t)

	o, _ := setup(t, false)

	var buf bytes.Buffer
	assert.Error(t, syncDB(ctx, &buf, o))
	assert.Error(t, makeMigrations(&buf, o, "", true, 1))

	o, _ = setup(t, true)

	buf.Reset()
	require.NoError(t, syncDB(ctx, &buf, o))
	assert.Equal(t, "  created table sqlorm_app_author\n  created table sqlorm_app_book\n", buf.String())

	buf.Reset()
	require.NoError(t, syncDB(ctx, &buf, o))
	assert.Equal(t, "No changes detected\n", buf.String())
}

func TestPrintVersion(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	printVersion(&buf, version.Get())
	assert.Contains(t, buf.String(), "version: v")
	assert.Contains(t, buf.String(), "commit: ")
}
