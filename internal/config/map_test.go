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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

func TestFromMap(t *testing.T) {
	t.Parallel()

	s, err := FromMap(map[string]any{
		"database": map[string]any{
			"ENGINE":       "sqlite3",
			"NAME":         "app.sqlite3",
			"CONN_MAX_AGE": nil,
			"OPTIONS":      map[string]any{"timeout": 20},
		},
		"debug":      true,
		"time_zone":  "Europe/Berlin",
		"use_tz":     false,
		"SECRET_KEY": "x",
	})
	require.NoError(t, err)

	db := s.Databases[DefaultAlias]
	assert.Equal(t, "sqlite3", db.Engine)
	assert.Equal(t, "app.sqlite3", db.Name)
	assert.Equal(t, -1, db.ConnMaxAge)
	assert.Equal(t, map[string]any{"timeout": 20}, db.Options)

	assert.True(t, s.Debug)
	assert.False(t, s.UseTZ)
	assert.Equal(t, "Europe/Berlin", s.TimeZone)
	assert.Equal(t, map[string]any{"SECRET_KEY": "x"}, s.Extra)

	t.Run("Databases", func(t *testing.T) {
		t.Parallel()

		s, err := FromMap(map[string]any{
			"databases": map[string]any{
				"default": map[string]any{"ENGINE": "sqlite", "NAME": "a.sqlite3"},
				"logs":    map[string]any{"ENGINE": "sqlite", "NAME": "b.sqlite3", "PORT": 0},
			},
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"default", "logs"}, s.Aliases())
		assert.Equal(t, "0", s.Databases["logs"].Port)
	})

	t.Run("NoDatabase", func(t *testing.T) {
		t.Parallel()

		_, err := FromMap(map[string]any{"debug": true})
		require.ErrorIs(t, err, ormerrors.ErrConfiguration)
		assert.Contains(t, err.Error(), "Config must include 'database' key")
	})

	t.Run("InvalidValue", func(t *testing.T) {
		t.Parallel()

		_, err := FromMap(map[string]any{
			"database": map[string]any{"ENGINE": "sqlite", "NAME": "a.sqlite3", "OPTIONS": "x"},
		})
		require.ErrorIs(t, err, ormerrors.ErrConfiguration)
	})
}

func TestFromFile(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()

	jsonFile := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(jsonFile, []byte(`{
		"database": {"ENGINE": "django.db.backends.postgresql", "NAME": "app", "PORT": 5432},
		"debug": true
	}`), 0o666))

	yamlFile := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(yamlFile, []byte(`
database:
  ENGINE: django.db.backends.postgresql
  NAME: app
  PORT: 5432
debug: true
`), 0o666))

	for _, file := range []string{jsonFile, yamlFile} {
		s, err := FromFile(file)
		require.NoError(t, err, file)

		db := s.Databases[DefaultAlias]
		assert.Equal(t, "django.db.backends.postgresql", db.Engine, file)
		assert.Equal(t, "app", db.Name, file)
		assert.Equal(t, "5432", db.Port, file)
		assert.True(t, s.Debug, file)
	}

	t.Run("NotFound", func(t *testing.T) {
		t.Parallel()

		_, err := FromFile(filepath.Join(dir, "missing.json"))
		require.ErrorIs(t, err, ormerrors.ErrConfiguration)
		assert.Contains(t, err.Error(), "Config file not found")
	})

	t.Run("NoDatabaseKey", func(t *testing.T) {
		t.Parallel()

		file := filepath.Join(t.TempDir(), "config.yml")
		require.NoError(t, os.WriteFile(file, []byte("debug: true\n"), 0o666))

		_, err := FromFile(file)
		require.ErrorIs(t, err, ormerrors.ErrConfiguration)
		assert.Contains(t, err.Error(), "'database'")
	})

	t.Run("Format", func(t *testing.T) {
		t.Parallel()

		file := filepath.Join(t.TempDir(), "config.toml")
		require.NoError(t, os.WriteFile(file, []byte(""), 0o666))

		_, err := FromFile(file)
		require.ErrorIs(t, err, ormerrors.ErrConfiguration)
	})
}
