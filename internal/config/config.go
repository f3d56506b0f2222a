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

// Package config provides the settings record the connection handler and the migration tools work with.
//
// Settings are built from Go values, maps, JSON or YAML files, environment variables, or database URLs.
// Whatever the caller passes is copied verbatim: the settings object keeps unknown keys in Extra maps
// and renders the same upper-case keyed dictionary back with Map.
package config

import (
	"os"
	"path/filepath"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// AppLabel is the label of the application namespace every model belongs to.
const AppLabel = "sqlorm_app"

// DefaultAlias is the alias of the default database.
const DefaultAlias = "default"

// Defaults.
const (
	DefaultTimeZone   = "UTC"
	DefaultAutoField  = "BigAutoField"
	DefaultSQLiteName = "db.sqlite3"
)

// Database is a configuration of a single database.
type Database struct {
	Engine   string
	Name     string
	User     string
	Password string
	Host     string
	Port     string

	// Options are passed to the driver (as DSN parameters) verbatim.
	Options map[string]any

	// ConnMaxAge is the lifetime of a connection in seconds.
	// Zero closes connections after use, negative values mean unlimited lifetime.
	ConnMaxAge int

	// Pooling hints.
	ConnMaxOpen int
	ConnMaxIdle int

	// Test settings, kept as is.
	Test map[string]any

	// Extra holds all other keys.
	Extra map[string]any
}

// Validate checks that the database configuration is usable.
func (db *Database) Validate() error {
	if db.Engine == "" {
		return ormerrors.New(ormerrors.ErrorCodeConfiguration, "Database config must include 'ENGINE'", nil)
	}

	if db.Name == "" {
		return ormerrors.New(ormerrors.ErrorCodeConfiguration, "Database config must include 'NAME'", nil)
	}

	if _, err := CanonicalEngine(db.Engine); err != nil {
		return err
	}

	return nil
}

// Clone returns a deep copy of the database configuration.
func (db *Database) Clone() *Database {
	res := *db
	res.Options = cloneMap(db.Options)
	res.Test = cloneMap(db.Test)
	res.Extra = cloneMap(db.Extra)

	return &res
}

// Map renders the database configuration as an engine-style dictionary.
func (db *Database) Map() map[string]any {
	options := cloneMap(db.Options)
	if options == nil {
		options = map[string]any{}
	}

	test := cloneMap(db.Test)
	if test == nil {
		test = map[string]any{}
	}

	res := map[string]any{
		"ENGINE":       db.Engine,
		"NAME":         db.Name,
		"USER":         db.User,
		"PASSWORD":     db.Password,
		"HOST":         db.Host,
		"PORT":         db.Port,
		"OPTIONS":      options,
		"CONN_MAX_AGE": db.ConnMaxAge,
		"TEST":         test,
	}

	if db.ConnMaxOpen != 0 {
		res["CONN_MAX_OPEN"] = db.ConnMaxOpen
	}

	if db.ConnMaxIdle != 0 {
		res["CONN_MAX_IDLE"] = db.ConnMaxIdle
	}

	for k, v := range db.Extra {
		res[k] = cloneValue(v)
	}

	return res
}

// Settings is the complete configuration.
type Settings struct {
	Databases        map[string]*Database
	MigrationsDir    string
	Debug            bool
	TimeZone         string
	UseTZ            bool
	DefaultAutoField string
	InstalledApps    []string
	Extra            map[string]any
}

// Options are optional parameters for New and NewMulti.
type Options struct {
	// MigrationsDir is resolved to an absolute path and created if it does not exist.
	MigrationsDir string
	Debug         bool

	// TimeZone defaults to UTC.
	TimeZone string

	// UseTZ defaults to true.
	UseTZ *bool

	// Extra settings are copied verbatim.
	Extra map[string]any
}

// New returns settings with a single default database.
func New(db *Database, opts *Options) (*Settings, error) {
	if db == nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "Database configuration must be provided", nil)
	}

	return NewMulti(map[string]*Database{DefaultAlias: db}, opts)
}

// NewMulti returns settings with several databases.
//
// The default alias must be present.
func NewMulti(dbs map[string]*Database, opts *Options) (*Settings, error) {
	if opts == nil {
		opts = new(Options)
	}

	if _, ok := dbs[DefaultAlias]; !ok {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "DATABASES must include 'default'", nil)
	}

	res := &Settings{
		Databases:        make(map[string]*Database, len(dbs)),
		Debug:            opts.Debug,
		TimeZone:         opts.TimeZone,
		UseTZ:            true,
		DefaultAutoField: DefaultAutoField,
		InstalledApps:    []string{AppLabel},
		Extra:            cloneMap(opts.Extra),
	}

	for alias, db := range dbs {
		if db == nil {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeConfiguration, "Database config for %q must not be empty", alias)
		}

		if err := db.Validate(); err != nil {
			return nil, err
		}

		res.Databases[alias] = db.Clone()
	}

	if res.TimeZone == "" {
		res.TimeZone = DefaultTimeZone
	}

	if opts.UseTZ != nil {
		res.UseTZ = *opts.UseTZ
	}

	if opts.MigrationsDir != "" {
		dir, err := ResolveMigrationsDir(opts.MigrationsDir)
		if err != nil {
			return nil, err
		}

		res.MigrationsDir = dir
	}

	return res, nil
}

// AddDatabase validates and adds (or replaces) a database with the given alias.
func (s *Settings) AddDatabase(alias string, db *Database) error {
	if alias == "" {
		return ormerrors.New(ormerrors.ErrorCodeConfiguration, "Database alias must not be empty", nil)
	}

	if err := db.Validate(); err != nil {
		return err
	}

	if s.Databases == nil {
		s.Databases = make(map[string]*Database)
	}

	s.Databases[alias] = db.Clone()

	return nil
}

// Aliases returns sorted database aliases.
func (s *Settings) Aliases() []string {
	res := maps.Keys(s.Databases)
	slices.Sort(res)

	return res
}

// Clone returns a deep copy of the settings.
func (s *Settings) Clone() *Settings {
	res := *s

	res.Databases = make(map[string]*Database, len(s.Databases))
	for alias, db := range s.Databases {
		res.Databases[alias] = db.Clone()
	}

	res.InstalledApps = slices.Clone(s.InstalledApps)
	res.Extra = cloneMap(s.Extra)

	return &res
}

// Map renders settings as an engine-style dictionary.
func (s *Settings) Map() map[string]any {
	dbs := make(map[string]any, len(s.Databases))
	for alias, db := range s.Databases {
		dbs[alias] = db.Map()
	}

	res := make(map[string]any, len(s.Extra)+8)
	for k, v := range s.Extra {
		res[k] = cloneValue(v)
	}

	res["DATABASES"] = dbs
	res["DEBUG"] = s.Debug
	res["TIME_ZONE"] = s.TimeZone
	res["USE_TZ"] = s.UseTZ
	res["DEFAULT_AUTO_FIELD"] = s.DefaultAutoField
	res["INSTALLED_APPS"] = slices.Clone(s.InstalledApps)

	if s.MigrationsDir != "" {
		res["MIGRATIONS_DIR"] = s.MigrationsDir
	}

	return res
}

// ResolveMigrationsDir returns the absolute path of the migrations directory, creating it if needed.
func ResolveMigrationsDir(dir string) (string, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return "", ormerrors.New(ormerrors.ErrorCodeConfiguration, "Invalid migrations directory", err)
	}

	if err = os.MkdirAll(abs, 0o777); err != nil {
		return "", ormerrors.New(ormerrors.ErrorCodeConfiguration, "Failed to create migrations directory", err)
	}

	return abs, nil
}

// cloneMap returns a deep copy of m, or nil.
func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	res := make(map[string]any, len(m))
	for k, v := range m {
		res[k] = cloneValue(v)
	}

	return res
}

// cloneValue deep copies maps and slices decoded from JSON or YAML.
func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return cloneMap(v)
	case []any:
		res := make([]any, len(v))
		for i, e := range v {
			res[i] = cloneValue(e)
		}

		return res
	case []string:
		return slices.Clone(v)
	default:
		return v
	}
}
