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

// Package sqlorm provides models, query sets, schema helpers, and migrations
// for SQL databases without project scaffolding.
//
// A program configures databases once:
//
//	err := sqlorm.Configure(&sqlorm.Database{Engine: "sqlite", Name: "db.sqlite3"}, nil)
//
// registers models:
//
//	books, err := sqlorm.Register[Book](nil)
//
// and uses them:
//
//	err = books.Create(ctx, &Book{Title: "Go"})
//	list, err := books.Filter(sqlorm.Q{"title__icontains": "go"}).All(ctx)
//
// Package-level functions use the default ORM instance.
// Programs that need several independent instances use New and RegisterWith.
package sqlorm

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/schema"
)

// Database is a configuration of a single database.
type Database = config.Database

// Options are optional settings for Configure and ConfigureDatabases.
type Options = config.Options

// Settings is the complete configuration.
type Settings = config.Settings

// DefaultAlias is the alias of the default database.
const DefaultAlias = config.DefaultAlias

// AppLabel is the label of the application namespace every model belongs to.
const AppLabel = config.AppLabel

// ORM holds settings, connections, and registered models.
type ORM struct {
	rw sync.RWMutex
	h  *conns.Handler // nil until configured
	r  *models.Registry
	l  *zap.Logger
}

// std is the default instance used by package-level functions.
var std = New(nil)

// Default returns the default instance used by package-level functions.
func Default() *ORM {
	return std
}

// New creates a new unconfigured instance.
//
// If l is nil, the global zap logger is used.
func New(l *zap.Logger) *ORM {
	o := &ORM{l: l}
	o.r = models.NewRegistry(o.logger().Named("models"))

	return o
}

// logger returns the instance's logger.
func (o *ORM) logger() *zap.Logger {
	if o.l != nil {
		return o.l
	}

	return zap.L().Named("sqlorm")
}

// SetLogger replaces the logger. It affects connections opened by subsequent Configure calls.
func (o *ORM) SetLogger(l *zap.Logger) {
	o.rw.Lock()
	defer o.rw.Unlock()

	o.l = l
}

// configure replaces settings; existing connections are closed.
func (o *ORM) configure(s *config.Settings) {
	o.rw.Lock()
	defer o.rw.Unlock()

	if o.h != nil {
		o.h.Reset(s)
	} else {
		o.h = conns.New(s, o.logger().Named("conns"))
	}

	o.logger().Debug("Configured.", zap.Strings("databases", s.Aliases()), zap.String("migrations_dir", s.MigrationsDir))
}

// handler returns the connection handler or an error if the instance is not configured.
func (o *ORM) handler() (*conns.Handler, error) {
	o.rw.RLock()
	defer o.rw.RUnlock()

	if o.h == nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "sqlorm is not configured", nil).
			WithHint("Call Configure, ConfigureFromFile, or ConfigureFromEnv first")
	}

	return o.h, nil
}

// helpers returns schema helpers.
func (o *ORM) helpers() (*schema.Schema, error) {
	h, err := o.handler()
	if err != nil {
		return nil, err
	}

	return schema.New(h, o.r, o.logger().Named("schema")), nil
}

// Configure configures a single default database.
func (o *ORM) Configure(db *Database, opts *Options) error {
	s, err := config.New(db, opts)
	if err != nil {
		return err
	}

	o.configure(s)

	return nil
}

// ConfigureDatabases configures several databases; "default" is required.
func (o *ORM) ConfigureDatabases(dbs map[string]*Database, opts *Options) error {
	s, err := config.NewMulti(dbs, opts)
	if err != nil {
		return err
	}

	o.configure(s)

	return nil
}

// ConfigureFromDict configures from a dictionary with "database" or "databases" key,
// and optional "migrations_dir", "debug", "time_zone", "use_tz" keys.
// Other keys are kept as extra settings.
func (o *ORM) ConfigureFromDict(m map[string]any) error {
	s, err := config.FromMap(m)
	if err != nil {
		return err
	}

	o.configure(s)

	return nil
}

// ConfigureFromFile configures from a JSON or YAML file with the same keys as ConfigureFromDict.
func (o *ORM) ConfigureFromFile(path string) error {
	s, err := config.FromFile(path)
	if err != nil {
		return err
	}

	o.configure(s)

	return nil
}

// ConfigureFromEnv configures from DATABASE_URL or SQLORM_DB_* environment variables.
func (o *ORM) ConfigureFromEnv() error {
	s, err := config.FromEnv()
	if err != nil {
		return err
	}

	o.configure(s)

	return nil
}

// ConfigureFromURL configures a single default database from a URL like "postgres://user@host/db".
func (o *ORM) ConfigureFromURL(url string, opts *Options) error {
	db, err := config.ParseURL(url)
	if err != nil {
		return err
	}

	return o.Configure(db, opts)
}

// AddDatabase adds or replaces a database; an open connection for that alias is closed.
func (o *ORM) AddDatabase(alias string, db *Database) error {
	h, err := o.handler()
	if err != nil {
		return err
	}

	return h.Add(alias, db)
}

// IsConfigured returns true if the instance is configured.
func (o *ORM) IsConfigured() bool {
	_, err := o.handler()
	return err == nil
}

// GetSettings returns a copy of the current settings.
func (o *ORM) GetSettings() (*Settings, error) {
	h, err := o.handler()
	if err != nil {
		return nil, err
	}

	return h.Settings(), nil
}

// GetDatabaseAliases returns sorted database aliases, or nil if the instance is not configured.
func (o *ORM) GetDatabaseAliases() []string {
	h, err := o.handler()
	if err != nil {
		return nil
	}

	return h.Aliases()
}

// GetDatabaseConfig returns a copy of the database configuration for the alias.
func (o *ORM) GetDatabaseConfig(alias string) (*Database, error) {
	h, err := o.handler()
	if err != nil {
		return nil, err
	}

	return h.Config(alias)
}

// GetMigrationsDir returns the absolute path of the migrations directory, or an empty string.
func (o *ORM) GetMigrationsDir() string {
	h, err := o.handler()
	if err != nil {
		return ""
	}

	return h.Settings().MigrationsDir
}

// Shutdown closes all connections. The instance must be configured again before use.
func (o *ORM) Shutdown() {
	o.rw.Lock()
	defer o.rw.Unlock()

	if o.h != nil {
		o.h.Shutdown()
		o.h = nil
	}
}

// Describe implements prometheus.Collector.
func (o *ORM) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(o, ch)
}

// Collect implements prometheus.Collector.
func (o *ORM) Collect(ch chan<- prometheus.Metric) {
	h, err := o.handler()
	if err != nil {
		return
	}

	h.Collect(ch)
}

// Configure configures the default instance with a single default database.
func Configure(db *Database, opts *Options) error { return std.Configure(db, opts) }

// ConfigureDatabases configures the default instance with several databases.
func ConfigureDatabases(dbs map[string]*Database, opts *Options) error {
	return std.ConfigureDatabases(dbs, opts)
}

// ConfigureFromDict configures the default instance from a dictionary.
func ConfigureFromDict(m map[string]any) error { return std.ConfigureFromDict(m) }

// ConfigureFromFile configures the default instance from a JSON or YAML file.
func ConfigureFromFile(path string) error { return std.ConfigureFromFile(path) }

// ConfigureFromEnv configures the default instance from environment variables.
func ConfigureFromEnv() error { return std.ConfigureFromEnv() }

// ConfigureFromURL configures the default instance from a database URL.
func ConfigureFromURL(url string, opts *Options) error { return std.ConfigureFromURL(url, opts) }

// AddDatabase adds or replaces a database of the default instance.
func AddDatabase(alias string, db *Database) error { return std.AddDatabase(alias, db) }

// IsConfigured returns true if the default instance is configured.
func IsConfigured() bool { return std.IsConfigured() }

// GetSettings returns a copy of the default instance settings.
func GetSettings() (*Settings, error) { return std.GetSettings() }

// GetDatabaseAliases returns database aliases of the default instance.
func GetDatabaseAliases() []string { return std.GetDatabaseAliases() }

// GetDatabaseConfig returns the database configuration of the default instance.
func GetDatabaseConfig(alias string) (*Database, error) { return std.GetDatabaseConfig(alias) }

// GetMigrationsDir returns the migrations directory of the default instance.
func GetMigrationsDir() string { return std.GetMigrationsDir() }

// check interfaces
var (
	_ prometheus.Collector = (*ORM)(nil)
)
