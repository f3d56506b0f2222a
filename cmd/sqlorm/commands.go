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
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm"
	"github.com/FerretDB/sqlorm/internal/util/version"
)

// defaultSQLiteName is the database file used when nothing else is configured.
const defaultSQLiteName = "db.sqlite3"

// setupOpts represents configuration sources given on the command line.
type setupOpts struct {
	config        string
	databaseURL   string
	migrationsDir string
	models        string
}

// setupORM configures o from the first available source:
// configuration file, database URL, environment variables, or the default SQLite database.
// Then it loads model definitions, if any.
func setupORM(o *sqlorm.ORM, opts *setupOpts, l *zap.Logger) error {
	ormOpts := &sqlorm.Options{
		MigrationsDir: opts.migrationsDir,
	}

	var err error

	switch {
	case opts.config != "":
		l.Debug("Using configuration file.", zap.String("path", opts.config))

		if err = o.ConfigureFromFile(opts.config); err != nil {
			return err
		}

		err = overrideMigrationsDir(o, opts.migrationsDir)

	case opts.databaseURL != "":
		l.Debug("Using database URL.")
		err = o.ConfigureFromURL(opts.databaseURL, ormOpts)

	case hasEnvConfig():
		l.Debug("Using environment variables.")

		if err = o.ConfigureFromEnv(); err != nil {
			return err
		}

		err = overrideMigrationsDir(o, opts.migrationsDir)

	default:
		l.Info("No database configured, using SQLite.", zap.String("name", defaultSQLiteName))
		err = o.Configure(&sqlorm.Database{Engine: "sqlite", Name: defaultSQLiteName}, ormOpts)
	}

	if err != nil {
		return err
	}

	if opts.models == "" {
		return nil
	}

	names, err := o.LoadModels(opts.models)
	if err != nil {
		return err
	}

	l.Debug("Models loaded.", zap.Strings("models", names))

	return nil
}

// hasEnvConfig returns true if the environment contains database configuration.
func hasEnvConfig() bool {
	for _, k := range []string{"DATABASE_URL", "SQLORM_DB_ENGINE"} {
		if os.Getenv(k) != "" {
			return true
		}
	}

	return false
}

// overrideMigrationsDir reconfigures o with the given migrations directory
// unless the configuration already sets one.
func overrideMigrationsDir(o *sqlorm.ORM, dir string) error {
	if dir == "" || o.GetMigrationsDir() != "" {
		return nil
	}

	s, err := o.GetSettings()
	if err != nil {
		return err
	}

	return o.ConfigureDatabases(s.Databases, &sqlorm.Options{
		MigrationsDir: dir,
		Debug:         s.Debug,
		TimeZone:      s.TimeZone,
		UseTZ:         &s.UseTZ,
		Extra:         s.Extra,
	})
}

// requireModels returns an error if no models are registered.
func requireModels(o *sqlorm.ORM) error {
	if len(o.RegisteredModels()) > 0 {
		return nil
	}

	return fmt.Errorf("no models registered, use --models to load model definitions")
}

// makeMigrations creates the next migration file.
func makeMigrations(w io.Writer, o *sqlorm.ORM, name string, dryRun bool, verbosity int) error {
	if err := requireModels(o); err != nil {
		return err
	}

	p, err := o.MakeMigrations(name, dryRun)
	if err != nil {
		return err
	}

	if !p.Changed() {
		fmt.Fprintln(w, "No changes detected")
		return nil
	}

	fmt.Fprintf(w, "Migrations for '%s':\n", sqlorm.AppLabel)
	fmt.Fprintf(w, "  %s\n", p.File)

	for _, op := range p.Operations {
		fmt.Fprintf(w, "    - %s\n", op)
	}

	if dryRun && verbosity >= 2 {
		fmt.Fprintln(w)
		fmt.Fprint(w, p.Content)
	}

	return nil
}

// migrate applies pending migrations.
func migrate(ctx context.Context, w io.Writer, o *sqlorm.ORM) error {
	applied, err := o.RunMigrations(ctx)

	for _, name := range applied {
		fmt.Fprintf(w, "  Applying %s... OK\n", name)
	}

	if err != nil {
		return err
	}

	if len(applied) == 0 {
		fmt.Fprintln(w, "  No migrations to apply.")
	}

	return nil
}

// showMigrations prints all migrations with their status.
func showMigrations(ctx context.Context, w io.Writer, o *sqlorm.ORM) error {
	statuses, err := o.ShowMigrations(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(w, sqlorm.AppLabel)

	if len(statuses) == 0 {
		fmt.Fprintln(w, " (no migrations)")
		return nil
	}

	for _, s := range statuses {
		mark := " "
		if s.Applied {
			mark = "X"
		}

		fmt.Fprintf(w, " [%s] %s\n", mark, s.File)
	}

	return nil
}

// syncDB creates missing tables and columns of all registered models.
func syncDB(ctx context.Context, w io.Writer, o *sqlorm.ORM) error {
	if err := requireModels(o); err != nil {
		return err
	}

	changes, err := o.MigrateAll(ctx)

	for _, c := range changes {
		fmt.Fprintf(w, "  %s\n", c)
	}

	if err != nil {
		return err
	}

	if len(changes) == 0 {
		fmt.Fprintln(w, "No changes detected")
	}

	return nil
}

// inspectDB prints Go models for existing tables of the default database.
func inspectDB(ctx context.Context, w io.Writer, o *sqlorm.ORM, pkg string, tables []string) error {
	src, err := o.InspectDB(ctx, sqlorm.DefaultAlias, pkg, tables)
	if err != nil {
		return err
	}

	_, err = w.Write(src)

	return err
}

// printVersion prints build information.
func printVersion(w io.Writer, info *version.Info) {
	fmt.Fprintln(w, "version:", info.Version)
	fmt.Fprintln(w, "commit:", info.Commit)
	fmt.Fprintln(w, "dirty:", info.Dirty)
	fmt.Fprintln(w, "devBuild:", info.DevBuild)

	if v := info.BuildEnvironment["go.version"]; v != "" {
		fmt.Fprintln(w, "go:", strings.TrimPrefix(v, "go"))
	}
}
