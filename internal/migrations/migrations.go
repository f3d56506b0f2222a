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

// Package migrations generates and applies SQL migration files.
//
// Files are goose SQL migrations named NNNNN_<name>.sql.
// They are generated by comparing registered models with the snapshot
// stored next to them.
package migrations

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/pressly/goose/v3"
	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/conns"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// fileRE matches migration file names.
var fileRE = regexp.MustCompile(`^(\d+)_([a-z0-9_]+)\.sql$`)

// Migrator generates and applies migrations for the default database.
type Migrator struct {
	h   *conns.Handler
	r   *models.Registry
	l   *zap.Logger
	dir string

	// now is used for migration names; replaced by tests
	now func() time.Time
}

// New creates a new Migrator for the given migrations directory.
func New(h *conns.Handler, r *models.Registry, dir string, l *zap.Logger) (*Migrator, error) {
	if dir == "" {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "MIGRATIONS_DIR is not configured", nil).
			WithHint("Pass migrations_dir to Configure or set SQLORM_MIGRATIONS_DIR")
	}

	dir, err := config.ResolveMigrationsDir(dir)
	if err != nil {
		return nil, err
	}

	return &Migrator{
		h:   h,
		r:   r,
		l:   l,
		dir: dir,
		now: time.Now,
	}, nil
}

// Dir returns the absolute path of the migrations directory.
func (m *Migrator) Dir() string {
	return m.dir
}

// Status describes a single migration file.
type Status struct {
	Version   int64     `json:"version"`
	File      string    `json:"file"`
	Applied   bool      `json:"applied"`
	AppliedAt time.Time `json:"applied_at,omitempty"`
}

// dialect returns goose dialect for the backend.
func dialect(b backends.Backend) (goose.Dialect, error) {
	switch b.Name() {
	case config.EngineSQLite:
		return goose.DialectSQLite3, nil
	case config.EnginePostgreSQL:
		return goose.DialectPostgres, nil
	case config.EngineMySQL:
		return goose.DialectMySQL, nil
	default:
		return "", ormerrors.Newf(ormerrors.ErrorCodeMigration, "Migrations are not supported for %s", b.Vendor()).
			WithHint("Use syncdb to create tables")
	}
}

// provider returns goose provider for the default database.
//
// It returns nil provider if there are no migration files.
func (m *Migrator) provider(ctx context.Context) (*goose.Provider, error) {
	b, err := m.h.Backend(config.DefaultAlias)
	if err != nil {
		return nil, err
	}

	d, err := dialect(b)
	if err != nil {
		return nil, err
	}

	db, err := m.h.Get(ctx, config.DefaultAlias)
	if err != nil {
		return nil, err
	}

	// the provider does not own the connection pool; it must not be closed
	p, err := goose.NewProvider(d, db.SQLDB(), os.DirFS(m.dir), goose.WithDisableGlobalRegistry(true))
	if err != nil {
		if errors.Is(err, goose.ErrNoMigrations) {
			return nil, nil
		}

		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to load migrations from "+m.dir, err)
	}

	return p, nil
}

// Migrate applies pending migrations to the default database.
//
// It returns names of applied files.
func (m *Migrator) Migrate(ctx context.Context) ([]string, error) {
	defer observability.FuncCall(ctx)()

	p, err := m.provider(ctx)
	if err != nil {
		return nil, err
	}

	if p == nil {
		m.l.Info("No migrations to apply.", zap.String("dir", m.dir))
		return []string{}, nil
	}

	results, err := p.Up(ctx)

	res := make([]string, 0, len(results))

	for _, r := range results {
		if r.Error != nil {
			continue
		}

		name := filepath.Base(r.Source.Path)
		res = append(res, name)

		m.l.Info("Migration applied.", zap.String("file", name), zap.Duration("duration", r.Duration))
	}

	if err != nil {
		return res, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to apply migrations", err)
	}

	if len(res) == 0 {
		m.l.Info("No migrations to apply.", zap.String("dir", m.dir))
	}

	return res, nil
}

// ShowMigrations returns the status of all migration files.
func (m *Migrator) ShowMigrations(ctx context.Context) ([]Status, error) {
	defer observability.FuncCall(ctx)()

	p, err := m.provider(ctx)
	if err != nil {
		return nil, err
	}

	if p == nil {
		return []Status{}, nil
	}

	statuses, err := p.Status(ctx)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to get migrations status", err)
	}

	res := make([]Status, len(statuses))
	for i, s := range statuses {
		res[i] = Status{
			Version:   s.Source.Version,
			File:      filepath.Base(s.Source.Path),
			Applied:   s.State == goose.StateApplied,
			AppliedAt: s.AppliedAt,
		}
	}

	return res, nil
}

// lastVersion returns the highest version of migration files in the directory.
func (m *Migrator) lastVersion() (int64, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return 0, ormerrors.New(ormerrors.ErrorCodeMigration, "Failed to read migrations directory", err)
	}

	var res int64

	for _, e := range entries {
		match := fileRE.FindStringSubmatch(e.Name())
		if e.IsDir() || match == nil {
			continue
		}

		v, err := strconv.ParseInt(match[1], 10, 64)
		if err != nil {
			continue
		}

		res = max(res, v)
	}

	return res, nil
}
