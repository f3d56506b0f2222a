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

// Package conns provides access to database connections by alias.
package conns

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/backends/registry"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
	"github.com/FerretDB/sqlorm/internal/util/resource"
)

// Parts of Prometheus metric names.
const (
	namespace = "sqlorm"
	subsystem = "conns"
)

// conn represents an opened connection pool for a single alias.
type conn struct {
	db      *fsql.DB
	backend backends.Backend
}

// Handler provides access to database connections by alias.
//
// Connections are opened lazily on first use.
//
//nolint:vet // for readability
type Handler struct {
	l *zap.Logger

	rw       sync.RWMutex
	settings *config.Settings
	conns    map[string]*conn

	token *resource.Token
}

// New creates a new handler for the given settings.
//
// Settings are cloned.
func New(settings *config.Settings, l *zap.Logger) *Handler {
	h := &Handler{
		l:        l,
		settings: settings.Clone(),
		conns:    map[string]*conn{},
		token:    resource.NewToken(),
	}

	resource.Track(h, h.token)

	return h
}

// Settings returns a copy of the current settings.
func (h *Handler) Settings() *config.Settings {
	h.rw.RLock()
	defer h.rw.RUnlock()

	return h.settings.Clone()
}

// Aliases returns a sorted list of configured database aliases.
func (h *Handler) Aliases() []string {
	h.rw.RLock()
	defer h.rw.RUnlock()

	return h.settings.Aliases()
}

// Open returns a sorted list of aliases with opened connections.
func (h *Handler) Open() []string {
	h.rw.RLock()
	defer h.rw.RUnlock()

	res := maps.Keys(h.conns)
	slices.Sort(res)

	return res
}

// Config returns a copy of the database configuration for the given alias.
func (h *Handler) Config(alias string) (*config.Database, error) {
	h.rw.RLock()
	defer h.rw.RUnlock()

	db, ok := h.settings.Databases[alias]
	if !ok {
		return nil, unknownAlias(alias)
	}

	return db.Clone(), nil
}

// Backend returns the backend for the given alias without opening a connection.
func (h *Handler) Backend(alias string) (backends.Backend, error) {
	c, err := h.Config(alias)
	if err != nil {
		return nil, err
	}

	return registry.Lookup(c.Engine)
}

// Get returns a connection pool for the given alias, opening it if needed.
func (h *Handler) Get(ctx context.Context, alias string) (*fsql.DB, error) {
	c, err := h.get(ctx, alias)
	if err != nil {
		return nil, err
	}

	return c.db, nil
}

// get returns an opened connection for the given alias.
func (h *Handler) get(ctx context.Context, alias string) (*conn, error) {
	defer observability.FuncCall(ctx)()

	h.rw.RLock()
	c := h.conns[alias]
	h.rw.RUnlock()

	if c != nil {
		return c, nil
	}

	h.rw.Lock()
	defer h.rw.Unlock()

	// it might have been opened by a concurrent call
	if c = h.conns[alias]; c != nil {
		return c, nil
	}

	dbConfig, ok := h.settings.Databases[alias]
	if !ok {
		return nil, unknownAlias(alias)
	}

	b, err := registry.Lookup(dbConfig.Engine)
	if err != nil {
		return nil, err
	}

	sqlDB, err := b.Open(dbConfig, h.l)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConnection, "Failed to connect to database '"+alias+"'", err)
	}

	c = &conn{
		db:      fsql.WrapDB(sqlDB, alias, h.l),
		backend: b,
	}
	h.conns[alias] = c

	h.l.Debug("Connection opened.", zap.String("alias", alias), zap.String("engine", b.Name()))

	return c, nil
}

// Close closes the connection for the given alias, if it is open.
func (h *Handler) Close(alias string) error {
	h.rw.Lock()
	defer h.rw.Unlock()

	return h.close(alias)
}

// close closes the connection for the given alias.
//
// It should be called with the write lock held.
func (h *Handler) close(alias string) error {
	c, ok := h.conns[alias]
	if !ok {
		return nil
	}

	delete(h.conns, alias)

	if err := c.db.Close(); err != nil {
		return lazyerrors.Error(err)
	}

	h.l.Debug("Connection closed.", zap.String("alias", alias))

	return nil
}

// CloseAll closes all open connections.
//
// The first error is returned, but all connections are closed.
func (h *Handler) CloseAll() error {
	h.rw.Lock()
	defer h.rw.Unlock()

	return h.closeAll()
}

// closeAll closes all open connections.
//
// It should be called with the write lock held.
func (h *Handler) closeAll() error {
	var res error

	for alias := range h.conns {
		if err := h.close(alias); err != nil && res == nil {
			res = err
		}
	}

	return res
}

// Add adds or replaces the database configuration for the given alias.
//
// An open connection for that alias is closed.
func (h *Handler) Add(alias string, db *config.Database) error {
	h.rw.Lock()
	defer h.rw.Unlock()

	if err := h.settings.AddDatabase(alias, db); err != nil {
		return err
	}

	if err := h.close(alias); err != nil {
		h.l.Warn("Failed to close replaced connection.", zap.String("alias", alias), zap.Error(err))
	}

	return nil
}

// Reset closes all connections and replaces settings.
func (h *Handler) Reset(settings *config.Settings) {
	h.rw.Lock()
	defer h.rw.Unlock()

	if err := h.closeAll(); err != nil {
		h.l.Warn("Failed to close connections.", zap.Error(err))
	}

	h.settings = settings.Clone()
}

// Shutdown closes all connections and frees all resources.
func (h *Handler) Shutdown() {
	if err := h.CloseAll(); err != nil {
		h.l.Warn("Failed to close connections.", zap.Error(err))
	}

	resource.Untrack(h, h.token)
}

// Info describes a database connection.
type Info struct {
	Alias   string `json:"alias"`
	Engine  string `json:"engine"`
	Vendor  string `json:"vendor"`
	Version string `json:"version"`
	Name    string `json:"name"`
}

// Info returns information about the database for the given alias.
func (h *Handler) Info(ctx context.Context, alias string) (*Info, error) {
	defer observability.FuncCall(ctx)()

	c, err := h.get(ctx, alias)
	if err != nil {
		return nil, err
	}

	dbConfig, err := h.Config(alias)
	if err != nil {
		return nil, err
	}

	q, err := h.Executor(ctx, alias)
	if err != nil {
		return nil, err
	}

	version, err := c.backend.Version(ctx, q)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConnection, "Failed to get database version", err)
	}

	return &Info{
		Alias:   alias,
		Engine:  c.backend.Name(),
		Vendor:  c.backend.Vendor(),
		Version: version,
		Name:    dbConfig.Name,
	}, nil
}

// Describe implements prometheus.Collector.
func (h *Handler) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(h, ch)
}

// Collect implements prometheus.Collector.
func (h *Handler) Collect(ch chan<- prometheus.Metric) {
	h.rw.RLock()
	defer h.rw.RUnlock()

	ch <- prometheus.MustNewConstMetric(
		prometheus.NewDesc(
			prometheus.BuildFQName(namespace, subsystem, "open"),
			"The current number of open database aliases.",
			nil, nil,
		),
		prometheus.GaugeValue,
		float64(len(h.conns)),
	)

	for _, c := range h.conns {
		c.db.Collect(ch)
	}
}

// unknownAlias returns an error for the unknown database alias.
func unknownAlias(alias string) error {
	return ormerrors.Newf(ormerrors.ErrorCodeConnection, "The connection '%s' doesn't exist.", alias).
		WithHint("Add it with AddDatabase or to DATABASES")
}

// check interfaces
var (
	_ prometheus.Collector = (*Handler)(nil)
)
