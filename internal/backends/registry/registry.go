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

// Package registry provides a registry of backends.
package registry

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/backends/hana"
	"github.com/FerretDB/sqlorm/internal/backends/mysql"
	"github.com/FerretDB/sqlorm/internal/backends/postgresql"
	"github.com/FerretDB/sqlorm/internal/backends/sqlite"
	"github.com/FerretDB/sqlorm/internal/config"
)

// newBackendFunc represents a function that constructs a new backend.
type newBackendFunc func() backends.Backend

// registry maps canonical engine names to backend constructors.
var registry = map[string]newBackendFunc{
	config.EngineSQLite:     func() backends.Backend { return sqlite.New() },
	config.EnginePostgreSQL: func() backends.Backend { return postgresql.New() },
	config.EngineMySQL:      func() backends.Backend { return mysql.New() },
	config.EngineHANA:       func() backends.Backend { return hana.New() },
}

// Lookup returns the backend for the given engine name or alias.
func Lookup(engine string) (backends.Backend, error) {
	name, err := config.CanonicalEngine(engine)
	if err != nil {
		return nil, err
	}

	return registry[name](), nil
}

// Backends returns names of all registered backends.
func Backends() []string {
	res := maps.Keys(registry)
	slices.Sort(res)

	return res
}
