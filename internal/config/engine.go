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
	"strings"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Canonical engine names.
const (
	EngineSQLite     = "sqlite"
	EnginePostgreSQL = "postgresql"
	EngineMySQL      = "mysql"
	EngineHANA       = "hana"
)

// engines maps all accepted engine names to canonical ones.
var engines = map[string]string{
	EngineSQLite:     EngineSQLite,
	EnginePostgreSQL: EnginePostgreSQL,
	EngineMySQL:      EngineMySQL,
	EngineHANA:       EngineHANA,

	"sqlite3":  EngineSQLite,
	"postgres": EnginePostgreSQL,

	"django.db.backends.sqlite3":             EngineSQLite,
	"django.db.backends.postgresql":          EnginePostgreSQL,
	"django.db.backends.postgresql_psycopg2": EnginePostgreSQL,
	"django.db.backends.mysql":               EngineMySQL,
}

// Engines returns all accepted engine names, sorted.
func Engines() []string {
	res := maps.Keys(engines)
	slices.Sort(res)

	return res
}

// CanonicalEngine returns the canonical name for the given engine name or alias.
func CanonicalEngine(engine string) (string, error) {
	if res, ok := engines[strings.ToLower(strings.TrimSpace(engine))]; ok {
		return res, nil
	}

	err := ormerrors.Newf(ormerrors.ErrorCodeConfiguration, "Unsupported database engine: %q", engine)

	return "", err.WithHint("Use one of: " + strings.Join(Engines(), ", "))
}
