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
	"github.com/caarlos0/env/v11"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// envConfig is the set of environment variables FromEnv reads.
type envConfig struct {
	DatabaseURL string `env:"DATABASE_URL"`

	Engine   string `env:"SQLORM_DB_ENGINE"`
	Name     string `env:"SQLORM_DB_NAME"`
	User     string `env:"SQLORM_DB_USER"`
	Password string `env:"SQLORM_DB_PASSWORD"`
	Host     string `env:"SQLORM_DB_HOST"`
	Port     string `env:"SQLORM_DB_PORT"`

	MigrationsDir string `env:"SQLORM_MIGRATIONS_DIR"`
	Debug         bool   `env:"SQLORM_DEBUG"`
	TimeZone      string `env:"SQLORM_TIME_ZONE" envDefault:"UTC"`
}

// FromEnv builds settings from environment variables.
//
// DATABASE_URL has priority over SQLORM_DB_* variables.
func FromEnv() (*Settings, error) {
	return fromEnv(env.Options{})
}

// fromEnv is FromEnv with explicit parsing options.
func fromEnv(opts env.Options) (*Settings, error) {
	var c envConfig
	if err := env.ParseWithOptions(&c, opts); err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "Failed to parse environment", err)
	}

	var db *Database

	switch {
	case c.DatabaseURL != "":
		var err error
		if db, err = ParseURL(c.DatabaseURL); err != nil {
			return nil, err
		}

	case c.Engine != "":
		db = &Database{
			Engine:   c.Engine,
			Name:     c.Name,
			User:     c.User,
			Password: c.Password,
			Host:     c.Host,
			Port:     c.Port,
		}

	default:
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "No database configuration found in environment", nil).
			WithHint("Set DATABASE_URL or SQLORM_DB_ENGINE and SQLORM_DB_NAME")
	}

	return New(db, &Options{
		MigrationsDir: c.MigrationsDir,
		Debug:         c.Debug,
		TimeZone:      c.TimeZone,
	})
}
