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
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// FromMap builds settings from a dictionary like the one stored in configuration files.
//
// The database is taken from the "database" key or, for several databases, from the "databases" key.
// Keys "migrations_dir", "debug", "time_zone", and "use_tz" are recognized;
// all other keys are copied to Extra.
func FromMap(m map[string]any) (*Settings, error) {
	dbs := make(map[string]*Database)

	if v, ok := m["database"]; ok && v != nil {
		db, err := databaseFromValue(DefaultAlias, v)
		if err != nil {
			return nil, err
		}

		dbs[DefaultAlias] = db
	}

	if v, ok := m["databases"]; ok && v != nil {
		dm, ok := v.(map[string]any)
		if !ok {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeConfiguration, "'databases' must be a mapping, got %T", v)
		}

		for alias, dv := range dm {
			db, err := databaseFromValue(alias, dv)
			if err != nil {
				return nil, err
			}

			dbs[alias] = db
		}
	}

	if len(dbs) == 0 {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "Config must include 'database' key", nil)
	}

	opts := &Options{
		Extra: make(map[string]any),
	}

	for k, v := range m {
		var err error

		switch k {
		case "database", "databases":
			continue
		case "migrations_dir":
			opts.MigrationsDir, err = toString(v)
		case "debug":
			opts.Debug, err = toBool(v)
		case "time_zone":
			opts.TimeZone, err = toString(v)
		case "use_tz":
			var b bool
			if b, err = toBool(v); err == nil {
				opts.UseTZ = &b
			}
		default:
			opts.Extra[k] = v
		}

		if err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, fmt.Sprintf("Invalid value for %q", k), err)
		}
	}

	if len(opts.Extra) == 0 {
		opts.Extra = nil
	}

	return NewMulti(dbs, opts)
}

// FromFile builds settings from a JSON or YAML file.
func FromFile(path string) (*Settings, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeConfiguration, "Config file not found: %s", path)
		}

		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "Failed to read config file", err)
	}

	var m map[string]any

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		err = json.Unmarshal(b, &m)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(b, &m)
	default:
		return nil, ormerrors.Newf(ormerrors.ErrorCodeConfiguration, "Unsupported config file format: %q", ext).
			WithHint("Use a .json, .yaml, or .yml file")
	}

	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, "Failed to parse config file "+path, err)
	}

	return FromMap(m)
}

// DatabaseFromMap builds a database configuration from an engine-style dictionary.
//
// It does not validate the result.
func DatabaseFromMap(m map[string]any) (*Database, error) {
	res := new(Database)

	for k, v := range m {
		var err error

		switch strings.ToUpper(k) {
		case "ENGINE":
			res.Engine, err = toString(v)
		case "NAME":
			res.Name, err = toString(v)
		case "USER":
			res.User, err = toString(v)
		case "PASSWORD":
			res.Password, err = toString(v)
		case "HOST":
			res.Host, err = toString(v)
		case "PORT":
			res.Port, err = toString(v)
		case "OPTIONS":
			res.Options, err = toMap(v)
		case "TEST":
			res.Test, err = toMap(v)
		case "CONN_MAX_AGE":
			if v == nil {
				res.ConnMaxAge = -1
				break
			}

			res.ConnMaxAge, err = toInt(v)
		case "CONN_MAX_OPEN":
			res.ConnMaxOpen, err = toInt(v)
		case "CONN_MAX_IDLE":
			res.ConnMaxIdle, err = toInt(v)
		default:
			if res.Extra == nil {
				res.Extra = make(map[string]any)
			}

			res.Extra[k] = cloneValue(v)
		}

		if err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeConfiguration, fmt.Sprintf("Invalid value for %q", k), err)
		}
	}

	return res, nil
}

// databaseFromValue converts a decoded value to a database configuration.
func databaseFromValue(alias string, v any) (*Database, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeConfiguration, "Database configuration for %q must be a mapping, got %T", alias, v)
	}

	return DatabaseFromMap(m)
}

func toString(v any) (string, error) {
	switch v := v.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case uint64:
		return strconv.FormatUint(v, 10), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case json.Number:
		return v.String(), nil
	default:
		return "", fmt.Errorf("expected string, got %T", v)
	}
}

func toInt(v any) (int, error) {
	switch v := v.(type) {
	case nil:
		return 0, nil
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case uint64:
		return int(v), nil
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("expected integer, got %v", v)
		}

		return int(v), nil
	case string:
		return strconv.Atoi(v)
	default:
		return 0, fmt.Errorf("expected integer, got %T", v)
	}
}

func toBool(v any) (bool, error) {
	switch v := v.(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		return strconv.ParseBool(v)
	default:
		return false, fmt.Errorf("expected boolean, got %T", v)
	}
}

func toMap(v any) (map[string]any, error) {
	switch v := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		return cloneMap(v), nil
	default:
		return nil, fmt.Errorf("expected mapping, got %T", v)
	}
}
