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

package backends

import (
	"database/sql"
	"time"

	"github.com/FerretDB/sqlorm/internal/config"
)

// ApplyPoolHints configures the connection pool from the database configuration.
//
// CONN_MAX_AGE of zero closes connections after use, negative values keep them forever.
// CONN_MAX_OPEN and CONN_MAX_IDLE limit the pool size if set.
func ApplyPoolHints(db *sql.DB, c *config.Database) {
	switch {
	case c.ConnMaxAge > 0:
		db.SetConnMaxLifetime(time.Duration(c.ConnMaxAge) * time.Second)
	case c.ConnMaxAge == 0:
		db.SetMaxIdleConns(0)
	default:
		db.SetConnMaxLifetime(0)
	}

	if c.ConnMaxOpen > 0 {
		db.SetMaxOpenConns(c.ConnMaxOpen)
	}

	if c.ConnMaxIdle > 0 {
		db.SetMaxIdleConns(c.ConnMaxIdle)
	}
}
