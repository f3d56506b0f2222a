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

// Package backends provides the dialect layer for all supported databases.
//
// Each backend knows how to open a connection pool for the configuration,
// how to quote identifiers and map field kinds to column types,
// how to introspect tables, and how to express schema changes.
//
// Backends are stateless; see Lookup.
package backends

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/util/fsql"
)

// ErrUnsupported indicates that the backend cannot express the operation with a single statement.
var ErrUnsupported = errors.New("operation is not supported by the database")

// Column describes a table column as reported by the database.
type Column struct {
	Name       string  `json:"name"`
	Type       string  `json:"type"`
	Nullable   bool    `json:"nullable"`
	Default    *string `json:"default,omitempty"`
	PrimaryKey bool    `json:"primary_key"`
}

// Features describes what the database server can do.
type Features struct {
	RenameColumn    bool
	DropColumn      bool
	AlterColumnType bool
}

// ForeignKey describes a FOREIGN KEY constraint of a table.
type ForeignKey struct {
	Columns    []string
	RefTable   string
	RefColumns []string // empty if the parent's primary key is referenced implicitly
	OnUpdate   string
	OnDelete   string
}

// Index describes an index of a table.
type Index struct {
	Name    string
	Unique  bool
	Origin  string   // "c" for CREATE INDEX, "u" for UNIQUE constraints, "pk" for primary keys
	Columns []string // empty string for expressions
	SQL     string   // stored statement; empty for indexes created by constraints
}

// TableRebuilder is implemented by backends that change tables by rebuilding them.
type TableRebuilder interface {
	// TableSQL returns the stored CREATE TABLE statement.
	TableSQL(ctx context.Context, q fsql.Querier, table string) (string, error)

	ForeignKeys(ctx context.Context, q fsql.Querier, table string) ([]ForeignKey, error)
	Indexes(ctx context.Context, q fsql.Querier, table string) ([]Index, error)

	// ReferencingTables returns tables with foreign keys to the given one, including itself.
	ReferencingTables(ctx context.Context, q fsql.Querier, table string) ([]string, error)

	// ForeignKeyViolations returns descriptions of rows of the table and referencing tables
	// that violate foreign key constraints.
	ForeignKeyViolations(ctx context.Context, q fsql.Querier, table string) ([]string, error)

	// DisableForeignKeys returns statements that disable foreign key enforcement
	// and table renaming side effects on a connection, and statements that restore them.
	// They must be executed outside of a transaction.
	DisableForeignKeys() (disable, restore []string)
}

// Backend is the dialect of a single database engine.
//
//nolint:interfacebloat // dialects are big
type Backend interface {
	// Name returns the canonical engine name.
	Name() string

	// Vendor returns the human-readable database name.
	Vendor() string

	// DriverName returns database/sql driver name.
	DriverName() string

	// DSN returns the driver-specific data source name.
	DSN(db *config.Database) (string, error)

	// Open opens a connection pool. It does not connect.
	Open(db *config.Database, l *zap.Logger) (*sql.DB, error)

	Quote(identifier string) string
	Placeholder(n int) string

	// Rebind replaces ? placeholders with backend-specific ones.
	Rebind(query string) string

	// ColumnType returns the column type for the field.
	ColumnType(f *models.Field) string

	// AutoPrimaryKey returns the column definition (without the name) for an auto-incrementing primary key.
	AutoPrimaryKey(f *models.Field) string

	// SameType returns true if the declared type and the type reported by introspection are the same.
	SameType(declared, actual string) bool

	TableNames(ctx context.Context, q fsql.Querier) ([]string, error)

	// TableColumns returns columns of the table, or empty slice if it does not exist.
	TableColumns(ctx context.Context, q fsql.Querier, table string) ([]Column, error)

	Version(ctx context.Context, q fsql.Querier) (string, error)
	Features(version string) Features

	// InsertReturningID executes the INSERT query and returns the generated primary key.
	//
	// The caller should use a transaction.
	InsertReturningID(ctx context.Context, q fsql.Querier, query string, pk string, args ...any) (int64, error)

	AddColumnSQL(table, definition string) string
	RenameColumnSQL(table, oldName, newName string) (string, error)
	AlterColumnTypeSQL(table, column, newType string) (string, error)
	DropColumnSQL(table, column string) (string, error)
	RenameTableSQL(oldName, newName string) string

	// CopyTableSQL returns a statement that creates a new table with all rows of the existing one.
	CopyTableSQL(newTable, oldTable string) string

	IsUndefinedTable(err error) bool
	IsDuplicateColumn(err error) bool
}

// QuoteWith quotes the identifier with the given quote character, doubling it inside.
func QuoteWith(identifier string, quote string) string {
	return quote + strings.ReplaceAll(identifier, quote, quote+quote) + quote
}

// RebindDollar replaces ? placeholders outside of quoted strings with $1, $2, ...
func RebindDollar(query string) string {
	var sb strings.Builder

	var n int
	var quote rune

	for _, r := range query {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == '?':
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))

			continue
		}

		sb.WriteRune(r)
	}

	return sb.String()
}

// ColumnDefinition returns the column definition used in CREATE TABLE.
func ColumnDefinition(b Backend, f *models.Field) string {
	if f.Kind.IsAuto() {
		return b.Quote(f.Column()) + " " + b.AutoPrimaryKey(f)
	}

	res := ColumnSQL(b, f.Column(), b.ColumnType(f), f.Null, "")

	switch {
	case f.PrimaryKey:
		res += " PRIMARY KEY"
	case f.Unique:
		res += " UNIQUE"
	}

	return res
}

// ColumnSQL returns the column definition for the given SQL type.
//
// Default is a literal SQL fragment; empty string means no default.
func ColumnSQL(b Backend, column, typ string, nullable bool, dflt string) string {
	var sb strings.Builder

	sb.WriteString(b.Quote(column))
	sb.WriteByte(' ')
	sb.WriteString(typ)

	if dflt != "" {
		sb.WriteString(" DEFAULT ")
		sb.WriteString(dflt)
	}

	if nullable {
		sb.WriteString(" NULL")
	} else {
		sb.WriteString(" NOT NULL")
	}

	return sb.String()
}

// ForeignKeyConstraint returns the table constraint for a foreign key field.
func ForeignKeyConstraint(b Backend, f *models.Field, refTable, refColumn string) string {
	return "FOREIGN KEY (" + b.Quote(f.Column()) + ") REFERENCES " +
		b.Quote(refTable) + " (" + b.Quote(refColumn) + ") ON DELETE " + f.OnDelete.SQL()
}

// VersionAtLeast compares dotted version strings like "3.25.0" numerically.
func VersionAtLeast(version string, major, minor, patch int) bool {
	want := []int{major, minor, patch}

	parts := strings.SplitN(version, ".", 3)
	for i, w := range want {
		var v int
		if i < len(parts) {
			v = leadingInt(parts[i])
		}

		if v != w {
			return v > w
		}
	}

	return true
}

// leadingInt parses leading digits of s.
func leadingInt(s string) int {
	var res int

	for _, r := range s {
		if r < '0' || r > '9' {
			break
		}

		res = res*10 + int(r-'0')
	}

	return res
}
