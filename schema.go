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

package sqlorm

import (
	"context"

	"github.com/FerretDB/sqlorm/internal/migrations"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/schema"
)

// DefaultBackupSuffix is the suffix of backup tables created by BackupTable.
const DefaultBackupSuffix = schema.DefaultBackupSuffix

// MigrationPlan is the result of MakeMigrations.
type MigrationPlan = migrations.Plan

// MigrationStatus describes a single migration file.
type MigrationStatus = migrations.Status

// model returns the registered model with the given name.
func (o *ORM) model(name string) (*models.Model, error) {
	m, ok := o.r.Get(name)
	if !ok {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s is not registered", name)
	}

	return m, nil
}

// RegisteredModels returns names of registered models, sorted.
func (o *ORM) RegisteredModels() []string {
	ms := o.r.Models()

	res := make([]string, len(ms))
	for i, m := range ms {
		res[i] = m.Name
	}

	return res
}

// LoadModels registers dynamic models from a YAML or JSON model definitions file.
// It returns names of registered models.
func (o *ORM) LoadModels(path string) ([]string, error) {
	ms, err := models.LoadDefinitions(path)
	if err != nil {
		return nil, err
	}

	res := make([]string, len(ms))

	for i, m := range ms {
		if err = o.r.Register(m); err != nil {
			return nil, err
		}

		res[i] = m.Name
	}

	return res, nil
}

// CreateAllTables creates missing tables of all registered models and returns their names.
// Errors are logged and do not stop other tables from being created.
func (o *ORM) CreateAllTables(ctx context.Context) ([]string, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	return s.CreateAllTables(ctx), nil
}

// MigrateAll creates tables or adds missing columns for all registered models.
// It returns applied changes.
func (o *ORM) MigrateAll(ctx context.Context) ([]string, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	return s.MigrateAll(ctx)
}

// GetSchemaDiff compares the registered model with its table.
func (o *ORM) GetSchemaDiff(ctx context.Context, model string) (*SchemaDiff, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	m, err := o.model(model)
	if err != nil {
		return nil, err
	}

	return s.GetSchemaDiff(ctx, m)
}

// SyncSchema adds missing columns of the registered model and, if dropExtra is true,
// drops columns not in the model. It returns applied changes.
func (o *ORM) SyncSchema(ctx context.Context, model string, dropExtra bool) ([]string, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	m, err := o.model(model)
	if err != nil {
		return nil, err
	}

	return s.SyncSchema(ctx, m, dropExtra)
}

// TableExists returns true if the table exists in the database with the given alias.
func (o *ORM) TableExists(ctx context.Context, alias, table string) (bool, error) {
	s, err := o.helpers()
	if err != nil {
		return false, err
	}

	return s.TableExists(ctx, alias, table)
}

// GetTableColumns returns columns of the table.
func (o *ORM) GetTableColumns(ctx context.Context, alias, table string) ([]Column, error) {
	return o.GetTableDescription(ctx, alias, table)
}

// ColumnExists returns true if the column exists.
func (o *ORM) ColumnExists(ctx context.Context, alias, table, column string) (bool, error) {
	s, err := o.helpers()
	if err != nil {
		return false, err
	}

	return s.ColumnExists(ctx, alias, table, column)
}

// AddColumn adds a column with a literal SQL type like "varchar(100)".
// Default is a literal SQL fragment; empty string means no default.
// A NOT NULL column requires a default.
func (o *ORM) AddColumn(ctx context.Context, alias, table, column, typ string, nullable bool, dflt string) error {
	s, err := o.helpers()
	if err != nil {
		return err
	}

	return s.AddColumn(ctx, alias, table, column, typ, nullable, dflt)
}

// SafeAddColumn is like AddColumn, but returns false if the column already exists.
func (o *ORM) SafeAddColumn(ctx context.Context, alias, table, column, typ string, nullable bool, dflt string) (bool, error) {
	s, err := o.helpers()
	if err != nil {
		return false, err
	}

	return s.SafeAddColumn(ctx, alias, table, column, typ, nullable, dflt)
}

// RenameColumn renames a column.
func (o *ORM) RenameColumn(ctx context.Context, alias, table, oldName, newName string) error {
	s, err := o.helpers()
	if err != nil {
		return err
	}

	return s.RenameColumn(ctx, alias, table, oldName, newName)
}

// ChangeColumnType changes the column type to a literal SQL type; existing values are converted.
func (o *ORM) ChangeColumnType(ctx context.Context, alias, table, column, newType string) error {
	s, err := o.helpers()
	if err != nil {
		return err
	}

	return s.ChangeColumnType(ctx, alias, table, column, newType)
}

// DropColumn drops a column.
func (o *ORM) DropColumn(ctx context.Context, alias, table, column string) error {
	s, err := o.helpers()
	if err != nil {
		return err
	}

	return s.DropColumn(ctx, alias, table, column)
}

// BackupTable copies the table with all rows to "<table><suffix>" and returns the backup table name.
// Empty suffix means DefaultBackupSuffix.
func (o *ORM) BackupTable(ctx context.Context, alias, table, suffix string) (string, error) {
	s, err := o.helpers()
	if err != nil {
		return "", err
	}

	return s.BackupTable(ctx, alias, table, suffix)
}

// RestoreTable replaces rows of the table with rows of its backup.
func (o *ORM) RestoreTable(ctx context.Context, alias, table, suffix string, dropBackup bool) error {
	s, err := o.helpers()
	if err != nil {
		return err
	}

	return s.RestoreTable(ctx, alias, table, suffix, dropBackup)
}

// RecreateTable replaces the table with one created by the newSchema CREATE TABLE statement,
// copying the given columns.
func (o *ORM) RecreateTable(ctx context.Context, alias, table, newSchema string, columnsToCopy []string) error {
	s, err := o.helpers()
	if err != nil {
		return err
	}

	return s.RecreateTable(ctx, alias, table, newSchema, columnsToCopy)
}

// InspectDB introspects tables (all if none are given) and returns Go source of model structs
// in the given package.
func (o *ORM) InspectDB(ctx context.Context, alias, pkg string, tables []string) ([]byte, error) {
	s, err := o.helpers()
	if err != nil {
		return nil, err
	}

	ms, err := s.Inspect(ctx, alias, tables)
	if err != nil {
		return nil, err
	}

	return schema.RenderGo(pkg, ms)
}

// migrator returns the migrator for the configured migrations directory.
func (o *ORM) migrator() (*migrations.Migrator, error) {
	h, err := o.handler()
	if err != nil {
		return nil, err
	}

	return migrations.New(h, o.r, h.Settings().MigrationsDir, o.logger().Named("migrations"))
}

// MakeMigrations generates the next migration file for changes of registered models.
// With dryRun, nothing is written.
func (o *ORM) MakeMigrations(name string, dryRun bool) (*MigrationPlan, error) {
	m, err := o.migrator()
	if err != nil {
		return nil, err
	}

	return m.MakeMigrations(name, dryRun)
}

// RunMigrations applies pending migrations to the default database and returns applied file names.
func (o *ORM) RunMigrations(ctx context.Context) ([]string, error) {
	m, err := o.migrator()
	if err != nil {
		return nil, err
	}

	return m.Migrate(ctx)
}

// ShowMigrations returns the status of all migration files.
func (o *ORM) ShowMigrations(ctx context.Context) ([]MigrationStatus, error) {
	m, err := o.migrator()
	if err != nil {
		return nil, err
	}

	return m.ShowMigrations(ctx)
}

// LoadModels registers dynamic models of the default instance from a definitions file.
func LoadModels(path string) ([]string, error) { return std.LoadModels(path) }

// CreateAllTables creates missing tables of all models of the default instance.
func CreateAllTables(ctx context.Context) ([]string, error) { return std.CreateAllTables(ctx) }

// MigrateAll creates tables or adds missing columns for all models of the default instance.
func MigrateAll(ctx context.Context) ([]string, error) { return std.MigrateAll(ctx) }

// TableExists returns true if the table exists in the database of the default instance.
func TableExists(ctx context.Context, alias, table string) (bool, error) {
	return std.TableExists(ctx, alias, table)
}

// GetTableColumns returns columns of the table in the database of the default instance.
func GetTableColumns(ctx context.Context, alias, table string) ([]Column, error) {
	return std.GetTableColumns(ctx, alias, table)
}

// ColumnExists returns true if the column exists in the database of the default instance.
func ColumnExists(ctx context.Context, alias, table, column string) (bool, error) {
	return std.ColumnExists(ctx, alias, table, column)
}

// AddColumn adds a column in the database of the default instance.
func AddColumn(ctx context.Context, alias, table, column, typ string, nullable bool, dflt string) error {
	return std.AddColumn(ctx, alias, table, column, typ, nullable, dflt)
}

// SafeAddColumn adds a column in the database of the default instance if it does not exist.
func SafeAddColumn(ctx context.Context, alias, table, column, typ string, nullable bool, dflt string) (bool, error) {
	return std.SafeAddColumn(ctx, alias, table, column, typ, nullable, dflt)
}

// RenameColumn renames a column in the database of the default instance.
func RenameColumn(ctx context.Context, alias, table, oldName, newName string) error {
	return std.RenameColumn(ctx, alias, table, oldName, newName)
}

// ChangeColumnType changes a column type in the database of the default instance.
func ChangeColumnType(ctx context.Context, alias, table, column, newType string) error {
	return std.ChangeColumnType(ctx, alias, table, column, newType)
}

// DropColumn drops a column in the database of the default instance.
func DropColumn(ctx context.Context, alias, table, column string) error {
	return std.DropColumn(ctx, alias, table, column)
}

// BackupTable copies the table in the database of the default instance.
func BackupTable(ctx context.Context, alias, table, suffix string) (string, error) {
	return std.BackupTable(ctx, alias, table, suffix)
}

// RestoreTable restores the table from its backup in the database of the default instance.
func RestoreTable(ctx context.Context, alias, table, suffix string, dropBackup bool) error {
	return std.RestoreTable(ctx, alias, table, suffix, dropBackup)
}

// RecreateTable recreates the table in the database of the default instance.
func RecreateTable(ctx context.Context, alias, table, newSchema string, columnsToCopy []string) error {
	return std.RecreateTable(ctx, alias, table, newSchema, columnsToCopy)
}

// GetSchemaDiff compares the model of the default instance with its table.
func GetSchemaDiff(ctx context.Context, model string) (*SchemaDiff, error) {
	return std.GetSchemaDiff(ctx, model)
}

// SyncSchema synchronizes the table of the model of the default instance.
func SyncSchema(ctx context.Context, model string, dropExtra bool) ([]string, error) {
	return std.SyncSchema(ctx, model, dropExtra)
}

// MakeMigrations generates the next migration file for models of the default instance.
func MakeMigrations(name string, dryRun bool) (*MigrationPlan, error) {
	return std.MakeMigrations(name, dryRun)
}

// RunMigrations applies pending migrations of the default instance.
func RunMigrations(ctx context.Context) ([]string, error) { return std.RunMigrations(ctx) }

// ShowMigrations returns the status of migration files of the default instance.
func ShowMigrations(ctx context.Context) ([]MigrationStatus, error) { return std.ShowMigrations(ctx) }
