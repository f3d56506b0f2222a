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

// Package models provides model metadata: the field catalog, models built from Go structs
// or definitions, and the registry that forms the application namespace.
package models

import (
	"reflect"
	"strings"

	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Options are optional model metadata, similar to Django's Meta class.
type Options struct {
	// Table overrides the default "sqlorm_app_<name>" table name.
	Table string

	// Using is the database alias; "default" if empty.
	Using string

	// Ordering lists field names; "-name" means descending order.
	Ordering []string

	// Abstract models are only used as bases.
	Abstract bool
}

// Model describes a registered model.
type Model struct {
	Name     string
	AppLabel string
	Table    string
	Using    string
	Ordering []string
	Abstract bool
	Fields   []*Field

	// nil for dynamic models
	typ reflect.Type
}

// New creates a dynamic model (one without a Go struct) with the given fields.
//
// If no field is a primary key, an auto-incrementing "id" field is added.
func New(name string, fields []*Field, opts *Options) (*Model, error) {
	m := newModel(name, opts)

	for _, f := range fields {
		m.Fields = append(m.Fields, f.clone())
	}

	if m.PK() == nil {
		id := &Field{Name: "id", Kind: BigAutoField, PrimaryKey: true}
		m.Fields = append([]*Field{id}, m.Fields...)
	}

	if err := m.Check(); err != nil {
		return nil, err
	}

	return m, nil
}

// FromStruct creates a model from a struct type or a pointer to it.
//
// Fields are described by `sqlorm:"..."` tags. An integer ID field without a tag
// becomes an auto-incrementing primary key; a model without a primary key is rejected.
func FromStruct(v any, opts *Options) (*Model, error) {
	t, ok := v.(reflect.Type)
	if !ok {
		t = reflect.TypeOf(v)
	}

	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}

	if t == nil || t.Kind() != reflect.Struct {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Model must be a struct, got %v", t)
	}

	m := newModel(t.Name(), opts)
	m.typ = t

	fields, err := fieldsFromStruct(t, nil)
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeModel, "Invalid model "+t.Name(), err)
	}

	m.Fields = fields

	if m.PK() == nil && !m.Abstract {
		return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s must have an ID field or a field with primary_key", m.Name).
			WithHint("Add `ID int64` to the struct")
	}

	if err = m.Check(); err != nil {
		return nil, err
	}

	return m, nil
}

// newModel creates a model without fields.
func newModel(name string, opts *Options) *Model {
	if opts == nil {
		opts = new(Options)
	}

	m := &Model{
		Name:     name,
		AppLabel: config.AppLabel,
		Table:    opts.Table,
		Using:    opts.Using,
		Ordering: slices.Clone(opts.Ordering),
		Abstract: opts.Abstract,
	}

	if m.Table == "" {
		m.Table = DefaultTable(name)
	}

	if m.Using == "" {
		m.Using = config.DefaultAlias
	}

	return m
}

// DefaultTable returns the default table name for a model name.
func DefaultTable(name string) string {
	return config.AppLabel + "_" + strings.ToLower(name)
}

// Type returns the Go struct type of the model, or nil for dynamic models.
func (m *Model) Type() reflect.Type {
	return m.typ
}

// PK returns the primary key field, or nil.
func (m *Model) PK() *Field {
	for _, f := range m.Fields {
		if f.PrimaryKey {
			return f
		}
	}

	return nil
}

// Field returns the field with the given name or column, or nil.
//
// The name "pk" refers to the primary key.
func (m *Model) Field(name string) *Field {
	if name == "pk" {
		return m.PK()
	}

	for _, f := range m.Fields {
		if f.Name == name {
			return f
		}
	}

	for _, f := range m.Fields {
		if f.Column() == name {
			return f
		}
	}

	return nil
}

// Columns returns column names in field order.
func (m *Model) Columns() []string {
	res := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		res[i] = f.Column()
	}

	return res
}

// FieldNames returns field names in field order.
func (m *Model) FieldNames() []string {
	res := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		res[i] = f.Name
	}

	return res
}

// Check validates model metadata.
func (m *Model) Check() error {
	if !isIdentifier(m.Name) {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Invalid model name %q", m.Name)
	}

	if !isIdentifier(m.Table) {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Invalid table name %q for model %s", m.Table, m.Name)
	}

	if len(m.Fields) == 0 {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s has no fields", m.Name)
	}

	seen := make(map[string]struct{}, len(m.Fields))

	var pks int

	for _, f := range m.Fields {
		if err := f.Check(); err != nil {
			return ormerrors.New(ormerrors.ErrorCodeModel, "Invalid model "+m.Name, err)
		}

		if _, ok := seen[f.Column()]; ok {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s has duplicate column %q", m.Name, f.Column())
		}

		seen[f.Column()] = struct{}{}

		if f.PrimaryKey {
			pks++
		}
	}

	if pks > 1 {
		return ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s has more than one primary key", m.Name)
	}

	for _, o := range m.Ordering {
		if m.Field(strings.TrimPrefix(o, "-")) == nil {
			return ormerrors.Newf(ormerrors.ErrorCodeModel, "Model %s: 'ordering' refers to unknown field %q", m.Name, o)
		}
	}

	return nil
}

// Clone returns a copy of the model with copied fields.
func (m *Model) Clone() *Model {
	res := *m
	res.Ordering = slices.Clone(m.Ordering)

	res.Fields = make([]*Field, len(m.Fields))
	for i, f := range m.Fields {
		res.Fields[i] = f.clone()
	}

	return &res
}
