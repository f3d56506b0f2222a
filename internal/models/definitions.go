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

package models

import (
	"bytes"
	"errors"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Definitions is the content of a model definition file.
type Definitions struct {
	Models []ModelDefinition `yaml:"models" json:"models"`
}

// ModelDefinition describes a single dynamic model.
type ModelDefinition struct {
	Name     string            `yaml:"name"               json:"name"`
	Table    string            `yaml:"table,omitempty"    json:"table,omitempty"`
	Using    string            `yaml:"using,omitempty"    json:"using,omitempty"`
	Ordering []string          `yaml:"ordering,omitempty" json:"ordering,omitempty"`
	Fields   []FieldDefinition `yaml:"fields"             json:"fields"`
}

// FieldDefinition describes a single field of a dynamic model.
type FieldDefinition struct {
	Name    string         `yaml:"name"              json:"name"`
	Type    string         `yaml:"type"              json:"type"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// ParseDefinitions parses model definitions in YAML (or JSON, which is a subset of YAML).
func ParseDefinitions(b []byte) ([]*Model, error) {
	var defs Definitions

	d := yaml.NewDecoder(bytes.NewReader(b))
	d.KnownFields(true)

	if err := d.Decode(&defs); err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeModel, "Failed to parse model definitions", err)
	}

	res := make([]*Model, 0, len(defs.Models))

	for _, md := range defs.Models {
		m, err := md.Model()
		if err != nil {
			return nil, err
		}

		res = append(res, m)
	}

	return res, nil
}

// Model creates a dynamic model from the definition.
func (md *ModelDefinition) Model() (*Model, error) {
	fields := make([]*Field, 0, len(md.Fields))

	for _, fd := range md.Fields {
		f, err := NewField(fd.Name, fd.Type, fd.Options)
		if err != nil {
			return nil, ormerrors.New(ormerrors.ErrorCodeModel, "Invalid model "+md.Name, err)
		}

		fields = append(fields, f)
	}

	return New(md.Name, fields, &Options{
		Table:    md.Table,
		Using:    md.Using,
		Ordering: md.Ordering,
	})
}

// LoadDefinitions reads model definitions from a file.
func LoadDefinitions(path string) ([]*Model, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Models file not found: %s", path)
		}

		return nil, ormerrors.New(ormerrors.ErrorCodeModel, "Failed to read models file", err)
	}

	return ParseDefinitions(b)
}

// Definition returns the definition of the model, suitable for model definition files.
func (m *Model) Definition() ModelDefinition {
	res := ModelDefinition{
		Name:     m.Name,
		Ordering: m.Ordering,
		Fields:   make([]FieldDefinition, len(m.Fields)),
	}

	if m.Table != DefaultTable(m.Name) {
		res.Table = m.Table
	}

	if m.Using != "default" {
		res.Using = m.Using
	}

	for i, f := range m.Fields {
		res.Fields[i] = FieldDefinition{
			Name:    f.Name,
			Type:    f.Kind.String(),
			Options: f.options(),
		}
	}

	return res
}

// options returns non-default field options.
func (f *Field) options() map[string]any {
	res := make(map[string]any)

	set := func(k string, v any, ok bool) {
		if ok {
			res[k] = v
		}
	}

	set("db_column", f.DBColumn, f.DBColumn != "")
	set("max_length", f.MaxLength, f.MaxLength != 0 && f.MaxLength != f.Kind.defaultMaxLength())
	set("max_digits", f.MaxDigits, f.MaxDigits != 0)
	set("decimal_places", f.DecimalPlaces, f.DecimalPlaces != 0)
	set("null", true, f.Null)
	set("blank", true, f.Blank)
	set("unique", true, f.Unique)
	set("primary_key", true, f.PrimaryKey)
	set("db_index", true, f.DBIndex)
	set("default", f.Default, f.Default != nil)
	set("to", f.To, f.To != "")
	set("on_delete", string(f.OnDelete), f.OnDelete != "")
	set("auto_now", true, f.AutoNow)
	set("auto_now_add", true, f.AutoNowAdd)

	if len(f.Choices) > 0 {
		choices := make([]any, len(f.Choices))
		for i, c := range f.Choices {
			choices[i] = []any{c.Value, c.Label}
		}

		res["choices"] = choices
	}

	if len(res) == 0 {
		return nil
	}

	return res
}
