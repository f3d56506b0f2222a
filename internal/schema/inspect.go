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

package schema

import (
	"bytes"
	"context"
	"fmt"
	"go/format"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/FerretDB/sqlorm/internal/backends"
	"github.com/FerretDB/sqlorm/internal/config"
	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
	"github.com/FerretDB/sqlorm/internal/util/observability"
)

// typeParamsRE matches type parameters like "(10, 2)".
var typeParamsRE = regexp.MustCompile(`\((\d+)(?:\s*,\s*(\d+))?\)`)

// Inspect introspects the given tables (or all tables if none are given)
// into dynamic models.
func (s *Schema) Inspect(ctx context.Context, alias string, tables []string) ([]*models.Model, error) {
	defer observability.FuncCall(ctx)()

	if len(tables) == 0 {
		var err error
		if tables, err = s.TableNames(ctx, alias); err != nil {
			return nil, err
		}
	}

	res := make([]*models.Model, 0, len(tables))

	for _, table := range tables {
		columns, err := s.GetTableColumns(ctx, alias, table)
		if err != nil {
			return nil, err
		}

		if len(columns) == 0 {
			return nil, ormerrors.Newf(ormerrors.ErrorCodeModel, "Table %s does not exist", table)
		}

		m, err := modelFromColumns(alias, table, columns)
		if err != nil {
			s.l.Warn("Failed to inspect table.", zap.String("table", table), zap.Error(err))
			continue
		}

		res = append(res, m)
	}

	return res, nil
}

// modelFromColumns creates a dynamic model for the table.
func modelFromColumns(alias, table string, columns []backends.Column) (*models.Model, error) {
	fields := make([]*models.Field, 0, len(columns))

	for _, c := range columns {
		f, err := fieldFromColumn(c)
		if err != nil {
			return nil, err
		}

		fields = append(fields, f)
	}

	name := camelCase(strings.TrimPrefix(table, config.AppLabel+"_"))

	return models.New(name, fields, &models.Options{Table: table, Using: alias})
}

// fieldFromColumn returns the field for the introspected column.
func fieldFromColumn(c backends.Column) (*models.Field, error) {
	t := strings.ToLower(strings.TrimSpace(c.Type))
	base, _, _ := strings.Cut(t, "(")
	base = strings.TrimSpace(base)

	var p1, p2 int
	if m := typeParamsRE.FindStringSubmatch(t); m != nil {
		p1, _ = strconv.Atoi(m[1])
		p2, _ = strconv.Atoi(m[2])
	}

	opts := map[string]any{}

	if c.Nullable && !c.PrimaryKey {
		opts["null"] = true
	}

	if c.PrimaryKey {
		opts["primary_key"] = true
	}

	var kind models.Kind

	switch {
	case c.PrimaryKey && (base == "integer" || base == "int"):
		kind = models.AutoField
	case c.PrimaryKey && base == "bigint":
		kind = models.BigAutoField
	case t == "tinyint(1)" || base == "bool" || base == "boolean":
		kind = models.BooleanField
	case base == "uuid" || ((base == "char" || base == "character" || base == "nvarchar") && p1 == 36):
		kind = models.UUIDField
	case strings.Contains(base, "char"):
		kind = models.CharField
		if p1 == 0 {
			kind = models.TextField
		} else {
			opts["max_length"] = p1
		}
	case strings.HasSuffix(base, "text") || strings.HasSuffix(base, "clob"):
		kind = models.TextField
	case base == "json" || base == "jsonb":
		kind = models.JSONField
	case base == "smallint" || base == "int2":
		kind = models.SmallIntegerField
	case base == "bigint" || base == "int8":
		kind = models.BigIntegerField
	case strings.Contains(t, "int") && strings.Contains(t, "unsigned"):
		kind = models.PositiveIntegerField
	case strings.Contains(base, "int"):
		kind = models.IntegerField
	case base == "real" || base == "float" || strings.HasPrefix(base, "double") || base == "float8" || base == "float4":
		kind = models.FloatField
	case base == "decimal" || base == "numeric":
		kind = models.DecimalField
		if p1 == 0 {
			p1, p2 = 10, 5
		}

		opts["max_digits"] = p1
		opts["decimal_places"] = p2
	case base == "date":
		kind = models.DateField
	case strings.HasPrefix(base, "datetime") || strings.HasPrefix(base, "timestamp"):
		kind = models.DateTimeField
	case strings.HasPrefix(base, "time"):
		kind = models.TimeField
	case strings.Contains(base, "blob") || base == "bytea" || strings.Contains(base, "binary"):
		kind = models.BinaryField
	default:
		kind = models.TextField
	}

	return models.NewField(c.Name, kind.String(), opts)
}

// RenderGo renders models as Go source of a package with the given name.
func RenderGo(pkg string, ms []*models.Model) ([]byte, error) {
	var body bytes.Buffer
	imports := map[string]bool{}

	for _, m := range ms {
		fmt.Fprintf(&body, "\n// %s is generated from table %q.\ntype %s struct {\n", m.Name, m.Table, m.Name)

		for _, f := range m.Fields {
			goName := camelCase(f.Name)

			goType := f.Kind.GoType()
			switch {
			case strings.HasPrefix(goType, "time."):
				imports["time"] = true
			case strings.HasPrefix(goType, "uuid."):
				imports["github.com/google/uuid"] = true
			}

			if f.Null && !strings.HasPrefix(goType, "[]") && !strings.HasPrefix(goType, "map[") {
				goType = "*" + goType
			}

			fmt.Fprintf(&body, "\t%s %s `%s:%q`\n", goName, goType, models.TagName, fieldTag(f, goName))
		}

		body.WriteString("}\n")
	}

	var src bytes.Buffer

	src.WriteString("// Code generated by sqlorm inspectdb; DO NOT EDIT.\n\n")
	fmt.Fprintf(&src, "package %s\n", pkg)

	if len(imports) > 0 {
		src.WriteString("\nimport (\n")

		for _, imp := range []string{"time", "github.com/google/uuid"} {
			if imports[imp] {
				fmt.Fprintf(&src, "\t%q\n", imp)
			}
		}

		src.WriteString(")\n")
	}

	src.Write(body.Bytes())

	res, err := format.Source(src.Bytes())
	if err != nil {
		return nil, ormerrors.New(ormerrors.ErrorCodeModel, "Failed to format generated source", err)
	}

	return res, nil
}

// fieldTag returns the struct tag value for the field.
func fieldTag(f *models.Field, goName string) string {
	parts := []string{f.Kind.String()}

	if models.SnakeCase(goName) != f.Column() {
		parts = append(parts, "column="+f.Column())
	}

	if f.MaxLength != 0 && f.Kind == models.CharField {
		parts = append(parts, "max_length="+strconv.Itoa(f.MaxLength))
	}

	if f.Kind == models.DecimalField {
		parts = append(parts, "max_digits="+strconv.Itoa(f.MaxDigits), "decimal_places="+strconv.Itoa(f.DecimalPlaces))
	}

	if f.PrimaryKey {
		parts = append(parts, "primary_key")
	}

	if f.Null {
		parts = append(parts, "null")
	}

	return strings.Join(parts, ",")
}

// camelCase converts snake_case names to Go identifiers, keeping the ID initialism.
func camelCase(s string) string {
	var sb strings.Builder

	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == '_' || r == '-' || r == ' ' }) {
		if strings.EqualFold(part, "id") {
			sb.WriteString("ID")
			continue
		}

		r := []rune(strings.ToLower(part))
		r[0] = unicode.ToUpper(r[0])
		sb.WriteString(string(r))
	}

	res := sb.String()
	if res == "" || !unicode.IsLetter([]rune(res)[0]) {
		res = "X" + res
	}

	return res
}
