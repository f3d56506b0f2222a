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
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/exp/slices"

	"github.com/FerretDB/sqlorm/internal/util/lazyerrors"
)

// ToDict renders values (keyed by field name) as a dictionary suitable for JSON.
//
// If fields is not empty, only those fields are included. Excluded fields are always omitted.
// Time values are rendered in ISO 8601, UUIDs as strings, durations in seconds.
func ToDict(m *Model, values map[string]any, fields, exclude []string) map[string]any {
	res := make(map[string]any, len(m.Fields))

	for _, f := range m.Fields {
		if len(fields) > 0 && !slices.Contains(fields, f.Name) {
			continue
		}

		if slices.Contains(exclude, f.Name) {
			continue
		}

		res[f.Name] = dictValue(f, values[f.Name])
	}

	return res
}

// ToJSON renders values as JSON. Positive indent enables pretty-printing.
func ToJSON(m *Model, values map[string]any, indent int) ([]byte, error) {
	d := ToDict(m, values, nil, nil)

	var b []byte
	var err error

	if indent > 0 {
		b, err = json.MarshalIndent(d, "", strings.Repeat(" ", indent))
	} else {
		b, err = json.Marshal(d)
	}

	if err != nil {
		return nil, lazyerrors.Error(err)
	}

	return b, nil
}

// dictValue converts a single value.
func dictValue(f *Field, v any) any {
	switch v := v.(type) {
	case time.Time:
		switch f.Kind {
		case DateField:
			return v.Format(time.DateOnly)
		case TimeField:
			return v.Format("15:04:05.999999")
		default:
			return v.Format("2006-01-02T15:04:05.999999Z07:00")
		}

	case time.Duration:
		return v.Seconds()

	case uuid.UUID:
		return v.String()

	default:
		return v
	}
}
