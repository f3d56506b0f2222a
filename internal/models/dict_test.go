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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDict(t *testing.T) {
	t.Parallel()

	m := articleModel(t)

	a := &Article{
		ID:    1,
		Title: "Hello",
		TTL:   90 * time.Second,
	}
	a.CreatedAt = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	values, err := m.Values(a)
	require.NoError(t, err)

	d := ToDict(m, values, []string{"id", "title", "created_at", "ttl", "token"}, []string{"token"})
	assert.Equal(t, map[string]any{
		"id":         int64(1),
		"title":      "Hello",
		"created_at": "2024-05-06T07:08:09Z",
		"ttl":        90.0,
	}, d)

	b, err := ToJSON(m, values, 0)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"created_at":"2024-05-06T07:08:09Z"`)
	assert.Contains(t, string(b), `"token":"00000000-0000-0000-0000-000000000000"`)

	b, err = ToJSON(m, values, 2)
	require.NoError(t, err)
	assert.Contains(t, string(b), "\n  \"id\": 1,")
}
