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

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

type timestamped struct {
	CreatedAt time.Time `sqlorm:"DateTimeField,auto_now_add"`
	UpdatedAt time.Time `sqlorm:"auto_now"`
}

type Article struct {
	timestamped

	ID       int64
	Title    string         `sqlorm:"CharField,max_length=200"`
	Slug     string         `sqlorm:"SlugField,unique"`
	Email    string         `sqlorm:"EmailField,blank"`
	Status   string         `sqlorm:"CharField,max_length=10,choices=draft|published,default=draft"`
	Views    int32          `sqlorm:"PositiveIntegerField,default=0"`
	Price    *string        `sqlorm:"DecimalField,max_digits=6,decimal_places=2"`
	Tags     map[string]any `sqlorm:"JSONField,null,blank"`
	AuthorID *int64         `sqlorm:"ForeignKey,to=Author,on_delete=SET_NULL"`
	Token    uuid.UUID
	TTL      time.Duration
	Ignored  string `sqlorm:"-"`

	internal int
}

func TestParseKind(t *testing.T) {
	t.Parallel()

	k, err := ParseKind("CharField")
	require.NoError(t, err)
	assert.Equal(t, CharField, k)
	assert.Equal(t, "CharField", k.String())

	k, err = ParseKind("fields.ForeignKey")
	require.NoError(t, err)
	assert.Equal(t, ForeignKey, k)

	_, err = ParseKind("FooField")
	require.ErrorIs(t, err, ormerrors.ErrModel)
	assert.EqualError(t, err, "Unknown field: FooField")

	assert.Equal(t, "Kind(99)", Kind(99).String())
}

func TestSnakeCase(t *testing.T) {
	t.Parallel()

	for in, expected := range map[string]string{
		"ID":         "id",
		"Title":      "title",
		"CreatedAt":  "created_at",
		"AuthorID":   "author_id",
		"HTTPStatus": "http_status",
		"Field2":     "field2",
	} {
		assert.Equal(t, expected, SnakeCase(in), in)
	}
}

func TestFromStruct(t *testing.T) {
	t.Parallel()

	m, err := FromStruct(new(Article), &Options{Ordering: []string{"-created_at"}})
	require.NoError(t, err)

	assert.Equal(t, "Article", m.Name)
	assert.Equal(t, "sqlorm_app", m.AppLabel)
	assert.Equal(t, "sqlorm_app_article", m.Table)
	assert.Equal(t, "default", m.Using)
	assert.Equal(t, []string{
		"created_at", "updated_at", "id", "title", "slug", "email", "status",
		"views", "price", "tags", "author", "token", "ttl",
	}, m.FieldNames())
	assert.Equal(t, []string{
		"created_at", "updated_at", "id", "title", "slug", "email", "status",
		"views", "price", "tags", "author_id", "token", "ttl",
	}, m.Columns())

	pk := m.PK()
	require.NotNil(t, pk)
	assert.Equal(t, "id", pk.Name)
	assert.Equal(t, BigAutoField, pk.Kind)
	assert.Same(t, pk, m.Field("pk"))

	assert.Equal(t, DateTimeField, m.Field("updated_at").Kind)
	assert.True(t, m.Field("updated_at").AutoNow)

	slug := m.Field("slug")
	assert.Equal(t, 50, slug.MaxLength)
	assert.True(t, slug.Unique)

	status := m.Field("status")
	assert.Equal(t, "draft", status.Default)
	assert.Equal(t, []Choice{{Value: "draft", Label: "draft"}, {Value: "published", Label: "published"}}, status.Choices)

	assert.Equal(t, int64(0), m.Field("views").Default)

	price := m.Field("price")
	assert.True(t, price.Null)
	assert.Equal(t, 6, price.MaxDigits)
	assert.Equal(t, 2, price.DecimalPlaces)

	author := m.Field("author_id")
	require.NotNil(t, author)
	assert.Equal(t, ForeignKey, author.Kind)
	assert.Equal(t, "Author", author.To)
	assert.Equal(t, SetNull, author.OnDelete)

	assert.Equal(t, UUIDField, m.Field("token").Kind)
	assert.Equal(t, DurationField, m.Field("ttl").Kind)
	assert.Nil(t, m.Field("ignored"))
	assert.Nil(t, m.Field("internal"))
}

func TestFromStructErrors(t *testing.T) {
	t.Parallel()

	type NoPK struct {
		Name string
	}

	type NoMaxLength struct {
		ID   int64
		Name string `sqlorm:"CharField"`
	}

	type UnknownKind struct {
		ID   int64
		Name string `sqlorm:"StringField"`
	}

	type UnknownOption struct {
		ID   int64
		Name string `sqlorm:"TextField,size=3"`
	}

	type FKWithoutTo struct {
		ID     int64
		Parent int64 `sqlorm:"ForeignKey,on_delete=CASCADE"`
	}

	for name, v := range map[string]any{
		"NoPK":          NoPK{},
		"NoMaxLength":   NoMaxLength{},
		"UnknownKind":   UnknownKind{},
		"UnknownOption": UnknownOption{},
		"FKWithoutTo":   FKWithoutTo{},
		"NotStruct":     42,
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := FromStruct(v, nil)
			assert.ErrorIs(t, err, ormerrors.ErrModel)
		})
	}
}

func TestNew(t *testing.T) {
	t.Parallel()

	title, err := NewField("title", "CharField", map[string]any{"max_length": 100})
	require.NoError(t, err)

	m, err := New("Note", []*Field{title}, &Options{Table: "notes"})
	require.NoError(t, err)

	assert.Equal(t, "notes", m.Table)
	assert.Equal(t, []string{"id", "title"}, m.FieldNames())
	assert.Nil(t, m.Type())

	_, err = m.Values(new(Article))
	assert.ErrorIs(t, err, ormerrors.ErrModel)

	_, err = NewField("x", "UnknownField", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Unknown field: UnknownField")

	_, err = New("Bad", []*Field{title}, &Options{Ordering: []string{"missing"}})
	assert.ErrorIs(t, err, ormerrors.ErrModel)
}
