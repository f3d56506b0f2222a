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

package ormerrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError(t *testing.T) {
	t.Parallel()

	cause := errors.New("no such table: users")

	err := New(ErrorCodeQuery, "Failed to execute SQL", cause).WithHint("run migrate first")
	assert.Equal(t, "Failed to execute SQL: no such table: users\nHint: run migrate first", err.Error())
	assert.Equal(t, ErrorCodeQuery, err.Code())
	assert.Equal(t, "Failed to execute SQL", err.Message())
	assert.Equal(t, "run migrate first", err.Hint())

	wrapped := fmt.Errorf("wrapped: %w", err)
	assert.ErrorIs(t, wrapped, cause)
	assert.ErrorIs(t, wrapped, ErrQuery)
	assert.NotErrorIs(t, wrapped, ErrConfiguration)

	var e *Error
	require.ErrorAs(t, wrapped, &e)
	assert.Same(t, err, e)

	assert.True(t, ErrorCodeIs(wrapped, ErrorCodeConnection, ErrorCodeQuery))
	assert.False(t, ErrorCodeIs(wrapped, ErrorCodeModel))
	assert.False(t, ErrorCodeIs(cause, ErrorCodeQuery))
}

func TestErrorCodeString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "ConfigurationError", ErrorCodeConfiguration.String())
	assert.Equal(t, "ModelError", ErrorCodeModel.String())
	assert.Equal(t, "MigrationError", ErrorCodeMigration.String())
	assert.Equal(t, "ConnectionError", ErrorCodeConnection.String())
	assert.Equal(t, "QueryError", ErrorCodeQuery.String())
	assert.Equal(t, "ValidationError", ErrorCodeValidation.String())
	assert.Equal(t, "ErrorCode(42)", ErrorCode(42).String())
}

func TestNewPanics(t *testing.T) {
	t.Parallel()

	assert.Panics(t, func() { New(0, "x", nil) })
}
