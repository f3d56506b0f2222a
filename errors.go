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
	"errors"

	"github.com/FerretDB/sqlorm/internal/models"
	"github.com/FerretDB/sqlorm/internal/ormerrors"
)

// Error is the error type returned by this package.
// It has a kind (see ErrorCode), a message, an optional hint, and an optional cause.
type Error = ormerrors.Error

// ErrorCode is the kind of Error.
type ErrorCode = ormerrors.ErrorCode

// Error kinds.
const (
	ErrorCodeConfiguration = ormerrors.ErrorCodeConfiguration
	ErrorCodeModel         = ormerrors.ErrorCodeModel
	ErrorCodeMigration     = ormerrors.ErrorCodeMigration
	ErrorCodeConnection    = ormerrors.ErrorCodeConnection
	ErrorCodeQuery         = ormerrors.ErrorCodeQuery
	ErrorCodeValidation    = ormerrors.ErrorCodeValidation
)

// Sentinels matching any Error of the given kind with errors.Is.
var (
	ErrConfiguration = ormerrors.ErrConfiguration
	ErrModel         = ormerrors.ErrModel
	ErrMigration     = ormerrors.ErrMigration
	ErrConnection    = ormerrors.ErrConnection
	ErrQuery         = ormerrors.ErrQuery
	ErrValidation    = ormerrors.ErrValidation
)

// Causes of query errors returned by Get.
var (
	ErrDoesNotExist            = errors.New("object does not exist")
	ErrMultipleObjectsReturned = errors.New("more than one object returned")
)

// FieldErrors maps field names to validation messages.
// It is the cause of validation errors returned by FullClean.
type FieldErrors = models.FieldErrors

// ErrorCodeIs returns true if err or any error in its chain is Error with one of the given codes.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	return ormerrors.ErrorCodeIs(err, code, codes...)
}
