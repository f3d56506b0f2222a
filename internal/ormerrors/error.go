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

// Package ormerrors provides errors returned by the public API.
package ormerrors

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/exp/slices"
)

//go:generate go run golang.org/x/tools/cmd/stringer -linecomment -type ErrorCode

// ErrorCode represents an error kind.
type ErrorCode int

// Error codes.
const (
	_ ErrorCode = iota

	ErrorCodeConfiguration // ConfigurationError
	ErrorCodeModel         // ModelError
	ErrorCodeMigration     // MigrationError
	ErrorCodeConnection    // ConnectionError
	ErrorCodeQuery         // QueryError
	ErrorCodeValidation    // ValidationError
)

// Error represents an error with a kind, a descriptive message, an optional hint,
// and an optional underlying error reported by the driver or the filesystem.
type Error struct {
	err  error
	msg  string
	hint string
	code ErrorCode
}

// New creates a new error.
//
// Code must not be 0. Err may be nil.
func New(code ErrorCode, msg string, err error) *Error {
	if code == 0 {
		panic("ormerrors.New: code must not be 0")
	}

	return &Error{
		code: code,
		msg:  msg,
		err:  err,
	}
}

// Newf is like New, but the message is formatted.
func Newf(code ErrorCode, format string, args ...any) *Error {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// WithHint returns a copy of the error with the given hint.
func (e *Error) WithHint(hint string) *Error {
	res := *e
	res.hint = hint

	return &res
}

// Code returns the error code.
func (e *Error) Code() ErrorCode {
	return e.code
}

// Message returns the error message without the hint and the underlying error.
func (e *Error) Message() string {
	return e.msg
}

// Hint returns the hint. It may be empty.
func (e *Error) Hint() string {
	return e.hint
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// Error implements error interface.
func (e *Error) Error() string {
	var sb strings.Builder

	sb.WriteString(e.msg)

	if e.err != nil {
		sb.WriteString(": ")
		sb.WriteString(e.err.Error())
	}

	if e.hint != "" {
		sb.WriteString("\nHint: ")
		sb.WriteString(e.hint)
	}

	return sb.String()
}

// Is makes errors.Is(err, &Error{code: X}) match any error with the code X.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error) //nolint:errorlint // target is not a chain
	if !ok {
		return false
	}

	return t.msg == "" && t.err == nil && t.code == e.code
}

// ErrorCodeIs returns true if err or any error in its chain is *Error with one of the given error codes.
//
// At least one error code must be given.
func ErrorCodeIs(err error, code ErrorCode, codes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}

	return e.code == code || slices.Contains(codes, e.code)
}

// Sentinel values for errors.Is checks.
var (
	ErrConfiguration = &Error{code: ErrorCodeConfiguration}
	ErrModel         = &Error{code: ErrorCodeModel}
	ErrMigration     = &Error{code: ErrorCodeMigration}
	ErrConnection    = &Error{code: ErrorCodeConnection}
	ErrQuery         = &Error{code: ErrorCodeQuery}
	ErrValidation    = &Error{code: ErrorCodeValidation}
)

// check interfaces
var (
	_ error = (*Error)(nil)
)
