// Copyright 2025 Supabase, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package mterrors defines the structured errors surfaced by pgasync and
// the classification used by retry and failover.
package mterrors

import (
	"errors"
	"fmt"
)

// Code identifies a library error.
type Code string

// Error codes.
const (
	ConnectionStartFailed Code = "connection-start-failed"
	SocketFailed          Code = "socket-failed"
	ConnectionStatusBad   Code = "connection-status-bad"
	ConnectPollFailed     Code = "connect-poll-failed"
	OidRequestFailed      Code = "oid-request-failed"

	SetNonblockingFailed  Code = "set-nonblocking-failed"
	SendQueryParamsFailed Code = "send-query-params-failed"
	FlushFailed           Code = "flush-failed"
	ConsumeInputFailed    Code = "consume-input-failed"

	TimedOut         Code = "timed-out"
	OperationAborted Code = "operation-aborted"
	IOError          Code = "io-error"

	OidTypeMismatch     Code = "oid-type-mismatch"
	UnexpectedEOF       Code = "unexpected-eof"
	BadArrayDimension   Code = "bad-array-dimension"
	BadArraySize        Code = "bad-array-size"
	BadCompositeSize    Code = "bad-composite-size"
	ColumnCountMismatch Code = "column-count-mismatch"
	ColumnNotFound      Code = "column-not-found"
	UnexpectedNull      Code = "unexpected-null"
	UnsupportedType     Code = "unsupported-type"
	BadQuery            Code = "bad-query"
	BadConfig           Code = "bad-config"

	PoolQueueFull    Code = "pool-queue-full"
	PoolQueueTimeout Code = "pool-queue-timeout"
	PoolClosed       Code = "pool-closed"

	CancelFailed Code = "cancel-failed"

	// SQLError marks errors reported by the backend itself.
	SQLError Code = "sql-error"
)

// Sentinels usable with errors.Is.
var (
	ErrTimedOut         = &Error{Code: TimedOut}
	ErrOperationAborted = &Error{Code: OperationAborted}
	ErrPoolQueueFull    = &Error{Code: PoolQueueFull}
	ErrPoolQueueTimeout = &Error{Code: PoolQueueTimeout}
	ErrPoolClosed       = &Error{Code: PoolClosed}
	ErrOidTypeMismatch  = &Error{Code: OidTypeMismatch}
)

// Error is a library error carrying a Code.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// New creates an Error with a formatted message.
func New(code Code, format string, args ...any) *Error {
	msg := format
	if len(args) != 0 {
		msg = fmt.Sprintf(format, args...)
	}
	return &Error{Code: code, Message: msg}
}

// Wrap creates an Error with code wrapping err.
func Wrap(code Code, err error, format string, args ...any) *Error {
	e := New(code, format, args...)
	e.Err = err
	return e
}

func (e *Error) Error() string {
	switch {
	case e.Message == "" && e.Err == nil:
		return string(e.Code)
	case e.Message == "":
		return string(e.Code) + ": " + e.Err.Error()
	case e.Err == nil:
		return string(e.Code) + ": " + e.Message
	default:
		return string(e.Code) + ": " + e.Message + ": " + e.Err.Error()
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf returns the code of the outermost *Error in err's chain, SQLError
// for backend errors, or "" when err carries no code.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var pe *PgError
	if errors.As(err, &pe) {
		return SQLError
	}
	return ""
}

// IsError reports whether any error in err's chain has the given code.
func IsError(err error, code Code) bool {
	if err == nil {
		return false
	}
	if code == SQLError {
		var pe *PgError
		return errors.As(err, &pe)
	}
	return errors.Is(err, &Error{Code: code})
}
