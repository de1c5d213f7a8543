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

package mterrors

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorFormatting(t *testing.T) {
	assert.Equal(t, "timed-out", (&Error{Code: TimedOut}).Error())
	assert.Equal(t, "flush-failed: socket closed", New(FlushFailed, "socket closed").Error())
	assert.Equal(t, "io-error: read: EOF", Wrap(IOError, io.EOF, "read").Error())
	assert.Equal(t, "bad-array-size: expected 3, got 2", New(BadArraySize, "expected %d, got %d", 3, 2).Error())
}

func TestIsErrorThroughWrapping(t *testing.T) {
	inner := New(TimedOut, "deadline reached")
	err := fmt.Errorf("request failed: %w", Wrap(IOError, inner, "read"))

	assert.True(t, IsError(err, IOError))
	assert.True(t, IsError(err, TimedOut))
	assert.False(t, IsError(err, FlushFailed))
	assert.True(t, errors.Is(err, ErrTimedOut))
	assert.Equal(t, IOError, CodeOf(err))
	assert.False(t, IsError(nil, TimedOut))
}

func TestPgDiagnostic(t *testing.T) {
	d := &PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "42P01", Message: `relation "t" does not exist`}
	require.NoError(t, d.Validate())
	assert.Equal(t, "42", d.SQLSTATEClass())
	assert.True(t, d.IsClass("42"))
	assert.False(t, d.IsFatal())
	assert.Equal(t, "undefined_table", d.ConditionName())
	assert.Equal(t, "syntax_error_or_access_rule_violation", d.ClassName())
	assert.Equal(t, `ERROR: relation "t" does not exist (SQLSTATE 42P01)`, d.FullError())

	err := (&PgDiagnostic{}).Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Severity is empty")
}

func TestMatches(t *testing.T) {
	readonly := NewPgError(&PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "25006", Message: "read-only"}, "INSERT")
	adminShutdown := NewPgError(&PgDiagnostic{MessageType: 'E', Severity: "FATAL", Code: "57P01", Message: "terminating"}, "")
	syntax := NewPgError(&PgDiagnostic{MessageType: 'E', Severity: "ERROR", Code: "42601", Message: "syntax"}, "SELEC")

	tests := []struct {
		name string
		err  error
		cond Condition
		want bool
	}{
		{"start failed is connection", New(ConnectionStartFailed, "x"), ConditionConnection, true},
		{"wrapped io is connection", fmt.Errorf("op: %w", Wrap(IOError, io.EOF, "read")), ConditionConnection, true},
		{"raw eof is connection", io.EOF, ConditionConnection, true},
		{"timed out is timeout", New(TimedOut, ""), ConditionTimeout, true},
		{"timed out is not connection", New(TimedOut, ""), ConditionConnection, false},
		{"oid mismatch is type mismatch", New(OidTypeMismatch, ""), ConditionTypeMismatch, true},
		{"eof in payload is protocol", New(UnexpectedEOF, ""), ConditionProtocol, true},
		{"readonly", readonly, ConditionDatabaseReadonly, true},
		{"readonly is sql", readonly, ConditionSQL, true},
		{"readonly is not connection", readonly, ConditionConnection, false},
		{"admin shutdown is connection", adminShutdown, ConditionConnection, true},
		{"syntax is not connection", syntax, ConditionConnection, false},
		{"queue full is admission", ErrPoolQueueFull, ConditionPoolAdmission, true},
		{"nil", nil, ConditionConnection, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Matches(tt.err, tt.cond))
		})
	}

	assert.True(t, MatchesAny(readonly, ConditionConnection, ConditionDatabaseReadonly))
	assert.Equal(t, SQLError, CodeOf(syntax))
	assert.True(t, IsError(syntax, SQLError))
	assert.Equal(t, "database_readonly", ConditionDatabaseReadonly.String())
}
