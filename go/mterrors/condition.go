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
	"io"
	"net"
	"slices"
)

// Condition groups error codes and SQLSTATEs by how a caller should react
// to them.
type Condition int

const (
	// ConditionConnection means the connection could not be used; another
	// connection may succeed.
	ConditionConnection Condition = iota
	ConditionTimeout
	ConditionTypeMismatch
	ConditionProtocol
	// ConditionDatabaseReadonly is a write rejected by a read-only server.
	ConditionDatabaseReadonly
	ConditionIntrospection
	ConditionPoolAdmission
	// ConditionSQL is any error reported by the backend.
	ConditionSQL
)

var conditionNames = map[Condition]string{
	ConditionConnection:       "connection_error",
	ConditionTimeout:          "timeout",
	ConditionTypeMismatch:     "type_mismatch",
	ConditionProtocol:         "protocol_error",
	ConditionDatabaseReadonly: "database_readonly",
	ConditionIntrospection:    "introspection_error",
	ConditionPoolAdmission:    "pool_admission",
	ConditionSQL:              "sql_error",
}

func (c Condition) String() string {
	if n, ok := conditionNames[c]; ok {
		return n
	}
	return "unknown_condition"
}

var conditionCodes = map[Condition][]Code{
	ConditionConnection: {
		ConnectionStartFailed, SocketFailed, ConnectionStatusBad, ConnectPollFailed,
		SetNonblockingFailed, SendQueryParamsFailed, FlushFailed, ConsumeInputFailed, IOError,
	},
	ConditionTimeout:       {TimedOut, PoolQueueTimeout},
	ConditionTypeMismatch:  {OidTypeMismatch, UnexpectedNull, ColumnCountMismatch, ColumnNotFound, UnsupportedType},
	ConditionProtocol:      {UnexpectedEOF, BadArrayDimension, BadArraySize, BadCompositeSize},
	ConditionIntrospection: {OidRequestFailed},
	ConditionPoolAdmission: {PoolQueueFull, PoolQueueTimeout, PoolClosed},
}

// Matches reports whether err falls under cond.
func Matches(err error, cond Condition) bool {
	if err == nil {
		return false
	}
	if pe, ok := AsPgError(err); ok && pe.Diagnostic != nil {
		d := pe.Diagnostic
		switch cond {
		case ConditionSQL:
			return true
		case ConditionConnection:
			return d.IsClass("08") || d.IsClass("57") && d.IsFatal()
		case ConditionProtocol:
			return d.Code == "08P01"
		case ConditionDatabaseReadonly:
			return d.Code == "25006"
		}
	}
	if CodeOf(err) == "" {
		// Errors from outside the library: treat raw network failures as
		// connection errors.
		if cond == ConditionConnection {
			var ne net.Error
			return errors.As(err, &ne) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
		}
		return false
	}
	return slices.ContainsFunc(conditionCodes[cond], func(c Code) bool {
		return IsError(err, c)
	})
}

// MatchesAny reports whether err falls under any of conds.
func MatchesAny(err error, conds ...Condition) bool {
	for _, c := range conds {
		if Matches(err, c) {
			return true
		}
	}
	return false
}
