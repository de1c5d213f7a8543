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
	"strings"

	"github.com/lib/pq"
)

// PgDiagnostic is a PostgreSQL ErrorResponse or NoticeResponse.
type PgDiagnostic struct {
	// MessageType is 'E' for ErrorResponse and 'N' for NoticeResponse.
	MessageType      byte
	Severity         string
	Code             string
	Message          string
	Detail           string
	Hint             string
	Position         int32
	InternalPosition int32
	InternalQuery    string
	Where            string
	Schema           string
	Table            string
	Column           string
	DataType         string
	Constraint       string
}

// IsError returns true for an ErrorResponse.
func (d *PgDiagnostic) IsError() bool {
	return d.MessageType == 'E'
}

// SQLSTATE returns the five character SQLSTATE code.
func (d *PgDiagnostic) SQLSTATE() string {
	return d.Code
}

// SQLSTATEClass returns the first two characters of the SQLSTATE code.
//
//	diag := &PgDiagnostic{Code: "42P01"}
//	diag.SQLSTATEClass() // "42"
func (d *PgDiagnostic) SQLSTATEClass() string {
	if len(d.Code) < 2 {
		return ""
	}
	return d.Code[:2]
}

// IsClass reports whether the SQLSTATE belongs to class.
func (d *PgDiagnostic) IsClass(class string) bool {
	return d.SQLSTATEClass() == class
}

// ClassName returns the condition class name, e.g. "connection_exception".
func (d *PgDiagnostic) ClassName() string {
	return pq.ErrorCode(d.Code).Class().Name()
}

// ConditionName returns the condition name, e.g. "undefined_table".
func (d *PgDiagnostic) ConditionName() string {
	return pq.ErrorCode(d.Code).Name()
}

// IsFatal reports a FATAL or PANIC severity; the session is gone.
func (d *PgDiagnostic) IsFatal() bool {
	return d.Severity == "FATAL" || d.Severity == "PANIC"
}

// Error returns "SEVERITY: message".
func (d *PgDiagnostic) Error() string {
	if d == nil {
		return "ERROR: unknown error"
	}
	return d.Severity + ": " + d.Message
}

// FullError returns "SEVERITY: message (SQLSTATE code)".
func (d *PgDiagnostic) FullError() string {
	if d == nil {
		return "ERROR: unknown error (SQLSTATE 00000)"
	}
	return d.Severity + ": " + d.Message + " (SQLSTATE " + d.Code + ")"
}

// Validate checks that the fields every backend sends are present.
func (d *PgDiagnostic) Validate() error {
	if d == nil {
		return errors.New("diagnostic is nil")
	}

	var issues []string
	if d.MessageType != 'E' && d.MessageType != 'N' {
		issues = append(issues, fmt.Sprintf("invalid MessageType 0x%02x: must be 'E' or 'N'", d.MessageType))
	}
	if d.Severity == "" {
		issues = append(issues, "Severity is empty")
	}
	if d.Code == "" {
		issues = append(issues, "Code (SQLSTATE) is empty")
	}
	if d.Message == "" {
		issues = append(issues, "Message is empty")
	}
	if len(issues) > 0 {
		return fmt.Errorf("invalid PgDiagnostic: %s", strings.Join(issues, "; "))
	}
	return nil
}

// PgError is an error reported by the backend while executing a query.
type PgError struct {
	Diagnostic *PgDiagnostic
	// Query is the text that failed, when known.
	Query string
}

// NewPgError wraps diag.
func NewPgError(diag *PgDiagnostic, query string) *PgError {
	return &PgError{Diagnostic: diag, Query: query}
}

func (e *PgError) Error() string {
	return e.Diagnostic.FullError()
}

// SQLSTATE returns the backend's SQLSTATE code.
func (e *PgError) SQLSTATE() string {
	if e.Diagnostic == nil {
		return ""
	}
	return e.Diagnostic.Code
}

// AsPgError returns the backend error in err's chain, if any.
func AsPgError(err error) (*PgError, bool) {
	var pe *PgError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}
