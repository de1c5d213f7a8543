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

package pgasynctest

import (
	"fmt"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/protocol"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

// Result is an in-memory result object.
type Result struct {
	status transport.ResultStatus
	names  []string
	oids   []pgtype.Oid
	rows   [][][]byte
	tag    string
	diag   *mterrors.PgDiagnostic
}

var _ transport.Result = (*Result)(nil)

var encoder = pgtype.NewOidMap()

// Rows builds a one-column result named col from Go values.
func Rows(col string, values ...any) *Result {
	r := &Result{
		status: transport.ResultTuplesOK,
		names:  []string{col},
		oids:   []pgtype.Oid{pgtype.TextOid},
		tag:    fmt.Sprintf("SELECT %d", len(values)),
	}
	for i, v := range values {
		oid, data, err := encoder.Encode(v)
		if err != nil {
			panic(fmt.Sprintf("pgasynctest: encoding %T: %v", v, err))
		}
		if i == 0 {
			r.oids[0] = oid
		}
		r.rows = append(r.rows, [][]byte{data})
	}
	return r
}

// Command builds a result without rows.
func Command(tag string) *Result {
	return &Result{status: transport.ResultCommandOK, tag: tag}
}

// Error builds a fatal result with the given SQLSTATE.
func Error(code, message string) *Result {
	return &Result{
		status: transport.ResultFatalError,
		diag: &mterrors.PgDiagnostic{
			MessageType: 'E',
			Severity:    "ERROR",
			Code:        code,
			Message:     message,
		},
	}
}

func (r *Result) Status() transport.ResultStatus { return r.status }
func (r *Result) CommandTag() string { return r.tag }
func (r *Result) Diagnostic() *mterrors.PgDiagnostic { return r.diag }
func (r *Result) RowCount() int { return len(r.rows) }
func (r *Result) FieldCount() int { return len(r.names) }
func (r *Result) FieldName(col int) string { return r.names[col] }
func (r *Result) FieldOID(col int) pgtype.Oid { return r.oids[col] }
func (r *Result) FieldFormat(int) int16 { return protocol.FormatBinary }
func (r *Result) Value(row, col int) []byte { return r.rows[row][col] }
func (r *Result) Length(row, col int) int { return len(r.rows[row][col]) }
func (r *Result) IsNull(row, col int) bool { return r.rows[row][col] == nil }
