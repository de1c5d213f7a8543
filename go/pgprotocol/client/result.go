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

package client

import (
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

type field struct {
	name   string
	oid    pgtype.Oid
	format int16
}

// result is one buffered result object.
type result struct {
	status    transport.ResultStatus
	described bool
	fields    []field
	rows      [][][]byte
	tag       string
	diag      *mterrors.PgDiagnostic
}

var _ transport.Result = (*result)(nil)

func (r *result) Status() transport.ResultStatus { return r.status }
func (r *result) CommandTag() string { return r.tag }
func (r *result) Diagnostic() *mterrors.PgDiagnostic { return r.diag }
func (r *result) RowCount() int { return len(r.rows) }
func (r *result) FieldCount() int { return len(r.fields) }
func (r *result) FieldName(col int) string { return r.fields[col].name }
func (r *result) FieldOID(col int) pgtype.Oid { return r.fields[col].oid }
func (r *result) FieldFormat(col int) int16 { return r.fields[col].format }
func (r *result) Value(row, col int) []byte { return r.rows[row][col] }
func (r *result) Length(row, col int) int { return len(r.rows[row][col]) }
func (r *result) IsNull(row, col int) bool { return r.rows[row][col] == nil }
