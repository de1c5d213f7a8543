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

package fakepgserver

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/multigres/pgasync/go/pgtype"
)

// Column describes one result column.
type Column struct {
	Name string
	Oid  pgtype.Oid
}

// Result is a canned response to a query. Values are already in binary
// format; a nil value is NULL.
type Result struct {
	Columns    []Column
	Rows       [][][]byte
	CommandTag string
	// Delay holds the response back, as a slow query would. A CancelRequest
	// for the session interrupts it.
	Delay time.Duration
}

// Error is a canned ErrorResponse.
type Error struct {
	Severity string
	Code     string
	Message  string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s (SQLSTATE %s)", e.Severity, e.Message, e.Code)
}

// NewError returns an ERROR severity response with the given SQLSTATE.
func NewError(code, message string) *Error {
	return &Error{Severity: "ERROR", Code: code, Message: message}
}

var defaultMap = pgtype.NewOidMap()

// MakeResult builds a result from column names and Go values, binary
// encoded with the default type map. Each column's oid comes from its first
// non-nil value, text when the column is all NULL.
func MakeResult(columns []string, rows [][]any) *Result {
	r := &Result{
		Columns:    make([]Column, len(columns)),
		Rows:       make([][][]byte, len(rows)),
		CommandTag: fmt.Sprintf("SELECT %d", len(rows)),
	}
	for i, name := range columns {
		r.Columns[i] = Column{Name: name, Oid: pgtype.TextOid}
	}
	typed := make([]bool, len(columns))
	for i, row := range rows {
		if len(row) != len(columns) {
			panic(fmt.Sprintf("fakepgserver: row %d has %d values, want %d", i, len(row), len(columns)))
		}
		r.Rows[i] = make([][]byte, len(row))
		for j, v := range row {
			oid, data, err := defaultMap.Encode(v)
			if err != nil {
				panic(fmt.Sprintf("fakepgserver: encoding %T: %v", v, err))
			}
			if data != nil && !typed[j] {
				r.Columns[j].Oid = oid
				typed[j] = true
			}
			r.Rows[i][j] = data
		}
	}
	return r
}

// CommandResult is a result without rows, as returned by DML and utility
// statements.
func CommandResult(tag string) *Result {
	return &Result{CommandTag: tag}
}

// WithDelay returns a copy of r that is sent after d.
func (r *Result) WithDelay(d time.Duration) *Result {
	c := *r
	c.Delay = d
	return &c
}

// textValue renders a binary value of oid in the text format the simple
// query protocol uses. Values the default map cannot read are sent as is.
func textValue(oid pgtype.Oid, data []byte) []byte {
	var v any
	if err := defaultMap.Decode(oid, data, &v); err != nil {
		return data
	}
	return []byte(formatText(oid, v))
}

func formatText(oid pgtype.Oid, v any) string {
	if oid == pgtype.JSONOid || oid == pgtype.JSONBOid {
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
	}
	switch v := v.(type) {
	case nil:
		return "NULL"
	case bool:
		if v {
			return "t"
		}
		return "f"
	case int16:
		return strconv.FormatInt(int64(v), 10)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case uint32:
		return strconv.FormatUint(uint64(v), 10)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case string:
		return v
	case []byte:
		return `\x` + hex.EncodeToString(v)
	case time.Time:
		if oid == pgtype.TimestampOid {
			return v.UTC().Format("2006-01-02 15:04:05.999999")
		}
		return v.UTC().Format("2006-01-02 15:04:05.999999-07")
	case uuid.UUID:
		return v.String()
	case []any:
		elems := make([]string, len(v))
		for i, e := range v {
			elems[i] = quoteArrayElem(formatText(pgtype.InvalidOid, e), e == nil)
		}
		return "{" + strings.Join(elems, ",") + "}"
	}
	return fmt.Sprint(v)
}

func quoteArrayElem(s string, null bool) string {
	if null {
		return s
	}
	if s == "" || strings.ContainsAny(s, `{},"\ `) || strings.EqualFold(s, "null") {
		return `"` + strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s) + `"`
	}
	return s
}
