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

package pgtype

import (
	"fmt"
	"reflect"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/protocol"
)

// ResultSet is read-only access to one result object.
type ResultSet interface {
	RowCount() int
	FieldCount() int
	FieldName(col int) string
	FieldOID(col int) Oid
	FieldFormat(col int) int16
	// Value returns the raw bytes of a cell, nil for NULL.
	Value(row, col int) []byte
	Length(row, col int) int
	IsNull(row, col int) bool
}

// Sink receives each result object of a request in order.
type Sink interface {
	Accept(m *OidMap, rs ResultSet) error
}

// Resetter is implemented by sinks that can drop what a failed attempt
// stored before the operation is retried.
type Resetter interface {
	Reset()
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(m *OidMap, rs ResultSet) error

// Accept calls f.
func (f SinkFunc) Accept(m *OidMap, rs ResultSet) error {
	return f(m, rs)
}

// Discard ignores all results.
var Discard Sink = SinkFunc(func(*OidMap, ResultSet) error { return nil })

// Rows returns a sink appending every row of every result to *dst.
// A struct T receives columns by position, so the column count must equal
// its field count; any other T requires exactly one column.
func Rows[T any](dst *[]T) Sink {
	return &rowSink[T]{dst: dst, base: len(*dst)}
}

// NamedRows is like Rows but fills struct fields by column name, using the
// `db` tag or the lower-cased field name. Extra columns are ignored.
func NamedRows[T any](dst *[]T) Sink {
	return &rowSink[T]{dst: dst, base: len(*dst), named: true}
}

type rowSink[T any] struct {
	dst   *[]T
	base  int
	named bool
}

func (s *rowSink[T]) Reset() {
	*s.dst = (*s.dst)[:s.base]
}

func (s *rowSink[T]) Accept(m *OidMap, rs ResultSet) error {
	if rs.FieldCount() == 0 {
		return nil
	}
	rt := reflect.TypeFor[T]()
	plan, err := planRow(m, rt, rs, s.named)
	if err != nil {
		return err
	}
	for row := range rs.RowCount() {
		var v T
		rv := reflect.ValueOf(&v).Elem()
		for col, idx := range plan {
			if len(idx) == 1 && idx[0] < 0 {
				continue
			}
			target := rv
			if idx != nil {
				target = rv.FieldByIndex(idx)
			}
			if err := decodeCell(m, rs, row, col, target); err != nil {
				return err
			}
		}
		*s.dst = append(*s.dst, v)
	}
	return nil
}

// planRow maps each column to a field index path, or nil for the whole row
// value.
func planRow(m *OidMap, rt reflect.Type, rs ResultSet, named bool) ([][]int, error) {
	n := rs.FieldCount()
	if !isRowStruct(m, rt) {
		if n != 1 {
			return nil, mterrors.New(mterrors.ColumnCountMismatch, "expected 1 column, got %d", n)
		}
		return [][]int{nil}, nil
	}

	fields := structFields(rt)
	if !named {
		if n != len(fields) {
			return nil, mterrors.New(mterrors.ColumnCountMismatch, "result has %d columns, %s has %d fields", n, rt, len(fields))
		}
		plan := make([][]int, n)
		for i, f := range fields {
			plan[i] = f.index
		}
		return plan, nil
	}

	byName := make(map[string]int, n)
	for col := range n {
		byName[normalizeColumn(rs.FieldName(col))] = col
	}
	plan := make([][]int, n)
	for _, f := range fields {
		col, ok := byName[f.name]
		if !ok {
			return nil, mterrors.New(mterrors.ColumnNotFound, "column %q not found in result for %s", f.name, rt)
		}
		plan[col] = f.index
	}
	// Columns no field asked for are skipped.
	for col := range plan {
		if plan[col] == nil {
			plan[col] = skipColumn
		}
	}
	return plan, nil
}

// skipColumn marks a column with no destination field.
var skipColumn = []int{-1}

func isRowStruct(m *OidMap, rt reflect.Type) bool {
	if rt.Kind() != reflect.Struct || isScalarStruct(rt) || rt == uuidType {
		return false
	}
	_, custom := m.custom(rt)
	return !custom
}

func decodeCell(m *OidMap, rs ResultSet, row, col int, target reflect.Value) error {
	if rs.FieldFormat(col) != protocol.FormatBinary {
		return mterrors.New(mterrors.UnsupportedType, "column %q is not in binary format", rs.FieldName(col))
	}
	err := m.decodeValue(rs.FieldOID(col), rs.Value(row, col), rs.IsNull(row, col), target)
	if err != nil {
		return fmt.Errorf("column %q: %w", rs.FieldName(col), err)
	}
	return nil
}

// ResultHolder keeps the last result object a request produced.
type ResultHolder struct {
	rs   ResultSet
	oids *OidMap
}

// Accept replaces the held result.
func (h *ResultHolder) Accept(m *OidMap, rs ResultSet) error {
	h.rs = rs
	h.oids = m
	return nil
}

// Reset drops the held result.
func (h *ResultHolder) Reset() {
	h.rs = nil
	h.oids = nil
}

// Result returns the held result, or nil.
func (h *ResultHolder) Result() ResultSet {
	return h.rs
}

// Len returns the number of rows held.
func (h *ResultHolder) Len() int {
	if h.rs == nil {
		return 0
	}
	return h.rs.RowCount()
}

// Columns returns the column names of the held result.
func (h *ResultHolder) Columns() []string {
	if h.rs == nil {
		return nil
	}
	cols := make([]string, h.rs.FieldCount())
	for i := range cols {
		cols[i] = h.rs.FieldName(i)
	}
	return cols
}

// Scan decodes one row into dst, one pointer per column.
func (h *ResultHolder) Scan(row int, dst ...any) error {
	if h.rs == nil || row < 0 || row >= h.rs.RowCount() {
		return mterrors.New(mterrors.ColumnCountMismatch, "row %d out of range", row)
	}
	if len(dst) != h.rs.FieldCount() {
		return mterrors.New(mterrors.ColumnCountMismatch, "result has %d columns, got %d destinations", h.rs.FieldCount(), len(dst))
	}
	for col, d := range dst {
		rv := reflect.ValueOf(d)
		if rv.Kind() != reflect.Pointer || rv.IsNil() {
			return mterrors.New(mterrors.UnsupportedType, "destination %d must be a non-nil pointer", col)
		}
		if err := decodeCell(h.oids, h.rs, row, col, rv.Elem()); err != nil {
			return err
		}
	}
	return nil
}

// Values decodes one row into natural Go values.
func (h *ResultHolder) Values(row int) ([]any, error) {
	if h.rs == nil {
		return nil, mterrors.New(mterrors.ColumnCountMismatch, "row %d out of range", row)
	}
	out := make([]any, h.rs.FieldCount())
	ptrs := make([]any, len(out))
	for i := range out {
		ptrs[i] = &out[i]
	}
	if err := h.Scan(row, ptrs...); err != nil {
		return nil, err
	}
	return out, nil
}
