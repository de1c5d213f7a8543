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
	"reflect"
	"strings"
	"sync"
)

// field is one exported struct field in declaration order.
type field struct {
	name  string // column name: the `db` tag, or the lower-cased field name
	index []int
}

// fieldCache holds the field list per struct type.
var fieldCache sync.Map // reflect.Type -> []field

// structFields returns the exported fields of rt in declaration order.
// Embedded structs without a tag are flattened. Fields tagged `db:"-"`
// are skipped.
func structFields(rt reflect.Type) []field {
	if v, ok := fieldCache.Load(rt); ok {
		return v.([]field)
	}
	fields := collectFields(rt, nil)
	fieldCache.Store(rt, fields)
	return fields
}

func collectFields(rt reflect.Type, prefix []int) []field {
	var out []field
	for i := range rt.NumField() {
		sf := rt.Field(i)
		if !sf.IsExported() {
			continue
		}
		tag := sf.Tag.Get("db")
		if tag == "-" {
			continue
		}
		idx := append(append([]int{}, prefix...), i)
		if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct && !isScalarStruct(sf.Type) {
			out = append(out, collectFields(sf.Type, idx)...)
			continue
		}
		name := tag
		if name == "" {
			name = strings.ToLower(sf.Name)
		}
		out = append(out, field{name: name, index: idx})
	}
	return out
}

// isScalarStruct reports struct types that are read as a single value.
func isScalarStruct(rt reflect.Type) bool {
	return rt == timeType || isJSON(rt)
}

// normalizeColumn lower-cases a column name for lookup.
func normalizeColumn(s string) string {
	return strings.ToLower(s)
}
