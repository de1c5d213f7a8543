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

// Package pgtype maps Go values to and from the PostgreSQL binary wire
// format, builds binary queries, and decodes result sets into sinks.
package pgtype

import (
	"reflect"
	"time"

	"github.com/google/uuid"
)

// Oid is a PostgreSQL type identifier.
type Oid uint32

// Built-in type oids.
const (
	InvalidOid     Oid = 0
	BoolOid        Oid = 16
	ByteaOid       Oid = 17
	NameOid        Oid = 19
	Int8Oid        Oid = 20
	Int2Oid        Oid = 21
	Int4Oid        Oid = 23
	TextOid        Oid = 25
	OidOid         Oid = 26
	JSONOid        Oid = 114
	Float4Oid      Oid = 700
	Float8Oid      Oid = 701
	BPCharOid      Oid = 1042
	VarcharOid     Oid = 1043
	TimestampOid   Oid = 1114
	TimestamptzOid Oid = 1184
	RecordOid      Oid = 2249
	UUIDOid        Oid = 2950
	JSONBOid       Oid = 3802
)

// arrayOids maps element oids to their array type oids.
var arrayOids = map[Oid]Oid{
	BoolOid:        1000,
	ByteaOid:       1001,
	NameOid:        1003,
	Int2Oid:        1005,
	Int4Oid:        1007,
	TextOid:        1009,
	VarcharOid:     1015,
	Int8Oid:        1016,
	Float4Oid:      1021,
	Float8Oid:      1022,
	OidOid:         1028,
	TimestampOid:   1115,
	TimestamptzOid: 1185,
	UUIDOid:        2951,
	JSONOid:        199,
	JSONBOid:       3807,
	RecordOid:      2287,
}

var oidNames = map[Oid]string{
	BoolOid:        "bool",
	ByteaOid:       "bytea",
	NameOid:        "name",
	Int8Oid:        "int8",
	Int2Oid:        "int2",
	Int4Oid:        "int4",
	TextOid:        "text",
	OidOid:         "oid",
	JSONOid:        "json",
	Float4Oid:      "float4",
	Float8Oid:      "float8",
	BPCharOid:      "bpchar",
	VarcharOid:     "varchar",
	TimestampOid:   "timestamp",
	TimestamptzOid: "timestamptz",
	RecordOid:      "record",
	UUIDOid:        "uuid",
	JSONBOid:       "jsonb",
}

// ArrayOf returns the array oid for elem, or InvalidOid.
func ArrayOf(elem Oid) Oid {
	return arrayOids[elem]
}

// TypeName returns the name of a built-in oid, or "" if unknown.
func TypeName(oid Oid) string {
	if n, ok := oidNames[oid]; ok {
		return n
	}
	for e, a := range arrayOids {
		if a == oid {
			return "_" + oidNames[e]
		}
	}
	return ""
}

var (
	timeType = reflect.TypeFor[time.Time]()
	uuidType = reflect.TypeFor[uuid.UUID]()
)

// builtinOid returns the oid a Go type encodes to when it is not a
// registered custom type. Slices and arrays are handled by the caller.
func builtinOid(rt reflect.Type) (Oid, bool) {
	switch rt {
	case timeType:
		return TimestamptzOid, true
	case uuidType:
		return UUIDOid, true
	}
	if isJSON(rt) {
		return JSONBOid, true
	}
	switch rt.Kind() {
	case reflect.Bool:
		return BoolOid, true
	case reflect.Int16:
		return Int2Oid, true
	case reflect.Int32:
		return Int4Oid, true
	case reflect.Int, reflect.Int64:
		return Int8Oid, true
	case reflect.Uint32:
		return OidOid, true
	case reflect.Float32:
		return Float4Oid, true
	case reflect.Float64:
		return Float8Oid, true
	case reflect.String:
		return TextOid, true
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return ByteaOid, true
		}
	}
	return InvalidOid, false
}

// accepts reports whether a value sent with oid can be read into a builtin
// Go type. Integer and float readers accept narrower wire types.
func accepts(rt reflect.Type, oid Oid) bool {
	switch rt {
	case timeType:
		return oid == TimestamptzOid || oid == TimestampOid
	case uuidType:
		return oid == UUIDOid
	}
	if isJSON(rt) {
		return oid == JSONOid || oid == JSONBOid
	}
	switch rt.Kind() {
	case reflect.Bool:
		return oid == BoolOid
	case reflect.Int16:
		return oid == Int2Oid
	case reflect.Int32:
		return oid == Int4Oid || oid == Int2Oid
	case reflect.Int, reflect.Int64:
		return oid == Int8Oid || oid == Int4Oid || oid == Int2Oid
	case reflect.Uint32:
		return oid == OidOid
	case reflect.Float32:
		return oid == Float4Oid
	case reflect.Float64:
		return oid == Float8Oid || oid == Float4Oid
	case reflect.String:
		return oid == TextOid || oid == VarcharOid || oid == NameOid || oid == BPCharOid
	case reflect.Slice:
		if rt.Elem().Kind() == reflect.Uint8 {
			return oid == ByteaOid
		}
	}
	return false
}
