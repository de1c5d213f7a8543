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
	"encoding/binary"
	"math"
	"reflect"
	"time"

	"github.com/google/uuid"

	"github.com/multigres/pgasync/go/mterrors"
)

// postgresEpoch is the zero point of binary timestamps.
var postgresEpoch = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

// Encode returns the oid and binary representation of v. A nil result
// with a nil error is SQL NULL.
func (m *OidMap) Encode(v any) (Oid, []byte, error) {
	oid, data, null, err := m.encodeValue(reflect.ValueOf(v))
	if err != nil || null {
		return oid, nil, err
	}
	if data == nil {
		data = []byte{}
	}
	return oid, data, nil
}

func (m *OidMap) encodeValue(rv reflect.Value) (Oid, []byte, bool, error) {
	if !rv.IsValid() {
		return InvalidOid, nil, true, nil
	}
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			oid, err := m.OidOf(rv.Type())
			if err != nil {
				oid = InvalidOid
			}
			return oid, nil, true, nil
		}
		rv = rv.Elem()
	}
	rt := rv.Type()

	if ct, ok := m.custom(rt); ok {
		if ct.oid == InvalidOid {
			return InvalidOid, nil, false, mterrors.New(mterrors.UnsupportedType, "oid for type %q is not resolved", ct.name)
		}
		if rt.Kind() == reflect.Struct {
			data, err := m.encodeComposite(rv)
			return ct.oid, data, false, err
		}
		data, err := encodeScalar(rv)
		return ct.oid, data, false, err
	}
	if oid, ok := builtinOid(rt); ok {
		if rt.Kind() == reflect.Slice && rv.IsNil() {
			return oid, nil, true, nil
		}
		data, err := encodeScalar(rv)
		return oid, data, false, err
	}
	if isArrayType(rt) {
		oid, err := m.OidOf(rt)
		if err != nil {
			return InvalidOid, nil, false, err
		}
		if rt.Kind() == reflect.Slice && rv.IsNil() {
			return oid, nil, true, nil
		}
		data, err := m.encodeArray(rv)
		return oid, data, false, err
	}
	return InvalidOid, nil, false, mterrors.New(mterrors.UnsupportedType, "cannot encode Go type %s", rt)
}

func encodeScalar(rv reflect.Value) ([]byte, error) {
	switch rv.Type() {
	case timeType:
		t := rv.Interface().(time.Time)
		micros := t.Sub(postgresEpoch).Microseconds()
		return binary.BigEndian.AppendUint64(nil, uint64(micros)), nil
	case uuidType:
		u := rv.Interface().(uuid.UUID)
		return u[:], nil
	}
	if isJSON(rv.Type()) {
		b, err := rv.Interface().(jsonMarshaler).marshalPgJSON()
		if err != nil {
			return nil, mterrors.Wrap(mterrors.UnsupportedType, err, "encoding json")
		}
		return append([]byte{jsonbVersion}, b...), nil
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			return []byte{1}, nil
		}
		return []byte{0}, nil
	case reflect.Int16:
		return binary.BigEndian.AppendUint16(nil, uint16(rv.Int())), nil
	case reflect.Int32:
		return binary.BigEndian.AppendUint32(nil, uint32(rv.Int())), nil
	case reflect.Int, reflect.Int64:
		return binary.BigEndian.AppendUint64(nil, uint64(rv.Int())), nil
	case reflect.Uint32:
		return binary.BigEndian.AppendUint32(nil, uint32(rv.Uint())), nil
	case reflect.Float32:
		return binary.BigEndian.AppendUint32(nil, math.Float32bits(float32(rv.Float()))), nil
	case reflect.Float64:
		return binary.BigEndian.AppendUint64(nil, math.Float64bits(rv.Float())), nil
	case reflect.String:
		return []byte(rv.String()), nil
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return append([]byte{}, rv.Bytes()...), nil
		}
	}
	return nil, mterrors.New(mterrors.UnsupportedType, "cannot encode Go type %s", rv.Type())
}

// encodeArray writes a one-dimensional array:
// {ndims, has-nulls, elem-oid} {size, lower-bound} then per element {len, bytes}.
func (m *OidMap) encodeArray(rv reflect.Value) ([]byte, error) {
	elemOid, err := m.OidOf(rv.Type().Elem())
	if err != nil {
		return nil, err
	}
	n := rv.Len()
	if n == 0 {
		b := appendInt32(nil, 0)
		b = appendInt32(b, 0)
		return binary.BigEndian.AppendUint32(b, uint32(elemOid)), nil
	}

	var body []byte
	hasNull := int32(0)
	for i := range n {
		_, data, null, err := m.encodeValue(rv.Index(i))
		if err != nil {
			return nil, err
		}
		if null {
			hasNull = 1
		}
		body = appendValue(body, data, null)
	}

	b := appendInt32(nil, 1)
	b = appendInt32(b, hasNull)
	b = binary.BigEndian.AppendUint32(b, uint32(elemOid))
	b = appendInt32(b, int32(n))
	b = appendInt32(b, 1)
	return append(b, body...), nil
}

// encodeComposite writes {field-count} then per field {oid, len, bytes}.
func (m *OidMap) encodeComposite(rv reflect.Value) ([]byte, error) {
	fields := structFields(rv.Type())
	b := appendInt32(nil, int32(len(fields)))
	for _, f := range fields {
		oid, data, null, err := m.encodeValue(rv.FieldByIndex(f.index))
		if err != nil {
			return nil, err
		}
		b = binary.BigEndian.AppendUint32(b, uint32(oid))
		b = appendValue(b, data, null)
	}
	return b, nil
}
