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

// Decode reads a binary value sent with oid into dst, which must be a
// non-nil pointer. A nil data is SQL NULL.
func (m *OidMap) Decode(oid Oid, data []byte, dst any) error {
	rv := reflect.ValueOf(dst)
	if rv.Kind() != reflect.Pointer || rv.IsNil() {
		return mterrors.New(mterrors.UnsupportedType, "decode destination must be a non-nil pointer, got %T", dst)
	}
	return m.decodeValue(oid, data, data == nil, rv.Elem())
}

func (m *OidMap) decodeValue(oid Oid, data []byte, null bool, dst reflect.Value) error {
	rt := dst.Type()
	switch {
	case rt.Kind() == reflect.Pointer:
		if null {
			dst.SetZero()
			return nil
		}
		if dst.IsNil() {
			dst.Set(reflect.New(rt.Elem()))
		}
		return m.decodeValue(oid, data, false, dst.Elem())
	case rt.Kind() == reflect.Interface && rt.NumMethod() == 0:
		if null {
			dst.SetZero()
			return nil
		}
		v, err := m.decodeAny(oid, data)
		if err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(v))
		return nil
	}

	if null {
		if rt.Kind() == reflect.Slice {
			dst.SetZero()
			return nil
		}
		return mterrors.New(mterrors.UnexpectedNull, "cannot read NULL into %s", rt)
	}

	if ct, ok := m.custom(rt); ok {
		if ct.oid == InvalidOid || ct.oid != oid {
			return mismatch(oid, rt)
		}
		if rt.Kind() == reflect.Struct {
			return m.decodeComposite(data, dst)
		}
		return decodeScalar(oid, data, dst)
	}
	if accepts(rt, oid) {
		return decodeScalar(oid, data, dst)
	}
	if _, ok := builtinOid(rt); ok {
		return mismatch(oid, rt)
	}
	if isArrayType(rt) {
		return m.decodeArray(data, dst)
	}
	if rt.Kind() == reflect.Struct && oid == RecordOid {
		return m.decodeComposite(data, dst)
	}
	return mismatch(oid, rt)
}

func mismatch(oid Oid, rt reflect.Type) error {
	name := TypeName(oid)
	if name == "" {
		name = "unknown"
	}
	return mterrors.New(mterrors.OidTypeMismatch, "cannot read oid %d (%s) into %s", oid, name, rt)
}

func wantLen(data []byte, n int, rt reflect.Type) error {
	if len(data) != n {
		return mterrors.New(mterrors.UnexpectedEOF, "reading %s: need %d bytes, have %d", rt, n, len(data))
	}
	return nil
}

func decodeScalar(oid Oid, data []byte, dst reflect.Value) error {
	rt := dst.Type()
	switch rt {
	case timeType:
		if err := wantLen(data, 8, rt); err != nil {
			return err
		}
		micros := int64(binary.BigEndian.Uint64(data))
		t := postgresEpoch.Add(time.Duration(micros) * time.Microsecond)
		dst.Set(reflect.ValueOf(t))
		return nil
	case uuidType:
		if err := wantLen(data, 16, rt); err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(uuid.UUID(data)))
		return nil
	}
	if isJSON(rt) {
		if oid == JSONBOid {
			if len(data) == 0 || data[0] != jsonbVersion {
				return mterrors.New(mterrors.UnexpectedEOF, "unsupported jsonb version")
			}
			data = data[1:]
		}
		if err := dst.Addr().Interface().(jsonUnmarshaler).unmarshalPgJSON(data); err != nil {
			return mterrors.Wrap(mterrors.OidTypeMismatch, err, "decoding json into %s", rt)
		}
		return nil
	}

	switch rt.Kind() {
	case reflect.Bool:
		if err := wantLen(data, 1, rt); err != nil {
			return err
		}
		dst.SetBool(data[0] != 0)
	case reflect.Int16, reflect.Int32, reflect.Int, reflect.Int64:
		switch len(data) {
		case 2:
			dst.SetInt(int64(int16(binary.BigEndian.Uint16(data))))
		case 4:
			dst.SetInt(int64(int32(binary.BigEndian.Uint32(data))))
		case 8:
			dst.SetInt(int64(binary.BigEndian.Uint64(data)))
		default:
			return mterrors.New(mterrors.UnexpectedEOF, "reading %s: bad integer length %d", rt, len(data))
		}
	case reflect.Uint32:
		if err := wantLen(data, 4, rt); err != nil {
			return err
		}
		dst.SetUint(uint64(binary.BigEndian.Uint32(data)))
	case reflect.Float32, reflect.Float64:
		switch len(data) {
		case 4:
			dst.SetFloat(float64(math.Float32frombits(binary.BigEndian.Uint32(data))))
		case 8:
			dst.SetFloat(math.Float64frombits(binary.BigEndian.Uint64(data)))
		default:
			return mterrors.New(mterrors.UnexpectedEOF, "reading %s: bad float length %d", rt, len(data))
		}
	case reflect.String:
		dst.SetString(string(data))
	case reflect.Slice:
		if rt.Elem().Kind() != reflect.Uint8 {
			return mismatch(oid, rt)
		}
		dst.SetBytes(append([]byte{}, data...))
	default:
		return mterrors.New(mterrors.UnsupportedType, "cannot decode into Go type %s", rt)
	}
	return nil
}

// decodeArray reads a one-dimensional array into a slice or Go array.
func (m *OidMap) decodeArray(data []byte, dst reflect.Value) error {
	rt := dst.Type()
	r := &wireReader{buf: data}
	ndims, err := r.int32("array dimensions")
	if err != nil {
		return err
	}
	if _, err := r.int32("array flags"); err != nil {
		return err
	}
	elemOid, err := r.uint32("array element oid")
	if err != nil {
		return err
	}
	if ndims > 1 {
		return mterrors.New(mterrors.BadArrayDimension, "%d-dimensional arrays are not supported", ndims)
	}

	size := int32(0)
	if ndims == 1 {
		if size, err = r.int32("array size"); err != nil {
			return err
		}
		if _, err := r.int32("array lower bound"); err != nil {
			return err
		}
		if size < 0 {
			return mterrors.New(mterrors.BadArraySize, "negative array size %d", size)
		}
	}

	switch rt.Kind() {
	case reflect.Slice:
		dst.Set(reflect.MakeSlice(rt, int(size), int(size)))
	case reflect.Array:
		if rt.Len() != int(size) {
			return mterrors.New(mterrors.BadArraySize, "array has %d elements, %s holds %d", size, rt, rt.Len())
		}
	}
	for i := range int(size) {
		elem, null, err := r.value("array element")
		if err != nil {
			return err
		}
		if err := m.decodeValue(Oid(elemOid), elem, null, dst.Index(i)); err != nil {
			return err
		}
	}
	return nil
}

// decodeComposite reads {field-count} then per field {oid, len, bytes}
// into the exported fields of a struct, in declaration order.
func (m *OidMap) decodeComposite(data []byte, dst reflect.Value) error {
	fields := structFields(dst.Type())
	r := &wireReader{buf: data}
	count, err := r.int32("composite field count")
	if err != nil {
		return err
	}
	if int(count) != len(fields) {
		return mterrors.New(mterrors.BadCompositeSize, "composite has %d fields, %s has %d", count, dst.Type(), len(fields))
	}
	for _, f := range fields {
		oid, err := r.uint32("composite field oid")
		if err != nil {
			return err
		}
		b, null, err := r.value("composite field")
		if err != nil {
			return err
		}
		if err := m.decodeValue(Oid(oid), b, null, dst.FieldByIndex(f.index)); err != nil {
			return err
		}
	}
	return nil
}

var (
	anySlice  = reflect.TypeFor[[]any]()
	elemOfArr = func() map[Oid]Oid {
		r := make(map[Oid]Oid, len(arrayOids))
		for e, a := range arrayOids {
			r[a] = e
		}
		return r
	}()
)

// decodeAny reads a value into its natural Go type. Unknown oids yield
// the raw bytes.
func (m *OidMap) decodeAny(oid Oid, data []byte) (any, error) {
	var target reflect.Type
	switch oid {
	case BoolOid:
		target = reflect.TypeFor[bool]()
	case Int2Oid:
		target = reflect.TypeFor[int16]()
	case Int4Oid:
		target = reflect.TypeFor[int32]()
	case Int8Oid:
		target = reflect.TypeFor[int64]()
	case OidOid:
		target = reflect.TypeFor[uint32]()
	case Float4Oid:
		target = reflect.TypeFor[float32]()
	case Float8Oid:
		target = reflect.TypeFor[float64]()
	case TextOid, VarcharOid, NameOid, BPCharOid:
		target = reflect.TypeFor[string]()
	case TimestampOid, TimestamptzOid:
		target = timeType
	case UUIDOid:
		target = uuidType
	case JSONOid, JSONBOid:
		target = reflect.TypeFor[JSON[any]]()
	default:
		if _, ok := elemOfArr[oid]; ok {
			target = anySlice
		}
	}
	if target == nil {
		return append([]byte{}, data...), nil
	}

	v := reflect.New(target).Elem()
	var err error
	if target == anySlice {
		err = m.decodeArray(data, v)
	} else {
		err = decodeScalar(oid, data, v)
	}
	if err != nil {
		return nil, err
	}
	if j, ok := v.Interface().(JSON[any]); ok {
		return j.V, nil
	}
	return v.Interface(), nil
}
