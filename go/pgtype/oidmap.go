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
	"slices"

	"github.com/multigres/pgasync/go/mterrors"
)

// customType is a user type known to the server by name, e.g. an enum or a
// composite created with CREATE TYPE.
type customType struct {
	name string
	rt   reflect.Type
	oid  Oid
}

// OidMap maps custom Go types to server type names and their resolved
// oids. Built-in types need no registration.
//
// An OidMap is built once, cloned for each connection, and filled by the
// connection's oid request. It is not safe for concurrent mutation; once
// resolved it is only read.
type OidMap struct {
	byType map[reflect.Type]*customType
	byName map[string]*customType
	names  []string
}

// NewOidMap returns an empty map.
func NewOidMap() *OidMap {
	return &OidMap{
		byType: make(map[reflect.Type]*customType),
		byName: make(map[string]*customType),
	}
}

// Register adds T under the server type name and returns m.
// Struct types encode and decode as composites; other types use their
// underlying kind's wire format with the custom oid.
func Register[T any](m *OidMap, name string) *OidMap {
	rt := reflect.TypeFor[T]()
	ct := &customType{name: name, rt: rt}
	m.byType[rt] = ct
	if _, ok := m.byName[name]; !ok {
		m.names = append(m.names, name)
	}
	m.byName[name] = ct
	return m
}

// Clone returns a deep copy of m. A nil map clones to an empty one.
func (m *OidMap) Clone() *OidMap {
	c := NewOidMap()
	if m == nil {
		return c
	}
	for _, name := range m.names {
		ct := *m.byName[name]
		c.byName[name] = &ct
		c.byType[ct.rt] = &ct
	}
	c.names = slices.Clone(m.names)
	return c
}

// Empty reports whether no custom types are registered.
func (m *OidMap) Empty() bool {
	return m == nil || len(m.names) == 0
}

// Names returns the registered type names in registration order.
func (m *OidMap) Names() []string {
	if m == nil {
		return nil
	}
	return slices.Clone(m.names)
}

// Set records the oid resolved for name.
func (m *OidMap) Set(name string, oid Oid) error {
	ct, ok := m.byName[name]
	if !ok {
		return fmt.Errorf("type %q is not registered", name)
	}
	ct.oid = oid
	return nil
}

// Oid returns the oid resolved for name.
func (m *OidMap) Oid(name string) (Oid, bool) {
	if m == nil {
		return InvalidOid, false
	}
	ct, ok := m.byName[name]
	if !ok || ct.oid == InvalidOid {
		return InvalidOid, false
	}
	return ct.oid, true
}

func (m *OidMap) custom(rt reflect.Type) (*customType, bool) {
	if m == nil {
		return nil, false
	}
	ct, ok := m.byType[rt]
	return ct, ok
}

// OidOf returns the oid rt is sent with.
func (m *OidMap) OidOf(rt reflect.Type) (Oid, error) {
	for rt.Kind() == reflect.Pointer {
		rt = rt.Elem()
	}
	if ct, ok := m.custom(rt); ok {
		if ct.oid == InvalidOid {
			return InvalidOid, mterrors.New(mterrors.UnsupportedType, "oid for type %q is not resolved", ct.name)
		}
		return ct.oid, nil
	}
	if oid, ok := builtinOid(rt); ok {
		return oid, nil
	}
	if isArrayType(rt) {
		elem, err := m.OidOf(rt.Elem())
		if err != nil {
			return InvalidOid, err
		}
		if a := ArrayOf(elem); a != InvalidOid {
			return a, nil
		}
		return InvalidOid, mterrors.New(mterrors.UnsupportedType, "no array type known for %s", rt)
	}
	return InvalidOid, mterrors.New(mterrors.UnsupportedType, "no oid for Go type %s", rt)
}

// accepts reports whether a wire value of oid may be read into rt.
func (m *OidMap) accepts(rt reflect.Type, oid Oid) bool {
	if ct, ok := m.custom(rt); ok {
		return ct.oid != InvalidOid && ct.oid == oid
	}
	return accepts(rt, oid)
}

// isArrayType reports slices and arrays other than []byte.
func isArrayType(rt reflect.Type) bool {
	switch rt.Kind() {
	case reflect.Slice:
		return rt.Elem().Kind() != reflect.Uint8
	case reflect.Array:
		return rt != uuidType
	}
	return false
}
