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

	"github.com/goccy/go-json"
)

// JSON wraps a value sent and received as jsonb.
type JSON[T any] struct {
	V T
}

type jsonMarshaler interface {
	marshalPgJSON() ([]byte, error)
}

type jsonUnmarshaler interface {
	unmarshalPgJSON([]byte) error
}

func (j JSON[T]) marshalPgJSON() ([]byte, error) {
	return json.Marshal(j.V)
}

func (j *JSON[T]) unmarshalPgJSON(b []byte) error {
	return json.Unmarshal(b, &j.V)
}

var jsonMarshalerType = reflect.TypeFor[jsonMarshaler]()

func isJSON(rt reflect.Type) bool {
	return rt.Kind() == reflect.Struct && rt.Implements(jsonMarshalerType)
}

// jsonbVersion is the leading format byte of binary jsonb.
const jsonbVersion = 1
