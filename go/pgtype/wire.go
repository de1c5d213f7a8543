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

	"github.com/multigres/pgasync/go/mterrors"
)

// wireReader reads big-endian fields out of a binary value.
type wireReader struct {
	buf []byte
	pos int
}

func (r *wireReader) remaining() int {
	return len(r.buf) - r.pos
}

func (r *wireReader) int32(what string) (int32, error) {
	v, err := r.uint32(what)
	return int32(v), err
}

func (r *wireReader) uint32(what string) (uint32, error) {
	if r.remaining() < 4 {
		return 0, mterrors.New(mterrors.UnexpectedEOF, "reading %s: need 4 bytes, have %d", what, r.remaining())
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// value reads a length-prefixed value. A length of -1 is null.
func (r *wireReader) value(what string) ([]byte, bool, error) {
	n, err := r.int32(what + " length")
	if err != nil {
		return nil, false, err
	}
	if n < 0 {
		return nil, true, nil
	}
	if r.remaining() < int(n) {
		return nil, false, mterrors.New(mterrors.UnexpectedEOF, "reading %s: need %d bytes, have %d", what, n, r.remaining())
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, false, nil
}

func appendInt32(b []byte, v int32) []byte {
	return binary.BigEndian.AppendUint32(b, uint32(v))
}

// appendValue appends a length-prefixed value, -1 for null.
func appendValue(b []byte, data []byte, null bool) []byte {
	if null {
		return appendInt32(b, -1)
	}
	b = appendInt32(b, int32(len(data)))
	return append(b, data...)
}
