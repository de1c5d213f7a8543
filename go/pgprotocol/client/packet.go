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
	"encoding/binary"
	"fmt"
	"io"
)

// maxMessageLength bounds a single backend message.
const maxMessageLength = 1 << 30

// nextMessage splits one complete message off the front of buf. It returns
// ok=false when buf does not yet hold a whole message.
func nextMessage(buf []byte) (msgType byte, body []byte, rest []byte, ok bool, err error) {
	if len(buf) < 5 {
		return 0, nil, buf, false, nil
	}
	length := binary.BigEndian.Uint32(buf[1:5])
	if length < 4 || length > maxMessageLength {
		return 0, nil, buf, false, fmt.Errorf("invalid message length: %d", length)
	}
	end := 1 + int(length)
	if len(buf) < end {
		return 0, nil, buf, false, nil
	}
	return buf[0], buf[5:end], buf[end:], true, nil
}

// AppendMessage appends a typed message with its length header.
func AppendMessage(buf []byte, msgType byte, body []byte) []byte {
	buf = append(buf, msgType)
	buf = binary.BigEndian.AppendUint32(buf, uint32(4+len(body)))
	return append(buf, body...)
}

// AppendUntyped appends a message without a type byte, as used by the
// startup, SSL, and cancel requests.
func AppendUntyped(buf []byte, body []byte) []byte {
	buf = binary.BigEndian.AppendUint32(buf, uint32(4+len(body)))
	return append(buf, body...)
}

// ReadMessage reads one typed message from r.
func ReadMessage(r io.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	length := binary.BigEndian.Uint32(hdr[1:])
	if length < 4 || length > maxMessageLength {
		return 0, nil, fmt.Errorf("invalid message length: %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, err
	}
	return hdr[0], body, nil
}

// ReadUntyped reads one message without a type byte.
func ReadUntyped(r io.Reader) ([]byte, error) {
	var hdr [4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(hdr[:])
	if length < 4 || length > maxMessageLength {
		return nil, fmt.Errorf("invalid message length: %d", length)
	}
	body := make([]byte, length-4)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}

// MessageReader reads fields out of a message body.
type MessageReader struct {
	buf []byte
	pos int
}

// NewMessageReader creates a reader over buf.
func NewMessageReader(buf []byte) *MessageReader {
	return &MessageReader{buf: buf}
}

// Remaining returns the number of unread bytes.
func (r *MessageReader) Remaining() int {
	return len(r.buf) - r.pos
}

// ReadByte reads a single byte.
func (r *MessageReader) ReadByte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, io.EOF
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

// ReadUint16 reads a big-endian uint16.
func (r *MessageReader) ReadUint16() (uint16, error) {
	if r.pos+2 > len(r.buf) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint16(r.buf[r.pos:])
	r.pos += 2
	return v, nil
}

// ReadUint32 reads a big-endian uint32.
func (r *MessageReader) ReadUint32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, io.EOF
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

// ReadInt16 reads a big-endian int16.
func (r *MessageReader) ReadInt16() (int16, error) {
	v, err := r.ReadUint16()
	return int16(v), err
}

// ReadInt32 reads a big-endian int32.
func (r *MessageReader) ReadInt32() (int32, error) {
	v, err := r.ReadUint32()
	return int32(v), err
}

// ReadString reads a null-terminated string.
func (r *MessageReader) ReadString() (string, error) {
	for i := r.pos; i < len(r.buf); i++ {
		if r.buf[i] == 0 {
			s := string(r.buf[r.pos:i])
			r.pos = i + 1
			return s, nil
		}
	}
	return "", io.EOF
}

// ReadBytes reads n bytes without copying.
func (r *MessageReader) ReadBytes(n int) ([]byte, error) {
	if n < 0 || r.pos+n > len(r.buf) {
		return nil, io.EOF
	}
	b := r.buf[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

// ReadByteString reads a length-prefixed value; -1 is NULL and yields nil.
func (r *MessageReader) ReadByteString() ([]byte, error) {
	length, err := r.ReadInt32()
	if err != nil {
		return nil, err
	}
	if length == -1 {
		return nil, nil
	}
	if length < 0 {
		return nil, fmt.Errorf("invalid byte string length: %d", length)
	}
	b, err := r.ReadBytes(int(length))
	if err != nil {
		return nil, err
	}
	return append(make([]byte, 0, len(b)), b...), nil
}

// ReadRest returns all unread bytes.
func (r *MessageReader) ReadRest() []byte {
	b := r.buf[r.pos:]
	r.pos = len(r.buf)
	return b
}

// MessageWriter builds a message body.
type MessageWriter struct {
	buf []byte
}

// NewMessageWriter creates an empty writer.
func NewMessageWriter() *MessageWriter {
	return &MessageWriter{buf: make([]byte, 0, 256)}
}

// Bytes returns the accumulated body.
func (w *MessageWriter) Bytes() []byte {
	return w.buf
}

// WriteByte appends one byte.
func (w *MessageWriter) WriteByte(b byte) {
	w.buf = append(w.buf, b)
}

// WriteBytes appends raw bytes.
func (w *MessageWriter) WriteBytes(b []byte) {
	w.buf = append(w.buf, b...)
}

// WriteUint16 appends a big-endian uint16.
func (w *MessageWriter) WriteUint16(v uint16) {
	w.buf = binary.BigEndian.AppendUint16(w.buf, v)
}

// WriteUint32 appends a big-endian uint32.
func (w *MessageWriter) WriteUint32(v uint32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, v)
}

// WriteInt16 appends a big-endian int16.
func (w *MessageWriter) WriteInt16(v int16) {
	w.WriteUint16(uint16(v))
}

// WriteInt32 appends a big-endian int32.
func (w *MessageWriter) WriteInt32(v int32) {
	w.WriteUint32(uint32(v))
}

// WriteString appends a null-terminated string.
func (w *MessageWriter) WriteString(s string) {
	w.buf = append(w.buf, s...)
	w.buf = append(w.buf, 0)
}

// WriteByteString appends a length-prefixed value, -1 for nil.
func (w *MessageWriter) WriteByteString(b []byte) {
	if b == nil {
		w.WriteInt32(-1)
		return
	}
	w.WriteInt32(int32(len(b)))
	w.WriteBytes(b)
}
