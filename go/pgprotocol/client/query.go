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
	"errors"
	"fmt"

	"github.com/multigres/pgasync/go/pgprotocol/protocol"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

// SendQueryParams implements transport.Handle. It queues an unnamed
// Parse/Bind/Describe/Execute/Sync sequence asking for binary results.
func (h *handle) SendQueryParams(q *pgtype.BinaryQuery) error {
	if h.phase != phaseReady {
		return fmt.Errorf("connection is not ready: %s", h.errMsg)
	}
	if h.awaitReady {
		return errors.New("another command is already in progress")
	}
	if len(q.Values) != len(q.Types) || len(q.Formats) != len(q.Values) {
		return fmt.Errorf("parameter arrays differ in length: %d types, %d values, %d formats",
			len(q.Types), len(q.Values), len(q.Formats))
	}
	if len(q.Values) > 65535 {
		return fmt.Errorf("too many parameters: %d", len(q.Values))
	}

	w := NewMessageWriter()
	w.WriteString("")
	w.WriteString(q.Text)
	w.WriteInt16(int16(len(q.Types)))
	for _, oid := range q.Types {
		w.WriteUint32(uint32(oid))
	}
	h.wbuf = AppendMessage(h.wbuf, protocol.MsgParse, w.Bytes())

	w = NewMessageWriter()
	w.WriteString("")
	w.WriteString("")
	w.WriteInt16(int16(len(q.Formats)))
	for _, f := range q.Formats {
		w.WriteInt16(f)
	}
	w.WriteInt16(int16(len(q.Values)))
	for _, v := range q.Values {
		w.WriteByteString(v)
	}
	w.WriteInt16(1)
	w.WriteInt16(protocol.FormatBinary)
	h.wbuf = AppendMessage(h.wbuf, protocol.MsgBind, w.Bytes())

	w = NewMessageWriter()
	w.WriteByte('P')
	w.WriteString("")
	h.wbuf = AppendMessage(h.wbuf, protocol.MsgDescribe, w.Bytes())

	w = NewMessageWriter()
	w.WriteString("")
	w.WriteInt32(0)
	h.wbuf = AppendMessage(h.wbuf, protocol.MsgExecute, w.Bytes())

	h.wbuf = AppendMessage(h.wbuf, protocol.MsgSync, nil)

	h.awaitReady = true
	h.current = nil
	h.results = h.results[:0]
	return nil
}

// Flush implements transport.Handle.
func (h *handle) Flush() transport.FlushStatus {
	if err := h.writeAll(); err != nil {
		h.fail("%v", err)
		return transport.FlushError
	}
	return transport.FlushDone
}

func (h *handle) writeAll() error {
	if len(h.wbuf) == 0 {
		return nil
	}
	conn := h.netConn()
	if conn == nil {
		return errors.New("connection is closed")
	}
	_, err := conn.Write(h.wbuf)
	h.wbuf = h.wbuf[:0]
	if err != nil {
		return fmt.Errorf("could not send data to server: %w", err)
	}
	return nil
}

// IsBusy implements transport.Handle.
func (h *handle) IsBusy() bool {
	return h.awaitReady && len(h.results) == 0
}

// ConsumeInput implements transport.Handle. It turns every complete
// buffered message into result state.
func (h *handle) ConsumeInput() error {
	if h.phase != phaseReady {
		return fmt.Errorf("connection is not ready: %s", h.errMsg)
	}
	for {
		msgType, body, rest, ok, err := nextMessage(h.rbuf)
		if err != nil {
			h.fail("%v", err)
			return err
		}
		if !ok {
			return nil
		}
		h.rbuf = rest
		if err := h.handleMessage(msgType, body); err != nil {
			h.fail("%v", err)
			return err
		}
	}
}

func (h *handle) handleMessage(msgType byte, body []byte) error {
	switch msgType {
	case protocol.MsgParseComplete, protocol.MsgBindComplete,
		protocol.MsgNoData, protocol.MsgParameterDescription,
		protocol.MsgNoticeResponse, protocol.MsgNotificationResponse:
	case protocol.MsgParameterStatus:
		h.recordParameter(body)
	case protocol.MsgRowDescription:
		fields, err := parseRowDescription(body)
		if err != nil {
			return err
		}
		h.current = &result{fields: fields, described: true}
	case protocol.MsgDataRow:
		if h.current == nil {
			return errors.New("DataRow without RowDescription")
		}
		row, err := parseDataRow(body, len(h.current.fields))
		if err != nil {
			return err
		}
		h.current.rows = append(h.current.rows, row)
	case protocol.MsgCommandComplete:
		r := h.current
		if r == nil {
			r = &result{}
		}
		tag, _ := NewMessageReader(body).ReadString()
		r.tag = tag
		r.status = transport.ResultCommandOK
		if r.described {
			r.status = transport.ResultTuplesOK
		}
		h.results = append(h.results, r)
		h.current = nil
	case protocol.MsgEmptyQueryResponse:
		h.results = append(h.results, &result{status: transport.ResultEmptyQuery})
		h.current = nil
	case protocol.MsgErrorResponse:
		h.results = append(h.results, &result{
			status: transport.ResultFatalError,
			diag:   parseDiagnostic(msgType, body),
		})
		h.current = nil
	case protocol.MsgReadyForQuery:
		if len(body) > 0 {
			h.txn = body[0]
		}
		h.awaitReady = false
	default:
		return fmt.Errorf("unexpected message %q", msgType)
	}
	return nil
}

// GetResult implements transport.Handle.
func (h *handle) GetResult() transport.Result {
	if len(h.results) == 0 {
		return nil
	}
	r := h.results[0]
	h.results = h.results[1:]
	return r
}

func parseRowDescription(body []byte) ([]field, error) {
	r := NewMessageReader(body)
	count, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("malformed RowDescription: %w", err)
	}
	fields := make([]field, 0, count)
	for range count {
		name, err := r.ReadString()
		if err != nil {
			return nil, fmt.Errorf("malformed RowDescription: %w", err)
		}
		// table oid (4), attnum (2), type oid (4), size (2), typmod (4), format (2)
		rest, err := r.ReadBytes(18)
		if err != nil {
			return nil, fmt.Errorf("malformed RowDescription: %w", err)
		}
		fr := NewMessageReader(rest[6:])
		oid, _ := fr.ReadUint32()
		_, _ = fr.ReadBytes(6)
		format, _ := fr.ReadInt16()
		fields = append(fields, field{name: name, oid: pgtype.Oid(oid), format: format})
	}
	return fields, nil
}

func parseDataRow(body []byte, want int) ([][]byte, error) {
	r := NewMessageReader(body)
	count, err := r.ReadInt16()
	if err != nil {
		return nil, fmt.Errorf("malformed DataRow: %w", err)
	}
	if int(count) != want {
		return nil, fmt.Errorf("DataRow has %d columns, RowDescription has %d", count, want)
	}
	row := make([][]byte, count)
	for i := range row {
		if row[i], err = r.ReadByteString(); err != nil {
			return nil, fmt.Errorf("malformed DataRow: %w", err)
		}
	}
	return row, nil
}
