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
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"slices"
	"strconv"

	"github.com/xdg-go/scram"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/protocol"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
)

// PollConnect implements transport.Handle. Each call advances the startup
// exchange as far as buffered input allows and reports what it needs next.
func (h *handle) PollConnect() transport.PollStatus {
	switch h.phase {
	case phaseDialing:
		select {
		case <-h.dialDone:
		default:
			return transport.PollingReading
		}
		if h.dialErr != nil {
			h.fail("%v", h.dialErr)
			return transport.PollingFailed
		}
		h.wbuf = h.appendStartup(h.wbuf)
		h.phase = phaseStartup
		return transport.PollingWriting
	case phaseStartup:
		if err := h.writeAll(); err != nil {
			h.fail("%v", err)
			return transport.PollingFailed
		}
		return h.processStartup()
	case phaseReady:
		return transport.PollingOK
	}
	return transport.PollingFailed
}

func (h *handle) appendStartup(buf []byte) []byte {
	w := NewMessageWriter()
	w.WriteUint32(protocol.ProtocolVersionNumber)
	w.WriteString("user")
	w.WriteString(h.user)
	if h.database != "" {
		w.WriteString("database")
		w.WriteString(h.database)
	}
	keys := make([]string, 0, len(h.runtime))
	for k := range h.runtime {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		w.WriteString(k)
		w.WriteString(h.runtime[k])
	}
	w.WriteByte(0)
	return AppendUntyped(buf, w.Bytes())
}

// processStartup consumes buffered startup messages until the server is
// ready for queries or more I/O is needed.
func (h *handle) processStartup() transport.PollStatus {
	for {
		msgType, body, rest, ok, err := nextMessage(h.rbuf)
		if err != nil {
			h.fail("%v", err)
			return transport.PollingFailed
		}
		if !ok {
			break
		}
		h.rbuf = rest
		switch msgType {
		case protocol.MsgAuthenticationRequest:
			if err := h.handleAuth(body); err != nil {
				h.fail("%v", err)
				return transport.PollingFailed
			}
		case protocol.MsgBackendKeyData:
			r := NewMessageReader(body)
			pid, err1 := r.ReadUint32()
			secret, err2 := r.ReadUint32()
			if err1 != nil || err2 != nil {
				h.fail("malformed BackendKeyData")
				return transport.PollingFailed
			}
			h.pid, h.secret = pid, secret
		case protocol.MsgParameterStatus:
			h.recordParameter(body)
		case protocol.MsgErrorResponse:
			diag := parseDiagnostic(msgType, body)
			h.fail("%s", diag.Error())
			return transport.PollingFailed
		case protocol.MsgNoticeResponse:
		case protocol.MsgReadyForQuery:
			if len(body) > 0 {
				h.txn = body[0]
			}
			h.phase = phaseReady
			h.logger.Debug("postgres connection established",
				"address", h.target.address,
				"tls", h.target.tls != nil,
				"backend_pid", h.pid)
			return transport.PollingOK
		default:
			h.fail("unexpected message %q during startup", msgType)
			return transport.PollingFailed
		}
	}
	if len(h.wbuf) > 0 {
		return transport.PollingWriting
	}
	return transport.PollingReading
}

func (h *handle) recordParameter(body []byte) {
	r := NewMessageReader(body)
	name, err := r.ReadString()
	if err != nil {
		return
	}
	value, err := r.ReadString()
	if err != nil {
		return
	}
	h.params[name] = value
}

func (h *handle) handleAuth(body []byte) error {
	r := NewMessageReader(body)
	authType, err := r.ReadUint32()
	if err != nil {
		return fmt.Errorf("malformed authentication request")
	}
	switch authType {
	case protocol.AuthOk:
		return nil
	case protocol.AuthCleartextPassword:
		h.queuePassword([]byte(h.password + "\x00"))
		return nil
	case protocol.AuthMD5Password:
		salt, err := r.ReadBytes(4)
		if err != nil {
			return fmt.Errorf("malformed MD5 salt")
		}
		h.queuePassword([]byte(md5Password(h.user, h.password, salt) + "\x00"))
		return nil
	case protocol.AuthSASL:
		return h.startSCRAM(r)
	case protocol.AuthSASLContinue:
		if h.scram == nil {
			return fmt.Errorf("unexpected SASL continue")
		}
		resp, err := h.scram.Step(string(r.ReadRest()))
		if err != nil {
			return fmt.Errorf("SCRAM: %w", err)
		}
		h.queuePassword([]byte(resp))
		return nil
	case protocol.AuthSASLFinal:
		if h.scram == nil {
			return fmt.Errorf("unexpected SASL final")
		}
		if _, err := h.scram.Step(string(r.ReadRest())); err != nil {
			return fmt.Errorf("SCRAM server signature: %w", err)
		}
		if !h.scram.Valid() {
			return fmt.Errorf("SCRAM server signature is invalid")
		}
		return nil
	}
	return fmt.Errorf("unsupported authentication method %d", authType)
}

func (h *handle) startSCRAM(r *MessageReader) error {
	var mechanisms []string
	for r.Remaining() > 0 {
		m, err := r.ReadString()
		if err != nil || m == "" {
			break
		}
		mechanisms = append(mechanisms, m)
	}
	if !slices.Contains(mechanisms, protocol.SCRAMSHA256) {
		return fmt.Errorf("no supported SASL mechanism in %v", mechanisms)
	}
	client, err := scram.SHA256.NewClient(h.user, h.password, "")
	if err != nil {
		return fmt.Errorf("SCRAM: %w", err)
	}
	h.scram = client.NewConversation()
	first, err := h.scram.Step("")
	if err != nil {
		return fmt.Errorf("SCRAM: %w", err)
	}
	w := NewMessageWriter()
	w.WriteString(protocol.SCRAMSHA256)
	w.WriteByteString([]byte(first))
	h.queuePassword(w.Bytes())
	return nil
}

func (h *handle) queuePassword(body []byte) {
	h.wbuf = AppendMessage(h.wbuf, protocol.MsgPasswordMsg, body)
}

// md5Password computes "md5" + md5(md5(password + user) + salt).
func md5Password(user, password string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	innerHex := hex.EncodeToString(inner[:])
	outer := md5.Sum(append([]byte(innerHex), salt...))
	return "md5" + hex.EncodeToString(outer[:])
}

func parseDiagnostic(msgType byte, body []byte) *mterrors.PgDiagnostic {
	d := &mterrors.PgDiagnostic{MessageType: msgType}
	r := NewMessageReader(body)
	for {
		code, err := r.ReadByte()
		if err != nil || code == 0 {
			return d
		}
		value, err := r.ReadString()
		if err != nil {
			return d
		}
		switch code {
		case protocol.FieldSeverity:
			d.Severity = value
		case protocol.FieldSeverityV:
			if d.Severity == "" {
				d.Severity = value
			}
		case protocol.FieldCode:
			d.Code = value
		case protocol.FieldMessage:
			d.Message = value
		case protocol.FieldDetail:
			d.Detail = value
		case protocol.FieldHint:
			d.Hint = value
		case protocol.FieldPosition:
			d.Position = atoi32(value)
		case protocol.FieldInternalPosition:
			d.InternalPosition = atoi32(value)
		case protocol.FieldInternalQuery:
			d.InternalQuery = value
		case protocol.FieldWhere:
			d.Where = value
		case protocol.FieldSchema:
			d.Schema = value
		case protocol.FieldTable:
			d.Table = value
		case protocol.FieldColumn:
			d.Column = value
		case protocol.FieldDataType:
			d.DataType = value
		case protocol.FieldConstraint:
			d.Constraint = value
		}
	}
}

func atoi32(s string) int32 {
	n, err := strconv.ParseInt(s, 10, 32)
	if err != nil {
		return 0
	}
	return int32(n)
}
