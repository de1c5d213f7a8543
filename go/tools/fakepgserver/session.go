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

package fakepgserver

import (
	"bufio"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/xdg-go/scram"

	"github.com/multigres/pgasync/go/pgprotocol/client"
	"github.com/multigres/pgasync/go/pgprotocol/protocol"
)

var errSessionClosed = errors.New("session closed")

// session is one client connection.
type session struct {
	srv    *Server
	conn   net.Conn
	r      *bufio.Reader
	out    []byte
	pid    uint32
	secret uint32
	txn    byte

	query   string
	params  [][]byte
	pending *pendingResult
	skip    bool

	mu        sync.Mutex
	running   bool
	cancelCh  chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type pendingResult struct {
	result *Result
	err    *Error
}

func (s *Server) handleConn(conn net.Conn) {
	ss := &session{
		srv:      s,
		conn:     conn,
		r:        bufio.NewReader(conn),
		txn:      protocol.TxnStatusIdle,
		cancelCh: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	defer ss.close()
	if !s.track(ss) {
		return
	}
	defer s.untrack(ss)

	user, ok := ss.startup()
	if !ok {
		return
	}
	if err := ss.authenticate(user); err != nil {
		ss.sendError(&Error{Severity: "FATAL", Code: "28P01", Message: err.Error()})
		_ = ss.flush()
		return
	}

	ss.pid = s.nextPID.Add(1)
	var key [4]byte
	_, _ = rand.Read(key[:])
	ss.secret = binary.BigEndian.Uint32(key[:])
	if !s.register(ss) {
		return
	}
	defer s.unregister(ss)

	ss.sendAuth(protocol.AuthOk, nil)
	ss.sendParameter("server_version", "16.0")
	ss.sendParameter("client_encoding", "UTF8")
	w := client.NewMessageWriter()
	w.WriteUint32(ss.pid)
	w.WriteUint32(ss.secret)
	ss.send(protocol.MsgBackendKeyData, w.Bytes())
	ss.sendReady()
	if ss.flush() != nil {
		return
	}
	ss.loop()
}

// startup reads the startup packet, answering SSL requests with 'N' and
// serving cancel requests. It returns the requested user.
func (ss *session) startup() (string, bool) {
	for {
		body, err := client.ReadUntyped(ss.r)
		if err != nil {
			return "", false
		}
		r := client.NewMessageReader(body)
		code, err := r.ReadUint32()
		if err != nil {
			return "", false
		}
		switch code {
		case protocol.SSLRequestCode:
			if _, err := ss.conn.Write([]byte{'N'}); err != nil {
				return "", false
			}
		case protocol.CancelRequestCode:
			pid, _ := r.ReadUint32()
			secret, _ := r.ReadUint32()
			ss.srv.cancel(pid, secret)
			return "", false
		case protocol.ProtocolVersionNumber:
			params := make(map[string]string)
			for r.Remaining() > 1 {
				k, err1 := r.ReadString()
				v, err2 := r.ReadString()
				if err1 != nil || err2 != nil {
					return "", false
				}
				params[k] = v
			}
			return params["user"], true
		default:
			return "", false
		}
	}
}

func (ss *session) authenticate(user string) error {
	s := ss.srv
	if s.auth == AuthTrust {
		return nil
	}
	authFailed := fmt.Errorf("password authentication failed for user %q", user)
	if user != s.user {
		return authFailed
	}
	switch s.auth {
	case AuthCleartext:
		ss.sendAuth(protocol.AuthCleartextPassword, nil)
		pw, err := ss.readPassword()
		if err != nil {
			return err
		}
		if strings.TrimSuffix(string(pw), "\x00") != s.password {
			return authFailed
		}
	case AuthMD5:
		var salt [4]byte
		_, _ = rand.Read(salt[:])
		ss.sendAuth(protocol.AuthMD5Password, salt[:])
		pw, err := ss.readPassword()
		if err != nil {
			return err
		}
		if strings.TrimSuffix(string(pw), "\x00") != md5Password(s.user, s.password, salt[:]) {
			return authFailed
		}
	case AuthSCRAM:
		return ss.authenticateSCRAM(authFailed)
	}
	return nil
}

func (ss *session) authenticateSCRAM(authFailed error) error {
	s := ss.srv
	var salt [16]byte
	_, _ = rand.Read(salt[:])
	lookup := func(string) (scram.StoredCredentials, error) {
		c, err := scram.SHA256.NewClient(s.user, s.password, "")
		if err != nil {
			return scram.StoredCredentials{}, err
		}
		return c.GetStoredCredentials(scram.KeyFactors{Salt: string(salt[:]), Iters: 4096}), nil
	}
	srv, err := scram.SHA256.NewServer(lookup)
	if err != nil {
		return err
	}
	conv := srv.NewConversation()

	w := client.NewMessageWriter()
	w.WriteString(protocol.SCRAMSHA256)
	w.WriteByte(0)
	ss.sendAuth(protocol.AuthSASL, w.Bytes())
	body, err := ss.readPassword()
	if err != nil {
		return err
	}
	r := client.NewMessageReader(body)
	if mech, err := r.ReadString(); err != nil || mech != protocol.SCRAMSHA256 {
		return fmt.Errorf("unsupported SASL mechanism")
	}
	first, err := r.ReadByteString()
	if err != nil {
		return err
	}
	serverFirst, err := conv.Step(string(first))
	if err != nil {
		return authFailed
	}
	ss.sendAuth(protocol.AuthSASLContinue, []byte(serverFirst))

	final, err := ss.readPassword()
	if err != nil {
		return err
	}
	serverFinal, err := conv.Step(string(final))
	if err != nil || !conv.Valid() {
		return authFailed
	}
	ss.sendAuth(protocol.AuthSASLFinal, []byte(serverFinal))
	return nil
}

func (ss *session) readPassword() ([]byte, error) {
	if err := ss.flush(); err != nil {
		return nil, err
	}
	msgType, body, err := client.ReadMessage(ss.r)
	if err != nil {
		return nil, err
	}
	if msgType != protocol.MsgPasswordMsg {
		return nil, fmt.Errorf("expected password message, got %q", msgType)
	}
	return body, nil
}

func (ss *session) loop() {
	for {
		msgType, body, err := client.ReadMessage(ss.r)
		if err != nil {
			return
		}
		r := client.NewMessageReader(body)
		switch msgType {
		case protocol.MsgTerminate:
			return
		case protocol.MsgSync:
			ss.skip = false
			ss.pending = nil
			ss.sendReady()
			if ss.flush() != nil {
				return
			}
		case protocol.MsgQuery:
			q, _ := r.ReadString()
			ss.query, ss.params = q, nil
			if ss.execute(ss.resolve(), true) != nil {
				return
			}
			ss.skip = false
			ss.sendReady()
			if ss.flush() != nil {
				return
			}
		default:
			if ss.skip {
				continue
			}
			if err := ss.extended(msgType, r); err != nil {
				return
			}
		}
	}
}

func (ss *session) extended(msgType byte, r *client.MessageReader) error {
	switch msgType {
	case protocol.MsgParse:
		_, _ = r.ReadString()
		ss.query, _ = r.ReadString()
		ss.params = nil
		ss.send(protocol.MsgParseComplete, nil)
	case protocol.MsgBind:
		_, _ = r.ReadString()
		_, _ = r.ReadString()
		nf, _ := r.ReadInt16()
		for range nf {
			_, _ = r.ReadInt16()
		}
		np, _ := r.ReadInt16()
		ss.params = make([][]byte, np)
		for i := range ss.params {
			ss.params[i], _ = r.ReadByteString()
		}
		ss.send(protocol.MsgBindComplete, nil)
	case protocol.MsgDescribe:
		ss.pending = ss.resolve()
		if ss.pending.err != nil {
			ss.fail(ss.pending.err)
			return nil
		}
		ss.describe(ss.pending.result)
	case protocol.MsgExecute:
		p := ss.pending
		if p == nil {
			p = ss.resolve()
		}
		ss.pending = nil
		return ss.execute(p, false)
	case 'H':
		return ss.flush()
	}
	return nil
}

// resolve looks up the response for the current query, applying
// failed-transaction semantics.
func (ss *session) resolve() *pendingResult {
	if ss.txn == protocol.TxnStatusFailed {
		if tag, ok := txnControlTag(ss.query); ok && tag != "BEGIN" {
			return &pendingResult{result: CommandResult("ROLLBACK")}
		}
		return &pendingResult{err: NewError("25P02", "current transaction is aborted, commands ignored until end of transaction block")}
	}
	result, err := ss.srv.handleQuery(ss.query, ss.params)
	if result == nil && err == nil {
		result = CommandResult("SELECT 0")
	}
	return &pendingResult{result: result, err: err}
}

func (ss *session) describe(res *Result) {
	if len(res.Columns) == 0 {
		ss.send(protocol.MsgNoData, nil)
		return
	}
	ss.sendRowDescription(res, protocol.FormatBinary)
}

// sendRowDescription announces res's columns in format. Simple-query
// results are always text; extended ones are binary.
func (ss *session) sendRowDescription(res *Result, format int16) {
	w := client.NewMessageWriter()
	w.WriteInt16(int16(len(res.Columns)))
	for _, c := range res.Columns {
		w.WriteString(c.Name)
		w.WriteUint32(0)
		w.WriteInt16(0)
		w.WriteUint32(uint32(c.Oid))
		w.WriteInt16(-1)
		w.WriteInt32(-1)
		w.WriteInt16(format)
	}
	ss.send(protocol.MsgRowDescription, w.Bytes())
}

func (ss *session) execute(p *pendingResult, simple bool) error {
	if p.err != nil {
		ss.fail(p.err)
		return nil
	}
	res := p.result
	if res.Delay > 0 {
		if err := ss.flush(); err != nil {
			return err
		}
		canceled, err := ss.sleep(res.Delay)
		if err != nil {
			return err
		}
		if canceled {
			ss.fail(NewError("57014", "canceling statement due to user request"))
			return nil
		}
	}
	if simple && len(res.Columns) != 0 {
		ss.sendRowDescription(res, protocol.FormatText)
	}
	for _, row := range res.Rows {
		w := client.NewMessageWriter()
		w.WriteInt16(int16(len(row)))
		for i, v := range row {
			if simple && v != nil {
				v = textValue(res.Columns[i].Oid, v)
			}
			w.WriteByteString(v)
		}
		ss.send(protocol.MsgDataRow, w.Bytes())
	}
	w := client.NewMessageWriter()
	w.WriteString(res.CommandTag)
	ss.send(protocol.MsgCommandComplete, w.Bytes())

	switch res.CommandTag {
	case "BEGIN":
		ss.txn = protocol.TxnStatusInBlock
	case "COMMIT", "ROLLBACK":
		ss.txn = protocol.TxnStatusIdle
	}
	return nil
}

// sleep waits for d unless the query is canceled or the session closed.
func (ss *session) sleep(d time.Duration) (bool, error) {
	ss.mu.Lock()
	ss.running = true
	ss.mu.Unlock()
	defer func() {
		ss.mu.Lock()
		ss.running = false
		select {
		case <-ss.cancelCh:
		default:
		}
		ss.mu.Unlock()
	}()

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return false, nil
	case <-ss.cancelCh:
		return true, nil
	case <-ss.done:
		return false, errSessionClosed
	}
}

func (ss *session) interrupt() {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !ss.running {
		return
	}
	select {
	case ss.cancelCh <- struct{}{}:
	default:
	}
}

func (ss *session) fail(e *Error) {
	ss.sendError(e)
	ss.skip = true
	if ss.txn == protocol.TxnStatusInBlock {
		ss.txn = protocol.TxnStatusFailed
	}
}

func (ss *session) close() {
	ss.closeOnce.Do(func() {
		close(ss.done)
		_ = ss.conn.Close()
	})
}

func (ss *session) send(msgType byte, body []byte) {
	ss.out = client.AppendMessage(ss.out, msgType, body)
}

func (ss *session) sendAuth(code uint32, data []byte) {
	w := client.NewMessageWriter()
	w.WriteUint32(code)
	w.WriteBytes(data)
	ss.send(protocol.MsgAuthenticationRequest, w.Bytes())
}

func (ss *session) sendParameter(name, value string) {
	w := client.NewMessageWriter()
	w.WriteString(name)
	w.WriteString(value)
	ss.send(protocol.MsgParameterStatus, w.Bytes())
}

func (ss *session) sendReady() {
	ss.send(protocol.MsgReadyForQuery, []byte{ss.txn})
}

func (ss *session) sendError(e *Error) {
	w := client.NewMessageWriter()
	w.WriteByte(protocol.FieldSeverity)
	w.WriteString(e.Severity)
	w.WriteByte(protocol.FieldSeverityV)
	w.WriteString(e.Severity)
	w.WriteByte(protocol.FieldCode)
	w.WriteString(e.Code)
	w.WriteByte(protocol.FieldMessage)
	w.WriteString(e.Message)
	w.WriteByte(0)
	ss.send(protocol.MsgErrorResponse, w.Bytes())
}

func (ss *session) flush() error {
	if len(ss.out) == 0 {
		return nil
	}
	_, err := ss.conn.Write(ss.out)
	ss.out = ss.out[:0]
	return err
}

func md5Password(user, password string, salt []byte) string {
	inner := md5.Sum([]byte(password + user))
	outer := md5.Sum(append([]byte(hex.EncodeToString(inner[:])), salt...))
	return "md5" + hex.EncodeToString(outer[:])
}
