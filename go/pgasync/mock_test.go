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

package pgasync

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"time"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

// mockSocket is ready immediately unless block is set, in which case waits
// last until Cancel.
type mockSocket struct {
	mu       sync.Mutex
	block    bool
	err      error
	canceled bool
	cancelCh chan struct{}
	cancels  int
	resets   int
}

func newMockSocket() *mockSocket {
	return &mockSocket{cancelCh: make(chan struct{})}
}

func (s *mockSocket) wait() error {
	s.mu.Lock()
	if s.canceled {
		s.mu.Unlock()
		return transport.ErrCanceled
	}
	block, err, ch := s.block, s.err, s.cancelCh
	s.mu.Unlock()
	if err != nil {
		return err
	}
	if !block {
		return nil
	}
	<-ch
	return transport.ErrCanceled
}

func (s *mockSocket) WaitReadable() error { return s.wait() }
func (s *mockSocket) WaitWritable() error { return s.wait() }

func (s *mockSocket) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
	if !s.canceled {
		s.canceled = true
		close(s.cancelCh)
	}
}

func (s *mockSocket) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resets++
	if s.canceled {
		s.canceled = false
		s.cancelCh = make(chan struct{})
	}
}

func (s *mockSocket) cancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// mockHandle replays scripted primitive outcomes.
type mockHandle struct {
	status  transport.ConnStatus
	polls   []transport.PollStatus
	socket  *mockSocket
	sockErr error

	nonblockErr error
	sendErr     error
	flushes     []transport.FlushStatus
	consumeErr  error
	// busy is how many ConsumeInput calls it takes before results appear.
	busy    int
	results []transport.Result
	// responses feed results for successive queries when set.
	responses [][]transport.Result

	sent   []*pgtype.BinaryQuery
	txn    transport.TxnStatus
	errMsg string
	pid    uint32
	closed bool

	cancelErr   error
	cancelBlock chan struct{}
	cancelCalls int
	mu          sync.Mutex
}

func newMockHandle() *mockHandle {
	return &mockHandle{
		polls:  []transport.PollStatus{transport.PollingOK},
		socket: newMockSocket(),
		pid:    4242,
	}
}

func (h *mockHandle) Status() transport.ConnStatus { return h.status }

func (h *mockHandle) PollConnect() transport.PollStatus {
	if len(h.polls) == 0 {
		return transport.PollingFailed
	}
	p := h.polls[0]
	h.polls = h.polls[1:]
	return p
}

func (h *mockHandle) Socket() (transport.Socket, error) {
	if h.sockErr != nil {
		return nil, h.sockErr
	}
	return h.socket, nil
}

func (h *mockHandle) SetNonblocking() error { return h.nonblockErr }

func (h *mockHandle) SendQueryParams(q *pgtype.BinaryQuery) error {
	if h.sendErr != nil {
		return h.sendErr
	}
	h.sent = append(h.sent, q)
	if len(h.responses) > 0 {
		h.results = h.responses[0]
		h.responses = h.responses[1:]
	}
	return nil
}

func (h *mockHandle) Flush() transport.FlushStatus {
	if len(h.flushes) == 0 {
		return transport.FlushDone
	}
	f := h.flushes[0]
	h.flushes = h.flushes[1:]
	return f
}

func (h *mockHandle) IsBusy() bool { return h.busy > 0 }

func (h *mockHandle) ConsumeInput() error {
	if h.consumeErr != nil {
		return h.consumeErr
	}
	if h.busy > 0 {
		h.busy--
	}
	return nil
}

func (h *mockHandle) GetResult() transport.Result {
	if len(h.results) == 0 {
		return nil
	}
	r := h.results[0]
	h.results = h.results[1:]
	return r
}

func (h *mockHandle) TxnStatus() transport.TxnStatus { return h.txn }
func (h *mockHandle) ErrorMessage() string { return h.errMsg }
func (h *mockHandle) BackendPID() uint32 { return h.pid }

func (h *mockHandle) Cancel(ctx context.Context) error {
	h.mu.Lock()
	h.cancelCalls++
	block := h.cancelBlock
	h.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return h.cancelErr
}

func (h *mockHandle) Close() error {
	h.closed = true
	return nil
}

type mockDialer struct {
	handle *mockHandle
	err    error
	calls  int
}

func (d *mockDialer) StartConnect(string) (transport.Handle, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.handle, nil
}

// mockResult is an in-memory result object.
type mockResult struct {
	status transport.ResultStatus
	names  []string
	oids   []pgtype.Oid
	rows   [][][]byte
	tag    string
	diag   *mterrors.PgDiagnostic
}

func (r *mockResult) Status() transport.ResultStatus { return r.status }
func (r *mockResult) CommandTag() string { return r.tag }
func (r *mockResult) Diagnostic() *mterrors.PgDiagnostic { return r.diag }
func (r *mockResult) RowCount() int { return len(r.rows) }
func (r *mockResult) FieldCount() int { return len(r.names) }
func (r *mockResult) FieldName(col int) string { return r.names[col] }
func (r *mockResult) FieldOID(col int) pgtype.Oid { return r.oids[col] }
func (r *mockResult) FieldFormat(int) int16 { return 1 }
func (r *mockResult) Value(row, col int) []byte { return r.rows[row][col] }
func (r *mockResult) Length(row, col int) int { return len(r.rows[row][col]) }
func (r *mockResult) IsNull(row, col int) bool { return r.rows[row][col] == nil }

func int8Result(values ...int64) *mockResult {
	r := &mockResult{status: transport.ResultTuplesOK, names: []string{"n"}, oids: []pgtype.Oid{pgtype.Int8Oid}}
	for _, v := range values {
		r.rows = append(r.rows, [][]byte{binary.BigEndian.AppendUint64(nil, uint64(v))})
	}
	return r
}

func oidResult(values ...uint32) *mockResult {
	r := &mockResult{status: transport.ResultTuplesOK, names: []string{"oid"}, oids: []pgtype.Oid{pgtype.OidOid}}
	for _, v := range values {
		r.rows = append(r.rows, [][]byte{binary.BigEndian.AppendUint32(nil, v)})
	}
	return r
}

func errorResult(code string) *mockResult {
	return &mockResult{
		status: transport.ResultFatalError,
		diag: &mterrors.PgDiagnostic{
			MessageType: 'E',
			Severity:    "ERROR",
			Code:        code,
			Message:     "backend error " + code,
		},
	}
}

// readyConn returns a connected Conn over h.
func readyConn(h *mockHandle) *Conn {
	c := NewConn(nil, nil, nil, nil)
	c.handle = h
	c.socket = h.socket
	c.created = time.Now()
	return c
}

// recordingExecutor remembers that it ran a handler.
type recordingExecutor struct {
	mu    sync.Mutex
	posts int
}

func (e *recordingExecutor) Post(fn func()) {
	e.mu.Lock()
	e.posts++
	e.mu.Unlock()
	go fn()
}

func (e *recordingExecutor) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.posts
}

var errBoom = errors.New("boom")
