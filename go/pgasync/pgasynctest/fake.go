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

// Package pgasynctest provides an in-memory transport for testing code
// built on pgasync without a server. Handles answer queries through a
// responder function and track the transaction status the way a backend
// would for BEGIN, COMMIT, and ROLLBACK.
package pgasynctest

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

// Responder answers one query. Returning nil answers with an empty command
// result.
type Responder func(q *pgtype.BinaryQuery) []transport.Result

// Dialer hands out fake handles. It is safe for concurrent use.
type Dialer struct {
	mu      sync.Mutex
	respond Responder
	err     error
	nextPID uint32
	handles []*Handle
}

// NewDialer returns a dialer whose handles answer with respond.
func NewDialer(respond Responder) *Dialer {
	return &Dialer{respond: respond, nextPID: 1000}
}

// FailWith makes the following StartConnect calls fail with err, or
// succeed again when err is nil.
func (d *Dialer) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.err = err
}

// StartConnect implements transport.Dialer.
func (d *Dialer) StartConnect(string) (transport.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	d.nextPID++
	h := &Handle{pid: d.nextPID, respond: d.respond}
	d.handles = append(d.handles, h)
	return h, nil
}

// Dials returns how many handles were created.
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handles)
}

// Handles returns the created handles in order.
func (d *Dialer) Handles() []*Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]*Handle(nil), d.handles...)
}

// Handle is a fake connection. Queries complete immediately.
type Handle struct {
	mu      sync.Mutex
	pid     uint32
	respond Responder
	bad     bool
	txn     transport.TxnStatus
	closed  bool
	queries []string
	results []transport.Result
	cancels int
}

var _ transport.Handle = (*Handle)(nil)

// Break makes the handle report a bad status.
func (h *Handle) Break() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.bad = true
}

// SetTxnStatus overrides the transaction status.
func (h *Handle) SetTxnStatus(s transport.TxnStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.txn = s
}

// Closed reports whether Close was called.
func (h *Handle) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Queries returns the text of every query sent.
func (h *Handle) Queries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.queries...)
}

// Cancels returns how many cancel requests were sent.
func (h *Handle) Cancels() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cancels
}

func (h *Handle) Status() transport.ConnStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bad || h.closed {
		return transport.StatusBad
	}
	return transport.StatusOK
}

func (h *Handle) PollConnect() transport.PollStatus {
	return transport.PollingOK
}

func (h *Handle) Socket() (transport.Socket, error) {
	return socket{}, nil
}

func (h *Handle) SetNonblocking() error {
	return nil
}

func (h *Handle) SendQueryParams(q *pgtype.BinaryQuery) error {
	h.mu.Lock()
	if h.bad || h.closed {
		h.mu.Unlock()
		return errors.New("connection is broken")
	}
	h.queries = append(h.queries, q.Text)
	respond := h.respond
	h.mu.Unlock()

	var results []transport.Result
	if respond != nil {
		results = respond(q)
	}
	if results == nil {
		results = []transport.Result{Command("SELECT 0")}
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = results
	h.trackTxn(q.Text, results)
	return nil
}

// trackTxn follows the status changes a backend makes for transaction
// control statements and errors.
func (h *Handle) trackTxn(text string, results []transport.Result) {
	failed := false
	for _, r := range results {
		if r.Status() == transport.ResultFatalError {
			failed = true
		}
	}
	word := strings.ToUpper(strings.Fields(text + " ")[0])
	switch {
	case failed:
		if h.txn == transport.TxnInTrans {
			h.txn = transport.TxnInError
		}
	case word == "BEGIN" || word == "START":
		h.txn = transport.TxnInTrans
	case word == "COMMIT" || word == "ROLLBACK" || word == "END" || word == "ABORT":
		h.txn = transport.TxnIdle
	}
}

func (h *Handle) Flush() transport.FlushStatus {
	return transport.FlushDone
}

func (h *Handle) IsBusy() bool {
	return false
}

func (h *Handle) ConsumeInput() error {
	return nil
}

func (h *Handle) GetResult() transport.Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.results) == 0 {
		return nil
	}
	r := h.results[0]
	h.results = h.results[1:]
	return r
}

func (h *Handle) TxnStatus() transport.TxnStatus {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.txn
}

func (h *Handle) ErrorMessage() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.bad {
		return "connection is broken"
	}
	return ""
}

func (h *Handle) BackendPID() uint32 {
	return h.pid
}

func (h *Handle) Cancel(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.cancels++
	return nil
}

func (h *Handle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

type socket struct{}

func (socket) WaitReadable() error { return nil }
func (socket) WaitWritable() error { return nil }
func (socket) Cancel() {}
func (socket) Reset() {}
