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

// Package client implements the transport primitives over the PostgreSQL
// frontend/backend protocol v3. A handle buffers everything it sends and
// receives; only Socket waits, Flush, and Cancel touch the network.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/xdg-go/scram"

	"github.com/multigres/pgasync/go/pgprotocol/protocol"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
)

// Dialer starts wire-protocol connections.
type Dialer struct {
	logger *slog.Logger
}

// NewDialer creates a dialer. A nil logger uses slog.Default().
func NewDialer(logger *slog.Logger) *Dialer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dialer{logger: logger}
}

type phase int

const (
	phaseDialing phase = iota
	phaseStartup
	phaseReady
	phaseBad
	phaseClosed
)

// StartConnect parses conninfo and starts dialing in the background.
func (d *Dialer) StartConnect(conninfo string) (transport.Handle, error) {
	cfg, targets, err := parseConninfo(conninfo)
	if err != nil {
		return nil, err
	}
	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if cfg.ConnectTimeout > 0 {
		ctx, cancel = context.WithTimeout(context.Background(), cfg.ConnectTimeout)
	} else {
		ctx, cancel = context.WithCancel(context.Background())
	}
	h := &handle{
		logger:     d.logger,
		user:       cfg.User,
		password:   cfg.Password,
		database:   cfg.Database,
		runtime:    cfg.RuntimeParams,
		params:     make(map[string]string),
		cancelCh:   make(chan struct{}),
		dialDone:   make(chan struct{}),
		dialCancel: cancel,
		txn:        protocol.TxnStatusIdle,
	}
	go h.dial(ctx, targets)
	return h, nil
}

type handle struct {
	logger   *slog.Logger
	user     string
	password string
	database string
	runtime  map[string]string

	// mu guards conn, canceled, and cancelCh. Everything else belongs to
	// the goroutine driving the handle.
	mu       sync.Mutex
	conn     net.Conn
	target   target
	canceled bool
	cancelCh chan struct{}

	dialDone   chan struct{}
	dialErr    error
	dialCancel context.CancelFunc

	phase  phase
	errMsg string
	rbuf   []byte
	wbuf   []byte

	scram      *scram.ClientConversation
	pid        uint32
	secret     uint32
	params     map[string]string
	txn        byte
	awaitReady bool
	current    *result
	results    []*result
}

var _ transport.Handle = (*handle)(nil)

func (h *handle) dial(ctx context.Context, targets []target) {
	defer h.dialCancel()
	conn, t, err := dialTargets(ctx, targets)
	h.mu.Lock()
	if err == nil && h.phase == phaseClosed {
		conn.Close()
		conn, err = nil, errors.New("connection closed while dialing")
	}
	h.conn = conn
	h.target = t
	h.dialErr = err
	h.mu.Unlock()
	close(h.dialDone)
}

func (h *handle) netConn() net.Conn {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.conn
}

func (h *handle) fail(format string, args ...any) {
	h.errMsg = fmt.Sprintf(format, args...)
	if h.phase != phaseClosed {
		h.phase = phaseBad
	}
}

// Status implements transport.Handle.
func (h *handle) Status() transport.ConnStatus {
	switch h.phase {
	case phaseBad, phaseClosed:
		return transport.StatusBad
	}
	return transport.StatusOK
}

// Socket implements transport.Handle.
func (h *handle) Socket() (transport.Socket, error) {
	if h.phase == phaseClosed {
		return nil, errors.New("connection is closed")
	}
	return &socket{h: h}, nil
}

// SetNonblocking implements transport.Handle. Handles never block outside
// socket waits, so this only validates the handle.
func (h *handle) SetNonblocking() error {
	if h.phase != phaseReady {
		return fmt.Errorf("connection is not ready: %s", h.errMsg)
	}
	return nil
}

// TxnStatus implements transport.Handle.
func (h *handle) TxnStatus() transport.TxnStatus {
	if h.phase != phaseReady {
		return transport.TxnUnknown
	}
	if h.awaitReady {
		return transport.TxnActive
	}
	switch h.txn {
	case protocol.TxnStatusIdle:
		return transport.TxnIdle
	case protocol.TxnStatusInBlock:
		return transport.TxnInTrans
	case protocol.TxnStatusFailed:
		return transport.TxnInError
	}
	return transport.TxnUnknown
}

// ErrorMessage implements transport.Handle.
func (h *handle) ErrorMessage() string {
	return h.errMsg
}

// BackendPID implements transport.Handle.
func (h *handle) BackendPID() uint32 {
	return h.pid
}

// ParameterStatus returns a server parameter reported during the session.
func (h *handle) ParameterStatus(name string) string {
	return h.params[name]
}

// Close implements transport.Handle. It sends Terminate on a healthy
// connection and closes the socket.
func (h *handle) Close() error {
	h.dialCancel()
	h.mu.Lock()
	wasReady := h.phase == phaseReady && !h.awaitReady
	h.phase = phaseClosed
	conn := h.conn
	h.conn = nil
	h.mu.Unlock()
	if conn == nil {
		return nil
	}
	if wasReady {
		_ = conn.SetWriteDeadline(time.Now().Add(time.Second))
		_, _ = conn.Write(AppendMessage(nil, protocol.MsgTerminate, nil))
	}
	return conn.Close()
}
