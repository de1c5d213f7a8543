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

// Package pgasync drives PostgreSQL connections through the transport
// primitives: connecting, sending parameterized queries, and receiving
// their results, each bounded by a deadline and a context.
package pgasync

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

// Conn is a connection to one backend. It exclusively owns its transport
// handle. A Conn without a handle is null; operations on it fail and its
// accessors return zero values.
type Conn struct {
	handle   transport.Handle
	socket   transport.Socket
	oids     *pgtype.OidMap
	errCtx   string
	stats    *Statistics
	executor Executor
	logger   *slog.Logger
	created  time.Time
	release  func(*Conn)
}

// NewConn creates a null connection that Connect can fill. oids is the
// template of custom types; it is cloned.
func NewConn(oids *pgtype.OidMap, ex Executor, stats *Statistics, logger *slog.Logger) *Conn {
	if oids == nil {
		oids = pgtype.NewOidMap()
	}
	if ex == nil {
		ex = GoExecutor{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Conn{
		oids:     oids.Clone(),
		stats:    stats,
		executor: ex,
		logger:   logger,
	}
}

// GetConnection makes a Conn a Provider of itself.
func (c *Conn) GetConnection(context.Context, deadline.Deadline) (*Conn, error) {
	if c.IsNull() {
		return c, mterrors.New(mterrors.ConnectionStatusBad, "connection is null")
	}
	return c, nil
}

// IsNull reports whether c holds no handle.
func (c *Conn) IsNull() bool {
	return c == nil || c.handle == nil
}

// IsBad reports whether c is null or its handle is broken.
func (c *Conn) IsBad() bool {
	return c.IsNull() || c.handle.Status() == transport.StatusBad
}

// IsBusy reports whether a command is still in progress.
func (c *Conn) IsBusy() bool {
	return !c.IsNull() && c.handle.IsBusy()
}

// TxnStatus returns the backend's transaction status.
func (c *Conn) TxnStatus() transport.TxnStatus {
	if c.IsNull() {
		return transport.TxnUnknown
	}
	return c.handle.TxnStatus()
}

// ErrorContext describes what the connection was doing when it last failed.
func (c *Conn) ErrorContext() string {
	if c == nil {
		return ""
	}
	return c.errCtx
}

// ErrorMessage returns the transport's last error text.
func (c *Conn) ErrorMessage() string {
	if c.IsNull() {
		return ""
	}
	return c.handle.ErrorMessage()
}

// BackendPID returns the server process id.
func (c *Conn) BackendPID() uint32 {
	if c.IsNull() {
		return 0
	}
	return c.handle.BackendPID()
}

// OidMap returns the connection's resolved type map.
func (c *Conn) OidMap() *pgtype.OidMap {
	if c == nil {
		return nil
	}
	return c.oids
}

// Executor returns where asynchronous completions for c run.
func (c *Conn) Executor() Executor {
	if c == nil || c.executor == nil {
		return GoExecutor{}
	}
	return c.executor
}

// Created returns when the connection was established.
func (c *Conn) Created() time.Time {
	if c == nil {
		return time.Time{}
	}
	return c.created
}

// Handle returns the underlying transport handle.
func (c *Conn) Handle() transport.Handle {
	if c == nil {
		return nil
	}
	return c.handle
}

// Take moves everything c owns into a new Conn and leaves c null.
func (c *Conn) Take() *Conn {
	n := *c
	c.handle = nil
	c.socket = nil
	c.release = nil
	return &n
}

// SetReleaser installs the function Release calls instead of closing.
func (c *Conn) SetReleaser(fn func(*Conn)) {
	c.release = fn
}

// Release hands the connection back to its pool, or closes it when it has
// none. c must not be used afterwards.
func (c *Conn) Release() {
	if c == nil {
		return
	}
	if fn := c.release; fn != nil {
		c.release = nil
		fn(c)
		return
	}
	_ = c.Close()
}

// Close closes the transport handle. It leaves c null.
func (c *Conn) Close() error {
	if c.IsNull() {
		return nil
	}
	h := c.handle
	c.handle = nil
	c.socket = nil
	return h.Close()
}

func (c *Conn) setErrorContext(s string) {
	if c != nil {
		c.errCtx = s
	}
}

var errNullConn = errors.New("connection is null")
