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
	"log/slog"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/pgprotocol/client"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

// Provider hands out connections. Conn, ConnectionInfo, and the pool are
// providers.
type Provider interface {
	// GetConnection returns a connection ready for a request. On failure
	// the returned Conn may be non-nil and carries the error context.
	GetConnection(ctx context.Context, t deadline.Deadline) (*Conn, error)
}

// ConnectionInfo is a Provider that opens a new connection on every call.
type ConnectionInfo struct {
	conninfo string
	dialer   transport.Dialer
	oids     *pgtype.OidMap
	executor Executor
	stats    *Statistics
	logger   *slog.Logger
}

// ConnectionInfoOption configures a ConnectionInfo.
type ConnectionInfoOption func(*ConnectionInfo)

// WithDialer replaces the wire-protocol dialer.
func WithDialer(d transport.Dialer) ConnectionInfoOption {
	return func(ci *ConnectionInfo) { ci.dialer = d }
}

// WithOidMap sets the custom types every connection resolves on connect.
func WithOidMap(m *pgtype.OidMap) ConnectionInfoOption {
	return func(ci *ConnectionInfo) { ci.oids = m }
}

// WithExecutor sets the executor asynchronous completions run on.
func WithExecutor(ex Executor) ConnectionInfoOption {
	return func(ci *ConnectionInfo) { ci.executor = ex }
}

// WithStatistics records connection activity.
func WithStatistics(s *Statistics) ConnectionInfoOption {
	return func(ci *ConnectionInfo) { ci.stats = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ConnectionInfoOption {
	return func(ci *ConnectionInfo) { ci.logger = l }
}

// NewConnectionInfo creates a source for conninfo, a libpq key/value
// string or postgres:// URL.
func NewConnectionInfo(conninfo string, opts ...ConnectionInfoOption) *ConnectionInfo {
	ci := &ConnectionInfo{
		conninfo: conninfo,
		oids:     pgtype.NewOidMap(),
		executor: GoExecutor{},
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(ci)
	}
	if ci.dialer == nil {
		ci.dialer = client.NewDialer(ci.logger)
	}
	return ci
}

// GetConnection implements Provider by connecting.
func (ci *ConnectionInfo) GetConnection(ctx context.Context, t deadline.Deadline) (*Conn, error) {
	conn := NewConn(ci.oids, ci.executor, ci.stats, ci.logger)
	return Connect(ctx, ci.dialer, ci.conninfo, conn, t)
}
