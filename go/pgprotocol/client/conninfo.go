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
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/multigres/pgasync/go/pgprotocol/protocol"
)

// target is one address to try, with the TLS settings to use on it.
type target struct {
	network string
	address string
	host    string
	tls     *tls.Config
}

// parseConninfo parses a libpq style key/value string or a postgres:// URL.
// Environment defaults (PGHOST, PGUSER, ...) apply as they do for libpq.
func parseConninfo(conninfo string) (*pgconn.Config, []target, error) {
	cfg, err := pgconn.ParseConfig(conninfo)
	if err != nil {
		return nil, nil, err
	}
	targets := make([]target, 0, 1+len(cfg.Fallbacks))
	add := func(host string, port uint16, tlsConfig *tls.Config) {
		network, address := pgconn.NetworkAddress(host, port)
		targets = append(targets, target{network: network, address: address, host: host, tls: tlsConfig})
	}
	add(cfg.Host, cfg.Port, cfg.TLSConfig)
	for _, fb := range cfg.Fallbacks {
		add(fb.Host, fb.Port, fb.TLSConfig)
	}
	return cfg, targets, nil
}

// dialTargets tries each target in order and returns the first established
// connection, TLS-wrapped when its target asks for it.
func dialTargets(ctx context.Context, targets []target) (net.Conn, target, error) {
	var lastErr error
	for _, t := range targets {
		conn, err := dialTarget(ctx, t)
		if err == nil {
			return conn, t, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no host to connect to")
	}
	return nil, target{}, lastErr
}

func dialTarget(ctx context.Context, t target) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, t.network, t.address)
	if err != nil {
		return nil, fmt.Errorf("connection to %s failed: %w", t.address, err)
	}
	if t.tls == nil {
		return conn, nil
	}
	tlsConn, err := negotiateTLS(ctx, conn, t.tls)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection to %s failed: %w", t.address, err)
	}
	return tlsConn, nil
}

// negotiateTLS sends SSLRequest and performs the handshake if the server
// accepts it.
func negotiateTLS(ctx context.Context, conn net.Conn, cfg *tls.Config) (net.Conn, error) {
	if dl, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(dl); err != nil {
			return nil, err
		}
		defer conn.SetDeadline(time.Time{})
	}
	w := NewMessageWriter()
	w.WriteUint32(protocol.SSLRequestCode)
	if _, err := conn.Write(AppendUntyped(nil, w.Bytes())); err != nil {
		return nil, fmt.Errorf("sending SSL request: %w", err)
	}
	var resp [1]byte
	if _, err := conn.Read(resp[:]); err != nil {
		return nil, fmt.Errorf("reading SSL response: %w", err)
	}
	if resp[0] != 'S' {
		return nil, fmt.Errorf("server does not support SSL")
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("TLS handshake: %w", err)
	}
	return tlsConn, nil
}
