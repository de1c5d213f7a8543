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

// Package txn runs work inside explicit transactions. Begin acquires a
// connection and starts a transaction on it; Commit and Rollback end the
// transaction and hand the plain connection back.
package txn

import (
	"context"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgtype"
)

// Transaction is a connection with an open transaction. A Transaction is
// null exactly when its connection is null.
type Transaction struct {
	conn *pgasync.Conn
	opts Options
}

// Begin gets a connection from p and starts a transaction with opts on it.
// On failure the returned Transaction still wraps the connection, so its
// error context can be read; it may be null.
func Begin(ctx context.Context, p pgasync.Provider, opts Options, t deadline.Deadline) (*Transaction, error) {
	conn, err := pgasync.Execute(ctx, p, pgtype.NewQuery(opts.beginStatement()), t)
	return &Transaction{conn: conn, opts: opts}, err
}

// BeginAsync runs Begin on a new goroutine and posts handler to the
// connection's executor.
func BeginAsync(ctx context.Context, p pgasync.Provider, opts Options, t deadline.Deadline, handler func(*Transaction, error)) {
	pgasync.ExecuteAsync(ctx, p, pgtype.NewQuery(opts.beginStatement()), t, func(conn *pgasync.Conn, err error) {
		handler(&Transaction{conn: conn, opts: opts}, err)
	})
}

// Commit commits tx and returns its connection, also when the commit
// fails. tx is null afterwards.
func Commit(ctx context.Context, tx *Transaction, t deadline.Deadline) (*pgasync.Conn, error) {
	return tx.end(ctx, "COMMIT", t)
}

// Rollback rolls tx back and returns its connection, also when the
// rollback fails. tx is null afterwards.
func Rollback(ctx context.Context, tx *Transaction, t deadline.Deadline) (*pgasync.Conn, error) {
	return tx.end(ctx, "ROLLBACK", t)
}

func (tx *Transaction) end(ctx context.Context, stmt string, t deadline.Deadline) (*pgasync.Conn, error) {
	conn := tx.conn
	tx.conn = nil
	return pgasync.Execute(ctx, conn, pgtype.NewQuery(stmt), t)
}

// Request runs q inside the transaction and feeds the results to sink.
func (tx *Transaction) Request(ctx context.Context, q pgtype.Query, t deadline.Deadline, sink pgtype.Sink) error {
	_, err := pgasync.Request(ctx, tx.conn, q, t, sink)
	return err
}

// Execute runs q inside the transaction and discards its results.
func (tx *Transaction) Execute(ctx context.Context, q pgtype.Query, t deadline.Deadline) error {
	_, err := pgasync.Execute(ctx, tx.conn, q, t)
	return err
}

// GetConnection makes a Transaction a Provider, so strategies and helpers
// that take a Provider run inside it.
func (tx *Transaction) GetConnection(ctx context.Context, t deadline.Deadline) (*pgasync.Conn, error) {
	return tx.conn.GetConnection(ctx, t)
}

// Options returns the options the transaction was started with.
func (tx *Transaction) Options() Options {
	return tx.opts
}

// Conn returns the wrapped connection.
func (tx *Transaction) Conn() *pgasync.Conn {
	return tx.conn
}

// IsNull reports whether the wrapped connection is null.
func (tx *Transaction) IsNull() bool {
	return tx == nil || tx.conn.IsNull()
}

// ErrorContext returns the wrapped connection's error context.
func (tx *Transaction) ErrorContext() string {
	if tx == nil {
		return ""
	}
	return tx.conn.ErrorContext()
}

// Release abandons the transaction. A pooled connection is closed instead
// of reused since it is still inside a transaction.
func (tx *Transaction) Release() {
	conn := tx.conn
	tx.conn = nil
	conn.Release()
}
