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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

var tracer = otel.Tracer(instrumentationName)

type requestState int

const (
	requestSend requestState = iota
	requestFlush
	requestWaitWrite
	requestReceive
	requestWaitRead
	requestFetch
	requestDone
)

// Request acquires a connection from p and runs q on it within t, handing
// every result to sink. The connection is returned even on failure; the
// caller releases it.
func Request(ctx context.Context, p Provider, q pgtype.Query, t deadline.Deadline, sink pgtype.Sink) (*Conn, error) {
	t = deadline.FromContext(ctx, t)
	conn, err := p.GetConnection(ctx, t)
	if err != nil {
		return conn, err
	}
	return conn, runQuery(ctx, conn, q, t, sink)
}

// Execute is Request without results.
func Execute(ctx context.Context, p Provider, q pgtype.Query, t deadline.Deadline) (*Conn, error) {
	return Request(ctx, p, q, t, pgtype.Discard)
}

// RequestAsync runs Request on a new goroutine and posts handler on the
// connection's executor.
func RequestAsync(ctx context.Context, p Provider, q pgtype.Query, t deadline.Deadline, sink pgtype.Sink, handler func(*Conn, error)) {
	go func() {
		conn, err := Request(ctx, p, q, t, sink)
		conn.Executor().Post(func() { handler(conn, err) })
	}()
}

// ExecuteAsync runs Execute on a new goroutine and posts handler on the
// connection's executor.
func ExecuteAsync(ctx context.Context, p Provider, q pgtype.Query, t deadline.Deadline, handler func(*Conn, error)) {
	RequestAsync(ctx, p, q, t, pgtype.Discard, handler)
}

func runQuery(ctx context.Context, conn *Conn, q pgtype.Query, t deadline.Deadline, sink pgtype.Sink) error {
	if conn.IsNull() {
		return mterrors.Wrap(mterrors.ConnectionStatusBad, errNullConn, "cannot run query")
	}
	if sink == nil {
		sink = pgtype.Discard
	}
	ctx, span := tracer.Start(ctx, "pgasync.request", trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.query.text", q.Text),
			attribute.Int64("db.postgresql.backend_pid", int64(conn.BackendPID())),
		))
	defer span.End()
	conn.stats.requested(ctx)

	g := armGuard(ctx, conn.socket, t)
	err := g.finish(conn, pipeline(conn, q, sink))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(mterrors.CodeOf(err)))
	}
	return err
}

// pipeline sends q and drains every result. Backend errors do not stop
// draining; the first error is reported once the connection is idle again.
func pipeline(conn *Conn, q pgtype.Query, sink pgtype.Sink) error {
	h, socket := conn.handle, conn.socket
	var firstErr error
	state := requestSend
	for {
		switch state {
		case requestSend:
			if err := h.SetNonblocking(); err != nil {
				conn.setErrorContext("error while setting non-blocking mode")
				return mterrors.Wrap(mterrors.SetNonblockingFailed, err, "%s", h.ErrorMessage())
			}
			bq, err := q.Bind(conn.oids)
			if err != nil {
				conn.setErrorContext("error while binding parameters")
				return err
			}
			if err := h.SendQueryParams(bq); err != nil {
				conn.setErrorContext("error while sending query")
				return mterrors.Wrap(mterrors.SendQueryParamsFailed, err, "%s", h.ErrorMessage())
			}
			state = requestFlush
		case requestFlush:
			switch h.Flush() {
			case transport.FlushDone:
				state = requestReceive
			case transport.FlushInProgress:
				state = requestWaitWrite
			default:
				conn.setErrorContext("error while flushing query")
				return mterrors.New(mterrors.FlushFailed, "%s", h.ErrorMessage())
			}
		case requestWaitWrite:
			if err := socket.WaitWritable(); err != nil {
				conn.setErrorContext("error while waiting to write query")
				return &ioFailure{err: err}
			}
			state = requestFlush
		case requestReceive:
			state = requestFetch
			if h.IsBusy() {
				state = requestWaitRead
			}
		case requestWaitRead:
			if err := socket.WaitReadable(); err != nil {
				conn.setErrorContext("error while waiting for results")
				return &ioFailure{err: err}
			}
			if err := h.ConsumeInput(); err != nil {
				conn.setErrorContext("error while consuming input")
				return mterrors.Wrap(mterrors.ConsumeInputFailed, err, "%s", h.ErrorMessage())
			}
			state = requestReceive
		case requestFetch:
			r := h.GetResult()
			if r == nil {
				state = requestDone
				break
			}
			if r.Status() == transport.ResultFatalError {
				if firstErr == nil {
					firstErr = mterrors.NewPgError(r.Diagnostic(), q.Text)
				}
			} else if firstErr == nil {
				if err := sink.Accept(conn.oids, r); err != nil {
					conn.setErrorContext("error while reading results")
					firstErr = err
				}
			}
			state = requestReceive
		case requestDone:
			return firstErr
		}
	}
}
