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
	"time"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
)

type connectState int

const (
	connectStart connectState = iota
	connectPolling
	connectWaitRead
	connectWaitWrite
	connectOK
	connectFailed
)

func (s connectState) String() string {
	switch s {
	case connectStart:
		return "start"
	case connectPolling:
		return "polling"
	case connectWaitRead:
		return "wait-read"
	case connectWaitWrite:
		return "wait-write"
	case connectOK:
		return "ok"
	case connectFailed:
		return "failed"
	}
	return "unknown"
}

type connectEventKind int

const (
	eventStarted connectEventKind = iota
	eventPolled
	eventIOReady
	eventIOFailed
	eventExpired
)

type connectEvent struct {
	kind connectEventKind
	poll transport.PollStatus
}

type connectAction int

const (
	actionPoll connectAction = iota
	actionWaitRead
	actionWaitWrite
	actionSucceed
	actionFail
)

// connectTransition is the connect state machine. Anything it does not
// expect fails the connection.
func connectTransition(s connectState, ev connectEvent) (connectState, connectAction) {
	if ev.kind == eventExpired {
		return connectFailed, actionFail
	}
	switch s {
	case connectStart:
		if ev.kind == eventStarted {
			return connectPolling, actionPoll
		}
	case connectPolling:
		if ev.kind != eventPolled {
			break
		}
		switch ev.poll {
		case transport.PollingOK:
			return connectOK, actionSucceed
		case transport.PollingWriting:
			return connectWaitWrite, actionWaitWrite
		case transport.PollingReading:
			return connectWaitRead, actionWaitRead
		}
	case connectWaitRead, connectWaitWrite:
		switch ev.kind {
		case eventIOReady:
			return connectPolling, actionPoll
		case eventIOFailed:
			return connectFailed, actionFail
		}
	}
	return connectFailed, actionFail
}

// Connect establishes conn to conninfo through dialer within t. conn is
// returned in every case so callers can read its error context; it is null
// when the connection could not even be started. On success, custom types
// in conn's oid map are resolved before returning.
func Connect(ctx context.Context, dialer transport.Dialer, conninfo string, conn *Conn, t deadline.Deadline) (*Conn, error) {
	if conn == nil {
		conn = NewConn(nil, nil, nil, nil)
	}
	t = deadline.FromContext(ctx, t)

	h, err := dialer.StartConnect(conninfo)
	if err != nil {
		conn.setErrorContext("error while starting connection")
		return conn, mterrors.Wrap(mterrors.ConnectionStartFailed, err, "failed to start connection")
	}
	conn.handle = h
	if h.Status() == transport.StatusBad {
		conn.setErrorContext("connection status is bad")
		return conn, mterrors.New(mterrors.ConnectionStatusBad, "%s", h.ErrorMessage())
	}
	socket, err := h.Socket()
	if err != nil {
		conn.setErrorContext("error while getting socket")
		return conn, mterrors.Wrap(mterrors.SocketFailed, err, "failed to get connection socket")
	}
	conn.socket = socket

	g := armGuard(ctx, socket, t)
	err = g.finish(conn, driveConnect(conn, t))
	if err != nil {
		conn.logger.Debug("connect failed", "error", err, "context", conn.ErrorContext())
		return conn, err
	}
	conn.created = time.Now()
	conn.stats.connected(ctx)

	if !conn.oids.Empty() {
		if err := RequestOidMap(ctx, conn, t); err != nil {
			return conn, err
		}
	}
	return conn, nil
}

func driveConnect(conn *Conn, t deadline.Deadline) error {
	state, action := connectTransition(connectStart, connectEvent{kind: eventStarted})
	var ioErr error
	for {
		var ev connectEvent
		switch action {
		case actionSucceed:
			return nil
		case actionFail:
			if ioErr != nil {
				conn.setErrorContext("error while connection polling")
				return &ioFailure{err: ioErr}
			}
			if t.Expired(time.Now()) {
				conn.setErrorContext("connect deadline expired")
				return mterrors.New(mterrors.TimedOut, "deadline expired before connection was established")
			}
			conn.setErrorContext("connection polling failed")
			return mterrors.New(mterrors.ConnectPollFailed, "%s", conn.handle.ErrorMessage())
		case actionPoll:
			if t.Expired(time.Now()) {
				ev = connectEvent{kind: eventExpired}
				break
			}
			ev = connectEvent{kind: eventPolled, poll: conn.handle.PollConnect()}
		case actionWaitRead:
			ev, ioErr = ioEvent(conn.socket.WaitReadable())
		case actionWaitWrite:
			ev, ioErr = ioEvent(conn.socket.WaitWritable())
		}
		state, action = connectTransition(state, ev)
	}
}

func ioEvent(err error) (connectEvent, error) {
	if err != nil {
		return connectEvent{kind: eventIOFailed}, err
	}
	return connectEvent{kind: eventIOReady}, nil
}

// ConnectAsync runs Connect on a new goroutine and posts handler on the
// connection's executor.
func ConnectAsync(ctx context.Context, dialer transport.Dialer, conninfo string, conn *Conn, t deadline.Deadline, handler func(*Conn, error)) {
	go func() {
		c, err := Connect(ctx, dialer, conninfo, conn, t)
		c.Executor().Post(func() { handler(c, err) })
	}()
}
