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
	"errors"
	"sync/atomic"
	"time"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
)

// Guard states. The first party to move the state off guardArmed decides
// how the operation ends.
const (
	guardArmed int32 = iota
	guardStopped
	guardTimerFired
	guardContextFired
)

// guard bounds one operation by a deadline and a context. Either one
// firing cancels the socket; the operation then observes a failed wait.
type guard struct {
	ctx    context.Context
	socket transport.Socket
	state  atomic.Int32
	timer  *time.Timer
	stopFn func() bool
	// fired is closed once the winning firer has canceled the socket.
	fired chan struct{}
}

// ioFailure marks an error returned by a socket wait.
type ioFailure struct {
	err error
}

func (e *ioFailure) Error() string { return e.err.Error() }
func (e *ioFailure) Unwrap() error { return e.err }

func armGuard(ctx context.Context, socket transport.Socket, t deadline.Deadline) *guard {
	socket.Reset()
	g := &guard{
		ctx:    ctx,
		socket: socket,
		fired:  make(chan struct{}),
	}
	if !t.IsNone() {
		g.timer = time.AfterFunc(t.TimeLeft(time.Now()), func() { g.fire(guardTimerFired) })
	}
	g.stopFn = context.AfterFunc(ctx, func() { g.fire(guardContextFired) })
	return g
}

func (g *guard) fire(state int32) {
	if !g.state.CompareAndSwap(guardArmed, state) {
		return
	}
	g.socket.Cancel()
	close(g.fired)
}

// stop disarms the guard and reports which firer won, if any. When one did,
// stop returns only after its socket cancel has finished.
func (g *guard) stop() int32 {
	if g.timer != nil {
		g.timer.Stop()
	}
	g.stopFn()
	if g.state.CompareAndSwap(guardArmed, guardStopped) {
		return guardStopped
	}
	<-g.fired
	return g.state.Load()
}

// finish stops the guard and classifies err: a fired timer yields
// timed-out, a done context yields operation-aborted, and a socket wait
// failure yields io-error. Other errors pass through.
func (g *guard) finish(conn *Conn, err error) error {
	winner := g.stop()
	if err == nil {
		return nil
	}
	raw := err
	var io *ioFailure
	if errors.As(err, &io) {
		raw = io.err
	}
	switch winner {
	case guardTimerFired:
		conn.stats.timedOut(g.ctx)
		return mterrors.Wrap(mterrors.TimedOut, raw, "deadline exceeded")
	case guardContextFired:
		return mterrors.Wrap(mterrors.OperationAborted, context.Cause(g.ctx), "operation aborted")
	}
	if io != nil {
		return mterrors.Wrap(mterrors.IOError, raw, "%s", conn.ErrorContext())
	}
	return err
}
