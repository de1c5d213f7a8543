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
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/tools/ctxutil"
)

// CancelExecutor runs blocking cancel requests off the caller's goroutine,
// at most limit at a time.
type CancelExecutor struct {
	sem     *semaphore.Weighted
	logger  *slog.Logger
	timeout time.Duration
}

// NewCancelExecutor creates an executor admitting limit concurrent cancel
// requests. Each request gives up after timeout even when nobody waits
// for it.
func NewCancelExecutor(limit int64, timeout time.Duration, logger *slog.Logger) *CancelExecutor {
	if limit < 1 {
		limit = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CancelExecutor{
		sem:     semaphore.NewWeighted(limit),
		logger:  logger,
		timeout: timeout,
	}
}

// Cancel asks the backend serving conn to cancel its current query and
// waits for the request to be delivered until t or ctx ends. Giving up the
// wait does not stop the request; its outcome is logged.
func Cancel(ctx context.Context, ex *CancelExecutor, conn *Conn, t deadline.Deadline) error {
	if conn.IsNull() {
		return mterrors.Wrap(mterrors.CancelFailed, errNullConn, "cannot cancel")
	}
	t = deadline.FromContext(ctx, t)
	waitCtx := ctx
	if at, ok := t.Time(); ok {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithDeadline(ctx, at)
		defer cancel()
	}
	if err := ex.sem.Acquire(waitCtx, 1); err != nil {
		return waitError(ctx, err)
	}

	h := conn.handle
	pid := conn.BackendPID()
	done := make(chan error, 1)
	go func() {
		defer ex.sem.Release(1)
		bg, span := ctxutil.StartLinkedSpan(ctxutil.Detach(ctx), tracer, "pgasync.cancel")
		defer span.End()
		if ex.timeout > 0 {
			var cancel context.CancelFunc
			bg, cancel = context.WithTimeout(bg, ex.timeout)
			defer cancel()
		}
		err := h.Cancel(bg)
		if err != nil {
			span.RecordError(err)
			ex.logger.Warn("cancel request failed", "backend_pid", pid, "error", err)
		} else {
			ex.logger.Debug("cancel request delivered", "backend_pid", pid)
		}
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return mterrors.Wrap(mterrors.CancelFailed, err, "cancel request for backend %d failed", pid)
		}
		return nil
	case <-waitCtx.Done():
		return waitError(ctx, waitCtx.Err())
	}
}

func waitError(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return mterrors.Wrap(mterrors.OperationAborted, context.Cause(ctx), "cancel wait aborted")
	}
	return mterrors.Wrap(mterrors.TimedOut, err, "cancel wait timed out")
}
