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

package servenv

import (
	"context"
	"log/slog"
	"time"

	"github.com/multigres/pgasync/go/tools/event"
)

// DefaultCloseTimeout bounds how long Close waits for close hooks.
const DefaultCloseTimeout = 10 * time.Second

// Lifecycle collects the shutdown steps of a process.
type Lifecycle struct {
	onClose event.ErrorHooks
	logger  *slog.Logger
	timeout time.Duration
}

// NewLifecycle returns a Lifecycle logging to logger. A zero timeout
// uses DefaultCloseTimeout.
func NewLifecycle(logger *slog.Logger, timeout time.Duration) *Lifecycle {
	if timeout <= 0 {
		timeout = DefaultCloseTimeout
	}
	return &Lifecycle{logger: logger, timeout: timeout}
}

// OnClose registers f to run when Close is called. Hooks run in parallel.
func (lc *Lifecycle) OnClose(f func() error) {
	lc.onClose.Add(f)
}

// Close fires the close hooks and waits for them, for at most the
// lifecycle timeout or until ctx is done. It returns the hooks' joined
// errors, or the context error when they did not finish in time.
func (lc *Lifecycle) Close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, lc.timeout)
	defer cancel()
	return fireHooksWithTimeout(ctx, lc.logger, "OnClose", lc.onClose.Fire)
}

func fireHooksWithTimeout(ctx context.Context, logger *slog.Logger, name string, hookFn func() error) error {
	logger.Debug("firing hooks and waiting for them", "name", name)

	done := make(chan error, 1)
	go func() {
		done <- hookFn()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.Warn("hooks failed", "name", name, "error", err)
			return err
		}
		logger.Debug("hooks finished", "name", name)
		return nil
	case <-ctx.Done():
		logger.Warn("hooks timed out", "name", name)
		return ctx.Err()
	}
}
