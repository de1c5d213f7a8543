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

// Package timer provides PeriodicRunner for running maintenance callbacks
// at a fixed interval.
package timer

import (
	"context"
	"sync"
	"time"
)

// PeriodicRunner runs a callback every interval on its own goroutine.
// The next run is scheduled only after the current one returns. Stop
// cancels the callback's context and waits for it; a stopped runner can be
// started again.
type PeriodicRunner struct {
	parent   context.Context
	interval time.Duration

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// NewPeriodicRunner creates a stopped runner. Callback contexts derive from
// ctx, which should normally be detached from any request.
func NewPeriodicRunner(ctx context.Context, interval time.Duration) *PeriodicRunner {
	return &PeriodicRunner{parent: ctx, interval: interval}
}

// Start runs callback periodically. It returns false if the runner is
// already running or the interval is not positive.
func (r *PeriodicRunner) Start(callback func(ctx context.Context)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil || r.interval <= 0 {
		return false
	}
	ctx, cancel := context.WithCancel(r.parent)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	go r.loop(ctx, done, callback)
	return true
}

func (r *PeriodicRunner) loop(ctx context.Context, done chan struct{}, callback func(context.Context)) {
	defer close(done)
	t := time.NewTimer(r.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
		callback(ctx)
		t.Reset(r.interval)
	}
}

// Stop cancels the runner and waits for an in-flight callback. It is
// idempotent.
func (r *PeriodicRunner) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Running reports whether the runner is started.
func (r *PeriodicRunner) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}
