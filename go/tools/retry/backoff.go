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

// Package retry computes and sleeps backoff delays between attempts.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Backoff is exponential backoff with full jitter: the delay before retry
// k (k >= 1) is uniform in [0, min(max, base*2^(k-1))].
type Backoff struct {
	base time.Duration
	max  time.Duration
	rand func(n int64) int64
}

// Option configures a Backoff.
type Option func(*Backoff)

// WithRand replaces the jitter source; rand(n) must return a value in
// [0, n).
func WithRand(rand func(n int64) int64) Option {
	return func(b *Backoff) { b.rand = rand }
}

// New creates a Backoff. It panics on a non-positive base or max, or base
// greater than max.
func New(base, max time.Duration, opts ...Option) *Backoff {
	if base <= 0 {
		panic("retry: base delay must be positive")
	}
	if max <= 0 {
		panic("retry: max delay must be positive")
	}
	if base > max {
		panic("retry: base delay cannot be greater than max delay")
	}
	b := &Backoff{base: base, max: max, rand: rand.Int64N}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Cap returns the upper bound of the delay before retry k.
func (b *Backoff) Cap(retry int) time.Duration {
	if retry < 1 {
		return 0
	}
	d := b.base
	for i := 1; i < retry; i++ {
		if d >= b.max/2 {
			return b.max
		}
		d *= 2
	}
	return min(d, b.max)
}

// Delay returns a jittered delay for retry k.
func (b *Backoff) Delay(retry int) time.Duration {
	c := b.Cap(retry)
	if c <= 0 {
		return 0
	}
	return time.Duration(b.rand(int64(c) + 1))
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
