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

// Package failover provides strategies that re-run a failed operation:
// Retry tries the same provider again, RoleBased moves on to the provider
// of the next role. Both split the remaining deadline evenly across the
// attempts that are left.
package failover

import (
	"log/slog"
	"time"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/tools/retry"
)

// Predicate decides whether an error is worth another attempt.
type Predicate func(error) bool

// On matches errors that fall under any of conds.
func On(conds ...mterrors.Condition) Predicate {
	return func(err error) bool {
		return mterrors.MatchesAny(err, conds...)
	}
}

type options struct {
	onRetry    func(err error, conn *pgasync.Conn)
	onFallback func(err error, conn *pgasync.Conn, next Role)
	backoff    *retry.Backoff
	logger     *slog.Logger
}

// Option configures a strategy.
type Option func(*options)

// WithOnRetry is called with the failed attempt's error and connection
// before each retry. The connection is released right after it returns.
func WithOnRetry(fn func(err error, conn *pgasync.Conn)) Option {
	return func(o *options) { o.onRetry = fn }
}

// WithOnFallback is called before switching to the next role.
func WithOnFallback(fn func(err error, conn *pgasync.Conn, next Role)) Option {
	return func(o *options) { o.onFallback = fn }
}

// WithBackoff sleeps between retries with full-jitter exponential backoff.
// The sleep never outlasts the remaining deadline. A non-positive base
// retries immediately.
func WithBackoff(base, limit time.Duration) Option {
	return func(o *options) {
		if base <= 0 {
			o.backoff = nil
			return
		}
		o.backoff = retry.New(base, max(limit, base))
	}
}

// WithLogger sets the logger attempts are reported on.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

func newOptions(opts []Option) options {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
