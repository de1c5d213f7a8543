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

package failover

import (
	"context"
	"time"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/tools/retry"
)

// RetryStrategy re-runs an operation against the same provider.
type RetryStrategy struct {
	tries int
	when  Predicate
	opts  options
}

var _ pgasync.Strategy = (*RetryStrategy)(nil)

// Retry makes up to tries attempts while the error matches when. Attempt k
// of n gets 1/(n-k+1) of the time left.
func Retry(tries int, when Predicate, opts ...Option) *RetryStrategy {
	return &RetryStrategy{tries: max(tries, 1), when: when, opts: newOptions(opts)}
}

// Tries returns the maximum number of attempts.
func (r *RetryStrategy) Tries() int {
	return r.tries
}

// Initiate implements pgasync.Strategy. The last attempt's connection and
// error are returned.
func (r *RetryStrategy) Initiate(ctx context.Context, op pgasync.Initiator, p pgasync.Provider, t deadline.Deadline) (*pgasync.Conn, error) {
	for attempt := 1; ; attempt++ {
		conn, err := op(ctx, p, t.Divide(r.tries-attempt+1, time.Now()))
		if err == nil {
			return conn, nil
		}
		if attempt >= r.tries || !r.when(err) || ctx.Err() != nil {
			return conn, err
		}

		r.opts.logger.DebugContext(ctx, "retrying operation",
			"attempt", attempt, "tries", r.tries, "error", err, "context", conn.ErrorContext())
		if r.opts.onRetry != nil {
			r.opts.onRetry(err, conn)
		}
		conn.Release()

		if r.opts.backoff != nil {
			if err := r.sleep(ctx, attempt, t); err != nil {
				return nil, err
			}
		}
	}
}

func (r *RetryStrategy) sleep(ctx context.Context, attempt int, t deadline.Deadline) error {
	d := r.opts.backoff.Delay(attempt)
	if !t.IsNone() {
		d = min(d, t.TimeLeft(time.Now()))
	}
	if err := retry.Sleep(ctx, d); err != nil {
		return mterrors.Wrap(mterrors.OperationAborted, context.Cause(ctx), "waiting to retry")
	}
	return nil
}
