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

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/pgtype"
)

// Initiator starts one attempt of an operation against a provider.
type Initiator func(ctx context.Context, p Provider, t deadline.Deadline) (*Conn, error)

// Strategy decides how an operation is attempted: once, retried, or moved
// between providers.
type Strategy interface {
	Initiate(ctx context.Context, op Initiator, p Provider, t deadline.Deadline) (*Conn, error)
}

// Once runs an operation a single time.
type Once struct{}

// Initiate implements Strategy.
func (Once) Initiate(ctx context.Context, op Initiator, p Provider, t deadline.Deadline) (*Conn, error) {
	return op(ctx, p, t)
}

// RequestWith runs Request through s. A sink implementing pgtype.Resetter
// is reset before every attempt.
func RequestWith(ctx context.Context, s Strategy, p Provider, q pgtype.Query, t deadline.Deadline, sink pgtype.Sink) (*Conn, error) {
	op := func(ctx context.Context, p Provider, t deadline.Deadline) (*Conn, error) {
		if r, ok := sink.(pgtype.Resetter); ok {
			r.Reset()
		}
		return Request(ctx, p, q, t, sink)
	}
	return s.Initiate(ctx, op, p, deadline.FromContext(ctx, t))
}

// ExecuteWith runs Execute through s.
func ExecuteWith(ctx context.Context, s Strategy, p Provider, q pgtype.Query, t deadline.Deadline) (*Conn, error) {
	return RequestWith(ctx, s, p, q, t, pgtype.Discard)
}
