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

package pool

import (
	"time"

	"github.com/multigres/pgasync/go/pgasync"
)

// Pooled wraps a pool-owned connection with the metadata the pool needs
// to decide whether it may be reused.
type Pooled struct {
	conn *pgasync.Conn

	// next links the idle stack.
	next *Pooled

	createdAt  time.Time
	lastUsedAt time.Time

	// generation is the pool generation the connection was created under.
	// Invalidate makes every older generation stale.
	generation uint64
}

func newPooled(conn *pgasync.Conn, now time.Time, generation uint64) *Pooled {
	return &Pooled{
		conn:       conn,
		createdAt:  now,
		lastUsedAt: now,
		generation: generation,
	}
}

// Conn returns the wrapped connection.
func (p *Pooled) Conn() *pgasync.Conn {
	return p.conn
}

// CreatedAt returns when the connection was created.
func (p *Pooled) CreatedAt() time.Time {
	return p.createdAt
}

// LastUsedAt returns when the connection was last returned to the pool.
func (p *Pooled) LastUsedAt() time.Time {
	return p.lastUsedAt
}

// Age returns how long ago the connection was created.
func (p *Pooled) Age(now time.Time) time.Duration {
	return now.Sub(p.createdAt)
}

// IdleTime returns how long the connection has been idle.
func (p *Pooled) IdleTime(now time.Time) time.Duration {
	return now.Sub(p.lastUsedAt)
}
