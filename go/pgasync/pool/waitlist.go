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
	"sync/atomic"

	"github.com/multigres/pgasync/go/tools/list"
)

// grant is what a waiter receives: an idle connection, a reserved slot to
// create one in, or an error.
type grant struct {
	entry  *Pooled
	create bool
	// generation is the pool generation a created connection belongs to.
	generation uint64
	err        error
}

type waiter struct {
	ch   chan grant
	node list.Element[*waiter]
	// queued is false once the waiter left the list.
	queued bool
}

// waitlist queues acquirers in FIFO order. The pool's lock guards the
// list; the count may be read without it.
type waitlist struct {
	list  *list.List[*waiter]
	count atomic.Int64
}

func (w *waitlist) init() {
	w.list = list.New[*waiter]()
}

// waiting returns the number of queued acquirers without locking.
func (w *waitlist) waiting() int64 {
	return w.count.Load()
}

func (w *waitlist) len() int {
	return w.list.Len()
}

func (w *waitlist) enqueue() *waiter {
	wt := &waiter{ch: make(chan grant, 1), queued: true}
	wt.node.Value = wt
	w.list.PushBackValue(&wt.node)
	w.count.Add(1)
	return wt
}

// remove takes wt off the list. It reports false when wt was already
// granted.
func (w *waitlist) remove(wt *waiter) bool {
	if !wt.queued {
		return false
	}
	w.list.Remove(&wt.node)
	wt.queued = false
	w.count.Add(-1)
	return true
}

// grantHead hands g to the oldest waiter. It reports false when nobody
// waits.
func (w *waitlist) grantHead(g grant) bool {
	front := w.list.Front()
	if front == nil {
		return false
	}
	wt := front.Value
	w.list.Remove(front)
	wt.queued = false
	w.count.Add(-1)
	wt.ch <- g
	return true
}

// failAll hands err to every waiter.
func (w *waitlist) failAll(err error) int {
	n := 0
	for w.grantHead(grant{err: err}) {
		n++
	}
	return n
}
