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

import "sync"

// Executor runs completion handlers of asynchronous operations.
type Executor interface {
	Post(fn func())
}

// GoExecutor runs each handler on its own goroutine.
type GoExecutor struct{}

// Post implements Executor.
func (GoExecutor) Post(fn func()) {
	go fn()
}

// Strand runs handlers one at a time in the order they were posted. It
// holds a goroutine only while handlers are queued.
type Strand struct {
	mu      sync.Mutex
	queue   []func()
	running bool
}

// NewStrand creates an empty strand.
func NewStrand() *Strand {
	return &Strand{}
}

// Post implements Executor.
func (s *Strand) Post(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, fn)
	if !s.running {
		s.running = true
		go s.run()
	}
}

func (s *Strand) run() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.running = false
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()
		fn()
	}
}
