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

// stack is the LIFO store of idle connections. The most recently released
// connection is handed out first so that the tail of the stack ages out.
// It is not safe for concurrent use; the pool's lock guards it.
type stack struct {
	top *Pooled
	n   int
}

func (s *stack) push(p *Pooled) {
	p.next = s.top
	s.top = p
	s.n++
}

// pop returns nil when the stack is empty.
func (s *stack) pop() *Pooled {
	p := s.top
	if p == nil {
		return nil
	}
	s.top = p.next
	p.next = nil
	s.n--
	return p
}

func (s *stack) len() int {
	return s.n
}

// removeIf unlinks every entry for which fn returns true and returns them.
func (s *stack) removeIf(fn func(*Pooled) bool) []*Pooled {
	var removed []*Pooled
	link := &s.top
	for p := *link; p != nil; p = *link {
		if !fn(p) {
			link = &p.next
			continue
		}
		*link = p.next
		p.next = nil
		s.n--
		removed = append(removed, p)
	}
	return removed
}

// drain empties the stack.
func (s *stack) drain() []*Pooled {
	return s.removeIf(func(*Pooled) bool { return true })
}
