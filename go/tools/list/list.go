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

// Package list is a generic doubly linked list. Elements can be allocated
// by the caller and pushed by value, so a waiter can own its list node and
// unlink itself in O(1).
package list

// Element is a list node.
type Element[T any] struct {
	next, prev *Element[T]
	list       *List[T]

	Value T
}

// Next returns the following element or nil.
func (e *Element[T]) Next() *Element[T] {
	if p := e.next; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// Prev returns the preceding element or nil.
func (e *Element[T]) Prev() *Element[T] {
	if p := e.prev; e.list != nil && p != &e.list.root {
		return p
	}
	return nil
}

// List is a doubly linked list. The zero value needs Init before use.
type List[T any] struct {
	root Element[T]
	len  int
}

// Init empties l.
func (l *List[T]) Init() *List[T] {
	l.root.next = &l.root
	l.root.prev = &l.root
	l.len = 0
	return l
}

// New returns an initialized list.
func New[T any]() *List[T] {
	return new(List[T]).Init()
}

// Len returns the number of elements.
func (l *List[T]) Len() int {
	return l.len
}

// Front returns the first element or nil.
func (l *List[T]) Front() *Element[T] {
	if l.len == 0 {
		return nil
	}
	return l.root.next
}

// Back returns the last element or nil.
func (l *List[T]) Back() *Element[T] {
	if l.len == 0 {
		return nil
	}
	return l.root.prev
}

func (l *List[T]) insert(e, at *Element[T]) *Element[T] {
	e.prev = at
	e.next = at.next
	e.prev.next = e
	e.next.prev = e
	e.list = l
	l.len++
	return e
}

// Remove unlinks e, which must belong to l.
func (l *List[T]) Remove(e *Element[T]) {
	if e.list != l {
		panic("list: element does not belong to this list")
	}
	e.prev.next = e.next
	e.next.prev = e.prev
	e.next = nil
	e.prev = nil
	e.list = nil
	l.len--
}

// PushFront inserts v at the front.
func (l *List[T]) PushFront(v T) *Element[T] {
	return l.insert(&Element[T]{Value: v}, &l.root)
}

// PushBack inserts v at the back.
func (l *List[T]) PushBack(v T) *Element[T] {
	return l.insert(&Element[T]{Value: v}, l.root.prev)
}

// PushFrontValue inserts a caller-allocated element at the front.
func (l *List[T]) PushFrontValue(e *Element[T]) {
	l.insert(e, &l.root)
}

// PushBackValue inserts a caller-allocated element at the back.
func (l *List[T]) PushBackValue(e *Element[T]) {
	l.insert(e, l.root.prev)
}
