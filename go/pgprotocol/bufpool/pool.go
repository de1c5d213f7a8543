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

// Package bufpool recycles byte buffers in power-of-two size classes.
package bufpool

import (
	"math/bits"
	"sync"
)

// class holds buffers of exactly size bytes of capacity.
type class struct {
	size int
	pool sync.Pool
}

// Pool hands out buffers from size classes min, 2*min, 4*min, ... up to
// max. Requests above max are allocated and never recycled.
type Pool struct {
	min     int
	max     int
	classes []*class
}

// New returns a pool with classes from min to max bytes. max is always
// the last class, even when it is not a power-of-two multiple of min.
func New(min, max int) *Pool {
	if min <= 0 || max < min {
		panic("bufpool: need 0 < min <= max")
	}
	p := &Pool{min: min, max: max}
	for size := min; ; size *= 2 {
		if size >= max {
			size = max
		}
		c := &class{size: size}
		c.pool.New = func() any {
			b := make([]byte, c.size)
			return &b
		}
		p.classes = append(p.classes, c)
		if size == max {
			break
		}
	}
	return p
}

// classFor returns the smallest class holding size bytes, or nil.
func (p *Pool) classFor(size int) *class {
	if size > p.max {
		return nil
	}
	idx := 0
	if size > p.min {
		idx = bits.Len(uint((size - 1) / p.min))
	}
	return p.classes[min(idx, len(p.classes)-1)]
}

// Get returns a buffer of length size. Return it with Put.
func (p *Pool) Get(size int) *[]byte {
	c := p.classFor(size)
	if c == nil {
		b := make([]byte, size)
		return &b
	}
	b := c.pool.Get().(*[]byte)
	*b = (*b)[:size]
	return b
}

// Put recycles buf. Buffers whose capacity is not exactly a class size
// are dropped. buf must not be used afterwards.
func (p *Pool) Put(buf *[]byte) {
	c := p.classFor(cap(*buf))
	if c == nil || c.size != cap(*buf) {
		return
	}
	*buf = (*buf)[:c.size]
	c.pool.Put(buf)
}
