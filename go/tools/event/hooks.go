// Copyright 2019 The Vitess Authors.
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


// Package event runs groups of callbacks registered by independent parts
// of a program, such as shutdown steps.
package event

import (
	"errors"
	"sync"
)

// Hooks is a list of callbacks fired together.
type Hooks struct {
	mu    sync.Mutex
	funcs []func()
}

// Add registers f.
func (h *Hooks) Add(f func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, f)
}

// Fire runs every hook in parallel and waits for all of them.
func (h *Hooks) Fire() {
	var wg sync.WaitGroup
	for _, f := range h.snapshot() {
		wg.Go(f)
	}
	wg.Wait()
}

func (h *Hooks) snapshot() []func() {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]func(){}, h.funcs...)
}

// ErrorHooks is a list of fallible callbacks fired together.
type ErrorHooks struct {
	mu    sync.Mutex
	funcs []func() error
}

// Add registers f.
func (h *ErrorHooks) Add(f func() error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.funcs = append(h.funcs, f)
}

// Len returns the number of registered hooks.
func (h *ErrorHooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.funcs)
}

// Fire runs every hook in parallel, waits for all of them, and joins
// their errors.
func (h *ErrorHooks) Fire() error {
	h.mu.Lock()
	funcs := append([]func() error{}, h.funcs...)
	h.mu.Unlock()

	errs := make([]error, len(funcs))
	var wg sync.WaitGroup
	for i, f := range funcs {
		wg.Go(func() { errs[i] = f() })
	}
	wg.Wait()
	return errors.Join(errs...)
}
