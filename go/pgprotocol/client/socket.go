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

package client

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/multigres/pgasync/go/pgprotocol/bufpool"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
)

// readChunkSize is the most a single socket read takes. Read buffers are
// borrowed per read so idle connections hold none.
const readChunkSize = 8192

var readBuffers = bufpool.New(readChunkSize, readChunkSize)

// socket implements transport.Socket over a handle's net.Conn. Waits are
// real reads into the handle's buffer; Cancel interrupts them by moving the
// connection deadline into the past.
type socket struct {
	h *handle
}

var _ transport.Socket = (*socket)(nil)

func (s *socket) state() (chan struct{}, bool) {
	s.h.mu.Lock()
	defer s.h.mu.Unlock()
	return s.h.cancelCh, s.h.canceled
}

// WaitReadable implements transport.Socket.
func (s *socket) WaitReadable() error {
	h := s.h
	cancelCh, canceled := s.state()
	if canceled {
		return transport.ErrCanceled
	}
	if h.phase == phaseDialing {
		select {
		case <-h.dialDone:
			return nil
		case <-cancelCh:
			return transport.ErrCanceled
		}
	}
	conn := h.netConn()
	if conn == nil {
		return errors.New("connection is closed")
	}
	buf := readBuffers.Get(readChunkSize)
	n, err := conn.Read(*buf)
	h.rbuf = append(h.rbuf, (*buf)[:n]...)
	readBuffers.Put(buf)
	if err == nil || n > 0 {
		return nil
	}
	if _, canceled := s.state(); canceled {
		return transport.ErrCanceled
	}
	if errors.Is(err, io.EOF) {
		err = fmt.Errorf("server closed the connection unexpectedly: %w", err)
	}
	h.fail("%v", err)
	return err
}

// WaitWritable implements transport.Socket. Writes are performed whole by
// Flush, so the socket is always writable unless canceled.
func (s *socket) WaitWritable() error {
	if _, canceled := s.state(); canceled {
		return transport.ErrCanceled
	}
	return nil
}

// Cancel implements transport.Socket.
func (s *socket) Cancel() {
	h := s.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.canceled {
		h.canceled = true
		close(h.cancelCh)
	}
	if h.conn != nil {
		_ = h.conn.SetDeadline(time.Unix(1, 0))
	}
	h.dialCancel()
}

// Reset implements transport.Socket.
func (s *socket) Reset() {
	h := s.h
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.canceled {
		h.canceled = false
		h.cancelCh = make(chan struct{})
	}
	if h.conn != nil {
		_ = h.conn.SetDeadline(time.Time{})
	}
}
