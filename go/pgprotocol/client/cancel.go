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
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/multigres/pgasync/go/pgprotocol/protocol"
)

// Cancel implements transport.Handle. It opens a separate connection to the
// same server and sends a CancelRequest with the session's key. The server
// sends no reply; success only means the request was delivered.
func (h *handle) Cancel(ctx context.Context) error {
	if h.pid == 0 {
		return errors.New("no cancel key for this connection")
	}
	h.mu.Lock()
	t := h.target
	h.mu.Unlock()

	var d net.Dialer
	conn, err := d.DialContext(ctx, t.network, t.address)
	if err != nil {
		return fmt.Errorf("dialing for cancel: %w", err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}

	w := NewMessageWriter()
	w.WriteUint32(protocol.CancelRequestCode)
	w.WriteUint32(h.pid)
	w.WriteUint32(h.secret)
	if _, err := conn.Write(AppendUntyped(nil, w.Bytes())); err != nil {
		return fmt.Errorf("sending cancel request: %w", err)
	}
	// Wait for the server to close its side so the request is processed
	// before we return.
	var b [1]byte
	_, _ = conn.Read(b[:])
	return nil
}
