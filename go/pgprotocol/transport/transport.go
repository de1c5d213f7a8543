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

// Package transport defines the primitive operations pgasync drives a
// wire-protocol connection with. Implementations never block except in
// Socket waits and Handle.Cancel.
package transport

import (
	"context"
	"errors"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgtype"
)

// ConnStatus is the health of a handle.
type ConnStatus int

const (
	StatusOK ConnStatus = iota
	StatusBad
)

// PollStatus is the outcome of one PollConnect step.
type PollStatus int

const (
	PollingFailed PollStatus = iota
	PollingReading
	PollingWriting
	PollingOK
)

func (s PollStatus) String() string {
	switch s {
	case PollingFailed:
		return "failed"
	case PollingReading:
		return "reading"
	case PollingWriting:
		return "writing"
	case PollingOK:
		return "ok"
	}
	return "unknown"
}

// FlushStatus is the outcome of one Flush.
type FlushStatus int

const (
	FlushDone FlushStatus = iota
	FlushInProgress
	FlushError
)

// TxnStatus is the server's transaction state as of the last ReadyForQuery.
type TxnStatus int

const (
	TxnIdle TxnStatus = iota
	// TxnActive means a command is in progress.
	TxnActive
	TxnInTrans
	TxnInError
	TxnUnknown
)

func (s TxnStatus) String() string {
	switch s {
	case TxnIdle:
		return "idle"
	case TxnActive:
		return "active"
	case TxnInTrans:
		return "in transaction"
	case TxnInError:
		return "in failed transaction"
	}
	return "unknown"
}

// ResultStatus classifies a result object.
type ResultStatus int

const (
	ResultEmptyQuery ResultStatus = iota
	ResultCommandOK
	ResultTuplesOK
	ResultFatalError
)

// Result is one result object of a query.
type Result interface {
	pgtype.ResultSet
	Status() ResultStatus
	CommandTag() string
	// Diagnostic is set for ResultFatalError.
	Diagnostic() *mterrors.PgDiagnostic
}

// Socket is the readiness side of a connection.
type Socket interface {
	// WaitReadable blocks until input is available or the socket is
	// canceled.
	WaitReadable() error
	// WaitWritable blocks until output can be written or the socket is
	// canceled.
	WaitWritable() error
	// Cancel aborts pending and future waits with ErrCanceled until Reset.
	// It is safe to call from any goroutine and more than once.
	Cancel()
	// Reset re-enables waits after Cancel.
	Reset()
}

// ErrCanceled is returned by Socket waits after Cancel.
var ErrCanceled = errors.New("socket wait canceled")

// Handle is a wire-protocol connection.
type Handle interface {
	Status() ConnStatus
	PollConnect() PollStatus
	Socket() (Socket, error)
	SetNonblocking() error
	SendQueryParams(q *pgtype.BinaryQuery) error
	Flush() FlushStatus
	IsBusy() bool
	ConsumeInput() error
	// GetResult returns the next result, or nil once the query is done.
	GetResult() Result
	TxnStatus() TxnStatus
	// ErrorMessage is the last native error text.
	ErrorMessage() string
	BackendPID() uint32
	// Cancel asks the server to cancel the running query. It blocks.
	Cancel(ctx context.Context) error
	Close() error
}

// Dialer starts connections.
type Dialer interface {
	// StartConnect begins a connection without waiting for it; drive it
	// with PollConnect.
	StartConnect(conninfo string) (Handle, error)
}
