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

package client_test

import (
	"context"
	"errors"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/multigres/pgasync/go/pgprotocol/client"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
	"github.com/multigres/pgasync/go/tools/fakepgserver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func connect(t *testing.T, conninfo string) (transport.Handle, error) {
	t.Helper()
	h, err := client.NewDialer(nil).StartConnect(conninfo)
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Close() })
	sock, err := h.Socket()
	require.NoError(t, err)
	for {
		switch h.PollConnect() {
		case transport.PollingOK:
			return h, nil
		case transport.PollingFailed:
			return h, errors.New(h.ErrorMessage())
		case transport.PollingReading:
			if err := sock.WaitReadable(); err != nil {
				return h, err
			}
		case transport.PollingWriting:
			if err := sock.WaitWritable(); err != nil {
				return h, err
			}
		}
	}
}

func run(t *testing.T, h transport.Handle, q pgtype.Query) ([]transport.Result, error) {
	t.Helper()
	bq, err := q.Bind(pgtype.NewOidMap())
	require.NoError(t, err)
	if err := h.SendQueryParams(bq); err != nil {
		return nil, err
	}
	if h.Flush() != transport.FlushDone {
		return nil, errors.New(h.ErrorMessage())
	}
	sock, err := h.Socket()
	require.NoError(t, err)
	var results []transport.Result
	for {
		for h.IsBusy() {
			if err := sock.WaitReadable(); err != nil {
				return results, err
			}
			if err := h.ConsumeInput(); err != nil {
				return results, err
			}
		}
		r := h.GetResult()
		if r == nil {
			return results, nil
		}
		results = append(results, r)
	}
}

func TestConnectAuthMethods(t *testing.T) {
	tests := []struct {
		name   string
		method fakepgserver.AuthMethod
	}{
		{"trust", fakepgserver.AuthTrust},
		{"cleartext", fakepgserver.AuthCleartext},
		{"md5", fakepgserver.AuthMD5},
		{"scram", fakepgserver.AuthSCRAM},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := fakepgserver.New(t, fakepgserver.WithAuth(tt.method, "alice", "s3cret"))
			h, err := connect(t, srv.ConnString())
			require.NoError(t, err)
			assert.Equal(t, transport.StatusOK, h.Status())
			assert.Equal(t, transport.TxnIdle, h.TxnStatus())
			assert.NotZero(t, h.BackendPID())
			assert.NoError(t, h.SetNonblocking())
			assert.Equal(t, 1, srv.Accepted())
		})
	}
}

func TestConnectWrongPassword(t *testing.T) {
	for _, method := range []fakepgserver.AuthMethod{fakepgserver.AuthMD5, fakepgserver.AuthSCRAM} {
		srv := fakepgserver.New(t, fakepgserver.WithAuth(method, "alice", "s3cret"))
		h, err := connect(t, srv.ConnString("password=wrong"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "password authentication failed")
		assert.Equal(t, transport.StatusBad, h.Status())
		assert.Equal(t, transport.TxnUnknown, h.TxnStatus())
	}
}

func TestConnectRefused(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	_, err = connect(t, "host=127.0.0.1 sslmode=disable user=test port="+strconv.Itoa(addr.Port))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "127.0.0.1")
}

func TestStartConnectInvalidConninfo(t *testing.T) {
	_, err := client.NewDialer(nil).StartConnect("host=localhost port=notaport")
	assert.Error(t, err)
}

func TestConnectSSLPreferFallsBack(t *testing.T) {
	srv := fakepgserver.New(t)
	conninfo := srv.ConnString() + " sslmode=prefer"
	_, err := connect(t, conninfo)
	require.NoError(t, err)
}

func TestQueryRoundTrip(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT id, name FROM users WHERE id = $1", fakepgserver.MakeResult(
		[]string{"id", "name"},
		[][]any{{int64(1), "alice"}, {int64(2), nil}},
	))
	gotParams := make(chan [][]byte, 1)
	srv.AddQueryPatternWithCallback("UPDATE .*", fakepgserver.CommandResult("UPDATE 3"), func(_ string, params [][]byte) {
		gotParams <- params
	})

	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)

	results, err := run(t, h, pgtype.NewQuery("SELECT id, name FROM users WHERE id = $1", int64(1)))
	require.NoError(t, err)
	require.Len(t, results, 1)
	r := results[0]
	assert.Equal(t, transport.ResultTuplesOK, r.Status())
	assert.Equal(t, "SELECT 2", r.CommandTag())
	require.Equal(t, 2, r.RowCount())
	require.Equal(t, 2, r.FieldCount())
	assert.Equal(t, "name", r.FieldName(1))
	assert.Equal(t, pgtype.Int8Oid, r.FieldOID(0))
	assert.True(t, r.IsNull(1, 1))

	var id int64
	require.NoError(t, pgtype.NewOidMap().Decode(r.FieldOID(0), r.Value(1, 0), &id))
	assert.Equal(t, int64(2), id)
	var name string
	require.NoError(t, pgtype.NewOidMap().Decode(r.FieldOID(1), r.Value(0, 1), &name))
	assert.Equal(t, "alice", name)

	results, err = run(t, h, pgtype.NewQuery("UPDATE users SET active = $1", true))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, transport.ResultCommandOK, results[0].Status())
	assert.Equal(t, "UPDATE 3", results[0].CommandTag())
	assert.Equal(t, [][]byte{{1}}, <-gotParams)
	assert.Equal(t, transport.TxnIdle, h.TxnStatus())
}

func TestQueryError(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddRejectedQuery("SELECT broken", fakepgserver.NewError("42P01", `relation "broken" does not exist`))
	srv.AddQuery("SELECT 1", fakepgserver.MakeResult([]string{"x"}, [][]any{{int32(1)}}))

	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)

	results, err := run(t, h, pgtype.NewQuery("SELECT broken"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, transport.ResultFatalError, results[0].Status())
	assert.Equal(t, "42P01", results[0].Diagnostic().SQLSTATE())

	// The connection is usable after a statement error.
	results, err = run(t, h, pgtype.NewQuery("SELECT 1"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, transport.ResultTuplesOK, results[0].Status())
}

func TestTxnStatus(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddRejectedQuery("SELECT fail", fakepgserver.NewError("22012", "division by zero"))

	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)

	_, err = run(t, h, pgtype.NewQuery("BEGIN"))
	require.NoError(t, err)
	assert.Equal(t, transport.TxnInTrans, h.TxnStatus())

	_, err = run(t, h, pgtype.NewQuery("SELECT fail"))
	require.NoError(t, err)
	assert.Equal(t, transport.TxnInError, h.TxnStatus())

	results, err := run(t, h, pgtype.NewQuery("COMMIT"))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "ROLLBACK", results[0].CommandTag())
	assert.Equal(t, transport.TxnIdle, h.TxnStatus())
}

func TestSendWhileBusy(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.SetNeverFail(true)
	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)

	bq, err := pgtype.NewQuery("SELECT 1").Bind(pgtype.NewOidMap())
	require.NoError(t, err)
	require.NoError(t, h.SendQueryParams(bq))
	assert.Equal(t, transport.TxnActive, h.TxnStatus())
	assert.True(t, h.IsBusy())
	assert.Error(t, h.SendQueryParams(bq))
}

func TestCancelRequest(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT slow", fakepgserver.MakeResult([]string{"x"}, [][]any{{int32(1)}}).WithDelay(10*time.Second))

	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		time.Sleep(100 * time.Millisecond)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		done <- h.Cancel(ctx)
	}()

	results, err := run(t, h, pgtype.NewQuery("SELECT slow"))
	require.NoError(t, err)
	require.NoError(t, <-done)
	require.Len(t, results, 1)
	assert.Equal(t, transport.ResultFatalError, results[0].Status())
	assert.Equal(t, "57014", results[0].Diagnostic().SQLSTATE())
}

func TestSocketCancelInterruptsWait(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT slow", fakepgserver.CommandResult("SELECT 0").WithDelay(10*time.Second))

	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)
	sock, err := h.Socket()
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		sock.Cancel()
	}()
	_, err = run(t, h, pgtype.NewQuery("SELECT slow"))
	assert.ErrorIs(t, err, transport.ErrCanceled)

	sock.Cancel()
	assert.ErrorIs(t, sock.WaitWritable(), transport.ErrCanceled)
	sock.Reset()
	assert.NoError(t, sock.WaitWritable())
}

func TestServerDropsConnection(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT slow", fakepgserver.CommandResult("SELECT 0").WithDelay(10*time.Second))

	h, err := connect(t, srv.ConnString())
	require.NoError(t, err)

	go func() {
		time.Sleep(50 * time.Millisecond)
		srv.DropConnections()
	}()
	_, err = run(t, h, pgtype.NewQuery("SELECT slow"))
	require.Error(t, err)
	assert.Equal(t, transport.StatusBad, h.Status())
}

