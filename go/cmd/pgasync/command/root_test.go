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

package command

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/tools/fakepgserver"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// execute runs the pgasync command line with args and returns its stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	root, pc := GetRootCommand()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&bytes.Buffer{})
	root.SetArgs(append([]string{"--log-level", "error"}, args...))
	err := root.Execute()
	require.NoError(t, pc.Close(context.Background()))
	return out.String(), err
}

func decodeResult(t *testing.T, out string) queryResult {
	t.Helper()
	var res queryResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	return res
}

func TestQuery(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT 1 AS n, 'a' AS s", fakepgserver.MakeResult([]string{"n", "s"}, [][]any{{int32(1), "a"}}))

	out, err := execute(t, "--conninfo", srv.ConnString(), "query", "SELECT 1 AS n, 'a' AS s")
	require.NoError(t, err)

	res := decodeResult(t, out)
	assert.Equal(t, []string{"n", "s"}, res.Columns)
	assert.Equal(t, [][]any{{float64(1), "a"}}, res.Rows)
	assert.NotZero(t, res.PID)
}

func TestQueryBindsTextParameters(t *testing.T) {
	srv := fakepgserver.New(t)
	got := make(chan [][]byte, 1)
	srv.AddQueryPatternWithCallback(`SELECT \$1::int8`, fakepgserver.MakeResult([]string{"v"}, [][]any{{int64(42)}}), func(_ string, params [][]byte) {
		got <- params
	})

	out, err := execute(t, "--conninfo", srv.ConnString(), "query", "SELECT $1::int8", "42")
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("42")}, <-got)
	assert.Equal(t, [][]any{{float64(42)}}, decodeResult(t, out).Rows)
}

func TestQueryRepeatReusesConnection(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT 1", fakepgserver.MakeResult([]string{"one"}, [][]any{{int32(1)}}))

	out, err := execute(t, "--conninfo", srv.ConnString(), "query", "--repeat", "3", "--interval", "1ms", "SELECT 1")
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	first := decodeResult(t, lines[0]).PID
	for _, l := range lines[1:] {
		assert.Equal(t, first, decodeResult(t, l).PID)
	}
	assert.Equal(t, 1, srv.Accepted())
}

func TestQuerySQLError(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddRejectedQuery("SELEC 1", fakepgserver.NewError("42601", "syntax error at or near \"SELEC\""))

	_, err := execute(t, "--conninfo", srv.ConnString(), "query", "SELEC 1")
	require.Error(t, err)
	assert.True(t, mterrors.IsError(err, mterrors.SQLError))
	assert.Equal(t, 1, srv.GetQueryCalledNum("SELEC 1"))
}

func TestQueryPreferReplica(t *testing.T) {
	primary := fakepgserver.New(t, fakepgserver.WithName("primary"))
	replica := fakepgserver.New(t, fakepgserver.WithName("replica"))
	const q = "INSERT INTO t VALUES (1) RETURNING 1"
	replica.AddRejectedQuery(q, fakepgserver.NewError("25006", "cannot execute INSERT in a read-only transaction"))
	primary.AddQuery(q, fakepgserver.MakeResult([]string{"?column?"}, [][]any{{int32(1)}}))

	out, err := execute(t,
		"--conninfo", primary.ConnString(),
		"--replica-conninfo", replica.ConnString(),
		"query", "--prefer-replica", q)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{float64(1)}}, decodeResult(t, out).Rows)
	assert.Equal(t, 1, replica.GetQueryCalledNum(q))
	assert.Equal(t, 1, primary.GetQueryCalledNum(q))
}

func TestQueryPreferReplicaNeedsReplica(t *testing.T) {
	srv := fakepgserver.New(t)
	_, err := execute(t, "--conninfo", srv.ConnString(), "query", "--prefer-replica", "SELECT 1")
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))
	assert.Equal(t, 0, srv.Accepted())
}

func TestQueryNeedsConninfo(t *testing.T) {
	_, err := execute(t, "query", "SELECT 1")
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))
}

func TestPing(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("SELECT 1", fakepgserver.MakeResult([]string{"one"}, [][]any{{int32(1)}}))

	out, err := execute(t, "--conninfo", srv.ConnString(), "ping")
	require.NoError(t, err)

	var res PingResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	assert.NotZero(t, res.BackendPID)
	assert.Equal(t, transport.TxnIdle.String(), res.TxnStatus)
}

func TestConfigCommand(t *testing.T) {
	out, err := execute(t, "--conninfo", "host=db1 user=app", "--failover-attempts", "5", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "conninfo: host=db1 user=app")
	assert.Contains(t, out, "attempts: 5")
	assert.Contains(t, out, "level: error")
}
