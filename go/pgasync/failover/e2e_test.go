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

package failover_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgasync/failover"
	"github.com/multigres/pgasync/go/pgasync/pgasynctest"
	"github.com/multigres/pgasync/go/pgasync/pool"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
	"github.com/multigres/pgasync/go/tools/fakepgserver"
)

func TestRequestWithRetry(t *testing.T) {
	var n atomic.Int32
	d := pgasynctest.NewDialer(func(*pgtype.BinaryQuery) []transport.Result {
		if n.Add(1) == 1 {
			return []transport.Result{pgasynctest.Error("08006", "connection failure")}
		}
		return []transport.Result{pgasynctest.Rows("n", int64(1), int64(2))}
	})
	src := pgasync.NewConnectionInfo("", pgasync.WithDialer(d))

	var rows []int64
	conn, err := pgasync.RequestWith(context.Background(), failover.Retry(2, failover.On(mterrors.ConditionConnection)),
		src, pgtype.NewQuery("SELECT n"), deadline.FromNow(time.Second), pgtype.Rows(&rows))
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, []int64{1, 2}, rows)
	require.Len(t, d.Handles(), 2)
	assert.True(t, d.Handles()[0].Closed())
}

func TestRequestWithRetryThroughPool(t *testing.T) {
	d := pgasynctest.NewDialer(nil)
	p, err := pool.NewThreadSafe(pgasync.NewConnectionInfo("", pgasync.WithDialer(d)), pool.Config{Capacity: 1})
	require.NoError(t, err)
	defer p.Close()

	var broken atomic.Bool
	op := failover.Retry(3, failover.On(mterrors.ConditionConnection), failover.WithOnRetry(func(err error, conn *pgasync.Conn) {
		assert.True(t, conn.IsBad())
		broken.Store(true)
	}))
	first := true
	initiator := func(ctx context.Context, p pgasync.Provider, t deadline.Deadline) (*pgasync.Conn, error) {
		conn, err := pgasync.Execute(ctx, p, pgtype.NewQuery("SELECT 1"), t)
		if err == nil && first {
			first = false
			conn.Handle().(*pgasynctest.Handle).Break()
			return conn, mterrors.New(mterrors.IOError, "connection reset")
		}
		return conn, err
	}

	conn, err := op.Initiate(context.Background(), initiator, p, deadline.FromNow(time.Second))
	require.NoError(t, err)
	conn.Release()
	assert.True(t, broken.Load())
	assert.Equal(t, 2, d.Dials())
	assert.Equal(t, pool.Stats{Size: 1, Available: 1}, p.Stats())
}

func TestEndToEndRoleBased(t *testing.T) {
	replica := fakepgserver.New(t, fakepgserver.WithName("replica"))
	replica.RejectQueryPattern(`INSERT.*`, fakepgserver.NewError("25006", "cannot execute INSERT in a read-only transaction"))
	master := fakepgserver.New(t, fakepgserver.WithName("master"))
	master.AddQueryPattern(`INSERT.*`, fakepgserver.CommandResult("INSERT 0 1"))

	providers := failover.RoleProviders{
		failover.Replica: pgasync.NewConnectionInfo(replica.ConnString()),
		failover.Master:  pgasync.NewConnectionInfo(master.ConnString()),
	}
	var fellBack []failover.Role
	s := failover.RoleBased([]failover.Role{failover.Replica, failover.Master},
		failover.WithOnFallback(func(err error, conn *pgasync.Conn, next failover.Role) {
			fellBack = append(fellBack, next)
		}))

	conn, err := pgasync.ExecuteWith(context.Background(), s, providers,
		pgtype.NewQuery("INSERT INTO accounts VALUES ($1)", int64(1)), deadline.FromNow(5*time.Second))
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, []failover.Role{failover.Master}, fellBack)
	assert.Equal(t, 1, master.GetPatternCalledNum(`INSERT.*`))
}

func TestEndToEndRoleBasedMasterDown(t *testing.T) {
	master := fakepgserver.New(t, fakepgserver.WithName("master"))
	masterConn := master.ConnString()
	master.Close()
	replica := fakepgserver.New(t, fakepgserver.WithName("replica"))
	replica.AddQuery("SELECT 1", fakepgserver.MakeResult([]string{"n"}, [][]any{{int32(1)}}))

	providers := failover.RoleProviders{
		failover.Master:  pgasync.NewConnectionInfo(masterConn),
		failover.Replica: pgasync.NewConnectionInfo(replica.ConnString()),
	}
	var n []int32
	conn, err := pgasync.RequestWith(context.Background(), failover.RoleBased([]failover.Role{failover.Master, failover.Replica}),
		providers, pgtype.NewQuery("SELECT 1"), deadline.FromNow(5*time.Second), pgtype.Rows(&n))
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, []int32{1}, n)
}
