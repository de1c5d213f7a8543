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

package txn_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgasync/txn"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
	"github.com/multigres/pgasync/go/tools/fakepgserver"
)

func TestEndToEndTransaction(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.AddQuery("CREATE SCHEMA app", fakepgserver.CommandResult("CREATE SCHEMA"))
	src := pgasync.NewConnectionInfo(srv.ConnString())
	ctx := context.Background()

	for _, level := range []txn.IsolationLevel{txn.Serializable, txn.RepeatableRead, txn.ReadCommitted, txn.ReadUncommitted} {
		tx, err := txn.Begin(ctx, src, txn.Options{Isolation: level}, deadline.FromNow(5*time.Second))
		require.NoError(t, err, level.String())
		assert.Equal(t, transport.TxnInTrans, tx.Conn().TxnStatus())
		require.NoError(t, tx.Execute(ctx, pgtype.NewQuery("CREATE SCHEMA app"), deadline.FromNow(5*time.Second)))

		conn, err := txn.Commit(ctx, tx, deadline.FromNow(5*time.Second))
		require.NoError(t, err)
		assert.Equal(t, transport.TxnIdle, conn.TxnStatus())
		_ = conn.Close()
	}
	assert.Equal(t, 4, srv.GetQueryCalledNum("CREATE SCHEMA app"))
}

func TestEndToEndFailedTransaction(t *testing.T) {
	srv := fakepgserver.New(t)
	srv.RejectQueryPattern(`DROP SCHEMA.*`, fakepgserver.NewError("3F000", `schema "app" does not exist`))
	ctx := context.Background()

	tx, err := txn.Begin(ctx, pgasync.NewConnectionInfo(srv.ConnString()), txn.Options{}, deadline.FromNow(5*time.Second))
	require.NoError(t, err)
	err = tx.Execute(ctx, pgtype.NewQuery("DROP SCHEMA app"), deadline.FromNow(5*time.Second))
	assert.True(t, mterrors.Matches(err, mterrors.ConditionSQL))
	assert.Equal(t, transport.TxnInError, tx.Conn().TxnStatus())

	conn, err := txn.Rollback(ctx, tx, deadline.FromNow(5*time.Second))
	require.NoError(t, err)
	assert.Equal(t, transport.TxnIdle, conn.TxnStatus())
	_ = conn.Close()
}
