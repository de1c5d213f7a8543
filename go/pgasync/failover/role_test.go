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

package failover

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
)

// source is a named stand-in provider.
type source string

func (source) GetConnection(context.Context, deadline.Deadline) (*pgasync.Conn, error) {
	return nil, nil
}

var errReadonly = mterrors.NewPgError(&mterrors.PgDiagnostic{
	Severity: "ERROR",
	Code:     "25006",
	Message:  "cannot execute INSERT in a read-only transaction",
}, "INSERT")

func TestRoleCanRecover(t *testing.T) {
	assert.True(t, Master.CanRecover(errConn))
	assert.True(t, Master.CanRecover(errReadonly))
	assert.True(t, Replica.CanRecover(mterrors.ErrOidTypeMismatch))
	assert.False(t, Replica.CanRecover(errReadonly))
	assert.False(t, Master.CanRecover(errOther))
	assert.False(t, Master.CanRecover(mterrors.ErrTimedOut))
	assert.Equal(t, "replica", Replica.String())

	custom := NewRole("analytics", mterrors.ConditionTimeout)
	assert.True(t, custom.CanRecover(mterrors.ErrTimedOut))
	assert.False(t, custom.CanRecover(errConn))
}

func TestRoleBasedFallsBack(t *testing.T) {
	op, calls := script(errConn)
	providers := RoleProviders{Master: source("master"), Replica: source("replica")}
	var fallbacks []Role
	s := RoleBased([]Role{Master, Replica}, WithOnFallback(func(err error, _ *pgasync.Conn, next Role) {
		assert.Same(t, errConn, err)
		fallbacks = append(fallbacks, next)
	}))

	_, err := s.Initiate(context.Background(), op, providers, deadline.FromNow(2*time.Second))
	require.NoError(t, err)
	require.Len(t, *calls, 2)
	assert.Equal(t, source("master"), (*calls)[0].provider)
	assert.Equal(t, source("replica"), (*calls)[1].provider)
	assert.InDelta(t, time.Second, (*calls)[0].left, float64(100*time.Millisecond))
	assert.InDelta(t, 2*time.Second, (*calls)[1].left, float64(100*time.Millisecond))
	assert.Equal(t, []Role{Replica}, fallbacks)
}

func TestRoleBasedSkipsRolesThatCannotRecover(t *testing.T) {
	op, calls := script(errReadonly)
	analytics := NewRole("analytics", mterrors.ConditionConnection)
	providers := RoleProviders{Replica: source("replica"), analytics: source("analytics"), Master: source("master")}

	_, err := RoleBased([]Role{Replica, analytics, Master}).Initiate(context.Background(), op, providers, deadline.None())
	require.NoError(t, err)
	require.Len(t, *calls, 2)
	assert.Equal(t, source("master"), (*calls)[1].provider)
}

func TestRoleBasedStopsOnUnrecoverableError(t *testing.T) {
	op, calls := script(errOther)
	called := false
	s := RoleBased([]Role{Master, Replica}, WithOnFallback(func(error, *pgasync.Conn, Role) { called = true }))

	_, err := s.Initiate(context.Background(), op, RoleProviders{Master: source("m"), Replica: source("r")}, deadline.None())
	assert.Same(t, errOther, err)
	assert.Len(t, *calls, 1)
	assert.False(t, called)
}

func TestRoleBasedReturnsLastError(t *testing.T) {
	last := mterrors.New(mterrors.SocketFailed, "no socket")
	op, calls := script(errConn, last)

	_, err := RoleBased([]Role{Master, Replica}).Initiate(context.Background(), op, RoleProviders{Master: source("m"), Replica: source("r")}, deadline.None())
	assert.Same(t, last, err)
	assert.Len(t, *calls, 2)
}

func TestRoleBasedConfigErrors(t *testing.T) {
	op, calls := script()
	ctx := context.Background()

	_, err := RoleBased([]Role{Master}).Initiate(ctx, op, source("plain"), deadline.None())
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))

	_, err = RoleBased([]Role{Master, Replica}).Initiate(ctx, op, RoleProviders{Master: source("m")}, deadline.None())
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))
	assert.ErrorContains(t, err, "replica")

	_, err = RoleBased(nil).Initiate(ctx, op, RoleProviders{}, deadline.None())
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))
	assert.Empty(t, *calls)
}

func TestRoleProvidersConnectsToMaster(t *testing.T) {
	_, err := RoleProviders{Replica: source("r")}.GetConnection(context.Background(), deadline.None())
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))

	_, err = RoleProviders{Master: source("m")}.GetConnection(context.Background(), deadline.None())
	assert.NoError(t, err)
}
