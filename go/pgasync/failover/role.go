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
	"slices"
	"time"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
)

// Role names a kind of connection source and the failures a source of
// that kind can take over from. Roles are comparable and key RoleProviders.
type Role struct {
	name        string
	recoverable uint64
}

// Built-in roles.
var (
	Master = NewRole("master",
		mterrors.ConditionConnection, mterrors.ConditionTypeMismatch,
		mterrors.ConditionProtocol, mterrors.ConditionDatabaseReadonly)
	Replica = NewRole("replica",
		mterrors.ConditionConnection, mterrors.ConditionTypeMismatch,
		mterrors.ConditionProtocol)
)

// NewRole defines a role that can recover from errors matching any of
// conds.
func NewRole(name string, conds ...mterrors.Condition) Role {
	r := Role{name: name}
	for _, c := range conds {
		r.recoverable |= 1 << uint(c)
	}
	return r
}

func (r Role) String() string {
	return r.name
}

// CanRecover reports whether a source of this role may succeed where
// another failed with err.
func (r Role) CanRecover(err error) bool {
	for c := mterrors.Condition(0); c < 64; c++ {
		if r.recoverable&(1<<uint(c)) != 0 && mterrors.Matches(err, c) {
			return true
		}
	}
	return false
}

// RoleProviders maps each role to its connection source.
type RoleProviders map[Role]pgasync.Provider

// GetConnection makes RoleProviders a Provider by connecting to the
// master.
func (rp RoleProviders) GetConnection(ctx context.Context, t deadline.Deadline) (*pgasync.Conn, error) {
	p, ok := rp[Master]
	if !ok {
		return nil, mterrors.New(mterrors.BadConfig, "no provider for role %s", Master)
	}
	return p.GetConnection(ctx, t)
}

// RoleBasedStrategy runs an operation against the source of each role in
// turn until one succeeds.
type RoleBasedStrategy struct {
	roles []Role
	opts  options
}

var _ pgasync.Strategy = (*RoleBasedStrategy)(nil)

// RoleBased tries roles in order. After a failure it moves to the next
// role that can recover from the error, skipping the others.
func RoleBased(roles []Role, opts ...Option) *RoleBasedStrategy {
	return &RoleBasedStrategy{roles: slices.Clone(roles), opts: newOptions(opts)}
}

// Roles returns the role order.
func (s *RoleBasedStrategy) Roles() []Role {
	return slices.Clone(s.roles)
}

// Initiate implements pgasync.Strategy. p must be a RoleProviders with a
// source for every role.
func (s *RoleBasedStrategy) Initiate(ctx context.Context, op pgasync.Initiator, p pgasync.Provider, t deadline.Deadline) (*pgasync.Conn, error) {
	providers, ok := p.(RoleProviders)
	if !ok {
		return nil, mterrors.New(mterrors.BadConfig, "role-based strategy needs RoleProviders, got %T", p)
	}
	if len(s.roles) == 0 {
		return nil, mterrors.New(mterrors.BadConfig, "role-based strategy has no roles")
	}
	for _, r := range s.roles {
		if _, ok := providers[r]; !ok {
			return nil, mterrors.New(mterrors.BadConfig, "no provider for role %s", r)
		}
	}

	for i := 0; ; {
		role := s.roles[i]
		conn, err := op(ctx, providers[role], t.Divide(len(s.roles)-i, time.Now()))
		if err == nil {
			return conn, nil
		}
		next := s.nextRole(i, err)
		if next < 0 || ctx.Err() != nil {
			return conn, err
		}

		s.opts.logger.InfoContext(ctx, "falling back to next role",
			"role", role, "next", s.roles[next], "error", err, "context", conn.ErrorContext())
		if s.opts.onFallback != nil {
			s.opts.onFallback(err, conn, s.roles[next])
		}
		conn.Release()
		i = next
	}
}

// nextRole returns the index of the first role after i that can recover
// from err, or -1.
func (s *RoleBasedStrategy) nextRole(i int, err error) int {
	for j := i + 1; j < len(s.roles); j++ {
		if s.roles[j].CanRecover(err) {
			return j
		}
	}
	return -1
}
