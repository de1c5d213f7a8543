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

package pool

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgasync/pgasynctest"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/pgtype"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// clock is a settable time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock {
	return &clock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestPool(t *testing.T, cfg Config, opts ...Option) (*Pool[*sync.Mutex], *pgasynctest.Dialer) {
	t.Helper()
	d := pgasynctest.NewDialer(nil)
	p, err := NewThreadSafe(pgasync.NewConnectionInfo("", pgasync.WithDialer(d)), cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, d
}

func get(t *testing.T, p *Pool[*sync.Mutex]) *pgasync.Conn {
	t.Helper()
	conn, err := p.GetConnection(context.Background(), deadline.FromNow(time.Second))
	require.NoError(t, err)
	return conn
}

func fake(c *pgasync.Conn) *pgasynctest.Handle {
	return c.Handle().(*pgasynctest.Handle)
}

func TestPoolReusesReleasedConnection(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 1, QueueCapacity: 1})

	c1 := get(t, p)
	pid := c1.BackendPID()
	assert.Equal(t, Stats{Size: 1, Used: 1}, p.Stats())
	c1.Release()
	assert.Equal(t, Stats{Size: 1, Available: 1}, p.Stats())

	c2 := get(t, p)
	assert.Equal(t, pid, c2.BackendPID())
	assert.Equal(t, 1, d.Dials())
	c2.Release()
}

func TestPoolHandsOutMostRecentlyReleased(t *testing.T) {
	p, _ := newTestPool(t, Config{Capacity: 3})
	a, b := get(t, p), get(t, p)
	pidB := b.BackendPID()
	a.Release()
	b.Release()

	c := get(t, p)
	assert.Equal(t, pidB, c.BackendPID())
	c.Release()
}

func TestPoolWaiterGetsReleasedConnection(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 1, QueueCapacity: 4})
	held := get(t, p)
	pid := held.BackendPID()

	got := make(chan *pgasync.Conn, 1)
	go func() {
		c, err := p.GetConnection(context.Background(), deadline.FromNow(5*time.Second))
		assert.NoError(t, err)
		got <- c
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	held.Release()
	c := <-got
	assert.Equal(t, pid, c.BackendPID())
	assert.Equal(t, 1, d.Dials())
	assert.Equal(t, Stats{Size: 1, Used: 1}, p.Stats())
	c.Release()
}

func TestPoolWaitersAreServedInOrder(t *testing.T) {
	p, _ := newTestPool(t, Config{Capacity: 1, QueueCapacity: 4})
	held := get(t, p)

	var order []int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := p.GetConnection(context.Background(), deadline.FromNow(5*time.Second))
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			c.Release()
		}()
		require.Eventually(t, func() bool { return p.Stats().Waiting == i+1 }, time.Second, time.Millisecond)
	}
	held.Release()
	wg.Wait()
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestPoolQueueFull(t *testing.T) {
	p, _ := newTestPool(t, Config{Capacity: 1, QueueCapacity: 0})
	held := get(t, p)
	defer held.Release()

	start := time.Now()
	_, err := p.GetConnection(context.Background(), deadline.FromNow(time.Minute))
	assert.ErrorIs(t, err, mterrors.ErrPoolQueueFull)
	assert.True(t, mterrors.Matches(err, mterrors.ConditionPoolAdmission))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPoolQueueTimeout(t *testing.T) {
	p, _ := newTestPool(t, Config{Capacity: 1, QueueCapacity: 1})
	held := get(t, p)
	defer held.Release()

	_, err := p.GetConnection(context.Background(), deadline.FromNow(20*time.Millisecond))
	assert.ErrorIs(t, err, mterrors.ErrPoolQueueTimeout)
	assert.True(t, mterrors.Matches(err, mterrors.ConditionTimeout))
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestPoolQueueContextCanceled(t *testing.T) {
	p, _ := newTestPool(t, Config{Capacity: 1, QueueCapacity: 1})
	held := get(t, p)
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(10*time.Millisecond, cancel)
	_, err := p.GetConnection(ctx, deadline.None())
	assert.ErrorIs(t, err, mterrors.ErrOperationAborted)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, p.Stats().Waiting)
}

func TestPoolWastesUnusableConnections(t *testing.T) {
	tests := []struct {
		name  string
		spoil func(h *pgasynctest.Handle)
	}{
		{"bad", func(h *pgasynctest.Handle) { h.Break() }},
		{"in transaction", func(h *pgasynctest.Handle) { h.SetTxnStatus(transport.TxnInTrans) }},
		{"failed transaction", func(h *pgasynctest.Handle) { h.SetTxnStatus(transport.TxnInError) }},
		{"busy", func(h *pgasynctest.Handle) { h.SetTxnStatus(transport.TxnActive) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, d := newTestPool(t, Config{Capacity: 2})
			c := get(t, p)
			h := fake(c)
			tt.spoil(h)
			c.Release()
			assert.True(t, h.Closed())
			assert.Equal(t, Stats{}, p.Stats())

			c = get(t, p)
			assert.Equal(t, 2, d.Dials())
			c.Release()
		})
	}
}

func TestPoolWarnsOnLeakedTransaction(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelWarn}))
	p, _ := newTestPool(t, Config{Capacity: 2}, WithLogger(logger))

	c := get(t, p)
	fake(c).Break()
	c.Release()
	assert.Empty(t, buf.String())

	c = get(t, p)
	fake(c).SetTxnStatus(transport.TxnInTrans)
	c.Release()
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="wasting connection"`)
	assert.Contains(t, buf.String(), "transaction status")
}

func TestPoolWastedSlotGoesToWaiter(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 1, QueueCapacity: 1})
	held := get(t, p)

	got := make(chan *pgasync.Conn, 1)
	go func() {
		c, err := p.GetConnection(context.Background(), deadline.FromNow(5*time.Second))
		assert.NoError(t, err)
		got <- c
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	fake(held).SetTxnStatus(transport.TxnInTrans)
	held.Release()
	c := <-got
	assert.Equal(t, 2, d.Dials())
	assert.Equal(t, 1, p.Stats().Size)
	c.Release()
}

func TestPoolCreateFailureFreesSlot(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 1, QueueCapacity: 1})
	d.FailWith(errors.New("could not translate host name"))

	conn, err := p.GetConnection(context.Background(), deadline.FromNow(time.Second))
	assert.True(t, mterrors.IsError(err, mterrors.ConnectionStartFailed))
	assert.True(t, conn.IsBad())
	assert.Equal(t, Stats{}, p.Stats())

	d.FailWith(nil)
	c := get(t, p)
	c.Release()
}

func TestPoolIdleTimeoutOnAcquire(t *testing.T) {
	clk := newClock()
	p, d := newTestPool(t, Config{Capacity: 2, IdleTimeout: time.Minute, SweepInterval: time.Hour})
	p.now = clk.Now

	c := get(t, p)
	h := fake(c)
	c.Release()
	clk.Advance(2 * time.Minute)

	c = get(t, p)
	assert.True(t, h.Closed())
	assert.Equal(t, 2, d.Dials())
	assert.Equal(t, Stats{Size: 1, Used: 1}, p.Stats())
	c.Release()
}

func TestPoolLifespanOnRelease(t *testing.T) {
	clk := newClock()
	p, _ := newTestPool(t, Config{Capacity: 2, Lifespan: time.Minute, SweepInterval: time.Hour})
	p.now = clk.Now

	c := get(t, p)
	h := fake(c)
	clk.Advance(time.Minute)
	c.Release()
	assert.True(t, h.Closed())
	assert.Equal(t, Stats{}, p.Stats())
}

func TestPoolSweep(t *testing.T) {
	clk := newClock()
	d := pgasynctest.NewDialer(nil)
	p, err := NewSingleThreaded(pgasync.NewConnectionInfo("", pgasync.WithDialer(d)), Config{Capacity: 3, IdleTimeout: time.Minute})
	require.NoError(t, err)
	defer p.Close()
	require.Nil(t, p.sweeper)
	p.now = clk.Now

	ctx := context.Background()
	a, err := p.GetConnection(ctx, deadline.None())
	require.NoError(t, err)
	b, err := p.GetConnection(ctx, deadline.None())
	require.NoError(t, err)
	a.Release()
	clk.Advance(45 * time.Second)
	b.Release()
	clk.Advance(30 * time.Second)

	assert.Equal(t, 1, p.Sweep())
	assert.Equal(t, Stats{Size: 1, Available: 1}, p.Stats())
	assert.Equal(t, 0, p.Sweep())
}

func TestPoolBackgroundSweep(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 2, IdleTimeout: 20 * time.Millisecond, SweepInterval: 5 * time.Millisecond})
	require.NotNil(t, p.sweeper)
	get(t, p).Release()

	h := d.Handles()[0]
	require.Eventually(t, h.Closed, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Stats().Size)
}

func TestPoolInvalidate(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 2})
	idle, used := get(t, p), get(t, p)
	idleHandle, usedHandle := fake(idle), fake(used)
	idle.Release()

	p.Invalidate()
	assert.True(t, idleHandle.Closed())
	assert.False(t, usedHandle.Closed())
	assert.Equal(t, Stats{Size: 1, Used: 1}, p.Stats())

	used.Release()
	assert.True(t, usedHandle.Closed())
	assert.Equal(t, Stats{}, p.Stats())

	get(t, p).Release()
	assert.Equal(t, 3, d.Dials())
}

func TestPoolClose(t *testing.T) {
	d := pgasynctest.NewDialer(nil)
	p, err := NewThreadSafe(pgasync.NewConnectionInfo("", pgasync.WithDialer(d)), Config{Capacity: 2, QueueCapacity: 2})
	require.NoError(t, err)

	first, second := get(t, p), get(t, p)

	waitErr := make(chan error, 1)
	go func() {
		_, err := p.GetConnection(context.Background(), deadline.FromNow(5*time.Second))
		waitErr <- err
	}()
	require.Eventually(t, func() bool { return p.Stats().Waiting == 1 }, time.Second, time.Millisecond)

	require.NoError(t, p.Close())
	assert.ErrorIs(t, <-waitErr, mterrors.ErrPoolClosed)
	assert.Equal(t, 0, p.Stats().Waiting)

	_, err = p.GetConnection(context.Background(), deadline.None())
	assert.ErrorIs(t, err, mterrors.ErrPoolClosed)

	for _, c := range []*pgasync.Conn{first, second} {
		h := fake(c)
		c.Release()
		assert.True(t, h.Closed())
	}
	assert.Equal(t, Stats{}, p.Stats())
	assert.ErrorIs(t, p.Close(), mterrors.ErrPoolClosed)
}

func TestPoolCloseClosesIdle(t *testing.T) {
	d := pgasynctest.NewDialer(nil)
	p, err := NewThreadSafe(pgasync.NewConnectionInfo("", pgasync.WithDialer(d)), Config{Capacity: 2})
	require.NoError(t, err)

	get(t, p).Release()
	require.Equal(t, Stats{Size: 1, Available: 1}, p.Stats())

	require.NoError(t, p.Close())
	assert.True(t, d.Handles()[0].Closed())
	assert.Equal(t, Stats{}, p.Stats())
}

func TestPoolReleaseTwiceDoesNotAlias(t *testing.T) {
	p, d := newTestPool(t, Config{Capacity: 1, QueueCapacity: 1})

	stale := get(t, p)
	stale.Release()
	assert.True(t, stale.IsNull())

	owner := get(t, p)
	require.False(t, owner.IsNull())
	assert.NotSame(t, stale, owner)

	stale.Release()
	assert.False(t, owner.IsNull())
	assert.False(t, fake(owner).Closed())
	assert.Equal(t, Stats{Size: 1, Used: 1}, p.Stats())

	_, err := p.GetConnection(context.Background(), deadline.FromNow(20*time.Millisecond))
	assert.ErrorIs(t, err, mterrors.ErrPoolQueueTimeout)

	owner.Release()
	assert.Equal(t, Stats{Size: 1, Available: 1}, p.Stats())
	assert.Equal(t, 1, d.Dials())
}

func TestPoolRespectsCapacityUnderLoad(t *testing.T) {
	const capacity = 3
	p, d := newTestPool(t, Config{Capacity: capacity, QueueCapacity: 64})

	var inUse, peak atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 20 {
				c, err := p.GetConnection(context.Background(), deadline.FromNow(5*time.Second))
				if !assert.NoError(t, err) {
					return
				}
				n := inUse.Add(1)
				for {
					old := peak.Load()
					if n <= old || peak.CompareAndSwap(old, n) {
						break
					}
				}
				inUse.Add(-1)
				c.Release()
			}
		}()
	}
	wg.Wait()
	assert.LessOrEqual(t, peak.Load(), int32(capacity))
	assert.LessOrEqual(t, d.Dials(), capacity)
	assert.Equal(t, 0, p.Stats().Used)
}

func TestPoolAsProvider(t *testing.T) {
	d := pgasynctest.NewDialer(func(q *pgtype.BinaryQuery) []transport.Result {
		return []transport.Result{pgasynctest.Rows("n", int64(42))}
	})
	p, err := NewThreadSafe(pgasync.NewConnectionInfo("", pgasync.WithDialer(d)), DefaultConfig())
	require.NoError(t, err)
	defer p.Close()

	for range 3 {
		var got []int64
		conn, err := pgasync.Request(context.Background(), p, pgtype.NewQuery("SELECT 42"), deadline.FromNow(time.Second), pgtype.Rows(&got))
		require.NoError(t, err)
		assert.Equal(t, []int64{42}, got)
		conn.Release()
	}
	assert.Equal(t, 1, d.Dials())
}

func TestConfig(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	err := Config{Capacity: 0}.Validate()
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))
	err = Config{Capacity: 1, QueueCapacity: -1}.Validate()
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))
	err = Config{Capacity: 1, IdleTimeout: -time.Second}.Validate()
	assert.True(t, mterrors.IsError(err, mterrors.BadConfig))

	assert.Equal(t, 30*time.Second, DefaultConfig().sweepInterval())
	assert.Equal(t, 5*time.Second, Config{IdleTimeout: time.Minute, Lifespan: 10 * time.Second}.sweepInterval())
	assert.Equal(t, time.Second, Config{IdleTimeout: time.Minute, SweepInterval: time.Second}.sweepInterval())
	assert.Equal(t, time.Duration(0), Config{}.sweepInterval())

	_, err = NewThreadSafe(nil, Config{})
	assert.Error(t, err)
}
