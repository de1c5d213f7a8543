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

// Package pool keeps a bounded set of established connections to one
// source and hands them out to requests. Acquirers beyond capacity wait in
// a bounded FIFO queue; connections that come back bad, mid-transaction,
// or from before an Invalidate are closed instead of reused.
package pool

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel/metric"

	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgprotocol/transport"
	"github.com/multigres/pgasync/go/tools/timer"
)

// Config holds the pool limits.
type Config struct {
	// Capacity is the maximum number of connections, idle and in use.
	Capacity int `mapstructure:"capacity" yaml:"capacity" validate:"min=1"`

	// QueueCapacity is how many acquirers may wait when the pool is at
	// capacity. Zero fails acquisitions at capacity immediately.
	QueueCapacity int `mapstructure:"queue_capacity" yaml:"queue_capacity" validate:"min=0"`

	// IdleTimeout closes connections idle for longer. Zero disables it.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" yaml:"idle_timeout" validate:"min=0"`

	// Lifespan closes connections older than this once they are released
	// or found idle. Zero means unbounded.
	Lifespan time.Duration `mapstructure:"lifespan" yaml:"lifespan" validate:"min=0"`

	// SweepInterval is how often idle connections are checked in the
	// background. Zero picks half of the smallest non-zero timeout.
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval" validate:"min=0"`
}

// DefaultConfig returns the default limits.
func DefaultConfig() Config {
	return Config{
		Capacity:      10,
		QueueCapacity: 128,
		IdleTimeout:   60 * time.Second,
	}
}

var validate = validator.New()

// Validate checks the limits.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return mterrors.Wrap(mterrors.BadConfig, err, "invalid pool config")
	}
	return nil
}

func (c Config) sweepInterval() time.Duration {
	if c.SweepInterval > 0 {
		return c.SweepInterval
	}
	var smallest time.Duration
	for _, d := range []time.Duration{c.IdleTimeout, c.Lifespan} {
		if d > 0 && (smallest == 0 || d < smallest) {
			smallest = d
		}
	}
	return smallest / 2
}

// NoLock is a sync.Locker that does nothing, for pools used from a single
// goroutine.
type NoLock struct{}

// Lock implements sync.Locker.
func (NoLock) Lock() {}

// Unlock implements sync.Locker.
func (NoLock) Unlock() {}

type options struct {
	name   string
	logger *slog.Logger
	meter  metric.Meter
}

// Option configures a Pool.
type Option func(*options)

// WithName names the pool in logs and metrics.
func WithName(name string) Option {
	return func(o *options) { o.name = name }
}

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeter sets the meter the pool records metrics on.
func WithMeter(m metric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// Stats is a snapshot of pool occupancy.
type Stats struct {
	// Size counts every connection the pool owns, including ones being
	// created.
	Size      int
	Available int
	Used      int
	Waiting   int
}

// Pool is a connection pool over a source provider. L guards the idle
// store, the waitlist, and the generation; use *sync.Mutex for pools shared
// between goroutines and NoLock for a pool confined to one.
type Pool[L sync.Locker] struct {
	name    string
	source  pgasync.Provider
	cfg     Config
	logger  *slog.Logger
	metrics *metrics
	sweeper *timer.PeriodicRunner
	now     func() time.Time

	mu         L
	idle       stack
	waiters    waitlist
	generation uint64
	closed     bool

	size      atomic.Int64
	available atomic.Int64
}

var _ pgasync.Provider = (*Pool[*sync.Mutex])(nil)

// New creates a pool that gets new connections from source. A pool with
// NoLock does not sweep in the background; idle checks then happen on
// acquire and through Sweep.
func New[L sync.Locker](source pgasync.Provider, cfg Config, lock L, opts ...Option) (*Pool[L], error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{name: "pgasync", logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	m, err := newMetrics(o.meter, o.name)
	if err != nil {
		return nil, err
	}
	p := &Pool[L]{
		name:    o.name,
		source:  source,
		cfg:     cfg,
		logger:  o.logger.With("pool", o.name),
		metrics: m,
		now:     time.Now,
		mu:      lock,
	}
	p.waiters.init()

	_, single := any(lock).(NoLock)
	if interval := cfg.sweepInterval(); interval > 0 && !single {
		p.sweeper = timer.NewPeriodicRunner(context.Background(), interval)
		p.sweeper.Start(func(context.Context) { p.Sweep() })
	}
	p.logger.Debug("pool created", "capacity", cfg.Capacity, "queue_capacity", cfg.QueueCapacity)
	return p, nil
}

// NewThreadSafe creates a pool safe for concurrent use.
func NewThreadSafe(source pgasync.Provider, cfg Config, opts ...Option) (*Pool[*sync.Mutex], error) {
	return New(source, cfg, &sync.Mutex{}, opts...)
}

// NewSingleThreaded creates a pool that must only be used from one
// goroutine.
func NewSingleThreaded(source pgasync.Provider, cfg Config, opts ...Option) (*Pool[NoLock], error) {
	return New(source, cfg, NoLock{}, opts...)
}

// Name returns the pool name.
func (p *Pool[L]) Name() string {
	return p.name
}

// Stats returns the current occupancy.
func (p *Pool[L]) Stats() Stats {
	size := p.size.Load()
	avail := p.available.Load()
	return Stats{
		Size:      int(size),
		Available: int(avail),
		Used:      int(size - avail),
		Waiting:   int(p.waiters.waiting()),
	}
}

type eviction struct {
	entry  *Pooled
	reason string
}

// GetConnection implements pgasync.Provider. It hands out an idle
// connection, creates one while under capacity, or queues until one is
// released. The returned connection goes back to the pool on Release.
func (p *Pool[L]) GetConnection(ctx context.Context, t deadline.Deadline) (*pgasync.Conn, error) {
	t = deadline.FromContext(ctx, t)
	now := p.now()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, p.closedError()
	}
	var evicted []eviction
	for {
		e := p.idle.pop()
		if e == nil {
			break
		}
		p.available.Add(-1)
		p.metrics.addIdle(-1)
		if reason := p.staleReason(e, now); reason != "" {
			evicted = append(evicted, eviction{e, reason})
			p.freeSlotLocked()
			continue
		}
		p.mu.Unlock()
		p.closeEvicted(evicted)
		p.metrics.addUsed(1)
		return p.checkout(e), nil
	}

	if p.size.Load() < int64(p.cfg.Capacity) {
		p.size.Add(1)
		gen := p.generation
		p.mu.Unlock()
		p.closeEvicted(evicted)
		return p.create(ctx, t, gen)
	}
	if p.waiters.len() >= p.cfg.QueueCapacity {
		p.mu.Unlock()
		p.closeEvicted(evicted)
		return nil, mterrors.New(mterrors.PoolQueueFull, "pool %s is at capacity %d with %d waiting", p.name, p.cfg.Capacity, p.cfg.QueueCapacity)
	}
	w := p.waiters.enqueue()
	p.mu.Unlock()
	p.closeEvicted(evicted)
	return p.wait(ctx, t, w)
}

// create fills a reserved slot from the source.
func (p *Pool[L]) create(ctx context.Context, t deadline.Deadline, gen uint64) (*pgasync.Conn, error) {
	conn, err := p.source.GetConnection(ctx, t)
	if err != nil {
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
		p.logger.Warn("failed to create connection", "error", err, "context", conn.ErrorContext())
		return conn, err
	}
	p.metrics.addUsed(1)
	p.logger.Debug("connection created", "backend_pid", conn.BackendPID())
	return p.checkout(newPooled(conn, p.now(), gen)), nil
}

func (p *Pool[L]) wait(ctx context.Context, t deadline.Deadline, w *waiter) (*pgasync.Conn, error) {
	var expired <-chan time.Time
	if !t.IsNone() {
		tm := time.NewTimer(t.TimeLeft(time.Now()))
		defer tm.Stop()
		expired = tm.C
	}

	var err error
	select {
	case g := <-w.ch:
		return p.accept(ctx, t, g)
	case <-expired:
		err = mterrors.New(mterrors.PoolQueueTimeout, "timed out waiting for a connection from pool %s", p.name)
		p.metrics.timedOut(ctx)
	case <-ctx.Done():
		err = mterrors.Wrap(mterrors.OperationAborted, context.Cause(ctx), "waiting for a connection from pool %s", p.name)
	}

	p.mu.Lock()
	removed := p.waiters.remove(w)
	p.mu.Unlock()
	if !removed {
		// Granted concurrently with giving up: pass the grant on.
		p.forward(<-w.ch)
	}
	return nil, err
}

func (p *Pool[L]) accept(ctx context.Context, t deadline.Deadline, g grant) (*pgasync.Conn, error) {
	switch {
	case g.err != nil:
		return nil, g.err
	case g.create:
		return p.create(ctx, t, g.generation)
	default:
		return p.checkout(g.entry), nil
	}
}

// forward hands a grant its waiter abandoned to the next one.
func (p *Pool[L]) forward(g grant) {
	switch {
	case g.entry != nil:
		p.release(g.entry, g.entry.conn)
	case g.create:
		p.mu.Lock()
		p.freeSlotLocked()
		p.mu.Unlock()
	}
}

func (p *Pool[L]) checkout(e *Pooled) *pgasync.Conn {
	e.conn.SetReleaser(func(c *pgasync.Conn) { p.release(e, c) })
	return e.conn
}

// release takes c back from a user. It either hands it to the oldest
// waiter, stores it idle, or closes it. The user's c is left null, so a
// repeated Release from a stale holder closes nothing and returns nothing.
func (p *Pool[L]) release(e *Pooled, c *pgasync.Conn) {
	c = c.Take()
	e.conn = c
	now := p.now()
	reason, leaked := "", false
	switch {
	case c.IsBad():
		reason = "bad connection"
	case c.TxnStatus() != transport.TxnIdle:
		reason, leaked = "transaction status "+c.TxnStatus().String(), true
	}

	p.mu.Lock()
	if reason == "" {
		reason = p.retireReason(e, now)
	}
	if reason != "" {
		p.freeSlotLocked()
		p.mu.Unlock()
		p.metrics.addUsed(-1)
		if leaked {
			p.logger.Warn("wasting connection", "reason", reason, "backend_pid", c.BackendPID())
		} else {
			p.logger.Debug("wasting connection", "reason", reason, "backend_pid", c.BackendPID())
		}
		_ = c.Close()
		return
	}
	e.lastUsedAt = now
	if p.waiters.grantHead(grant{entry: e}) {
		p.mu.Unlock()
		return
	}
	p.idle.push(e)
	p.available.Add(1)
	p.mu.Unlock()
	p.metrics.addUsed(-1)
	p.metrics.addIdle(1)
}

// retireReason reports why a connection must not go back to the pool.
// Called with mu held.
func (p *Pool[L]) retireReason(e *Pooled, now time.Time) string {
	switch {
	case p.closed:
		return "pool closed"
	case e.generation != p.generation:
		return "stale generation"
	case p.cfg.Lifespan > 0 && e.Age(now) >= p.cfg.Lifespan:
		return "lifespan exceeded"
	}
	return ""
}

// staleReason reports why an idle connection must be closed. Called with
// mu held.
func (p *Pool[L]) staleReason(e *Pooled, now time.Time) string {
	if r := p.retireReason(e, now); r != "" {
		return r
	}
	switch {
	case e.conn.IsBad():
		return "bad connection"
	case p.cfg.IdleTimeout > 0 && e.IdleTime(now) >= p.cfg.IdleTimeout:
		return "idle timeout"
	}
	return ""
}

// freeSlotLocked gives up one slot, passing it to the oldest waiter as a
// creation token when there is one.
func (p *Pool[L]) freeSlotLocked() {
	if !p.closed && p.waiters.grantHead(grant{create: true, generation: p.generation}) {
		return
	}
	p.size.Add(-1)
}

func (p *Pool[L]) closeEvicted(evicted []eviction) {
	for _, ev := range evicted {
		p.logger.Debug("closing idle connection", "reason", ev.reason, "backend_pid", ev.entry.conn.BackendPID())
		_ = ev.entry.conn.Close()
	}
}

// Sweep closes idle connections past their idle timeout or lifespan and
// returns how many it closed.
func (p *Pool[L]) Sweep() int {
	now := p.now()
	var evicted []eviction
	p.mu.Lock()
	p.idle.removeIf(func(e *Pooled) bool {
		reason := p.staleReason(e, now)
		if reason == "" {
			return false
		}
		evicted = append(evicted, eviction{e, reason})
		return true
	})
	for range evicted {
		p.available.Add(-1)
		p.freeSlotLocked()
	}
	p.mu.Unlock()

	p.metrics.addIdle(-int64(len(evicted)))
	p.closeEvicted(evicted)
	return len(evicted)
}

// Invalidate retires every connection the pool owns. Idle ones are closed
// now; ones in use are closed when released.
func (p *Pool[L]) Invalidate() {
	p.mu.Lock()
	p.generation++
	drained := p.idle.drain()
	for range drained {
		p.available.Add(-1)
		p.freeSlotLocked()
	}
	p.mu.Unlock()

	p.metrics.addIdle(-int64(len(drained)))
	for _, e := range drained {
		_ = e.conn.Close()
	}
	p.logger.Info("pool invalidated", "closed", len(drained))
}

// Close fails every waiter and closes the idle connections. Connections in
// use are closed when released.
func (p *Pool[L]) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return p.closedError()
	}
	p.closed = true
	drained := p.idle.drain()
	p.available.Add(-int64(len(drained)))
	p.size.Add(-int64(len(drained)))
	failed := p.waiters.failAll(p.closedError())
	p.mu.Unlock()

	if p.sweeper != nil {
		p.sweeper.Stop()
	}
	p.metrics.addIdle(-int64(len(drained)))
	for _, e := range drained {
		_ = e.conn.Close()
	}
	p.logger.Info("pool closed", "closed", len(drained), "failed_waiters", failed)
	return nil
}

func (p *Pool[L]) closedError() error {
	return mterrors.New(mterrors.PoolClosed, "pool %s is closed", p.name)
}
