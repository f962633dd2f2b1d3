// Copyright 2025 The Framefuse Authors
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

package connpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Pool owns a bounded set of pooled connections to one backend. Idle
// connections are served in FIFO order from a buffered channel; the total
// connection count, including in-flight creations, never exceeds
// MaxConnections. A background goroutine evicts idle-expired and unhealthy
// connections and replenishes back toward MinConnections.
type Pool struct {
	config  Config
	factory Factory
	logger  *slog.Logger

	// idle is the FIFO queue of connections available for reuse. It has its
	// own channel-level safety and is not covered by mu.
	idle chan *Pooled

	// mu guards conns, pending, and the stats counters.
	mu sync.Mutex

	// conns is the registry of every live connection, idle or active.
	conns map[*Pooled]struct{}

	// pending counts creation slots reserved but not yet registered in conns.
	// Reserving under mu keeps len(conns)+pending <= MaxConnections even when
	// concurrent callers race to create.
	pending int

	// active counts connections currently checked out.
	active int

	stats statsCounters

	closed atomic.Bool

	// Health loop lifecycle.
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// statsCounters are the request counters mutated under the pool lock.
type statsCounters struct {
	failedConnections  int64
	totalRequests      int64
	successfulRequests int64
	failedRequests     int64
	averageWaitTime    time.Duration
	peakConnections    int
	lastReset          time.Time
}

// Stats is a point-in-time snapshot of pool statistics, suitable for export
// to any metrics sink.
type Stats struct {
	TotalConnections   int           `json:"total_connections" yaml:"total_connections"`
	ActiveConnections  int           `json:"active_connections" yaml:"active_connections"`
	IdleConnections    int           `json:"idle_connections" yaml:"idle_connections"`
	FailedConnections  int64         `json:"failed_connections" yaml:"failed_connections"`
	TotalRequests      int64         `json:"total_requests" yaml:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests" yaml:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests" yaml:"failed_requests"`
	AverageWaitTime    time.Duration `json:"average_wait_time" yaml:"average_wait_time"`
	PeakConnections    int           `json:"peak_connections" yaml:"peak_connections"`
	LastReset          time.Time     `json:"last_reset" yaml:"last_reset"`
}

// NewPool creates a pool with the given configuration and factory. The pool
// is inert until Open is called.
func NewPool(cfg Config, factory Factory) *Pool {
	cfg = cfg.withDefaults()

	return &Pool{
		config:  cfg,
		factory: factory,
		logger:  cfg.Logger.With("pool", cfg.Name),
		idle:    make(chan *Pooled, cfg.MaxConnections),
		conns:   make(map[*Pooled]struct{}),
		stats:   statsCounters{lastReset: time.Now()},
	}
}

// Config returns the pool's normalized configuration.
func (p *Pool) Config() Config {
	return p.config
}

// Name returns the pool name.
func (p *Pool) Name() string {
	return p.config.Name
}

// Open eagerly provisions MinConnections and starts the health-check loop.
// A failure to create one of the initial connections is logged and counted;
// the pool simply starts under-provisioned and the health loop keeps trying.
func (p *Pool) Open(ctx context.Context) {
	if p.closed.Load() {
		return
	}
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))

	for i := 0; i < p.config.MinConnections; i++ {
		if !p.reserveSlot() {
			break
		}
		pc, err := p.create(ctx)
		if err != nil {
			p.logger.Warn("failed to create initial connection", "error", err)
			continue
		}
		p.enqueueIdle(pc)
	}

	if !p.config.DisableHealthCheck {
		p.wg.Add(1)
		go p.healthLoop()
	}

	p.logger.Info("connection pool opened",
		"backend", p.config.BackendType,
		"min_connections", p.config.MinConnections,
		"max_connections", p.config.MaxConnections,
		"health_check", !p.config.DisableHealthCheck,
	)
}

// Get returns an active connection from the pool. It pops an idle connection
// when one is queued, creates a new one when under capacity, and otherwise
// blocks until one is released or the timeout elapses. The wait is bounded by
// ConnectTimeout unless the caller's context carries an earlier deadline.
// Exhaustion surfaces as ErrPoolExhausted rather than an indefinite hang.
//
// The caller must return the connection with Put on every exit path; prefer
// WithConn, which guarantees it.
func (p *Pool) Get(ctx context.Context) (*Pooled, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	start := time.Now()
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.ConnectTimeout)
		defer cancel()
	}

	for {
		// Fast path: an idle connection is already queued.
		select {
		case pc := <-p.idle:
			if p.takeIdle(pc, start) {
				return pc, nil
			}
			continue
		default:
		}

		// No idle connection. Create one if the capacity check passes; the
		// check and the slot reservation are one lock-held operation so the
		// total never overshoots MaxConnections under contention.
		pc, created, err := p.tryCreate(ctx)
		if err != nil {
			return nil, err
		}
		if created {
			p.finishAcquire(pc, start)
			return pc, nil
		}

		// At capacity: wait for a release or the timeout.
		select {
		case pc := <-p.idle:
			if p.takeIdle(pc, start) {
				return pc, nil
			}
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w (waited %v)", ErrPoolExhausted, time.Since(start).Round(time.Millisecond))
			}
			return nil, ctx.Err()
		}
	}
}

// takeIdle acquires a connection popped from the idle queue. A false return
// means the connection was unusable (closed underneath us) and the caller
// should keep looking.
func (p *Pool) takeIdle(pc *Pooled, start time.Time) bool {
	if err := pc.Acquire(); err != nil {
		// Stale entry, e.g. closed during shutdown after we popped it.
		p.logger.Debug("discarding unusable idle connection", "error", err)
		p.evict(pc)
		return false
	}
	p.finishAcquire(pc, start)
	return true
}

// tryCreate atomically reserves a capacity slot and creates a connection in
// it. Returns created=false without error when the pool is at capacity.
func (p *Pool) tryCreate(ctx context.Context) (*Pooled, bool, error) {
	if !p.reserveSlot() {
		if p.closed.Load() {
			return nil, false, ErrPoolClosed
		}
		return nil, false, nil
	}

	pc, err := p.create(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := pc.Acquire(); err != nil {
		// Freshly created connections are always idle; this cannot happen.
		p.evict(pc)
		return nil, false, err
	}
	return pc, true, nil
}

// reserveSlot claims one creation slot under the pool lock. The capacity
// check and the reservation are a single lock-held operation, so
// len(conns)+pending never exceeds MaxConnections even when concurrent
// callers race to create.
func (p *Pool) reserveSlot() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed.Load() || len(p.conns)+p.pending >= p.config.MaxConnections {
		return false
	}
	p.pending++
	return true
}

// create builds and connects one connection in a slot the caller reserved
// via reserveSlot. The connect itself runs outside the pool lock; the slot
// is released on failure or converted into a registry entry on success.
func (p *Pool) create(ctx context.Context) (*Pooled, error) {
	connectCtx, cancel := context.WithTimeout(ctx, p.config.ConnectTimeout)
	defer cancel()

	conn, err := p.factory(connectCtx)
	if err == nil {
		err = conn.Connect(connectCtx)
	}

	p.mu.Lock()
	p.pending--
	if err != nil {
		p.stats.failedConnections++
		p.mu.Unlock()
		return nil, &ConnectError{Backend: p.config.BackendType, Err: err}
	}

	pc := newPooled(conn, p.logger)
	p.conns[pc] = struct{}{}
	if total := len(p.conns); total > p.stats.peakConnections {
		p.stats.peakConnections = total
	}
	p.mu.Unlock()

	p.config.Metrics.recordConnOpened(p.lifecycleCtx(), p.config.Name)
	return pc, nil
}

// finishAcquire updates stats for a successful acquisition.
func (p *Pool) finishAcquire(pc *Pooled, start time.Time) {
	wait := time.Since(start)

	p.mu.Lock()
	p.active++
	p.stats.totalRequests++
	// Incremental running mean: avg' = avg + (wait - avg) / n.
	p.stats.averageWaitTime += (wait - p.stats.averageWaitTime) / time.Duration(p.stats.totalRequests)
	p.mu.Unlock()

	p.config.Metrics.recordAcquire(p.lifecycleCtx(), p.config.Name, wait)
}

// Put returns a connection to the pool. opErr is the error (if any) from the
// caller's use of the connection; it determines request accounting and marks
// the connection as errored, but is never interpreted beyond that. After
// release the connection is health-probed: healthy connections rejoin the
// idle queue, unhealthy ones are closed and evicted.
func (p *Pool) Put(pc *Pooled, opErr error) {
	if pc == nil {
		return
	}

	if opErr != nil {
		pc.MarkError()
	}
	pc.Release()

	p.mu.Lock()
	// Close zeroes the gauge while connections may still be checked out; a
	// late Put must not drive it negative.
	if p.active > 0 {
		p.active--
	}
	if opErr != nil {
		p.stats.failedRequests++
	} else {
		p.stats.successfulRequests++
	}
	p.mu.Unlock()

	p.config.Metrics.recordRelease(p.lifecycleCtx(), p.config.Name, opErr == nil)

	if p.closed.Load() {
		p.closeConn(pc)
		return
	}

	probeCtx, cancel := context.WithTimeout(p.lifecycleCtx(), p.config.ConnectTimeout)
	defer cancel()
	if !pc.IsHealthy(probeCtx) {
		p.logger.Debug("closing unhealthy connection on release")
		p.evict(pc)
		return
	}

	p.enqueueIdle(pc)
}

// WithConn runs fn with a borrowed connection, guaranteeing release on every
// exit path including panics. fn's error is returned unchanged.
func (p *Pool) WithConn(ctx context.Context, fn func(ctx context.Context, conn Connection) error) (err error) {
	pc, getErr := p.Get(ctx)
	if getErr != nil {
		return getErr
	}
	defer func() {
		if r := recover(); r != nil {
			p.Put(pc, fmt.Errorf("panic in connection callback: %v", r))
			panic(r)
		}
		p.Put(pc, err)
	}()

	err = fn(ctx, pc.Conn())
	return err
}

// Execute borrows a connection for a single operation.
func (p *Pool) Execute(ctx context.Context, op string, args map[string]any) (any, error) {
	var result any
	err := p.WithConn(ctx, func(ctx context.Context, conn Connection) error {
		var opErr error
		result, opErr = conn.Execute(ctx, op, args)
		return opErr
	})
	return result, err
}

// enqueueIdle returns a connection to the idle queue. The queue has capacity
// MaxConnections so the send cannot block; if the queue is somehow full the
// connection is closed instead.
func (p *Pool) enqueueIdle(pc *Pooled) {
	select {
	case p.idle <- pc:
	default:
		p.logger.Warn("idle queue unexpectedly full, closing connection")
		p.evict(pc)
	}
}

// evict closes a connection and removes it from the registry.
func (p *Pool) evict(pc *Pooled) {
	p.closeConn(pc)

	p.mu.Lock()
	delete(p.conns, pc)
	p.mu.Unlock()

	p.config.Metrics.recordConnClosed(p.lifecycleCtx(), p.config.Name)
}

func (p *Pool) closeConn(pc *Pooled) {
	closeCtx, cancel := context.WithTimeout(context.Background(), p.config.ConnectTimeout)
	defer cancel()
	pc.Close(closeCtx)
}

// lifecycleCtx returns the pool's background context, falling back to
// context.Background before Open.
func (p *Pool) lifecycleCtx() context.Context {
	if p.ctx != nil {
		return p.ctx
	}
	return context.Background()
}

// Stats returns a snapshot of the pool's statistics. All fields, including
// the idle count read from the live queue, are captured under the pool lock
// so a snapshot pairs counts from one instant.
func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Stats{
		TotalConnections:   len(p.conns),
		ActiveConnections:  p.active,
		IdleConnections:    len(p.idle),
		FailedConnections:  p.stats.failedConnections,
		TotalRequests:      p.stats.totalRequests,
		SuccessfulRequests: p.stats.successfulRequests,
		FailedRequests:     p.stats.failedRequests,
		AverageWaitTime:    p.stats.averageWaitTime,
		PeakConnections:    p.stats.peakConnections,
		LastReset:          p.stats.lastReset,
	}
}

// ResetStats zeroes the request counters and reseeds the connection gauges
// from the current pool state.
func (p *Pool) ResetStats() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.stats = statsCounters{
		peakConnections: len(p.conns),
		lastReset:       time.Now(),
	}
}

// Close shuts the pool down: stops the health loop, closes every tracked
// connection, and empties the idle queue. Idempotent and safe to call
// concurrently; only the first call does the work.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()

	// Drain the idle queue first so no entry survives pointing at a closed
	// connection.
	for {
		select {
		case <-p.idle:
			continue
		default:
		}
		break
	}

	p.mu.Lock()
	conns := make([]*Pooled, 0, len(p.conns))
	for pc := range p.conns {
		conns = append(conns, pc)
	}
	p.conns = make(map[*Pooled]struct{})
	p.active = 0
	p.mu.Unlock()

	for _, pc := range conns {
		p.closeConn(pc)
	}

	p.logger.Info("connection pool closed", "connections_closed", len(conns))
}

// IsClosed reports whether Close has been called.
func (p *Pool) IsClosed() bool {
	return p.closed.Load()
}
