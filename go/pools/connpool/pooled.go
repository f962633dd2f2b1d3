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
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ConnState is the lifecycle state of a pooled connection.
type ConnState int32

const (
	// StateIdle means the connection is available for hand-out.
	StateIdle ConnState = iota
	// StateActive means the connection is checked out by exactly one caller.
	StateActive
	// StateError means the last use of the connection failed. The connection
	// may still be recycled if its health probe passes.
	StateError
	// StateClosed is terminal.
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// Pooled wraps one raw Connection with the pool-private lifecycle state.
// Ownership is exclusive: a Pooled is never shared between two concurrent
// holders. State transitions are guarded by the connection's own mutex,
// independent of the pool lock, so health checks and caller acquire/release
// never contend beyond one connection's state.
type Pooled struct {
	conn   Connection
	logger *slog.Logger

	mu         sync.Mutex
	state      ConnState
	createdAt  time.Time
	lastUsedAt time.Time
	useCount   int64
	errorCount int64
}

func newPooled(conn Connection, logger *slog.Logger) *Pooled {
	now := time.Now()
	return &Pooled{
		conn:       conn,
		logger:     logger,
		state:      StateIdle,
		createdAt:  now,
		lastUsedAt: now,
	}
}

// Conn returns the underlying connection.
func (p *Pooled) Conn() Connection {
	return p.conn
}

// Acquire transitions the connection from idle to active, bumping the use
// counter. Acquiring a non-idle connection fails loudly: it means the caller
// is racing another holder or the pool's accounting is broken.
func (p *Pooled) Acquire() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateIdle {
		return fmt.Errorf("%w: state is %s", ErrConnNotIdle, p.state)
	}
	p.state = StateActive
	p.useCount++
	p.lastUsedAt = time.Now()
	return nil
}

// Release transitions the connection back to idle. Releasing from the error
// state is allowed so an errored-but-healthy connection can be recycled.
// Releasing from any other state is tolerated but logged as a warning.
func (p *Pooled) Release() {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateActive, StateError:
		p.state = StateIdle
		p.lastUsedAt = time.Now()
	default:
		p.logger.Warn("releasing a connection that is not active", "state", p.state.String())
	}
}

// MarkError moves the connection to the error state from any state and bumps
// the error counter.
func (p *Pooled) MarkError() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state != StateClosed {
		p.state = StateError
	}
	p.errorCount++
}

// Close transitions to the terminal closed state and disconnects the raw
// connection. Adapter errors are swallowed and logged: close must not fail.
// Close is idempotent.
func (p *Pooled) Close(ctx context.Context) {
	p.mu.Lock()
	if p.state == StateClosed {
		p.mu.Unlock()
		return
	}
	p.state = StateClosed
	p.mu.Unlock()

	if err := p.conn.Disconnect(ctx); err != nil {
		p.logger.Warn("error disconnecting pooled connection", "error", err)
	}
}

// IdleExpired reports whether the connection is idle and has been unused for
// longer than timeout.
func (p *Pooled) IdleExpired(timeout time.Duration) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state == StateIdle && time.Since(p.lastUsedAt) > timeout
}

// IsHealthy reports the connection's health: always false once closed,
// otherwise whatever the raw connection reports.
func (p *Pooled) IsHealthy(ctx context.Context) bool {
	p.mu.Lock()
	closed := p.state == StateClosed
	p.mu.Unlock()

	if closed {
		return false
	}
	return p.conn.IsHealthy(ctx)
}

// State returns the current lifecycle state.
func (p *Pooled) State() ConnState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// CreatedAt returns when this connection was created.
func (p *Pooled) CreatedAt() time.Time {
	return p.createdAt
}

// LastUsedAt returns when this connection was last acquired or released.
func (p *Pooled) LastUsedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastUsedAt
}

// UseCount returns how many times this connection has been acquired.
func (p *Pooled) UseCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.useCount
}

// ErrorCount returns how many uses of this connection have failed.
func (p *Pooled) ErrorCount() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.errorCount
}
