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
)

// Manager is a registry of named pools with coordinated shutdown. Pool names
// are unique for the manager's lifetime; removing a pool shuts it down.
type Manager struct {
	logger *slog.Logger

	mu    sync.Mutex
	pools map[string]*Pool
}

// NewManager creates an empty pool manager. Tests should prefer their own
// manager over Default for isolation.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		logger: logger,
		pools:  make(map[string]*Pool),
	}
}

var (
	defaultManager     *Manager
	defaultManagerOnce sync.Once
)

// Default returns the process-wide manager, constructing it on first use.
func Default() *Manager {
	defaultManagerOnce.Do(func() {
		defaultManager = NewManager(slog.Default())
	})
	return defaultManager
}

// CreatePool constructs, registers, and opens a pool under cfg.Name.
// Fails with ErrPoolExists when the name is already registered. The pool is
// registered before Open runs so a slow backend never blocks the registry
// for other pools; the name check has already reserved the slot.
func (m *Manager) CreatePool(ctx context.Context, cfg Config, factory Factory) (*Pool, error) {
	m.mu.Lock()
	if _, ok := m.pools[cfg.Name]; ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %q", ErrPoolExists, cfg.Name)
	}

	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	pool := NewPool(cfg, factory)
	m.pools[cfg.Name] = pool
	total := len(m.pools)
	m.mu.Unlock()

	pool.Open(ctx)

	m.logger.InfoContext(ctx, "created connection pool",
		"pool", cfg.Name, "backend", cfg.BackendType, "total_pools", total)
	return pool, nil
}

// GetPool returns the pool registered under name, or ErrPoolNotFound.
func (m *Manager) GetPool(name string) (*Pool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pool, ok := m.pools[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return pool, nil
}

// RemovePool shuts the named pool down and forgets it.
func (m *Manager) RemovePool(name string) error {
	m.mu.Lock()
	pool, ok := m.pools[name]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	delete(m.pools, name)
	m.mu.Unlock()

	pool.Close()
	m.logger.Info("removed connection pool", "pool", name)
	return nil
}

// AllStats returns a stats snapshot for every registered pool, keyed by name.
func (m *Manager) AllStats() map[string]Stats {
	m.mu.Lock()
	pools := make(map[string]*Pool, len(m.pools))
	for name, pool := range m.pools {
		pools[name] = pool
	}
	m.mu.Unlock()

	stats := make(map[string]Stats, len(pools))
	for name, pool := range pools {
		stats[name] = pool.Stats()
	}
	return stats
}

// PoolCount returns the number of registered pools.
func (m *Manager) PoolCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pools)
}

// Shutdown closes and forgets every registered pool.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pools := m.pools
	m.pools = make(map[string]*Pool)
	m.mu.Unlock()

	for name, pool := range pools {
		pool.Close()
		m.logger.Debug("shut down connection pool", "pool", name)
	}
	m.logger.Info("pool manager shut down", "pools_closed", len(pools))
}
