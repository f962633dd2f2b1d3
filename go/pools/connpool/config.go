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
	"log/slog"
	"time"
)

// Default values applied by Config.withDefaults for fields left at zero.
const (
	DefaultMinConnections      = 1
	DefaultMaxConnections      = 10
	DefaultConnectTimeout      = 30 * time.Second
	DefaultIdleTimeout         = 5 * time.Minute
	DefaultMaxRetries          = 3
	DefaultRetryDelay          = 1 * time.Second
	DefaultHealthCheckInterval = 60 * time.Second
)

// Config holds the immutable configuration supplied at pool creation.
type Config struct {
	// Name identifies the pool in logs, metrics, and the manager registry.
	Name string

	// BackendType tags the backend this pool serves ("comfyui", "llm", ...).
	// Adapters use it for factory selection; the pool treats it as opaque.
	BackendType string

	// Host and Port locate the backend service.
	Host string
	Port int

	// MinConnections is the number of connections the pool eagerly provisions
	// and replenishes toward. MaxConnections bounds the total, including
	// in-flight creations.
	MinConnections int
	MaxConnections int

	// ConnectTimeout bounds both a single Connect call and the default wait
	// in Get when the caller's context carries no deadline.
	ConnectTimeout time.Duration

	// IdleTimeout is how long a connection may sit idle before the health
	// loop evicts it.
	IdleTimeout time.Duration

	// MaxRetries and RetryDelay are passed through to backend adapters for
	// their request-level retry loops. The pool itself never retries.
	MaxRetries int
	RetryDelay time.Duration

	// HealthCheckInterval is the period of the background health loop.
	// DisableHealthCheck turns the loop off entirely (health checks default
	// to enabled).
	HealthCheckInterval time.Duration
	DisableHealthCheck  bool

	// Params carries opaque backend-specific options, decoded by the adapter.
	Params map[string]any

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Metrics is optional; nil disables instrumentation.
	Metrics *Metrics
}

// withDefaults returns a copy with zero fields replaced by defaults and the
// min/max relationship repaired.
func (c Config) withDefaults() Config {
	if c.MinConnections < 0 {
		c.MinConnections = DefaultMinConnections
	}
	if c.MaxConnections <= 0 {
		c.MaxConnections = DefaultMaxConnections
	}
	if c.MinConnections > c.MaxConnections {
		c.MinConnections = c.MaxConnections
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = DefaultConnectTimeout
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.HealthCheckInterval <= 0 {
		c.HealthCheckInterval = DefaultHealthCheckInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}
