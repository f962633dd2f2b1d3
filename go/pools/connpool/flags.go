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
	"time"

	"github.com/spf13/pflag"

	"github.com/framefuse/framefuse/go/viperutil"
)

// FlagConfig holds viper-backed configuration for one pool. Create with
// NewFlagConfig, register flags with RegisterFlags, then materialize a
// Config with PoolConfig after flags are parsed.
type FlagConfig struct {
	backendType         viperutil.Value[string]
	host                viperutil.Value[string]
	port                viperutil.Value[int]
	minConnections      viperutil.Value[int]
	maxConnections      viperutil.Value[int]
	connectTimeout      viperutil.Value[time.Duration]
	idleTimeout         viperutil.Value[time.Duration]
	maxRetries          viperutil.Value[int]
	retryDelay          viperutil.Value[time.Duration]
	healthCheckInterval viperutil.Value[time.Duration]
	healthCheckDisabled viperutil.Value[bool]
}

// NewFlagConfig registers all pool settings with the provided registry.
func NewFlagConfig(reg *viperutil.Registry) *FlagConfig {
	return &FlagConfig{
		backendType: viperutil.Configure(reg, "pool.backend-type", viperutil.Options[string]{
			Default:  "comfyui",
			FlagName: "backend-type",
			EnvVars:  []string{"FRAMEFUSE_BACKEND_TYPE"},
		}),
		host: viperutil.Configure(reg, "pool.host", viperutil.Options[string]{
			Default:  "127.0.0.1",
			FlagName: "backend-host",
			EnvVars:  []string{"FRAMEFUSE_BACKEND_HOST"},
		}),
		port: viperutil.Configure(reg, "pool.port", viperutil.Options[int]{
			Default:  8188,
			FlagName: "backend-port",
			EnvVars:  []string{"FRAMEFUSE_BACKEND_PORT"},
		}),
		minConnections: viperutil.Configure(reg, "pool.min-connections", viperutil.Options[int]{
			Default:  DefaultMinConnections,
			FlagName: "min-connections",
		}),
		maxConnections: viperutil.Configure(reg, "pool.max-connections", viperutil.Options[int]{
			Default:  DefaultMaxConnections,
			FlagName: "max-connections",
		}),
		connectTimeout: viperutil.Configure(reg, "pool.connect-timeout", viperutil.Options[time.Duration]{
			Default:  DefaultConnectTimeout,
			FlagName: "connect-timeout",
		}),
		idleTimeout: viperutil.Configure(reg, "pool.idle-timeout", viperutil.Options[time.Duration]{
			Default:  DefaultIdleTimeout,
			FlagName: "idle-timeout",
		}),
		maxRetries: viperutil.Configure(reg, "pool.max-retries", viperutil.Options[int]{
			Default:  DefaultMaxRetries,
			FlagName: "max-retries",
		}),
		retryDelay: viperutil.Configure(reg, "pool.retry-delay", viperutil.Options[time.Duration]{
			Default:  DefaultRetryDelay,
			FlagName: "retry-delay",
		}),
		healthCheckInterval: viperutil.Configure(reg, "pool.health-check-interval", viperutil.Options[time.Duration]{
			Default:  DefaultHealthCheckInterval,
			FlagName: "health-check-interval",
		}),
		healthCheckDisabled: viperutil.Configure(reg, "pool.health-check-disabled", viperutil.Options[bool]{
			Default:  false,
			FlagName: "health-check-disabled",
		}),
	}
}

// RegisterFlags registers all pool flags with the given FlagSet.
func (c *FlagConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.String("backend-type", c.backendType.Default(), "Backend adapter to pool connections for (comfyui, llm)")
	fs.String("backend-host", c.host.Default(), "Backend service host")
	fs.Int("backend-port", c.port.Default(), "Backend service port")
	fs.Int("min-connections", c.minConnections.Default(), "Number of connections to provision eagerly and replenish toward")
	fs.Int("max-connections", c.maxConnections.Default(), "Maximum number of connections, including in-flight creations")
	fs.Duration("connect-timeout", c.connectTimeout.Default(), "Timeout for establishing a connection and the default acquire wait")
	fs.Duration("idle-timeout", c.idleTimeout.Default(), "How long a connection may sit idle before eviction")
	fs.Int("max-retries", c.maxRetries.Default(), "Request retry budget passed through to the backend adapter")
	fs.Duration("retry-delay", c.retryDelay.Default(), "Base backoff delay for adapter request retries")
	fs.Duration("health-check-interval", c.healthCheckInterval.Default(), "Period of the background health-check loop")
	fs.Bool("health-check-disabled", c.healthCheckDisabled.Default(), "Disable the background health-check loop")

	viperutil.BindFlags(fs,
		c.backendType,
		c.host,
		c.port,
		c.minConnections,
		c.maxConnections,
		c.connectTimeout,
		c.idleTimeout,
		c.maxRetries,
		c.retryDelay,
		c.healthCheckInterval,
		c.healthCheckDisabled,
	)
}

// PoolConfig materializes a Config named name from the current flag,
// environment, and config-file state.
func (c *FlagConfig) PoolConfig(name string) Config {
	return Config{
		Name:                name,
		BackendType:         c.backendType.Get(),
		Host:                c.host.Get(),
		Port:                c.port.Get(),
		MinConnections:      c.minConnections.Get(),
		MaxConnections:      c.maxConnections.Get(),
		ConnectTimeout:      c.connectTimeout.Get(),
		IdleTimeout:         c.idleTimeout.Get(),
		MaxRetries:          c.maxRetries.Get(),
		RetryDelay:          c.retryDelay.Get(),
		HealthCheckInterval: c.healthCheckInterval.Get(),
		DisableHealthCheck:  c.healthCheckDisabled.Get(),
	}
}
