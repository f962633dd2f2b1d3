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
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/framefuse/framefuse/go/viperutil"
)

func TestFlagConfigDefaults(t *testing.T) {
	reg := viperutil.NewRegistry()
	fc := NewFlagConfig(reg)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fc.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	cfg := fc.PoolConfig("render")
	assert.Equal(t, "render", cfg.Name)
	assert.Equal(t, "comfyui", cfg.BackendType)
	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 8188, cfg.Port)
	assert.Equal(t, DefaultMinConnections, cfg.MinConnections)
	assert.Equal(t, DefaultMaxConnections, cfg.MaxConnections)
	assert.Equal(t, DefaultConnectTimeout, cfg.ConnectTimeout)
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, DefaultMaxRetries, cfg.MaxRetries)
	assert.Equal(t, DefaultRetryDelay, cfg.RetryDelay)
	assert.Equal(t, DefaultHealthCheckInterval, cfg.HealthCheckInterval)
	assert.False(t, cfg.DisableHealthCheck)
}

func TestFlagConfigOverrides(t *testing.T) {
	reg := viperutil.NewRegistry()
	fc := NewFlagConfig(reg)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fc.RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{
		"--backend-type=llm",
		"--backend-host=gpu-box",
		"--backend-port=8000",
		"--min-connections=3",
		"--max-connections=7",
		"--connect-timeout=10s",
		"--idle-timeout=2m",
		"--health-check-interval=15s",
		"--health-check-disabled",
	}))

	cfg := fc.PoolConfig("llm")
	assert.Equal(t, "llm", cfg.BackendType)
	assert.Equal(t, "gpu-box", cfg.Host)
	assert.Equal(t, 8000, cfg.Port)
	assert.Equal(t, 3, cfg.MinConnections)
	assert.Equal(t, 7, cfg.MaxConnections)
	assert.Equal(t, 10*time.Second, cfg.ConnectTimeout)
	assert.Equal(t, 2*time.Minute, cfg.IdleTimeout)
	assert.Equal(t, 15*time.Second, cfg.HealthCheckInterval)
	assert.True(t, cfg.DisableHealthCheck)
}

func TestFlagConfigEnv(t *testing.T) {
	t.Setenv("FRAMEFUSE_BACKEND_HOST", "render-0.internal")

	reg := viperutil.NewRegistry()
	fc := NewFlagConfig(reg)

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fc.RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))

	assert.Equal(t, "render-0.internal", fc.PoolConfig("render").Host)
}
