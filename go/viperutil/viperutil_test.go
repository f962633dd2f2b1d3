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

package viperutil

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	reg := NewRegistry()

	name := Configure(reg, "service.name", Options[string]{Default: "framefuse"})
	count := Configure(reg, "service.count", Options[int]{Default: 4})

	assert.Equal(t, "framefuse", name.Get())
	assert.Equal(t, "framefuse", name.Default())
	assert.Equal(t, "service.name", name.Key())
	assert.Equal(t, 4, count.Get())
}

func TestFlagOverridesDefault(t *testing.T) {
	reg := NewRegistry()
	port := Configure(reg, "pool.port", Options[int]{Default: 8188, FlagName: "backend-port"})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Int("backend-port", port.Default(), "")
	BindFlags(fs, port)

	require.NoError(t, fs.Parse([]string{"--backend-port=9000"}))
	assert.Equal(t, 9000, port.Get())
}

func TestUnparsedFlagKeepsDefault(t *testing.T) {
	reg := NewRegistry()
	host := Configure(reg, "pool.host", Options[string]{Default: "127.0.0.1", FlagName: "backend-host"})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("backend-host", host.Default(), "")
	BindFlags(fs, host)

	require.NoError(t, fs.Parse(nil))
	assert.Equal(t, "127.0.0.1", host.Get())
}

func TestEnvOverridesDefault(t *testing.T) {
	t.Setenv("FRAMEFUSE_TEST_LEVEL", "debug")

	reg := NewRegistry()
	level := Configure(reg, "log.level", Options[string]{
		Default: "info",
		EnvVars: []string{"FRAMEFUSE_TEST_LEVEL"},
	})

	assert.Equal(t, "debug", level.Get())
}

func TestDurationFromString(t *testing.T) {
	t.Setenv("FRAMEFUSE_TEST_TIMEOUT", "45s")

	reg := NewRegistry()
	timeout := Configure(reg, "pool.timeout", Options[time.Duration]{
		Default: 30 * time.Second,
		EnvVars: []string{"FRAMEFUSE_TEST_TIMEOUT"},
	})

	assert.Equal(t, 45*time.Second, timeout.Get())
}

func TestRegistriesAreIsolated(t *testing.T) {
	a := NewRegistry()
	b := NewRegistry()

	va := Configure(a, "shared.key", Options[string]{Default: "a"})
	vb := Configure(b, "shared.key", Options[string]{Default: "b"})

	a.Viper().Set("shared.key", "changed")
	assert.Equal(t, "changed", va.Get())
	assert.Equal(t, "b", vb.Get())
}

func TestBindFlagsWithoutFlagName(t *testing.T) {
	reg := NewRegistry()
	v := Configure(reg, "no.flag", Options[int]{Default: 1})

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	BindFlags(fs, v)
	assert.Equal(t, 1, v.Get())
}
