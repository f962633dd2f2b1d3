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

// Package viperutil provides typed, registry-scoped access to viper-backed
// configuration values. Each service or command creates its own Registry so
// tests and subcommands stay isolated from global viper state.
//
// Example usage:
//
//	reg := viperutil.NewRegistry()
//	capacity := viperutil.Configure(reg, "pool.capacity", viperutil.Options[int]{
//	    Default:  10,
//	    FlagName: "pool-capacity",
//	})
//	// register the pflag, parse, then:
//	n := capacity.Get()
package viperutil

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Registry holds an isolated viper instance for one configuration scope.
type Registry struct {
	v *viper.Viper
}

// NewRegistry creates an isolated configuration registry.
func NewRegistry() *Registry {
	return &Registry{v: viper.New()}
}

// Viper exposes the underlying viper instance, e.g. for loading a config
// file into the registry.
func (r *Registry) Viper() *viper.Viper {
	return r.v
}

// Value is a typed handle on one configured key.
type Value[T any] interface {
	// Key returns the registry key this value is stored under.
	Key() string
	// Default returns the configured default.
	Default() T
	// Get resolves the current value from flag, environment, config file,
	// or default, in viper's usual precedence order.
	Get() T

	Bindable
}

// Bindable is the flag-binding half of a Value, separated out so BindFlags
// can accept values of mixed element types.
type Bindable interface {
	bindFlag(fs *pflag.FlagSet)
}

// Options configures one value for a Registry.
type Options[T any] struct {
	// Default is registered with viper and returned when nothing else sets
	// the key.
	Default T

	// FlagName, when non-empty, names the pflag this value binds to in
	// BindFlags.
	FlagName string

	// EnvVars are environment variable names bound to this key.
	EnvVars []string
}

// Configure registers a key with the registry and returns its typed handle.
func Configure[T any](reg *Registry, key string, opts Options[T]) Value[T] {
	reg.v.SetDefault(key, opts.Default)
	if len(opts.EnvVars) > 0 {
		_ = reg.v.BindEnv(append([]string{key}, opts.EnvVars...)...)
	}

	return &static[T]{
		reg:      reg,
		key:      key,
		def:      opts.Default,
		flagName: opts.FlagName,
	}
}

// BindFlags binds each value's flag (when it has one) to the registry. Call
// after the flags have been defined on the FlagSet.
func BindFlags(fs *pflag.FlagSet, values ...Bindable) {
	for _, value := range values {
		value.bindFlag(fs)
	}
}

type static[T any] struct {
	reg      *Registry
	key      string
	def      T
	flagName string
}

func (s *static[T]) Key() string {
	return s.key
}

func (s *static[T]) Default() T {
	return s.def
}

func (s *static[T]) Get() T {
	raw := s.reg.v.Get(s.key)
	if typed, ok := raw.(T); ok {
		return typed
	}

	// Flag-, env-, and file-sourced values arrive as strings or generic
	// maps; resolve them through viper's cast-based getters.
	var out T
	switch p := any(&out).(type) {
	case *string:
		*p = s.reg.v.GetString(s.key)
	case *int:
		*p = s.reg.v.GetInt(s.key)
	case *int64:
		*p = s.reg.v.GetInt64(s.key)
	case *bool:
		*p = s.reg.v.GetBool(s.key)
	case *float64:
		*p = s.reg.v.GetFloat64(s.key)
	case *time.Duration:
		*p = s.reg.v.GetDuration(s.key)
	case *[]string:
		*p = s.reg.v.GetStringSlice(s.key)
	default:
		if err := s.reg.v.UnmarshalKey(s.key, &out); err != nil {
			return s.def
		}
	}
	return out
}

func (s *static[T]) bindFlag(fs *pflag.FlagSet) {
	if s.flagName == "" {
		return
	}
	if flag := fs.Lookup(strings.TrimLeft(s.flagName, "-")); flag != nil {
		_ = s.reg.v.BindPFlag(s.key, flag)
	}
}
