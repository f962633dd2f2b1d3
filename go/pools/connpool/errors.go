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
	"errors"
	"fmt"
)

var (
	// ErrPoolClosed is returned when operating on a closed pool.
	ErrPoolClosed = errors.New("pool is closed")

	// ErrPoolExhausted is returned when no idle connection became available
	// within the timeout and the pool is at capacity. This is the pool's
	// backpressure signal.
	ErrPoolExhausted = errors.New("pool exhausted: timed out waiting for a connection")

	// ErrPoolExists is returned by the manager when creating a pool whose
	// name is already registered.
	ErrPoolExists = errors.New("pool already exists")

	// ErrPoolNotFound is returned by the manager for an unregistered pool name.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrConnNotIdle is returned when acquiring a connection that is not in
	// the idle state. Seeing it indicates a pool accounting bug or a caller
	// sharing a Pooled across goroutines.
	ErrConnNotIdle = errors.New("connection is not idle")
)

// ConnectError wraps a factory or Connect failure surfaced to a caller from
// Get. During initial provisioning and replenishment the same failure is only
// logged and counted.
type ConnectError struct {
	// Backend is the pool's backend type tag.
	Backend string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to %s backend: %v", e.Backend, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}
