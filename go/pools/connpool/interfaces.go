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

// Package connpool provides a backend-agnostic pool for expensive, stateful
// connections to external media and inference services. The pool amortizes
// connection setup, bounds concurrency against a finite upstream, and evicts
// broken connections via a background health-check loop.
package connpool

import "context"

// Connection is the capability contract a backend adapter must satisfy to be
// managed by a Pool. Implementations must be safe for use by a single caller
// at a time; the pool guarantees exclusive hand-out.
type Connection interface {
	// Connect establishes the underlying connection. Called once by the pool
	// before the connection is handed out or queued.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Best-effort: the pool logs a
	// returned error but never propagates it.
	Disconnect(ctx context.Context) error

	// IsHealthy reports whether the connection is still usable. Adapters must
	// map their own probe failures to false rather than panicking.
	IsHealthy(ctx context.Context) bool

	// Execute runs one named operation against the backend.
	Execute(ctx context.Context, op string, args map[string]any) (any, error)
}

// Factory creates a new, not-yet-connected Connection. The pool calls
// Connect on the result itself.
type Factory func(ctx context.Context) (Connection, error)
