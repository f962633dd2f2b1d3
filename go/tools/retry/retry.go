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

// Package retry manages exponential backoff with full jitter for retry loops.
package retry

import (
	"context"
	"math/rand/v2"
	"time"
)

// Retry holds backoff state for one retry loop. The zero value is not
// usable; construct with New.
//
// Example usage:
//
//	r := retry.New(time.Second, 30*time.Second)
//	for attempt := 0; attempt <= maxRetries; attempt++ {
//	    if err := r.StartAttempt(ctx); err != nil {
//	        return err // context cancelled or timed out
//	    }
//	    if err = doRequest(); err == nil {
//	        return nil
//	    }
//	}
//	return err
type Retry struct {
	baseDelay time.Duration
	maxDelay  time.Duration
	attempt   int
}

// New creates a Retry with exponential backoff (baseDelay doubled per
// attempt, capped at maxDelay) and full jitter. Panics on non-positive
// delays, which represent a coding error.
func New(baseDelay, maxDelay time.Duration) *Retry {
	if baseDelay <= 0 || maxDelay <= 0 || baseDelay > maxDelay {
		panic("retry: delays must be positive and baseDelay <= maxDelay")
	}
	return &Retry{baseDelay: baseDelay, maxDelay: maxDelay}
}

// StartAttempt waits for the backoff delay before the next attempt. The
// first call returns immediately. Returns ctx.Err() if the context ends
// during the wait, nil when the caller should proceed.
func (r *Retry) StartAttempt(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if r.attempt > 0 {
		timer := time.NewTimer(r.nextDelay())
		defer timer.Stop()

		select {
		case <-timer.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	r.attempt++
	return nil
}

// Attempt returns the 1-indexed attempt number after the first StartAttempt.
func (r *Retry) Attempt() int {
	return r.attempt
}

// Reset restarts the backoff progression from the base delay.
func (r *Retry) Reset() {
	r.attempt = 0
}

// nextDelay computes the full-jitter delay for the current attempt:
// uniform over [0, min(maxDelay, baseDelay * 2^(attempt-1))].
func (r *Retry) nextDelay() time.Duration {
	ceiling := r.baseDelay << uint(r.attempt-1)
	if ceiling <= 0 || ceiling > r.maxDelay {
		ceiling = r.maxDelay
	}
	return time.Duration(rand.Int64N(int64(ceiling) + 1))
}
