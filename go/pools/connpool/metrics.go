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
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics holds OpenTelemetry instruments for pool observability. A nil
// *Metrics is a valid no-op, so pools can run uninstrumented.
type Metrics struct {
	connections metric.Int64UpDownCounter
	requests    metric.Int64Counter
	waitTime    metric.Float64Histogram
}

// NewMetrics initializes the pool instruments on the global meter provider.
// Instruments that fail to initialize are reported in the returned error but
// leave the Metrics usable (the failed instrument stays nil and is skipped).
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter("github.com/framefuse/framefuse/go/pools/connpool")

	m := &Metrics{}
	var errs []error

	var err error
	m.connections, err = meter.Int64UpDownCounter("connpool.connections",
		metric.WithDescription("Number of open backend connections per pool"))
	if err != nil {
		errs = append(errs, fmt.Errorf("connpool.connections: %w", err))
	}

	m.requests, err = meter.Int64Counter("connpool.requests",
		metric.WithDescription("Completed connection borrows per pool, by status"))
	if err != nil {
		errs = append(errs, fmt.Errorf("connpool.requests: %w", err))
	}

	m.waitTime, err = meter.Float64Histogram("connpool.wait_time",
		metric.WithDescription("Time spent waiting to acquire a connection"),
		metric.WithUnit("s"))
	if err != nil {
		errs = append(errs, fmt.Errorf("connpool.wait_time: %w", err))
	}

	if len(errs) > 0 {
		return m, errors.Join(errs...)
	}
	return m, nil
}

func (m *Metrics) recordConnOpened(ctx context.Context, pool string) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, 1, metric.WithAttributes(attribute.String("pool", pool)))
}

func (m *Metrics) recordConnClosed(ctx context.Context, pool string) {
	if m == nil || m.connections == nil {
		return
	}
	m.connections.Add(ctx, -1, metric.WithAttributes(attribute.String("pool", pool)))
}

func (m *Metrics) recordAcquire(ctx context.Context, pool string, wait time.Duration) {
	if m == nil || m.waitTime == nil {
		return
	}
	m.waitTime.Record(ctx, wait.Seconds(), metric.WithAttributes(attribute.String("pool", pool)))
}

func (m *Metrics) recordRelease(ctx context.Context, pool string, ok bool) {
	if m == nil || m.requests == nil {
		return
	}
	status := "ok"
	if !ok {
		status = "error"
	}
	m.requests.Add(ctx, 1, metric.WithAttributes(
		attribute.String("pool", pool),
		attribute.String("status", status),
	))
}
