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

import "time"

// healthLoop runs health-check passes every HealthCheckInterval until the
// pool is closed. A failed pass is logged and never terminates the loop.
func (p *Pool) healthLoop() {
	defer p.wg.Done()

	ticker := time.NewTicker(p.config.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.healthCheckPass()
		}
	}
}

// healthCheckPass drains the idle queue, closes and evicts idle-expired or
// unhealthy connections, requeues the rest, and replenishes the pool back
// toward MinConnections. Active connections are left alone: their health is
// probed on release.
func (p *Pool) healthCheckPass() {
	var drained []*Pooled
	for {
		select {
		case pc := <-p.idle:
			drained = append(drained, pc)
			continue
		default:
		}
		break
	}

	var evicted int
	for _, pc := range drained {
		switch {
		case pc.IdleExpired(p.config.IdleTimeout):
			p.logger.Debug("evicting idle-expired connection",
				"idle_for", time.Since(pc.LastUsedAt()).Round(time.Second))
			p.evict(pc)
			evicted++
		case !pc.IsHealthy(p.ctx):
			p.logger.Warn("evicting unhealthy connection",
				"use_count", pc.UseCount(), "error_count", pc.ErrorCount())
			p.evict(pc)
			evicted++
		default:
			p.enqueueIdle(pc)
		}
	}

	replenished := p.replenish()

	if evicted > 0 || replenished > 0 {
		p.logger.Info("health check pass complete",
			"checked", len(drained), "evicted", evicted, "replenished", replenished)
	}
}

// replenish creates connections until the pool holds MinConnections again.
// A creation failure is logged and ends the attempt; the next pass retries.
func (p *Pool) replenish() int {
	var replenished int
	for {
		p.mu.Lock()
		need := p.config.MinConnections - (len(p.conns) + p.pending)
		if need <= 0 || p.closed.Load() {
			p.mu.Unlock()
			return replenished
		}
		p.pending++
		p.mu.Unlock()

		pc, err := p.create(p.ctx)
		if err != nil {
			p.logger.Warn("failed to replenish connection", "error", err)
			return replenished
		}
		p.enqueueIdle(pc)
		replenished++
	}
}
