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

package command

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/framefuse/framefuse/go/pools/connpool"
	"github.com/framefuse/framefuse/go/viperutil"
)

// AddBenchCommand adds the bench subcommand to the root command.
func AddBenchCommand(root *cobra.Command, pc *PoolCtl) {
	requests := viperutil.Configure(pc.reg, "bench.requests", viperutil.Options[int]{
		Default:  100,
		FlagName: "requests",
	})
	concurrency := viperutil.Configure(pc.reg, "bench.concurrency", viperutil.Options[int]{
		Default:  10,
		FlagName: "concurrency",
	})

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive concurrent health probes through the pool and report stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(cmd.Context(), cmd, pc, requests.Get(), concurrency.Get())
		},
	}
	cmd.Flags().Int("requests", requests.Default(), "Total number of requests to issue")
	cmd.Flags().Int("concurrency", concurrency.Default(), "Number of concurrent workers")
	viperutil.BindFlags(cmd.Flags(), requests, concurrency)

	root.AddCommand(cmd)
}

func runBench(ctx context.Context, cmd *cobra.Command, pc *PoolCtl, requests, concurrency int) error {
	if requests <= 0 || concurrency <= 0 {
		return fmt.Errorf("requests and concurrency must be positive")
	}

	pool, err := pc.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	work := make(chan struct{}, requests)
	for range requests {
		work <- struct{}{}
	}
	close(work)

	start := time.Now()
	var wg sync.WaitGroup
	for range concurrency {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range work {
				err := pool.WithConn(ctx, func(ctx context.Context, conn connpool.Connection) error {
					if !conn.IsHealthy(ctx) {
						return fmt.Errorf("backend reported unhealthy")
					}
					return nil
				})
				if err != nil {
					pc.logger.Warn("bench request failed", "error", err)
				}
			}
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)

	fmt.Fprintf(cmd.OutOrStdout(), "completed %d requests in %v (%.1f req/s)\n",
		requests, elapsed.Round(time.Millisecond), float64(requests)/elapsed.Seconds())
	return pc.printStats(cmd.OutOrStdout(), pool.Stats())
}
