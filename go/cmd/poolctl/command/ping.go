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

	"github.com/spf13/cobra"

	"github.com/framefuse/framefuse/go/pools/connpool"
)

// AddPingCommand adds the ping subcommand to the root command.
func AddPingCommand(root *cobra.Command, pc *PoolCtl) {
	root.AddCommand(&cobra.Command{
		Use:   "ping",
		Short: "Open the pool, check one connection's health, and report stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPing(cmd.Context(), cmd, pc)
		},
	})
}

func runPing(ctx context.Context, cmd *cobra.Command, pc *PoolCtl) error {
	pool, err := pc.openPool(ctx)
	if err != nil {
		return err
	}
	defer pool.Close()

	err = pool.WithConn(ctx, func(ctx context.Context, conn connpool.Connection) error {
		if !conn.IsHealthy(ctx) {
			return fmt.Errorf("backend reported unhealthy")
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}

	fmt.Fprintln(cmd.OutOrStdout(), "backend is healthy")
	return pc.printStats(cmd.OutOrStdout(), pool.Stats())
}
