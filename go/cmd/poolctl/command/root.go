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
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/framefuse/framefuse/go/backend"
	"github.com/framefuse/framefuse/go/pools/connpool"
	"github.com/framefuse/framefuse/go/viperutil"
)

// PoolCtl holds the configuration shared by all poolctl subcommands.
type PoolCtl struct {
	reg   *viperutil.Registry
	flags *connpool.FlagConfig

	poolName     viperutil.Value[string]
	logLevel     viperutil.Value[string]
	logFormat    viperutil.Value[string]
	outputFormat viperutil.Value[string]

	logger *slog.Logger
}

// GetRootCommand creates the root command for poolctl with all subcommands.
func GetRootCommand() (*cobra.Command, *PoolCtl) {
	reg := viperutil.NewRegistry()
	pc := &PoolCtl{
		reg:   reg,
		flags: connpool.NewFlagConfig(reg),
		poolName: viperutil.Configure(reg, "pool.name", viperutil.Options[string]{
			Default:  "poolctl",
			FlagName: "pool-name",
		}),
		logLevel: viperutil.Configure(reg, "log.level", viperutil.Options[string]{
			Default:  "info",
			FlagName: "log-level",
			EnvVars:  []string{"FRAMEFUSE_LOG_LEVEL"},
		}),
		logFormat: viperutil.Configure(reg, "log.format", viperutil.Options[string]{
			Default:  "text",
			FlagName: "log-format",
			EnvVars:  []string{"FRAMEFUSE_LOG_FORMAT"},
		}),
		outputFormat: viperutil.Configure(reg, "output.format", viperutil.Options[string]{
			Default:  "yaml",
			FlagName: "output",
		}),
	}

	root := &cobra.Command{
		Use:   "poolctl",
		Short: "Exercise a framefuse connection pool against a live backend",
		Long: `poolctl opens a connection pool against a backend service and runs
smoke tests or benchmarks through it, reporting pool statistics afterwards.`,
		Args: cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return pc.setupLogging()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		SilenceUsage: true,
	}

	fs := root.PersistentFlags()
	pc.flags.RegisterFlags(fs)
	fs.String("pool-name", pc.poolName.Default(), "Name of the pool, used in logs and stats")
	fs.String("log-level", pc.logLevel.Default(), "Log level (debug, info, warn, error)")
	fs.String("log-format", pc.logFormat.Default(), "Log format (text or json)")
	fs.String("output", pc.outputFormat.Default(), "Stats output format (yaml or json)")
	viperutil.BindFlags(fs, pc.poolName, pc.logLevel, pc.logFormat, pc.outputFormat)

	AddPingCommand(root, pc)
	AddBenchCommand(root, pc)

	return root, pc
}

func (pc *PoolCtl) setupLogging() error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(pc.logLevel.Get())); err != nil {
		return fmt.Errorf("invalid log level %q: %w", pc.logLevel.Get(), err)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch pc.logFormat.Get() {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	case "text":
		handler = slog.NewTextHandler(os.Stderr, opts)
	default:
		return fmt.Errorf("invalid log format %q", pc.logFormat.Get())
	}

	pc.logger = slog.New(handler)
	slog.SetDefault(pc.logger)
	return nil
}

// openPool builds a pool from the parsed flags and opens it.
func (pc *PoolCtl) openPool(ctx context.Context) (*connpool.Pool, error) {
	cfg := pc.flags.PoolConfig(pc.poolName.Get())
	cfg.Logger = pc.logger

	metrics, err := connpool.NewMetrics()
	if err != nil {
		pc.logger.Warn("metrics initialization failed, continuing without", "error", err)
	} else {
		cfg.Metrics = metrics
	}

	factory, err := backend.NewFactory(cfg)
	if err != nil {
		return nil, err
	}

	pool := connpool.NewPool(cfg, factory)
	pool.Open(ctx)
	return pool, nil
}

// printStats renders a stats snapshot in the configured output format.
func (pc *PoolCtl) printStats(w io.Writer, stats connpool.Stats) error {
	switch pc.outputFormat.Get() {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(stats)
	case "yaml":
		return yaml.NewEncoder(w).Encode(stats)
	default:
		return fmt.Errorf("invalid output format %q", pc.outputFormat.Get())
	}
}
