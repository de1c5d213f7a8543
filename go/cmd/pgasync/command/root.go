// Copyright 2025 Supabase, Inc.
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

// Package command implements the pgasync command line.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"

	"github.com/multigres/pgasync/go/config"
	"github.com/multigres/pgasync/go/deadline"
	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgasync/failover"
	"github.com/multigres/pgasync/go/pgasync/pool"
	"github.com/multigres/pgasync/go/servenv"
)

const meterName = "github.com/multigres/pgasync"

// PgAsyncCommand holds the state shared by the pgasync subcommands.
type PgAsyncCommand struct {
	loader   *config.Loader
	lg       *servenv.Logger
	lc       *servenv.Lifecycle
	settings config.Settings
}

// GetRootCommand creates the root command with all subcommands.
func GetRootCommand() (*cobra.Command, *PgAsyncCommand) {
	pc := &PgAsyncCommand{
		loader: config.NewLoader(),
		lg:     servenv.NewLogger(),
	}
	pc.lg.OnLoggingSetup(pc.loader.SetLogger)
	pc.lg.OnLoggingChange(pc.loader.SetLogger)

	root := &cobra.Command{
		Use:   "pgasync",
		Short: "Query PostgreSQL through the pgasync client",
		Long: `pgasync runs queries through a pool of asynchronous PostgreSQL connections.

Settings come from flags, PGASYNC_ environment variables, and an optional
YAML config file, in that order of precedence.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return pc.setup()
		},
	}
	pc.loader.RegisterFlags(root.PersistentFlags())

	AddQueryCommand(root, pc)
	AddPingCommand(root, pc)
	AddConfigCommand(root, pc)
	return root, pc
}

func (pc *PgAsyncCommand) setup() error {
	s, err := pc.loader.Load()
	if err != nil {
		return err
	}
	logger, err := pc.lg.Setup(s.Log)
	if err != nil {
		return err
	}
	pc.settings = s
	pc.lc = servenv.NewLifecycle(logger, 0)
	pc.lc.OnClose(pc.lg.Close)
	return nil
}

// Close runs the shutdown hooks registered by the command that ran. It
// must be called after Execute, whether or not the command failed.
func (pc *PgAsyncCommand) Close(ctx context.Context) error {
	if pc.lc == nil {
		return nil
	}
	return pc.lc.Close(ctx)
}

// Settings returns the settings loaded for the running command.
func (pc *PgAsyncCommand) Settings() config.Settings {
	return pc.settings
}

// requestDeadline returns the deadline of a request started now.
func (pc *PgAsyncCommand) requestDeadline() deadline.Deadline {
	if pc.settings.RequestTimeout <= 0 {
		return deadline.None()
	}
	return deadline.FromNow(pc.settings.RequestTimeout)
}

// client is a pooled provider with the strategy requests run through.
type client struct {
	provider pgasync.Provider
	strategy pgasync.Strategy
	pools    []*pool.Pool[*sync.Mutex]
}

// newPool opens a pool for conninfo and registers its shutdown.
func (pc *PgAsyncCommand) newPool(name, conninfo string) (*pool.Pool[*sync.Mutex], error) {
	logger := pc.lg.GetLogger().With("pool", name)
	meter := otel.Meter(meterName)
	stats, err := pgasync.NewStatistics(meter, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create statistics: %w", err)
	}
	source := pgasync.NewConnectionInfo(conninfo,
		pgasync.WithLogger(logger),
		pgasync.WithStatistics(stats),
	)
	p, err := pool.NewThreadSafe(source, pc.settings.Pool,
		pool.WithName(name),
		pool.WithLogger(logger),
		pool.WithMeter(meter),
	)
	if err != nil {
		return nil, err
	}
	pc.lc.OnClose(p.Close)
	return p, nil
}

// newClient builds the pools for the loaded settings. With a replica
// configured and preferReplica set, requests go to the replica first and
// fall back to the primary; otherwise they go to the primary and retry on
// connection errors.
func (pc *PgAsyncCommand) newClient(preferReplica bool) (*client, error) {
	s := pc.settings
	logger := pc.lg.GetLogger()
	primary, err := pc.newPool("primary", s.ConnInfo)
	if err != nil {
		return nil, err
	}
	c := &client{
		provider: primary,
		strategy: failover.Retry(s.Failover.Attempts, failover.On(mterrors.ConditionConnection),
			failover.WithBackoff(s.Failover.BackoffBase, s.Failover.BackoffMax),
			failover.WithLogger(logger),
		),
		pools: []*pool.Pool[*sync.Mutex]{primary},
	}
	if !preferReplica {
		return c, nil
	}
	if s.ReplicaConnInfo == "" {
		return nil, mterrors.New(mterrors.BadConfig, "--prefer-replica needs a replica conninfo")
	}
	replica, err := pc.newPool("replica", s.ReplicaConnInfo)
	if err != nil {
		return nil, err
	}
	c.provider = failover.RoleProviders{
		failover.Master:  primary,
		failover.Replica: replica,
	}
	c.strategy = failover.RoleBased([]failover.Role{failover.Replica, failover.Master},
		failover.WithLogger(logger),
		failover.WithOnFallback(func(err error, _ *pgasync.Conn, next failover.Role) {
			logger.Warn("falling back", "to", next.String(), "error", err)
		}),
	)
	c.pools = append(c.pools, replica)
	return c, nil
}

// watch invalidates the client's pools whenever the config file changes,
// so new connections pick up the new settings.
func (pc *PgAsyncCommand) watch(c *client) {
	pc.loader.Watch(func(s config.Settings) {
		logger := pc.lg.GetLogger()
		if _, err := pc.lg.Setup(s.Log); err != nil {
			logger.Warn("keeping logging settings", "error", err)
		}
		for _, p := range c.pools {
			p.Invalidate()
		}
		logger.Info("pools invalidated after config change", "pools", len(c.pools))
	})
}

func logElapsed(logger *slog.Logger, msg string, start time.Time) {
	logger.Debug(msg, "elapsed", time.Since(start))
}
