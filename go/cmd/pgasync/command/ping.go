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

package command

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgtype"
)

// PingResult is printed by the ping command.
type PingResult struct {
	BackendPID uint32        `json:"backend_pid"`
	RoundTrip  time.Duration `json:"round_trip_ns"`
	TxnStatus  string        `json:"txn_status"`
}

// AddPingCommand adds the ping subcommand to root.
func AddPingCommand(root *cobra.Command, pc *PgAsyncCommand) {
	var preferReplica bool
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Connect and run an empty query",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := pc.newClient(preferReplica)
			if err != nil {
				return err
			}
			start := time.Now()
			conn, err := pgasync.ExecuteWith(cmd.Context(), c.strategy, c.provider, pgtype.NewQuery("SELECT 1"), pc.requestDeadline())
			defer conn.Release()
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), PingResult{
				BackendPID: conn.BackendPID(),
				RoundTrip:  time.Since(start),
				TxnStatus:  conn.TxnStatus().String(),
			})
		},
	}
	cmd.Flags().BoolVar(&preferReplica, "prefer-replica", false, "Ping the replica first and fall back to the primary.")
	root.AddCommand(cmd)
}
