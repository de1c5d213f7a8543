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
	"context"
	"fmt"
	"io"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/multigres/pgasync/go/pgasync"
	"github.com/multigres/pgasync/go/pgtype"
)

// QueryCmd holds the query command configuration.
type QueryCmd struct {
	pc            *PgAsyncCommand
	preferReplica bool
	repeat        int
	interval      time.Duration
	watch         bool
}

// AddQueryCommand adds the query subcommand to root.
func AddQueryCommand(root *cobra.Command, pc *PgAsyncCommand) {
	q := &QueryCmd{pc: pc}
	cmd := &cobra.Command{
		Use:   "query SQL [PARAM...]",
		Short: "Run a query and print its rows as JSON",
		Long: `Run a query and print the last result set as one JSON document per run.

Parameters bind to $1, $2, ... as text values; cast them in SQL when another
type is needed.

Examples:
  pgasync query --conninfo "host=db1 user=app" "SELECT now()"
  pgasync query "SELECT * FROM users WHERE id = $1::int8" 42
  pgasync query --prefer-replica --replica-conninfo "host=db2" "SELECT 1"`,
		Args: cobra.MinimumNArgs(1),
		RunE: q.run,
	}
	cmd.Flags().BoolVar(&q.preferReplica, "prefer-replica", false, "Send the query to the replica first and fall back to the primary.")
	cmd.Flags().IntVar(&q.repeat, "repeat", 1, "Number of times to run the query.")
	cmd.Flags().DurationVar(&q.interval, "interval", time.Second, "Pause between repeated runs.")
	cmd.Flags().BoolVar(&q.watch, "watch", false, "Reload the config file while repeating and reconnect on changes.")
	root.AddCommand(cmd)
}

// queryResult is the JSON document printed for each run.
type queryResult struct {
	Columns []string `json:"columns,omitempty"`
	Rows    [][]any  `json:"rows"`
	PID     uint32   `json:"backend_pid"`
}

func (q *QueryCmd) run(cmd *cobra.Command, args []string) error {
	params := make([]any, len(args)-1)
	for i, a := range args[1:] {
		params[i] = a
	}
	query := pgtype.NewQuery(args[0], params...)
	if err := query.Validate(); err != nil {
		return err
	}

	c, err := q.pc.newClient(q.preferReplica)
	if err != nil {
		return err
	}
	if q.watch && q.pc.loader.ConfigFileUsed() != "" {
		q.pc.watch(c)
	}

	ctx := cmd.Context()
	enc := json.NewEncoder(cmd.OutOrStdout())
	for i := range max(q.repeat, 1) {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(q.interval):
			}
		}
		if err := q.runOnce(ctx, c, query, enc); err != nil {
			return err
		}
	}
	return nil
}

func (q *QueryCmd) runOnce(ctx context.Context, c *client, query pgtype.Query, enc *json.Encoder) error {
	logger := q.pc.lg.GetLogger()
	defer logElapsed(logger, "query finished", time.Now())

	var h pgtype.ResultHolder
	conn, err := pgasync.RequestWith(ctx, c.strategy, c.provider, query, q.pc.requestDeadline(), &h)
	defer conn.Release()
	if err != nil {
		if msg := conn.ErrorContext(); msg != "" {
			return fmt.Errorf("%s: %w", msg, err)
		}
		return err
	}

	res := queryResult{Columns: h.Columns(), Rows: make([][]any, 0, h.Len()), PID: conn.BackendPID()}
	for row := range h.Len() {
		vals, err := h.Values(row)
		if err != nil {
			return err
		}
		res.Rows = append(res.Rows, vals)
	}
	return enc.Encode(res)
}

// printJSON writes v to w as indented JSON.
func printJSON(w io.Writer, v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}
