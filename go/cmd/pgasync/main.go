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

// pgasync runs queries against PostgreSQL through a pooled asynchronous
// client with retry and role-based failover.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/multigres/pgasync/go/cmd/pgasync/command"
)

func main() {
	root, pc := command.GetRootCommand()
	err := root.Execute()
	if cerr := pc.Close(context.Background()); cerr != nil {
		slog.Warn("shutdown incomplete", "error", cerr)
	}
	if err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}
