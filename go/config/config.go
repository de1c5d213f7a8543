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

// Package config loads pgasync settings from flags, PGASYNC_ environment
// variables, and an optional config file, in that order of precedence.
package config

import (
	"fmt"
	"io"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/multigres/pgasync/go/mterrors"
	"github.com/multigres/pgasync/go/pgasync/pool"
)

// Settings is the effective configuration of a pgasync client.
type Settings struct {
	// ConnInfo is the libpq conninfo or URL of the primary.
	ConnInfo string `mapstructure:"conninfo" yaml:"conninfo" validate:"required"`

	// ReplicaConnInfo enables role-based failover to a replica when set.
	ReplicaConnInfo string `mapstructure:"replica_conninfo" yaml:"replica_conninfo"`

	// RequestTimeout bounds each request, including pool waits and
	// retries. Zero means no deadline.
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout" validate:"min=0"`

	Pool     pool.Config `mapstructure:"pool" yaml:"pool"`
	Failover Failover    `mapstructure:"failover" yaml:"failover"`
	Log      Log         `mapstructure:"log" yaml:"log"`
}

// Failover controls retries of failed requests.
type Failover struct {
	// Attempts is the total number of tries per request.
	Attempts    int           `mapstructure:"attempts" yaml:"attempts" validate:"min=1"`
	BackoffBase time.Duration `mapstructure:"backoff_base" yaml:"backoff_base" validate:"min=0"`
	BackoffMax  time.Duration `mapstructure:"backoff_max" yaml:"backoff_max" validate:"gtefield=BackoffBase"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `mapstructure:"level" yaml:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" yaml:"format" validate:"oneof=json text"`
	// Output is stdout, stderr, or a file path.
	Output string `mapstructure:"output" yaml:"output" validate:"required"`
}

// Default returns the settings used when nothing overrides them.
func Default() Settings {
	return Settings{
		RequestTimeout: 30 * time.Second,
		Pool:           pool.DefaultConfig(),
		Failover: Failover{
			Attempts:    3,
			BackoffBase: 10 * time.Millisecond,
			BackoffMax:  time.Second,
		},
		Log: Log{Level: "info", Format: "json", Output: "stderr"},
	}
}

var validate = validator.New()

// Validate checks s and returns a BadConfig error naming every bad field.
func (s Settings) Validate() error {
	if err := validate.Struct(s); err != nil {
		return mterrors.Wrap(mterrors.BadConfig, err, "invalid settings")
	}
	return nil
}

// Dump writes s as YAML.
func Dump(w io.Writer, s Settings) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	return enc.Close()
}
