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

package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// NotFoundHandling controls what Load does when the config file is
// missing.
type NotFoundHandling int

const (
	// IgnoreNotFound continues with defaults, env, and flags.
	IgnoreNotFound NotFoundHandling = iota
	// WarnOnNotFound logs a warning and continues.
	WarnOnNotFound
	// ErrorOnNotFound makes Load fail.
	ErrorOnNotFound
)

var notFoundNames = map[string]NotFoundHandling{
	"ignore": IgnoreNotFound,
	"warn":   WarnOnNotFound,
	"error":  ErrorOnNotFound,
}

// Set implements pflag.Value.
func (h *NotFoundHandling) Set(arg string) error {
	v, ok := notFoundNames[strings.ToLower(arg)]
	if !ok {
		return fmt.Errorf("unknown not-found handling %q (options: error, ignore, warn)", arg)
	}
	*h = v
	return nil
}

func (h *NotFoundHandling) String() string {
	for name, v := range notFoundNames {
		if v == *h {
			return name
		}
	}
	return "<UNKNOWN>"
}

// Type implements pflag.Value.
func (h *NotFoundHandling) Type() string { return "NotFoundHandling" }

// flag names and the keys they bind to.
var flagKeys = map[string]string{
	"conninfo":              "conninfo",
	"replica-conninfo":      "replica_conninfo",
	"request-timeout":       "request_timeout",
	"pool-capacity":         "pool.capacity",
	"pool-queue-capacity":   "pool.queue_capacity",
	"pool-idle-timeout":     "pool.idle_timeout",
	"pool-lifespan":         "pool.lifespan",
	"pool-sweep-interval":   "pool.sweep_interval",
	"failover-attempts":     "failover.attempts",
	"failover-backoff-base": "failover.backoff_base",
	"failover-backoff-max":  "failover.backoff_max",
	"log-level":             "log.level",
	"log-format":            "log.format",
	"log-output":            "log.output",
}

// Loader reads Settings through a viper instance of its own.
type Loader struct {
	v        *viper.Viper
	fs       afero.Fs
	logger   *slog.Logger
	file     string
	notFound NotFoundHandling
}

// Option configures a Loader.
type Option func(*Loader)

// WithFs reads the config file from fs instead of the OS filesystem.
func WithFs(fs afero.Fs) Option {
	return func(l *Loader) { l.fs = fs }
}

// WithLogger sets where Load and Watch report problems.
func WithLogger(logger *slog.Logger) Option {
	return func(l *Loader) { l.logger = logger }
}

// NewLoader returns a loader seeded with Default.
func NewLoader(opts ...Option) *Loader {
	l := &Loader{
		v:        viper.New(),
		fs:       afero.NewOsFs(),
		logger:   slog.Default(),
		notFound: WarnOnNotFound,
	}
	for _, opt := range opts {
		opt(l)
	}
	l.v.SetFs(l.fs)
	l.v.SetEnvPrefix("PGASYNC")
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()
	setDefaults(l.v, Default())
	return l
}

// setDefaults registers every leaf of d so that env variables reach keys
// that appear nowhere else.
func setDefaults(v *viper.Viper, d Settings) {
	m := make(map[string]any)
	if err := mapstructure.Decode(d, &m); err != nil {
		panic(fmt.Sprintf("config: cannot flatten defaults: %v", err))
	}
	setLeaves(v, "", m)
}

func setLeaves(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		if nested, ok := val.(map[string]any); ok {
			setLeaves(v, prefix+k+".", nested)
			continue
		}
		v.SetDefault(prefix+k, val)
	}
}

// RegisterFlags adds the config flags to fs and binds them.
func (l *Loader) RegisterFlags(fs *pflag.FlagSet) {
	d := Default()
	fs.StringVar(&l.file, "config-file", l.file, "Full path of a YAML config file.")
	fs.Var(&l.notFound, "config-file-not-found-handling", "Behavior when the config file is missing (error, ignore, warn).")

	fs.String("conninfo", d.ConnInfo, "Conninfo or URL of the primary.")
	fs.String("replica-conninfo", d.ReplicaConnInfo, "Conninfo or URL of a replica to fall back to.")
	fs.Duration("request-timeout", d.RequestTimeout, "Deadline for each request, 0 for none.")
	fs.Int("pool-capacity", d.Pool.Capacity, "Maximum number of pooled connections.")
	fs.Int("pool-queue-capacity", d.Pool.QueueCapacity, "Maximum number of requests waiting for a connection.")
	fs.Duration("pool-idle-timeout", d.Pool.IdleTimeout, "Close connections idle for longer, 0 to keep them.")
	fs.Duration("pool-lifespan", d.Pool.Lifespan, "Close connections older than this, 0 for no limit.")
	fs.Duration("pool-sweep-interval", d.Pool.SweepInterval, "How often idle connections are checked, 0 to derive it.")
	fs.Int("failover-attempts", d.Failover.Attempts, "Tries per request on connection errors.")
	fs.Duration("failover-backoff-base", d.Failover.BackoffBase, "Base delay between retries.")
	fs.Duration("failover-backoff-max", d.Failover.BackoffMax, "Maximum delay between retries.")
	fs.String("log-level", d.Log.Level, "Log level (debug, info, warn, error).")
	fs.String("log-format", d.Log.Format, "Log format (json, text).")
	fs.String("log-output", d.Log.Output, "Log output (stdout, stderr, or file path).")

	for name, key := range flagKeys {
		if f := fs.Lookup(name); f != nil {
			_ = l.v.BindPFlag(key, f)
		}
	}
}

// SetConfigFile selects the config file without going through flags.
func (l *Loader) SetConfigFile(path string, notFound NotFoundHandling) {
	l.file = path
	l.notFound = notFound
}

// Load reads the config file, if any, and returns the validated settings.
func (l *Loader) Load() (Settings, error) {
	if l.file != "" {
		l.v.SetConfigFile(l.file)
		if err := l.v.ReadInConfig(); err != nil {
			if !isNotFound(err) {
				return Settings{}, fmt.Errorf("failed to read config %s: %w", l.file, err)
			}
			switch l.notFound {
			case ErrorOnNotFound:
				return Settings{}, fmt.Errorf("config file %s not found: %w", l.file, err)
			case WarnOnNotFound:
				l.logger.Warn("config file not found, using flags and environment", "file", l.file)
			}
		}
	}
	return l.decode()
}

func (l *Loader) decode() (Settings, error) {
	var s Settings
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := l.v.Unmarshal(&s, hook); err != nil {
		return Settings{}, fmt.Errorf("failed to decode settings: %w", err)
	}
	s.Log.Level = strings.ToLower(s.Log.Level)
	s.Log.Format = strings.ToLower(s.Log.Format)
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Watch calls fn with the new settings each time the config file changes.
// Changes that fail to decode or validate are logged and skipped.
func (l *Loader) Watch(fn func(Settings)) {
	l.v.OnConfigChange(func(e fsnotify.Event) {
		s, err := l.decode()
		if err != nil {
			l.logger.Warn("ignoring config change", "file", e.Name, "op", e.Op.String(), "error", err)
			return
		}
		l.logger.Info("config reloaded", "file", e.Name)
		fn(s)
	})
	l.v.WatchConfig()
}

// SetLogger replaces the logger used for config file events.
func (l *Loader) SetLogger(logger *slog.Logger) {
	l.logger = logger
}

// ConfigFileUsed returns the config file Load read, if any.
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

func isNotFound(err error) bool {
	var nf viper.ConfigFileNotFoundError
	if errors.As(err, &nf) {
		return true
	}
	return errors.Is(err, os.ErrNotExist)
}
