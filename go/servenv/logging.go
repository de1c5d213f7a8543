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

// Package servenv sets up the process environment of pgasync binaries:
// the slog logger and the shutdown hooks.
package servenv

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/multigres/pgasync/go/config"
)

// Logger owns the process logger and the file it may write to.
type Logger struct {
	mu     sync.Mutex
	logger *slog.Logger
	file   *os.File

	hooksMu     sync.Mutex
	setupHooks  []func(*slog.Logger)
	changeHooks []func(*slog.Logger)
}

// NewLogger returns a Logger that has not been set up yet.
func NewLogger() *Logger {
	return &Logger{}
}

// OnLoggingSetup registers f to be called with the first logger Setup
// creates.
func (lg *Logger) OnLoggingSetup(f func(*slog.Logger)) {
	lg.hooksMu.Lock()
	defer lg.hooksMu.Unlock()
	lg.setupHooks = append(lg.setupHooks, f)
}

// OnLoggingChange registers f to be called each time Setup replaces an
// existing logger.
func (lg *Logger) OnLoggingChange(f func(*slog.Logger)) {
	lg.hooksMu.Lock()
	defer lg.hooksMu.Unlock()
	lg.changeHooks = append(lg.changeHooks, f)
}

// ParseLevel maps a level name to its slog level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}

// Setup builds a logger from cfg, installs it as the slog default, and
// fires the setup hooks on the first call or the change hooks afterwards.
// A previously opened log file is closed once it is replaced.
func (lg *Logger) Setup(cfg config.Log) (*slog.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		out  io.Writer
		file *os.File
	)
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		out = os.Stdout
	case "stderr", "":
		out = os.Stderr
	default:
		file, err = os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output: %w", err)
		}
		out = file
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	case "json", "":
		handler = slog.NewJSONHandler(out, opts)
	default:
		if file != nil {
			_ = file.Close()
		}
		return nil, fmt.Errorf("unknown log format %q", cfg.Format)
	}
	l := slog.New(handler)

	lg.mu.Lock()
	first := lg.logger == nil
	prev := lg.file
	lg.logger, lg.file = l, file
	lg.mu.Unlock()

	slog.SetDefault(l)
	if prev != nil {
		_ = prev.Close()
	}

	lg.fire(first, l)
	l.Info("logging initialized", "level", level.String(), "format", cfg.Format, "output", cfg.Output)
	return l, nil
}

func (lg *Logger) fire(setup bool, l *slog.Logger) {
	lg.hooksMu.Lock()
	hooks := lg.changeHooks
	if setup {
		hooks = lg.setupHooks
	}
	hooks = append([]func(*slog.Logger){}, hooks...)
	lg.hooksMu.Unlock()
	for _, hook := range hooks {
		hook(l)
	}
}

// GetLogger returns the configured logger, or slog.Default before Setup.
func (lg *Logger) GetLogger() *slog.Logger {
	lg.mu.Lock()
	defer lg.mu.Unlock()
	if lg.logger == nil {
		return slog.Default()
	}
	return lg.logger
}

// Close closes the log file, if any.
func (lg *Logger) Close() error {
	lg.mu.Lock()
	f := lg.file
	lg.file = nil
	lg.mu.Unlock()
	if f == nil {
		return nil
	}
	return f.Close()
}
