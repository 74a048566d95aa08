package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/odvcencio/keel/pkg/repo"
)

const (
	logLevelEnv = "KEEL_LOG_LEVEL"

	defaultLogMaxSizeMB  = 1
	defaultLogMaxBackups = 2
)

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "warn", "warning":
		return slog.LevelWarn, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", s)
	}
}

// logLevel picks --log-level, then KEEL_LOG_LEVEL, then [log] level.
func logLevel(cmd *cobra.Command, cfg *repo.Config) (slog.Level, error) {
	raw := ""
	if f := cmd.Flag("log-level"); f != nil {
		raw = f.Value.String()
	}
	if raw == "" {
		raw = os.Getenv(logLevelEnv)
	}
	if raw == "" && cfg != nil {
		raw = cfg.Log.Level
	}
	return parseLevel(raw)
}

// newLogger writes to stderr at the chosen level and, when [log] file is
// set, everything at debug to a rotating file under dir. The returned func
// releases the file.
func newLogger(cmd *cobra.Command, dir string, cfg *repo.Config) (*slog.Logger, func(), error) {
	level, err := logLevel(cmd, cfg)
	if err != nil {
		return nil, nil, err
	}
	console := slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level})
	if cfg == nil || strings.TrimSpace(cfg.Log.File) == "" {
		return slog.New(console), func() {}, nil
	}

	path := cfg.Log.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    defaultLogMaxSizeMB,
		MaxBackups: defaultLogMaxBackups,
	}
	if cfg.Log.MaxSizeMB > 0 {
		file.MaxSize = cfg.Log.MaxSizeMB
	}
	if cfg.Log.MaxBackups > 0 {
		file.MaxBackups = cfg.Log.MaxBackups
	}
	fileHandler := slog.NewTextHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})
	return slog.New(&multiHandler{handlers: []slog.Handler{console, fileHandler}}), func() { _ = file.Close() }, nil
}

// multiHandler fans records out to every handler that accepts them.
type multiHandler struct {
	handlers []slog.Handler
}

func (m *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, h := range m.handlers {
		if h.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (m *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	var errs []error
	for _, h := range m.handlers {
		if h.Enabled(ctx, r.Level) {
			errs = append(errs, h.Handle(ctx, r.Clone()))
		}
	}
	return errors.Join(errs...)
}

func (m *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithAttrs(attrs)
	}
	return &multiHandler{handlers: out}
}

func (m *multiHandler) WithGroup(name string) slog.Handler {
	out := make([]slog.Handler, len(m.handlers))
	for i, h := range m.handlers {
		out[i] = h.WithGroup(name)
	}
	return &multiHandler{handlers: out}
}
