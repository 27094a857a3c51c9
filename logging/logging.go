// Package logging configures the process-wide slog logger for the CLI and
// the reference server.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"fleettrackr/config"
)

// Options are the per-process settings that do not live in the config file.
type Options struct {
	// Level overrides cfg.Level when set, e.g. from --log-level.
	Level string
	// Service is attached to every record as "service".
	Service string
	// Quiet drops output that would otherwise go to stderr.
	Quiet bool
}

// output owns the log file between reconfigurations.
var output struct {
	mu   sync.Mutex
	file *os.File
}

// Configure installs the default logger described by cfg and opts.
func Configure(cfg config.LogConfig, opts Options) error {
	name := cfg.Level
	if strings.TrimSpace(opts.Level) != "" {
		name = opts.Level
	}
	level, err := ParseLevel(name)
	if err != nil {
		return err
	}

	w, err := writerFor(strings.TrimSpace(cfg.File), opts.Quiet)
	if err != nil {
		return err
	}

	handlerOpts := &slog.HandlerOptions{Level: level, AddSource: level <= slog.LevelDebug}
	var handler slog.Handler
	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		handler = slog.NewJSONHandler(w, handlerOpts)
	case "", "text":
		handler = slog.NewTextHandler(w, handlerOpts)
	default:
		return fmt.Errorf("logging: unknown format %q", cfg.Format)
	}

	logger := slog.New(handler)
	if opts.Service != "" {
		logger = logger.With(slog.String("service", opts.Service))
	}
	slog.SetDefault(logger)
	return nil
}

// writerFor returns the file at path, reusing the open handle when the path
// is unchanged, or stderr when path is empty.
func writerFor(path string, quiet bool) (io.Writer, error) {
	output.mu.Lock()
	defer output.mu.Unlock()

	if output.file != nil && output.file.Name() != path {
		_ = output.file.Close()
		output.file = nil
	}
	if path == "" {
		if quiet {
			return io.Discard, nil
		}
		return os.Stderr, nil
	}
	if output.file != nil {
		return output.file, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("logging: create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("logging: open log file: %w", err)
	}
	output.file = f
	return f, nil
}

// ParseLevel accepts slog level names, "warning", and offsets like "debug-2".
// Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch name {
	case "":
		return slog.LevelInfo, nil
	case "warning":
		return slog.LevelWarn, nil
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("logging: invalid log level %q", name)
	}
	return level, nil
}
