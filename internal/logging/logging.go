// SPDX-License-Identifier: MIT

// Package logging builds the structured-logging sink: a log/slog.Logger
// writing JSON to stderr, or to a rotated file via
// gopkg.in/natefinch/lumberjack.v2 when a file path is configured. The
// supervisor only configures the writer; rotation is lumberjack's job.
package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/picommcapp/kiosk-supervisor/internal/config"
)

// New builds a *slog.Logger from the configured log level and, if
// FilePath is set, a lumberjack-backed rotating file writer. The returned
// close func flushes/closes the rotator, if one was created; it is a no-op
// otherwise.
func New(cfg config.LogConfig) (*slog.Logger, func() error) {
	var w io.Writer = os.Stderr
	closer := func() error { return nil }

	if cfg.FilePath != "" {
		rotator := &lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.RotateMaxMB,
			MaxBackups: cfg.RotateBackups,
			Compress:   true,
		}
		w = rotator
		closer = rotator.Close
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: parseLevel(cfg.Level)})
	return slog.New(handler), closer
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
