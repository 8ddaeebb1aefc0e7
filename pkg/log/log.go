// Package log configures the process-wide structured logger.
package log

import (
	"log/slog"
	"os"
	"strings"
)

func Setup(logLevel string) {
	var level slog.Level

	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With("service", "voyage"))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
