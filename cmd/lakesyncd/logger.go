package main

import (
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"

	"github.com/lakesync/lakesync/internal/config"
)

// buildLogger constructs the process logger from the resolved logging
// config. format "auto" chooses text when stderr is a terminal and JSON
// otherwise, matching the teacher's isatty-driven human/JSON switch in
// format.go.
func buildLogger(cfg config.LoggingConfig) *slog.Logger {
	level := parseLevel(cfg.Level)

	format := cfg.Format
	if format == "" || format == "auto" {
		if isatty.IsTerminal(os.Stderr.Fd()) {
			format = "text"
		} else {
			format = "json"
		}
	}

	opts := &slog.HandlerOptions{Level: level}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}

	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
