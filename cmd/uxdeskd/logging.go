package main

import (
	"errors"
	"io"
	"log/slog"
	"os"
)

// configureLogger installs the process-wide slog default. Level "none"
// discards everything. With a file path the handler switches to JSON;
// otherwise text goes to stdout. Returns the open log file, if any, so
// the caller can close it on shutdown.
func configureLogger(level, file string) (*os.File, error) {
	var opts slog.HandlerOptions
	switch level {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "info":
		opts.Level = slog.LevelInfo
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		return nil, errors.New("unknown log level " + level)
	}

	if file == "" {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &opts)))
		return nil, nil
	}
	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(f, &opts)))
	return f, nil
}
