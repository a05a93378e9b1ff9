// ABOUTME: This file initializes the slog-based JSON logger for the batch pipeline
// ABOUTME: Supports LOG_LEVEL selection and optional file output via LOG_FILE_PATH
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Options configures logger initialization.
type Options struct {
	Level    string // debug, info, warn, error (default info)
	FilePath string // when set, logs are written to this file as well as stdout
	Service  string // service name attached to every record
}

// Init builds the process logger. The returned closer flushes and closes the
// log file when one was opened; callers should defer it.
func Init(opts Options) (*slog.Logger, func() error, error) {
	level := parseLevel(opts.Level)

	output := io.Writer(os.Stdout)
	closer := func() error { return nil }

	if opts.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(opts.FilePath), 0o755); err != nil {
			return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
		}

		file, err := os.OpenFile(opts.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}

		output = io.MultiWriter(os.Stdout, file)
		closer = file.Close
	}

	handler := slog.NewJSONHandler(output, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			// Lowercase level names for log-forwarder compatibility
			if a.Key == slog.LevelKey {
				if lv, ok := a.Value.Any().(slog.Level); ok {
					return slog.Attr{Key: slog.LevelKey, Value: slog.StringValue(strings.ToLower(lv.String()))}
				}
			}
			return a
		},
	})

	log := slog.New(handler)
	if opts.Service != "" {
		log = log.With("service", opts.Service)
	}

	return log, closer, nil
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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
