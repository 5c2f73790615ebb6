package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// NewLogger creates the operational logger described by l.
func (l LoggingConfig) NewLogger() *slog.Logger {
	var output io.Writer
	switch strings.ToLower(l.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return l.NewLoggerTo(output)
}

// NewLoggerTo creates the logger described by l writing to output. The
// Output setting is ignored.
func (l LoggingConfig) NewLoggerTo(output io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(l.Level)}

	var handler slog.Handler
	switch strings.ToLower(l.Format) {
	case "json":
		handler = slog.NewJSONHandler(output, opts)
	default:
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// parseLevel converts a level name to slog.Level. Unknown names are info.
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
