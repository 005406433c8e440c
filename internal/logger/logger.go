// Package logger provides a configured structured logger for the engine.
// It wraps the standard library "log/slog" package to ensure consistent
// formatting (JSON in production, text in development) and level management
// across every component of the SDK.
package logger

import (
	"io"
	"log/slog"
	"os"

	"github.com/tollgate-sdk/tollgate/internal/config"
)

// New creates a new *slog.Logger instance based on the provided config,
// writing to os.Stdout.
func New(cfg *config.AppConfig) *slog.Logger {
	return NewWithWriter(cfg, os.Stdout)
}

// NewWithWriter creates a new *slog.Logger writing to the given io.Writer.
// Used by tests to capture output.
func NewWithWriter(cfg *config.AppConfig, w io.Writer) *slog.Logger {
	if cfg == nil {
		panic("logger: config cannot be nil")
	}

	opts := &slog.HandlerOptions{
		Level: parseLevel(cfg.LogLevel),
		// file:line is useful during development but expensive in production
		AddSource: cfg.Environment != config.EnvironmentProduction,
	}

	var handler slog.Handler
	switch cfg.LogFormat {
	case "text":
		handler = slog.NewTextHandler(w, opts)
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewJSONHandler(w, opts)
	}

	// Identity attributes appear on every line emitted by this logger or its
	// children.
	return slog.New(handler).With(
		slog.String("sdk", cfg.Name),
		slog.String("version", cfg.Version),
		slog.String("env", cfg.Environment),
	)
}

// Component returns a child logger tagged with the engine component name.
// Every pipeline stage logs through one of these, so a single evaluation can
// be followed across components by request id.
func Component(log *slog.Logger, name string) *slog.Logger {
	if log == nil {
		return slog.Default().With(slog.String("component", name))
	}
	return log.With(slog.String("component", name))
}

// parseLevel converts a string to slog.Level. Defaults to INFO.
func parseLevel(s string) slog.Level {
	var level slog.Level
	// UnmarshalText handles case insensitivity (INFO, info, Info)
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
