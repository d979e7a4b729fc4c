package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/phrazzld/durable-tasks/internal/config"
)

// ParseLevel converts a configured level name to a slog.Level (case-insensitive).
// The second result is false when the name is not recognised, in which case
// the returned level is info.
func ParseLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelInfo, false
	}
}

// New builds a JSON logger writing to out at the given level name. An invalid
// level falls back to info and a warning is written to stderr.
func New(out io.Writer, levelName string) *slog.Logger {
	level, ok := ParseLevel(levelName)
	if !ok {
		// The JSON logger does not exist yet, so warn through a plain text handler
		tmpLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		tmpLogger.Warn("invalid log level configured, using default level",
			"configured_level", levelName,
			"default_level", "info")
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// Setup initializes the application's logging system from the server
// configuration. It creates a structured JSON logger on stdout, installs it as
// the slog default and returns it.
func Setup(cfg config.ServerConfig) (*slog.Logger, error) {
	logger := New(os.Stdout, cfg.LogLevel)

	// Allows using the slog package functions directly (slog.Info, slog.Error, etc.)
	slog.SetDefault(logger)

	return logger, nil
}
