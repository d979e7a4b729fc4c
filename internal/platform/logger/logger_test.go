package logger_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"strings"
	"testing"

	"github.com/phrazzld/durable-tasks/internal/config"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		want  slog.Level
		ok    bool
	}{
		{name: "debug", input: "debug", want: slog.LevelDebug, ok: true},
		{name: "info", input: "info", want: slog.LevelInfo, ok: true},
		{name: "warn", input: "warn", want: slog.LevelWarn, ok: true},
		{name: "warning alias", input: "warning", want: slog.LevelWarn, ok: true},
		{name: "error", input: "error", want: slog.LevelError, ok: true},
		{name: "case insensitive", input: "DEBUG", want: slog.LevelDebug, ok: true},
		{name: "invalid falls back to info", input: "loud", want: slog.LevelInfo, ok: false},
		{name: "empty falls back to info", input: "", want: slog.LevelInfo, ok: false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := logger.ParseLevel(tc.input)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestNew_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New(&buf, "warn")

	log.Info("info test message")
	log.Warn("warn test message", "task_key", 7)

	output := buf.String()
	assert.NotContains(t, output, "info test message")
	require.Contains(t, output, "warn test message")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(output)), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, float64(7), entry["task_key"])
}

func TestNew_InvalidLevelWarns(t *testing.T) {
	origStderr := os.Stderr
	r, w, err := os.Pipe()
	require.NoError(t, err)
	os.Stderr = w

	var buf bytes.Buffer
	log := logger.New(&buf, "invalid_level")

	os.Stderr = origStderr
	require.NoError(t, w.Close())
	stderrOutput, err := io.ReadAll(r)
	require.NoError(t, err)

	assert.Contains(t, string(stderrOutput), "invalid log level configured")
	assert.Contains(t, string(stderrOutput), "invalid_level")

	log.Debug("debug test message")
	log.Info("info test message")
	assert.NotContains(t, buf.String(), "debug test message")
	assert.Contains(t, buf.String(), "info test message")
}

func TestSetup(t *testing.T) {
	original := slog.Default()
	t.Cleanup(func() { slog.SetDefault(original) })

	log, err := logger.Setup(config.ServerConfig{LogLevel: "info", Port: 8080})
	require.NoError(t, err)
	require.NotNil(t, log)
	assert.Same(t, log, slog.Default())
}

func TestFromContextOrDefault(t *testing.T) {
	defaultLogger := slog.Default()
	customLogger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name     string
		ctx      context.Context
		expected *slog.Logger
	}{
		{
			name:     "nil_context_returns_default",
			ctx:      nil,
			expected: defaultLogger,
		},
		{
			name:     "context_without_logger_returns_default",
			ctx:      context.Background(),
			expected: defaultLogger,
		},
		{
			name:     "context_with_logger_returns_context_logger",
			ctx:      logger.WithLogger(context.Background(), customLogger),
			expected: customLogger,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := logger.FromContextOrDefault(tt.ctx, defaultLogger)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestWithLogger(t *testing.T) {
	t.Run("valid_logger", func(t *testing.T) {
		customLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
		ctx := logger.WithLogger(context.Background(), customLogger)

		assert.Equal(t, customLogger, logger.FromContext(ctx))
	})

	t.Run("nil_logger_panics", func(t *testing.T) {
		assert.Panics(t, func() {
			logger.WithLogger(context.Background(), nil)
		})
	})
}
