package job

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/redact"
)

// ErrWebhookStatus is returned when a webhook answers with a non-2xx status.
var ErrWebhookStatus = errors.New("webhook returned unsuccessful status")

// DefaultWebhookTimeout bounds a single webhook delivery.
const DefaultWebhookTimeout = 10 * time.Second

// maxResponseSnippet limits how much of a failed response body is reported.
const maxResponseSnippet = 256

// LogData is the data of a log job.
type LogData struct {
	Message string          `json:"message" validate:"required"`
	Level   string          `json:"level,omitempty" validate:"omitempty,oneof=debug info warn error"`
	Fields  json.RawMessage `json:"fields,omitempty"`
}

// WebhookData is the data of a webhook job.
type WebhookData struct {
	URL     string            `json:"url" validate:"required,url"`
	Method  string            `json:"method,omitempty" validate:"omitempty,oneof=POST PUT PATCH"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    json.RawMessage   `json:"body,omitempty"`
}

var validate = validator.New()

// NewLogHandler returns a handler that writes each log job's message to the
// job-scoped logger.
func NewLogHandler(fallback *slog.Logger) Handler {
	if fallback == nil {
		fallback = slog.Default()
	}

	return HandlerFunc(func(ctx context.Context, j Job) error {
		var data LogData
		if err := j.UnmarshalData(&data); err != nil {
			return err
		}
		if err := validate.Struct(data); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidJob, err)
		}

		level := slog.LevelInfo
		if parsed, ok := logger.ParseLevel(data.Level); ok {
			level = parsed
		}

		args := []any{"source", "job"}
		if len(data.Fields) > 0 {
			args = append(args, "fields", data.Fields)
		}
		logger.FromContextOrDefault(ctx, fallback).Log(ctx, level, data.Message, args...)
		return nil
	})
}

// WebhookHandler delivers webhook jobs over HTTP.
type WebhookHandler struct {
	client  *http.Client
	timeout time.Duration
	logger  *slog.Logger
}

// NewWebhookHandler creates a WebhookHandler. A nil client uses
// http.DefaultClient and a non-positive timeout uses DefaultWebhookTimeout.
func NewWebhookHandler(client *http.Client, timeout time.Duration, logger *slog.Logger) *WebhookHandler {
	if client == nil {
		client = http.DefaultClient
	}
	if timeout <= 0 {
		timeout = DefaultWebhookTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookHandler{client: client, timeout: timeout, logger: logger}
}

// HandleJob sends the job body to its URL. Any status outside 2xx is an
// error, so the job stays queued for a retry.
func (h *WebhookHandler) HandleJob(ctx context.Context, j Job) error {
	var data WebhookData
	if err := j.UnmarshalData(&data); err != nil {
		return err
	}
	if err := validate.Struct(data); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}

	method := data.Method
	if method == "" {
		method = http.MethodPost
	}
	target := redact.URL(data.URL)
	log := logger.FromContextOrDefault(ctx, h.logger).With("webhook_url", target, "method", method)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, data.URL, bytes.NewReader(data.Body))
	if err != nil {
		return fmt.Errorf("%w: cannot build request: %v", ErrInvalidJob, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Job-ID", j.ID.String())
	for name, value := range data.Headers {
		req.Header.Set(name, value)
	}

	start := time.Now()
	resp, err := h.client.Do(req)
	if err != nil {
		log.Warn("webhook delivery failed", "error", redact.Error(err))
		return fmt.Errorf("webhook %s: %w", target, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseSnippet))
		log.Warn("webhook rejected delivery",
			"status", resp.StatusCode,
			"duration_ms", time.Since(start).Milliseconds())
		return fmt.Errorf("%w: %s answered %d: %s",
			ErrWebhookStatus, target, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, resp.Body)

	log.Info("webhook delivered",
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

// RegisterBuiltins registers the log and webhook handlers on d.
func RegisterBuiltins(d *Dispatcher, client *http.Client, logger *slog.Logger) error {
	if err := d.Register(TypeLog, NewLogHandler(logger)); err != nil {
		return err
	}
	return d.Register(TypeWebhook, NewWebhookHandler(client, 0, logger))
}
