package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/phrazzld/durable-tasks/internal/api/shared"
	"github.com/phrazzld/durable-tasks/internal/job"
	"github.com/phrazzld/durable-tasks/internal/pool"
	"github.com/phrazzld/durable-tasks/internal/service"
	"github.com/phrazzld/durable-tasks/internal/service/auth"
	"github.com/phrazzld/durable-tasks/internal/store"
	"github.com/phrazzld/durable-tasks/internal/task"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapErrorToStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"expired token", auth.ErrExpiredToken, http.StatusUnauthorized},
		{"insufficient scope", auth.ErrInsufficientScope, http.StatusForbidden},
		{"unsupported job type", fmt.Errorf("%w: %q", service.ErrUnsupportedJobType, "x"), http.StatusBadRequest},
		{"invalid job", fmt.Errorf("%w: type is required", job.ErrInvalidJob), http.StatusBadRequest},
		{"negative concurrency", pool.ErrInvalidConcurrency, http.StatusBadRequest},
		{"disposed queue", fmt.Errorf("failed to enqueue job: %w", task.ErrQueueDisposed), http.StatusServiceUnavailable},
		{
			"storage unavailable",
			store.NewStoreError("item file", "save", "write failed", store.ErrUnavailable),
			http.StatusServiceUnavailable,
		},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MapErrorToStatusCode(tt.err))
		})
	}
}

func TestGetSafeErrorMessage(t *testing.T) {
	assert.Equal(t, "An unexpected error occurred", GetSafeErrorMessage(nil))
	assert.Equal(t, "Unsupported job type", GetSafeErrorMessage(service.ErrUnsupportedJobType))
	assert.Equal(t, "Task storage is unavailable",
		GetSafeErrorMessage(fmt.Errorf("%w: read /var/lib/tasks.json", store.ErrUnavailable)))
	assert.Equal(t, "An unexpected error occurred",
		GetSafeErrorMessage(errors.New("dial postgres://admin:secret@db/tasks")))
}

func TestSanitizeValidationError(t *testing.T) {
	negative := -1
	err := shared.ValidateRequest(&ConcurrencyRequest{Concurrency: &negative})
	require.Error(t, err)
	assert.Equal(t, "Invalid concurrency: too small", SanitizeValidationError(err))

	err = shared.ValidateRequest(&SubmitTaskRequest{})
	require.Error(t, err)
	assert.Equal(t, "Invalid type: required field", SanitizeValidationError(err))

	assert.Equal(t, "Validation error", SanitizeValidationError(errors.New("something else")))
}

func TestHandleAPIError_DoesNotLeakInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/queue/save", nil)

	HandleAPIError(rec, req, errors.New("write /srv/data/tasks.json: permission denied"), "Failed to save queue")

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var resp shared.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Failed to save queue", resp.Error)
	assert.NotContains(t, rec.Body.String(), "/srv/data")
}
