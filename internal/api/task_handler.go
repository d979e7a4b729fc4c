package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/phrazzld/durable-tasks/internal/api/shared"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/service"
)

// SubmitTaskRequest is the body of POST /api/tasks.
type SubmitTaskRequest struct {
	Type string          `json:"type" validate:"required"`
	Data json.RawMessage `json:"data,omitempty"`
}

// SubmitTaskResponse carries the queue key of an accepted job.
type SubmitTaskResponse struct {
	Key int64 `json:"key"`
}

// RetryResponse reports whether a retry sweep scheduled anything.
type RetryResponse struct {
	Scheduled bool `json:"scheduled"`
}

// TaskHandler handles requests on the task backlog.
type TaskHandler struct {
	tasks  service.TaskService
	logger *slog.Logger
}

// NewTaskHandler creates a new TaskHandler.
func NewTaskHandler(tasks service.TaskService, logger *slog.Logger) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "task_handler")),
	}
}

// Submit handles POST /api/tasks.
func (h *TaskHandler) Submit(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req SubmitTaskRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	key, err := h.tasks.Submit(r.Context(), req.Type, req.Data)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to submit task")
		return
	}

	log.Debug("task accepted", slog.Int64("task_key", key), slog.String("job_type", req.Type))
	shared.RespondWithJSON(w, r, http.StatusAccepted, SubmitTaskResponse{Key: key})
}

// List handles GET /api/tasks.
func (h *TaskHandler) List(w http.ResponseWriter, r *http.Request) {
	views, err := h.tasks.List(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, views)
}

// Failed handles GET /api/tasks/failed.
func (h *TaskHandler) Failed(w http.ResponseWriter, r *http.Request) {
	views, err := h.tasks.Failed(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list failed tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, views)
}

// Retry handles POST /api/tasks/retry.
func (h *TaskHandler) Retry(w http.ResponseWriter, r *http.Request) {
	scheduled, err := h.tasks.Retry(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to retry tasks")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, RetryResponse{Scheduled: scheduled})
}

// Clear handles DELETE /api/tasks. With ?wait=true the response is sent only
// after running jobs have finished.
func (h *TaskHandler) Clear(w http.ResponseWriter, r *http.Request) {
	wait := false
	if raw := r.URL.Query().Get("wait"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			shared.RespondWithError(w, r, http.StatusBadRequest, "Invalid wait: must be a boolean")
			return
		}
		wait = parsed
	}

	if err := h.tasks.Clear(r.Context(), wait); err != nil {
		HandleAPIError(w, r, err, "Failed to clear tasks")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
