package api

import (
	"log/slog"
	"net/http"

	"github.com/phrazzld/durable-tasks/internal/api/shared"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/service"
)

// ConcurrencyRequest is the body of PUT /api/queue/concurrency. The pointer
// tells an explicit zero apart from a missing field.
type ConcurrencyRequest struct {
	Concurrency *int `json:"concurrency" validate:"required,gte=0"`
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status   string   `json:"status"`
	JobTypes []string `json:"job_types"`
}

// QueueHandler handles requests that control the queue itself.
type QueueHandler struct {
	tasks  service.TaskService
	logger *slog.Logger
}

// NewQueueHandler creates a new QueueHandler.
func NewQueueHandler(tasks service.TaskService, logger *slog.Logger) *QueueHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueueHandler{
		tasks:  tasks,
		logger: logger.With(slog.String("component", "queue_handler")),
	}
}

// Start handles POST /api/queue/start.
func (h *QueueHandler) Start(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.Start(r.Context()); err != nil {
		HandleAPIError(w, r, err, "Failed to start queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Stop handles POST /api/queue/stop.
func (h *QueueHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.tasks.Stop(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// Save handles POST /api/queue/save.
func (h *QueueHandler) Save(w http.ResponseWriter, r *http.Request) {
	if err := h.tasks.Save(r.Context()); err != nil {
		HandleAPIError(w, r, err, "Failed to save queue")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// SetConcurrency handles PUT /api/queue/concurrency.
func (h *QueueHandler) SetConcurrency(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req ConcurrencyRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := shared.ValidateRequest(&req); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := h.tasks.SetConcurrency(r.Context(), *req.Concurrency); err != nil {
		HandleAPIError(w, r, err, "Failed to change concurrency")
		return
	}

	log.Debug("concurrency updated", slog.Int("concurrency", *req.Concurrency))
	w.WriteHeader(http.StatusNoContent)
}

// Stats handles GET /api/queue/stats.
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.tasks.Stats(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to read queue stats")
		return
	}
	shared.RespondWithJSON(w, r, http.StatusOK, stats)
}

// Health handles GET /health.
func (h *QueueHandler) Health(w http.ResponseWriter, r *http.Request) {
	types := h.tasks.JobTypes()
	if types == nil {
		types = []string{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, HealthResponse{Status: "ok", JobTypes: types})
}
