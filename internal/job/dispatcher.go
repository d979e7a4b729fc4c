package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/phrazzld/durable-tasks/internal/platform/logger"
)

var (
	// ErrUnknownJobType is returned when no handler is registered for a job's type.
	ErrUnknownJobType = errors.New("unknown job type")

	// ErrDuplicateJobType is returned when a second handler is registered for a type.
	ErrDuplicateJobType = errors.New("job type already registered")

	// ErrNilJobHandler is returned when registering a nil handler.
	ErrNilJobHandler = errors.New("job handler cannot be nil")
)

// Handler processes jobs of one type.
type Handler interface {
	HandleJob(ctx context.Context, j Job) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j Job) error

// HandleJob calls f.
func (f HandlerFunc) HandleJob(ctx context.Context, j Job) error {
	return f(ctx, j)
}

// Dispatcher routes jobs to the handler registered for their type.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher with no handlers.
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		handlers: make(map[string]Handler),
		logger:   logger.With("component", "job_dispatcher"),
	}
}

// Register adds the handler for jobType.
func (d *Dispatcher) Register(jobType string, handler Handler) error {
	jobType = strings.TrimSpace(jobType)
	if jobType == "" {
		return fmt.Errorf("%w: type is required", ErrInvalidJob)
	}
	if handler == nil {
		return ErrNilJobHandler
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.handlers[jobType]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateJobType, jobType)
	}
	d.handlers[jobType] = handler
	d.logger.Debug("registered job handler", "job_type", jobType, "handler_count", len(d.handlers))
	return nil
}

// Types returns the registered job types in sorted order.
func (d *Dispatcher) Types() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	types := make([]string, 0, len(d.handlers))
	for jobType := range d.handlers {
		types = append(types, jobType)
	}
	slices.Sort(types)
	return types
}

// Supports reports whether a handler is registered for jobType.
func (d *Dispatcher) Supports(jobType string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.handlers[jobType]
	return ok
}

// Handle runs j with its registered handler. It has the signature of a task
// queue handler so a Dispatcher can drive a queue of jobs directly.
func (d *Dispatcher) Handle(ctx context.Context, j Job) error {
	d.mu.RLock()
	handler, ok := d.handlers[j.Type]
	d.mu.RUnlock()

	log := logger.FromContextOrDefault(ctx, d.logger).With(
		"job_id", j.ID,
		"job_type", j.Type,
	)

	if !ok {
		log.Error("no handler registered for job")
		return fmt.Errorf("%w: %q", ErrUnknownJobType, j.Type)
	}

	log.Debug("dispatching job")
	if err := handler.HandleJob(logger.WithLogger(ctx, log), j); err != nil {
		log.Warn("job failed", "error", err)
		return fmt.Errorf("%s job %s failed: %w", j.Type, j.ID, err)
	}

	log.Debug("job completed")
	return nil
}
