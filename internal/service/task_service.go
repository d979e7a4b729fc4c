package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/durable-tasks/internal/job"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/repository"
	"github.com/phrazzld/durable-tasks/internal/task"
)

// JobQueue is the part of task.Queue[job.Job] the service drives.
type JobQueue interface {
	Enqueue(ctx context.Context, payload job.Job) (int64, error)
	Backlog(ctx context.Context) ([]repository.Pair[int64, job.Job], error)
	FailedKeys() []int64
	ReRunFailTasks(ctx context.Context) (bool, error)
	Clear(ctx context.Context, wait bool) error
	Start(ctx context.Context) error
	Stop()
	Save(ctx context.Context) error
	SetConcurrency(n int) error
	Stats(ctx context.Context) (task.Stats, error)
}

var _ JobQueue = (*task.Queue[job.Job])(nil)

// JobTypes reports which job types can be executed.
type JobTypes interface {
	Supports(jobType string) bool
	Types() []string
}

// TaskView is a queued job as exposed to API clients.
type TaskView struct {
	Key       int64           `json:"key"`
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	Failed    bool            `json:"failed"`
}

// TaskService defines the operations the admin API performs on the queue.
type TaskService interface {
	// Submit validates and enqueues a job, returning its queue key.
	Submit(ctx context.Context, jobType string, data json.RawMessage) (int64, error)

	// List returns every job still in the backlog, ordered by key.
	List(ctx context.Context) ([]TaskView, error)

	// Failed returns the backlog entries whose last run failed.
	Failed(ctx context.Context) ([]TaskView, error)

	// Retry reschedules failed jobs and reports whether any was scheduled.
	Retry(ctx context.Context) (bool, error)

	// Clear drops the backlog, optionally waiting for running jobs.
	Clear(ctx context.Context, wait bool) error

	// Start resumes execution.
	Start(ctx context.Context) error

	// Stop pauses execution after running jobs finish.
	Stop(ctx context.Context)

	// Save flushes pending changes to the backing medium.
	Save(ctx context.Context) error

	// SetConcurrency changes how many jobs run at once.
	SetConcurrency(ctx context.Context, n int) error

	// Stats reports queue counters.
	Stats(ctx context.Context) (task.Stats, error)

	// JobTypes lists the job types that can be submitted.
	JobTypes() []string
}

type taskService struct {
	queue  JobQueue
	types  JobTypes
	logger *slog.Logger
}

var _ TaskService = (*taskService)(nil)

// NewTaskService creates a TaskService over queue. Jobs are accepted only for
// types reported by types.
func NewTaskService(queue JobQueue, types JobTypes, logger *slog.Logger) (TaskService, error) {
	if queue == nil {
		return nil, ErrNilQueue
	}
	if types == nil {
		return nil, fmt.Errorf("job types cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &taskService{
		queue:  queue,
		types:  types,
		logger: logger.With("service", "task"),
	}, nil
}

func (s *taskService) Submit(ctx context.Context, jobType string, data json.RawMessage) (int64, error) {
	log := logger.FromContextOrDefault(ctx, s.logger)

	if !s.types.Supports(jobType) {
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedJobType, jobType)
	}

	var payload interface{}
	if len(data) > 0 {
		payload = data
	}
	j, err := job.New(jobType, payload)
	if err != nil {
		return 0, err
	}

	key, err := s.queue.Enqueue(ctx, j)
	if err != nil {
		log.Error("failed to enqueue job", "job_type", jobType, "error", err)
		return 0, fmt.Errorf("failed to enqueue job: %w", err)
	}

	log.Info("job submitted", "task_key", key, "job_id", j.ID, "job_type", jobType)
	return key, nil
}

func (s *taskService) List(ctx context.Context) ([]TaskView, error) {
	return s.views(ctx, false)
}

func (s *taskService) Failed(ctx context.Context) ([]TaskView, error) {
	return s.views(ctx, true)
}

func (s *taskService) views(ctx context.Context, onlyFailed bool) ([]TaskView, error) {
	backlog, err := s.queue.Backlog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read backlog: %w", err)
	}

	failed := make(map[int64]struct{})
	for _, key := range s.queue.FailedKeys() {
		failed[key] = struct{}{}
	}

	views := make([]TaskView, 0, len(backlog))
	for _, pair := range backlog {
		_, isFailed := failed[pair.Key]
		if onlyFailed && !isFailed {
			continue
		}
		views = append(views, TaskView{
			Key:       pair.Key,
			ID:        pair.Value.ID,
			Type:      pair.Value.Type,
			Data:      pair.Value.Data,
			CreatedAt: pair.Value.CreatedAt,
			Failed:    isFailed,
		})
	}
	return views, nil
}

func (s *taskService) Retry(ctx context.Context) (bool, error) {
	scheduled, err := s.queue.ReRunFailTasks(ctx)
	if err != nil {
		return scheduled, fmt.Errorf("failed to retry jobs: %w", err)
	}
	return scheduled, nil
}

func (s *taskService) Clear(ctx context.Context, wait bool) error {
	if err := s.queue.Clear(ctx, wait); err != nil {
		return err
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("backlog cleared", "waited", wait)
	return nil
}

func (s *taskService) Start(ctx context.Context) error {
	return s.queue.Start(ctx)
}

func (s *taskService) Stop(ctx context.Context) {
	s.queue.Stop()
	logger.FromContextOrDefault(ctx, s.logger).Info("queue stopped by request")
}

func (s *taskService) Save(ctx context.Context) error {
	return s.queue.Save(ctx)
}

func (s *taskService) SetConcurrency(ctx context.Context, n int) error {
	if err := s.queue.SetConcurrency(n); err != nil {
		return err
	}
	logger.FromContextOrDefault(ctx, s.logger).Info("concurrency changed", "concurrency", n)
	return nil
}

func (s *taskService) Stats(ctx context.Context) (task.Stats, error) {
	return s.queue.Stats(ctx)
}

func (s *taskService) JobTypes() []string {
	return s.types.Types()
}
