package mocks

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/phrazzld/durable-tasks/internal/service"
	"github.com/phrazzld/durable-tasks/internal/task"
)

// MockTaskService implements service.TaskService for testing
type MockTaskService struct {
	SubmitFn         func(ctx context.Context, jobType string, data json.RawMessage) (int64, error)
	ListFn           func(ctx context.Context) ([]service.TaskView, error)
	FailedFn         func(ctx context.Context) ([]service.TaskView, error)
	RetryFn          func(ctx context.Context) (bool, error)
	ClearFn          func(ctx context.Context, wait bool) error
	StartFn          func(ctx context.Context) error
	StopFn           func(ctx context.Context)
	SaveFn           func(ctx context.Context) error
	SetConcurrencyFn func(ctx context.Context, n int) error
	StatsFn          func(ctx context.Context) (task.Stats, error)
	JobTypesFn       func() []string

	mu    sync.Mutex
	calls []string
}

var _ service.TaskService = (*MockTaskService)(nil)

// Calls returns the names of the methods invoked so far, in order.
func (m *MockTaskService) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *MockTaskService) record(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
}

// Submit implements service.TaskService
func (m *MockTaskService) Submit(ctx context.Context, jobType string, data json.RawMessage) (int64, error) {
	m.record("Submit")
	if m.SubmitFn != nil {
		return m.SubmitFn(ctx, jobType, data)
	}
	return 1, nil
}

// List implements service.TaskService
func (m *MockTaskService) List(ctx context.Context) ([]service.TaskView, error) {
	m.record("List")
	if m.ListFn != nil {
		return m.ListFn(ctx)
	}
	return []service.TaskView{}, nil
}

// Failed implements service.TaskService
func (m *MockTaskService) Failed(ctx context.Context) ([]service.TaskView, error) {
	m.record("Failed")
	if m.FailedFn != nil {
		return m.FailedFn(ctx)
	}
	return []service.TaskView{}, nil
}

// Retry implements service.TaskService
func (m *MockTaskService) Retry(ctx context.Context) (bool, error) {
	m.record("Retry")
	if m.RetryFn != nil {
		return m.RetryFn(ctx)
	}
	return false, nil
}

// Clear implements service.TaskService
func (m *MockTaskService) Clear(ctx context.Context, wait bool) error {
	m.record("Clear")
	if m.ClearFn != nil {
		return m.ClearFn(ctx, wait)
	}
	return nil
}

// Start implements service.TaskService
func (m *MockTaskService) Start(ctx context.Context) error {
	m.record("Start")
	if m.StartFn != nil {
		return m.StartFn(ctx)
	}
	return nil
}

// Stop implements service.TaskService
func (m *MockTaskService) Stop(ctx context.Context) {
	m.record("Stop")
	if m.StopFn != nil {
		m.StopFn(ctx)
	}
}

// Save implements service.TaskService
func (m *MockTaskService) Save(ctx context.Context) error {
	m.record("Save")
	if m.SaveFn != nil {
		return m.SaveFn(ctx)
	}
	return nil
}

// SetConcurrency implements service.TaskService
func (m *MockTaskService) SetConcurrency(ctx context.Context, n int) error {
	m.record("SetConcurrency")
	if m.SetConcurrencyFn != nil {
		return m.SetConcurrencyFn(ctx, n)
	}
	return nil
}

// Stats implements service.TaskService
func (m *MockTaskService) Stats(ctx context.Context) (task.Stats, error) {
	m.record("Stats")
	if m.StatsFn != nil {
		return m.StatsFn(ctx)
	}
	return task.Stats{}, nil
}

// JobTypes implements service.TaskService
func (m *MockTaskService) JobTypes() []string {
	if m.JobTypesFn != nil {
		return m.JobTypesFn()
	}
	return nil
}
