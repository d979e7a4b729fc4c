package task

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/durable-tasks/internal/platform/logger"
	"github.com/phrazzld/durable-tasks/internal/pool"
	"github.com/phrazzld/durable-tasks/internal/repository"
)

// Handler executes one task payload. A returned error (or a panic) marks the
// task as failed and leaves it persisted.
type Handler[T any] func(ctx context.Context, payload T) error

// FailureHandler is notified after a task fails.
type FailureHandler[T any] func(payload T, err error)

// Stats is a point-in-time view of the queue.
type Stats struct {
	QueueID     string             `json:"queue_id"`
	Started     bool               `json:"started"`
	AutoSave    bool               `json:"auto_save"`
	Concurrency int                `json:"concurrency"`
	Backlog     int                `json:"backlog"`
	Failed      int                `json:"failed"`
	NextKey     int64              `json:"next_key"`
	Pending     repository.Pending `json:"pending"`
	Pool        pool.Stats         `json:"pool"`
}

type item[T any] struct {
	key     int64
	payload T
}

// Queue persists tasks in a repository and executes them on a worker pool.
// Completed tasks are removed from the repository; failed tasks stay there
// until ReRunFailTasks succeeds or the backlog is cleared.
type Queue[T any] struct {
	id string

	// mu serializes Start, Enqueue and the other control operations
	mu       sync.Mutex
	started  bool // backlog recovered and pool invoked at least once
	disposed bool
	// nextKey is the next task key. It only grows, even across Clear
	nextKey     int64
	concurrency int // restored by Start after Stop throttles to zero
	onDispose   []func()

	// autoSave persists the repository after every mutation when set
	autoSave atomic.Bool

	// failedMu guards failed and onFailure. It is always taken before the
	// repository's own lock.
	failedMu  sync.Mutex
	failed    map[int64]struct{}
	onFailure FailureHandler[T]

	handler Handler[T]
	repo    *repository.Repository[int64, T]
	pool    *pool.WorkerPool
	flusher *flusher
	logger  *slog.Logger
}

// New creates a queue over repo. Nothing is loaded or executed until Start or
// the first Enqueue.
func New[T any](
	handler Handler[T],
	repo *repository.Repository[int64, T],
	config Config,
	logger *slog.Logger,
) (*Queue[T], error) {
	if handler == nil {
		return nil, ErrNilHandler
	}
	if repo == nil {
		return nil, ErrNilRepository
	}
	if logger == nil {
		logger = slog.Default()
	}

	id := uuid.NewString()
	logger = logger.With("queue_id", id)

	workers := pool.New(pool.Config{Concurrency: config.Concurrency}, logger)

	q := &Queue[T]{
		id:          id,
		nextKey:     1,
		concurrency: workers.Concurrency(),
		failed:      make(map[int64]struct{}),
		handler:     handler,
		repo:        repo,
		pool:        workers,
		logger:      logger,
	}
	q.autoSave.Store(config.AutoSave)

	if config.FlushInterval > 0 {
		q.flusher = startFlusher(config.FlushInterval, q.flushManual)
	}

	return q, nil
}

// ID returns the queue's instance identifier.
func (q *Queue[T]) ID() string {
	return q.id
}

// SetFailureHandler sets the hook called after every failed execution.
// A panic inside the hook is recovered and logged.
func (q *Queue[T]) SetFailureHandler(handler FailureHandler[T]) {
	q.failedMu.Lock()
	defer q.failedMu.Unlock()
	q.onFailure = handler
}

// OnDispose registers fn to run when Dispose is first called.
func (q *Queue[T]) OnDispose(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.onDispose = append(q.onDispose, fn)
}

// Start loads the persisted backlog and schedules it in ascending key order on
// the first call. Later calls restore the configured concurrency after Stop and
// resume draining.
func (q *Queue[T]) Start(ctx context.Context) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.startLocked(ctx)
}

func (q *Queue[T]) startLocked(ctx context.Context) error {
	if q.disposed {
		return ErrQueueDisposed
	}

	// Stop throttles the pool to zero without touching the configured value
	if err := q.pool.SetConcurrency(q.concurrency); err != nil {
		return err
	}

	if !q.started {
		// The first Start recovers the persisted backlog before any new key
		// is handed out
		backlog, err := q.Backlog(ctx)
		if err != nil {
			return fmt.Errorf("failed to load task backlog: %w", err)
		}

		q.advanceNextKey(backlog)
		for _, pair := range backlog {
			if err := q.schedule(pair.Key, pair.Value); err != nil {
				return err
			}
		}
		q.started = true

		q.logger.Info("task queue started",
			"recovered_tasks", len(backlog),
			"next_key", q.nextKey,
			"concurrency", q.concurrency)
	}

	return q.pool.Invoke()
}

// Enqueue persists payload under the next key and schedules it. The first call
// starts the queue, so any persisted backlog is scheduled ahead of payload.
// With auto-save on, the task is flushed before Enqueue returns; if that flush
// fails the task is withdrawn and the error returned.
func (q *Queue[T]) Enqueue(ctx context.Context, payload T) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return 0, ErrQueueDisposed
	}
	if !q.started {
		if err := q.startLocked(ctx); err != nil {
			return 0, err
		}
	}

	key := q.nextKey
	q.nextKey++

	if err := q.repo.Set(ctx, key, payload); err != nil {
		return 0, fmt.Errorf("failed to persist task: %w", err)
	}

	if q.autoSave.Load() {
		if err := q.repo.Save(ctx); err != nil {
			// The key was never flushed, so removing it leaves no trace
			if _, rmErr := q.repo.Remove(ctx, key); rmErr != nil {
				q.logger.Error("failed to withdraw unsaved task",
					"task_key", key,
					"error", rmErr)
			}
			return 0, fmt.Errorf("failed to persist task: %w", err)
		}
	}

	if err := q.schedule(key, payload); err != nil {
		return 0, err
	}

	q.logger.Debug("task enqueued", "task_key", key)
	return key, nil
}

// ReRunFailTasks reschedules every failed task still present in the
// repository and reports whether any was scheduled. The failed set is emptied
// first, so each call is one retry sweep.
func (q *Queue[T]) ReRunFailTasks(ctx context.Context) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return false, ErrQueueDisposed
	}

	q.failedMu.Lock()
	keys := sortedKeys(q.failed)
	clear(q.failed)
	q.failedMu.Unlock()

	scheduled := 0
	for i, key := range keys {
		payload, ok, err := q.repo.Get(ctx, key)
		if err != nil {
			q.restoreFailed(keys[i:])
			return scheduled > 0, fmt.Errorf("failed to read task %d: %w", key, err)
		}
		if !ok {
			continue
		}
		if err := q.schedule(key, payload); err != nil {
			q.restoreFailed(keys[i:])
			return scheduled > 0, err
		}
		scheduled++
	}

	if scheduled == 0 {
		return false, nil
	}

	q.logger.Info("retrying failed tasks", "count", scheduled)
	return true, q.pool.Invoke()
}

// Stop throttles execution to zero and blocks until running tasks finish.
// Queued tasks stay queued and resume on the next Start. Running handlers may
// call back into the queue while Stop waits for them.
func (q *Queue[T]) Stop() {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return
	}
	// Zero is always a valid concurrency
	_ = q.pool.SetConcurrency(0)
	q.mu.Unlock()

	q.pool.WaitSettled(pool.Infinite)

	q.logger.Info("task queue stopped")
}

// Clear drops the whole backlog: persisted records, queued executions and the
// failed set. Running tasks are not interrupted; when wait is set Clear blocks
// until they finish. The queue lock is released before that wait.
func (q *Queue[T]) Clear(ctx context.Context, wait bool) error {
	discarded, err := q.clearLocked(ctx)
	if err != nil {
		return err
	}

	// Handlers still running may enqueue or retry, so wait without the lock
	if wait {
		q.pool.WaitSettled(pool.Infinite)
	}

	q.logger.Info("task queue cleared", "discarded_executions", discarded)
	return nil
}

func (q *Queue[T]) clearLocked(ctx context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return 0, ErrQueueDisposed
	}

	// Keys of records wiped before the first Start must not be handed out again
	if !q.started {
		backlog, err := q.Backlog(ctx)
		if err != nil {
			return 0, fmt.Errorf("failed to clear task backlog: %w", err)
		}
		q.advanceNextKey(backlog)
	}

	discarded := q.pool.Clear()

	q.failedMu.Lock()
	err := q.repo.Clear(ctx)
	clear(q.failed)
	q.failedMu.Unlock()
	if err != nil {
		return discarded, fmt.Errorf("failed to clear task backlog: %w", err)
	}

	if q.autoSave.Load() {
		if err := q.repo.Save(ctx); err != nil {
			return discarded, fmt.Errorf("failed to clear task backlog: %w", err)
		}
	}
	return discarded, nil
}

// advanceNextKey moves nextKey past every key in backlog. Keys only grow, so
// a removed key is never reused by this instance.
func (q *Queue[T]) advanceNextKey(backlog []repository.Pair[int64, T]) {
	for _, pair := range backlog {
		if pair.Key >= q.nextKey {
			q.nextKey = pair.Key + 1
		}
	}
}

// Save flushes pending repository changes.
func (q *Queue[T]) Save(ctx context.Context) error {
	return q.repo.Save(ctx)
}

// SaveAuto toggles flushing after every mutation. Turning it on from off
// flushes immediately; if that flush fails the setting is left unchanged.
func (q *Queue[T]) SaveAuto(ctx context.Context, enabled bool) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if enabled && !q.autoSave.Load() {
		if err := q.repo.Save(ctx); err != nil {
			return err
		}
	}
	q.autoSave.Store(enabled)
	return nil
}

// SetConcurrency changes how many tasks may run at once.
func (q *Queue[T]) SetConcurrency(n int) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.pool.SetConcurrency(n); err != nil {
		return err
	}
	q.concurrency = n
	return nil
}

// Concurrency returns the configured concurrency.
func (q *Queue[T]) Concurrency() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.concurrency
}

// WaitAll blocks until nothing is queued or running, or timeout elapses.
func (q *Queue[T]) WaitAll(timeout time.Duration) bool {
	return q.pool.WaitAll(timeout)
}

// Backlog returns every persisted task in ascending key order.
func (q *Queue[T]) Backlog(ctx context.Context) ([]repository.Pair[int64, T], error) {
	items, err := q.repo.Items(ctx)
	if err != nil {
		return nil, err
	}

	backlog := make([]repository.Pair[int64, T], 0, len(items))
	for key, value := range items {
		backlog = append(backlog, repository.Pair[int64, T]{Key: key, Value: value})
	}
	slices.SortFunc(backlog, func(a, b repository.Pair[int64, T]) int {
		return cmp.Compare(a.Key, b.Key)
	})
	return backlog, nil
}

// FailedKeys returns the keys whose latest execution failed, in ascending order.
func (q *Queue[T]) FailedKeys() []int64 {
	q.failedMu.Lock()
	defer q.failedMu.Unlock()
	return sortedKeys(q.failed)
}

// Stats returns a snapshot of queue counters.
func (q *Queue[T]) Stats(ctx context.Context) (Stats, error) {
	backlog, err := q.repo.Len(ctx)
	if err != nil {
		return Stats{}, err
	}

	q.mu.Lock()
	stats := Stats{
		QueueID:     q.id,
		Started:     q.started,
		AutoSave:    q.autoSave.Load(),
		Concurrency: q.concurrency,
		NextKey:     q.nextKey,
	}
	q.mu.Unlock()

	stats.Backlog = backlog
	stats.Failed = len(q.FailedKeys())
	stats.Pending = q.repo.Pending()
	stats.Pool = q.pool.Stats()
	return stats, nil
}

// Dispose shuts the queue down. The pool is disposed first, waiting for
// running tasks until ctx is done, then pending changes are flushed and the
// repository is closed. Queued but unstarted tasks remain persisted.
func (q *Queue[T]) Dispose(ctx context.Context) error {
	q.mu.Lock()
	if q.disposed {
		q.mu.Unlock()
		return nil
	}
	q.disposed = true
	hooks := q.onDispose
	q.onDispose = nil
	q.mu.Unlock()

	for _, hook := range hooks {
		q.callDisposeHook(hook)
	}

	if q.flusher != nil {
		q.flusher.stop()
	}

	timeout := pool.Infinite
	if deadline, ok := ctx.Deadline(); ok {
		timeout = max(time.Until(deadline), 0)
	}
	if !q.pool.Dispose(true, timeout) {
		q.logger.Warn("disposing task queue with tasks still running")
	}

	err := q.repo.Save(ctx)
	q.repo.Close()
	if err != nil {
		return fmt.Errorf("failed to flush tasks on dispose: %w", err)
	}

	q.logger.Info("task queue disposed")
	return nil
}

func (q *Queue[T]) schedule(key int64, payload T) error {
	_, err := q.pool.Add(pool.Bind(q.perform, item[T]{key: key, payload: payload}))
	if err != nil {
		return fmt.Errorf("failed to schedule task %d: %w", key, err)
	}
	return nil
}

// perform runs inside a pool worker. No queue lock is held here, so the
// handler is free to call back into the queue.
func (q *Queue[T]) perform(ctx context.Context, t item[T]) error {
	// Hand the handler a logger that already carries the task key
	log := q.logger.With("task_key", t.key)

	if err := q.invoke(logger.WithLogger(ctx, log), t.payload); err != nil {
		// A failed task keeps its record so a retry sweep can pick it up
		log.Error("task execution failed", "error", err)
		q.recordFailure(ctx, t, err)
		return err
	}

	// Success: the record goes away. Clear may already have removed it
	removed, err := q.repo.Remove(ctx, t.key)
	if err != nil {
		log.Error("failed to remove completed task", "error", err)
		return fmt.Errorf("failed to remove completed task %d: %w", t.key, err)
	}
	if removed && q.autoSave.Load() {
		if err := q.repo.Save(ctx); err != nil {
			log.Error("failed to persist task completion", "error", err)
			return fmt.Errorf("failed to persist completion of task %d: %w", t.key, err)
		}
	}

	log.Debug("task completed")
	return nil
}

func (q *Queue[T]) invoke(ctx context.Context, payload T) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task handler panicked: %v", r)
		}
	}()
	return q.handler(ctx, payload)
}

func (q *Queue[T]) recordFailure(ctx context.Context, t item[T], cause error) {
	q.failedMu.Lock()
	// Only tasks that are still persisted can be retried
	present, err := q.repo.Contains(ctx, t.key)
	if err == nil && present {
		q.failed[t.key] = struct{}{}
	}
	hook := q.onFailure
	q.failedMu.Unlock()

	if hook == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("task failure handler panicked",
				"task_key", t.key,
				"panic", r)
		}
	}()
	hook(t.payload, cause)
}

func (q *Queue[T]) restoreFailed(keys []int64) {
	q.failedMu.Lock()
	defer q.failedMu.Unlock()
	for _, key := range keys {
		q.failed[key] = struct{}{}
	}
}

func (q *Queue[T]) callDisposeHook(hook func()) {
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("dispose hook panicked", "panic", r)
		}
	}()
	hook()
}

// flushManual is the flusher's tick. It only writes while auto-save is off.
func (q *Queue[T]) flushManual() {
	if q.autoSave.Load() {
		return
	}
	if err := q.repo.Save(context.Background()); err != nil {
		q.logger.Error("periodic task flush failed", "error", err)
	}
}

func sortedKeys(set map[int64]struct{}) []int64 {
	keys := make([]int64, 0, len(set))
	for key := range set {
		keys = append(keys, key)
	}
	slices.Sort(keys)
	return keys
}
