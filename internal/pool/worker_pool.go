package pool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Infinite makes the Wait* methods block until their condition holds.
const Infinite time.Duration = -1

// WorkFunc is a unit of work executed by the pool. The returned error, or a
// recovered panic, is recorded by the pool and never propagated to callers.
type WorkFunc func(ctx context.Context) error

// Bind captures arg so fn can be scheduled as a WorkFunc.
func Bind[T any](fn func(ctx context.Context, arg T) error, arg T) WorkFunc {
	if fn == nil {
		return nil
	}
	return func(ctx context.Context) error {
		return fn(ctx, arg)
	}
}

// Config holds configuration options for the worker pool
type Config struct {
	// Concurrency is the maximum number of work items executing at once.
	// Zero is valid: items are queued but none are started.
	// Negative values are replaced with the default.
	Concurrency int
}

// DefaultConfig returns a Config with one slot per CPU
func DefaultConfig() Config {
	return Config{
		Concurrency: runtime.NumCPU(),
	}
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	Concurrency int    `json:"concurrency"`
	Queued      int    `json:"queued"`
	Running     int    `json:"running"`
	Completed   uint64 `json:"completed"`
	Failed      uint64 `json:"failed"`
}

type entry struct {
	fn     WorkFunc
	handle *Handle
}

// WorkerPool runs queued work items on their own goroutines, never more than
// the current concurrency cap at a time.
type WorkerPool struct {
	mu sync.Mutex

	// queue holds items that have not started yet, in submission order
	queue []entry

	running     int
	concurrency int

	// invoked is set by Invoke; until then items only accumulate
	invoked bool
	closed  bool
	nextID  uint64

	// idle is closed while nothing is queued or running
	idle level
	// settled is closed while nothing is running and nothing can be admitted
	settled level
	// completion is closed and replaced every time an item finishes
	completion chan struct{}

	// ctx is handed to every work item and canceled by Dispose
	ctx    context.Context
	cancel context.CancelFunc

	completed atomic.Uint64
	failed    atomic.Uint64

	logger       *slog.Logger
	errorHandler func(err error)
}

// New creates a worker pool. The pool does not start work until Invoke is called.
func New(config Config, logger *slog.Logger) *WorkerPool {
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := config.Concurrency
	if concurrency < 0 {
		concurrency = DefaultConfig().Concurrency
		logger.Warn("invalid concurrency specified, using default",
			"specified_concurrency", config.Concurrency,
			"default_concurrency", concurrency)
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		concurrency: concurrency,
		idle:        newLevel(true),
		settled:     newLevel(true),
		completion:  make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
	}
}

// SetErrorHandler sets a hook called with every error returned or panicked by a work item.
func (p *WorkerPool) SetErrorHandler(handler func(err error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errorHandler = handler
}

// Add queues a work item. It never blocks. If the pool has already been
// invoked and a slot is free the item starts immediately.
func (p *WorkerPool) Add(fn WorkFunc) (*Handle, error) {
	if fn == nil {
		return nil, ErrNilWork
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}

	p.nextID++
	h := newHandle(p.nextID)
	p.queue = append(p.queue, entry{fn: fn, handle: h})

	p.dispatchLocked()
	p.refreshLocked()
	return h, nil
}

// Invoke starts draining the queue up to the concurrency cap.
func (p *WorkerPool) Invoke() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return ErrPoolClosed
	}

	p.invoked = true
	p.dispatchLocked()
	p.refreshLocked()
	return nil
}

// InvokeWork adds fn and starts draining.
func (p *WorkerPool) InvokeWork(fn WorkFunc) (*Handle, error) {
	h, err := p.Add(fn)
	if err != nil {
		return nil, err
	}
	if err := p.Invoke(); err != nil {
		return nil, err
	}
	return h, nil
}

// SetConcurrency changes how many items may run at once. Lowering it never
// interrupts running items; raising it admits queued items immediately.
func (p *WorkerPool) SetConcurrency(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: %d", ErrInvalidConcurrency, n)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.concurrency != n {
		p.logger.Debug("worker pool concurrency changed",
			"previous", p.concurrency,
			"current", n,
			"running", p.running,
			"queued", len(p.queue))
	}
	p.concurrency = n
	p.dispatchLocked()
	p.refreshLocked()
	return nil
}

// Concurrency returns the current concurrency cap.
func (p *WorkerPool) Concurrency() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.concurrency
}

// IsRunning reports whether items are executing or about to be admitted.
func (p *WorkerPool) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running > 0 || (len(p.queue) > 0 && p.admittingLocked())
}

// Clear discards every queued item that has not started. Running items are
// unaffected. It returns the number of discarded items.
func (p *WorkerPool) Clear() int {
	p.mu.Lock()
	discarded := p.queue
	p.queue = nil
	p.refreshLocked()
	p.mu.Unlock()

	for _, e := range discarded {
		e.handle.finish(ErrDiscarded)
	}

	if len(discarded) > 0 {
		p.logger.Debug("discarded queued work items", "count", len(discarded))
	}
	return len(discarded)
}

// WaitAll blocks until nothing is queued or running, or timeout elapses.
func (p *WorkerPool) WaitAll(timeout time.Duration) bool {
	p.mu.Lock()
	ch := p.idle.ch
	p.mu.Unlock()
	return wait(ch, timeout)
}

// WaitSettled blocks until nothing is running and no queued item can be
// admitted, either because the queue is empty or because the pool is
// throttled to zero, or until timeout elapses.
func (p *WorkerPool) WaitSettled(timeout time.Duration) bool {
	p.mu.Lock()
	ch := p.settled.ch
	p.mu.Unlock()
	return wait(ch, timeout)
}

// WaitAny blocks until at least one item completes after the call, or timeout elapses.
func (p *WorkerPool) WaitAny(timeout time.Duration) bool {
	p.mu.Lock()
	ch := p.completion
	p.mu.Unlock()
	return wait(ch, timeout)
}

// Dispose stops admitting items and discards the queue. When wait is set it
// blocks for running items up to timeout and reports whether they finished.
// The context passed to work items is canceled on return.
func (p *WorkerPool) Dispose(wait bool, timeout time.Duration) bool {
	p.mu.Lock()
	alreadyClosed := p.closed
	p.closed = true
	p.mu.Unlock()

	p.Clear()

	ok := true
	if wait {
		ok = p.WaitAll(timeout)
	}
	p.cancel()

	if !alreadyClosed {
		p.logger.Debug("worker pool disposed", "drained", ok)
	}
	return ok
}

// Stats returns a snapshot of pool counters.
func (p *WorkerPool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Concurrency: p.concurrency,
		Queued:      len(p.queue),
		Running:     p.running,
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
	}
}

func (p *WorkerPool) admittingLocked() bool {
	return p.invoked && !p.closed && p.concurrency > 0
}

// dispatchLocked starts queued items while slots are free.
func (p *WorkerPool) dispatchLocked() {
	for p.admittingLocked() && p.running < p.concurrency && len(p.queue) > 0 {
		e := p.queue[0]
		// Zero the slot so the backing array doesn't pin the closure
		p.queue[0] = entry{}
		p.queue = p.queue[1:]
		// Counted before the goroutine starts so waiters never see a gap
		p.running++
		go p.run(e)
	}
}

func (p *WorkerPool) refreshLocked() {
	p.idle.update(len(p.queue) == 0 && p.running == 0)
	p.settled.update(p.running == 0 && (len(p.queue) == 0 || !p.admittingLocked()))
}

func (p *WorkerPool) run(e entry) {
	err := p.execute(e.fn)
	if err != nil {
		p.failed.Add(1)
		p.logger.Debug("work item failed", "work_id", e.handle.id, "error", err)
		p.reportError(err)
	}
	e.handle.finish(err)

	p.mu.Lock()
	p.completed.Add(1)
	p.running--
	close(p.completion)
	p.completion = make(chan struct{})
	p.dispatchLocked()
	p.refreshLocked()
	p.mu.Unlock()
}

func (p *WorkerPool) execute(fn WorkFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("work item panicked: %v", r)
		}
	}()
	return fn(p.ctx)
}

func (p *WorkerPool) reportError(err error) {
	p.mu.Lock()
	handler := p.errorHandler
	p.mu.Unlock()
	if handler == nil {
		return
	}

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker pool error handler panicked", "panic", r)
		}
	}()
	handler(err)
}
