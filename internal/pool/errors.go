package pool

import "errors"

// Common errors returned by the WorkerPool
var (
	// ErrNilWork is returned when Add is called without a work function.
	ErrNilWork = errors.New("work item is nil")

	// ErrPoolClosed is returned when work is added after Dispose.
	ErrPoolClosed = errors.New("worker pool is closed")

	// ErrDiscarded is reported by the Handle of an item removed by Clear or
	// Dispose before it started.
	ErrDiscarded = errors.New("work item discarded before start")

	// ErrInvalidConcurrency is returned when a negative concurrency is requested.
	ErrInvalidConcurrency = errors.New("concurrency must not be negative")
)
