package task

import "errors"

// Common errors returned by the Queue
var (
	// ErrNilHandler is returned when a Queue is constructed without a handler.
	ErrNilHandler = errors.New("task handler is nil")

	// ErrNilRepository is returned when a Queue is constructed without a repository.
	ErrNilRepository = errors.New("task repository is nil")

	// ErrQueueDisposed is returned by operations on a disposed queue.
	ErrQueueDisposed = errors.New("task queue is disposed")
)
