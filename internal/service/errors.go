package service

import "errors"

// Service errors, checked by the API layer with errors.Is.
var (
	// ErrUnsupportedJobType indicates a job was submitted for a type with no
	// registered handler. API layer should map this to HTTP 400 Bad Request.
	ErrUnsupportedJobType = errors.New("unsupported job type")

	// ErrNilQueue is returned when a TaskService is constructed without a queue.
	ErrNilQueue = errors.New("job queue cannot be nil")
)
