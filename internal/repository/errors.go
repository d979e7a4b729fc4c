package repository

import "errors"

// Common errors returned by the Repository
var (
	// ErrNilMedium is returned when a Repository is constructed without a medium.
	ErrNilMedium = errors.New("repository medium is nil")

	// ErrClosed is returned by every operation after Close.
	ErrClosed = errors.New("repository is closed")
)
