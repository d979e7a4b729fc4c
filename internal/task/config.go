package task

import (
	"runtime"
	"time"
)

// Config holds configuration for the task queue
type Config struct {
	// Concurrency determines how many tasks run at once. Zero queues tasks
	// without running them until SetConcurrency raises it.
	Concurrency int

	// AutoSave flushes the repository after every mutation
	AutoSave bool

	// FlushInterval, when positive, flushes the repository on that cadence
	// while AutoSave is off
	FlushInterval time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		Concurrency: runtime.NumCPU(),
		AutoSave:    true,
	}
}
