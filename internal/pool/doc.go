// Package pool provides a bounded-concurrency executor for arbitrary work items.
// The concurrency cap can be changed while the pool is running, and callers can
// wait for the pool to drain or for any single item to complete.
package pool
