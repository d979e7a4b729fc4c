// Package task implements a durable task queue. Every enqueued payload is
// written to a repository before it is scheduled on a bounded worker pool, is
// removed from the repository only after its handler succeeds, and otherwise
// stays persisted for a manual retry or for the next process start. Delivery
// is at-least-once: a handler may see the same payload again after a crash.
package task
