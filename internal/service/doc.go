// Package service contains the application use cases that sit between the
// admin HTTP API and the durable job queue.
//
// The API never touches the queue directly. TaskService validates incoming
// jobs against the registered job types, converts the queue's backlog into
// views, and exposes the queue's control operations. The queue itself is
// reached through the JobQueue interface so handlers can be tested against
// a mock.
package service
