// Package job defines the serialisable unit of work the server persists in
// its task queue, and the dispatcher that routes each job to the handler
// registered for its type.
//
// A Job carries only a type name and raw JSON data, so the queue can store it
// in any backing medium and recover it after a restart. Handlers decode the
// data themselves:
//
//	dispatcher := job.NewDispatcher(logger)
//	_ = dispatcher.Register(job.TypeLog, job.NewLogHandler(logger))
//	queue, _ := task.New(dispatcher.Handle, repo, cfg, logger)
//
// A handler error leaves the job in the queue's failed set, so it is retried
// by the next retry sweep instead of being lost.
package job
