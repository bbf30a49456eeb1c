// ABOUTME: Background job execution for inbound message processing
// ABOUTME: Provides inline, in-process queue, and Redis Streams executors

// Package jobs decouples webhook acknowledgement from message handling.
// The dispatcher enqueues a Job and returns immediately; an Executor
// delivers it to the registered Handler in the background.
//
// Three executors are provided. InlineExecutor runs the handler on the
// calling goroutine and exists for tests and one-shot tools.
// QueueExecutor runs a watermill router over an in-process Go channel
// Pub/Sub, which is the single-instance default. NewRedisExecutor backs
// the same router with Redis Streams and a consumer group so multiple
// gateway instances can share one queue.
package jobs
