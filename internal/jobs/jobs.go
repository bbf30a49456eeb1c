// ABOUTME: Job type, handler contract, and the inline executor
// ABOUTME: A job carries one inbound message through background processing

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Job is one unit of background work: a single inbound message to
// process on behalf of a user.
type Job struct {
	ID         string          `json:"id"`
	UserID     string          `json:"user_id"`
	MessageID  string          `json:"message_id"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Payload    json.RawMessage `json:"payload"`
}

// NewJob builds a job for the given user message with a fresh ID.
func NewJob(userID, messageID string, payload []byte) *Job {
	return &Job{
		ID:         uuid.New().String(),
		UserID:     userID,
		MessageID:  messageID,
		EnqueuedAt: time.Now(),
		Payload:    payload,
	}
}

// Key is the job's idempotency key. Two jobs for the same inbound
// message share a key even when their IDs differ.
func (j *Job) Key() string {
	return j.UserID + ":" + j.MessageID
}

// Handler processes a single job. Returning an error marks the job
// failed; executors log the failure but do not retry.
type Handler func(ctx context.Context, job *Job) error

// Executor accepts jobs for background execution.
type Executor interface {
	Enqueue(ctx context.Context, job *Job) error
	Close() error
}

// InlineExecutor runs each job synchronously on the calling goroutine.
type InlineExecutor struct {
	handler Handler
}

func NewInlineExecutor(handler Handler) *InlineExecutor {
	return &InlineExecutor{handler: handler}
}

func (e *InlineExecutor) Enqueue(ctx context.Context, job *Job) error {
	if err := e.handler(ctx, job); err != nil {
		return fmt.Errorf("job %s: %w", job.ID, err)
	}
	return nil
}

func (e *InlineExecutor) Close() error { return nil }
