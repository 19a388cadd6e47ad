package dispatch

import (
	"context"
	"time"
)

// Task statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
	StatusRetrying   = "retrying"
)

// Task is one unit of embedding work derived from an event. Tasks are
// mutated only by the dispatcher and the retry scheduler.
type Task struct {
	ID         string    `json:"id"`
	Tenant     string    `json:"tenant"`
	ContentID  string    `json:"content_id"`
	Content    string    `json:"content,omitempty"`
	Importance float64   `json:"importance,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Status     string    `json:"status"`
	RetryCount int       `json:"retry_count"`
	LastError  string    `json:"last_error,omitempty"`
}

// ContentSource resolves content by id when an event does not carry it
// inline. The backing content store is an external collaborator.
type ContentSource interface {
	Resolve(ctx context.Context, tenant, contentID string) (string, error)
}

// TaskScheduler re-attempts transiently failed tasks with backoff.
// Implemented by the retry scheduler.
type TaskScheduler interface {
	Schedule(ctx context.Context, task *Task) error
}

// RecoveryEnqueuer records fallback-produced vectors for later upgrade.
// Implemented by the recovery queue.
type RecoveryEnqueuer interface {
	Enqueue(ctx context.Context, tenant, contentID, content string) error
}
