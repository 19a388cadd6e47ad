package dispatch

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// StatusPublisher emits per-task status transitions for observability.
// Publishing is best-effort; failures never affect task processing.
type StatusPublisher interface {
	Publish(task *Task)
}

// NopStatusPublisher discards status updates.
type NopStatusPublisher struct{}

// Publish discards the update.
func (NopStatusPublisher) Publish(*Task) {}

// NATSStatusPublisher publishes task status updates to NATS subjects:
//
//	tasks.{tenant}.{task_id}.{status}
type NATSStatusPublisher struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSStatusPublisher creates a status publisher on an existing
// NATS connection.
func NewNATSStatusPublisher(nc *nats.Conn, logger *zap.Logger) *NATSStatusPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSStatusPublisher{nc: nc, logger: logger}
}

// Publish emits the task's current state.
func (p *NATSStatusPublisher) Publish(task *Task) {
	subject := fmt.Sprintf("tasks.%s.%s.%s", task.Tenant, task.ID, task.Status)

	data, err := json.Marshal(map[string]interface{}{
		"id":          task.ID,
		"tenant":      task.Tenant,
		"content_id":  task.ContentID,
		"status":      task.Status,
		"retry_count": task.RetryCount,
		"last_error":  task.LastError,
		"timestamp":   time.Now().UTC(),
	})
	if err != nil {
		p.logger.Warn("status: marshal failed", zap.Error(err))
		return
	}

	if err := p.nc.Publish(subject, data); err != nil {
		p.logger.Warn("status: publish failed",
			zap.String("subject", subject),
			zap.Error(err))
	}
}
