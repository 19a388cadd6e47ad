package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/cache"
	"github.com/fyrsmithlabs/vectord/internal/provider"
	"github.com/fyrsmithlabs/vectord/internal/vector"
)

// ErrContentUnavailable indicates content that could not be resolved.
// Permanent: the event is malformed or references deleted content.
var ErrContentUnavailable = errors.New("content unavailable")

// Outcome is the dispatcher's verdict on one event.
type Outcome int

const (
	// Ack acknowledges the event; it will not be redelivered.
	Ack Outcome = iota

	// Nack leaves the event unacknowledged for redelivery; a retry
	// envelope has been scheduled.
	Nack
)

// Dispatcher turns creation events into durable vector records.
type Dispatcher struct {
	store  *vector.Store
	cache  *cache.Cache
	chain  *provider.Chain
	source ContentSource

	retry    TaskScheduler
	recovery RecoveryEnqueuer
	status   StatusPublisher

	logger  *zap.Logger
	metrics *Metrics
}

// Config wires the dispatcher's collaborators. Store, Cache and Chain
// are required; the rest default to no-ops.
type Config struct {
	Store    *vector.Store
	Cache    *cache.Cache
	Chain    *provider.Chain
	Source   ContentSource
	Retry    TaskScheduler
	Recovery RecoveryEnqueuer
	Status   StatusPublisher
}

// New creates a dispatcher.
func New(cfg Config, logger *zap.Logger) (*Dispatcher, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("dispatch: vector store is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("dispatch: cache is required")
	}
	if cfg.Chain == nil {
		return nil, fmt.Errorf("dispatch: provider chain is required")
	}
	if cfg.Status == nil {
		cfg.Status = NopStatusPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dispatcher{
		store:    cfg.Store,
		cache:    cfg.Cache,
		chain:    cfg.Chain,
		source:   cfg.Source,
		retry:    cfg.Retry,
		recovery: cfg.Recovery,
		status:   cfg.Status,
		logger:   logger,
		metrics:  NewMetrics(logger),
	}, nil
}

// SetRetry attaches the retry scheduler after construction. The
// scheduler's process function is the dispatcher's Process method, so
// the two are wired in this order. Call before Handle is first used.
func (d *Dispatcher) SetRetry(retry TaskScheduler) {
	d.retry = retry
}

// Handle processes one event and returns Ack or Nack.
//
// Irrelevant event types and already-embedded content ids are
// acknowledged without provider work. The existence check is not atomic
// with the later write (check-then-act): concurrent deliveries of the
// same id may both embed, which is safe because the write is an
// idempotent overwrite on the same key. At-least-once redelivery after
// a crash before ack is the correctness model.
func (d *Dispatcher) Handle(ctx context.Context, ev Event) Outcome {
	start := time.Now()

	if ev.Type != EventContentCreated {
		d.logger.Debug("skipping event",
			zap.String("event_type", ev.Type),
			zap.String("content_id", ev.ContentID))
		d.metrics.RecordEvent(ctx, "skipped", time.Since(start))
		return Ack
	}
	if ev.Tenant == "" || ev.ContentID == "" {
		d.logger.Warn("dropping malformed event",
			zap.String("tenant", ev.Tenant),
			zap.String("content_id", ev.ContentID))
		d.metrics.RecordEvent(ctx, "malformed", time.Since(start))
		return Ack
	}

	exists, err := d.store.Exists(ctx, ev.Tenant, ev.ContentID)
	if err != nil {
		d.logger.Warn("existence check failed, treating as new",
			zap.String("content_id", ev.ContentID),
			zap.Error(err))
	} else if exists {
		d.logger.Debug("vector record exists, skipping",
			zap.String("tenant", ev.Tenant),
			zap.String("content_id", ev.ContentID))
		d.metrics.RecordEvent(ctx, "duplicate", time.Since(start))
		return Ack
	}

	task := &Task{
		ID:         uuid.New().String(),
		Tenant:     ev.Tenant,
		ContentID:  ev.ContentID,
		Content:    ev.Content,
		Importance: ev.Importance,
		EnqueuedAt: time.Now().UTC(),
		Status:     StatusPending,
	}
	d.status.Publish(task)

	err = d.Process(ctx, task)
	switch {
	case err == nil:
		d.metrics.RecordEvent(ctx, "completed", time.Since(start))
		return Ack

	case provider.IsPermanent(err) || errors.Is(err, ErrContentUnavailable):
		// Permanent content errors fail fast: no retry, but the failure
		// is recorded so it is not silent.
		task.Status = StatusFailed
		task.LastError = err.Error()
		d.status.Publish(task)
		d.logger.Error("task failed permanently",
			zap.String("tenant", task.Tenant),
			zap.String("content_id", task.ContentID),
			zap.Error(err))
		d.metrics.RecordEvent(ctx, "failed_permanent", time.Since(start))
		return Ack

	default:
		task.Status = StatusRetrying
		task.LastError = err.Error()
		d.status.Publish(task)
		if d.retry != nil {
			if schedErr := d.retry.Schedule(ctx, task); schedErr != nil {
				d.logger.Error("scheduling retry failed",
					zap.String("content_id", task.ContentID),
					zap.Error(schedErr))
			}
		}
		d.logger.Warn("task failed, scheduled for retry",
			zap.String("tenant", task.Tenant),
			zap.String("content_id", task.ContentID),
			zap.Int("retry_count", task.RetryCount),
			zap.Error(err))
		d.metrics.RecordEvent(ctx, "failed_transient", time.Since(start))
		return Nack
	}
}

// Process runs the embed path for a task: resolve content, consult the
// cache, call the provider chain, persist the record. It is the entry
// point both for fresh events and for retried tasks.
func (d *Dispatcher) Process(ctx context.Context, task *Task) error {
	task.Status = StatusProcessing
	d.status.Publish(task)

	content, err := d.resolveContent(ctx, task)
	if err != nil {
		return err
	}
	task.Content = content

	if entry, err := d.cache.Lookup(ctx, task.Tenant, content); err != nil {
		d.logger.Warn("cache lookup failed, continuing without cache",
			zap.String("content_id", task.ContentID),
			zap.Error(err))
	} else if entry != nil {
		rec := vector.Record{
			Metadata: vector.Metadata{
				ID:         task.ContentID,
				Tenant:     task.Tenant,
				Provider:   entry.Provider,
				Model:      entry.Model,
				Source:     vector.SourceCache,
				Importance: task.Importance,
			},
			Vector: entry.Vector,
		}
		if err := d.store.Put(ctx, rec); err != nil {
			return fmt.Errorf("writing cached record: %w", err)
		}
		// A cached fallback vector needs upgrading just like a fresh one.
		if entry.Provider != d.chain.Primary() && d.recovery != nil {
			if err := d.recovery.Enqueue(ctx, task.Tenant, task.ContentID, content); err != nil {
				d.logger.Error("enqueueing recovery failed",
					zap.String("content_id", task.ContentID),
					zap.Error(err))
			}
		}
		task.Status = StatusCompleted
		d.status.Publish(task)
		d.logger.Debug("served from cache",
			zap.String("tenant", task.Tenant),
			zap.String("content_id", task.ContentID))
		return nil
	}

	res, err := d.chain.Embed(ctx, content)
	if err != nil {
		return err
	}

	rec := vector.Record{
		Metadata: vector.Metadata{
			ID:         task.ContentID,
			Tenant:     task.Tenant,
			Provider:   res.Provider,
			Model:      res.Model,
			Source:     vector.SourceProvider,
			Importance: task.Importance,
		},
		Vector: res.Vector,
	}
	if err := d.store.Put(ctx, rec); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}

	if err := d.cache.Store(ctx, task.Tenant, content, res.Vector, res.Provider, res.Model); err != nil {
		d.logger.Warn("cache store failed",
			zap.String("content_id", task.ContentID),
			zap.Error(err))
	}

	if res.Fallback && d.recovery != nil {
		if err := d.recovery.Enqueue(ctx, task.Tenant, task.ContentID, content); err != nil {
			d.logger.Error("enqueueing recovery failed",
				zap.String("content_id", task.ContentID),
				zap.Error(err))
		}
	}

	task.Status = StatusCompleted
	d.status.Publish(task)
	return nil
}

// resolveContent returns inline content or fetches it from the source.
func (d *Dispatcher) resolveContent(ctx context.Context, task *Task) (string, error) {
	if task.Content != "" {
		return task.Content, nil
	}
	if d.source == nil {
		return "", fmt.Errorf("%w: no inline content and no content source for %s",
			ErrContentUnavailable, task.ContentID)
	}

	content, err := d.source.Resolve(ctx, task.Tenant, task.ContentID)
	if err != nil {
		return "", fmt.Errorf("resolving content %s: %w", task.ContentID, err)
	}
	if content == "" {
		return "", fmt.Errorf("%w: %s resolved to empty content", ErrContentUnavailable, task.ContentID)
	}
	return content, nil
}
