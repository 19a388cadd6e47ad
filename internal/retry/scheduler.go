// Package retry persists failed embedding tasks as durable retry
// envelopes, re-runs them with exponential backoff, and moves tasks
// that exhaust their attempts to a per-tenant dead-letter queue.
package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/dispatch"
	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

// ProcessFunc re-runs one task. The dispatcher's Process method
// satisfies it.
type ProcessFunc func(ctx context.Context, task *dispatch.Task) error

// Config holds retry scheduler configuration.
type Config struct {
	// BaseDelay is the first retry delay. Default: 60s.
	BaseDelay time.Duration

	// MaxDelay caps the exponential backoff. Default: 300s.
	MaxDelay time.Duration

	// MaxRetries is how many re-attempts a task gets before it is
	// dead-lettered. Default: 3.
	MaxRetries int

	// DeadLetterRetention is how long dead-letter records are kept
	// before PurgeExpired removes them. Default: 7 days.
	DeadLetterRetention time.Duration

	// SweepInterval is how often the background loop scans for due
	// envelopes. Default: 30s.
	SweepInterval time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.BaseDelay == 0 {
		c.BaseDelay = 60 * time.Second
	}
	if c.MaxDelay == 0 {
		c.MaxDelay = 300 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.DeadLetterRetention == 0 {
		c.DeadLetterRetention = 7 * 24 * time.Hour
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = 30 * time.Second
	}
}

// Validate validates the configuration.
func (c Config) Validate() error {
	if c.BaseDelay <= 0 {
		return fmt.Errorf("retry: base delay must be positive")
	}
	if c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("retry: max delay must be >= base delay")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("retry: max retries must not be negative")
	}
	return nil
}

// Envelope is a task persisted for re-attempt at a scheduled time.
type Envelope struct {
	Task        dispatch.Task `json:"task"`
	ScheduledAt time.Time     `json:"scheduled_at"`
}

// DeadLetter is a task that exhausted its retries.
type DeadLetter struct {
	Task       dispatch.Task `json:"task"`
	FinalError string        `json:"final_error"`
	MovedAt    time.Time     `json:"moved_at"`
}

// Scheduler persists and re-runs failed tasks.
type Scheduler struct {
	kv      keyval.Store
	process ProcessFunc
	config  Config
	logger  *zap.Logger
	metrics *Metrics

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewScheduler creates a retry scheduler.
func NewScheduler(kv keyval.Store, process ProcessFunc, config Config, logger *zap.Logger) (*Scheduler, error) {
	if kv == nil {
		return nil, fmt.Errorf("retry: key-value store is required")
	}
	if process == nil {
		return nil, fmt.Errorf("retry: process function is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &Scheduler{
		kv:      kv,
		process: process,
		config:  config,
		logger:  logger,
		metrics: NewMetrics(logger),
	}, nil
}

// Delay returns the backoff before the attempt following retryCount
// completed retries: min(base * 2^retryCount, cap).
func (s *Scheduler) Delay(retryCount int) time.Duration {
	d := s.config.BaseDelay
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= s.config.MaxDelay {
			return s.config.MaxDelay
		}
	}
	if d > s.config.MaxDelay {
		return s.config.MaxDelay
	}
	return d
}

// Schedule records a re-attempt for a failed task, or moves it to the
// dead-letter queue once it has been retried MaxRetries times. The
// backoff is computed from the count of retries already consumed, so
// the first re-attempt waits BaseDelay.
func (s *Scheduler) Schedule(ctx context.Context, task *dispatch.Task) error {
	delay := s.Delay(task.RetryCount)
	task.RetryCount++

	if task.RetryCount > s.config.MaxRetries {
		return s.deadLetter(ctx, task)
	}

	env := Envelope{
		Task:        *task,
		ScheduledAt: time.Now().UTC().Add(delay),
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("retry: marshaling envelope: %w", err)
	}

	key := keyval.RetryKey(task.Tenant, env.ScheduledAt.Unix(), task.ContentID)
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("retry: persisting envelope: %w", err)
	}

	s.metrics.RecordScheduled(ctx)
	s.logger.Info("retry scheduled",
		zap.String("tenant", task.Tenant),
		zap.String("content_id", task.ContentID),
		zap.Int("retry_count", task.RetryCount),
		zap.Duration("delay", delay))
	return nil
}

// deadLetter moves an exhausted task to the dead-letter queue.
func (s *Scheduler) deadLetter(ctx context.Context, task *dispatch.Task) error {
	task.Status = dispatch.StatusFailed

	dl := DeadLetter{
		Task:       *task,
		FinalError: task.LastError,
		MovedAt:    time.Now().UTC(),
	}
	data, err := json.Marshal(dl)
	if err != nil {
		return fmt.Errorf("retry: marshaling dead letter: %w", err)
	}

	key := keyval.DeadLetterKey(task.Tenant, task.ContentID)
	if err := s.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("retry: persisting dead letter: %w", err)
	}

	s.metrics.RecordDeadLettered(ctx)
	s.logger.Error("task dead-lettered",
		zap.String("tenant", task.Tenant),
		zap.String("content_id", task.ContentID),
		zap.Int("retry_count", task.RetryCount),
		zap.String("last_error", task.LastError))
	return nil
}

// Sweep re-runs every envelope whose scheduled time has passed, for
// all tenants present in the store. Each envelope is deleted before
// its task is processed, so one sweep consumes it exactly once; a
// still-failing task gets a fresh envelope through Schedule.
func (s *Scheduler) Sweep(ctx context.Context) error {
	keys, err := s.kv.Keys(ctx, "")
	if err != nil {
		return fmt.Errorf("retry: listing keys: %w", err)
	}

	now := time.Now().UTC().Unix()
	for _, key := range keys {
		tenant := keyval.Tenant(key)
		if tenant == "" || !hasRetryPrefix(key, tenant) {
			continue
		}
		scheduled, _, err := keyval.ParseRetryKey(key)
		if err != nil {
			s.logger.Warn("skipping malformed retry key",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		if scheduled > now {
			continue
		}
		if err := s.runEnvelope(ctx, key); err != nil {
			s.logger.Warn("retry envelope failed",
				zap.String("key", key),
				zap.Error(err))
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

func hasRetryPrefix(key, tenant string) bool {
	prefix := keyval.RetryPrefix(tenant)
	return len(key) > len(prefix) && key[:len(prefix)] == prefix
}

// runEnvelope consumes one due envelope and re-runs its task.
func (s *Scheduler) runEnvelope(ctx context.Context, key string) error {
	data, err := s.kv.Get(ctx, key)
	if err != nil {
		if err == keyval.ErrKeyNotFound {
			// Another sweeper consumed it.
			return nil
		}
		return fmt.Errorf("reading envelope: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		// Undecodable envelopes are dropped rather than retried forever.
		if delErr := s.kv.Delete(ctx, key); delErr != nil {
			s.logger.Warn("deleting malformed envelope failed", zap.Error(delErr))
		}
		return fmt.Errorf("decoding envelope: %w", err)
	}

	if err := s.kv.Delete(ctx, key); err != nil {
		return fmt.Errorf("consuming envelope: %w", err)
	}

	task := env.Task
	if err := s.process(ctx, &task); err != nil {
		s.metrics.RecordAttempt(ctx, "failed")
		return s.Schedule(ctx, &task)
	}

	s.metrics.RecordAttempt(ctx, "recovered")
	s.logger.Info("retry succeeded",
		zap.String("tenant", task.Tenant),
		zap.String("content_id", task.ContentID),
		zap.Int("retry_count", task.RetryCount))
	return nil
}

// DeadLetters returns a tenant's dead-letter records.
func (s *Scheduler) DeadLetters(ctx context.Context, tenant string) ([]DeadLetter, error) {
	keys, err := s.kv.Keys(ctx, keyval.DeadLetterPrefix(tenant))
	if err != nil {
		return nil, fmt.Errorf("retry: listing dead letters: %w", err)
	}

	out := make([]DeadLetter, 0, len(keys))
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			if err == keyval.ErrKeyNotFound {
				continue
			}
			return nil, fmt.Errorf("retry: reading dead letter %s: %w", key, err)
		}
		var dl DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil {
			s.logger.Warn("skipping undecodable dead letter",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		out = append(out, dl)
	}
	return out, nil
}

// PurgeExpired removes a tenant's dead-letter records older than the
// retention window and returns how many were removed.
func (s *Scheduler) PurgeExpired(ctx context.Context, tenant string) (int, error) {
	keys, err := s.kv.Keys(ctx, keyval.DeadLetterPrefix(tenant))
	if err != nil {
		return 0, fmt.Errorf("retry: listing dead letters: %w", err)
	}

	cutoff := time.Now().UTC().Add(-s.config.DeadLetterRetention)
	purged := 0
	for _, key := range keys {
		data, err := s.kv.Get(ctx, key)
		if err != nil {
			continue
		}
		var dl DeadLetter
		if err := json.Unmarshal(data, &dl); err != nil || dl.MovedAt.After(cutoff) {
			continue
		}
		if err := s.kv.Delete(ctx, key); err != nil {
			s.logger.Warn("purging dead letter failed",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		purged++
	}

	if purged > 0 {
		s.logger.Info("dead letters purged",
			zap.String("tenant", tenant),
			zap.Int("count", purged))
	}
	return purged, nil
}

// Start launches the background sweep loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})

	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.config.SweepInterval)
		defer ticker.Stop()

		s.logger.Info("retry sweep loop started",
			zap.Duration("interval", s.config.SweepInterval))

		for {
			select {
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.Warn("retry sweep failed", zap.Error(err))
				}
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the background sweep loop and waits for it to exit.
func (s *Scheduler) Stop() {
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	<-s.doneCh
	s.stopCh = nil
	s.logger.Info("retry sweep loop stopped")
}
