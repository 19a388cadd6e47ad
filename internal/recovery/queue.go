// Package recovery upgrades fallback-produced vectors to the primary
// provider once it is healthy again. Pending items live in a durable
// per-tenant queue; a background sweeper drains it.
package recovery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

// Pending is one queued recovery item. Content is captured at enqueue
// time so the sweeper can re-embed without resolving it again.
type Pending struct {
	ContentID  string    `json:"content_id"`
	Content    string    `json:"content"`
	Attempts   int       `json:"attempts"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	LastError  string    `json:"last_error,omitempty"`

	// Exhausted marks an item that used up its upgrade attempts. The
	// entry is kept so record scans do not rediscover the id with a
	// fresh attempt count; a new enqueue for the id clears it.
	Exhausted bool `json:"exhausted,omitempty"`
}

// Queue is the durable per-tenant recovery queue.
type Queue struct {
	kv     keyval.Store
	logger *zap.Logger
}

// NewQueue creates a recovery queue on the given key-value backend.
func NewQueue(kv keyval.Store, logger *zap.Logger) (*Queue, error) {
	if kv == nil {
		return nil, fmt.Errorf("recovery: key-value store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{kv: kv, logger: logger}, nil
}

// Enqueue records a content id whose stored vector came from a
// fallback provider. Re-enqueueing an id resets its attempt count and
// exhausted flag; the newest fallback write wins.
func (q *Queue) Enqueue(ctx context.Context, tenant, contentID, content string) error {
	p := Pending{
		ContentID:  contentID,
		Content:    content,
		EnqueuedAt: time.Now().UTC(),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("recovery: marshaling pending item: %w", err)
	}

	if err := q.kv.Put(ctx, keyval.RecoveryKey(tenant, contentID), data); err != nil {
		return fmt.Errorf("recovery: enqueueing %s: %w", contentID, err)
	}

	q.logger.Debug("recovery enqueued",
		zap.String("tenant", tenant),
		zap.String("content_id", contentID))
	return nil
}

// List returns a tenant's pending recovery items.
func (q *Queue) List(ctx context.Context, tenant string) ([]Pending, error) {
	keys, err := q.kv.Keys(ctx, keyval.RecoveryPrefix(tenant))
	if err != nil {
		return nil, fmt.Errorf("recovery: listing queue for %s: %w", tenant, err)
	}

	items := make([]Pending, 0, len(keys))
	for _, key := range keys {
		data, err := q.kv.Get(ctx, key)
		if errors.Is(err, keyval.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("recovery: reading %s: %w", key, err)
		}
		var p Pending
		if err := json.Unmarshal(data, &p); err != nil {
			q.logger.Warn("skipping undecodable recovery item",
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		items = append(items, p)
	}
	return items, nil
}

// Remove drops a pending item, typically after a successful upgrade.
func (q *Queue) Remove(ctx context.Context, tenant, contentID string) error {
	if err := q.kv.Delete(ctx, keyval.RecoveryKey(tenant, contentID)); err != nil {
		return fmt.Errorf("recovery: removing %s: %w", contentID, err)
	}
	return nil
}

// Update persists a pending item's current state, typically after the
// sweeper has bumped its attempt count or marked it exhausted.
func (q *Queue) Update(ctx context.Context, tenant string, p Pending) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("recovery: marshaling pending item: %w", err)
	}
	if err := q.kv.Put(ctx, keyval.RecoveryKey(tenant, p.ContentID), data); err != nil {
		return fmt.Errorf("recovery: updating %s: %w", p.ContentID, err)
	}
	return nil
}
