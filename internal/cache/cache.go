package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

// DefaultTTL bounds the lifetime of cache entries.
const DefaultTTL = time.Hour

// DefaultSimilarityThreshold is the cosine threshold for approximate
// near-duplicate hits.
const DefaultSimilarityThreshold = 0.85

// Entry is a cached embedding keyed by content fingerprint.
//
// Entries are advisory: the canonical record may have been upgraded by
// the recovery sweeper after the entry was written, so callers must not
// treat the cached provider attribution as authoritative.
type Entry struct {
	Fingerprint string    `json:"fingerprint"`
	Vector      []float32 `json:"vector"`
	Content     string    `json:"original_content"`
	Provider    string    `json:"provider"`
	Model       string    `json:"model,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	AccessCount int       `json:"access_count"`
}

// Config holds cache configuration.
type Config struct {
	// TTL bounds entry lifetime; expired entries are evicted lazily on
	// the next lookup. Default: 1h.
	TTL time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TTL == 0 {
		c.TTL = DefaultTTL
	}
}

// Stats is a snapshot of cache effectiveness counters.
type Stats struct {
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache suppresses redundant provider calls by serving previously
// computed vectors for exact or near-duplicate content.
type Cache struct {
	kv     keyval.Store
	approx *ApproxIndex
	config Config
	logger *zap.Logger

	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64

	// approxDown flips when the approximate backend fails; logged once
	// to avoid a log storm, after which lookups are exact-only.
	approxDown atomic.Bool
	degradeLog sync.Once

	metrics *Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithApproxIndex enables approximate near-duplicate lookup.
func WithApproxIndex(idx *ApproxIndex) Option {
	return func(c *Cache) { c.approx = idx }
}

// New creates a semantic cache on the given key-value backend.
func New(kv keyval.Store, config Config, logger *zap.Logger, opts ...Option) (*Cache, error) {
	if kv == nil {
		return nil, fmt.Errorf("cache: key-value store is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()

	c := &Cache{
		kv:     kv,
		config: config,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.metrics = NewMetrics(logger)
	return c, nil
}

// Lookup returns a cached entry for the content, or nil on a miss.
//
// Exact fingerprint lookup runs first; when an approximate index is
// attached and healthy, a near-duplicate lookup follows. Expired
// entries are evicted and treated as misses.
func (c *Cache) Lookup(ctx context.Context, tenant, content string) (*Entry, error) {
	fp := Fingerprint(content)

	entry, err := c.loadEntry(ctx, tenant, fp)
	if err != nil {
		return nil, err
	}
	if entry != nil {
		return c.hit(ctx, tenant, entry), nil
	}

	if c.approx != nil && !c.approxDown.Load() {
		nearFp, err := c.approx.Query(ctx, tenant, content)
		if err != nil {
			c.degradeLog.Do(func() {
				c.logger.Warn("approximate cache backend unavailable, degrading to exact-only lookup",
					zap.Error(err))
			})
			c.approxDown.Store(true)
		} else if nearFp != "" && nearFp != fp {
			entry, err := c.loadEntry(ctx, tenant, nearFp)
			if err != nil {
				return nil, err
			}
			if entry != nil {
				return c.hit(ctx, tenant, entry), nil
			}
		}
	}

	c.misses.Add(1)
	c.metrics.RecordLookup(ctx, false)
	return nil, nil
}

// loadEntry reads one entry, lazily evicting it when expired.
func (c *Cache) loadEntry(ctx context.Context, tenant, fingerprint string) (*Entry, error) {
	key := keyval.CacheKey(tenant, fingerprint)

	data, err := c.kv.Get(ctx, key)
	if errors.Is(err, keyval.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("cache: reading entry %s: %w", fingerprint, err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("cache: decoding entry %s: %w", fingerprint, err)
	}

	if time.Since(entry.CreatedAt) > c.config.TTL {
		c.evictions.Add(1)
		c.metrics.RecordEviction(ctx)
		if err := c.kv.Delete(ctx, key); err != nil {
			c.logger.Warn("cache: evicting expired entry failed", zap.Error(err))
		}
		if c.approx != nil && !c.approxDown.Load() {
			if err := c.approx.Remove(ctx, tenant, fingerprint); err != nil {
				c.logger.Debug("cache: removing expired entry from index failed", zap.Error(err))
			}
		}
		return nil, nil
	}

	return &entry, nil
}

// hit records a hit and bumps the entry's access count (best effort).
func (c *Cache) hit(ctx context.Context, tenant string, entry *Entry) *Entry {
	c.hits.Add(1)
	c.metrics.RecordLookup(ctx, true)

	entry.AccessCount++
	if data, err := json.Marshal(entry); err == nil {
		if err := c.kv.Put(ctx, keyval.CacheKey(tenant, entry.Fingerprint), data); err != nil {
			c.logger.Debug("cache: access count update failed", zap.Error(err))
		}
	}
	return entry
}

// Store caches a computed vector under the content's fingerprint.
func (c *Cache) Store(ctx context.Context, tenant, content string, vector []float32, providerName, model string) error {
	if len(vector) == 0 {
		return fmt.Errorf("cache: vector cannot be empty")
	}

	fp := Fingerprint(content)
	entry := Entry{
		Fingerprint: fp,
		Vector:      vector,
		Content:     content,
		Provider:    providerName,
		Model:       model,
		CreatedAt:   time.Now().UTC(),
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("cache: marshaling entry: %w", err)
	}
	if err := c.kv.Put(ctx, keyval.CacheKey(tenant, fp), data); err != nil {
		return fmt.Errorf("cache: writing entry: %w", err)
	}

	if c.approx != nil && !c.approxDown.Load() {
		if err := c.approx.Add(ctx, tenant, fp, content); err != nil {
			c.degradeLog.Do(func() {
				c.logger.Warn("approximate cache backend unavailable, degrading to exact-only lookup",
					zap.Error(err))
			})
			c.approxDown.Store(true)
		}
	}

	return nil
}

// Stats returns a snapshot of hit/miss/eviction counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
