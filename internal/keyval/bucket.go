package keyval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// BucketConfig holds configuration for a JetStream-backed store.
type BucketConfig struct {
	// Bucket is the JetStream key-value bucket name.
	// Default: "vectord"
	Bucket string

	// Description is stored on the bucket when it is created.
	Description string
}

// ApplyDefaults sets default values for unset fields.
func (c *BucketConfig) ApplyDefaults() {
	if c.Bucket == "" {
		c.Bucket = "vectord"
	}
	if c.Description == "" {
		c.Description = "vectord pipeline state"
	}
}

// Bucket implements Store on a NATS JetStream key-value bucket.
//
// JetStream KV keys cannot contain ':', so the logical separator is
// remapped to '.' on the wire. Logical key segments therefore must not
// contain '.' ambiguously; tenants and content ids are restricted to
// subject-safe characters by the callers.
type Bucket struct {
	kv     nats.KeyValue
	logger *zap.Logger
}

// NewBucket opens (or creates) the configured bucket.
func NewBucket(js nats.JetStreamContext, config BucketConfig, logger *zap.Logger) (*Bucket, error) {
	if js == nil {
		return nil, fmt.Errorf("keyval: JetStream context is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()

	kv, err := js.KeyValue(config.Bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      config.Bucket,
			Description: config.Description,
			History:     1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("keyval: opening bucket %q: %w", config.Bucket, err)
	}

	logger.Info("key-value bucket ready", zap.String("bucket", config.Bucket))

	return &Bucket{kv: kv, logger: logger}, nil
}

// encodeKey maps the logical ':' separator to the subject-safe '.'.
func encodeKey(key string) string {
	return strings.ReplaceAll(key, ":", ".")
}

// decodeKey reverses encodeKey.
func decodeKey(key string) string {
	return strings.ReplaceAll(key, ".", ":")
}

// Get returns the value for key, or ErrKeyNotFound.
func (b *Bucket) Get(ctx context.Context, key string) ([]byte, error) {
	entry, err := b.kv.Get(encodeKey(key))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("keyval: get %q: %w", key, err)
	}
	return entry.Value(), nil
}

// Put writes the value for key.
func (b *Bucket) Put(ctx context.Context, key string, value []byte) error {
	if _, err := b.kv.Put(encodeKey(key), value); err != nil {
		return fmt.Errorf("keyval: put %q: %w", key, err)
	}
	return nil
}

// Delete removes the key and its history.
func (b *Bucket) Delete(ctx context.Context, key string) error {
	err := b.kv.Purge(encodeKey(key))
	if err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
		return fmt.Errorf("keyval: delete %q: %w", key, err)
	}
	return nil
}

// Keys returns all keys with the given logical prefix, sorted.
func (b *Bucket) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := b.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("keyval: listing keys: %w", err)
	}

	encoded := encodeKey(prefix)
	keys := make([]string, 0, len(all))
	for _, k := range all {
		if strings.HasPrefix(k, encoded) {
			keys = append(keys, decodeKey(k))
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op; the underlying NATS connection is owned by the caller.
func (b *Bucket) Close() error {
	return nil
}
