// Package keyval defines the logical key layout shared by the pipeline
// components and a small key-value interface with NATS JetStream and
// in-memory implementations.
package keyval

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned when a key does not exist.
var ErrKeyNotFound = errors.New("key not found")

// Store is the interface for single-key storage operations.
//
// The pipeline deliberately restricts itself to atomic single-key
// operations: there are no multi-key transactions, and cross-record
// invariants are enforced by idempotent overwrite semantics at the
// callers, not by locking here.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put writes the value for key, overwriting any existing value.
	Put(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Keys returns all keys with the given prefix, lexically sorted.
	// An empty prefix lists every key.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// Close releases resources held by the store.
	Close() error
}
