// Package provider provides embedding generation via an ordered chain
// of providers with fallback.
package provider

import (
	"context"
	"errors"
)

var (
	// ErrEmptyContent indicates empty or whitespace-only content.
	// Permanent: never retried.
	ErrEmptyContent = errors.New("empty content")

	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates a transient provider failure (timeout,
	// rate limit, 5xx). The chain advances to the next provider.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrAllProvidersFailed indicates every provider in the chain
	// failed. The dispatcher's retry path applies.
	ErrAllProvidersFailed = errors.New("all providers failed")
)

// IsPermanent reports whether an error should fail fast instead of
// entering the retry path.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrEmptyContent) || errors.Is(err, ErrInvalidConfig)
}

// Embedder generates a vector embedding for a piece of content.
type Embedder interface {
	// Embed returns the embedding for content. Implementations apply
	// their own call timeout.
	Embed(ctx context.Context, content string) ([]float32, error)

	// Name identifies the provider for record attribution.
	Name() string

	// Model returns the model name used by the provider.
	Model() string

	// Dimension returns the embedding dimension.
	Dimension() int
}
