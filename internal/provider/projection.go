package provider

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
)

// ProjectionName is the provider name recorded for projection vectors.
// Records carrying it are the recovery sweeper's upgrade targets.
const ProjectionName = "projection"

// ProjectionConfig holds configuration for the projection provider.
type ProjectionConfig struct {
	// Dimension is the output vector size. Must match the primary
	// provider so records stay interchangeable in storage.
	// Default: 1536
	Dimension int
}

// ApplyDefaults sets default values for unset fields.
func (c *ProjectionConfig) ApplyDefaults() {
	if c.Dimension == 0 {
		c.Dimension = 1536
	}
}

// ProjectionProvider is a deterministic local fallback: it hashes
// content tokens into dimension buckets and L2-normalizes the result.
//
// This is a feature projection, not a learned embedding. Its vectors
// are lower fidelity and not comparable to primary-provider vectors;
// records produced by it are tagged for recovery and upgraded once the
// primary provider is healthy again.
type ProjectionProvider struct {
	dim int
}

// NewProjectionProvider creates a projection provider.
func NewProjectionProvider(config ProjectionConfig) (*ProjectionProvider, error) {
	config.ApplyDefaults()
	if config.Dimension < 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}
	return &ProjectionProvider{dim: config.Dimension}, nil
}

// Name identifies the provider.
func (p *ProjectionProvider) Name() string { return ProjectionName }

// Model returns the pseudo-model identifier.
func (p *ProjectionProvider) Model() string { return "token-hash-v1" }

// Dimension returns the output vector size.
func (p *ProjectionProvider) Dimension() int { return p.dim }

// Embed projects content into a normalized bag-of-tokens vector.
// The projection is deterministic: identical content always yields an
// identical vector.
func (p *ProjectionProvider) Embed(ctx context.Context, content string) ([]float32, error) {
	tokens := strings.Fields(strings.ToLower(content))
	if len(tokens) == 0 {
		return nil, fmt.Errorf("%w: no tokens in content", ErrEmptyContent)
	}

	vec := make([]float32, p.dim)
	for _, tok := range tokens {
		h := fnv.New64a()
		h.Write([]byte(tok))
		sum := h.Sum64()

		bucket := int(sum % uint64(p.dim))
		// Second hash bit decides the sign so collisions partially cancel.
		if (sum>>63)&1 == 1 {
			vec[bucket] -= 1
		} else {
			vec[bucket] += 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}

	return vec, nil
}
