package cache

import (
	"context"
	"fmt"
	"sync"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/provider"
)

// ApproxIndex is a near-duplicate index over cached content, backed by
// chromem-go.
//
// Contents are indexed under their fingerprint using the local
// projection embedder, so indexing and querying never spend provider
// budget. A query returns the fingerprint of the nearest indexed
// content when its cosine similarity meets the threshold.
type ApproxIndex struct {
	db        *chromem.DB
	projector provider.Embedder
	threshold float32
	logger    *zap.Logger

	// collections tracks per-tenant collections already created.
	collections sync.Map
}

// NewApproxIndex creates an in-memory near-duplicate index.
func NewApproxIndex(projector provider.Embedder, threshold float64, logger *zap.Logger) (*ApproxIndex, error) {
	if projector == nil {
		return nil, fmt.Errorf("cache: projector is required")
	}
	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("cache: similarity threshold must be in (0,1], got %v", threshold)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &ApproxIndex{
		db:        chromem.NewDB(),
		projector: projector,
		threshold: float32(threshold),
		logger:    logger,
	}, nil
}

func (a *ApproxIndex) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return a.projector.Embed(ctx, text)
	}
}

func (a *ApproxIndex) collection(tenant string) (*chromem.Collection, error) {
	col, err := a.db.GetOrCreateCollection("cache_"+tenant, nil, a.embeddingFunc())
	if err != nil {
		return nil, fmt.Errorf("cache: getting collection for %s: %w", tenant, err)
	}
	a.collections.Store(tenant, true)
	return col, nil
}

// Add indexes content under its fingerprint.
func (a *ApproxIndex) Add(ctx context.Context, tenant, fingerprint, content string) error {
	col, err := a.collection(tenant)
	if err != nil {
		return err
	}

	err = col.AddDocument(ctx, chromem.Document{
		ID:      fingerprint,
		Content: content,
	})
	if err != nil {
		return fmt.Errorf("cache: indexing %s: %w", fingerprint, err)
	}
	return nil
}

// Remove drops a fingerprint from the index.
func (a *ApproxIndex) Remove(ctx context.Context, tenant, fingerprint string) error {
	col, err := a.collection(tenant)
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, nil, nil, fingerprint); err != nil {
		return fmt.Errorf("cache: removing %s: %w", fingerprint, err)
	}
	return nil
}

// Query returns the fingerprint of the nearest indexed content at or
// above the similarity threshold, or "" on a miss.
func (a *ApproxIndex) Query(ctx context.Context, tenant, content string) (string, error) {
	col, err := a.collection(tenant)
	if err != nil {
		return "", err
	}
	if col.Count() == 0 {
		return "", nil
	}

	results, err := col.Query(ctx, content, 1, nil, nil)
	if err != nil {
		return "", fmt.Errorf("cache: near-duplicate query: %w", err)
	}
	if len(results) == 0 || results[0].Similarity < a.threshold {
		return "", nil
	}
	return results[0].ID, nil
}
