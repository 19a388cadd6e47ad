package recovery

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
	"github.com/fyrsmithlabs/vectord/internal/provider"
	"github.com/fyrsmithlabs/vectord/internal/vector"
)

// flakyEmbedder is a primary provider whose availability is scripted.
type flakyEmbedder struct {
	name  string
	dim   int
	down  bool
	calls int
}

func (f *flakyEmbedder) Embed(ctx context.Context, content string) ([]float32, error) {
	f.calls++
	if f.down {
		return nil, fmt.Errorf("%s down: %w", f.name, provider.ErrUnavailable)
	}
	vec := make([]float32, f.dim)
	vec[0] = 1
	return vec, nil
}

func (f *flakyEmbedder) Name() string   { return f.name }
func (f *flakyEmbedder) Model() string  { return f.name + "-model" }
func (f *flakyEmbedder) Dimension() int { return f.dim }

type staticTenants []string

func (s staticTenants) ListTenants(ctx context.Context) ([]string, error) {
	return s, nil
}

type sweeperFixture struct {
	sweeper *Sweeper
	queue   *Queue
	store   *vector.Store
	primary *flakyEmbedder
}

// resolverFunc adapts a function to the ContentSource interface.
type resolverFunc func(ctx context.Context, tenant, contentID string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, tenant, contentID string) (string, error) {
	return f(ctx, tenant, contentID)
}

func newSweeperFixture(t *testing.T, cfg Config, opts ...SweeperOption) *sweeperFixture {
	t.Helper()
	kv := keyval.NewMemoryStore()

	store, err := vector.NewStore(kv, zap.NewNop())
	require.NoError(t, err)

	primary := &flakyEmbedder{name: "remote", dim: 4}
	projection, err := provider.NewProjectionProvider(provider.ProjectionConfig{Dimension: 4})
	require.NoError(t, err)
	chain, err := provider.NewChain([]provider.Embedder{primary, projection}, zap.NewNop())
	require.NoError(t, err)

	queue, err := NewQueue(kv, zap.NewNop())
	require.NoError(t, err)

	sweeper, err := NewSweeper(store, chain, queue, staticTenants{"t1"}, cfg, zap.NewNop(), opts...)
	require.NoError(t, err)

	return &sweeperFixture{sweeper: sweeper, queue: queue, store: store, primary: primary}
}

// putFallbackRecord stores a record attributed to the projection
// fallback, the state the dispatcher leaves behind during an outage.
func putFallbackRecord(t *testing.T, store *vector.Store, id string) {
	t.Helper()
	require.NoError(t, store.Put(context.Background(), vector.Record{
		Metadata: vector.Metadata{
			ID:       id,
			Tenant:   "t1",
			Provider: provider.ProjectionName,
			Model:    "token-hash-v1",
			Source:   vector.SourceProvider,
		},
		Vector: []float32{0, 0, 1, 0},
	}))
}

func TestSweepUpgradesQueuedItem(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{})

	putFallbackRecord(t, f.store, "doc-1")
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "original content"))

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 1, stats.Recovered)
	assert.Zero(t, stats.Failed)

	rec, err := f.store.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "remote", rec.Provider)
	assert.Equal(t, "remote-model", rec.Model)

	pending, err := f.queue.List(ctx, "t1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSweepSkipsWhilePrimaryDown(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{})
	f.primary.down = true

	putFallbackRecord(t, f.store, "doc-1")
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "content"))

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Recovered)
	assert.Equal(t, 1, stats.Failed)

	// Record still carries the fallback attribution; item stays queued
	// with the failure recorded.
	rec, err := f.store.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, provider.ProjectionName, rec.Provider)

	pending, err := f.queue.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
	assert.NotEmpty(t, pending[0].LastError)
}

func TestSweepConvergesOnceHealthy(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{})
	f.primary.down = true

	putFallbackRecord(t, f.store, "doc-1")
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "content"))

	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)

	f.primary.down = false
	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)

	rec, err := f.store.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "remote", rec.Provider)
}

func TestSweepFindsUnqueuedFallbackRecords(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{})

	// Fallback record whose enqueue was lost: no captured content and no
	// source means it cannot be upgraded, but it must still be surfaced
	// and its failure recorded durably.
	putFallbackRecord(t, f.store, "orphan-doc")

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 1, stats.Failed)

	pending, err := f.queue.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].Attempts)
}

func TestSweepResolvesScanItemsThroughSource(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{},
		WithContentSource(resolverFunc(func(ctx context.Context, tenant, contentID string) (string, error) {
			return "content for " + contentID, nil
		})))

	putFallbackRecord(t, f.store, "orphan-doc")

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)
	assert.Zero(t, stats.Failed)

	rec, err := f.store.Get(ctx, "t1", "orphan-doc")
	require.NoError(t, err)
	assert.Equal(t, "remote", rec.Provider)
}

func TestSweepUnresolvableScanItemsAreBounded(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{MaxAttempts: 1})

	putFallbackRecord(t, f.store, "orphan-doc")

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Found)
	assert.Equal(t, 1, stats.Failed)

	// Once exhausted the record scan must not resurrect the item; later
	// sweeps leave it alone instead of failing it over and over.
	for i := 0; i < 4; i++ {
		stats, err = f.sweeper.Sweep(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.Found)
		assert.Zero(t, stats.Failed)
		assert.Zero(t, stats.Recovered)
	}

	rec, err := f.store.Get(ctx, "t1", "orphan-doc")
	require.NoError(t, err)
	assert.Equal(t, provider.ProjectionName, rec.Provider)
}

func TestSweepSkipsExhaustedItems(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{MaxAttempts: 2})
	f.primary.down = true

	putFallbackRecord(t, f.store, "doc-1")
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "content"))

	for i := 0; i < 2; i++ {
		_, err := f.sweeper.Sweep(ctx)
		require.NoError(t, err)
	}

	pending, err := f.queue.List(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].Exhausted)
	assert.Equal(t, 2, pending[0].Attempts)

	// Even with the primary healthy again the item is not retried.
	f.primary.down = false
	callsBefore := f.primary.calls
	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.Found)
	assert.Equal(t, callsBefore, f.primary.calls)

	// The fallback vector stays usable.
	rec, err := f.store.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, provider.ProjectionName, rec.Provider)
}

func TestEnqueueClearsExhaustion(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{MaxAttempts: 1})
	f.primary.down = true

	putFallbackRecord(t, f.store, "doc-1")
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "content"))

	_, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)

	// A fresh fallback write re-enqueues the id, resetting its budget.
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "content"))

	f.primary.down = false
	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)

	rec, err := f.store.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "remote", rec.Provider)
}

func TestSweepRespectsBatchSize(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{BatchSize: 2})

	for _, id := range []string{"a", "b", "c", "d"} {
		putFallbackRecord(t, f.store, id)
		require.NoError(t, f.queue.Enqueue(ctx, "t1", id, "content "+id))
	}

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Found)
	assert.Equal(t, 2, stats.Recovered)

	pending, err := f.queue.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, pending, 2)
}

func TestSweepSkipsAlreadyUpgraded(t *testing.T) {
	ctx := context.Background()
	f := newSweeperFixture(t, Config{})

	// Queue entry is stale: the record already carries the primary.
	require.NoError(t, f.store.Put(ctx, vector.Record{
		Metadata: vector.Metadata{ID: "doc-1", Tenant: "t1", Provider: "remote"},
		Vector:   []float32{1, 0, 0, 0},
	}))
	require.NoError(t, f.queue.Enqueue(ctx, "t1", "doc-1", "content"))

	stats, err := f.sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Recovered)
	assert.Zero(t, f.primary.calls)
}
