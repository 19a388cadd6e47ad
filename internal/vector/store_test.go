package vector

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

func newTestStore(t *testing.T) (*Store, *keyval.MemoryStore) {
	t.Helper()
	kv := keyval.NewMemoryStore()
	s, err := NewStore(kv, zap.NewNop())
	require.NoError(t, err)
	return s, kv
}

func testRecord(id string) Record {
	return Record{
		Metadata: Metadata{
			ID:       id,
			Tenant:   "t1",
			Provider: "remote",
			Model:    "embed-v1",
			Source:   SourceProvider,
		},
		Vector: []float32{0.1, 0.2, 0.3, 0.4},
	}
}

func putLegacy(t *testing.T, kv *keyval.MemoryStore, tenant, id string, vec []float64) {
	t.Helper()
	data, err := json.Marshal(map[string]interface{}{
		"id":         id,
		"vector":     vec,
		"provider":   "remote",
		"created_at": time.Now().UTC().Add(-time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, kv.Put(context.Background(), keyval.LegacyVectorKey(tenant, id), data))
}

func TestStorePutGet(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, testRecord("doc-1")))

	got, err := s.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "doc-1", got.ID)
	assert.Equal(t, 4, got.Dimensionality)
	assert.Equal(t, FormatBinary, got.StorageFormat)
	assert.Equal(t, "remote", got.Provider)
	assert.Equal(t, []float32{0.1, 0.2, 0.3, 0.4}, got.Vector)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestStorePutOverwrites(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, testRecord("doc-1")))

	rec := testRecord("doc-1")
	rec.Provider = "projection"
	rec.Vector = []float32{9, 9}
	require.NoError(t, s.Put(ctx, rec))

	got, err := s.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "projection", got.Provider)
	assert.Equal(t, 2, got.Dimensionality)
	assert.Equal(t, []float32{9, 9}, got.Vector)
}

func TestStorePutValidation(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	rec := testRecord("doc-1")
	rec.ID = ""
	assert.ErrorIs(t, s.Put(ctx, rec), ErrInvalidRecord)

	rec = testRecord("doc-1")
	rec.Vector = nil
	assert.ErrorIs(t, s.Put(ctx, rec), ErrEmptyVector)
}

func TestStoreGetMissing(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Get(context.Background(), "t1", "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreGetLegacyFallback(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	putLegacy(t, kv, "t1", "old-doc", []float64{0.5, 0.25})

	got, err := s.Get(ctx, "t1", "old-doc")
	require.NoError(t, err)
	assert.Equal(t, FormatJSON, got.StorageFormat)
	assert.Equal(t, []float32{0.5, 0.25}, got.Vector)
	assert.Equal(t, 2, got.Dimensionality)
}

func TestStoreBinaryTakesPrecedence(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	putLegacy(t, kv, "t1", "doc-1", []float64{1, 1})
	require.NoError(t, s.Put(ctx, testRecord("doc-1")))

	got, err := s.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, got.StorageFormat)
	assert.Len(t, got.Vector, 4)
}

func TestStoreExists(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	ok, err := s.Exists(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(ctx, testRecord("doc-1")))
	ok, err = s.Exists(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.True(t, ok)

	// A legacy-only record also counts.
	putLegacy(t, kv, "t1", "old-doc", []float64{1})
	ok, err = s.Exists(ctx, "t1", "old-doc")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestStoreDelete(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, testRecord("doc-1")))
	require.NoError(t, s.Delete(ctx, "t1", "doc-1"))

	_, err := s.Get(ctx, "t1", "doc-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStoreList(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, testRecord("a")))
	require.NoError(t, s.Put(ctx, testRecord("b")))

	other := testRecord("c")
	other.Tenant = "t2"
	require.NoError(t, s.Put(ctx, other))

	metas, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, metas, 2)
}

func TestStoreListFallback(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t)

	require.NoError(t, s.Put(ctx, testRecord("primary-doc")))

	fb := testRecord("fallback-doc")
	fb.Provider = "projection"
	require.NoError(t, s.Put(ctx, fb))

	metas, err := s.ListFallback(ctx, "t1", "remote")
	require.NoError(t, err)
	require.Len(t, metas, 1)
	assert.Equal(t, "fallback-doc", metas[0].ID)
}

func TestMigrateLegacy(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	putLegacy(t, kv, "t1", "old-doc", []float64{0.5, 0.25, 0.125})

	ok, err := s.MigrateLegacy(ctx, "t1", "old-doc")
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := s.Get(ctx, "t1", "old-doc")
	require.NoError(t, err)
	assert.Equal(t, FormatBinary, got.StorageFormat)
	assert.Equal(t, []float32{0.5, 0.25, 0.125}, got.Vector)

	// The legacy representation is gone.
	_, err = kv.Get(ctx, keyval.LegacyVectorKey("t1", "old-doc"))
	assert.ErrorIs(t, err, keyval.ErrKeyNotFound)

	// Migrating again is a no-op.
	ok, err = s.MigrateLegacy(ctx, "t1", "old-doc")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMigrateTenant(t *testing.T) {
	ctx := context.Background()
	s, kv := newTestStore(t)

	putLegacy(t, kv, "t1", "a", []float64{1})
	putLegacy(t, kv, "t1", "b", []float64{2})
	require.NoError(t, s.Put(ctx, testRecord("already-binary")))

	n, err := s.MigrateTenant(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	metas, err := s.List(ctx, "t1")
	require.NoError(t, err)
	assert.Len(t, metas, 3)
}
