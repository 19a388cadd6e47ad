package tenant

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

func TestListTenantsUnion(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()

	// Keys from a tenant no longer in the static config.
	require.NoError(t, kv.Put(ctx, keyval.VectorKey("legacy", "doc-1"), []byte("x")))
	require.NoError(t, kv.Put(ctx, keyval.CacheKey("t2", "fp"), []byte("x")))

	r, err := NewRegistry([]string{"t1", "t2"}, kv, zap.NewNop())
	require.NoError(t, err)

	tenants, err := r.ListTenants(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"legacy", "t1", "t2"}, tenants)
}

func TestListTenantsStaticOnly(t *testing.T) {
	r, err := NewRegistry([]string{"b", "a"}, keyval.NewMemoryStore(), zap.NewNop())
	require.NoError(t, err)

	tenants, err := r.ListTenants(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, tenants)
}
