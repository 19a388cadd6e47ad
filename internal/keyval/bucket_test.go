package keyval

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// startJetStream runs an embedded NATS server with JetStream for the
// duration of the test.
func startJetStream(t *testing.T) nats.JetStreamContext {
	t.Helper()

	ns, err := natsserver.NewServer(&natsserver.Options{
		Port:      -1,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	require.NoError(t, err)

	go ns.Start()
	require.True(t, ns.ReadyForConnections(10*time.Second), "embedded server not ready")
	t.Cleanup(func() {
		ns.Shutdown()
		ns.WaitForShutdown()
	})

	nc, err := nats.Connect(ns.ClientURL())
	require.NoError(t, err)
	t.Cleanup(nc.Close)

	js, err := nc.JetStream()
	require.NoError(t, err)
	return js
}

func TestBucketRoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	ctx := context.Background()
	js := startJetStream(t)

	b, err := NewBucket(js, BucketConfig{Bucket: "test"}, zap.NewNop())
	require.NoError(t, err)

	_, err = b.Get(ctx, "t1:vectors:missing")
	assert.ErrorIs(t, err, ErrKeyNotFound)

	require.NoError(t, b.Put(ctx, VectorKey("t1", "doc-1"), []byte("payload")))

	got, err := b.Get(ctx, VectorKey("t1", "doc-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), got)

	require.NoError(t, b.Delete(ctx, VectorKey("t1", "doc-1")))
	_, err = b.Get(ctx, VectorKey("t1", "doc-1"))
	assert.ErrorIs(t, err, ErrKeyNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, b.Delete(ctx, VectorKey("t1", "doc-1")))
}

func TestBucketKeysPrefix(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	ctx := context.Background()
	js := startJetStream(t)

	b, err := NewBucket(js, BucketConfig{Bucket: "test"}, zap.NewNop())
	require.NoError(t, err)

	// Keys from an empty bucket list cleanly.
	keys, err := b.Keys(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, keys)

	for _, k := range []string{
		VectorMetaKey("t1", "a"),
		VectorMetaKey("t1", "b"),
		CacheKey("t1", "fp"),
		VectorMetaKey("t2", "c"),
	} {
		require.NoError(t, b.Put(ctx, k, []byte("v")))
	}

	// Logical keys round-trip through the separator remapping.
	keys, err = b.Keys(ctx, VectorMetaPrefix("t1"))
	require.NoError(t, err)
	assert.Equal(t, []string{
		VectorMetaKey("t1", "a"),
		VectorMetaKey("t1", "b"),
	}, keys)
}

func TestBucketReopensExisting(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	ctx := context.Background()
	js := startJetStream(t)

	b1, err := NewBucket(js, BucketConfig{Bucket: "test"}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, b1.Put(ctx, "t1:cache:fp", []byte("v")))

	// A second open sees the same bucket.
	b2, err := NewBucket(js, BucketConfig{Bucket: "test"}, zap.NewNop())
	require.NoError(t, err)

	got, err := b2.Get(ctx, "t1:cache:fp")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)
}
