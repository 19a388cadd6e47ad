package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

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

func publishEvent(t *testing.T, js nats.JetStreamContext, ev Event) {
	t.Helper()
	data, err := json.Marshal(ev)
	require.NoError(t, err)
	_, err = js.Publish(EventSubject(ev.Tenant), data)
	require.NoError(t, err)
}

func waitForRecord(t *testing.T, f *fixture, tenant, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		ok, err := f.store.Exists(context.Background(), tenant, id)
		return err == nil && ok
	}, 5*time.Second, 20*time.Millisecond, "record %s/%s never appeared", tenant, id)
}

func TestConsumerProcessesEvents(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	ctx := context.Background()
	js := startJetStream(t)
	f := newFixture(t)

	consumer, err := NewConsumer(js, f.dispatcher, ConsumerConfig{
		Tenants: []string{"t1"},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	publishEvent(t, js, Event{
		Type:      EventContentCreated,
		Tenant:    "t1",
		ContentID: "doc-1",
		Content:   "streamed content",
	})

	waitForRecord(t, f, "t1", "doc-1")

	rec, err := f.store.Get(ctx, "t1", "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "remote", rec.Provider)
}

func TestConsumerTerminatesUndecodableEvent(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	ctx := context.Background()
	js := startJetStream(t)
	f := newFixture(t)

	consumer, err := NewConsumer(js, f.dispatcher, ConsumerConfig{
		Tenants: []string{"t1"},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	_, err = js.Publish(EventSubject("t1"), []byte("not json"))
	require.NoError(t, err)

	// A valid event after the poison message still gets through.
	publishEvent(t, js, Event{
		Type:      EventContentCreated,
		Tenant:    "t1",
		ContentID: "doc-2",
		Content:   "good content",
	})

	waitForRecord(t, f, "t1", "doc-2")
}

func TestConsumerMultipleTenants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	ctx := context.Background()
	js := startJetStream(t)
	f := newFixture(t)

	consumer, err := NewConsumer(js, f.dispatcher, ConsumerConfig{
		Tenants: []string{"t1", "t2"},
	}, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, consumer.Start(ctx))
	defer consumer.Stop()

	publishEvent(t, js, Event{Type: EventContentCreated, Tenant: "t1", ContentID: "a", Content: "aa"})
	publishEvent(t, js, Event{Type: EventContentCreated, Tenant: "t2", ContentID: "b", Content: "bb"})

	waitForRecord(t, f, "t1", "a")
	waitForRecord(t, f, "t2", "b")
}

func TestConsumerRequiresTenants(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping embedded server test in short mode")
	}

	f := newFixture(t)
	js := startJetStream(t)

	_, err := NewConsumer(js, f.dispatcher, ConsumerConfig{}, zap.NewNop())
	assert.Error(t, err)
}
