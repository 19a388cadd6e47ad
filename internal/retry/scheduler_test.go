package retry

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vectord/internal/dispatch"
	"github.com/fyrsmithlabs/vectord/internal/keyval"
)

func newScheduler(t *testing.T, kv keyval.Store, process ProcessFunc) *Scheduler {
	t.Helper()
	if process == nil {
		process = func(ctx context.Context, task *dispatch.Task) error { return nil }
	}
	s, err := NewScheduler(kv, process, Config{}, zap.NewNop())
	require.NoError(t, err)
	return s
}

func newTask(id string) *dispatch.Task {
	return &dispatch.Task{
		ID:        "task-" + id,
		Tenant:    "t1",
		ContentID: id,
		Content:   "content of " + id,
		Status:    dispatch.StatusRetrying,
		LastError: "provider unavailable",
	}
}

func TestDelayBackoff(t *testing.T) {
	s := newScheduler(t, keyval.NewMemoryStore(), nil)

	assert.Equal(t, 60*time.Second, s.Delay(0))
	assert.Equal(t, 120*time.Second, s.Delay(1))
	assert.Equal(t, 240*time.Second, s.Delay(2))
	// Capped at the maximum.
	assert.Equal(t, 300*time.Second, s.Delay(3))
	assert.Equal(t, 300*time.Second, s.Delay(10))
}

func TestScheduleWritesEnvelope(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()
	s := newScheduler(t, kv, nil)

	task := newTask("doc-1")
	require.NoError(t, s.Schedule(ctx, task))
	assert.Equal(t, 1, task.RetryCount)

	keys, err := kv.Keys(ctx, keyval.RetryPrefix("t1"))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	data, err := kv.Get(ctx, keys[0])
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "doc-1", env.Task.ContentID)
	assert.Equal(t, 1, env.Task.RetryCount)

	// Scheduled roughly one base delay out.
	until := time.Until(env.ScheduledAt)
	assert.Greater(t, until, 50*time.Second)
	assert.LessOrEqual(t, until, 60*time.Second)
}

func TestScheduleExhaustionDeadLetters(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()
	s := newScheduler(t, kv, nil)

	task := newTask("doc-1")
	task.RetryCount = 3

	require.NoError(t, s.Schedule(ctx, task))
	assert.Equal(t, dispatch.StatusFailed, task.Status)

	// No envelope, one dead letter.
	retries, err := kv.Keys(ctx, keyval.RetryPrefix("t1"))
	require.NoError(t, err)
	assert.Empty(t, retries)

	letters, err := s.DeadLetters(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "doc-1", letters[0].Task.ContentID)
	assert.Equal(t, "provider unavailable", letters[0].FinalError)
	assert.Equal(t, 4, letters[0].Task.RetryCount)
}

func putDueEnvelope(t *testing.T, kv keyval.Store, task *dispatch.Task, scheduledAt time.Time) {
	t.Helper()
	env := Envelope{Task: *task, ScheduledAt: scheduledAt}
	data, err := json.Marshal(env)
	require.NoError(t, err)
	key := keyval.RetryKey(task.Tenant, scheduledAt.Unix(), task.ContentID)
	require.NoError(t, kv.Put(context.Background(), key, data))
}

func TestSweepRunsDueEnvelopes(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()

	var processed []string
	s := newScheduler(t, kv, func(ctx context.Context, task *dispatch.Task) error {
		processed = append(processed, task.ContentID)
		return nil
	})

	due := newTask("due-doc")
	due.RetryCount = 1
	putDueEnvelope(t, kv, due, time.Now().UTC().Add(-time.Minute))

	future := newTask("future-doc")
	putDueEnvelope(t, kv, future, time.Now().UTC().Add(time.Hour))

	require.NoError(t, s.Sweep(ctx))

	assert.Equal(t, []string{"due-doc"}, processed)

	// The due envelope was consumed; the future one remains.
	keys, err := kv.Keys(ctx, keyval.RetryPrefix("t1"))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	_, id, err := keyval.ParseRetryKey(keys[0])
	require.NoError(t, err)
	assert.Equal(t, "future-doc", id)
}

func TestSweepReschedulesStillFailingTask(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()

	s := newScheduler(t, kv, func(ctx context.Context, task *dispatch.Task) error {
		return errors.New("still down")
	})

	task := newTask("doc-1")
	task.RetryCount = 1
	putDueEnvelope(t, kv, task, time.Now().UTC().Add(-time.Second))

	require.NoError(t, s.Sweep(ctx))

	keys, err := kv.Keys(ctx, keyval.RetryPrefix("t1"))
	require.NoError(t, err)
	require.Len(t, keys, 1)

	data, err := kv.Get(ctx, keys[0])
	require.NoError(t, err)
	var env Envelope
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, 2, env.Task.RetryCount)
	assert.True(t, env.ScheduledAt.After(time.Now()))
}

func TestSweepDeadLettersAfterMaxRetries(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()

	attempts := 0
	s := newScheduler(t, kv, func(ctx context.Context, task *dispatch.Task) error {
		attempts++
		return errors.New("permanently down")
	})

	task := newTask("doc-1")
	putDueEnvelope(t, kv, task, time.Now().UTC().Add(-time.Second))

	// Drive each envelope due and sweep until exhaustion.
	for i := 0; i < 5; i++ {
		keys, err := kv.Keys(ctx, keyval.RetryPrefix("t1"))
		require.NoError(t, err)
		if len(keys) == 0 {
			break
		}
		data, err := kv.Get(ctx, keys[0])
		require.NoError(t, err)
		var env Envelope
		require.NoError(t, json.Unmarshal(data, &env))
		require.NoError(t, kv.Delete(ctx, keys[0]))
		putDueEnvelope(t, kv, &env.Task, time.Now().UTC().Add(-time.Second))

		require.NoError(t, s.Sweep(ctx))
	}

	assert.Equal(t, 4, attempts)

	letters, err := s.DeadLetters(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, 4, letters[0].Task.RetryCount)
}

func TestPurgeExpired(t *testing.T) {
	ctx := context.Background()
	kv := keyval.NewMemoryStore()
	s := newScheduler(t, kv, nil)

	old := DeadLetter{
		Task:    *newTask("old-doc"),
		MovedAt: time.Now().UTC().Add(-8 * 24 * time.Hour),
	}
	fresh := DeadLetter{
		Task:    *newTask("fresh-doc"),
		MovedAt: time.Now().UTC().Add(-time.Hour),
	}
	for _, dl := range []DeadLetter{old, fresh} {
		data, err := json.Marshal(dl)
		require.NoError(t, err)
		require.NoError(t, kv.Put(ctx, keyval.DeadLetterKey("t1", dl.Task.ContentID), data))
	}

	purged, err := s.PurgeExpired(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	letters, err := s.DeadLetters(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, letters, 1)
	assert.Equal(t, "fresh-doc", letters[0].Task.ContentID)
}
