package history

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/workflow"
)

type failingStore struct {
	Store
	err error
}

func (f failingStore) Save(ctx context.Context, rec *RunRecord) error { return f.err }

func (f failingStore) Get(ctx context.Context, runID string) (*RunRecord, error) {
	return nil, f.err
}

func (f failingStore) Purge(ctx context.Context, olderThan time.Time) (int64, error) {
	return 0, f.err
}

func TestMulti_SaveWritesEveryStore(t *testing.T) {
	ctx := context.Background()
	front, back := NewMemoryStore(0), NewMemoryStore(0)
	m := NewMulti(front, back)

	require.NoError(t, m.Save(ctx, sampleRun("run", "wf", workflow.RunStatusCompleted, baseTime)))
	assert.Equal(t, 1, front.Len())
	assert.Equal(t, 1, back.Len())
}

func TestMulti_GetFallsBack(t *testing.T) {
	ctx := context.Background()
	front, back := NewMemoryStore(0), NewMemoryStore(0)
	require.NoError(t, back.Save(ctx, sampleRun("only-back", "wf", workflow.RunStatusCompleted, baseTime)))

	m := NewMulti(front, back)
	got, err := m.Get(ctx, "only-back")
	require.NoError(t, err)
	assert.Equal(t, "only-back", got.RunID)

	_, err = m.Get(ctx, "nowhere")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMulti_GetStopsOnBackendError(t *testing.T) {
	boom := errors.New("backend down")
	m := NewMulti(failingStore{Store: NewMemoryStore(0), err: boom}, NewMemoryStore(0))

	_, err := m.Get(context.Background(), "run")
	assert.ErrorIs(t, err, boom)
}

func TestMulti_SavePropagatesError(t *testing.T) {
	boom := errors.New("write failed")
	m := NewMulti(NewMemoryStore(0), failingStore{Store: NewMemoryStore(0), err: boom})

	err := m.Save(context.Background(), sampleRun("run", "wf", workflow.RunStatusCompleted, baseTime))
	assert.ErrorIs(t, err, boom)
}

func TestMulti_ListUsesLastStore(t *testing.T) {
	ctx := context.Background()
	front, back := NewMemoryStore(1), NewMemoryStore(0)
	m := NewMulti(front, back)
	require.NoError(t, m.Save(ctx, sampleRun("a", "wf", workflow.RunStatusCompleted, baseTime)))
	require.NoError(t, m.Save(ctx, sampleRun("b", "wf", workflow.RunStatusCompleted, baseTime.Add(time.Second))))

	recs, err := m.List(ctx, "wf", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, runIDs(recs))
}

func TestMulti_PurgeReportsLargestCount(t *testing.T) {
	ctx := context.Background()
	front, back := NewMemoryStore(1), NewMemoryStore(0)
	m := NewMulti(front, back)
	require.NoError(t, m.Save(ctx, sampleRun("a", "wf", workflow.RunStatusCompleted, baseTime)))
	require.NoError(t, m.Save(ctx, sampleRun("b", "wf", workflow.RunStatusCompleted, baseTime.Add(time.Second))))

	n, err := m.Purge(ctx, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Zero(t, front.Len())
	assert.Zero(t, back.Len())
}

func TestRecorder_RecordRun(t *testing.T) {
	store := NewMemoryStore(0)
	rec := NewRecorder(store, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := workflow.RunReport{
		RunID:      "run-1",
		WorkflowID: "wf",
		Status:     workflow.RunStatusCancelled,
		Trigger:    workflow.TriggerContext{Type: "manual"},
		StartedAt:  baseTime,
		EndedAt:    baseTime.Add(time.Second),
	}
	require.NoError(t, rec.RecordRun(ctx, report))

	got, err := store.Get(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.RunStatusCancelled, got.Status)
}

func TestRecorder_PropagatesStoreError(t *testing.T) {
	boom := errors.New("disk full")
	rec := NewRecorder(failingStore{Store: NewMemoryStore(0), err: boom}, nil)

	err := rec.RecordRun(context.Background(), workflow.RunReport{RunID: "r", Status: workflow.RunStatusRunning})
	assert.ErrorIs(t, err, boom)
}

func TestJanitor_PurgeOnce(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)
	require.NoError(t, store.Save(ctx, sampleRun("old", "wf", workflow.RunStatusCompleted, baseTime)))
	require.NoError(t, store.Save(ctx, sampleRun("recent", "wf", workflow.RunStatusCompleted, baseTime.Add(47*time.Hour))))

	j := NewJanitor(store, 24*time.Hour, 0, zap.NewNop())
	j.now = func() time.Time { return baseTime.Add(48 * time.Hour) }

	n, err := j.PurgeOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, time.Hour*24/10, j.interval)
}

func TestJanitor_RunDisabledWithoutRetention(t *testing.T) {
	j := NewJanitor(NewMemoryStore(0), 0, time.Millisecond, nil)

	done := make(chan struct{})
	go func() {
		j.Run(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor with zero retention should return immediately")
	}
}

func TestJanitor_RunStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store := NewMemoryStore(0)
	require.NoError(t, store.Save(ctx, sampleRun("old", "wf", workflow.RunStatusCompleted, baseTime)))

	j := NewJanitor(store, time.Hour, 5*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return store.Len() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
