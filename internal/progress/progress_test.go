package progress

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifearch/internal/events"
)

func newTracker(t *testing.T, bus events.Bus) (*Tracker, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, bus, nil), mr
}

func TestStartUpdateComplete(t *testing.T) {
	tr, _ := newTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "sess-1", "file-1", "uploading"))

	state, err := tr.Get(ctx, "file-1")
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, events.StageUpload, state.Stage)
	assert.Equal(t, 0, state.Percent)

	require.NoError(t, tr.Update(ctx, "sess-1", "file-1", events.StageIndex, 70, "indexing"))
	state, err = tr.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, events.StageIndex, state.Stage)
	assert.Equal(t, 70, state.Percent)
	assert.Equal(t, "indexing", state.Message)

	require.NoError(t, tr.Complete(ctx, "sess-1", "file-1", "done", nil))
	state, err = tr.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, events.StageComplete, state.Stage)
	assert.Equal(t, 100, state.Percent)
}

func TestErrorStage(t *testing.T) {
	tr, _ := newTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "sess-1", "file-1", "uploading"))
	require.NoError(t, tr.Error(ctx, "sess-1", "file-1", events.StageExtract, "extraction blew up"))

	state, err := tr.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Equal(t, events.StageError, state.Stage)
	assert.Equal(t, "extraction blew up", state.Message)
}

func TestGetUnknownFileReturnsNil(t *testing.T) {
	tr, _ := newTracker(t, nil)
	state, err := tr.Get(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestCleanupRemovesState(t *testing.T) {
	tr, _ := newTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "sess-1", "file-1", "uploading"))
	require.NoError(t, tr.Cleanup(ctx, "file-1"))

	state, err := tr.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestProgressExpires(t *testing.T) {
	tr, mr := newTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tr.Start(ctx, "sess-1", "file-1", "uploading"))
	mr.FastForward(25 * time.Hour)

	state, err := tr.Get(ctx, "file-1")
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestUpdateBroadcastsWithSession(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	got := make(chan *events.ProgressPayload, 4)
	bus.Subscribe(events.Progress, func(e events.Event) {
		if p, ok := e.Payload.(*events.ProgressPayload); ok {
			got <- p
		}
	})

	tr, _ := newTracker(t, bus)
	require.NoError(t, tr.Update(context.Background(), "sess-42", "file-1", events.StageExtract, 40, "extracting"))

	select {
	case p := <-got:
		assert.Equal(t, "sess-42", p.SessionID)
		assert.Equal(t, "file-1", p.FileID)
		assert.Equal(t, events.StageExtract, p.Stage)
		assert.Equal(t, 40, p.Percent)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event delivered")
	}
}

func TestCompleteBroadcastsMetadata(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	got := make(chan *events.ProgressPayload, 4)
	bus.Subscribe(events.Progress, func(e events.Event) {
		if p, ok := e.Payload.(*events.ProgressPayload); ok {
			got <- p
		}
	})

	tr, _ := newTracker(t, bus)
	meta := map[string]any{"document_id": "file-1", "chunks": 3, "mime_type": "text/plain"}
	require.NoError(t, tr.Complete(context.Background(), "sess-9", "file-1", "done", meta))

	select {
	case p := <-got:
		assert.Equal(t, events.StageComplete, p.Stage)
		assert.Equal(t, 100, p.Percent)
		assert.Equal(t, meta, p.Metadata)
	case <-time.After(2 * time.Second):
		t.Fatal("no progress event delivered")
	}
}

func TestPercentClamped(t *testing.T) {
	tr, _ := newTracker(t, nil)
	ctx := context.Background()

	require.NoError(t, tr.Update(ctx, "s", "f", events.StageIndex, 150, ""))
	state, err := tr.Get(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 100, state.Percent)

	require.NoError(t, tr.Update(ctx, "s", "f", events.StageIndex, -5, ""))
	state, err = tr.Get(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 0, state.Percent)
}
