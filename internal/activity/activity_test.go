package activity

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifearch/internal/events"
)

func newLog(t *testing.T, bus events.Bus) *Log {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client, bus, nil)
}

func TestAddAndGetRecent(t *testing.T) {
	l := newLog(t, nil)
	ctx := context.Background()

	entry, err := l.Add(ctx, "file_ingested", map[string]any{"document_id": "doc-1"})
	require.NoError(t, err)
	assert.Contains(t, entry.ID, "_file_ingested")
	assert.NotEmpty(t, entry.Timestamp)

	_, err = l.Add(ctx, "query_answered", nil)
	require.NoError(t, err)

	entries, err := l.GetRecent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	// Most recent first.
	assert.Equal(t, "query_answered", entries[0].Type)
	assert.Equal(t, "file_ingested", entries[1].Type)
	assert.Equal(t, "doc-1", entries[1].Data["document_id"])
}

func TestRingBufferCap(t *testing.T) {
	l := newLog(t, nil)
	ctx := context.Background()

	for i := 0; i < MaxEvents+25; i++ {
		_, err := l.Add(ctx, "tick", map[string]any{"n": i})
		require.NoError(t, err)
	}

	entries, err := l.GetRecent(ctx, MaxEvents*2)
	require.NoError(t, err)
	assert.Len(t, entries, MaxEvents)
	// The newest event survived the trim.
	assert.Equal(t, float64(MaxEvents+24), entries[0].Data["n"])
}

func TestGetRecentDefaultLimit(t *testing.T) {
	l := newLog(t, nil)
	ctx := context.Background()

	for i := 0; i < DefaultRecentLimit+10; i++ {
		_, err := l.Add(ctx, "tick", nil)
		require.NoError(t, err)
	}

	entries, err := l.GetRecent(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, entries, DefaultRecentLimit)
}

func TestAddBroadcastsOnBus(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()

	var mu sync.Mutex
	var received []events.Event
	done := make(chan struct{}, 1)
	bus.Subscribe(events.Activity, func(e events.Event) {
		mu.Lock()
		received = append(received, e)
		mu.Unlock()
		select {
		case done <- struct{}{}:
		default:
		}
	})

	l := newLog(t, bus)
	_, err := l.Add(context.Background(), "folder_added", map[string]any{"path": "/docs"})
	require.NoError(t, err)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no activity event delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, received, 1)
	payload, ok := received[0].Payload.(*events.ActivityPayload)
	require.True(t, ok, fmt.Sprintf("unexpected payload %T", received[0].Payload))
	assert.Equal(t, "folder_added", payload.EventType)
	assert.Equal(t, "/docs", payload.Data["path"])
}
