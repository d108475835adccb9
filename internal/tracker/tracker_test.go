package tracker

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	archerrors "lifearch/internal/errors"
)

func newRedisTracker(t *testing.T) Tracker {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisTracker(client, nil)
}

func newJSONTracker(t *testing.T) Tracker {
	t.Helper()
	tr, err := NewJSONTracker(filepath.Join(t.TempDir(), "tracker.json"))
	require.NoError(t, err)
	return tr
}

func backends(t *testing.T) map[string]Tracker {
	return map[string]Tracker{
		"redis":    newRedisTracker(t),
		"jsonfile": newJSONTracker(t),
	}
}

func TestAddAndNodes(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1", "n2", "n3"}))

			nodes, err := tr.GetNodes(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, []string{"n1", "n2", "n3"}, nodes)

			exists, err := tr.DocumentExists(ctx, "doc-1")
			require.NoError(t, err)
			assert.True(t, exists)

			count, err := tr.Count(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(1), count)
		})
	}
}

func TestAddZeroChunksIsValid(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "empty-doc", nil))

			exists, err := tr.DocumentExists(ctx, "empty-doc")
			require.NoError(t, err)
			assert.True(t, exists)

			nodes, err := tr.GetNodes(ctx, "empty-doc")
			require.NoError(t, err)
			assert.Empty(t, nodes)
		})
	}
}

func TestStoreAndGetMetadata(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))

			meta := map[string]any{
				"title":           "tax return 2023",
				"mime_type":       "application/pdf",
				"status":          "ready",
				"size_bytes":      float64(12345),
				"tags":            []any{"taxes", "2023"},
				"classifications": map[string]any{"theme": "finances"},
			}
			require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", meta))

			got, err := tr.GetFullMetadata(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, "tax return 2023", got["title"])
			assert.Equal(t, "application/pdf", got["mime_type"])
			assert.Equal(t, float64(12345), got["size_bytes"])
			assert.Equal(t, []any{"taxes", "2023"}, got["tags"])
		})
	}
}

func TestGetMetadataNotFound(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			_, err := tr.GetFullMetadata(context.Background(), "ghost")
			require.Error(t, err)
			assert.True(t, archerrors.IsKind(err, archerrors.KindNotFound))
		})
	}
}

func TestQueryByFilters(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			docs := map[string]map[string]any{
				"doc-a": {
					"status": "ready", "mime_type": "application/pdf",
					"classifications": map[string]any{"theme": "finances"},
					"uploaded_at":     "2024-01-10T00:00:00Z",
				},
				"doc-b": {
					"status": "ready", "mime_type": "text/plain",
					"classifications": map[string]any{"theme": "finances"},
					"uploaded_at":     "2024-06-01T00:00:00Z",
				},
				"doc-c": {
					"status": "failed", "mime_type": "application/pdf",
					"classifications": map[string]any{"theme": "health"},
					"uploaded_at":     "2024-03-15T00:00:00Z",
				},
			}
			for id, meta := range docs {
				require.NoError(t, tr.Add(ctx, id, []string{id + "-n1"}))
				require.NoError(t, tr.StoreFullMetadata(ctx, id, meta))
			}

			ids, err := tr.QueryByFilters(ctx, map[string]any{"theme": "finances"})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-a", "doc-b"}, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{"theme": "finances", "mime_type": "application/pdf"})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-a"}, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{
				"uploaded_at": map[string]any{"$gte": "2024-03-01T00:00:00Z"},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-b", "doc-c"}, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{
				"status":      "ready",
				"uploaded_at": map[string]any{"$lt": "2024-02-01T00:00:00Z"},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-a"}, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{
				"mime_type": map[string]any{"$in": []any{"text/plain", "text/markdown"}},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-b"}, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{
				"status": map[string]any{"$ne": "failed"},
			})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-a", "doc-b"}, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{})
			require.NoError(t, err)
			assert.Len(t, ids, 3)
		})
	}
}

func TestUpdateMetadataMergesLists(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
			require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{
				"status":        "processing",
				"tags":          []any{"taxes"},
				"content_dates": []any{"2023-04-01"},
				"provenance":    []any{map[string]any{"action": "import"}},
			}))

			require.NoError(t, tr.UpdateFullMetadata(ctx, "doc-1", map[string]any{
				"status":        "ready",
				"tags":          []any{"taxes", "2023"},
				"content_dates": []any{"2023-04-15"},
				"provenance":    []any{map[string]any{"action": "enrich"}},
			}, ModeUpdate))

			got, err := tr.GetFullMetadata(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, "ready", got["status"])
			assert.Equal(t, []any{"taxes", "2023"}, got["tags"])
			assert.Equal(t, []any{"2023-04-01", "2023-04-15"}, got["content_dates"])
			require.Len(t, got["provenance"], 2)
		})
	}
}

func TestUpdateMetadataReplace(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
			require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{
				"status": "ready",
				"title":  "old title",
			}))

			require.NoError(t, tr.UpdateFullMetadata(ctx, "doc-1", map[string]any{
				"status": "failed",
			}, ModeReplace))

			got, err := tr.GetFullMetadata(ctx, "doc-1")
			require.NoError(t, err)
			assert.Equal(t, "failed", got["status"])
			assert.NotContains(t, got, "title")
		})
	}
}

func TestUpdateMovesIndexMembership(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
			require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"status": "processing"}))

			require.NoError(t, tr.UpdateFullMetadata(ctx, "doc-1", map[string]any{"status": "ready"}, ModeUpdate))

			ids, err := tr.QueryByFilters(ctx, map[string]any{"status": "processing"})
			require.NoError(t, err)
			assert.Empty(t, ids)

			ids, err = tr.QueryByFilters(ctx, map[string]any{"status": "ready"})
			require.NoError(t, err)
			assert.Equal(t, []string{"doc-1"}, ids)
		})
	}
}

func TestRemoveCleansIndexes(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))
			require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{
				"status":          "ready",
				"classifications": map[string]any{"theme": "finances"},
			}))

			require.NoError(t, tr.Remove(ctx, "doc-1"))

			exists, err := tr.DocumentExists(ctx, "doc-1")
			require.NoError(t, err)
			assert.False(t, exists)

			ids, err := tr.QueryByFilters(ctx, map[string]any{"theme": "finances"})
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestRemoveUnknownKeepsCount(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	tr := NewRedisTracker(client, nil)
	ctx := context.Background()

	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1"}))

	// Removing a ghost, repeatedly, must not decrement the count.
	require.NoError(t, tr.Remove(ctx, "ghost"))
	require.NoError(t, tr.Remove(ctx, "ghost"))

	count, err := tr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, tr.Remove(ctx, "doc-1"))
	require.NoError(t, tr.Remove(ctx, "doc-1"))
	count, err = tr.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), count)
}

func TestClearAll(t *testing.T) {
	for name, tr := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, id := range []string{"a", "b", "c"} {
				require.NoError(t, tr.Add(ctx, id, []string{id + "-n"}))
				require.NoError(t, tr.StoreFullMetadata(ctx, id, map[string]any{"status": "ready"}))
			}

			stats, err := tr.ClearAll(ctx)
			require.NoError(t, err)
			assert.Equal(t, int64(3), stats.Documents)

			ids, err := tr.AllDocuments(ctx)
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestClassificationUnmarshal(t *testing.T) {
	var c Classification
	require.NoError(t, json.Unmarshal([]byte(`"finances"`), &c))
	assert.Equal(t, "finances", c.Theme)

	require.NoError(t, json.Unmarshal([]byte(`{"theme":"health","primary_subtheme":"dental"}`), &c))
	assert.Equal(t, "health", c.Theme)
	assert.Equal(t, "dental", c.PrimarySubtheme)

	assert.Error(t, json.Unmarshal([]byte(`42`), &c))
}

func TestJSONTrackerPersistsAcrossReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "tracker.json")

	tr, err := NewJSONTracker(path)
	require.NoError(t, err)
	require.NoError(t, tr.Add(ctx, "doc-1", []string{"n1", "n2"}))
	require.NoError(t, tr.StoreFullMetadata(ctx, "doc-1", map[string]any{"status": "ready"}))

	reloaded, err := NewJSONTracker(path)
	require.NoError(t, err)

	nodes, err := reloaded.GetNodes(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, []string{"n1", "n2"}, nodes)

	got, err := reloaded.GetFullMetadata(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "ready", got["status"])
}
