package search

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifearch/internal/bm25"
	archerrors "lifearch/internal/errors"
	"lifearch/internal/tracker"
	"lifearch/internal/vector"
)

// mapEmbedder returns canned vectors by exact text, defaulting to a
// fixed direction for unknown inputs.
type mapEmbedder struct {
	vectors map[string][]float32
}

func (m *mapEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if v, ok := m.vectors[t]; ok {
			out[i] = v
		} else {
			out[i] = []float32{0, 0, 1}
		}
	}
	return out, nil
}

type fixture struct {
	service *Service
	vectors *vector.MemoryStore
	index   *bm25.Index
	tracker tracker.Tracker
	embed   *mapEmbedder
	ctx     context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	vs := vector.NewMemoryStore()
	ix := bm25.New(client, nil)
	tr := tracker.NewRedisTracker(client, nil)
	emb := &mapEmbedder{vectors: map[string][]float32{}}

	return &fixture{
		service: New(vs, ix, tr, emb, nil),
		vectors: vs,
		index:   ix,
		tracker: tr,
		embed:   emb,
		ctx:     context.Background(),
	}
}

// seed registers a document in all three stores with one chunk.
func (f *fixture) seed(t *testing.T, docID, text string, vec []float32, meta map[string]any) {
	t.Helper()
	require.NoError(t, f.vectors.Upsert(f.ctx, []vector.Point{{
		ID:     docID + "-n0",
		Vector: vec,
		Payload: map[string]any{
			"document_id": docID,
			"text":        text,
			"chunk_index": 0,
		},
	}}))
	require.NoError(t, f.index.Add(f.ctx, docID, text))
	require.NoError(t, f.tracker.Add(f.ctx, docID, []string{docID + "-n0"}))
	require.NoError(t, f.tracker.StoreFullMetadata(f.ctx, docID, meta))
}

func TestSearchEmptyQueryRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Search(f.ctx, "", ModeHybrid, 5, nil)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindValidation))
	assert.Equal(t, "Query cannot be empty", archerrors.Message(err))
}

func TestSemanticThreshold(t *testing.T) {
	f := newFixture(t)
	f.embed.vectors["tax question"] = []float32{1, 0, 0}

	f.seed(t, "close", "tax filing instructions", []float32{0.95, 0.05, 0}, map[string]any{"status": "ready"})
	f.seed(t, "far", "pasta recipe", []float32{0, 1, 0}, map[string]any{"status": "ready"})

	results, err := f.service.Semantic(f.ctx, "tax question", 5, ThresholdDefault, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "close", results[0].DocumentID)
	assert.Equal(t, string(ModeSemantic), results[0].SearchType)
	assert.NotEmpty(t, results[0].Text)
}

func TestKeywordJoinsTrackerMetadata(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "doc-1", "annual tax return and income statement", []float32{1, 0, 0},
		map[string]any{"status": "ready", "title": "taxes.pdf"})

	results, err := f.service.Keyword(f.ctx, "tax return", 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "doc-1", results[0].DocumentID)
	assert.Equal(t, "taxes.pdf", results[0].Metadata["title"])
	assert.Greater(t, results[0].Score, 0.0)
	assert.Equal(t, string(ModeKeyword), results[0].SearchType)
}

func TestHybridOverlapBoost(t *testing.T) {
	f := newFixture(t)
	f.embed.vectors["insurance premium"] = []float32{1, 0, 0}

	// "both" matches semantically and by keyword; "semonly" only
	// semantically; "kwonly" only by keyword.
	f.seed(t, "both", "insurance premium invoice for the year", []float32{0.9, 0.1, 0}, map[string]any{"status": "ready"})
	f.seed(t, "semonly", "unrelated words entirely", []float32{0.6, 0.8, 0}, map[string]any{"status": "ready"})
	f.seed(t, "kwonly", "premium insurance coverage details explained", []float32{0, 1, 0}, map[string]any{"status": "ready"})

	results, err := f.service.Hybrid(f.ctx, "insurance premium", 10, nil)
	require.NoError(t, err)

	byDoc := map[string]Result{}
	for _, r := range results {
		byDoc[r.DocumentID] = r
	}

	require.Contains(t, byDoc, "both")
	require.Contains(t, byDoc, "semonly")
	require.Contains(t, byDoc, "kwonly")

	assert.Equal(t, "hybrid_both", byDoc["both"].SearchType)
	assert.Equal(t, "hybrid_semantic", byDoc["semonly"].SearchType)
	assert.Equal(t, "hybrid_keyword", byDoc["kwonly"].SearchType)

	// Overlap fuses both paths and adds the bonus, so the blended
	// score beats the weighted semantic part alone.
	assert.Greater(t, byDoc["both"].Score, 0.6*0.9)
	assert.Equal(t, "both", results[0].DocumentID)
}

func TestSearchFilterRestrictsResults(t *testing.T) {
	f := newFixture(t)
	f.embed.vectors["statement"] = []float32{1, 0, 0}

	f.seed(t, "fin", "bank statement for march", []float32{1, 0, 0},
		map[string]any{"status": "ready", "classifications": map[string]any{"theme": "finances"}})
	f.seed(t, "med", "medical statement from the clinic", []float32{0.99, 0.01, 0},
		map[string]any{"status": "ready", "classifications": map[string]any{"theme": "health"}})

	results, err := f.service.Search(f.ctx, "statement", ModeSemantic, 5, map[string]any{"theme": "finances"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "fin", results[0].DocumentID)
}

func TestDocumentNeighboursExcludesSelf(t *testing.T) {
	f := newFixture(t)
	// Neighbour search embeds the source document's first chunk text.
	f.embed.vectors["lease agreement for the apartment"] = []float32{1, 0, 0}

	f.seed(t, "lease", "lease agreement for the apartment", []float32{1, 0, 0}, map[string]any{"status": "ready"})
	f.seed(t, "sublet", "sublease contract terms", []float32{0.9, 0.1, 0}, map[string]any{"status": "ready"})

	results, err := f.service.DocumentNeighbours(f.ctx, "lease", 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "sublet", results[0].DocumentID)
}

func TestDocumentNeighboursUnknownDocument(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.DocumentNeighbours(f.ctx, "ghost", 5)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindNotFound))
}

func TestUnknownModeRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.service.Search(f.ctx, "query", Mode("fuzzy"), 5, nil)
	require.Error(t, err)
	assert.True(t, archerrors.IsKind(err, archerrors.KindValidation))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	// "é" is two bytes; a byte-index cut at 5 would split it.
	s := "résumé"
	for limit := 0; limit <= len(s); limit++ {
		out := truncate(s, limit)
		assert.True(t, utf8.ValidString(out), "limit %d produced invalid UTF-8: %q", limit, out)
		assert.LessOrEqual(t, len(out), limit)
		assert.True(t, strings.HasPrefix(s, out))
	}
	assert.Equal(t, s, truncate(s, len(s)))
	assert.Equal(t, s, truncate(s, 100))
}
