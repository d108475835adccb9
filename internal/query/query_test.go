package query

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifearch/internal/bm25"
	"lifearch/internal/llm"
	"lifearch/internal/search"
	"lifearch/internal/tracker"
	"lifearch/internal/vector"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

// stubCompleter replies with a fixed answer, optionally failing.
type stubCompleter struct {
	reply string
	err   error
}

func (s *stubCompleter) Complete(_ context.Context, _ string, _ llm.CompleteOptions) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubCompleter) Stream(ctx context.Context, _ string, _ llm.CompleteOptions, fn func(string) error) error {
	if s.err != nil {
		return s.err
	}
	for _, r := range s.reply {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(string(r)); err != nil {
			return err
		}
	}
	return nil
}

var _ llm.Completer = (*stubCompleter)(nil)

func newEngine(t *testing.T, completer llm.Completer) (*Engine, *search.Service, tracker.Tracker, *vector.MemoryStore, *bm25.Index) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	vs := vector.NewMemoryStore()
	ix := bm25.New(client, nil)
	tr := tracker.NewRedisTracker(client, nil)
	svc := search.New(vs, ix, tr, stubEmbedder{}, nil)
	return New(svc, completer), svc, tr, vs, ix
}

func seedDocument(t *testing.T, tr tracker.Tracker, vs *vector.MemoryStore, ix *bm25.Index, docID, text string, vec []float32) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, vs.Upsert(ctx, []vector.Point{{
		ID:     docID + "-n0",
		Vector: vec,
		Payload: map[string]any{
			"document_id": docID,
			"text":        text,
			"chunk_index": 0,
		},
	}}))
	require.NoError(t, ix.Add(ctx, docID, text))
	require.NoError(t, tr.Add(ctx, docID, []string{docID + "-n0"}))
	require.NoError(t, tr.StoreFullMetadata(ctx, docID, map[string]any{"status": "ready"}))
}

func TestClassifyIntent(t *testing.T) {
	cases := []struct {
		question string
		want     Intent
	}{
		{"hello", IntentChitchat},
		{"Thanks!", IntentChitchat},
		{"How are you", IntentChitchat},
		{"ok sure", IntentChitchat},
		{"rent?", IntentDocumentQuery},
		{"find my tax documents", IntentDocumentQuery},
		{"hello, what does my lease say", IntentDocumentQuery},
		{"when is the insurance renewal due", IntentDocumentQuery},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, classifyIntent(tc.question), "question %q", tc.question)
	}
}

func TestAskChitchat(t *testing.T) {
	e, _, _, _, _ := newEngine(t, &stubCompleter{reply: "should not be called"})

	answer := e.Ask(context.Background(), "hello", 5, nil)
	assert.Equal(t, MethodDirectResponse, answer.Method)
	assert.Equal(t, 1.0, answer.ConfidenceScore)
	assert.Contains(t, answer.Answer, "help you find information")
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.NumChunksUsed)
}

func TestAskDocumentQuery(t *testing.T) {
	e, _, tr, vs, ix := newEngine(t, &stubCompleter{
		reply: "The lease runs through December 2026 with a 60-day notice period.",
	})
	seedDocument(t, tr, vs, ix, "lease", "lease agreement ending december 2026", []float32{1, 0, 0})

	answer := e.Ask(context.Background(), "when does my lease end", 5, nil)
	assert.Equal(t, MethodRAG, answer.Method)
	assert.Contains(t, answer.Answer, "December 2026")
	require.Len(t, answer.Sources, 1)
	assert.Equal(t, "lease", answer.Sources[0].DocumentID)
	assert.Equal(t, 1, answer.NumChunksUsed)
	assert.Contains(t, answer.ContextUsed, "lease agreement")
	assert.Greater(t, answer.ConfidenceScore, 0.0)
	assert.Equal(t, 1, answer.Statistics["num_sources"])
}

func TestAskLLMFailure(t *testing.T) {
	e, _, tr, vs, ix := newEngine(t, &stubCompleter{err: errors.New("connection refused")})
	seedDocument(t, tr, vs, ix, "doc", "some indexed text", []float32{1, 0, 0})

	answer := e.Ask(context.Background(), "what does the document say", 5, nil)
	assert.Equal(t, MethodError, answer.Method)
	assert.Equal(t, 0.0, answer.ConfidenceScore)
	assert.Empty(t, answer.Sources)
}

func TestConfidenceMonotonicInSources(t *testing.T) {
	answer := strings.Repeat("a", 200)
	ctxText := strings.Repeat("c", 1000)

	prev := 0.0
	for sources := 1; sources <= 6; sources++ {
		c := computeConfidence(sources, 0.8, answer, ctxText)
		assert.GreaterOrEqual(t, c, prev, "sources=%d", sources)
		prev = c
	}
}

func TestConfidenceFailureWordsHalve(t *testing.T) {
	good := computeConfidence(3, 0.8, "the total is forty dollars", strings.Repeat("c", 1000))
	bad := computeConfidence(3, 0.8, "the document was not found here", strings.Repeat("c", 1000))
	assert.InDelta(t, good/2, bad, 0.01)
}

func TestConfidenceBounds(t *testing.T) {
	assert.LessOrEqual(t, computeConfidence(100, 1.0, strings.Repeat("a", 5000), strings.Repeat("c", 50000)), 1.0)
	assert.GreaterOrEqual(t, computeConfidence(0, 0, "", ""), 0.0)
}

func TestStreamDocumentQuerySequence(t *testing.T) {
	e, _, tr, vs, ix := newEngine(t, &stubCompleter{reply: "Rent is $1200."})
	seedDocument(t, tr, vs, ix, "rent", "monthly rent is 1200 dollars", []float32{1, 0, 0})

	var types []string
	var deltas strings.Builder
	var final *Answer
	for ev := range e.AskStream(context.Background(), "how much is my rent?", 5, nil) {
		types = append(types, ev.Type)
		switch ev.Type {
		case "chunk":
			deltas.WriteString(ev.Delta)
		case "metadata":
			final = ev.Answer
		}
	}

	require.GreaterOrEqual(t, len(types), 3)
	assert.Equal(t, "intent_check", types[0])
	assert.Equal(t, "sources", types[1])
	assert.Equal(t, "metadata", types[len(types)-1])
	assert.Equal(t, "Rent is $1200.", deltas.String())
	require.NotNil(t, final)
	assert.Equal(t, MethodRAG, final.Method)
	assert.Equal(t, "Rent is $1200.", final.Answer)
}

func TestStreamChitchat(t *testing.T) {
	e, _, _, _, _ := newEngine(t, &stubCompleter{reply: "unused"})

	var deltas strings.Builder
	var final *Answer
	for ev := range e.AskStream(context.Background(), "hi", 5, nil) {
		switch ev.Type {
		case "chunk":
			deltas.WriteString(ev.Delta)
		case "metadata":
			final = ev.Answer
		}
	}

	require.NotNil(t, final)
	assert.Equal(t, MethodDirectResponse, final.Method)
	assert.Equal(t, final.Answer, deltas.String())
}

func TestStreamErrorEvent(t *testing.T) {
	e, _, tr, vs, ix := newEngine(t, &stubCompleter{err: errors.New("model unavailable")})
	seedDocument(t, tr, vs, ix, "doc", "indexed text", []float32{1, 0, 0})

	var last StreamEvent
	for ev := range e.AskStream(context.Background(), "what is in the document?", 5, nil) {
		last = ev
	}
	assert.Equal(t, "error", last.Type)
	require.NotNil(t, last.Answer)
	assert.Equal(t, MethodError, last.Answer.Method)
}

func TestStreamCancellation(t *testing.T) {
	e, _, tr, vs, ix := newEngine(t, &stubCompleter{reply: strings.Repeat("long answer text ", 50)})
	seedDocument(t, tr, vs, ix, "doc", "indexed text", []float32{1, 0, 0})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := e.AskStream(ctx, "what is in the document?", 5, nil)

	chunks := 0
	sawMetadata := false
	for ev := range ch {
		if ev.Type == "chunk" {
			chunks++
			if chunks == 3 {
				cancel()
			}
		}
		if ev.Type == "metadata" {
			sawMetadata = true
		}
	}

	assert.False(t, sawMetadata)
	assert.GreaterOrEqual(t, chunks, 3)
}
