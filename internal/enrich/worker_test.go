package enrich

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lifearch/internal/llm"
	"lifearch/internal/queue"
	"lifearch/internal/tracker"
)

type stubCompleter struct {
	reply string
	err   error
	calls int
}

func (s *stubCompleter) Complete(_ context.Context, _ string, _ llm.CompleteOptions) (string, error) {
	s.calls++
	if s.err != nil {
		return "", s.err
	}
	return s.reply, nil
}

func (s *stubCompleter) Stream(ctx context.Context, prompt string, opts llm.CompleteOptions, fn func(string) error) error {
	text, err := s.Complete(ctx, prompt, opts)
	if err != nil {
		return err
	}
	return fn(text)
}

type fixture struct {
	worker  *Worker
	queue   *queue.Queue
	tracker tracker.Tracker
	llm     *stubCompleter
	ctx     context.Context
}

func newFixture(t *testing.T, completer *stubCompleter) *fixture {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	q := queue.New(client, nil)
	tr := tracker.NewRedisTracker(client, nil)
	return &fixture{
		worker:  NewWorker(q, tr, completer, nil),
		queue:   q,
		tracker: tr,
		llm:     completer,
		ctx:     context.Background(),
	}
}

func (f *fixture) seedDocument(t *testing.T, docID string) {
	t.Helper()
	require.NoError(t, f.tracker.Add(f.ctx, docID, []string{docID + "-n0"}))
	require.NoError(t, f.tracker.StoreFullMetadata(f.ctx, docID, map[string]any{
		"status": "ready",
		"title":  "statement.pdf",
	}))
}

// enqueueAndDequeue round-trips a task so it carries its queue payload.
func (f *fixture) enqueueAndDequeue(t *testing.T, task queue.Task) *queue.Task {
	t.Helper()
	require.NoError(t, f.queue.Enqueue(f.ctx, task))
	got, err := f.queue.Dequeue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	return got
}

func TestDateExtractionStoresDate(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "2024-03-15"})
	f.seedDocument(t, "doc-1")

	task := f.enqueueAndDequeue(t, queue.Task{
		Type:       queue.TaskDateExtraction,
		DocumentID: "doc-1",
		Data:       map[string]any{"text": "Bank statement issued on March 15, 2024 for account 1234."},
	})
	f.worker.processTask(f.ctx, task)

	meta, err := f.tracker.GetFullMetadata(f.ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "2024-03-15", meta["content_date"])
	assert.Equal(t, StatusDatesExtracted, meta["enrichment_status"])

	_, processing, completed, _, err := f.queue.Depths(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), processing)
	assert.Equal(t, int64(1), completed)
}

func TestDateExtractionNegativeAnswer(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "No date found in the provided text."})
	f.seedDocument(t, "doc-2")

	task := f.enqueueAndDequeue(t, queue.Task{
		Type:       queue.TaskDateExtraction,
		DocumentID: "doc-2",
		Data:       map[string]any{"text": "A note with no dates at all."},
	})
	f.worker.processTask(f.ctx, task)

	meta, err := f.tracker.GetFullMetadata(f.ctx, "doc-2")
	require.NoError(t, err)
	assert.Equal(t, StatusNoDatesFound, meta["enrichment_status"])
	assert.NotContains(t, meta, "content_date")
}

func TestAutoTaggingStub(t *testing.T) {
	f := newFixture(t, &stubCompleter{})
	f.seedDocument(t, "doc-3")

	task := f.enqueueAndDequeue(t, queue.Task{
		Type:       queue.TaskAutoTagging,
		DocumentID: "doc-3",
	})
	f.worker.processTask(f.ctx, task)

	meta, err := f.tracker.GetFullMetadata(f.ctx, "doc-3")
	require.NoError(t, err)
	assert.Equal(t, StatusTaggingSkipped, meta["enrichment_status"])
	assert.Equal(t, 0, f.llm.calls)
}

func TestFailedTaskIsRequeued(t *testing.T) {
	f := newFixture(t, &stubCompleter{err: errors.New("model unavailable")})
	f.seedDocument(t, "doc-4")

	task := f.enqueueAndDequeue(t, queue.Task{
		Type:       queue.TaskDateExtraction,
		DocumentID: "doc-4",
		Data:       map[string]any{"text": "Invoice dated sometime in spring."},
	})
	f.worker.processTask(f.ctx, task)

	pending, processing, _, failed, err := f.queue.Depths(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending)
	assert.Equal(t, int64(0), processing)
	assert.Equal(t, int64(0), failed)

	requeued, err := f.queue.Dequeue(f.ctx)
	require.NoError(t, err)
	require.NotNil(t, requeued)
	assert.Equal(t, 1, requeued.RetryCount)
}

func TestPromptTruncation(t *testing.T) {
	completer := &stubCompleter{reply: "2023-01-01"}
	f := newFixture(t, completer)
	f.seedDocument(t, "doc-5")

	huge := make([]byte, maxPromptChars*2)
	for i := range huge {
		huge[i] = 'x'
	}
	task := f.enqueueAndDequeue(t, queue.Task{
		Type:       queue.TaskDateExtraction,
		DocumentID: "doc-5",
		Data:       map[string]any{"text": string(huge)},
	})
	f.worker.processTask(f.ctx, task)

	meta, err := f.tracker.GetFullMetadata(f.ctx, "doc-5")
	require.NoError(t, err)
	assert.Equal(t, StatusDatesExtracted, meta["enrichment_status"])
}

func TestRunDrainsAndStops(t *testing.T) {
	f := newFixture(t, &stubCompleter{reply: "2024-06-30"})
	f.seedDocument(t, "doc-6")
	require.NoError(t, f.queue.Enqueue(f.ctx, queue.Task{
		Type:       queue.TaskDateExtraction,
		DocumentID: "doc-6",
		Data:       map[string]any{"text": "Receipt from June 30, 2024."},
	}))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		_, _, completed, _, err := f.queue.Depths(f.ctx)
		return err == nil && completed == 1
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestUsableDate(t *testing.T) {
	cases := []struct {
		answer string
		want   bool
	}{
		{"2024-03-15", true},
		{"March 2024", true},
		{"no date found", false},
		{"None", false},
		{"Not found in the text", false},
		{"Unable to determine a date", false},
		{"", false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, usableDate(tc.answer), "answer %q", tc.answer)
	}
}
