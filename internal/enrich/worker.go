// Package enrich runs the background enrichment worker: a long-lived
// consumer that drains the work queue and augments document metadata
// through the LLM.
package enrich

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"lifearch/internal/llm"
	"lifearch/internal/queue"
	"lifearch/internal/tracker"
)

const (
	// maxPromptChars bounds the document text sent to the LLM.
	maxPromptChars = 10000

	// llmTimeout bounds one enrichment completion call.
	llmTimeout = 120 * time.Second

	dateTemperature = 0.1
	dateMaxTokens   = 1000
)

// Enrichment status values written to document metadata.
const (
	StatusDatesExtracted = "dates_extracted"
	StatusNoDatesFound   = "no_dates_found"
	StatusTaggingSkipped = "tagging_skipped"
)

// negativeAnswers mark an LLM reply that found no usable date.
var negativeAnswers = []string{"no date", "none", "not found", "unable"}

const datePrompt = "Extract the single most relevant date from the following document text. " +
	"Prefer the document's own date (issue date, statement date, due date) over incidental dates. " +
	"Respond with only the date in YYYY-MM-DD format. If no date is present, respond with 'no date found'.\n\n" +
	"Document text:\n%s"

// Worker consumes enrichment tasks.
type Worker struct {
	queue   *queue.Queue
	tracker tracker.Tracker
	llm     llm.Completer
	logger  *slog.Logger
}

// NewWorker creates an enrichment worker.
func NewWorker(q *queue.Queue, tr tracker.Tracker, completer llm.Completer, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: q, tracker: tr, llm: completer, logger: logger}
}

// Run consumes tasks until ctx is cancelled. The task in flight when
// cancellation arrives is drained before Run returns.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("enrichment worker started")
	defer w.logger.Info("enrichment worker stopped")

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		task, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			w.logger.Warn("dequeue failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if task == nil {
			continue
		}

		// Detached from the loop context so shutdown drains the task.
		w.processTask(context.WithoutCancel(ctx), task)
	}
}

// processTask dispatches one task and settles its queue entry.
func (w *Worker) processTask(ctx context.Context, task *queue.Task) {
	logger := w.logger.With("type", task.Type, "document_id", task.DocumentID, "retry", task.RetryCount)

	var err error
	switch task.Type {
	case queue.TaskDateExtraction:
		err = w.extractDates(ctx, task)
	case queue.TaskAutoTagging:
		err = w.autoTag(ctx, task)
	default:
		logger.Warn("unknown task type, dropping")
	}

	if err != nil {
		logger.Warn("task failed", "error", err)
		retrying, reqErr := w.queue.RequeueWithRetry(ctx, task)
		if reqErr != nil {
			logger.Error("failed to requeue task", "error", reqErr)
		} else if !retrying {
			logger.Error("task moved to dead letter queue")
		}
		return
	}

	if err := w.queue.MarkComplete(ctx, task); err != nil {
		logger.Error("failed to mark task complete", "error", err)
	}
}

// extractDates asks the LLM for the document's primary date and stores
// it in the tracker metadata.
func (w *Worker) extractDates(ctx context.Context, task *queue.Task) error {
	text, _ := task.Data["text"].(string)
	if text == "" {
		meta, err := w.tracker.GetFullMetadata(ctx, task.DocumentID)
		if err != nil {
			return fmt.Errorf("failed to load document text; %w", err)
		}
		text, _ = meta["text"].(string)
	}
	if len(text) > maxPromptChars {
		text = text[:maxPromptChars]
	}

	answer, err := w.llm.Complete(ctx, fmt.Sprintf(datePrompt, text), llm.CompleteOptions{
		Temperature: dateTemperature,
		MaxTokens:   dateMaxTokens,
		Timeout:     llmTimeout,
	})
	if err != nil {
		return fmt.Errorf("date extraction completion failed; %w", err)
	}

	answer = strings.TrimSpace(answer)
	if !usableDate(answer) {
		return w.tracker.UpdateFullMetadata(ctx, task.DocumentID, map[string]any{
			"enrichment_status": StatusNoDatesFound,
		}, tracker.ModeUpdate)
	}

	return w.tracker.UpdateFullMetadata(ctx, task.DocumentID, map[string]any{
		"content_date":      answer,
		"content_dates":     []any{answer},
		"enrichment_status": StatusDatesExtracted,
	}, tracker.ModeUpdate)
}

// autoTag only records that tagging ran. Tag generation is not
// implemented yet; the status keeps retried documents out of the queue.
func (w *Worker) autoTag(ctx context.Context, task *queue.Task) error {
	return w.tracker.UpdateFullMetadata(ctx, task.DocumentID, map[string]any{
		"enrichment_status": StatusTaggingSkipped,
	}, tracker.ModeUpdate)
}

// usableDate rejects replies that state no date was found.
func usableDate(answer string) bool {
	if answer == "" {
		return false
	}
	lower := strings.ToLower(answer)
	for _, neg := range negativeAnswers {
		if strings.HasPrefix(lower, neg) {
			return false
		}
	}
	return true
}
