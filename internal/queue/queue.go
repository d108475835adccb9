// Package queue is the Redis-backed enrichment work queue. Tasks move
// pending -> processing -> completed | failed, with bounded retry.
package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	archerrors "lifearch/internal/errors"
	"lifearch/internal/metrics"
)

const (
	keyPending    = "archive:queue:pending"
	keyProcessing = "archive:queue:processing"
	keyCompleted  = "archive:queue:completed"
	keyFailed     = "archive:queue:failed"

	// historyCap bounds the completed and failed history lists.
	historyCap = 1000

	// DefaultMaxRetries is the retry budget for a task.
	DefaultMaxRetries = 3

	// dequeueBlock is how long a dequeue blocks before reporting an
	// empty queue.
	dequeueBlock = time.Second
)

// Task types.
const (
	TaskDateExtraction = "date_extraction"
	TaskAutoTagging    = "auto_tagging"
)

// Task is one unit of enrichment work.
type Task struct {
	Type        string         `json:"type"`
	DocumentID  string         `json:"document_id"`
	Data        map[string]any `json:"data,omitempty"`
	Priority    int            `json:"priority"`
	EnqueuedAt  string         `json:"enqueued_at"`
	RetryCount  int            `json:"retry_count"`
	MaxRetries  int            `json:"max_retries"`
	LastRetryAt string         `json:"last_retry_at,omitempty"`

	// raw is the exact queue payload, kept so completion and requeue
	// can LREM the matching processing entry.
	raw string
}

// Queue is the Redis work queue.
type Queue struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// New creates a Queue on an existing Redis client.
func New(client redis.UniversalClient, logger *slog.Logger) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queue{client: client, logger: logger}
}

// Enqueue pushes a new task. Zero MaxRetries gets the default budget;
// EnqueuedAt is stamped if unset.
func (q *Queue) Enqueue(ctx context.Context, task Task) error {
	if task.MaxRetries == 0 {
		task.MaxRetries = DefaultMaxRetries
	}
	if task.EnqueuedAt == "" {
		task.EnqueuedAt = time.Now().UTC().Format(time.RFC3339)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return archerrors.Wrap(archerrors.KindInternal, "failed to encode task", err)
	}
	if err := q.client.LPush(ctx, keyPending, data).Err(); err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to enqueue task", err)
	}

	q.updateDepthMetric(ctx)
	q.logger.Debug("task enqueued", "type", task.Type, "document_id", task.DocumentID)
	return nil
}

// Dequeue blocks up to one second for a task, atomically moving it to
// the processing list. Returns (nil, nil) when the queue is empty.
func (q *Queue) Dequeue(ctx context.Context) (*Task, error) {
	raw, err := q.client.BRPopLPush(ctx, keyPending, keyProcessing, dequeueBlock).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to dequeue task", err)
	}

	var task Task
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		// A corrupt payload would wedge the processing list; drop it.
		q.client.LRem(ctx, keyProcessing, 1, raw)
		return nil, archerrors.Wrap(archerrors.KindInternal, "corrupt task payload", err)
	}
	task.raw = raw

	q.updateDepthMetric(ctx)
	return &task, nil
}

// MarkComplete moves a processed task into the capped completed
// history.
func (q *Queue) MarkComplete(ctx context.Context, task *Task) error {
	_, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, keyProcessing, 1, task.raw)
		pipe.LPush(ctx, keyCompleted, task.raw)
		pipe.LTrim(ctx, keyCompleted, 0, historyCap-1)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to complete task", err)
	}

	metrics.TasksCompleted.WithLabelValues(task.Type, "completed").Inc()
	return nil
}

// RequeueWithRetry returns a failed task to the pending queue, or to
// the failed history once its retry budget is spent. Reports whether
// the task will be retried.
func (q *Queue) RequeueWithRetry(ctx context.Context, task *Task) (bool, error) {
	task.RetryCount++
	task.LastRetryAt = time.Now().UTC().Format(time.RFC3339)

	data, err := json.Marshal(task)
	if err != nil {
		return false, archerrors.Wrap(archerrors.KindInternal, "failed to encode task", err)
	}

	retry := task.RetryCount <= task.MaxRetries
	_, err = q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, keyProcessing, 1, task.raw)
		if retry {
			pipe.LPush(ctx, keyPending, data)
		} else {
			pipe.LPush(ctx, keyFailed, data)
			pipe.LTrim(ctx, keyFailed, 0, historyCap-1)
		}
		return nil
	})
	if err != nil {
		return false, archerrors.Wrap(archerrors.KindStorage, "failed to requeue task", err)
	}

	task.raw = string(data)
	if !retry {
		metrics.TasksCompleted.WithLabelValues(task.Type, "failed").Inc()
		q.logger.Warn("task exhausted retries",
			"type", task.Type, "document_id", task.DocumentID, "retries", task.RetryCount-1)
	}
	q.updateDepthMetric(ctx)
	return retry, nil
}

// Depths reports the lengths of all queue lists.
func (q *Queue) Depths(ctx context.Context) (pending, processing, completed, failed int64, err error) {
	cmds, err := q.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LLen(ctx, keyPending)
		pipe.LLen(ctx, keyProcessing)
		pipe.LLen(ctx, keyCompleted)
		pipe.LLen(ctx, keyFailed)
		return nil
	})
	if err != nil {
		return 0, 0, 0, 0, archerrors.Wrap(archerrors.KindStorage, "failed to read queue depths", err)
	}
	vals := make([]int64, 4)
	for i, cmd := range cmds {
		vals[i] = cmd.(*redis.IntCmd).Val()
	}
	return vals[0], vals[1], vals[2], vals[3], nil
}

func (q *Queue) updateDepthMetric(ctx context.Context) {
	if depth, err := q.client.LLen(ctx, keyPending).Result(); err == nil {
		metrics.QueueDepth.Set(float64(depth))
	}
}
