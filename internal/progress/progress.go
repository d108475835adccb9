// Package progress tracks per-file ingestion progress in Redis and
// broadcasts updates on the event bus, keyed by session.
package progress

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	archerrors "lifearch/internal/errors"
	"lifearch/internal/events"
)

const (
	keyPrefix = "archive:progress:"

	// ttl expires stale progress hashes a day after their last update.
	ttl = 24 * time.Hour
)

// State is one file's current progress.
type State struct {
	FileID  string
	Stage   events.Stage
	Percent int
	Message string
}

// Tracker is the Redis-backed progress tracker.
type Tracker struct {
	client redis.UniversalClient
	bus    events.Bus
	logger *slog.Logger
}

// New creates a Tracker. The bus may be nil.
func New(client redis.UniversalClient, bus events.Bus, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{client: client, bus: bus, logger: logger}
}

func key(fileID string) string { return keyPrefix + fileID }

// Start initialises a file's progress at the upload stage.
func (t *Tracker) Start(ctx context.Context, sessionID, fileID, message string) error {
	return t.Update(ctx, sessionID, fileID, events.StageUpload, 0, message)
}

// Update writes the file's stage, percent, and message, refreshes the
// TTL, and broadcasts the update.
func (t *Tracker) Update(ctx context.Context, sessionID, fileID string, stage events.Stage, percent int, message string) error {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	k := key(fileID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]interface{}{
			"stage":   string(stage),
			"percent": percent,
			"message": message,
		})
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to write progress", err)
	}

	t.broadcast(ctx, sessionID, fileID, stage, percent, message, nil)
	return nil
}

// Complete marks the file finished. The metadata summary rides on the
// broadcast so subscribers see the outcome without a tracker read.
func (t *Tracker) Complete(ctx context.Context, sessionID, fileID, message string, meta map[string]any) error {
	k := key(fileID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]interface{}{
			"stage":   string(events.StageComplete),
			"percent": 100,
			"message": message,
		})
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to write progress", err)
	}

	t.broadcast(ctx, sessionID, fileID, events.StageComplete, 100, message, meta)
	return nil
}

// Error marks the file failed at the given stage.
func (t *Tracker) Error(ctx context.Context, sessionID, fileID string, stage events.Stage, message string) error {
	k := key(fileID)
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, k, map[string]interface{}{
			"stage":   string(events.StageError),
			"percent": 0,
			"message": message,
			"failed_stage": string(stage),
		})
		pipe.Expire(ctx, k, ttl)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to write progress", err)
	}

	t.broadcast(ctx, sessionID, fileID, events.StageError, 0, message, nil)
	return nil
}

// Get returns the file's current progress, or nil if none is tracked.
func (t *Tracker) Get(ctx context.Context, fileID string) (*State, error) {
	fields, err := t.client.HGetAll(ctx, key(fileID)).Result()
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to read progress", err)
	}
	if len(fields) == 0 {
		return nil, nil
	}

	percent, _ := strconv.Atoi(fields["percent"])
	return &State{
		FileID:  fileID,
		Stage:   events.Stage(fields["stage"]),
		Percent: percent,
		Message: fields["message"],
	}, nil
}

// Cleanup removes a file's progress immediately, used on the duplicate
// short-circuit path where no completion event is wanted.
func (t *Tracker) Cleanup(ctx context.Context, fileID string) error {
	if err := t.client.Del(ctx, key(fileID)).Err(); err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to delete progress", err)
	}
	return nil
}

func (t *Tracker) broadcast(ctx context.Context, sessionID, fileID string, stage events.Stage, percent int, message string, meta map[string]any) {
	if t.bus == nil {
		return
	}
	err := t.bus.Publish(ctx, events.NewEvent(events.Progress, &events.ProgressPayload{
		SessionID: sessionID,
		FileID:    fileID,
		Stage:     stage,
		Percent:   percent,
		Message:   message,
		Metadata:  meta,
	}))
	if err != nil {
		t.logger.Warn("failed to broadcast progress", "file_id", fileID, "error", err)
	}
}
