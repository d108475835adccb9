// Package activity keeps a ring-buffered log of archive events in
// Redis and broadcasts each entry on the event bus for live consumers.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	archerrors "lifearch/internal/errors"
	"lifearch/internal/events"
)

const (
	keyEvents = "archive:activity:events"

	// MaxEvents caps the retained event history.
	MaxEvents = 200

	// DefaultRecentLimit is the default page size for GetRecent.
	DefaultRecentLimit = 50
)

// Entry is one activity log record.
type Entry struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp string         `json:"timestamp"`
}

// Log is the Redis-backed activity log.
type Log struct {
	client redis.UniversalClient
	bus    events.Bus
	logger *slog.Logger
}

// New creates a Log. The bus may be nil, in which case entries are only
// persisted.
func New(client redis.UniversalClient, bus events.Bus, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{client: client, bus: bus, logger: logger}
}

// Add persists an event and broadcasts it. Broadcast failure never
// prevents persistence; the entry is written first.
func (l *Log) Add(ctx context.Context, eventType string, data map[string]any) (Entry, error) {
	now := time.Now().UTC()
	entry := Entry{
		ID:        fmt.Sprintf("%.6f_%s", float64(now.UnixNano())/1e9, eventType),
		Type:      eventType,
		Data:      data,
		Timestamp: now.Format(time.RFC3339),
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return Entry{}, archerrors.Wrap(archerrors.KindInternal, "failed to encode event", err)
	}

	_, err = l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, keyEvents, payload)
		pipe.LTrim(ctx, keyEvents, 0, MaxEvents-1)
		return nil
	})
	if err != nil {
		return Entry{}, archerrors.Wrap(archerrors.KindStorage, "failed to persist event", err)
	}

	if l.bus != nil {
		err := l.bus.Publish(ctx, events.NewEvent(events.Activity, &events.ActivityPayload{
			ID:        entry.ID,
			EventType: entry.Type,
			Data:      entry.Data,
			Timestamp: entry.Timestamp,
		}))
		if err != nil {
			l.logger.Warn("failed to broadcast activity event", "type", eventType, "error", err)
		}
	}

	return entry, nil
}

// GetRecent returns the newest entries, most recent first. A
// non-positive limit uses the default page size.
func (l *Log) GetRecent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	if limit > MaxEvents {
		limit = MaxEvents
	}

	raw, err := l.client.LRange(ctx, keyEvents, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to read events", err)
	}

	entries := make([]Entry, 0, len(raw))
	for _, item := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			l.logger.Warn("skipping corrupt activity entry", "error", err)
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
