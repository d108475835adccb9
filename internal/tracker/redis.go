package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strconv"

	"github.com/redis/go-redis/v9"

	archerrors "lifearch/internal/errors"
)

const (
	keyPrefix = "archive:doc:"
	keyAll    = keyPrefix + "index:all"
	keyCount  = keyPrefix + "count"

	clearBatchSize = 100

	// updateRetries bounds optimistic retries when a concurrent writer
	// invalidates a watched metadata key.
	updateRetries = 5
)

func nodesKey(docID string) string { return keyPrefix + "nodes:" + docID }
func metaKey(docID string) string  { return keyPrefix + "meta:" + docID }
func indexKey(field, value string) string {
	return keyPrefix + "index:" + field + ":" + value
}

var _ Tracker = (*RedisTracker)(nil)

// RedisTracker is the Redis-backed Tracker. All mutations run inside
// MULTI/EXEC transactions so readers never observe partial documents.
type RedisTracker struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisTracker creates a RedisTracker on an existing client.
func NewRedisTracker(client redis.UniversalClient, logger *slog.Logger) *RedisTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisTracker{client: client, logger: logger}
}

// Add registers the document's node list and membership.
func (t *RedisTracker) Add(ctx context.Context, docID string, nodeIDs []string) error {
	_, err := t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if len(nodeIDs) > 0 {
			vals := make([]interface{}, len(nodeIDs))
			for i, id := range nodeIDs {
				vals[i] = id
			}
			pipe.RPush(ctx, nodesKey(docID), vals...)
		}
		pipe.SAdd(ctx, keyAll, docID)
		pipe.Incr(ctx, keyCount)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to add document", err)
	}
	return nil
}

// Remove deletes the document and withdraws it from every index its
// prior metadata placed it in. Unknown ids are a no-op so the count
// never drifts below the membership set.
func (t *RedisTracker) Remove(ctx context.Context, docID string) error {
	exists, err := t.DocumentExists(ctx, docID)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}

	meta, err := t.readMeta(ctx, docID)
	if err != nil {
		return err
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, nodesKey(docID), metaKey(docID))
		pipe.SRem(ctx, keyAll, docID)
		pipe.Decr(ctx, keyCount)
		for _, field := range indexedFields {
			if value, ok := indexValue(field, meta); ok {
				pipe.SRem(ctx, indexKey(field, value), docID)
			}
		}
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to remove document", err)
	}
	return nil
}

// StoreFullMetadata writes the metadata hash and populates filter
// indexes.
func (t *RedisTracker) StoreFullMetadata(ctx context.Context, docID string, meta map[string]any) error {
	fields, err := encodeMeta(meta)
	if err != nil {
		return err
	}

	_, err = t.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, metaKey(docID))
		if len(fields) > 0 {
			pipe.HSet(ctx, metaKey(docID), fields)
		}
		for _, field := range indexedFields {
			if value, ok := indexValue(field, meta); ok {
				pipe.SAdd(ctx, indexKey(field, value), docID)
			}
		}
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to store metadata", err)
	}
	return nil
}

// UpdateFullMetadata applies updates under an optimistic WATCH on the
// metadata key so concurrent readers see either the old or the new
// document, never a mixture.
func (t *RedisTracker) UpdateFullMetadata(ctx context.Context, docID string, updates map[string]any, mode UpdateMode) error {
	key := metaKey(docID)

	apply := func(tx *redis.Tx) error {
		raw, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return fmt.Errorf("failed to read metadata; %w", err)
		}
		old := decodeMeta(raw)

		var merged map[string]any
		switch mode {
		case ModeReplace:
			merged = updates
		default:
			merged = mergeMetadata(old, updates)
		}

		fields, err := encodeMeta(merged)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			if len(fields) > 0 {
				pipe.HSet(ctx, key, fields)
			}
			for _, field := range indexedFields {
				oldV, oldOK := indexValue(field, old)
				newV, newOK := indexValue(field, merged)
				if oldOK && (!newOK || oldV != newV) {
					pipe.SRem(ctx, indexKey(field, oldV), docID)
				}
				if newOK && (!oldOK || oldV != newV) {
					pipe.SAdd(ctx, indexKey(field, newV), docID)
				}
			}
			return nil
		})
		return err
	}

	var err error
	for i := 0; i < updateRetries; i++ {
		err = t.client.Watch(ctx, apply, key)
		if err != redis.TxFailedErr {
			break
		}
		t.logger.Debug("metadata update conflicted, retrying", "document_id", docID)
	}
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to update metadata", err)
	}
	return nil
}

// GetFullMetadata returns the document's metadata.
func (t *RedisTracker) GetFullMetadata(ctx context.Context, docID string) (map[string]any, error) {
	exists, err := t.DocumentExists(ctx, docID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, archerrors.Newf(archerrors.KindNotFound, "document %s not found", docID)
	}
	return t.readMeta(ctx, docID)
}

func (t *RedisTracker) readMeta(ctx context.Context, docID string) (map[string]any, error) {
	raw, err := t.client.HGetAll(ctx, metaKey(docID)).Result()
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to read metadata", err)
	}
	return decodeMeta(raw), nil
}

// GetNodes returns the document's node ids in insertion order.
func (t *RedisTracker) GetNodes(ctx context.Context, docID string) ([]string, error) {
	nodes, err := t.client.LRange(ctx, nodesKey(docID), 0, -1).Result()
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to read nodes", err)
	}
	return nodes, nil
}

// DocumentExists reports membership in the all-documents set.
func (t *RedisTracker) DocumentExists(ctx context.Context, docID string) (bool, error) {
	ok, err := t.client.SIsMember(ctx, keyAll, docID).Result()
	if err != nil {
		return false, archerrors.Wrap(archerrors.KindStorage, "failed to check membership", err)
	}
	return ok, nil
}

// AllDocuments lists every tracked id, sorted for stable iteration.
func (t *RedisTracker) AllDocuments(ctx context.Context) ([]string, error) {
	ids, err := t.client.SMembers(ctx, keyAll).Result()
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to list documents", err)
	}
	sort.Strings(ids)
	return ids, nil
}

// QueryByFilters intersects index sets for indexed equality filters,
// then evaluates residual conditions against full metadata.
func (t *RedisTracker) QueryByFilters(ctx context.Context, filters map[string]any) ([]string, error) {
	indexed, residual := splitFilters(filters)

	var candidates []string
	var err error
	if len(indexed) > 0 {
		keys := make([]string, 0, len(indexed))
		for field, value := range indexed {
			keys = append(keys, indexKey(field, value))
		}
		candidates, err = t.client.SInter(ctx, keys...).Result()
	} else {
		candidates, err = t.client.SMembers(ctx, keyAll).Result()
	}
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to query index", err)
	}

	if len(residual) == 0 {
		sort.Strings(candidates)
		return candidates, nil
	}

	var matched []string
	for _, docID := range candidates {
		meta, err := t.readMeta(ctx, docID)
		if err != nil {
			return nil, err
		}
		if matchesFilters(meta, residual) {
			matched = append(matched, docID)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

// Count returns the tracked document count.
func (t *RedisTracker) Count(ctx context.Context) (int64, error) {
	raw, err := t.client.Get(ctx, keyCount).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, archerrors.Wrap(archerrors.KindStorage, "failed to read count", err)
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt count value %q; %w", raw, err)
	}
	return n, nil
}

// ClearAll scans the tracker namespace and deletes keys in batches.
func (t *RedisTracker) ClearAll(ctx context.Context) (ClearStats, error) {
	stats := ClearStats{}

	if docs, err := t.client.SCard(ctx, keyAll).Result(); err == nil {
		stats.Documents = docs
	}

	iter := t.client.Scan(ctx, 0, keyPrefix+"*", clearBatchSize).Iterator()
	batch := make([]string, 0, clearBatchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		deleted, err := t.client.Del(ctx, batch...).Result()
		if err != nil {
			return archerrors.Wrap(archerrors.KindStorage, "failed to delete keys", err)
		}
		stats.KeysDeleted += deleted
		batch = batch[:0]
		return nil
	}

	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= clearBatchSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := iter.Err(); err != nil {
		return stats, archerrors.Wrap(archerrors.KindStorage, "failed to scan keys", err)
	}
	if err := flush(); err != nil {
		return stats, err
	}

	return stats, nil
}

// encodeMeta JSON-encodes each metadata value for hash storage.
func encodeMeta(meta map[string]any) (map[string]string, error) {
	fields := make(map[string]string, len(meta))
	for k, v := range meta {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata field %s; %w", k, err)
		}
		fields[k] = string(data)
	}
	return fields, nil
}

// decodeMeta reverses encodeMeta; undecodable values are kept verbatim.
func decodeMeta(fields map[string]string) map[string]any {
	meta := make(map[string]any, len(fields))
	for k, raw := range fields {
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			meta[k] = raw
			continue
		}
		meta[k] = v
	}
	return meta
}
