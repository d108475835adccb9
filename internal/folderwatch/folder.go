// Package folderwatch manages watched folders: one filesystem observer
// per folder, debounced event handling, and automatic ingestion through
// the pipeline. Folder configuration and stats persist in Redis;
// observers are ephemeral and rebuilt on startup.
package folderwatch

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	archerrors "lifearch/internal/errors"
)

// Folder status values.
const (
	StatusStopped = "stopped"
	StatusActive  = "active"
	StatusError   = "error"
)

const (
	keyFolders      = "archive:folder_watch:folders"
	keyFolderPrefix = "archive:folder_watch:folder:"
)

// Stats holds per-folder ingestion counters.
type Stats struct {
	FilesDetected  int64  `json:"files_detected"`
	FilesIngested  int64  `json:"files_ingested"`
	FilesSkipped   int64  `json:"files_skipped"`
	FilesFailed    int64  `json:"files_failed"`
	BytesProcessed int64  `json:"bytes_processed"`
	ErrorCount     int64  `json:"error_count"`
	LastActivity   string `json:"last_activity,omitempty"`
	LastError      string `json:"last_error,omitempty"`
}

// WatchedFolder is one configured watch target.
type WatchedFolder struct {
	ID        string    `json:"id"`
	Path      string    `json:"path"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	Status    string    `json:"status"`
	Stats     Stats     `json:"stats"`
}

func folderKey(id string) string {
	return keyFolderPrefix + id
}

// persistFolder writes a folder's configuration hash and registers its
// id in one transaction.
func persistFolder(ctx context.Context, client redis.UniversalClient, f *WatchedFolder) error {
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, folderKey(f.ID),
			"id", f.ID,
			"path", f.Path,
			"enabled", boolField(f.Enabled),
			"created_at", f.CreatedAt.UTC().Format(time.RFC3339),
			"status", f.Status,
		)
		pipe.SAdd(ctx, keyFolders, f.ID)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to persist watched folder", err)
	}
	return nil
}

// deleteFolder removes a folder's hash and id registration.
func deleteFolder(ctx context.Context, client redis.UniversalClient, id string) error {
	_, err := client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, folderKey(id))
		pipe.SRem(ctx, keyFolders, id)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to delete watched folder", err)
	}
	return nil
}

// loadFolders reads all persisted folders.
func loadFolders(ctx context.Context, client redis.UniversalClient) ([]*WatchedFolder, error) {
	ids, err := client.SMembers(ctx, keyFolders).Result()
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindStorage, "failed to list watched folders", err)
	}

	folders := make([]*WatchedFolder, 0, len(ids))
	for _, id := range ids {
		fields, err := client.HGetAll(ctx, folderKey(id)).Result()
		if err != nil {
			return nil, archerrors.Wrap(archerrors.KindStorage, "failed to read watched folder", err)
		}
		if len(fields) == 0 {
			continue
		}
		folders = append(folders, folderFromFields(id, fields))
	}
	return folders, nil
}

// loadStats reads the counter fields of a folder's hash.
func loadStats(ctx context.Context, client redis.UniversalClient, id string) (Stats, error) {
	fields, err := client.HGetAll(ctx, folderKey(id)).Result()
	if err != nil {
		return Stats{}, archerrors.Wrap(archerrors.KindStorage, "failed to read folder stats", err)
	}
	return statsFromFields(fields), nil
}

func folderFromFields(id string, fields map[string]string) *WatchedFolder {
	f := &WatchedFolder{
		ID:      id,
		Path:    fields["path"],
		Enabled: fields["enabled"] == "1",
		Status:  fields["status"],
		Stats:   statsFromFields(fields),
	}
	if ts, err := time.Parse(time.RFC3339, fields["created_at"]); err == nil {
		f.CreatedAt = ts
	}
	if f.Status == "" {
		f.Status = StatusStopped
	}
	return f
}

func statsFromFields(fields map[string]string) Stats {
	return Stats{
		FilesDetected:  intField(fields, "files_detected"),
		FilesIngested:  intField(fields, "files_ingested"),
		FilesSkipped:   intField(fields, "files_skipped"),
		FilesFailed:    intField(fields, "files_failed"),
		BytesProcessed: intField(fields, "bytes_processed"),
		ErrorCount:     intField(fields, "error_count"),
		LastActivity:   fields["last_activity"],
		LastError:      fields["last_error"],
	}
}

func intField(fields map[string]string, name string) int64 {
	n, _ := strconv.ParseInt(fields[name], 10, 64)
	return n
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
