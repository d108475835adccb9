package folderwatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/semaphore"

	"lifearch/internal/activity"
	archerrors "lifearch/internal/errors"
	"lifearch/internal/metrics"
	"lifearch/internal/pipeline"
	"lifearch/internal/vault"
)

const (
	// DefaultDebounce is how long filesystem events must settle before
	// a file is ingested.
	DefaultDebounce = 2 * time.Second

	// DefaultConcurrency bounds simultaneous ingestions across all
	// watched folders.
	DefaultConcurrency = 5

	// DefaultMaxFolders caps the number of watched folders.
	DefaultMaxFolders = 100

	// maxFileSize is the largest file the watcher will ingest.
	maxFileSize = 100 << 20
)

// allowedExtensions is the watcher's ingestion allow-list.
var allowedExtensions = map[string]bool{
	".pdf": true, ".docx": true, ".doc": true, ".txt": true, ".md": true,
	".rtf": true, ".odt": true, ".xlsx": true, ".xls": true, ".csv": true,
}

// Ingestor runs one file through the ingestion pipeline.
type Ingestor interface {
	Ingest(ctx context.Context, req pipeline.Request) (*pipeline.Result, error)
}

// observer is one folder's filesystem watch.
type observer struct {
	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	done   chan struct{}
}

// Manager owns the watched-folder registry and their observers.
type Manager struct {
	client   redis.UniversalClient
	vault    *vault.Vault
	ingestor Ingestor
	activity *activity.Log
	logger   *slog.Logger

	sem        *semaphore.Weighted
	tasks      *debouncer
	debounce   time.Duration
	maxFolders int

	mu        sync.Mutex
	folders   map[string]*WatchedFolder
	byPath    map[string]string
	observers map[string]*observer
}

// Option configures the Manager.
type Option func(*Manager)

// WithDebounce sets the event settle window.
func WithDebounce(d time.Duration) Option {
	return func(m *Manager) { m.debounce = d }
}

// WithConcurrency bounds simultaneous ingestions.
func WithConcurrency(n int64) Option {
	return func(m *Manager) { m.sem = semaphore.NewWeighted(n) }
}

// WithMaxFolders caps the number of watched folders.
func WithMaxFolders(n int) Option {
	return func(m *Manager) { m.maxFolders = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) { m.logger = logger }
}

// NewManager creates a folder watch manager.
func NewManager(client redis.UniversalClient, vlt *vault.Vault, ingestor Ingestor, log *activity.Log, opts ...Option) *Manager {
	m := &Manager{
		client:     client,
		vault:      vlt,
		ingestor:   ingestor,
		activity:   log,
		logger:     slog.Default(),
		sem:        semaphore.NewWeighted(DefaultConcurrency),
		debounce:   DefaultDebounce,
		maxFolders: DefaultMaxFolders,
		folders:    make(map[string]*WatchedFolder),
		byPath:     make(map[string]string),
		observers:  make(map[string]*observer),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.tasks = newDebouncer(m.debounce)
	return m
}

// Initialize resumes persisted folders. Folders whose paths no longer
// exist are marked error and kept for review; enabled folders get
// their observers restarted.
func (m *Manager) Initialize(ctx context.Context) error {
	folders, err := loadFolders(ctx, m.client)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, f := range folders {
		if info, statErr := os.Stat(f.Path); statErr != nil || !info.IsDir() {
			f.Status = StatusError
			f.Stats.LastError = fmt.Sprintf("path no longer exists: %s", f.Path)
			m.client.HSet(ctx, folderKey(f.ID), "status", StatusError, "last_error", f.Stats.LastError)
			m.folders[f.ID] = f
			m.byPath[f.Path] = f.ID
			continue
		}

		m.folders[f.ID] = f
		m.byPath[f.Path] = f.ID

		if f.Enabled {
			if err := m.startObserverLocked(ctx, f); err != nil {
				m.logger.Warn("failed to resume folder observer", "folder_id", f.ID, "path", f.Path, "error", err)
				f.Status = StatusError
				f.Stats.LastError = err.Error()
				m.client.HSet(ctx, folderKey(f.ID), "status", StatusError, "last_error", err.Error())
			}
		} else {
			f.Status = StatusStopped
		}
	}

	metrics.WatchedFolders.Set(float64(len(m.folders)))
	m.logger.Info("folder watcher initialized", "folders", len(m.folders))
	return nil
}

// AddFolder registers a new watched folder. The observer starts before
// persistence; on persistence failure both are rolled back.
func (m *Manager) AddFolder(ctx context.Context, path string, enabled bool) (*WatchedFolder, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindValidation, "failed to resolve folder path", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindValidation, "folder path is not accessible", err)
	}
	if !info.IsDir() {
		return nil, archerrors.Newf(archerrors.KindValidation, "path is not a directory: %s", absPath)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.byPath[absPath]; exists {
		return nil, archerrors.Newf(archerrors.KindValidation, "folder already watched: %s", absPath)
	}
	if len(m.folders) >= m.maxFolders {
		return nil, archerrors.Newf(archerrors.KindValidation, "maximum watched folders reached (%d)", m.maxFolders)
	}

	f := &WatchedFolder{
		ID:        uuid.NewString(),
		Path:      absPath,
		Enabled:   enabled,
		CreatedAt: time.Now().UTC(),
		Status:    StatusStopped,
	}

	m.folders[f.ID] = f
	m.byPath[f.Path] = f.ID

	if enabled {
		if err := m.startObserverLocked(ctx, f); err != nil {
			delete(m.folders, f.ID)
			delete(m.byPath, f.Path)
			return nil, err
		}
	}

	if err := persistFolder(ctx, m.client, f); err != nil {
		m.stopObserverLocked(f.ID)
		delete(m.folders, f.ID)
		delete(m.byPath, f.Path)
		return nil, err
	}

	metrics.WatchedFolders.Set(float64(len(m.folders)))
	m.logger.Info("folder added", "folder_id", f.ID, "path", f.Path, "enabled", enabled)
	return snapshot(f), nil
}

// RemoveFolder deletes a watched folder. Order matters: observer and
// pending tasks stop first, then Redis, then memory. A Redis failure
// leaves memory registered so the folder is not silently lost.
func (m *Manager) RemoveFolder(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.folders[id]
	if !exists {
		return archerrors.Newf(archerrors.KindNotFound, "unknown folder: %s", id)
	}

	m.stopObserverLocked(id)
	m.tasks.CancelFolder(id)

	if err := deleteFolder(ctx, m.client, id); err != nil {
		if f.Enabled {
			if startErr := m.startObserverLocked(ctx, f); startErr != nil {
				m.logger.Warn("failed to restart observer after remove failure", "folder_id", id, "error", startErr)
			}
		}
		return err
	}

	delete(m.folders, id)
	delete(m.byPath, f.Path)
	metrics.WatchedFolders.Set(float64(len(m.folders)))
	m.logger.Info("folder removed", "folder_id", id, "path", f.Path)
	return nil
}

// SetEnabled toggles a folder's observer and persists the flag.
func (m *Manager) SetEnabled(ctx context.Context, id string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	f, exists := m.folders[id]
	if !exists {
		return archerrors.Newf(archerrors.KindNotFound, "unknown folder: %s", id)
	}
	if f.Enabled == enabled {
		return nil
	}

	if enabled {
		if err := m.startObserverLocked(ctx, f); err != nil {
			return err
		}
	} else {
		m.stopObserverLocked(id)
		m.tasks.CancelFolder(id)
		f.Status = StatusStopped
	}

	f.Enabled = enabled
	if err := m.client.HSet(ctx, folderKey(id), "enabled", boolField(enabled), "status", f.Status).Err(); err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to persist folder state", err)
	}
	return nil
}

// GetFolder returns a folder with its current stats.
func (m *Manager) GetFolder(ctx context.Context, id string) (*WatchedFolder, error) {
	m.mu.Lock()
	f, exists := m.folders[id]
	m.mu.Unlock()
	if !exists {
		return nil, archerrors.Newf(archerrors.KindNotFound, "unknown folder: %s", id)
	}

	stats, err := loadStats(ctx, m.client, id)
	if err != nil {
		return nil, err
	}

	out := snapshot(f)
	out.Stats = stats
	return out, nil
}

// Folders returns all watched folders with their stats, ordered by path.
func (m *Manager) Folders(ctx context.Context) ([]*WatchedFolder, error) {
	m.mu.Lock()
	ids := make([]string, 0, len(m.folders))
	for id := range m.folders {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	out := make([]*WatchedFolder, 0, len(ids))
	for _, id := range ids {
		f, err := m.GetFolder(ctx, id)
		if err != nil {
			if archerrors.IsKind(err, archerrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

// Stop shuts down all observers and drains pending tasks.
func (m *Manager) Stop() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.observers))
	for id := range m.observers {
		ids = append(ids, id)
	}
	for _, id := range ids {
		m.stopObserverLocked(id)
	}
	m.mu.Unlock()

	m.tasks.Stop()
}

// startObserverLocked starts a folder's filesystem observer. Caller
// holds m.mu.
func (m *Manager) startObserverLocked(_ context.Context, f *WatchedFolder) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return archerrors.Wrap(archerrors.KindInternal, "failed to create filesystem watcher", err)
	}
	if err := fsw.Add(f.Path); err != nil {
		fsw.Close()
		return archerrors.Wrap(archerrors.KindInternal, "failed to watch folder", err)
	}

	obsCtx, cancel := context.WithCancel(context.Background())
	obs := &observer{fsw: fsw, cancel: cancel, done: make(chan struct{})}
	m.observers[f.ID] = obs
	f.Status = StatusActive

	go m.observe(obsCtx, f.ID, obs)
	return nil
}

// stopObserverLocked stops a folder's observer if running. Caller holds
// m.mu.
func (m *Manager) stopObserverLocked(id string) {
	obs, exists := m.observers[id]
	if !exists {
		return
	}
	delete(m.observers, id)
	obs.cancel()
	obs.fsw.Close()
	<-obs.done
}

// observe is the per-folder event loop. Filesystem callbacks arrive on
// watcher threads; all shared state is reached through the debouncer
// and Redis, both safe for concurrent use.
func (m *Manager) observe(ctx context.Context, folderID string, obs *observer) {
	defer close(obs.done)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-obs.fsw.Events:
			if !ok {
				return
			}
			m.handleEvent(ctx, folderID, event)
		case err, ok := <-obs.fsw.Errors:
			if !ok {
				return
			}
			m.logger.Error("filesystem watcher error", "folder_id", folderID, "error", err)
			m.bumpStat(ctx, folderID, "error_count", 1)
		}
	}
}

// handleEvent filters one filesystem event and schedules the debounced
// ingestion task.
func (m *Manager) handleEvent(ctx context.Context, folderID string, event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}
	if !shouldIngest(event.Name) {
		return
	}

	path := event.Name
	m.tasks.Schedule(taskKey{folderID: folderID, path: path}, func() {
		m.ingestFile(ctx, folderID, path)
	})
}

// shouldIngest applies the extension allow-list and skips hidden and
// temporary files.
func shouldIngest(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}
	return allowedExtensions[strings.ToLower(filepath.Ext(name))]
}

// ingestFile verifies a settled file and runs it through the pipeline.
func (m *Manager) ingestFile(ctx context.Context, folderID, path string) {
	m.bumpStat(ctx, folderID, "files_detected", 1)

	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
		m.recordSkip(ctx, folderID, path, "missing or empty")
		return
	}
	if info.Size() > maxFileSize {
		m.recordSkip(ctx, folderID, path, "exceeds size limit")
		return
	}

	hash, err := vault.HashFile(path)
	if err != nil {
		m.recordFailure(ctx, folderID, path, err)
		return
	}
	if m.vault.Has(hash) {
		m.recordSkip(ctx, folderID, path, "duplicate content")
		m.addActivity(ctx, "folder_watch_duplicate_skipped", map[string]any{
			"folder_id": folderID,
			"path":      path,
			"hash":      hash,
		})
		return
	}

	if err := m.sem.Acquire(ctx, 1); err != nil {
		return
	}
	defer m.sem.Release(1)

	result, err := m.ingestor.Ingest(ctx, pipeline.Request{Path: path})
	if err != nil {
		m.recordFailure(ctx, folderID, path, err)
		return
	}
	if result.Status == "duplicate" {
		m.recordSkip(ctx, folderID, path, "duplicate content")
		return
	}

	m.bumpStat(ctx, folderID, "files_ingested", 1)
	m.bumpStat(ctx, folderID, "bytes_processed", result.Size)
	metrics.WatcherEvents.WithLabelValues("ingested").Inc()
	m.addActivity(ctx, "folder_watch_file_ingested", map[string]any{
		"folder_id":   folderID,
		"path":        path,
		"document_id": result.DocumentID,
		"size":        result.Size,
	})
	m.logger.Info("watched file ingested", "folder_id", folderID, "path", path, "document_id", result.DocumentID)
}

func (m *Manager) recordSkip(ctx context.Context, folderID, path, reason string) {
	m.bumpStat(ctx, folderID, "files_skipped", 1)
	metrics.WatcherEvents.WithLabelValues("skipped").Inc()
	m.logger.Debug("watched file skipped", "folder_id", folderID, "path", path, "reason", reason)
}

func (m *Manager) recordFailure(ctx context.Context, folderID, path string, cause error) {
	m.bumpStat(ctx, folderID, "files_failed", 1)
	m.bumpStat(ctx, folderID, "error_count", 1)
	metrics.WatcherEvents.WithLabelValues("failed").Inc()
	m.client.HSet(ctx, folderKey(folderID), "last_error", cause.Error())
	m.logger.Warn("watched file failed", "folder_id", folderID, "path", path, "error", cause)
}

// bumpStat atomically increments a folder counter and refreshes
// last_activity.
func (m *Manager) bumpStat(ctx context.Context, folderID, field string, delta int64) {
	_, err := m.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HIncrBy(ctx, folderKey(folderID), field, delta)
		pipe.HSet(ctx, folderKey(folderID), "last_activity", time.Now().UTC().Format(time.RFC3339))
		return nil
	})
	if err != nil {
		m.logger.Warn("failed to update folder stats", "folder_id", folderID, "field", field, "error", err)
	}
}

func (m *Manager) addActivity(ctx context.Context, eventType string, data map[string]any) {
	if m.activity == nil {
		return
	}
	if _, err := m.activity.Add(ctx, eventType, data); err != nil {
		m.logger.Warn("failed to record watcher activity", "type", eventType, "error", err)
	}
}

func snapshot(f *WatchedFolder) *WatchedFolder {
	out := *f
	return &out
}
