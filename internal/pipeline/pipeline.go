// Package pipeline drives document ingestion: hash, vault storage,
// extraction, chunking, indexing, and enrichment scheduling.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"lifearch/internal/activity"
	"lifearch/internal/bm25"
	"lifearch/internal/chunk"
	archerrors "lifearch/internal/errors"
	"lifearch/internal/events"
	"lifearch/internal/extract"
	"lifearch/internal/llm"
	"lifearch/internal/metrics"
	"lifearch/internal/progress"
	"lifearch/internal/queue"
	"lifearch/internal/tracker"
	"lifearch/internal/vault"
	"lifearch/internal/vector"
)

const (
	// Enrichment thresholds on extracted text length.
	minTextForDates = 50
	minTextForTags  = 100

	// lockTTL bounds the per-hash import lock so a crashed importer
	// cannot wedge the hash forever.
	lockTTL = 30 * time.Second
	// lockRetryInterval is the poll interval while another import
	// holds the hash lock.
	lockRetryInterval = 100 * time.Millisecond
)

// Request describes one file to ingest.
type Request struct {
	Path       string
	MIMEHint   string
	Tags       []string
	Metadata   map[string]any
	SessionID  string
	DocumentID string
}

// Result is the ingestion outcome.
type Result struct {
	DocumentID string `json:"file_id"`
	Hash       string `json:"hash"`
	Size       int64  `json:"size"`
	MIMEType   string `json:"mime_type"`
	Status     string `json:"status"`
	Deduped    bool   `json:"deduped,omitempty"`
	Chunks     int    `json:"chunks"`
}

// reservedKeys are metadata fields the pipeline owns; caller-supplied
// metadata never overwrites them.
var reservedKeys = map[string]bool{
	"document_id":       true,
	"file_hash":         true,
	"size_bytes":        true,
	"uploaded_at":       true,
	"mime_type":         true,
	"status":            true,
	"title":             true,
	"original_path":     true,
	"extraction_method": true,
	"provenance":        true,
}

// Pipeline wires the ingestion dependencies.
type Pipeline struct {
	vault     *vault.Vault
	extractor *extract.Extractor
	splitter  *chunk.Splitter
	tracker   tracker.Tracker
	index     *bm25.Index
	vectors   vector.Store
	embedder  llm.Embedder
	queue     *queue.Queue
	progress  *progress.Tracker
	activity  *activity.Log
	client    redis.UniversalClient
	logger    *slog.Logger

	enrichmentEnabled bool
}

// Deps carries the pipeline's dependencies.
type Deps struct {
	Vault     *vault.Vault
	Extractor *extract.Extractor
	Splitter  *chunk.Splitter
	Tracker   tracker.Tracker
	Index     *bm25.Index
	Vectors   vector.Store
	Embedder  llm.Embedder
	Queue     *queue.Queue
	Progress  *progress.Tracker
	Activity  *activity.Log
	Client    redis.UniversalClient
	Logger    *slog.Logger

	EnrichmentEnabled bool
}

// New creates a Pipeline.
func New(deps Deps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		vault:             deps.Vault,
		extractor:         deps.Extractor,
		splitter:          deps.Splitter,
		tracker:           deps.Tracker,
		index:             deps.Index,
		vectors:           deps.Vectors,
		embedder:          deps.Embedder,
		queue:             deps.Queue,
		progress:          deps.Progress,
		activity:          deps.Activity,
		client:            deps.Client,
		logger:            logger,
		enrichmentEnabled: deps.EnrichmentEnabled,
	}
}

// Ingest runs one file through the full pipeline. Duplicate content
// short-circuits to the existing document without error.
func (p *Pipeline) Ingest(ctx context.Context, req Request) (*Result, error) {
	started := time.Now()

	// Steps before document allocation leave no persistent state on
	// failure.
	hash, err := vault.HashFile(req.Path)
	if err != nil {
		return nil, archerrors.Wrap(archerrors.KindValidation, "file is unreadable", err)
	}

	mimeType := req.MIMEHint
	if mimeType == "" {
		mimeType = extract.DetectMIME(req.Path)
	}

	fileID := req.DocumentID
	if fileID == "" {
		fileID = uuid.NewString()
	}

	// Imports of identical bytes from concurrent sources serialise on
	// a short-lived per-hash lock, closing the window between the
	// dedup check and the metadata write.
	unlock, err := p.acquireHashLock(ctx, hash)
	if err != nil {
		return nil, err
	}
	defer unlock()

	p.progressStart(ctx, req.SessionID, fileID, filepath.Base(req.Path))

	put, err := p.vault.Put(req.Path, hash, mimeType)
	if err != nil {
		p.progressError(ctx, req.SessionID, fileID, events.StageUpload, err)
		metrics.IngestFailures.WithLabelValues("vault").Inc()
		return nil, archerrors.Wrap(archerrors.KindStorage, "vault store failed", err)
	}

	if put.Existed {
		if existingID, ok := p.findByHash(ctx, hash); ok {
			// Duplicate: reference the prior document, clean progress
			// without a completion event.
			if p.progress != nil {
				p.progress.Cleanup(ctx, fileID)
			}
			p.addActivity(ctx, "file_duplicate_skipped", map[string]any{
				"document_id": existingID,
				"path":        req.Path,
			})
			metrics.IngestDuplicates.Inc()
			return &Result{
				DocumentID: existingID,
				Hash:       hash,
				Size:       put.Size,
				MIMEType:   mimeType,
				Status:     "duplicate",
				Deduped:    true,
			}, nil
		}
	}

	result, err := p.process(ctx, req, fileID, hash, mimeType, put)
	if err != nil {
		p.failDocument(ctx, req.SessionID, fileID, hash, put, err)
		return nil, err
	}

	metrics.IngestDuration.Observe(time.Since(started).Seconds())
	metrics.DocumentsTotal.Inc()
	return result, nil
}

// process covers the steps after the document exists; any error here is
// turned into status=failed by the caller.
func (p *Pipeline) process(ctx context.Context, req Request, fileID, hash, mimeType string, put *vault.PutResult) (*Result, error) {
	p.progressUpdate(ctx, req.SessionID, fileID, events.StageExtract, 25, "extracting text")

	textRes := p.extractor.Text(ctx, req.Path, mimeType)
	formatMeta := p.extractor.Metadata(ctx, req.Path, mimeType)

	meta := p.buildMetadata(req, fileID, hash, mimeType, put.Size, textRes.Method, formatMeta)
	if err := p.tracker.StoreFullMetadata(ctx, fileID, meta); err != nil {
		return nil, err
	}

	p.progressUpdate(ctx, req.SessionID, fileID, events.StageIndex, 50, "indexing")

	nodes := p.splitter.Split(textRes.Text)
	if err := p.indexChunks(ctx, fileID, meta, nodes); err != nil {
		return nil, err
	}

	if err := p.index.Add(ctx, fileID, textRes.Text); err != nil {
		return nil, err
	}

	nodeIDs := make([]string, len(nodes))
	for i, n := range nodes {
		nodeIDs[i] = n.ID
	}
	if err := p.tracker.Add(ctx, fileID, nodeIDs); err != nil {
		return nil, err
	}

	// The document is fully indexed: mark it ready and record how it
	// got here.
	err := p.tracker.UpdateFullMetadata(ctx, fileID, map[string]any{
		"status": "ready",
		"provenance": []any{map[string]any{
			"action":    "import",
			"agent":     "ingestion_pipeline",
			"tool":      "file.import",
			"params":    map[string]any{"path": req.Path, "mime_type": mimeType},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		}},
	}, tracker.ModeUpdate)
	if err != nil {
		return nil, err
	}

	p.scheduleEnrichment(ctx, fileID, textRes.Text)

	p.progressComplete(ctx, req.SessionID, fileID, len(nodes), mimeType, put.Size)
	p.addActivity(ctx, "file_ingested", map[string]any{
		"document_id": fileID,
		"title":       meta["title"],
		"mime_type":   mimeType,
		"chunks":      len(nodes),
	})
	metrics.ChunksIndexed.Add(float64(len(nodes)))

	return &Result{
		DocumentID: fileID,
		Hash:       hash,
		Size:       put.Size,
		MIMEType:   mimeType,
		Status:     "ready",
		Chunks:     len(nodes),
	}, nil
}

// indexChunks embeds the chunk texts and upserts them with their
// retrieval payload. Zero chunks is valid and a no-op.
func (p *Pipeline) indexChunks(ctx context.Context, fileID string, meta map[string]any, nodes []chunk.Node) error {
	if len(nodes) == 0 {
		return nil
	}

	texts := make([]string, len(nodes))
	for i, n := range nodes {
		texts[i] = n.Text
	}
	vectors, err := p.embedder.Embed(ctx, texts)
	if err != nil {
		return err
	}
	if len(vectors) != len(nodes) {
		return archerrors.Newf(archerrors.KindInternal,
			"embedding mismatch: %d vectors for %d chunks", len(vectors), len(nodes))
	}

	hashShort := ""
	if h, _ := meta["file_hash"].(string); len(h) >= 12 {
		hashShort = h[:12]
	}
	theme := ""
	if c, ok := meta["classifications"].(map[string]any); ok {
		theme, _ = c["theme"].(string)
	}

	points := make([]vector.Point, len(nodes))
	for i, n := range nodes {
		points[i] = vector.Point{
			ID:     n.ID,
			Vector: vectors[i],
			Payload: map[string]any{
				"document_id":     fileID,
				"node_id":         n.ID,
				"text":            n.Text,
				"chunk_index":     n.Index,
				"prev_id":         n.PrevID,
				"next_id":         n.NextID,
				"title":           meta["title"],
				"mime_type":       meta["mime_type"],
				"status":          "ready",
				"theme":           theme,
				"uploaded_date":   meta["uploaded_at"],
				"file_hash_short": hashShort,
			},
		}
	}
	return p.vectors.Upsert(ctx, points)
}

// buildMetadata assembles the document's full metadata from file stat,
// extraction output, and caller overrides. Reserved keys win over the
// caller's metadata.
func (p *Pipeline) buildMetadata(req Request, fileID, hash, mimeType string, size int64, method extract.Method, formatMeta map[string]any) map[string]any {
	meta := map[string]any{}

	for k, v := range req.Metadata {
		if !reservedKeys[k] {
			meta[k] = v
		}
	}

	// Format-harvested metadata lands under document_* names so caller
	// metadata and core fields stay distinguishable.
	if v, ok := formatMeta["creation_date"]; ok {
		meta["document_created_at"] = v
	}
	if v, ok := formatMeta["modification_date"]; ok {
		meta["document_modified_at"] = v
	}
	for _, k := range []string{"author", "subject", "keywords", "camera_make", "camera_model", "date_taken", "page_count"} {
		if v, ok := formatMeta[k]; ok {
			meta[k] = v
		}
	}

	if len(req.Tags) > 0 {
		tags := make([]any, len(req.Tags))
		for i, t := range req.Tags {
			tags[i] = t
		}
		meta["tags"] = tags
	}

	meta["document_id"] = fileID
	meta["file_hash"] = hash
	meta["size_bytes"] = size
	meta["mime_type"] = mimeType
	meta["status"] = "processing"
	meta["title"] = filepath.Base(req.Path)
	meta["original_path"] = req.Path
	meta["extraction_method"] = string(method)
	meta["uploaded_at"] = time.Now().UTC().Format(time.RFC3339)

	if info, err := os.Stat(req.Path); err == nil {
		meta["file_modified_at_disk"] = info.ModTime().UTC().Format(time.RFC3339)
	}

	return meta
}

// scheduleEnrichment enqueues follow-up tasks. Enqueue failure is
// logged, never fatal.
func (p *Pipeline) scheduleEnrichment(ctx context.Context, fileID, text string) {
	if p.queue == nil {
		return
	}

	if len(text) >= minTextForDates {
		err := p.queue.Enqueue(ctx, queue.Task{
			Type:       queue.TaskDateExtraction,
			DocumentID: fileID,
			Data:       map[string]any{"text": text},
		})
		if err != nil {
			p.logger.Warn("failed to enqueue date extraction", "document_id", fileID, "error", err)
		}
	}

	if p.enrichmentEnabled && len(text) >= minTextForTags {
		err := p.queue.Enqueue(ctx, queue.Task{
			Type:       queue.TaskAutoTagging,
			DocumentID: fileID,
		})
		if err != nil {
			p.logger.Warn("failed to enqueue auto tagging", "document_id", fileID, "error", err)
		}
	}
}

// failDocument records a post-allocation failure: status=failed with
// the error message, error progress, and vault rollback when this
// import created the object.
func (p *Pipeline) failDocument(ctx context.Context, sessionID, fileID, hash string, put *vault.PutResult, cause error) {
	metrics.IngestFailures.WithLabelValues("process").Inc()

	err := p.tracker.UpdateFullMetadata(ctx, fileID, map[string]any{
		"status":        "failed",
		"error_message": cause.Error(),
	}, tracker.ModeUpdate)
	if err != nil {
		p.logger.Error("failed to record document failure", "document_id", fileID, "error", err)
	}

	p.progressError(ctx, sessionID, fileID, events.StageUpload, cause)

	if put != nil && !put.Existed {
		ext := ""
		if put.Path != "" {
			ext = vault.NormalizeExt(put.Path)
		}
		if !p.vault.Delete(hash, ext) {
			p.logger.Warn("vault rollback found nothing to delete", "hash", hash)
		}
	}
}

// DeleteDocument purges a document: vectors, BM25 row, tracker state,
// and the vault object when no other document shares its content.
func (p *Pipeline) DeleteDocument(ctx context.Context, fileID string) error {
	meta, err := p.tracker.GetFullMetadata(ctx, fileID)
	if err != nil {
		return err
	}

	if err := p.vectors.DeleteByDocument(ctx, fileID); err != nil {
		return err
	}
	if err := p.index.Remove(ctx, fileID); err != nil {
		return err
	}
	if err := p.tracker.Remove(ctx, fileID); err != nil {
		return err
	}

	hash, _ := meta["file_hash"].(string)
	if hash != "" {
		shared, err := p.tracker.QueryByFilters(ctx, map[string]any{"file_hash": hash})
		if err == nil && len(shared) == 0 {
			ext := ""
			if original, ok := meta["original_path"].(string); ok {
				ext = vault.NormalizeExt(original)
			}
			p.vault.Delete(hash, ext)
		}
	}

	p.addActivity(ctx, "file_deleted", map[string]any{"document_id": fileID})
	return nil
}

// findByHash locates an existing document with the given content hash.
func (p *Pipeline) findByHash(ctx context.Context, hash string) (string, bool) {
	ids, err := p.tracker.QueryByFilters(ctx, map[string]any{"file_hash": hash})
	if err != nil || len(ids) == 0 {
		return "", false
	}
	return ids[0], true
}

// acquireHashLock takes the per-hash import lock, polling until it is
// free or the context expires.
func (p *Pipeline) acquireHashLock(ctx context.Context, hash string) (func(), error) {
	if p.client == nil {
		return func() {}, nil
	}
	key := "archive:doc:lock:" + hash

	deadline := time.Now().Add(lockTTL)
	for {
		ok, err := p.client.SetNX(ctx, key, "1", lockTTL).Result()
		if err != nil {
			return nil, archerrors.Wrap(archerrors.KindUnavailable, "failed to acquire import lock", err)
		}
		if ok {
			return func() {
				if err := p.client.Del(context.Background(), key).Err(); err != nil {
					p.logger.Warn("failed to release import lock", "hash", hash, "error", err)
				}
			}, nil
		}
		if time.Now().After(deadline) {
			return nil, archerrors.Newf(archerrors.KindUnavailable, "import lock for %s held too long", hash)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("import cancelled; %w", ctx.Err())
		case <-time.After(lockRetryInterval):
		}
	}
}

func (p *Pipeline) progressStart(ctx context.Context, sessionID, fileID, name string) {
	if p.progress == nil {
		return
	}
	if err := p.progress.Start(ctx, sessionID, fileID, "uploading "+name); err != nil {
		p.logger.Warn("failed to start progress", "file_id", fileID, "error", err)
	}
}

func (p *Pipeline) progressUpdate(ctx context.Context, sessionID, fileID string, stage events.Stage, percent int, msg string) {
	if p.progress == nil {
		return
	}
	if err := p.progress.Update(ctx, sessionID, fileID, stage, percent, msg); err != nil {
		p.logger.Warn("failed to update progress", "file_id", fileID, "error", err)
	}
}

func (p *Pipeline) progressComplete(ctx context.Context, sessionID, fileID string, chunks int, mimeType string, size int64) {
	if p.progress == nil {
		return
	}
	msg := fmt.Sprintf("ingested with %d chunks", chunks)
	meta := map[string]any{
		"document_id": fileID,
		"chunks":      chunks,
		"mime_type":   mimeType,
		"size_bytes":  size,
	}
	if err := p.progress.Complete(ctx, sessionID, fileID, msg, meta); err != nil {
		p.logger.Warn("failed to complete progress", "file_id", fileID, "error", err)
	}
}

func (p *Pipeline) progressError(ctx context.Context, sessionID, fileID string, stage events.Stage, cause error) {
	if p.progress == nil {
		return
	}
	if err := p.progress.Error(ctx, sessionID, fileID, stage, cause.Error()); err != nil {
		p.logger.Warn("failed to record error progress", "file_id", fileID, "error", err)
	}
}

func (p *Pipeline) addActivity(ctx context.Context, eventType string, data map[string]any) {
	if p.activity == nil {
		return
	}
	if _, err := p.activity.Add(ctx, eventType, data); err != nil {
		p.logger.Warn("failed to record activity", "type", eventType, "error", err)
	}
}
