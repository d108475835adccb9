package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	archerrors "lifearch/internal/errors"
)

// jsonDocument is one tracked document in the file backend.
type jsonDocument struct {
	Nodes    []string       `json:"nodes"`
	Metadata map[string]any `json:"metadata"`
}

// jsonState is the on-disk shape of the file backend.
type jsonState struct {
	Documents map[string]*jsonDocument `json:"documents"`
	Count     int64                    `json:"count"`
}

var _ Tracker = (*JSONTracker)(nil)

// JSONTracker is a single-process file-backed Tracker with the same
// contract as the Redis backend. Queries are linear scans.
type JSONTracker struct {
	mu    sync.RWMutex
	path  string
	state jsonState
}

// NewJSONTracker loads or initialises a tracker file at path.
func NewJSONTracker(path string) (*JSONTracker, error) {
	t := &JSONTracker{
		path:  path,
		state: jsonState{Documents: map[string]*jsonDocument{}},
	}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return t, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tracker file; %w", err)
	}
	if err := json.Unmarshal(data, &t.state); err != nil {
		return nil, fmt.Errorf("failed to parse tracker file; %w", err)
	}
	if t.state.Documents == nil {
		t.state.Documents = map[string]*jsonDocument{}
	}
	return t, nil
}

// persist writes state atomically. Caller holds the write lock.
func (t *JSONTracker) persist() error {
	data, err := json.MarshalIndent(&t.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tracker state; %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("failed to create tracker directory; %w", err)
	}
	tmp := t.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write tracker state; %w", err)
	}
	if err := os.Rename(tmp, t.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace tracker state; %w", err)
	}
	return nil
}

func (t *JSONTracker) Add(_ context.Context, docID string, nodeIDs []string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, ok := t.state.Documents[docID]
	if !ok {
		doc = &jsonDocument{Metadata: map[string]any{}}
		t.state.Documents[docID] = doc
	}
	doc.Nodes = append(doc.Nodes, nodeIDs...)
	t.state.Count++
	return t.persist()
}

func (t *JSONTracker) Remove(_ context.Context, docID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.state.Documents[docID]; !ok {
		return nil
	}
	delete(t.state.Documents, docID)
	t.state.Count--
	return t.persist()
}

func (t *JSONTracker) StoreFullMetadata(_ context.Context, docID string, meta map[string]any) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, ok := t.state.Documents[docID]
	if !ok {
		doc = &jsonDocument{}
		t.state.Documents[docID] = doc
	}
	doc.Metadata = normalizeMeta(meta)
	return t.persist()
}

func (t *JSONTracker) UpdateFullMetadata(_ context.Context, docID string, updates map[string]any, mode UpdateMode) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	doc, ok := t.state.Documents[docID]
	if !ok {
		doc = &jsonDocument{Metadata: map[string]any{}}
		t.state.Documents[docID] = doc
	}

	switch mode {
	case ModeReplace:
		doc.Metadata = normalizeMeta(updates)
	default:
		doc.Metadata = mergeMetadata(doc.Metadata, normalizeMeta(updates))
	}
	return t.persist()
}

func (t *JSONTracker) GetFullMetadata(_ context.Context, docID string) (map[string]any, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	doc, ok := t.state.Documents[docID]
	if !ok {
		return nil, archerrors.Newf(archerrors.KindNotFound, "document %s not found", docID)
	}
	out := make(map[string]any, len(doc.Metadata))
	for k, v := range doc.Metadata {
		out[k] = v
	}
	return out, nil
}

func (t *JSONTracker) GetNodes(_ context.Context, docID string) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	doc, ok := t.state.Documents[docID]
	if !ok {
		return nil, nil
	}
	return append([]string(nil), doc.Nodes...), nil
}

func (t *JSONTracker) DocumentExists(_ context.Context, docID string) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.state.Documents[docID]
	return ok, nil
}

func (t *JSONTracker) AllDocuments(_ context.Context) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.state.Documents))
	for id := range t.state.Documents {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (t *JSONTracker) QueryByFilters(_ context.Context, filters map[string]any) ([]string, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	indexed, residual := splitFilters(filters)
	// The file backend has no index sets; indexed equality filters are
	// evaluated the same way as residual ones.
	all := map[string]any{}
	for field, value := range indexed {
		all[field] = value
	}
	for field, cond := range residual {
		all[field] = cond
	}

	var matched []string
	for id, doc := range t.state.Documents {
		if matchesFilters(doc.Metadata, all) {
			matched = append(matched, id)
		}
	}
	sort.Strings(matched)
	return matched, nil
}

func (t *JSONTracker) Count(_ context.Context) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.state.Count, nil
}

func (t *JSONTracker) ClearAll(_ context.Context) (ClearStats, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := ClearStats{Documents: int64(len(t.state.Documents))}
	t.state = jsonState{Documents: map[string]*jsonDocument{}}
	if err := t.persist(); err != nil {
		return stats, err
	}
	return stats, nil
}

// normalizeMeta round-trips metadata through JSON so both backends hand
// callers the same value types regardless of what was stored.
func normalizeMeta(meta map[string]any) map[string]any {
	data, err := json.Marshal(meta)
	if err != nil {
		return meta
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return meta
	}
	return out
}
