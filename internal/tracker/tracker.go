// Package tracker is the authoritative document store: it maps
// documents to their chunk nodes, holds full document metadata, and
// maintains filter indexes for equality queries.
package tracker

import (
	"context"
	"encoding/json"
	"fmt"
)

// UpdateMode selects how UpdateFullMetadata treats existing metadata.
type UpdateMode string

const (
	// ModeUpdate merges updates into existing metadata. List fields
	// merge (tags as a set union, content_dates and provenance by
	// append); scalar fields are overwritten.
	ModeUpdate UpdateMode = "update"
	// ModeReplace discards existing metadata entirely.
	ModeReplace UpdateMode = "replace"
)

// indexedFields are the metadata fields maintained as filter indexes.
var indexedFields = []string{"theme", "mime_type", "status"}

// listMergeFields are list-valued metadata fields with merge semantics
// under ModeUpdate.
var listMergeFields = map[string]bool{
	"tags":          true,
	"content_dates": true,
	"provenance":    true,
}

// ClearStats summarises a ClearAll sweep.
type ClearStats struct {
	KeysDeleted int64
	Documents   int64
}

// Tracker is the document tracking contract, satisfied by both the
// Redis and the JSON-file backend.
type Tracker interface {
	// Add registers a document's ordered node list and adds it to the
	// membership index.
	Add(ctx context.Context, docID string, nodeIDs []string) error

	// Remove deletes a document's nodes, metadata, and index entries.
	Remove(ctx context.Context, docID string) error

	// StoreFullMetadata writes the document's metadata and populates
	// filter indexes for the indexable fields.
	StoreFullMetadata(ctx context.Context, docID string, meta map[string]any) error

	// UpdateFullMetadata applies updates per the given mode and keeps
	// filter indexes consistent with the new values.
	UpdateFullMetadata(ctx context.Context, docID string, updates map[string]any, mode UpdateMode) error

	// GetFullMetadata returns the document's metadata.
	GetFullMetadata(ctx context.Context, docID string) (map[string]any, error)

	// GetNodes returns the document's node ids in insertion order.
	GetNodes(ctx context.Context, docID string) ([]string, error)

	// DocumentExists reports membership in the all-documents index.
	DocumentExists(ctx context.Context, docID string) (bool, error)

	// AllDocuments lists every tracked document id.
	AllDocuments(ctx context.Context) ([]string, error)

	// QueryByFilters returns the ids matching all filters. Equality on
	// indexed fields uses set intersection; operator filters and
	// non-indexed fields are evaluated against full metadata.
	QueryByFilters(ctx context.Context, filters map[string]any) ([]string, error)

	// Count returns the tracked document count.
	Count(ctx context.Context) (int64, error)

	// ClearAll removes every tracked document.
	ClearAll(ctx context.Context) (ClearStats, error)
}

// Classification carries the document's thematic classification. The
// wire form is either a bare theme string or an object, both accepted.
type Classification struct {
	Theme           string `json:"theme"`
	PrimarySubtheme string `json:"primary_subtheme,omitempty"`
}

// UnmarshalJSON accepts `"finances"` as shorthand for
// `{"theme": "finances"}`.
func (c *Classification) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		c.Theme = s
		c.PrimarySubtheme = ""
		return nil
	}

	type alias Classification
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return fmt.Errorf("failed to decode classification; %w", err)
	}
	*c = Classification(a)
	return nil
}

// indexValue resolves the value a document's metadata contributes to a
// filter index. Theme is nested inside classifications; the rest are
// top-level strings.
func indexValue(field string, meta map[string]any) (string, bool) {
	if field == "theme" {
		return themeOf(meta)
	}
	v, ok := meta[field]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// themeOf extracts the theme from the classifications value, tolerating
// the string shorthand, a decoded map, or a Classification struct.
func themeOf(meta map[string]any) (string, bool) {
	raw, ok := meta["classifications"]
	if !ok {
		return "", false
	}

	switch v := raw.(type) {
	case string:
		if v != "" {
			return v, true
		}
	case Classification:
		if v.Theme != "" {
			return v.Theme, true
		}
	case *Classification:
		if v != nil && v.Theme != "" {
			return v.Theme, true
		}
	case map[string]any:
		if theme, ok := v["theme"].(string); ok && theme != "" {
			return theme, true
		}
	}
	return "", false
}

// mergeMetadata computes the post-update metadata for ModeUpdate.
func mergeMetadata(old, updates map[string]any) map[string]any {
	merged := make(map[string]any, len(old)+len(updates))
	for k, v := range old {
		merged[k] = v
	}
	for k, v := range updates {
		if !listMergeFields[k] {
			merged[k] = v
			continue
		}
		if k == "tags" {
			merged[k] = unionStrings(toAnySlice(old[k]), toAnySlice(v))
		} else {
			merged[k] = append(toAnySlice(old[k]), toAnySlice(v)...)
		}
	}
	return merged
}

// unionStrings merges two tag lists preserving first-seen order.
func unionStrings(a, b []any) []any {
	seen := make(map[string]bool, len(a)+len(b))
	var out []any
	for _, v := range append(a, b...) {
		s, ok := v.(string)
		if !ok {
			out = append(out, v)
			continue
		}
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

// toAnySlice coerces a metadata value into a []any list.
func toAnySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	default:
		return []any{t}
	}
}
