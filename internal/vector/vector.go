// Package vector abstracts the chunk-embedding store. The production
// backend is Qdrant; an in-memory backend serves tests and small
// deployments.
package vector

import "context"

// Point is one chunk embedding with its retrieval payload. The payload
// always carries document_id plus the minimal chunk metadata so search
// results are self-contained.
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// Hit is a scored query result.
type Hit struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// Store is the vector store contract.
type Store interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context) error

	// Upsert writes points, replacing any with the same id.
	Upsert(ctx context.Context, points []Point) error

	// Query returns up to limit nearest points. A non-nil filter
	// restricts results to points whose payload matches every entry.
	Query(ctx context.Context, vector []float32, limit int, filter map[string]string) ([]Hit, error)

	// PointsByDocument returns every point whose payload document_id
	// matches, in no particular order.
	PointsByDocument(ctx context.Context, docID string) ([]Hit, error)

	// DeleteByDocument removes all points belonging to a document.
	DeleteByDocument(ctx context.Context, docID string) error
}
