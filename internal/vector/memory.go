package vector

import (
	"context"
	"math"
	"sort"
	"sync"
)

var _ Store = (*MemoryStore)(nil)

// MemoryStore is an in-process Store using brute-force cosine
// similarity. Used by tests and single-machine deployments without a
// Qdrant instance.
type MemoryStore struct {
	mu     sync.RWMutex
	points map[string]Point
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{points: map[string]Point{}}
}

func (s *MemoryStore) EnsureCollection(_ context.Context) error { return nil }

func (s *MemoryStore) Upsert(_ context.Context, points []Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range points {
		s.points[p.ID] = p
	}
	return nil
}

func (s *MemoryStore) Query(_ context.Context, vector []float32, limit int, filter map[string]string) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, p := range s.points {
		if !payloadMatches(p.Payload, filter) {
			continue
		}
		hits = append(hits, Hit{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: p.Payload,
		})
	}

	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemoryStore) PointsByDocument(_ context.Context, docID string) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, p := range s.points {
		if payloadMatches(p.Payload, map[string]string{"document_id": docID}) {
			hits = append(hits, Hit{ID: p.ID, Payload: p.Payload})
		}
	}
	return hits, nil
}

func (s *MemoryStore) DeleteByDocument(_ context.Context, docID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range s.points {
		if payloadMatches(p.Payload, map[string]string{"document_id": docID}) {
			delete(s.points, id)
		}
	}
	return nil
}

// Len returns the stored point count.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.points)
}

func payloadMatches(payload map[string]any, filter map[string]string) bool {
	for field, want := range filter {
		got, ok := payload[field].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cosine(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
