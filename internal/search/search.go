// Package search implements retrieval over the archive: semantic
// (vector), keyword (BM25), and hybrid fusion of the two.
package search

import (
	"context"
	"log/slog"
	"sort"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"lifearch/internal/bm25"
	archerrors "lifearch/internal/errors"
	"lifearch/internal/llm"
	"lifearch/internal/metrics"
	"lifearch/internal/tracker"
	"lifearch/internal/vector"
)

// Mode selects the retrieval strategy.
type Mode string

const (
	ModeSemantic Mode = "semantic"
	ModeKeyword  Mode = "keyword"
	ModeHybrid   Mode = "hybrid"
)

// Similarity thresholds for the semantic path.
const (
	// ThresholdDefault is the standard semantic search cutoff.
	ThresholdDefault = 0.7
	// ThresholdDiscovery is the relaxed cutoff used for neighbour
	// discovery and as the semantic half of hybrid search.
	ThresholdDiscovery = 0.3
	// ThresholdContext is the cutoff for Q&A context building.
	ThresholdContext = 0.45

	// semanticWeight is the hybrid fusion weight for semantic scores.
	semanticWeight = 0.6
	// overlapBonus rewards documents found by both retrieval paths.
	overlapBonus = 0.1
	// semanticOnlyBoost lifts semantic-only hits.
	semanticOnlyBoost = 1.2

	// snippetLimit caps result text length.
	snippetLimit = 500
	// neighbourQueryLimit caps the text taken from a document's first
	// chunk when searching for related documents.
	neighbourQueryLimit = 2000
)

// Result is one search hit.
type Result struct {
	DocumentID string         `json:"document_id"`
	NodeID     string         `json:"node_id,omitempty"`
	Text       string         `json:"text,omitempty"`
	Score      float64        `json:"score"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	SearchType string         `json:"search_type"`
}

// Service runs searches against the vector store, the BM25 index, and
// the tracker.
type Service struct {
	vectors  vector.Store
	index    *bm25.Index
	tracker  tracker.Tracker
	embedder llm.Embedder
	logger   *slog.Logger
}

// New creates a Service.
func New(vectors vector.Store, index *bm25.Index, tr tracker.Tracker, embedder llm.Embedder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{vectors: vectors, index: index, tracker: tr, embedder: embedder, logger: logger}
}

// Search dispatches by mode. The filter map uses the tracker's filter
// grammar.
func (s *Service) Search(ctx context.Context, query string, mode Mode, topK int, filters map[string]any) ([]Result, error) {
	if query == "" {
		return nil, archerrors.New(archerrors.KindValidation, "Query cannot be empty")
	}
	if topK <= 0 {
		topK = 10
	}

	started := time.Now()
	defer func() {
		metrics.SearchDuration.WithLabelValues(string(mode)).Observe(time.Since(started).Seconds())
	}()

	switch mode {
	case ModeSemantic, "":
		return s.Semantic(ctx, query, topK, ThresholdDefault, filters)
	case ModeKeyword:
		return s.Keyword(ctx, query, topK, filters)
	case ModeHybrid:
		return s.Hybrid(ctx, query, topK, filters)
	default:
		return nil, archerrors.Newf(archerrors.KindValidation, "unknown search mode %q", mode)
	}
}

// Semantic embeds the query and ranks vector-store neighbours above the
// similarity threshold. Over-fetches 2x to survive filter attrition.
func (s *Service) Semantic(ctx context.Context, query string, topK int, threshold float64, filters map[string]any) ([]Result, error) {
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, archerrors.New(archerrors.KindUnavailable, "embedder returned no vector")
	}

	hits, err := s.vectors.Query(ctx, vectors[0], 2*topK, nil)
	if err != nil {
		return nil, err
	}

	matched, err := s.filterDocuments(ctx, filters)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, hit := range hits {
		if float64(hit.Score) < threshold {
			continue
		}
		docID, _ := hit.Payload["document_id"].(string)
		if matched != nil && !matched[docID] {
			continue
		}
		text, _ := hit.Payload["text"].(string)
		results = append(results, Result{
			DocumentID: docID,
			NodeID:     hit.ID,
			Text:       truncate(text, snippetLimit),
			Score:      float64(hit.Score),
			Metadata:   hit.Payload,
			SearchType: string(ModeSemantic),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Keyword runs BM25 and joins document metadata from the tracker.
func (s *Service) Keyword(ctx context.Context, query string, topK int, filters map[string]any) ([]Result, error) {
	scored := s.index.Search(query, 2*topK, 0)
	if len(scored) == 0 {
		return nil, nil
	}

	matched, err := s.filterDocuments(ctx, filters)
	if err != nil {
		return nil, err
	}

	var results []Result
	for _, r := range scored {
		if matched != nil && !matched[r.DocID] {
			continue
		}
		meta, err := s.tracker.GetFullMetadata(ctx, r.DocID)
		if err != nil {
			if archerrors.IsKind(err, archerrors.KindNotFound) {
				continue
			}
			return nil, err
		}
		results = append(results, Result{
			DocumentID: r.DocID,
			Score:      r.Score,
			Metadata:   meta,
			SearchType: string(ModeKeyword),
		})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

// Hybrid runs semantic and keyword retrieval in parallel and fuses them
// by document: overlap hits get a weighted blend plus a bonus,
// single-path hits get their path's boost.
func (s *Service) Hybrid(ctx context.Context, query string, topK int, filters map[string]any) ([]Result, error) {
	var semantic, keyword []Result

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		semantic, err = s.Semantic(gctx, query, topK, ThresholdDiscovery, filters)
		return err
	})
	g.Go(func() error {
		var err error
		keyword, err = s.Keyword(gctx, query, topK, filters)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	semByDoc := map[string]Result{}
	for _, r := range semantic {
		if prev, ok := semByDoc[r.DocumentID]; !ok || r.Score > prev.Score {
			semByDoc[r.DocumentID] = r
		}
	}
	kwByDoc := map[string]Result{}
	for _, r := range keyword {
		if _, ok := kwByDoc[r.DocumentID]; !ok {
			kwByDoc[r.DocumentID] = r
		}
	}

	var fused []Result
	for docID, sem := range semByDoc {
		if kw, ok := kwByDoc[docID]; ok {
			sem.Score = semanticWeight*sem.Score + (1-semanticWeight)*kw.Score + overlapBonus
			sem.SearchType = "hybrid_both"
		} else {
			sem.Score *= semanticOnlyBoost
			sem.SearchType = "hybrid_semantic"
		}
		fused = append(fused, sem)
	}
	for docID, kw := range kwByDoc {
		if _, ok := semByDoc[docID]; ok {
			continue
		}
		kw.Score *= 1 - semanticWeight
		kw.SearchType = "hybrid_keyword"
		fused = append(fused, kw)
	}

	sort.SliceStable(fused, func(a, b int) bool { return fused[a].Score > fused[b].Score })
	if len(fused) > topK {
		fused = fused[:topK]
	}
	return fused, nil
}

// DocumentNeighbours finds documents similar to the given one, using
// its first chunk as the query and excluding the document itself.
func (s *Service) DocumentNeighbours(ctx context.Context, docID string, topK int) ([]Result, error) {
	points, err := s.vectors.PointsByDocument(ctx, docID)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, archerrors.Newf(archerrors.KindNotFound, "document %s has no chunks", docID)
	}

	first := points[0]
	for _, p := range points {
		if idx, ok := chunkIndex(p.Payload); ok && idx == 0 {
			first = p
			break
		}
	}
	text, _ := first.Payload["text"].(string)
	query := truncate(text, neighbourQueryLimit)
	if query == "" {
		return nil, nil
	}

	results, err := s.Semantic(ctx, query, topK+1, ThresholdDiscovery, nil)
	if err != nil {
		return nil, err
	}

	var out []Result
	for _, r := range results {
		if r.DocumentID == docID {
			continue
		}
		out = append(out, r)
		if len(out) == topK {
			break
		}
	}
	return out, nil
}

// filterDocuments resolves a metadata filter to the set of matching
// document ids. A nil return means no filter is in effect.
func (s *Service) filterDocuments(ctx context.Context, filters map[string]any) (map[string]bool, error) {
	if len(filters) == 0 {
		return nil, nil
	}

	ids, err := s.tracker.QueryByFilters(ctx, filters)
	if err != nil {
		return nil, err
	}
	matched := make(map[string]bool, len(ids))
	for _, id := range ids {
		matched[id] = true
	}
	return matched, nil
}

func chunkIndex(payload map[string]any) (int, bool) {
	switch v := payload["chunk_index"].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

// truncate cuts s to at most limit bytes without splitting a rune.
func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
