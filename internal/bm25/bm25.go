// Package bm25 is the keyword half of hybrid retrieval: an in-memory
// Okapi BM25 index over tokenised documents, persisted to Redis after
// every mutation so restarts rebuild the exact corpus.
package bm25

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"sort"
	"sync"

	"github.com/redis/go-redis/v9"

	archerrors "lifearch/internal/errors"
)

const (
	k1 = 1.5
	b  = 0.75

	keyCorpus = "archive:bm25:corpus"
	keyDocIDs = "archive:bm25:doc_ids"
	keyCount  = "archive:bm25:count"
)

// Result is one scored document.
type Result struct {
	DocID string
	Score float64
}

// Index is an in-memory BM25 index aligned one token list per document
// id. Mutations persist the full corpus to Redis in a transaction.
type Index struct {
	mu     sync.RWMutex
	docIDs []string
	corpus [][]string

	client redis.UniversalClient
	logger *slog.Logger
}

// New creates an empty index backed by the given Redis client.
func New(client redis.UniversalClient, logger *slog.Logger) *Index {
	if logger == nil {
		logger = slog.Default()
	}
	return &Index{client: client, logger: logger}
}

// Load rebuilds the index from its Redis snapshot. A missing snapshot
// leaves the index empty.
func (ix *Index) Load(ctx context.Context) error {
	rawCorpus, err := ix.client.Get(ctx, keyCorpus).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to load corpus", err)
	}
	rawIDs, err := ix.client.Get(ctx, keyDocIDs).Result()
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to load doc ids", err)
	}

	var corpus [][]string
	if err := json.Unmarshal([]byte(rawCorpus), &corpus); err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "corrupt corpus snapshot", err)
	}
	var docIDs []string
	if err := json.Unmarshal([]byte(rawIDs), &docIDs); err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "corrupt doc id snapshot", err)
	}
	if len(corpus) != len(docIDs) {
		return archerrors.Newf(archerrors.KindStorage,
			"snapshot misaligned: %d token lists for %d documents", len(corpus), len(docIDs))
	}

	ix.mu.Lock()
	ix.corpus = corpus
	ix.docIDs = docIDs
	ix.mu.Unlock()

	ix.logger.Info("bm25 index loaded", "documents", len(docIDs))
	return nil
}

// Add tokenises text and appends it under docID. A document producing
// zero tokens is still added to keep corpus and id lists aligned.
func (ix *Index) Add(ctx context.Context, docID, text string) error {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		ix.logger.Warn("document produced no tokens", "document_id", docID)
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	ix.docIDs = append(ix.docIDs, docID)
	ix.corpus = append(ix.corpus, tokens)
	return ix.persistLocked(ctx)
}

// Remove drops a document from the index. Unknown ids are a no-op.
func (ix *Index) Remove(ctx context.Context, docID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	idx := -1
	for i, id := range ix.docIDs {
		if id == docID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}

	// Build fresh slices rather than shifting in place: Search snapshots
	// the slice headers under RLock and scores unlocked, so the old
	// backing arrays must stay immutable once published.
	docIDs := make([]string, 0, len(ix.docIDs)-1)
	corpus := make([][]string, 0, len(ix.corpus)-1)
	docIDs = append(docIDs, ix.docIDs[:idx]...)
	docIDs = append(docIDs, ix.docIDs[idx+1:]...)
	corpus = append(corpus, ix.corpus[:idx]...)
	corpus = append(corpus, ix.corpus[idx+1:]...)
	ix.docIDs = docIDs
	ix.corpus = corpus
	return ix.persistLocked(ctx)
}

// Reconcile removes every indexed document the keep predicate rejects.
// Run at startup to drop rows orphaned by a crash between index and
// tracker writes.
func (ix *Index) Reconcile(ctx context.Context, keep func(docID string) bool) (int, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	var docIDs []string
	var corpus [][]string
	removed := 0
	for i, id := range ix.docIDs {
		if keep(id) {
			docIDs = append(docIDs, id)
			corpus = append(corpus, ix.corpus[i])
			continue
		}
		removed++
		ix.logger.Warn("dropping orphaned index row", "document_id", id)
	}

	if removed == 0 {
		return 0, nil
	}
	ix.docIDs = docIDs
	ix.corpus = corpus
	return removed, ix.persistLocked(ctx)
}

// DocumentIDs returns a copy of the indexed ids in insertion order.
func (ix *Index) DocumentIDs() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]string(nil), ix.docIDs...)
}

// Len returns the indexed document count.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.docIDs)
}

// Search scores the query against the whole corpus and returns up to
// topK results with score >= minScore, best first. Ties keep insertion
// order.
func (ix *Index) Search(query string, topK int, minScore float64) []Result {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || topK <= 0 {
		return nil
	}

	ix.mu.RLock()
	docIDs := ix.docIDs
	corpus := ix.corpus
	ix.mu.RUnlock()

	n := len(corpus)
	if n == 0 {
		return nil
	}

	// Document frequencies and average length over the corpus.
	df := make(map[string]int)
	totalLen := 0
	for _, doc := range corpus {
		totalLen += len(doc)
		seen := make(map[string]struct{}, len(doc))
		for _, tok := range doc {
			if _, ok := seen[tok]; !ok {
				seen[tok] = struct{}{}
				df[tok]++
			}
		}
	}
	avgLen := float64(totalLen) / float64(n)
	if avgLen == 0 {
		avgLen = 1
	}

	idf := make(map[string]float64, len(queryTokens))
	for _, tok := range queryTokens {
		d := float64(df[tok])
		idf[tok] = math.Log((float64(n)-d+0.5)/(d+0.5) + 1)
	}

	var results []Result
	for i, doc := range corpus {
		tf := make(map[string]int, len(doc))
		for _, tok := range doc {
			tf[tok]++
		}

		score := 0.0
		norm := k1 * (1 - b + b*float64(len(doc))/avgLen)
		for _, tok := range queryTokens {
			f := float64(tf[tok])
			if f == 0 {
				continue
			}
			score += idf[tok] * f * (k1 + 1) / (f + norm)
		}
		if score >= minScore && score > 0 {
			results = append(results, Result{DocID: docIDs[i], Score: score})
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results
}

// persistLocked snapshots the corpus to Redis inside a transaction.
// Caller holds the write lock.
func (ix *Index) persistLocked(ctx context.Context) error {
	corpusData, err := json.Marshal(ix.corpus)
	if err != nil {
		return archerrors.Wrap(archerrors.KindInternal, "failed to encode corpus", err)
	}
	idsData, err := json.Marshal(ix.docIDs)
	if err != nil {
		return archerrors.Wrap(archerrors.KindInternal, "failed to encode doc ids", err)
	}

	_, err = ix.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, keyCorpus, corpusData, 0)
		pipe.Set(ctx, keyDocIDs, idsData, 0)
		pipe.Set(ctx, keyCount, len(ix.docIDs), 0)
		return nil
	})
	if err != nil {
		return archerrors.Wrap(archerrors.KindStorage, "failed to persist index", err)
	}
	return nil
}
