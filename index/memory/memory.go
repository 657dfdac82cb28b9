// Package memory implements an in-process index using brute-force cosine
// similarity. It is the reference Index implementation: useful for tests,
// small corpora, and as the baseline the backed index types must match.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	strata "github.com/davrell/strata"
)

// Index holds entries in memory, keyed by document then chunk.
type Index struct {
	mu      sync.RWMutex
	name    string
	entries map[string]map[string]strata.Entry
}

var _ strata.Index = (*Index)(nil)

// New creates an empty Index registered under the given type name.
func New(name string) *Index {
	return &Index{
		name:    name,
		entries: make(map[string]map[string]strata.Entry),
	}
}

func (idx *Index) Name() string { return idx.name }

// Ingest writes one entry. Re-ingesting an existing (document, chunk) pair
// overwrites it.
func (idx *Index) Ingest(_ context.Context, e strata.Entry) error {
	if e.DocumentID == "" || e.ChunkID == "" {
		return strata.Validationf("index entry requires document and chunk ids")
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	doc, ok := idx.entries[e.DocumentID]
	if !ok {
		doc = make(map[string]strata.Entry)
		idx.entries[e.DocumentID] = doc
	}
	doc[e.ChunkID] = e
	return nil
}

func (idx *Index) Delete(_ context.Context, documentID string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	delete(idx.entries, documentID)
	return nil
}

func (idx *Index) DeleteMany(_ context.Context, documentIDs []string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range documentIDs {
		delete(idx.entries, id)
	}
	return nil
}

// Search scans every entry, scoring by cosine similarity against q.Vector.
func (idx *Index) Search(_ context.Context, q strata.Query, opts strata.SearchOptions) ([]strata.Hit, error) {
	if len(q.Vector) == 0 {
		return nil, strata.Validationf("memory index requires a query vector")
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var hits []strata.Hit
	for docID, doc := range idx.entries {
		if !opts.Filter.Match(docID) {
			continue
		}
		for chunkID, e := range doc {
			score := cosineSimilarity(q.Vector, e.Vector)
			if opts.MaxDistance > 0 && 1-score > opts.MaxDistance {
				continue
			}
			hits = append(hits, strata.Hit{
				RelatedDocumentID: docID,
				RelatedChunkID:    chunkID,
				Score:             score,
			})
		}
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		// Stable order among equal scores keeps tests deterministic.
		return hits[i].RelatedChunkID < hits[j].RelatedChunkID
	})

	if limit := opts.EffectiveLimit(); len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Len reports the number of entries for a document.
func (idx *Index) Len(documentID string) int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.entries[documentID])
}

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}
