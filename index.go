package strata

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// DefaultSearchLimit caps search results when SearchOptions.Limit is not set.
const DefaultSearchLimit = 50

// Entry is one indexable unit handed to an Index: a chunk's vector and text
// plus the (documentID, chunkID) pair every hit must resolve back to.
type Entry struct {
	DocumentID string // owning source id
	ChunkID    string
	ContentID  string // parent content block, for parent-child resolution
	Text       string
	Vector     []float32
	Metadata   map[string]any
}

// Query carries both representations of the caller's query so vector and
// lexical index types can serve the same contract. Vector-based types read
// Vector; keyword types read Text. At least one is always non-empty.
type Query struct {
	Vector []float32
	Text   string
}

// Filter restricts a search to a subset of documents. The zero value
// matches everything.
type Filter struct {
	DocumentIDs []string
}

// Match reports whether a document id passes the filter.
func (f Filter) Match(documentID string) bool {
	if len(f.DocumentIDs) == 0 {
		return true
	}
	for _, id := range f.DocumentIDs {
		if id == documentID {
			return true
		}
	}
	return false
}

// String renders the filter for log output.
func (f Filter) String() string {
	if len(f.DocumentIDs) == 0 {
		return "all"
	}
	return fmt.Sprintf("documents(%d)", len(f.DocumentIDs))
}

// SearchOptions tune one Search call.
type SearchOptions struct {
	// Limit caps the result count. Zero means DefaultSearchLimit (50).
	Limit int

	// MaxDistance is the maximum allowed cosine distance for a hit to
	// qualify. Hits above it are excluded before Limit is applied.
	//
	// Zero disables the threshold, so the zero SearchOptions means
	// "no cutoff". The trade-off is that an exact-match-only cutoff
	// of literally 0.0 is not expressible; callers wanting that pass
	// a tiny positive value (e.g. 1e-6) instead.
	MaxDistance float32

	Filter Filter
}

// EffectiveLimit resolves Limit against the documented default.
func (o SearchOptions) EffectiveLimit() int {
	if o.Limit > 0 {
		return o.Limit
	}
	return DefaultSearchLimit
}

// Hit is one index match. RelatedDocumentID and RelatedChunkID point at the
// live store rows the hit resolves to; Score is a similarity in [0, 1],
// higher is more relevant (score = 1 - cosine distance for vector types).
type Hit struct {
	RelatedDocumentID string
	RelatedChunkID    string
	Score             float32
}

// Index is one pluggable index type. Implementations define their own
// storage and search strategy; all of them guarantee that after Delete or
// DeleteMany no entry for the affected documents remains.
type Index interface {
	// Name returns the index type key, e.g. "parent-child".
	Name() string

	// Ingest writes one entry. Ingest calls for different chunks of the same
	// document may run concurrently.
	Ingest(ctx context.Context, e Entry) error

	// Delete removes all entries for a document. Deleting a document with no
	// entries is a no-op, not an error.
	Delete(ctx context.Context, documentID string) error

	// DeleteMany removes all entries for the listed documents in one call.
	DeleteMany(ctx context.Context, documentIDs []string) error

	// Search returns hits ordered by descending score.
	Search(ctx context.Context, q Query, opts SearchOptions) ([]Hit, error)
}

// Registry is a catalog of index implementations keyed by type name. Bulk
// operations iterate All() so no index type is missed on cleanup.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]Index
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]Index)}
}

// Register adds an index type. Registering a duplicate name is a
// configuration error.
func (r *Registry) Register(idx Index) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := idx.Name()
	if _, ok := r.byName[name]; ok {
		return Validationf("index type %q already registered", name)
	}
	r.byName[name] = idx
	return nil
}

// Get returns the index registered under name.
func (r *Registry) Get(name string) (Index, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx, ok := r.byName[name]
	if !ok {
		return nil, Validationf("unknown index type %q", name)
	}
	return idx, nil
}

// All returns every registered index in stable (name-sorted) order.
func (r *Registry) All() []Index {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.byName))
	for name := range r.byName {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]Index, len(names))
	for i, name := range names {
		out[i] = r.byName[name]
	}
	return out
}
