package strata

import (
	"context"
	"log/slog"
	"strings"
)

// Granularity selects what a resolved search hit returns.
type Granularity int

const (
	// GranularityChunk returns the matched chunk's own text (default).
	GranularityChunk Granularity = iota

	// GranularityContent returns the matched chunk's parent content block.
	// Multiple hits resolving to the same content are collapsed into one
	// result; the highest-ranked hit wins.
	GranularityContent
)

// RetrieverOption configures a Retriever.
type RetrieverOption func(*Retriever)

// WithIndexType sets the index type searched by the retriever.
// Default is "parent-child".
func WithIndexType(name string) RetrieverOption {
	return func(r *Retriever) { r.indexType = name }
}

// WithGranularity sets the result granularity. Default is GranularityChunk.
func WithGranularity(g Granularity) RetrieverOption {
	return func(r *Retriever) { r.granularity = g }
}

// WithRetrieverLogger sets a structured logger for skipped-hit warnings.
// If not set, a no-op logger is used.
func WithRetrieverLogger(l *slog.Logger) RetrieverOption {
	return func(r *Retriever) { r.logger = l }
}

// Retriever drives index search and translates hits back into concrete
// chunk content from the ContentStore.
type Retriever struct {
	store       ContentStore
	embedder    Embedder
	registry    *Registry
	indexType   string
	granularity Granularity
	logger      *slog.Logger
}

// NewRetriever creates a Retriever over the given store, embedder, and
// index registry.
func NewRetriever(store ContentStore, embedder Embedder, registry *Registry, opts ...RetrieverOption) *Retriever {
	r := &Retriever{
		store:     store,
		embedder:  embedder,
		registry:  registry,
		indexType: "parent-child",
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Search embeds the query text, searches the configured index type, and
// resolves each hit against the content store. Result order follows the
// index's relevance ranking; it is not re-sorted after resolution.
//
// An empty or whitespace-only query returns an empty result without calling
// the embedder or the index — "no query" is a benign no-op so call sites can
// build queries dynamically. Hits whose source or chunk no longer exists are
// skipped with a warning; the index is eventually consistent with the store
// and stale hits are expected after deletions.
func (r *Retriever) Search(ctx context.Context, filter Filter, query string, opts SearchOptions) ([]SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}

	embs, err := r.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, WrapStage("embed query", err)
	}
	if len(embs) == 0 {
		return nil, WrapStage("embed query", Validationf("provider returned no embedding"))
	}

	idx, err := r.registry.Get(r.indexType)
	if err != nil {
		return nil, err
	}

	opts.Filter = filter
	hits, err := idx.Search(ctx, Query{Vector: embs[0].Vector, Text: query}, opts)
	if err != nil {
		return nil, WrapStage("index search", err)
	}

	return r.resolve(ctx, hits)
}

// resolve maps index hits back to store rows, skipping hits that no longer
// resolve. Sources are fetched once per document id (FindSource loads
// contents and chunks eagerly) to keep the hot path to one read per source.
func (r *Retriever) resolve(ctx context.Context, hits []Hit) ([]SearchResult, error) {
	sources := make(map[string]*Source)
	missing := make(map[string]bool)
	seenContent := make(map[string]bool)

	var results []SearchResult
	for _, hit := range hits {
		if missing[hit.RelatedDocumentID] {
			continue
		}
		src, ok := sources[hit.RelatedDocumentID]
		if !ok {
			found, err := r.store.FindSource(ctx, hit.RelatedDocumentID)
			if err != nil {
				if IsNotFound(err) {
					missing[hit.RelatedDocumentID] = true
					r.logger.Warn("skipping hit for deleted source",
						"source_id", hit.RelatedDocumentID, "chunk_id", hit.RelatedChunkID)
					continue
				}
				return nil, WrapStage("resolve hit", err)
			}
			src = &found
			sources[hit.RelatedDocumentID] = src
		}

		content, chunk := findChunk(src, hit.RelatedChunkID)
		if chunk == nil {
			r.logger.Warn("skipping hit for missing chunk",
				"source_id", hit.RelatedDocumentID, "chunk_id", hit.RelatedChunkID)
			continue
		}

		res := SearchResult{
			SourceID:  src.ID,
			ContentID: content.ID,
			ChunkID:   chunk.ID,
			Text:      chunk.Text,
			Score:     hit.Score,
			Metadata:  content.Metadata,
		}
		if r.granularity == GranularityContent {
			if seenContent[content.ID] {
				continue
			}
			seenContent[content.ID] = true
			res.Text = content.Text
		}
		results = append(results, res)
	}
	return results, nil
}

// findChunk locates a chunk and its parent content inside an eagerly loaded
// source.
func findChunk(src *Source, chunkID string) (*SourceContent, *SourceContentChunk) {
	for ci := range src.Contents {
		content := &src.Contents[ci]
		for ki := range content.Chunks {
			if content.Chunks[ki].ID == chunkID {
				return content, &content.Chunks[ki]
			}
		}
	}
	return nil, nil
}
