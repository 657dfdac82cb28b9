// Package keyword implements a lexical index type on Bleve. Chunks are
// scored with BM25-style full-text relevance instead of vector distance,
// which makes it a useful second index type next to the vector-based
// default: exact terms, identifiers, and rare words rank well even when
// embeddings miss them.
package keyword

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"

	strata "github.com/davrell/strata"
)

// TypeName is the registry key this index type registers under.
const TypeName = "keyword"

// entryDoc is the document shape handed to Bleve. The Bleve document id is
// the chunk id; the owning document id is a keyword field so deletion by
// source stays a term lookup.
type entryDoc struct {
	DocumentID string `json:"document_id"`
	Text       string `json:"text"`
}

// Index is the lexical index type.
//
// Scores returned by Search are Bleve's relevance scores: descending and
// comparable within one result set, but not bounded to [0, 1] like cosine
// similarity. SearchOptions.MaxDistance has no lexical counterpart and is
// ignored.
type Index struct {
	mu     sync.RWMutex
	index  bleve.Index
	closed bool
}

var _ strata.Index = (*Index)(nil)

// New opens or creates a Bleve index at path. An empty path creates an
// in-memory index, useful for tests.
func New(path string) (*Index, error) {
	m := bleve.NewIndexMapping()
	doc := bleve.NewDocumentMapping()
	doc.AddFieldMappingsAt("document_id", bleve.NewKeywordFieldMapping())
	doc.AddFieldMappingsAt("text", bleve.NewTextFieldMapping())
	m.DefaultMapping = doc

	var (
		idx bleve.Index
		err error
	)
	if path == "" {
		idx, err = bleve.NewMemOnly(m)
	} else {
		idx, err = bleve.Open(path)
		if err == bleve.ErrorIndexPathDoesNotExist {
			idx, err = bleve.New(path, m)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("keyword: open index: %w", err)
	}
	return &Index{index: idx}, nil
}

func (b *Index) Name() string { return TypeName }

func (b *Index) Ingest(_ context.Context, e strata.Entry) error {
	if e.DocumentID == "" || e.ChunkID == "" {
		return strata.Validationf("index entry requires document and chunk ids")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword: index is closed")
	}
	doc := entryDoc{DocumentID: e.DocumentID, Text: e.Text}
	if err := b.index.Index(e.ChunkID, doc); err != nil {
		return fmt.Errorf("keyword: index chunk %s: %w", e.ChunkID, err)
	}
	return nil
}

func (b *Index) Delete(ctx context.Context, documentID string) error {
	return b.DeleteMany(ctx, []string{documentID})
}

// DeleteMany looks up every chunk belonging to the listed documents and
// removes them in one batch.
func (b *Index) DeleteMany(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("keyword: index is closed")
	}

	chunkIDs, err := b.chunkIDsFor(ctx, documentIDs)
	if err != nil {
		return err
	}
	if len(chunkIDs) == 0 {
		return nil
	}

	batch := b.index.NewBatch()
	for _, id := range chunkIDs {
		batch.Delete(id)
	}
	if err := b.index.Batch(batch); err != nil {
		return fmt.Errorf("keyword: delete batch: %w", err)
	}
	return nil
}

// chunkIDsFor resolves document ids to the Bleve chunk ids they own.
// Callers must hold the lock.
func (b *Index) chunkIDsFor(ctx context.Context, documentIDs []string) ([]string, error) {
	count, err := b.index.DocCount()
	if err != nil {
		return nil, fmt.Errorf("keyword: doc count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	terms := make([]query.Query, len(documentIDs))
	for i, id := range documentIDs {
		tq := bleve.NewTermQuery(id)
		tq.SetField("document_id")
		terms[i] = tq
	}
	req := bleve.NewSearchRequest(bleve.NewDisjunctionQuery(terms...))
	req.Size = int(count)

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword: find chunks to delete: %w", err)
	}
	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

// Search runs a full-text match query over chunk text.
func (b *Index) Search(ctx context.Context, q strata.Query, opts strata.SearchOptions) ([]strata.Hit, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, strata.Validationf("keyword index requires query text")
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, fmt.Errorf("keyword: index is closed")
	}

	match := bleve.NewMatchQuery(q.Text)
	match.SetField("text")

	var full query.Query = match
	if ids := opts.Filter.DocumentIDs; len(ids) > 0 {
		terms := make([]query.Query, len(ids))
		for i, id := range ids {
			tq := bleve.NewTermQuery(id)
			tq.SetField("document_id")
			terms[i] = tq
		}
		boolean := bleve.NewBooleanQuery()
		boolean.AddMust(match)
		boolean.AddMust(bleve.NewDisjunctionQuery(terms...))
		full = boolean
	}

	req := bleve.NewSearchRequest(full)
	req.Size = opts.EffectiveLimit()
	req.Fields = []string{"document_id"}

	result, err := b.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("keyword: search: %w", err)
	}

	hits := make([]strata.Hit, 0, len(result.Hits))
	for _, hit := range result.Hits {
		docID, _ := hit.Fields["document_id"].(string)
		hits = append(hits, strata.Hit{
			RelatedDocumentID: docID,
			RelatedChunkID:    hit.ID,
			Score:             float32(hit.Score),
		})
	}
	return hits, nil
}

func (b *Index) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.index.Close()
}
