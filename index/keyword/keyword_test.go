package keyword

import (
	"context"
	"testing"

	strata "github.com/davrell/strata"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	idx, err := New("")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { idx.Close() })
	return idx
}

func ingest(t *testing.T, idx *Index, docID, chunkID, text string) {
	t.Helper()
	err := idx.Ingest(context.Background(), strata.Entry{
		DocumentID: docID,
		ChunkID:    chunkID,
		Text:       text,
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestSearchMatchesTerms(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ingest(t, idx, "doc1", "c1", "the postgres connection pool exhausted its limit")
	ingest(t, idx, "doc1", "c2", "grilled cheese sandwich recipe")

	hits, err := idx.Search(ctx, strata.Query{Text: "postgres pool"}, strata.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) == 0 {
		t.Fatal("expected hits")
	}
	if hits[0].RelatedChunkID != "c1" {
		t.Errorf("wrong top hit: %+v", hits[0])
	}
	if hits[0].RelatedDocumentID != "doc1" {
		t.Errorf("document id not resolved: %+v", hits[0])
	}
}

func TestSearchFilterByDocument(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ingest(t, idx, "doc1", "c1", "shared terminology appears here")
	ingest(t, idx, "doc2", "c2", "shared terminology appears there")

	hits, err := idx.Search(ctx, strata.Query{Text: "terminology"},
		strata.SearchOptions{Filter: strata.Filter{DocumentIDs: []string{"doc2"}}})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].RelatedChunkID != "c2" {
		t.Errorf("filter not applied: %v", hits)
	}
}

func TestSearchEmptyTextRejected(t *testing.T) {
	idx := newTestIndex(t)
	_, err := idx.Search(context.Background(), strata.Query{Vector: []float32{1}}, strata.SearchOptions{})
	if !strata.IsValidation(err) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestDeleteRemovesDocumentChunks(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ingest(t, idx, "doc1", "c1", "first chunk of the document")
	ingest(t, idx, "doc1", "c2", "second chunk of the document")
	ingest(t, idx, "doc2", "c3", "a chunk of another document")

	if err := idx.Delete(ctx, "doc1"); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, strata.Query{Text: "chunk document"}, strata.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	for _, h := range hits {
		if h.RelatedDocumentID == "doc1" {
			t.Errorf("doc1 chunk survived delete: %+v", h)
		}
	}
	found := false
	for _, h := range hits {
		if h.RelatedChunkID == "c3" {
			found = true
		}
	}
	if !found {
		t.Error("unrelated document lost")
	}
}

func TestDeleteManyAcrossDocuments(t *testing.T) {
	idx := newTestIndex(t)
	ctx := context.Background()
	ingest(t, idx, "a", "c1", "alpha text body")
	ingest(t, idx, "b", "c2", "beta text body")
	ingest(t, idx, "c", "c3", "gamma text body")

	if err := idx.DeleteMany(ctx, []string{"a", "c"}); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, strata.Query{Text: "text body"}, strata.SearchOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].RelatedDocumentID != "b" {
		t.Errorf("expected only document b to remain: %v", hits)
	}
}

func TestDeleteUnknownDocumentNoop(t *testing.T) {
	idx := newTestIndex(t)
	if err := idx.Delete(context.Background(), "missing"); err != nil {
		t.Errorf("expected no-op, got %v", err)
	}
}
