package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	strata "github.com/davrell/strata"
)

// --- test doubles ---

type fakeEmbedder struct {
	mu        sync.Mutex
	callCount int
	inputs    [][]string
	fail      bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([]strata.Embedding, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callCount++
	f.inputs = append(f.inputs, texts)
	if f.fail {
		return nil, &strata.ProviderError{Provider: "fake", Message: "embed failed"}
	}
	out := make([]strata.Embedding, len(texts))
	for i, t := range texts {
		out[i] = strata.Embedding{Vector: []float32{1, 0, 0, 0}, Text: t, Model: "fake-embed-1"}
	}
	return out, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeStore struct {
	mu             sync.Mutex
	sources        map[string]strata.Source
	contents       map[string][]strata.SourceContent
	chunks         map[string][]strata.SourceContentChunk
	failDeleteMany bool
	saveChunkCalls int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources:  make(map[string]strata.Source),
		contents: make(map[string][]strata.SourceContent),
		chunks:   make(map[string][]strata.SourceContentChunk),
	}
}

func (s *fakeStore) CreateSource(_ context.Context, src strata.Source) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sources[src.ID] = src
	return nil
}

func (s *fakeStore) SaveContent(_ context.Context, sourceID string, contents []strata.SourceContent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Wholesale replacement: old contents and chunks go together.
	s.contents[sourceID] = contents
	s.chunks[sourceID] = nil
	return nil
}

func (s *fakeStore) SaveChunks(_ context.Context, chunks []strata.SourceContentChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveChunkCalls++
	for _, ch := range chunks {
		s.chunks[ch.SourceID] = append(s.chunks[ch.SourceID], ch)
	}
	return nil
}

func (s *fakeStore) FindSource(_ context.Context, id string) (strata.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src, ok := s.sources[id]
	if !ok {
		return strata.Source{}, &strata.NotFoundError{Entity: "source", ID: id}
	}
	for _, c := range s.contents[id] {
		for _, ch := range s.chunks[id] {
			if ch.ContentID == c.ID {
				c.Chunks = append(c.Chunks, ch)
			}
		}
		src.Contents = append(src.Contents, c)
	}
	return src, nil
}

func (s *fakeStore) DeleteSource(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sources[id]; !ok {
		return &strata.NotFoundError{Entity: "source", ID: id}
	}
	delete(s.sources, id)
	delete(s.contents, id)
	delete(s.chunks, id)
	return nil
}

func (s *fakeStore) DeleteSources(_ context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDeleteMany {
		return errors.New("store: transaction rolled back")
	}
	for _, id := range ids {
		delete(s.sources, id)
		delete(s.contents, id)
		delete(s.chunks, id)
	}
	return nil
}

func (s *fakeStore) Close() error { return nil }

// fakeIndex records every call in order so tests can assert the
// delete-before-ingest guarantee.
type fakeIndex struct {
	mu              sync.Mutex
	name            string
	entries         map[string][]strata.Entry
	events          []string
	deleteManyCalls [][]string
	failIngest      bool

	// When set, every Ingest call signals ingestEntered and then parks
	// until ingestRelease is closed, letting tests hold a reindex
	// mid-flight.
	ingestEntered chan struct{}
	ingestRelease chan struct{}
}

func newFakeIndex(name string) *fakeIndex {
	return &fakeIndex{name: name, entries: make(map[string][]strata.Entry)}
}

func (f *fakeIndex) Name() string { return f.name }

func (f *fakeIndex) Ingest(_ context.Context, e strata.Entry) error {
	if f.ingestEntered != nil {
		f.ingestEntered <- struct{}{}
		<-f.ingestRelease
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failIngest {
		return errors.New("index: ingest failed")
	}
	f.entries[e.DocumentID] = append(f.entries[e.DocumentID], e)
	f.events = append(f.events, "ingest:"+e.DocumentID)
	return nil
}

func (f *fakeIndex) Delete(_ context.Context, documentID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, documentID)
	f.events = append(f.events, "delete:"+documentID)
	return nil
}

func (f *fakeIndex) DeleteMany(_ context.Context, documentIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteManyCalls = append(f.deleteManyCalls, documentIDs)
	for _, id := range documentIDs {
		delete(f.entries, id)
	}
	return nil
}

func (f *fakeIndex) Search(_ context.Context, q strata.Query, opts strata.SearchOptions) ([]strata.Hit, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var hits []strata.Hit
	for docID, entries := range f.entries {
		if !opts.Filter.Match(docID) {
			continue
		}
		for _, e := range entries {
			hits = append(hits, strata.Hit{RelatedDocumentID: docID, RelatedChunkID: e.ChunkID, Score: 1})
		}
	}
	return hits, nil
}

func (f *fakeIndex) entryCount(docID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries[docID])
}

func (f *fakeIndex) chunkIDs(docID string) map[string]bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make(map[string]bool)
	for _, e := range f.entries[docID] {
		ids[e.ChunkID] = true
	}
	return ids
}

func newTestIngestor(t *testing.T) (*Ingestor, *fakeStore, *fakeEmbedder, *fakeIndex) {
	t.Helper()
	store := newFakeStore()
	emb := &fakeEmbedder{}
	idx := newFakeIndex("parent-child")
	reg := strata.NewRegistry()
	if err := reg.Register(idx); err != nil {
		t.Fatal(err)
	}
	return New(store, emb, reg), store, emb, idx
}

// --- tests ---

func TestIngestText(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)

	src, err := ing.Ingest(context.Background(), Input{
		Kind: strata.KindText,
		Name: "note",
		Data: []byte("The quick brown fox jumps over the lazy dog."),
	})
	if err != nil {
		t.Fatal(err)
	}
	if src.ID == "" {
		t.Fatal("expected source id")
	}
	if len(src.Contents) != 1 {
		t.Fatalf("expected 1 content block, got %d", len(src.Contents))
	}
	if len(src.Contents[0].Chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(src.Contents[0].Chunks))
	}
	chunk := src.Contents[0].Chunks[0]
	if len(chunk.Embedding) == 0 {
		t.Error("chunk missing embedding")
	}
	if chunk.EmbeddingModel != "fake-embed-1" {
		t.Errorf("wrong embedding model: %s", chunk.EmbeddingModel)
	}
	if idx.entryCount(src.ID) != 1 {
		t.Errorf("expected 1 index entry, got %d", idx.entryCount(src.ID))
	}
	if _, ok := store.sources[src.ID]; !ok {
		t.Error("source not persisted")
	}
}

func TestIngestFileHTML(t *testing.T) {
	ing, _, emb, _ := newTestIngestor(t)

	src, err := ing.Ingest(context.Background(), Input{
		Kind: strata.KindFile,
		Name: "page.html",
		Data: []byte("<html><body><p>Hello from a web page.</p><script>ignored()</script></body></html>"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(src.Contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(src.Contents))
	}
	if strings.Contains(src.Contents[0].Text, "ignored") {
		t.Errorf("script content leaked into text: %q", src.Contents[0].Text)
	}
	if emb.callCount != 1 {
		t.Errorf("expected 1 embed batch, got %d", emb.callCount)
	}
	if src.Contents[0].Metadata["filename"] != "page.html" {
		t.Errorf("missing filename metadata: %v", src.Contents[0].Metadata)
	}
}

func TestIngestValidation(t *testing.T) {
	ing, _, _, _ := newTestIngestor(t)
	ctx := context.Background()

	cases := []struct {
		name string
		in   Input
	}{
		{"unknown kind", Input{Kind: "image"}},
		{"file without name", Input{Kind: strata.KindFile, Data: []byte("x")}},
		{"file without data", Input{Kind: strata.KindFile, Name: "a.txt"}},
		{"url without ref", Input{Kind: strata.KindURL}},
		{"text without data", Input{Kind: strata.KindText}},
		{"text with only whitespace", Input{Kind: strata.KindText, Data: []byte("  \n ")}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ing.Ingest(ctx, tc.in)
			if !strata.IsValidation(err) {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestDeleteBeforeIngestOrdering(t *testing.T) {
	ing, _, _, idx := newTestIngestor(t)

	src, err := ing.Ingest(context.Background(), Input{
		Kind: strata.KindText,
		Data: []byte(strings.Repeat("Sentences to make several chunks happen here. ", 40)),
	})
	if err != nil {
		t.Fatal(err)
	}

	idx.mu.Lock()
	events := append([]string(nil), idx.events...)
	idx.mu.Unlock()

	deleteAt := -1
	firstIngestAt := -1
	for i, ev := range events {
		if ev == "delete:"+src.ID && deleteAt == -1 {
			deleteAt = i
		}
		if ev == "ingest:"+src.ID && firstIngestAt == -1 {
			firstIngestAt = i
		}
	}
	if deleteAt == -1 {
		t.Fatal("index delete never called")
	}
	if firstIngestAt == -1 {
		t.Fatal("index ingest never called")
	}
	if deleteAt > firstIngestAt {
		t.Errorf("delete at %d after first ingest at %d", deleteAt, firstIngestAt)
	}
}

func TestReingestIdempotent(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)
	ctx := context.Background()
	text := strings.Repeat("Idempotence means running twice changes nothing. ", 30)

	src, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte(text)})
	if err != nil {
		t.Fatal(err)
	}
	firstChunks := idx.chunkIDs(src.ID)
	firstCount := idx.entryCount(src.ID)
	if firstCount == 0 {
		t.Fatal("expected index entries after first ingest")
	}

	if _, err := ing.Ingest(ctx, Input{Kind: strata.KindText, SourceID: src.ID, Data: []byte(text)}); err != nil {
		t.Fatal(err)
	}

	if got := idx.entryCount(src.ID); got != firstCount {
		t.Errorf("entry count changed after re-ingest: %d -> %d", firstCount, got)
	}
	for id := range idx.chunkIDs(src.ID) {
		if firstChunks[id] {
			t.Errorf("stale chunk id %s survived re-ingest", id)
		}
	}
	if got := len(store.chunks[src.ID]); got != firstCount {
		t.Errorf("store chunk count %d does not match index entries %d", got, firstCount)
	}
	if len(store.sources) != 1 {
		t.Errorf("expected 1 source, got %d", len(store.sources))
	}
}

func TestReindexReadsFromStore(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)
	ctx := context.Background()

	src, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Initial text for the source.")})
	if err != nil {
		t.Fatal(err)
	}

	// Rewrite the durable chunks behind the orchestrator's back; reindex
	// must pick up the store's state, not anything held in memory.
	store.mu.Lock()
	contentID := store.contents[src.ID][0].ID
	replacement := strata.SourceContentChunk{
		ID:        "chunk-replaced",
		SourceID:  src.ID,
		ContentID: contentID,
		Text:      "replacement",
		Embedding: []float32{0, 1, 0, 0},
	}
	store.chunks[src.ID] = []strata.SourceContentChunk{replacement}
	store.mu.Unlock()

	if err := ing.Reindex(ctx, src.ID); err != nil {
		t.Fatal(err)
	}
	ids := idx.chunkIDs(src.ID)
	if len(ids) != 1 || !ids["chunk-replaced"] {
		t.Errorf("index not rebuilt from store state: %v", ids)
	}
}

func TestReindexUnknownSource(t *testing.T) {
	ing, _, _, _ := newTestIngestor(t)
	err := ing.Reindex(context.Background(), "missing")
	if !strata.IsNotFound(err) {
		t.Errorf("expected not-found error, got %v", err)
	}
}

func TestEmbedFailureAbortsIngestion(t *testing.T) {
	ing, store, emb, idx := newTestIngestor(t)
	emb.fail = true

	src, err := ing.Ingest(context.Background(), Input{
		Kind: strata.KindText,
		Data: []byte("Some text that will fail to embed."),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *strata.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected pipeline error, got %T", err)
	}
	if pe.Stage != "embed" {
		t.Errorf("wrong stage: %s", pe.Stage)
	}
	if src.ID != "" {
		t.Error("expected zero source on failure")
	}
	if store.saveChunkCalls != 0 {
		t.Error("chunks saved despite embed failure")
	}
	idx.mu.Lock()
	events := append([]string(nil), idx.events...)
	idx.mu.Unlock()
	for _, ev := range events {
		if strings.HasPrefix(ev, "ingest:") {
			t.Error("index ingest happened despite embed failure")
		}
	}
}

func TestIndexIngestFailureSurfaces(t *testing.T) {
	ing, _, _, idx := newTestIngestor(t)
	idx.failIngest = true

	_, err := ing.Ingest(context.Background(), Input{
		Kind: strata.KindText,
		Data: []byte("Text whose index write fails."),
	})
	if err == nil {
		t.Fatal("expected error")
	}
	var pe *strata.PipelineError
	if !errors.As(err, &pe) {
		t.Fatalf("expected pipeline error, got %T: %v", err, err)
	}
	if pe.Stage != "index ingest" {
		t.Errorf("wrong stage: %s", pe.Stage)
	}
}

func TestDeleteSource(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)
	ctx := context.Background()

	src, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("To be deleted.")})
	if err != nil {
		t.Fatal(err)
	}
	if err := ing.DeleteSource(ctx, src.ID); err != nil {
		t.Fatal(err)
	}
	if idx.entryCount(src.ID) != 0 {
		t.Error("index entries survived delete")
	}
	if _, ok := store.sources[src.ID]; ok {
		t.Error("source row survived delete")
	}

	if err := ing.DeleteSource(ctx, src.ID); !strata.IsNotFound(err) {
		t.Errorf("expected not-found on second delete, got %v", err)
	}
}

func TestDeleteSourcesAllIndexTypes(t *testing.T) {
	store := newFakeStore()
	emb := &fakeEmbedder{}
	vec := newFakeIndex("parent-child")
	kw := newFakeIndex("keyword")
	reg := strata.NewRegistry()
	for _, idx := range []*fakeIndex{vec, kw} {
		if err := reg.Register(idx); err != nil {
			t.Fatal(err)
		}
	}
	ing := New(store, emb, reg)
	ctx := context.Background()

	a, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Source A text.")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Source B text.")})
	if err != nil {
		t.Fatal(err)
	}

	if err := ing.DeleteSources(ctx, []string{a.ID, b.ID}); err != nil {
		t.Fatal(err)
	}
	for _, idx := range []*fakeIndex{vec, kw} {
		if len(idx.deleteManyCalls) != 1 {
			t.Errorf("index %s: expected 1 DeleteMany call, got %d", idx.name, len(idx.deleteManyCalls))
		}
		if idx.entryCount(a.ID) != 0 || idx.entryCount(b.ID) != 0 {
			t.Errorf("index %s: entries survived batch delete", idx.name)
		}
	}
	if len(store.sources) != 0 {
		t.Error("source rows survived batch delete")
	}
}

func TestDeleteSourcesAtomicOnStoreFailure(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)
	ctx := context.Background()

	a, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Source A text.")})
	if err != nil {
		t.Fatal(err)
	}
	b, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Source B text.")})
	if err != nil {
		t.Fatal(err)
	}

	store.failDeleteMany = true
	if err := ing.DeleteSources(ctx, []string{a.ID, b.ID}); err == nil {
		t.Fatal("expected error")
	}

	// The store transaction rolled back, so no index entry may be gone
	// either: both sources stay fully searchable.
	if len(idx.deleteManyCalls) != 0 {
		t.Errorf("index DeleteMany called despite store failure")
	}
	for _, id := range []string{a.ID, b.ID} {
		if idx.entryCount(id) == 0 {
			t.Errorf("index entries for %s lost despite rollback", id)
		}
		if _, ok := store.sources[id]; !ok {
			t.Errorf("source %s lost despite rollback", id)
		}
	}
}

func TestConcurrentIngestSameSourceSerialized(t *testing.T) {
	ing, _, _, idx := newTestIngestor(t)
	ctx := context.Background()

	src, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Seed content.")})
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := ing.Ingest(ctx, Input{
				Kind:     strata.KindText,
				SourceID: src.ID,
				Data:     []byte(fmt.Sprintf("Replacement content number %d.", i)),
			})
			if err != nil {
				t.Error(err)
			}
		}(i)
	}
	wg.Wait()

	// Whatever order the reindex cycles ran in, the final index state must
	// be one coherent set: exactly the chunks of the last writer.
	if got := idx.entryCount(src.ID); got != 1 {
		t.Errorf("expected exactly 1 live entry after concurrent re-ingests, got %d", got)
	}
}

func TestDeleteSourcesWaitsForReindex(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)
	ctx := context.Background()

	src, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Content to delete.")})
	if err != nil {
		t.Fatal(err)
	}

	idx.ingestEntered = make(chan struct{})
	idx.ingestRelease = make(chan struct{})

	reindexDone := make(chan error, 1)
	go func() { reindexDone <- ing.Reindex(ctx, src.ID) }()
	<-idx.ingestEntered // reindex holds the source's lock, parked mid-ingest

	deleteDone := make(chan error, 1)
	go func() { deleteDone <- ing.DeleteSources(ctx, []string{src.ID}) }()

	// While the reindex is in flight the batch delete must not have
	// touched the store.
	select {
	case err := <-deleteDone:
		t.Fatalf("DeleteSources completed during in-flight reindex: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
	store.mu.Lock()
	_, alive := store.sources[src.ID]
	store.mu.Unlock()
	if !alive {
		t.Fatal("store row deleted while reindex held the source lock")
	}

	close(idx.ingestRelease)
	if err := <-reindexDone; err != nil {
		t.Fatalf("reindex: %v", err)
	}
	if err := <-deleteDone; err != nil {
		t.Fatalf("delete: %v", err)
	}

	// The delete ran strictly after the reindex, so the entries the
	// reindex wrote are gone.
	if got := idx.entryCount(src.ID); got != 0 {
		t.Errorf("expected 0 index entries after batch delete, got %d", got)
	}
	if _, ok := store.sources[src.ID]; ok {
		t.Error("source survived batch delete")
	}
}

func TestDeleteSourcesDuplicateIDs(t *testing.T) {
	ing, store, _, idx := newTestIngestor(t)
	ctx := context.Background()

	src, err := ing.Ingest(ctx, Input{Kind: strata.KindText, Data: []byte("Duplicated in the batch.")})
	if err != nil {
		t.Fatal(err)
	}

	if err := ing.DeleteSources(ctx, []string{src.ID, src.ID}); err != nil {
		t.Fatalf("delete with duplicate ids: %v", err)
	}
	if _, ok := store.sources[src.ID]; ok {
		t.Error("source survived batch delete")
	}
	if got := idx.entryCount(src.ID); got != 0 {
		t.Errorf("expected 0 index entries, got %d", got)
	}
}
