package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	strata "github.com/davrell/strata"
)

// Input describes one source to ingest. Kind selects the variant; the
// fields each variant reads are documented on the kind constants.
//
// Setting SourceID re-ingests an existing source: its content blocks and
// chunks are replaced wholesale and its index entries rebuilt. Leaving it
// empty creates a new source.
type Input struct {
	Kind     strata.SourceKind
	SourceID string
	Name     string // display name; required for KindFile (extension selects the extractor)
	Ref      string // URL for KindURL, optional caller reference otherwise
	Data     []byte // raw bytes for KindFile and KindText, unused for KindURL
}

func (in Input) validate() error {
	switch in.Kind {
	case strata.KindFile:
		if in.Name == "" {
			return strata.Validationf("file input requires a name")
		}
		if len(in.Data) == 0 {
			return strata.Validationf("file input requires content")
		}
	case strata.KindURL:
		if in.Ref == "" {
			return strata.Validationf("url input requires a ref")
		}
	case strata.KindText:
		if len(strings.TrimSpace(string(in.Data))) == 0 {
			return strata.Validationf("text input requires content")
		}
	default:
		return strata.Validationf("unknown source kind %q", in.Kind)
	}
	return nil
}

// Ingestor drives the pipeline for one source: fetch/extract, split,
// embed, persist, reindex. Operations on the same source id are serialized
// internally; callers may issue them concurrently.
type Ingestor struct {
	store    strata.ContentStore
	embedder strata.Embedder
	registry *strata.Registry

	contentSplitter Splitter
	chunkSplitter   Splitter
	extractors      map[ContentType]Extractor
	fetcher         Fetcher
	concurrency     int
	logger          *slog.Logger

	locks *keyedLocks
}

// New creates an Ingestor with default splitters and extractors.
func New(store strata.ContentStore, embedder strata.Embedder, registry *strata.Registry, opts ...Option) *Ingestor {
	ing := &Ingestor{
		store:           store,
		embedder:        embedder,
		registry:        registry,
		contentSplitter: MustRecursiveSplitter(2000, 0),
		chunkSplitter:   MustRecursiveSplitter(400, 50),
		extractors: map[ContentType]Extractor{
			TypePlainText: PlainTextExtractor{},
			TypeHTML:      HTMLExtractor{},
			TypeMarkdown:  NewMarkdownExtractor(),
			TypePDF:       NewPDFExtractor(),
		},
		fetcher:     NewURLFetcher(),
		concurrency: 8,
		logger:      strata.NopLogger(),
		locks:       newKeyedLocks(),
	}
	for _, o := range opts {
		o(ing)
	}
	return ing
}

// Ingest runs the full pipeline for one input and returns the source with
// its persisted contents and chunks loaded.
//
// Stages run strictly in order: create (or verify) the source row, fetch
// and split, persist contents, embed and persist chunks, reindex. Any
// stage failure aborts the run; there is no rollback of rows already
// written, and re-running the same ingestion reconciles them because the
// reindex step deletes before it ingests and SaveContent replaces the
// source's blocks wholesale.
func (ing *Ingestor) Ingest(ctx context.Context, in Input) (strata.Source, error) {
	if err := in.validate(); err != nil {
		return strata.Source{}, err
	}

	sourceID := in.SourceID
	fresh := sourceID == ""
	if fresh {
		sourceID = strata.NewID()
	}

	unlock := ing.locks.lock(sourceID)
	defer unlock()

	now := strata.NowUnix()
	if fresh {
		src := strata.Source{
			ID:        sourceID,
			Kind:      in.Kind,
			Name:      in.sourceName(),
			Ref:       in.Ref,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := ing.store.CreateSource(ctx, src); err != nil {
			return strata.Source{}, strata.WrapStage("create source", err)
		}
	} else {
		if _, err := ing.store.FindSource(ctx, sourceID); err != nil {
			return strata.Source{}, strata.WrapStage("find source", err)
		}
	}

	contents, err := ing.buildContents(ctx, in, sourceID, now)
	if err != nil {
		return strata.Source{}, strata.WrapStage("fetch and split", err)
	}

	if err := ing.store.SaveContent(ctx, sourceID, contents); err != nil {
		return strata.Source{}, strata.WrapStage("save content", err)
	}

	chunks, err := ing.embedContents(ctx, contents)
	if err != nil {
		return strata.Source{}, err
	}

	if err := ing.store.SaveChunks(ctx, chunks); err != nil {
		return strata.Source{}, strata.WrapStage("save chunks", err)
	}

	src, err := ing.reindexLocked(ctx, sourceID)
	if err != nil {
		return strata.Source{}, err
	}

	ing.logger.Info("ingested source",
		"source_id", sourceID,
		"kind", in.Kind,
		"contents", len(contents),
		"chunks", len(chunks))
	return src, nil
}

// Reindex rebuilds the index entries for a source from its persisted
// chunks: every registered index type first deletes the source's existing
// entries, then all chunks are ingested. Deletion completes before any
// ingest call starts, so there is no window where old and new entries
// coexist.
func (ing *Ingestor) Reindex(ctx context.Context, sourceID string) error {
	unlock := ing.locks.lock(sourceID)
	defer unlock()
	_, err := ing.reindexLocked(ctx, sourceID)
	return err
}

// reindexLocked reads the source's chunks back from the store rather than
// any in-memory state, so only durably persisted chunks are ever indexed.
func (ing *Ingestor) reindexLocked(ctx context.Context, sourceID string) (strata.Source, error) {
	src, err := ing.store.FindSource(ctx, sourceID)
	if err != nil {
		return strata.Source{}, strata.WrapStage("find source", err)
	}

	indexes := ing.registry.All()
	for _, idx := range indexes {
		if err := idx.Delete(ctx, sourceID); err != nil {
			return strata.Source{}, strata.WrapStage("index delete", err)
		}
	}

	// All deletes are complete; ingest every chunk into every index type
	// concurrently.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(ing.concurrency)
	total := 0
	for _, idx := range indexes {
		for _, c := range src.Contents {
			for _, ch := range c.Chunks {
				idx, entry := idx, strata.Entry{
					DocumentID: ch.SourceID,
					ChunkID:    ch.ID,
					ContentID:  ch.ContentID,
					Text:       ch.Text,
					Vector:     ch.Embedding,
					Metadata:   c.Metadata,
				}
				total++
				g.Go(func() error {
					return idx.Ingest(gctx, entry)
				})
			}
		}
	}
	if err := g.Wait(); err != nil {
		return strata.Source{}, strata.WrapStage("index ingest", err)
	}

	ing.logger.Debug("reindexed source", "source_id", sourceID, "entries", total)
	return src, nil
}

// DeleteSource removes a source, its contents and chunks, and its index
// entries. Index entries go first so a successful delete never leaves a
// dangling entry. Deleting an unknown source returns a NotFoundError.
func (ing *Ingestor) DeleteSource(ctx context.Context, sourceID string) error {
	unlock := ing.locks.lock(sourceID)
	defer unlock()

	for _, idx := range ing.registry.All() {
		if err := idx.Delete(ctx, sourceID); err != nil {
			return strata.WrapStage("index delete", err)
		}
	}
	if err := ing.store.DeleteSource(ctx, sourceID); err != nil {
		return strata.WrapStage("delete source", err)
	}
	ing.logger.Info("deleted source", "source_id", sourceID)
	return nil
}

// DeleteSources removes many sources at once. The store delete is a single
// transaction and runs first: if it fails, no index entries have been
// touched, so the batch never ends up half-deleted. Only after the rows
// are durably gone does each index type receive one DeleteMany call.
//
// Every listed source's lock is held for the whole batch, so an in-flight
// reindex of any of them finishes before the delete starts and cannot
// re-ingest entries for a just-deleted source. Locks are acquired in
// sorted order so overlapping batches never deadlock.
func (ing *Ingestor) DeleteSources(ctx context.Context, sourceIDs []string) error {
	if len(sourceIDs) == 0 {
		return nil
	}
	for _, id := range sortedUnique(sourceIDs) {
		unlock := ing.locks.lock(id)
		defer unlock()
	}
	if err := ing.store.DeleteSources(ctx, sourceIDs); err != nil {
		return strata.WrapStage("delete sources", err)
	}
	for _, idx := range ing.registry.All() {
		if err := idx.DeleteMany(ctx, sourceIDs); err != nil {
			return strata.WrapStage("index delete", err)
		}
	}
	ing.logger.Info("deleted sources", "count", len(sourceIDs))
	return nil
}

// sortedUnique returns the ids deduplicated and sorted.
func sortedUnique(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// sourceName picks a display name before any content is fetched.
func (in Input) sourceName() string {
	if in.Name != "" {
		return in.Name
	}
	if in.Ref != "" {
		return in.Ref
	}
	return "text"
}

// buildContents fetches or extracts raw text and splits it into coarse
// content blocks with source-specific metadata.
func (ing *Ingestor) buildContents(ctx context.Context, in Input, sourceID string, now int64) ([]strata.SourceContent, error) {
	switch in.Kind {
	case strata.KindFile:
		return ing.fileContents(in, sourceID, now)
	case strata.KindURL:
		return ing.urlContents(ctx, in, sourceID, now)
	case strata.KindText:
		return ing.splitIntoContents(string(in.Data), sourceID, now, nil), nil
	default:
		return nil, strata.Validationf("unknown source kind %q", in.Kind)
	}
}

func (ing *Ingestor) fileContents(in Input, sourceID string, now int64) ([]strata.SourceContent, error) {
	ext := strings.TrimPrefix(filepath.Ext(in.Name), ".")
	ct := ContentTypeFromExtension(ext)
	extractor, ok := ing.extractors[ct]
	if !ok {
		extractor = PlainTextExtractor{}
	}

	// Page-aware extractors (PDF) yield one content block per page.
	if pe, ok := extractor.(PageExtractor); ok {
		pages, err := pe.ExtractPages(in.Data)
		if err != nil {
			return nil, fmt.Errorf("extract %s: %w", ct, err)
		}
		contents := make([]strata.SourceContent, 0, len(pages))
		for _, p := range pages {
			contents = append(contents, strata.SourceContent{
				ID:        strata.NewID(),
				SourceID:  sourceID,
				Text:      p.Text,
				Metadata:  map[string]any{"filename": in.Name, "page": p.PageNumber},
				CreatedAt: now,
				UpdatedAt: now,
			})
		}
		return contents, nil
	}

	text, err := extractor.Extract(in.Data)
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", ct, err)
	}
	return ing.splitIntoContents(text, sourceID, now, map[string]any{"filename": in.Name}), nil
}

func (ing *Ingestor) urlContents(ctx context.Context, in Input, sourceID string, now int64) ([]strata.SourceContent, error) {
	title, text, err := ing.fetcher.Fetch(ctx, in.Ref)
	if err != nil {
		return nil, err
	}
	meta := map[string]any{"url": in.Ref}
	if title != "" {
		meta["title"] = title
	}
	return ing.splitIntoContents(text, sourceID, now, meta), nil
}

func (ing *Ingestor) splitIntoContents(text, sourceID string, now int64, meta map[string]any) []strata.SourceContent {
	blocks := ing.contentSplitter.Split(text)
	contents := make([]strata.SourceContent, 0, len(blocks))
	for _, b := range blocks {
		contents = append(contents, strata.SourceContent{
			ID:        strata.NewID(),
			SourceID:  sourceID,
			Text:      b,
			Metadata:  meta,
			CreatedAt: now,
			UpdatedAt: now,
		})
	}
	return contents
}

// embedContents re-splits each content block at embedding granularity and
// embeds the resulting texts in one batch call per block. A provider error
// fails the whole block; no partial embedding is kept.
func (ing *Ingestor) embedContents(ctx context.Context, contents []strata.SourceContent) ([]strata.SourceContentChunk, error) {
	var chunks []strata.SourceContentChunk
	now := strata.NowUnix()
	for _, c := range contents {
		texts := ing.chunkSplitter.Split(c.Text)
		if len(texts) == 0 {
			continue
		}
		embs, err := ing.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, strata.WrapStage("embed", err)
		}
		if len(embs) != len(texts) {
			return nil, &strata.PipelineError{
				Stage: "embed",
				Err:   fmt.Errorf("got %d embeddings for %d texts", len(embs), len(texts)),
			}
		}
		for j, t := range texts {
			chunks = append(chunks, strata.SourceContentChunk{
				ID:             strata.NewID(),
				SourceID:       c.SourceID,
				ContentID:      c.ID,
				Text:           t,
				Embedding:      embs[j].Vector,
				EmbeddingModel: embs[j].Model,
				CreatedAt:      now,
			})
		}
	}
	return chunks, nil
}
