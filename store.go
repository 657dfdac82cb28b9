package strata

import "context"

// ContentStore persists sources, their content blocks, and embedded chunks.
// It is pure persistence: no chunking or embedding logic lives here.
type ContentStore interface {
	// CreateSource inserts a new source row. The source may be a placeholder
	// without contents; ingestion needs its id before content exists.
	CreateSource(ctx context.Context, src Source) error

	// SaveContent inserts or replaces content blocks for a source.
	SaveContent(ctx context.Context, sourceID string, contents []SourceContent) error

	// SaveChunks batch-inserts embedded chunks.
	SaveChunks(ctx context.Context, chunks []SourceContentChunk) error

	// FindSource returns the source with contents and chunks eagerly loaded
	// in one logical read. Returns a NotFoundError when the id is unknown.
	FindSource(ctx context.Context, id string) (Source, error)

	// DeleteSource removes a source and everything it owns. Returns a
	// NotFoundError when the id is unknown.
	DeleteSource(ctx context.Context, id string) error

	// DeleteSources removes the listed sources and their contents and chunks
	// in a single transaction: either all are removed or none are.
	DeleteSources(ctx context.Context, ids []string) error

	Close() error
}
