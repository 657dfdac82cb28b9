package strata

// --- Domain types (database records) ---

// SourceKind discriminates the closed set of source variants. Serialization
// and ingestion switch on it exhaustively; an unknown kind is a validation
// error, never a silent fallback.
type SourceKind string

const (
	// KindFile is an uploaded document (PDF, markdown, plain text, ...).
	KindFile SourceKind = "file"
	// KindURL is a crawled web page.
	KindURL SourceKind = "url"
	// KindText is raw text handed in directly by the caller.
	KindText SourceKind = "text"
)

// Source is the top-level identity of a document or page being made
// searchable. It owns zero or more SourceContent blocks; deleting a source
// cascades to its contents, chunks, and index entries.
type Source struct {
	ID        string     `json:"id"`
	Kind      SourceKind `json:"kind"`
	Name      string     `json:"name"`
	Ref       string     `json:"ref"` // filename or URL, empty for KindText
	CreatedAt int64      `json:"created_at"`
	UpdatedAt int64      `json:"updated_at"`

	// Contents is populated by ContentStore.FindSource (eager load).
	Contents []SourceContent `json:"contents,omitempty"`
}

// SourceContent is one coarse-grained text unit derived from a source, e.g.
// a single PDF page or the whole crawled page. Its text is immutable once
// created; re-ingestion replaces the row instead of editing it.
type SourceContent struct {
	ID        string         `json:"id"`
	SourceID  string         `json:"source_id"`
	Text      string         `json:"text"`
	Metadata  map[string]any `json:"metadata,omitempty"` // e.g. {"page": 3} or {"url": ...}
	CreatedAt int64          `json:"created_at"`
	UpdatedAt int64          `json:"updated_at"`

	// Chunks is populated by ContentStore.FindSource (eager load).
	Chunks []SourceContentChunk `json:"chunks,omitempty"`
}

// SourceContentChunk is a fine-grained slice of a SourceContent's text,
// sized for embedding. Every chunk has exactly one parent content and one
// embedding generated by exactly one named model.
type SourceContentChunk struct {
	ID             string    `json:"id"`
	SourceID       string    `json:"source_id"`
	ContentID      string    `json:"content_id"`
	Text           string    `json:"text"`
	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model"`
	CreatedAt      int64     `json:"created_at"`
}

// SearchResult is one resolved hit returned by the Retriever: concrete
// chunk (or parent content) text plus its provenance and relevance score.
type SearchResult struct {
	SourceID  string         `json:"source_id"`
	ContentID string         `json:"content_id"`
	ChunkID   string         `json:"chunk_id"`
	Text      string         `json:"text"`
	Score     float32        `json:"score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
