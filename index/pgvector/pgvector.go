// Package pgvector implements the "parent-child" index type on PostgreSQL
// with the pgvector extension. Child chunks are indexed with their
// embeddings; hits carry the chunk's parent linkage so the retriever can
// resolve them to parent-level content.
//
// The Index accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	strata "github.com/davrell/strata"
)

// TypeName is the registry key this index type registers under.
const TypeName = "parent-child"

// Option configures an Index.
type Option func(*config)

type config struct {
	table              string
	embeddingDimension int // 0 = untyped vector column
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
}

// WithTable sets the entry table name (default "index_entries").
func WithTable(name string) Option {
	return func(c *config) { c.table = name }
}

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, catching
// dimension mismatches at insert time. Only affects new table creation.
func WithEmbeddingDimension(dim int) Option {
	return func(c *config) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node). Higher
// values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *config) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *config) { c.hnswEFConstruction = ef }
}

// Index is the parent-child index type backed by PostgreSQL + pgvector.
// Vector search uses an HNSW index with cosine distance.
type Index struct {
	pool *pgxpool.Pool
	cfg  config
}

var _ strata.Index = (*Index)(nil)

// New creates an Index using an existing pgxpool.Pool.
func New(pool *pgxpool.Pool, opts ...Option) *Index {
	cfg := config{table: "index_entries"}
	for _, o := range opts {
		o(&cfg)
	}
	return &Index{pool: pool, cfg: cfg}
}

func (idx *Index) Name() string { return TypeName }

func (idx *Index) vectorType() string {
	if idx.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", idx.cfg.embeddingDimension)
	}
	return "vector"
}

func (idx *Index) hnswWithClause() string {
	var parts []string
	if idx.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", idx.cfg.hnswM))
	}
	if idx.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", idx.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, the entry table, and its indexes.
// Safe to call multiple times (all statements are idempotent).
func (idx *Index) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			document_id TEXT NOT NULL,
			chunk_id TEXT NOT NULL,
			content_id TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			embedding %s,
			metadata JSONB,
			PRIMARY KEY (document_id, chunk_id)
		)`, idx.cfg.table, idx.vectorType()),

		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_document_idx ON %s(document_id)`,
			idx.cfg.table, idx.cfg.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)%s`,
			idx.cfg.table, idx.cfg.table, idx.hnswWithClause()),
	}
	for _, stmt := range stmts {
		if _, err := idx.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgvector: init: %w", err)
		}
	}
	return nil
}

// Ingest upserts one entry keyed by (document_id, chunk_id).
func (idx *Index) Ingest(ctx context.Context, e strata.Entry) error {
	if e.DocumentID == "" || e.ChunkID == "" {
		return strata.Validationf("index entry requires document and chunk ids")
	}
	var meta []byte
	if len(e.Metadata) > 0 {
		var err error
		meta, err = json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("pgvector: marshal metadata: %w", err)
		}
	}
	var emb any
	if len(e.Vector) > 0 {
		emb = serializeEmbedding(e.Vector)
	}
	_, err := idx.pool.Exec(ctx,
		fmt.Sprintf(`INSERT INTO %s (document_id, chunk_id, content_id, text, embedding, metadata)
		 VALUES ($1, $2, $3, $4, $5::vector, $6::jsonb)
		 ON CONFLICT (document_id, chunk_id) DO UPDATE SET
		   content_id = EXCLUDED.content_id,
		   text = EXCLUDED.text,
		   embedding = EXCLUDED.embedding,
		   metadata = EXCLUDED.metadata`, idx.cfg.table),
		e.DocumentID, e.ChunkID, e.ContentID, e.Text, emb, meta)
	if err != nil {
		return fmt.Errorf("pgvector: ingest entry: %w", err)
	}
	return nil
}

// Delete removes all entries for a document. Unknown documents are a
// no-op.
func (idx *Index) Delete(ctx context.Context, documentID string) error {
	_, err := idx.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = $1`, idx.cfg.table), documentID)
	if err != nil {
		return fmt.Errorf("pgvector: delete document %s: %w", documentID, err)
	}
	return nil
}

// DeleteMany removes all entries for the listed documents in one
// statement.
func (idx *Index) DeleteMany(ctx context.Context, documentIDs []string) error {
	if len(documentIDs) == 0 {
		return nil
	}
	_, err := idx.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE document_id = ANY($1)`, idx.cfg.table), documentIDs)
	if err != nil {
		return fmt.Errorf("pgvector: delete %d documents: %w", len(documentIDs), err)
	}
	return nil
}

// Search runs cosine-distance nearest-neighbor search over the entry
// table. The distance threshold is applied in SQL before the limit.
func (idx *Index) Search(ctx context.Context, q strata.Query, opts strata.SearchOptions) ([]strata.Hit, error) {
	if len(q.Vector) == 0 {
		return nil, strata.Validationf("pgvector index requires a query vector")
	}

	embStr := serializeEmbedding(q.Vector)
	args := []any{embStr}
	where := []string{"embedding IS NOT NULL"}

	if ids := opts.Filter.DocumentIDs; len(ids) > 0 {
		args = append(args, ids)
		where = append(where, fmt.Sprintf("document_id = ANY($%d)", len(args)))
	}
	if opts.MaxDistance > 0 {
		args = append(args, opts.MaxDistance)
		where = append(where, fmt.Sprintf("embedding <=> $1::vector <= $%d", len(args)))
	}
	args = append(args, opts.EffectiveLimit())

	query := fmt.Sprintf(
		`SELECT document_id, chunk_id, 1 - (embedding <=> $1::vector) AS score
		 FROM %s
		 WHERE %s
		 ORDER BY embedding <=> $1::vector
		 LIMIT $%d`,
		idx.cfg.table, strings.Join(where, " AND "), len(args))

	rows, err := idx.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector: search: %w", err)
	}
	defer rows.Close()

	var hits []strata.Hit
	for rows.Next() {
		var h strata.Hit
		if err := rows.Scan(&h.RelatedDocumentID, &h.RelatedChunkID, &h.Score); err != nil {
			return nil, fmt.Errorf("pgvector: scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// serializeEmbedding renders a []float32 as a pgvector literal. The JSON
// array form ("[1,2,3]") is exactly the syntax pgvector accepts.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}
