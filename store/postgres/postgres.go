// Package postgres implements strata.ContentStore on PostgreSQL.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool; Close on the store is
// a no-op.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	strata "github.com/davrell/strata"
)

// Store persists sources, contents, and chunks in PostgreSQL. Chunk
// embeddings are stored as JSON text: the store is the durable system of
// record the reindex step reads from, not a search surface, so no vector
// column is needed here.
type Store struct {
	pool *pgxpool.Pool
}

var _ strata.ContentStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Init creates all required tables. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,

		`CREATE TABLE IF NOT EXISTS source_contents (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			metadata JSONB,
			created_at BIGINT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS source_contents_source_idx ON source_contents(source_id)`,

		`CREATE TABLE IF NOT EXISTS source_content_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL REFERENCES sources(id) ON DELETE CASCADE,
			content_id TEXT NOT NULL REFERENCES source_contents(id) ON DELETE CASCADE,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS source_content_chunks_source_idx ON source_content_chunks(source_id)`,
		`CREATE INDEX IF NOT EXISTS source_content_chunks_content_idx ON source_content_chunks(content_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: init: %w", err)
		}
	}
	return nil
}

func (s *Store) CreateSource(ctx context.Context, src strata.Source) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sources (id, kind, name, ref, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		src.ID, string(src.Kind), src.Name, src.Ref, src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("postgres: create source: %w", err)
	}
	return nil
}

// SaveContent replaces the source's content blocks wholesale: existing
// contents and their chunks are removed in the same transaction that
// inserts the new blocks.
func (s *Store) SaveContent(ctx context.Context, sourceID string, contents []strata.SourceContent) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`DELETE FROM source_content_chunks WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("postgres: clear chunks: %w", err)
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM source_contents WHERE source_id = $1`, sourceID); err != nil {
		return fmt.Errorf("postgres: clear contents: %w", err)
	}

	for _, c := range contents {
		meta, err := marshalMetadata(c.Metadata)
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO source_contents (id, source_id, text, metadata, created_at, updated_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5, $6)`,
			c.ID, sourceID, c.Text, meta, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("postgres: insert content %s: %w", c.ID, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE sources SET updated_at = $1 WHERE id = $2`,
		strata.NowUnix(), sourceID); err != nil {
		return fmt.Errorf("postgres: touch source: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit save content: %w", err)
	}
	return nil
}

func (s *Store) SaveChunks(ctx context.Context, chunks []strata.SourceContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, c := range chunks {
		batch.Queue(
			`INSERT INTO source_content_chunks (id, source_id, content_id, text, embedding, embedding_model, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			c.ID, c.SourceID, c.ContentID, c.Text, serializeEmbedding(c.Embedding), c.EmbeddingModel, c.CreatedAt)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close() //nolint:errcheck
	for range chunks {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert chunk: %w", err)
		}
	}
	return nil
}

// FindSource loads the source with its contents and chunks eagerly, in
// three queries.
func (s *Store) FindSource(ctx context.Context, id string) (strata.Source, error) {
	var src strata.Source
	var kind string
	err := s.pool.QueryRow(ctx,
		`SELECT id, kind, name, ref, created_at, updated_at FROM sources WHERE id = $1`, id).
		Scan(&src.ID, &kind, &src.Name, &src.Ref, &src.CreatedAt, &src.UpdatedAt)
	if err == pgx.ErrNoRows {
		return strata.Source{}, &strata.NotFoundError{Entity: "source", ID: id}
	}
	if err != nil {
		return strata.Source{}, fmt.Errorf("postgres: find source: %w", err)
	}
	src.Kind = strata.SourceKind(kind)

	contents, err := s.loadContents(ctx, id)
	if err != nil {
		return strata.Source{}, err
	}
	chunks, err := s.loadChunks(ctx, id)
	if err != nil {
		return strata.Source{}, err
	}

	byContent := make(map[string][]strata.SourceContentChunk)
	for _, c := range chunks {
		byContent[c.ContentID] = append(byContent[c.ContentID], c)
	}
	for i := range contents {
		contents[i].Chunks = byContent[contents[i].ID]
	}
	src.Contents = contents
	return src, nil
}

func (s *Store) loadContents(ctx context.Context, sourceID string) ([]strata.SourceContent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, text, metadata, created_at, updated_at
		 FROM source_contents WHERE source_id = $1 ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load contents: %w", err)
	}
	defer rows.Close()

	var contents []strata.SourceContent
	for rows.Next() {
		var c strata.SourceContent
		var meta []byte
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Text, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan content: %w", err)
		}
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &c.Metadata); err != nil {
				return nil, fmt.Errorf("postgres: decode content metadata: %w", err)
			}
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

func (s *Store) loadChunks(ctx context.Context, sourceID string) ([]strata.SourceContentChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, source_id, content_id, text, embedding, embedding_model, created_at
		 FROM source_content_chunks WHERE source_id = $1 ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("postgres: load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []strata.SourceContentChunk
	for rows.Next() {
		var c strata.SourceContentChunk
		var emb string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.ContentID, &c.Text, &emb, &c.EmbeddingModel, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan chunk: %w", err)
		}
		if emb != "" {
			vec, err := deserializeEmbedding(emb)
			if err != nil {
				return nil, fmt.Errorf("postgres: decode chunk embedding: %w", err)
			}
			c.Embedding = vec
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM sources WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("postgres: delete source: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &strata.NotFoundError{Entity: "source", ID: id}
	}
	return nil
}

// DeleteSources removes the listed sources in one transaction. Contents
// and chunks go with them via ON DELETE CASCADE; a failure rolls the whole
// batch back.
func (s *Store) DeleteSources(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM sources WHERE id = ANY($1)`, ids); err != nil {
		return fmt.Errorf("postgres: delete sources: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit delete: %w", err)
	}
	return nil
}

// Close is a no-op; the pool is owned by the caller.
func (s *Store) Close() error { return nil }

func marshalMetadata(meta map[string]any) ([]byte, error) {
	if len(meta) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(meta)
	if err != nil {
		return nil, fmt.Errorf("postgres: marshal metadata: %w", err)
	}
	return data, nil
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
