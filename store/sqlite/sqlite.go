// Package sqlite implements strata.ContentStore using pure-Go SQLite.
// Zero CGO required.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	strata "github.com/davrell/strata"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts. If
// not set, no logs are emitted.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store implements strata.ContentStore backed by a local SQLite file.
// Embeddings are stored as JSON text.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ strata.ContentStore = (*Store)(nil)

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	s := &Store{db: db, logger: strata.NopLogger()}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: store opened", "path", dbPath)
	return s
}

// Init creates all required tables. Safe to call multiple times.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sources (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			ref TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS source_contents (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			text TEXT NOT NULL,
			metadata TEXT,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS source_contents_source_idx ON source_contents(source_id)`,
		`CREATE TABLE IF NOT EXISTS source_content_chunks (
			id TEXT PRIMARY KEY,
			source_id TEXT NOT NULL,
			content_id TEXT NOT NULL,
			text TEXT NOT NULL,
			embedding TEXT NOT NULL DEFAULT '',
			embedding_model TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS source_content_chunks_source_idx ON source_content_chunks(source_id)`,
	}
	for _, stmt := range tables {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite: init: %w", err)
		}
	}
	s.logger.Debug("sqlite: init complete", "elapsed", time.Since(start))
	return nil
}

func (s *Store) CreateSource(ctx context.Context, src strata.Source) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sources (id, kind, name, ref, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		src.ID, string(src.Kind), src.Name, src.Ref, src.CreatedAt, src.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: create source: %w", err)
	}
	s.logger.Debug("sqlite: source created", "id", src.ID, "kind", src.Kind)
	return nil
}

// SaveContent replaces the source's content blocks wholesale inside one
// transaction: old contents and their chunks are removed first.
func (s *Store) SaveContent(ctx context.Context, sourceID string, contents []strata.SourceContent) error {
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM source_content_chunks WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("sqlite: clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM source_contents WHERE source_id = ?`, sourceID); err != nil {
		return fmt.Errorf("sqlite: clear contents: %w", err)
	}

	for _, c := range contents {
		var meta string
		if len(c.Metadata) > 0 {
			data, err := json.Marshal(c.Metadata)
			if err != nil {
				return fmt.Errorf("sqlite: marshal metadata: %w", err)
			}
			meta = string(data)
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_contents (id, source_id, text, metadata, created_at, updated_at)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			c.ID, sourceID, c.Text, meta, c.CreatedAt, c.UpdatedAt); err != nil {
			return fmt.Errorf("sqlite: insert content %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE sources SET updated_at = ? WHERE id = ?`, strata.NowUnix(), sourceID); err != nil {
		return fmt.Errorf("sqlite: touch source: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save content: %w", err)
	}
	s.logger.Debug("sqlite: content saved",
		"source_id", sourceID, "blocks", len(contents), "elapsed", time.Since(start))
	return nil
}

func (s *Store) SaveChunks(ctx context.Context, chunks []strata.SourceContentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	start := time.Now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, c := range chunks {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO source_content_chunks (id, source_id, content_id, text, embedding, embedding_model, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.SourceID, c.ContentID, c.Text, serializeEmbedding(c.Embedding), c.EmbeddingModel, c.CreatedAt); err != nil {
			return fmt.Errorf("sqlite: insert chunk %s: %w", c.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit save chunks: %w", err)
	}
	s.logger.Debug("sqlite: chunks saved", "count", len(chunks), "elapsed", time.Since(start))
	return nil
}

// FindSource loads the source with its contents and chunks eagerly.
func (s *Store) FindSource(ctx context.Context, id string) (strata.Source, error) {
	var src strata.Source
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, kind, name, ref, created_at, updated_at FROM sources WHERE id = ?`, id).
		Scan(&src.ID, &kind, &src.Name, &src.Ref, &src.CreatedAt, &src.UpdatedAt)
	if err == sql.ErrNoRows {
		return strata.Source{}, &strata.NotFoundError{Entity: "source", ID: id}
	}
	if err != nil {
		return strata.Source{}, fmt.Errorf("sqlite: find source: %w", err)
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
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, text, metadata, created_at, updated_at
		 FROM source_contents WHERE source_id = ? ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load contents: %w", err)
	}
	defer rows.Close()

	var contents []strata.SourceContent
	for rows.Next() {
		var c strata.SourceContent
		var meta sql.NullString
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Text, &meta, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan content: %w", err)
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &c.Metadata); err != nil {
				return nil, fmt.Errorf("sqlite: decode content metadata: %w", err)
			}
		}
		contents = append(contents, c)
	}
	return contents, rows.Err()
}

func (s *Store) loadChunks(ctx context.Context, sourceID string) ([]strata.SourceContentChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_id, content_id, text, embedding, embedding_model, created_at
		 FROM source_content_chunks WHERE source_id = ? ORDER BY created_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: load chunks: %w", err)
	}
	defer rows.Close()

	var chunks []strata.SourceContentChunk
	for rows.Next() {
		var c strata.SourceContentChunk
		var emb string
		if err := rows.Scan(&c.ID, &c.SourceID, &c.ContentID, &c.Text, &emb, &c.EmbeddingModel, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan chunk: %w", err)
		}
		if emb != "" {
			c.Embedding, err = deserializeEmbedding(emb)
			if err != nil {
				return nil, fmt.Errorf("sqlite: decode chunk embedding: %w", err)
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

func (s *Store) DeleteSource(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: delete source: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: rows affected: %w", err)
	}
	if affected == 0 {
		return &strata.NotFoundError{Entity: "source", ID: id}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM source_contents WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete contents: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM source_content_chunks WHERE source_id = ?`, id); err != nil {
		return fmt.Errorf("sqlite: delete chunks: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit delete: %w", err)
	}
	s.logger.Debug("sqlite: source deleted", "id", id)
	return nil
}

// DeleteSources removes the listed sources, their contents, and chunks in
// one transaction: either all of them go or none do.
func (s *Store) DeleteSources(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, id := range ids {
		for _, stmt := range []string{
			`DELETE FROM source_content_chunks WHERE source_id = ?`,
			`DELETE FROM source_contents WHERE source_id = ?`,
			`DELETE FROM sources WHERE id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("sqlite: delete source %s: %w", id, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit delete: %w", err)
	}
	s.logger.Debug("sqlite: sources deleted", "count", len(ids))
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

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
