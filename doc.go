// Package strata is the content ingestion and retrieval core for a
// multi-tenant knowledge platform.
//
// It turns documents and web pages into searchable, embedded chunks, keeps
// that index consistent under re-ingestion and deletion, and serves
// similarity queries back to callers. The building blocks are
// interface-driven: a ContentStore for persistence, an Embedder for vector
// generation, and a Registry of pluggable Index types for search.
//
// # Quick Start
//
//	pool, _ := pgxpool.New(ctx, dsn)
//	store := postgres.New(pool)
//	embedder := gemini.NewEmbedding(apiKey, "gemini-embedding-001", 768)
//
//	registry := strata.NewRegistry()
//	registry.Register(pgvector.New(pool))
//
//	ingestor := ingest.New(store, embedder, registry)
//	src, err := ingestor.Ingest(ctx, ingest.Input{
//		Kind: strata.KindFile,
//		Name: "report.pdf",
//		Data: pdfBytes,
//	})
//
//	retriever := strata.NewRetriever(store, embedder, registry)
//	results, err := retriever.Search(ctx, strata.Filter{}, "quarterly revenue", strata.SearchOptions{})
//
// # Consistency model
//
// Re-ingesting a source replaces its contents and chunks wholesale, and the
// index is refreshed with a delete-then-ingest cycle: existing entries for
// the source are removed synchronously before any new entry is written, so
// old and new entries for the same source never coexist. Index backends are
// eventually consistent with the content store; the Retriever tolerates
// stale hits by skipping them.
package strata
