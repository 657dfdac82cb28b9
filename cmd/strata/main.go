// Command strata is a thin CLI around the ingestion and retrieval pipeline:
// ingest files, URLs, and raw text into a configured store and index, then
// search them.
//
// Usage:
//
//	strata ingest <file> [<file>...]
//	strata ingest-url <url>
//	strata search <query>
//	strata delete <source-id> [<source-id>...]
//
// Configuration is read from the TOML file named by STRATA_CONFIG
// (default: strata.toml).
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"

	strata "github.com/davrell/strata"
	"github.com/davrell/strata/index/keyword"
	"github.com/davrell/strata/index/pgvector"
	"github.com/davrell/strata/ingest"
	"github.com/davrell/strata/provider/gemini"
	"github.com/davrell/strata/store/postgres"
	"github.com/davrell/strata/store/sqlite"
)

func main() {
	if len(os.Args) < 3 {
		usage()
	}

	ctx := context.Background()

	// 1. Load config
	cfgPath := os.Getenv("STRATA_CONFIG")
	if cfgPath == "" {
		cfgPath = "strata.toml"
	}
	cfg, err := strata.LoadConfig(cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	// 2. Create store + registry per configured driver
	registry := strata.NewRegistry()
	var store strata.ContentStore
	switch cfg.Store.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			log.Fatal(err)
		}
		defer pool.Close()
		pg := postgres.New(pool)
		if err := pg.Init(ctx); err != nil {
			log.Fatal(err)
		}
		vec := pgvector.New(pool, pgvector.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		if err := vec.Init(ctx); err != nil {
			log.Fatal(err)
		}
		if err := registry.Register(vec); err != nil {
			log.Fatal(err)
		}
		store = pg
	case "sqlite":
		db := sqlite.New(cfg.Store.Path)
		if err := db.Init(ctx); err != nil {
			log.Fatal(err)
		}
		store = db
	default:
		log.Fatalf("unknown store driver %q", cfg.Store.Driver)
	}
	defer store.Close()

	// The keyword index persists beside the sqlite file; with postgres it
	// still lives on local disk.
	kw, err := keyword.New(bleveDir(cfg))
	if err != nil {
		log.Fatal(err)
	}
	defer kw.Close()
	if err := registry.Register(kw); err != nil {
		log.Fatal(err)
	}

	// 3. Embedding provider with retry
	embedder := strata.WithRetry(
		gemini.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions),
	)

	// 4. Dispatch
	switch os.Args[1] {
	case "ingest":
		ingestor := ingest.New(store, embedder, registry)
		for _, path := range os.Args[2:] {
			data, err := os.ReadFile(path)
			if err != nil {
				log.Fatal(err)
			}
			src, err := ingestor.Ingest(ctx, ingest.Input{
				Kind: strata.KindFile,
				Name: filepath.Base(path),
				Ref:  path,
				Data: data,
			})
			if err != nil {
				log.Fatal(err)
			}
			fmt.Printf("%s\t%s\n", src.ID, src.Name)
		}
	case "ingest-url":
		ingestor := ingest.New(store, embedder, registry)
		src, err := ingestor.Ingest(ctx, ingest.Input{
			Kind: strata.KindURL,
			Name: os.Args[2],
			Ref:  os.Args[2],
		})
		if err != nil {
			log.Fatal(err)
		}
		fmt.Printf("%s\t%s\n", src.ID, src.Name)
	case "search":
		retriever := strata.NewRetriever(store, embedder, registry,
			strata.WithIndexType(resolveIndexType(cfg)))
		results, err := retriever.Search(ctx, strata.Filter{}, os.Args[2], strata.SearchOptions{
			Limit:       cfg.Index.Limit,
			MaxDistance: float32(cfg.Index.MaxDistance),
		})
		if err != nil {
			log.Fatal(err)
		}
		for _, r := range results {
			fmt.Printf("%.3f\t%s\t%s\n", r.Score, r.SourceID, r.Text)
		}
	case "delete":
		ingestor := ingest.New(store, embedder, registry)
		if err := ingestor.DeleteSources(ctx, os.Args[2:]); err != nil {
			log.Fatal(err)
		}
	default:
		usage()
	}
}

// resolveIndexType picks the index a search runs against. The sqlite
// store never registers the parent-child index, so the default
// index.type falls back to the keyword index there; any other
// combination is used as configured.
func resolveIndexType(cfg strata.Config) string {
	if cfg.Store.Driver == "sqlite" && cfg.Index.Type == pgvector.TypeName {
		return keyword.TypeName
	}
	return cfg.Index.Type
}

func bleveDir(cfg strata.Config) string {
	if cfg.Store.Driver == "sqlite" {
		return cfg.Store.Path + ".bleve"
	}
	return "strata.bleve"
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage:
  strata ingest <file> [<file>...]
  strata ingest-url <url>
  strata search <query>
  strata delete <source-id> [<source-id>...]`)
	os.Exit(2)
}
