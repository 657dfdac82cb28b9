package ingest

import "log/slog"

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithContentSplitter sets the coarse splitter producing SourceContent
// blocks (default 2000 chars, no overlap).
func WithContentSplitter(s Splitter) Option {
	return func(ing *Ingestor) { ing.contentSplitter = s }
}

// WithChunkSplitter sets the fine splitter producing embeddable chunks
// (default 400 chars, 50 overlap).
func WithChunkSplitter(s Splitter) Option {
	return func(ing *Ingestor) { ing.chunkSplitter = s }
}

// WithExtractor registers an Extractor for a given ContentType.
func WithExtractor(ct ContentType, e Extractor) Option {
	return func(ing *Ingestor) { ing.extractors[ct] = e }
}

// WithFetcher sets the URL fetcher.
func WithFetcher(f Fetcher) Option {
	return func(ing *Ingestor) { ing.fetcher = f }
}

// WithConcurrency caps concurrent index ingest calls during reindex
// (default 8).
func WithConcurrency(n int) Option {
	return func(ing *Ingestor) {
		if n > 0 {
			ing.concurrency = n
		}
	}
}

// WithLogger sets the logger. Logs are discarded by default.
func WithLogger(l *slog.Logger) Option {
	return func(ing *Ingestor) {
		if l != nil {
			ing.logger = l
		}
	}
}
