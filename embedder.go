package strata

import "context"

// Embedding is one embedded text: the vector, the text it was computed
// from, and the identifier of the model that produced it. The model id is
// persisted alongside every chunk so embeddings can be migrated when the
// model changes.
type Embedding struct {
	Vector []float32
	Text   string
	Model  string
}

// Embedder abstracts the external embedding provider.
//
// Embed returns one Embedding per input text, in input order. Any provider
// error fails the entire batch; partial results are never returned.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([]Embedding, error)
	// Dimensions returns the embedding vector size.
	Dimensions() int
	// Name returns the provider name.
	Name() string
}
