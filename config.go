package strata

import (
	"fmt"

	"github.com/BurntSushi/toml"
)

// Config holds pipeline configuration, loaded from a TOML file.
type Config struct {
	Store     StoreConfig     `toml:"store"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Index     IndexConfig     `toml:"index"`
	Splitter  SplitterConfig  `toml:"splitter"`
}

// StoreConfig selects and configures the content store backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // "postgres" or "sqlite"
	DSN    string `toml:"dsn"`    // postgres connection string
	Path   string `toml:"path"`   // sqlite database file
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
}

// IndexConfig configures the default index type and search bounds.
type IndexConfig struct {
	Type        string  `toml:"type"`
	Limit       int     `toml:"limit"`
	MaxDistance float64 `toml:"max_distance"`
}

// SplitterConfig configures the two chunking granularities: coarse content
// blocks for storage and readability, fine chunks for embedding precision.
type SplitterConfig struct {
	ContentChunkSize int `toml:"content_chunk_size"`
	ChunkSize        int `toml:"chunk_size"`
	ChunkOverlap     int `toml:"chunk_overlap"`
}

// DefaultConfig returns the configuration used when a field is absent from
// the TOML file.
func DefaultConfig() Config {
	return Config{
		Store: StoreConfig{Driver: "sqlite", Path: "strata.db"},
		Index: IndexConfig{Type: "parent-child", Limit: DefaultSearchLimit},
		Splitter: SplitterConfig{
			ContentChunkSize: 2000,
			ChunkSize:        400,
			ChunkOverlap:     50,
		},
	}
}

// LoadConfig reads TOML from path over DefaultConfig and validates the
// result.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations the pipeline would fail on later.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "postgres":
		if c.Store.DSN == "" {
			return Validationf("config: store.dsn required for postgres driver")
		}
	case "sqlite":
		if c.Store.Path == "" {
			return Validationf("config: store.path required for sqlite driver")
		}
	default:
		return Validationf("config: unknown store driver %q", c.Store.Driver)
	}
	if c.Splitter.ChunkSize <= 0 || c.Splitter.ContentChunkSize <= 0 {
		return Validationf("config: chunk sizes must be positive")
	}
	if c.Splitter.ChunkOverlap >= c.Splitter.ChunkSize {
		return Validationf("config: chunk_overlap %d must be smaller than chunk_size %d",
			c.Splitter.ChunkOverlap, c.Splitter.ChunkSize)
	}
	if c.Index.MaxDistance < 0 {
		return Validationf("config: index.max_distance must not be negative")
	}
	return nil
}
