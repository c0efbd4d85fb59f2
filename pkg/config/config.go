package config

import "time"

// Config represents the top-level configuration for memvault.
type Config struct {
	// Relational configures the system-of-record store
	Relational RelationalConfig `yaml:"relational"`

	// Vector configures the similarity index
	Vector VectorConfig `yaml:"vector"`

	// Embedding configures the embedding provider
	Embedding EmbeddingConfig `yaml:"embedding"`

	// Synthesis configures the profile synthesis backends
	Synthesis SynthesisConfig `yaml:"synthesis"`

	// Consolidation configures the background consolidation pipeline
	Consolidation ConsolidationConfig `yaml:"consolidation"`

	// Search configures similarity search behavior
	Search SearchConfig `yaml:"search"`

	// Hooks configures the optional Lua hook engine
	Hooks HooksConfig `yaml:"hooks"`

	// Logging configures the logging behavior
	Logging LoggingConfig `yaml:"logging"`
}

// RelationalConfig configures the relational system of record.
type RelationalConfig struct {
	// Driver is the SQL driver ("postgres", "sqlite")
	Driver string `yaml:"driver"`

	// DSN is the Postgres connection string
	DSN string `yaml:"dsn"`

	// Path is the SQLite database file path (":memory:" for ephemeral)
	Path string `yaml:"path"`
}

// VectorConfig configures the similarity index.
type VectorConfig struct {
	// Type specifies the index backend ("pgvector", "chromem")
	Type string `yaml:"type"`

	// PgVector configures PostgreSQL pgvector storage
	PgVector PgVectorConfig `yaml:"pgvector"`

	// Chromem configures the embedded chromem-go index
	Chromem ChromemConfig `yaml:"chromem"`
}

// PgVectorConfig configures PostgreSQL pgvector storage.
type PgVectorConfig struct {
	// DSN is the PostgreSQL connection string
	DSN string `yaml:"dsn"`

	// Table is the name of the table to use
	Table string `yaml:"table"`
}

// ChromemConfig configures the embedded chromem-go index.
type ChromemConfig struct {
	// Collection is the collection name to use
	Collection string `yaml:"collection"`

	// Path is the on-disk persistence path (empty for in-memory)
	Path string `yaml:"path"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is the embedding backend ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures OpenAI embeddings
	OpenAI OpenAIEmbeddingConfig `yaml:"openai"`

	// Cache configures the read-through embedding cache
	Cache CacheConfig `yaml:"cache"`
}

// OpenAIEmbeddingConfig configures OpenAI embeddings.
type OpenAIEmbeddingConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the embedding model to use
	Model string `yaml:"model"`

	// Dimensions specifies the embedding dimensions
	Dimensions int `yaml:"dimensions"`

	// BaseURL overrides the API endpoint (optional)
	BaseURL string `yaml:"base_url"`
}

// CacheConfig configures the read-through embedding cache.
type CacheConfig struct {
	// Enabled turns the cache on
	Enabled bool `yaml:"enabled"`

	// MaxEntries bounds how many embeddings are retained
	MaxEntries int `yaml:"max_entries"`
}

// SynthesisConfig configures the profile synthesis backends.
type SynthesisConfig struct {
	// Provider is the primary backend ("openai", "mock")
	Provider string `yaml:"provider"`

	// OpenAI configures the OpenAI chat-completion backend
	OpenAI OpenAISynthesisConfig `yaml:"openai"`

	// Attempts is how many times each backend in the fallback chain is tried
	Attempts int `yaml:"attempts"`
}

// OpenAISynthesisConfig configures the OpenAI chat-completion backend.
type OpenAISynthesisConfig struct {
	// APIKey is the OpenAI API key
	APIKey string `yaml:"api_key"`

	// Model is the chat model to use
	Model string `yaml:"model"`

	// Temperature controls randomness in generation (0.0-1.0)
	Temperature float32 `yaml:"temperature"`

	// MaxTokens is the maximum number of tokens to generate
	MaxTokens int `yaml:"max_tokens"`

	// BaseURL overrides the API endpoint (optional)
	BaseURL string `yaml:"base_url"`
}

// ConsolidationConfig configures the background consolidation pipeline.
type ConsolidationConfig struct {
	// BatchSize is the unprocessed-message count that triggers a run
	BatchSize int `yaml:"batch_size"`

	// LockTTL bounds how long one run may hold the per-owner lease
	LockTTL time.Duration `yaml:"lock_ttl"`

	// DedupThreshold is the similarity at or above which an extracted fact
	// is dropped as a duplicate
	DedupThreshold float32 `yaml:"dedup_threshold"`

	// Lock configures the lease store
	Lock LockConfig `yaml:"lock"`

	// Queue configures the trigger queue
	Queue QueueConfig `yaml:"queue"`
}

// LockConfig configures the lease store.
type LockConfig struct {
	// Type is the lease backend ("memory", "bolt")
	Type string `yaml:"type"`

	// Path is the BoltDB file path for the bolt backend
	Path string `yaml:"path"`
}

// QueueConfig configures the trigger queue.
type QueueConfig struct {
	// Type is the queue backend ("memory", "nats")
	Type string `yaml:"type"`

	// Buffer is the in-memory queue's channel buffer
	Buffer int `yaml:"buffer"`

	// NATS configures the NATS backend
	NATS NATSConfig `yaml:"nats"`
}

// NATSConfig configures the NATS trigger queue backend.
type NATSConfig struct {
	// URL is the NATS server URL
	URL string `yaml:"url"`

	// Subject is the subject triggers are published to
	Subject string `yaml:"subject"`

	// Group is the queue group workers join
	Group string `yaml:"group"`
}

// SearchConfig configures similarity search behavior.
type SearchConfig struct {
	// LowerThreshold is the minimum similarity for a hit to be returned
	LowerThreshold float32 `yaml:"lower_threshold"`

	// UpperThreshold excludes near-identical hits above it
	UpperThreshold float32 `yaml:"upper_threshold"`

	// Limit is the maximum number of hits per query
	Limit int `yaml:"limit"`
}

// HooksConfig configures the optional Lua hook engine.
type HooksConfig struct {
	// Paths is a list of directories containing Lua hook scripts
	Paths []string `yaml:"paths"`
}

// LoggingConfig configures logging behavior.
type LoggingConfig struct {
	// Level is the logging level ("debug", "info", "warn", "error")
	Level string `yaml:"level"`

	// Format is the output format ("json", "text")
	Format string `yaml:"format"`
}
