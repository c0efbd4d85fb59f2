package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return LoadFromBytes(data)
}

// LoadFromBytes loads configuration from a byte slice.
func LoadFromBytes(data []byte) (*Config, error) {
	var config Config

	err := yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Apply environment variable overrides
	applyEnvironmentOverrides(&config)

	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// applyEnvironmentOverrides applies environment variable overrides to the config.
func applyEnvironmentOverrides(config *Config) {
	// Relational DSN override
	if dsn := os.Getenv("MEMVAULT_RELATIONAL_DSN"); dsn != "" {
		config.Relational.DSN = dsn
	}

	// PgVector connection string override
	if dsn := os.Getenv("PGVECTOR_URL"); dsn != "" {
		config.Vector.PgVector.DSN = dsn
	}

	// NATS URL override
	if url := os.Getenv("MEMVAULT_NATS_URL"); url != "" {
		config.Consolidation.Queue.NATS.URL = url
	}

	// OpenAI API key override, shared by embedding and synthesis
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		config.Embedding.OpenAI.APIKey = apiKey
		config.Synthesis.OpenAI.APIKey = apiKey
	}
}

// validateConfig validates the configuration and applies defaults.
func validateConfig(config *Config) error {
	switch strings.ToLower(config.Relational.Driver) {
	case "postgres":
		if config.Relational.DSN == "" {
			return fmt.Errorf("relational DSN is required for postgres driver")
		}
	case "sqlite":
		if config.Relational.Path == "" {
			return fmt.Errorf("relational path is required for sqlite driver")
		}
	default:
		return fmt.Errorf("unsupported relational driver: %s", config.Relational.Driver)
	}

	switch strings.ToLower(config.Vector.Type) {
	case "pgvector":
		if config.Vector.PgVector.DSN == "" {
			return fmt.Errorf("connection string is required for pgvector index")
		}
		if config.Vector.PgVector.Table == "" {
			// Apply default table name
			config.Vector.PgVector.Table = "memory_vectors"
		}
	case "chromem":
		if config.Vector.Chromem.Collection == "" {
			// Apply default collection name
			config.Vector.Chromem.Collection = "memories"
		}
	default:
		return fmt.Errorf("unsupported vector index type: %s", config.Vector.Type)
	}

	switch strings.ToLower(config.Embedding.Provider) {
	case "openai":
		// API key can arrive via environment variable, so only model settings
		// get defaults here
		if config.Embedding.OpenAI.Model == "" {
			config.Embedding.OpenAI.Model = "text-embedding-3-small"
		}
		if config.Embedding.OpenAI.Dimensions <= 0 {
			config.Embedding.OpenAI.Dimensions = 1536
		}
	case "mock":
		// Mock provider doesn't require additional validation
	default:
		return fmt.Errorf("unsupported embedding provider: %s", config.Embedding.Provider)
	}

	if config.Embedding.Cache.Enabled && config.Embedding.Cache.MaxEntries <= 0 {
		config.Embedding.Cache.MaxEntries = 10000
	}

	switch strings.ToLower(config.Synthesis.Provider) {
	case "openai":
		if config.Synthesis.OpenAI.Model == "" {
			config.Synthesis.OpenAI.Model = "gpt-4o-mini"
		}
		if config.Synthesis.OpenAI.MaxTokens <= 0 {
			config.Synthesis.OpenAI.MaxTokens = 2048
		}
	case "mock":
		// Mock synthesizer doesn't require additional validation
	default:
		return fmt.Errorf("unsupported synthesis provider: %s", config.Synthesis.Provider)
	}
	if config.Synthesis.Attempts <= 0 {
		config.Synthesis.Attempts = 2
	}

	if config.Consolidation.BatchSize <= 0 {
		config.Consolidation.BatchSize = 3
	}
	if config.Consolidation.LockTTL <= 0 {
		config.Consolidation.LockTTL = 2 * time.Minute
	}
	if config.Consolidation.DedupThreshold <= 0 {
		config.Consolidation.DedupThreshold = 0.90
	}

	switch strings.ToLower(config.Consolidation.Lock.Type) {
	case "", "memory":
		config.Consolidation.Lock.Type = "memory"
	case "bolt":
		if config.Consolidation.Lock.Path == "" {
			return fmt.Errorf("lock path is required for bolt lease store")
		}
	default:
		return fmt.Errorf("unsupported lock type: %s", config.Consolidation.Lock.Type)
	}

	switch strings.ToLower(config.Consolidation.Queue.Type) {
	case "", "memory":
		config.Consolidation.Queue.Type = "memory"
		if config.Consolidation.Queue.Buffer <= 0 {
			config.Consolidation.Queue.Buffer = 64
		}
	case "nats":
		if config.Consolidation.Queue.NATS.URL == "" {
			return fmt.Errorf("NATS URL is required for nats queue")
		}
	default:
		return fmt.Errorf("unsupported queue type: %s", config.Consolidation.Queue.Type)
	}

	if config.Search.LowerThreshold <= 0 {
		config.Search.LowerThreshold = 0.40
	}
	if config.Search.UpperThreshold <= 0 {
		config.Search.UpperThreshold = 0.98
	}
	if config.Search.LowerThreshold >= config.Search.UpperThreshold {
		return fmt.Errorf("search lower threshold %.2f must be below upper threshold %.2f",
			config.Search.LowerThreshold, config.Search.UpperThreshold)
	}
	if config.Search.Limit <= 0 {
		config.Search.Limit = 25
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	return nil
}
