package openai

import (
	"context"

	"github.com/sashabaranov/go-openai"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
)

// Config holds the configuration for the OpenAI embedding adapter.
type Config struct {
	// APIKey is the OpenAI API key.
	APIKey string
	// Model is the embedding model, e.g. "text-embedding-3-small".
	Model string
	// Dimension is the vector size the model produces.
	Dimension int
	// BaseURL overrides the API base URL (for testing).
	BaseURL string
}

// Adapter implements the embedding.Provider interface using the OpenAI API.
type Adapter struct {
	client    *openai.Client
	model     string
	dimension int
}

// NewAdapter creates a new OpenAI embedding adapter.
func NewAdapter(config Config) (*Adapter, error) {
	if config.APIKey == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "openai embedding API key is required")
	}
	if config.Model == "" {
		config.Model = "text-embedding-3-small"
	}
	if config.Dimension <= 0 {
		// text-embedding-3-small produces 1536-dimensional vectors
		config.Dimension = 1536
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &Adapter{
		client:    openai.NewClientWithConfig(clientConfig),
		model:     config.Model,
		dimension: config.Dimension,
	}, nil
}

// Dimension implements the embedding.Provider interface.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// Embed implements the embedding.Provider interface.
func (a *Adapter) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := a.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements the embedding.Provider interface.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	log.DebugContext(ctx, "Generating embeddings", "count", len(texts), "model", a.model)

	response, err := a.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(a.model),
	})
	if err != nil {
		log.ErrorContext(ctx, "Failed to generate embeddings", "error", err, "model", a.model)
		return nil, errors.Wrap(errors.ErrEmbeddingService, "openai embeddings call failed (%v)", err)
	}

	if len(response.Data) != len(texts) {
		return nil, errors.Wrap(errors.ErrEmbeddingService,
			"embedding count mismatch: got %d, want %d", len(response.Data), len(texts))
	}

	embeddings := make([][]float32, len(response.Data))
	for i, data := range response.Data {
		embeddings[i] = data.Embedding
	}

	return embeddings, nil
}
