package embedding

import (
	"context"

	"github.com/dgraph-io/ristretto"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
)

// CacheConfig holds configuration for the embedding cache.
type CacheConfig struct {
	// MaxEntries bounds the number of cached embeddings.
	MaxEntries int64
}

// DefaultCacheConfig returns the default cache configuration.
func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		MaxEntries: 10_000,
	}
}

// CachedProvider wraps a Provider with a read-through in-process cache keyed
// by the exact text. The dedup loop embeds the same candidate texts against
// many comparisons, so repeat lookups are common.
type CachedProvider struct {
	inner Provider
	cache *ristretto.Cache
}

// NewCachedProvider wraps the given provider with a ristretto cache.
func NewCachedProvider(inner Provider, cfg CacheConfig) (*CachedProvider, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.MaxEntries * 10,
		MaxCost:     cfg.MaxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "failed to create embedding cache")
	}

	return &CachedProvider{
		inner: inner,
		cache: cache,
	}, nil
}

// Dimension implements the Provider interface.
func (c *CachedProvider) Dimension() int {
	return c.inner.Dimension()
}

// Embed implements the Provider interface.
func (c *CachedProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		if vector, ok := v.([]float32); ok {
			return vector, nil
		}
	}

	vector, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}

	c.cache.Set(text, vector, 1)
	return vector, nil
}

// EmbedBatch implements the Provider interface. Texts already cached are
// served locally; only the misses go to the underlying provider.
func (c *CachedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	vectors := make([][]float32, len(texts))
	var misses []string
	var missIdx []int

	for i, text := range texts {
		if v, ok := c.cache.Get(text); ok {
			if vector, ok := v.([]float32); ok {
				vectors[i] = vector
				continue
			}
		}
		misses = append(misses, text)
		missIdx = append(missIdx, i)
	}

	if len(misses) == 0 {
		return vectors, nil
	}

	log.DebugContext(ctx, "Embedding cache misses", "total", len(texts), "misses", len(misses))

	fetched, err := c.inner.EmbedBatch(ctx, misses)
	if err != nil {
		return nil, err
	}

	for j, vector := range fetched {
		vectors[missIdx[j]] = vector
		c.cache.Set(misses[j], vector, 1)
	}

	return vectors, nil
}

// Close releases cache resources.
func (c *CachedProvider) Close() {
	c.cache.Close()
}
