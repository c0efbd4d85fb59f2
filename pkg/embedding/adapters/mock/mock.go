package mock

import (
	"context"
	"errors"
	"hash/fnv"
	"math"
	"sync"
)

// Provider implements the embedding.Provider interface with deterministic
// vectors, so tests can reason about similarity without a live service.
type Provider struct {
	// canned maps text to a predetermined embedding
	canned map[string][]float32

	// dimension is the vector size produced for non-canned texts
	dimension int

	// shouldError makes every call fail, for failure-path tests
	shouldError bool

	// calls counts Embed/EmbedBatch invocations
	calls int

	mu sync.Mutex
}

// Option configures a mock Provider.
type Option func(*Provider)

// WithDimension sets the vector dimension for generated embeddings.
func WithDimension(dim int) Option {
	return func(p *Provider) {
		p.dimension = dim
	}
}

// WithShouldError makes the provider fail every call.
func WithShouldError(shouldErr bool) Option {
	return func(p *Provider) {
		p.shouldError = shouldErr
	}
}

// NewProvider creates a mock Provider.
func NewProvider(opts ...Option) *Provider {
	p := &Provider{
		canned:    make(map[string][]float32),
		dimension: 8,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetEmbedding registers a canned embedding for the exact text.
func (p *Provider) SetEmbedding(text string, vector []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.canned[text] = vector
}

// Calls reports how many embedding calls were made.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Dimension implements the embedding.Provider interface.
func (p *Provider) Dimension() int {
	return p.dimension
}

// Embed implements the embedding.Provider interface.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := p.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch implements the embedding.Provider interface.
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	if p.shouldError {
		return nil, errors.New("mock embedding provider error")
	}

	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if v, ok := p.canned[text]; ok {
			vectors[i] = v
			continue
		}
		vectors[i] = p.deterministic(text)
	}
	return vectors, nil
}

// deterministic derives a unit vector from the text, so equal texts always
// embed identically and distinct texts are nearly orthogonal.
func (p *Provider) deterministic(text string) []float32 {
	v := make([]float32, p.dimension)
	var norm float64
	for i := range v {
		h := fnv.New32a()
		h.Write([]byte(text))
		h.Write([]byte{byte(i)})
		// Spread hash bits into [-1, 1)
		v[i] = float32(int32(h.Sum32()))/math.MaxInt32
		norm += float64(v[i]) * float64(v[i])
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		v[0] = 1
		return v
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / norm)
	}
	return v
}
