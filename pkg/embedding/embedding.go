package embedding

import (
	"context"
)

// Provider is the interface for text embedding backends.
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed converts a single text into a fixed-dimension vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch converts multiple texts in one call, preserving order.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the fixed vector dimension this provider produces.
	Dimension() int
}
