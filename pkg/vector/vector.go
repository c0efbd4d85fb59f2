package vector

import (
	"context"
	"math"
	"time"

	"github.com/memvault/memvault/pkg/owner"
)

// Payload is the metadata mirrored alongside each embedding. The relational
// store remains authoritative for ownership and tags; the payload exists so
// search results are self-contained and deletes can re-verify ownership.
type Payload struct {
	// OwnerID is the user that owns the mirrored memory
	OwnerID owner.ID

	// Content is the memory text at index time
	Content string

	// Tags mirrors the memory's tags at index time
	Tags []string

	// Timestamp is when the point was written
	Timestamp time.Time
}

// Point is one entry in the index: an ID shared with the relational store,
// its embedding, and the mirrored payload.
type Point struct {
	ID      string
	Vector  []float32
	Payload Payload
}

// Hit is one ranked result of a similarity query.
type Hit struct {
	ID      string
	Score   float32
	Payload Payload
}

// Index is the interface for similarity-searchable vector stores.
// Any underlying I/O failure is surfaced wrapped in errors.ErrVectorService;
// callers decide whether the failure is tolerable.
type Index interface {
	// EnsureCollection creates the backing collection if absent. Idempotent.
	EnsureCollection(ctx context.Context, dimension int) error

	// Upsert writes or overwrites a point.
	Upsert(ctx context.Context, point Point) error

	// Delete removes a point after re-verifying, via the stored payload, that
	// it belongs to the given owner.
	Delete(ctx context.Context, id string, ownerID owner.ID) error

	// Query returns hits for the owner's points scoring at or above
	// scoreThreshold, best first, at most limit.
	Query(ctx context.Context, vector []float32, ownerID owner.ID, scoreThreshold float32, limit int) ([]Hit, error)

	// RetrieveVectors fetches the raw embeddings for the given IDs, filtered
	// to the owner's own points. Missing or foreign IDs are simply absent
	// from the result.
	RetrieveVectors(ctx context.Context, ids []string, ownerID owner.ID) (map[string][]float32, error)

	// DeleteByFilter removes every point belonging to the owner and reports
	// how many were removed.
	DeleteByFilter(ctx context.Context, ownerID owner.ID) (int, error)
}

// CosineSimilarity computes the cosine similarity between two vectors.
// It returns 0 for mismatched or zero-length inputs.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}

// Normalize returns a unit-length copy of the vector. Zero vectors are
// returned unchanged.
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
