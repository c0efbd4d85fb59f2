package chromem

import (
	"context"
	"testing"
	"time"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/vector"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	index, err := NewIndex(chromemgo.NewDB(), "test")
	require.NoError(t, err)
	require.NoError(t, index.EnsureCollection(context.Background(), 4))
	return index
}

func point(id string, ownerID owner.ID, content string, vec []float32) vector.Point {
	return vector.Point{
		ID:     id,
		Vector: vec,
		Payload: vector.Payload{
			OwnerID:   ownerID,
			Content:   content,
			Tags:      []string{"test"},
			Timestamp: time.Now().UTC(),
		},
	}
}

func TestQueryFiltersByOwnerAndThreshold(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Upsert(ctx, point("a", "user-1", "close match", []float32{1, 0, 0, 0})))
	require.NoError(t, index.Upsert(ctx, point("b", "user-1", "far match", []float32{0, 1, 0, 0})))
	require.NoError(t, index.Upsert(ctx, point("c", "user-2", "other owner", []float32{1, 0, 0, 0})))

	hits, err := index.Query(ctx, []float32{1, 0, 0, 0}, "user-1", 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].ID)
	assert.Equal(t, "close match", hits[0].Payload.Content)
	assert.Equal(t, []string{"test"}, hits[0].Payload.Tags)
	assert.InDelta(t, 1.0, hits[0].Score, 0.001)

	// Dropping the threshold admits the orthogonal point but never the
	// other owner's
	hits, err = index.Query(ctx, []float32{1, 0, 0, 0}, "user-1", -1, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestQueryEmptyCollection(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	hits, err := index.Query(ctx, []float32{1, 0, 0, 0}, "user-1", 0, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteVerifiesOwnership(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Upsert(ctx, point("a", "user-1", "mine", []float32{1, 0, 0, 0})))

	err := index.Delete(ctx, "a", "user-2")
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))

	require.NoError(t, index.Delete(ctx, "a", "user-1"))

	err = index.Delete(ctx, "a", "user-1")
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestRetrieveVectorsSkipsForeignPoints(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Upsert(ctx, point("a", "user-1", "mine", []float32{1, 0, 0, 0})))
	require.NoError(t, index.Upsert(ctx, point("b", "user-2", "theirs", []float32{0, 1, 0, 0})))

	vectors, err := index.RetrieveVectors(ctx, []string{"a", "b", "missing"}, "user-1")
	require.NoError(t, err)
	assert.Contains(t, vectors, "a")
	assert.NotContains(t, vectors, "b")
	assert.NotContains(t, vectors, "missing")
}

func TestDeleteByFilter(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Upsert(ctx, point("a", "user-1", "one", []float32{1, 0, 0, 0})))
	require.NoError(t, index.Upsert(ctx, point("b", "user-1", "two", []float32{0, 1, 0, 0})))
	require.NoError(t, index.Upsert(ctx, point("c", "user-2", "keep", []float32{0, 0, 1, 0})))

	count, err := index.DeleteByFilter(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	hits, err := index.Query(ctx, []float32{0, 0, 1, 0}, "user-2", 0.5, 10)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestUpsertOverwrites(t *testing.T) {
	ctx := context.Background()
	index := newTestIndex(t)

	require.NoError(t, index.Upsert(ctx, point("a", "user-1", "before", []float32{1, 0, 0, 0})))
	require.NoError(t, index.Upsert(ctx, point("a", "user-1", "after", []float32{1, 0, 0, 0})))

	hits, err := index.Query(ctx, []float32{1, 0, 0, 0}, "user-1", 0.5, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "after", hits[0].Payload.Content)
}
