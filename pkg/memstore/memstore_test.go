package memstore

import (
	"context"
	"testing"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	embeddingmock "github.com/memvault/memvault/pkg/embedding/adapters/mock"
	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
	"github.com/memvault/memvault/pkg/relational/sqlstore"
	chromemindex "github.com/memvault/memvault/pkg/vector/adapters/chromem"
)

func newTestStore(t *testing.T) (*Store, *embeddingmock.Provider, *chromemindex.Index) {
	t.Helper()

	rel, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { rel.Close() })

	index, err := chromemindex.NewIndex(chromemgo.NewDB(), "test")
	require.NoError(t, err)
	require.NoError(t, index.EnsureCollection(context.Background(), 4))

	embedder := embeddingmock.NewProvider(embeddingmock.WithDimension(4))
	return New(rel, index, embedder, DefaultConfig()), embedder, index
}

func TestStoreAndGet(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	ownerID := owner.ID("user-1")

	id, err := store.Store(ctx, ownerID, "I like tennis", []string{"Sports", "sports"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	mem, err := store.Get(ctx, id, ownerID)
	require.NoError(t, err)
	assert.Equal(t, "I like tennis", mem.Content)
	// Tags were normalized and deduplicated
	assert.Equal(t, []string{"sports"}, mem.Tags)

	_, err = store.Get(ctx, id, owner.ID("user-2"))
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))
}

func TestStoreValidatesInput(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	_, err := store.Store(ctx, owner.ID(""), "content", nil)
	assert.True(t, errors.Is(err, errors.ErrOwnerContext))

	_, err = store.Store(ctx, owner.ID("user-1"), "   ", nil)
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = store.Store(ctx, owner.ID("user-1"), "content", []string{"a", "b", "c", "d"})
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))
}

func TestStoreCompensatesOnRelationalFailure(t *testing.T) {
	ctx := context.Background()
	_, _, index := newTestStore(t)
	ownerID := owner.ID("user-1")

	// A closed relational store makes every insert fail after the vector
	// write has already happened.
	rel, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	rel.Close()

	broken := New(rel, index, embeddingmock.NewProvider(embeddingmock.WithDimension(4)), DefaultConfig())
	_, err = broken.Store(ctx, ownerID, "doomed", nil)
	require.Error(t, err)

	// The compensating delete removed the orphaned point
	vec, err := broken.embedder.Embed(ctx, "doomed")
	require.NoError(t, err)
	hits, err := index.Query(ctx, vec, ownerID, 0.99, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchRelatedThresholdWindow(t *testing.T) {
	ctx := context.Background()
	store, embedder, _ := newTestStore(t)
	ownerID := owner.ID("user-1")

	// Canned embeddings pin the similarity of each memory to the query:
	// identical (1.0, above the upper bound), related (0.8, inside the
	// window), and unrelated (0.0, below the lower bound).
	embedder.SetEmbedding("query", []float32{1, 0, 0, 0})
	embedder.SetEmbedding("identical", []float32{1, 0, 0, 0})
	embedder.SetEmbedding("related", []float32{0.8, 0.6, 0, 0})
	embedder.SetEmbedding("unrelated", []float32{0, 1, 0, 0})

	for _, content := range []string{"identical", "related", "unrelated"} {
		_, err := store.Store(ctx, ownerID, content, nil)
		require.NoError(t, err)
	}

	hits, err := store.SearchRelated(ctx, "query", ownerID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "related", hits[0].Content)
	assert.InDelta(t, 0.8, hits[0].Score, 0.01)
}

func TestNewAppliesDefaultThresholds(t *testing.T) {
	ctx := context.Background()

	rel, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { rel.Close() })

	index, err := chromemindex.NewIndex(chromemgo.NewDB(), "test")
	require.NoError(t, err)
	require.NoError(t, index.EnsureCollection(ctx, 4))

	embedder := embeddingmock.NewProvider(embeddingmock.WithDimension(4))
	embedder.SetEmbedding("query", []float32{1, 0, 0, 0})
	embedder.SetEmbedding("related", []float32{0.8, 0.6, 0, 0})

	// A zero-value config gets the default window, not an empty one
	store := New(rel, index, embedder, Config{})
	assert.Equal(t, DefaultConfig(), store.config)

	ownerID := owner.ID("user-1")
	_, err = store.Store(ctx, ownerID, "related", nil)
	require.NoError(t, err)

	hits, err := store.SearchRelated(ctx, "query", ownerID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "related", hits[0].Content)
}

func TestSearchRelatedOwnerIsolation(t *testing.T) {
	ctx := context.Background()
	store, embedder, _ := newTestStore(t)

	embedder.SetEmbedding("query", []float32{1, 0, 0, 0})
	embedder.SetEmbedding("their memory", []float32{0.9, 0.1, 0, 0})

	_, err := store.Store(ctx, owner.ID("user-2"), "their memory", nil)
	require.NoError(t, err)

	hits, err := store.SearchRelated(ctx, "query", owner.ID("user-1"))
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchRelatedValidatesInput(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	_, err := store.SearchRelated(ctx, "", owner.ID("user-1"))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = store.SearchRelated(ctx, "query", owner.ID(""))
	assert.True(t, errors.Is(err, errors.ErrOwnerContext))
}

func TestUpdateReindexes(t *testing.T) {
	ctx := context.Background()
	store, embedder, _ := newTestStore(t)
	ownerID := owner.ID("user-1")

	embedder.SetEmbedding("query", []float32{1, 0, 0, 0})
	embedder.SetEmbedding("old content", []float32{0, 1, 0, 0})
	embedder.SetEmbedding("new content", []float32{0.8, 0.6, 0, 0})

	id, err := store.Store(ctx, ownerID, "old content", nil)
	require.NoError(t, err)

	content := "new content"
	updated, err := store.Update(ctx, id, ownerID, relational.MemoryUpdate{Content: &content})
	require.NoError(t, err)
	assert.Equal(t, "new content", updated.Content)

	// The index now reflects the new embedding and payload
	hits, err := store.SearchRelated(ctx, "query", ownerID)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, id, hits[0].ID)
	assert.Equal(t, "new content", hits[0].Content)
}

func TestUpdateOwnershipEnforced(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)

	id, err := store.Store(ctx, owner.ID("user-1"), "mine", nil)
	require.NoError(t, err)

	content := "hijacked"
	_, err = store.Update(ctx, id, owner.ID("user-2"), relational.MemoryUpdate{Content: &content})
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))
}

func TestDeleteRemovesFromBothStores(t *testing.T) {
	ctx := context.Background()
	store, embedder, _ := newTestStore(t)
	ownerID := owner.ID("user-1")

	embedder.SetEmbedding("query", []float32{1, 0, 0, 0})
	embedder.SetEmbedding("to delete", []float32{0.8, 0.6, 0, 0})

	id, err := store.Store(ctx, ownerID, "to delete", nil)
	require.NoError(t, err)

	// A non-owner cannot delete, and the memory survives the attempt
	err = store.Delete(ctx, id, owner.ID("user-2"))
	assert.True(t, errors.Is(err, errors.ErrPermissionDenied))
	_, err = store.Get(ctx, id, ownerID)
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, id, ownerID))

	_, err = store.Get(ctx, id, ownerID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))

	hits, err := store.SearchRelated(ctx, "query", ownerID)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestDeleteAll(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	ownerID := owner.ID("user-1")

	for _, content := range []string{"one", "two", "three"} {
		_, err := store.Store(ctx, ownerID, content, nil)
		require.NoError(t, err)
	}
	_, err := store.Store(ctx, owner.ID("user-2"), "keep", nil)
	require.NoError(t, err)

	result, err := store.DeleteAll(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 3, result.RelationalCount)
	assert.Equal(t, 3, result.VectorCount)
	assert.True(t, result.VectorComplete)

	memories, err := store.List(ctx, ownerID, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, memories)

	// The other owner's data is untouched
	kept, err := store.List(ctx, owner.ID("user-2"), 0, 10)
	require.NoError(t, err)
	assert.Len(t, kept, 1)
}

func TestListNewestFirst(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	ownerID := owner.ID("user-1")

	for _, content := range []string{"first", "second"} {
		_, err := store.Store(ctx, ownerID, content, nil)
		require.NoError(t, err)
	}

	memories, err := store.List(ctx, ownerID, 0, 10)
	require.NoError(t, err)
	assert.Len(t, memories, 2)
}

func TestHealth(t *testing.T) {
	ctx := context.Background()
	store, _, _ := newTestStore(t)
	require.NoError(t, store.Health(ctx))
}
