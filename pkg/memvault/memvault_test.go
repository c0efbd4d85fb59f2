package memvault

import (
	"context"
	"testing"
	"time"

	chromemgo "github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault/pkg/config"
	"github.com/memvault/memvault/pkg/consolidation"
	embeddingmock "github.com/memvault/memvault/pkg/embedding/adapters/mock"
	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational/sqlstore"
	synthesismock "github.com/memvault/memvault/pkg/synthesis/adapters/mock"
	chromemindex "github.com/memvault/memvault/pkg/vector/adapters/chromem"
)

const mockStackYAML = `
relational:
  driver: sqlite
  path: ":memory:"
vector:
  type: chromem
embedding:
  provider: mock
synthesis:
  provider: mock
`

func TestNewFromConfigAssemblesMockStack(t *testing.T) {
	cfg, err := config.LoadFromBytes([]byte(mockStackYAML))
	require.NoError(t, err)

	client, err := NewFromConfig(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	ctx := context.Background()
	ownerID := owner.ID("user-1")

	require.NoError(t, client.Health(ctx))

	profileCtx, err := client.RecordMessage(ctx, ownerID, "I just moved to Lisbon")
	require.NoError(t, err)
	assert.Contains(t, profileCtx, "User's Profile Summary")

	result, err := client.Consolidate(ctx, ownerID)
	require.NoError(t, err)
	assert.True(t, result.Ran)
	assert.Equal(t, 1, result.Processed)

	_, err = client.Profile(ctx, ownerID)
	require.NoError(t, err)
}

func TestConsolidateReportsHeldLease(t *testing.T) {
	ctx := context.Background()
	ownerID := owner.ID("user-1")

	store, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	index, err := chromemindex.NewIndex(chromemgo.NewDB(), "test")
	require.NoError(t, err)
	require.NoError(t, index.EnsureCollection(ctx, 8))

	locker := consolidation.NewMemoryLocker()
	_, acquired, err := locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	worker, err := consolidation.NewWorker(store, index, embeddingmock.NewProvider(),
		synthesismock.NewSynthesizer(), locker, nil, consolidation.WorkerConfig{})
	require.NoError(t, err)

	// The queued path discards silently; the synchronous path reports the
	// held lease as an error
	client := &Client{worker: worker}
	result, err := client.Consolidate(ctx, ownerID)
	assert.False(t, result.Ran)
	assert.True(t, errors.Is(err, errors.ErrLockHeld))
}
