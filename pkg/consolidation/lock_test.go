package consolidation

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/owner"
)

func TestMemoryLockerExclusion(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	ownerID := owner.ID("user-1")

	lease, acquired, err := locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)
	assert.NotEmpty(t, lease.Token)

	// Second acquire is refused without blocking
	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	// Different owners do not contend
	_, acquired, err = locker.TryAcquire(ctx, owner.ID("user-2"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	require.NoError(t, locker.Release(ctx, lease))
	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryLockerExpiredLeaseIsReacquirable(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	ownerID := owner.ID("user-1")

	_, acquired, err := locker.TryAcquire(ctx, ownerID, -time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestMemoryLockerStaleReleaseIsIgnored(t *testing.T) {
	ctx := context.Background()
	locker := NewMemoryLocker()
	ownerID := owner.ID("user-1")

	stale, acquired, err := locker.TryAcquire(ctx, ownerID, -time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	current, acquired, err := locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// The stale holder's release must not free the new holder's lease
	require.NoError(t, locker.Release(ctx, stale))
	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, locker.Release(ctx, current))
}

func openTestBolt(t *testing.T) *bolt.DB {
	t.Helper()
	db, err := bolt.Open(filepath.Join(t.TempDir(), "leases.db"), 0600, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestBoltLockerExclusion(t *testing.T) {
	ctx := context.Background()
	locker, err := NewBoltLocker(openTestBolt(t))
	require.NoError(t, err)
	ownerID := owner.ID("user-1")

	lease, acquired, err := locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	require.NoError(t, locker.Release(ctx, lease))
	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestBoltLockerExpiredLeaseIsReacquirable(t *testing.T) {
	ctx := context.Background()
	locker, err := NewBoltLocker(openTestBolt(t))
	require.NoError(t, err)
	ownerID := owner.ID("user-1")

	stale, acquired, err := locker.TryAcquire(ctx, ownerID, -time.Second)
	require.NoError(t, err)
	require.True(t, acquired)

	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	// The expired holder cannot release the takeover lease
	require.NoError(t, locker.Release(ctx, stale))
	_, acquired, err = locker.TryAcquire(ctx, ownerID, time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)
}

func TestBoltLockerSurfacesLeaseStoreFailure(t *testing.T) {
	ctx := context.Background()
	db := openTestBolt(t)
	locker, err := NewBoltLocker(db)
	require.NoError(t, err)

	lease, acquired, err := locker.TryAcquire(ctx, "user-1", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	require.NoError(t, db.Close())

	_, _, err = locker.TryAcquire(ctx, "user-2", time.Minute)
	assert.True(t, errors.Is(err, errors.ErrLockService))

	err = locker.Release(ctx, lease)
	assert.True(t, errors.Is(err, errors.ErrLockService))
}
