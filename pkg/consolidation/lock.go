package consolidation

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/memvault/pkg/owner"
)

// Lease is a held per-owner consolidation lock. The token proves ownership on
// release, so an expired lease taken over by another worker cannot be
// released by the original holder.
type Lease struct {
	OwnerID   owner.ID
	Token     string
	ExpiresAt time.Time
}

// Locker is a keyed time-bounded mutual-exclusion lock. The TTL must be long
// enough to cover a full consolidation run and short enough that a crashed
// worker's lease self-expires instead of deadlocking future runs.
type Locker interface {
	// TryAcquire attempts to take the owner's lease. It returns acquired ==
	// false, without blocking or queueing, when the lease is already held.
	TryAcquire(ctx context.Context, ownerID owner.ID, ttl time.Duration) (Lease, bool, error)

	// Release frees the lease if it is still held under the same token.
	Release(ctx context.Context, lease Lease) error
}

// MemoryLocker implements Locker with an in-process map. Suitable for tests
// and single-process deployments; multi-process deployments use BoltLocker
// or an equivalent shared lease store.
type MemoryLocker struct {
	mu     sync.Mutex
	leases map[owner.ID]Lease
}

// NewMemoryLocker creates an in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		leases: make(map[owner.ID]Lease),
	}
}

// TryAcquire implements the Locker interface.
func (l *MemoryLocker) TryAcquire(ctx context.Context, ownerID owner.ID, ttl time.Duration) (Lease, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if existing, held := l.leases[ownerID]; held && existing.ExpiresAt.After(now) {
		return Lease{}, false, nil
	}

	lease := Lease{
		OwnerID:   ownerID,
		Token:     uuid.New().String(),
		ExpiresAt: now.Add(ttl),
	}
	l.leases[ownerID] = lease
	return lease, true, nil
}

// Release implements the Locker interface.
func (l *MemoryLocker) Release(ctx context.Context, lease Lease) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, held := l.leases[lease.OwnerID]; held && existing.Token == lease.Token {
		delete(l.leases, lease.OwnerID)
	}
	return nil
}
