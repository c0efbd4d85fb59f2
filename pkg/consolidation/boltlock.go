package consolidation

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/owner"
)

const leaseBucket = "consolidation_leases"

// BoltLocker implements Locker with leases persisted in a BoltDB bucket, so
// worker processes sharing the database file exclude each other and a crashed
// holder's lease expires by TTL instead of surviving the restart.
type BoltLocker struct {
	db *bolt.DB
}

// NewBoltLocker creates a locker on the given BoltDB handle.
func NewBoltLocker(db *bolt.DB) (*BoltLocker, error) {
	if db == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "bolt database cannot be nil")
	}

	err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(leaseBucket))
		return err
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "failed to create lease bucket")
	}

	log.Debug("Initialized BoltDB lease locker", "db_path", db.Path())
	return &BoltLocker{db: db}, nil
}

// storedLease is the persisted lease record.
type storedLease struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// TryAcquire implements the Locker interface.
func (l *BoltLocker) TryAcquire(ctx context.Context, ownerID owner.ID, ttl time.Duration) (Lease, bool, error) {
	var (
		lease    Lease
		acquired bool
	)

	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		key := []byte(ownerID)
		now := time.Now()

		if raw := bucket.Get(key); raw != nil {
			var existing storedLease
			if err := json.Unmarshal(raw, &existing); err == nil && existing.ExpiresAt.After(now) {
				// Held and not expired: the trigger is discarded, not queued
				return nil
			}
		}

		stored := storedLease{
			Token:     uuid.New().String(),
			ExpiresAt: now.Add(ttl),
		}
		raw, err := json.Marshal(stored)
		if err != nil {
			return err
		}
		if err := bucket.Put(key, raw); err != nil {
			return err
		}

		lease = Lease{
			OwnerID:   ownerID,
			Token:     stored.Token,
			ExpiresAt: stored.ExpiresAt,
		}
		acquired = true
		return nil
	})
	if err != nil {
		return Lease{}, false, errors.Wrap(errors.ErrLockService, "failed to acquire lease for %s", ownerID)
	}

	return lease, acquired, nil
}

// Release implements the Locker interface.
func (l *BoltLocker) Release(ctx context.Context, lease Lease) error {
	err := l.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket([]byte(leaseBucket))
		key := []byte(lease.OwnerID)

		raw := bucket.Get(key)
		if raw == nil {
			return nil
		}
		var stored storedLease
		if err := json.Unmarshal(raw, &stored); err != nil {
			return bucket.Delete(key)
		}
		// Only the holder's token may release; an expired-and-reacquired
		// lease belongs to someone else now
		if stored.Token != lease.Token {
			return nil
		}
		return bucket.Delete(key)
	})
	if err != nil {
		return errors.Wrap(errors.ErrLockService, "failed to release lease for %s", lease.OwnerID)
	}
	return nil
}
