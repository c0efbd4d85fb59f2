package consolidation

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
	"github.com/memvault/memvault/pkg/relational/sqlstore"
)

// recordingQueue captures triggers synchronously for assertions.
type recordingQueue struct {
	mu       sync.Mutex
	triggers []owner.ID
}

func (q *recordingQueue) Enqueue(ctx context.Context, ownerID owner.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.triggers = append(q.triggers, ownerID)
	return nil
}

func (q *recordingQueue) Subscribe(ctx context.Context, handler Handler) error { return nil }
func (q *recordingQueue) Close() error                                         { return nil }

func (q *recordingQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.triggers)
}

func newTestService(t *testing.T, batchSize int) (*Service, *sqlstore.Store, *recordingQueue) {
	t.Helper()
	store, err := sqlstore.NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	queue := &recordingQueue{}
	service, err := NewService(store, NewScheduler(batchSize), queue)
	require.NoError(t, err)
	return service, store, queue
}

func TestRecordMessageColdStartTriggersImmediately(t *testing.T) {
	ctx := context.Background()
	service, store, queue := newTestService(t, 3)
	ownerID := owner.ID("user-1")

	// No profile yet: the very first message fires a trigger
	_, err := service.RecordMessage(ctx, ownerID, "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, queue.count())

	count, err := store.CountUnprocessed(ctx, ownerID)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRecordMessageBatchesAfterProfileExists(t *testing.T) {
	ctx := context.Background()
	service, store, queue := newTestService(t, 3)
	ownerID := owner.ID("user-1")

	require.NoError(t, store.CommitConsolidation(ctx, relational.ConsolidationCommit{
		OwnerID: ownerID,
		Profile: memory.UserProfile{OwnerID: ownerID, Summary: "existing"},
	}))

	_, err := service.RecordMessage(ctx, ownerID, "one")
	require.NoError(t, err)
	_, err = service.RecordMessage(ctx, ownerID, "two")
	require.NoError(t, err)
	assert.Equal(t, 0, queue.count())

	// The third message reaches the batch size
	_, err = service.RecordMessage(ctx, ownerID, "three")
	require.NoError(t, err)
	assert.Equal(t, 1, queue.count())
}

func TestRecordMessageReturnsProfileContext(t *testing.T) {
	ctx := context.Background()
	service, store, _ := newTestService(t, 3)
	ownerID := owner.ID("user-1")

	require.NoError(t, store.CommitConsolidation(ctx, relational.ConsolidationCommit{
		OwnerID: ownerID,
		Profile: memory.UserProfile{
			OwnerID:  ownerID,
			Metadata: map[string]interface{}{"city": "Lisbon"},
			Summary:  "Lives in Lisbon.",
		},
	}))

	profileCtx, err := service.RecordMessage(ctx, ownerID, "hello")
	require.NoError(t, err)
	assert.Contains(t, profileCtx, "Lives in Lisbon.")
	assert.Contains(t, profileCtx, `"city":"Lisbon"`)
}

func TestRecordMessageNewUserGetsEmptyContext(t *testing.T) {
	ctx := context.Background()
	service, _, _ := newTestService(t, 3)

	profileCtx, err := service.RecordMessage(ctx, owner.ID("user-1"), "hello")
	require.NoError(t, err)
	assert.Contains(t, profileCtx, "User's Metadata")
	assert.Contains(t, profileCtx, "User's Profile Summary")
}

func TestRecordMessageValidatesInput(t *testing.T) {
	ctx := context.Background()
	service, _, queue := newTestService(t, 3)

	_, err := service.RecordMessage(ctx, owner.ID(""), "hello")
	assert.True(t, errors.Is(err, errors.ErrOwnerContext))

	_, err = service.RecordMessage(ctx, owner.ID("user-1"), "")
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	assert.Equal(t, 0, queue.count())
}
