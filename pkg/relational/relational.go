package relational

import (
	"context"

	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
)

// MemoryUpdate describes a partial update to a memory. Nil fields are left
// unchanged.
type MemoryUpdate struct {
	Content *string
	Tags    *[]string
}

// ConsolidationCommit is the atomic unit produced by a successful synthesis
// run: the new profile state, the deduplicated memories extracted from the
// batch, and the IDs of the messages the batch consumed. All three commit in
// one transaction or not at all, so a message is never marked processed
// without its effects being durable.
type ConsolidationCommit struct {
	OwnerID      owner.ID
	Profile      memory.UserProfile
	NewMemories  []memory.Memory
	ProcessedIDs []string
}

// Store is the system of record for Memory, UserMessage, and UserProfile
// entities. Implementations own transactional atomicity; failures are
// surfaced wrapped in errors.ErrRelationalOp (or ErrNotFound /
// ErrPermissionDenied where the distinction matters to callers).
type Store interface {
	// InsertMemory persists a new memory row.
	InsertMemory(ctx context.Context, mem memory.Memory) error

	// GetMemory fetches a memory by ID regardless of owner; callers enforce
	// ownership where required.
	GetMemory(ctx context.Context, id string) (memory.Memory, error)

	// ListMemories returns the owner's memories, newest first.
	ListMemories(ctx context.Context, ownerID owner.ID, offset, limit int) ([]memory.Memory, error)

	// UpdateMemory applies a partial update after verifying ownership and
	// returns the updated row.
	UpdateMemory(ctx context.Context, id string, ownerID owner.ID, update MemoryUpdate) (memory.Memory, error)

	// DeleteMemory removes a memory after verifying ownership.
	DeleteMemory(ctx context.Context, id string, ownerID owner.ID) error

	// DeleteMemories removes all of the owner's memories and reports the count.
	DeleteMemories(ctx context.Context, ownerID owner.ID) (int, error)

	// AppendMessage appends a message to the owner's log.
	AppendMessage(ctx context.Context, msg memory.UserMessage) error

	// UnprocessedMessages returns the owner's unprocessed messages, oldest
	// first.
	UnprocessedMessages(ctx context.Context, ownerID owner.ID) ([]memory.UserMessage, error)

	// CountUnprocessed reports how many unprocessed messages the owner has.
	CountUnprocessed(ctx context.Context, ownerID owner.ID) (int, error)

	// GetMessage fetches a message by ID (used by tests and repair tooling).
	GetMessage(ctx context.Context, id string) (memory.UserMessage, error)

	// GetProfile returns the owner's profile, or ErrNotFound when no
	// synthesis has succeeded yet.
	GetProfile(ctx context.Context, ownerID owner.ID) (memory.UserProfile, error)

	// CommitConsolidation applies a consolidation result atomically.
	CommitConsolidation(ctx context.Context, commit ConsolidationCommit) error

	// Ping verifies connectivity for health reporting.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
