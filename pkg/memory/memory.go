package memory

import (
	"strings"
	"time"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/owner"
)

// MaxTags is the maximum number of tags a memory may carry.
const MaxTags = 3

// Memory is a discrete, user-owned text fact with optional tags.
// The relational store is the system of record; the vector index mirrors the
// same ID and payload for similarity search.
type Memory struct {
	// ID is a globally generated unique identifier, shared by both stores
	ID string

	// OwnerID is the user that owns this memory
	OwnerID owner.ID

	// Content is the fact text, phrased from the user's first-person perspective
	Content string

	// Tags are up to MaxTags short category strings
	Tags []string

	// CreatedAt is when this memory was initially stored
	CreatedAt time.Time

	// UpdatedAt is when this memory was last modified
	UpdatedAt time.Time
}

// UserMessage is one entry in the append-only conversational log.
type UserMessage struct {
	// ID is a unique identifier for the message
	ID string

	// OwnerID is the user that sent the message
	OwnerID owner.ID

	// Content is the raw message text
	Content string

	// CreatedAt is when the message was appended
	CreatedAt time.Time

	// Processed transitions false to true exactly once, inside the
	// consolidation commit that consumed the message
	Processed bool
}

// UserProfile is the consolidated view of one user, created on first
// successful synthesis and updated by later runs.
type UserProfile struct {
	// OwnerID is the user the profile describes; one profile per owner
	OwnerID owner.ID

	// Metadata is an open-ended key/value map maintained by synthesis
	Metadata map[string]interface{}

	// Summary is free-form prose describing the user
	Summary string

	// UpdatedAt is when the profile was last committed
	UpdatedAt time.Time
}

// SearchHit is one ranked result from a similarity search.
type SearchHit struct {
	// ID is the memory ID the hit refers to
	ID string

	// Content is the memory text carried in the index payload
	Content string

	// Tags mirrors the memory's tags at index time
	Tags []string

	// Score is the similarity score assigned by the index
	Score float32

	// Timestamp is when the point was written to the index
	Timestamp time.Time
}

// NormalizeTags trims, lowercases, and deduplicates tags, dropping empties.
// It returns ErrInvalidInput when more than MaxTags distinct tags remain.
func NormalizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}

	if len(out) > MaxTags {
		return nil, errors.Wrap(errors.ErrInvalidInput, "too many tags (%d, max %d)", len(out), MaxTags)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// MergeMetadata merges newly synthesized metadata into the existing map.
// The result is the union of keys with incoming values winning on conflict;
// keys the synthesizer did not mention are preserved unchanged.
func MergeMetadata(existing, incoming map[string]interface{}) map[string]interface{} {
	merged := make(map[string]interface{}, len(existing)+len(incoming))
	for k, v := range existing {
		merged[k] = v
	}
	for k, v := range incoming {
		merged[k] = v
	}
	return merged
}
