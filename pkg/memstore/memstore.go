package memstore

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/memvault/pkg/embedding"
	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
	"github.com/memvault/memvault/pkg/vector"
)

// Config contains tuning knobs for the memory store.
type Config struct {
	// LowerScoreThreshold rejects low-similarity noise from search results
	LowerScoreThreshold float32 `yaml:"lower_score_threshold"`

	// UpperScoreThreshold excludes near-identical matches, e.g. the memory
	// that literally generated the query
	UpperScoreThreshold float32 `yaml:"upper_score_threshold"`

	// SearchLimit is the maximum number of candidates fetched from the index
	SearchLimit int `yaml:"search_limit"`
}

// DefaultConfig returns the default memory store configuration.
func DefaultConfig() Config {
	return Config{
		LowerScoreThreshold: 0.40,
		UpperScoreThreshold: 0.98,
		SearchLimit:         25,
	}
}

// DeleteAllResult reports the outcome of a bulk delete per store. The
// relational count is authoritative; the vector side is best-effort and
// reported separately so callers can detect partial cleanup.
type DeleteAllResult struct {
	RelationalCount int
	VectorCount     int
	VectorComplete  bool
}

// Store orchestrates writes and reads across the relational store (system of
// record) and the vector index (rebuildable secondary). It exclusively owns
// the Memory entity lifecycle.
type Store struct {
	relational relational.Store
	index      vector.Index
	embedder   embedding.Provider
	config     Config
}

// New creates a memory store over the given backends. Unset config fields
// fall back to DefaultConfig values.
func New(rel relational.Store, index vector.Index, embedder embedding.Provider, config Config) *Store {
	defaults := DefaultConfig()
	if config.LowerScoreThreshold <= 0 {
		config.LowerScoreThreshold = defaults.LowerScoreThreshold
	}
	if config.UpperScoreThreshold <= 0 {
		config.UpperScoreThreshold = defaults.UpperScoreThreshold
	}
	if config.SearchLimit <= 0 {
		config.SearchLimit = defaults.SearchLimit
	}
	return &Store{
		relational: rel,
		index:      index,
		embedder:   embedder,
		config:     config,
	}
}

// Store persists a new memory in both stores and returns its generated ID.
//
// The vector point is written first: a failed embedding or index write aborts
// before anything durable exists. If the relational insert then fails, the
// point is compensated away so the index never references a record the system
// of record does not have. A failed compensation is logged as a repairable
// inconsistency; the index is a rebuildable artifact.
func (s *Store) Store(ctx context.Context, ownerID owner.ID, content string, tags []string) (string, error) {
	if err := ownerID.Validate(); err != nil {
		return "", err
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "memory content cannot be empty")
	}
	normalizedTags, err := memory.NormalizeTags(tags)
	if err != nil {
		return "", err
	}

	embeddingVec, err := s.embedder.Embed(ctx, content)
	if err != nil {
		return "", err
	}

	id := uuid.New().String()
	now := time.Now().UTC()

	point := vector.Point{
		ID:     id,
		Vector: embeddingVec,
		Payload: vector.Payload{
			OwnerID:   ownerID,
			Content:   content,
			Tags:      normalizedTags,
			Timestamp: now,
		},
	}
	if err := s.index.Upsert(ctx, point); err != nil {
		return "", err
	}

	mem := memory.Memory{
		ID:        id,
		OwnerID:   ownerID,
		Content:   content,
		Tags:      normalizedTags,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.relational.InsertMemory(ctx, mem); err != nil {
		if compErr := s.index.Delete(ctx, id, ownerID); compErr != nil {
			log.ErrorContext(ctx, "Failed to compensate vector write, index inconsistent until repair",
				"memory_id", id,
				"owner_id", ownerID,
				"error", compErr)
		}
		return "", err
	}

	log.DebugContext(ctx, "Stored memory", "memory_id", id, "owner_id", ownerID, "tags", len(normalizedTags))
	return id, nil
}

// Update applies a partial update to a memory. The relational update is
// authoritative and happens first; the vector re-embed afterwards is
// best-effort, since the system of record is already correct and the index
// can be repaired later.
func (s *Store) Update(ctx context.Context, id string, ownerID owner.ID, update relational.MemoryUpdate) (memory.Memory, error) {
	if err := ownerID.Validate(); err != nil {
		return memory.Memory{}, err
	}
	if update.Tags != nil {
		normalized, err := memory.NormalizeTags(*update.Tags)
		if err != nil {
			return memory.Memory{}, err
		}
		update.Tags = &normalized
	}

	mem, err := s.relational.UpdateMemory(ctx, id, ownerID, update)
	if err != nil {
		return memory.Memory{}, err
	}

	embeddingVec, err := s.embedder.Embed(ctx, mem.Content)
	if err != nil {
		log.WarnContext(ctx, "Failed to re-embed updated memory, index stale until repair",
			"memory_id", id, "error", err)
		return mem, nil
	}
	point := vector.Point{
		ID:     id,
		Vector: embeddingVec,
		Payload: vector.Payload{
			OwnerID:   ownerID,
			Content:   mem.Content,
			Tags:      mem.Tags,
			Timestamp: mem.UpdatedAt,
		},
	}
	if err := s.index.Upsert(ctx, point); err != nil {
		log.WarnContext(ctx, "Failed to update vector point, index stale until repair",
			"memory_id", id, "error", err)
	}

	return mem, nil
}

// Delete removes a memory. The relational delete verifies ownership and is
// authoritative; the vector delete afterwards is best-effort and re-verifies
// ownership against the stored payload before removing.
func (s *Store) Delete(ctx context.Context, id string, ownerID owner.ID) error {
	if err := ownerID.Validate(); err != nil {
		return err
	}

	if err := s.relational.DeleteMemory(ctx, id, ownerID); err != nil {
		return err
	}

	if err := s.index.Delete(ctx, id, ownerID); err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			log.WarnContext(ctx, "Failed to delete vector point, index stale until repair",
				"memory_id", id, "error", err)
		}
	}

	return nil
}

// SearchRelated embeds the query and returns the owner's memories scoring
// within the configured [lower, upper] window, best first.
func (s *Store) SearchRelated(ctx context.Context, queryText string, ownerID owner.ID) ([]memory.SearchHit, error) {
	if err := ownerID.Validate(); err != nil {
		return nil, err
	}
	queryText = strings.TrimSpace(queryText)
	if queryText == "" {
		return nil, errors.Wrap(errors.ErrInvalidInput, "search query cannot be empty")
	}

	queryVec, err := s.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Query(ctx, queryVec, ownerID, s.config.LowerScoreThreshold, s.config.SearchLimit)
	if err != nil {
		return nil, err
	}

	results := make([]memory.SearchHit, 0, len(hits))
	for _, hit := range hits {
		if hit.Score > s.config.UpperScoreThreshold {
			continue
		}
		results = append(results, memory.SearchHit{
			ID:        hit.ID,
			Content:   hit.Payload.Content,
			Tags:      hit.Payload.Tags,
			Score:     hit.Score,
			Timestamp: hit.Payload.Timestamp,
		})
	}

	log.DebugContext(ctx, "Semantic search complete",
		"owner_id", ownerID,
		"candidates", len(hits),
		"results", len(results))
	return results, nil
}

// Get returns a single memory after verifying ownership.
func (s *Store) Get(ctx context.Context, id string, ownerID owner.ID) (memory.Memory, error) {
	if err := ownerID.Validate(); err != nil {
		return memory.Memory{}, err
	}

	mem, err := s.relational.GetMemory(ctx, id)
	if err != nil {
		return memory.Memory{}, err
	}
	if mem.OwnerID != ownerID {
		return memory.Memory{}, errors.Wrap(errors.ErrPermissionDenied, "memory %s is not owned by %s", id, ownerID)
	}
	return mem, nil
}

// List returns the owner's memories from the system of record, newest first.
func (s *Store) List(ctx context.Context, ownerID owner.ID, offset, limit int) ([]memory.Memory, error) {
	if err := ownerID.Validate(); err != nil {
		return nil, err
	}
	return s.relational.ListMemories(ctx, ownerID, offset, limit)
}

// DeleteAll removes every memory the owner has. The relational bulk delete is
// authoritative; the vector bulk delete is best-effort with its completeness
// reported in the result.
func (s *Store) DeleteAll(ctx context.Context, ownerID owner.ID) (DeleteAllResult, error) {
	if err := ownerID.Validate(); err != nil {
		return DeleteAllResult{}, err
	}

	relationalCount, err := s.relational.DeleteMemories(ctx, ownerID)
	if err != nil {
		return DeleteAllResult{}, err
	}

	result := DeleteAllResult{
		RelationalCount: relationalCount,
		VectorComplete:  true,
	}

	vectorCount, err := s.index.DeleteByFilter(ctx, ownerID)
	if err != nil {
		log.WarnContext(ctx, "Vector bulk delete failed, index stale until repair",
			"owner_id", ownerID, "error", err)
		result.VectorComplete = false
	} else {
		result.VectorCount = vectorCount
	}

	log.InfoContext(ctx, "Deleted all memories",
		"owner_id", ownerID,
		"relational_count", result.RelationalCount,
		"vector_count", result.VectorCount,
		"vector_complete", result.VectorComplete)
	return result, nil
}

// Health reports connectivity of both stores. The vector check reuses the
// idempotent collection bootstrap, which touches the backend without writing.
func (s *Store) Health(ctx context.Context) error {
	if err := s.relational.Ping(ctx); err != nil {
		return err
	}
	return s.index.EnsureCollection(ctx, s.embedder.Dimension())
}
