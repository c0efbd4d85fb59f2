package consolidation

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/memvault/pkg/embedding"
	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/hooks"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
	"github.com/memvault/memvault/pkg/synthesis"
	"github.com/memvault/memvault/pkg/vector"
)

// WorkerConfig tunes one consolidation worker.
type WorkerConfig struct {
	// LockTTL bounds how long a run may hold the per-owner lease
	LockTTL time.Duration `yaml:"lock_ttl"`

	// DedupThreshold is the similarity at or above which an extracted fact is
	// considered a duplicate of an existing memory and skipped
	DedupThreshold float32 `yaml:"dedup_threshold"`

	// DedupLimit is how many nearest neighbors each dedup check examines
	DedupLimit int `yaml:"dedup_limit"`
}

// DefaultWorkerConfig returns production defaults.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		LockTTL:        2 * time.Minute,
		DedupThreshold: 0.90,
		DedupLimit:     3,
	}
}

func (c *WorkerConfig) applyDefaults() {
	defaults := DefaultWorkerConfig()
	if c.LockTTL <= 0 {
		c.LockTTL = defaults.LockTTL
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = defaults.DedupThreshold
	}
	if c.DedupLimit <= 0 {
		c.DedupLimit = defaults.DedupLimit
	}
}

// RunResult reports the outcome of one consolidation attempt.
type RunResult struct {
	// Ran is false when the attempt was discarded because the owner's lease
	// was already held
	Ran bool

	// Processed is how many messages the run consumed
	Processed int

	// NewMemories is how many deduplicated memories the run committed
	NewMemories int
}

// Worker executes the consolidation pipeline for one owner at a time:
// acquire the lease, synthesize the unprocessed batch into an updated
// profile, deduplicate and index the extracted facts, and commit everything
// atomically. Every step before the commit is repeatable, so a failed run
// leaves the messages unprocessed and a later run redoes the work.
type Worker struct {
	relational  relational.Store
	index       vector.Index
	embedder    embedding.Provider
	synthesizer synthesis.Synthesizer
	locker      Locker
	hooks       *hooks.Engine
	config      WorkerConfig
}

// NewWorker creates a consolidation worker. The hooks engine is optional;
// pass nil to run without hooks.
func NewWorker(
	store relational.Store,
	index vector.Index,
	embedder embedding.Provider,
	synthesizer synthesis.Synthesizer,
	locker Locker,
	hookEngine *hooks.Engine,
	config WorkerConfig,
) (*Worker, error) {
	if store == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "relational store cannot be nil")
	}
	if index == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "vector index cannot be nil")
	}
	if embedder == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "embedding provider cannot be nil")
	}
	if synthesizer == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "synthesizer cannot be nil")
	}
	if locker == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "locker cannot be nil")
	}
	config.applyDefaults()

	return &Worker{
		relational:  store,
		index:       index,
		embedder:    embedder,
		synthesizer: synthesizer,
		locker:      locker,
		hooks:       hookEngine,
		config:      config,
	}, nil
}

// Handle adapts Run to the queue's Handler signature, logging instead of
// returning errors since the queue has no reply channel.
func (w *Worker) Handle(ctx context.Context, ownerID owner.ID) {
	result, err := w.Run(ctx, ownerID)
	if err != nil {
		log.ErrorContext(ctx, "Consolidation run failed", "owner_id", ownerID, "error", err)
		return
	}
	if !result.Ran {
		return
	}
	log.InfoContext(ctx, "Consolidation run complete",
		"owner_id", ownerID,
		"processed", result.Processed,
		"new_memories", result.NewMemories)
}

// Run executes one consolidation attempt for the owner. When the owner's
// lease is already held the attempt is discarded, not queued: the holder is
// consolidating the same backlog, and the scheduler re-fires on later
// messages.
func (w *Worker) Run(ctx context.Context, ownerID owner.ID) (RunResult, error) {
	if err := ownerID.Validate(); err != nil {
		return RunResult{}, err
	}

	lease, acquired, err := w.locker.TryAcquire(ctx, ownerID, w.config.LockTTL)
	if err != nil {
		return RunResult{}, err
	}
	if !acquired {
		log.DebugContext(ctx, "Consolidation lease held elsewhere, discarding trigger", "owner_id", ownerID)
		return RunResult{Ran: false}, nil
	}
	defer func() {
		if releaseErr := w.locker.Release(ctx, lease); releaseErr != nil {
			log.WarnContext(ctx, "Failed to release consolidation lease",
				"owner_id", ownerID, "error", releaseErr)
		}
	}()

	messages, err := w.relational.UnprocessedMessages(ctx, ownerID)
	if err != nil {
		return RunResult{}, err
	}
	if len(messages) == 0 {
		// Another run drained the backlog between trigger and lease
		return RunResult{Ran: true}, nil
	}

	profile, err := w.relational.GetProfile(ctx, ownerID)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return RunResult{}, err
	}

	raw, err := w.synthesizer.Synthesize(ctx, synthesis.Request{
		ExistingMetadata: profile.Metadata,
		ExistingSummary:  profile.Summary,
		Messages:         messages,
	})
	if err != nil {
		// Messages stay unprocessed; the next trigger retries the whole batch
		return RunResult{}, err
	}
	result := synthesis.Normalize(ctx, raw)

	facts := result.ExtractedMemories
	if w.hooks != nil {
		filtered, hookErr := w.hooks.FilterStrings(ctx, hooks.BeforeConsolidation, facts)
		if hookErr != nil {
			log.WarnContext(ctx, "Consolidation hook failed, keeping all facts",
				"owner_id", ownerID, "error", hookErr)
		} else {
			facts = filtered
		}
	}

	newMemories, upsertedIDs, err := w.dedupAndIndex(ctx, ownerID, facts)
	if err != nil {
		w.compensate(ctx, ownerID, upsertedIDs)
		return RunResult{}, err
	}

	summary := result.Summary
	if summary == "" {
		summary = profile.Summary
	}

	commit := relational.ConsolidationCommit{
		OwnerID: ownerID,
		Profile: memory.UserProfile{
			OwnerID:  ownerID,
			Metadata: memory.MergeMetadata(profile.Metadata, result.Metadata),
			Summary:  summary,
		},
		NewMemories:  newMemories,
		ProcessedIDs: messageIDs(messages),
	}

	if err := w.relational.CommitConsolidation(ctx, commit); err != nil {
		w.compensate(ctx, ownerID, upsertedIDs)
		return RunResult{}, err
	}

	return RunResult{
		Ran:         true,
		Processed:   len(messages),
		NewMemories: len(newMemories),
	}, nil
}

// dedupAndIndex embeds each extracted fact, skips those similar to an
// existing indexed memory at or above the dedup threshold, and upserts the
// survivors. Upserting as it goes means a fact repeated within the batch is
// also caught. It returns the memories to commit and the IDs already
// written to the index, for compensation if the commit fails.
func (w *Worker) dedupAndIndex(ctx context.Context, ownerID owner.ID, facts []string) ([]memory.Memory, []string, error) {
	var (
		memories  []memory.Memory
		upserted  []string
		timestamp = time.Now().UTC()
	)

	for _, fact := range facts {
		embedded, err := w.embedder.Embed(ctx, fact)
		if err != nil {
			return memories, upserted, err
		}

		hits, err := w.index.Query(ctx, embedded, ownerID, w.config.DedupThreshold, w.config.DedupLimit)
		if err != nil {
			return memories, upserted, err
		}
		if len(hits) > 0 {
			log.DebugContext(ctx, "Skipping duplicate extracted memory",
				"owner_id", ownerID,
				"duplicate_of", hits[0].ID,
				"score", hits[0].Score)
			continue
		}

		mem := memory.Memory{
			ID:        uuid.New().String(),
			OwnerID:   ownerID,
			Content:   fact,
			CreatedAt: timestamp,
			UpdatedAt: timestamp,
		}

		err = w.index.Upsert(ctx, vector.Point{
			ID:     mem.ID,
			Vector: embedded,
			Payload: vector.Payload{
				OwnerID:   ownerID,
				Content:   mem.Content,
				Timestamp: timestamp,
			},
		})
		if err != nil {
			return memories, upserted, err
		}
		upserted = append(upserted, mem.ID)
		memories = append(memories, mem)
	}

	return memories, upserted, nil
}

// compensate removes index points written ahead of a commit that then
// failed, restoring the invariant that every indexed point has a relational
// row. Best effort; a leaked point only costs a spurious dedup skip.
func (w *Worker) compensate(ctx context.Context, ownerID owner.ID, ids []string) {
	for _, id := range ids {
		if err := w.index.Delete(ctx, id, ownerID); err != nil {
			log.ErrorContext(ctx, "Failed to compensate indexed point after aborted consolidation",
				"owner_id", ownerID, "memory_id", id, "error", err)
		}
	}
}

func messageIDs(messages []memory.UserMessage) []string {
	ids := make([]string, len(messages))
	for i, msg := range messages {
		ids[i] = msg.ID
	}
	return ids
}
