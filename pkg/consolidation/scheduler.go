package consolidation

// Scheduler decides, after each inbound message, whether a consolidation run
// should fire. It is a pure decision function; the caller supplies the
// observed state.
type Scheduler struct {
	batchSize int
}

// DefaultBatchSize is the unprocessed-message count that triggers a run for
// users with an existing profile. Batching bounds synthesis cost and latency
// against profile staleness.
const DefaultBatchSize = 3

// NewScheduler creates a scheduler with the given batch size.
// Values below 1 fall back to DefaultBatchSize.
func NewScheduler(batchSize int) *Scheduler {
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}
	return &Scheduler{batchSize: batchSize}
}

// BatchSize returns the configured batch size.
func (s *Scheduler) BatchSize() int {
	return s.batchSize
}

// ShouldRun reports whether a consolidation run should fire. A user without a
// profile triggers immediately so new users get a profile on their first
// message instead of waiting for volume; otherwise the unprocessed backlog
// must have reached the batch size.
func (s *Scheduler) ShouldRun(hasProfile bool, unprocessedCount int) bool {
	if !hasProfile {
		return true
	}
	return unprocessedCount >= s.batchSize
}
