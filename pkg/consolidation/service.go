package consolidation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
)

// Service is the request-path entry point of the consolidation pipeline. It
// appends inbound messages to the log, returns the current profile context,
// and fires triggers through the queue when the scheduler says so. The
// triggered run happens in the background; the caller only pays for the
// append and two reads.
type Service struct {
	relational relational.Store
	scheduler  *Scheduler
	queue      Queue
}

// NewService creates the request-path service.
func NewService(store relational.Store, scheduler *Scheduler, queue Queue) (*Service, error) {
	if store == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "relational store cannot be nil")
	}
	if scheduler == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "scheduler cannot be nil")
	}
	if queue == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "queue cannot be nil")
	}
	return &Service{
		relational: store,
		scheduler:  scheduler,
		queue:      queue,
	}, nil
}

// RecordMessage appends the message to the owner's log, returns the current
// profile context for prompt assembly, and enqueues a consolidation trigger
// when the scheduler decides one is due. Trigger failures are logged, not
// returned: the message is durably appended and a later message re-fires the
// scheduler.
func (s *Service) RecordMessage(ctx context.Context, ownerID owner.ID, content string) (string, error) {
	if err := ownerID.Validate(); err != nil {
		return "", err
	}
	if content == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "message content cannot be empty")
	}

	msg := memory.UserMessage{
		ID:        uuid.New().String(),
		OwnerID:   ownerID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.relational.AppendMessage(ctx, msg); err != nil {
		return "", err
	}

	profile, err := s.relational.GetProfile(ctx, ownerID)
	hasProfile := true
	if err != nil {
		if !errors.Is(err, errors.ErrNotFound) {
			return "", err
		}
		hasProfile = false
	}

	count, err := s.relational.CountUnprocessed(ctx, ownerID)
	if err != nil {
		return "", err
	}

	if s.scheduler.ShouldRun(hasProfile, count) {
		if enqueueErr := s.queue.Enqueue(ctx, ownerID); enqueueErr != nil {
			log.WarnContext(ctx, "Failed to enqueue consolidation trigger",
				"owner_id", ownerID, "error", enqueueErr)
		} else {
			log.DebugContext(ctx, "Enqueued consolidation trigger",
				"owner_id", ownerID,
				"has_profile", hasProfile,
				"unprocessed", count)
		}
	}

	return ProfileContext(profile), nil
}

// ProfileContext renders a profile as the context block handed back to
// callers assembling prompts. A zero profile renders with empty sections so
// the caller's prompt shape stays stable for new users.
func ProfileContext(profile memory.UserProfile) string {
	metadataJSON := ""
	if len(profile.Metadata) > 0 {
		if raw, err := json.Marshal(profile.Metadata); err == nil {
			metadataJSON = string(raw)
		}
	}
	return fmt.Sprintf(
		"User's Metadata: \n %s\n User's Profile Summary: \n\n %s\n",
		metadataJSON,
		profile.Summary,
	)
}

// StartWorkers subscribes the worker to the queue. It returns immediately;
// the subscription runs until the context is cancelled.
func StartWorkers(ctx context.Context, queue Queue, worker *Worker) error {
	return queue.Subscribe(ctx, worker.Handle)
}
