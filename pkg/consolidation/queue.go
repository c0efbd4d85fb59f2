package consolidation

import (
	"context"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/owner"
)

// Handler consumes one consolidation trigger.
type Handler func(ctx context.Context, ownerID owner.ID)

// Queue carries consolidation triggers from the request path to background
// workers, decoupling a run's lifetime from the request that scheduled it.
type Queue interface {
	// Enqueue publishes a trigger for the owner.
	Enqueue(ctx context.Context, ownerID owner.ID) error

	// Subscribe starts delivering triggers to the handler until the context
	// is cancelled.
	Subscribe(ctx context.Context, handler Handler) error

	// Close stops delivery and releases resources.
	Close() error
}

// MemoryQueue implements Queue with an in-process channel. Triggers are
// dropped with a warning when the buffer is full; the scheduler will re-fire
// on a later message, so a dropped trigger only delays consolidation.
type MemoryQueue struct {
	triggers chan owner.ID
	wg       sync.WaitGroup

	// mu guards closed so Enqueue never sends on a closed channel
	mu     sync.Mutex
	closed bool
}

// NewMemoryQueue creates an in-process queue with the given buffer size.
func NewMemoryQueue(buffer int) *MemoryQueue {
	if buffer <= 0 {
		buffer = 64
	}
	return &MemoryQueue{
		triggers: make(chan owner.ID, buffer),
	}
}

// Enqueue implements the Queue interface.
func (q *MemoryQueue) Enqueue(ctx context.Context, ownerID owner.ID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		log.WarnContext(ctx, "Trigger queue closed, dropping trigger", "owner_id", ownerID)
		return nil
	}
	select {
	case q.triggers <- ownerID:
		return nil
	default:
		log.WarnContext(ctx, "Trigger queue full, dropping trigger", "owner_id", ownerID)
		return nil
	}
}

// Subscribe implements the Queue interface. It returns immediately; delivery
// happens on a background goroutine until the context is cancelled.
func (q *MemoryQueue) Subscribe(ctx context.Context, handler Handler) error {
	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case ownerID, ok := <-q.triggers:
				if !ok {
					return
				}
				handler(ctx, ownerID)
			}
		}
	}()
	return nil
}

// Close implements the Queue interface.
func (q *MemoryQueue) Close() error {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.triggers)
	}
	q.mu.Unlock()
	q.wg.Wait()
	return nil
}

// NATSQueue implements Queue over a NATS subject with a worker queue group,
// so triggers survive the publishing process and are load-balanced across
// worker processes.
type NATSQueue struct {
	conn    *nats.Conn
	subject string
	group   string
	sub     *nats.Subscription
}

// NATSConfig configures a NATS-backed trigger queue.
type NATSConfig struct {
	// URL is the NATS server URL, e.g. nats://localhost:4222
	URL string `yaml:"url"`

	// Subject is the subject triggers are published to
	Subject string `yaml:"subject"`

	// Group is the queue group workers join; one member receives each trigger
	Group string `yaml:"group"`
}

// NewNATSQueue connects to NATS and prepares a trigger queue.
func NewNATSQueue(config NATSConfig) (*NATSQueue, error) {
	if config.URL == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "NATS URL cannot be empty")
	}
	if config.Subject == "" {
		config.Subject = "memvault.consolidate"
	}
	if config.Group == "" {
		config.Group = "memvault-workers"
	}

	conn, err := nats.Connect(config.URL)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "failed to connect to NATS at %s", config.URL)
	}

	return &NATSQueue{
		conn:    conn,
		subject: config.Subject,
		group:   config.Group,
	}, nil
}

// Enqueue implements the Queue interface.
func (q *NATSQueue) Enqueue(ctx context.Context, ownerID owner.ID) error {
	if err := q.conn.Publish(q.subject, []byte(ownerID)); err != nil {
		return errors.Wrap(errors.ErrQueueService, "failed to publish trigger for %s", ownerID)
	}
	return nil
}

// Subscribe implements the Queue interface.
func (q *NATSQueue) Subscribe(ctx context.Context, handler Handler) error {
	sub, err := q.conn.QueueSubscribe(q.subject, q.group, func(msg *nats.Msg) {
		handler(ctx, owner.ID(msg.Data))
	})
	if err != nil {
		return errors.Wrap(errors.ErrQueueService, "failed to subscribe to %s", q.subject)
	}
	q.sub = sub
	return nil
}

// Close implements the Queue interface.
func (q *NATSQueue) Close() error {
	if q.sub != nil {
		if err := q.sub.Unsubscribe(); err != nil {
			log.Warn("Failed to unsubscribe trigger queue", "error", err)
		}
	}
	q.conn.Close()
	return nil
}
