// Package memvault wires the memory engine together from configuration: the
// relational system of record, the vector index, the embedding provider, the
// synthesis chain, and the background consolidation pipeline behind one
// client facade.
package memvault

import (
	"context"
	"strings"

	"github.com/philippgille/chromem-go"
	bolt "go.etcd.io/bbolt"

	"github.com/memvault/memvault/pkg/config"
	"github.com/memvault/memvault/pkg/consolidation"
	"github.com/memvault/memvault/pkg/embedding"
	embeddingmock "github.com/memvault/memvault/pkg/embedding/adapters/mock"
	embeddingopenai "github.com/memvault/memvault/pkg/embedding/adapters/openai"
	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/hooks"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/memstore"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
	"github.com/memvault/memvault/pkg/relational/sqlstore"
	"github.com/memvault/memvault/pkg/synthesis"
	synthesismock "github.com/memvault/memvault/pkg/synthesis/adapters/mock"
	synthesisopenai "github.com/memvault/memvault/pkg/synthesis/adapters/openai"
	"github.com/memvault/memvault/pkg/vector"
	chromemindex "github.com/memvault/memvault/pkg/vector/adapters/chromem"
	pgvectorindex "github.com/memvault/memvault/pkg/vector/adapters/pgvector"
)

// Client is the assembled memory engine. Memories exposes the dual-store
// memory lifecycle; message recording and the background consolidation
// pipeline hang off the client directly.
type Client struct {
	memories   *memstore.Store
	service    *consolidation.Service
	worker     *consolidation.Worker
	queue      consolidation.Queue
	relational relational.Store
	hookEngine *hooks.Engine
	boltDB     *bolt.DB
}

// NewFromConfigFile loads the config file and assembles a client.
func NewFromConfigFile(path string) (*Client, error) {
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "failed to load config from %s", path)
	}
	return NewFromConfig(cfg)
}

// NewFromConfig assembles a client from an already-validated configuration.
// The vector collection is bootstrapped here, not lazily on first use.
func NewFromConfig(cfg *config.Config) (*Client, error) {
	log.Setup(log.Config{
		Level:  log.Level(cfg.Logging.Level),
		Format: log.Format(cfg.Logging.Format),
	})

	ctx := context.Background()

	store, err := buildRelational(cfg)
	if err != nil {
		return nil, err
	}

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	index, err := buildIndex(ctx, cfg, embedder.Dimension())
	if err != nil {
		store.Close()
		return nil, err
	}
	if err := index.EnsureCollection(ctx, embedder.Dimension()); err != nil {
		store.Close()
		return nil, err
	}

	synthesizer, err := buildSynthesizer(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	client := &Client{relational: store}

	locker, err := client.buildLocker(cfg)
	if err != nil {
		store.Close()
		return nil, err
	}

	queue, err := buildQueue(cfg)
	if err != nil {
		client.Close()
		return nil, err
	}
	client.queue = queue

	if len(cfg.Hooks.Paths) > 0 {
		engine := hooks.NewEngine()
		for _, dir := range cfg.Hooks.Paths {
			if err := engine.LoadScriptDir(dir); err != nil {
				engine.Close()
				client.Close()
				return nil, err
			}
		}
		client.hookEngine = engine
	}

	worker, err := consolidation.NewWorker(store, index, embedder, synthesizer, locker, client.hookEngine,
		consolidation.WorkerConfig{
			LockTTL:        cfg.Consolidation.LockTTL,
			DedupThreshold: cfg.Consolidation.DedupThreshold,
		})
	if err != nil {
		client.Close()
		return nil, err
	}
	client.worker = worker

	scheduler := consolidation.NewScheduler(cfg.Consolidation.BatchSize)
	service, err := consolidation.NewService(store, scheduler, queue)
	if err != nil {
		client.Close()
		return nil, err
	}
	client.service = service

	client.memories = memstore.New(store, index, embedder, memstore.Config{
		LowerScoreThreshold: cfg.Search.LowerThreshold,
		UpperScoreThreshold: cfg.Search.UpperThreshold,
		SearchLimit:         cfg.Search.Limit,
	})

	log.Info("memvault client assembled",
		"relational", cfg.Relational.Driver,
		"vector", cfg.Vector.Type,
		"embedding", cfg.Embedding.Provider,
		"synthesis", cfg.Synthesis.Provider,
		"queue", cfg.Consolidation.Queue.Type)
	return client, nil
}

// Start subscribes the consolidation worker to the trigger queue. Runs until
// the context is cancelled.
func (c *Client) Start(ctx context.Context) error {
	return consolidation.StartWorkers(ctx, c.queue, c.worker)
}

// Memories exposes the dual-store memory lifecycle.
func (c *Client) Memories() *memstore.Store {
	return c.memories
}

// RecordMessage appends a conversational message and returns the current
// profile context; consolidation may fire in the background.
func (c *Client) RecordMessage(ctx context.Context, ownerID owner.ID, content string) (string, error) {
	return c.service.RecordMessage(ctx, ownerID, content)
}

// Consolidate runs one consolidation attempt synchronously, bypassing the
// queue. Used by CLI tooling and tests. Unlike a queued trigger, which is
// silently discarded under contention, a held lease is reported as
// errors.ErrLockHeld so the caller knows nothing ran.
func (c *Client) Consolidate(ctx context.Context, ownerID owner.ID) (consolidation.RunResult, error) {
	result, err := c.worker.Run(ctx, ownerID)
	if err != nil {
		return result, err
	}
	if !result.Ran {
		return result, errors.Wrap(errors.ErrLockHeld, "consolidation for %s", ownerID)
	}
	return result, nil
}

// Profile returns the owner's consolidated profile.
func (c *Client) Profile(ctx context.Context, ownerID owner.ID) (memory.UserProfile, error) {
	return c.relational.GetProfile(ctx, ownerID)
}

// Health reports connectivity of both stores.
func (c *Client) Health(ctx context.Context) error {
	return c.memories.Health(ctx)
}

// Close releases every resource the client holds.
func (c *Client) Close() error {
	if c.queue != nil {
		if err := c.queue.Close(); err != nil {
			log.Warn("Failed to close trigger queue", "error", err)
		}
	}
	if c.hookEngine != nil {
		c.hookEngine.Close()
	}
	if c.boltDB != nil {
		if err := c.boltDB.Close(); err != nil {
			log.Warn("Failed to close lease store", "error", err)
		}
	}
	if c.relational != nil {
		return c.relational.Close()
	}
	return nil
}

func buildRelational(cfg *config.Config) (relational.Store, error) {
	switch strings.ToLower(cfg.Relational.Driver) {
	case "postgres":
		return sqlstore.NewPostgres(cfg.Relational.DSN)
	case "sqlite":
		return sqlstore.NewSQLite(cfg.Relational.Path)
	default:
		return nil, errors.Wrap(errors.ErrConfiguration, "unsupported relational driver %s", cfg.Relational.Driver)
	}
}

func buildEmbedder(cfg *config.Config) (embedding.Provider, error) {
	var (
		provider embedding.Provider
		err      error
	)
	switch strings.ToLower(cfg.Embedding.Provider) {
	case "openai":
		provider, err = embeddingopenai.NewAdapter(embeddingopenai.Config{
			APIKey:    cfg.Embedding.OpenAI.APIKey,
			Model:     cfg.Embedding.OpenAI.Model,
			Dimension: cfg.Embedding.OpenAI.Dimensions,
			BaseURL:   cfg.Embedding.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
	case "mock":
		provider = embeddingmock.NewProvider()
	default:
		return nil, errors.Wrap(errors.ErrConfiguration, "unsupported embedding provider %s", cfg.Embedding.Provider)
	}

	if cfg.Embedding.Cache.Enabled {
		provider, err = embedding.NewCachedProvider(provider, embedding.CacheConfig{
			MaxEntries: int64(cfg.Embedding.Cache.MaxEntries),
		})
		if err != nil {
			return nil, err
		}
	}
	return provider, nil
}

func buildIndex(ctx context.Context, cfg *config.Config, dimension int) (vector.Index, error) {
	switch strings.ToLower(cfg.Vector.Type) {
	case "pgvector":
		return pgvectorindex.NewIndex(ctx, pgvectorindex.Config{
			ConnectionString: cfg.Vector.PgVector.DSN,
			TableName:        cfg.Vector.PgVector.Table,
			Dimension:        dimension,
		})
	case "chromem":
		var (
			db  *chromem.DB
			err error
		)
		if cfg.Vector.Chromem.Path != "" {
			db, err = chromem.NewPersistentDB(cfg.Vector.Chromem.Path, false)
			if err != nil {
				return nil, errors.Wrap(errors.ErrVectorService, "failed to open chromem store at %s", cfg.Vector.Chromem.Path)
			}
		} else {
			db = chromem.NewDB()
		}
		return chromemindex.NewIndex(db, cfg.Vector.Chromem.Collection)
	default:
		return nil, errors.Wrap(errors.ErrConfiguration, "unsupported vector index type %s", cfg.Vector.Type)
	}
}

func buildSynthesizer(cfg *config.Config) (synthesis.Synthesizer, error) {
	switch strings.ToLower(cfg.Synthesis.Provider) {
	case "openai":
		primary, err := synthesisopenai.NewAdapter(synthesisopenai.Config{
			APIKey:      cfg.Synthesis.OpenAI.APIKey,
			Model:       cfg.Synthesis.OpenAI.Model,
			Temperature: cfg.Synthesis.OpenAI.Temperature,
			MaxTokens:   cfg.Synthesis.OpenAI.MaxTokens,
			BaseURL:     cfg.Synthesis.OpenAI.BaseURL,
		})
		if err != nil {
			return nil, err
		}
		return synthesis.NewChain(cfg.Synthesis.Attempts, primary), nil
	case "mock":
		return synthesismock.NewSynthesizer(), nil
	default:
		return nil, errors.Wrap(errors.ErrConfiguration, "unsupported synthesis provider %s", cfg.Synthesis.Provider)
	}
}

func (c *Client) buildLocker(cfg *config.Config) (consolidation.Locker, error) {
	switch strings.ToLower(cfg.Consolidation.Lock.Type) {
	case "", "memory":
		return consolidation.NewMemoryLocker(), nil
	case "bolt":
		db, err := bolt.Open(cfg.Consolidation.Lock.Path, 0600, nil)
		if err != nil {
			return nil, errors.Wrap(errors.ErrConfiguration, "failed to open lease store at %s", cfg.Consolidation.Lock.Path)
		}
		c.boltDB = db
		return consolidation.NewBoltLocker(db)
	default:
		return nil, errors.Wrap(errors.ErrConfiguration, "unsupported lock type %s", cfg.Consolidation.Lock.Type)
	}
}

func buildQueue(cfg *config.Config) (consolidation.Queue, error) {
	switch strings.ToLower(cfg.Consolidation.Queue.Type) {
	case "", "memory":
		return consolidation.NewMemoryQueue(cfg.Consolidation.Queue.Buffer), nil
	case "nats":
		return consolidation.NewNATSQueue(consolidation.NATSConfig{
			URL:     cfg.Consolidation.Queue.NATS.URL,
			Subject: cfg.Consolidation.Queue.NATS.Subject,
			Group:   cfg.Consolidation.Queue.NATS.Group,
		})
	default:
		return nil, errors.Wrap(errors.ErrConfiguration, "unsupported queue type %s", cfg.Consolidation.Queue.Type)
	}
}
