package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"           // PostgreSQL driver
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/relational"
)

// Store implements the relational.Store interface over sqlx. One
// implementation serves both supported drivers; sqlx's Rebind covers the
// placeholder dialect difference and the schema lives in per-driver
// migrations.
type Store struct {
	db     *sqlx.DB
	driver string
}

// NewPostgres opens a PostgreSQL-backed store and applies migrations.
func NewPostgres(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "postgres DSN cannot be empty")
	}
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRelationalOp, "failed to connect to postgres")
	}
	store := &Store{db: db, driver: "postgres"}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLite opens a SQLite-backed store at the given path and applies
// migrations. Use ":memory:" for an ephemeral store.
func NewSQLite(path string) (*Store, error) {
	if path == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "sqlite path cannot be empty")
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_loc=UTC", path)
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRelationalOp, "failed to open sqlite database")
	}
	// SQLite serializes writers; a single connection avoids lock contention
	// between pooled connections in one process.
	db.SetMaxOpenConns(1)
	store := &Store{db: db, driver: "sqlite3"}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// DB returns the underlying database handle (used for testing).
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close implements the relational.Store interface.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping implements the relational.Store interface.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "ping failed")
	}
	return nil
}

type memoryRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Content   string    `db:"content"`
	Tags      []byte    `db:"tags"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r memoryRow) toMemory() (memory.Memory, error) {
	mem := memory.Memory{
		ID:        r.ID,
		OwnerID:   owner.ID(r.OwnerID),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if len(r.Tags) > 0 {
		if err := json.Unmarshal(r.Tags, &mem.Tags); err != nil {
			return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to unmarshal tags for %s", r.ID)
		}
	}
	return mem, nil
}

type messageRow struct {
	ID        string    `db:"id"`
	OwnerID   string    `db:"owner_id"`
	Content   string    `db:"content"`
	CreatedAt time.Time `db:"created_at"`
	Processed bool      `db:"is_processed"`
}

func (r messageRow) toMessage() memory.UserMessage {
	return memory.UserMessage{
		ID:        r.ID,
		OwnerID:   owner.ID(r.OwnerID),
		Content:   r.Content,
		CreatedAt: r.CreatedAt,
		Processed: r.Processed,
	}
}

type profileRow struct {
	OwnerID   string    `db:"owner_id"`
	Metadata  []byte    `db:"metadata"`
	Summary   string    `db:"summary"`
	UpdatedAt time.Time `db:"updated_at"`
}

// InsertMemory implements the relational.Store interface.
func (s *Store) InsertMemory(ctx context.Context, mem memory.Memory) error {
	if mem.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "memory ID cannot be empty")
	}
	if err := mem.OwnerID.Validate(); err != nil {
		return err
	}

	tagsJSON, err := json.Marshal(tagsOrEmpty(mem.Tags))
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to marshal tags")
	}

	now := time.Now().UTC()
	if mem.CreatedAt.IsZero() {
		mem.CreatedAt = now
	}
	if mem.UpdatedAt.IsZero() {
		mem.UpdatedAt = now
	}

	_, err = s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO memories (id, owner_id, content, tags, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		mem.ID, string(mem.OwnerID), mem.Content, tagsJSON, mem.CreatedAt, mem.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to insert memory %s", mem.ID)
	}
	return nil
}

// GetMemory implements the relational.Store interface.
func (s *Store) GetMemory(ctx context.Context, id string) (memory.Memory, error) {
	var row memoryRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, owner_id, content, tags, created_at, updated_at
		FROM memories WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return memory.Memory{}, errors.Wrap(errors.ErrNotFound, "memory %s", id)
	}
	if err != nil {
		return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to get memory %s", id)
	}
	return row.toMemory()
}

// ListMemories implements the relational.Store interface.
func (s *Store) ListMemories(ctx context.Context, ownerID owner.ID, offset, limit int) ([]memory.Memory, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []memoryRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, owner_id, content, tags, created_at, updated_at
		FROM memories WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`),
		string(ownerID), limit, offset)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRelationalOp, "failed to list memories for %s", ownerID)
	}

	memories := make([]memory.Memory, 0, len(rows))
	for _, row := range rows {
		mem, err := row.toMemory()
		if err != nil {
			return nil, err
		}
		memories = append(memories, mem)
	}
	return memories, nil
}

// UpdateMemory implements the relational.Store interface.
func (s *Store) UpdateMemory(ctx context.Context, id string, ownerID owner.ID, update relational.MemoryUpdate) (memory.Memory, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to begin transaction")
	}
	defer tx.Rollback()

	var row memoryRow
	err = tx.GetContext(ctx, &row, tx.Rebind(`
		SELECT id, owner_id, content, tags, created_at, updated_at
		FROM memories WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return memory.Memory{}, errors.Wrap(errors.ErrNotFound, "memory %s", id)
	}
	if err != nil {
		return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to get memory %s", id)
	}
	if row.OwnerID != string(ownerID) {
		return memory.Memory{}, errors.Wrap(errors.ErrPermissionDenied, "memory %s is not owned by %s", id, ownerID)
	}

	mem, err := row.toMemory()
	if err != nil {
		return memory.Memory{}, err
	}
	if update.Content != nil {
		mem.Content = *update.Content
	}
	if update.Tags != nil {
		mem.Tags = *update.Tags
	}
	mem.UpdatedAt = time.Now().UTC()

	tagsJSON, err := json.Marshal(tagsOrEmpty(mem.Tags))
	if err != nil {
		return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to marshal tags")
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		UPDATE memories SET content = ?, tags = ?, updated_at = ? WHERE id = ?`),
		mem.Content, tagsJSON, mem.UpdatedAt, id)
	if err != nil {
		return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to update memory %s", id)
	}

	if err := tx.Commit(); err != nil {
		return memory.Memory{}, errors.Wrap(errors.ErrRelationalOp, "failed to commit update of %s", id)
	}
	return mem, nil
}

// DeleteMemory implements the relational.Store interface.
func (s *Store) DeleteMemory(ctx context.Context, id string, ownerID owner.ID) error {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM memories WHERE id = ? AND owner_id = ?`),
		id, string(ownerID))
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to delete memory %s", id)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to read affected rows")
	}
	if affected == 0 {
		var exists bool
		err := s.db.GetContext(ctx, &exists, s.db.Rebind(`
			SELECT EXISTS (SELECT 1 FROM memories WHERE id = ?)`), id)
		if err != nil {
			return errors.Wrap(errors.ErrRelationalOp, "failed to check memory %s", id)
		}
		if exists {
			return errors.Wrap(errors.ErrPermissionDenied, "memory %s is not owned by %s", id, ownerID)
		}
		return errors.Wrap(errors.ErrNotFound, "memory %s", id)
	}
	return nil
}

// DeleteMemories implements the relational.Store interface.
func (s *Store) DeleteMemories(ctx context.Context, ownerID owner.ID) (int, error) {
	result, err := s.db.ExecContext(ctx, s.db.Rebind(`
		DELETE FROM memories WHERE owner_id = ?`), string(ownerID))
	if err != nil {
		return 0, errors.Wrap(errors.ErrRelationalOp, "failed to delete memories for %s", ownerID)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(errors.ErrRelationalOp, "failed to read affected rows")
	}
	return int(affected), nil
}

// AppendMessage implements the relational.Store interface.
func (s *Store) AppendMessage(ctx context.Context, msg memory.UserMessage) error {
	if msg.ID == "" {
		return errors.Wrap(errors.ErrInvalidInput, "message ID cannot be empty")
	}
	if err := msg.OwnerID.Validate(); err != nil {
		return err
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO user_messages (id, owner_id, content, created_at, is_processed)
		VALUES (?, ?, ?, ?, ?)`),
		msg.ID, string(msg.OwnerID), msg.Content, msg.CreatedAt, msg.Processed)
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to append message %s", msg.ID)
	}
	return nil
}

// UnprocessedMessages implements the relational.Store interface.
func (s *Store) UnprocessedMessages(ctx context.Context, ownerID owner.ID) ([]memory.UserMessage, error) {
	var rows []messageRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`
		SELECT id, owner_id, content, created_at, is_processed
		FROM user_messages
		WHERE owner_id = ? AND is_processed = ?
		ORDER BY created_at ASC, id ASC`),
		string(ownerID), false)
	if err != nil {
		return nil, errors.Wrap(errors.ErrRelationalOp, "failed to fetch unprocessed messages for %s", ownerID)
	}

	messages := make([]memory.UserMessage, 0, len(rows))
	for _, row := range rows {
		messages = append(messages, row.toMessage())
	}
	return messages, nil
}

// CountUnprocessed implements the relational.Store interface.
func (s *Store) CountUnprocessed(ctx context.Context, ownerID owner.ID) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, s.db.Rebind(`
		SELECT COUNT(*) FROM user_messages WHERE owner_id = ? AND is_processed = ?`),
		string(ownerID), false)
	if err != nil {
		return 0, errors.Wrap(errors.ErrRelationalOp, "failed to count unprocessed messages for %s", ownerID)
	}
	return count, nil
}

// GetMessage implements the relational.Store interface.
func (s *Store) GetMessage(ctx context.Context, id string) (memory.UserMessage, error) {
	var row messageRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT id, owner_id, content, created_at, is_processed
		FROM user_messages WHERE id = ?`), id)
	if err == sql.ErrNoRows {
		return memory.UserMessage{}, errors.Wrap(errors.ErrNotFound, "message %s", id)
	}
	if err != nil {
		return memory.UserMessage{}, errors.Wrap(errors.ErrRelationalOp, "failed to get message %s", id)
	}
	return row.toMessage(), nil
}

// GetProfile implements the relational.Store interface.
func (s *Store) GetProfile(ctx context.Context, ownerID owner.ID) (memory.UserProfile, error) {
	var row profileRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(`
		SELECT owner_id, metadata, summary, updated_at
		FROM user_profiles WHERE owner_id = ?`), string(ownerID))
	if err == sql.ErrNoRows {
		return memory.UserProfile{}, errors.Wrap(errors.ErrNotFound, "profile for %s", ownerID)
	}
	if err != nil {
		return memory.UserProfile{}, errors.Wrap(errors.ErrRelationalOp, "failed to get profile for %s", ownerID)
	}

	profile := memory.UserProfile{
		OwnerID:   owner.ID(row.OwnerID),
		Summary:   row.Summary,
		UpdatedAt: row.UpdatedAt,
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &profile.Metadata); err != nil {
			return memory.UserProfile{}, errors.Wrap(errors.ErrRelationalOp, "failed to unmarshal profile metadata for %s", ownerID)
		}
	}
	if profile.Metadata == nil {
		profile.Metadata = map[string]interface{}{}
	}
	return profile, nil
}

// CommitConsolidation implements the relational.Store interface. The profile
// upsert, the new memory inserts, and the processed-flag flips commit in one
// transaction; a failure in any of them rolls back all of them.
func (s *Store) CommitConsolidation(ctx context.Context, commit relational.ConsolidationCommit) error {
	if err := commit.OwnerID.Validate(); err != nil {
		return err
	}

	metadataJSON, err := json.Marshal(metadataOrEmpty(commit.Profile.Metadata))
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to marshal profile metadata")
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to begin transaction")
	}
	defer tx.Rollback()

	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO user_profiles (owner_id, metadata, summary, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (owner_id) DO UPDATE SET
			metadata = excluded.metadata,
			summary = excluded.summary,
			updated_at = excluded.updated_at`),
		string(commit.OwnerID), metadataJSON, commit.Profile.Summary, now)
	if err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to upsert profile for %s", commit.OwnerID)
	}

	for _, mem := range commit.NewMemories {
		tagsJSON, err := json.Marshal(tagsOrEmpty(mem.Tags))
		if err != nil {
			return errors.Wrap(errors.ErrRelationalOp, "failed to marshal tags for %s", mem.ID)
		}
		createdAt := mem.CreatedAt
		if createdAt.IsZero() {
			createdAt = now
		}
		_, err = tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO memories (id, owner_id, content, tags, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`),
			mem.ID, string(commit.OwnerID), mem.Content, tagsJSON, createdAt, createdAt)
		if err != nil {
			return errors.Wrap(errors.ErrRelationalOp, "failed to insert extracted memory %s", mem.ID)
		}
	}

	if len(commit.ProcessedIDs) > 0 {
		query, args, err := sqlx.In(`
			UPDATE user_messages SET is_processed = ?
			WHERE id IN (?) AND owner_id = ? AND is_processed = ?`,
			true, commit.ProcessedIDs, string(commit.OwnerID), false)
		if err != nil {
			return errors.Wrap(errors.ErrRelationalOp, "failed to build processed-flag update")
		}
		result, err := tx.ExecContext(ctx, tx.Rebind(query), args...)
		if err != nil {
			return errors.Wrap(errors.ErrRelationalOp, "failed to mark messages processed")
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return errors.Wrap(errors.ErrRelationalOp, "failed to read affected rows")
		}
		// A shortfall means another run already consumed part of this batch;
		// committing would double-apply its effects.
		if int(affected) != len(commit.ProcessedIDs) {
			return errors.Wrap(errors.ErrRelationalOp,
				"batch conflict: marked %d of %d messages", affected, len(commit.ProcessedIDs))
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(errors.ErrRelationalOp, "failed to commit consolidation for %s", commit.OwnerID)
	}

	log.DebugContext(ctx, "Committed consolidation",
		"owner_id", commit.OwnerID,
		"new_memories", len(commit.NewMemories),
		"processed_messages", len(commit.ProcessedIDs))
	return nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

func metadataOrEmpty(metadata map[string]interface{}) map[string]interface{} {
	if metadata == nil {
		return map[string]interface{}{}
	}
	return metadata
}
