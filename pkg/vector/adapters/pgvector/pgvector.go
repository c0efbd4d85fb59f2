package pgvector

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/vector"
)

// Config contains the configuration for a pgvector index.
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// TableName is the name of the table backing the index
	TableName string

	// Dimension is the size of stored embeddings
	Dimension int
}

// Index implements the vector.Index interface using PostgreSQL with the
// pgvector extension and cosine distance.
type Index struct {
	pool      *pgxpool.Pool
	tableName string
	dimension int
}

// NewIndex connects to PostgreSQL and prepares a pgvector-backed index.
// EnsureCollection must still be called before first use.
func NewIndex(ctx context.Context, config Config) (*Index, error) {
	if config.ConnectionString == "" {
		return nil, errors.Wrap(errors.ErrConfiguration, "pgvector connection string cannot be empty")
	}
	if config.TableName == "" {
		config.TableName = "memory_points"
	}
	if config.Dimension <= 0 {
		config.Dimension = 1536
	}

	pool, err := pgxpool.New(ctx, config.ConnectionString)
	if err != nil {
		return nil, errors.Wrap(errors.ErrVectorService, "failed to connect to PostgreSQL")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(errors.ErrVectorService, "failed to ping PostgreSQL")
	}

	return &Index{
		pool:      pool,
		tableName: config.TableName,
		dimension: config.Dimension,
	}, nil
}

// Pool returns the underlying connection pool (used for testing).
func (i *Index) Pool() *pgxpool.Pool {
	return i.pool
}

// Close closes the connection pool.
func (i *Index) Close() {
	if i.pool != nil {
		i.pool.Close()
	}
}

// EnsureCollection implements the vector.Index interface. It installs the
// pgvector extension, creates the table, and builds the supporting indexes.
func (i *Index) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension > 0 {
		i.dimension = dimension
	}

	_, err := i.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to create pgvector extension")
	}

	_, err = i.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			content TEXT NOT NULL,
			tags JSONB NOT NULL DEFAULT '[]',
			embedding VECTOR(%d) NOT NULL,
			created_at TIMESTAMP WITH TIME ZONE NOT NULL
		)
	`, i.tableName, i.dimension))
	if err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to create table %s", i.tableName)
	}

	indexes := []string{
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_owner_id_idx ON %s (owner_id)", i.tableName, i.tableName),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)", i.tableName, i.tableName),
	}
	for _, sql := range indexes {
		if _, err := i.pool.Exec(ctx, sql); err != nil {
			return errors.Wrap(errors.ErrVectorService, "failed to create index on %s", i.tableName)
		}
	}

	log.DebugContext(ctx, "Ensured pgvector collection", "table", i.tableName, "dimension", i.dimension)
	return nil
}

// Upsert implements the vector.Index interface.
func (i *Index) Upsert(ctx context.Context, point vector.Point) error {
	if len(point.Vector) != i.dimension {
		return errors.Wrap(errors.ErrInvalidInput,
			"embedding dimension mismatch: got %d, expected %d", len(point.Vector), i.dimension)
	}

	tagsJSON, err := json.Marshal(point.Payload.Tags)
	if err != nil {
		return errors.Wrap(errors.ErrInvalidInput, "failed to marshal tags")
	}

	timestamp := point.Payload.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	_, err = i.pool.Exec(ctx, fmt.Sprintf(`
		INSERT INTO %s (id, owner_id, content, tags, embedding, created_at)
		VALUES ($1, $2, $3, $4, $5::vector, $6)
		ON CONFLICT (id) DO UPDATE SET
			owner_id = $2,
			content = $3,
			tags = $4,
			embedding = $5::vector,
			created_at = $6
	`, i.tableName),
		point.ID,
		string(point.Payload.OwnerID),
		point.Payload.Content,
		tagsJSON,
		embedToString(point.Vector),
		timestamp,
	)
	if err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to upsert point %s", point.ID)
	}

	log.DebugContext(ctx, "Upserted point in pgvector", "id", point.ID, "owner_id", point.Payload.OwnerID)
	return nil
}

// Delete implements the vector.Index interface. The owner filter is part of
// the DELETE itself, so a foreign ID cannot be removed.
func (i *Index) Delete(ctx context.Context, id string, ownerID owner.ID) error {
	tag, err := i.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE id = $1 AND owner_id = $2", i.tableName),
		id, string(ownerID),
	)
	if err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to delete point %s", id)
	}

	if tag.RowsAffected() == 0 {
		// Distinguish absent from foreign-owned
		var exists bool
		err := i.pool.QueryRow(ctx,
			fmt.Sprintf("SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)", i.tableName), id,
		).Scan(&exists)
		if err != nil {
			return errors.Wrap(errors.ErrVectorService, "failed to check point %s", id)
		}
		if exists {
			return errors.Wrap(errors.ErrPermissionDenied, "point %s is not owned by %s", id, ownerID)
		}
		return errors.Wrap(errors.ErrNotFound, "point %s", id)
	}

	return nil
}

// Query implements the vector.Index interface using cosine similarity.
func (i *Index) Query(ctx context.Context, queryVector []float32, ownerID owner.ID, scoreThreshold float32, limit int) ([]vector.Hit, error) {
	if len(queryVector) != i.dimension {
		return nil, errors.Wrap(errors.ErrInvalidInput,
			"embedding dimension mismatch: got %d, expected %d", len(queryVector), i.dimension)
	}
	if limit <= 0 {
		limit = 10
	}

	// pgvector's <=> operator is cosine distance; similarity = 1 - distance.
	rows, err := i.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, owner_id, content, tags, created_at, 1 - (embedding <=> $1::vector) AS score
		FROM %s
		WHERE owner_id = $2 AND 1 - (embedding <=> $1::vector) >= $3
		ORDER BY embedding <=> $1::vector
		LIMIT %d
	`, i.tableName, limit),
		embedToString(queryVector), string(ownerID), scoreThreshold,
	)
	if err != nil {
		return nil, errors.Wrap(errors.ErrVectorService, "failed to query points")
	}
	defer rows.Close()

	var hits []vector.Hit
	for rows.Next() {
		var (
			hit      vector.Hit
			ownerStr string
			tagsJSON []byte
			score    float64
		)
		if err := rows.Scan(&hit.ID, &ownerStr, &hit.Payload.Content, &tagsJSON, &hit.Payload.Timestamp, &score); err != nil {
			return nil, errors.Wrap(errors.ErrVectorService, "failed to scan hit")
		}
		if err := json.Unmarshal(tagsJSON, &hit.Payload.Tags); err != nil {
			return nil, errors.Wrap(errors.ErrVectorService, "failed to unmarshal tags for %s", hit.ID)
		}
		hit.Payload.OwnerID = owner.ID(ownerStr)
		hit.Score = float32(score)
		hits = append(hits, hit)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrVectorService, "failed to read query results")
	}

	return hits, nil
}

// RetrieveVectors implements the vector.Index interface.
func (i *Index) RetrieveVectors(ctx context.Context, ids []string, ownerID owner.ID) (map[string][]float32, error) {
	result := make(map[string][]float32, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := i.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, embedding::text FROM %s WHERE id = ANY($1) AND owner_id = $2
	`, i.tableName), ids, string(ownerID))
	if err != nil {
		return nil, errors.Wrap(errors.ErrVectorService, "failed to retrieve vectors")
	}
	defer rows.Close()

	for rows.Next() {
		var id, embeddingStr string
		if err := rows.Scan(&id, &embeddingStr); err != nil {
			return nil, errors.Wrap(errors.ErrVectorService, "failed to scan vector row")
		}
		embedding, err := stringToEmbed(embeddingStr)
		if err != nil {
			return nil, errors.Wrap(errors.ErrVectorService, "failed to parse embedding for %s", id)
		}
		result[id] = embedding
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrVectorService, "failed to read vector rows")
	}

	return result, nil
}

// DeleteByFilter implements the vector.Index interface.
func (i *Index) DeleteByFilter(ctx context.Context, ownerID owner.ID) (int, error) {
	tag, err := i.pool.Exec(ctx,
		fmt.Sprintf("DELETE FROM %s WHERE owner_id = $1", i.tableName),
		string(ownerID),
	)
	if err != nil {
		return 0, errors.Wrap(errors.ErrVectorService, "failed to delete points for owner %s", ownerID)
	}

	count := int(tag.RowsAffected())
	log.DebugContext(ctx, "Deleted points by owner filter", "owner_id", ownerID, "count", count)
	return count, nil
}

// embedToString converts an embedding to pgvector's textual representation.
func embedToString(embedding []float32) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, v := range embedding {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	sb.WriteByte(']')
	return sb.String()
}

// stringToEmbed parses pgvector's textual representation back to a slice.
func stringToEmbed(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	embedding := make([]float32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 32)
		if err != nil {
			return nil, fmt.Errorf("invalid embedding component %q: %w", part, err)
		}
		embedding[i] = float32(v)
	}
	return embedding, nil
}
