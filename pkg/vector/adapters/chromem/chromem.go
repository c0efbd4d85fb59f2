package chromem

import (
	"context"
	"strings"
	"sync"
	"time"

	chromem "github.com/philippgille/chromem-go"

	"github.com/memvault/memvault/pkg/errors"
	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/vector"
)

const (
	metaOwnerID   = "owner_id"
	metaTags      = "tags"
	metaTimestamp = "timestamp"
)

// Index implements the vector.Index interface using chromem-go, a pure Go
// embedded vector database. It needs no external service, which makes it the
// default backend for tests and single-process deployments.
type Index struct {
	db             *chromem.DB
	collectionName string

	mu         sync.Mutex
	collection *chromem.Collection
}

// NewIndex creates a chromem-backed index on the given database.
func NewIndex(db *chromem.DB, collectionName string) (*Index, error) {
	if db == nil {
		return nil, errors.Wrap(errors.ErrConfiguration, "chromem database cannot be nil")
	}
	if collectionName == "" {
		collectionName = "memories"
	}
	return &Index{
		db:             db,
		collectionName: collectionName,
	}, nil
}

// EnsureCollection implements the vector.Index interface. chromem collections
// are dimensionless; the parameter is accepted for interface compatibility.
func (i *Index) EnsureCollection(ctx context.Context, dimension int) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.collection != nil {
		return nil
	}

	col, err := i.db.GetOrCreateCollection(i.collectionName, nil, nil)
	if err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to create collection %s", i.collectionName)
	}
	i.collection = col

	log.DebugContext(ctx, "Ensured chromem collection", "collection", i.collectionName)
	return nil
}

func (i *Index) col() (*chromem.Collection, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.collection == nil {
		return nil, errors.Wrap(errors.ErrVectorService, "collection %s not initialized", i.collectionName)
	}
	return i.collection, nil
}

// Upsert implements the vector.Index interface.
func (i *Index) Upsert(ctx context.Context, point vector.Point) error {
	col, err := i.col()
	if err != nil {
		return err
	}

	timestamp := point.Payload.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now().UTC()
	}

	doc := chromem.Document{
		ID:      point.ID,
		Content: point.Payload.Content,
		// chromem computes cosine similarity over unit vectors
		Embedding: vector.Normalize(point.Vector),
		Metadata: map[string]string{
			metaOwnerID:   string(point.Payload.OwnerID),
			metaTags:      strings.Join(point.Payload.Tags, ","),
			metaTimestamp: timestamp.UTC().Format(time.RFC3339),
		},
	}

	if err := col.AddDocument(ctx, doc); err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to upsert point %s", point.ID)
	}
	return nil
}

// Delete implements the vector.Index interface, re-verifying ownership via
// the stored payload before removal.
func (i *Index) Delete(ctx context.Context, id string, ownerID owner.ID) error {
	col, err := i.col()
	if err != nil {
		return err
	}

	doc, err := col.GetByID(ctx, id)
	if err != nil {
		return errors.Wrap(errors.ErrNotFound, "point %s", id)
	}
	if doc.Metadata[metaOwnerID] != string(ownerID) {
		return errors.Wrap(errors.ErrPermissionDenied, "point %s is not owned by %s", id, ownerID)
	}

	if err := col.Delete(ctx, nil, nil, id); err != nil {
		return errors.Wrap(errors.ErrVectorService, "failed to delete point %s", id)
	}
	return nil
}

// Query implements the vector.Index interface.
func (i *Index) Query(ctx context.Context, queryVector []float32, ownerID owner.ID, scoreThreshold float32, limit int) ([]vector.Hit, error) {
	col, err := i.col()
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}

	// chromem rejects nResults larger than the collection size
	if count := col.Count(); count < limit {
		limit = count
	}
	if limit == 0 {
		return nil, nil
	}

	where := map[string]string{metaOwnerID: string(ownerID)}
	results, err := col.QueryEmbedding(ctx, vector.Normalize(queryVector), limit, where, nil)
	if err != nil {
		return nil, errors.Wrap(errors.ErrVectorService, "failed to query collection %s", i.collectionName)
	}

	var hits []vector.Hit
	for _, result := range results {
		if result.Similarity < scoreThreshold {
			continue
		}
		hits = append(hits, vector.Hit{
			ID:      result.ID,
			Score:   result.Similarity,
			Payload: payloadFromMetadata(result.Content, result.Metadata),
		})
	}
	return hits, nil
}

// RetrieveVectors implements the vector.Index interface.
func (i *Index) RetrieveVectors(ctx context.Context, ids []string, ownerID owner.ID) (map[string][]float32, error) {
	col, err := i.col()
	if err != nil {
		return nil, err
	}

	result := make(map[string][]float32, len(ids))
	for _, id := range ids {
		doc, err := col.GetByID(ctx, id)
		if err != nil {
			continue
		}
		if doc.Metadata[metaOwnerID] != string(ownerID) {
			continue
		}
		result[id] = doc.Embedding
	}
	return result, nil
}

// DeleteByFilter implements the vector.Index interface.
func (i *Index) DeleteByFilter(ctx context.Context, ownerID owner.ID) (int, error) {
	col, err := i.col()
	if err != nil {
		return 0, err
	}

	// chromem does not report affected documents; the count is the
	// collection-size delta around the filtered delete.
	before := col.Count()
	where := map[string]string{metaOwnerID: string(ownerID)}
	if err := col.Delete(ctx, where, nil); err != nil {
		return 0, errors.Wrap(errors.ErrVectorService, "failed to delete points for owner %s", ownerID)
	}
	count := before - col.Count()

	log.DebugContext(ctx, "Deleted points by owner filter", "owner_id", ownerID, "count", count)
	return count, nil
}

func payloadFromMetadata(content string, metadata map[string]string) vector.Payload {
	payload := vector.Payload{
		OwnerID: owner.ID(metadata[metaOwnerID]),
		Content: content,
	}
	if tags := metadata[metaTags]; tags != "" {
		payload.Tags = strings.Split(tags, ",")
	}
	if ts, err := time.Parse(time.RFC3339, metadata[metaTimestamp]); err == nil {
		payload.Timestamp = ts
	}
	return payload
}
