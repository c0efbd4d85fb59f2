package memstore

import (
	"context"
	"time"

	"github.com/memvault/memvault/pkg/log"
	"github.com/memvault/memvault/pkg/memory"
	"github.com/memvault/memvault/pkg/owner"
	"github.com/memvault/memvault/pkg/vector"
)

// DefaultGraphThreshold is the minimum cosine similarity between two memories
// for an edge to connect them.
const DefaultGraphThreshold = 0.7

const (
	graphLabelLength = 50
	graphPageSize    = 200
)

// GraphNode is one memory in the relationship graph. Label is a shortened
// form of the content for display.
type GraphNode struct {
	ID        string
	Label     string
	Content   string
	Tags      []string
	CreatedAt time.Time
}

// GraphEdge connects two memories whose embeddings score at or above the
// similarity threshold. Weight is the cosine similarity.
type GraphEdge struct {
	Source string
	Target string
	Weight float32
}

// MemoryGraph is an owner's memories as nodes with semantic-similarity edges.
type MemoryGraph struct {
	Nodes []GraphNode
	Edges []GraphEdge
}

// MemoryGraph builds the owner's memory graph. Nodes come from the system of
// record; edges come from pairwise cosine similarity over the embeddings the
// index holds for those memories. A memory missing from the index still gets
// a node, it just cannot contribute edges until the index is repaired.
// A threshold <= 0 selects DefaultGraphThreshold.
func (s *Store) MemoryGraph(ctx context.Context, ownerID owner.ID, threshold float32) (MemoryGraph, error) {
	if err := ownerID.Validate(); err != nil {
		return MemoryGraph{}, err
	}
	if threshold <= 0 {
		threshold = DefaultGraphThreshold
	}

	memories, err := s.allMemories(ctx, ownerID)
	if err != nil {
		return MemoryGraph{}, err
	}
	if len(memories) == 0 {
		return MemoryGraph{}, nil
	}

	graph := MemoryGraph{Nodes: make([]GraphNode, 0, len(memories))}
	ids := make([]string, 0, len(memories))
	for _, mem := range memories {
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:        mem.ID,
			Label:     graphLabel(mem.Content),
			Content:   mem.Content,
			Tags:      mem.Tags,
			CreatedAt: mem.CreatedAt,
		})
		ids = append(ids, mem.ID)
	}

	vectors, err := s.index.RetrieveVectors(ctx, ids, ownerID)
	if err != nil {
		return MemoryGraph{}, err
	}

	// i < j visits each unordered pair exactly once, so no dedup set is needed
	for i := 0; i < len(ids); i++ {
		a, ok := vectors[ids[i]]
		if !ok {
			continue
		}
		for j := i + 1; j < len(ids); j++ {
			b, ok := vectors[ids[j]]
			if !ok {
				continue
			}
			score := vector.CosineSimilarity(a, b)
			if score < threshold {
				continue
			}
			graph.Edges = append(graph.Edges, GraphEdge{
				Source: ids[i],
				Target: ids[j],
				Weight: score,
			})
		}
	}

	log.DebugContext(ctx, "Built memory graph",
		"owner_id", ownerID,
		"nodes", len(graph.Nodes),
		"edges", len(graph.Edges),
		"threshold", threshold)
	return graph, nil
}

// allMemories pages through the owner's full memory set.
func (s *Store) allMemories(ctx context.Context, ownerID owner.ID) ([]memory.Memory, error) {
	var all []memory.Memory
	for offset := 0; ; offset += graphPageSize {
		page, err := s.relational.ListMemories(ctx, ownerID, offset, graphPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < graphPageSize {
			return all, nil
		}
	}
}

func graphLabel(content string) string {
	runes := []rune(content)
	if len(runes) <= graphLabelLength {
		return content
	}
	return string(runes[:graphLabelLength]) + "..."
}
