package engine

import (
	"context"
	"fmt"
	"log"
	"sort"

	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// SearchResult pairs a node with its similarity to the query.
type SearchResult struct {
	Node       store.MemoryNode `json:"node"`
	Similarity float64          `json:"similarity"`
}

// Search finds the nodes most similar to a natural-language query. With an
// embedder configured it ranks by cosine similarity over cached vectors,
// falling back to lexical similarity for nodes without one; without an
// embedder everything ranks lexically. Every returned node is touched, so
// retrieval itself keeps useful memories alive.
func (e *Engine) Search(ctx context.Context, query string, level store.Level, limit int) ([]SearchResult, error) {
	if query == "" {
		return nil, &memory.ValidationError{Field: "query", Reason: "must not be empty"}
	}
	if limit <= 0 {
		limit = 10
	}

	nodes, err := e.DB.AllNodes()
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	var queryVec []float64
	vectors := make(map[string][]float64)
	if e.Embedder != nil {
		if vec, err := e.Embedder.Embed(ctx, query); err == nil {
			queryVec = vec
			records, err := e.DB.AllVectors()
			if err != nil {
				return nil, fmt.Errorf("search: %w", err)
			}
			for _, r := range records {
				vectors[r.NodeID] = r.Embedding
			}
		} else {
			log.Printf("search: embed query: %v", err)
		}
	}

	var results []SearchResult
	for i := range nodes {
		n := nodes[i]
		if n.IsRoot() {
			continue
		}
		if level != "" && n.Level != level {
			continue
		}

		var sim float64
		if vec, ok := vectors[n.ID]; ok && len(queryVec) > 0 {
			sim = memory.CosineSimilarity(queryVec, vec)
		} else {
			sim = memory.Jaccard(query, n.Summary)
		}
		if sim <= 0 {
			continue
		}
		results = append(results, SearchResult{Node: n, Similarity: sim})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Similarity != results[j].Similarity {
			return results[i].Similarity > results[j].Similarity
		}
		return results[i].Node.ID < results[j].Node.ID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	for _, r := range results {
		if err := e.DB.Touch(r.Node.ID); err != nil {
			log.Printf("search: touch %s: %v", r.Node.ID, err)
		}
	}
	return results, nil
}
