package engine

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// CycleStats reports one eviction cycle's work.
type CycleStats struct {
	Processed    int   `json:"processed"`
	Forgotten    int   `json:"forgotten"`
	Downgraded   int   `json:"downgraded"`
	Merged       int   `json:"merged"`
	Deleted      int   `json:"deleted"`
	StorageSaved int64 `json:"storage_saved_bytes"`
	Errors       int   `json:"errors"`
}

// RunCycle performs one full maintenance pass: re-score every node, then
// apply the retention policy band by band. Leaves are stripped or compressed
// in place, mid-level runs of low-utility siblings are merged into synthetic
// summary nodes, and upper subtrees whose children all decayed are pruned.
// Locked nodes and the root are never touched. Per-node failures are logged
// and skipped so one bad node cannot stall the whole tree.
func (e *Engine) RunCycle(ctx context.Context) (*CycleStats, error) {
	e.cycleMu.Lock()
	defer e.cycleMu.Unlock()

	stats := &CycleStats{}
	now := time.Now()

	nodes, err := e.DB.AllNodes()
	if err != nil {
		return nil, fmt.Errorf("cycle: %w", err)
	}

	vectors := e.loadVectors(ctx, nodes)

	// Scoring pass. Collaborator calls happen here, outside the tree lock.
	utilities := make(map[string]float64, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		if n.IsRoot() || n.Locked {
			continue
		}
		u := e.Scorer.Score(ctx, n, now, nodes, vectors)
		utilities[n.ID] = u
		if err := e.DB.SetUtility(n.ID, u); err != nil {
			log.Printf("cycle: score %s: %v", n.ID, err)
			stats.Errors++
			continue
		}
		stats.Processed++
	}

	e.leafPass(nodes, utilities, stats)
	e.midPass(ctx, nodes, utilities, stats)
	e.upperPass(nodes, utilities, stats)

	e.addTotals(Totals{
		CyclesRun:       1,
		NodesForgotten:  stats.Forgotten,
		NodesDowngraded: stats.Downgraded,
		NodesMerged:     stats.Merged,
		NodesDeleted:    stats.Deleted,
		StorageSaved:    stats.StorageSaved,
	})
	return stats, nil
}

// loadVectors returns cached embeddings for the density term, computing and
// caching missing ones when an embedder is configured. Best-effort: a node
// without a vector just falls back to lexical similarity.
func (e *Engine) loadVectors(ctx context.Context, nodes []store.MemoryNode) map[string][]float64 {
	vectors := make(map[string][]float64, len(nodes))
	for i := range nodes {
		n := &nodes[i]
		rec, err := e.DB.GetVector(n.ID)
		if err != nil {
			log.Printf("cycle: vector %s: %v", n.ID, err)
			continue
		}
		if rec != nil {
			vectors[n.ID] = rec.Embedding
			continue
		}
		if e.Embedder == nil {
			continue
		}
		vec, err := e.Embedder.Embed(ctx, n.Summary)
		if err != nil {
			continue
		}
		vectors[n.ID] = vec
		if err := e.DB.SaveVector(n.ID, vec, e.Embedder.Model()); err != nil {
			log.Printf("cycle: cache vector %s: %v", n.ID, err)
		}
	}
	return vectors
}

// leafPass applies the policy to L0/L1 instants. The summary always
// survives; only raw payloads and detail are forgotten or compressed.
func (e *Engine) leafPass(nodes []store.MemoryNode, utilities map[string]float64, stats *CycleStats) {
	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	for i := range nodes {
		n := &nodes[i]
		if n.Locked || n.IsRoot() || n.Level.Rank() > store.LevelScene.Rank() {
			continue
		}
		u, ok := utilities[n.ID]
		if !ok {
			continue
		}

		switch e.Policy.Decide(u) {
		case memory.KeepAll:
			// Nothing to do.
		case memory.Downgrade:
			if n.PayloadKey == "" || n.PayloadCompressed {
				continue
			}
			if err := e.DB.MarkPayloadCompressed(n.ID); err != nil {
				log.Printf("cycle: downgrade %s: %v", n.ID, err)
				stats.Errors++
				continue
			}
			stats.Downgraded++
		case memory.TextOnly, memory.MergeOrDelete:
			if n.PayloadKey == "" && n.Detail == "" {
				continue
			}
			freed, err := e.DB.StripPayload(n.ID)
			if err != nil {
				log.Printf("cycle: strip %s: %v", n.ID, err)
				stats.Errors++
				continue
			}
			stats.Forgotten++
			stats.StorageSaved += freed
		}
	}
}

// midPass merges contiguous runs of low-utility L2/L3 siblings into one
// synthetic node. Runs are contiguous in time order under one parent; a
// single low node on its own is left alone.
func (e *Engine) midPass(ctx context.Context, nodes []store.MemoryNode, utilities map[string]float64, stats *CycleStats) {
	type sibling struct {
		node *store.MemoryNode
		low  bool
	}

	// Group L2/L3 nodes by (parent, level), time-ordered.
	groups := make(map[string][]sibling)
	var keys []string
	for i := range nodes {
		n := &nodes[i]
		if n.IsRoot() || n.Level != store.LevelEvent && n.Level != store.LevelGoal {
			continue
		}
		u, scored := utilities[n.ID]
		key := n.ParentID + "/" + string(n.Level)
		if _, seen := groups[key]; !seen {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], sibling{
			node: n,
			low:  !n.Locked && scored && u < e.Policy.Low,
		})
	}
	sort.Strings(keys)

	for _, key := range keys {
		sibs := groups[key]
		sort.Slice(sibs, func(i, j int) bool {
			if sibs[i].node.TsStart != sibs[j].node.TsStart {
				return sibs[i].node.TsStart < sibs[j].node.TsStart
			}
			return sibs[i].node.ID < sibs[j].node.ID
		})

		for start := 0; start < len(sibs); {
			if !sibs[start].low {
				start++
				continue
			}
			end := start
			for end < len(sibs) && sibs[end].low {
				end++
			}
			if end-start >= 2 {
				run := make([]*store.MemoryNode, 0, end-start)
				for _, s := range sibs[start:end] {
					run = append(run, s.node)
				}
				if err := e.mergeRun(ctx, run); err != nil {
					log.Printf("cycle: merge under %s: %v", run[0].ParentID, err)
					stats.Errors++
				} else {
					stats.Merged += len(run)
					stats.Deleted += len(run)
				}
			}
			start = end
		}
	}
}

// mergeRun replaces a run of siblings with one synthetic node at the same
// level. The synthetic node records the run's ids as lineage and spans the
// run's time range; the originals are tombstoned and removed.
func (e *Engine) mergeRun(ctx context.Context, run []*store.MemoryNode) error {
	summaries := make([]string, len(run))
	ids := make([]string, len(run))
	tsStart, tsEnd := run[0].TsStart, run[0].TsEnd
	for i, n := range run {
		summaries[i] = n.Summary
		ids[i] = n.ID
		if n.TsStart < tsStart {
			tsStart = n.TsStart
		}
		if n.TsEnd > tsEnd {
			tsEnd = n.TsEnd
		}
	}

	// Generation happens before the lock; a slow collaborator must not hold
	// up readers.
	merged := e.summarize(ctx, summaries)

	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	// Re-check liveness under the lock.
	for _, id := range ids {
		n, err := e.DB.GetNode(id)
		if err != nil {
			return err
		}
		if n == nil || n.Locked {
			return fmt.Errorf("run member %s vanished or locked", id)
		}
	}

	synthetic := &store.MemoryNode{
		ParentID:   run[0].ParentID,
		Level:      run[0].Level,
		Summary:    merged,
		TsStart:    tsStart,
		TsEnd:      tsEnd,
		Utility:    0.4,
		Lineage:    ids,
		Downgraded: true,
	}
	if err := e.DB.CreateNode(synthetic); err != nil {
		return err
	}

	for _, id := range ids {
		deleted, freed, err := e.DB.DeleteSubtree(id)
		if err != nil {
			return err
		}
		_ = deleted
		e.statsSaved(freed)
	}
	return nil
}

// statsSaved folds merge-time payload savings into the current cycle via the
// lifetime totals; CycleStats for merges counts nodes, not bytes, so the
// bytes land here.
func (e *Engine) statsSaved(freed int64) {
	if freed > 0 {
		e.addTotals(Totals{StorageSaved: freed})
	}
}

// upperPass prunes L4+ subtrees whose children have decayed. Applied to each
// topmost non-root L4+ node; recursion walks downward from there.
func (e *Engine) upperPass(nodes []store.MemoryNode, utilities map[string]float64, stats *CycleStats) {
	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	byID := make(map[string]*store.MemoryNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	for i := range nodes {
		n := &nodes[i]
		if n.IsRoot() || n.Level != store.LevelHigher {
			continue
		}
		// Only recurse from the topmost L4+ nodes; deeper ones are reached
		// through their parents.
		if parent, ok := byID[n.ParentID]; ok && !parent.IsRoot() && parent.Level == store.LevelHigher {
			continue
		}
		if _, err := e.pruneNode(n.ID, utilities, stats); err != nil {
			log.Printf("cycle: prune %s: %v", n.ID, err)
			stats.Errors++
		}
	}
}

// pruneNode decides the fate of one upper node from its children's current
// utilities. Returns whether the node still exists afterwards.
//
// All children below med and none locked: the whole subtree is deleted. One
// or two children at or above med: the survivors are promoted to the node's
// parent and the rest of the subtree is deleted. Otherwise the node stays,
// its low children are pruned recursively, and it is marked downgraded if
// anything beneath it changed.
func (e *Engine) pruneNode(id string, utilities map[string]float64, stats *CycleStats) (bool, error) {
	node, err := e.DB.GetNode(id)
	if err != nil {
		return false, err
	}
	if node == nil {
		return false, nil
	}
	if node.Locked {
		return true, nil
	}

	children, err := e.DB.Children(id)
	if err != nil {
		return true, err
	}
	if len(children) == 0 {
		return true, nil
	}

	var high []store.MemoryNode
	anyLocked := false
	for _, c := range children {
		if c.Locked {
			anyLocked = true
			continue
		}
		if u, ok := utilities[c.ID]; ok && u >= e.Policy.Med {
			high = append(high, c)
		}
	}

	// A locked child anywhere under this node pins the whole subtree: both
	// destructive paths below would refuse it, so fall through to recursion.
	switch {
	case len(high) == 0 && !anyLocked:
		ids, freed, err := e.DB.DeleteSubtree(id)
		if err != nil {
			return true, err
		}
		stats.Deleted += len(ids)
		stats.StorageSaved += freed
		return false, nil

	case len(high) <= 2 && !anyLocked && node.ParentID != "":
		for _, c := range high {
			if err := e.DB.Reparent(c.ID, node.ParentID); err != nil {
				return true, err
			}
		}
		ids, freed, err := e.DB.DeleteSubtree(id)
		if err != nil {
			return true, err
		}
		stats.Deleted += len(ids)
		stats.StorageSaved += freed
		return false, nil

	default:
		changed := false
		for _, c := range children {
			if c.Locked || c.Level != store.LevelHigher {
				continue
			}
			u, ok := utilities[c.ID]
			if !ok || u >= e.Policy.Med {
				continue
			}
			alive, err := e.pruneNode(c.ID, utilities, stats)
			if err != nil {
				return true, err
			}
			if !alive {
				changed = true
			}
		}
		if changed {
			if err := e.DB.MarkDowngraded(id); err != nil {
				return true, err
			}
			stats.Downgraded++
		}
		return true, nil
	}
}
