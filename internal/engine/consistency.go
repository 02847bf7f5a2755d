package engine

import (
	"fmt"

	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// Issue is one consistency finding.
type Issue struct {
	Type    string `json:"type"`
	NodeID  string `json:"node_id"`
	Message string `json:"message"`
}

// Report is the result of a consistency sweep. Errors are structural
// violations; warnings are soft heuristics worth a look.
type Report struct {
	Consistent bool    `json:"consistent"`
	Errors     []Issue `json:"errors"`
	Warnings   []Issue `json:"warnings"`
}

// CheckConsistency sweeps the whole tree for structural violations. It is
// read-only and idempotent: two back-to-back sweeps on an unchanged tree
// produce identical reports.
func (e *Engine) CheckConsistency() (*Report, error) {
	nodes, err := e.DB.AllNodes()
	if err != nil {
		return nil, fmt.Errorf("consistency: %w", err)
	}

	report := &Report{}
	byID := make(map[string]*store.MemoryNode, len(nodes))
	for i := range nodes {
		byID[nodes[i].ID] = &nodes[i]
	}

	rootCount := 0
	for i := range nodes {
		n := &nodes[i]

		if n.Summary == "" {
			report.Errors = append(report.Errors, Issue{
				Type:    "missing_field",
				NodeID:  n.ID,
				Message: "empty summary",
			})
		}
		if !n.Level.Valid() {
			report.Errors = append(report.Errors, Issue{
				Type:    "missing_field",
				NodeID:  n.ID,
				Message: fmt.Sprintf("invalid level %q", n.Level),
			})
		}
		if n.TsStart > n.TsEnd {
			report.Errors = append(report.Errors, Issue{
				Type:    "invalid_time_range",
				NodeID:  n.ID,
				Message: fmt.Sprintf("ts_start %d after ts_end %d", n.TsStart, n.TsEnd),
			})
		}

		if n.IsRoot() {
			rootCount++
			continue
		}

		parent, ok := byID[n.ParentID]
		if !ok {
			report.Errors = append(report.Errors, Issue{
				Type:    "dangling_parent",
				NodeID:  n.ID,
				Message: fmt.Sprintf("parent %s does not exist", n.ParentID),
			})
			continue
		}

		// Soft check: a child's time range should fall inside its parent's.
		// Merges and corrections can stretch child ranges, so this is only a
		// warning.
		if n.TsStart < parent.TsStart || n.TsEnd > parent.TsEnd {
			report.Warnings = append(report.Warnings, Issue{
				Type:    "time_range_outside_parent",
				NodeID:  n.ID,
				Message: fmt.Sprintf("range [%d, %d] outside parent %s range [%d, %d]", n.TsStart, n.TsEnd, parent.ID, parent.TsStart, parent.TsEnd),
			})
		}
	}

	if rootCount == 0 {
		report.Errors = append(report.Errors, Issue{
			Type:    "missing_root",
			Message: "tree has no root",
		})
	}
	if rootCount > 1 {
		report.Errors = append(report.Errors, Issue{
			Type:    "multiple_roots",
			Message: fmt.Sprintf("tree has %d roots", rootCount),
		})
	}

	// Coverage heuristic: a parent sharing no vocabulary with any of its
	// children probably no longer summarizes them.
	for i := range nodes {
		n := &nodes[i]
		if n.IsRoot() {
			continue
		}
		children, err := e.DB.Children(n.ID)
		if err != nil {
			return nil, fmt.Errorf("consistency: %w", err)
		}
		if len(children) == 0 {
			continue
		}
		parentSet := memory.TokenSet(n.Summary)
		if len(parentSet) == 0 {
			continue
		}
		shared := 0
		for _, c := range children {
			shared += memory.Overlap(parentSet, memory.TokenSet(c.Summary))
		}
		if shared == 0 {
			report.Warnings = append(report.Warnings, Issue{
				Type:    "summary_coverage",
				NodeID:  n.ID,
				Message: fmt.Sprintf("summary shares no vocabulary with its %d children", len(children)),
			})
		}
	}

	report.Consistent = len(report.Errors) == 0
	return report, nil
}
