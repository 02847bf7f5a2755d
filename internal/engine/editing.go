package engine

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// CorrectionRequest is a user's retroactive edit: the answer the agent gave,
// what the user says is actually true, and the candidate memories the answer
// was drawn from.
type CorrectionRequest struct {
	CandidateIDs   []string `json:"candidate_ids"`
	OriginalAnswer string   `json:"original_answer"`
	UserCorrection string   `json:"user_correction"`
}

// CorrectionResult reports how a correction was resolved.
type CorrectionResult struct {
	Applied          bool     `json:"applied"`
	NodeID           string   `json:"node_id,omitempty"`
	Method           string   `json:"method,omitempty"`
	Confidence       float64  `json:"confidence"`
	NewSummary       string   `json:"new_summary,omitempty"`
	VerifierClaim    string   `json:"verifier_claim,omitempty"`
	UpdatedAncestors []string `json:"updated_ancestors,omitempty"`
	FailureReason    string   `json:"failure_reason,omitempty"`
}

// Correct applies a user correction to the memory tree. It locates the leaf
// most likely responsible for the wrong answer, weighs how much to trust the
// user, arbitrates through the verifier when trust is not high, rewrites the
// memory, records the edit, and regenerates every ancestor summary on the
// path to the root. Serialized: overlapping corrections queue.
func (e *Engine) Correct(ctx context.Context, req CorrectionRequest) (*CorrectionResult, error) {
	e.editMu.Lock()
	defer e.editMu.Unlock()

	if strings.TrimSpace(req.UserCorrection) == "" {
		return nil, &memory.ValidationError{Field: "user_correction", Reason: "must not be empty"}
	}
	if len(req.CandidateIDs) == 0 {
		return nil, &memory.ValidationError{Field: "candidate_ids", Reason: "at least one candidate required"}
	}

	target, err := e.locateErrorSource(req)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return &CorrectionResult{FailureReason: "no candidate memory matches the original answer"}, nil
	}
	if target.Locked {
		return &CorrectionResult{NodeID: target.ID, FailureReason: "target memory is locked"}, nil
	}

	result := &CorrectionResult{NodeID: target.ID}
	result.Confidence = e.assessConfidence(target, req.UserCorrection)

	correctionText := req.UserCorrection

	if result.Confidence >= e.confidenceHigh {
		result.Method = "direct"
	} else {
		claim, err := e.verify(ctx, target)
		if err != nil {
			// No verdict available; the user's word is all there is.
			log.Printf("edit: verifier unavailable for %s: %v", target.ID, err)
			result.Method = "direct"
		} else {
			result.VerifierClaim = claim
			if claimAgrees(claim, req.UserCorrection) {
				result.Method = "direct"
				if err := e.DB.AddFeedback(true); err != nil {
					log.Printf("edit: feedback: %v", err)
				}
			} else {
				if err := e.DB.AddFeedback(false); err != nil {
					log.Printf("edit: feedback: %v", err)
				}
				if result.Confidence >= e.confidenceLow {
					// Mid confidence: the user wins, the disagreement is
					// preserved in the record.
					result.Method = "user_priority"
				} else {
					// Low confidence: the verifier's account replaces both.
					result.Method = "verifier"
					correctionText = claim
				}
			}
		}
	}

	// Rewrite. A surviving raw payload lets us re-describe the observation;
	// otherwise the summary is rewritten under the correction.
	var newSummary string
	if target.PayloadKey != "" {
		newSummary = e.regenerate(ctx, target, correctionText)
	} else {
		newSummary = e.correctedSummary(ctx, target.Summary, correctionText)
	}

	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	// Re-check under the lock; a cycle may have merged the target away.
	current, err := e.DB.GetNode(target.ID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return &CorrectionResult{NodeID: target.ID, FailureReason: "target memory no longer exists"}, nil
	}

	if err := e.DB.UpdateSummary(target.ID, newSummary, true); err != nil {
		return nil, fmt.Errorf("edit: %w", err)
	}
	record := &store.Correction{
		NodeID:        target.ID,
		Original:      target.Summary,
		Correction:    req.UserCorrection,
		NewSummary:    newSummary,
		Method:        result.Method,
		VerifierClaim: result.VerifierClaim,
	}
	if err := e.DB.AddCorrection(record, e.maxHistory); err != nil {
		return nil, fmt.Errorf("edit: %w", err)
	}

	// The cached embedding describes the old text.
	if err := e.DB.DeleteVector(target.ID); err != nil {
		log.Printf("edit: drop vector %s: %v", target.ID, err)
	}

	result.Applied = true
	result.NewSummary = newSummary
	result.UpdatedAncestors = e.propagateUpward(ctx, target.ID)

	e.addTotals(Totals{EditsPerformed: 1})
	return result, nil
}

// locateErrorSource picks the leaf most likely behind the wrong answer.
// Non-leaf candidates stand in for their leaf descendants. Each leaf is
// scored by how strongly it supports the original answer minus how strongly
// it already agrees with the correction; a memory that already says what the
// user says cannot be the culprit. With no positive score the first
// candidate leaf is blamed; with no leaves at all there is nothing to edit.
func (e *Engine) locateErrorSource(req CorrectionRequest) (*store.MemoryNode, error) {
	answerSet := memory.TokenSet(req.OriginalAnswer)
	correctionSet := memory.TokenSet(req.UserCorrection)

	var first *store.MemoryNode
	var best *store.MemoryNode
	bestScore := 0

	seen := make(map[string]bool)
	for _, id := range req.CandidateIDs {
		leaves, err := e.DB.LeafDescendants(id)
		if err != nil {
			return nil, err
		}
		for i := range leaves {
			leaf := leaves[i]
			if seen[leaf.ID] {
				continue
			}
			seen[leaf.ID] = true
			if first == nil {
				n := leaf
				first = &n
			}

			summarySet := memory.TokenSet(leaf.Summary)
			score := memory.Overlap(answerSet, summarySet)*3 - memory.Overlap(correctionSet, summarySet)*2
			if score > bestScore {
				n := leaf
				best = &n
				bestScore = score
			}
		}
	}

	if best != nil {
		return best, nil
	}
	return first, nil
}

// claimAgrees reports whether the verifier's claim supports the user's
// correction: containment either way, or strong token overlap.
func claimAgrees(claim, correction string) bool {
	a := strings.ToLower(strings.TrimSpace(claim))
	b := strings.ToLower(strings.TrimSpace(correction))
	if a == "" || b == "" {
		return false
	}
	if strings.Contains(a, b) || strings.Contains(b, a) {
		return true
	}
	return memory.Jaccard(claim, correction) >= 0.5
}

// propagateUpward refreshes every ancestor summary on the path from the
// edited node to the root, nearest-first, so no parent ever summarizes
// stale children. Locked ancestors are skipped but the walk continues past
// them. Returns the ids actually updated, in update order. Caller holds
// treeMu.
func (e *Engine) propagateUpward(ctx context.Context, id string) []string {
	ancestors, err := e.DB.Ancestors(id)
	if err != nil {
		log.Printf("edit: ancestors of %s: %v", id, err)
		return nil
	}

	var updated []string
	for _, aid := range ancestors {
		node, err := e.DB.GetNode(aid)
		if err != nil || node == nil {
			log.Printf("edit: load ancestor %s: %v", aid, err)
			continue
		}
		if node.Locked {
			continue
		}

		children, err := e.DB.Children(aid)
		if err != nil {
			log.Printf("edit: children of %s: %v", aid, err)
			continue
		}
		summaries := make([]string, 0, len(children))
		for _, c := range children {
			summaries = append(summaries, c.Summary)
		}

		fresh := e.refreshSummary(ctx, summaries, node.Summary)
		if fresh == node.Summary {
			continue
		}
		if err := e.DB.UpdateSummary(aid, fresh, false); err != nil {
			log.Printf("edit: refresh %s: %v", aid, err)
			continue
		}
		if err := e.DB.DeleteVector(aid); err != nil {
			log.Printf("edit: drop vector %s: %v", aid, err)
		}
		updated = append(updated, aid)
	}
	return updated
}

// Reperceive re-describes a node strictly from its raw payload, with the
// correction as a hint. Unlike Correct it never falls back to rewriting the
// summary alone: without the payload the request fails.
func (e *Engine) Reperceive(ctx context.Context, id, correction string) (*CorrectionResult, error) {
	e.editMu.Lock()
	defer e.editMu.Unlock()

	node, err := e.DB.GetNode(id)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, memory.ErrNotFound
	}
	if node.Locked {
		return &CorrectionResult{NodeID: id, FailureReason: "memory is locked"}, nil
	}
	if node.PayloadKey == "" {
		return &CorrectionResult{NodeID: id, FailureReason: "raw payload already forgotten"}, memory.ErrPayloadUnavailable
	}

	newSummary := e.regenerate(ctx, node, correction)

	e.treeMu.Lock()
	defer e.treeMu.Unlock()

	if err := e.DB.UpdateSummary(id, newSummary, true); err != nil {
		return nil, fmt.Errorf("reperceive: %w", err)
	}
	record := &store.Correction{
		NodeID:     id,
		Original:   node.Summary,
		Correction: correction,
		NewSummary: newSummary,
		Method:     "direct",
	}
	if err := e.DB.AddCorrection(record, e.maxHistory); err != nil {
		return nil, fmt.Errorf("reperceive: %w", err)
	}
	if err := e.DB.DeleteVector(id); err != nil {
		log.Printf("edit: drop vector %s: %v", id, err)
	}

	result := &CorrectionResult{
		Applied:          true,
		NodeID:           id,
		Method:           "direct",
		Confidence:       1.0,
		NewSummary:       newSummary,
		UpdatedAncestors: e.propagateUpward(ctx, id),
	}
	e.addTotals(Totals{EditsPerformed: 1})
	return result, nil
}
