package engine

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/driftline/gardener/internal/llm"
	"github.com/driftline/gardener/internal/memory"
	"github.com/driftline/gardener/internal/store"
)

// The generation/verification collaborator. Every call here is best-effort:
// bounded by the engine timeout and backed by a deterministic local
// fallback, so a stalled LLM degrades output quality but never blocks a
// maintenance run.

// complete issues one bounded LLM call.
func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	if e.LLM == nil {
		return "", &memory.ExternalServiceError{Service: "llm", Err: fmt.Errorf("not configured")}
	}
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	resp, err := e.LLM.Complete(cctx, prompt)
	if err != nil {
		return "", &memory.ExternalServiceError{Service: "llm", Err: err}
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", &memory.ExternalServiceError{Service: "llm", Err: fmt.Errorf("empty completion")}
	}
	return text, nil
}

// summarize combines several node summaries into one. Fallback is plain
// concatenation.
func (e *Engine) summarize(ctx context.Context, summaries []string) string {
	if text, err := e.complete(ctx, llm.SummarizePrompt(summaries)); err == nil {
		return text
	} else {
		log.Printf("generate: summarize fallback: %v", err)
	}
	if len(summaries) <= 3 {
		return strings.Join(summaries, " | ")
	}
	return fmt.Sprintf("Merged %d related events: %s | ... | %s",
		len(summaries), summaries[0], summaries[len(summaries)-1])
}

// regenerate re-describes a raw payload with the correction as a hint.
// Fallback tags the correction text.
func (e *Engine) regenerate(ctx context.Context, node *store.MemoryNode, correction string) string {
	desc := fmt.Sprintf("%s observation %s (%d bytes of raw data attached)", node.Level, node.ID, payloadLen(e.DB, node))
	if text, err := e.complete(ctx, llm.RegeneratePrompt(desc, correction)); err == nil {
		return text
	} else {
		log.Printf("generate: regenerate fallback: %v", err)
	}
	return "[corrected] " + correction
}

// correctedSummary rewrites a summary under a user correction. Fallback tags
// the correction text.
func (e *Engine) correctedSummary(ctx context.Context, original, correction string) string {
	if text, err := e.complete(ctx, llm.CorrectedSummaryPrompt(original, correction)); err == nil {
		return text
	}
	return "[corrected] " + correction
}

// refreshSummary regenerates a parent summary from its children's current
// text. Fallback tags the existing summary so readers can see it is stale.
func (e *Engine) refreshSummary(ctx context.Context, childSummaries []string, existing string) string {
	if len(childSummaries) > 0 {
		if text, err := e.complete(ctx, llm.RefreshSummaryPrompt(childSummaries)); err == nil {
			return text
		}
	}
	if strings.HasPrefix(existing, "[updated] ") {
		return existing
	}
	return "[updated] " + existing
}

// verify asks the external verifier for an independent claim about a node.
// No local fallback: the caller decides what a missing verdict means.
func (e *Engine) verify(ctx context.Context, node *store.MemoryNode) (string, error) {
	return e.complete(ctx, llm.VerifyPrompt(node.Summary))
}

// llmSalience scores salience via the collaborator; the scorer falls back to
// its keyword heuristic whenever this errors.
func (e *Engine) llmSalience(ctx context.Context, summary string) (float64, error) {
	text, err := e.complete(ctx, llm.SaliencePrompt(summary))
	if err != nil {
		return 0, err
	}
	score, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil {
		return 0, &memory.ExternalServiceError{Service: "llm", Err: fmt.Errorf("unparsable salience %q", text)}
	}
	return score, nil
}

func payloadLen(db *store.DB, node *store.MemoryNode) int64 {
	if node.PayloadKey == "" {
		return 0
	}
	size, err := db.PayloadSize(node.PayloadKey)
	if err != nil {
		return 0
	}
	return size
}
