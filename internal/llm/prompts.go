package llm

import (
	"fmt"
	"strings"
)

// SummarizePrompt asks for one combined summary of several memory fragments.
func SummarizePrompt(summaries []string) string {
	var b strings.Builder
	b.WriteString("You maintain an agent's episodic memory. Combine the following memory fragments into one concise summary sentence. Keep concrete objects, places, and outcomes; drop repetition.\n\nFragments:\n")
	for i, s := range summaries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\nReturn only the combined summary, no preamble.")
	return b.String()
}

// RegeneratePrompt asks for a fresh description of a raw observation, with
// the user's correction as a hint.
func RegeneratePrompt(payloadDesc, hint string) string {
	return fmt.Sprintf(`You are re-examining an agent's raw observation because its stored description was reported wrong.

Observation payload: %s
User correction hint: %s

Describe what was actually observed in one sentence, taking the hint into account. Return only the description.`, payloadDesc, hint)
}

// VerifyPrompt asks for an independent claim about what a memory records,
// used to arbitrate user corrections.
func VerifyPrompt(summary string) string {
	return fmt.Sprintf(`Independently state, in one short sentence, what the following memory most likely records. Do not hedge.

Memory: %q

Return only the claim.`, summary)
}

// SaliencePrompt asks for a 0-1 importance score for a memory fragment.
func SaliencePrompt(summary string) string {
	return fmt.Sprintf(`Rate the importance of this agent memory on a 0-1 scale:

%q

Scale: anomalies and failures 0.8-1.0, task milestones 0.6-0.8, routine actions 0.3-0.5, repetitive noise 0.0-0.3.

Return only a float between 0 and 1, no explanation.`, summary)
}

// CorrectedSummaryPrompt asks for a rewrite of a summary under a user
// correction, preserving whatever was right.
func CorrectedSummaryPrompt(original, correction string) string {
	return fmt.Sprintf(`Original memory description: %s
User correction: %s

Rewrite the description: keep the parts the correction does not dispute, fix the parts it does, stay in one fluent sentence. Return only the rewritten description.`, original, correction)
}

// RefreshSummaryPrompt asks for a parent summary regenerated from its
// children's (already refreshed) summaries.
func RefreshSummaryPrompt(childSummaries []string) string {
	var b strings.Builder
	b.WriteString("A memory node summarizes its children. The children were just corrected; regenerate the parent summary from their current text.\n\nChildren:\n")
	for i, s := range childSummaries {
		fmt.Fprintf(&b, "%d. %s\n", i+1, s)
	}
	b.WriteString("\nReturn only the new parent summary, one or two sentences.")
	return b.String()
}
