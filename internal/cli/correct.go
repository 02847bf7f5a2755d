package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/engine"
	"github.com/driftline/gardener/internal/llm"
)

var (
	correctAnswer     string
	correctCandidates []string
)

var correctCmd = &cobra.Command{
	Use:   "correct [correction text]",
	Short: "Apply a retroactive correction to the memory tree",
	Long: `Apply a user correction to the memory most likely behind a wrong answer.

Example:
  gardener correct "the cup was red, not blue" \
    --answer "I put the blue cup in the cabinet" \
    --candidate 01J8...  --candidate 01J9...`,
	Args: cobra.ExactArgs(1),
	RunE: runCorrect,
}

func init() {
	correctCmd.Flags().StringVar(&correctAnswer, "answer", "", "the original (wrong) answer the agent gave")
	correctCmd.Flags().StringSliceVar(&correctCandidates, "candidate", nil, "candidate node id (repeatable)")
	correctCmd.MarkFlagRequired("candidate")
}

func runCorrect(cmd *cobra.Command, args []string) error {
	cfg := config.Default()
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}

	db, err := openDB(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var llmClient llm.Client
	if client, err := llm.NewClient(cfg.LLM); err == nil {
		llmClient = client
	}

	eng := engine.New(db, llmClient, cfg.Maintenance)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	result, err := eng.Correct(ctx, engine.CorrectionRequest{
		CandidateIDs:   correctCandidates,
		OriginalAnswer: correctAnswer,
		UserCorrection: args[0],
	})
	if err != nil {
		return err
	}

	if !result.Applied {
		return fmt.Errorf("correction not applied: %s", result.FailureReason)
	}

	fmt.Printf("corrected %s (%s, confidence %.2f)\n", result.NodeID, result.Method, result.Confidence)
	fmt.Printf("  new summary: %s\n", result.NewSummary)
	if result.VerifierClaim != "" {
		fmt.Printf("  verifier:    %s\n", result.VerifierClaim)
	}
	if len(result.UpdatedAncestors) > 0 {
		fmt.Printf("  refreshed %d ancestor summaries\n", len(result.UpdatedAncestors))
	}
	return nil
}
