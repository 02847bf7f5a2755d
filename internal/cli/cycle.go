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

var cycleCmd = &cobra.Command{
	Use:   "cycle",
	Short: "Run one eviction cycle and exit",
	RunE:  runCycle,
}

func runCycle(cmd *cobra.Command, args []string) error {
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
	configureEmbedder(eng, db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	stats, err := eng.RunCycle(ctx)
	if err != nil {
		return err
	}

	fmt.Printf("processed:  %d\n", stats.Processed)
	fmt.Printf("forgotten:  %d\n", stats.Forgotten)
	fmt.Printf("downgraded: %d\n", stats.Downgraded)
	fmt.Printf("merged:     %d\n", stats.Merged)
	fmt.Printf("deleted:    %d\n", stats.Deleted)
	fmt.Printf("saved:      %d bytes\n", stats.StorageSaved)
	if stats.Errors > 0 {
		fmt.Printf("errors:     %d (see log)\n", stats.Errors)
	}
	return nil
}
