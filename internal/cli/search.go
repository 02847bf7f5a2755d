package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/engine"
	"github.com/driftline/gardener/internal/store"
)

var (
	searchLimit int
	searchLevel string
)

var searchCmd = &cobra.Command{
	Use:   "search [query]",
	Short: "Search the memory tree",
	Args:  cobra.ExactArgs(1),
	RunE:  runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchLimit, "limit", 10, "maximum results")
	searchCmd.Flags().StringVar(&searchLevel, "level", "", "restrict to one level (L0, L1, L2, L3, L4+)")
}

func runSearch(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	db, err := openDB(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	level := store.Level(searchLevel)
	if level != "" && !level.Valid() {
		return fmt.Errorf("unknown level %q", searchLevel)
	}

	eng := engine.New(db, nil, cfg.Maintenance)
	configureEmbedder(eng, db, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	results, err := eng.Search(ctx, args[0], level, searchLimit)
	if err != nil {
		return err
	}

	if len(results) == 0 {
		fmt.Println("no matches")
		return nil
	}
	for _, r := range results {
		fmt.Printf("%.3f  %-4s %s  %s\n", r.Similarity, r.Node.Level, r.Node.ID, r.Node.Summary)
	}
	return nil
}
