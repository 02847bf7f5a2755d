package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/store"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show memory tree statistics",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	db, err := openDB(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	nodes, err := db.AllNodes()
	if err != nil {
		return err
	}

	byLevel := map[store.Level]int{}
	locked, corrected, downgraded, withPayload := 0, 0, 0, 0
	for i := range nodes {
		n := &nodes[i]
		byLevel[n.Level]++
		if n.Locked {
			locked++
		}
		if n.Corrected {
			corrected++
		}
		if n.Downgraded {
			downgraded++
		}
		if n.PayloadKey != "" {
			withPayload++
		}
	}

	fmt.Printf("nodes: %d\n", len(nodes))
	for _, l := range []store.Level{store.LevelRaw, store.LevelScene, store.LevelEvent, store.LevelGoal, store.LevelHigher} {
		if byLevel[l] > 0 {
			fmt.Printf("  %-4s %d\n", l, byLevel[l])
		}
	}
	fmt.Printf("locked:       %d\n", locked)
	fmt.Printf("corrected:    %d\n", corrected)
	fmt.Printf("downgraded:   %d\n", downgraded)
	fmt.Printf("with payload: %d\n", withPayload)
	fmt.Printf("db: %s\n", db.Path)
	return nil
}
