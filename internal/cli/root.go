package cli

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "gardener",
	Short: "Lifecycle maintenance for hierarchical agent memory",
	Long:  "Gardener keeps an agent's hierarchical memory tree healthy over long horizons: scoring what matters, forgetting what doesn't, and retroactively fixing what was remembered wrong. Single Go binary.",
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cycleCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(correctCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(treeCmd)
	rootCmd.AddCommand(statsCmd)
}
