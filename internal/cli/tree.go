package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/store"
)

var treeDepth int

var treeCmd = &cobra.Command{
	Use:   "tree [node-id]",
	Short: "Print the memory tree (or a subtree)",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runTree,
}

func init() {
	treeCmd.Flags().IntVar(&treeDepth, "depth", 3, "maximum depth to print")
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	db, err := openDB(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	var node *store.MemoryNode
	if len(args) == 1 {
		node, err = db.GetNode(args[0])
	} else {
		node, err = db.Root()
	}
	if err != nil {
		return err
	}
	if node == nil {
		return fmt.Errorf("node not found")
	}

	return printSubtree(db, node, 0)
}

func printSubtree(db *store.DB, node *store.MemoryNode, depth int) error {
	indent := strings.Repeat("  ", depth)
	flags := ""
	if node.Locked {
		flags += " [locked]"
	}
	if node.Downgraded {
		flags += " [downgraded]"
	}
	if node.Corrected {
		flags += " [corrected]"
	}
	summary := node.Summary
	if len(summary) > 80 {
		summary = summary[:77] + "..."
	}
	fmt.Printf("%s%-4s %s  u=%.2f  %s%s\n", indent, node.Level, node.ID, node.Utility, summary, flags)

	if depth >= treeDepth {
		return nil
	}
	children, err := db.Children(node.ID)
	if err != nil {
		return err
	}
	for i := range children {
		if err := printSubtree(db, &children[i], depth+1); err != nil {
			return err
		}
	}
	return nil
}
