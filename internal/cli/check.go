package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/driftline/gardener/internal/config"
	"github.com/driftline/gardener/internal/engine"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check the memory tree for structural inconsistencies",
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg := config.Default()

	db, err := openDB(&cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	eng := engine.New(db, nil, cfg.Maintenance)
	report, err := eng.CheckConsistency()
	if err != nil {
		return err
	}

	for _, issue := range report.Errors {
		fmt.Printf("error   %-24s %s  %s\n", issue.Type, issue.NodeID, issue.Message)
	}
	for _, issue := range report.Warnings {
		fmt.Printf("warning %-24s %s  %s\n", issue.Type, issue.NodeID, issue.Message)
	}

	if report.Consistent {
		fmt.Printf("tree consistent (%d warnings)\n", len(report.Warnings))
		return nil
	}
	return fmt.Errorf("tree has %d structural errors", len(report.Errors))
}
