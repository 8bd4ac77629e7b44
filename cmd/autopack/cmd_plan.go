package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"autopack/internal/config"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Plan utilities",
}

var planValidateCmd = &cobra.Command{
	Use:   "validate <plan.yaml>",
	Short: "Validate a run plan before execution",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		run, err := config.LoadPlan(args[0])
		if err != nil {
			return err
		}
		fmt.Printf("Plan OK: run %s, %d phases across %d tiers\n",
			run.RunID, len(run.Phases), len(run.Tiers))
		for _, p := range run.Phases {
			fmt.Printf("  [%s] %s (%s/%s): %s\n",
				p.TierID, p.PhaseID, p.Category, p.Complexity, p.Goal)
		}
		return nil
	},
}

func init() {
	planCmd.AddCommand(planValidateCmd)
}
