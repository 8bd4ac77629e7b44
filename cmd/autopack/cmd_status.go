package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"autopack/internal/state"
	"autopack/internal/types"
)

var statusRunDir string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show run progress from persisted executor state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if statusRunDir == "" {
			return fmt.Errorf("--run-dir is required")
		}

		store := state.NewStore(filepath.Join(statusRunDir, "executor_state.json"))
		es, err := store.Load()
		if err != nil {
			return fmt.Errorf("no usable executor state: %w", err)
		}
		if es.NeedsHuman {
			fmt.Printf("RUN NEEDS HUMAN: %s\n", es.NeedsHumanReason)
		}
		if es.Run == nil {
			return fmt.Errorf("executor state has no run")
		}

		run := es.Run
		completed, failed := 0, 0
		for _, p := range run.Phases {
			switch p.State {
			case types.PhaseComplete:
				completed++
			case types.PhaseFailed:
				failed++
			}
		}
		fmt.Printf("Run %s (%s): %d/%d phases complete, %d failed\n",
			run.RunID, run.RunType, completed, len(run.Phases), failed)
		fmt.Printf("Budget: %d tokens used\n", run.Budget.TokensUsed)

		for _, p := range run.Phases {
			fmt.Printf("  %-12s %-22s retry=%d epoch=%d esc=%d",
				p.State, p.PhaseID, p.RetryAttempt, p.RevisionEpoch, p.EscalationLevel)
			if p.LastFailureReason != "" {
				fmt.Printf("  (%s)", p.LastFailureReason)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().StringVar(&statusRunDir, "run-dir", "", "run directory containing executor_state.json")
}
