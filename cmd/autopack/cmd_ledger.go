package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"autopack/internal/ledger"
)

var ledgerRunDir string

var ledgerCmd = &cobra.Command{
	Use:   "ledger [idempotency-key]",
	Short: "Inspect the external-action ledger",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if ledgerRunDir == "" {
			return fmt.Errorf("--run-dir is required")
		}
		l, err := ledger.Open(filepath.Join(ledgerRunDir, "external_actions_ledger.json"), ledger.Gates{})
		if err != nil {
			return err
		}

		if len(args) == 1 {
			e, ok := l.Query(args[0])
			if !ok {
				return fmt.Errorf("no entry for key %s", args[0])
			}
			printEntry(e)
			return nil
		}

		for _, e := range l.Entries() {
			printEntry(e)
		}
		return nil
	},
}

func printEntry(e ledger.Entry) {
	fmt.Printf("%s  %-18s %s/%s retries=%d", e.IdempotencyKey[:12], e.Status, e.Provider, e.Action, e.RetryCount)
	if e.ApprovalID != "" {
		fmt.Printf(" approved_by=%s", e.ApprovalID)
	}
	if e.ResponseSummary != "" {
		fmt.Printf("  %s", e.ResponseSummary)
	}
	fmt.Println()
}

func init() {
	ledgerCmd.Flags().StringVar(&ledgerRunDir, "run-dir", "", "run directory containing external_actions_ledger.json")
}
