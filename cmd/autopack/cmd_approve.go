package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"autopack/internal/approval"
	"autopack/internal/config"
)

var (
	approveDeny    bool
	approverID     string
	approvalRunDir string
)

var approveCmd = &cobra.Command{
	Use:   "approve [request-id]",
	Short: "Respond to a pending approval request (or list them)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}
		cfg, err := config.Load(defaultConfigPath(ws))
		if err != nil {
			return err
		}

		dir := approvalRunDir
		if dir == "" {
			return fmt.Errorf("--run-dir is required (the run's approvals directory)")
		}
		ch := approval.NewChannel(filepath.Join(dir, "approvals"),
			cfg.Approval.GetPollInterval(), cfg.Approval.GetTimeout())

		if len(args) == 0 {
			pending, err := ch.Pending()
			if err != nil {
				return err
			}
			if len(pending) == 0 {
				fmt.Println("No pending approval requests.")
				return nil
			}
			for _, req := range pending {
				fmt.Printf("%s  phase=%s  %s\n", req.RequestID, req.PhaseID, req.Reason)
			}
			return nil
		}

		if approverID == "" {
			return fmt.Errorf("--approver is required when responding")
		}
		if err := ch.Respond(args[0], !approveDeny, approverID); err != nil {
			return err
		}
		verdict := "APPROVED"
		if approveDeny {
			verdict = "DENIED"
		}
		fmt.Printf("%s %s by %s\n", verdict, args[0], approverID)
		return nil
	},
}

func init() {
	approveCmd.Flags().BoolVar(&approveDeny, "deny", false, "deny instead of approve")
	approveCmd.Flags().StringVar(&approverID, "approver", "", "approver identity")
	approveCmd.Flags().StringVar(&approvalRunDir, "run-dir", "", "run directory containing approvals/")
}
