package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"autopack/internal/apply"
	"autopack/internal/approval"
	"autopack/internal/artifacts"
	"autopack/internal/ci"
	"autopack/internal/config"
	"autopack/internal/events"
	"autopack/internal/executor"
	"autopack/internal/ledger"
	"autopack/internal/llm"
	"autopack/internal/lockfile"
	"autopack/internal/metrics"
	"autopack/internal/router"
	"autopack/internal/types"
)

var (
	planPath       string
	metricsAddr    string
	extraWorktrees []string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a run plan until drained, blocked, or out of budget",
	RunE: func(cmd *cobra.Command, args []string) error {
		ws, err := resolveWorkspace()
		if err != nil {
			return err
		}

		cfg, err := config.Load(defaultConfigPath(ws))
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid config: %w", err)
		}

		if metricsAddr != "" {
			cfg.Metrics.Enabled = true
			cfg.Metrics.ListenAddr = metricsAddr
		}
		if cfg.Metrics.Enabled {
			go func() {
				if err := metrics.Serve(cfg.Metrics.ListenAddr); err != nil {
					logger.Warn("metrics endpoint stopped", zap.Error(err))
				}
			}()
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		// Multi-run parallelism is allowed only across isolated
		// workspaces; each gets its own lock and run directory.
		if len(extraWorktrees) > 0 {
			g, gctx := errgroup.WithContext(ctx)
			for _, w := range append([]string{ws}, extraWorktrees...) {
				w := w
				g.Go(func() error { return runOne(gctx, cfg, w) })
			}
			return g.Wait()
		}

		return runOne(ctx, cfg, ws)
	},
}

// runOne executes the plan against one isolated workspace.
func runOne(ctx context.Context, cfg *config.Config, ws string) error {
	run, err := config.LoadPlan(planPath)
	if err != nil {
		return err
	}

	lock, err := lockfile.Acquire(ws)
	if err != nil {
		if errors.Is(err, lockfile.ErrLocked) {
			return withExitCode(err, exitLockFailure)
		}
		return err
	}
	defer lock.Release()

	layout, err := artifacts.NewLayout(ws, run.Project, run.Family, run.RunID)
	if err != nil {
		return err
	}

	// Routing snapshot: reuse a persisted one (restart), else build and
	// persist. The snapshot is immutable for the run's lifetime.
	snap, err := router.LoadSnapshot(layout.RoutingSnapshotPath())
	if err != nil {
		snap, err = router.BuildSnapshot(cfg.Routing.Catalog, run.SafetyProfile)
		if err != nil {
			return err
		}
		if err := router.SaveSnapshot(snap, layout.RoutingSnapshotPath()); err != nil {
			return err
		}
	}

	registry := llm.NewRegistry()
	apiKey := cfg.LLM.APIKey
	if apiKey == "" && cfg.LLM.APIKeyEnv != "" {
		apiKey = os.Getenv(cfg.LLM.APIKeyEnv)
	}
	gemini, err := llm.NewGeminiClient(ctx, apiKey)
	if err != nil {
		return err
	}
	registry.Register("gemini", gemini)

	ldg, err := ledger.Open(layout.LedgerPath(), ledger.Gates{
		LiveTradingEnabled: cfg.Governance.LiveTradingEnabled,
	})
	if err != nil {
		return err
	}
	// Entries left EXECUTING by a crash must be reconciled before any
	// new side effect; without a provider check they fail closed.
	for _, key := range ldg.ExecutingKeys() {
		logger.Warn("ledger entry left executing by a previous process",
			zap.String("idempotency_key", key))
		if err := ldg.Reconcile(ctx, key, func(context.Context) (bool, error) {
			return false, nil
		}); err != nil {
			return err
		}
	}

	exec := executor.New(executor.RunContext{
		Config:   cfg,
		Run:      run,
		Layout:   layout,
		Router:   router.New(snap, cfg.Routing.Overrides),
		Registry: registry,
		Applier:  apply.NewApplier(ws, cfg.Governance),
		CIRunner: ci.NewRunner(ws, cfg.CI.GetReportTimeout()),
		Approvals: approval.NewChannel(layout.ApprovalsDir(),
			cfg.Approval.GetPollInterval(), cfg.Approval.GetTimeout()),
		Ledger:    ldg,
		Sink:      events.NewFileSink(layout.EventsPath()),
		Workspace: ws,
	})
	if err := exec.Resume(); err != nil {
		return err
	}

	result, err := exec.AdvanceRun(ctx)
	if err != nil {
		return err
	}

	logger.Info("run finished",
		zap.String("run_id", run.RunID),
		zap.Bool("drained", result.Drained),
		zap.Int("completed", result.Completed),
		zap.Int("failed", result.Failed),
		zap.String("blocked", result.BlockedPhaseID),
		zap.String("reason", result.Reason))

	if result.Failed > 0 && ciDerivedFailure(run) {
		return withExitCode(fmt.Errorf("%d phases failed on CI", result.Failed), exitCIFailure)
	}
	return nil
}

// ciDerivedFailure reports whether any failed phase failed on a
// CI-derived reason, which maps to the dedicated exit code.
func ciDerivedFailure(run *types.Run) bool {
	for _, p := range run.Phases {
		if p.State == types.PhaseFailed && strings.HasPrefix(p.LastFailureReason, "ci") {
			return true
		}
	}
	return false
}

func init() {
	runCmd.Flags().StringVarP(&planPath, "plan", "p", "", "run plan YAML (required)")
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	runCmd.Flags().StringSliceVar(&extraWorktrees, "workspaces", nil, "additional isolated workspaces to run in parallel")
	_ = runCmd.MarkFlagRequired("plan")
}
