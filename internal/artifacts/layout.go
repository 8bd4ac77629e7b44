// Package artifacts owns the run-local artifact layout: proofs, phase
// summaries, CI artifacts, the handoff context, and the events stream.
package artifacts

import (
	"fmt"
	"os"
	"path/filepath"
)

// Layout resolves paths under the canonical run directory:
// <repo>/.autonomous_runs/<project>/runs/<family>/<run_id>/
type Layout struct {
	Base string
}

// NewLayout creates (and ensures) the run directory tree.
func NewLayout(repoRoot, project, family, runID string) (*Layout, error) {
	base := filepath.Join(repoRoot, ".autonomous_runs", project, "runs", family, runID)
	for _, sub := range []string{"proofs", "phases", "ci", "diagnostics", "handoff", "approvals", "checkpoints"} {
		if err := os.MkdirAll(filepath.Join(base, sub), 0755); err != nil {
			return nil, fmt.Errorf("failed to create run layout: %w", err)
		}
	}
	return &Layout{Base: base}, nil
}

// OpenLayout resolves an existing run directory without creating it.
func OpenLayout(repoRoot, project, family, runID string) *Layout {
	return &Layout{Base: filepath.Join(repoRoot, ".autonomous_runs", project, "runs", family, runID)}
}

// ExecutorStatePath is the persisted executor checkpoint.
func (l *Layout) ExecutorStatePath() string {
	return filepath.Join(l.Base, "executor_state.json")
}

// RoutingSnapshotPath is the persisted model routing snapshot.
func (l *Layout) RoutingSnapshotPath() string {
	return filepath.Join(l.Base, "model_routing_snapshot.json")
}

// ProofPath is the terminal per-phase proof artifact.
func (l *Layout) ProofPath(phaseID string) string {
	return filepath.Join(l.Base, "proofs", phaseID+".json")
}

// PhaseSummaryPath is the human-readable phase summary.
func (l *Layout) PhaseSummaryPath(phaseIndex int, phaseID string) string {
	return filepath.Join(l.Base, "phases", fmt.Sprintf("%d_%s.md", phaseIndex, phaseID))
}

// CIReportPath is the machine-readable CI report for a phase.
func (l *Layout) CIReportPath(phaseID string) string {
	return filepath.Join(l.Base, "ci", fmt.Sprintf("pytest_%s.json", phaseID))
}

// CILogPath is the human-readable CI log for a phase.
func (l *Layout) CILogPath(phaseID string) string {
	return filepath.Join(l.Base, "ci", fmt.Sprintf("pytest_%s.log", phaseID))
}

// HandoffPath is the run-level handoff context document.
func (l *Layout) HandoffPath() string {
	return filepath.Join(l.Base, "handoff", "context.md")
}

// HandoffJSONPath is the machine-readable handoff context.
func (l *Layout) HandoffJSONPath() string {
	return filepath.Join(l.Base, "handoff", "context.json")
}

// LedgerPath is the external-actions ledger file.
func (l *Layout) LedgerPath() string {
	return filepath.Join(l.Base, "external_actions_ledger.json")
}

// EventsPath is the phase state update event stream.
func (l *Layout) EventsPath() string {
	return filepath.Join(l.Base, "events.jsonl")
}

// ApprovalsDir holds approval request/response files.
func (l *Layout) ApprovalsDir() string {
	return filepath.Join(l.Base, "approvals")
}

// CheckpointsDir holds pre-apply backup manifests.
func (l *Layout) CheckpointsDir() string {
	return filepath.Join(l.Base, "checkpoints")
}

// DiagnosticsDir holds free-form diagnostic output.
func (l *Layout) DiagnosticsDir() string {
	return filepath.Join(l.Base, "diagnostics")
}

// LearnedRulesPath is the run-local learned failure->hint rules file.
func (l *Layout) LearnedRulesPath() string {
	return filepath.Join(l.Base, "learned_rules.yaml")
}
