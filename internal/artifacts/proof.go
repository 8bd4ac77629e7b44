package artifacts

import (
	"fmt"
	"os"
	"strings"
	"time"

	"autopack/internal/state"
	"autopack/internal/types"
)

// Proof is the bounded terminal per-phase audit artifact.
type Proof struct {
	PhaseID       string               `json:"phase_id"`
	State         types.PhaseState     `json:"state"`
	Reason        string               `json:"reason"`
	FinalAttempt  *types.AttemptRecord `json:"final_attempt,omitempty"`
	PatchHash     string               `json:"patch_hash,omitempty"`
	CISummary     string               `json:"ci_summary,omitempty"`
	CIReportPath  string               `json:"ci_report_path,omitempty"`
	CILogPath     string               `json:"ci_log_path,omitempty"`
	Decisions     []string             `json:"decisions,omitempty"`
	RetryAttempt  int                  `json:"retry_attempt"`
	RevisionEpoch int                  `json:"revision_epoch"`
	Escalations   int                  `json:"escalation_level"`
	WrittenAt     time.Time            `json:"written_at"`
}

// WriteProof persists the proof for a terminal phase.
func (l *Layout) WriteProof(p *Proof) error {
	p.WrittenAt = time.Now()
	return state.SaveJSON(l.ProofPath(p.PhaseID), p)
}

// WritePhaseSummary renders the human-readable phase summary.
func (l *Layout) WritePhaseSummary(phase *types.Phase, proof *Proof) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# Phase %s\n\n", phase.PhaseID)
	fmt.Fprintf(&b, "- Goal: %s\n", phase.Goal)
	fmt.Fprintf(&b, "- State: %s\n", proof.State)
	fmt.Fprintf(&b, "- Reason: %s\n", proof.Reason)
	fmt.Fprintf(&b, "- Attempts: %d (epoch %d, escalations %d)\n",
		proof.RetryAttempt, proof.RevisionEpoch, proof.Escalations)
	if proof.PatchHash != "" {
		fmt.Fprintf(&b, "- Patch: %s\n", proof.PatchHash)
	}
	if proof.CISummary != "" {
		fmt.Fprintf(&b, "- CI: %s\n", proof.CISummary)
	}
	if len(proof.Decisions) > 0 {
		b.WriteString("\n## Governance decisions\n\n")
		for _, d := range proof.Decisions {
			fmt.Fprintf(&b, "- %s\n", d)
		}
	}
	return os.WriteFile(l.PhaseSummaryPath(phase.PhaseIndex, phase.PhaseID), []byte(b.String()), 0644)
}

// Handoff is the run-level context document for human pickup. It is
// written only under the run directory, never to source-of-truth docs.
type Handoff struct {
	Objective   string   `json:"objective"`
	Plan        string   `json:"plan"`
	Gaps        []string `json:"gaps,omitempty"`
	Blockers    []string `json:"blockers,omitempty"`
	Constraints []string `json:"constraints,omitempty"`
	Artifacts   []string `json:"artifacts,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// WriteHandoff persists both the markdown and JSON handoff forms.
func (l *Layout) WriteHandoff(h *Handoff) error {
	h.UpdatedAt = time.Now()
	if err := state.SaveJSON(l.HandoffJSONPath(), h); err != nil {
		return err
	}

	var b strings.Builder
	b.WriteString("# Run handoff context\n\n")
	fmt.Fprintf(&b, "## Objective\n\n%s\n\n", h.Objective)
	fmt.Fprintf(&b, "## Selected plan\n\n%s\n\n", h.Plan)
	writeList(&b, "Gaps", h.Gaps)
	writeList(&b, "Blockers", h.Blockers)
	writeList(&b, "Constraints", h.Constraints)
	writeList(&b, "Artifacts", h.Artifacts)
	return os.WriteFile(l.HandoffPath(), []byte(b.String()), 0644)
}

func writeList(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, it := range items {
		fmt.Fprintf(b, "- %s\n", it)
	}
	b.WriteString("\n")
}
