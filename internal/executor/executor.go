// Package executor drives each queued phase to a terminal state through
// a deterministic retry/escalation/replan loop. It is the only mutator
// of phase state and counters; all workspace writes go through the
// governed apply path and all side effects through the action ledger.
//
// The executor is modularized across several files:
//
//   - executor.go: RunContext, constructor, run-level loop, checkpoints
//   - executor_phase.go: the per-phase state machine
//   - executor_attempt.go: one builder attempt (prompt, parse, apply, CI, audit)
//   - executor_actions.go: policy action application and counter discipline
//   - executor_prompts.go: builder/auditor prompt composition
//   - executor_hints.go: hint packet accumulation and learned rules
//   - executor_events.go: event emission and proof writing
package executor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"autopack/internal/apply"
	"autopack/internal/approval"
	"autopack/internal/artifacts"
	"autopack/internal/ci"
	"autopack/internal/config"
	"autopack/internal/events"
	"autopack/internal/ledger"
	"autopack/internal/llm"
	"autopack/internal/logging"
	"autopack/internal/router"
	"autopack/internal/state"
	"autopack/internal/types"
)

// RunContext carries everything the loop needs explicitly: no globals.
type RunContext struct {
	Config    *config.Config
	Run       *types.Run
	Layout    *artifacts.Layout
	Router    *router.Router
	Registry  *llm.Registry
	Applier   *apply.Applier
	CIRunner  *ci.Runner
	Approvals *approval.Channel
	Ledger    *ledger.Ledger
	Sink      events.Sink
	Workspace string
}

// RunResult reports one AdvanceRun call.
type RunResult struct {
	Drained        bool   `json:"drained"`
	Completed      int    `json:"completed"`
	Failed         int    `json:"failed"`
	BlockedPhaseID string `json:"blocked_phase_id,omitempty"`
	Reason         string `json:"reason,omitempty"`
}

// PhaseOutcome is the terminal disposition of one ExecutePhase call.
type PhaseOutcome struct {
	State             types.PhaseState
	BlockedOnApproval bool
	ApprovalRequestID string
	Reason            string
}

// phaseRuntime is the per-phase volatile state that does not persist:
// accumulated hints, the expanded output budget, and one-shot flags.
type phaseRuntime struct {
	hints          []string
	outputBudgetX  int
	reducedOnce    bool
	approvalToken  string
	decisions      []string
	lastPatchHash  string
	lastAttempt    *types.AttemptRecord
	lastCISummary  string
	forbidden      []string
	transientTries int
}

// Executor drives a run.
type Executor struct {
	rc    RunContext
	store *state.Store

	baseline *ci.Baseline
	inFlight map[string]bool
	runtime  map[string]*phaseRuntime
	rules    *learnedRules
}

// New creates an executor over a prepared RunContext. Prior persisted
// state, if any, is resumed by the caller via Resume before advancing.
func New(rc RunContext) *Executor {
	e := &Executor{
		rc:       rc,
		store:    state.NewStore(rc.Layout.ExecutorStatePath()),
		inFlight: make(map[string]bool),
		runtime:  make(map[string]*phaseRuntime),
		rules:    loadLearnedRules(rc.Layout.LearnedRulesPath()),
	}
	if rc.Run.Budget.WallclockStart.IsZero() {
		rc.Run.Budget.WallclockStart = time.Now()
	}
	return e
}

// Resume loads persisted executor state, replacing the in-memory run so
// a restarted process continues at the first non-terminal phase.
func (e *Executor) Resume() error {
	es, err := e.store.Load()
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		if es != nil && es.NeedsHuman {
			logging.ExecutorError("State unrecoverable, run needs human: %s", es.NeedsHumanReason)
			_ = e.store.Save(es)
		}
		return fmt.Errorf("failed to resume executor state: %w", err)
	}
	if es.Run != nil {
		e.rc.Run = es.Run
	}
	e.inFlight = es.InFlightKeys
	if e.inFlight == nil {
		e.inFlight = make(map[string]bool)
	}
	logging.Executor("Resumed run %s", e.rc.Run.RunID)
	return nil
}

// Checkpoint atomically persists executor state. Called after every
// state-mutating event and before each LLM/CI call.
func (e *Executor) Checkpoint() error {
	return e.store.Save(&state.ExecutorState{
		Run:                 e.rc.Run,
		InFlightKeys:        e.inFlight,
		RoutingSnapshotPath: e.rc.Layout.RoutingSnapshotPath(),
	})
}

// AdvanceRun drives queued phases, strictly sequentially, until the run
// drains, the global budget is exhausted, or a phase blocks on approval.
func (e *Executor) AdvanceRun(ctx context.Context) (*RunResult, error) {
	result := &RunResult{}

	for {
		if err := ctx.Err(); err != nil {
			result.Reason = "cancelled"
			return result, err
		}

		if remaining := e.rc.Run.Budget.Remaining(time.Now()); remaining <= 0 {
			result.Reason = "run budget exhausted"
			logging.ExecutorWarn("Run budget exhausted, halting for human")
			e.writeHandoff("run budget exhausted")
			return result, nil
		}

		phase := e.rc.Run.NextQueued()
		if phase == nil {
			result.Drained = true
			e.writeHandoff("run drained")
			break
		}

		outcome, err := e.ExecutePhase(ctx, phase)
		if err != nil {
			return result, err
		}
		switch {
		case outcome.BlockedOnApproval:
			result.BlockedPhaseID = phase.PhaseID
			result.Reason = outcome.Reason
			e.writeHandoff(fmt.Sprintf("phase %s blocked on approval", phase.PhaseID))
			return result, nil
		case outcome.State == types.PhaseComplete:
			result.Completed++
		case outcome.State == types.PhaseFailed:
			result.Failed++
		}
	}

	return result, nil
}

// writeHandoff updates the run-level handoff context document.
func (e *Executor) writeHandoff(note string) {
	var gaps, blockers []string
	for _, p := range e.rc.Run.Phases {
		switch p.State {
		case types.PhaseQueued, types.PhaseInProgress:
			gaps = append(gaps, fmt.Sprintf("%s: %s", p.PhaseID, p.Goal))
		case types.PhaseFailed:
			blockers = append(blockers, fmt.Sprintf("%s: %s", p.PhaseID, p.LastFailureReason))
		}
	}
	h := &artifacts.Handoff{
		Objective:   fmt.Sprintf("run %s (%s)", e.rc.Run.RunID, note),
		Plan:        fmt.Sprintf("%d phases across %d tiers", len(e.rc.Run.Phases), len(e.rc.Run.Tiers)),
		Gaps:        gaps,
		Blockers:    blockers,
		Constraints: []string{fmt.Sprintf("run_type=%s", e.rc.Run.RunType), fmt.Sprintf("safety_profile=%s", e.rc.Run.SafetyProfile)},
		Artifacts:   []string{e.rc.Layout.Base},
	}
	if err := e.rc.Layout.WriteHandoff(h); err != nil {
		logging.ExecutorWarn("Failed to write handoff: %v", err)
	}
}

// rt returns (creating) the volatile runtime for a phase.
func (e *Executor) rt(phaseID string) *phaseRuntime {
	r, ok := e.runtime[phaseID]
	if !ok {
		r = &phaseRuntime{outputBudgetX: 1}
		e.runtime[phaseID] = r
	}
	return r
}

