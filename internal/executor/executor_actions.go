package executor

import (
	"context"
	"fmt"
	"strings"

	"autopack/internal/apply"
	"autopack/internal/logging"
	"autopack/internal/types"
)

// applyDecision mutates phase counters per the counter discipline and
// performs the chosen action. A non-nil terminal or blocked outcome ends
// the phase loop; both nil means loop again.
func (e *Executor) applyDecision(ctx context.Context, phase *types.Phase, outcome types.Outcome, decision types.Action) (terminal, blocked *PhaseOutcome, err error) {
	rt := e.rt(phase.PhaseID)

	switch decision {
	case types.ActionRetrySame:
		phase.RetryAttempt++
		return nil, nil, nil

	case types.ActionRetryWithHints:
		phase.RetryAttempt++
		if outcome == types.OutcomeTruncatedOutput {
			// Token escalation: expand the output budget, keep hints,
			// never replan off a truncation.
			x := e.rc.Config.Limits.TokenEscalationX
			if x < 2 {
				x = 2
			}
			if rt.outputBudgetX < 8 {
				rt.outputBudgetX *= x
			}
			rt.hints = appendUnique(rt.hints, "previous output was truncated; emit the smallest complete patch, preferring NDJSON structured edits")
		}
		return nil, nil, nil

	case types.ActionEscalateModel:
		phase.RetryAttempt++
		if phase.EscalationLevel == 0 {
			phase.EscalationLevel = 1
			rt.decisions = append(rt.decisions, "escalated model tier")
			logging.Executor("Phase %s escalated to next model lane", phase.PhaseID)
		}
		return nil, nil, nil

	case types.ActionReduceScope:
		reduced := e.scopeReduction(phase)
		if reduced == nil {
			return e.failTerminal(phase, "no scope reduction available"), nil, nil
		}
		rt.reducedOnce = true
		phase.Scope.Paths = reduced.Paths
		rt.decisions = append(rt.decisions, fmt.Sprintf("reduced scope to %v", reduced.Paths))
		logging.Executor("Phase %s scope reduced to %v", phase.PhaseID, reduced.Paths)
		return nil, nil, nil

	case types.ActionReplan:
		// Replan is non-destructive: attempts and the tactical retry
		// counter survive; only the escalation level resets.
		phase.RevisionEpoch++
		phase.EscalationLevel = 0
		rt.hints = nil
		rt.decisions = append(rt.decisions, fmt.Sprintf("replanned into epoch %d", phase.RevisionEpoch))
		logging.Executor("Phase %s replanned: epoch=%d", phase.PhaseID, phase.RevisionEpoch)
		return nil, nil, nil

	case types.ActionNeedsHuman:
		out, err := e.haltForHuman(ctx, phase, phase.LastFailureReason)
		if err != nil {
			return nil, nil, err
		}
		if out != nil {
			return nil, out, nil
		}
		return nil, nil, nil

	case types.ActionComplete:
		return e.complete(phase), nil, nil

	default: // FAIL_TERMINAL
		reason := phase.LastFailureReason
		if reason == "" {
			reason = string(outcome)
		}
		if outcome == types.OutcomeCICollectError {
			reason = "ci_collection_error"
		}
		return e.failTerminal(phase, reason), nil, nil
	}
}

// scopeReduction returns a structured reduction proposal grounded in the
// phase's deliverables: the minimal subset of existing scope prefixes
// that still covers every deliverable. Scope is only ever narrowed; a
// proposal exists only when the subset is strictly smaller.
func (e *Executor) scopeReduction(phase *types.Phase) *types.Scope {
	if len(phase.Deliverables) == 0 || len(phase.Scope.Paths) <= 1 {
		return nil
	}

	var needed []string
	for _, sp := range phase.Scope.Paths {
		covers := false
		for _, d := range phase.Deliverables {
			if apply.HasPathPrefix(apply.NormalizePath(d), apply.NormalizePath(sp)) {
				covers = true
				break
			}
		}
		if covers {
			needed = append(needed, sp)
		}
	}
	if len(needed) == 0 || len(needed) >= len(phase.Scope.Paths) {
		return nil
	}
	return &types.Scope{Paths: needed}
}

func appendUnique(hints []string, h string) []string {
	for _, existing := range hints {
		if existing == h {
			return hints
		}
	}
	return append(hints, h)
}

// commonPrefix returns the longest common directory prefix of paths.
func commonPrefix(paths []string) string {
	if len(paths) == 0 {
		return ""
	}
	segs := strings.Split(apply.NormalizePath(paths[0]), "/")
	common := len(segs) - 1 // drop the filename
	for _, p := range paths[1:] {
		ps := strings.Split(apply.NormalizePath(p), "/")
		n := 0
		for n < common && n < len(ps)-1 && ps[n] == segs[n] {
			n++
		}
		common = n
	}
	if common <= 0 {
		return ""
	}
	return strings.Join(segs[:common], "/")
}
