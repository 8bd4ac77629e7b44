package executor

import (
	"context"
	"fmt"
	"time"

	"autopack/internal/approval"
	"autopack/internal/logging"
	"autopack/internal/metrics"
	"autopack/internal/policy"
	"autopack/internal/types"
)

// ExecutePhase runs one phase to a terminal state. The inner loop is
// the retry/escalation/replan state machine; every state-mutating event
// checkpoints before the next suspension point.
func (e *Executor) ExecutePhase(ctx context.Context, phase *types.Phase) (*PhaseOutcome, error) {
	logging.Executor("Phase %s starting (goal: %s)", phase.PhaseID, phase.Goal)

	e.transition(phase, types.PhaseInProgress, "started")
	if err := e.Checkpoint(); err != nil {
		return nil, err
	}

	rt := e.rt(phase.PhaseID)
	phaseStart := time.Now()
	wallclockCap := e.rc.Config.Limits.GetPhaseWallclock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if time.Since(phaseStart) > wallclockCap {
			return e.failTerminal(phase, "phase wallclock cap exceeded"), nil
		}

		outcome, err := e.runAttempt(ctx, phase)
		if err != nil {
			return nil, err
		}
		metrics.AttemptsTotal.WithLabelValues(string(outcome)).Inc()
		if err := e.Checkpoint(); err != nil {
			return nil, err
		}

		if outcome == types.OutcomeAppliedOK {
			return e.complete(phase), nil
		}

		// Transient network errors back off and retry in place, bounded;
		// they never consume a tactical attempt.
		if outcome == types.OutcomeNetworkError {
			if rt.transientTries < e.rc.Config.Limits.NetworkRetries {
				delay := e.rc.Config.Limits.GetNetworkBackoff() << rt.transientTries
				rt.transientTries++
				logging.ExecutorWarn("Phase %s transient error, retry %d in %s",
					phase.PhaseID, rt.transientTries, delay)
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(delay):
				}
				continue
			}
			out, err := e.haltForHuman(ctx, phase, "transient errors exhausted bounded retries")
			if err != nil || out != nil {
				return out, err
			}
			continue
		}
		rt.transientTries = 0

		if outcome == types.OutcomeInternalError {
			out, err := e.haltForHuman(ctx, phase, "internal error: "+phase.LastFailureReason)
			if err != nil || out != nil {
				return out, err
			}
			continue
		}

		decision := policy.Decide(e.stuckContext(phase, outcome), policy.Limits{
			MaxRetryAttempts: e.rc.Config.Limits.MaxRetryAttempts,
			MaxEpochs:        e.rc.Config.Limits.MaxEpochs,
			EscalationMin:    e.rc.Config.Limits.EscalationMin,
			ReductionMin:     e.rc.Config.Limits.ReductionMin,
			HaltMin:          e.rc.Config.Limits.HaltMin,
		})
		metrics.PolicyDecisionsTotal.WithLabelValues(string(decision)).Inc()
		rt.decisions = append(rt.decisions, fmt.Sprintf("%s -> %s", outcome, decision))
		logging.Policy("Phase %s: %s -> %s (retry=%d epoch=%d esc=%d)",
			phase.PhaseID, outcome, decision, phase.RetryAttempt, phase.RevisionEpoch, phase.EscalationLevel)

		terminal, blocked, err := e.applyDecision(ctx, phase, outcome, decision)
		if err != nil {
			return nil, err
		}
		if blocked != nil {
			return blocked, nil
		}
		if terminal != nil {
			return terminal, nil
		}
		if err := e.Checkpoint(); err != nil {
			return nil, err
		}
	}
}

// stuckContext assembles the policy input for the current situation.
func (e *Executor) stuckContext(phase *types.Phase, outcome types.Outcome) policy.StuckContext {
	rt := e.rt(phase.PhaseID)
	return policy.StuckContext{
		Outcome:                 outcome,
		RetryAttempt:            phase.RetryAttempt,
		EscalationLevel:         phase.EscalationLevel,
		RevisionEpoch:           phase.RevisionEpoch,
		BudgetRemaining:         e.rc.Run.Budget.Remaining(time.Now()),
		SafetyProfile:           e.rc.Run.SafetyProfile,
		HasScopeReductionOption: !rt.reducedOnce && e.scopeReduction(phase) != nil,
		StrategicSignal:         e.strategicSignal(phase, outcome),
	}
}

// strategicSignal reports whether the failure is attributed to the plan
// rather than the code: the auditor explicitly blamed the plan.
func (e *Executor) strategicSignal(phase *types.Phase, outcome types.Outcome) bool {
	if outcome != types.OutcomeCIRegression {
		return false
	}
	rt := e.rt(phase.PhaseID)
	for _, h := range rt.hints {
		if h == hintPlanAttribution {
			return true
		}
	}
	return false
}

// complete marks the phase COMPLETE and writes its proof.
func (e *Executor) complete(phase *types.Phase) *PhaseOutcome {
	e.transition(phase, types.PhaseComplete, "applied and verified")
	metrics.PhaseTerminalTotal.WithLabelValues(string(types.PhaseComplete)).Inc()
	e.writeProof(phase, types.PhaseComplete, "applied and verified")
	_ = e.Checkpoint()
	logging.Executor("Phase %s COMPLETE", phase.PhaseID)
	return &PhaseOutcome{State: types.PhaseComplete}
}

// failTerminal marks the phase FAILED and writes its proof.
func (e *Executor) failTerminal(phase *types.Phase, reason string) *PhaseOutcome {
	phase.LastFailureReason = reason
	e.transition(phase, types.PhaseFailed, reason)
	metrics.PhaseTerminalTotal.WithLabelValues(string(types.PhaseFailed)).Inc()
	e.writeProof(phase, types.PhaseFailed, reason)
	_ = e.Checkpoint()
	logging.ExecutorWarn("Phase %s FAILED: %s", phase.PhaseID, reason)
	return &PhaseOutcome{State: types.PhaseFailed, Reason: reason}
}

// haltForHuman submits an approval request and blocks on the response.
// Approval resumes the loop (with a token that unlocks protected paths
// for the next attempt); denial or timeout leaves the phase failed with
// the block reason. The per-attempt wait is never converted to failure
// by its own timeout; only the channel deadline ends it.
func (e *Executor) haltForHuman(ctx context.Context, phase *types.Phase, reason string) (*PhaseOutcome, error) {
	reqID, err := e.rc.Approvals.Submit(e.rc.Run.RunID, phase.PhaseID, reason)
	if err != nil {
		return nil, fmt.Errorf("failed to submit approval request: %w", err)
	}
	// The event surface has no BLOCKED state; transmit FAILED with the
	// block reason while keeping the phase IN_PROGRESS locally.
	e.emitEvent(phase, types.PhaseFailed, "blocked_approval: "+reason)
	if err := e.Checkpoint(); err != nil {
		return nil, err
	}

	resp, err := e.rc.Approvals.Await(ctx, reqID)
	if err != nil {
		if err == approval.ErrTimeout {
			out := e.failTerminal(phase, "approval timed out: "+reason)
			out.BlockedOnApproval = true
			out.ApprovalRequestID = reqID
			return out, nil
		}
		return nil, err
	}

	if resp.Status == approval.StatusApproved {
		rt := e.rt(phase.PhaseID)
		rt.approvalToken = resp.RequestID
		rt.decisions = append(rt.decisions, "human approval granted: "+reason)
		logging.Executor("Phase %s approval granted by %s", phase.PhaseID, resp.ApproverID)
		return nil, nil // caller loops and retries with the token
	}

	out := e.failTerminal(phase, fmt.Sprintf("approval denied by %s: %s", resp.ApproverID, reason))
	out.BlockedOnApproval = true
	out.ApprovalRequestID = reqID
	return out, nil
}
