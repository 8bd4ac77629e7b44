// Package policy is the sole place that maps a stuck-phase situation to
// an action. Decide is pure: the same StuckContext always yields the
// same action, so decisions replay identically after a restart.
package policy

import "autopack/internal/types"

// Default thresholds. Budget fractions are of the run budget remaining.
const (
	DefaultMaxRetryAttempts = 5
	DefaultMaxEpochs        = 3
	DefaultEscalationMin    = 0.15
	DefaultReductionMin     = 0.10
	DefaultHaltMin          = 0.05
)

// Limits carries the tunable thresholds. Zero values fall back to the
// defaults so a zero Limits behaves like the stock policy.
type Limits struct {
	MaxRetryAttempts int
	MaxEpochs        int
	EscalationMin    float64
	ReductionMin     float64
	HaltMin          float64
}

func (l Limits) withDefaults() Limits {
	if l.MaxRetryAttempts <= 0 {
		l.MaxRetryAttempts = DefaultMaxRetryAttempts
	}
	if l.MaxEpochs <= 0 {
		l.MaxEpochs = DefaultMaxEpochs
	}
	if l.EscalationMin <= 0 {
		l.EscalationMin = DefaultEscalationMin
	}
	if l.ReductionMin <= 0 {
		l.ReductionMin = DefaultReductionMin
	}
	if l.HaltMin <= 0 {
		l.HaltMin = DefaultHaltMin
	}
	return l
}

// StuckContext is the tuple of signals the decision is a function of.
type StuckContext struct {
	Outcome         types.Outcome
	RetryAttempt    int
	EscalationLevel int
	RevisionEpoch   int

	// BudgetRemaining is the remaining run budget as a fraction in [0,1].
	BudgetRemaining float64

	SafetyProfile types.SafetyProfile

	// HasScopeReductionOption is set when a grounded ScopeReduction
	// proposal exists for the phase.
	HasScopeReductionOption bool

	// StrategicSignal marks failures attributed to the plan rather than
	// the code (e.g. a CI regression the auditor pins on the plan).
	StrategicSignal bool
}

// Decide maps a stuck context to the next action. Rules are evaluated in
// order; the first match wins.
func Decide(ctx StuckContext, limits Limits) types.Action {
	l := limits.withDefaults()

	// 1. Approval gates everything.
	if ctx.Outcome == types.OutcomeApprovalRequired {
		return types.ActionNeedsHuman
	}

	// 2. Collection/import failures are baseline-independent blockers;
	// one automatic retry is allowed only on the first occurrence.
	if ctx.Outcome == types.OutcomeCICollectError {
		if ctx.RetryAttempt >= 1 {
			return types.ActionFailTerminal
		}
		return types.ActionRetryWithHints
	}

	// 3. Truncation is control flow, not a diagnosable failure: retry
	// with an expanded output budget, never replan. The retry cap still
	// binds so the attempt counter invariant holds.
	if ctx.Outcome == types.OutcomeTruncatedOutput {
		if ctx.RetryAttempt < l.MaxRetryAttempts {
			return types.ActionRetryWithHints
		}
		return types.ActionFailTerminal
	}

	tactical := ctx.Outcome == types.OutcomeDeliverablesShort ||
		ctx.Outcome == types.OutcomePatchRejected ||
		ctx.Outcome == types.OutcomeAuditorReject

	// 4. Tactical failures retry while attempts remain.
	if tactical && ctx.RetryAttempt < l.MaxRetryAttempts-1 {
		return types.ActionRetryWithHints
	}

	// 5. Last tactical attempt: escalate the model once per epoch if the
	// budget supports it.
	if tactical && ctx.RetryAttempt == l.MaxRetryAttempts-1 &&
		ctx.EscalationLevel == 0 && ctx.BudgetRemaining >= l.EscalationMin {
		return types.ActionEscalateModel
	}

	// 6. No escalation available: shrink the problem if a grounded
	// reduction exists. Low budget drives reduction before escalation.
	if tactical && ctx.HasScopeReductionOption && ctx.BudgetRemaining >= l.ReductionMin {
		return types.ActionReduceScope
	}

	// 7. Strategic failures replan while epochs remain. Replan precedes
	// escalation on the strategic branch.
	if ctx.StrategicSignal && ctx.Outcome == types.OutcomeCIRegression &&
		ctx.RevisionEpoch < l.MaxEpochs {
		return types.ActionReplan
	}

	// 8. Nearly exhausted budget always goes to a human.
	if ctx.BudgetRemaining < l.HaltMin {
		return types.ActionNeedsHuman
	}

	// 9. Nothing else applies.
	return types.ActionFailTerminal
}
