package policy

import (
	"testing"

	"autopack/internal/types"
)

func TestDecide_ApprovalRequired(t *testing.T) {
	got := Decide(StuckContext{Outcome: types.OutcomeApprovalRequired, BudgetRemaining: 1.0}, Limits{})
	if got != types.ActionNeedsHuman {
		t.Errorf("expected NEEDS_HUMAN, got %s", got)
	}
}

func TestDecide_CICollectError(t *testing.T) {
	// First occurrence gets one automatic retry.
	got := Decide(StuckContext{Outcome: types.OutcomeCICollectError, RetryAttempt: 0, BudgetRemaining: 1.0}, Limits{})
	if got != types.ActionRetryWithHints {
		t.Errorf("first collect error: expected RETRY_WITH_HINTS, got %s", got)
	}

	// Any later occurrence is terminal regardless of budget.
	got = Decide(StuckContext{Outcome: types.OutcomeCICollectError, RetryAttempt: 1, BudgetRemaining: 1.0}, Limits{})
	if got != types.ActionFailTerminal {
		t.Errorf("second collect error: expected FAIL_TERMINAL, got %s", got)
	}
}

func TestDecide_TruncationNeverReplans(t *testing.T) {
	// Truncation must retry with hints while attempts remain, even with
	// a strategic signal present.
	for attempt := 0; attempt < DefaultMaxRetryAttempts; attempt++ {
		got := Decide(StuckContext{
			Outcome:         types.OutcomeTruncatedOutput,
			RetryAttempt:    attempt,
			BudgetRemaining: 0.5,
			StrategicSignal: true,
		}, Limits{})
		if got != types.ActionRetryWithHints {
			t.Fatalf("attempt %d: expected RETRY_WITH_HINTS, got %s", attempt, got)
		}
	}
}

func TestDecide_TacticalRetryThenEscalate(t *testing.T) {
	base := StuckContext{Outcome: types.OutcomeDeliverablesShort, BudgetRemaining: 1.0}

	for attempt := 0; attempt < DefaultMaxRetryAttempts-1; attempt++ {
		ctx := base
		ctx.RetryAttempt = attempt
		if got := Decide(ctx, Limits{}); got != types.ActionRetryWithHints {
			t.Fatalf("attempt %d: expected RETRY_WITH_HINTS, got %s", attempt, got)
		}
	}

	// Last attempt with escalation available and budget above ESC_MIN.
	ctx := base
	ctx.RetryAttempt = DefaultMaxRetryAttempts - 1
	if got := Decide(ctx, Limits{}); got != types.ActionEscalateModel {
		t.Errorf("expected ESCALATE_MODEL, got %s", got)
	}
}

func TestDecide_EscalationOncePerEpoch(t *testing.T) {
	ctx := StuckContext{
		Outcome:         types.OutcomePatchRejected,
		RetryAttempt:    DefaultMaxRetryAttempts - 1,
		EscalationLevel: 1,
		BudgetRemaining: 1.0,
	}
	if got := Decide(ctx, Limits{}); got == types.ActionEscalateModel {
		t.Error("escalation granted twice within one epoch")
	}
}

func TestDecide_LowBudgetPrefersReductionOverEscalation(t *testing.T) {
	ctx := StuckContext{
		Outcome:                 types.OutcomeAuditorReject,
		RetryAttempt:            DefaultMaxRetryAttempts - 1,
		EscalationLevel:         0,
		BudgetRemaining:         0.12, // below ESC_MIN, above RED_MIN
		HasScopeReductionOption: true,
	}
	if got := Decide(ctx, Limits{}); got != types.ActionReduceScope {
		t.Errorf("expected REDUCE_SCOPE, got %s", got)
	}
}

func TestDecide_StrategicReplan(t *testing.T) {
	ctx := StuckContext{
		Outcome:         types.OutcomeCIRegression,
		StrategicSignal: true,
		RevisionEpoch:   0,
		RetryAttempt:    2,
		BudgetRemaining: 0.8,
	}
	if got := Decide(ctx, Limits{}); got != types.ActionReplan {
		t.Errorf("expected REPLAN, got %s", got)
	}

	// Epoch cap exhausted: no more replans.
	ctx.RevisionEpoch = DefaultMaxEpochs
	if got := Decide(ctx, Limits{}); got == types.ActionReplan {
		t.Error("replanned past the epoch cap")
	}
}

func TestDecide_HaltOnEmptyBudget(t *testing.T) {
	ctx := StuckContext{
		Outcome:         types.OutcomeCIRegression,
		BudgetRemaining: 0.01,
	}
	if got := Decide(ctx, Limits{}); got != types.ActionNeedsHuman {
		t.Errorf("expected NEEDS_HUMAN, got %s", got)
	}
}

func TestDecide_DefaultTerminal(t *testing.T) {
	ctx := StuckContext{
		Outcome:         types.OutcomeCIRegression,
		BudgetRemaining: 0.5,
	}
	if got := Decide(ctx, Limits{}); got != types.ActionFailTerminal {
		t.Errorf("expected FAIL_TERMINAL, got %s", got)
	}
}

func TestDecide_Deterministic(t *testing.T) {
	ctx := StuckContext{
		Outcome:                 types.OutcomePatchRejected,
		RetryAttempt:            3,
		EscalationLevel:         0,
		RevisionEpoch:           1,
		BudgetRemaining:         0.42,
		HasScopeReductionOption: true,
	}
	first := Decide(ctx, Limits{})
	for i := 0; i < 100; i++ {
		if got := Decide(ctx, Limits{}); got != first {
			t.Fatalf("decision not deterministic: %s then %s", first, got)
		}
	}
}
