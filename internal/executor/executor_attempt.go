package executor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"autopack/internal/apply"
	"autopack/internal/ci"
	"autopack/internal/diff"
	"autopack/internal/llm"
	"autopack/internal/logging"
	"autopack/internal/metrics"
	"autopack/internal/patch"
	"autopack/internal/types"
)

// runAttempt performs one builder attempt end to end: compose context,
// select model, call builder, parse, governed apply, CI, auditor. The
// returned outcome feeds the policy engine; the AttemptRecord is
// appended before returning.
func (e *Executor) runAttempt(ctx context.Context, phase *types.Phase) (types.Outcome, error) {
	rt := e.rt(phase.PhaseID)
	start := time.Now()

	// 1. Compose context: deliverables contract first, then spec, then
	// accumulated hints.
	prompt := e.composeBuilderPrompt(phase)

	// 2. Select model for (category, complexity, escalation).
	modelID, entry, err := e.rc.Router.Resolve(phase.Category, phase.Complexity, phase.EscalationLevel)
	if err != nil {
		phase.LastFailureReason = err.Error()
		return types.OutcomeInternalError, nil
	}

	// Idempotency: a restart that already recorded this attempt must not
	// record it again.
	key := attemptKey(phase, prompt, modelID)
	if e.seenAttempt(phase, key) {
		logging.Executor("Attempt %s already recorded, skipping duplicate", key[:12])
		return e.replayOutcome(phase, key), nil
	}
	e.inFlight[key] = true
	if err := e.Checkpoint(); err != nil {
		return "", err
	}

	record := &types.AttemptRecord{
		AttemptIndex:   len(phase.Attempts),
		BuilderModelID: modelID,
		IdempotencyKey: key,
		Timestamp:      start,
	}

	outcome := e.attemptOnce(ctx, phase, prompt, modelID, entry.MaxOutput, record)

	record.WallclockMs = time.Since(start).Milliseconds()
	phase.Attempts = append(phase.Attempts, *record)
	phase.LastAttemptTimestamp = time.Now()
	rt.lastAttempt = record
	delete(e.inFlight, key)

	e.rc.Run.Budget.TokensUsed += int64(record.TokensIn + record.TokensOut)
	metrics.LLMTokensTotal.WithLabelValues("in").Add(float64(record.TokensIn))
	metrics.LLMTokensTotal.WithLabelValues("out").Add(float64(record.TokensOut))
	metrics.AttemptDuration.Observe(time.Since(start).Seconds())

	return outcome, nil
}

// attemptOnce runs the builder call, parse, apply, CI, and audit for one
// attempt, filling the record as it goes.
func (e *Executor) attemptOnce(ctx context.Context, phase *types.Phase, prompt, modelID string, maxOutput int, record *types.AttemptRecord) types.Outcome {
	rt := e.rt(phase.PhaseID)

	// 3. Call the builder.
	outputBudget := maxOutput
	if outputBudget <= 0 {
		outputBudget = 8192
	}
	outputBudget *= rt.outputBudgetX

	timeout := e.rc.Config.GetLLMTimeout()
	if phase.Complexity == types.ComplexityHigh {
		timeout = e.rc.Config.GetBuilderTimeout()
	}

	client, err := e.rc.Registry.Resolve(e.rc.Config.LLM.Provider)
	if err != nil {
		phase.LastFailureReason = err.Error()
		return types.OutcomeInternalError
	}

	resp, err := client.Generate(ctx, llm.Request{
		Model: modelID,
		Messages: []llm.Message{
			{Role: "system", Content: builderSystemPrompt},
			{Role: "user", Content: prompt},
		},
		MaxOutputTokens: outputBudget,
		Timeout:         timeout,
	})
	if err != nil {
		phase.LastFailureReason = err.Error()
		record.Outcome = types.AttemptBuilderFail
		if isTransient(err) {
			return types.OutcomeNetworkError
		}
		return types.OutcomeInternalError
	}
	record.TokensIn = resp.TokensIn
	record.TokensOut = resp.TokensOut

	// A length stop with any amount of partial content is truncation,
	// never a successful empty patch.
	if resp.StopReason == llm.StopLength {
		record.Outcome = types.AttemptTruncated
		phase.LastFailureReason = "builder output truncated"
		return types.OutcomeTruncatedOutput
	}
	if resp.StopReason == llm.StopError || strings.TrimSpace(resp.Text) == "" {
		record.Outcome = types.AttemptBuilderFail
		phase.LastFailureReason = "builder returned no usable output"
		return types.OutcomePatchRejected
	}

	// 4. Parse and normalize to an EditPlan.
	plan, err := patch.Parse(resp.Text, patch.ParseOptions{
		Root:            e.rc.Workspace,
		FullFileLineCap: e.rc.Config.Limits.UnifiedDiffLineCap,
	})
	if err != nil {
		record.Outcome = types.AttemptBuilderFail
		phase.LastFailureReason = fmt.Sprintf("unparseable patch: %v", err)
		return types.OutcomePatchRejected
	}
	record.ParserRepairs = append(plan.Repairs, plan.Skipped...)

	// 5. Governed apply.
	result, verr, err := e.rc.Applier.Apply(plan, phase.Scope, apply.Options{
		RunType:           e.rc.Run.RunType,
		SafetyProfile:     e.rc.Run.SafetyProfile,
		AllowMassDeletion: phase.AllowMassDeletion,
		AllowMassAddition: phase.AllowMassAddition,
		Deliverables:      phase.Deliverables,
		ApprovalToken:     rt.approvalToken,
		CheckpointDir:     e.rc.Layout.CheckpointsDir(),
	})
	if err != nil {
		record.Outcome = types.AttemptValidationFail
		phase.LastFailureReason = err.Error()
		return types.OutcomeInternalError
	}
	if verr != nil {
		record.Outcome = types.AttemptValidationFail
		phase.LastFailureReason = verr.Error()
		metrics.ApplyRejectsTotal.WithLabelValues(string(verr.Kind)).Inc()
		rt.addValidationHints(verr)
		return classifyValidation(verr, e.rc.Run.SafetyProfile)
	}
	record.PatchHash = result.PatchHash
	record.CheckpointPath = result.CheckpointPath
	rt.lastPatchHash = result.PatchHash

	// 6. CI.
	outcome := e.runCI(ctx, phase, record, result)
	if outcome != types.OutcomeAppliedOK {
		return outcome
	}

	// 7. Auditor.
	return e.runAuditor(ctx, phase, record, result)
}

// runCI executes the phase test command and classifies the result.
func (e *Executor) runCI(ctx context.Context, phase *types.Phase, record *types.AttemptRecord, applied *apply.Result) types.Outcome {
	rt := e.rt(phase.PhaseID)

	testCmd := phase.Scope.TestCmd
	if testCmd == "" {
		testCmd = e.rc.Config.CI.DefaultTestCmd
	}
	if testCmd == "" {
		rt.lastCISummary = "no test command configured"
		return types.OutcomeAppliedOK
	}

	// Build runs never execute destructive repository operations, no
	// matter what the plan or a doctor suggested. Maintenance runs may,
	// but only behind an approval token.
	if destructiveRepoCommand(testCmd) {
		if e.rc.Run.RunType == types.RunTypeProjectBuild || rt.approvalToken == "" {
			record.Outcome = types.AttemptCIFail
			phase.LastFailureReason = fmt.Sprintf("destructive repository operation refused: %q", testCmd)
			return types.OutcomeInternalError
		}
	}

	if err := e.Checkpoint(); err != nil {
		logging.ExecutorWarn("Checkpoint before CI failed: %v", err)
	}

	res, err := e.rc.CIRunner.Run(ctx, testCmd,
		e.rc.Layout.CIReportPath(phase.PhaseID),
		e.rc.Layout.CILogPath(phase.PhaseID))
	if err != nil {
		record.Outcome = types.AttemptCIFail
		phase.LastFailureReason = fmt.Sprintf("ci invocation failed: %v", err)
		return types.OutcomeCICollectError
	}

	if res.Report == nil {
		record.Outcome = types.AttemptCIFail
		phase.LastFailureReason = "ci produced no machine-readable report"
		rt.lastCISummary = phase.LastFailureReason
		return types.OutcomeCICollectError
	}

	report := res.Report
	rt.lastCISummary = fmt.Sprintf("exit=%d total=%d failed=%d collectors_failed=%v",
		report.ExitCode, report.Summary.Total, len(report.FailedTests()), report.HasCollectionFailure())

	// Collection failures block regardless of test results or approvals.
	if report.HasCollectionFailure() {
		record.Outcome = types.AttemptCIFail
		phase.LastFailureReason = "ci_collection_error"
		rt.addCollectionHints(report)
		return types.OutcomeCICollectError
	}

	if e.baseline == nil {
		// First observed report of the run seeds the baseline, so only
		// failures the loop introduces count as regressions.
		e.baseline = ci.NewBaseline(report)
	}

	if regressions := e.baseline.Regressions(report); len(regressions) > 0 {
		record.Outcome = types.AttemptCIFail
		phase.LastFailureReason = fmt.Sprintf("ci regression: %s", strings.Join(regressions, ", "))
		rt.addRegressionHints(regressions)
		if applied.CheckpointPath != "" {
			if err := apply.Rollback(e.rc.Workspace, applied.CheckpointPath); err != nil {
				logging.ExecutorWarn("Rollback after regression failed: %v", err)
			} else {
				rt.decisions = append(rt.decisions, "rolled back applied patch after CI regression")
			}
		}
		return types.OutcomeCIRegression
	}

	if !report.Passed() {
		// Failures that were already failing at baseline: not a
		// regression, but the phase cannot complete on a red suite.
		record.Outcome = types.AttemptCIFail
		phase.LastFailureReason = "ci failing at baseline"
		return types.OutcomeCIRegression
	}

	return types.OutcomeAppliedOK
}

// runAuditor asks the auditor model to approve the applied change.
func (e *Executor) runAuditor(ctx context.Context, phase *types.Phase, record *types.AttemptRecord, applied *apply.Result) types.Outcome {
	rt := e.rt(phase.PhaseID)

	auditorModel, _, err := e.rc.Router.Resolve(phase.Category, types.ComplexityLow, 0)
	if err != nil {
		record.Outcome = types.AttemptApplied
		return types.OutcomeAppliedOK
	}
	record.AuditorModelID = auditorModel

	client, err := e.rc.Registry.Resolve(e.rc.Config.LLM.Provider)
	if err != nil {
		record.Outcome = types.AttemptApplied
		return types.OutcomeAppliedOK
	}

	prompt := e.composeAuditorPrompt(phase, diff.Summarize(applied.DiffStats), rt.lastCISummary)

	resp, err := client.Generate(ctx, llm.Request{
		Model:           auditorModel,
		Messages:        []llm.Message{{Role: "user", Content: prompt}},
		MaxOutputTokens: 1024,
		Timeout:         e.rc.Config.GetLLMTimeout(),
	})
	if err != nil {
		if isTransient(err) {
			phase.LastFailureReason = err.Error()
			return types.OutcomeNetworkError
		}
		// A broken auditor never blocks an applied, green-CI change.
		logging.ExecutorWarn("Auditor unavailable, accepting applied change: %v", err)
		record.Outcome = types.AttemptApplied
		return types.OutcomeAppliedOK
	}
	record.TokensIn += resp.TokensIn
	record.TokensOut += resp.TokensOut

	verdict := strings.ToUpper(resp.Text)
	if strings.Contains(verdict, "REJECT") {
		record.Outcome = types.AttemptCIFail
		phase.LastFailureReason = "auditor rejected the change"
		if strings.Contains(verdict, "PLAN") {
			rt.hints = append(rt.hints, hintPlanAttribution)
		}
		return types.OutcomeAuditorReject
	}

	record.Outcome = types.AttemptApplied
	return types.OutcomeAppliedOK
}

// classifyValidation maps a ValidationError to an outcome class.
func classifyValidation(verr *apply.ValidationError, profile types.SafetyProfile) types.Outcome {
	switch verr.Kind {
	case apply.ErrDeliverablesShort:
		return types.OutcomeDeliverablesShort
	case apply.ErrProtectedPath:
		// Protected paths are never auto-retried: they need approval or
		// scope correction. Strict runs fail outright via the policy
		// default; others route to the approval channel.
		if profile == types.SafetyStrict {
			return types.OutcomeInternalError
		}
		return types.OutcomeApprovalRequired
	default:
		return types.OutcomePatchRejected
	}
}

// attemptKey derives the idempotency key for an attempt from its
// normalized inputs.
func attemptKey(phase *types.Phase, prompt, modelID string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s\x00%d\x00%d\x00%s\x00", phase.PhaseID, len(phase.Attempts), phase.RevisionEpoch, modelID)
	h.Write([]byte(prompt))
	return hex.EncodeToString(h.Sum(nil))
}

// seenAttempt reports whether this attempt was already recorded: either
// in the phase's attempt history or in the external-action ledger. A
// restarted process must not duplicate an AttemptRecord.
func (e *Executor) seenAttempt(phase *types.Phase, key string) bool {
	for _, a := range phase.Attempts {
		if a.IdempotencyKey == key {
			return true
		}
	}
	if e.rc.Ledger != nil {
		if _, ok := e.rc.Ledger.Query(key); ok {
			return true
		}
	}
	return false
}

// replayOutcome reconstructs the outcome of an already-recorded attempt.
func (e *Executor) replayOutcome(phase *types.Phase, key string) types.Outcome {
	for _, a := range phase.Attempts {
		if a.IdempotencyKey != key {
			continue
		}
		switch a.Outcome {
		case types.AttemptApplied:
			return types.OutcomeAppliedOK
		case types.AttemptTruncated:
			return types.OutcomeTruncatedOutput
		case types.AttemptCIFail:
			return types.OutcomeCIRegression
		case types.AttemptApprovalWait:
			return types.OutcomeApprovalRequired
		default:
			return types.OutcomePatchRejected
		}
	}
	return types.OutcomePatchRejected
}

// destructiveRepoCommand detects repository-destroying git invocations.
func destructiveRepoCommand(cmd string) bool {
	lower := strings.ToLower(cmd)
	if !strings.Contains(lower, "git") {
		return false
	}
	return strings.Contains(lower, "reset --hard") || strings.Contains(lower, "clean -fd")
}

// isTransient classifies provider errors worth backing off and retrying.
func isTransient(err error) bool {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{
		"timeout", "context deadline", "rate limit", "too many requests",
		"temporar", "connection", "unavailable", "502", "503", "504",
	} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
