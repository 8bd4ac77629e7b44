package executor

import (
	"time"

	"autopack/internal/artifacts"
	"autopack/internal/events"
	"autopack/internal/logging"
	"autopack/internal/types"
)

// transition moves a phase to a new state and emits the update event.
// A phase never moves back from COMPLETE.
func (e *Executor) transition(phase *types.Phase, to types.PhaseState, reason string) {
	if phase.State == types.PhaseComplete && to != types.PhaseComplete {
		logging.ExecutorWarn("Refusing transition of completed phase %s to %s", phase.PhaseID, to)
		return
	}
	phase.State = to
	e.emitEvent(phase, to, reason)
}

// emitEvent sends a phase state update to the configured sink. The
// canonical enum is enforced here: callers wanting to signal a block
// pass FAILED with the block reason.
func (e *Executor) emitEvent(phase *types.Phase, st types.PhaseState, reason string) {
	if e.rc.Sink == nil {
		return
	}
	e.rc.Sink.Emit(events.PhaseEvent{
		RunID:           e.rc.Run.RunID,
		PhaseID:         phase.PhaseID,
		State:           st,
		RetryAttempt:    phase.RetryAttempt,
		RevisionEpoch:   phase.RevisionEpoch,
		EscalationLevel: phase.EscalationLevel,
		Timestamp:       time.Now(),
		Reason:          reason,
	})
}

// writeProof emits the terminal per-phase proof and the human-readable
// phase summary, and records the verification checkpoint on the phase.
func (e *Executor) writeProof(phase *types.Phase, st types.PhaseState, reason string) {
	rt := e.rt(phase.PhaseID)

	phase.Checkpoints = append(phase.Checkpoints, types.Checkpoint{
		Type:      "ci",
		Passed:    st == types.PhaseComplete,
		Details:   rt.lastCISummary,
		Timestamp: time.Now(),
	})

	proof := &artifacts.Proof{
		PhaseID:       phase.PhaseID,
		State:         st,
		Reason:        reason,
		FinalAttempt:  rt.lastAttempt,
		PatchHash:     rt.lastPatchHash,
		CISummary:     rt.lastCISummary,
		CIReportPath:  e.rc.Layout.CIReportPath(phase.PhaseID),
		CILogPath:     e.rc.Layout.CILogPath(phase.PhaseID),
		Decisions:     rt.decisions,
		RetryAttempt:  phase.RetryAttempt,
		RevisionEpoch: phase.RevisionEpoch,
		Escalations:   phase.EscalationLevel,
	}
	if err := e.rc.Layout.WriteProof(proof); err != nil {
		logging.ExecutorError("Failed to write proof for %s: %v", phase.PhaseID, err)
	}
	if err := e.rc.Layout.WritePhaseSummary(phase, proof); err != nil {
		logging.ExecutorWarn("Failed to write phase summary for %s: %v", phase.PhaseID, err)
	}
}
