package executor

import (
	"fmt"
	"strings"

	"autopack/internal/types"
)

const builderSystemPrompt = `You are a code builder. You modify exactly the files you are told to, ` +
	`inside the allowed scope, and respond with a patch in one of three formats: a unified diff, ` +
	`a JSON {"files":[{"path":...,"content":...}]} document, or NDJSON structured edit operations ` +
	`(one JSON object per line with "op", "file_path" and the edit fields). No prose outside the patch.`

// composeBuilderPrompt assembles the builder prompt: the deliverables
// contract as a hard prefix, the phase spec and scope, then accumulated
// hints, then learned-rules hints.
func (e *Executor) composeBuilderPrompt(phase *types.Phase) string {
	rt := e.rt(phase.PhaseID)
	var b strings.Builder

	// Deliverables contract first: required paths, their common prefix,
	// and patterns prior attempts got wrong.
	if len(phase.Deliverables) > 0 {
		b.WriteString("## Deliverables contract (mandatory)\n\n")
		b.WriteString("Your patch MUST create or modify exactly these paths:\n")
		for _, d := range phase.Deliverables {
			fmt.Fprintf(&b, "  - %s\n", d)
		}
		if prefix := commonPrefix(phase.Deliverables); prefix != "" {
			fmt.Fprintf(&b, "All deliverables share the prefix: %s/\n", prefix)
		}
		if len(rt.forbidden) > 0 {
			b.WriteString("NEVER write to these paths (wrong in earlier attempts):\n")
			for _, f := range rt.forbidden {
				fmt.Fprintf(&b, "  - %s\n", f)
			}
		}
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, "## Goal\n\n%s\n\n", phase.Goal)
	if phase.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", phase.Description)
	}

	b.WriteString("## Allowed scope\n\nYou may modify files only under:\n")
	for _, sp := range phase.Scope.Paths {
		fmt.Fprintf(&b, "  - %s\n", sp)
	}
	b.WriteString("\n")

	if len(phase.Scope.ReadOnlyContext) > 0 {
		b.WriteString("Read-only context (do not modify):\n")
		for _, rc := range phase.Scope.ReadOnlyContext {
			fmt.Fprintf(&b, "  - %s\n", rc)
		}
		b.WriteString("\n")
	}

	if len(phase.Scope.AcceptanceCriteria) > 0 {
		b.WriteString("## Acceptance criteria\n\n")
		for _, ac := range phase.Scope.AcceptanceCriteria {
			fmt.Fprintf(&b, "  - %s\n", ac)
		}
		b.WriteString("\n")
	}

	if phase.Scope.Notes != "" {
		fmt.Fprintf(&b, "## Notes\n\n%s\n\n", phase.Scope.Notes)
	}

	// Hint packet from failed attempts, then learned rules.
	if len(rt.hints) > 0 {
		b.WriteString("## Corrections from earlier attempts\n\n")
		for _, h := range rt.hints {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
		b.WriteString("\n")
	}
	if learned := e.rules.hintsFor(phase.LastFailureReason); len(learned) > 0 {
		b.WriteString("## Known pitfalls\n\n")
		for _, h := range learned {
			fmt.Fprintf(&b, "  - %s\n", h)
		}
		b.WriteString("\n")
	}

	return b.String()
}

// composeAuditorPrompt builds the compact auditor review prompt.
func (e *Executor) composeAuditorPrompt(phase *types.Phase, changeSummary, ciSummary string) string {
	var b strings.Builder
	b.WriteString("Review this applied change for the phase below. Respond APPROVE or REJECT ")
	b.WriteString("with one short reason. If the failure lies in the plan itself rather than ")
	b.WriteString("the code, say REJECT PLAN.\n\n")
	fmt.Fprintf(&b, "Phase goal: %s\n", phase.Goal)
	if len(phase.Scope.AcceptanceCriteria) > 0 {
		b.WriteString("Acceptance criteria:\n")
		for _, ac := range phase.Scope.AcceptanceCriteria {
			fmt.Fprintf(&b, "  - %s\n", ac)
		}
	}
	fmt.Fprintf(&b, "Change summary: %s\n", changeSummary)
	fmt.Fprintf(&b, "CI result: %s\n", ciSummary)
	return b.String()
}
