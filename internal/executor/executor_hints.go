package executor

import (
	"fmt"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"

	"autopack/internal/apply"
	"autopack/internal/ci"
	"autopack/internal/logging"
)

// hintPlanAttribution marks an auditor verdict that blamed the plan
// itself; it flips the policy engine's strategic signal.
const hintPlanAttribution = "attribution: the plan, not the code, caused the failure"

// addValidationHints converts a governed-apply rejection into hints for
// the next attempt. Hints accumulate across retries within one epoch.
func (rt *phaseRuntime) addValidationHints(verr *apply.ValidationError) {
	switch verr.Kind {
	case apply.ErrDeliverablesShort:
		for _, missing := range verr.Missing {
			// Off-by-a-prefix paths get a wrong -> correct transformation.
			if wrong := matchByBasename(missing, verr.Touched); wrong != "" {
				rt.hints = appendUnique(rt.hints,
					fmt.Sprintf("path correction: wrong=%s -> correct=%s", wrong, missing))
				rt.forbidden = appendUnique(rt.forbidden, wrong)
				continue
			}
			rt.hints = appendUnique(rt.hints, "missing required deliverable: "+missing)
		}
		if prefix := commonPrefix(verr.Missing); prefix != "" {
			rt.hints = appendUnique(rt.hints, "all deliverables live under: "+prefix+"/")
		}

	case apply.ErrOutsideScope:
		hint := "path outside allowed scope: " + verr.Path
		if verr.NearestScope != "" {
			hint += " (nearest allowed prefix: " + verr.NearestScope + ")"
		}
		rt.hints = appendUnique(rt.hints, hint)
		rt.forbidden = appendUnique(rt.forbidden, verr.Path)

	case apply.ErrProtectedPath:
		rt.hints = appendUnique(rt.hints, "protected path must not be modified: "+verr.Path)
		rt.forbidden = appendUnique(rt.forbidden, verr.Path)

	case apply.ErrSuspiciousShrink:
		rt.hints = appendUnique(rt.hints, fmt.Sprintf("rewrite of %s removed most of the file; modify incrementally instead", verr.Path))

	case apply.ErrSuspiciousGrowth:
		rt.hints = appendUnique(rt.hints, fmt.Sprintf("rewrite of %s grew the file suspiciously; modify incrementally instead", verr.Path))

	case apply.ErrPatchHunkMismatch:
		rt.hints = appendUnique(rt.hints, fmt.Sprintf("diff context did not match %s; regenerate against current file content", verr.Path))

	case apply.ErrTruncatedNewFile:
		rt.hints = appendUnique(rt.hints, fmt.Sprintf("new file %s looks truncated; emit it completely", verr.Path))
	}
}

// addCollectionHints surfaces failed collectors to the next attempt.
func (rt *phaseRuntime) addCollectionHints(report *ci.Report) {
	for _, c := range report.Collectors {
		if c.Outcome != "failed" {
			continue
		}
		hint := "test collection failed: " + c.NodeID
		if c.LongRepr != "" {
			hint += " (" + firstLine(c.LongRepr) + ")"
		}
		rt.hints = appendUnique(rt.hints, hint)
	}
}

// addRegressionHints surfaces newly failing tests to the next attempt.
func (rt *phaseRuntime) addRegressionHints(regressions []string) {
	for _, id := range regressions {
		rt.hints = appendUnique(rt.hints, "regressed test: "+id)
	}
}

// matchByBasename finds a touched path sharing the missing deliverable's
// filename, signalling a path that is off by a directory prefix.
func matchByBasename(missing string, touched []string) string {
	base := path.Base(missing)
	for _, t := range touched {
		if path.Base(t) == base && t != missing {
			return t
		}
	}
	return ""
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// learnedRules is the run-local catalog of recurring failure -> hint
// mappings, appended after hint-packet hints.
type learnedRules struct {
	Rules []learnedRule `yaml:"rules"`
}

type learnedRule struct {
	Match string `yaml:"match"` // substring of the failure reason
	Hint  string `yaml:"hint"`
}

// loadLearnedRules reads the run-local rules file; a missing file is an
// empty rule set.
func loadLearnedRules(path string) *learnedRules {
	data, err := os.ReadFile(path)
	if err != nil {
		return &learnedRules{}
	}
	var lr learnedRules
	if err := yaml.Unmarshal(data, &lr); err != nil {
		logging.ExecutorWarn("Ignoring malformed learned rules: %v", err)
		return &learnedRules{}
	}
	return &lr
}

// hintsFor returns learned hints matching the failure reason.
func (lr *learnedRules) hintsFor(failureReason string) []string {
	var out []string
	lower := strings.ToLower(failureReason)
	for _, r := range lr.Rules {
		if r.Match != "" && strings.Contains(lower, strings.ToLower(r.Match)) {
			out = append(out, r.Hint)
		}
	}
	return out
}
