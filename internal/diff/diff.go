// Package diff computes line-level change summaries using the
// sergi/go-diff engine. The executor puts these in the auditor's change
// summary (they are not written into proofs or phase summaries); it never
// uses them to mutate the workspace.
package diff

import (
	"fmt"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// Stats summarizes one file's change.
type Stats struct {
	Path    string `json:"path"`
	Added   int    `json:"added"`
	Removed int    `json:"removed"`
}

// Engine wraps a diffmatchpatch instance tuned for code.
type Engine struct {
	dmp *diffmatchpatch.DiffMatchPatch
}

// NewEngine creates a diff engine.
func NewEngine() *Engine {
	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0 // accuracy over speed for audit artifacts
	return &Engine{dmp: dmp}
}

// Default is the shared engine.
var Default = NewEngine()

// Compute returns line-level stats for a single file change. The
// line-level reduction avoids newline boundary artifacts.
func (e *Engine) Compute(path, oldContent, newContent string) Stats {
	s := Stats{Path: path}
	if oldContent == newContent {
		return s
	}

	a, b, lineArray := e.dmp.DiffLinesToChars(oldContent, newContent)
	diffs := e.dmp.DiffMain(a, b, false)
	diffs = e.dmp.DiffCharsToLines(diffs, lineArray)

	for _, d := range diffs {
		n := strings.Count(d.Text, "\n")
		if n == 0 && d.Text != "" {
			n = 1
		}
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			s.Added += n
		case diffmatchpatch.DiffDelete:
			s.Removed += n
		}
	}
	return s
}

// Compute is a convenience over the default engine.
func Compute(path, oldContent, newContent string) Stats {
	return Default.Compute(path, oldContent, newContent)
}

// Summarize renders a compact +N/-M listing for a set of stats.
func Summarize(stats []Stats) string {
	var b strings.Builder
	for i, s := range stats {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s +%d/-%d", s.Path, s.Added, s.Removed)
	}
	return b.String()
}
