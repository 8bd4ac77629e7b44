// Package patch parses Builder output in any of the three accepted
// formats (unified diff, full-file JSON, NDJSON structured edits) and
// normalizes it to an EditPlan. Parsers are tolerant: truncated NDJSON
// streams keep their prefix, malformed JSON gets a bounded repair pass,
// and every repair is recorded for audit.
package patch

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// OpKind is the kind of a single file operation.
type OpKind string

const (
	OpCreate             OpKind = "CREATE"
	OpModifyByDiff       OpKind = "MODIFY_BY_DIFF"
	OpModifyByReplaceAll OpKind = "MODIFY_BY_REPLACE_ALL"
	OpReplaceSpans       OpKind = "REPLACE_SPANS"
	OpDelete             OpKind = "DELETE"
)

// Span is one search/replace pair within a REPLACE_SPANS operation.
type Span struct {
	OldText string `json:"old_text"`
	NewText string `json:"new_text"`
}

// Hunk is one unified-diff hunk kept in parsed line form. Lines retain
// their leading marker (' ', '+', '-') so the hunk can be re-serialized
// and validated against current file content.
type Hunk struct {
	OldStart int      `json:"old_start"`
	OldCount int      `json:"old_count"`
	NewStart int      `json:"new_start"`
	NewCount int      `json:"new_count"`
	Lines    []string `json:"lines"`
}

// FileOperation is one normalized operation against one file.
type FileOperation struct {
	Kind    OpKind `json:"kind"`
	Path    string `json:"path"`
	Content string `json:"content,omitempty"`
	Spans   []Span `json:"spans,omitempty"`
	Hunks   []Hunk `json:"hunks,omitempty"`

	// InsertAfterLine positions NDJSON insert operations (1-based; 0
	// inserts at the top).
	InsertAfterLine int `json:"insert_after_line,omitempty"`
}

// Format identifies which surface format a payload arrived in.
type Format string

const (
	FormatUnifiedDiff Format = "unified_diff"
	FormatFullFile    Format = "full_file"
	FormatNDJSON      Format = "ndjson"
)

// EditPlan is the normalized ordered sequence of file operations.
type EditPlan struct {
	Ops    []FileOperation `json:"ops"`
	Format Format          `json:"format"`

	// Repairs records every tolerant-parse action taken, for the
	// AttemptRecord audit trail.
	Repairs []string `json:"repairs,omitempty"`

	// Skipped records non-fatal dropped operations (truncated NDJSON
	// tails, no-op edits).
	Skipped []string `json:"skipped,omitempty"`
}

// Paths returns the distinct set of paths the plan touches, in order of
// first appearance.
func (p *EditPlan) Paths() []string {
	seen := make(map[string]bool, len(p.Ops))
	var out []string
	for _, op := range p.Ops {
		if !seen[op.Path] {
			seen[op.Path] = true
			out = append(out, op.Path)
		}
	}
	return out
}

// Hash returns the SHA-256 of the plan's canonical serialization. Struct
// field order fixes the byte form, so the same operations always produce
// the same hash regardless of the surface format they arrived in.
func (p *EditPlan) Hash() string {
	data, _ := json.Marshal(p.Ops)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// recordRepair appends an audit entry for a tolerant-parse action.
func (p *EditPlan) recordRepair(format string, args ...interface{}) {
	p.Repairs = append(p.Repairs, fmt.Sprintf(format, args...))
}

// recordSkip appends an audit entry for a dropped operation.
func (p *EditPlan) recordSkip(format string, args ...interface{}) {
	p.Skipped = append(p.Skipped, fmt.Sprintf(format, args...))
}

// countLines returns the number of lines in content, tolerating a
// missing trailing newline.
func countLines(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
