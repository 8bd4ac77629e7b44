package patch

import (
	"encoding/json"
	"fmt"
	"strings"

	"autopack/internal/logging"
)

// ndjsonOp is the wire schema of one NDJSON structured-edit line.
type ndjsonOp struct {
	Op              string `json:"op"`
	FilePath        string `json:"file_path"`
	Content         string `json:"content,omitempty"`
	OldText         string `json:"old_text,omitempty"`
	NewText         string `json:"new_text,omitempty"`
	InsertAfterLine int    `json:"insert_after_line,omitempty"`
}

// ParseNDJSON parses an NDJSON structured-edit stream. The parser is
// truncation-tolerant: a parse error at line n preserves the operations
// before it and records the dropped tail as a skipped operation.
func ParseNDJSON(payload string) (*EditPlan, error) {
	plan := &EditPlan{Format: FormatNDJSON}

	lines := strings.Split(payload, "\n")
	for i, raw := range lines {
		line := strings.TrimSpace(raw)
		if line == "" {
			continue
		}

		var op ndjsonOp
		if err := json.Unmarshal([]byte(line), &op); err != nil {
			// A malformed line ends the usable stream; everything before
			// it stands.
			plan.recordSkip("line %d dropped (parse error): %v", i+1, err)
			plan.recordRepair("ndjson truncated at line %d, kept %d operations", i+1, len(plan.Ops))
			logging.Patch("NDJSON stream truncated at line %d, preserving %d operations", i+1, len(plan.Ops))
			break
		}

		fileOp, skip := convertNDJSONOp(op, i+1, plan)
		if skip {
			continue
		}
		plan.Ops = append(plan.Ops, fileOp)
	}

	if len(plan.Ops) == 0 {
		return nil, fmt.Errorf("ndjson payload contains no usable operations")
	}
	return plan, nil
}

// convertNDJSONOp maps one wire op to a FileOperation. skip=true means
// the op was recorded as a non-fatal no-op.
func convertNDJSONOp(op ndjsonOp, lineNo int, plan *EditPlan) (FileOperation, bool) {
	if op.FilePath == "" {
		plan.recordSkip("line %d: SKIPPED_OPERATION (missing file_path)", lineNo)
		return FileOperation{}, true
	}

	switch op.Op {
	case "create":
		return FileOperation{Kind: OpCreate, Path: op.FilePath, Content: contentOf(op)}, false

	case "replace_all":
		if contentOf(op) == "" && op.OldText == "" {
			// An empty replace_all is a logged no-op, not a hard error.
			plan.recordSkip("line %d: SKIPPED_OPERATION (replace_all with empty content)", lineNo)
			logging.PatchDebug("NDJSON line %d: replace_all no-op for %s", lineNo, op.FilePath)
			return FileOperation{}, true
		}
		return FileOperation{Kind: OpModifyByReplaceAll, Path: op.FilePath, Content: contentOf(op)}, false

	case "replace_span":
		if op.OldText == "" {
			plan.recordSkip("line %d: SKIPPED_OPERATION (replace_span with empty old_text)", lineNo)
			return FileOperation{}, true
		}
		return FileOperation{
			Kind:  OpReplaceSpans,
			Path:  op.FilePath,
			Spans: []Span{{OldText: op.OldText, NewText: op.NewText}},
		}, false

	case "insert":
		return FileOperation{
			Kind:            OpReplaceSpans,
			Path:            op.FilePath,
			Spans:           []Span{{OldText: "", NewText: op.NewText + op.Content}},
			InsertAfterLine: op.InsertAfterLine,
		}, false

	case "delete":
		return FileOperation{Kind: OpDelete, Path: op.FilePath}, false

	default:
		plan.recordSkip("line %d: SKIPPED_OPERATION (unknown op %q)", lineNo, op.Op)
		return FileOperation{}, true
	}
}

func contentOf(op ndjsonOp) string {
	if op.Content != "" {
		return op.Content
	}
	return op.NewText
}

// SerializeNDJSON renders a plan as an NDJSON stream; key order is fixed
// by the struct definition. Patch hashing does not use this form
// (EditPlan.Hash marshals the operations directly).
func SerializeNDJSON(plan *EditPlan) string {
	var b strings.Builder
	for _, op := range plan.Ops {
		w := ndjsonOp{FilePath: op.Path}
		switch op.Kind {
		case OpCreate:
			w.Op = "create"
			w.Content = op.Content
		case OpModifyByReplaceAll:
			w.Op = "replace_all"
			w.Content = op.Content
		case OpReplaceSpans:
			if len(op.Spans) > 0 && op.Spans[0].OldText == "" {
				w.Op = "insert"
				w.NewText = op.Spans[0].NewText
				w.InsertAfterLine = op.InsertAfterLine
			} else {
				w.Op = "replace_span"
				if len(op.Spans) > 0 {
					w.OldText = op.Spans[0].OldText
					w.NewText = op.Spans[0].NewText
				}
			}
		case OpDelete:
			w.Op = "delete"
		case OpModifyByDiff:
			// Diff hunks have no NDJSON equivalent; emit a replace_all of
			// empty content is wrong, so skip them from this surface form.
			continue
		}
		line, _ := json.Marshal(w)
		b.Write(line)
		b.WriteByte('\n')
	}
	return b.String()
}
