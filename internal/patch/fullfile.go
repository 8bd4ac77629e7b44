package patch

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"autopack/internal/logging"
)

// fullFilePayload is the Builder's full-file replacement format.
type fullFilePayload struct {
	Files []fullFileEntry `json:"files"`
}

type fullFileEntry struct {
	Path    string `json:"path"`
	Content string `json:"content"`
}

// ParseFullFile parses a {"files":[...]} payload. Each entry becomes
// CREATE or MODIFY_BY_REPLACE_ALL depending on disk state under root.
// Malformed JSON gets one bounded repair pass before failing.
func ParseFullFile(payload string, root string) (*EditPlan, error) {
	plan := &EditPlan{Format: FormatFullFile}

	var pf fullFilePayload
	if err := json.Unmarshal([]byte(payload), &pf); err != nil {
		repaired, desc, ok := RepairJSON(payload)
		if !ok {
			return nil, fmt.Errorf("full-file payload is not valid JSON: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &pf); err != nil {
			return nil, fmt.Errorf("full-file payload unrecoverable after repair: %w", err)
		}
		plan.recordRepair("json repair: %s", desc)
		logging.Patch("Full-file payload repaired: %s", desc)
	}

	if len(pf.Files) == 0 {
		return nil, fmt.Errorf("full-file payload has no files")
	}

	for _, f := range pf.Files {
		if f.Path == "" {
			plan.recordSkip("full-file entry with empty path dropped")
			continue
		}
		kind := OpCreate
		if root != "" {
			if _, err := os.Stat(filepath.Join(root, filepath.FromSlash(f.Path))); err == nil {
				kind = OpModifyByReplaceAll
			}
		}
		plan.Ops = append(plan.Ops, FileOperation{
			Kind:    kind,
			Path:    f.Path,
			Content: f.Content,
		})
	}

	if len(plan.Ops) == 0 {
		return nil, fmt.Errorf("full-file payload has no usable files")
	}
	return plan, nil
}

// SerializeFullFile renders a plan back to the full-file JSON format.
// Diff-based operations cannot be represented and are omitted.
func SerializeFullFile(plan *EditPlan) string {
	pf := fullFilePayload{}
	for _, op := range plan.Ops {
		if op.Kind == OpCreate || op.Kind == OpModifyByReplaceAll {
			pf.Files = append(pf.Files, fullFileEntry{Path: op.Path, Content: op.Content})
		}
	}
	data, _ := json.Marshal(pf)
	return string(data)
}

// MaxBucketLines returns the largest declared file size in lines; used by
// the executor to detect Bucket-C phases that force NDJSON mode.
func MaxBucketLines(plan *EditPlan) int {
	max := 0
	for _, op := range plan.Ops {
		if n := countLines(op.Content); n > max {
			max = n
		}
	}
	return max
}
