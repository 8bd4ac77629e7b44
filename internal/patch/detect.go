package patch

import (
	"fmt"
	"strings"

	"autopack/internal/logging"
)

// DetectFormat sniffs the surface format of a Builder payload.
func DetectFormat(payload string) Format {
	trimmed := strings.TrimSpace(payload)

	if strings.HasPrefix(trimmed, "diff --git ") || strings.Contains(trimmed, "\ndiff --git ") {
		return FormatUnifiedDiff
	}

	// NDJSON: first non-empty line is a standalone JSON object with an
	// "op" key.
	for _, line := range strings.Split(trimmed, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "{") && strings.Contains(line, `"op"`) &&
			strings.HasSuffix(line, "}") {
			return FormatNDJSON
		}
		break
	}

	return FormatFullFile
}

// ParseOptions controls parsing and auto-conversion.
type ParseOptions struct {
	// Root is the workspace root used to resolve CREATE vs MODIFY for
	// full-file entries.
	Root string

	// StructuredEditing forces full-file payloads to convert to NDJSON
	// operation streams before applying.
	StructuredEditing bool

	// FullFileLineCap converts full-file payloads whose largest file
	// exceeds this many lines (Bucket C). Zero disables the cap.
	FullFileLineCap int
}

// Parse normalizes a Builder payload in any accepted format to an
// EditPlan, applying format auto-conversion per the mode policy.
func Parse(payload string, opts ParseOptions) (*EditPlan, error) {
	if IsSyntheticHeader(payload) {
		return nil, fmt.Errorf("payload is a synthetic NDJSON apply record, not a patch")
	}

	format := DetectFormat(payload)
	logging.PatchDebug("Detected payload format: %s", format)

	switch format {
	case FormatUnifiedDiff:
		return ParseUnifiedDiff(payload)

	case FormatNDJSON:
		return ParseNDJSON(payload)

	default:
		plan, err := ParseFullFile(payload, opts.Root)
		if err != nil {
			return nil, err
		}
		if opts.StructuredEditing || (opts.FullFileLineCap > 0 && MaxBucketLines(plan) > opts.FullFileLineCap) {
			converted := ConvertFullFileToNDJSON(plan)
			logging.Patch("Full-file payload auto-converted to NDJSON (%d ops)", len(converted.Ops))
			return converted, nil
		}
		return plan, nil
	}
}

// ConvertFullFileToNDJSON rewrites a full-file plan as an NDJSON
// operation stream: CREATE stays create, replacements become
// replace_all. The repair/skip audit trail is carried over.
func ConvertFullFileToNDJSON(plan *EditPlan) *EditPlan {
	out := &EditPlan{
		Format:  FormatNDJSON,
		Repairs: append([]string{}, plan.Repairs...),
		Skipped: append([]string{}, plan.Skipped...),
	}
	out.recordRepair("auto-converted full_file payload to ndjson")
	for _, op := range plan.Ops {
		converted := op
		if op.Kind != OpCreate {
			converted.Kind = OpModifyByReplaceAll
		}
		out.Ops = append(out.Ops, converted)
	}
	return out
}
