package patch

import (
	"fmt"
	"strconv"
	"strings"

	"autopack/internal/logging"
)

// SyntheticNDJSONHeader marks a diff-shaped record emitted by an NDJSON
// apply. Payloads carrying it are change records, not patches, and must
// not be fed to the unified-diff parser.
const SyntheticNDJSONHeader = "NDJSON Operations Applied"

// IsSyntheticHeader reports whether payload is an NDJSON apply record.
func IsSyntheticHeader(payload string) bool {
	return strings.Contains(firstLines(payload, 3), SyntheticNDJSONHeader)
}

func firstLines(s string, n int) string {
	lines := strings.SplitN(s, "\n", n+1)
	if len(lines) > n {
		lines = lines[:n]
	}
	return strings.Join(lines, "\n")
}

// ParseUnifiedDiff parses one or more `diff --git` file sections into an
// EditPlan. The parser tolerates a missing trailing newline, multiple
// files in one blob, and multi-file diffs joined with blank lines.
func ParseUnifiedDiff(payload string) (*EditPlan, error) {
	plan := &EditPlan{Format: FormatUnifiedDiff}

	lines := strings.Split(payload, "\n")
	i := 0
	for i < len(lines) {
		line := lines[i]
		if !strings.HasPrefix(line, "diff --git ") {
			i++
			continue
		}

		op, next, err := parseFileSection(lines, i)
		if err != nil {
			return nil, err
		}
		if op != nil {
			plan.Ops = append(plan.Ops, *op)
		}
		i = next
	}

	if len(plan.Ops) == 0 {
		return nil, fmt.Errorf("no file sections found in unified diff")
	}
	logging.PatchDebug("Parsed unified diff: %d file operations", len(plan.Ops))
	return plan, nil
}

// parseFileSection parses one diff --git section starting at index start.
// Returns the operation and the index of the first line after the
// section.
func parseFileSection(lines []string, start int) (*FileOperation, int, error) {
	header := lines[start]
	oldPath, newPath, err := parseGitHeader(header)
	if err != nil {
		return nil, 0, err
	}

	op := &FileOperation{Kind: OpModifyByDiff, Path: newPath}

	i := start + 1
	for i < len(lines) {
		line := lines[i]
		switch {
		case strings.HasPrefix(line, "diff --git "):
			return op, i, nil
		case strings.HasPrefix(line, "new file mode"):
			op.Kind = OpCreate
			i++
		case strings.HasPrefix(line, "deleted file mode"):
			op.Kind = OpDelete
			op.Path = oldPath
			i++
		case strings.HasPrefix(line, "--- "):
			if strings.TrimPrefix(line, "--- ") == "/dev/null" {
				op.Kind = OpCreate
			}
			i++
		case strings.HasPrefix(line, "+++ "):
			if strings.TrimPrefix(line, "+++ ") == "/dev/null" {
				op.Kind = OpDelete
				op.Path = oldPath
			}
			i++
		case strings.HasPrefix(line, "@@"):
			hunk, next, err := parseHunk(lines, i)
			if err != nil {
				return nil, 0, err
			}
			op.Hunks = append(op.Hunks, hunk)
			i = next
		case strings.HasPrefix(line, "index ") || strings.HasPrefix(line, "similarity ") ||
			strings.HasPrefix(line, "rename ") || strings.HasPrefix(line, "old mode") ||
			strings.HasPrefix(line, "new mode"):
			i++
		case line == "":
			// Blank separator between locally-joined multi-file diffs.
			i++
		default:
			// Unrecognized line outside a hunk ends the section.
			return op, i, nil
		}
	}
	return op, i, nil
}

// parseGitHeader extracts a/<p> b/<p> paths from a diff --git line.
func parseGitHeader(line string) (oldPath, newPath string, err error) {
	rest := strings.TrimPrefix(line, "diff --git ")
	parts := strings.Fields(rest)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("malformed diff header: %q", line)
	}
	oldPath = strings.TrimPrefix(parts[0], "a/")
	newPath = strings.TrimPrefix(parts[1], "b/")
	return oldPath, newPath, nil
}

// parseHunk parses a single @@ hunk starting at index start.
func parseHunk(lines []string, start int) (Hunk, int, error) {
	var h Hunk
	if err := parseHunkHeader(lines[start], &h); err != nil {
		return h, 0, err
	}

	i := start + 1
	oldSeen, newSeen := 0, 0
	for i < len(lines) && (oldSeen < h.OldCount || newSeen < h.NewCount) {
		line := lines[i]
		if line == `\ No newline at end of file` {
			i++
			continue
		}
		if line == "" && i == len(lines)-1 {
			// Trailing newline omission at payload end.
			break
		}
		marker := byte(' ')
		if len(line) > 0 {
			marker = line[0]
		}
		switch marker {
		case ' ':
			oldSeen++
			newSeen++
		case '-':
			oldSeen++
		case '+':
			newSeen++
		default:
			return h, 0, fmt.Errorf("unexpected line in hunk at %d: %q", i, line)
		}
		if line == "" {
			// A context line whose content is empty loses its leading
			// space in some generators; normalize it back.
			line = " "
		}
		h.Lines = append(h.Lines, line)
		i++
	}

	if oldSeen != h.OldCount || newSeen != h.NewCount {
		return h, 0, fmt.Errorf("hunk at line %d is short: old %d/%d new %d/%d",
			start, oldSeen, h.OldCount, newSeen, h.NewCount)
	}
	return h, i, nil
}

// parseHunkHeader parses "@@ -l[,c] +l[,c] @@".
func parseHunkHeader(line string, h *Hunk) error {
	fields := strings.Fields(line)
	if len(fields) < 3 || fields[0] != "@@" {
		return fmt.Errorf("malformed hunk header: %q", line)
	}
	var err error
	h.OldStart, h.OldCount, err = parseRange(strings.TrimPrefix(fields[1], "-"))
	if err != nil {
		return fmt.Errorf("malformed hunk header %q: %w", line, err)
	}
	h.NewStart, h.NewCount, err = parseRange(strings.TrimPrefix(fields[2], "+"))
	if err != nil {
		return fmt.Errorf("malformed hunk header %q: %w", line, err)
	}
	return nil
}

func parseRange(s string) (start, count int, err error) {
	count = 1
	if idx := strings.Index(s, ","); idx >= 0 {
		count, err = strconv.Atoi(s[idx+1:])
		if err != nil {
			return 0, 0, err
		}
		s = s[:idx]
	}
	start, err = strconv.Atoi(s)
	return start, count, err
}

// ApplyHunks applies a MODIFY_BY_DIFF operation's hunks to content.
// Context lines are validated against the current content; a mismatch
// returns an error the apply path surfaces as patch_hunk_mismatch.
func ApplyHunks(content string, hunks []Hunk) (string, error) {
	hadTrailingNewline := content == "" || strings.HasSuffix(content, "\n")
	src := strings.Split(content, "\n")
	if hadTrailingNewline && len(src) > 0 && src[len(src)-1] == "" {
		src = src[:len(src)-1]
	}

	var out []string
	cursor := 0 // index into src of the next unconsumed line

	for hi, h := range hunks {
		target := h.OldStart - 1
		if h.OldCount == 0 {
			// Pure insertion hunks address the line after which to insert.
			target = h.OldStart
		}
		if target < cursor || target > len(src) {
			return "", fmt.Errorf("hunk %d targets line %d outside remaining content", hi+1, h.OldStart)
		}
		out = append(out, src[cursor:target]...)
		cursor = target

		for _, hl := range h.Lines {
			marker := hl[0]
			text := hl[1:]
			switch marker {
			case ' ':
				if cursor >= len(src) || src[cursor] != text {
					return "", contextMismatch(hi, cursor, text, src)
				}
				out = append(out, text)
				cursor++
			case '-':
				if cursor >= len(src) || src[cursor] != text {
					return "", contextMismatch(hi, cursor, text, src)
				}
				cursor++
			case '+':
				out = append(out, text)
			}
		}
	}

	out = append(out, src[cursor:]...)
	result := strings.Join(out, "\n")
	if hadTrailingNewline && result != "" {
		result += "\n"
	}
	return result, nil
}

func contextMismatch(hunkIdx, line int, want string, src []string) error {
	got := "<eof>"
	if line < len(src) {
		got = src[line]
	}
	return fmt.Errorf("hunk %d context mismatch at line %d: want %q, have %q",
		hunkIdx+1, line+1, want, got)
}

// SerializeUnified re-emits an EditPlan in unified-diff form. Only
// operations expressible as diffs are emitted; full-content operations
// are rendered as create/delete sections.
func SerializeUnified(plan *EditPlan) string {
	var b strings.Builder
	for _, op := range plan.Ops {
		if op.Kind == OpModifyByReplaceAll || op.Kind == OpReplaceSpans {
			// No hunks to emit for these; they are left out.
			continue
		}
		fmt.Fprintf(&b, "diff --git a/%s b/%s\n", op.Path, op.Path)
		switch op.Kind {
		case OpCreate:
			fmt.Fprintf(&b, "new file mode 100644\n--- /dev/null\n+++ b/%s\n", op.Path)
			writeWholeFileHunk(&b, op.Content, true)
		case OpDelete:
			fmt.Fprintf(&b, "deleted file mode 100644\n--- a/%s\n+++ /dev/null\n", op.Path)
			writeWholeFileHunk(&b, op.Content, false)
		default:
			fmt.Fprintf(&b, "--- a/%s\n+++ b/%s\n", op.Path, op.Path)
			for _, h := range op.Hunks {
				fmt.Fprintf(&b, "@@ -%d,%d +%d,%d @@\n", h.OldStart, h.OldCount, h.NewStart, h.NewCount)
				for _, hl := range h.Lines {
					b.WriteString(hl)
					b.WriteByte('\n')
				}
			}
		}
	}
	return b.String()
}

func writeWholeFileHunk(b *strings.Builder, content string, add bool) {
	lines := strings.Split(strings.TrimSuffix(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	marker := "+"
	if !add {
		marker = "-"
	}
	if add {
		fmt.Fprintf(b, "@@ -0,0 +1,%d @@\n", len(lines))
	} else {
		fmt.Fprintf(b, "@@ -1,%d +0,0 @@\n", len(lines))
	}
	for _, l := range lines {
		b.WriteString(marker)
		b.WriteString(l)
		b.WriteByte('\n')
	}
}
