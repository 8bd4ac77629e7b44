package apply

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"autopack/internal/config"
	"autopack/internal/diff"
	"autopack/internal/logging"
	"autopack/internal/patch"
	"autopack/internal/types"
)

// Applier validates and applies edit plans to the workspace. It is the
// only component that writes repository files during execution.
type Applier struct {
	Root       string
	Governance config.GovernanceConfig
}

// NewApplier creates an applier rooted at the workspace directory.
func NewApplier(root string, gov config.GovernanceConfig) *Applier {
	return &Applier{Root: root, Governance: gov}
}

// Options carries the per-phase governance inputs for one apply.
type Options struct {
	RunType           types.RunType
	SafetyProfile     types.SafetyProfile
	AllowMassDeletion bool
	AllowMassAddition bool

	// Deliverables are required path patterns; validation is cumulative:
	// a deliverable already present on disk from an earlier attempt in
	// the same epoch counts.
	Deliverables []string

	// ApprovalToken, when non-empty, permits touching protected paths.
	ApprovalToken string

	// CheckpointDir receives the pre-apply backup manifest.
	CheckpointDir string
}

// FileChange summarizes one applied operation.
type FileChange struct {
	Path     string       `json:"path"`
	Op       patch.OpKind `json:"op"`
	OldLines int          `json:"old_lines"`
	NewLines int          `json:"new_lines"`
}

// Result reports a successful apply.
type Result struct {
	TouchedPaths   []string     `json:"touched_paths"`
	PatchHash      string       `json:"patch_hash"`
	CheckpointID   string       `json:"checkpoint_id,omitempty"`
	CheckpointPath string       `json:"checkpoint_path,omitempty"`
	Changes        []FileChange `json:"changes"`

	// DiffStats are line-level change summaries; the executor feeds them
	// to the auditor prompt. Proofs do not include them.
	DiffStats []diff.Stats `json:"diff_stats,omitempty"`

	// SyntheticRecord is the diff-shaped change record emitted for
	// NDJSON applies. It is an audit artifact, never re-parsed as a
	// patch.
	SyntheticRecord string `json:"synthetic_record,omitempty"`
}

// stagedFile is one file's final state in the staging overlay.
type stagedFile struct {
	path    string // normalized relative path
	content string
	orig    string // disk content before the apply
	deleted bool
	existed bool
	oldSize int
	op      patch.OpKind
}

// Apply validates the plan against scope and governance, then commits it
// atomically. A *ValidationError return is recoverable (hint + retry);
// an error return is an internal failure.
func (a *Applier) Apply(plan *patch.EditPlan, scope types.Scope, opts Options) (*Result, *ValidationError, error) {
	timer := logging.StartTimer(logging.CategoryApply, "governed apply")
	defer timer.Stop()

	// 1-2. Path normalization and scope enforcement.
	for i := range plan.Ops {
		plan.Ops[i].Path = NormalizePath(plan.Ops[i].Path)
		p := plan.Ops[i].Path
		if p == "" {
			return nil, &ValidationError{Kind: ErrOutsideScope, Detail: "empty path"}, nil
		}
		if !InScope(p, scope.Paths) {
			logging.ApplyWarn("Path outside scope: %s", p)
			return nil, &ValidationError{
				Kind:         ErrOutsideScope,
				Path:         p,
				NearestScope: NearestScope(p, scope.Paths),
			}, nil
		}
	}

	// 3. Protected-path check.
	if verr := a.checkProtected(plan, opts); verr != nil {
		return nil, verr, nil
	}

	// 4. Create-existing guard: never fail a patch for creating a file
	// that already exists.
	for i := range plan.Ops {
		op := &plan.Ops[i]
		if op.Kind == patch.OpCreate && a.exists(op.Path) {
			logging.ApplyDebug("CREATE of existing file converted to replace: %s", op.Path)
			op.Kind = patch.OpModifyByReplaceAll
		}
	}

	// Materialize the staging overlay.
	staged, verr, err := a.stage(plan)
	if err != nil || verr != nil {
		return nil, verr, err
	}

	// 6. Size-bound guards and new-file truncation heuristic.
	if verr := a.checkSizeBounds(staged, opts); verr != nil {
		return nil, verr, nil
	}

	// 7. Deliverables check, cumulative with files already on disk.
	if verr := a.checkDeliverables(plan, opts.Deliverables); verr != nil {
		return nil, verr, nil
	}

	// Pre-apply checkpoint, then atomic commit.
	checkpointID, checkpointPath, err := a.writeCheckpoint(staged, opts.CheckpointDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to write pre-apply checkpoint: %w", err)
	}

	if err := a.commit(staged); err != nil {
		logging.ApplyWarn("Commit failed, rolling back: %v", err)
		if rbErr := Rollback(a.Root, checkpointPath); rbErr != nil {
			return nil, nil, fmt.Errorf("commit failed (%v) and rollback failed: %w", err, rbErr)
		}
		return nil, nil, fmt.Errorf("apply rolled back: %w", err)
	}

	result := &Result{
		PatchHash:      plan.Hash(),
		CheckpointID:   checkpointID,
		CheckpointPath: checkpointPath,
	}
	for _, sf := range staged {
		result.TouchedPaths = append(result.TouchedPaths, sf.path)
		result.Changes = append(result.Changes, FileChange{
			Path:     sf.path,
			Op:       sf.op,
			OldLines: sf.oldSize,
			NewLines: lineCount(sf.content),
		})
		result.DiffStats = append(result.DiffStats, diff.Compute(sf.path, sf.orig, sf.content))
	}
	if plan.Format == patch.FormatNDJSON {
		result.SyntheticRecord = syntheticRecord(staged)
	}

	logging.Apply("Applied %d file operations (hash %.12s)", len(staged), result.PatchHash)
	return result, nil, nil
}

// checkProtected rejects any target matching the protection globs unless
// an approval token accompanies the request.
func (a *Applier) checkProtected(plan *patch.EditPlan, opts Options) *ValidationError {
	patterns := append([]string{}, a.Governance.ProtectedPaths...)
	if opts.RunType == types.RunTypeProjectBuild {
		patterns = append(patterns, a.Governance.BuildProtectedPaths...)
	}
	for _, op := range plan.Ops {
		for _, pat := range patterns {
			if MatchGlob(pat, op.Path) {
				if opts.ApprovalToken != "" {
					logging.Apply("Protected path %s permitted by approval token", op.Path)
					continue
				}
				logging.ApplyWarn("Protected path violation: %s (pattern %s)", op.Path, pat)
				return &ValidationError{Kind: ErrProtectedPath, Path: op.Path, Detail: pat}
			}
		}
	}
	return nil
}

// stage computes each touched file's final content by folding the plan's
// operations, in order, over current disk state.
func (a *Applier) stage(plan *patch.EditPlan) (map[string]*stagedFile, *ValidationError, error) {
	staged := make(map[string]*stagedFile)

	for _, op := range plan.Ops {
		sf, ok := staged[op.Path]
		if !ok {
			sf = &stagedFile{path: op.Path, op: op.Kind}
			if data, err := os.ReadFile(a.abs(op.Path)); err == nil {
				sf.content = string(data)
				sf.orig = sf.content
				sf.existed = true
				sf.oldSize = lineCount(sf.content)
			}
			staged[op.Path] = sf
		}
		sf.op = op.Kind

		switch op.Kind {
		case patch.OpCreate, patch.OpModifyByReplaceAll:
			// Diff-sourced creates carry hunks instead of full content.
			if op.Content == "" && len(op.Hunks) > 0 {
				next, err := patch.ApplyHunks(sf.content, op.Hunks)
				if err != nil {
					return nil, &ValidationError{Kind: ErrPatchHunkMismatch, Path: op.Path, Detail: err.Error()}, nil
				}
				sf.content = next
			} else {
				sf.content = op.Content
			}
			sf.deleted = false

		case patch.OpModifyByDiff:
			next, err := patch.ApplyHunks(sf.content, op.Hunks)
			if err != nil {
				return nil, &ValidationError{Kind: ErrPatchHunkMismatch, Path: op.Path, Detail: err.Error()}, nil
			}
			sf.content = next

		case patch.OpReplaceSpans:
			next, err := applySpans(sf.content, op)
			if err != nil {
				return nil, &ValidationError{Kind: ErrPatchHunkMismatch, Path: op.Path, Detail: err.Error()}, nil
			}
			sf.content = next

		case patch.OpDelete:
			sf.deleted = true
			sf.content = ""
		}
	}

	return staged, nil, nil
}

// applySpans applies replace_span/insert edits to content.
func applySpans(content string, op patch.FileOperation) (string, error) {
	for _, span := range op.Spans {
		if span.OldText == "" {
			// Insert after the given 1-based line (0 = top of file).
			lines := strings.SplitAfter(content, "\n")
			at := op.InsertAfterLine
			if at > len(lines) {
				at = len(lines)
			}
			var b strings.Builder
			for i := 0; i < at; i++ {
				b.WriteString(lines[i])
			}
			b.WriteString(span.NewText)
			if !strings.HasSuffix(span.NewText, "\n") {
				b.WriteByte('\n')
			}
			for i := at; i < len(lines); i++ {
				b.WriteString(lines[i])
			}
			content = b.String()
			continue
		}
		idx := strings.Index(content, span.OldText)
		if idx < 0 {
			return "", fmt.Errorf("old_text not found in %s", op.Path)
		}
		content = content[:idx] + span.NewText + content[idx+len(span.OldText):]
	}
	return content, nil
}

// checkSizeBounds enforces the suspicious shrinkage/growth thresholds
// and the new-file truncation heuristic.
func (a *Applier) checkSizeBounds(staged map[string]*stagedFile, opts Options) *ValidationError {
	shrink := a.Governance.ShrinkageThreshold
	if shrink == 0 {
		shrink = -0.60
	}
	growth := a.Governance.GrowthThreshold
	if growth == 0 {
		growth = 2.0
	}

	for _, sf := range staged {
		if sf.deleted {
			continue
		}
		if !sf.existed {
			if looksTruncated(sf.path, sf.content) {
				return &ValidationError{Kind: ErrTruncatedNewFile, Path: sf.path,
					Detail: "new file fails the truncation heuristic"}
			}
			continue
		}
		if sf.oldSize == 0 {
			continue
		}
		delta := float64(lineCount(sf.content)-sf.oldSize) / float64(sf.oldSize)
		if delta < shrink && !opts.AllowMassDeletion {
			return &ValidationError{Kind: ErrSuspiciousShrink, Path: sf.path,
				Detail: fmt.Sprintf("delta %.0f%% without allow_mass_deletion", delta*100)}
		}
		if delta > growth && !opts.AllowMassAddition {
			return &ValidationError{Kind: ErrSuspiciousGrowth, Path: sf.path,
				Detail: fmt.Sprintf("delta +%.0f%% without allow_mass_addition", delta*100)}
		}
	}
	return nil
}

// checkDeliverables verifies that the plan's touched paths, unioned with
// files already present on disk, cover the required deliverables.
func (a *Applier) checkDeliverables(plan *patch.EditPlan, deliverables []string) *ValidationError {
	if len(deliverables) == 0 {
		return nil
	}
	touched := make(map[string]bool)
	for _, p := range plan.Paths() {
		touched[p] = true
	}

	var missing []string
	for _, d := range deliverables {
		nd := NormalizePath(d)
		if deliverableMet(nd, touched) {
			continue
		}
		if a.exists(nd) {
			continue
		}
		missing = append(missing, nd)
	}
	if len(missing) > 0 {
		logging.ApplyWarn("Deliverables short: %v", missing)
		return &ValidationError{Kind: ErrDeliverablesShort, Missing: missing, Touched: plan.Paths()}
	}
	return nil
}

func deliverableMet(pattern string, touched map[string]bool) bool {
	if touched[pattern] {
		return true
	}
	if strings.ContainsAny(pattern, "*?[") {
		for p := range touched {
			if MatchGlob(pattern, p) {
				return true
			}
		}
	}
	return false
}

// writeCheckpoint backs up every touched file's current state into a
// manifest directory sufficient to roll the apply back.
func (a *Applier) writeCheckpoint(staged map[string]*stagedFile, dir string) (string, string, error) {
	if dir == "" {
		dir = filepath.Join(a.Root, ".autopack", "checkpoints")
	}
	id := uuid.New().String()[:8]
	cpDir := filepath.Join(dir, id)
	if err := os.MkdirAll(filepath.Join(cpDir, "files"), 0755); err != nil {
		return "", "", err
	}

	manifest := make(map[string]string, len(staged))
	for _, sf := range staged {
		if !sf.existed {
			manifest[sf.path] = "absent"
			continue
		}
		backup := filepath.Join(cpDir, "files", strings.ReplaceAll(sf.path, "/", "__"))
		data, err := os.ReadFile(a.abs(sf.path))
		if err != nil {
			return "", "", err
		}
		if err := os.WriteFile(backup, data, 0644); err != nil {
			return "", "", err
		}
		manifest[sf.path] = backup
	}

	if err := writeManifest(filepath.Join(cpDir, "manifest.json"), manifest); err != nil {
		return "", "", err
	}
	return id, cpDir, nil
}

// commit writes every staged file into place. Each file is written to a
// temp sibling and renamed so readers never observe partial content.
func (a *Applier) commit(staged map[string]*stagedFile) error {
	for _, sf := range staged {
		target := a.abs(sf.path)
		if sf.deleted {
			if err := os.Remove(target); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("failed to delete %s: %w", sf.path, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create parent dir for %s: %w", sf.path, err)
		}
		tmp := target + ".autopack-tmp"
		if err := os.WriteFile(tmp, []byte(sf.content), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", sf.path, err)
		}
		if err := os.Rename(tmp, target); err != nil {
			os.Remove(tmp)
			return fmt.Errorf("failed to commit %s: %w", sf.path, err)
		}
	}
	return nil
}

// syntheticRecord renders the diff-shaped audit record for NDJSON applies.
func syntheticRecord(staged map[string]*stagedFile) string {
	var b strings.Builder
	b.WriteString(patch.SyntheticNDJSONHeader)
	b.WriteByte('\n')
	for _, sf := range staged {
		fmt.Fprintf(&b, "%s %s (%d -> %d lines)\n", sf.op, sf.path, sf.oldSize, lineCount(sf.content))
	}
	return b.String()
}

func (a *Applier) abs(rel string) string {
	return filepath.Join(a.Root, filepath.FromSlash(rel))
}

func (a *Applier) exists(rel string) bool {
	_, err := os.Stat(a.abs(rel))
	return err == nil
}

func lineCount(content string) int {
	if content == "" {
		return 0
	}
	n := strings.Count(content, "\n")
	if !strings.HasSuffix(content, "\n") {
		n++
	}
	return n
}
