package apply

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"autopack/internal/config"
	"autopack/internal/patch"
	"autopack/internal/types"
)

func testApplier(t *testing.T) (*Applier, string) {
	t.Helper()
	root := t.TempDir()
	return NewApplier(root, config.DefaultGovernanceConfig()), root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestApply_CreateAndModify(t *testing.T) {
	a, root := testApplier(t)
	writeFile(t, root, "src/a.py", "old\n")

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpModifyByReplaceAll, Path: "src/a.py", Content: "new\n"},
		{Kind: patch.OpCreate, Path: "src/b.py", Content: "created\n"},
	}}

	result, verr, err := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if err != nil || verr != nil {
		t.Fatalf("apply failed: %v / %v", err, verr)
	}
	if readFile(t, root, "src/a.py") != "new\n" {
		t.Error("modify not applied")
	}
	if readFile(t, root, "src/b.py") != "created\n" {
		t.Error("create not applied")
	}
	if result.PatchHash == "" {
		t.Error("missing patch hash")
	}
}

func TestApply_OutsideScope(t *testing.T) {
	a, _ := testApplier(t)
	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "lib/x.py", Content: "x\n"},
	}}

	_, verr, err := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if verr == nil || verr.Kind != ErrOutsideScope {
		t.Fatalf("expected outside_scope, got %v", verr)
	}
	if verr.NearestScope != "src" {
		t.Errorf("missing nearest scope hint: %+v", verr)
	}
}

func TestApply_ProtectedPathInBuildRun(t *testing.T) {
	a, _ := testApplier(t)
	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "tests/test_x.py", Content: "x\n"},
	}}

	_, verr, err := a.Apply(plan, types.Scope{Paths: []string{"tests"}},
		Options{RunType: types.RunTypeProjectBuild})
	if err != nil {
		t.Fatal(err)
	}
	if verr == nil || verr.Kind != ErrProtectedPath {
		t.Fatalf("expected protected_path, got %v", verr)
	}

	// An approval token unlocks the same apply.
	_, verr, err = a.Apply(plan, types.Scope{Paths: []string{"tests"}},
		Options{RunType: types.RunTypeProjectBuild, ApprovalToken: "tok"})
	if err != nil || verr != nil {
		t.Fatalf("approval token did not unlock protected path: %v / %v", err, verr)
	}
}

func TestApply_CreateExistingBecomesModify(t *testing.T) {
	a, root := testApplier(t)
	writeFile(t, root, "src/a.py", "old\n")

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "src/a.py", Content: "replaced\n"},
	}}
	result, verr, err := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if err != nil || verr != nil {
		t.Fatalf("apply failed: %v / %v", err, verr)
	}
	// The operation must have been converted, never failed.
	if result.Changes[0].Op != patch.OpModifyByReplaceAll {
		t.Errorf("expected MODIFY_BY_REPLACE_ALL, got %s", result.Changes[0].Op)
	}
}

func TestApply_SuspiciousShrinkage(t *testing.T) {
	a, root := testApplier(t)
	writeFile(t, root, "src/a.py", strings.Repeat("line\n", 100))

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpModifyByReplaceAll, Path: "src/a.py", Content: "line\n"},
	}}
	_, verr, _ := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if verr == nil || verr.Kind != ErrSuspiciousShrink {
		t.Fatalf("expected suspicious_shrinkage, got %v", verr)
	}

	// Explicit opt-in admits the same change.
	_, verr, _ = a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{AllowMassDeletion: true})
	if verr != nil {
		t.Fatalf("allow_mass_deletion did not admit shrink: %v", verr)
	}
}

func TestApply_SuspiciousGrowth(t *testing.T) {
	a, root := testApplier(t)
	writeFile(t, root, "src/a.py", "line\n")

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpModifyByReplaceAll, Path: "src/a.py", Content: strings.Repeat("line\n", 50)},
	}}
	_, verr, _ := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if verr == nil || verr.Kind != ErrSuspiciousGrowth {
		t.Fatalf("expected suspicious_growth, got %v", verr)
	}
}

func TestApply_DeliverablesShortWithHintData(t *testing.T) {
	a, _ := testApplier(t)
	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "src/github_gatherer.py", Content: "x = 1\n"},
	}}

	_, verr, _ := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{
		Deliverables: []string{"src/research/gatherers/github_gatherer.py"},
	})
	if verr == nil || verr.Kind != ErrDeliverablesShort {
		t.Fatalf("expected deliverables_short, got %v", verr)
	}
	if len(verr.Missing) != 1 || verr.Missing[0] != "src/research/gatherers/github_gatherer.py" {
		t.Errorf("missing list wrong: %v", verr.Missing)
	}
	if len(verr.Touched) == 0 {
		t.Error("touched paths not carried for hint synthesis")
	}
}

func TestApply_DeliverablesCumulative(t *testing.T) {
	a, root := testApplier(t)
	// Deliverable already on disk from an earlier attempt in the epoch.
	writeFile(t, root, "src/research/gatherers/github_gatherer.py", "x = 1\n")

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "src/other.py", Content: "y = 2\n"},
	}}
	_, verr, err := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{
		Deliverables: []string{"src/research/gatherers/github_gatherer.py"},
	})
	if err != nil || verr != nil {
		t.Fatalf("cumulative deliverable not honored: %v / %v", err, verr)
	}
}

func TestApply_TruncatedNewFileRejected(t *testing.T) {
	a, _ := testApplier(t)
	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpCreate, Path: "src/broken.py", Content: "def f():\n    s = \"unterminated\n    return {\n      {\n    {\n"},
	}}
	_, verr, _ := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if verr == nil || verr.Kind != ErrTruncatedNewFile {
		t.Fatalf("expected truncated_new_file, got %v", verr)
	}
}

func TestApply_RollbackRestores(t *testing.T) {
	a, root := testApplier(t)
	writeFile(t, root, "src/a.py", "original\n")

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpModifyByReplaceAll, Path: "src/a.py", Content: "changed\n"},
		{Kind: patch.OpCreate, Path: "src/new.py", Content: "fresh\n"},
	}}
	result, verr, err := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if err != nil || verr != nil {
		t.Fatalf("apply failed: %v / %v", err, verr)
	}

	if err := Rollback(root, result.CheckpointPath); err != nil {
		t.Fatalf("rollback failed: %v", err)
	}
	if readFile(t, root, "src/a.py") != "original\n" {
		t.Error("modified file not restored")
	}
	if _, err := os.Stat(filepath.Join(root, "src/new.py")); !os.IsNotExist(err) {
		t.Error("created file not removed on rollback")
	}
}

func TestApply_HunkMismatch(t *testing.T) {
	a, root := testApplier(t)
	writeFile(t, root, "src/a.py", "completely different\n")

	plan := &patch.EditPlan{Ops: []patch.FileOperation{
		{Kind: patch.OpModifyByDiff, Path: "src/a.py", Hunks: []patch.Hunk{
			{OldStart: 1, OldCount: 1, NewStart: 1, NewCount: 1, Lines: []string{"-expected line", "+new line"}},
		}},
	}}
	_, verr, _ := a.Apply(plan, types.Scope{Paths: []string{"src"}}, Options{})
	if verr == nil || verr.Kind != ErrPatchHunkMismatch {
		t.Fatalf("expected patch_hunk_mismatch, got %v", verr)
	}
}
