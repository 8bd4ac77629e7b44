package patch

import (
	"strings"
	"testing"
)

const sampleDiff = `diff --git a/src/a.py b/src/a.py
--- a/src/a.py
+++ b/src/a.py
@@ -1,3 +1,3 @@
 def f():
-    return 1
+    return 2
 # end
`

func TestParseUnifiedDiff_SingleFile(t *testing.T) {
	plan, err := ParseUnifiedDiff(sampleDiff)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Ops) != 1 {
		t.Fatalf("expected 1 op, got %d", len(plan.Ops))
	}
	op := plan.Ops[0]
	if op.Kind != OpModifyByDiff || op.Path != "src/a.py" {
		t.Errorf("unexpected op: %+v", op)
	}
	if len(op.Hunks) != 1 || op.Hunks[0].OldCount != 3 {
		t.Errorf("unexpected hunks: %+v", op.Hunks)
	}
}

func TestParseUnifiedDiff_MissingTrailingNewline(t *testing.T) {
	if _, err := ParseUnifiedDiff(strings.TrimSuffix(sampleDiff, "\n")); err != nil {
		t.Fatalf("trailing-newline omission not tolerated: %v", err)
	}
}

func TestParseUnifiedDiff_MultiFileJoinedWithBlankLine(t *testing.T) {
	second := `diff --git a/src/b.py b/src/b.py
new file mode 100644
--- /dev/null
+++ b/src/b.py
@@ -0,0 +1,1 @@
+x = 1
`
	plan, err := ParseUnifiedDiff(sampleDiff + "\n" + second)
	if err != nil {
		t.Fatal(err)
	}
	if len(plan.Ops) != 2 {
		t.Fatalf("expected 2 ops, got %d", len(plan.Ops))
	}
	if plan.Ops[1].Kind != OpCreate {
		t.Errorf("new file not detected as CREATE: %+v", plan.Ops[1])
	}
}

func TestParseUnifiedDiff_Delete(t *testing.T) {
	del := `diff --git a/src/old.py b/src/old.py
deleted file mode 100644
--- a/src/old.py
+++ /dev/null
@@ -1,1 +0,0 @@
-gone = True
`
	plan, err := ParseUnifiedDiff(del)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Ops[0].Kind != OpDelete || plan.Ops[0].Path != "src/old.py" {
		t.Errorf("delete not detected: %+v", plan.Ops[0])
	}
}

func TestApplyHunks(t *testing.T) {
	content := "def f():\n    return 1\n# end\n"
	plan, err := ParseUnifiedDiff(sampleDiff)
	if err != nil {
		t.Fatal(err)
	}
	got, err := ApplyHunks(content, plan.Ops[0].Hunks)
	if err != nil {
		t.Fatal(err)
	}
	want := "def f():\n    return 2\n# end\n"
	if got != want {
		t.Errorf("ApplyHunks = %q, want %q", got, want)
	}
}

func TestApplyHunks_ContextMismatch(t *testing.T) {
	plan, err := ParseUnifiedDiff(sampleDiff)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := ApplyHunks("something else entirely\n", plan.Ops[0].Hunks); err == nil {
		t.Error("context mismatch not detected")
	}
}

func TestSyntheticHeaderDetection(t *testing.T) {
	record := SyntheticNDJSONHeader + "\nCREATE src/a.py (0 -> 10 lines)\n"
	if !IsSyntheticHeader(record) {
		t.Error("synthetic record not detected")
	}
	if _, err := Parse(record, ParseOptions{}); err == nil {
		t.Error("synthetic record accepted as a patch")
	}
}

func TestUnifiedRoundTrip(t *testing.T) {
	plan, err := ParseUnifiedDiff(sampleDiff)
	if err != nil {
		t.Fatal(err)
	}
	reparsed, err := ParseUnifiedDiff(SerializeUnified(plan))
	if err != nil {
		t.Fatalf("serialized diff does not reparse: %v", err)
	}
	if plan.Hash() != reparsed.Hash() {
		t.Error("unified round trip changed the plan hash")
	}
}
