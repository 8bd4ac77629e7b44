package diff

import (
	"strings"
	"testing"
)

func TestCompute_AddsAndRemoves(t *testing.T) {
	before := "a\nb\nc\n"
	after := "a\nB\nc\nd\n"
	s := Compute("f.py", before, after)
	if s.Added == 0 || s.Removed == 0 {
		t.Errorf("expected both additions and removals: %+v", s)
	}
}

func TestCompute_Identical(t *testing.T) {
	s := Compute("f.py", "same\n", "same\n")
	if s.Added != 0 || s.Removed != 0 {
		t.Errorf("identical content reported changes: %+v", s)
	}
}

func TestSummarize(t *testing.T) {
	out := Summarize([]Stats{{Path: "a.py", Added: 3, Removed: 1}, {Path: "b.py", Added: 0, Removed: 2}})
	if !strings.Contains(out, "a.py +3/-1") || !strings.Contains(out, "b.py +0/-2") {
		t.Errorf("Summarize = %q", out)
	}
}
