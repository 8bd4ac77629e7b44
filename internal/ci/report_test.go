package ci

import "testing"

func TestReport_CollectorFailureBlocks(t *testing.T) {
	// The boundary case: exit 2, zero tests collected, one failed
	// collector. This must block phase completion even under a human
	// override.
	data := []byte(`{
		"exitcode": 2,
		"summary": {"total": 0},
		"tests": [],
		"collectors": [{"nodeid": "tests/test_a.py", "outcome": "failed", "longrepr": "ImportError: no module named x"}]
	}`)
	r, err := ParseReport(data)
	if err != nil {
		t.Fatal(err)
	}
	if !r.HasCollectionFailure() {
		t.Error("failed collector not detected")
	}
	if r.Passed() {
		t.Error("report with failed collector must not pass")
	}
}

func TestReport_PassedCollectorsDoNotBlock(t *testing.T) {
	data := []byte(`{
		"exitcode": 0,
		"summary": {"total": 2},
		"tests": [{"nodeid": "t1", "outcome": "passed"}, {"nodeid": "t2", "outcome": "passed"}],
		"collectors": [{"nodeid": "tests/test_a.py", "outcome": "passed"}]
	}`)
	r, err := ParseReport(data)
	if err != nil {
		t.Fatal(err)
	}
	if r.HasCollectionFailure() || !r.Passed() {
		t.Errorf("green report misclassified: %+v", r)
	}
}

func TestBaseline_RegressionsAreNewFailuresOnly(t *testing.T) {
	before := &Report{
		ExitCode: 1,
		Tests: []TestResult{
			{NodeID: "t_old_failure", Outcome: "failed"},
			{NodeID: "t_ok", Outcome: "passed"},
		},
	}
	after := &Report{
		ExitCode: 1,
		Tests: []TestResult{
			{NodeID: "t_old_failure", Outcome: "failed"},
			{NodeID: "t_ok", Outcome: "failed"},
		},
	}

	baseline := NewBaseline(before)
	regressions := baseline.Regressions(after)
	if len(regressions) != 1 || regressions[0] != "t_ok" {
		t.Errorf("regressions = %v, want [t_ok]", regressions)
	}
}

func TestBaseline_NilTreatsAllFailuresAsRegressions(t *testing.T) {
	var baseline *Baseline
	r := &Report{Tests: []TestResult{{NodeID: "t1", Outcome: "failed"}}}
	if got := baseline.Regressions(r); len(got) != 1 {
		t.Errorf("nil baseline regressions = %v", got)
	}
}
