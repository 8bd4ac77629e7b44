package router

import (
	"path/filepath"
	"testing"

	"autopack/internal/config"
	"autopack/internal/types"
)

func testCatalog() []config.ModelEntry {
	return []config.ModelEntry{
		{ModelID: "cheap-low", Lane: "low", SafetyCompatible: true, InputCostPerM: 0.1, OutputCostPerM: 0.2, ContextWindow: 100000, MaxOutput: 4096},
		{ModelID: "pricey-low", Lane: "low", SafetyCompatible: true, InputCostPerM: 0.5, OutputCostPerM: 1.0, ContextWindow: 200000, MaxOutput: 8192},
		{ModelID: "mid", Lane: "medium", SafetyCompatible: true, InputCostPerM: 1.0, OutputCostPerM: 2.0, ContextWindow: 200000, MaxOutput: 8192},
		{ModelID: "unsafe-high", Lane: "high", SafetyCompatible: false, InputCostPerM: 2.0, OutputCostPerM: 4.0, ContextWindow: 400000, MaxOutput: 16384},
		{ModelID: "safe-high", Lane: "high", SafetyCompatible: true, InputCostPerM: 5.0, OutputCostPerM: 10.0, ContextWindow: 400000, MaxOutput: 16384},
	}
}

func TestBuildSnapshot_CostOrdering(t *testing.T) {
	snap, err := BuildSnapshot(testCatalog(), types.SafetyNormal)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Lanes["low"].ModelID != "cheap-low" {
		t.Errorf("low lane should pick cheapest, got %s", snap.Lanes["low"].ModelID)
	}
}

func TestBuildSnapshot_StrictFiltersUnsafe(t *testing.T) {
	snap, err := BuildSnapshot(testCatalog(), types.SafetyStrict)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Lanes["high"].ModelID != "safe-high" {
		t.Errorf("strict profile picked unsafe model: %s", snap.Lanes["high"].ModelID)
	}
}

func TestBuildSnapshot_TieBreakByContextWindow(t *testing.T) {
	catalog := []config.ModelEntry{
		{ModelID: "b-small", Lane: "low", SafetyCompatible: true, InputCostPerM: 1, OutputCostPerM: 1, ContextWindow: 100, MaxOutput: 10},
		{ModelID: "a-big", Lane: "low", SafetyCompatible: true, InputCostPerM: 1, OutputCostPerM: 1, ContextWindow: 200, MaxOutput: 10},
		{ModelID: "mid", Lane: "medium", SafetyCompatible: true},
		{ModelID: "high", Lane: "high", SafetyCompatible: true},
	}
	snap, err := BuildSnapshot(catalog, types.SafetyNormal)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Lanes["low"].ModelID != "a-big" {
		t.Errorf("tie not broken by context window: %s", snap.Lanes["low"].ModelID)
	}
}

func TestBuildSnapshot_EmptyCatalogFallsBack(t *testing.T) {
	snap, err := BuildSnapshot(nil, types.SafetyNormal)
	if err != nil {
		t.Fatal(err)
	}
	for _, lane := range []string{"low", "medium", "high"} {
		if snap.Lanes[lane].ModelID == "" {
			t.Errorf("fallback snapshot missing lane %s", lane)
		}
	}
}

func TestResolve_EscalationBumpsLane(t *testing.T) {
	snap, err := BuildSnapshot(testCatalog(), types.SafetyNormal)
	if err != nil {
		t.Fatal(err)
	}
	r := New(snap, nil)

	base, _, err := r.Resolve(types.CategoryFeature, types.ComplexityMedium, 0)
	if err != nil {
		t.Fatal(err)
	}
	bumped, _, err := r.Resolve(types.CategoryFeature, types.ComplexityMedium, 1)
	if err != nil {
		t.Fatal(err)
	}
	if base != "mid" || bumped == base {
		t.Errorf("escalation did not bump lane: base=%s bumped=%s", base, bumped)
	}

	// High complexity is already at the top lane; escalation caps there.
	top, _, _ := r.Resolve(types.CategoryFeature, types.ComplexityHigh, 1)
	if top != snap.Lanes["high"].ModelID {
		t.Errorf("escalated high lane should stay at high: %s", top)
	}
}

func TestResolve_OverridesWin(t *testing.T) {
	snap, _ := BuildSnapshot(testCatalog(), types.SafetyNormal)
	r := New(snap, map[string]string{"tests:low": "pinned-auditor"})

	got, _, err := r.Resolve(types.CategoryTests, types.ComplexityLow, 0)
	if err != nil {
		t.Fatal(err)
	}
	if got != "pinned-auditor" {
		t.Errorf("override ignored: %s", got)
	}
}

func TestSnapshot_DeterministicAcrossRestart(t *testing.T) {
	snap, err := BuildSnapshot(testCatalog(), types.SafetyNormal)
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "model_routing_snapshot.json")
	if err := SaveSnapshot(snap, path); err != nil {
		t.Fatal(err)
	}
	loaded, err := LoadSnapshot(path)
	if err != nil {
		t.Fatal(err)
	}

	r1 := New(snap, nil)
	r2 := New(loaded, nil)
	for _, c := range []types.Complexity{types.ComplexityLow, types.ComplexityMedium, types.ComplexityHigh} {
		for esc := 0; esc <= 1; esc++ {
			a, _, _ := r1.Resolve(types.CategoryFeature, c, esc)
			b, _, _ := r2.Resolve(types.CategoryFeature, c, esc)
			if a != b {
				t.Errorf("(%s, esc=%d) resolves differently after restart: %s vs %s", c, esc, a, b)
			}
		}
	}
}
