package state

import (
	"os"
	"path/filepath"
	"testing"

	"autopack/internal/types"
)

func TestWriteAtomic_KeepsBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")

	if err := WriteAtomic(path, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}

	bak, err := os.ReadFile(path + ".bak")
	if err != nil {
		t.Fatalf("backup missing: %v", err)
	}
	if string(bak) != `{"v":1}` {
		t.Errorf("backup holds %s, want previous version", bak)
	}
}

func TestLoadJSON_RecoversFromBackup(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := WriteAtomic(path, []byte(`{"v":1}`)); err != nil {
		t.Fatal(err)
	}
	if err := WriteAtomic(path, []byte(`{"v":2}`)); err != nil {
		t.Fatal(err)
	}

	// Corrupt the primary.
	if err := os.WriteFile(path, []byte(`{"v":`), 0644); err != nil {
		t.Fatal(err)
	}

	var v map[string]int
	if err := LoadJSON(path, &v); err != nil {
		t.Fatalf("recovery failed: %v", err)
	}
	if v["v"] != 1 {
		t.Errorf("recovered %v, want backup content", v)
	}
}

func TestLoadJSON_BothCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte("not json"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path+".bak", []byte("also not json"), 0644); err != nil {
		t.Fatal(err)
	}

	var v map[string]int
	if err := LoadJSON(path, &v); err == nil {
		t.Fatal("expected error when primary and backup are corrupt")
	}
}

func TestStore_MarksNeedsHumanOnUnrecoverableState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor_state.json")
	if err := os.WriteFile(path, []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}

	es, err := NewStore(path).Load()
	if err == nil {
		t.Fatal("expected load error")
	}
	if es == nil || !es.NeedsHuman {
		t.Errorf("unrecoverable state not flagged needs_human: %+v", es)
	}
}

func TestStore_MigratesLegacyCounters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor_state.json")
	legacy := `{"run":{"run_id":"r1","phases":[{"phase_id":"p1","state":"QUEUED","attempts_used":3}]}}`
	if err := WriteAtomic(path, []byte(legacy)); err != nil {
		t.Fatal(err)
	}

	es, err := NewStore(path).Load()
	if err != nil {
		t.Fatal(err)
	}
	p := es.Run.PhaseByID("p1")
	if p == nil {
		t.Fatal("phase missing")
	}
	if p.RetryAttempt != 3 || p.RevisionEpoch != 0 || p.EscalationLevel != 0 {
		t.Errorf("legacy migration wrong: retry=%d epoch=%d esc=%d",
			p.RetryAttempt, p.RevisionEpoch, p.EscalationLevel)
	}
	if p.AttemptsUsed != 0 {
		t.Error("legacy counter not cleared after migration")
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "executor_state.json")
	store := NewStore(path)

	es := &ExecutorState{
		Run: &types.Run{
			RunID: "r1",
			Phases: []types.Phase{
				{PhaseID: "p1", State: types.PhaseComplete, RetryAttempt: 2, RevisionEpoch: 1},
			},
		},
		InFlightKeys: map[string]bool{"abc": true},
	}
	if err := store.Save(es); err != nil {
		t.Fatal(err)
	}

	loaded, err := store.Load()
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Run.RunID != "r1" || !loaded.InFlightKeys["abc"] {
		t.Errorf("round trip lost data: %+v", loaded)
	}
	p := loaded.Run.PhaseByID("p1")
	if p.State != types.PhaseComplete || p.RetryAttempt != 2 || p.RevisionEpoch != 1 {
		t.Errorf("phase state lost: %+v", p)
	}
}
