package executor

import (
	"context"
	"sync"
	"testing"
	"time"

	"autopack/internal/apply"
	"autopack/internal/approval"
	"autopack/internal/artifacts"
	"autopack/internal/ci"
	"autopack/internal/config"
	"autopack/internal/events"
	"autopack/internal/llm"
	"autopack/internal/router"
	"autopack/internal/types"
)

// MockLLMClient replays a scripted sequence of results. When the script
// is exhausted the last entry repeats. Every request is captured for
// assertions on prompts and models.
type MockLLMClient struct {
	mu       sync.Mutex
	Script   []llm.Result
	Errs     []error
	Requests []llm.Request
}

func (m *MockLLMClient) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	idx := len(m.Requests)
	m.Requests = append(m.Requests, req)

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return nil, m.Errs[idx]
	}
	if len(m.Script) == 0 {
		return &llm.Result{Text: "", StopReason: llm.StopEnd}, nil
	}
	if idx >= len(m.Script) {
		idx = len(m.Script) - 1
	}
	r := m.Script[idx]
	return &r, nil
}

// memorySink captures emitted phase events.
type memorySink struct {
	mu     sync.Mutex
	events []events.PhaseEvent
}

func (s *memorySink) Emit(ev events.PhaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

func (s *memorySink) all() []events.PhaseEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.PhaseEvent{}, s.events...)
}

// testHarness bundles a ready executor over a temp workspace.
type testHarness struct {
	exec   *Executor
	client *MockLLMClient
	sink   *memorySink
	ws     string
	layout *artifacts.Layout
}

func newTestHarness(t *testing.T, phases []types.Phase, client *MockLLMClient) *testHarness {
	t.Helper()
	ws := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.CI.DefaultTestCmd = "" // CI is exercised separately
	cfg.Approval.PollInterval = "10ms"
	cfg.Approval.Timeout = "200ms"

	run := &types.Run{
		RunID:         "run-test",
		Project:       "proj",
		Family:        "fam",
		RunType:       types.RunTypeProjectBuild,
		RunScope:      types.RunScopeMultiTier,
		SafetyProfile: types.SafetyNormal,
		Phases:        phases,
		CreatedAt:     time.Now(),
	}

	layout, err := artifacts.NewLayout(ws, run.Project, run.Family, run.RunID)
	if err != nil {
		t.Fatal(err)
	}

	snap, err := router.BuildSnapshot(cfg.Routing.Catalog, run.SafetyProfile)
	if err != nil {
		t.Fatal(err)
	}

	registry := llm.NewRegistry()
	registry.Register("gemini", client)

	sink := &memorySink{}
	gov := cfg.Governance
	gov.BuildProtectedPaths = nil // tests write under src/

	exec := New(RunContext{
		Config:   cfg,
		Run:      run,
		Layout:   layout,
		Router:   router.New(snap, nil),
		Registry: registry,
		Applier:  apply.NewApplier(ws, gov),
		CIRunner: ci.NewRunner(ws, time.Minute),
		Approvals: approval.NewChannel(layout.ApprovalsDir(),
			cfg.Approval.GetPollInterval(), cfg.Approval.GetTimeout()),
		Sink:      sink,
		Workspace: ws,
	})

	return &testHarness{exec: exec, client: client, sink: sink, ws: ws, layout: layout}
}

func queuedPhase(id string, scope []string, deliverables []string) types.Phase {
	return types.Phase{
		PhaseID:      id,
		PhaseIndex:   0,
		TierID:       "t1",
		Goal:         "test goal for " + id,
		Category:     types.CategoryFeature,
		Complexity:   types.ComplexityMedium,
		State:        types.PhaseQueued,
		Scope:        types.Scope{Paths: scope},
		Deliverables: deliverables,
	}
}
