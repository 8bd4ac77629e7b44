package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autopack/internal/types"
)

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Limits.MaxRetryAttempts)
	assert.NotEmpty(t, cfg.Routing.Catalog)
}

func TestLoad_OverlayAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
limits:
  max_retry_attempts: 7
governance:
  growth_threshold: 3.5
`), 0644))

	t.Setenv("AUTOPACK_LLM_PROVIDER", "mock")
	t.Setenv("LIVE_TRADING_ENABLED", "1")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Limits.MaxRetryAttempts)
	assert.Equal(t, 3.5, cfg.Governance.GrowthThreshold)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.True(t, cfg.Governance.LiveTradingEnabled)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Routing.Catalog = nil
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Limits.MaxRetryAttempts = 0
	assert.Error(t, cfg.Validate())
}

func TestLoadPlan(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
project: shop
family: nightly
run_type: project_build
phases:
  - phase_id: p1
    tier_id: t1
    goal: add the gatherer
    task_category: feature
    complexity: medium
    scope:
      paths: [src/research]
      test_cmd: pytest -q
    deliverables: [src/research/gatherers/github_gatherer.py]
`), 0644))

	run, err := LoadPlan(path)
	require.NoError(t, err)
	assert.NotEmpty(t, run.RunID)
	assert.Equal(t, types.RunTypeProjectBuild, run.RunType)
	assert.Equal(t, types.SafetyNormal, run.SafetyProfile)
	require.Len(t, run.Phases, 1)
	assert.Equal(t, types.PhaseQueued, run.Phases[0].State)
	assert.Equal(t, "pytest -q", run.Phases[0].Scope.TestCmd)
}

func TestLoadPlan_RejectsImpossibleDeliverable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "plan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
phases:
  - phase_id: p1
    goal: g
    scope:
      paths: [docs]
    deliverables: [src/a.py]
`), 0644))

	_, err := LoadPlan(path)
	assert.Error(t, err)
}
