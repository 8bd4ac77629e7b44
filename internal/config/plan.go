package config

import (
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"autopack/internal/types"
)

// planFile is the YAML shape of a planner-produced run plan.
type planFile struct {
	RunID         string              `yaml:"run_id"`
	Project       string              `yaml:"project"`
	Family        string              `yaml:"family"`
	RunType       types.RunType       `yaml:"run_type"`
	RunScope      types.RunScope      `yaml:"run_scope"`
	SafetyProfile types.SafetyProfile `yaml:"safety_profile"`
	MaxTokens     int64               `yaml:"max_tokens"`
	MaxWallclock  string              `yaml:"max_wallclock"`
	Tiers         []types.Tier        `yaml:"tiers"`
	Phases        []types.Phase       `yaml:"phases"`
}

// LoadPlan reads a planner-produced run plan and returns a validated Run.
// Missing identity fields get defaults; a missing run_id gets a fresh UUID.
func LoadPlan(path string) (*types.Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	var pf planFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}

	run := &types.Run{
		RunID:         pf.RunID,
		Project:       pf.Project,
		Family:        pf.Family,
		RunType:       pf.RunType,
		RunScope:      pf.RunScope,
		SafetyProfile: pf.SafetyProfile,
		Tiers:         pf.Tiers,
		Phases:        pf.Phases,
		CreatedAt:     time.Now(),
	}
	run.Budget.MaxTokens = pf.MaxTokens
	if pf.MaxWallclock != "" {
		d, err := time.ParseDuration(pf.MaxWallclock)
		if err != nil {
			return nil, fmt.Errorf("invalid max_wallclock %q: %w", pf.MaxWallclock, err)
		}
		run.Budget.MaxWallclock = d
	}

	if run.RunID == "" {
		run.RunID = uuid.New().String()
	}
	if run.Project == "" {
		run.Project = "default"
	}
	if run.Family == "" {
		run.Family = "adhoc"
	}
	if run.RunType == "" {
		run.RunType = types.RunTypeProjectBuild
	}
	if run.RunScope == "" {
		run.RunScope = types.RunScopeMultiTier
	}
	if run.SafetyProfile == "" {
		run.SafetyProfile = types.SafetyNormal
	}
	for i := range run.Phases {
		if run.Phases[i].State == "" {
			run.Phases[i].State = types.PhaseQueued
		}
		if run.Phases[i].Complexity == "" {
			run.Phases[i].Complexity = types.ComplexityMedium
		}
		if run.Phases[i].Category == "" {
			run.Phases[i].Category = types.CategoryFeature
		}
	}

	if err := run.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}

	return run, nil
}
