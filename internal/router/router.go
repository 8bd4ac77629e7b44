// Package router resolves a concrete model per attempt from a persisted
// RoutingSnapshot. The snapshot is created once at run start and is
// read-only for the run's lifetime, so the same (tier, escalation_level)
// always resolves to the same model across process restarts.
package router

import (
	"fmt"
	"os"
	"sort"

	"autopack/internal/config"
	"autopack/internal/logging"
	"autopack/internal/state"
	"autopack/internal/types"
)

// Lane names, low to high.
const (
	LaneLow    = "low"
	LaneMedium = "medium"
	LaneHigh   = "high"
)

var laneOrder = []string{LaneLow, LaneMedium, LaneHigh}

// SnapshotEntry is the chosen model for one lane.
type SnapshotEntry struct {
	ModelID          string  `json:"model_id"`
	SafetyCompatible bool    `json:"safety_compatible"`
	InputCostPerM    float64 `json:"input_cost_per_m"`
	OutputCostPerM   float64 `json:"output_cost_per_m"`
	ContextWindow    int     `json:"context_window"`
	MaxOutput        int     `json:"max_output"`
}

// RoutingSnapshot maps each lane to a concrete model.
type RoutingSnapshot struct {
	Lanes map[string]SnapshotEntry `json:"lanes"`
}

// BuildSnapshot selects one model per lane from the catalog under the
// run's safety profile: filter by safety compatibility, stable-sort by
// (total cost asc, context window desc, max output desc, model id asc),
// pick the first. Falls back to the default catalog when the configured
// one is empty.
func BuildSnapshot(catalog []config.ModelEntry, profile types.SafetyProfile) (*RoutingSnapshot, error) {
	if len(catalog) == 0 {
		catalog = config.DefaultRoutingConfig().Catalog
		logging.Router("Catalog source unavailable, using default snapshot")
	}

	snap := &RoutingSnapshot{Lanes: make(map[string]SnapshotEntry, len(laneOrder))}
	for _, lane := range laneOrder {
		var candidates []config.ModelEntry
		for _, m := range catalog {
			if m.Lane != lane {
				continue
			}
			if profile == types.SafetyStrict && !m.SafetyCompatible {
				continue
			}
			candidates = append(candidates, m)
		}
		if len(candidates) == 0 {
			return nil, fmt.Errorf("no safety-compatible model for lane %q under profile %q", lane, profile)
		}

		sort.SliceStable(candidates, func(i, j int) bool {
			a, b := candidates[i], candidates[j]
			ac, bc := a.InputCostPerM+a.OutputCostPerM, b.InputCostPerM+b.OutputCostPerM
			if ac != bc {
				return ac < bc
			}
			if a.ContextWindow != b.ContextWindow {
				return a.ContextWindow > b.ContextWindow
			}
			if a.MaxOutput != b.MaxOutput {
				return a.MaxOutput > b.MaxOutput
			}
			return a.ModelID < b.ModelID
		})

		chosen := candidates[0]
		snap.Lanes[lane] = SnapshotEntry{
			ModelID:          chosen.ModelID,
			SafetyCompatible: chosen.SafetyCompatible,
			InputCostPerM:    chosen.InputCostPerM,
			OutputCostPerM:   chosen.OutputCostPerM,
			ContextWindow:    chosen.ContextWindow,
			MaxOutput:        chosen.MaxOutput,
		}
		logging.Router("Lane %s -> %s", lane, chosen.ModelID)
	}
	return snap, nil
}

// SaveSnapshot persists the snapshot to the run-local artifact path.
func SaveSnapshot(snap *RoutingSnapshot, path string) error {
	return state.SaveJSON(path, snap)
}

// LoadSnapshot reads a previously persisted snapshot.
func LoadSnapshot(path string) (*RoutingSnapshot, error) {
	var snap RoutingSnapshot
	if err := state.LoadJSON(path, &snap); err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to load routing snapshot: %w", err)
	}
	return &snap, nil
}

// Router resolves models for attempts. It holds only model id strings;
// concrete clients are resolved by name through the llm registry.
type Router struct {
	snapshot *RoutingSnapshot

	// overrides maps "{task_category}:{complexity}" to a pinned model id.
	overrides map[string]string
}

// New creates a router over an immutable snapshot with optional per-run
// overrides.
func New(snap *RoutingSnapshot, overrides map[string]string) *Router {
	return &Router{snapshot: snap, overrides: overrides}
}

// Resolve returns the model for the attempt. Complexity maps to a lane;
// escalation_level=1 bumps to the next lane, capped at high. Overrides
// are consulted before the snapshot.
func (r *Router) Resolve(category types.TaskCategory, complexity types.Complexity, escalationLevel int) (string, SnapshotEntry, error) {
	if r.overrides != nil {
		key := fmt.Sprintf("%s:%s", category, complexity)
		if id, ok := r.overrides[key]; ok {
			logging.Router("Override %s -> %s", key, id)
			entry := r.entryForModel(id)
			return id, entry, nil
		}
	}

	lane := laneForComplexity(complexity)
	if escalationLevel > 0 {
		lane = bumpLane(lane)
	}
	entry, ok := r.snapshot.Lanes[lane]
	if !ok {
		return "", SnapshotEntry{}, fmt.Errorf("snapshot has no lane %q", lane)
	}
	return entry.ModelID, entry, nil
}

// entryForModel finds the snapshot entry for a pinned model id, falling
// back to a permissive entry when the override is outside the snapshot.
func (r *Router) entryForModel(id string) SnapshotEntry {
	for _, e := range r.snapshot.Lanes {
		if e.ModelID == id {
			return e
		}
	}
	return SnapshotEntry{ModelID: id, SafetyCompatible: true, ContextWindow: 128000, MaxOutput: 8192}
}

func laneForComplexity(c types.Complexity) string {
	switch c {
	case types.ComplexityLow:
		return LaneLow
	case types.ComplexityHigh:
		return LaneHigh
	default:
		return LaneMedium
	}
}

func bumpLane(lane string) string {
	for i, l := range laneOrder {
		if l == lane && i < len(laneOrder)-1 {
			return laneOrder[i+1]
		}
	}
	return LaneHigh
}
