package state

import (
	"fmt"
	"os"
	"time"

	"autopack/internal/logging"
	"autopack/internal/types"
)

// ExecutorState is the persisted executor checkpoint: the run with all
// phase states and counters, in-flight idempotency keys, and a reference
// to the routing snapshot.
type ExecutorState struct {
	Run                 *types.Run      `json:"run"`
	InFlightKeys        map[string]bool `json:"in_flight_keys,omitempty"`
	RoutingSnapshotPath string          `json:"routing_snapshot_path,omitempty"`
	NeedsHuman          bool            `json:"needs_human,omitempty"`
	NeedsHumanReason    string          `json:"needs_human_reason,omitempty"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// Store persists ExecutorState at a fixed path under the run directory.
type Store struct {
	path string
}

// NewStore creates a state store writing to path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the primary state file path.
func (s *Store) Path() string { return s.path }

// Save atomically persists the state.
func (s *Store) Save(es *ExecutorState) error {
	es.UpdatedAt = time.Now()
	if err := SaveJSON(s.path, es); err != nil {
		return fmt.Errorf("failed to save executor state: %w", err)
	}
	logging.State("Executor state saved: %s", s.path)
	return nil
}

// Load reads the state, recovering from .bak when the primary is corrupt.
// Legacy phase records lacking the counter trio are migrated in place.
// When both primary and backup are unreadable, a state with NeedsHuman
// set is returned along with the error so the caller can halt the run.
func (s *Store) Load() (*ExecutorState, error) {
	var es ExecutorState
	err := LoadJSON(s.path, &es)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return &ExecutorState{
			NeedsHuman:       true,
			NeedsHumanReason: fmt.Sprintf("state unrecoverable: %v", err),
		}, err
	}

	if es.Run != nil {
		migrateLegacyCounters(es.Run)
	}
	if es.InFlightKeys == nil {
		es.InFlightKeys = make(map[string]bool)
	}
	return &es, nil
}

// migrateLegacyCounters upgrades pre-trio phase records: retry_attempt
// takes the legacy attempts_used value, epoch and escalation start at 0.
func migrateLegacyCounters(run *types.Run) {
	for i := range run.Phases {
		p := &run.Phases[i]
		if p.AttemptsUsed > 0 && p.RetryAttempt == 0 {
			logging.State("Migrating legacy counters for phase %s: attempts_used=%d", p.PhaseID, p.AttemptsUsed)
			p.RetryAttempt = p.AttemptsUsed
			p.RevisionEpoch = 0
			p.EscalationLevel = 0
			p.AttemptsUsed = 0
		}
	}
}
