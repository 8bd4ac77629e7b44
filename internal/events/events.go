// Package events emits phase state update events to the API surface.
// The API accepts only the canonical PhaseState enum, so approval blocks
// are transmitted as FAILED with the block reason carried in the event.
package events

import (
	"encoding/json"
	"os"
	"sync"
	"time"

	"autopack/internal/logging"
	"autopack/internal/types"
)

// PhaseEvent is one transition notification.
type PhaseEvent struct {
	RunID           string           `json:"run_id"`
	PhaseID         string           `json:"phase_id"`
	State           types.PhaseState `json:"state"`
	RetryAttempt    int              `json:"retry_attempt"`
	RevisionEpoch   int              `json:"revision_epoch"`
	EscalationLevel int              `json:"escalation_level"`
	Timestamp       time.Time        `json:"timestamp"`
	Reason          string           `json:"reason,omitempty"`
}

// Sink consumes phase events.
type Sink interface {
	Emit(ev PhaseEvent)
}

// FileSink appends events as JSONL under the run directory.
type FileSink struct {
	mu   sync.Mutex
	path string
}

// NewFileSink creates a sink appending to path.
func NewFileSink(path string) *FileSink {
	return &FileSink{path: path}
}

// Emit appends one event. Emission failures are logged, never fatal.
func (s *FileSink) Emit(ev PhaseEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.Marshal(ev)
	if err != nil {
		logging.Events("Failed to marshal event: %v", err)
		return
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logging.Events("Failed to open event stream: %v", err)
		return
	}
	defer f.Close()
	f.Write(data)
	f.Write([]byte("\n"))
}

// MultiSink fans an event out to several sinks.
type MultiSink []Sink

// Emit sends the event to every sink.
func (m MultiSink) Emit(ev PhaseEvent) {
	for _, s := range m {
		s.Emit(ev)
	}
}

// NopSink discards events.
type NopSink struct{}

// Emit discards the event.
func (NopSink) Emit(PhaseEvent) {}
