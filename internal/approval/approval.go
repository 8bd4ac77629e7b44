// Package approval implements the polling approval channel: the
// executor writes a request file to a well-known location and blocks
// until its status field flips to APPROVED or DENIED. A filesystem
// watcher wakes the waiter early; plain polling is the fallback.
package approval

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"autopack/internal/logging"
	"autopack/internal/state"
)

// Status of an approval request.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusDenied   Status = "DENIED"
)

// ErrTimeout is returned when a request stays pending past the deadline.
var ErrTimeout = errors.New("approval request timed out")

// Request is the on-disk approval record. The responder flips Status
// and fills ApproverID/RespondedAt.
type Request struct {
	RequestID   string     `json:"request_id"`
	RunID       string     `json:"run_id"`
	PhaseID     string     `json:"phase_id,omitempty"`
	Reason      string     `json:"reason"`
	Status      Status     `json:"status"`
	ApproverID  string     `json:"approver_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// Channel reads and writes approval requests under a directory.
type Channel struct {
	Dir          string
	PollInterval time.Duration
	Timeout      time.Duration
}

// NewChannel creates an approval channel rooted at dir.
func NewChannel(dir string, pollInterval, timeout time.Duration) *Channel {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &Channel{Dir: dir, PollInterval: pollInterval, Timeout: timeout}
}

func (c *Channel) path(requestID string) string {
	return filepath.Join(c.Dir, requestID+".json")
}

// Submit writes a new pending request and returns its id.
func (c *Channel) Submit(runID, phaseID, reason string) (string, error) {
	req := &Request{
		RequestID: uuid.New().String(),
		RunID:     runID,
		PhaseID:   phaseID,
		Reason:    reason,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}
	if err := state.SaveJSON(c.path(req.RequestID), req); err != nil {
		return "", fmt.Errorf("failed to write approval request: %w", err)
	}
	logging.Approval("Approval requested: %s (%s)", req.RequestID, reason)
	return req.RequestID, nil
}

// Load reads a request by id.
func (c *Channel) Load(requestID string) (*Request, error) {
	var req Request
	if err := state.LoadJSON(c.path(requestID), &req); err != nil {
		return nil, fmt.Errorf("failed to read approval request %s: %w", requestID, err)
	}
	return &req, nil
}

// Respond flips a pending request to APPROVED or DENIED.
func (c *Channel) Respond(requestID string, approve bool, approverID string) error {
	req, err := c.Load(requestID)
	if err != nil {
		return err
	}
	if req.Status != StatusPending {
		return fmt.Errorf("request %s already %s", requestID, req.Status)
	}
	now := time.Now()
	req.ApproverID = approverID
	req.RespondedAt = &now
	if approve {
		req.Status = StatusApproved
	} else {
		req.Status = StatusDenied
	}
	if err := state.SaveJSON(c.path(requestID), req); err != nil {
		return fmt.Errorf("failed to write approval response: %w", err)
	}
	logging.Approval("Approval %s: %s by %s", req.Status, requestID, approverID)
	return nil
}

// Pending lists pending requests.
func (c *Channel) Pending() ([]*Request, error) {
	entries, err := os.ReadDir(c.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []*Request
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		req, err := c.Load(e.Name()[:len(e.Name())-len(".json")])
		if err != nil {
			continue
		}
		if req.Status == StatusPending {
			out = append(out, req)
		}
	}
	return out, nil
}

// Await blocks until the request is responded to, the channel timeout
// elapses (ErrTimeout), or ctx is cancelled. A directory watcher wakes
// the wait on file changes; the poll interval covers missed events.
func (c *Channel) Await(ctx context.Context, requestID string) (*Request, error) {
	deadline := time.Now().Add(c.Timeout)

	var events chan fsnotify.Event
	watcher, err := fsnotify.NewWatcher()
	if err == nil {
		defer watcher.Close()
		if werr := watcher.Add(c.Dir); werr == nil {
			events = make(chan fsnotify.Event, 16)
			go func() {
				for ev := range watcher.Events {
					select {
					case events <- ev:
					default:
					}
				}
			}()
		}
	} else {
		logging.Approval("Watcher unavailable, polling only: %v", err)
	}

	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	for {
		req, err := c.Load(requestID)
		if err == nil && req.Status != StatusPending {
			return req, nil
		}

		if time.Now().After(deadline) {
			logging.Approval("Approval %s timed out after %s", requestID, c.Timeout)
			return nil, ErrTimeout
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-events:
		}
	}
}
