// Package ledger implements the external-action ledger: exactly-once,
// approval-gated, hash-verified execution of side effects. The ledger
// file is owned by this package alone; every mutation is persisted via
// atomic-rename-with-backup before the call returns.
package ledger

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"autopack/internal/logging"
	"autopack/internal/state"
)

// Status is the per-key state machine position.
type Status string

const (
	StatusProposed         Status = "PROPOSED"
	StatusApproved         Status = "APPROVED"
	StatusExecuting        Status = "EXECUTING"
	StatusCompleted        Status = "COMPLETED"
	StatusFailed           Status = "FAILED"
	StatusSkippedDuplicate Status = "SKIPPED_DUPLICATE"
)

// MaxExecuteRetries bounds provider retries within one Execute call.
const MaxExecuteRetries = 3

// Entry is one append-only ledger record, keyed by idempotency key.
type Entry struct {
	IdempotencyKey  string     `json:"idempotency_key"`
	Provider        string     `json:"provider"`
	Action          string     `json:"action"`
	PayloadHash     string     `json:"payload_hash"`
	ApprovalID      string     `json:"approval_id,omitempty"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	RetryCount      int        `json:"retry_count"`
	ResponseSummary string     `json:"response_summary,omitempty"`
}

// ExecutionResult reports one Execute call.
type ExecutionResult struct {
	Status          Status `json:"status"`
	ResponseSummary string `json:"response_summary,omitempty"`
	Duplicate       bool   `json:"duplicate"`
}

// ExecFunc performs the actual side effect. The summary it returns is
// stored redacted in the entry.
type ExecFunc func(ctx context.Context) (summary string, err error)

// Gates carries the policy coupling for sensitive action classes.
type Gates struct {
	// LiveTradingEnabled mirrors LIVE_TRADING_ENABLED=1.
	LiveTradingEnabled bool

	// LiveTradingToken is the active live-trading approval token.
	LiveTradingToken string
}

// Ledger owns the external-action ledger file.
type Ledger struct {
	mu      sync.RWMutex
	path    string
	entries map[string]*Entry
	gates   Gates
}

// ledgerFile is the persisted shape.
type ledgerFile struct {
	Entries []*Entry `json:"entries"`
}

// Open loads (or creates) the ledger at path, recovering from .bak if
// the primary is corrupt.
func Open(path string, gates Gates) (*Ledger, error) {
	l := &Ledger{path: path, entries: make(map[string]*Entry), gates: gates}

	var lf ledgerFile
	err := state.LoadJSON(path, &lf)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	for _, e := range lf.Entries {
		l.entries[e.IdempotencyKey] = e
	}
	logging.Ledger("Ledger opened: %d entries", len(l.entries))
	return l, nil
}

// persist writes the ledger file atomically. Callers hold the lock.
func (l *Ledger) persist() error {
	lf := ledgerFile{Entries: make([]*Entry, 0, len(l.entries))}
	for _, e := range l.entries {
		lf.Entries = append(lf.Entries, e)
	}
	// Stable file order keeps diffs readable.
	sortEntries(lf.Entries)
	return state.SaveJSON(l.path, &lf)
}

func sortEntries(entries []*Entry) {
	for i := 1; i < len(entries); i++ {
		for j := i; j > 0 && entries[j].CreatedAt.Before(entries[j-1].CreatedAt); j-- {
			entries[j], entries[j-1] = entries[j-1], entries[j]
		}
	}
}

// Propose canonicalizes the payload and upserts a PROPOSED entry,
// returning its idempotency key. Re-proposing an existing key is a
// no-op returning the same key.
func (l *Ledger) Propose(provider, action string, payload interface{}) (string, error) {
	payloadHash, err := HashPayload(payload)
	if err != nil {
		return "", fmt.Errorf("failed to hash payload: %w", err)
	}
	key := IdempotencyKey(provider, action, payloadHash)

	l.mu.Lock()
	defer l.mu.Unlock()

	if existing, ok := l.entries[key]; ok {
		logging.Ledger("Propose for existing key %.12s (status %s)", key, existing.Status)
		return key, nil
	}

	l.entries[key] = &Entry{
		IdempotencyKey: key,
		Provider:       provider,
		Action:         action,
		PayloadHash:    payloadHash,
		Status:         StatusProposed,
		CreatedAt:      time.Now(),
	}
	if err := l.persist(); err != nil {
		delete(l.entries, key)
		return "", err
	}
	logging.Ledger("Proposed %s/%s key %.12s", provider, action, key)
	return key, nil
}

// Approve attaches an approval and moves the entry to APPROVED.
func (l *Ledger) Approve(key, approverID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		return fmt.Errorf("unknown idempotency key %s", key)
	}
	if e.Status != StatusProposed {
		return fmt.Errorf("entry %s is %s, not PROPOSED", key, e.Status)
	}
	e.ApprovalID = approverID
	e.Status = StatusApproved
	if err := l.persist(); err != nil {
		return err
	}
	logging.Ledger("Approved %.12s by %s", key, approverID)
	return nil
}

// ExecuteOptions carries the verification inputs for one execution.
type ExecuteOptions struct {
	// Payload is the request about to be sent; it must hash to the
	// entry's recorded payload_hash or execution is refused.
	Payload interface{}

	// PublishPacketHash must match the payload hash for publish/list
	// actions.
	PublishPacketHash string
}

// Execute runs the side effect for an APPROVED entry exactly once.
// A COMPLETED entry returns SKIPPED_DUPLICATE without executing, even
// across process restarts. Hash mismatches refuse execution. Provider
// failures retry with exponential backoff up to MaxExecuteRetries, then
// the entry is FAILED.
func (l *Ledger) Execute(ctx context.Context, key string, opts ExecuteOptions, fn ExecFunc) (*ExecutionResult, error) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		l.mu.Unlock()
		return nil, fmt.Errorf("unknown idempotency key %s", key)
	}

	switch e.Status {
	case StatusCompleted:
		l.mu.Unlock()
		logging.Ledger("Execute on completed key %.12s -> SKIPPED_DUPLICATE", key)
		return &ExecutionResult{Status: StatusSkippedDuplicate, Duplicate: true}, nil
	case StatusApproved:
		// Proceed.
	case StatusExecuting:
		l.mu.Unlock()
		return nil, fmt.Errorf("entry %s is already EXECUTING; reconcile before retrying", key)
	default:
		l.mu.Unlock()
		return nil, fmt.Errorf("entry %s is %s, not APPROVED", key, e.Status)
	}

	// Verify the to-be-sent payload against the recorded hash.
	sendHash, err := HashPayload(opts.Payload)
	if err != nil {
		l.mu.Unlock()
		return nil, fmt.Errorf("failed to hash outgoing payload: %w", err)
	}
	if sendHash != e.PayloadHash {
		l.mu.Unlock()
		logging.LedgerWarn("Payload hash mismatch for %.12s: refusing execution", key)
		return &ExecutionResult{Status: StatusFailed, ResponseSummary: "SKIPPED_HASH_MISMATCH"},
			fmt.Errorf("payload hash mismatch for %s", key)
	}

	if gateErr := l.checkGates(e, opts); gateErr != nil {
		l.mu.Unlock()
		return nil, gateErr
	}

	now := time.Now()
	e.Status = StatusExecuting
	e.StartedAt = &now
	if err := l.persist(); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	l.mu.Unlock()

	// Run the side effect outside the lock; readers may query meanwhile.
	summary, execErr := l.runWithRetry(ctx, e, fn)

	l.mu.Lock()
	defer l.mu.Unlock()
	done := time.Now()
	e.CompletedAt = &done
	e.ResponseSummary = redact(summary)
	if execErr != nil {
		e.Status = StatusFailed
		if err := l.persist(); err != nil {
			return nil, err
		}
		return &ExecutionResult{Status: StatusFailed, ResponseSummary: e.ResponseSummary}, execErr
	}
	e.Status = StatusCompleted
	if err := l.persist(); err != nil {
		return nil, err
	}
	logging.Ledger("Completed %.12s", key)
	return &ExecutionResult{Status: StatusCompleted, ResponseSummary: e.ResponseSummary}, nil
}

// checkGates enforces the policy coupling for trading and publishing
// action classes. Callers hold the lock.
func (l *Ledger) checkGates(e *Entry, opts ExecuteOptions) error {
	action := strings.ToLower(e.Action)
	if strings.HasPrefix(action, "trade") {
		if !l.gates.LiveTradingEnabled {
			return fmt.Errorf("trading action %s refused: LIVE_TRADING_ENABLED is not set", e.Action)
		}
		if l.gates.LiveTradingToken == "" {
			return fmt.Errorf("trading action %s refused: no active live-trading approval token", e.Action)
		}
	}
	if strings.HasPrefix(action, "publish") || strings.HasPrefix(action, "list") {
		if opts.PublishPacketHash == "" {
			return fmt.Errorf("publish action %s refused: no publish packet", e.Action)
		}
		if opts.PublishPacketHash != e.PayloadHash {
			return fmt.Errorf("publish action %s refused: publish packet hash mismatch", e.Action)
		}
	}
	return nil
}

// runWithRetry invokes fn with bounded exponential backoff, updating the
// entry's retry counter under the lock between tries.
func (l *Ledger) runWithRetry(ctx context.Context, e *Entry, fn ExecFunc) (string, error) {
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), MaxExecuteRetries), ctx)

	var summary string
	err := backoff.Retry(func() error {
		s, err := fn(ctx)
		if err != nil {
			l.mu.Lock()
			e.RetryCount++
			_ = l.persist()
			l.mu.Unlock()
			logging.LedgerWarn("Execution attempt failed for %.12s: %v", e.IdempotencyKey, err)
			return err
		}
		summary = s
		return nil
	}, bo)
	return summary, err
}

// Query returns a copy of the entry for key.
func (l *Ledger) Query(key string) (Entry, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	e, ok := l.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns all entries ordered by creation time.
func (l *Ledger) Entries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]*Entry, 0, len(l.entries))
	for _, e := range l.entries {
		out = append(out, e)
	}
	sortEntries(out)
	result := make([]Entry, len(out))
	for i, e := range out {
		result[i] = *e
	}
	return result
}

// Reconcile resolves an entry left EXECUTING by a crash. The check
// function asks the provider whether the action landed; on true the
// entry completes (no re-execution), on false it is FAILED. Proposing the
// same payload again returns this key and leaves the entry FAILED. Never
// performs the side effect itself.
func (l *Ledger) Reconcile(ctx context.Context, key string, check func(ctx context.Context) (bool, error)) error {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok || e.Status != StatusExecuting {
		l.mu.Unlock()
		if !ok {
			return fmt.Errorf("unknown idempotency key %s", key)
		}
		return nil
	}
	l.mu.Unlock()

	landed, err := check(ctx)

	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	e.CompletedAt = &now
	if err != nil {
		e.Status = StatusFailed
		e.ResponseSummary = fmt.Sprintf("reconcile failed: %v", err)
	} else if landed {
		e.Status = StatusCompleted
		e.ResponseSummary = "reconciled: provider confirms completion"
	} else {
		e.Status = StatusFailed
		e.ResponseSummary = "reconciled: provider reports no effect"
	}
	logging.Ledger("Reconciled %.12s -> %s", key, e.Status)
	return l.persist()
}

// ExecutingKeys returns keys stuck in EXECUTING, for startup reconciliation.
func (l *Ledger) ExecutingKeys() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var keys []string
	for k, e := range l.entries {
		if e.Status == StatusExecuting {
			keys = append(keys, k)
		}
	}
	return keys
}

// redact trims and strips obvious secrets from a response summary.
func redact(s string) string {
	if len(s) > 500 {
		s = s[:500] + "..."
	}
	for _, marker := range []string{"token=", "key=", "secret=", "authorization:"} {
		if idx := strings.Index(strings.ToLower(s), marker); idx >= 0 {
			s = s[:idx] + marker + "[redacted]"
		}
	}
	return s
}
