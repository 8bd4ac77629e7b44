package config

import "time"

// LimitsConfig bounds the retry/escalation/replan loop and backoff.
type LimitsConfig struct {
	MaxRetryAttempts int `yaml:"max_retry_attempts"`
	MaxEpochs        int `yaml:"max_epochs"`

	// Budget fractions driving the policy engine.
	EscalationMin float64 `yaml:"escalation_min"`
	ReductionMin  float64 `yaml:"reduction_min"`
	HaltMin       float64 `yaml:"halt_min"`

	// Transient-error retry: count and initial backoff (doubles per try).
	NetworkRetries int    `yaml:"network_retries"`
	NetworkBackoff string `yaml:"network_backoff"`

	// Per-phase wallclock cap.
	PhaseWallclock string `yaml:"phase_wallclock"`

	// Extra wallclock allowance while blocked on approval.
	ApprovalOverhead string `yaml:"approval_overhead"`

	// Output-budget multiplier applied on TRUNCATED_OUTPUT retries.
	TokenEscalationX int `yaml:"token_escalation_x"`

	// File-size buckets for patch mode policy (line counts).
	FullFileLineCap    int `yaml:"full_file_line_cap"`
	UnifiedDiffLineCap int `yaml:"unified_diff_line_cap"`
}

// GetNetworkBackoff returns the initial backoff for transient retries.
func (l LimitsConfig) GetNetworkBackoff() time.Duration {
	d, err := time.ParseDuration(l.NetworkBackoff)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// GetPhaseWallclock returns the per-phase wallclock cap.
func (l LimitsConfig) GetPhaseWallclock() time.Duration {
	d, err := time.ParseDuration(l.PhaseWallclock)
	if err != nil || d <= 0 {
		return 45 * time.Minute
	}
	return d
}
