package config

import "time"

// ApprovalConfig configures the polling approval channel.
type ApprovalConfig struct {
	PollInterval string `yaml:"poll_interval"`
	Timeout      string `yaml:"timeout"`
}

// GetPollInterval returns how often a pending approval file is re-read;
// filesystem notification, where available, can wake the wait sooner.
func (a ApprovalConfig) GetPollInterval() time.Duration {
	d, err := time.ParseDuration(a.PollInterval)
	if err != nil || d <= 0 {
		return 5 * time.Second
	}
	return d
}

// GetTimeout returns how long an approval request may stay pending.
func (a ApprovalConfig) GetTimeout() time.Duration {
	d, err := time.ParseDuration(a.Timeout)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}
