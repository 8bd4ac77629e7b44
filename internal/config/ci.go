package config

import "time"

// CIConfig configures test invocation and report collection.
type CIConfig struct {
	// DefaultTestCmd runs when a phase declares no scope.test_cmd.
	DefaultTestCmd string `yaml:"default_test_cmd"`

	// ReportTimeout bounds a single CI invocation.
	ReportTimeout string `yaml:"report_timeout"`
}

// GetReportTimeout returns the CI invocation timeout.
func (c CIConfig) GetReportTimeout() time.Duration {
	d, err := time.ParseDuration(c.ReportTimeout)
	if err != nil || d <= 0 {
		return 600 * time.Second
	}
	return d
}
