// Package config holds all Autopack configuration: LLM providers, the
// model catalog, governance policy, loop limits, CI, and approval settings.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"autopack/internal/logging"
)

// Config holds all Autopack configuration.
type Config struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`

	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Model catalog for routing snapshot creation
	Routing RoutingConfig `yaml:"routing"`

	// Governance policy: protected paths, size bounds
	Governance GovernanceConfig `yaml:"governance"`

	// Loop limits: retries, epochs, budget fractions, backoff
	Limits LimitsConfig `yaml:"limits"`

	// CI/test invocation
	CI CIConfig `yaml:"ci"`

	// Human approval channel
	Approval ApprovalConfig `yaml:"approval"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig mirrors logging package settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories,omitempty"`
	Level      string          `yaml:"level"`
}

// MetricsConfig configures the optional Prometheus endpoint.
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name:    "autopack",
		Version: "0.9.0",

		LLM: LLMConfig{
			Provider:       "gemini",
			APIKeyEnv:      "GEMINI_API_KEY",
			Timeout:        "60s",
			BuilderTimeout: "1200s",
		},

		Routing: DefaultRoutingConfig(),

		Governance: DefaultGovernanceConfig(),

		Limits: LimitsConfig{
			MaxRetryAttempts:  5,
			MaxEpochs:         3,
			EscalationMin:     0.15,
			ReductionMin:      0.10,
			HaltMin:           0.05,
			NetworkRetries:    3,
			NetworkBackoff:    "1s",
			PhaseWallclock:    "45m",
			ApprovalOverhead:  "5m",
			TokenEscalationX:  2,
			FullFileLineCap:   500,
			UnifiedDiffLineCap: 1000,
		},

		CI: CIConfig{
			DefaultTestCmd: "pytest -q",
			ReportTimeout:  "600s",
		},

		Approval: ApprovalConfig{
			PollInterval: "5s",
			Timeout:      "24h",
		},

		Logging: LoggingConfig{
			DebugMode: false,
			Level:     "info",
		},

		Metrics: MetricsConfig{
			Enabled:    false,
			ListenAddr: ":9464",
		},
	}
}

// Load reads config from path, overlaying on defaults. A missing file is
// not an error; env overrides always apply last.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("Config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("Config loaded: provider=%s", cfg.LLM.Provider)

	return cfg, nil
}

// Save writes the config back to path.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.LLM.Provider == "gemini" {
		c.LLM.APIKey = key
	}
	if key := os.Getenv("AUTOPACK_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if provider := os.Getenv("AUTOPACK_LLM_PROVIDER"); provider != "" {
		c.LLM.Provider = provider
	}
	if addr := os.Getenv("AUTOPACK_METRICS_ADDR"); addr != "" {
		c.Metrics.ListenAddr = addr
		c.Metrics.Enabled = true
	}
	if v := os.Getenv("LIVE_TRADING_ENABLED"); v != "" {
		c.Governance.LiveTradingEnabled = v == "1"
	}
}

// Validate checks the loaded configuration for inconsistencies.
func (c *Config) Validate() error {
	if c.Limits.MaxRetryAttempts < 1 {
		return fmt.Errorf("limits.max_retry_attempts must be >= 1")
	}
	if c.Limits.EscalationMin < c.Limits.HaltMin {
		return fmt.Errorf("limits.escalation_min must be >= limits.halt_min")
	}
	if len(c.Routing.Catalog) == 0 {
		return fmt.Errorf("routing.catalog must not be empty")
	}
	for i, m := range c.Routing.Catalog {
		if m.ModelID == "" {
			return fmt.Errorf("routing.catalog[%d]: model_id is required", i)
		}
	}
	return nil
}

// GetLLMTimeout returns the default per-call LLM timeout.
func (c *Config) GetLLMTimeout() time.Duration {
	return parseDurationOr(c.LLM.Timeout, 60*time.Second)
}

// GetBuilderTimeout returns the timeout for high-complexity builder calls.
func (c *Config) GetBuilderTimeout() time.Duration {
	return parseDurationOr(c.LLM.BuilderTimeout, 1200*time.Second)
}

func parseDurationOr(s string, fallback time.Duration) time.Duration {
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return fallback
	}
	return d
}
