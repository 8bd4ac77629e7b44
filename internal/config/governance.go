package config

// GovernanceConfig carries protected-path policy and mass-change bounds.
type GovernanceConfig struct {
	// ProtectedPaths are glob patterns that no patch may touch without an
	// approval token, in every run type.
	ProtectedPaths []string `yaml:"protected_paths"`

	// BuildProtectedPaths are additionally protected when
	// run_type = project_build.
	BuildProtectedPaths []string `yaml:"build_protected_paths"`

	// ShrinkageThreshold rejects per-file deltas below this ratio without
	// allow_mass_deletion (e.g. -0.60 means a 60% shrink).
	ShrinkageThreshold float64 `yaml:"shrinkage_threshold"`

	// GrowthThreshold rejects per-file deltas above this ratio without
	// allow_mass_addition (e.g. 2.0 means +200%).
	GrowthThreshold float64 `yaml:"growth_threshold"`

	// LiveTradingEnabled gates trading actions in the external-action
	// ledger; also requires an active live-trading approval token.
	LiveTradingEnabled bool `yaml:"live_trading_enabled"`
}

// DefaultGovernanceConfig returns the baseline protection policy.
func DefaultGovernanceConfig() GovernanceConfig {
	return GovernanceConfig{
		ProtectedPaths: []string{
			".github/**",
			".git/**",
			"config/models.yaml",
			"config/baseline_policy.yaml",
			"config/protection_and_retention_policy.yaml",
		},
		BuildProtectedPaths: []string{
			"src/autopack/**",
			"tests/**",
			"docs/**",
			"config/**",
		},
		ShrinkageThreshold: -0.60,
		GrowthThreshold:    2.0,
	}
}
