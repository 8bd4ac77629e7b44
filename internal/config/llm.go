package config

// LLMConfig configures the LLM provider used for builder/auditor calls.
type LLMConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key,omitempty"`
	APIKeyEnv string `yaml:"api_key_env,omitempty"`
	BaseURL   string `yaml:"base_url,omitempty"`

	// Timeout is the default per-call timeout; BuilderTimeout applies to
	// high-complexity builder calls.
	Timeout        string `yaml:"timeout"`
	BuilderTimeout string `yaml:"builder_timeout"`
}
