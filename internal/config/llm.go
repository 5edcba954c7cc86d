package config

import "time"

// Supported LLM providers.
const (
	ProviderOpenAI = "openai"
	ProviderGemini = "gemini"
)

// LLMConfig configures the generation client.
type LLMConfig struct {
	Provider string `yaml:"provider"` // openai, gemini
	APIKey   string `yaml:"api_key"`
	Model    string `yaml:"model"`
	BaseURL  string `yaml:"base_url"` // OpenAI-compatible endpoints only
	Timeout  string `yaml:"timeout"`  // Go duration, e.g. "2m"
}

// DefaultLLMConfig returns provider defaults. The model is left empty so each
// client applies its own default.
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider: ProviderOpenAI,
		Timeout:  "2m",
	}
}

// RequestTimeout parses the configured timeout, falling back to two minutes.
func (c LLMConfig) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Timeout)
	if err != nil || d <= 0 {
		return 2 * time.Minute
	}
	return d
}
