package config

// GenerationConfig configures the generate/validate retry loop.
type GenerationConfig struct {
	// MaxTries bounds the generate -> validate -> regenerate loop.
	MaxTries int `yaml:"max_tries"`

	// ValidateTimeout bounds a single candidate's test run, as a Go duration.
	ValidateTimeout string `yaml:"validate_timeout"`
}

// DefaultGenerationConfig returns the loop defaults: five attempts,
// temperature pinned at zero by the clients.
func DefaultGenerationConfig() GenerationConfig {
	return GenerationConfig{
		MaxTries:        5,
		ValidateTimeout: "30s",
	}
}
