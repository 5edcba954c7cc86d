// Package config loads and validates jitgen configuration.
// Configuration lives in .jitgen/config.yaml under the workspace root;
// environment variables override file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DotDir is the per-workspace directory jitgen keeps its state in.
const DotDir = ".jitgen"

// Config holds all jitgen configuration.
type Config struct {
	// LLM provider configuration
	LLM LLMConfig `yaml:"llm"`

	// Generation loop settings
	Generation GenerationConfig `yaml:"generation"`

	// Cache store settings
	Cache CacheConfig `yaml:"cache"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`
}

// CacheConfig configures the implementation cache.
type CacheConfig struct {
	// Dir is the cache root, relative to the workspace unless absolute.
	// Defaults to .jitgen/impl.
	Dir string `yaml:"dir"`

	// IndexPath is the SQLite index path. Defaults to .jitgen/cache.db.
	IndexPath string `yaml:"index_path"`

	// Disabled turns the cache off entirely (always regenerate).
	Disabled bool `yaml:"disabled"`
}

// LoggingConfig configures categorized debug logging.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		LLM:        DefaultLLMConfig(),
		Generation: DefaultGenerationConfig(),
		Cache: CacheConfig{
			Dir:       filepath.Join(DotDir, "impl"),
			IndexPath: filepath.Join(DotDir, "cache.db"),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	return filepath.Join(workspace, DotDir, "config.yaml")
}

// Load reads configuration for the given workspace. A missing config file is
// not an error: defaults plus environment overrides are returned.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to the workspace config file.
func Save(workspace string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	dir := filepath.Join(workspace, DotDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	return os.WriteFile(Path(workspace), data, 0644)
}

// applyEnv applies environment variable overrides.
// JITGEN_* take precedence over file values; provider key env vars fill in
// a missing api_key without overriding an explicit one.
func (c *Config) applyEnv() {
	if v := os.Getenv("JITGEN_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("JITGEN_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("JITGEN_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("JITGEN_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("JITGEN_MAX_TRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Generation.MaxTries = n
		}
	}
	if v := os.Getenv("JITGEN_DEBUG"); v != "" {
		c.Logging.DebugMode = v == "1" || v == "true"
	}

	if c.LLM.APIKey == "" {
		switch c.LLM.Provider {
		case ProviderOpenAI:
			c.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		case ProviderGemini:
			c.LLM.APIKey = os.Getenv("GEMINI_API_KEY")
		}
	}
}

// Validate checks configuration consistency.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown llm provider %q (want %q or %q)",
			c.LLM.Provider, ProviderOpenAI, ProviderGemini)
	}
	if c.Generation.MaxTries < 1 {
		return fmt.Errorf("generation.max_tries must be >= 1, got %d", c.Generation.MaxTries)
	}
	return nil
}

// CacheDir resolves the cache directory against the workspace.
func (c *Config) CacheDir(workspace string) string {
	if filepath.IsAbs(c.Cache.Dir) {
		return c.Cache.Dir
	}
	return filepath.Join(workspace, c.Cache.Dir)
}

// CacheIndexPath resolves the SQLite index path against the workspace.
func (c *Config) CacheIndexPath(workspace string) string {
	if filepath.IsAbs(c.Cache.IndexPath) {
		return c.Cache.IndexPath
	}
	return filepath.Join(workspace, c.Cache.IndexPath)
}
