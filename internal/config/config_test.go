package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")

	cfg, err := Load(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, ProviderOpenAI, cfg.LLM.Provider)
	assert.Equal(t, 5, cfg.Generation.MaxTries)
	assert.Equal(t, filepath.Join(DotDir, "impl"), cfg.Cache.Dir)
	assert.False(t, cfg.Cache.Disabled)
}

func TestLoadFromFile(t *testing.T) {
	ws := t.TempDir()
	content := `llm:
  provider: gemini
  model: gemini-2.5-pro
  api_key: file-key
generation:
  max_tries: 8
cache:
  disabled: true
`
	require.NoError(t, os.MkdirAll(filepath.Join(ws, DotDir), 0755))
	require.NoError(t, os.WriteFile(Path(ws), []byte(content), 0644))

	cfg, err := Load(ws)
	require.NoError(t, err)

	assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
	assert.Equal(t, "gemini-2.5-pro", cfg.LLM.Model)
	assert.Equal(t, "file-key", cfg.LLM.APIKey)
	assert.Equal(t, 8, cfg.Generation.MaxTries)
	assert.True(t, cfg.Cache.Disabled)
}

func TestEnvOverrides(t *testing.T) {
	t.Run("JITGEN_* take precedence over file values", func(t *testing.T) {
		t.Setenv("JITGEN_PROVIDER", "gemini")
		t.Setenv("JITGEN_MODEL", "gemini-2.5-flash")
		t.Setenv("JITGEN_API_KEY", "env-key")
		t.Setenv("JITGEN_MAX_TRIES", "2")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)

		assert.Equal(t, ProviderGemini, cfg.LLM.Provider)
		assert.Equal(t, "gemini-2.5-flash", cfg.LLM.Model)
		assert.Equal(t, "env-key", cfg.LLM.APIKey)
		assert.Equal(t, 2, cfg.Generation.MaxTries)
	})

	t.Run("OPENAI_API_KEY fills a missing key", func(t *testing.T) {
		t.Setenv("JITGEN_PROVIDER", "")
		t.Setenv("JITGEN_API_KEY", "")
		t.Setenv("OPENAI_API_KEY", "sk-from-env")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "sk-from-env", cfg.LLM.APIKey)
	})

	t.Run("GEMINI_API_KEY used only for the gemini provider", func(t *testing.T) {
		t.Setenv("JITGEN_PROVIDER", "gemini")
		t.Setenv("JITGEN_API_KEY", "")
		t.Setenv("GEMINI_API_KEY", "gm-key")
		t.Setenv("OPENAI_API_KEY", "sk-wrong")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "gm-key", cfg.LLM.APIKey)
	})

	t.Run("explicit api_key wins over provider env key", func(t *testing.T) {
		t.Setenv("JITGEN_API_KEY", "explicit")
		t.Setenv("OPENAI_API_KEY", "fallback")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, "explicit", cfg.LLM.APIKey)
	})

	t.Run("invalid JITGEN_MAX_TRIES ignored", func(t *testing.T) {
		t.Setenv("JITGEN_MAX_TRIES", "zero")

		cfg, err := Load(t.TempDir())
		require.NoError(t, err)
		assert.Equal(t, 5, cfg.Generation.MaxTries)
	})
}

func TestLoadRejectsUnknownProvider(t *testing.T) {
	t.Setenv("JITGEN_PROVIDER", "carrier-pigeon")
	_, err := Load(t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown llm provider")
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("JITGEN_PROVIDER", "")
	t.Setenv("JITGEN_MODEL", "")
	t.Setenv("JITGEN_MAX_TRIES", "")

	cfg := Default()
	cfg.LLM.Provider = ProviderGemini
	cfg.LLM.APIKey = "saved-key"
	cfg.Generation.MaxTries = 7
	require.NoError(t, Save(ws, cfg))

	loaded, err := Load(ws)
	require.NoError(t, err)
	assert.Equal(t, ProviderGemini, loaded.LLM.Provider)
	assert.Equal(t, 7, loaded.Generation.MaxTries)
}

func TestRequestTimeout(t *testing.T) {
	tests := []struct {
		timeout string
		want    time.Duration
	}{
		{"30s", 30 * time.Second},
		{"2m", 2 * time.Minute},
		{"", 2 * time.Minute},
		{"garbage", 2 * time.Minute},
		{"-5s", 2 * time.Minute},
	}
	for _, tt := range tests {
		c := LLMConfig{Timeout: tt.timeout}
		assert.Equal(t, tt.want, c.RequestTimeout(), "timeout %q", tt.timeout)
	}
}
