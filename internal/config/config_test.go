package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	cfg := DefaultConfig()
	cfg.Backend.APIKey = "azure-test-key"
	cfg.Backend.Endpoint = "https://example.openai.azure.com"
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.NotNil(t, cfg)
	assert.Equal(t, 1800, cfg.Sessions.TimeoutSeconds)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.Timeout())
	assert.Equal(t, "You are a helpful assistant.", cfg.Sessions.SystemPrompt)
	assert.Empty(t, cfg.Sessions.ArchiveDir)
	assert.Empty(t, cfg.Sessions.SweepSchedule)
	assert.Equal(t, ProviderAzure, cfg.Backend.Provider)
	assert.Equal(t, "gpt-4", cfg.Backend.Model)
	assert.Equal(t, 2*time.Minute, cfg.Backend.Timeout())
	assert.Equal(t, 32*1024, cfg.Gateway.MaxMessageBytes)
	assert.Equal(t, "0.0.0.0:8000", cfg.Gateway.Addr())
	assert.True(t, cfg.Gateway.RateLimit.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Tracing.Enabled)
}

func TestConfigValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		assert.NoError(t, validConfig().Validate())
	})

	t.Run("missing API key", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.APIKey = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key is required")
	})

	t.Run("azure requires endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.Endpoint = ""

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "endpoint is required for azure")
	})

	t.Run("openai does not require endpoint", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.Provider = ProviderOpenAI
		cfg.Backend.Endpoint = ""

		assert.NoError(t, cfg.Validate())
	})

	t.Run("invalid provider", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.Provider = "gemini"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid backend provider")
	})

	t.Run("non-positive timeout", func(t *testing.T) {
		cfg := validConfig()
		cfg.Sessions.TimeoutSeconds = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "timeout_seconds")
	})

	t.Run("invalid log level", func(t *testing.T) {
		cfg := validConfig()
		cfg.Logging.Level = "verbose"

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid log level")
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Backend.APIKey = ""
		cfg.Gateway.Port = 0

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "api_key")
		assert.Contains(t, err.Error(), "port out of range")
	})
}

func TestConfigString(t *testing.T) {
	s := DefaultConfig().String()
	assert.Contains(t, s, `"timeout_seconds": 1800`)
	assert.Contains(t, s, `"provider": "azure"`)
}
