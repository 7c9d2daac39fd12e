package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes every environment override, e.g. CHATPROXY_GATEWAY_PORT.
const EnvPrefix = "CHATPROXY"

// Credential variables honoured alongside the prefixed ones, so existing
// Azure OpenAI and vendor deployments work without renaming.
var credentialEnv = map[string][]string{
	"backend.api_key":     {"AZURE_OPENAI_API_KEY"},
	"backend.endpoint":    {"AZURE_OPENAI_API_BASE", "AZURE_OPENAI_ENDPOINT"},
	"backend.api_version": {"AZURE_OPENAI_API_VERSION"},
}

var providerKeyEnv = map[string]string{
	ProviderOpenAI:    "OPENAI_API_KEY",
	ProviderAnthropic: "ANTHROPIC_API_KEY",
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if present, and applies environment overrides
// on top of the defaults.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultConfig()
	setDefaults(v, defaults)

	for key, envs := range credentialEnv {
		args := append([]string{key, envName(key)}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind env for %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if filepath.Ext(configPath) == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Backend.APIKey == "" {
		if env, ok := providerKeyEnv[cfg.Backend.Provider]; ok {
			cfg.Backend.APIKey = os.Getenv(env)
		}
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".chatproxy")
	}

	return cfg, nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".chatproxy", "chatproxy.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}

func envName(key string) string {
	return EnvPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

// setDefaults registers every leaf key so AutomaticEnv can override it
// even when the config file does not mention the key.
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("sessions.timeout_seconds", cfg.Sessions.TimeoutSeconds)
	v.SetDefault("sessions.system_prompt", cfg.Sessions.SystemPrompt)
	v.SetDefault("sessions.archive_dir", cfg.Sessions.ArchiveDir)
	v.SetDefault("sessions.sweep_schedule", cfg.Sessions.SweepSchedule)

	v.SetDefault("backend.provider", cfg.Backend.Provider)
	v.SetDefault("backend.api_key", cfg.Backend.APIKey)
	v.SetDefault("backend.endpoint", cfg.Backend.Endpoint)
	v.SetDefault("backend.api_version", cfg.Backend.APIVersion)
	v.SetDefault("backend.model", cfg.Backend.Model)
	v.SetDefault("backend.max_tokens", cfg.Backend.MaxTokens)
	v.SetDefault("backend.temperature", cfg.Backend.Temperature)
	v.SetDefault("backend.timeout_seconds", cfg.Backend.TimeoutSeconds)

	v.SetDefault("gateway.port", cfg.Gateway.Port)
	v.SetDefault("gateway.host", cfg.Gateway.Host)
	v.SetDefault("gateway.max_message_bytes", cfg.Gateway.MaxMessageBytes)
	v.SetDefault("gateway.allowed_origins", cfg.Gateway.AllowedOrigins)
	v.SetDefault("gateway.rate_limit.enabled", cfg.Gateway.RateLimit.Enabled)
	v.SetDefault("gateway.rate_limit.requests_per_window", cfg.Gateway.RateLimit.RequestsPerWindow)
	v.SetDefault("gateway.rate_limit.window_seconds", cfg.Gateway.RateLimit.WindowSeconds)
	v.SetDefault("gateway.rate_limit.max_concurrent", cfg.Gateway.RateLimit.MaxConcurrent)

	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.console", cfg.Logging.Console)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("logging.redact_patterns", cfg.Logging.RedactPatterns)

	v.SetDefault("tracing.enabled", cfg.Tracing.Enabled)
	v.SetDefault("tracing.service_name", cfg.Tracing.ServiceName)
	v.SetDefault("tracing.sample_ratio", cfg.Tracing.SampleRatio)

	v.SetDefault("data_dir", cfg.DataDir)
}
