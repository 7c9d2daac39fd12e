package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"
)

// Supported backend providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
)

// Config represents the main chatproxy configuration
type Config struct {
	// Sessions
	Sessions SessionsConfig `json:"sessions" mapstructure:"sessions"`

	// LLM backend
	Backend BackendConfig `json:"backend" mapstructure:"backend"`

	// HTTP gateway
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// SessionsConfig holds session store settings
type SessionsConfig struct {
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	SystemPrompt   string `json:"system_prompt" mapstructure:"system_prompt"`
	ArchiveDir     string `json:"archive_dir" mapstructure:"archive_dir"`       // empty disables archiving
	SweepSchedule  string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec, empty disables
}

// Timeout returns the idle timeout as a duration.
func (s SessionsConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// BackendConfig describes the LLM provider profile
type BackendConfig struct {
	Provider       string  `json:"provider" mapstructure:"provider"` // openai, azure, anthropic
	APIKey         string  `json:"api_key" mapstructure:"api_key"`
	Endpoint       string  `json:"endpoint" mapstructure:"endpoint"`       // azure resource endpoint or base URL override
	APIVersion     string  `json:"api_version" mapstructure:"api_version"` // azure only
	Model          string  `json:"model" mapstructure:"model"`             // model or azure deployment name
	MaxTokens      int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temperature    float64 `json:"temperature" mapstructure:"temperature"`
	TimeoutSeconds int     `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// Timeout returns the per-request backend timeout.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port            int             `json:"port" mapstructure:"port"`
	Host            string          `json:"host" mapstructure:"host"`
	MaxMessageBytes int             `json:"max_message_bytes" mapstructure:"max_message_bytes"`
	AllowedOrigins  []string        `json:"allowed_origins" mapstructure:"allowed_origins"`
	RateLimit       RateLimitConfig `json:"rate_limit" mapstructure:"rate_limit"`
}

// Addr returns host:port.
func (g GatewayConfig) Addr() string {
	return fmt.Sprintf("%s:%d", g.Host, g.Port)
}

// RateLimitConfig bounds per-client request rates
type RateLimitConfig struct {
	Enabled           bool `json:"enabled" mapstructure:"enabled"`
	RequestsPerWindow int  `json:"requests_per_window" mapstructure:"requests_per_window"`
	WindowSeconds     int  `json:"window_seconds" mapstructure:"window_seconds"`
	MaxConcurrent     int  `json:"max_concurrent" mapstructure:"max_concurrent"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`

	// extra regular expressions scrubbed when redaction is on
	RedactPatterns []string `json:"redact_patterns" mapstructure:"redact_patterns"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	Enabled     bool    `json:"enabled" mapstructure:"enabled"`
	ServiceName string  `json:"service_name" mapstructure:"service_name"`
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Sessions: SessionsConfig{
			TimeoutSeconds: 1800,
			SystemPrompt:   "You are a helpful assistant.",
		},
		Backend: BackendConfig{
			Provider:       ProviderAzure,
			APIVersion:     "2024-06-01",
			Model:          "gpt-4",
			MaxTokens:      1024,
			Temperature:    0.7,
			TimeoutSeconds: 120,
		},
		Gateway: GatewayConfig{
			Port:            8000,
			Host:            "0.0.0.0",
			MaxMessageBytes: 32 * 1024,
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerWindow: 60,
				WindowSeconds:     60,
				MaxConcurrent:     8,
			},
		},
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   100,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Tracing: TracingConfig{
			Enabled:     false,
			ServiceName: "chatproxy",
			SampleRatio: 1.0,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid and reports every problem found.
func (c *Config) Validate() error {
	var errs []error

	if c.Sessions.TimeoutSeconds <= 0 {
		errs = append(errs, fmt.Errorf("sessions.timeout_seconds must be positive, got %d", c.Sessions.TimeoutSeconds))
	}

	b := c.Backend
	validProviders := []string{ProviderOpenAI, ProviderAzure, ProviderAnthropic}
	if !slices.Contains(validProviders, b.Provider) {
		errs = append(errs, fmt.Errorf("invalid backend provider %q (must be: openai, azure, anthropic)", b.Provider))
	}
	if b.APIKey == "" {
		errs = append(errs, fmt.Errorf("backend api_key is required"))
	}
	if b.Model == "" {
		errs = append(errs, fmt.Errorf("backend model is required"))
	}
	if b.Provider == ProviderAzure {
		if b.Endpoint == "" {
			errs = append(errs, fmt.Errorf("backend endpoint is required for azure"))
		}
		if b.APIVersion == "" {
			errs = append(errs, fmt.Errorf("backend api_version is required for azure"))
		}
	}
	if b.MaxTokens <= 0 {
		errs = append(errs, fmt.Errorf("backend max_tokens must be positive, got %d", b.MaxTokens))
	}
	if b.Temperature < 0 || b.Temperature > 2 {
		errs = append(errs, fmt.Errorf("backend temperature must be between 0 and 2, got %f", b.Temperature))
	}

	if c.Gateway.Port <= 0 || c.Gateway.Port > 65535 {
		errs = append(errs, fmt.Errorf("gateway port out of range: %d", c.Gateway.Port))
	}
	if c.Gateway.MaxMessageBytes <= 0 {
		errs = append(errs, fmt.Errorf("gateway max_message_bytes must be positive"))
	}
	if rl := c.Gateway.RateLimit; rl.Enabled && (rl.RequestsPerWindow <= 0 || rl.WindowSeconds <= 0) {
		errs = append(errs, fmt.Errorf("gateway rate_limit requires positive requests_per_window and window_seconds"))
	}

	validLevels := []string{"debug", "info", "warn", "error"}
	if !slices.Contains(validLevels, c.Logging.Level) {
		errs = append(errs, fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.Logging.Level))
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		errs = append(errs, fmt.Errorf("tracing sample_ratio must be between 0 and 1"))
	}

	return errors.Join(errs...)
}
