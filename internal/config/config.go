package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"therapy-guardrails/internal/escalation"
	"therapy-guardrails/internal/guardrail"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Guardrails GuardrailsConfig `mapstructure:"guardrails"`
	Escalation EscalationConfig `mapstructure:"escalation"`
	Metrics    MetricsConfig    `mapstructure:"metrics"`
}

type ServerConfig struct {
	Port    int           `mapstructure:"port"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type GuardrailsConfig struct {
	DefaultRegion string               `mapstructure:"default_region"`
	MaxTextLength int                  `mapstructure:"max_text_length"`
	CatalogFile   string               `mapstructure:"catalog_file"` // optional YAML response catalog
	Thresholds    guardrail.Thresholds `mapstructure:"thresholds"`
}

type EscalationConfig struct {
	MaxRetries      uint64                     `mapstructure:"max_retries"`
	RetryInterval   time.Duration              `mapstructure:"retry_interval"`
	DispatchTimeout time.Duration              `mapstructure:"dispatch_timeout"`
	Channels        []escalation.ChannelConfig `mapstructure:"channels"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Load reads config.yaml from ./configs or the working directory, falling
// back to defaults, with GUARDRAILS_* environment overrides.
func Load() (*Config, error) {
	return LoadFrom("./configs", ".")
}

// LoadFrom is Load with explicit search paths
func LoadFrom(paths ...string) (*Config, error) {
	v := viper.New()

	thresholds := guardrail.DefaultThresholds()
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.timeout", "30s")
	v.SetDefault("log.level", "info")
	v.SetDefault("guardrails.default_region", guardrail.DefaultRegion)
	v.SetDefault("guardrails.max_text_length", 10000)
	v.SetDefault("guardrails.catalog_file", "")
	v.SetDefault("guardrails.thresholds.keyword_weight", thresholds.KeywordWeight)
	v.SetDefault("guardrails.thresholds.pattern_weight", thresholds.PatternWeight)
	v.SetDefault("guardrails.thresholds.escalation_score", thresholds.EscalationScore)
	v.SetDefault("guardrails.thresholds.max_response_length", thresholds.MaxResponseLength)
	v.SetDefault("guardrails.thresholds.min_response_length", thresholds.MinResponseLength)
	v.SetDefault("escalation.max_retries", 3)
	v.SetDefault("escalation.retry_interval", "200ms")
	v.SetDefault("escalation.dispatch_timeout", "30s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", "/metrics")

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, path := range paths {
		v.AddConfigPath(path)
	}

	v.SetEnvPrefix("GUARDRAILS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// config file is optional, defaults apply without one
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects settings the service cannot start with
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port)
	}
	if err := c.Guardrails.Thresholds.Validate(); err != nil {
		return fmt.Errorf("guardrails.thresholds: %w", err)
	}
	if c.Guardrails.MaxTextLength < c.Guardrails.Thresholds.MaxResponseLength {
		return fmt.Errorf("guardrails.max_text_length (%d) must not be below thresholds.max_response_length (%d)",
			c.Guardrails.MaxTextLength, c.Guardrails.Thresholds.MaxResponseLength)
	}
	for i, channel := range c.Escalation.Channels {
		if err := channel.Validate(); err != nil {
			return fmt.Errorf("escalation.channels[%d]: %w", i, err)
		}
	}
	return nil
}
