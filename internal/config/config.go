// Package config handles configuration loading for stagecraft. It
// supports XDG config paths, project-level overrides, and environment
// variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for stagecraft.
type Config struct {
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
	Retry     RetryConfig     `mapstructure:"retry"`
	Store     StoreConfig     `mapstructure:"store"`
	Producer  ProducerConfig  `mapstructure:"producer"`
	Implement ImplementConfig `mapstructure:"implement"`
	Status    StatusConfig    `mapstructure:"status"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	Checks    []CheckConfig   `mapstructure:"checks"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey authenticates direct API access. ${VAR} references are
	// expanded.
	APIKey string `mapstructure:"api_key"`
	// Model overrides the default model for plan generation.
	Model string `mapstructure:"model"`
	// UseBedrock routes requests through AWS Bedrock instead of the
	// Anthropic API.
	UseBedrock bool `mapstructure:"use_bedrock"`
}

// RetryConfig bounds stage retries on gate escalation.
type RetryConfig struct {
	// MaxAttempts is the total attempts per stage, first try included.
	MaxAttempts int `mapstructure:"max_attempts"`
	// Backoff is the delay before the first retry; it doubles per
	// attempt.
	Backoff time.Duration `mapstructure:"backoff"`
}

// StoreConfig selects where handoffs persist.
type StoreConfig struct {
	// Path is the sqlite database file. Empty selects the in-memory
	// store, which loses runs on exit.
	Path string `mapstructure:"path"`
}

// ProducerConfig selects how plans are generated.
type ProducerConfig struct {
	// Kind is "claude" or "file".
	Kind string `mapstructure:"kind"`
	// PlanFile is the YAML plan path for the file producer.
	PlanFile string `mapstructure:"plan_file"`
}

// ImplementConfig selects how plan steps are applied.
type ImplementConfig struct {
	// Command is run once per step with STAGECRAFT_STEP_* variables
	// set. Empty selects the dry-run executor, which only logs.
	Command string `mapstructure:"command"`
}

// StatusConfig controls snapshot publishing.
type StatusConfig struct {
	// Dir receives one JSON snapshot file per run.
	Dir string `mapstructure:"dir"`
}

// RateLimitConfig throttles model API calls.
type RateLimitConfig struct {
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// CheckConfig declares one gate check. Kind selects the implementation;
// the remaining fields classify and parameterize it.
type CheckConfig struct {
	// Name identifies the check. Must be unique.
	Name string `mapstructure:"name"`
	// Kind is one of: tests-exist, dependency-resolution,
	// mutation-score, command.
	Kind string `mapstructure:"kind"`
	// Required makes a failure block the run.
	Required bool `mapstructure:"required"`
	// Retryable classifies failures as transient.
	Retryable bool `mapstructure:"retryable"`
	// Threshold is the minimum score for scored checks.
	Threshold *float64 `mapstructure:"threshold"`
	// Command is the shell command for command checks.
	Command string `mapstructure:"command"`
	// Timeout bounds command checks.
	Timeout time.Duration `mapstructure:"timeout"`
	// Report is the report file for mutation-score checks.
	Report string `mapstructure:"report"`
}

// Load loads configuration with the following precedence, highest
// first:
//  1. Environment variables (ANTHROPIC_API_KEY)
//  2. Project config (.stagecraft.yaml in the current directory or a
//     parent)
//  3. User config (~/.config/stagecraft/config.yaml)
//  4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file.
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)

	v.SetDefault("retry.max_attempts", 3)
	v.SetDefault("retry.backoff", "2s")

	v.SetDefault("store.path", filepath.Join(".stagecraft", "stagecraft.db"))
	v.SetDefault("status.dir", filepath.Join(".stagecraft", "status"))

	v.SetDefault("producer.kind", "claude")
	v.SetDefault("producer.plan_file", "")
	v.SetDefault("implement.command", "")

	v.SetDefault("rate_limit.requests_per_second", 1.0)
	v.SetDefault("rate_limit.burst", 2)
}

// getUserConfigDir returns the XDG config directory for stagecraft.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "stagecraft")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "stagecraft")
	}
	return filepath.Join(home, ".config", "stagecraft")
}

// findProjectConfig searches for .stagecraft.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".stagecraft.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Retry: RetryConfig{
			MaxAttempts: 3,
			Backoff:     2 * time.Second,
		},
		Store:  StoreConfig{Path: filepath.Join(".stagecraft", "stagecraft.db")},
		Status: StatusConfig{Dir: filepath.Join(".stagecraft", "status")},
		Producer: ProducerConfig{
			Kind: "claude",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 1,
			Burst:             2,
		},
	}
}
