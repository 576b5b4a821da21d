// Package config loads broker configuration from YAML with environment
// overrides. Defaults are complete enough to run against local Ollama with
// no config file at all.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stratoroute/model-broker/internal/middleware"
	"github.com/stratoroute/model-broker/internal/monitor"
	"github.com/stratoroute/model-broker/internal/providers/anthropic"
	"github.com/stratoroute/model-broker/internal/providers/gemini"
	"github.com/stratoroute/model-broker/internal/providers/ollama"
	"github.com/stratoroute/model-broker/internal/providers/openai"
	"github.com/stratoroute/model-broker/internal/quota"
	"github.com/stratoroute/model-broker/internal/security"
	"github.com/stratoroute/model-broker/internal/server"
	"github.com/stratoroute/model-broker/internal/types"
)

// Config represents the complete application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Providers ProvidersConfig `yaml:"providers"`
	Quota     quota.Config    `yaml:"quota"`
	Monitor   monitor.Config  `yaml:"monitor"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
}

// ProvidersConfig holds configuration for all providers. A nil entry
// disables the provider.
type ProvidersConfig struct {
	OpenAI    *openai.Config    `yaml:"openai"`
	Anthropic *anthropic.Config `yaml:"anthropic"`
	Gemini    *gemini.Config    `yaml:"gemini"`
	Ollama    *ollama.Config    `yaml:"ollama"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" or "text"
	Output string `yaml:"output"` // "stdout", "stderr", or file path
}

// SecurityConfig holds security-related configuration.
type SecurityConfig struct {
	Auth       security.Config           `yaml:"auth"`
	RateLimit  security.RateLimitConfig  `yaml:"rate_limit"`
	Validation middleware.ValidationConfig `yaml:"validation"`
}

// LoadConfig loads configuration from file and environment variables.
func LoadConfig(configPath string) (*Config, error) {
	config := &Config{}
	config.setDefaults()

	if configPath != "" {
		if err := config.loadFromFile(configPath); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	config.loadFromEnv()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

func (c *Config) setDefaults() {
	c.Server = ServerConfig{
		Port:           "8080",
		ReadTimeout:    30 * time.Second,
		WriteTimeout:   5 * time.Minute, // streaming responses hold the connection
		MaxHeaderBytes: 1 << 20,
	}

	c.Logging = LoggingConfig{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	}

	c.Quota = quota.Config{
		InstantDailyCap: quota.DefaultInstantDailyCap,
	}

	c.Security = SecurityConfig{
		Auth: security.Config{
			RequireAuth:    false,
			JWTExpiry:      24 * time.Hour,
			AllowedOrigins: []string{"*"},
		},
		RateLimit: security.RateLimitConfig{
			Enabled:           false,
			RequestsPerMinute: 60,
		},
		Validation: middleware.ValidationConfig{
			Enabled:  false,
			SpecPath: "docs/openapi.yaml",
		},
	}

	c.Providers = ProvidersConfig{
		OpenAI: &openai.Config{
			Models: []types.ModelInfo{
				{
					Name:             "gpt-4o",
					ProviderModelID:  "gpt-4o",
					InputCostPer1K:   0.005,
					OutputCostPer1K:  0.015,
					MaxContextWindow: 128000,
					MaxOutputTokens:  4096,
					BaseLatencyMs:    900,
					BaselineQuality:  0.92,
					Capabilities:     []string{"chat", "tools", "vision"},
				},
				{
					Name:             "gpt-4o-mini",
					ProviderModelID:  "gpt-4o-mini",
					InputCostPer1K:   0.00015,
					OutputCostPer1K:  0.0006,
					MaxContextWindow: 128000,
					MaxOutputTokens:  16384,
					BaseLatencyMs:    500,
					BaselineQuality:  0.82,
					Capabilities:     []string{"chat", "tools", "vision"},
				},
			},
			Timeout: 120 * time.Second,
		},
		Anthropic: &anthropic.Config{
			Models: []types.ModelInfo{
				{
					Name:             "claude-3-5-sonnet-20241022",
					ProviderModelID:  "claude-3-5-sonnet-20241022",
					InputCostPer1K:   0.003,
					OutputCostPer1K:  0.015,
					MaxContextWindow: 200000,
					MaxOutputTokens:  8192,
					BaseLatencyMs:    1100,
					BaselineQuality:  0.93,
					Capabilities:     []string{"chat", "tools", "vision"},
				},
				{
					Name:             "claude-3-haiku-20240307",
					ProviderModelID:  "claude-3-haiku-20240307",
					InputCostPer1K:   0.00025,
					OutputCostPer1K:  0.00125,
					MaxContextWindow: 200000,
					MaxOutputTokens:  4096,
					BaseLatencyMs:    600,
					BaselineQuality:  0.80,
					Capabilities:     []string{"chat", "tools"},
				},
			},
			Timeout: 120 * time.Second,
		},
		Gemini: &gemini.Config{
			Models: []types.ModelInfo{
				{
					Name:             "gemini-1.5-flash",
					ProviderModelID:  "gemini-1.5-flash",
					InputCostPer1K:   0.000075,
					OutputCostPer1K:  0.0003,
					MaxContextWindow: 1000000,
					MaxOutputTokens:  8192,
					BaseLatencyMs:    700,
					BaselineQuality:  0.79,
					Capabilities:     []string{"chat", "tools", "vision"},
				},
				{
					Name:             "gemini-1.5-pro",
					ProviderModelID:  "gemini-1.5-pro",
					InputCostPer1K:   0.00125,
					OutputCostPer1K:  0.005,
					MaxContextWindow: 2000000,
					MaxOutputTokens:  8192,
					BaseLatencyMs:    1300,
					BaselineQuality:  0.90,
					Capabilities:     []string{"chat", "tools", "vision"},
				},
			},
			Timeout: 120 * time.Second,
		},
		Ollama: &ollama.Config{
			Models: []types.ModelInfo{
				{
					Name:             "llama3.1",
					ProviderModelID:  "llama3.1",
					InputCostPer1K:   0,
					OutputCostPer1K:  0,
					MaxContextWindow: 32768,
					MaxOutputTokens:  4096,
					BaseLatencyMs:    2500,
					BaselineQuality:  0.65,
					Capabilities:     []string{"chat"},
				},
			},
			Timeout: 300 * time.Second,
		},
	}
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse YAML config: %w", err)
	}
	return nil
}

func (c *Config) loadFromEnv() {
	if port := os.Getenv("MODEL_BROKER_PORT"); port != "" {
		c.Server.Port = port
	}
	if level := os.Getenv("MODEL_BROKER_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
	if format := os.Getenv("MODEL_BROKER_LOG_FORMAT"); format != "" {
		c.Logging.Format = format
	}
	if secret := os.Getenv("MODEL_BROKER_JWT_SECRET"); secret != "" {
		c.Security.Auth.JWTSecret = secret
	}
	if cap := os.Getenv("MODEL_BROKER_INSTANT_CAP"); cap != "" {
		if n, err := strconv.Atoi(cap); err == nil && n > 0 {
			c.Quota.InstantDailyCap = n
		}
	}

	// Provider credentials double as single-key default pools when no pool
	// configuration was given.
	if key := os.Getenv("OPENAI_API_KEY"); key != "" && c.Providers.OpenAI != nil {
		c.Providers.OpenAI.APIKey = key
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" && c.Providers.Anthropic != nil {
		c.Providers.Anthropic.APIKey = key
	}
	if key := os.Getenv("GEMINI_API_KEY"); key != "" && c.Providers.Gemini != nil {
		c.Providers.Gemini.APIKey = key
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" && c.Providers.Ollama != nil {
		c.Providers.Ollama.BaseURL = host
	}
}

func (c *Config) validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port cannot be empty")
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true,
	}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	enabled := 0
	if c.Providers.OpenAI != nil && len(c.Providers.OpenAI.Models) > 0 {
		enabled++
	}
	if c.Providers.Anthropic != nil && len(c.Providers.Anthropic.Models) > 0 {
		enabled++
	}
	if c.Providers.Gemini != nil && len(c.Providers.Gemini.Models) > 0 {
		enabled++
	}
	if c.Providers.Ollama != nil && len(c.Providers.Ollama.Models) > 0 {
		enabled++
	}
	if enabled == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	for _, pool := range c.Quota.Pools {
		if pool.ID == "" || pool.Provider == "" {
			return fmt.Errorf("pool id and provider are required")
		}
		if pool.DailyLimit <= 0 {
			return fmt.Errorf("pool %s: daily limit must be positive", pool.ID)
		}
	}

	if c.Security.Auth.RequireAuth && c.Security.Auth.JWTSecret == "" && len(c.Security.Auth.APIKeys) == 0 {
		return fmt.Errorf("auth is required but no API keys or JWT secret configured")
	}

	return nil
}

// Catalog builds the predictor's provider-to-models map from the enabled
// providers.
func (c *Config) Catalog() map[string][]types.ModelInfo {
	catalog := make(map[string][]types.ModelInfo)
	if c.Providers.OpenAI != nil && len(c.Providers.OpenAI.Models) > 0 {
		catalog["openai"] = c.Providers.OpenAI.Models
	}
	if c.Providers.Anthropic != nil && len(c.Providers.Anthropic.Models) > 0 {
		catalog["anthropic"] = c.Providers.Anthropic.Models
	}
	if c.Providers.Gemini != nil && len(c.Providers.Gemini.Models) > 0 {
		catalog["gemini"] = c.Providers.Gemini.Models
	}
	if c.Providers.Ollama != nil && len(c.Providers.Ollama.Models) > 0 {
		catalog["ollama"] = c.Providers.Ollama.Models
	}
	return catalog
}

// QuotaConfig returns the pool configuration, synthesizing one pool per
// provider credential when none were configured explicitly.
func (c *Config) QuotaConfig() *quota.Config {
	cfg := c.Quota
	if len(cfg.Pools) == 0 {
		cfg.Pools = c.defaultPools()
	}
	return &cfg
}

func (c *Config) defaultPools() []types.PoolConfig {
	var pools []types.PoolConfig
	if c.Providers.OpenAI != nil && c.Providers.OpenAI.APIKey != "" {
		pools = append(pools, types.PoolConfig{
			ID: "openai-default", Provider: "openai",
			APIKey: c.Providers.OpenAI.APIKey, DailyLimit: 10000, Priority: 1,
		})
	}
	if c.Providers.Anthropic != nil && c.Providers.Anthropic.APIKey != "" {
		pools = append(pools, types.PoolConfig{
			ID: "anthropic-default", Provider: "anthropic",
			APIKey: c.Providers.Anthropic.APIKey, DailyLimit: 10000, Priority: 1,
		})
	}
	if c.Providers.Gemini != nil && c.Providers.Gemini.APIKey != "" {
		pools = append(pools, types.PoolConfig{
			ID: "gemini-default", Provider: "gemini",
			APIKey: c.Providers.Gemini.APIKey, DailyLimit: 10000, Priority: 1,
		})
	}
	if c.Providers.Ollama != nil && len(c.Providers.Ollama.Models) > 0 {
		// Local inference needs no key; the pool exists so routing and quota
		// accounting treat it like any other provider.
		pools = append(pools, types.PoolConfig{
			ID: "ollama-local", Provider: "ollama",
			DailyLimit: 1000000, Priority: 10,
		})
	}
	return pools
}

// ToServerConfig converts to the server package's config shape.
func (c *Config) ToServerConfig() *server.Config {
	return &server.Config{
		Port:           c.Server.Port,
		ReadTimeout:    c.Server.ReadTimeout,
		WriteTimeout:   c.Server.WriteTimeout,
		MaxHeaderBytes: c.Server.MaxHeaderBytes,
		Security: &middleware.StackConfig{
			Auth:       &c.Security.Auth,
			RateLimit:  &c.Security.RateLimit,
			Validation: &c.Security.Validation,
		},
	}
}
