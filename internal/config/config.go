// Package config provides YAML configuration with hot-reload support.
// Environment variables in the file are expanded, so API keys can stay
// out of version control.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete gateway configuration.
type Config struct {
	Server    ServerConfig     `yaml:"server"`
	Providers []ProviderConfig `yaml:"providers"`
	Routing   RoutingConfig    `yaml:"routing"`
	Cache     CacheConfig      `yaml:"cache"`
	Breaker   BreakerConfig    `yaml:"circuit_breaker"`
	RateLimit RateLimitConfig  `yaml:"rate_limit"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Logging   LoggingConfig    `yaml:"logging"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout"`
}

// ProviderConfig defines a single LLM provider configuration.
type ProviderConfig struct {
	Name    string            `yaml:"name"`
	Type    string            `yaml:"type"` // anthropic, openai, ollama, bedrock
	APIKey  string            `yaml:"api_key"`
	BaseURL string            `yaml:"base_url"`
	Model   string            `yaml:"model"`
	Region  string            `yaml:"region"` // bedrock only
	Headers map[string]string `yaml:"headers"`
}

// RoutingConfig maps use cases to providers and tunes the retry loop.
type RoutingConfig struct {
	// DefaultProvider serves any use case without an explicit route.
	DefaultProvider string `yaml:"default_provider"`
	// UseCases maps a use case name to a provider name.
	UseCases map[string]string `yaml:"use_cases"`

	RetryCount   int           `yaml:"retry_count"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
	MaxBackoff   time.Duration `yaml:"max_backoff"`
	CallTimeout  time.Duration `yaml:"call_timeout"`
}

// CacheConfig defines response cache parameters.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
	KeyPrefix  string        `yaml:"key_prefix"`

	// Persistence selects the durable backend: "", "disk", or "redis".
	Persistence string      `yaml:"persistence"`
	Dir         string      `yaml:"dir"` // disk backend
	Redis       RedisConfig `yaml:"redis"`

	// RateLimitBeforeCache makes cache hits consume rate limit tokens.
	// Off by default: a hit costs nothing, so it spends nothing.
	RateLimitBeforeCache bool `yaml:"rate_limit_before_cache"`
}

// RedisConfig contains Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// BreakerConfig defines circuit breaker parameters shared by all providers.
type BreakerConfig struct {
	FailureThreshold  int           `yaml:"failure_threshold"`
	SuccessThreshold  int           `yaml:"success_threshold"`
	RecoveryTimeout   time.Duration `yaml:"recovery_timeout"`
	HalfOpenMaxProbes int           `yaml:"half_open_max_probes"`
}

// RateLimitConfig defines per-identity request budgets.
type RateLimitConfig struct {
	Enabled         bool `yaml:"enabled"`
	TokensPerMinute int  `yaml:"tokens_per_minute"`
	TokensPerHour   int  `yaml:"tokens_per_hour"`
	// UseCaseCosts weights expensive operations. Unlisted use cases cost
	// DefaultCost tokens.
	UseCaseCosts map[string]int `yaml:"use_case_costs"`
	DefaultCost  int            `yaml:"default_cost"`
}

// MetricsConfig contains usage tracking settings.
type MetricsConfig struct {
	Enabled  bool   `yaml:"enabled"`
	FilePath string `yaml:"file_path"` // JSONL sink, empty = memory only
	Path     string `yaml:"path"`      // Prometheus scrape path
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 120 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Routing: RoutingConfig{
			RetryCount:   3,
			RetryBackoff: time.Second,
			MaxBackoff:   5 * time.Second,
			CallTimeout:  30 * time.Second,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxEntries: 1000,
			TTL:        time.Hour,
		},
		Breaker: BreakerConfig{
			FailureThreshold:  5,
			SuccessThreshold:  2,
			RecoveryTimeout:   60 * time.Second,
			HalfOpenMaxProbes: 3,
		},
		RateLimit: RateLimitConfig{
			Enabled:         true,
			TokensPerMinute: 60,
			TokensPerHour:   1000,
			DefaultCost:     1,
			UseCaseCosts: map[string]int{
				"extraction": 10,
				"chat":       5,
				"summary":    2,
				"analysis":   2,
			},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// LoadFromFile reads and parses a YAML configuration file.
// Environment variables like ${ANTHROPIC_API_KEY} are expanded.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := DefaultConfig()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	names := make(map[string]bool, len(c.Providers))
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate provider name: %s", p.Name)
		}
		names[p.Name] = true

		switch p.Type {
		case "anthropic", "openai", "ollama", "bedrock":
		default:
			return fmt.Errorf("provider %s: unknown type %q", p.Name, p.Type)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s: model is required", p.Name)
		}
		if p.Type == "bedrock" && p.Region == "" {
			return fmt.Errorf("provider %s: region is required for bedrock", p.Name)
		}
	}

	if c.Routing.DefaultProvider != "" && !names[c.Routing.DefaultProvider] {
		return fmt.Errorf("default_provider %q is not a configured provider", c.Routing.DefaultProvider)
	}
	for useCase, providerName := range c.Routing.UseCases {
		if !names[providerName] {
			return fmt.Errorf("use case %q routes to unknown provider %q", useCase, providerName)
		}
	}

	if c.Routing.RetryCount < 0 {
		return fmt.Errorf("retry_count must not be negative")
	}

	if c.Breaker.SuccessThreshold > 0 && c.Breaker.HalfOpenMaxProbes > 0 &&
		c.Breaker.SuccessThreshold > c.Breaker.HalfOpenMaxProbes {
		return fmt.Errorf("circuit breaker success_threshold (%d) must not exceed half_open_max_probes (%d)",
			c.Breaker.SuccessThreshold, c.Breaker.HalfOpenMaxProbes)
	}

	if c.RateLimit.Enabled {
		if c.RateLimit.TokensPerMinute <= 0 {
			return fmt.Errorf("tokens_per_minute must be positive")
		}
		if c.RateLimit.TokensPerHour <= 0 {
			return fmt.Errorf("tokens_per_hour must be positive")
		}
		for useCase, cost := range c.RateLimit.UseCaseCosts {
			if cost <= 0 {
				return fmt.Errorf("use case %q: cost must be positive", useCase)
			}
		}
	}

	switch c.Cache.Persistence {
	case "", "disk", "redis":
	default:
		return fmt.Errorf("unknown cache persistence backend %q", c.Cache.Persistence)
	}
	if c.Cache.Persistence == "disk" && c.Cache.Dir == "" {
		return fmt.Errorf("cache dir is required for disk persistence")
	}
	if c.Cache.Persistence == "redis" && c.Cache.Redis.Addr == "" {
		return fmt.Errorf("redis addr is required for redis persistence")
	}

	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}

// ProviderByName returns the configuration for a named provider.
func (c *Config) ProviderByName(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
