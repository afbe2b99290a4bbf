package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const validYAML = `
server:
  port: 9090
providers:
  - name: claude
    type: anthropic
    api_key: test-key
    model: claude-3-haiku-20240307
  - name: gpt
    type: openai
    api_key: test-key
    model: gpt-4o-mini
  - name: local
    type: ollama
    base_url: http://localhost:11434
    model: llama3.2
routing:
  default_provider: claude
  use_cases:
    extraction: claude
    chat: gpt
  retry_count: 2
  retry_backoff: 500ms
rate_limit:
  enabled: true
  tokens_per_minute: 30
  tokens_per_hour: 500
cache:
  enabled: true
  max_entries: 200
  ttl: 30m
`

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 3, cfg.Routing.RetryCount)
	assert.Equal(t, time.Second, cfg.Routing.RetryBackoff)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.RecoveryTimeout)
	assert.Equal(t, 60, cfg.RateLimit.TokensPerMinute)
	assert.Equal(t, 1000, cfg.RateLimit.TokensPerHour)
	assert.Equal(t, 10, cfg.RateLimit.UseCaseCosts["extraction"])
	assert.Equal(t, time.Hour, cfg.Cache.TTL)
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	path := writeConfig(t, validYAML)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Len(t, cfg.Providers, 3)
	assert.Equal(t, "claude", cfg.Routing.DefaultProvider)
	assert.Equal(t, "gpt", cfg.Routing.UseCases["chat"])
	assert.Equal(t, 2, cfg.Routing.RetryCount)
	assert.Equal(t, 500*time.Millisecond, cfg.Routing.RetryBackoff)
	assert.Equal(t, 30, cfg.RateLimit.TokensPerMinute)
	assert.Equal(t, 30*time.Minute, cfg.Cache.TTL)

	// Unset fields keep defaults
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
}

func TestLoadExpandsEnvVars(t *testing.T) {
	t.Setenv("TEST_LLM_KEY", "secret-from-env")

	path := writeConfig(t, `
providers:
  - name: claude
    type: anthropic
    api_key: ${TEST_LLM_KEY}
    model: claude-3-haiku-20240307
`)

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.Providers[0].APIKey)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := LoadFromFile("/nonexistent/config.yaml")
	assert.Error(t, err)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "providers: [unclosed")
	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = -1 }},
		{"unnamed provider", func(c *Config) {
			c.Providers = []ProviderConfig{{Type: "openai", Model: "gpt-4o"}}
		}},
		{"duplicate provider", func(c *Config) {
			c.Providers = []ProviderConfig{
				{Name: "a", Type: "openai", Model: "gpt-4o"},
				{Name: "a", Type: "anthropic", Model: "claude-3-haiku"},
			}
		}},
		{"unknown provider type", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a", Type: "watson", Model: "m"}}
		}},
		{"provider without model", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a", Type: "openai"}}
		}},
		{"bedrock without region", func(c *Config) {
			c.Providers = []ProviderConfig{{Name: "a", Type: "bedrock", Model: "m"}}
		}},
		{"unknown default provider", func(c *Config) {
			c.Routing.DefaultProvider = "ghost"
		}},
		{"route to unknown provider", func(c *Config) {
			c.Routing.UseCases = map[string]string{"chat": "ghost"}
		}},
		{"negative retries", func(c *Config) { c.Routing.RetryCount = -1 }},
		{"success threshold above probe budget", func(c *Config) {
			c.Breaker.SuccessThreshold = 5
			c.Breaker.HalfOpenMaxProbes = 2
		}},
		{"zero minute budget", func(c *Config) { c.RateLimit.TokensPerMinute = 0 }},
		{"non-positive use case cost", func(c *Config) {
			c.RateLimit.UseCaseCosts = map[string]int{"chat": 0}
		}},
		{"unknown persistence", func(c *Config) { c.Cache.Persistence = "s3" }},
		{"disk persistence without dir", func(c *Config) { c.Cache.Persistence = "disk" }},
		{"redis persistence without addr", func(c *Config) { c.Cache.Persistence = "redis" }},
		{"unknown log level", func(c *Config) { c.Logging.Level = "verbose" }},
		{"unknown log format", func(c *Config) { c.Logging.Format = "xml" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestProviderByName(t *testing.T) {
	path := writeConfig(t, validYAML)
	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	p, ok := cfg.ProviderByName("gpt")
	require.True(t, ok)
	assert.Equal(t, "openai", p.Type)

	_, ok = cfg.ProviderByName("ghost")
	assert.False(t, ok)
}

func TestManagerGet(t *testing.T) {
	path := writeConfig(t, validYAML)

	m, err := NewManager(path, nil)
	require.NoError(t, err)
	defer m.Close()

	assert.Equal(t, 9090, m.Get().Server.Port)
}

func TestManagerRejectsBrokenInitialConfig(t *testing.T) {
	path := writeConfig(t, "server:\n  port: -5\n")

	_, err := NewManager(path, nil)
	assert.Error(t, err)
}
