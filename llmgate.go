// Package llmgate provides a resilience and cost-optimization layer for
// LLM provider calls.
//
// Every call passes through a response cache, a per-identity rate limiter,
// and a per-provider circuit breaker before reaching a provider, and every
// attempt is recorded for cost accounting. Identical requests within the
// cache TTL are served from memory without spending tokens or money.
//
// Basic usage:
//
//	client, err := llmgate.New(
//	    llmgate.WithProvider("anthropic", anthropicProvider),
//	    llmgate.WithDefaultProvider("anthropic"),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	resp, err := client.GenerateText(ctx, &llmgate.Request{
//	    Prompt:   "Summarize this document: ...",
//	    UseCase:  "summary",
//	    Identity: "team-billing",
//	})
package llmgate

import (
	"github.com/fincore/llmgate/internal/cache"
	"github.com/fincore/llmgate/internal/config"
	"github.com/fincore/llmgate/internal/metrics"
	"github.com/fincore/llmgate/internal/pricing"
	"github.com/fincore/llmgate/internal/resilience"
)

// Version is the current version of the gateway.
const Version = "0.3.0"

// Re-exported types so library users do not need to import internal paths.
type (
	// Config is the full gateway configuration.
	Config = config.Config
	// ProviderConfig configures a single provider.
	ProviderConfig = config.ProviderConfig

	// CacheStats reports response cache counters.
	CacheStats = cache.Stats

	// BreakerSnapshot is a point-in-time circuit breaker view.
	BreakerSnapshot = resilience.Snapshot
	// RemainingTokens reports available rate limit tokens per window.
	RemainingTokens = resilience.Remaining

	// UsageSummary is an aggregate usage and cost report.
	UsageSummary = metrics.Summary
	// UsageFilter selects records for aggregate queries.
	UsageFilter = metrics.Filter
	// UsageRecord is a single call observation.
	UsageRecord = metrics.Record

	// ModelPricing defines per-model token pricing.
	ModelPricing = pricing.ModelPricing
)

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadFromFile(path)
}

// DefaultGatewayConfig returns the default gateway configuration.
func DefaultGatewayConfig() *Config {
	return config.DefaultConfig()
}
