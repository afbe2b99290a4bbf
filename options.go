package llmgate

import (
	"log/slog"
	"time"

	"github.com/fincore/llmgate/internal/cache"
	"github.com/fincore/llmgate/internal/pricing"
	"github.com/fincore/llmgate/internal/resilience"
	"github.com/fincore/llmgate/pkg/provider"
)

// Option configures the Client.
type Option func(*clientOptions)

type clientOptions struct {
	providers       map[string]provider.Provider
	defaultProvider string
	useCaseRoutes   map[string]string

	retryCount   int
	retryBackoff time.Duration
	maxBackoff   time.Duration
	callTimeout  time.Duration

	cacheEnabled   bool
	cacheEntries   int
	cacheTTL       time.Duration
	cacheKeyPrefix string
	cachePersister cache.Persister

	breakerConfig resilience.CircuitBreakerConfig

	rateLimitEnabled     bool
	tokensPerMinute      int
	tokensPerHour        int
	useCaseCosts         map[string]int
	defaultCost          int
	rateLimitBeforeCache bool

	pricer      *pricing.Calculator
	metricsFile string
	logger      *slog.Logger
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		providers:     make(map[string]provider.Provider),
		useCaseRoutes: make(map[string]string),

		retryCount:   3,
		retryBackoff: time.Second,
		maxBackoff:   5 * time.Second,
		callTimeout:  30 * time.Second,

		cacheEnabled: true,
		cacheEntries: 1000,
		cacheTTL:     time.Hour,

		breakerConfig: resilience.DefaultCircuitBreakerConfig(),

		rateLimitEnabled: true,
		tokensPerMinute:  60,
		tokensPerHour:    1000,
		useCaseCosts:     make(map[string]int),
		defaultCost:      1,
	}
}

// WithProvider registers a provider instance under a routing name.
func WithProvider(name string, p provider.Provider) Option {
	return func(o *clientOptions) { o.providers[name] = p }
}

// WithDefaultProvider sets the provider used for unrouted use cases.
func WithDefaultProvider(name string) Option {
	return func(o *clientOptions) { o.defaultProvider = name }
}

// WithUseCaseRoute routes a use case to a named provider.
func WithUseCaseRoute(useCase, providerName string) Option {
	return func(o *clientOptions) { o.useCaseRoutes[useCase] = providerName }
}

// WithRetry configures the retry loop: attempt count, initial backoff,
// and the backoff cap.
func WithRetry(count int, backoff, maxBackoff time.Duration) Option {
	return func(o *clientOptions) {
		o.retryCount = count
		if backoff > 0 {
			o.retryBackoff = backoff
		}
		if maxBackoff > 0 {
			o.maxBackoff = maxBackoff
		}
	}
}

// WithCallTimeout bounds each individual provider attempt.
func WithCallTimeout(d time.Duration) Option {
	return func(o *clientOptions) { o.callTimeout = d }
}

// WithCache configures the response cache size and TTL.
func WithCache(maxEntries int, ttl time.Duration) Option {
	return func(o *clientOptions) {
		o.cacheEnabled = true
		o.cacheEntries = maxEntries
		o.cacheTTL = ttl
	}
}

// WithCacheDisabled turns off response caching.
func WithCacheDisabled() Option {
	return func(o *clientOptions) { o.cacheEnabled = false }
}

// WithCacheKeyPrefix namespaces cache keys, for shared persistence backends.
func WithCacheKeyPrefix(prefix string) Option {
	return func(o *clientOptions) { o.cacheKeyPrefix = prefix }
}

// WithCachePersister mirrors cache entries to a durable backend.
func WithCachePersister(p cache.Persister) Option {
	return func(o *clientOptions) { o.cachePersister = p }
}

// WithCircuitBreaker configures the per-provider circuit breakers.
func WithCircuitBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(o *clientOptions) { o.breakerConfig = cfg }
}

// WithRateLimit sets the per-identity window capacities.
func WithRateLimit(tokensPerMinute, tokensPerHour int) Option {
	return func(o *clientOptions) {
		o.rateLimitEnabled = true
		o.tokensPerMinute = tokensPerMinute
		o.tokensPerHour = tokensPerHour
	}
}

// WithRateLimitDisabled turns off rate limiting.
func WithRateLimitDisabled() Option {
	return func(o *clientOptions) { o.rateLimitEnabled = false }
}

// WithUseCaseCost sets the rate limit token cost of a use case.
func WithUseCaseCost(useCase string, cost int) Option {
	return func(o *clientOptions) { o.useCaseCosts[useCase] = cost }
}

// WithDefaultCost sets the token cost for use cases without an explicit cost.
func WithDefaultCost(cost int) Option {
	return func(o *clientOptions) { o.defaultCost = cost }
}

// WithRateLimitBeforeCache makes cache hits consume rate limit tokens.
// By default a cache hit bypasses the limiter since it costs nothing.
func WithRateLimitBeforeCache(v bool) Option {
	return func(o *clientOptions) { o.rateLimitBeforeCache = v }
}

// WithPricing overrides the default pricing tables.
func WithPricing(c *pricing.Calculator) Option {
	return func(o *clientOptions) { o.pricer = c }
}

// WithMetricsFile appends every usage record to a JSONL file.
func WithMetricsFile(path string) Option {
	return func(o *clientOptions) { o.metricsFile = path }
}

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *clientOptions) { o.logger = logger }
}
