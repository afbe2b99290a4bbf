package llmgate

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/fincore/llmgate/internal/cache"
	"github.com/fincore/llmgate/internal/config"
	"github.com/fincore/llmgate/internal/metrics"
	"github.com/fincore/llmgate/internal/pricing"
	"github.com/fincore/llmgate/internal/resilience"
	"github.com/fincore/llmgate/pkg/errors"
	"github.com/fincore/llmgate/pkg/provider"
	"github.com/fincore/llmgate/providers"
)

// Request is a single generation request routed through the gateway.
type Request struct {
	// Prompt is the user prompt. Required.
	Prompt string
	// System is an optional system prompt.
	System string
	// Temperature overrides the provider default when set.
	Temperature *float64
	// MaxTokens caps the response length when positive.
	MaxTokens int

	// UseCase selects the provider route and the rate limit cost.
	UseCase string
	// Identity is the rate limit subject, typically an API key or team.
	// Empty identities share the "anonymous" budget.
	Identity string
	// Provider overrides use-case routing with an explicit provider name.
	Provider string

	// Extra holds provider-specific parameters that affect cache identity.
	Extra map[string]string
}

// Response is the outcome of a successful gateway call.
type Response struct {
	RequestID    string  `json:"request_id"`
	Text         string  `json:"text"`
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	InputTokens  int     `json:"input_tokens"`
	OutputTokens int     `json:"output_tokens"`
	Cost         float64 `json:"cost"`
	CacheHit     bool    `json:"cache_hit"`
	LatencyMS    float64 `json:"latency_ms"`
}

// Client routes generation requests through the cache, rate limiter, and
// circuit breakers, retrying transient provider failures with exponential
// backoff. It is safe for concurrent use.
type Client struct {
	providers       map[string]provider.Provider
	defaultProvider string
	useCaseRoutes   map[string]string

	retryCount   int
	retryBackoff time.Duration
	maxBackoff   time.Duration
	callTimeout  time.Duration

	fingerprinter *cache.Fingerprinter
	cache         *cache.Store

	breakers *resilience.Registry
	limiter  *resilience.RateLimiter

	useCaseCosts         map[string]int
	defaultCost          int
	rateLimitBeforeCache bool

	pricer  *pricing.Calculator
	tracker *metrics.Tracker
	logger  *slog.Logger
}

// New creates a gateway client from options.
// At least one provider and a resolvable default route are required.
func New(opts ...Option) (*Client, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	if len(o.providers) == 0 {
		return nil, fmt.Errorf("llmgate: at least one provider is required")
	}
	if o.defaultProvider == "" && len(o.providers) == 1 {
		for name := range o.providers {
			o.defaultProvider = name
		}
	}
	if o.defaultProvider != "" {
		if _, ok := o.providers[o.defaultProvider]; !ok {
			return nil, fmt.Errorf("llmgate: default provider %q is not registered", o.defaultProvider)
		}
	}
	for useCase, name := range o.useCaseRoutes {
		if _, ok := o.providers[name]; !ok {
			return nil, fmt.Errorf("llmgate: use case %q routes to unregistered provider %q", useCase, name)
		}
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	pricer := o.pricer
	if pricer == nil {
		pricer = pricing.NewCalculator(nil)
	}

	tracker, err := metrics.NewTracker(metrics.TrackerConfig{
		FilePath: o.metricsFile,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("llmgate: init usage tracker: %w", err)
	}

	c := &Client{
		providers:       o.providers,
		defaultProvider: o.defaultProvider,
		useCaseRoutes:   o.useCaseRoutes,

		retryCount:   o.retryCount,
		retryBackoff: o.retryBackoff,
		maxBackoff:   o.maxBackoff,
		callTimeout:  o.callTimeout,

		fingerprinter: cache.NewFingerprinter(o.cacheKeyPrefix),

		breakers: resilience.NewRegistry(o.breakerConfig, logger),

		useCaseCosts:         o.useCaseCosts,
		defaultCost:          o.defaultCost,
		rateLimitBeforeCache: o.rateLimitBeforeCache,

		pricer:  pricer,
		tracker: tracker,
		logger:  logger,
	}

	if o.cacheEnabled {
		c.cache = cache.NewStore(cache.Config{
			MaxEntries: o.cacheEntries,
			TTL:        o.cacheTTL,
			Pricer:     pricer,
			Persister:  o.cachePersister,
			Logger:     logger,
		})
		if o.cachePersister != nil {
			loaded, err := c.cache.LoadPersisted(context.Background())
			if err != nil {
				logger.Warn("cache warm load failed", "error", err)
			} else if loaded > 0 {
				logger.Info("cache warmed from persistence", "entries", loaded)
			}
		}
	}

	if o.rateLimitEnabled {
		c.limiter = resilience.NewRateLimiter(resilience.RateLimiterConfig{
			TokensPerMinute: o.tokensPerMinute,
			TokensPerHour:   o.tokensPerHour,
			Logger:          logger,
		})
	}

	return c, nil
}

// NewFromConfig builds a client from a loaded configuration, creating
// provider instances through the provider registry.
func NewFromConfig(cfg *config.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := []Option{
		WithLogger(logger),
		WithRetry(cfg.Routing.RetryCount, cfg.Routing.RetryBackoff, cfg.Routing.MaxBackoff),
		WithCallTimeout(cfg.Routing.CallTimeout),
		WithDefaultCost(cfg.RateLimit.DefaultCost),
		WithRateLimitBeforeCache(cfg.Cache.RateLimitBeforeCache),
	}

	for _, pc := range cfg.Providers {
		p, err := providers.Create(provider.Config{
			Name:    pc.Name,
			Type:    pc.Type,
			APIKey:  pc.APIKey,
			BaseURL: pc.BaseURL,
			Model:   pc.Model,
			Region:  pc.Region,
			Headers: pc.Headers,
		})
		if err != nil {
			return nil, fmt.Errorf("create provider %s: %w", pc.Name, err)
		}
		opts = append(opts, WithProvider(pc.Name, p))
	}

	if cfg.Routing.DefaultProvider != "" {
		opts = append(opts, WithDefaultProvider(cfg.Routing.DefaultProvider))
	}
	for useCase, name := range cfg.Routing.UseCases {
		opts = append(opts, WithUseCaseRoute(useCase, name))
	}

	if cfg.Cache.Enabled {
		opts = append(opts, WithCache(cfg.Cache.MaxEntries, cfg.Cache.TTL))
		if cfg.Cache.KeyPrefix != "" {
			opts = append(opts, WithCacheKeyPrefix(cfg.Cache.KeyPrefix))
		}
		persister, err := buildPersister(cfg)
		if err != nil {
			return nil, err
		}
		if persister != nil {
			opts = append(opts, WithCachePersister(persister))
		}
	} else {
		opts = append(opts, WithCacheDisabled())
	}

	opts = append(opts, WithCircuitBreaker(resilience.CircuitBreakerConfig{
		FailureThreshold:  cfg.Breaker.FailureThreshold,
		SuccessThreshold:  cfg.Breaker.SuccessThreshold,
		RecoveryTimeout:   cfg.Breaker.RecoveryTimeout,
		HalfOpenMaxProbes: cfg.Breaker.HalfOpenMaxProbes,
	}))

	if cfg.RateLimit.Enabled {
		opts = append(opts, WithRateLimit(cfg.RateLimit.TokensPerMinute, cfg.RateLimit.TokensPerHour))
		for useCase, cost := range cfg.RateLimit.UseCaseCosts {
			opts = append(opts, WithUseCaseCost(useCase, cost))
		}
	} else {
		opts = append(opts, WithRateLimitDisabled())
	}

	if cfg.Metrics.Enabled && cfg.Metrics.FilePath != "" {
		opts = append(opts, WithMetricsFile(cfg.Metrics.FilePath))
	}

	return New(opts...)
}

func buildPersister(cfg *config.Config) (cache.Persister, error) {
	switch cfg.Cache.Persistence {
	case "":
		return nil, nil
	case "disk":
		return cache.NewDiskPersister(cfg.Cache.Dir)
	case "redis":
		return cache.NewRedisPersister(context.Background(), cache.RedisPersisterConfig{
			Addr:      cfg.Cache.Redis.Addr,
			Password:  cfg.Cache.Redis.Password,
			DB:        cfg.Cache.Redis.DB,
			KeyPrefix: cfg.Cache.KeyPrefix,
			TTL:       cfg.Cache.TTL,
		})
	default:
		return nil, fmt.Errorf("unknown cache persistence backend %q", cfg.Cache.Persistence)
	}
}

// GenerateText routes a text generation request through the gateway.
func (c *Client) GenerateText(ctx context.Context, req *Request) (*Response, error) {
	return c.generate(ctx, req, false)
}

// ExtractStructured routes a structured-output request through the gateway.
// The response text is guaranteed to be valid JSON.
func (c *Client) ExtractStructured(ctx context.Context, req *Request) (*Response, error) {
	return c.generate(ctx, req, true)
}

func (c *Client) generate(ctx context.Context, req *Request, structured bool) (*Response, error) {
	if req == nil || req.Prompt == "" {
		return nil, fmt.Errorf("llmgate: prompt is required")
	}

	prov, err := c.resolveProvider(req)
	if err != nil {
		return nil, err
	}

	requestID := uuid.NewString()
	identity := req.Identity
	if identity == "" {
		identity = "anonymous"
	}

	fingerprint := c.fingerprinter.Fingerprint(cache.FingerprintParams{
		Provider:    prov.Name(),
		Model:       prov.Model(),
		Prompt:      req.Prompt,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		UseCase:     req.UseCase,
		Extra:       req.Extra,
	})

	// A cache hit costs nothing, so by default it is served before the
	// rate limiter is consulted.
	if !c.rateLimitBeforeCache {
		if resp := c.lookupCache(ctx, requestID, req, prov, fingerprint, structured); resp != nil {
			return resp, nil
		}
	}

	if err := c.checkRateLimit(identity, req, prov, requestID); err != nil {
		return nil, err
	}

	if c.rateLimitBeforeCache {
		if resp := c.lookupCache(ctx, requestID, req, prov, fingerprint, structured); resp != nil {
			return resp, nil
		}
	}

	breaker := c.breakers.Get(prov.Name())
	if !breaker.Allow() {
		metrics.CircuitBreakerRejections.WithLabelValues(prov.Name()).Inc()
		c.updateBreakerGauge(prov.Name())
		rejErr := errors.NewCircuitOpen(prov.Name())
		c.record(requestID, req, prov, 0, nil, rejErr)
		return nil, rejErr
	}

	start := time.Now()
	result, err := c.executeWithRetry(ctx, prov, req, structured)
	latencyMS := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		if errors.CountsAsBreakerFailure(err) {
			breaker.RecordFailure()
		} else {
			// The provider answered at the transport level, so the
			// breaker sees a success; this also returns the half-open
			// probe slot the call consumed.
			breaker.RecordSuccess()
		}
		c.updateBreakerGauge(prov.Name())
		c.record(requestID, req, prov, latencyMS, nil, err)
		return nil, err
	}

	breaker.RecordSuccess()
	c.updateBreakerGauge(prov.Name())

	if c.cache != nil {
		c.cache.Store(ctx, &cache.Entry{
			Fingerprint:  fingerprint,
			Text:         result.Text,
			Provider:     result.Provider,
			Model:        result.Model,
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
		})
	}

	cost := c.pricer.Calculate(result.Provider, result.Model, result.Usage.InputTokens, result.Usage.OutputTokens)
	c.record(requestID, req, prov, latencyMS, result, nil)

	return &Response{
		RequestID:    requestID,
		Text:         result.Text,
		Provider:     result.Provider,
		Model:        result.Model,
		InputTokens:  result.Usage.InputTokens,
		OutputTokens: result.Usage.OutputTokens,
		Cost:         cost,
		LatencyMS:    latencyMS,
	}, nil
}

func (c *Client) resolveProvider(req *Request) (provider.Provider, error) {
	name := req.Provider
	if name == "" {
		name = c.useCaseRoutes[req.UseCase]
	}
	if name == "" {
		name = c.defaultProvider
	}
	if name == "" {
		return nil, fmt.Errorf("llmgate: no provider for use case %q and no default configured", req.UseCase)
	}

	prov, ok := c.providers[name]
	if !ok {
		return nil, fmt.Errorf("llmgate: unknown provider %q", name)
	}
	return prov, nil
}

func (c *Client) lookupCache(ctx context.Context, requestID string, req *Request, prov provider.Provider, fingerprint string, structured bool) *Response {
	if c.cache == nil {
		return nil
	}

	entry := c.cache.Lookup(ctx, fingerprint)
	if entry == nil {
		metrics.CacheMisses.WithLabelValues(prov.Name()).Inc()
		return nil
	}

	// A structured caller is promised valid JSON; an entry cached by a
	// plain text call under the same fingerprint degrades to a miss.
	if structured && !json.Valid([]byte(entry.Text)) {
		metrics.CacheMisses.WithLabelValues(prov.Name()).Inc()
		return nil
	}

	c.tracker.Record(metrics.Record{
		RequestID:    requestID,
		Provider:     entry.Provider,
		Model:        entry.Model,
		UseCase:      req.UseCase,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		Success:      true,
		CacheHit:     true,
	})

	return &Response{
		RequestID:    requestID,
		Text:         entry.Text,
		Provider:     entry.Provider,
		Model:        entry.Model,
		InputTokens:  entry.InputTokens,
		OutputTokens: entry.OutputTokens,
		CacheHit:     true,
	}
}

func (c *Client) checkRateLimit(identity string, req *Request, prov provider.Provider, requestID string) error {
	if c.limiter == nil {
		return nil
	}

	cost, ok := c.useCaseCosts[req.UseCase]
	if !ok {
		cost = c.defaultCost
	}

	decision := c.limiter.TryConsume(identity, cost)
	if decision.Allowed {
		return nil
	}

	metrics.RateLimitDenials.WithLabelValues(string(decision.Window)).Inc()

	var rlErr *errors.Error
	if decision.RetryAfter < 0 {
		rlErr = errors.NewRateLimited(
			fmt.Sprintf("cost %d exceeds the %s window capacity", cost, decision.Window), -1)
	} else {
		rlErr = errors.NewRateLimited(
			fmt.Sprintf("%s window exhausted for identity", decision.Window), decision.RetryAfter)
	}

	c.logger.Info("rate limit denial",
		"identity", identity,
		"use_case", req.UseCase,
		"cost", cost,
		"window", string(decision.Window),
		"retry_after", decision.RetryAfter,
	)
	c.record(requestID, req, prov, 0, nil, rlErr)
	return rlErr
}

// executeWithRetry calls the provider with exponential backoff and jitter.
// Only retryable errors are retried; the caller's deadline aborts waits.
func (c *Client) executeWithRetry(ctx context.Context, prov provider.Provider, req *Request, structured bool) (*provider.Result, error) {
	var lastErr error

	for attempt := 0; attempt <= c.retryCount; attempt++ {
		if attempt > 0 {
			backoff := c.retryBackoff * time.Duration(1<<(attempt-1))
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
			}
			// Up to 25% jitter so synchronized callers spread out.
			backoff += time.Duration(rand.Int63n(int64(backoff)/4 + 1))

			select {
			case <-ctx.Done():
				return nil, errors.NewTimeout(prov.Name(), prov.Model(), ctx.Err())
			case <-time.After(backoff):
			}
		}

		result, err := c.executeOnce(ctx, prov, req, structured)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !errors.IsRetryable(err) {
			break
		}
		if ctx.Err() != nil {
			break
		}

		c.logger.Warn("provider call failed, retrying",
			"provider", prov.Name(),
			"attempt", attempt+1,
			"max_attempts", c.retryCount+1,
			"error", err,
		)
	}

	return nil, lastErr
}

func (c *Client) executeOnce(ctx context.Context, prov provider.Provider, req *Request, structured bool) (*provider.Result, error) {
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	preq := &provider.Request{
		Prompt:      req.Prompt,
		System:      req.System,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		UseCase:     req.UseCase,
		Extra:       req.Extra,
	}

	if !structured {
		return prov.GenerateText(ctx, preq)
	}

	result, err := prov.GenerateStructured(ctx, preq)
	if err != nil {
		return nil, err
	}
	if !json.Valid([]byte(result.Text)) {
		return nil, errors.NewInvalidResponse(prov.Name(), prov.Model(),
			"structured output is not valid JSON")
	}
	return result, nil
}

func (c *Client) record(requestID string, req *Request, prov provider.Provider, latencyMS float64, result *provider.Result, callErr error) {
	rec := metrics.Record{
		RequestID: requestID,
		Provider:  prov.Name(),
		Model:     prov.Model(),
		UseCase:   req.UseCase,
		LatencyMS: latencyMS,
	}

	if callErr != nil {
		rec.ErrorKind = string(errors.KindOf(callErr))
	} else if result != nil {
		rec.Success = true
		rec.Provider = result.Provider
		rec.Model = result.Model
		rec.InputTokens = result.Usage.InputTokens
		rec.OutputTokens = result.Usage.OutputTokens
		rec.Cost = c.pricer.Calculate(result.Provider, result.Model, result.Usage.InputTokens, result.Usage.OutputTokens)
	}

	c.tracker.Record(rec)
}

func (c *Client) updateBreakerGauge(name string) {
	state := c.breakers.Get(name).State()
	metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(state))
}

// HealthCheck probes every registered provider and returns per-provider
// results. A nil error means the provider is reachable.
func (c *Client) HealthCheck(ctx context.Context) map[string]error {
	results := make(map[string]error, len(c.providers))
	for name, prov := range c.providers {
		results[name] = prov.HealthCheck(ctx)
	}
	return results
}

// CircuitStatus returns a snapshot of every provider's circuit breaker.
func (c *Client) CircuitStatus() map[string]resilience.Snapshot {
	return c.breakers.Status()
}

// CacheStats returns response cache counters. Zero-valued when the cache
// is disabled.
func (c *Client) CacheStats() CacheStats {
	if c.cache == nil {
		return CacheStats{}
	}
	return c.cache.Stats()
}

// ClearCache flushes the response cache, keeping cumulative counters.
func (c *Client) ClearCache(ctx context.Context) {
	if c.cache != nil {
		c.cache.Clear(ctx)
	}
}

// MetricsSummary returns an aggregate usage report for matching records,
// including the response cache counters.
func (c *Client) MetricsSummary(f UsageFilter) UsageSummary {
	summary := c.tracker.Summarize(f)
	summary.Cache = c.CacheStats()
	return summary
}

// ExportMetrics writes matching usage records as a JSON array.
func (c *Client) ExportMetrics(w io.Writer, f UsageFilter) error {
	return c.tracker.ExportJSON(w, f)
}

// Remaining reports the identity's available rate limit tokens.
func (c *Client) Remaining(identity string) RemainingTokens {
	if c.limiter == nil {
		return RemainingTokens{}
	}
	if identity == "" {
		identity = "anonymous"
	}
	return c.limiter.RemainingTokens(identity)
}

// Close releases the cache persister, rate limiter, and metrics sink.
func (c *Client) Close() error {
	if c.limiter != nil {
		c.limiter.Close()
	}
	var firstErr error
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			firstErr = err
		}
	}
	if err := c.tracker.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
