package resilience

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Window identifies which rate limit window rejected a request.
type Window string

const (
	// WindowMinute is the short burst-protection window.
	WindowMinute Window = "minute"
	// WindowHour is the long sustained-usage window.
	WindowHour Window = "hour"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed bool
	// Window names the exhausted window when the request is denied.
	Window Window
	// RetryAfter is how long until the requested cost becomes available.
	RetryAfter time.Duration
}

// Remaining reports the currently available tokens per window.
type Remaining struct {
	Minute float64 `json:"minute"`
	Hour   float64 `json:"hour"`
}

// RateLimiterConfig contains configuration for the identity rate limiter.
type RateLimiterConfig struct {
	// TokensPerMinute is the minute window capacity (default: 60).
	TokensPerMinute int
	// TokensPerHour is the hour window capacity (default: 1000).
	TokensPerHour int
	// CleanupTTL is how long an idle identity's buckets are kept (default: 1h).
	CleanupTTL time.Duration
	Logger     *slog.Logger
}

// DefaultRateLimiterConfig returns the standard per-identity budgets.
func DefaultRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		TokensPerMinute: 60,
		TokensPerHour:   1000,
		CleanupTTL:      time.Hour,
	}
}

type identityBuckets struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

// RateLimiter provides per-identity dual-window token bucket rate limiting.
//
// Each identity gets two buckets refilling continuously: a minute window
// that caps bursts and an hour window that caps sustained usage. A request
// must afford its cost in both windows; a denial deducts from neither.
type RateLimiter struct {
	mu         sync.RWMutex
	buckets    map[string]*identityBuckets
	lastAccess map[string]time.Time

	perMinute  int
	perHour    int
	cleanupTTL time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	stopOnce   sync.Once
}

// NewRateLimiter creates a rate limiter and starts its cleanup loop.
func NewRateLimiter(cfg RateLimiterConfig) *RateLimiter {
	def := DefaultRateLimiterConfig()
	if cfg.TokensPerMinute <= 0 {
		cfg.TokensPerMinute = def.TokensPerMinute
	}
	if cfg.TokensPerHour <= 0 {
		cfg.TokensPerHour = def.TokensPerHour
	}
	if cfg.CleanupTTL <= 0 {
		cfg.CleanupTTL = def.CleanupTTL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	rl := &RateLimiter{
		buckets:    make(map[string]*identityBuckets),
		lastAccess: make(map[string]time.Time),
		perMinute:  cfg.TokensPerMinute,
		perHour:    cfg.TokensPerHour,
		cleanupTTL: cfg.CleanupTTL,
		logger:     cfg.Logger,
		stop:       make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// TryConsume attempts to deduct cost tokens from both of the identity's
// windows. On denial nothing is deducted and the decision names the
// exhausted window with the delay until cost tokens are available there.
func (rl *RateLimiter) TryConsume(identity string, cost int) Decision {
	if cost <= 0 {
		cost = 1
	}

	b := rl.getBuckets(identity)
	now := time.Now()

	minRes := b.minute.ReserveN(now, cost)
	if !minRes.OK() {
		// Cost exceeds the minute capacity; it can never succeed.
		return Decision{Allowed: false, Window: WindowMinute, RetryAfter: -1}
	}
	if delay := minRes.DelayFrom(now); delay > 0 {
		minRes.CancelAt(now)
		return Decision{Allowed: false, Window: WindowMinute, RetryAfter: delay}
	}

	hourRes := b.hour.ReserveN(now, cost)
	if !hourRes.OK() {
		minRes.CancelAt(now)
		return Decision{Allowed: false, Window: WindowHour, RetryAfter: -1}
	}
	if delay := hourRes.DelayFrom(now); delay > 0 {
		hourRes.CancelAt(now)
		minRes.CancelAt(now)
		return Decision{Allowed: false, Window: WindowHour, RetryAfter: delay}
	}

	return Decision{Allowed: true}
}

// RemainingTokens returns the currently available tokens in each window.
func (rl *RateLimiter) RemainingTokens(identity string) Remaining {
	b := rl.getBuckets(identity)
	now := time.Now()
	return Remaining{
		Minute: b.minute.TokensAt(now),
		Hour:   b.hour.TokensAt(now),
	}
}

// ActiveIdentities returns the number of identities with live buckets.
func (rl *RateLimiter) ActiveIdentities() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return len(rl.buckets)
}

// Close stops the cleanup loop.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}

// getBuckets returns or creates the bucket pair for the identity.
func (rl *RateLimiter) getBuckets(identity string) *identityBuckets {
	rl.mu.RLock()
	b, ok := rl.buckets[identity]
	rl.mu.RUnlock()

	if ok {
		rl.mu.Lock()
		rl.lastAccess[identity] = time.Now()
		rl.mu.Unlock()
		return b
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if b, ok = rl.buckets[identity]; ok {
		rl.lastAccess[identity] = time.Now()
		return b
	}

	b = &identityBuckets{
		minute: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute),
		hour:   rate.NewLimiter(rate.Limit(float64(rl.perHour)/3600.0), rl.perHour),
	}
	rl.buckets[identity] = b
	rl.lastAccess[identity] = time.Now()

	rl.logger.Debug("rate limit buckets created",
		"identity", identity,
		"per_minute", rl.perMinute,
		"per_hour", rl.perHour,
	)

	return b
}

// cleanupLoop periodically removes buckets for idle identities.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.cleanupTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	for identity, last := range rl.lastAccess {
		if now.Sub(last) > rl.cleanupTTL {
			delete(rl.buckets, identity)
			delete(rl.lastAccess, identity)
		}
	}
}
