package resilience

import (
	"log/slog"
	"sync"
)

// Registry holds one circuit breaker per provider so that a failing
// provider never affects calls routed to a healthy one.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	config   CircuitBreakerConfig
	logger   *slog.Logger
}

// NewRegistry creates a registry. All breakers share the given config.
func NewRegistry(cfg CircuitBreakerConfig, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		config:   cfg,
		logger:   logger,
	}
}

// Get returns the breaker for the provider, creating it on first use.
func (r *Registry) Get(provider string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[provider]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok = r.breakers[provider]; ok {
		return cb
	}

	cb = NewCircuitBreaker(provider, r.config)
	logger := r.logger
	cb.OnStateChange(func(name string, from, to CircuitState) {
		logger.Warn("circuit breaker state change",
			"provider", name, "from", from.String(), "to", to.String())
	})
	r.breakers[provider] = cb
	return cb
}

// Status returns a snapshot of every breaker, keyed by provider name.
func (r *Registry) Status() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	status := make(map[string]Snapshot, len(r.breakers))
	for name, cb := range r.breakers {
		status[name] = cb.Snapshot()
	}
	return status
}

// ResetAll forces every breaker back to closed state.
func (r *Registry) ResetAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, cb := range r.breakers {
		cb.Reset()
	}
}
