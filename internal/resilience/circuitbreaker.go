// Package resilience provides availability patterns for the LLM gateway:
// per-provider circuit breaking and per-identity rate limiting.
package resilience

import (
	"sync"
	"time"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// StateClosed allows requests to pass through normally.
	StateClosed CircuitState = iota
	// StateOpen blocks all requests.
	StateOpen
	// StateHalfOpen allows limited probe requests to test recovery.
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig contains configuration for a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	FailureThreshold int
	// SuccessThreshold is the number of successes in half-open state to close.
	SuccessThreshold int
	// RecoveryTimeout is how long the circuit stays open before probing.
	RecoveryTimeout time.Duration
	// HalfOpenMaxProbes is the max concurrent probes in half-open state.
	HalfOpenMaxProbes int
}

// DefaultCircuitBreakerConfig returns the standard provider protection settings.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold:  5,
		SuccessThreshold:  2,
		RecoveryTimeout:   60 * time.Second,
		HalfOpenMaxProbes: 3,
	}
}

// Snapshot is a point-in-time view of a breaker for health reporting.
type Snapshot struct {
	Name         string       `json:"name"`
	State        CircuitState `json:"-"`
	StateName    string       `json:"state"`
	FailureCount int          `json:"failure_count"`
	SuccessCount int          `json:"success_count"`
	OpenedAt     *time.Time   `json:"opened_at,omitempty"`
}

// CircuitBreaker guards a single provider. After FailureThreshold
// consecutive failures it rejects calls until RecoveryTimeout has elapsed,
// then admits a bounded number of probes before fully closing again.
//
// The open-to-half-open transition is evaluated lazily inside Allow;
// no timer goroutine is involved.
type CircuitBreaker struct {
	mu            sync.Mutex
	name          string
	state         CircuitState
	failureCount  int
	successCount  int
	probeCount    int
	openedAt      time.Time
	config        CircuitBreakerConfig
	onStateChange func(name string, from, to CircuitState)
}

// NewCircuitBreaker creates a circuit breaker with the given config.
// Zero-value config fields fall back to defaults.
func NewCircuitBreaker(name string, cfg CircuitBreakerConfig) *CircuitBreaker {
	def := DefaultCircuitBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = def.SuccessThreshold
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = def.RecoveryTimeout
	}
	if cfg.HalfOpenMaxProbes <= 0 {
		cfg.HalfOpenMaxProbes = def.HalfOpenMaxProbes
	}
	// The probe budget must cover the successes needed to close, or the
	// breaker can never leave half-open.
	if cfg.HalfOpenMaxProbes < cfg.SuccessThreshold {
		cfg.HalfOpenMaxProbes = cfg.SuccessThreshold
	}

	return &CircuitBreaker{
		name:   name,
		state:  StateClosed,
		config: cfg,
	}
}

// OnStateChange sets a callback for state transitions.
// The callback runs on its own goroutine.
func (cb *CircuitBreaker) OnStateChange(fn func(name string, from, to CircuitState)) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.onStateChange = fn
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		return true

	case StateOpen:
		if time.Since(cb.openedAt) >= cb.config.RecoveryTimeout {
			cb.transitionTo(StateHalfOpen)
			cb.probeCount = 1
			cb.successCount = 0
			return true
		}
		return false

	case StateHalfOpen:
		if cb.probeCount < cb.config.HalfOpenMaxProbes {
			cb.probeCount++
			return true
		}
		return false

	default:
		return false
	}
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount = 0

	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.config.SuccessThreshold {
			cb.transitionTo(StateClosed)
			cb.failureCount = 0
			cb.successCount = 0
			cb.probeCount = 0
		}
	}
}

// RecordFailure records a failed request.
// In half-open state a single failure reopens the circuit.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.config.FailureThreshold {
			cb.openedAt = time.Now()
			cb.transitionTo(StateOpen)
		}

	case StateHalfOpen:
		cb.openedAt = time.Now()
		cb.transitionTo(StateOpen)
		cb.successCount = 0
		cb.probeCount = 0
	}
}

// State returns the current circuit state without side effects.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Name returns the circuit breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Snapshot returns a point-in-time view for health reporting.
func (cb *CircuitBreaker) Snapshot() Snapshot {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	snap := Snapshot{
		Name:         cb.name,
		State:        cb.state,
		StateName:    cb.state.String(),
		FailureCount: cb.failureCount,
		SuccessCount: cb.successCount,
	}
	if cb.state != StateClosed {
		openedAt := cb.openedAt
		snap.OpenedAt = &openedAt
	}
	return snap
}

// Reset forces the breaker back to closed state.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.transitionTo(StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.probeCount = 0
}

func (cb *CircuitBreaker) transitionTo(newState CircuitState) {
	if cb.state == newState {
		return
	}

	oldState := cb.state
	cb.state = newState

	if cb.onStateChange != nil {
		// Call callback without holding the lock
		go cb.onStateChange(cb.name, oldState, newState)
	}
}
