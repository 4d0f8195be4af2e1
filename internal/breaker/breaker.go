// Package breaker implements per-provider circuit breakers that guard
// LLM invocations. A breaker opens after a run of consecutive failures,
// rejects calls for a cooldown period, then admits a limited number of
// trial requests before closing again.
package breaker

import (
	"sync"
	"time"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Config configures circuit breaker behavior.
type Config struct {
	// FailureThreshold is the number of consecutive failures before opening the circuit.
	FailureThreshold int
	// Cooldown is how long the circuit stays open before transitioning to half-open.
	Cooldown time.Duration
	// HalfOpenMax is the number of trial requests allowed in half-open state.
	HalfOpenMax int
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		Cooldown:         30 * time.Second,
		HalfOpenMax:      1,
	}
}

// circuit tracks failure state for a single provider.
type circuit struct {
	mu                  sync.Mutex
	state               schema.CircuitState
	consecutiveFailures int
	lastFailureTime     time.Time
	halfOpenAttempts    int
	config              Config
}

// Registry manages per-provider circuit breakers.
type Registry struct {
	mu       sync.Mutex
	circuits map[string]*circuit
	config   Config
}

// NewRegistry creates a new registry with the given config.
func NewRegistry(config Config) *Registry {
	return &Registry{
		circuits: make(map[string]*circuit),
		config:   config,
	}
}

// Allow checks whether a request to the given provider is allowed.
// Returns nil if allowed, or an EngineError if the circuit is open.
func (r *Registry) Allow(provider string) error {
	cb := r.getOrCreate(provider)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case schema.CircuitClosed:
		return nil

	case schema.CircuitOpen:
		// Check if cooldown has elapsed.
		if time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
			cb.state = schema.CircuitHalfOpen
			cb.halfOpenAttempts = 1 // this request counts as the first trial
			return nil
		}
		return schema.NewErrorf(schema.ErrCodeCircuitOpen,
			"circuit open after %d consecutive failures, cooldown remaining",
			cb.consecutiveFailures).
			WithProvider(provider).
			WithDetails(map[string]any{
				"consecutive_failures": cb.consecutiveFailures,
				"state":                string(cb.state),
				"cooldown_remaining":   (cb.config.Cooldown - time.Since(cb.lastFailureTime)).String(),
			})

	case schema.CircuitHalfOpen:
		if cb.halfOpenAttempts >= cb.config.HalfOpenMax {
			return schema.NewError(schema.ErrCodeCircuitOpen,
				"circuit half-open, max trial requests reached").
				WithProvider(provider)
		}
		cb.halfOpenAttempts++
		return nil
	}

	return nil
}

// RecordSuccess records a successful invocation for the provider.
func (r *Registry) RecordSuccess(provider string) {
	cb := r.getOrCreate(provider)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	cb.halfOpenAttempts = 0
	cb.state = schema.CircuitClosed
}

// RecordFailure records a failed invocation for the provider.
// Returns the new circuit state.
func (r *Registry) RecordFailure(provider string) schema.CircuitState {
	cb := r.getOrCreate(provider)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures++
	cb.lastFailureTime = time.Now()

	if cb.state == schema.CircuitHalfOpen {
		// Any failure in half-open reopens the circuit.
		cb.state = schema.CircuitOpen
		return schema.CircuitOpen
	}

	if cb.consecutiveFailures >= cb.config.FailureThreshold {
		cb.state = schema.CircuitOpen
		return schema.CircuitOpen
	}

	return cb.state
}

// State returns the current circuit state for a provider.
func (r *Registry) State(provider string) schema.CircuitState {
	cb := r.getOrCreate(provider)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	// Automatic transition from open to half-open once cooled down.
	if cb.state == schema.CircuitOpen && time.Since(cb.lastFailureTime) >= cb.config.Cooldown {
		cb.state = schema.CircuitHalfOpen
		cb.halfOpenAttempts = 0
	}

	return cb.state
}

// States returns the current state of every known circuit.
func (r *Registry) States() map[string]schema.CircuitState {
	r.mu.Lock()
	names := make([]string, 0, len(r.circuits))
	for name := range r.circuits {
		names = append(names, name)
	}
	r.mu.Unlock()

	states := make(map[string]schema.CircuitState, len(names))
	for _, name := range names {
		states[name] = r.State(name)
	}
	return states
}

// Reset closes the circuit for a provider and clears its failure count.
func (r *Registry) Reset(provider string) {
	r.RecordSuccess(provider)
}

// Stats returns diagnostic information about a provider's circuit.
func (r *Registry) Stats(provider string) map[string]any {
	cb := r.getOrCreate(provider)
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return map[string]any{
		"provider":             provider,
		"state":                string(cb.state),
		"consecutive_failures": cb.consecutiveFailures,
		"failure_threshold":    cb.config.FailureThreshold,
		"cooldown":             cb.config.Cooldown.String(),
	}
}

func (r *Registry) getOrCreate(provider string) *circuit {
	r.mu.Lock()
	defer r.mu.Unlock()
	cb, ok := r.circuits[provider]
	if !ok {
		cb = &circuit{
			state:  schema.CircuitClosed,
			config: r.config,
		}
		r.circuits[provider] = cb
	}
	return cb
}
