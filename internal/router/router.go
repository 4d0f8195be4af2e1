// Package router fronts multiple LLM providers with one resilient
// invocation surface. A request is tried against a health-aware primary,
// retried with classified backoff while the provider's budget lasts,
// then falls back through the configured chain; circuit breakers keep
// known-bad providers out of the rotation and every advance is recorded
// as a fallback event.
package router

import (
	"context"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/xiongQvQ/ZenGrowth/internal/breaker"
	"github.com/xiongQvQ/ZenGrowth/internal/faults"
	"github.com/xiongQvQ/ZenGrowth/internal/logging"
	"github.com/xiongQvQ/ZenGrowth/internal/ring"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// Client is the vendor-facing side of one provider. Implementations wrap
// a concrete model backend and surface failures as classifiable errors.
type Client interface {
	Invoke(ctx context.Context, req schema.Request) (*schema.Response, error)
	SupportsMultimodal() bool
}

// Journal archives fallback events. Satisfied by *journal.LibSQL and
// test fakes; a nil journal disables archiving.
type Journal interface {
	RecordFallback(ctx context.Context, event schema.FallbackEvent) error
}

// Default configuration values.
const (
	DefaultMaxRetries             = 3
	DefaultCallTimeout            = 2 * time.Minute
	DefaultHistorySize            = 1000
	DefaultHealthInterval         = 5 * time.Minute
	DefaultHealthTimeout          = 30 * time.Second
	DefaultDegradedThreshold      = 0.8
	DefaultMaxConsecutiveFailures = 3
)

// Config holds router tuning knobs. Zero values fall back to the
// defaults above.
type Config struct {
	// FallbackOrder is the preferred order when advancing past a failing
	// provider. Providers not listed are tried last, in registration order.
	FallbackOrder []string
	// MaxRetries is the per-provider retry budget (after the first call)
	// for providers that do not set their own.
	MaxRetries int
	// CallTimeout bounds each individual provider invocation.
	CallTimeout time.Duration
	// HistorySize caps the retained fallback events.
	HistorySize int
	// HealthInterval is how long a probe result stays fresh and how often
	// the background monitor re-probes.
	HealthInterval time.Duration
	// HealthTimeout bounds one health probe.
	HealthTimeout time.Duration
	// DegradedThreshold is the success-rate floor below which a responsive
	// provider reports degraded.
	DegradedThreshold float64
	// MaxConsecutiveFailures marks a provider unhealthy once its failure
	// streak reaches this count.
	MaxConsecutiveFailures int
	// Retry is the backoff policy between attempts on one provider.
	Retry faults.Policy
	// Breaker configures the per-provider circuit breakers.
	Breaker breaker.Config
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = DefaultMaxRetries
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = DefaultHealthTimeout
	}
	if c.DegradedThreshold <= 0 || c.DegradedThreshold > 1 {
		c.DegradedThreshold = DefaultDegradedThreshold
	}
	if c.MaxConsecutiveFailures <= 0 {
		c.MaxConsecutiveFailures = DefaultMaxConsecutiveFailures
	}
	if c.Retry == (faults.Policy{}) {
		c.Retry = faults.DefaultPolicy()
	}
	if c.Breaker == (breaker.Config{}) {
		c.Breaker = breaker.DefaultConfig()
	}
	return c
}

// provider pairs a registered config with its client and counters.
type provider struct {
	cfg     schema.ProviderConfig
	client  Client
	metrics *providerMetrics
}

// providerSnapshot is a lock-free copy handed to the invocation path.
type providerSnapshot struct {
	cfg     schema.ProviderConfig
	client  Client
	metrics *providerMetrics
}

// Router owns the provider registry, breakers, health state, and the
// fallback event history. Safe for concurrent use.
type Router struct {
	cfg     Config
	logger  *slog.Logger
	journal Journal

	breakers *breaker.Registry
	events   *ring.Ring[schema.FallbackEvent]
	stats    *fallbackStats

	mu        sync.RWMutex
	providers map[string]*provider
	regOrder  []string
	health    map[string]*schema.ProviderHealth

	loopMu   sync.Mutex
	loopStop chan struct{}
	loopDone chan struct{}
}

// New creates a Router. logger may be nil (falls back to a text handler
// on stderr) and jrnl may be nil (no archiving).
func New(cfg Config, logger *slog.Logger, jrnl Journal) *Router {
	cfg = cfg.withDefaults()

	if logger == nil {
		logger = slog.New(logging.NewCorrelationHandler(
			slog.NewTextHandler(os.Stderr, nil)))
	}

	return &Router{
		cfg:       cfg,
		logger:    logger,
		journal:   jrnl,
		breakers:  breaker.NewRegistry(cfg.Breaker),
		events:    ring.New[schema.FallbackEvent](cfg.HistorySize),
		stats:     newFallbackStats(),
		providers: make(map[string]*provider),
		health:    make(map[string]*schema.ProviderHealth),
	}
}

// RegisterProvider adds a provider to the registry. The name must be
// unique; health starts unknown until the first probe or call.
func (r *Router) RegisterProvider(cfg schema.ProviderConfig, client Client) error {
	if cfg.Name == "" {
		return schema.NewError(schema.ErrCodeValidation, "provider name is required")
	}
	if client == nil {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"provider %s has no client", cfg.Name).WithProvider(cfg.Name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.providers[cfg.Name]; exists {
		return schema.NewErrorf(schema.ErrCodeValidation,
			"provider %s is already registered", cfg.Name).WithProvider(cfg.Name)
	}

	r.providers[cfg.Name] = &provider{cfg: cfg, client: client, metrics: newProviderMetrics()}
	r.regOrder = append(r.regOrder, cfg.Name)
	r.health[cfg.Name] = &schema.ProviderHealth{Provider: cfg.Name, Status: schema.HealthUnknown}

	r.logger.Info("provider registered",
		"provider", cfg.Name, "priority", cfg.Priority,
		"enabled", cfg.Enabled, "model", cfg.Model)
	return nil
}

// EnableProvider puts a provider back into the rotation.
func (r *Router) EnableProvider(name string) error {
	return r.setEnabled(name, true)
}

// DisableProvider takes a provider out of the rotation. In-flight calls
// finish; the provider is skipped from the next try order on.
func (r *Router) DisableProvider(name string) error {
	return r.setEnabled(name, false)
}

func (r *Router) setEnabled(name string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.providers[name]
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnknownProvider,
			"provider %s is not registered", name).WithProvider(name)
	}
	p.cfg.Enabled = enabled
	r.logger.Info("provider toggled", "provider", name, "enabled", enabled)
	return nil
}

// SelectProvider picks the provider a fresh request should start with:
// the highest-priority enabled provider whose breaker is not open and
// whose health is at least degraded. Providers never probed are probed
// lazily here. When nothing qualifies the least-recently-failed enabled
// provider is returned as a last resort, marked degraded.
func (r *Router) SelectProvider(ctx context.Context) (string, error) {
	names := r.prioritized()
	if len(names) == 0 {
		return "", schema.NewError(schema.ErrCodeUnknownProvider, "no providers registered")
	}
	enabled := r.enabledOf(names)
	if len(enabled) == 0 {
		return "", schema.NewError(schema.ErrCodeProviderDisabled, "all providers are disabled")
	}

	for _, name := range enabled {
		if r.breakers.State(name) == schema.CircuitOpen {
			continue
		}
		h := r.freshHealth(ctx, name)
		if h.Status == schema.HealthHealthy || h.Status == schema.HealthDegraded {
			return name, nil
		}
	}

	name := r.leastRecentlyFailed(enabled)
	r.setHealthStatus(name, schema.HealthDegraded)
	r.logger.Warn("no healthy provider available, selecting last resort", "provider", name)
	return name, nil
}

// ProviderInfo describes one registered provider for status surfaces.
// The API key is masked; the raw key never leaves the router.
type ProviderInfo struct {
	Config  schema.ProviderConfig `json:"config"`
	APIKey  string                `json:"api_key,omitempty"`
	Health  schema.ProviderHealth `json:"health"`
	Circuit schema.CircuitState   `json:"circuit"`
	Metrics ProviderMetrics       `json:"metrics"`
}

// ProviderInfo returns every registered provider in priority order.
func (r *Router) ProviderInfo() []ProviderInfo {
	names := r.prioritized()
	infos := make([]ProviderInfo, 0, len(names))
	for _, name := range names {
		snap, ok := r.snapshot(name)
		if !ok {
			continue
		}
		cfg := snap.cfg
		cfg.APIKey = ""

		r.mu.RLock()
		var health schema.ProviderHealth
		if h := r.health[name]; h != nil {
			health = *h
		}
		r.mu.RUnlock()

		infos = append(infos, ProviderInfo{
			Config:  cfg,
			APIKey:  schema.MaskKey(snap.cfg.APIKey),
			Health:  health,
			Circuit: r.breakers.State(name),
			Metrics: snap.metrics.snapshot(name),
		})
	}
	return infos
}

// CircuitStates reports the breaker state of every registered provider.
func (r *Router) CircuitStates() map[string]schema.CircuitState {
	states := make(map[string]schema.CircuitState)
	for _, name := range r.providerNames() {
		states[name] = r.breakers.State(name)
	}
	return states
}

// ResetCircuit closes one provider's breaker and clears its failure run.
func (r *Router) ResetCircuit(name string) error {
	r.mu.RLock()
	_, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return schema.NewErrorf(schema.ErrCodeUnknownProvider,
			"provider %s is not registered", name).WithProvider(name)
	}
	r.breakers.Reset(name)
	r.logger.Info("circuit reset", "provider", name)
	return nil
}

// snapshot copies a provider's registration for use outside the lock.
func (r *Router) snapshot(name string) (providerSnapshot, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return providerSnapshot{}, false
	}
	return providerSnapshot{cfg: p.cfg, client: p.client, metrics: p.metrics}, true
}

// providerNames returns the registered names in registration order.
func (r *Router) providerNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.regOrder...)
}

// prioritized returns provider names by ascending priority, registration
// order breaking ties.
func (r *Router) prioritized() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := append([]string(nil), r.regOrder...)
	sort.SliceStable(names, func(i, j int) bool {
		return r.providers[names[i]].cfg.Priority < r.providers[names[j]].cfg.Priority
	})
	return names
}

func (r *Router) enabledOf(names []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	enabled := make([]string, 0, len(names))
	for _, name := range names {
		if p, ok := r.providers[name]; ok && p.cfg.Enabled {
			enabled = append(enabled, name)
		}
	}
	return enabled
}

// leastRecentlyFailed picks the name whose last recorded failure is
// oldest; a provider that never failed wins outright.
func (r *Router) leastRecentlyFailed(names []string) string {
	best := names[0]
	bestAt := r.lastFailureTime(best)
	for _, name := range names[1:] {
		if at := r.lastFailureTime(name); at.Before(bestAt) {
			best, bestAt = name, at
		}
	}
	return best
}

func (r *Router) lastFailureTime(name string) time.Time {
	snap, ok := r.snapshot(name)
	if !ok {
		return time.Time{}
	}
	return snap.metrics.failureTime()
}

func (r *Router) setHealthStatus(name string, status schema.HealthStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[name]
	if !ok {
		h = &schema.ProviderHealth{Provider: name}
		r.health[name] = h
	}
	h.Status = status
}
