package router

import (
	"sync"
	"time"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// fallbackStats aggregates recorded fallback events.
type fallbackStats struct {
	mu        sync.Mutex
	total     int64
	succeeded int64
	failed    int64
	byReason  map[string]int64
	byRoute   map[string]int64
	lastAt    time.Time
}

func newFallbackStats() *fallbackStats {
	return &fallbackStats{
		byReason: make(map[string]int64),
		byRoute:  make(map[string]int64),
	}
}

func (s *fallbackStats) record(ev schema.FallbackEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.total++
	if ev.Success {
		s.succeeded++
	} else {
		s.failed++
	}
	s.byReason[string(ev.Reason)]++
	s.byRoute[routeKey(ev.FromProvider, ev.ToProvider)]++
	s.lastAt = ev.Timestamp
}

func routeKey(from, to string) string {
	if to == "" {
		to = "none"
	}
	return from + "->" + to
}

// FallbackStats summarizes how often and why the router advanced past
// providers.
type FallbackStats struct {
	Total          int64            `json:"total_fallbacks"`
	Succeeded      int64            `json:"successful_fallbacks"`
	Failed         int64            `json:"failed_fallbacks"`
	SuccessRate    float64          `json:"fallback_success_rate"`
	ByReason       map[string]int64 `json:"by_reason"`
	ByRoute        map[string]int64 `json:"by_route"`
	LastFallbackAt time.Time        `json:"last_fallback_at"`
}

func (s *fallbackStats) snapshot() FallbackStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := FallbackStats{
		Total:          s.total,
		Succeeded:      s.succeeded,
		Failed:         s.failed,
		ByReason:       make(map[string]int64, len(s.byReason)),
		ByRoute:        make(map[string]int64, len(s.byRoute)),
		LastFallbackAt: s.lastAt,
	}
	if s.total > 0 {
		out.SuccessRate = float64(s.succeeded) / float64(s.total)
	}
	for k, v := range s.byReason {
		out.ByReason[k] = v
	}
	for k, v := range s.byRoute {
		out.ByRoute[k] = v
	}
	return out
}

// FallbackStats returns the aggregate fallback counters.
func (r *Router) FallbackStats() FallbackStats {
	return r.stats.snapshot()
}

// FallbackHistory returns the most recent fallback events in
// chronological order, capped at limit when limit > 0.
func (r *Router) FallbackHistory(limit int) []schema.FallbackEvent {
	events := r.events.Snapshot()
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events
}

// FallbackReport is the exportable view of the router's fallback
// behavior: configuration, aggregate stats, breaker states, and the
// most recent events.
type FallbackReport struct {
	GeneratedAt time.Time                      `json:"generated_at"`
	Config      ReportConfig                   `json:"configuration"`
	Stats       FallbackStats                  `json:"statistics"`
	Circuits    map[string]schema.CircuitState `json:"circuit_states"`
	Recent      []schema.FallbackEvent         `json:"recent_events"`
}

// ReportConfig echoes the routing knobs in effect when the report was
// generated.
type ReportConfig struct {
	FallbackOrder    []string `json:"fallback_order"`
	MaxRetries       int      `json:"max_retries"`
	FailureThreshold int      `json:"circuit_failure_threshold"`
	Cooldown         string   `json:"circuit_cooldown"`
}

// Report assembles the fallback report.
func (r *Router) Report() FallbackReport {
	return FallbackReport{
		GeneratedAt: time.Now().UTC(),
		Config: ReportConfig{
			FallbackOrder:    append([]string(nil), r.cfg.FallbackOrder...),
			MaxRetries:       r.cfg.MaxRetries,
			FailureThreshold: r.cfg.Breaker.FailureThreshold,
			Cooldown:         r.cfg.Breaker.Cooldown.String(),
		},
		Stats:    r.stats.snapshot(),
		Circuits: r.CircuitStates(),
		Recent:   r.FallbackHistory(10),
	}
}
