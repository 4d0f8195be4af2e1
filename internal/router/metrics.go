package router

import (
	"encoding/json"
	"sync"
	"time"

	hdrhistogram "github.com/HdrHistogram/hdrhistogram-go"
)

// Latencies are recorded in microseconds with ten minutes of headroom.
const histogramMaxMicros = int64(10 * time.Minute / time.Microsecond)

// providerMetrics tracks call outcomes and latency for one provider.
// Probes and real invocations both feed it.
type providerMetrics struct {
	mu                   sync.Mutex
	requests             int64
	succeeded            int64
	failed               int64
	consecutiveFailures  int
	consecutiveSuccesses int
	totalLatency         time.Duration
	lastLatency          time.Duration
	lastRequestAt        time.Time
	lastError            string
	lastErrorAt          time.Time
	hist                 *hdrhistogram.Histogram
}

func newProviderMetrics() *providerMetrics {
	return &providerMetrics{hist: hdrhistogram.New(1, histogramMaxMicros, 3)}
}

func (m *providerMetrics) recordSuccess(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.succeeded++
	m.consecutiveFailures = 0
	m.consecutiveSuccesses++
	m.totalLatency += latency
	m.lastLatency = latency
	m.lastRequestAt = time.Now().UTC()

	micros := latency.Microseconds()
	if micros < 1 {
		micros = 1
	}
	if micros > histogramMaxMicros {
		micros = histogramMaxMicros
	}
	_ = m.hist.RecordValue(micros)
}

func (m *providerMetrics) recordFailure(message string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.failed++
	m.consecutiveSuccesses = 0
	m.consecutiveFailures++
	m.lastRequestAt = time.Now().UTC()
	m.lastError = message
	m.lastErrorAt = m.lastRequestAt
}

func (m *providerMetrics) rate() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests == 0 {
		return 0
	}
	return float64(m.succeeded) / float64(m.requests)
}

func (m *providerMetrics) failureStreak() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consecutiveFailures
}

func (m *providerMetrics) failureTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErrorAt
}

// ProviderMetrics is a point-in-time snapshot of one provider's counters.
type ProviderMetrics struct {
	Provider             string        `json:"provider"`
	Requests             int64         `json:"requests"`
	Succeeded            int64         `json:"succeeded"`
	Failed               int64         `json:"failed"`
	SuccessRate          float64       `json:"success_rate"`
	ConsecutiveFailures  int           `json:"consecutive_failures"`
	ConsecutiveSuccesses int           `json:"consecutive_successes"`
	MeanLatency          time.Duration `json:"mean_latency"`
	LastLatency          time.Duration `json:"last_latency"`
	P50                  time.Duration `json:"latency_p50"`
	P95                  time.Duration `json:"latency_p95"`
	P99                  time.Duration `json:"latency_p99"`
	LastRequestAt        time.Time     `json:"last_request_at"`
	LastError            string        `json:"last_error,omitempty"`
	LastErrorAt          time.Time     `json:"last_error_at"`
}

func (m *providerMetrics) snapshot(name string) ProviderMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := ProviderMetrics{
		Provider:             name,
		Requests:             m.requests,
		Succeeded:            m.succeeded,
		Failed:               m.failed,
		ConsecutiveFailures:  m.consecutiveFailures,
		ConsecutiveSuccesses: m.consecutiveSuccesses,
		LastLatency:          m.lastLatency,
		LastRequestAt:        m.lastRequestAt,
		LastError:            m.lastError,
		LastErrorAt:          m.lastErrorAt,
	}
	if m.requests > 0 {
		s.SuccessRate = float64(m.succeeded) / float64(m.requests)
	}
	if m.succeeded > 0 {
		s.MeanLatency = m.totalLatency / time.Duration(m.succeeded)
	}
	if m.hist.TotalCount() > 0 {
		s.P50 = time.Duration(m.hist.ValueAtQuantile(50)) * time.Microsecond
		s.P95 = time.Duration(m.hist.ValueAtQuantile(95)) * time.Microsecond
		s.P99 = time.Duration(m.hist.ValueAtQuantile(99)) * time.Microsecond
	}
	return s
}

// Stats returns a metrics snapshot for every registered provider.
func (r *Router) Stats() map[string]ProviderMetrics {
	out := make(map[string]ProviderMetrics)
	for _, name := range r.providerNames() {
		if snap, ok := r.snapshot(name); ok {
			out[name] = snap.metrics.snapshot(name)
		}
	}
	return out
}

type metricsExport struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Providers   map[string]ProviderMetrics `json:"providers"`
}

// ExportMetrics renders the current provider metrics as indented JSON.
func (r *Router) ExportMetrics() ([]byte, error) {
	return json.MarshalIndent(metricsExport{
		GeneratedAt: time.Now().UTC(),
		Providers:   r.Stats(),
	}, "", "  ")
}
