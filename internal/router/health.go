package router

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// probeRequest is the minimal completion used to test a provider.
var probeRequest = schema.Request{Prompt: "ping", MaxTokens: 8}

// HealthCheck returns the provider's health, probing only when the
// cached result is older than the health interval.
func (r *Router) HealthCheck(ctx context.Context, name string) (schema.ProviderHealth, error) {
	r.mu.RLock()
	_, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return schema.ProviderHealth{}, schema.NewErrorf(schema.ErrCodeUnknownProvider,
			"provider %s is not registered", name).WithProvider(name)
	}
	return r.freshHealth(ctx, name), nil
}

// HealthCheckAll checks every registered provider concurrently, honoring
// cached results that are still fresh.
func (r *Router) HealthCheckAll(ctx context.Context) map[string]schema.ProviderHealth {
	return r.sweep(ctx, false)
}

// ForceHealthCheckAll re-probes every registered provider concurrently,
// ignoring cached results.
func (r *Router) ForceHealthCheckAll(ctx context.Context) map[string]schema.ProviderHealth {
	return r.sweep(ctx, true)
}

func (r *Router) sweep(ctx context.Context, force bool) map[string]schema.ProviderHealth {
	names := r.providerNames()

	var mu sync.Mutex
	out := make(map[string]schema.ProviderHealth, len(names))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		g.Go(func() error {
			var h schema.ProviderHealth
			if force {
				h = r.probe(gctx, name)
			} else {
				h = r.freshHealth(gctx, name)
			}
			mu.Lock()
			out[name] = h
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// freshHealth returns the cached health when it is recent enough and
// probes otherwise. Never-probed providers always probe.
func (r *Router) freshHealth(ctx context.Context, name string) schema.ProviderHealth {
	r.mu.RLock()
	var cached schema.ProviderHealth
	h, ok := r.health[name]
	if ok {
		cached = *h
	}
	r.mu.RUnlock()

	if ok && cached.Status != schema.HealthUnknown &&
		time.Since(cached.CheckedAt) < r.cfg.HealthInterval {
		return cached
	}
	return r.probe(ctx, name)
}

// probe sends one tiny completion to the provider and derives its health
// from the outcome: success rate decides healthy vs degraded, the
// failure streak decides degraded vs unhealthy.
func (r *Router) probe(ctx context.Context, name string) schema.ProviderHealth {
	snap, ok := r.snapshot(name)
	if !ok {
		return schema.ProviderHealth{
			Provider:  name,
			Status:    schema.HealthUnhealthy,
			CheckedAt: time.Now().UTC(),
			Error:     "provider not registered",
		}
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.cfg.HealthTimeout)
	defer cancel()

	start := time.Now()
	resp, err := snap.client.Invoke(probeCtx, probeRequest)
	latency := time.Since(start)

	h := schema.ProviderHealth{
		Provider:  name,
		CheckedAt: time.Now().UTC(),
		Latency:   latency,
	}
	switch {
	case err != nil:
		snap.metrics.recordFailure(err.Error())
		h.ConsecutiveFailures = snap.metrics.failureStreak()
		h.Error = err.Error()
		h.Status = r.statusFromStreak(h.ConsecutiveFailures)
	case resp == nil || strings.TrimSpace(resp.Content) == "":
		msg := "empty health probe response"
		snap.metrics.recordFailure(msg)
		h.ConsecutiveFailures = snap.metrics.failureStreak()
		h.Error = msg
		h.Status = schema.HealthUnhealthy
	default:
		snap.metrics.recordSuccess(latency)
		h.Status = r.statusFromRate(snap.metrics.rate())
	}

	r.mu.Lock()
	stored := h
	r.health[name] = &stored
	r.mu.Unlock()

	r.logger.Debug("health probe",
		"provider", name, "status", string(h.Status),
		"latency", latency.String(), "error", h.Error)
	return h
}

// Start launches the background health loop. Safe to call once; further
// calls while the loop runs are no-ops.
func (r *Router) Start() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopStop != nil {
		return
	}
	r.loopStop = make(chan struct{})
	r.loopDone = make(chan struct{})
	go r.healthLoop(r.loopStop, r.loopDone)
	r.logger.Info("health monitor started", "interval", r.cfg.HealthInterval.String())
}

func (r *Router) healthLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.cfg.HealthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			results := r.ForceHealthCheckAll(context.Background())
			healthy := 0
			for _, h := range results {
				if h.Status == schema.HealthHealthy {
					healthy++
				}
			}
			r.logger.Debug("health sweep finished",
				"providers", len(results), "healthy", healthy)
		}
	}
}

// Close stops the background health loop and waits for it to exit.
// Idempotent; a router that never started is closed trivially.
func (r *Router) Close() {
	r.loopMu.Lock()
	defer r.loopMu.Unlock()
	if r.loopStop == nil {
		return
	}
	close(r.loopStop)
	<-r.loopDone
	r.loopStop, r.loopDone = nil, nil
}
