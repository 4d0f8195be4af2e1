package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/xiongQvQ/ZenGrowth/internal/faults"
	"github.com/xiongQvQ/ZenGrowth/internal/logging"
	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// advance captures why the router left a provider: the classified reason,
// the attempts spent there, and the terminal error. It becomes a
// FallbackEvent once the fate of the next provider is known.
type advance struct {
	from     string
	reason   schema.ErrorKind
	attempts int
	errMsg   string
}

// InvokeWithFallback runs a request through the provider chain. The try
// order starts with the caller's preferred providers (or the selected
// one), then the configured fallback order, then any remaining enabled
// providers. Each provider gets its full retry budget before the router
// advances; every advance is recorded as a FallbackEvent. The returned
// event is the most recent advance, nil when the first provider served
// the request.
func (r *Router) InvokeWithFallback(ctx context.Context, req schema.Request, preferred ...string) (*schema.Response, *schema.FallbackEvent, error) {
	requestID := uuid.New().String()

	order, err := r.planAttempts(ctx, req, preferred)
	if err != nil {
		return nil, nil, err
	}

	var (
		lastEvent *schema.FallbackEvent
		lastErr   error
		pending   *advance
		outcomes  = make(map[string]any, len(order))
	)

	for _, name := range order {
		if cerr := ctx.Err(); cerr != nil {
			return nil, lastEvent, schema.NewError(schema.ErrCodeCancelled,
				"invocation cancelled").WithCause(cerr)
		}

		pctx := logging.WithProvider(ctx, name)
		snap, ok := r.snapshot(name)
		if !ok {
			continue
		}

		resp, cls, attempts, tryErr := r.tryProvider(pctx, snap, req)
		if tryErr == nil {
			if pending != nil {
				lastEvent = r.recordFallback(pctx, requestID, *pending, name, true)
			}
			r.logger.InfoContext(pctx, "request served",
				"attempts", attempts, "latency", resp.Latency.String())
			return resp, lastEvent, nil
		}

		lastErr = tryErr
		if attempts == 0 {
			// Breaker short-circuit: the client was never called, so the
			// advance carries no classified failure and emits no event.
			outcomes[name] = map[string]any{"skipped": "circuit_open"}
			r.logger.WarnContext(pctx, "provider skipped, circuit open")
			continue
		}

		outcomes[name] = map[string]any{
			"kind":     string(cls.Kind),
			"attempts": attempts,
			"error":    tryErr.Error(),
		}
		if pending != nil {
			lastEvent = r.recordFallback(pctx, requestID, *pending, name, false)
		}
		pending = &advance{from: name, reason: cls.Kind, attempts: attempts, errMsg: tryErr.Error()}
	}

	if cerr := ctx.Err(); cerr != nil {
		return nil, lastEvent, schema.NewError(schema.ErrCodeCancelled,
			"invocation cancelled").WithCause(cerr)
	}
	if pending != nil {
		lastEvent = r.recordFallback(ctx, requestID, *pending, "", false)
	}

	return nil, lastEvent, schema.NewErrorf(schema.ErrCodeAllProvidersExhausted,
		"all providers exhausted: %s", lastErr.Error()).
		WithDetails(map[string]any{"attempts": outcomes}).
		WithCause(lastErr)
}

// planAttempts validates any explicit preferences and assembles the try
// order for one request.
func (r *Router) planAttempts(ctx context.Context, req schema.Request, preferred []string) ([]string, error) {
	r.mu.RLock()
	registered := len(r.providers)
	r.mu.RUnlock()
	if registered == 0 {
		return nil, schema.NewError(schema.ErrCodeUnknownProvider, "no providers registered")
	}

	head := preferred
	if len(head) == 0 {
		selected, err := r.SelectProvider(ctx)
		if err != nil {
			return nil, err
		}
		head = []string{selected}
	} else if err := r.checkPreferred(preferred, req.Multimodal); err != nil {
		return nil, err
	}

	order := r.buildTryOrder(head, req.Multimodal)
	if len(order) == 0 {
		return nil, schema.NewError(schema.ErrCodeAllProvidersExhausted,
			"no eligible providers for this request")
	}
	return order, nil
}

// checkPreferred rejects explicit provider choices the router cannot
// honor. Silent substitution would hide a caller mistake.
func (r *Router) checkPreferred(names []string, multimodal bool) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, name := range names {
		p, ok := r.providers[name]
		if !ok {
			return schema.NewErrorf(schema.ErrCodeUnknownProvider,
				"provider %s is not registered", name).WithProvider(name)
		}
		if !p.cfg.Enabled {
			return schema.NewErrorf(schema.ErrCodeProviderDisabled,
				"provider %s is disabled", name).WithProvider(name)
		}
		if multimodal && !multimodalCapable(p) {
			return schema.NewErrorf(schema.ErrCodeValidation,
				"provider %s does not accept multimodal requests", name).WithProvider(name)
		}
	}
	return nil
}

// buildTryOrder merges head, fallback order, and the remaining registry
// into a deduplicated try order of eligible providers.
func (r *Router) buildTryOrder(head []string, multimodal bool) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool, len(r.providers))
	var order []string
	add := func(name string) {
		if seen[name] {
			return
		}
		p, ok := r.providers[name]
		if !ok || !p.cfg.Enabled {
			return
		}
		if multimodal && !multimodalCapable(p) {
			return
		}
		seen[name] = true
		order = append(order, name)
	}

	for _, name := range head {
		add(name)
	}
	for _, name := range r.cfg.FallbackOrder {
		add(name)
	}
	for _, name := range r.regOrder {
		add(name)
	}
	return order
}

func multimodalCapable(p *provider) bool {
	return p.cfg.Multimodal && p.client.SupportsMultimodal()
}

// tryProvider spends one provider's attempt budget: invoke, classify,
// back off, retry while the classification allows. attempts == 0 with a
// non-nil error means the breaker short-circuited before any call.
func (r *Router) tryProvider(ctx context.Context, snap providerSnapshot, req schema.Request) (*schema.Response, schema.Classification, int, error) {
	name := snap.cfg.Name
	budget := snap.cfg.MaxRetries
	if budget <= 0 {
		budget = r.cfg.MaxRetries
	}

	var (
		cls      schema.Classification
		lastErr  error
		attempts int
	)
	for {
		if cerr := ctx.Err(); cerr != nil {
			if lastErr == nil {
				lastErr = cerr
			}
			return nil, cls, attempts, lastErr
		}
		if allowErr := r.breakers.Allow(name); allowErr != nil {
			if lastErr == nil {
				return nil, cls, attempts, allowErr
			}
			// Opened mid-budget: surface the failure that tripped it.
			return nil, cls, attempts, lastErr
		}

		attempts++
		resp, latency, err := r.invokeOnce(ctx, snap, req)
		if err == nil {
			r.noteSuccess(name, latency)
			resp.Provider = name
			resp.Latency = latency
			return resp, schema.Classification{}, attempts, nil
		}

		lastErr = err
		cls = faults.Classify(err)
		r.noteFailure(name, err)

		if !cls.Retryable || attempts > budget {
			return nil, cls, attempts, err
		}

		delay := r.cfg.Retry.Delay(attempts-1, cls)
		r.logger.WarnContext(ctx, "provider attempt failed, retrying",
			"attempt", attempts, "kind", string(cls.Kind),
			"delay", delay.String(), "error", err.Error())
		if werr := faults.Wait(ctx, delay); werr != nil {
			return nil, cls, attempts, lastErr
		}
	}
}

// invokeOnce calls the client under the per-call timeout. A panicking
// client fails its attempt instead of the process.
func (r *Router) invokeOnce(ctx context.Context, snap providerSnapshot, req schema.Request) (resp *schema.Response, latency time.Duration, err error) {
	callCtx, cancel := context.WithTimeout(ctx, r.cfg.CallTimeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			resp = nil
			latency = time.Since(start)
			err = &schema.ProviderError{
				Provider: snap.cfg.Name,
				Message:  fmt.Sprintf("client panicked: %v", rec),
			}
		}
	}()

	resp, err = snap.client.Invoke(callCtx, req)
	latency = time.Since(start)
	if err != nil {
		return nil, latency, err
	}
	if resp == nil {
		return nil, latency, &schema.ProviderError{
			Provider: snap.cfg.Name,
			Message:  "provider returned no response",
		}
	}
	return resp, latency, nil
}

// noteSuccess updates metrics, breaker, and health after a served call.
func (r *Router) noteSuccess(name string, latency time.Duration) {
	snap, ok := r.snapshot(name)
	if !ok {
		return
	}
	snap.metrics.recordSuccess(latency)
	r.breakers.RecordSuccess(name)

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[name]
	if !ok {
		h = &schema.ProviderHealth{Provider: name}
		r.health[name] = h
	}
	h.Latency = latency
	h.ConsecutiveFailures = 0
	h.Error = ""
	h.Status = r.statusFromRate(snap.metrics.rate())
}

// noteFailure updates metrics, breaker, and health after a failed call.
func (r *Router) noteFailure(name string, err error) {
	snap, ok := r.snapshot(name)
	if !ok {
		return
	}
	snap.metrics.recordFailure(err.Error())
	if state := r.breakers.RecordFailure(name); state == schema.CircuitOpen {
		r.logger.Warn("provider circuit open", "provider", name)
	}

	streak := snap.metrics.failureStreak()

	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.health[name]
	if !ok {
		h = &schema.ProviderHealth{Provider: name}
		r.health[name] = h
	}
	h.ConsecutiveFailures = streak
	h.Error = err.Error()
	h.Status = r.statusFromStreak(streak)
}

func (r *Router) statusFromRate(rate float64) schema.HealthStatus {
	if rate >= r.cfg.DegradedThreshold {
		return schema.HealthHealthy
	}
	return schema.HealthDegraded
}

func (r *Router) statusFromStreak(streak int) schema.HealthStatus {
	if streak >= r.cfg.MaxConsecutiveFailures {
		return schema.HealthUnhealthy
	}
	return schema.HealthDegraded
}

// recordFallback finalizes one advance into a FallbackEvent: ring, stats,
// journal, log. The journal write survives request cancellation.
func (r *Router) recordFallback(ctx context.Context, requestID string, adv advance, to string, success bool) *schema.FallbackEvent {
	ev := schema.FallbackEvent{
		ID:           uuid.New().String(),
		RequestID:    requestID,
		Timestamp:    time.Now().UTC(),
		FromProvider: adv.from,
		ToProvider:   to,
		Reason:       adv.reason,
		Attempts:     adv.attempts,
		Success:      success,
		Error:        adv.errMsg,
	}
	r.events.Append(ev)
	r.stats.record(ev)

	if r.journal != nil {
		if err := r.journal.RecordFallback(context.WithoutCancel(ctx), ev); err != nil {
			r.logger.WarnContext(ctx, "journal write failed", "error", err.Error())
		}
	}

	if success {
		r.logger.InfoContext(ctx, "fallback succeeded",
			"from", adv.from, "to", to, "reason", string(adv.reason))
	} else {
		r.logger.WarnContext(ctx, "fallback failed",
			"from", adv.from, "to", to, "reason", string(adv.reason), "error", adv.errMsg)
	}
	return &ev
}
