// Package faults classifies provider failures and computes retry backoff.
// Classification drives two decisions: whether the current provider gets
// another attempt, and how long to wait before that attempt.
package faults

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/xiongQvQ/ZenGrowth/pkg/schema"
)

// retryableKinds are transient failures worth retrying on the same provider.
var retryableKinds = map[schema.ErrorKind]bool{
	schema.KindRateLimit:       true,
	schema.KindTimeout:         true,
	schema.KindConnection:      true,
	schema.KindModelOverloaded: true,
	schema.KindNetwork:         true,
	schema.KindUnknown:         true,
}

// Retryable reports whether failures of the given kind are worth retrying.
func Retryable(kind schema.ErrorKind) bool {
	return retryableKinds[kind]
}

// Classify maps an arbitrary provider failure to an ErrorKind and retry
// decision. Status codes from ProviderError take precedence over message
// heuristics; unrecognized errors default to retryable UNKNOWN so the
// retry policy can limit attempts.
func Classify(err error) schema.Classification {
	if err == nil {
		return schema.Classification{Kind: schema.KindUnknown}
	}

	// Deadline exceeded is a timeout (per-call, not engine shutdown).
	if errors.Is(err, context.DeadlineExceeded) {
		return schema.Classification{Kind: schema.KindTimeout, Retryable: true}
	}

	// Context cancelled means the run is shutting down; never retry.
	if errors.Is(err, context.Canceled) {
		return schema.Classification{Kind: schema.KindUnknown, Retryable: false}
	}

	var provErr *schema.ProviderError
	if errors.As(err, &provErr) {
		cls := classifyProvider(provErr)
		cls.RetryAfter = provErr.RetryAfter
		return cls
	}

	// Network errors from the transport layer.
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return schema.Classification{Kind: schema.KindTimeout, Retryable: true}
		}
		return schema.Classification{Kind: schema.KindNetwork, Retryable: true}
	}

	kind := kindFromMessage(err.Error())
	return schema.Classification{Kind: kind, Retryable: Retryable(kind)}
}

// classifyProvider maps a ProviderError to a kind, preferring the HTTP
// status code and falling back to message heuristics.
func classifyProvider(err *schema.ProviderError) schema.Classification {
	switch err.StatusCode {
	case 401, 403:
		return schema.Classification{Kind: schema.KindAuth, Retryable: false}
	case 429:
		// 429 covers both throttling and exhausted quota; quota wording wins.
		if containsAny(strings.ToLower(err.Message), "quota", "billing") {
			return schema.Classification{Kind: schema.KindQuotaExceeded, Retryable: false}
		}
		return schema.Classification{Kind: schema.KindRateLimit, Retryable: true}
	case 408:
		return schema.Classification{Kind: schema.KindTimeout, Retryable: true}
	case 400, 404, 422:
		if containsAny(strings.ToLower(err.Message), "content filter", "safety", "blocked") {
			return schema.Classification{Kind: schema.KindContentFilter, Retryable: false}
		}
		return schema.Classification{Kind: schema.KindInvalidRequest, Retryable: false}
	case 402:
		return schema.Classification{Kind: schema.KindQuotaExceeded, Retryable: false}
	case 503, 529:
		return schema.Classification{Kind: schema.KindModelOverloaded, Retryable: true}
	case 502, 504:
		return schema.Classification{Kind: schema.KindConnection, Retryable: true}
	}

	kind := kindFromMessage(err.Message)
	return schema.Classification{Kind: kind, Retryable: Retryable(kind)}
}

// kindFromMessage applies string heuristics for errors that carry no
// usable status code.
func kindFromMessage(msg string) schema.ErrorKind {
	msg = strings.ToLower(msg)

	switch {
	case containsAny(msg, "api key", "unauthorized", "authentication", "permission denied", "forbidden"):
		return schema.KindAuth
	case containsAny(msg, "rate limit", "too many requests"):
		return schema.KindRateLimit
	case containsAny(msg, "content filter", "safety", "blocked by"):
		return schema.KindContentFilter
	case containsAny(msg, "quota", "billing"):
		return schema.KindQuotaExceeded
	case containsAny(msg, "overloaded", "capacity", "service unavailable"):
		return schema.KindModelOverloaded
	case containsAny(msg, "invalid request", "bad request", "invalid argument"):
		return schema.KindInvalidRequest
	case containsAny(msg, "i/o timeout", "deadline exceeded", "timed out", "timeout"):
		return schema.KindTimeout
	case containsAny(msg, "connection refused", "connection reset", "broken pipe", "bad gateway", "gateway timeout"):
		return schema.KindConnection
	case containsAny(msg, "no such host", "network is unreachable", "dns", "eof", "temporary failure"):
		return schema.KindNetwork
	}

	return schema.KindUnknown
}

func containsAny(s string, patterns ...string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
