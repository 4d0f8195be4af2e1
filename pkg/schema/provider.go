package schema

import (
	"fmt"
	"time"
)

// ProviderConfig describes one LLM provider in the router's fallback chain.
type ProviderConfig struct {
	Name        string  `json:"name" yaml:"name"`
	Priority    int     `json:"priority" yaml:"priority"` // lower is preferred
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Model       string  `json:"model,omitempty" yaml:"model,omitempty"`
	Multimodal  bool    `json:"multimodal,omitempty" yaml:"multimodal,omitempty"`
	MaxRetries  int     `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	Temperature float64 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	MaxTokens   int     `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	// APIKey is held for exported info masking only and never serialized.
	APIKey string `json:"-" yaml:"-"`
}

// MaskKey hides all but the first and last four characters of an API key.
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 12 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// HealthStatus represents the probed health of a provider.
type HealthStatus string

const (
	HealthHealthy   HealthStatus = "healthy"
	HealthDegraded  HealthStatus = "degraded"
	HealthUnhealthy HealthStatus = "unhealthy"
	HealthUnknown   HealthStatus = "unknown" // never probed
)

// ProviderHealth is the result of the most recent health probe.
type ProviderHealth struct {
	Provider            string        `json:"provider"`
	Status              HealthStatus  `json:"status"`
	Latency             time.Duration `json:"latency"`
	CheckedAt           time.Time     `json:"checked_at"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Error               string        `json:"error,omitempty"`
}

// CircuitState represents the state of a provider's circuit breaker.
type CircuitState string

const (
	CircuitClosed   CircuitState = "closed"
	CircuitOpen     CircuitState = "open"
	CircuitHalfOpen CircuitState = "half_open"
)

// ErrorKind classifies provider failures for retry and fallback decisions.
type ErrorKind string

const (
	KindAuth            ErrorKind = "AUTH"
	KindRateLimit       ErrorKind = "RATE_LIMIT"
	KindTimeout         ErrorKind = "TIMEOUT"
	KindConnection      ErrorKind = "CONNECTION"
	KindContentFilter   ErrorKind = "CONTENT_FILTER"
	KindModelOverloaded ErrorKind = "MODEL_OVERLOADED"
	KindInvalidRequest  ErrorKind = "INVALID_REQUEST"
	KindQuotaExceeded   ErrorKind = "QUOTA_EXCEEDED"
	KindNetwork         ErrorKind = "NETWORK"
	KindUnknown         ErrorKind = "UNKNOWN"
)

// Classification is the outcome of classifying a provider failure.
type Classification struct {
	Kind       ErrorKind     `json:"kind"`
	Retryable  bool          `json:"retryable"`
	RetryAfter time.Duration `json:"retry_after,omitempty"` // server-advised wait, 0 if absent
}

// FallbackEvent records one switch from a failing provider to the next
// candidate in the chain. Events sharing a RequestID belong to the same
// invocation.
type FallbackEvent struct {
	ID           string    `json:"id"`
	RequestID    string    `json:"request_id"`
	Timestamp    time.Time `json:"timestamp"`
	FromProvider string    `json:"from_provider"`
	ToProvider   string    `json:"to_provider,omitempty"` // empty when the chain was exhausted
	Reason       ErrorKind `json:"reason"`
	Attempts     int       `json:"attempts"` // attempts spent on the failing provider
	Success      bool      `json:"success"`
	Error        string    `json:"error,omitempty"`
}

// Usage reports token consumption for one completion.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Request is a vendor-neutral completion request.
type Request struct {
	System      string         `json:"system,omitempty"`
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model,omitempty"` // overrides the provider default
	Temperature *float64       `json:"temperature,omitempty"`
	MaxTokens   int            `json:"max_tokens,omitempty"`
	Multimodal  bool           `json:"multimodal,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Response is a vendor-neutral completion response.
type Response struct {
	Content      string        `json:"content"`
	Provider     string        `json:"provider"`
	Model        string        `json:"model"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Usage        Usage         `json:"usage"`
	Latency      time.Duration `json:"latency"`
}

// ProviderError carries wire-level failure detail from a provider client.
// Classifiers inspect StatusCode and Message; RetryAfter propagates the
// server-advised backoff when the vendor returned one.
type ProviderError struct {
	Provider   string        `json:"provider"`
	StatusCode int           `json:"status_code,omitempty"`
	RetryAfter time.Duration `json:"retry_after,omitempty"`
	RequestID  string        `json:"request_id,omitempty"`
	Message    string        `json:"message"`
	Err        error         `json:"-"`
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("provider %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("provider %s: %s", e.Provider, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}
