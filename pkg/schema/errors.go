package schema

import "fmt"

// Error codes for structured error reporting.
const (
	ErrCodeValidation            = "VALIDATION_ERROR"
	ErrCodeExecution             = "EXECUTION_ERROR"
	ErrCodeTimeout               = "TIMEOUT_ERROR"
	ErrCodeNotFound              = "NOT_FOUND"
	ErrCodeCancelled             = "CANCELLED"
	ErrCodeDuplicateTask         = "DUPLICATE_TASK"
	ErrCodeCyclicDependency      = "CYCLIC_DEPENDENCY"
	ErrCodeUnknownTask           = "UNKNOWN_TASK"
	ErrCodeDependencyUnsatisfied = "DEPENDENCY_UNSATISFIED"
	ErrCodeHandlerFailed         = "HANDLER_FAILED"
	ErrCodeInterpolation         = "INTERPOLATION_ERROR"
	ErrCodeUnknownProvider       = "UNKNOWN_PROVIDER"
	ErrCodeProviderDisabled      = "PROVIDER_DISABLED"
	ErrCodeCircuitOpen           = "CIRCUIT_OPEN"
	ErrCodeAllProvidersExhausted = "ALL_PROVIDERS_EXHAUSTED"
	ErrCodeJournal               = "JOURNAL_ERROR"
)

// EngineError is the structured error type for all engine operations.
type EngineError struct {
	Code     string         `json:"code"`
	Message  string         `json:"message"`
	Details  map[string]any `json:"details,omitempty"`
	TaskID   string         `json:"task_id,omitempty"`
	Provider string         `json:"provider,omitempty"`
	Cause    error          `json:"-"`
}

func (e *EngineError) Error() string {
	switch {
	case e.TaskID != "":
		return fmt.Sprintf("[%s] task %s: %s", e.Code, e.TaskID, e.Message)
	case e.Provider != "":
		return fmt.Sprintf("[%s] provider %s: %s", e.Code, e.Provider, e.Message)
	default:
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
}

func (e *EngineError) Unwrap() error {
	return e.Cause
}

// NewError creates a new EngineError.
func NewError(code, message string) *EngineError {
	return &EngineError{Code: code, Message: message}
}

// NewErrorf creates a new EngineError with a formatted message.
func NewErrorf(code, format string, args ...any) *EngineError {
	return &EngineError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithTask attaches a task ID to the error.
func (e *EngineError) WithTask(taskID string) *EngineError {
	e.TaskID = taskID
	return e
}

// WithProvider attaches a provider name to the error.
func (e *EngineError) WithProvider(name string) *EngineError {
	e.Provider = name
	return e
}

// WithCause attaches an underlying cause.
func (e *EngineError) WithCause(err error) *EngineError {
	e.Cause = err
	return e
}

// WithDetails attaches key-value details.
func (e *EngineError) WithDetails(details map[string]any) *EngineError {
	e.Details = details
	return e
}
