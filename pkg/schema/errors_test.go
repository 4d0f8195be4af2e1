package schema

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineError_Format(t *testing.T) {
	err := NewError(ErrCodeCyclicDependency, "cycle detected")
	assert.Equal(t, "[CYCLIC_DEPENDENCY] cycle detected", err.Error())

	err = NewErrorf(ErrCodeHandlerFailed, "handler returned %d rows", 0).WithTask("event_analysis")
	assert.Equal(t, "[HANDLER_FAILED] task event_analysis: handler returned 0 rows", err.Error())

	err = NewError(ErrCodeCircuitOpen, "circuit open").WithProvider("google")
	assert.Equal(t, "[CIRCUIT_OPEN] provider google: circuit open", err.Error())
}

func TestEngineError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewError(ErrCodeExecution, "invoke failed").WithCause(cause)

	assert.ErrorIs(t, err, cause)

	var engErr *EngineError
	require.True(t, errors.As(err, &engErr))
	assert.Equal(t, ErrCodeExecution, engErr.Code)
}

func TestEngineError_Details(t *testing.T) {
	err := NewError(ErrCodeCyclicDependency, "cycle detected").
		WithDetails(map[string]any{"cycle": []string{"a", "b"}})

	assert.Equal(t, []string{"a", "b"}, err.Details["cycle"])
}
