package tools

import (
	"errors"
	"fmt"
)

var (
	// ErrInferenceTimeout is returned when no terminal response arrives
	// within the response timeout. The outstanding request is cancelled.
	ErrInferenceTimeout = errors.New("inference response timed out")

	// ErrInferenceCancelled is returned when the backend reports the
	// request as cancelled.
	ErrInferenceCancelled = errors.New("inference request was cancelled")

	// ErrMaxIterations is matched by IterationBoundExceededError.
	ErrMaxIterations = errors.New("maximum tool execution depth exceeded")

	// ErrNoToolset is returned when the model requests tools but the call
	// supplied none.
	ErrNoToolset = errors.New("model requested tool calls but no toolset was provided")
)

// IterationBoundExceededError reports a tool loop that did not converge.
type IterationBoundExceededError struct {
	MaxIterations int
}

func (e *IterationBoundExceededError) Error() string {
	return fmt.Sprintf("%s (%d rounds)", ErrMaxIterations, e.MaxIterations)
}

func (e *IterationBoundExceededError) Is(target error) bool {
	return target == ErrMaxIterations
}

// ToolResolutionError reports a tool call naming an unknown tool.
type ToolResolutionError struct {
	Tool string
}

func (e *ToolResolutionError) Error() string {
	return fmt.Sprintf("tool %q not found in toolset", e.Tool)
}

// ToolInvocationError wraps an error returned by a tool.
type ToolInvocationError struct {
	Tool string
	Err  error
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %q failed: %v", e.Tool, e.Err)
}

func (e *ToolInvocationError) Unwrap() error {
	return e.Err
}

// InferenceError reports a request that ended with status error.
type InferenceError struct {
	RequestID string
	Message   string
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference request %s failed: %s", e.RequestID, e.Message)
}
