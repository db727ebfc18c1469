package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/BaSui01/agentgraph/types"
)

// Status is the state carried by an InferenceResponse.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
	StatusCancelled Status = "cancelled"
)

// IsTerminal reports whether no further events follow for the request.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusError || s == StatusCancelled
}

// Model types.
const (
	ModelTypeChat       = "chat"
	ModelTypeCompletion = "completion"
)

// ModelSpec describes the model a request is queued against. Requests for
// the same ID share one queue and one concurrency bound.
type ModelSpec struct {
	ID                    string         `json:"id" yaml:"id"`
	ModelType             string         `json:"model_type" yaml:"model_type"`
	Config                map[string]any `json:"config,omitempty" yaml:"config,omitempty"`
	MaxConcurrentRequests int            `json:"max_concurrent_requests" yaml:"max_concurrent_requests"`
	Engine                string         `json:"engine" yaml:"engine"`
}

// ConfigString returns Config[key] when it holds a string.
func (m ModelSpec) ConfigString(key string) string {
	if m.Config == nil {
		return ""
	}
	s, _ := m.Config[key].(string)
	return s
}

// InferenceRequest is one model invocation. ID is chosen by the caller so
// that it can subscribe to responses before submitting.
type InferenceRequest struct {
	ID           string             `json:"id"`
	Messages     []types.Message    `json:"messages"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Parameters   map[string]any     `json:"parameters,omitempty"`
	Stream       bool               `json:"stream"`
	Tools        []types.ToolSchema `json:"tools,omitempty"`
}

// InferenceResponse is an event for one request.
//
// Completed results carry "text" (non-streaming) or "full_response" and
// "reasoning" (streaming), plus "tool_calls" when the model requested tools.
// Streaming chunks carry a "text" or "reasoning" delta. Error holds a JSON
// object {"message", "details"}.
type InferenceResponse struct {
	RequestID string         `json:"request_id"`
	Status    Status         `json:"status"`
	Result    map[string]any `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Text returns the response text of a completed result.
func (r InferenceResponse) Text() string {
	if r.Result == nil {
		return ""
	}
	if s, ok := r.Result["text"].(string); ok {
		return s
	}
	s, _ := r.Result["full_response"].(string)
	return s
}

// Reasoning returns the aggregated reasoning text, if any.
func (r InferenceResponse) Reasoning() string {
	if r.Result == nil {
		return ""
	}
	s, _ := r.Result["reasoning"].(string)
	return s
}

// ToolCalls returns the tool calls of a completed result. It accepts both
// typed calls set by in-process engines and the generic JSON shape.
func (r InferenceResponse) ToolCalls() []types.ToolCall {
	if r.Result == nil {
		return nil
	}
	switch v := r.Result["tool_calls"].(type) {
	case []types.ToolCall:
		out := make([]types.ToolCall, len(v))
		copy(out, v)
		return out
	case []any:
		out := make([]types.ToolCall, 0, len(v))
		for _, item := range v {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			call := types.ToolCall{}
			call.ID, _ = m["id"].(string)
			call.Name, _ = m["name"].(string)
			if args, ok := m["arguments"]; ok && args != nil {
				if raw, err := json.Marshal(args); err == nil {
					call.Arguments = raw
				}
			}
			out = append(out, call)
		}
		return out
	}
	return nil
}

// ErrorMessage extracts the message of an error response.
func (r InferenceResponse) ErrorMessage() string {
	var payload struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal([]byte(r.Error), &payload); err == nil && payload.Message != "" {
		return payload.Message
	}
	return r.Error
}

// ErrorPayload encodes err as the JSON error body of an error response.
func ErrorPayload(err error) string {
	data, mErr := json.Marshal(map[string]string{
		"message": err.Error(),
		"details": fmt.Sprintf("%+v", err),
	})
	if mErr != nil {
		return err.Error()
	}
	return string(data)
}

// Backend queues inference requests. Submit returns once the request is
// queued; responses are published on a Hub.
type Backend interface {
	Submit(ctx context.Context, req InferenceRequest, model ModelSpec) (string, error)
	Cancel(ctx context.Context, modelID, requestID string) bool
}
