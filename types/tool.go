package types

import (
	"context"
	"encoding/json"
)

// ToolSchema defines a tool's interface for model function calling.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolFunc is the callable behind a workflow tool.
type ToolFunc func(ctx context.Context, args map[string]any) (any, error)

// Tool is a workflow-local tool definition. The engine treats Invoke as an
// opaque callable; InputSchema may be empty.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
	Invoke      ToolFunc        `json:"-"`
}

// EmptyObjectSchema is used for tools that declare no parameters.
var EmptyObjectSchema = json.RawMessage(`{"type":"object","properties":{}}`)

// Schema converts the tool to the definition sent to the model.
func (t Tool) Schema() ToolSchema {
	params := t.InputSchema
	if len(params) == 0 || string(params) == "null" {
		params = EmptyObjectSchema
	}
	return ToolSchema{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}
