package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTool_SchemaDefaultsToEmptyObject(t *testing.T) {
	tool := Tool{Name: "clock", Description: "current time"}
	schema := tool.Schema()

	assert.Equal(t, "clock", schema.Name)
	assert.JSONEq(t, `{"type":"object","properties":{}}`, string(schema.Parameters))
}

func TestTool_SchemaKeepsDeclaredParameters(t *testing.T) {
	params := json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)
	tool := Tool{Name: "weather", InputSchema: params}

	assert.JSONEq(t, string(params), string(tool.Schema().Parameters))
}

func TestMessage_HasToolCalls(t *testing.T) {
	m := NewAssistantMessage("")
	assert.False(t, m.HasToolCalls())

	m = m.WithToolCalls([]ToolCall{{ID: "call_1_1", Name: "clock"}})
	assert.True(t, m.HasToolCalls())
	assert.Equal(t, RoleAssistant, m.Role)
}
