package tools

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// parseArguments decodes tool-call arguments. Both an object and a JSON
// string holding an object are accepted; anything else yields an empty map.
func parseArguments(raw json.RawMessage) map[string]any {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return map[string]any{}
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return map[string]any{}
		}
		raw = bytes.TrimSpace([]byte(s))
	}

	var args map[string]any
	if err := json.Unmarshal(raw, &args); err != nil || args == nil {
		return map[string]any{}
	}
	return args
}

// stringifyResult renders a tool result for the conversation. Strings pass
// through; other values are JSON encoded, or formatted when encoding fails.
func stringifyResult(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}
