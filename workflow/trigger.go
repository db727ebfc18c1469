package workflow

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// TriggerTypeManual is the trigger type of user-initiated runs and of the
// legacy bare-string form.
const TriggerTypeManual = "manual"

// TriggerContext is the payload that starts a run.
//
// On the wire it is either a bare JSON string (the legacy form, a user
// message) or an object {"type": "...", "message": "..."}.
type TriggerContext struct {
	Type    string `json:"type" yaml:"type"`
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// ManualTrigger returns a manual trigger carrying message.
func ManualTrigger(message string) *TriggerContext {
	return &TriggerContext{Type: TriggerTypeManual, Message: message}
}

// UnmarshalJSON accepts both the legacy string and the tagged object form.
func (t *TriggerContext) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = TriggerContext{}
		return nil
	}
	if data[0] == '"' {
		var msg string
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("failed to unmarshal trigger message: %w", err)
		}
		*t = TriggerContext{Type: TriggerTypeManual, Message: msg}
		return nil
	}

	type alias TriggerContext
	var aux alias
	if err := json.Unmarshal(data, &aux); err != nil {
		return fmt.Errorf("failed to unmarshal trigger context: %w", err)
	}
	*t = TriggerContext(aux)
	return nil
}

// normalizeTrigger returns the effective trigger for a run. A missing
// trigger or type defaults to manual.
func normalizeTrigger(t *TriggerContext) TriggerContext {
	if t == nil {
		return TriggerContext{Type: TriggerTypeManual}
	}
	out := *t
	if out.Type == "" {
		out.Type = TriggerTypeManual
	}
	return out
}

// seedTrigger writes the two well-known trigger values.
func seedTrigger(values *NodeValues, t TriggerContext) {
	values.Set(BareSlot(WorkflowInputKey), t.Message)
	values.Set(BareSlot(WorkflowTriggerContextKey), t)
}
