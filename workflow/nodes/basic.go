package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/BaSui01/agentgraph/workflow"
)

// TriggerExecutor emits the message that started the run. The message
// normally arrives through an edge from the workflow-input pseudo node;
// without one the executor reads the trigger slot directly. A node may
// configure a fallback "message" used when the trigger carried none.
type TriggerExecutor struct{}

func (TriggerExecutor) Execute(_ context.Context, req workflow.ExecRequest) (workflow.NodeResult, error) {
	var msg string
	if v, ok := req.Input(workflow.InputInput); ok {
		msg = asText(v)
	} else if req.Context != nil {
		if v, ok := req.Context.Values.Get(workflow.BareSlot(workflow.WorkflowInputKey)); ok {
			msg, _ = v.(string)
		}
	}
	if msg == "" {
		msg = req.Node.StringData("message")
	}
	return workflow.Succeeded(msg), nil
}

// TextExecutor emits Data["text"]. The placeholder {{input}} is replaced
// by the node's input.
type TextExecutor struct{}

func (TextExecutor) Execute(_ context.Context, req workflow.ExecRequest) (workflow.NodeResult, error) {
	text := req.Node.StringData("text")
	if in, ok := req.Input(workflow.InputInput); ok && strings.Contains(text, "{{input}}") {
		text = strings.ReplaceAll(text, "{{input}}", asText(in))
	}
	return workflow.Succeeded(text), nil
}

// ChatOutputExecutor forwards its input. The runner takes the value of the
// last chatOutput node as the run's output.
type ChatOutputExecutor struct{}

func (ChatOutputExecutor) Execute(_ context.Context, req workflow.ExecRequest) (workflow.NodeResult, error) {
	v, _ := req.Input(workflow.InputInput)
	return workflow.Succeeded(v), nil
}

func asText(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case fmt.Stringer:
		return s.String()
	}
	return fmt.Sprint(v)
}
