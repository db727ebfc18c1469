package nodes

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/llm/tokenizer"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
)

// InferenceExecutor asks a model through Deps.Inference.
//
// The conversation is the node's history input followed by its input as a
// user turn. Node data may set "modelId", "systemPrompt", "parameters" and
// "stream"; a systemPrompt input overrides the configured one. Tools come
// from the toolset input.
type InferenceExecutor struct {
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// NewInferenceExecutor creates the inference node executor. A nil
// tokenizer disables prompt-size logging.
func NewInferenceExecutor(tok tokenizer.Tokenizer, logger *zap.Logger) *InferenceExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InferenceExecutor{
		tokenizer: tok,
		logger:    logger.With(zap.String("component", "inference_node")),
	}
}

func (e *InferenceExecutor) Execute(ctx context.Context, req workflow.ExecRequest) (workflow.NodeResult, error) {
	if req.Deps == nil || req.Deps.Inference == nil {
		return workflow.Failed("no inference runner configured"), nil
	}

	call := BuildInferenceCall(req)
	if len(call.Messages) == 0 {
		return workflow.Failed("inference node has no input"), nil
	}
	logger := e.logger.With(zap.String("node_id", req.Node.ID), zap.String("model_id", call.ModelID))
	if ts, ok := req.Input(workflow.InputToolset); ok {
		if _, dropped := collectTools(ts); dropped > 0 {
			logger.Debug("ignoring toolset items that are not tools",
				zap.Int("dropped", dropped),
				zap.Int("tools", len(call.Tools)),
			)
		}
	}

	if e.tokenizer != nil {
		if n, err := e.tokenizer.CountMessages(call.Messages); err == nil {
			logger.Debug("prompt size",
				zap.Int("prompt_tokens", n),
				zap.String("tokenizer", e.tokenizer.Name()),
				zap.Int("tools", len(call.Tools)),
			)
		}
	}

	outcome, err := req.Deps.Inference.RunInference(ctx, call)
	if err != nil {
		if errors.Is(err, context.Canceled) && ctx.Err() != nil {
			return workflow.NodeResult{}, ctx.Err()
		}
		return workflow.FailedWithCause(err), nil
	}
	if outcome == nil {
		logger.Warn("inference could not be queued")
		return workflow.Succeeded(nil), nil
	}

	logger.Debug("inference finished", zap.Int("rounds", outcome.Rounds))
	return workflow.Succeeded(outcome.Text), nil
}

// BuildInferenceCall assembles the call an inference node makes from its
// data and resolved inputs.
func BuildInferenceCall(req workflow.ExecRequest) workflow.InferenceCall {
	node := req.Node
	call := workflow.InferenceCall{
		ModelID:      firstString(node.StringData("modelId"), node.StringData("model")),
		SystemPrompt: node.StringData("systemPrompt"),
	}
	if params, ok := node.Data["parameters"].(map[string]any); ok {
		call.Parameters = params
	}
	if stream, ok := node.Data["stream"].(bool); ok {
		call.Stream = stream
	}
	if sp, ok := req.Input(workflow.InputSystemPrompt); ok {
		if s := asText(sp); s != "" {
			call.SystemPrompt = s
		}
	}

	if h, ok := req.Input(workflow.InputHistory); ok {
		call.Messages = historyMessages(h)
	}
	if in, ok := req.Input(workflow.InputInput); ok {
		if s := asText(in); s != "" {
			call.Messages = append(call.Messages, types.NewUserMessage(s))
		}
	}
	if ts, ok := req.Input(workflow.InputToolset); ok {
		call.Tools, _ = collectTools(ts)
	}
	return call
}

// historyMessages accepts typed messages, decoded JSON turns
// ({"role", "content"}) or a bare string treated as one user turn.
func historyMessages(v any) []types.Message {
	switch h := v.(type) {
	case []types.Message:
		return append([]types.Message(nil), h...)
	case string:
		if h == "" {
			return nil
		}
		return []types.Message{types.NewUserMessage(h)}
	case []any:
		out := make([]types.Message, 0, len(h))
		for _, item := range h {
			switch m := item.(type) {
			case types.Message:
				out = append(out, m)
			case map[string]any:
				role, _ := m["role"].(string)
				content, _ := m["content"].(string)
				if role == "" {
					role = string(types.RoleUser)
				}
				out = append(out, types.NewMessage(types.Role(role), content))
			case string:
				out = append(out, types.NewUserMessage(m))
			}
		}
		return out
	}
	return nil
}

func firstString(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
