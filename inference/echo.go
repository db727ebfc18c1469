package inference

import (
	"context"
	"strings"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// EchoEngine answers with the content of the last user message. When
// streaming it emits one chunk per word.
type EchoEngine struct{}

// NewEchoEngine creates an echo engine.
func NewEchoEngine() *EchoEngine {
	return &EchoEngine{}
}

func (e *EchoEngine) Infer(ctx context.Context, req llm.InferenceRequest, model llm.ModelSpec, sink ChunkSink) (*Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	text := ""
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == types.RoleUser {
			text = req.Messages[i].Content
			break
		}
	}
	if prefix := model.ConfigString("prefix"); prefix != "" {
		text = prefix + text
	}

	if req.Stream && sink != nil {
		words := strings.SplitAfter(text, " ")
		for _, w := range words {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			if w != "" {
				sink(ChunkText, w)
			}
		}
	}
	return &Output{Text: text}, nil
}
