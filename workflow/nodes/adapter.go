package nodes

import (
	"context"
	"fmt"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/tools"
	"github.com/BaSui01/agentgraph/workflow"
)

// OrchestratorRunner implements workflow.InferenceRunner on top of the
// tool-calling orchestrator, resolving model ids through a ModelRegistry.
type OrchestratorRunner struct {
	orchestrator *tools.Orchestrator
	models       *llm.ModelRegistry
}

var _ workflow.InferenceRunner = (*OrchestratorRunner)(nil)

// NewOrchestratorRunner creates the adapter.
func NewOrchestratorRunner(o *tools.Orchestrator, models *llm.ModelRegistry) *OrchestratorRunner {
	if models == nil {
		models = llm.NewModelRegistry()
	}
	return &OrchestratorRunner{orchestrator: o, models: models}
}

// RunInference implements workflow.InferenceRunner.
func (r *OrchestratorRunner) RunInference(ctx context.Context, call workflow.InferenceCall) (*workflow.InferenceOutcome, error) {
	model, err := r.models.Resolve(call.ModelID)
	if err != nil {
		return nil, fmt.Errorf("resolve model: %w", err)
	}

	res, err := r.orchestrator.Run(ctx, tools.Request{
		Messages:     call.Messages,
		Model:        model,
		SystemPrompt: call.SystemPrompt,
		Parameters:   call.Parameters,
		Stream:       call.Stream,
		Tools:        call.Tools,
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	return &workflow.InferenceOutcome{Text: res.Text, Messages: res.Messages, Rounds: res.Rounds}, nil
}
