package nodes

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/llm/tokenizer"
	"github.com/BaSui01/agentgraph/workflow"
)

type options struct {
	tools     *ToolCatalog
	scripts   *Scripts
	tokenizer tokenizer.Tokenizer
	logger    *zap.Logger
}

// Option configures RegisterBuiltins.
type Option func(*options)

// WithTools sets the catalog toolset nodes select from.
func WithTools(c *ToolCatalog) Option {
	return func(o *options) { o.tools = c }
}

// WithScripts sets the transforms javascript nodes may run.
func WithScripts(s *Scripts) Option {
	return func(o *options) { o.scripts = s }
}

// WithTokenizer sets the tokenizer inference nodes use to log prompt sizes.
func WithTokenizer(t tokenizer.Tokenizer) Option {
	return func(o *options) { o.tokenizer = t }
}

// WithLogger sets the executors' logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// RegisterBuiltins installs an executor for every built-in node type.
// Existing registrations for those types are replaced.
func RegisterBuiltins(reg *workflow.ExecutorRegistry, opts ...Option) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.tools == nil {
		o.tools = NewToolCatalog()
	}
	if o.scripts == nil {
		o.scripts = NewScripts()
	}

	reg.Register(workflow.NodeTypeTrigger, TriggerExecutor{})
	reg.Register(workflow.NodeTypeText, TextExecutor{})
	reg.Register(workflow.NodeTypeJavaScript, NewScriptExecutor(o.scripts))
	reg.Register(workflow.NodeTypeInference, NewInferenceExecutor(o.tokenizer, o.logger))
	reg.Register(workflow.NodeTypeChatOutput, ChatOutputExecutor{})
	reg.Register(workflow.NodeTypeToolset, NewToolsetExecutor(o.tools))
}
