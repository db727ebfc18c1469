package inference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// ErrUnsupportedEngine is returned for an engine name with no registration.
var ErrUnsupportedEngine = errors.New("unsupported inference engine")

// ChunkKind distinguishes streamed answer text from streamed reasoning.
type ChunkKind string

const (
	ChunkText      ChunkKind = "text"
	ChunkReasoning ChunkKind = "reasoning"
)

// ChunkSink receives streaming deltas in arrival order.
type ChunkSink func(kind ChunkKind, delta string)

// Output is the final result of one inference.
type Output struct {
	Text      string
	Reasoning string
	ToolCalls []types.ToolCall
}

// Engine performs one inference against a concrete model service.
// It must return promptly once ctx is done.
type Engine interface {
	Infer(ctx context.Context, req llm.InferenceRequest, model llm.ModelSpec, sink ChunkSink) (*Output, error)
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, req llm.InferenceRequest, model llm.ModelSpec, sink ChunkSink) (*Output, error)

// Infer calls f.
func (f EngineFunc) Infer(ctx context.Context, req llm.InferenceRequest, model llm.ModelSpec, sink ChunkSink) (*Output, error) {
	return f(ctx, req, model, sink)
}

// Engines maps engine names to implementations.
type Engines struct {
	mu      sync.RWMutex
	engines map[string]Engine
}

// NewEngines creates an empty engine table.
func NewEngines() *Engines {
	return &Engines{engines: make(map[string]Engine)}
}

// Register installs e under name, replacing any previous engine.
func (e *Engines) Register(name string, engine Engine) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.engines[strings.ToLower(name)] = engine
}

// Get returns the engine registered under name.
func (e *Engines) Get(name string) (Engine, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	engine, ok := e.engines[strings.ToLower(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEngine, name)
	}
	return engine, nil
}

// Names returns the registered engine names in sorted order.
func (e *Engines) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.engines))
	for name := range e.engines {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// OpenAICompatEngineNames are the engine names served by the
// OpenAI-compatible engine.
var OpenAICompatEngineNames = []string{"openai", "openai_compatible", "openrouter", "anthropic"}

// EngineConfig configures the default engine table.
type EngineConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// DefaultEngines registers the OpenAI-compatible engine under every
// compatible name, plus the echo engine.
func DefaultEngines(cfg EngineConfig, logger *zap.Logger) *Engines {
	engines := NewEngines()
	compat := NewOpenAICompatEngine(cfg, logger)
	for _, name := range OpenAICompatEngineNames {
		engines.Register(name, compat)
	}
	engines.Register("echo", NewEchoEngine())
	return engines
}
