package workflow

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

// NodeResult is what an executor reports for one node.
// Value may be a scalar, a slice (a tool collection) or a structured value.
type NodeResult struct {
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
	// Cause keeps the typed error behind a failure so callers of
	// ExecuteWorkflow can match it with errors.Is / errors.As.
	Cause error `json:"-"`
}

// Succeeded builds a successful result carrying value.
func Succeeded(value any) NodeResult {
	return NodeResult{Success: true, Value: value}
}

// Failed builds a failed result carrying msg.
func Failed(msg string) NodeResult {
	return NodeResult{Success: false, Error: msg}
}

// FailedWithCause builds a failed result from err, keeping err as the cause.
func FailedWithCause(err error) NodeResult {
	if err == nil {
		return Failed("")
	}
	return NodeResult{Success: false, Error: err.Error(), Cause: err}
}

// ExecRequest is everything an executor receives for one node.
type ExecRequest struct {
	Node    Node
	Inputs  map[string]any
	Context *ExecutionContext
	Graph   *Graph
	Deps    *Deps
}

// Input returns the resolved input name.
func (r ExecRequest) Input(name string) (any, bool) {
	v, ok := r.Inputs[name]
	return v, ok
}

// NodeExecutor runs one node type.
//
// Executors are expected to convert their own failures into a result with
// Success false. A returned error aborts the run and is passed to the
// caller of ExecuteWorkflow unchanged.
type NodeExecutor interface {
	Execute(ctx context.Context, req ExecRequest) (NodeResult, error)
}

// ExecutorFunc adapts a function to NodeExecutor.
type ExecutorFunc func(ctx context.Context, req ExecRequest) (NodeResult, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req ExecRequest) (NodeResult, error) {
	return f(ctx, req)
}

// OutputReflector is implemented by executors whose nodes expose named
// output handles. After a successful execution the runner hands the value
// to ReflectOutputs, which writes the handle-scoped slots.
type OutputReflector interface {
	ReflectOutputs(nodeID string, value any, values *NodeValues)
}

// InferenceCall is one "ask the model, maybe call tools, repeat" request
// made by an inference-capable node.
type InferenceCall struct {
	Messages     []types.Message
	ModelID      string
	SystemPrompt string
	Parameters   map[string]any
	Stream       bool
	Tools        []types.Tool
}

// InferenceOutcome is the final answer of an InferenceCall.
type InferenceOutcome struct {
	Text     string
	Messages []types.Message
	Rounds   int
}

// InferenceRunner performs tool-calling inference for executors.
// A nil outcome with a nil error means the request could not be queued.
type InferenceRunner interface {
	RunInference(ctx context.Context, call InferenceCall) (*InferenceOutcome, error)
}

// Deps is the bag of external collaborators injected into every executor.
// The engine never calls them itself.
type Deps struct {
	Inference InferenceRunner
	Logger    *zap.Logger
	Extra     map[string]any
}

// Lookup returns an extra collaborator registered under name.
func (d *Deps) Lookup(name string) (any, bool) {
	if d == nil || d.Extra == nil {
		return nil, false
	}
	v, ok := d.Extra[name]
	return v, ok
}

// ExecutorRegistry maps node type tags to executors. It is safe for
// concurrent use; new types may be registered while runs are in flight.
type ExecutorRegistry struct {
	mu        sync.RWMutex
	executors map[NodeType]NodeExecutor
}

// NewRegistry creates an empty registry.
func NewRegistry() *ExecutorRegistry {
	return &ExecutorRegistry{executors: make(map[NodeType]NodeExecutor)}
}

// Register installs exec for typ, replacing any previous executor.
func (r *ExecutorRegistry) Register(typ NodeType, exec NodeExecutor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[typ] = exec
}

// RegisterFunc installs fn for typ.
func (r *ExecutorRegistry) RegisterFunc(typ NodeType, fn func(ctx context.Context, req ExecRequest) (NodeResult, error)) {
	r.Register(typ, ExecutorFunc(fn))
}

// Unregister removes the executor for typ.
func (r *ExecutorRegistry) Unregister(typ NodeType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.executors, typ)
}

// Executor returns the executor registered for typ.
func (r *ExecutorRegistry) Executor(typ NodeType) (NodeExecutor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[typ]
	return exec, ok
}

// Types returns the registered node types in sorted order.
func (r *ExecutorRegistry) Types() []NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]NodeType, 0, len(r.executors))
	for t := range r.executors {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
