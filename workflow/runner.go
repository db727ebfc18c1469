package workflow

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/types"
)

const instrumentationName = "github.com/BaSui01/agentgraph/workflow"

// NodeCallback is invoked synchronously after every executed node, whether
// it succeeded or failed, before the run possibly aborts.
type NodeCallback func(nodeID string, result NodeResult)

// MetricsRecorder receives run and node measurements.
type MetricsRecorder interface {
	RecordWorkflowRun(workflowID string, status RunStatus, duration time.Duration)
	RecordNodeExecution(nodeType NodeType, success bool, duration time.Duration)
}

// Runner executes workflow graphs. Nodes of one run execute sequentially in
// topological order; independent branches are never run in parallel.
type Runner struct {
	registry  *ExecutorRegistry
	scheduler *WorkflowScheduler
	logger    *zap.Logger
	metrics   MetricsRecorder
	history   HistoryRecorder
	tracer    trace.Tracer
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithLogger sets the runner's logger.
func WithLogger(logger *zap.Logger) RunnerOption {
	return func(r *Runner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) RunnerOption {
	return func(r *Runner) { r.metrics = m }
}

// WithHistory sets the history recorder.
func WithHistory(h HistoryRecorder) RunnerOption {
	return func(r *Runner) { r.history = h }
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(t trace.Tracer) RunnerOption {
	return func(r *Runner) {
		if t != nil {
			r.tracer = t
		}
	}
}

// NewRunner creates a runner dispatching through registry and tracking runs
// in scheduler. A nil scheduler gets a private one.
func NewRunner(registry *ExecutorRegistry, scheduler *WorkflowScheduler, opts ...RunnerOption) *Runner {
	if registry == nil {
		registry = NewRegistry()
	}
	if scheduler == nil {
		scheduler = NewScheduler()
	}
	r := &Runner{
		registry:  registry,
		scheduler: scheduler,
		logger:    zap.NewNop(),
		tracer:    otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(zap.String("component", "workflow_runner"))
	return r
}

// Scheduler returns the scheduler tracking this runner's runs.
func (r *Runner) Scheduler() *WorkflowScheduler {
	return r.scheduler
}

// Registry returns the executor registry.
func (r *Runner) Registry() *ExecutorRegistry {
	return r.registry
}

// CancelWorkflow asks the active run of graphID to stop before its next
// node. The node in flight is not interrupted. It is idempotent.
func (r *Runner) CancelWorkflow(graphID string) {
	if r.scheduler.Cancel(graphID) {
		r.logger.Info("workflow cancellation requested", zap.String("workflow_id", graphID))
	}
}

// IsWorkflowRunning reports whether graphID has an active, uncancelled run.
func (r *Runner) IsWorkflowRunning(graphID string) bool {
	return r.scheduler.IsRunning(graphID)
}

// ExecuteWorkflow runs graph to completion and returns the value of the last
// executed chatOutput node, or nil when none produced a value.
//
// A cancelled run is not an error: it returns whatever output existed when
// it stopped. Cycles, failed nodes and caller context cancellation are
// returned as errors; an error returned by an executor itself is returned
// unchanged. In every case the run is untracked before returning.
func (r *Runner) ExecuteWorkflow(ctx context.Context, graph *Graph, trigger *TriggerContext, deps *Deps, onNodeExecuted NodeCallback) (output any, err error) {
	if graph == nil {
		return nil, ErrNilGraph
	}

	runID := uuid.NewString()
	execCtx := NewExecutionContext(graph.ID, runID)
	if prev := r.scheduler.Register(graph.ID, execCtx); prev != nil {
		r.logger.Warn("replacing tracked run of workflow",
			zap.String("workflow_id", graph.ID),
			zap.String("previous_run_id", prev.RunID),
			zap.String("run_id", runID),
		)
	}

	trig := normalizeTrigger(trigger)
	trail := newRunTrail(runID, graph.ID, trig)
	logger := r.logger.With(zap.String("workflow_id", graph.ID), zap.String("run_id", runID))

	ctx = types.WithRunID(types.WithWorkflowID(ctx, graph.ID), runID)
	ctx, span := r.tracer.Start(ctx, "workflow.execute",
		trace.WithAttributes(
			attribute.String("workflow.id", graph.ID),
			attribute.String("workflow.run_id", runID),
			attribute.Int("workflow.nodes", len(graph.Nodes)),
		))

	cancelled := false
	defer func() {
		execCtx.Stop()
		r.scheduler.RemoveIf(graph.ID, execCtx)

		status := RunStatusCompleted
		switch {
		case err != nil:
			status = RunStatusFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("workflow execution failed",
				zap.Strings("executed_nodes", execCtx.ExecutedNodes()),
				zap.Error(err),
			)
		case cancelled:
			status = RunStatusCancelled
			logger.Info("workflow execution cancelled",
				zap.Int("nodes_executed", len(execCtx.ExecutedNodes())),
			)
		default:
			logger.Info("workflow execution completed",
				zap.Int("nodes_executed", len(execCtx.ExecutedNodes())),
			)
		}
		span.SetAttributes(attribute.String("workflow.status", string(status)))
		span.End()

		report := trail.complete(status, output, err)
		r.recordHistory(context.WithoutCancel(ctx), report)
		if r.metrics != nil {
			r.metrics.RecordWorkflowRun(graph.ID, status, report.Duration)
		}
	}()

	logger.Info("starting workflow execution", zap.String("trigger_type", trig.Type))
	r.recordHistory(ctx, trail.snapshot())

	seedTrigger(execCtx.Values, trig)

	order, err := Order(graph.Nodes, graph.Edges)
	if err != nil {
		return nil, err
	}

	nodes := graph.nodeIndex()
	var finalOutput any
	for _, nodeID := range order {
		if !execCtx.IsRunning() {
			cancelled = true
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		node := nodes[nodeID]
		result, exec, err := r.executeNode(ctx, execCtx, graph, node, deps, trail)
		if err != nil {
			return nil, err
		}

		execCtx.markExecuted(node.ID)
		if onNodeExecuted != nil {
			onNodeExecuted(node.ID, result)
		}

		if !result.Success {
			nodeErr := &NodeExecutionError{NodeID: node.ID, NodeType: node.Type, Message: result.Error, Cause: result.Cause}
			if exec == nil {
				nodeErr.Cause = &UnregisteredExecutorError{NodeType: node.Type}
			}
			return nil, nodeErr
		}

		reflectOutputs(node, exec, result.Value, execCtx.Values)
		execCtx.Values.Set(BareSlot(node.ID), result.Value)

		if node.Type == NodeTypeChatOutput && result.Value != nil {
			finalOutput = result.Value
		}
	}

	return finalOutput, nil
}

// executeNode resolves inputs and dispatches one node. The returned executor
// is nil when the node type is not registered.
func (r *Runner) executeNode(ctx context.Context, execCtx *ExecutionContext, graph *Graph, node Node, deps *Deps, trail *runTrail) (NodeResult, NodeExecutor, error) {
	inputs := ResolveInputs(node, graph.Edges, execCtx.Values)
	execCtx.setCurrentNode(node.ID)

	ctx = types.WithNodeID(ctx, node.ID)
	ctx, span := r.tracer.Start(ctx, "workflow.node",
		trace.WithAttributes(
			attribute.String("node.id", node.ID),
			attribute.String("node.type", string(node.Type)),
		))
	defer span.End()

	r.logger.Debug("executing node",
		zap.String("workflow_id", graph.ID),
		zap.String("node_id", node.ID),
		zap.String("node_type", string(node.Type)),
		zap.Int("inputs", len(inputs)),
	)

	idx := trail.nodeStart(node)
	start := time.Now()

	exec, ok := r.registry.Executor(node.Type)
	var (
		result NodeResult
		err    error
	)
	if !ok {
		result = FailedWithCause(&UnregisteredExecutorError{NodeType: node.Type})
	} else {
		result, err = exec.Execute(ctx, ExecRequest{
			Node:    node,
			Inputs:  inputs,
			Context: execCtx,
			Graph:   graph,
			Deps:    deps,
		})
	}

	duration := time.Since(start)
	trail.nodeEnd(idx, result, err)
	if r.metrics != nil {
		r.metrics.RecordNodeExecution(node.Type, err == nil && result.Success, duration)
	}

	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !result.Success:
		span.SetStatus(codes.Error, result.Error)
		r.logger.Debug("node reported failure",
			zap.String("node_id", node.ID),
			zap.String("node_type", string(node.Type)),
			zap.Duration("duration", duration),
			zap.String("error", result.Error),
		)
	default:
		r.logger.Debug("node execution completed",
			zap.String("node_id", node.ID),
			zap.Duration("duration", duration),
		)
	}

	if !ok {
		return result, nil, err
	}
	return result, exec, err
}

func (r *Runner) recordHistory(ctx context.Context, report RunReport) {
	if r.history == nil {
		return
	}
	if err := r.history.RecordRun(ctx, report); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Warn("failed to record run history",
			zap.String("run_id", report.RunID),
			zap.Error(err),
		)
	}
}

// reflectOutputs writes the handle-scoped outputs of a successful node.
// Scripted nodes follow the fixed out-string / out-toolset rule; other
// types opt in by implementing OutputReflector.
func reflectOutputs(node Node, exec NodeExecutor, value any, values *NodeValues) {
	if node.Type == NodeTypeJavaScript {
		reflectScriptOutput(node.ID, value, values)
		return
	}
	if reflector, ok := exec.(OutputReflector); ok {
		reflector.ReflectOutputs(node.ID, value, values)
	}
}

// reflectScriptOutput maps a script's value onto its two output handles:
// a string is text output, a collection is tool output, and an object with
// text/toolset fields is reflected field by field.
func reflectScriptOutput(nodeID string, value any, values *NodeValues) {
	text := HandleSlot(nodeID, HandleOutString)
	toolset := HandleSlot(nodeID, HandleOutToolset)

	switch v := value.(type) {
	case string:
		values.Set(text, v)
		values.Set(toolset, []any{})
		return
	case map[string]any:
		// absent and nil fields leave the handle untouched
		if tools := v["toolset"]; tools != nil {
			values.Set(toolset, tools)
		}
		if s := v["text"]; s != nil {
			values.Set(text, s)
		}
		return
	}

	if isCollection(value) {
		values.Set(toolset, value)
		values.Delete(text)
	}
}
