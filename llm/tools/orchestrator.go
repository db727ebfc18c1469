// Package tools implements the tool-calling loop used by inference nodes:
// ask the model, run the tools it requests, feed the results back and ask
// again until it answers in plain text.
package tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

const instrumentationName = "github.com/BaSui01/agentgraph/llm/tools"

const (
	DefaultMaxIterations   = 10
	DefaultResponseTimeout = 5 * time.Minute
)

// Request is one orchestrated inference call.
type Request struct {
	Messages     []types.Message
	Model        llm.ModelSpec
	SystemPrompt string
	Parameters   map[string]any
	Stream       bool
	Tools        []types.Tool
}

// Result is the model's final answer and the conversation that led to it.
type Result struct {
	Text     string
	Messages []types.Message
	Rounds   int
}

// MetricsRecorder receives per-round and per-tool measurements.
type MetricsRecorder interface {
	RecordInferenceRound(modelID string, status llm.Status, duration time.Duration)
	RecordToolCall(tool string, success bool, duration time.Duration)
}

// Orchestrator runs the tool-calling loop against a Backend.
type Orchestrator struct {
	backend         llm.Backend
	hub             *llm.Hub
	maxIterations   int
	responseTimeout time.Duration
	logger          *zap.Logger
	metrics         MetricsRecorder
	tracer          trace.Tracer
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMaxIterations bounds the number of inference rounds.
func WithMaxIterations(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxIterations = n
		}
	}
}

// WithResponseTimeout bounds the wait for each round's terminal response.
func WithResponseTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.responseTimeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// NewOrchestrator creates an orchestrator submitting to backend and
// receiving responses through hub.
func NewOrchestrator(backend llm.Backend, hub *llm.Hub, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:         backend,
		hub:             hub,
		maxIterations:   DefaultMaxIterations,
		responseTimeout: DefaultResponseTimeout,
		logger:          zap.NewNop(),
		tracer:          otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "tool_orchestrator"))
	return o
}

// MaxIterations returns the configured round bound.
func (o *Orchestrator) MaxIterations() int {
	return o.maxIterations
}

// Run executes the loop. A nil result with a nil error means the request
// could not be queued.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	schemas := make([]types.ToolSchema, 0, len(req.Tools))
	for _, t := range req.Tools {
		schemas = append(schemas, t.Schema())
	}

	messages := make([]types.Message, len(req.Messages))
	copy(messages, req.Messages)

	for round := 1; round <= o.maxIterations; round++ {
		resp, err := o.infer(ctx, req, messages, schemas, round)
		if err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, nil
		}

		calls := resp.ToolCalls()
		if len(calls) == 0 {
			reply := types.NewAssistantMessage(resp.Text())
			reply.Reasoning = resp.Reasoning()
			messages = append(messages, reply)
			o.logger.Debug("inference completed",
				zap.String("model_id", req.Model.ID),
				zap.Int("round", round),
			)
			return &Result{Text: resp.Text(), Messages: messages, Rounds: round}, nil
		}

		if len(req.Tools) == 0 {
			return nil, ErrNoToolset
		}

		for i := range calls {
			if calls[i].ID == "" {
				calls[i].ID = fmt.Sprintf("call_%d_%d", round, i)
			}
		}
		messages = append(messages, types.NewAssistantMessage(resp.Text()).WithToolCalls(calls))

		for _, call := range calls {
			content, err := o.invokeTool(ctx, req.Tools, call, round)
			if err != nil {
				return nil, err
			}
			messages = append(messages, types.NewToolMessage(call.ID, call.Name, content))
		}
	}

	o.logger.Warn("tool loop exceeded iteration bound",
		zap.String("model_id", req.Model.ID),
		zap.Int("max_iterations", o.maxIterations),
	)
	return nil, &IterationBoundExceededError{MaxIterations: o.maxIterations}
}

// infer performs one round trip. It returns nil without error when the
// request could not be queued.
func (o *Orchestrator) infer(ctx context.Context, req Request, messages []types.Message, schemas []types.ToolSchema, round int) (*llm.InferenceResponse, error) {
	requestID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "inference.round",
		trace.WithAttributes(
			attribute.String("inference.request_id", requestID),
			attribute.String("inference.model_id", req.Model.ID),
			attribute.Int("inference.round", round),
		))
	defer span.End()

	sub := o.hub.Subscribe(requestID)
	defer sub.Close()

	start := time.Now()
	inferenceReq := llm.InferenceRequest{
		ID:           requestID,
		Messages:     messages,
		SystemPrompt: req.SystemPrompt,
		Parameters:   req.Parameters,
		Stream:       req.Stream,
		Tools:        schemas,
	}
	if _, err := o.backend.Submit(ctx, inferenceReq, req.Model); err != nil {
		o.logger.Warn("failed to queue inference request",
			zap.String("request_id", requestID),
			zap.String("model_id", req.Model.ID),
			zap.Error(err),
		)
		span.SetStatus(codes.Error, err.Error())
		return nil, nil
	}

	waitCtx, cancel := context.WithTimeout(ctx, o.responseTimeout)
	defer cancel()

	resp, err := sub.Await(waitCtx)
	if err != nil {
		// Cancel with a fresh context: the caller's may already be done.
		o.backend.Cancel(context.WithoutCancel(ctx), req.Model.ID, requestID)
		span.RecordError(err)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		o.logger.Warn("inference response timed out, request cancelled",
			zap.String("request_id", requestID),
			zap.String("model_id", req.Model.ID),
			zap.Duration("timeout", o.responseTimeout),
		)
		o.recordRound(req.Model.ID, llm.StatusCancelled, time.Since(start))
		return nil, fmt.Errorf("%w: request %s after %s", ErrInferenceTimeout, requestID, o.responseTimeout)
	}

	o.recordRound(req.Model.ID, resp.Status, time.Since(start))
	span.SetAttributes(attribute.String("inference.status", string(resp.Status)))

	switch resp.Status {
	case llm.StatusCancelled:
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("%w: request %s", ErrInferenceCancelled, requestID)
	case llm.StatusError:
		err := &InferenceError{RequestID: requestID, Message: resp.ErrorMessage()}
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return &resp, nil
}

func (o *Orchestrator) invokeTool(ctx context.Context, toolset []types.Tool, call types.ToolCall, round int) (string, error) {
	var tool *types.Tool
	for i := range toolset {
		if toolset[i].Name == call.Name {
			tool = &toolset[i]
			break
		}
	}
	if tool == nil {
		return "", &ToolResolutionError{Tool: call.Name}
	}

	ctx, span := o.tracer.Start(ctx, "tool.invoke",
		trace.WithAttributes(
			attribute.String("tool.name", call.Name),
			attribute.String("tool.call_id", call.ID),
		))
	defer span.End()

	o.logger.Debug("invoking tool",
		zap.String("tool", call.Name),
		zap.String("tool_call_id", call.ID),
		zap.Int("round", round),
	)

	start := time.Now()
	var (
		out any
		err error
	)
	if tool.Invoke == nil {
		err = errors.New("tool has no implementation")
	} else {
		out, err = tool.Invoke(ctx, parseArguments(call.Arguments))
	}
	if o.metrics != nil {
		o.metrics.RecordToolCall(call.Name, err == nil, time.Since(start))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", &ToolInvocationError{Tool: call.Name, Err: err}
	}
	return stringifyResult(out), nil
}

func (o *Orchestrator) recordRound(modelID string, status llm.Status, d time.Duration) {
	if o.metrics != nil {
		o.metrics.RecordInferenceRound(modelID, status, d)
	}
}
