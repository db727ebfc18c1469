package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/internal/ctxkeys"
	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/llm/tools"
	"github.com/BaSui01/agentgraph/testutil/mocks"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/nodes"
)

// =============================================================================
// 🧪 Common 函数测试
// =============================================================================

func TestWriteJSON(t *testing.T) {
	tests := []struct {
		name       string
		data       any
		wantStatus int
	}{
		{name: "simple object", data: map[string]string{"message": "hello"}, wantStatus: http.StatusOK},
		{name: "array", data: []int{1, 2, 3}, wantStatus: http.StatusCreated},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteJSON(w, tt.wantStatus, tt.data)

			assert.Equal(t, tt.wantStatus, w.Code)
			assert.Equal(t, "application/json; charset=utf-8", w.Header().Get("Content-Type"))
			assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
		})
	}
}

func TestWriteSuccess_CarriesRequestID(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(ctxkeys.WithRequestID(r.Context(), "req-42"))

	WriteSuccess(w, r, map[string]string{"key": "value"})

	assert.Equal(t, http.StatusOK, w.Code)

	var resp Response
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotNil(t, resp.Data)
	assert.Nil(t, resp.Error)
	assert.Equal(t, "req-42", resp.RequestID)
	assert.False(t, resp.Timestamp.IsZero())
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name           string
		err            *types.Error
		expectedStatus int
	}{
		{name: "invalid request", err: types.NewError(types.ErrInvalidRequest, "bad"), expectedStatus: http.StatusBadRequest},
		{name: "not found", err: types.NewError(types.ErrNotFound, "missing"), expectedStatus: http.StatusNotFound},
		{name: "cycle", err: types.NewError(types.ErrWorkflowCycle, "loop"), expectedStatus: http.StatusBadRequest},
		{name: "node failed", err: types.NewError(types.ErrNodeFailed, "boom"), expectedStatus: http.StatusUnprocessableEntity},
		{name: "inference timeout", err: types.NewError(types.ErrInferenceTimeout, "slow"), expectedStatus: http.StatusGatewayTimeout},
		{name: "upstream", err: types.NewError(types.ErrUpstreamError, "engine"), expectedStatus: http.StatusBadGateway},
		{name: "rate limited", err: types.NewError(types.ErrRateLimited, "slow down"), expectedStatus: http.StatusTooManyRequests},
		{name: "explicit status wins", err: types.NewError(types.ErrInternalError, "x").WithHTTPStatus(http.StatusTeapot), expectedStatus: http.StatusTeapot},
		{name: "internal", err: types.NewError(types.ErrInternalError, "oops"), expectedStatus: http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			WriteError(w, httptest.NewRequest(http.MethodGet, "/", nil), tt.err, zap.NewNop())

			assert.Equal(t, tt.expectedStatus, w.Code)

			var resp Response
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.False(t, resp.Success)
			require.NotNil(t, resp.Error)
			assert.Equal(t, string(tt.err.Code), resp.Error.Code)
			assert.Equal(t, tt.err.Message, resp.Error.Message)
		})
	}
}

func TestWorkflowError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      types.ErrorCode
		retryable bool
	}{
		{name: "cycle", err: &workflow.CycleError{NodeID: "a"}, code: types.ErrWorkflowCycle},
		{name: "node failed", err: &workflow.NodeExecutionError{NodeID: "a", NodeType: "text", Message: "bad"}, code: types.ErrNodeFailed},
		{name: "node wraps iteration bound", err: &workflow.NodeExecutionError{NodeID: "llm", NodeType: "inference", Cause: &tools.IterationBoundExceededError{MaxIterations: 10}}, code: types.ErrMaxIterations},
		{name: "node wraps tool failure", err: &workflow.NodeExecutionError{NodeID: "llm", NodeType: "inference", Cause: &tools.ToolInvocationError{Tool: "lookup", Err: errors.New("x")}}, code: types.ErrToolFailed},
		{name: "node wraps unknown tool", err: &workflow.NodeExecutionError{NodeID: "llm", NodeType: "inference", Cause: &tools.ToolResolutionError{Tool: "ghost"}}, code: types.ErrToolFailed},
		{name: "node wraps backend error", err: &workflow.NodeExecutionError{NodeID: "llm", NodeType: "inference", Cause: &tools.InferenceError{Message: "down"}}, code: types.ErrUpstreamError, retryable: true},
		{name: "inference timeout", err: fmt.Errorf("node x: %w", tools.ErrInferenceTimeout), code: types.ErrInferenceTimeout, retryable: true},
		{name: "inference cancelled", err: tools.ErrInferenceCancelled, code: types.ErrInferenceCancelled, retryable: true},
		{name: "max iterations", err: fmt.Errorf("wrap: %w", tools.ErrMaxIterations), code: types.ErrMaxIterations},
		{name: "context", err: context.DeadlineExceeded, code: types.ErrServiceUnavailable, retryable: true},
		{name: "nil graph", err: workflow.ErrNilGraph, code: types.ErrInvalidRequest},
		{name: "api error passes through", err: types.NewError(types.ErrForbidden, "no"), code: types.ErrForbidden},
		{name: "unknown", err: errors.New("mystery"), code: types.ErrInternalError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			apiErr := WorkflowError(tt.err)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.retryable, apiErr.Retryable)
		})
	}
}

func TestDecodeJSONBody(t *testing.T) {
	type payload struct {
		Name string `json:"name"`
	}

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x"}`))
		var p payload
		require.NoError(t, DecodeJSONBody(w, r, &p, zap.NewNop()))
		assert.Equal(t, "x", p.Name)
	})

	t.Run("empty body", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", nil)
		var p payload
		assert.Error(t, DecodeJSONBody(w, r, &p, zap.NewNop()))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("unknown field", func(t *testing.T) {
		w := httptest.NewRecorder()
		r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"name":"x","other":1}`))
		var p payload
		assert.Error(t, DecodeJSONBody(w, r, &p, zap.NewNop()))
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestValidateContentType(t *testing.T) {
	tests := []struct {
		contentType string
		want        bool
	}{
		{"application/json", true},
		{"application/json; charset=utf-8", true},
		{"text/plain", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.contentType, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/", nil)
			r.Header.Set("Content-Type", tt.contentType)

			assert.Equal(t, tt.want, ValidateContentType(w, r, zap.NewNop()))
			if !tt.want {
				assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
			}
		})
	}
}

func TestQueryLimit(t *testing.T) {
	tests := []struct {
		query   string
		want    int
		wantErr bool
	}{
		{"", 20, false},
		{"limit=5", 5, false},
		{"limit=0", 200, false},
		{"limit=1000", 200, false},
		{"limit=-1", 0, true},
		{"limit=abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/?"+tt.query, nil)
			got, err := queryLimit(r, 20, 200)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := NewResponseWriter(rec)

	rw.WriteHeader(http.StatusAccepted)
	rw.WriteHeader(http.StatusInternalServerError)
	n, err := rw.Write([]byte("hello"))
	require.NoError(t, err)

	assert.Equal(t, 5, n)
	assert.Equal(t, http.StatusAccepted, rw.StatusCode)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, int64(5), rw.Size)
	assert.Same(t, rec, rw.Unwrap())
}

func TestWorkflowError_FromToolLoopRun(t *testing.T) {
	hub := llm.NewHub(zap.NewNop())
	backend := mocks.NewMockBackend(hub).WithFallback(mocks.ToolCallReply(types.ToolCall{Name: "lookup", Arguments: json.RawMessage(`{}`)}))
	orch := tools.NewOrchestrator(backend, hub, tools.WithLogger(zap.NewNop()), tools.WithMaxIterations(2))
	models := llm.NewModelRegistry(llm.ModelSpec{ID: "m", Engine: "mock", ModelType: llm.ModelTypeChat})

	reg := workflow.NewRegistry()
	nodes.RegisterBuiltins(reg, nodes.WithLogger(zap.NewNop()),
		nodes.WithTools(nodes.NewToolCatalog(mocks.NewToolRecorder().StaticTool("lookup", "x"))))
	runner := workflow.NewRunner(reg, nil, workflow.WithLogger(zap.NewNop()))

	graph := &workflow.Graph{
		ID: "loop",
		Nodes: []workflow.Node{
			{ID: "trigger", Type: workflow.NodeTypeTrigger},
			{ID: "tools", Type: workflow.NodeTypeToolset, Data: map[string]any{"tools": []any{"lookup"}}},
			{ID: "llm", Type: workflow.NodeTypeInference, Data: map[string]any{"modelId": "m"}},
		},
		Edges: []workflow.Edge{
			{Source: "trigger", Target: "llm", TargetHandle: "in-input"},
			{Source: "tools", SourceHandle: workflow.HandleOutToolset, Target: "llm", TargetHandle: "in-toolset"},
		},
	}
	deps := &workflow.Deps{Inference: nodes.NewOrchestratorRunner(orch, models), Logger: zap.NewNop()}

	_, err := runner.ExecuteWorkflow(context.Background(), graph, workflow.ManualTrigger("go"), deps, nil)
	require.ErrorIs(t, err, tools.ErrMaxIterations)
	assert.Equal(t, 2, backend.CallCount())

	apiErr := WorkflowError(err)
	assert.Equal(t, types.ErrMaxIterations, apiErr.Code)
}
