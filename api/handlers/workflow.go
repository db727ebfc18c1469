package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"

	"github.com/BaSui01/agentgraph/api"
	"github.com/BaSui01/agentgraph/types"
	"github.com/BaSui01/agentgraph/workflow"
	"github.com/BaSui01/agentgraph/workflow/catalog"
)

const (
	// streamHandshakeTimeout 等待客户端发送首条运行请求的时间
	streamHandshakeTimeout = 10 * time.Second
	// streamWriteTimeout 单个事件写入超时
	streamWriteTimeout = 5 * time.Second
)

// GraphSource 提供按 id 查找的工作流定义
type GraphSource interface {
	Get(id string) (*workflow.Graph, error)
	List() []catalog.Summary
}

// =============================================================================
// 🔀 工作流 Handler
// =============================================================================

// WorkflowHandler 处理工作流执行、取消、状态查询与进度流
type WorkflowHandler struct {
	runner         *workflow.Runner
	source         GraphSource
	deps           *workflow.Deps
	runTimeout     time.Duration
	originPatterns []string
	logger         *zap.Logger
}

// WorkflowHandlerOption 配置 WorkflowHandler
type WorkflowHandlerOption func(*WorkflowHandler)

// WithRunTimeout 限制同步运行的总时长，0 表示不限制
func WithRunTimeout(d time.Duration) WorkflowHandlerOption {
	return func(h *WorkflowHandler) { h.runTimeout = d }
}

// WithOriginPatterns 设置 WebSocket 允许的跨域来源
func WithOriginPatterns(patterns ...string) WorkflowHandlerOption {
	return func(h *WorkflowHandler) { h.originPatterns = patterns }
}

// NewWorkflowHandler 创建工作流处理器。source 可为 nil，此时只接受内联定义。
func NewWorkflowHandler(runner *workflow.Runner, source GraphSource, deps *workflow.Deps, logger *zap.Logger, opts ...WorkflowHandlerOption) *WorkflowHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &WorkflowHandler{
		runner: runner,
		source: source,
		deps:   deps,
		logger: logger.With(zap.String("component", "workflow_handler")),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleList 列出目录中的工作流定义
// GET /api/v1/workflows
func (h *WorkflowHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	if h.source == nil {
		WriteSuccess(w, r, []catalog.Summary{})
		return
	}
	WriteSuccess(w, r, h.source.List())
}

// HandleExecute 同步执行工作流并返回最终输出
// POST /api/v1/workflows/{id}/runs
func (h *WorkflowHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	var req api.RunRequest
	if hasBody(r) {
		if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
			return
		}
	}

	graph, apiErr := h.resolveGraph(id, req.Graph)
	if apiErr != nil {
		WriteError(w, r, apiErr, h.logger)
		return
	}

	ctx := r.Context()
	if h.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.runTimeout)
		defer cancel()
	}

	var (
		mu    sync.Mutex
		nodes []api.NodeEvent
	)
	start := time.Now()
	output, err := h.runner.ExecuteWorkflow(ctx, graph, req.Trigger, h.deps, func(nodeID string, result workflow.NodeResult) {
		mu.Lock()
		nodes = append(nodes, nodeEvent(nodeID, result))
		mu.Unlock()
	})
	if err != nil {
		WriteError(w, r, WorkflowError(err), h.logger)
		return
	}

	mu.Lock()
	defer mu.Unlock()
	if nodes == nil {
		nodes = []api.NodeEvent{}
	}
	WriteSuccess(w, r, api.RunResponse{
		WorkflowID: graph.ID,
		Output:     output,
		Nodes:      nodes,
		Duration:   time.Since(start),
	})
}

// HandleCancel 请求停止工作流的当前运行，幂等
// POST /api/v1/workflows/{id}/cancel
func (h *WorkflowHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	wasRunning := h.runner.IsWorkflowRunning(id)
	h.runner.CancelWorkflow(id)

	WriteSuccess(w, r, api.CancelResponse{
		WorkflowID: id,
		WasRunning: wasRunning,
	})
}

// HandleStatus 返回工作流当前运行的进度
// GET /api/v1/workflows/{id}/status
func (h *WorkflowHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	resp := api.StatusResponse{WorkflowID: id}

	if execCtx, ok := h.runner.Scheduler().Get(id); ok {
		status := execCtx.Status()
		resp.Running = status.Running
		resp.Run = &status
	}
	WriteSuccess(w, r, resp)
}

// HandleStream 通过 WebSocket 执行工作流并推送节点进度。
// 客户端连接后先发送一条 RunRequest，随后接收 node_executed 事件，
// 最后是一条 completed 或 failed 事件。客户端断开会中止运行。
// GET /api/v1/workflows/{id}/stream
func (h *WorkflowHandler) HandleStream(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("workflow_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	readCtx, cancel := context.WithTimeout(r.Context(), streamHandshakeTimeout)
	var req api.RunRequest
	err = wsjson.Read(readCtx, conn, &req)
	cancel()
	if err != nil {
		h.logger.Debug("stream handshake failed", zap.String("workflow_id", id), zap.Error(err))
		conn.Close(websocket.StatusPolicyViolation, "expected run request")
		return
	}

	graph, apiErr := h.resolveGraph(id, req.Graph)
	if apiErr != nil {
		h.writeEvent(r.Context(), conn, failedEvent(id, apiErr))
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	// CloseRead 在对端关闭时取消 ctx，之后不再读取客户端消息
	ctx := conn.CloseRead(r.Context())
	if h.runTimeout > 0 {
		var cancelRun context.CancelFunc
		ctx, cancelRun = context.WithTimeout(ctx, h.runTimeout)
		defer cancelRun()
	}

	output, err := h.runner.ExecuteWorkflow(ctx, graph, req.Trigger, h.deps, func(nodeID string, result workflow.NodeResult) {
		ev := nodeEvent(nodeID, result)
		h.writeEvent(ctx, conn, api.StreamEvent{
			Type:       api.EventNodeExecuted,
			WorkflowID: graph.ID,
			Node:       &ev,
			Timestamp:  time.Now(),
		})
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			h.logger.Info("stream client went away", zap.String("workflow_id", graph.ID))
			return
		}
		h.writeEvent(ctx, conn, failedEvent(graph.ID, WorkflowError(err)))
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}

	h.writeEvent(ctx, conn, api.StreamEvent{
		Type:       api.EventCompleted,
		WorkflowID: graph.ID,
		Output:     output,
		Timestamp:  time.Now(),
	})
	conn.Close(websocket.StatusNormalClosure, "")
}

// writeEvent 写入单个事件，失败只记日志（连接关闭由 ctx 传播给运行）
func (h *WorkflowHandler) writeEvent(ctx context.Context, conn *websocket.Conn, ev api.StreamEvent) {
	wctx, cancel := context.WithTimeout(ctx, streamWriteTimeout)
	defer cancel()
	if err := wsjson.Write(wctx, conn, ev); err != nil {
		h.logger.Debug("stream write failed",
			zap.String("workflow_id", ev.WorkflowID),
			zap.String("event", ev.Type),
			zap.Error(err),
		)
	}
}

// resolveGraph 选择内联定义或目录定义
func (h *WorkflowHandler) resolveGraph(id string, inline *workflow.Graph) (*workflow.Graph, *types.Error) {
	if inline != nil {
		if inline.ID == "" {
			inline.ID = id
		}
		if inline.ID != id {
			return nil, types.NewError(types.ErrInvalidRequest, "graph id does not match the workflow in the path")
		}
		if err := workflow.ValidateGraph(inline); err != nil {
			if workflow.IsCycle(err) {
				return nil, WorkflowError(err)
			}
			return nil, types.NewError(types.ErrInvalidRequest, err.Error()).WithCause(err)
		}
		return inline, nil
	}

	if h.source == nil {
		return nil, types.NewError(types.ErrNotFound, "workflow "+id+" not found")
	}
	graph, err := h.source.Get(id)
	if err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return nil, types.NewError(types.ErrNotFound, "workflow "+id+" not found").WithCause(err)
		}
		return nil, types.NewError(types.ErrInternalError, err.Error()).WithCause(err)
	}
	return graph, nil
}

func nodeEvent(nodeID string, result workflow.NodeResult) api.NodeEvent {
	return api.NodeEvent{
		NodeID:  nodeID,
		Success: result.Success,
		Value:   result.Value,
		Error:   result.Error,
	}
}

func failedEvent(workflowID string, err *types.Error) api.StreamEvent {
	return api.StreamEvent{
		Type:       api.EventFailed,
		WorkflowID: workflowID,
		Error:      err.Message,
		Code:       string(err.Code),
		Timestamp:  time.Now(),
	}
}

func hasBody(r *http.Request) bool {
	return r.Body != nil && r.Body != http.NoBody && r.ContentLength != 0
}
