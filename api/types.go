package api

import (
	"time"

	"github.com/BaSui01/agentgraph/history"
	"github.com/BaSui01/agentgraph/workflow"
)

// =============================================================================
// 工作流运行类型
// =============================================================================

// RunRequest 启动一次工作流运行。
// Graph 为空时按路径中的 id 从目录加载定义。
type RunRequest struct {
	// 触发上下文，可为字符串（用户消息）或 {"type","message"} 对象
	Trigger *workflow.TriggerContext `json:"trigger,omitempty"`
	// 内联工作流定义
	Graph *workflow.Graph `json:"graph,omitempty"`
}

// NodeEvent 单个节点执行结果
type NodeEvent struct {
	NodeID  string `json:"node_id"`
	Success bool   `json:"success"`
	Value   any    `json:"value,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunResponse 同步运行结果
type RunResponse struct {
	WorkflowID string        `json:"workflow_id"`
	Output     any           `json:"output"`
	Nodes      []NodeEvent   `json:"nodes"`
	Duration   time.Duration `json:"duration_ns"`
}

// CancelResponse 取消请求结果
type CancelResponse struct {
	WorkflowID string `json:"workflow_id"`
	WasRunning bool   `json:"was_running"`
}

// StatusResponse 运行状态
type StatusResponse struct {
	WorkflowID string           `json:"workflow_id"`
	Running    bool             `json:"running"`
	Run        *workflow.Status `json:"run,omitempty"`
}

// =============================================================================
// WebSocket 事件
// =============================================================================

// 流事件类型
const (
	EventNodeExecuted = "node_executed"
	EventCompleted    = "completed"
	EventFailed       = "failed"
)

// StreamEvent 推送给 WebSocket 客户端的进度事件
type StreamEvent struct {
	Type       string     `json:"type"`
	WorkflowID string     `json:"workflow_id"`
	Node       *NodeEvent `json:"node,omitempty"`
	Output     any        `json:"output,omitempty"`
	Error      string     `json:"error,omitempty"`
	Code       string     `json:"code,omitempty"`
	Timestamp  time.Time  `json:"timestamp"`
}

// =============================================================================
// 运行历史与令牌计数
// =============================================================================

// RunListResponse 运行历史列表
type RunListResponse struct {
	WorkflowID string               `json:"workflow_id"`
	Runs       []*history.RunRecord `json:"runs"`
}

// TokenCountRequest 令牌计数请求
type TokenCountRequest struct {
	Text      string `json:"text"`
	ModelType string `json:"model_type"`
}

// TokenCountResponse 令牌计数结果
type TokenCountResponse struct {
	Count     int    `json:"count"`
	Model     string `json:"model"`
	Tokenizer string `json:"tokenizer,omitempty"`
}
