// MockBackend 的推理后端测试模拟实现。
//
// 按脚本依次回放响应，支持工具调用、错误、取消与静默（超时）场景。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentgraph/llm"
	"github.com/BaSui01/agentgraph/types"
)

// --- Reply 脚本 ---

// Reply 描述一次提交得到的终止响应
type Reply struct {
	Text      string
	Reasoning string
	ToolCalls []types.ToolCall
	// Status 为空时视为 completed
	Status llm.Status
	Error  string
	// Silent 为 true 时不发布任何响应，用于模拟超时
	Silent bool
}

// TextReply 返回纯文本响应
func TextReply(text string) Reply {
	return Reply{Text: text}
}

// ToolCallReply 返回请求工具调用的响应
func ToolCallReply(calls ...types.ToolCall) Reply {
	return Reply{ToolCalls: calls}
}

// --- MockBackend 结构 ---

// MockBackend 是 llm.Backend 的模拟实现
type MockBackend struct {
	mu sync.Mutex

	hub       *llm.Hub
	replies   []Reply
	fallback  *Reply
	submitErr error

	// 调用记录
	calls     []llm.InferenceRequest
	models    []llm.ModelSpec
	cancelled []string
}

// NewMockBackend 创建发布到 hub 的 MockBackend
func NewMockBackend(hub *llm.Hub) *MockBackend {
	return &MockBackend{hub: hub}
}

// WithReplies 追加按顺序回放的响应
func (m *MockBackend) WithReplies(replies ...Reply) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replies = append(m.replies, replies...)
	return m
}

// WithFallback 设置脚本耗尽后重复使用的响应
func (m *MockBackend) WithFallback(reply Reply) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = &reply
	return m
}

// WithSubmitError 让每次提交都失败
func (m *MockBackend) WithSubmitError(err error) *MockBackend {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitErr = err
	return m
}

// --- llm.Backend 实现 ---

// Submit 记录请求并异步发布脚本响应
func (m *MockBackend) Submit(_ context.Context, req llm.InferenceRequest, model llm.ModelSpec) (string, error) {
	m.mu.Lock()
	if m.submitErr != nil {
		err := m.submitErr
		m.mu.Unlock()
		return "", err
	}

	req.Messages = append([]types.Message(nil), req.Messages...)
	m.calls = append(m.calls, req)
	m.models = append(m.models, model)

	var reply Reply
	switch {
	case len(m.replies) > 0:
		reply = m.replies[0]
		m.replies = m.replies[1:]
	case m.fallback != nil:
		reply = *m.fallback
	default:
		reply = TextReply("")
	}
	m.mu.Unlock()

	if !reply.Silent {
		go m.hub.Publish(toResponse(req.ID, reply))
	}
	return req.ID, nil
}

// Cancel 记录被取消的请求
func (m *MockBackend) Cancel(_ context.Context, _ string, requestID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelled = append(m.cancelled, requestID)
	return true
}

// --- 查询方法 ---

// Calls 返回所有已提交的请求
func (m *MockBackend) Calls() []llm.InferenceRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.InferenceRequest(nil), m.calls...)
}

// CallCount 返回提交次数
func (m *MockBackend) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Models 返回每次提交使用的模型
func (m *MockBackend) Models() []llm.ModelSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]llm.ModelSpec(nil), m.models...)
}

// Cancelled 返回被取消的请求 ID
func (m *MockBackend) Cancelled() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.cancelled...)
}

func toResponse(requestID string, reply Reply) llm.InferenceResponse {
	status := reply.Status
	if status == "" {
		status = llm.StatusCompleted
	}
	resp := llm.InferenceResponse{RequestID: requestID, Status: status, Error: reply.Error}
	if status == llm.StatusCompleted {
		resp.Result = map[string]any{"text": reply.Text}
		if reply.Reasoning != "" {
			resp.Result["reasoning"] = reply.Reasoning
		}
		if len(reply.ToolCalls) > 0 {
			resp.Result["tool_calls"] = reply.ToolCalls
		}
	}
	return resp
}
