// ToolRecorder 的工具测试模拟实现。
//
// 生成带调用记录的 types.Tool，支持固定结果与错误注入。
package mocks

import (
	"context"
	"sync"

	"github.com/BaSui01/agentgraph/types"
)

// ToolCall 记录单次工具调用
type ToolCall struct {
	Name   string
	Args   map[string]any
	Result any
	Error  error
}

// ToolRecorder 记录经由其创建的工具的所有调用
type ToolRecorder struct {
	mu    sync.Mutex
	calls []ToolCall
}

// NewToolRecorder 创建新的 ToolRecorder
func NewToolRecorder() *ToolRecorder {
	return &ToolRecorder{}
}

// Tool 包装 fn 为带记录的工具
func (r *ToolRecorder) Tool(name string, fn types.ToolFunc) types.Tool {
	return types.Tool{
		Name:        name,
		Description: "Mock tool: " + name,
		Invoke: func(ctx context.Context, args map[string]any) (any, error) {
			result, err := fn(ctx, args)
			r.mu.Lock()
			r.calls = append(r.calls, ToolCall{Name: name, Args: args, Result: result, Error: err})
			r.mu.Unlock()
			return result, err
		},
	}
}

// StaticTool 返回固定结果的工具
func (r *ToolRecorder) StaticTool(name string, result any) types.Tool {
	return r.Tool(name, func(context.Context, map[string]any) (any, error) {
		return result, nil
	})
}

// FailingTool 返回固定错误的工具
func (r *ToolRecorder) FailingTool(name string, err error) types.Tool {
	return r.Tool(name, func(context.Context, map[string]any) (any, error) {
		return nil, err
	})
}

// Calls 返回所有调用记录
func (r *ToolRecorder) Calls() []ToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]ToolCall(nil), r.calls...)
}

// CallCount 返回指定工具的调用次数
func (r *ToolRecorder) CallCount(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, c := range r.calls {
		if c.Name == name {
			n++
		}
	}
	return n
}
