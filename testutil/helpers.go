// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供工作流测试共用的上下文、定义文件与异步等待辅助
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	dir := testutil.DefinitionDir(t, map[string]string{"echo.json": def})
//	resp, ok := testutil.WaitForChannel(sub.Chunks(), time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文，测试结束时自动取消
func TestContext(t *testing.T) context.Context {
	return TestContextWithTimeout(t, 30*time.Second)
}

// TestContextWithTimeout 返回指定超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// =============================================================================
// 📂 工作流定义文件
// =============================================================================

// DefinitionDir 在临时目录写入定义文件（文件名 -> 内容）并返回目录路径
func DefinitionDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		WriteDefinition(t, dir, name, content)
	}
	return dir
}

// WriteDefinition 写入或覆盖一个定义文件，返回完整路径
func WriteDefinition(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write definition %s: %v", name, err)
	}
	return path
}

// =============================================================================
// ⏳ 异步辅助
// =============================================================================

// WaitFor 轮询直到条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return condition()
}

// WaitForChannel 等待通道产出一个值
func WaitForChannel[T any](ch <-chan T, timeout time.Duration) (T, bool) {
	select {
	case v, ok := <-ch:
		return v, ok
	case <-time.After(timeout):
		var zero T
		return zero, false
	}
}

// =============================================================================
// 📦 数据辅助
// =============================================================================

// MustJSON 序列化为 JSON 字符串，失败时 panic
func MustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}
