package config

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type eventLog struct {
	mu     sync.Mutex
	events []FileEvent
}

func (l *eventLog) add(evt FileEvent) {
	l.mu.Lock()
	l.events = append(l.events, evt)
	l.mu.Unlock()
}

func (l *eventLog) snapshot() []FileEvent {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]FileEvent, len(l.events))
	copy(out, l.events)
	return out
}

func (l *eventLog) has(path string, op FileOp) bool {
	for _, evt := range l.snapshot() {
		if evt.Path == path && evt.Op == op {
			return true
		}
	}
	return false
}

func startWatcher(t *testing.T, paths []string, opts ...WatcherOption) (*FileWatcher, *eventLog) {
	t.Helper()
	opts = append([]WatcherOption{
		WithPollInterval(20 * time.Millisecond),
		WithDebounceDelay(20 * time.Millisecond),
		WithWatcherLogger(zap.NewNop()),
	}, opts...)
	w, err := NewFileWatcher(paths, opts...)
	require.NoError(t, err)

	log := &eventLog{}
	w.OnChange(log.add)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })
	return w, log
}

// bumpModTime 确保修改时间前进，避免文件系统时间精度导致漏检
func bumpModTime(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	require.NoError(t, os.Chtimes(path, future, future))
}

// --- Constructor ---

func TestNewFileWatcher_Defaults(t *testing.T) {
	f := filepath.Join(t.TempDir(), "test.yaml")
	require.NoError(t, os.WriteFile(f, []byte("key: val"), 0644))

	w, err := NewFileWatcher([]string{f})
	require.NoError(t, err)

	assert.Equal(t, []string{f}, w.Paths())
	assert.False(t, w.IsRunning())
	assert.Equal(t, 100*time.Millisecond, w.debounceDelay)
	assert.Equal(t, time.Second, w.pollInterval)
}

func TestNewFileWatcher_WithOptions(t *testing.T) {
	w, err := NewFileWatcher([]string{t.TempDir()},
		WithDebounceDelay(500*time.Millisecond),
		WithPollInterval(3*time.Second),
		WithExtensions(".JSON", ".yaml"),
	)
	require.NoError(t, err)
	assert.Equal(t, 500*time.Millisecond, w.debounceDelay)
	assert.Equal(t, 3*time.Second, w.pollInterval)
	assert.True(t, w.matches("flow.json"))
	assert.True(t, w.matches("flow.YAML"))
	assert.False(t, w.matches("notes.txt"))
}

func TestNewFileWatcher_NonExistentPathWarns(t *testing.T) {
	w, err := NewFileWatcher([]string{"/nonexistent/path/config.yaml"})
	require.NoError(t, err)
	require.NotNil(t, w)
}

// --- AddPath / RemovePath / Paths ---

func TestFileWatcher_AddAndRemovePath(t *testing.T) {
	tmpDir := t.TempDir()
	f1 := filepath.Join(tmpDir, "a.yaml")
	f2 := filepath.Join(tmpDir, "b.yaml")

	w, err := NewFileWatcher([]string{f1})
	require.NoError(t, err)

	require.NoError(t, w.AddPath(f2))
	require.NoError(t, w.AddPath(f2))
	assert.Equal(t, []string{f1, f2}, w.Paths())

	require.NoError(t, w.RemovePath(f2))
	assert.Equal(t, []string{f1}, w.Paths())

	err = w.RemovePath(filepath.Join(tmpDir, "nonexistent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "path not found")
}

// --- Start / Stop lifecycle ---

func TestFileWatcher_Lifecycle(t *testing.T) {
	w, err := NewFileWatcher([]string{t.TempDir()})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())

	err = w.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())

	// 停止后可以再次启动
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
}

// --- 变更检测 ---

func TestFileWatcher_DetectsFileWrite(t *testing.T) {
	f := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v1"), 0644))

	_, log := startWatcher(t, []string{f})

	require.NoError(t, os.WriteFile(f, []byte("v2"), 0644))
	bumpModTime(t, f)

	assert.Eventually(t, func() bool { return log.has(f, FileOpWrite) },
		2*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_DirectoryEvents(t *testing.T) {
	dir := t.TempDir()
	existing := filepath.Join(dir, "existing.json")
	require.NoError(t, os.WriteFile(existing, []byte("{}"), 0644))

	_, log := startWatcher(t, []string{dir}, WithExtensions(".json", ".yaml", ".yml"))

	created := filepath.Join(dir, "new.yaml")
	require.NoError(t, os.WriteFile(created, []byte("id: x"), 0644))
	ignored := filepath.Join(dir, "README.md")
	require.NoError(t, os.WriteFile(ignored, []byte("# hi"), 0644))

	assert.Eventually(t, func() bool { return log.has(created, FileOpCreate) },
		2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(existing))
	assert.Eventually(t, func() bool { return log.has(existing, FileOpRemove) },
		2*time.Second, 10*time.Millisecond)

	for _, evt := range log.snapshot() {
		assert.NotEqual(t, ignored, evt.Path)
	}
}

func TestFileWatcher_CheckFilesDiff(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(a, []byte("{}"), 0644))

	w, err := NewFileWatcher([]string{dir})
	require.NoError(t, err)

	events := w.checkFiles()
	require.Len(t, events, 1)
	assert.Equal(t, FileEvent{Path: a, Op: FileOpCreate, Timestamp: events[0].Timestamp}, events[0])

	assert.Empty(t, w.checkFiles())

	bumpModTime(t, a)
	events = w.checkFiles()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpWrite, events[0].Op)

	require.NoError(t, os.Remove(a))
	events = w.checkFiles()
	require.Len(t, events, 1)
	assert.Equal(t, FileOpRemove, events[0].Op)
}

// --- 防抖合并 ---

func TestFileWatcher_CoalescesEventsPerPath(t *testing.T) {
	f := filepath.Join(t.TempDir(), "coalesce.yaml")
	require.NoError(t, os.WriteFile(f, []byte("v0"), 0644))

	w, err := NewFileWatcher([]string{f},
		WithPollInterval(time.Hour),
		WithDebounceDelay(50*time.Millisecond))
	require.NoError(t, err)

	log := &eventLog{}
	w.OnChange(log.add)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	require.NoError(t, w.Start(ctx))
	t.Cleanup(func() { _ = w.Stop() })

	for i := 0; i < 50; i++ {
		w.eventChan <- FileEvent{Path: f, Op: FileOpWrite, Timestamp: time.Now()}
	}

	assert.Eventually(t, func() bool { return len(log.snapshot()) == 1 },
		time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, log.snapshot(), 1)
}

func TestFileOp_String(t *testing.T) {
	assert.Equal(t, "CREATE", FileOpCreate.String())
	assert.Equal(t, "WRITE", FileOpWrite.String())
	assert.Equal(t, "REMOVE", FileOpRemove.String())
	assert.Equal(t, "UNKNOWN", FileOp(42).String())
}
