// 工作流定义文件变更监听器实现。
//
// 通过轮询文件修改时间检测变更，支持监听单个文件或整个目录（不递归），
// 并在防抖窗口结束后批量触发回调。
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// --- 文件监听器类型定义 ---

// FileWatcher watches files and directories for changes by polling.
type FileWatcher struct {
	mu sync.RWMutex

	// 配置
	paths         []string
	extensions    map[string]bool
	pollInterval  time.Duration
	debounceDelay time.Duration

	// 状态
	running   bool
	stopChan  chan struct{}
	eventChan chan FileEvent

	// 回调
	callbacks []func(event FileEvent)

	// 记录器
	logger *zap.Logger

	// 每个已知文件的最后修改时间
	lastModTimes map[string]time.Time
}

// FileEvent represents a file change event
type FileEvent struct {
	// Path 是变更的文件路径
	Path string `json:"path"`

	// Op 是操作类型
	Op FileOp `json:"op"`

	// Timestamp 是检测到变更的时间
	Timestamp time.Time `json:"timestamp"`
}

// FileOp represents file operation types
type FileOp int

const (
	// FileOpCreate 表示文件已创建
	FileOpCreate FileOp = iota
	// FileOpWrite 表示文件已被修改
	FileOpWrite
	// FileOpRemove 表示文件已被删除
	FileOpRemove
)

// String returns the string representation of FileOp
func (op FileOp) String() string {
	switch op {
	case FileOpCreate:
		return "CREATE"
	case FileOpWrite:
		return "WRITE"
	case FileOpRemove:
		return "REMOVE"
	default:
		return "UNKNOWN"
	}
}

// --- 文件监听器选项 ---

// WatcherOption configures the FileWatcher
type WatcherOption func(*FileWatcher)

// WithDebounceDelay sets the debounce delay for file events
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		w.debounceDelay = d
	}
}

// WithPollInterval sets how often watched paths are scanned.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if d > 0 {
			w.pollInterval = d
		}
	}
}

// WithExtensions restricts directory scans to files with the given
// extensions (".json", ".yaml"). Explicitly watched files are always tracked.
func WithExtensions(exts ...string) WatcherOption {
	return func(w *FileWatcher) {
		w.extensions = make(map[string]bool, len(exts))
		for _, ext := range exts {
			w.extensions[strings.ToLower(ext)] = true
		}
	}
}

// WithWatcherLogger sets the logger for the watcher
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		w.logger = logger
	}
}

// --- 文件监听器实现 ---

// NewFileWatcher creates a new file watcher
func NewFileWatcher(paths []string, opts ...WatcherOption) (*FileWatcher, error) {
	w := &FileWatcher{
		paths:         make([]string, 0, len(paths)),
		pollInterval:  time.Second,
		debounceDelay: 100 * time.Millisecond,
		stopChan:      make(chan struct{}),
		eventChan:     make(chan FileEvent, 100),
		callbacks:     make([]func(FileEvent), 0),
		lastModTimes:  make(map[string]time.Time),
		logger:        zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With(zap.String("component", "file_watcher"))

	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				w.logger.Warn("watched path does not exist, will watch for creation",
					zap.String("path", path))
			} else {
				return nil, fmt.Errorf("failed to stat path %s: %w", path, err)
			}
		}
		w.paths = append(w.paths, filepath.Clean(path))
	}

	return w, nil
}

// OnChange registers a callback for file change events
func (w *FileWatcher) OnChange(callback func(FileEvent)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for file changes
func (w *FileWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.running = true
	w.stopChan = make(chan struct{})
	// 记录初始状态，启动前已存在的文件不产生事件
	w.lastModTimes = w.snapshot()
	stop := w.stopChan
	w.mu.Unlock()

	go w.pollLoop(ctx, stop)
	go w.dispatchLoop(ctx, stop)

	w.logger.Info("file watcher started",
		zap.Strings("paths", w.Paths()),
		zap.Duration("poll_interval", w.pollInterval),
		zap.Duration("debounce_delay", w.debounceDelay))

	return nil
}

// Stop stops the file watcher
func (w *FileWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return nil
	}

	close(w.stopChan)
	w.running = false

	w.logger.Info("file watcher stopped")
	return nil
}

func (w *FileWatcher) pollLoop(ctx context.Context, stop <-chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			for _, evt := range w.checkFiles() {
				select {
				case w.eventChan <- evt:
				case <-stop:
					return
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// snapshot 返回所有被监听文件的当前修改时间，调用方需持有锁
func (w *FileWatcher) snapshot() map[string]time.Time {
	current := make(map[string]time.Time)
	for _, path := range w.paths {
		info, err := os.Stat(path)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			current[path] = info.ModTime()
			continue
		}
		entries, err := os.ReadDir(path)
		if err != nil {
			w.logger.Warn("failed to read watched directory", zap.String("path", path), zap.Error(err))
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !w.matches(entry.Name()) {
				continue
			}
			if fi, err := entry.Info(); err == nil {
				current[filepath.Join(path, entry.Name())] = fi.ModTime()
			}
		}
	}
	return current
}

func (w *FileWatcher) matches(name string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(name))]
}

// checkFiles diffs the current state against the last scan.
func (w *FileWatcher) checkFiles() []FileEvent {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := time.Now()
	current := w.snapshot()
	var events []FileEvent

	for path, mod := range current {
		last, existed := w.lastModTimes[path]
		switch {
		case !existed:
			events = append(events, FileEvent{Path: path, Op: FileOpCreate, Timestamp: now})
		case mod.After(last):
			events = append(events, FileEvent{Path: path, Op: FileOpWrite, Timestamp: now})
		}
	}
	for path := range w.lastModTimes {
		if _, ok := current[path]; !ok {
			events = append(events, FileEvent{Path: path, Op: FileOpRemove, Timestamp: now})
		}
	}
	w.lastModTimes = current

	sort.Slice(events, func(i, j int) bool { return events[i].Path < events[j].Path })
	return events
}

// dispatchLoop coalesces events per path and fires callbacks once the
// debounce window passes without new events.
func (w *FileWatcher) dispatchLoop(ctx context.Context, stop <-chan struct{}) {
	pending := make(map[string]FileEvent)
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case event := <-w.eventChan:
			// 同一路径只保留最新事件
			pending[event.Path] = event
			timer.Reset(w.debounceDelay)
		case <-timer.C:
			w.dispatch(pending)
			pending = make(map[string]FileEvent)
		}
	}
}

func (w *FileWatcher) dispatch(events map[string]FileEvent) {
	w.mu.RLock()
	callbacks := make([]func(FileEvent), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.RUnlock()

	for path, evt := range events {
		w.logger.Debug("dispatching file event",
			zap.String("path", path),
			zap.String("op", evt.Op.String()))

		for _, cb := range callbacks {
			cb(evt)
		}
	}
}

// AddPath adds a new path to watch
func (w *FileWatcher) AddPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	for _, p := range w.paths {
		if p == absPath {
			return nil
		}
	}
	w.paths = append(w.paths, absPath)

	w.logger.Info("added path to watcher", zap.String("path", absPath))
	return nil
}

// RemovePath removes a path from watching
func (w *FileWatcher) RemovePath(path string) error {
	absPath, _ := filepath.Abs(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	for i, p := range w.paths {
		if p == absPath {
			w.paths = append(w.paths[:i], w.paths[i+1:]...)
			w.logger.Info("removed path from watcher", zap.String("path", absPath))
			return nil
		}
	}

	return fmt.Errorf("path not found: %s", path)
}

// Paths returns the list of watched paths
func (w *FileWatcher) Paths() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	paths := make([]string, len(w.paths))
	copy(paths, w.paths)
	return paths
}

// IsRunning returns whether the watcher is running
func (w *FileWatcher) IsRunning() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.running
}
