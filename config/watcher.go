package config

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileOp 文件事件类型
type FileOp int

const (
	// FileWrite 文件内容被修改
	FileWrite FileOp = iota
	// FileRemove 文件被删除
	FileRemove
	// FileCreate 文件被（重新）创建
	FileCreate
)

// FileEvent 文件变更事件
type FileEvent struct {
	Path string
	Op   FileOp
}

// WatcherOption 配置 FileWatcher
type WatcherOption func(*FileWatcher)

// WithPollInterval 设置轮询间隔
func WithPollInterval(interval time.Duration) WatcherOption {
	return func(w *FileWatcher) {
		if interval > 0 {
			w.interval = interval
		}
	}
}

// WithWatcherLogger 设置日志
func WithWatcherLogger(logger *zap.Logger) WatcherOption {
	return func(w *FileWatcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// FileWatcher 基于 mtime 轮询的文件监听器
// 配置文件变更频率以分钟计，秒级轮询在延迟与实现复杂度之间
// 是合理取舍，且对 NFS、容器挂载卷等 inotify 不可靠的场景同样有效。
type FileWatcher struct {
	path     string
	interval time.Duration

	mu       sync.Mutex
	lastMod  time.Time
	lastSize int64
	exists   bool

	cancel  context.CancelFunc
	done    chan struct{}
	started bool

	logger *zap.Logger
}

// NewFileWatcher 创建文件监听器
// 文件此刻不存在不算错误：后续创建会触发 FileCreate 事件。
func NewFileWatcher(path string, opts ...WatcherOption) (*FileWatcher, error) {
	if path == "" {
		return nil, fmt.Errorf("watch path is empty")
	}

	w := &FileWatcher{
		path:     path,
		interval: time.Second,
		logger:   zap.NewNop(),
	}

	for _, opt := range opts {
		opt(w)
	}

	w.logger = w.logger.With(
		zap.String("component", "file_watcher"),
		zap.String("path", path),
	)

	if info, err := os.Stat(path); err == nil {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
		w.exists = true
	}

	return w, nil
}

// Start 启动监听
// onChange 在监听 goroutine 中被调用，耗时操作应自行异步化。
func (w *FileWatcher) Start(ctx context.Context, onChange func(FileEvent)) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.mu.Unlock()

	go w.loop(ctx, onChange)

	w.logger.Info("file watcher started",
		zap.Duration("interval", w.interval))

	return nil
}

// Stop 停止监听并等待监听 goroutine 退出
func (w *FileWatcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	done := w.done
	w.started = false
	w.mu.Unlock()

	cancel()
	<-done

	w.logger.Info("file watcher stopped")
}

func (w *FileWatcher) loop(ctx context.Context, onChange func(FileEvent)) {
	defer close(w.done)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if event, changed := w.poll(); changed {
				w.logger.Debug("file change detected",
					zap.Int("op", int(event.Op)))
				onChange(event)
			}
		}
	}
}

// poll 对比 mtime 与大小判断文件是否变更
func (w *FileWatcher) poll() (FileEvent, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		if os.IsNotExist(err) && w.exists {
			w.exists = false
			return FileEvent{Path: w.path, Op: FileRemove}, true
		}
		return FileEvent{}, false
	}

	if !w.exists {
		w.exists = true
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
		return FileEvent{Path: w.path, Op: FileCreate}, true
	}

	if !info.ModTime().Equal(w.lastMod) || info.Size() != w.lastSize {
		w.lastMod = info.ModTime()
		w.lastSize = info.Size()
		return FileEvent{Path: w.path, Op: FileWrite}, true
	}

	return FileEvent{}, false
}
