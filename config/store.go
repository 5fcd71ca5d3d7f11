package config

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/gateguard/internal/metrics"
)

// ReloadCallback 配置换入后的回调
// 在新快照已对外可见之后调用，参数为新快照。
type ReloadCallback func(*Config)

// StoreOption 配置 Store
type StoreOption func(*Store)

// WithStoreLogger 设置日志
func WithStoreLogger(logger *zap.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// WithStoreCollector 设置指标收集器
func WithStoreCollector(collector *metrics.Collector) StoreOption {
	return func(s *Store) {
		s.collector = collector
	}
}

// Store 不可变配置快照的原子存储
// 读取方通过 Snapshot 拿到完整快照，评估期间不再回头读 Store，
// 因此单次评估内部规则永远一致。Reload 失败保留 last-known-good。
type Store struct {
	loader  *Loader
	current atomic.Pointer[Config]

	mu        sync.Mutex // 串行化 Reload
	callbacks []ReloadCallback

	watcher *FileWatcher

	logger    *zap.Logger
	collector *metrics.Collector
}

// NewStore 创建配置存储
// 初始加载失败直接返回错误：没有任何有效配置时拒绝启动，
// 而不是带着空规则表放行流量。
func NewStore(loader *Loader, opts ...StoreOption) (*Store, error) {
	if loader == nil {
		loader = NewLoader()
	}

	s := &Store{
		loader: loader,
		logger: zap.NewNop(),
	}

	for _, opt := range opts {
		opt(s)
	}

	cfg, err := loader.Load()
	if err != nil {
		return nil, fmt.Errorf("initial config load failed: %w", err)
	}
	s.current.Store(cfg)

	s.logger = s.logger.With(zap.String("component", "config_store"))

	return s, nil
}

// Snapshot 返回当前配置快照
// 返回的指针指向不可变实例，调用方不得修改。
func (s *Store) Snapshot() *Config {
	return s.current.Load()
}

// OnReload 注册重载回调
// 必须在 Start 之前注册完毕。
func (s *Store) OnReload(cb ReloadCallback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callbacks = append(s.callbacks, cb)
}

// Reload 重新加载配置并原子换入
// 加载或校验失败时保留当前快照继续服务，只记日志与指标。
func (s *Store) Reload() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg, err := s.loader.Load()
	if err != nil {
		s.logger.Error("config reload failed, keeping last known good",
			zap.Error(err))
		if s.collector != nil {
			s.collector.IncConfigReload("failure")
		}
		return err
	}

	s.current.Store(cfg)

	s.logger.Info("config reloaded")
	if s.collector != nil {
		s.collector.IncConfigReload("success")
	}

	for _, cb := range s.callbacks {
		cb(cfg)
	}

	return nil
}

// Start 启动配置文件监听
// 未设置配置文件路径时为 no-op。文件变更触发 Reload，
// 重载失败不中断监听。
func (s *Store) Start(ctx context.Context) error {
	if s.loader.configPath == "" {
		return nil
	}

	watcher, err := NewFileWatcher(s.loader.configPath,
		WithWatcherLogger(s.logger))
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	s.watcher = watcher

	return watcher.Start(ctx, func(FileEvent) {
		_ = s.Reload()
	})
}

// Stop 停止配置文件监听
func (s *Store) Stop() {
	if s.watcher != nil {
		s.watcher.Stop()
	}
}
