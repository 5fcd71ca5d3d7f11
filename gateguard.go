// Package gateguard provides a top-level convenience entry point for running
// the full guardrail chain with hot-reloadable configuration.
//
// Usage:
//
//	import "github.com/BaSui01/gateguard"
//
//	p, err := gateguard.NewFromFile("guardrail-settings.yaml")
//	p, err := gateguard.New(gateguard.WithLogger(logger))
//
//	res, err := p.Evaluate(ctx, userText)
//
// This is a thin wrapper around [guard.Chain] and [config.Store]; use the
// underlying packages directly when you need per-stage control.
package gateguard

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/BaSui01/gateguard/config"
	"github.com/BaSui01/gateguard/guard"
	"github.com/BaSui01/gateguard/internal/metrics"
)

// Option configures the pipeline created by [New].
type Option func(*options)

type options struct {
	configPath string
	logger     *zap.Logger
	collector  *metrics.Collector
	audit      *guard.AuditLogger
}

// WithConfigPath sets the YAML config file to load and watch.
func WithConfigPath(path string) Option {
	return func(o *options) { o.configPath = path }
}

// WithLogger sets a custom zap logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetricsNamespace registers Prometheus metrics under the given namespace
// on the default registry.
func WithMetricsNamespace(namespace string) Option {
	return func(o *options) { o.collector = metrics.NewCollector(namespace, o.logger) }
}

// WithAuditLogger sets the audit logger used for guardrail events.
func WithAuditLogger(audit *guard.AuditLogger) Option {
	return func(o *options) { o.audit = audit }
}

// Pipeline couples a guard chain to a config store. On every successful
// config reload the chain is rebuilt from the new snapshot and swapped in
// atomically; in-flight evaluations finish on the chain they started with.
type Pipeline struct {
	store *config.Store
	chain atomic.Pointer[guard.Chain]

	logger    *zap.Logger
	collector *metrics.Collector
	audit     *guard.AuditLogger
}

// New creates a pipeline. Without [WithConfigPath] it runs on the default
// rule set; with it, the file is loaded at startup and watched by [Pipeline.Start].
// Refuses to start when the initial config is invalid.
func New(opts ...Option) (*Pipeline, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	loader := config.NewLoader()
	if o.configPath != "" {
		loader = loader.WithConfigPath(o.configPath)
	}

	store, err := config.NewStore(loader,
		config.WithStoreLogger(o.logger),
		config.WithStoreCollector(o.collector),
	)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:     store,
		logger:    o.logger,
		collector: o.collector,
		audit:     o.audit,
	}
	p.rebuild(store.Snapshot())
	store.OnReload(p.rebuild)

	return p, nil
}

// NewFromFile creates a pipeline from the given YAML config file.
func NewFromFile(path string, opts ...Option) (*Pipeline, error) {
	return New(append([]Option{WithConfigPath(path)}, opts...)...)
}

// Evaluate runs the full guardrail chain on text. See [guard.Chain.Evaluate]
// for the result and error contract.
func (p *Pipeline) Evaluate(ctx context.Context, text string) (*guard.Result, error) {
	return p.chain.Load().Evaluate(ctx, text)
}

// EvaluateBatch runs the chain on independent texts concurrently.
func (p *Pipeline) EvaluateBatch(ctx context.Context, texts []string) []*guard.Result {
	return p.chain.Load().EvaluateBatch(ctx, texts)
}

// Config returns the current config snapshot.
func (p *Pipeline) Config() *config.Config {
	return p.store.Snapshot()
}

// Reload forces a config reload. On failure the previous chain keeps serving.
func (p *Pipeline) Reload() error {
	return p.store.Reload()
}

// Start begins watching the config file for changes. No-op without a file.
func (p *Pipeline) Start(ctx context.Context) error {
	return p.store.Start(ctx)
}

// Stop stops the config watcher.
func (p *Pipeline) Stop() {
	p.store.Stop()
}

// rebuild constructs a fresh chain from a config snapshot and swaps it in.
func (p *Pipeline) rebuild(cfg *config.Config) {
	chain := guard.NewChainFromConfig(&cfg.ContentSafety, &cfg.PII, &cfg.Jailbreak,
		guard.WithLogger(p.logger),
		guard.WithCollector(p.collector),
		guard.WithAuditLogger(p.audit),
	)
	p.chain.Store(chain)
}
