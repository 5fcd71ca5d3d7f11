package guard

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/gateguard/internal/metrics"
)

// tracerName 链路追踪器标识
const tracerName = "github.com/BaSui01/gateguard/guard"

// ChainOption 配置 Chain
type ChainOption func(*Chain)

// WithLogger 设置记录器
func WithLogger(logger *zap.Logger) ChainOption {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithCollector 设置指标收集器
func WithCollector(collector *metrics.Collector) ChainOption {
	return func(c *Chain) {
		c.collector = collector
	}
}

// WithAuditLogger 设置审计日志
func WithAuditLogger(audit *AuditLogger) ChainOption {
	return func(c *Chain) {
		c.audit = audit
	}
}

// Chain 护栏链编排器
// 固定顺序执行内容安全 → PII → 越狱检测，首个 block 判定短路返回；
// redact 判定的脱敏文本传递给后续阶段及最终返回值。
//
// Chain 不持有跨请求状态，只要三个护栏引用的配置快照不可变，
// 对独立请求的并发调用是安全的。
type Chain struct {
	stages    []Guard
	logger    *zap.Logger
	collector *metrics.Collector
	audit     *AuditLogger
	tracer    trace.Tracer
}

// NewChain 创建护栏链
// 三个位置参数即固定的执行顺序，配置无法重排：
// 最便宜、精度最高的检查先执行，减少对明显违规输入的无谓计算。
func NewChain(contentSafety, pii, jailbreak Guard, opts ...ChainOption) *Chain {
	c := &Chain{
		stages: []Guard{contentSafety, pii, jailbreak},
		logger: zap.NewNop(),
		tracer: otel.Tracer(tracerName),
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// NewChainFromConfig 从三份护栏配置构建链
func NewChainFromConfig(cs *ContentSafetyConfig, pii *PIIConfig, jb *JailbreakConfig, opts ...ChainOption) *Chain {
	return NewChain(
		NewContentSafetyGuard(cs),
		NewPIIGuard(pii),
		NewJailbreakGuard(jb),
		opts...,
	)
}

// Stages 返回链内护栏名称（按执行顺序）
func (c *Chain) Stages() []string {
	names := make([]string, len(c.stages))
	for i, g := range c.stages {
		names[i] = g.Name()
	}
	return names
}

// Evaluate 对单个请求文本执行完整护栏链
//
// 返回值约定：
//   - block 判定：Result.Verdict == VerdictBlock，error 为 *BlockedError
//     （设计内的拒绝路径，调用方据此构造结构化拒绝响应）；
//   - 阶段内部故障：fail-closed，Result 为该阶段的 block 判定，
//     error 为 *FaultError；
//   - 放行：Result.Text 为转发给 Provider 路由的最终文本
//     （发生过脱敏时 Verdict 为 VerdictRedact）。
func (c *Chain) Evaluate(ctx context.Context, text string) (*Result, error) {
	ctx, span := c.tracer.Start(ctx, "guard.chain.evaluate")
	defer span.End()

	current := text
	redacted := false
	var detections []Detection

	for _, g := range c.stages {
		// 配置为只读快照，阶段本身不阻塞；仅在阶段间响应取消
		select {
		case <-ctx.Done():
			fault := &FaultError{Stage: g.Name(), Err: ctx.Err()}
			return c.failClosed(span, fault), fault
		default:
		}

		start := time.Now()
		res, err := g.Evaluate(ctx, current)
		elapsed := time.Since(start)

		if err != nil {
			fault := &FaultError{Stage: g.Name(), Err: err}
			c.logger.Error("guard evaluation fault, failing closed",
				zap.String("stage", g.Name()),
				zap.Error(err))
			c.observe(g.Name(), VerdictBlock, elapsed)
			return c.failClosed(span, fault), fault
		}

		c.observe(g.Name(), res.Verdict, elapsed)
		span.AddEvent("stage.complete", trace.WithAttributes(
			attribute.String("guard.stage", g.Name()),
			attribute.String("guard.verdict", string(res.Verdict)),
		))

		switch res.Verdict {
		case VerdictBlock:
			c.logger.Warn("request blocked",
				zap.String("stage", res.Stage),
				zap.String("category", res.Category),
				zap.Float64("confidence", res.Confidence))
			if c.collector != nil {
				c.collector.IncBlocked(res.Stage, res.Category)
			}
			c.auditResult(res)
			span.SetAttributes(attribute.String("guard.verdict", string(VerdictBlock)))
			return res, &BlockedError{Stage: res.Stage, Category: res.Category, Message: res.Message}

		case VerdictRedact:
			current = res.Text
			redacted = true
			detections = append(detections, res.Detections...)
			if c.collector != nil {
				for _, d := range res.Detections {
					c.collector.IncRedaction(d.Type)
				}
			}
			c.auditResult(res)

		default:
			detections = append(detections, res.Detections...)
			if len(res.Detections) > 0 {
				c.auditResult(res)
			}
		}
	}

	final := &Result{
		Verdict:    VerdictAllow,
		Text:       current,
		Detections: detections,
	}
	if redacted {
		final.Verdict = VerdictRedact
	}
	span.SetAttributes(attribute.String("guard.verdict", string(final.Verdict)))
	return final, nil
}

// EvaluateBatch 并行评估多个互相独立的请求文本
// 结果切片与输入一一对应；单条的 block/fault 不影响其他条目。
func (c *Chain) EvaluateBatch(ctx context.Context, texts []string) []*Result {
	results := make([]*Result, len(texts))

	g, gctx := errgroup.WithContext(ctx)
	for i, text := range texts {
		i, text := i, text
		g.Go(func() error {
			res, _ := c.Evaluate(gctx, text)
			results[i] = res
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// failClosed 构造 fail-closed 拦截结果并记录审计事件
func (c *Chain) failClosed(span trace.Span, fault *FaultError) *Result {
	res := &Result{
		Verdict:  VerdictBlock,
		Stage:    fault.Stage,
		Category: CategoryDetectionFault,
		Message:  "guard evaluation failed, request rejected",
	}
	if c.collector != nil {
		c.collector.IncBlocked(fault.Stage, CategoryDetectionFault)
	}
	c.auditResult(res)
	span.SetAttributes(attribute.String("guard.verdict", string(VerdictBlock)))
	return res
}

// observe 上报阶段评估指标
func (c *Chain) observe(stage string, verdict Verdict, elapsed time.Duration) {
	if c.collector == nil {
		return
	}
	c.collector.ObserveEvaluation(stage, string(verdict), elapsed.Seconds())
}

// auditResult 发送审计事件
func (c *Chain) auditResult(res *Result) {
	if c.audit == nil {
		return
	}
	c.audit.LogResult(res)
}
