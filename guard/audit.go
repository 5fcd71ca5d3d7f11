package guard

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AuditEvent 审计事件
// Detections 只携带脱敏后的值——原始 PII 永远不进日志。
type AuditEvent struct {
	ID         string      `json:"id"`
	Timestamp  time.Time   `json:"timestamp"`
	Stage      string      `json:"stage"`
	Category   string      `json:"category"`
	Verdict    Verdict     `json:"verdict"`
	Confidence float64     `json:"confidence"`
	Message    string      `json:"message"`
	Detections []Detection `json:"detections,omitempty"`
}

// AuditOption 配置 AuditLogger
type AuditOption func(*AuditLogger)

// WithAuditRateLimit 限制 log 级事件的输出速率
// block 事件不受限流影响，总是记录。
func WithAuditRateLimit(perSecond float64, burst int) AuditOption {
	return func(a *AuditLogger) {
		a.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// AuditLogger 护栏审计日志
// 拦截事件无条件记录；仅记录级的检测事件经过限流，
// 防止批量 log 动作命中刷爆日志管道。
type AuditLogger struct {
	logger  *zap.Logger
	limiter *rate.Limiter
}

// NewAuditLogger 创建审计日志
func NewAuditLogger(logger *zap.Logger, opts ...AuditOption) *AuditLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &AuditLogger{
		logger:  logger.With(zap.String("component", "guard_audit")),
		limiter: rate.NewLimiter(rate.Limit(50), 100),
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// LogResult 把判定结果转为审计事件并记录
func (a *AuditLogger) LogResult(res *Result) {
	event := AuditEvent{
		ID:         uuid.NewString(),
		Timestamp:  time.Now(),
		Stage:      res.Stage,
		Category:   res.Category,
		Verdict:    res.Verdict,
		Confidence: res.Confidence,
		Message:    res.Message,
		Detections: sanitizeDetections(res.Detections),
	}
	a.Log(event)
}

// Log 记录一条审计事件
func (a *AuditLogger) Log(event AuditEvent) {
	if event.Verdict != VerdictBlock && !a.limiter.Allow() {
		return
	}

	fields := []zap.Field{
		zap.String("event_id", event.ID),
		zap.String("stage", event.Stage),
		zap.String("category", event.Category),
		zap.String("verdict", string(event.Verdict)),
		zap.Float64("confidence", event.Confidence),
		zap.String("message", event.Message),
	}
	if len(event.Detections) > 0 {
		types := make([]string, 0, len(event.Detections))
		for _, d := range event.Detections {
			types = append(types, d.Type)
		}
		fields = append(fields, zap.Strings("detection_types", types))
	}

	if event.Verdict == VerdictBlock {
		a.logger.Warn("guardrail event", fields...)
	} else {
		a.logger.Info("guardrail event", fields...)
	}
}

// sanitizeDetections 复制检测记录并清空原文字段
func sanitizeDetections(detections []Detection) []Detection {
	if len(detections) == 0 {
		return nil
	}
	out := make([]Detection, len(detections))
	copy(out, detections)
	for i := range out {
		out[i].MatchedText = ""
	}
	return out
}
