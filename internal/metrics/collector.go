package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector 护栏指标收集器
type Collector struct {
	// 护栏链指标
	evaluationsTotal   *prometheus.CounterVec
	evaluationDuration *prometheus.HistogramVec
	blockedTotal       *prometheus.CounterVec
	redactionsTotal    *prometheus.CounterVec

	// 配置指标
	configReloadsTotal *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector 在默认注册表上创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	return NewCollectorWith(prometheus.DefaultRegisterer, namespace, logger)
}

// NewCollectorWith 在指定注册表上创建指标收集器（测试用独立注册表）
func NewCollectorWith(reg prometheus.Registerer, namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	factory := promauto.With(reg)

	c.evaluationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_evaluations_total",
			Help:      "Total number of guard stage evaluations",
		},
		[]string{"stage", "verdict"},
	)

	c.evaluationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "guard_evaluation_duration_seconds",
			Help:      "Guard stage evaluation duration in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 5, 10),
		},
		[]string{"stage"},
	)

	c.blockedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_blocked_total",
			Help:      "Total number of blocked requests by stage and category",
		},
		[]string{"stage", "category"},
	)

	c.redactionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "guard_redactions_total",
			Help:      "Total number of PII redactions by type",
		},
		[]string{"pii_type"},
	)

	c.configReloadsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "config_reloads_total",
			Help:      "Total number of configuration reload attempts",
		},
		[]string{"status"},
	)

	return c
}

// ObserveEvaluation 记录一次阶段评估
func (c *Collector) ObserveEvaluation(stage, verdict string, seconds float64) {
	c.evaluationsTotal.WithLabelValues(stage, verdict).Inc()
	c.evaluationDuration.WithLabelValues(stage).Observe(seconds)
}

// IncBlocked 记录一次拦截
func (c *Collector) IncBlocked(stage, category string) {
	c.blockedTotal.WithLabelValues(stage, category).Inc()
}

// IncRedaction 记录一次 PII 脱敏
func (c *Collector) IncRedaction(piiType string) {
	c.redactionsTotal.WithLabelValues(piiType).Inc()
}

// IncConfigReload 记录一次配置重载（status: success / failure）
func (c *Collector) IncConfigReload(status string) {
	c.configReloadsTotal.WithLabelValues(status).Inc()
}
