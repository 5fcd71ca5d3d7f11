package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollectorWith(reg, "gateguard", nil)
	require.NotNil(t, c)

	c.ObserveEvaluation("content_safety", "allow", 0.0003)
	c.ObserveEvaluation("content_safety", "block", 0.0001)
	c.ObserveEvaluation("pii_guard", "redact", 0.0012)
	c.IncBlocked("content_safety", "VIOLENCE")
	c.IncBlocked("content_safety", "VIOLENCE")
	c.IncRedaction("EMAIL")
	c.IncConfigReload("success")
	c.IncConfigReload("failure")

	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.evaluationsTotal.WithLabelValues("content_safety", "allow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.evaluationsTotal.WithLabelValues("pii_guard", "redact")))
	assert.Equal(t, 2.0, testutil.ToFloat64(
		c.blockedTotal.WithLabelValues("content_safety", "VIOLENCE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.redactionsTotal.WithLabelValues("EMAIL")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.configReloadsTotal.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		c.configReloadsTotal.WithLabelValues("failure")))

	// 直方图通过注册表侧验证
	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, mf := range families {
		if mf.GetName() == "gateguard_guard_evaluation_duration_seconds" {
			found = true
		}
	}
	assert.True(t, found, "duration histogram not registered")
}

func TestCollector_IndependentRegistries(t *testing.T) {
	// 独立注册表之间不冲突,同名指标可重复创建
	c1 := NewCollectorWith(prometheus.NewRegistry(), "gateguard", nil)
	c2 := NewCollectorWith(prometheus.NewRegistry(), "gateguard", nil)

	c1.IncBlocked("pii_guard", "pii")
	assert.Equal(t, 1.0, testutil.ToFloat64(c1.blockedTotal.WithLabelValues("pii_guard", "pii")))
	assert.Equal(t, 0.0, testutil.ToFloat64(c2.blockedTotal.WithLabelValues("pii_guard", "pii")))
}
