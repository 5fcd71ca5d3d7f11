// 版权所有 2025 Gateguard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的护栏链指标采集能力。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
注册机制。所有指标按 namespace 隔离，支持多维度 label 分组，
便于 Grafana 等工具进行可视化与告警。

# 主要能力

  - 护栏链指标：阶段评估总数与耗时（按 stage/verdict 分组）、
    拦截计数（按 stage/category 分组）、PII 脱敏计数（按 pii_type 分组）。
  - 配置指标：配置重载尝试计数（按 success/failure 分组）。

# 使用示例

	collector := metrics.NewCollector("gateguard", logger)
	chain := guard.NewChainFromConfig(cs, pii, jb, guard.WithCollector(collector))

测试中应使用 NewCollectorWith 搭配独立的 prometheus.Registry，
避免默认注册表的重复注册冲突。
*/
package metrics
