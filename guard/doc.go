// 版权所有 2025 Gateguard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 guard 实现 AI 网关的三段式护栏链。

# 概述

每个入站聊天请求的文本在到达 LLM Provider 之前依次经过三个护栏：

 1. 内容安全扫描（关键词分类匹配，最便宜，最先执行）
 2. PII 检测与脱敏（结构化敏感数据的正则检测，按类型配置动作与脱敏策略）
 3. 越狱检测（三层置信度评分：精确短语 → 模糊模式 → 结构启发式）

链路顺序固定，配置不可重排。任一护栏给出 block 判定即短路返回；
redact 判定将脱敏后的文本传给后续护栏；全部通过则返回最终文本。

# 核心接口

  - [Guard]：单个护栏接口，提供 Evaluate / Name
  - [Chain]：编排器，固定顺序执行三个护栏并聚合结果
  - [AuditLogger]：审计日志，记录判定事件（仅输出脱敏后的值）

# 判定与动作

  - [Verdict]：allow / block / redact
  - [Action]：allow < log < redact < block，多条规则命中时取最严格者
  - [Severity]：low / medium / high / critical

# 失败语义

护栏内部评估出错时按 fail-closed 处理：该阶段视为 block 并产生审计事件，
绝不静默放行。配置错误在加载阶段拦截（见 config 包），运行期护栏只读
不可变的配置快照，天然支持并发评估。
*/
package guard
