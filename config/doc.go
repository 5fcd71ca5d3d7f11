// 版权所有 2025 Gateguard Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 config 提供护栏链的外部配置：加载、校验、热重载。

# 加载

配置来自三份逻辑文档（内容安全类别、PII 类型规则、越狱层规则与阈值），
物理上合并在一个 YAML 文件中。优先级: 默认值 → YAML 文件 → 环境变量。

	cfg, err := config.NewLoader().
	    WithConfigPath("guardrail-settings.yaml").
	    WithEnvPrefix("GATEGUARD").
	    Load()

# 热重载

规则必须可在不重新部署代码的情况下更新。Store 持有不可变配置快照的
原子引用：重载构造全新的 Config 并整体换入，进行中的评估继续使用
各自开始时拿到的快照，换入本身只需一次原子指针赋值，评估路径无锁。

加载或校验失败时保留 last-known-good 快照继续服务（fail closed：
进程启动时没有任何有效配置则拒绝启动）。

FileWatcher 以 mtime 轮询监听配置文件变更并触发重载。
*/
package config
