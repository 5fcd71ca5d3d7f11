package config

import "github.com/BaSui01/gateguard/guard"

// DefaultConfig 返回默认配置
// 三份护栏文档全部取各自的出厂规则，开箱即用。
func DefaultConfig() *Config {
	return &Config{
		ContentSafety: *guard.DefaultContentSafetyConfig(),
		PII:           *guard.DefaultPIIConfig(),
		Jailbreak:     *guard.DefaultJailbreakConfig(),
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
