package config

import (
	"fmt"
	"os"
	"reflect"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/BaSui01/gateguard/guard"
)

// Config 护栏链完整配置
// 三份护栏文档 + 日志配置。加载后视为不可变快照，
// 更新必须通过 Store 整体换入新实例。
type Config struct {
	// ContentSafety 内容安全类别文档
	ContentSafety guard.ContentSafetyConfig `yaml:"content_safety" env:"CONTENT_SAFETY"`

	// PII PII 类型规则文档
	PII guard.PIIConfig `yaml:"pii" env:"PII"`

	// Jailbreak 越狱层规则与阈值文档
	Jailbreak guard.JailbreakConfig `yaml:"jailbreak" env:"JAILBREAK"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
}

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "GATEGUARD",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量。
// 加载后做规范化（补类别顺序号）并校验；任何一步失败都返回错误，
// 由调用方决定拒绝启动还是保留上一份快照。
func (l *Loader) Load() (*Config, error) {
	cfg := DefaultConfig()

	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	cfg.normalize()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
// 文件不存在不算错误，使用默认值继续。
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
// 只覆盖标量字段；规则映射（categories/types）仅来自文件与默认值。
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// normalize 规范化加载结果
// Go 的 map 无序，类别决胜需要稳定顺序：未显式配置 order 的类别
// 按名称字典序补号，保证同一份文档在任何进程里决胜结果一致。
func (c *Config) normalize() {
	assigned := make(map[int]bool)
	for _, rule := range c.ContentSafety.Categories {
		if rule != nil && rule.Order != 0 {
			assigned[rule.Order] = true
		}
	}

	names := make([]string, 0, len(c.ContentSafety.Categories))
	for name, rule := range c.ContentSafety.Categories {
		if rule != nil && rule.Order == 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	next := 1
	for _, name := range names {
		for assigned[next] {
			next++
		}
		c.ContentSafety.Categories[name].Order = next
		assigned[next] = true
		next++
	}
}

// Validate 校验配置
// 规则定义畸形属于 ConfigurationError：整份配置被拒绝，
// 绝不带着部分失效的规则表继续服务。
func (c *Config) Validate() error {
	var errs []string

	for name, rule := range c.ContentSafety.Categories {
		if rule == nil {
			errs = append(errs, fmt.Sprintf("content_safety category %s: nil rule", name))
			continue
		}
		if rule.Severity != "" && !guard.ValidSeverity(rule.Severity) {
			errs = append(errs, fmt.Sprintf("content_safety category %s: unknown severity %q", name, rule.Severity))
		}
		if rule.Action != "" && !guard.ValidAction(rule.Action) {
			errs = append(errs, fmt.Sprintf("content_safety category %s: unknown action %q", name, rule.Action))
		}
		if rule.Enabled && len(rule.Keywords) == 0 {
			errs = append(errs, fmt.Sprintf("content_safety category %s: enabled but no keywords", name))
		}
	}
	if c.ContentSafety.DefaultAction != "" && !guard.ValidAction(c.ContentSafety.DefaultAction) {
		errs = append(errs, fmt.Sprintf("content_safety: unknown default_action %q", c.ContentSafety.DefaultAction))
	}

	if c.PII.MaskStrategy != "" && !guard.ValidMaskStrategy(c.PII.MaskStrategy) {
		errs = append(errs, fmt.Sprintf("pii: unknown mask_strategy %q", c.PII.MaskStrategy))
	}
	if c.PII.DefaultAction != "" && !guard.ValidAction(c.PII.DefaultAction) {
		errs = append(errs, fmt.Sprintf("pii: unknown default_action %q", c.PII.DefaultAction))
	}
	for name, rule := range c.PII.Types {
		if rule == nil {
			errs = append(errs, fmt.Sprintf("pii type %s: nil rule", name))
			continue
		}
		if rule.Severity != "" && !guard.ValidSeverity(rule.Severity) {
			errs = append(errs, fmt.Sprintf("pii type %s: unknown severity %q", name, rule.Severity))
		}
		if rule.Action != "" && !guard.ValidAction(rule.Action) {
			errs = append(errs, fmt.Sprintf("pii type %s: unknown action %q", name, rule.Action))
		}
		if rule.MaskStrategy != "" && !guard.ValidMaskStrategy(rule.MaskStrategy) {
			errs = append(errs, fmt.Sprintf("pii type %s: unknown mask_strategy %q", name, rule.MaskStrategy))
		}
		if rule.Pattern != "" {
			if _, err := regexp.Compile(rule.Pattern); err != nil {
				errs = append(errs, fmt.Sprintf("pii type %s: invalid pattern: %v", name, err))
			}
		}
	}

	if t := c.Jailbreak.ConfidenceThreshold; t < 0 || t > 1 {
		errs = append(errs, fmt.Sprintf("jailbreak: confidence_threshold %v out of [0,1]", t))
	}
	for _, p := range c.Jailbreak.ExtraPatterns {
		if p.Pattern == "" {
			errs = append(errs, fmt.Sprintf("jailbreak pattern %s: empty pattern", p.Name))
			continue
		}
		if _, err := regexp.Compile("(?i)" + p.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("jailbreak pattern %s: invalid pattern: %v", p.Name, err))
		}
		// 模糊层模式的置信度约定在 [0.6, 0.9]
		if p.Confidence < 0.6 || p.Confidence > 0.9 {
			errs = append(errs, fmt.Sprintf("jailbreak pattern %s: confidence %v out of [0.6,0.9]", p.Name, p.Confidence))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}
