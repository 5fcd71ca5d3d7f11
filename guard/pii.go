package guard

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// MaskStrategy PII 脱敏策略
type MaskStrategy string

const (
	// MaskFull 整体替换为类型占位符，如 [REDACTED_SSN]
	MaskFull MaskStrategy = "full"
	// MaskPartial 保留末 4 位数字，其余打星
	MaskPartial MaskStrategy = "partial"
	// MaskHash 替换为 SHA-256 摘要前缀，同一进程内同输入同输出
	MaskHash MaskStrategy = "hash"
)

// ValidMaskStrategy 检查脱敏策略是否为已知值
func ValidMaskStrategy(s MaskStrategy) bool {
	switch s {
	case MaskFull, MaskPartial, MaskHash:
		return true
	}
	return false
}

// 内置 PII 类型标识
const (
	PIITypeSSN        = "SSN"
	PIITypeCreditCard = "CREDIT_CARD"
	PIITypeEmail      = "EMAIL"
	PIITypePhone      = "PHONE"
	PIITypeIPAddress  = "IP_ADDRESS"
	PIITypeDOB        = "DOB"
)

// PIITypeRule 单个 PII 类型的规则
// Pattern 为空时使用内置模式；MaskStrategy 为空时使用守卫级默认策略。
type PIITypeRule struct {
	Enabled      bool         `yaml:"enabled" json:"enabled"`
	Severity     Severity     `yaml:"severity" json:"severity"`
	Action       Action       `yaml:"action" json:"action"`
	MaskStrategy MaskStrategy `yaml:"mask_strategy" json:"mask_strategy"`
	Pattern      string       `yaml:"pattern" json:"pattern,omitempty"`
}

// PIIConfig PII 检测器配置
// HashSalt 非空时 hash 脱敏在进程重启后保持稳定；为空则每个进程
// 随机生成盐，仅保证进程生命周期内确定。
type PIIConfig struct {
	Enabled       bool                    `yaml:"enabled" json:"enabled" env:"ENABLED"`
	DefaultAction Action                  `yaml:"default_action" json:"default_action" env:"DEFAULT_ACTION"`
	MaskStrategy  MaskStrategy            `yaml:"mask_strategy" json:"mask_strategy" env:"MASK_STRATEGY"`
	HashSalt      string                  `yaml:"hash_salt" json:"-" env:"HASH_SALT"`
	LuhnCheck     bool                    `yaml:"luhn_check" json:"luhn_check" env:"LUHN_CHECK"`
	Types         map[string]*PIITypeRule `yaml:"types" json:"types"`
}

// piiPattern 内置模式与默认严重级别
type piiPattern struct {
	re       *regexp.Regexp
	severity Severity
}

// 内置 PII 模式，包加载时编译一次，避免逐请求重编译。
// SSN 覆盖 NNN-NN-NNNN 及空格/无分隔变体；信用卡模式宽匹配 13-19 位
// 数字序列，候选串再经 Luhn 校验过滤（见 luhnValid）。
var defaultPIIPatterns = map[string]piiPattern{
	PIITypeSSN: {
		re:       regexp.MustCompile(`\b\d{3}[-\s]?\d{2}[-\s]?\d{4}\b`),
		severity: SeverityCritical,
	},
	PIITypeCreditCard: {
		re:       regexp.MustCompile(`\b(?:\d{4}[-\s]?){3,4}\d{1,4}\b`),
		severity: SeverityCritical,
	},
	PIITypeEmail: {
		re:       regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
		severity: SeverityHigh,
	},
	PIITypePhone: {
		re:       regexp.MustCompile(`\b(?:\+?1[-.\s]?)?\(?\d{3}\)?[-.\s]?\d{3}[-.\s]?\d{4}\b`),
		severity: SeverityHigh,
	},
	PIITypeIPAddress: {
		re:       regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`),
		severity: SeverityMedium,
	},
	PIITypeDOB: {
		re:       regexp.MustCompile(`\b(?:0[1-9]|1[0-2])[/-](?:0[1-9]|[12]\d|3[01])[/-](?:19|20)\d{2}\b`),
		severity: SeverityHigh,
	},
}

// DefaultPIIConfig 返回默认配置
// SSN 与信用卡默认拒绝，其余类型默认脱敏。
func DefaultPIIConfig() *PIIConfig {
	return &PIIConfig{
		Enabled:       true,
		DefaultAction: ActionBlock,
		MaskStrategy:  MaskFull,
		LuhnCheck:     true,
		Types: map[string]*PIITypeRule{
			PIITypeSSN:        {Enabled: true, Severity: SeverityCritical, Action: ActionBlock},
			PIITypeCreditCard: {Enabled: true, Severity: SeverityCritical, Action: ActionBlock},
			PIITypeEmail:      {Enabled: true, Severity: SeverityHigh, Action: ActionRedact},
			PIITypePhone:      {Enabled: true, Severity: SeverityHigh, Action: ActionRedact},
			PIITypeIPAddress:  {Enabled: true, Severity: SeverityMedium, Action: ActionLog},
			PIITypeDOB:        {Enabled: true, Severity: SeverityHigh, Action: ActionRedact},
		},
	}
}

// piiTypeEntry 展开后的类型规则
type piiTypeEntry struct {
	name     string
	rule     PIITypeRule
	re       *regexp.Regexp
	strategy MaskStrategy
}

// PIIGuard PII 检测与脱敏器
// 实现 Guard 接口。各类型模式独立检测，汇总动作按 worst-wins 升级；
// redact 时按起始偏移降序逐个拼接替换，保证未处理命中的偏移不失效。
type PIIGuard struct {
	enabled         bool
	defaultAction   Action
	defaultStrategy MaskStrategy
	luhnCheck       bool
	salt            []byte
	types           []piiTypeEntry
}

// NewPIIGuard 创建 PII 检测器
// 自定义 Pattern 编译失败的类型会被跳过（config 包的 Validate
// 在加载阶段已拦截此类错误，这里是最后防线）。
func NewPIIGuard(config *PIIConfig) *PIIGuard {
	if config == nil {
		config = DefaultPIIConfig()
	}

	defaultAction := config.DefaultAction
	if defaultAction == "" {
		defaultAction = ActionBlock
	}
	defaultStrategy := config.MaskStrategy
	if !ValidMaskStrategy(defaultStrategy) {
		defaultStrategy = MaskFull
	}

	salt := []byte(config.HashSalt)
	if len(salt) == 0 {
		salt = make([]byte, 16)
		_, _ = rand.Read(salt)
	}

	g := &PIIGuard{
		enabled:         config.Enabled,
		defaultAction:   defaultAction,
		defaultStrategy: defaultStrategy,
		luhnCheck:       config.LuhnCheck,
		salt:            salt,
		types:           make([]piiTypeEntry, 0, len(config.Types)),
	}

	names := make([]string, 0, len(config.Types))
	for name := range config.Types {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := config.Types[name]
		if rule == nil {
			continue
		}
		r := *rule

		var re *regexp.Regexp
		if r.Pattern != "" {
			compiled, err := regexp.Compile(r.Pattern)
			if err != nil {
				continue
			}
			re = compiled
		} else if builtin, ok := defaultPIIPatterns[name]; ok {
			re = builtin.re
			if r.Severity == "" {
				r.Severity = builtin.severity
			}
		} else {
			continue
		}

		if r.Severity == "" {
			r.Severity = SeverityHigh
		}
		if r.Action == "" {
			r.Action = defaultAction
		}
		strategy := r.MaskStrategy
		if !ValidMaskStrategy(strategy) {
			strategy = defaultStrategy
		}

		g.types = append(g.types, piiTypeEntry{name: name, rule: r, re: re, strategy: strategy})
	}

	return g
}

// Name 返回护栏名称
func (g *PIIGuard) Name() string {
	return "pii_guard"
}

// Evaluate 执行 PII 检测
// 实现 Guard 接口。汇总动作为 block 时不做脱敏直接拒绝（原文由调用方
// 丢弃）；为 redact 时返回完整脱敏后的文本；为 log 时放行并携带审计记录。
func (g *PIIGuard) Evaluate(ctx context.Context, text string) (*Result, error) {
	if !g.enabled || text == "" {
		return allowResult(), nil
	}

	matches := g.Detect(text)
	if len(matches) == 0 {
		return allowResult(), nil
	}

	aggregate := ActionAllow
	byType := make(map[string]int)
	for _, m := range matches {
		aggregate = WorstAction(aggregate, g.actionFor(m.Type))
		byType[m.Type]++
	}

	types := make([]string, 0, len(byType))
	for t := range byType {
		types = append(types, t)
	}
	sort.Strings(types)
	summary := fmt.Sprintf("detected PII: %s (%d instance(s))", strings.Join(types, ", "), len(matches))

	switch aggregate {
	case ActionBlock:
		return &Result{
			Verdict:    VerdictBlock,
			Stage:      g.Name(),
			Category:   CategoryPII,
			Message:    summary,
			Confidence: 1.0,
			Detections: matches,
		}, nil
	case ActionRedact:
		return &Result{
			Verdict:    VerdictRedact,
			Stage:      g.Name(),
			Category:   CategoryPII,
			Message:    summary,
			Confidence: 1.0,
			Text:       g.applyMasking(text, matches),
			Detections: matches,
		}, nil
	case ActionLog:
		result := allowResult()
		result.Detections = matches
		return result, nil
	default:
		return allowResult(), nil
	}
}

// Detect 检测文本中的所有 PII 命中，带起止偏移
func (g *PIIGuard) Detect(text string) []Detection {
	var matches []Detection

	for _, entry := range g.types {
		if !entry.rule.Enabled {
			continue
		}
		for _, loc := range entry.re.FindAllStringIndex(text, -1) {
			value := text[loc[0]:loc[1]]
			if entry.name == PIITypeCreditCard && g.luhnCheck && !luhnValid(value) {
				continue
			}
			matches = append(matches, Detection{
				Type:        entry.name,
				MatchedText: value,
				Masked:      g.maskValue(entry, value),
				Start:       loc[0],
				End:         loc[1],
				Severity:    entry.rule.Severity,
			})
		}
	}

	return matches
}

// actionFor 返回类型的配置动作
func (g *PIIGuard) actionFor(typeName string) Action {
	for _, entry := range g.types {
		if entry.name == typeName {
			return entry.rule.Action
		}
	}
	return g.defaultAction
}

// applyMasking 按配置策略替换所有命中
// 按起始偏移降序处理（最右命中先替换），拼接不会移动尚未处理命中的
// 偏移。重叠命中只应用最右侧一个，避免二次拼接破坏文本。
func (g *PIIGuard) applyMasking(text string, matches []Detection) string {
	sorted := make([]Detection, len(matches))
	copy(sorted, matches)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Start > sorted[j].Start
	})

	appliedStart := len(text) + 1
	for _, m := range sorted {
		if m.End > appliedStart {
			continue
		}
		text = text[:m.Start] + m.Masked + text[m.End:]
		appliedStart = m.Start
	}

	return text
}

// maskValue 按类型策略生成替换串
func (g *PIIGuard) maskValue(entry piiTypeEntry, value string) string {
	switch entry.strategy {
	case MaskPartial:
		return maskPartial(entry.name, value)
	case MaskHash:
		return g.maskHash(entry.name, value)
	default:
		return "[REDACTED_" + entry.name + "]"
	}
}

// maskPartial 保留末 4 位的部分脱敏
// SSN: ***-**-6789；信用卡: ****-****-****-1111；邮箱保留域名；
// 其余类型保留末 4 字符。
func maskPartial(typeName, value string) string {
	switch typeName {
	case PIITypeEmail:
		if at := strings.Index(value, "@"); at > 0 {
			return strings.Repeat("*", at) + value[at:]
		}
	case PIITypeSSN:
		if digits := digitsOnly(value); len(digits) >= 4 {
			return "***-**-" + digits[len(digits)-4:]
		}
	case PIITypeCreditCard:
		if digits := digitsOnly(value); len(digits) >= 4 {
			return "****-****-****-" + digits[len(digits)-4:]
		}
	}
	if len(value) > 4 {
		return strings.Repeat("*", len(value)-4) + value[len(value)-4:]
	}
	return strings.Repeat("*", len(value))
}

// maskHash 确定性摘要脱敏: [SSN:a1b2c3d4]
func (g *PIIGuard) maskHash(typeName, value string) string {
	h := sha256.New()
	h.Write(g.salt)
	h.Write([]byte(value))
	digest := hex.EncodeToString(h.Sum(nil))
	return "[" + typeName + ":" + digest[:8] + "]"
}

// digitsOnly 剔除非数字字符
func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// luhnValid 对候选卡号做 Luhn 校验
// 宽松的数字序列模式会误报任意 16 位数字，校验和把误报率压下来。
func luhnValid(value string) bool {
	digits := digitsOnly(value)
	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
