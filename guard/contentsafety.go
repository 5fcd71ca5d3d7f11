package guard

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// ContentSafetyConfig 内容安全扫描器配置
// Categories 的 key 为类别名（如 VIOLENCE、PROMPT_INJECTION），
// 规则未显式给出动作时使用 DefaultAction。
type ContentSafetyConfig struct {
	Enabled       bool                     `yaml:"enabled" json:"enabled" env:"ENABLED"`
	DefaultAction Action                   `yaml:"default_action" json:"default_action" env:"DEFAULT_ACTION"`
	Categories    map[string]*CategoryRule `yaml:"categories" json:"categories"`
}

// DefaultContentSafetyConfig 返回默认配置
// 内置类别与 guardrail 设置文档保持一致。
func DefaultContentSafetyConfig() *ContentSafetyConfig {
	return &ContentSafetyConfig{
		Enabled:       true,
		DefaultAction: ActionBlock,
		Categories: map[string]*CategoryRule{
			"VIOLENCE": {
				Enabled:  true,
				Severity: SeverityHigh,
				Action:   ActionBlock,
				Keywords: []string{"kill", "murder", "attack", "assault"},
				Order:    1,
			},
			"SELF_HARM": {
				Enabled:  true,
				Severity: SeverityCritical,
				Action:   ActionBlock,
				Keywords: []string{"hurt myself", "end my life", "self harm"},
				Order:    2,
			},
			"WEAPONS": {
				Enabled:  true,
				Severity: SeverityHigh,
				Action:   ActionBlock,
				Keywords: []string{"build a bomb", "make a weapon", "explosive device"},
				Order:    3,
			},
			"CYBER_CRIME": {
				Enabled:  true,
				Severity: SeverityHigh,
				Action:   ActionBlock,
				Keywords: []string{"steal credentials", "ransomware payload", "ddos attack"},
				Order:    4,
			},
			"PROMPT_INJECTION": {
				Enabled:  true,
				Severity: SeverityHigh,
				Action:   ActionBlock,
				Keywords: []string{"ignore previous instructions", "you are now"},
				Order:    5,
			},
		},
	}
}

// categoryEntry 展开后的类别规则（按 Order 排序，保证决胜确定性）
type categoryEntry struct {
	name string
	rule CategoryRule
}

// categoryMatch 单个类别的命中记录
// 同一类别内的多次/重叠命中只计一次，记录首个命中关键词。
type categoryMatch struct {
	entry   categoryEntry
	keyword string
}

// ContentSafetyGuard 内容安全扫描器
// 对启用类别的关键词做不区分大小写的子串匹配，
// 实现 Guard 接口，不修改请求文本。
type ContentSafetyGuard struct {
	enabled       bool
	defaultAction Action
	categories    []categoryEntry
}

// NewContentSafetyGuard 创建内容安全扫描器
func NewContentSafetyGuard(config *ContentSafetyConfig) *ContentSafetyGuard {
	if config == nil {
		config = DefaultContentSafetyConfig()
	}

	defaultAction := config.DefaultAction
	if defaultAction == "" {
		defaultAction = ActionBlock
	}

	g := &ContentSafetyGuard{
		enabled:       config.Enabled,
		defaultAction: defaultAction,
		categories:    make([]categoryEntry, 0, len(config.Categories)),
	}

	for name, rule := range config.Categories {
		if rule == nil {
			continue
		}
		r := *rule
		if r.Action == "" {
			r.Action = defaultAction
		}
		if r.Severity == "" {
			r.Severity = SeverityMedium
		}
		// 关键词统一小写，匹配时只需小写一次输入
		keywords := make([]string, 0, len(r.Keywords))
		for _, kw := range r.Keywords {
			if kw = strings.TrimSpace(kw); kw != "" {
				keywords = append(keywords, strings.ToLower(kw))
			}
		}
		r.Keywords = keywords
		g.categories = append(g.categories, categoryEntry{name: name, rule: r})
	}

	sort.SliceStable(g.categories, func(i, j int) bool {
		return g.categories[i].rule.Order < g.categories[j].rule.Order
	})

	return g
}

// Name 返回护栏名称
func (g *ContentSafetyGuard) Name() string {
	return "content_safety"
}

// Evaluate 执行内容安全扫描
// 实现 Guard 接口。命中 block 动作类别时返回 block，
// 多类别同时命中取最高严重级别，同级按配置顺序决胜；
// 仅命中 log 动作类别时放行并携带审计记录。
func (g *ContentSafetyGuard) Evaluate(ctx context.Context, text string) (*Result, error) {
	if !g.enabled || text == "" {
		return allowResult(), nil
	}

	lower := strings.ToLower(text)

	var blocked []categoryMatch
	var logged []Detection

	for _, entry := range g.categories {
		if !entry.rule.Enabled {
			continue
		}
		keyword, pos, ok := firstKeyword(lower, entry.rule.Keywords)
		if !ok {
			continue
		}

		switch entry.rule.Action {
		case ActionBlock:
			blocked = append(blocked, categoryMatch{entry: entry, keyword: keyword})
		case ActionLog, ActionRedact:
			// 内容安全不做脱敏，redact 动作降级为记录
			logged = append(logged, Detection{
				Type:     entry.name,
				Masked:   keyword,
				Start:    pos,
				End:      pos + len(keyword),
				Severity: entry.rule.Severity,
			})
		}
	}

	if len(blocked) > 0 {
		winner := blocked[0]
		for _, m := range blocked[1:] {
			if CompareSeverity(m.entry.rule.Severity, winner.entry.rule.Severity) > 0 {
				winner = m
			}
		}
		return &Result{
			Verdict:    VerdictBlock,
			Stage:      g.Name(),
			Category:   winner.entry.name,
			Message:    fmt.Sprintf("content flagged: category %s matched keyword %q", winner.entry.name, winner.keyword),
			Confidence: 1.0,
		}, nil
	}

	result := allowResult()
	result.Detections = logged
	return result, nil
}

// firstKeyword 返回首个命中的关键词及其位置
// keywords 已统一为小写，text 为小写化后的输入。
func firstKeyword(text string, keywords []string) (string, int, bool) {
	for _, kw := range keywords {
		if idx := strings.Index(text, kw); idx >= 0 {
			return kw, idx, true
		}
	}
	return "", 0, false
}
