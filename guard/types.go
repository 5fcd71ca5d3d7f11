package guard

import (
	"context"
	"fmt"
)

// Verdict 护栏判定结果类型
type Verdict string

const (
	// VerdictAllow 放行，文本原样传递
	VerdictAllow Verdict = "allow"
	// VerdictBlock 拒绝，链路立即终止
	VerdictBlock Verdict = "block"
	// VerdictRedact 脱敏后放行，后续阶段使用脱敏文本
	VerdictRedact Verdict = "redact"
)

// Action 规则命中后的处理动作
type Action string

const (
	// ActionAllow 放行，不记录
	ActionAllow Action = "allow"
	// ActionLog 放行，仅记录审计事件
	ActionLog Action = "log"
	// ActionRedact 脱敏后放行
	ActionRedact Action = "redact"
	// ActionBlock 拒绝请求
	ActionBlock Action = "block"
)

// actionRank 动作严格程度排序（worst-wins 冲突消解用）
var actionRank = map[Action]int{
	ActionAllow:  0,
	ActionLog:    1,
	ActionRedact: 2,
	ActionBlock:  3,
}

// CompareAction 比较两个动作的严格程度
// 返回: >0 如果 a 比 b 严格, <0 如果更宽松, 0 相等
func CompareAction(a, b Action) int {
	return actionRank[a] - actionRank[b]
}

// WorstAction 返回多个动作中最严格的一个（block > redact > log > allow）
func WorstAction(actions ...Action) Action {
	worst := ActionAllow
	for _, a := range actions {
		if CompareAction(a, worst) > 0 {
			worst = a
		}
	}
	return worst
}

// ValidAction 检查动作是否为已知值
func ValidAction(a Action) bool {
	_, ok := actionRank[a]
	return ok
}

// Severity 威胁严重级别
type Severity string

const (
	// SeverityLow 仅记录
	SeverityLow Severity = "low"
	// SeverityMedium 按配置拦截或记录
	SeverityMedium Severity = "medium"
	// SeverityHigh 拦截并记录事件
	SeverityHigh Severity = "high"
	// SeverityCritical 立即拦截
	SeverityCritical Severity = "critical"
)

// severityRank 严重级别排序
var severityRank = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// CompareSeverity 比较两个严重级别
// 返回: >0 如果 a > b, <0 如果 a < b, 0 相等
func CompareSeverity(a, b Severity) int {
	return severityRank[a] - severityRank[b]
}

// ValidSeverity 检查严重级别是否为已知值
func ValidSeverity(s Severity) bool {
	_, ok := severityRank[s]
	return ok
}

// Detection 单条检测记录
// MatchedText 仅在评估过程内部使用，审计输出只允许携带 Masked。
type Detection struct {
	Type        string   `json:"type"`
	MatchedText string   `json:"-"`
	Masked      string   `json:"masked,omitempty"`
	Start       int      `json:"start"`
	End         int      `json:"end"`
	Severity    Severity `json:"severity"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// Result 护栏判定结果
// 一旦产生不再修改；Detections 为 log 级命中，供审计使用，不影响判定。
type Result struct {
	Verdict    Verdict     `json:"verdict"`
	Stage      string      `json:"stage,omitempty"`
	Category   string      `json:"category,omitempty"`
	Message    string      `json:"message,omitempty"`
	Confidence float64     `json:"confidence,omitempty"`
	Text       string      `json:"-"`
	Detections []Detection `json:"detections,omitempty"`
}

// Allowed 判定是否放行（allow 或 redact 均视为放行）
func (r *Result) Allowed() bool {
	return r.Verdict != VerdictBlock
}

// allowResult 构造一个放行结果
func allowResult() *Result {
	return &Result{Verdict: VerdictAllow}
}

// Guard 护栏接口
// Evaluate 必须是输入文本与配置的纯函数：无网络调用、无随机采样、
// 不持有跨请求状态，可被并发调用。
type Guard interface {
	// Evaluate 评估文本，返回判定结果
	Evaluate(ctx context.Context, text string) (*Result, error)
	// Name 返回护栏名称（用于日志与指标标签）
	Name() string
}

// CategoryRule 可检测类别规则
// Order 用于同严重级别命中时的决胜（配置文档顺序，loader 填充）。
type CategoryRule struct {
	Enabled  bool     `yaml:"enabled" json:"enabled"`
	Severity Severity `yaml:"severity" json:"severity"`
	Action   Action   `yaml:"action" json:"action"`
	Keywords []string `yaml:"keywords" json:"keywords"`
	Order    int      `yaml:"order" json:"order"`
}

// BlockedError 表示请求被护栏拒绝
// 这是设计内的拒绝路径而非系统错误，携带的信息足够边界层
// 构造结构化的拒绝响应。
type BlockedError struct {
	Stage    string
	Category string
	Message  string
}

// Error 实现 error 接口
func (e *BlockedError) Error() string {
	return fmt.Sprintf("request blocked by %s: %s (%s)", e.Stage, e.Category, e.Message)
}

// FaultError 表示护栏内部评估故障
// 按 fail-closed 语义处理：该阶段判定为 block，故障细节进入审计日志。
type FaultError struct {
	Stage string
	Err   error
}

// Error 实现 error 接口
func (e *FaultError) Error() string {
	return fmt.Sprintf("guard %s evaluation fault: %v", e.Stage, e.Err)
}

// Unwrap 返回底层错误
func (e *FaultError) Unwrap() error {
	return e.Err
}

// 类别标识常量
const (
	// CategoryPromptInjection 提示注入/越狱
	CategoryPromptInjection = "prompt_injection"
	// CategoryPII 个人敏感信息
	CategoryPII = "pii"
	// CategoryDetectionFault 护栏内部故障（fail-closed 拦截）
	CategoryDetectionFault = "detection_fault"
)
