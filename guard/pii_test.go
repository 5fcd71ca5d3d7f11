package guard

import (
	"context"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIIGuard_Detect(t *testing.T) {
	g := NewPIIGuard(nil)

	t.Run("ssn with dashes", func(t *testing.T) {
		matches := g.Detect("my ssn is 123-45-6789 thanks")
		require.Len(t, matches, 1)
		assert.Equal(t, PIITypeSSN, matches[0].Type)
		assert.Equal(t, "123-45-6789", matches[0].MatchedText)
		assert.Equal(t, SeverityCritical, matches[0].Severity)
		assert.Equal(t, 10, matches[0].Start)
		assert.Equal(t, 21, matches[0].End)
	})

	t.Run("email", func(t *testing.T) {
		matches := g.Detect("reach me at john.doe+test@example.co.uk please")
		require.Len(t, matches, 1)
		assert.Equal(t, PIITypeEmail, matches[0].Type)
		assert.Equal(t, "john.doe+test@example.co.uk", matches[0].MatchedText)
	})

	t.Run("ip address", func(t *testing.T) {
		matches := g.Detect("server at 192.168.1.100 is down")
		require.Len(t, matches, 1)
		assert.Equal(t, PIITypeIPAddress, matches[0].Type)
	})

	t.Run("date of birth", func(t *testing.T) {
		matches := g.Detect("born on 01/15/1990 in Ohio")
		require.Len(t, matches, 1)
		assert.Equal(t, PIITypeDOB, matches[0].Type)
	})

	t.Run("clean text no matches", func(t *testing.T) {
		matches := g.Detect("the quick brown fox jumps over the lazy dog")
		assert.Empty(t, matches)
	})
}

func TestPIIGuard_LuhnCheck(t *testing.T) {
	ctx := context.Background()

	t.Run("valid card number detected", func(t *testing.T) {
		g := NewPIIGuard(nil)
		matches := g.Detect("card 4111 1111 1111 1111 on file")
		require.Len(t, matches, 1)
		assert.Equal(t, PIITypeCreditCard, matches[0].Type)
	})

	t.Run("invalid checksum filtered out", func(t *testing.T) {
		g := NewPIIGuard(nil)
		// 16 位数字序列但 Luhn 校验失败,是订单号而非卡号
		res, err := g.Evaluate(ctx, "order number 1234 5678 9012 3456 shipped")
		require.NoError(t, err)
		assert.Equal(t, VerdictAllow, res.Verdict)
	})

	t.Run("luhn check disabled keeps wide matches", func(t *testing.T) {
		cfg := DefaultPIIConfig()
		cfg.LuhnCheck = false
		g := NewPIIGuard(cfg)
		matches := g.Detect("order number 1234 5678 9012 3456 shipped")
		require.Len(t, matches, 1)
		assert.Equal(t, PIITypeCreditCard, matches[0].Type)
	})
}

func TestPIIGuard_Evaluate(t *testing.T) {
	ctx := context.Background()

	t.Run("ssn blocks by default", func(t *testing.T) {
		g := NewPIIGuard(nil)
		res, err := g.Evaluate(ctx, "my ssn is 123-45-6789")
		require.NoError(t, err)
		assert.Equal(t, VerdictBlock, res.Verdict)
		assert.Equal(t, "pii_guard", res.Stage)
		assert.Equal(t, CategoryPII, res.Category)
		assert.Contains(t, res.Message, "SSN")
		// 拒绝消息绝不能携带原始值
		assert.NotContains(t, res.Message, "123-45-6789")
	})

	t.Run("email redacts by default", func(t *testing.T) {
		g := NewPIIGuard(nil)
		res, err := g.Evaluate(ctx, "contact me at jane@example.com for details")
		require.NoError(t, err)
		assert.Equal(t, VerdictRedact, res.Verdict)
		assert.Equal(t, "contact me at [REDACTED_EMAIL] for details", res.Text)
		assert.True(t, res.Allowed())
	})

	t.Run("worst wins aggregation blocks mixed input", func(t *testing.T) {
		g := NewPIIGuard(nil)
		// email 单独是 redact,SSN 把汇总动作升级为 block
		res, err := g.Evaluate(ctx, "jane@example.com and ssn 123-45-6789")
		require.NoError(t, err)
		assert.Equal(t, VerdictBlock, res.Verdict)
	})

	t.Run("ip address logs and allows", func(t *testing.T) {
		g := NewPIIGuard(nil)
		res, err := g.Evaluate(ctx, "ping 10.0.0.1 from the bastion")
		require.NoError(t, err)
		assert.Equal(t, VerdictAllow, res.Verdict)
		require.Len(t, res.Detections, 1)
		assert.Equal(t, PIITypeIPAddress, res.Detections[0].Type)
	})

	t.Run("multiple matches all masked", func(t *testing.T) {
		g := NewPIIGuard(nil)
		res, err := g.Evaluate(ctx, "cc a@x.org, then b@y.org, done")
		require.NoError(t, err)
		assert.Equal(t, VerdictRedact, res.Verdict)
		assert.Equal(t, "cc [REDACTED_EMAIL], then [REDACTED_EMAIL], done", res.Text)
	})

	t.Run("disabled guard allows everything", func(t *testing.T) {
		cfg := DefaultPIIConfig()
		cfg.Enabled = false
		g := NewPIIGuard(cfg)
		res, err := g.Evaluate(ctx, "ssn 123-45-6789")
		require.NoError(t, err)
		assert.Equal(t, VerdictAllow, res.Verdict)
	})

	t.Run("disabled type ignored", func(t *testing.T) {
		cfg := DefaultPIIConfig()
		cfg.Types[PIITypeEmail].Enabled = false
		g := NewPIIGuard(cfg)
		res, err := g.Evaluate(ctx, "contact jane@example.com")
		require.NoError(t, err)
		assert.Equal(t, VerdictAllow, res.Verdict)
	})

	t.Run("custom pattern overrides builtin", func(t *testing.T) {
		cfg := DefaultPIIConfig()
		cfg.Types["EMPLOYEE_ID"] = &PIITypeRule{
			Enabled:  true,
			Severity: SeverityMedium,
			Action:   ActionRedact,
			Pattern:  `\bEMP-\d{6}\b`,
		}
		g := NewPIIGuard(cfg)
		res, err := g.Evaluate(ctx, "badge EMP-004211 checked in")
		require.NoError(t, err)
		assert.Equal(t, VerdictRedact, res.Verdict)
		assert.Equal(t, "badge [REDACTED_EMPLOYEE_ID] checked in", res.Text)
	})
}

func TestPIIGuard_MaskStrategies(t *testing.T) {
	ctx := context.Background()

	redactAll := func(strategy MaskStrategy) *PIIConfig {
		cfg := DefaultPIIConfig()
		cfg.MaskStrategy = strategy
		for _, rule := range cfg.Types {
			rule.Action = ActionRedact
			rule.MaskStrategy = strategy
		}
		return cfg
	}

	t.Run("partial keeps last four ssn digits", func(t *testing.T) {
		g := NewPIIGuard(redactAll(MaskPartial))
		res, err := g.Evaluate(ctx, "ssn 123-45-6789 end")
		require.NoError(t, err)
		assert.Equal(t, "ssn ***-**-6789 end", res.Text)
	})

	t.Run("partial keeps last four card digits", func(t *testing.T) {
		g := NewPIIGuard(redactAll(MaskPartial))
		res, err := g.Evaluate(ctx, "card 4111-1111-1111-1111 end")
		require.NoError(t, err)
		assert.Equal(t, "card ****-****-****-1111 end", res.Text)
	})

	t.Run("partial keeps email domain", func(t *testing.T) {
		g := NewPIIGuard(redactAll(MaskPartial))
		res, err := g.Evaluate(ctx, "mail jane@example.com end")
		require.NoError(t, err)
		assert.Equal(t, "mail ****@example.com end", res.Text)
	})

	t.Run("hash is deterministic with fixed salt", func(t *testing.T) {
		cfg := redactAll(MaskHash)
		cfg.HashSalt = "unit-test-salt"
		g1 := NewPIIGuard(cfg)
		g2 := NewPIIGuard(cfg)

		res1, err := g1.Evaluate(ctx, "mail jane@example.com end")
		require.NoError(t, err)
		res2, err := g2.Evaluate(ctx, "mail jane@example.com end")
		require.NoError(t, err)

		assert.Equal(t, res1.Text, res2.Text)
		assert.Regexp(t, regexp.MustCompile(`\[EMAIL:[0-9a-f]{8}\]`), res1.Text)
	})

	t.Run("hash differs per value", func(t *testing.T) {
		cfg := redactAll(MaskHash)
		cfg.HashSalt = "unit-test-salt"
		g := NewPIIGuard(cfg)

		res, err := g.Evaluate(ctx, "a@x.org b@y.org")
		require.NoError(t, err)
		parts := strings.Fields(res.Text)
		require.Len(t, parts, 2)
		assert.NotEqual(t, parts[0], parts[1])
	})
}

func TestLuhnValid(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"4111111111111111", true},
		{"4111 1111 1111 1111", true},
		{"5500-0000-0000-0004", true},
		{"1234567890123456", false},
		{"4111111111111112", false},
		{"123", false},
		{"41111111111111111111", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, luhnValid(tt.value))
		})
	}
}
