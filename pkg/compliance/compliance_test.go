package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bosworks/bos/core/pkg/tenancy"
)

func paymentInput(amount int) Input {
	return Input{
		CommandType: "cash.payment.record.request",
		TenantID:    "t1",
		BranchID:    "b1",
		ActorID:     "u-1",
		ActorKind:   tenancy.ActorHuman,
		Payload:     map[string]any{"amount": amount, "method": "CASH"},
	}
}

func TestCELProviderCompliantRulePasses(t *testing.T) {
	p, err := NewCELProvider()
	require.NoError(t, err)
	require.NoError(t, p.AddRule(Rule{
		Name:       "cash-payment-ceiling",
		Version:    "1.0.0",
		AppliesTo:  "cash.payment.",
		Expression: `int(input.payload.amount) <= 1000000`,
		Message:    "cash payments above the ceiling need a bank transfer",
	}))

	ev, err := p.Evaluate(paymentInput(15000))
	require.NoError(t, err)
	assert.True(t, ev.Allowed)
	assert.Empty(t, ev.Violations)
}

func TestCELProviderViolation(t *testing.T) {
	p, err := NewCELProvider()
	require.NoError(t, err)
	require.NoError(t, p.AddRule(Rule{
		Name:       "cash-payment-ceiling",
		Version:    "1.0.0",
		AppliesTo:  "cash.payment.",
		Expression: `int(input.payload.amount) <= 1000000`,
		Message:    "cash payments above the ceiling need a bank transfer",
	}))

	ev, err := p.Evaluate(paymentInput(2000000))
	require.NoError(t, err)
	assert.False(t, ev.Allowed)
	require.Len(t, ev.Violations, 1)
	assert.Equal(t, "cash-payment-ceiling", ev.Violations[0].RuleName)
	assert.Contains(t, ev.Violations[0].Message, "ceiling")
}

func TestCELProviderAppliesToFilters(t *testing.T) {
	p, err := NewCELProvider()
	require.NoError(t, err)
	require.NoError(t, p.AddRule(Rule{
		Name:       "inventory-only",
		Version:    "2.1.0",
		AppliesTo:  "inventory.",
		Expression: `false`,
		Message:    "always violated",
	}))

	ev, err := p.Evaluate(paymentInput(1))
	require.NoError(t, err)
	assert.True(t, ev.Allowed, "rule scoped to another engine does not fire")
}

func TestCELProviderRejectsBadRules(t *testing.T) {
	p, err := NewCELProvider()
	require.NoError(t, err)

	assert.Error(t, p.AddRule(Rule{Name: "", Version: "1.0.0", Expression: "true"}))
	assert.Error(t, p.AddRule(Rule{Name: "r", Version: "not-semver", Expression: "true"}))
	assert.Error(t, p.AddRule(Rule{Name: "r", Version: "1.0.0", Expression: "input..bad"}))
}

func TestCELProviderUsesContextFields(t *testing.T) {
	p, err := NewCELProvider()
	require.NoError(t, err)
	require.NoError(t, p.AddRule(Rule{
		Name:       "no-ai-payments",
		Version:    "1.0.0",
		AppliesTo:  "cash.payment.",
		Expression: `input.actor_kind != "AI"`,
		Message:    "AI actors may not record payments",
	}))

	in := paymentInput(100)
	in.ActorKind = tenancy.ActorAI
	ev, err := p.Evaluate(in)
	require.NoError(t, err)
	assert.False(t, ev.Allowed)
}

func TestMemoryProvider(t *testing.T) {
	p := NewMemoryProvider()
	p.Flag("cash.", Violation{RuleName: "test", Message: "flagged"})

	ev, err := p.Evaluate(paymentInput(1))
	require.NoError(t, err)
	assert.False(t, ev.Allowed)

	ev, err = p.Evaluate(Input{CommandType: "inventory.stock.receive.request"})
	require.NoError(t, err)
	assert.True(t, ev.Allowed)
}
