package domain

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/shopspring/decimal"
	compliancedomain "github.com/smallbiznis/pitboss/internal/compliance/domain"
	"github.com/stretchr/testify/assert"
)

func ctrConfig(fraction string) Config {
	return Config{CrossedAmount: 10_000_00, ApproachingFraction: decimal.RequireFromString(fraction)}
}

func TestEvaluate(t *testing.T) {
	cfg := ctrConfig("0.3")

	tests := []struct {
		total int64
		want  State
	}{
		{0, StateNone},
		{2_999_99, StateNone},
		{3_000_00, StateApproaching},
		{10_000_00, StateApproaching},
		{10_000_01, StateCrossed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Evaluate(tt.total, cfg), "total %d", tt.total)
	}
}

func TestEvaluate_ZeroFractionDoesNotFlagEmptyTotals(t *testing.T) {
	cfg := ctrConfig("0")
	assert.Equal(t, StateNone, Evaluate(0, cfg))
	assert.Equal(t, StateApproaching, Evaluate(1, cfg))
}

func TestEvaluateTotals_NoNetting(t *testing.T) {
	cfg := ctrConfig("0.9")
	got := EvaluateTotals(compliancedomain.Totals{In: 6_000_00, Out: 6_000_00}, cfg)
	assert.Equal(t, StateNone, got.In)
	assert.Equal(t, StateNone, got.Out)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, ctrConfig("0.9").Validate())
	assert.ErrorIs(t, Config{ApproachingFraction: decimal.NewFromFloat(0.5)}.Validate(), ErrInvalidCrossedAmount)
	assert.ErrorIs(t, ctrConfig("1.5").Validate(), ErrInvalidApproachingFraction)
	assert.ErrorIs(t, ctrConfig("-0.1").Validate(), ErrInvalidApproachingFraction)
}

func TestMax(t *testing.T) {
	assert.Equal(t, StateCrossed, Max(StateCrossed, StateNone))
	assert.Equal(t, StateApproaching, Max(StateNone, StateApproaching))
	assert.Equal(t, StateNone, Max("", StateNone))
}

func TestProperty_EvaluateIsMonotonicInTotal(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	cfg := ctrConfig("0.75")

	properties.Property("a larger total never yields a lower state", prop.ForAll(
		func(a, b int64) bool {
			if a > b {
				a, b = b, a
			}
			return Evaluate(a, cfg).Level() <= Evaluate(b, cfg).Level()
		},
		gen.Int64Range(0, 50_000_00),
		gen.Int64Range(0, 50_000_00),
	))

	properties.TestingRun(t)
}
