package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/expr"
)

func TestParse(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{"revenue - costOfRevenue", "(revenue - costOfRevenue)"},
		{"(revenue - costOfRevenue) / revenue", "((revenue - costOfRevenue) / revenue)"},
		{"a + b * c", "(a + (b * c))"},
		{"a - b - c", "((a - b) - c)"},
		{"-netIncome / revenue", "(-netIncome / revenue)"},
		{"operatingIncome * 1.5", "(operatingIncome * 1.5)"},
		{"ttm(revenue) / 4", "(ttm(revenue) / 4)"},
		{"  revenue  ", "revenue"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			n, err := expr.Parse(tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.want, n.String())
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"empty", "   "},
		{"dangling operator", "revenue -"},
		{"unbalanced paren", "(revenue - costOfRevenue"},
		{"extra paren", "revenue)"},
		{"unknown function", "sqrt(revenue)"},
		{"bad character", "revenue % 2"},
		{"bad number", "1.2.3"},
		{"adjacent identifiers", "revenue netIncome"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := expr.Parse(tt.src)
			require.ErrorIs(t, err, apperrors.ErrInvalidExpression)
		})
	}

	t.Run("reports offset", func(t *testing.T) {
		_, err := expr.Parse("revenue $ cost")
		require.Error(t, err)
		assert.Equal(t, 8, apperrors.EvidenceOf(err)["offset"])
	})
}

func TestIdentifiers(t *testing.T) {
	n, err := expr.Parse("(revenue - costOfRevenue) / revenue + ttm(capex)")
	require.NoError(t, err)
	assert.Equal(t, []string{"revenue", "costOfRevenue", "capex"}, expr.Identifiers(n))
}

func TestValidate(t *testing.T) {
	known := map[string]bool{"revenue": true, "costOfRevenue": true}
	isKnown := func(name string) bool { return known[name] }

	n, err := expr.Parse("revenue - costOfRevenue")
	require.NoError(t, err)
	assert.NoError(t, expr.Validate(n, isKnown))

	n, err = expr.Parse("revenue - cogs + ebit")
	require.NoError(t, err)
	err = expr.Validate(n, isKnown)
	require.ErrorIs(t, err, apperrors.ErrInvalidExpression)
	assert.Equal(t, []string{"cogs", "ebit"}, apperrors.EvidenceOf(err)["unknown_identifiers"])
}
