package units_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/units"
)

func TestParseScale(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"ones", 0},
		{"thousands", 3},
		{"K", 3},
		{"millions", 6},
		{"m", 6},
		{"billions", 9},
		{"T", 12},
		{"6", 6},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := units.ParseScale(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	t.Run("rejects unknown labels", func(t *testing.T) {
		_, err := units.ParseScale("lakhs")
		assert.Error(t, err)
		_, err = units.ParseScale("-3")
		assert.Error(t, err)
	})
}

// TestNormalizeRoundTrip guards exactness across scale conversions.
//
// WHY: claims verification compares with exact equality, so normalizing a
// value filed in thousands and re-deriving the raw value must not drift.
func TestNormalizeRoundTrip(t *testing.T) {
	raws := []string{"1", "123456.789", "0.1", "-42.005", "98765432109876.54321"}
	for _, s := range raws {
		raw := decimal.RequireFromString(s)
		for _, scale := range []int{0, 3, 6, 9, 12} {
			canonical := units.Normalize(raw, scale)
			back := units.Denormalize(canonical, scale)
			if !back.Equal(raw) {
				t.Errorf("Expected %s after round trip at scale %d, got %s", raw, scale, back)
			}
		}
	}

	t.Run("thousands multiply exactly", func(t *testing.T) {
		got := units.Normalize(decimal.RequireFromString("0.1"), 3)
		assert.True(t, got.Equal(decimal.NewFromInt(100)), "got %s", got)
	})

	t.Run("repeated conversion does not drift", func(t *testing.T) {
		v := decimal.RequireFromString("0.3")
		for i := 0; i < 50; i++ {
			v = units.Denormalize(units.Normalize(v, 6), 6)
		}
		assert.True(t, v.Equal(decimal.RequireFromString("0.3")))
	})
}

func TestClassify(t *testing.T) {
	tests := []struct {
		unit string
		want units.Kind
	}{
		{"USD", units.KindMonetary},
		{"eur", units.KindMonetary},
		{"shares", units.KindShares},
		{"USD/shares", units.KindPerShare},
		{"EUR-per-share", units.KindPerShare},
		{"pure", units.KindPure},
		{"%", units.KindPure},
		{"USD/EUR", units.KindPure},
		{"XYZ", units.KindUnknown},
		{"tonnes", units.KindUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			assert.Equal(t, tt.want, units.Classify(tt.unit))
		})
	}
}

func TestCurrencyOf(t *testing.T) {
	assert.Equal(t, "USD", units.CurrencyOf("usd"))
	assert.Equal(t, "EUR", units.CurrencyOf("EUR/shares"))
	assert.Equal(t, "", units.CurrencyOf("shares"))
}

func TestRequireMonetary(t *testing.T) {
	assert.NoError(t, units.RequireMonetary("GBP"))

	err := units.RequireMonetary("shares")
	require.ErrorIs(t, err, apperrors.ErrUnitIncompatible)
	assert.Equal(t, "shares", apperrors.EvidenceOf(err)["unit_kind"])
}
