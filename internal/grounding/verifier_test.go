package grounding_test

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/grounding"
	"github.com/finmetrics/grounding/internal/model"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func at(s string) *grounding.Date {
	date := grounding.MustDate(s)
	return &date
}

func series(id string, freq model.Frequency, pts ...any) grounding.Series {
	s := grounding.Series{ID: id, Frequency: freq}
	for i := 0; i < len(pts); i += 2 {
		s.Points = append(s.Points, grounding.Point{
			Date:  grounding.MustDate(pts[i].(string)),
			Value: d(pts[i+1].(string)),
		})
	}
	return s
}

func newVerifier() *grounding.Verifier {
	return grounding.NewVerifier(grounding.DefaultSnapDays, grounding.DefaultPctTolerance)
}

// TestVerify_YoYSinglePoint is the no-interpolation guarantee.
//
// WHY: with only one observation there is nothing a year back; the verifier
// must reject and say which date it checked rather than invent a comparison.
func TestVerify_YoYSinglePoint(t *testing.T) {
	ctx := grounding.Context{Series: []grounding.Series{
		series("CPI", model.FrequencyMonthly, "2024-01-01", "310.3"),
	}}
	claims := []grounding.Claim{{ID: "c1", Metric: "CPI", Operator: grounding.OpYoY, Value: d("3.2"), At: at("2024-01-01")}}

	report := newVerifier().Verify(claims, ctx)

	require.Len(t, report.Results, 1)
	r := report.Results[0]
	assert.False(t, report.AllVerified)
	assert.False(t, r.Verified)
	assert.Equal(t, "insufficient_data_for_yoy", r.Reason)
	assert.Equal(t, "2023-01-01", r.Evidence["checked_date"])
	assert.Nil(t, r.Observed)
}

func TestVerify_YoY(t *testing.T) {
	ctx := grounding.Context{Series: []grounding.Series{
		series("CPI", model.FrequencyMonthly,
			"2023-01-01", "300",
			"2023-12-01", "306",
			"2024-01-01", "309.6"),
	}}

	t.Run("verifies within tolerance", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "c1", Metric: "CPI", Operator: grounding.OpYoY, Value: d("3.2"), At: at("2024-01-01")}}
		report := newVerifier().Verify(claims, ctx)

		r := report.Results[0]
		assert.True(t, r.Verified)
		assert.True(t, report.AllVerified)
		require.NotNil(t, r.Observed)
		assert.True(t, r.Observed.Equal(d("3.2")), "observed %s", r.Observed)
		assert.Equal(t, "2023-01-01", r.Evidence["prev_date"])
	})

	t.Run("rejects outside tolerance", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "c2", Metric: "CPI", Operator: grounding.OpYoY, Value: d("3.3"), At: at("2024-01-01")}}
		r := newVerifier().Verify(claims, ctx).Results[0]
		assert.False(t, r.Verified)
		assert.Equal(t, grounding.ReasonValueMismatch, r.Reason)
	})

	t.Run("snaps within window", func(t *testing.T) {
		snapped := grounding.Context{Series: []grounding.Series{
			series("REV", model.FrequencyQuarterly, "2023-03-28", "100", "2024-03-31", "110"),
		}}
		claims := []grounding.Claim{{ID: "c3", Metric: "REV", Operator: grounding.OpYoY, Value: d("10"), At: at("2024-03-31")}}
		r := newVerifier().Verify(claims, snapped).Results[0]
		assert.True(t, r.Verified)
		assert.Equal(t, "2023-03-31", r.Evidence["checked_date"])
		assert.Equal(t, "2023-03-28", r.Evidence["prev_date"])
	})

	t.Run("does not snap beyond window", func(t *testing.T) {
		far := grounding.Context{Series: []grounding.Series{
			series("REV", model.FrequencyQuarterly, "2023-03-01", "100", "2024-03-31", "110"),
		}}
		claims := []grounding.Claim{{ID: "c4", Metric: "REV", Operator: grounding.OpYoY, Value: d("10"), At: at("2024-03-31")}}
		r := newVerifier().Verify(claims, far).Results[0]
		assert.Equal(t, "insufficient_data_for_yoy", r.Reason)
	})

	t.Run("rejects daily series", func(t *testing.T) {
		daily := grounding.Context{Series: []grounding.Series{series("PX", model.FrequencyDaily, "2024-01-02", "10")}}
		claims := []grounding.Claim{{ID: "c5", Metric: "PX", Operator: grounding.OpYoY, Value: d("1")}}
		r := newVerifier().Verify(claims, daily).Results[0]
		assert.Equal(t, grounding.ReasonInvalidFrequencyForYoY, r.Reason)
	})
}

func TestVerify_QoQ(t *testing.T) {
	quarterly := grounding.Context{Series: []grounding.Series{
		series("REV", model.FrequencyQuarterly, "2024-06-30", "100", "2024-09-30", "105"),
	}}

	t.Run("one quarter back", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "q1", Metric: "REV", Operator: grounding.OpQoQ, Value: d("5")}}
		r := newVerifier().Verify(claims, quarterly).Results[0]
		assert.True(t, r.Verified)
		assert.Equal(t, "2024-06-30", r.Evidence["checked_date"])
	})

	t.Run("missing prior quarter", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "q2", Metric: "REV", Operator: grounding.OpQoQ, Value: d("5"), At: at("2024-06-30")}}
		r := newVerifier().Verify(claims, quarterly).Results[0]
		assert.Equal(t, "insufficient_data_for_qoq", r.Reason)
		assert.Equal(t, "2024-03-30", r.Evidence["checked_date"])
	})

	t.Run("requires quarterly frequency", func(t *testing.T) {
		monthly := grounding.Context{Series: []grounding.Series{
			series("CPI", model.FrequencyMonthly, "2024-01-01", "1", "2024-04-01", "2"),
		}}
		claims := []grounding.Claim{{ID: "q3", Metric: "CPI", Operator: grounding.OpQoQ, Value: d("100")}}
		r := newVerifier().Verify(claims, monthly).Results[0]
		assert.Equal(t, grounding.ReasonInvalidFrequencyForQoQ, r.Reason)
	})

	t.Run("zero base is undefined", func(t *testing.T) {
		zero := grounding.Context{Series: []grounding.Series{
			series("X", model.FrequencyQuarterly, "2024-06-30", "0", "2024-09-30", "5"),
		}}
		claims := []grounding.Claim{{ID: "q4", Metric: "X", Operator: grounding.OpQoQ, Value: d("5")}}
		r := newVerifier().Verify(claims, zero).Results[0]
		assert.Equal(t, grounding.ReasonDivisionUndefined, r.Reason)
	})
}

func TestVerify_Comparisons(t *testing.T) {
	ctx := grounding.Context{Series: []grounding.Series{
		series("UNRATE", model.FrequencyMonthly, "2024-01-01", "3.7", "2024-02-01", "3.9", "2024-03-01", "3.8"),
	}}
	tol := d("0.05")

	tests := []struct {
		name  string
		claim grounding.Claim
		want  bool
	}{
		{"equal exact", grounding.Claim{Operator: grounding.OpEqual, Value: d("3.9"), At: at("2024-02-01")}, true},
		{"equal misses without tolerance", grounding.Claim{Operator: grounding.OpEqual, Value: d("3.85"), At: at("2024-02-01")}, false},
		{"equal within tolerance", grounding.Claim{Operator: grounding.OpEqual, Value: d("3.85"), At: at("2024-02-01"), Tolerance: &tol}, true},
		{"less", grounding.Claim{Operator: grounding.OpLess, Value: d("4"), At: at("2024-02-01")}, true},
		{"less fails", grounding.Claim{Operator: grounding.OpLess, Value: d("3.9"), At: at("2024-02-01")}, false},
		{"less or equal", grounding.Claim{Operator: grounding.OpLessEqual, Value: d("3.9"), At: at("2024-02-01")}, true},
		{"greater", grounding.Claim{Operator: grounding.OpGreater, Value: d("3.5")}, true},
		{"greater or equal", grounding.Claim{Operator: grounding.OpGreaterEqual, Value: d("3.8")}, true},
		{"change", grounding.Claim{Operator: grounding.OpChange, Value: d("0.2"), At: at("2024-02-01")}, true},
		{"change latest", grounding.Claim{Operator: grounding.OpChange, Value: d("-0.1")}, true},
		{"date snaps", grounding.Claim{Operator: grounding.OpEqual, Value: d("3.9"), At: at("2024-02-03")}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.claim.ID = tt.name
			tt.claim.Metric = "UNRATE"
			r := newVerifier().Verify([]grounding.Claim{tt.claim}, ctx).Results[0]
			assert.Equal(t, tt.want, r.Verified, "evidence: %v", r.Evidence)
		})
	}
}

// TestVerify_ChangeWindow tests the look-back window of change claims.
//
// WHY: "up 10 over the last 30 days" is a different claim from "up 9 since
// the previous observation". The base point must come from the window, and a
// window with no earlier point must be rejected with the date that was checked.
func TestVerify_ChangeWindow(t *testing.T) {
	ctx := grounding.Context{Series: []grounding.Series{
		series("SALES", model.FrequencyWeekly, "2024-01-01", "100", "2024-01-08", "101", "2024-01-31", "110"),
	}}

	t.Run("window picks the base point", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "w30", Metric: "SALES", Operator: grounding.OpChange, Value: d("10"), Window: 30}}
		r := newVerifier().Verify(claims, ctx).Results[0]
		require.True(t, r.Verified, "evidence: %v", r.Evidence)
		assert.Equal(t, "2024-01-01", r.Evidence["prev_date"])
		assert.Equal(t, 30, r.Evidence["window_days"])
	})

	t.Run("without a window the preceding point is the base", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "prev", Metric: "SALES", Operator: grounding.OpChange, Value: d("9")}}
		r := newVerifier().Verify(claims, ctx).Results[0]
		assert.True(t, r.Verified, "evidence: %v", r.Evidence)
		assert.Equal(t, "2024-01-08", r.Evidence["prev_date"])
	})

	t.Run("window beyond the series is rejected", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "w90", Metric: "SALES", Operator: grounding.OpChange, Value: d("10"), Window: 90}}
		r := newVerifier().Verify(claims, ctx).Results[0]
		assert.False(t, r.Verified)
		assert.Equal(t, grounding.ReasonNoPriorPeriod, r.Reason)
		assert.Equal(t, "2023-11-02", r.Evidence["checked_date"])
		assert.Nil(t, r.Observed)
	})

	t.Run("window that snaps onto the claimed point is rejected", func(t *testing.T) {
		claims := []grounding.Claim{{ID: "w3", Metric: "SALES", Operator: grounding.OpChange, Value: d("0"), Window: 3}}
		r := newVerifier().Verify(claims, ctx).Results[0]
		assert.False(t, r.Verified)
		assert.Equal(t, grounding.ReasonNoPriorPeriod, r.Reason)
	})
}

func TestVerify_Rejections(t *testing.T) {
	ctx := grounding.Context{Series: []grounding.Series{
		series("A", model.FrequencyMonthly, "2024-01-01", "1"),
		{ID: "EMPTY", Frequency: model.FrequencyMonthly},
	}}

	tests := []struct {
		name   string
		claim  grounding.Claim
		reason string
	}{
		{"unknown series", grounding.Claim{Metric: "B", Operator: grounding.OpEqual, Value: d("1")}, grounding.ReasonSeriesNotFound},
		{"empty series", grounding.Claim{Metric: "EMPTY", Operator: grounding.OpEqual, Value: d("1")}, grounding.ReasonEmptySeries},
		{"date outside window", grounding.Claim{Metric: "A", Operator: grounding.OpEqual, Value: d("1"), At: at("2024-03-01")}, grounding.ReasonPeriodUnavailable},
		{"change needs prior", grounding.Claim{Metric: "A", Operator: grounding.OpChange, Value: d("0")}, grounding.ReasonNoPriorPeriod},
		{"bad operator", grounding.Claim{Metric: "A", Operator: "!=", Value: d("1")}, grounding.ReasonUnsupportedOperator},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newVerifier().Verify([]grounding.Claim{tt.claim}, ctx).Results[0]
			assert.False(t, r.Verified)
			assert.Equal(t, tt.reason, r.Reason)
		})
	}

	t.Run("one failure fails the batch", func(t *testing.T) {
		report := newVerifier().Verify([]grounding.Claim{
			{ID: "ok", Metric: "A", Operator: grounding.OpEqual, Value: d("1")},
			{ID: "bad", Metric: "B", Operator: grounding.OpEqual, Value: d("1")},
		}, ctx)
		assert.False(t, report.AllVerified)
		assert.True(t, report.Results[0].Verified)
	})

	t.Run("empty claim list is not verified", func(t *testing.T) {
		assert.False(t, newVerifier().Verify(nil, ctx).AllVerified)
	})
}

func TestPointJSON(t *testing.T) {
	var s grounding.Series
	err := json.Unmarshal([]byte(`{"id":"CPI","freq":"M","points":[["2024-01-01", 310.3],{"date":"2024-02-01","value":"311.0"}]}`), &s)
	require.NoError(t, err)
	require.Len(t, s.Points, 2)
	assert.Equal(t, "2024-01-01", s.Points[0].Date.String())
	assert.True(t, s.Points[0].Value.Equal(d("310.3")))
	assert.True(t, s.Points[1].Value.Equal(d("311")))

	err = json.Unmarshal([]byte(`{"points":[["2024-01-01"]]}`), &s)
	assert.Error(t, err)
}
