package service_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/grounding"
	"github.com/finmetrics/grounding/internal/testutil"
)

func claimAt(id, metric string, op grounding.Operator, value, at string) grounding.Claim {
	d := grounding.MustDate(at)
	return grounding.Claim{ID: id, Metric: metric, Operator: op, Value: dec(value), At: &d}
}

// TestClaimsService_Verify tests claims verification over inline series.
//
// WHY: A yoy claim on a series holding only the claimed date must be
// rejected with the date that was checked, never answered.
func TestClaimsService_Verify(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestServices(t, db)

	cpi := request.SeriesSpec{ID: "CPI", Freq: "M", Points: []grounding.Point{
		{Date: grounding.MustDate("2024-01-01"), Value: dec("310.3")},
	}}

	t.Run("yoy without history", func(t *testing.T) {
		report, err := svc.Claims.Verify(ctx, request.VerifyClaimsRequest{
			Context: request.ClaimsContext{Series: []request.SeriesSpec{cpi}},
			Claims:  []grounding.Claim{claimAt("c1", "CPI", grounding.OpYoY, "3.2", "2024-01-01")},
		})
		require.NoError(t, err)
		assert.False(t, report.AllVerified)
		require.Len(t, report.Results, 1)
		assert.False(t, report.Results[0].Verified)
		assert.Equal(t, string(apperrors.KindInsufficientDataForYoY), report.Results[0].Reason)
	})

	t.Run("grounded request rejected as a whole", func(t *testing.T) {
		report, err := svc.Claims.Verify(ctx, request.VerifyClaimsRequest{
			Context: request.ClaimsContext{Series: []request.SeriesSpec{cpi}},
			Claims: []grounding.Claim{
				claimAt("ok", "CPI", grounding.OpGreater, "300", "2024-01-01"),
				claimAt("bad", "CPI", grounding.OpYoY, "3.2", "2024-01-01"),
			},
			Grounded: true,
		})
		ev := requireKind(t, err, apperrors.KindClaimsNotGrounded)
		assert.Equal(t, []string{"bad"}, ev["failed_claims"])
		assert.Len(t, report.Results, 2)
	})
}

// TestClaimsService_StoredSeries tests claims against series loaded from
// the fact store.
func TestClaimsService_StoredSeries(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestServices(t, db)

	issuer := testutil.NewIssuer().Build(t, db)
	testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues", map[string]string{
		"2024-09-30": "80", "2024-12-31": "100",
	})

	report, err := svc.Claims.Verify(ctx, request.VerifyClaimsRequest{
		Context: request.ClaimsContext{Series: []request.SeriesSpec{
			{ID: "rev", Freq: "Q", Issuer: issuer.ID, Concept: "revenue"},
		}},
		Claims: []grounding.Claim{
			claimAt("level", "rev", grounding.OpEqual, "100", "2024-12-31"),
			claimAt("growth", "rev", grounding.OpQoQ, "25", "2024-12-31"),
			claimAt("delta", "rev", grounding.OpChange, "20", "2024-12-31"),
		},
		Grounded: true,
	})
	require.NoError(t, err)
	assert.True(t, report.AllVerified)

	t.Run("missing concept", func(t *testing.T) {
		_, err := svc.Claims.Verify(ctx, request.VerifyClaimsRequest{
			Context: request.ClaimsContext{Series: []request.SeriesSpec{
				{ID: "ni", Issuer: issuer.ID, Concept: "netIncome"},
			}},
			Claims: []grounding.Claim{claimAt("c", "ni", grounding.OpEqual, "1", "2024-12-31")},
		})
		requireKind(t, err, apperrors.KindConceptUnavailable)
	})
}

// TestClaimsService_DefaultFrequency tests the frequency assumed when a
// series omits it.
//
// WHY: Inline series are usually monthly economic data and are treated as
// monthly; stored filing series only exist quarterly or annually, so they
// load the quarterly series.
func TestClaimsService_DefaultFrequency(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestServices(t, db)

	inline := request.SeriesSpec{ID: "CPI", Points: []grounding.Point{
		{Date: grounding.MustDate("2024-03-31"), Value: dec("300")},
		{Date: grounding.MustDate("2024-06-30"), Value: dec("303")},
	}}
	report, err := svc.Claims.Verify(ctx, request.VerifyClaimsRequest{
		Context: request.ClaimsContext{Series: []request.SeriesSpec{inline}},
		Claims:  []grounding.Claim{claimAt("q", "CPI", grounding.OpQoQ, "1", "2024-06-30")},
	})
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.Equal(t, grounding.ReasonInvalidFrequencyForQoQ, report.Results[0].Reason)
	assert.Equal(t, "M", report.Results[0].Evidence["freq"])

	issuer := testutil.NewIssuer().Build(t, db)
	testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues", map[string]string{
		"2024-09-30": "80", "2024-12-31": "100",
	})
	report, err = svc.Claims.Verify(ctx, request.VerifyClaimsRequest{
		Context: request.ClaimsContext{Series: []request.SeriesSpec{
			{ID: "rev", Issuer: issuer.ID, Concept: "revenue"},
		}},
		Claims: []grounding.Claim{claimAt("q", "rev", grounding.OpQoQ, "25", "2024-12-31")},
	})
	require.NoError(t, err)
	assert.True(t, report.AllVerified, "evidence: %v", report.Results[0].Evidence)
}
