package service_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/calc"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/testutil"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func period(t *testing.T, s string) model.Period {
	t.Helper()
	p, err := model.ParsePeriod(s)
	require.NoError(t, err)
	return p
}

func requireKind(t *testing.T, err error, kind apperrors.Kind) map[string]any {
	t.Helper()
	require.Error(t, err)
	if got := apperrors.KindOf(err); got != kind {
		t.Fatalf("Expected error kind %s, got %s (%v)", kind, got, err)
	}
	return apperrors.EvidenceOf(err)
}

// TestFactService_Resolve tests fact selection across amendments.
//
// WHY: When a period is restated, the default answer must be the latest
// filing, an as-reported answer must ignore amendments, and a pinned
// accession must be honoured exactly. Any other choice silently changes
// the number a caller is shown.
func TestFactService_Resolve(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestFactService(t, db, false)

	issuer := testutil.NewIssuer().Build(t, db)
	testutil.NewFact(issuer.ID).WithValue("100").Build(t, db)
	testutil.NewFact(issuer.ID).WithValue("105").Amended("0000000001-25-000009", "2025-03-01").Build(t, db)

	q := service.ResolveQuery{IssuerID: issuer.ID, Concept: "revenue", Period: period(t, "2024-Q4")}

	t.Run("latest filing wins by default", func(t *testing.T) {
		got, err := svc.Resolve(ctx, q)
		require.NoError(t, err)
		if !got.Value.Equal(dec("105")) {
			t.Errorf("Expected 105, got %s", got.Value)
		}
		assert.True(t, got.Citation.Amended)
		assert.Equal(t, "0000000001-25-000009", got.Citation.Accession)
		assert.Equal(t, model.CitationSourceFiling, got.Citation.Source)
	})

	t.Run("as reported ignores amendments", func(t *testing.T) {
		q := q
		q.AsReported = true
		got, err := svc.Resolve(ctx, q)
		require.NoError(t, err)
		if !got.Value.Equal(dec("100")) {
			t.Errorf("Expected 100, got %s", got.Value)
		}
		assert.False(t, got.Citation.Amended)
	})

	t.Run("pinned accession", func(t *testing.T) {
		q := q
		q.AccessionPin = "0000000001-25-000001"
		got, err := svc.Resolve(ctx, q)
		require.NoError(t, err)
		assert.True(t, got.Value.Equal(dec("100")))
	})

	t.Run("unknown accession lists the available ones", func(t *testing.T) {
		q := q
		q.AccessionPin = "0000000001-25-999999"
		_, err := svc.Resolve(ctx, q)
		ev := requireKind(t, err, apperrors.KindAccessionNotFound)
		assert.ElementsMatch(t, []string{"0000000001-25-000009", "0000000001-25-000001"}, ev["available_accessions"])
	})

	t.Run("missing period is reported, not filled", func(t *testing.T) {
		q := q
		q.Period = period(t, "2023-Q4")
		_, err := svc.Resolve(ctx, q)
		ev := requireKind(t, err, apperrors.KindPeriodUnavailable)
		assert.Equal(t, []string{"2024-12-31"}, ev["available_periods"])
	})

	t.Run("concept without facts lists stored concepts", func(t *testing.T) {
		q := q
		q.Concept = "netIncome"
		_, err := svc.Resolve(ctx, q)
		ev := requireKind(t, err, apperrors.KindConceptUnavailable)
		assert.Equal(t, []string{"revenue"}, ev["available_concepts"])
	})

	t.Run("unknown issuer", func(t *testing.T) {
		q := q
		q.IssuerID = "NOPE"
		_, err := svc.Resolve(ctx, q)
		requireKind(t, err, apperrors.KindUnsupportedIssuer)
	})

	t.Run("annual frequency is separate", func(t *testing.T) {
		q := q
		q.Frequency = model.FrequencyAnnual
		_, err := svc.Resolve(ctx, q)
		requireKind(t, err, apperrors.KindConceptUnavailable)
	})
}

// TestFactService_ScaleAndUnits tests normalization on resolution.
//
// WHY: Filers report in thousands or millions; every downstream comparison
// assumes base units, and a per-share figure must never feed a monetary slot.
func TestFactService_ScaleAndUnits(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestFactService(t, db, false)
	issuer := testutil.NewIssuer().Build(t, db)

	testutil.NewFact(issuer.ID).WithValue("1.25").WithScale(6).Build(t, db)
	testutil.NewFact(issuer.ID).
		WithConcept("netIncome", "NetIncomeLoss").
		WithUnit("shares").
		Build(t, db)

	got, err := svc.Resolve(ctx, service.ResolveQuery{IssuerID: issuer.ID, Concept: "revenue"})
	require.NoError(t, err)
	if !got.Value.Equal(dec("1250000")) {
		t.Errorf("Expected 1250000, got %s", got.Value)
	}
	assert.Equal(t, 6, got.Citation.Scale)

	_, err = svc.Resolve(ctx, service.ResolveQuery{IssuerID: issuer.ID, Concept: "netIncome"})
	requireKind(t, err, apperrors.KindUnitIncompatible)
}

// TestFactService_StrictMode tests demo data handling.
//
// WHY: In strict mode nothing that is not backed by a real filing may be
// served. In permissive mode demo data is served but always flagged.
func TestFactService_StrictMode(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)

	demo := testutil.NewIssuer().Demo().Build(t, db)
	testutil.NewFact(demo.ID).Demo().Build(t, db)

	filer := testutil.NewIssuer().Build(t, db)
	testutil.NewFact(filer.ID).Demo().Build(t, db)

	t.Run("strict rejects demo issuers", func(t *testing.T) {
		svc := testutil.NewTestFactService(t, db, true)
		_, err := svc.Resolve(ctx, service.ResolveQuery{IssuerID: demo.ID, Concept: "revenue"})
		ev := requireKind(t, err, apperrors.KindUnsupportedIssuer)
		assert.Equal(t, true, ev["strict_mode"])
	})

	t.Run("strict hides demo facts of real issuers", func(t *testing.T) {
		svc := testutil.NewTestFactService(t, db, true)
		_, err := svc.Resolve(ctx, service.ResolveQuery{IssuerID: filer.ID, Concept: "revenue"})
		requireKind(t, err, apperrors.KindConceptUnavailable)
	})

	t.Run("permissive serves and flags demo data", func(t *testing.T) {
		svc := testutil.NewTestFactService(t, db, false)
		got, err := svc.Resolve(ctx, service.ResolveQuery{IssuerID: demo.ID, Concept: "revenue"})
		require.NoError(t, err)
		assert.True(t, got.Demo)
		assert.Equal(t, model.SourceDemo, got.Citation.Source)
	})
}

// TestFactService_LeafTTM tests trailing-twelve-month leaves.
//
// WHY: TTM must be the sum of exactly four consecutive quarters. Fewer
// quarters must fail instead of producing a partial sum.
func TestFactService_LeafTTM(t *testing.T) {
	ctx := context.Background()

	t.Run("sums four quarters with one citation each", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestFactService(t, db, false)
		issuer := testutil.NewIssuer().Build(t, db)
		testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues", map[string]string{
			"2024-03-31": "10", "2024-06-30": "20", "2024-09-30": "30", "2024-12-31": "40",
		})

		leaf, err := svc.Leaf(ctx, calc.LeafQuery{IssuerID: issuer.ID, Concept: "revenue", Period: period(t, "latest"), TTM: true})
		require.NoError(t, err)
		if !leaf.Value.Equal(dec("100")) {
			t.Errorf("Expected 100, got %s", leaf.Value)
		}
		require.Len(t, leaf.Citations, 4)
		assert.Equal(t, "2024-12-31", leaf.Citations[0].PeriodEnd)
		assert.Equal(t, "2024-03-31", leaf.Citations[3].PeriodEnd)
	})

	t.Run("two quarters are insufficient", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestFactService(t, db, false)
		issuer := testutil.NewIssuer().Build(t, db)
		testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues", map[string]string{
			"2024-09-30": "30", "2024-12-31": "40",
		})

		_, err := svc.Leaf(ctx, calc.LeafQuery{IssuerID: issuer.ID, Concept: "revenue", Period: period(t, "2024-12-31"), TTM: true})
		ev := requireKind(t, err, apperrors.KindInsufficientHistory)
		assert.Equal(t, 2, ev["quarters_found"])
		assert.Equal(t, 4, ev["quarters_required"])
		assert.Equal(t, "2024-09-30", ev["missing_before"])
	})

	t.Run("as-reported skips amendment-only quarters", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestFactService(t, db, false)
		issuer := testutil.NewIssuer().Build(t, db)
		testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues", map[string]string{
			"2024-03-31": "10", "2024-06-30": "20", "2024-12-31": "40",
		})
		testutil.NewFact(issuer.ID).
			WithValue("30").
			WithPeriod("2024-07-01", "2024-09-30").
			WithFiscal(2024, "Q3").
			Amended("0000000001-25-000077", "2025-02-15").
			Build(t, db)

		leaf, err := svc.Leaf(ctx, calc.LeafQuery{IssuerID: issuer.ID, Concept: "revenue", Period: period(t, "2024-12-31"), TTM: true})
		require.NoError(t, err)
		assert.True(t, leaf.Value.Equal(dec("100")))

		_, err = svc.Leaf(ctx, calc.LeafQuery{IssuerID: issuer.ID, Concept: "revenue", Period: period(t, "2024-12-31"), TTM: true, AsReported: true})
		ev := requireKind(t, err, apperrors.KindInsufficientHistory)
		assert.Equal(t, 1, ev["quarters_found"])
		assert.Equal(t, "2024-12-31", ev["missing_before"])
		assert.Equal(t, true, ev["as_reported"])
	})

	t.Run("instant concepts use the balance", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestFactService(t, db, false)
		issuer := testutil.NewIssuer().Build(t, db)
		testutil.NewFact(issuer.ID).WithConcept("totalAssets", "Assets").WithValue("500").Instant("2024-12-31").Build(t, db)

		leaf, err := svc.Leaf(ctx, calc.LeafQuery{IssuerID: issuer.ID, Concept: "totalAssets", TTM: true})
		require.NoError(t, err)
		assert.True(t, leaf.Value.Equal(dec("500")))
		assert.Len(t, leaf.Citations, 1)
	})

	t.Run("annual frequency is refused", func(t *testing.T) {
		db := testutil.SetupTestDB(t)
		svc := testutil.NewTestFactService(t, db, false)
		_, err := svc.Leaf(ctx, calc.LeafQuery{IssuerID: "X", Concept: "revenue", Frequency: model.FrequencyAnnual, TTM: true})
		requireKind(t, err, apperrors.KindTTMNotSupported)
	})
}

// TestFactService_Series tests stored series retrieval.
func TestFactService_Series(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestFactService(t, db, false)
	issuer := testutil.NewIssuer().Build(t, db)
	testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues", map[string]string{
		"2024-03-31": "10", "2024-06-30": "20", "2024-09-30": "30", "2024-12-31": "40",
	})

	points, err := svc.Series(ctx, service.SeriesQuery{IssuerID: issuer.ID, Concept: "revenue", Limit: 2})
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, "2024-12-31", points[0].PeriodEnd)
	assert.Equal(t, "2024-09-30", points[1].PeriodEnd)
	for _, p := range points {
		assert.Len(t, p.Citations, 1)
	}
}

// TestFactService_Segments tests dimension-qualified resolution.
//
// WHY: Segment citations must carry the axis and member exactly as filed,
// and an untagged axis must fail rather than fall back to the consolidated
// figure.
func TestFactService_Segments(t *testing.T) {
	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	svc := testutil.NewTestFactService(t, db, false)
	issuer := testutil.NewIssuer().Build(t, db)

	const geo = "srt:StatementGeographicalAxis"
	testutil.NewFact(issuer.ID).WithValue("100").Build(t, db)
	testutil.NewFact(issuer.ID).WithValue("60").WithDimension(geo, "country:US").Build(t, db)
	testutil.NewFact(issuer.ID).WithValue("40").WithDimension(geo, "srt:EuropeMember").Build(t, db)

	t.Run("one series per member", func(t *testing.T) {
		segs, err := svc.SegmentSeries(ctx, service.SeriesQuery{IssuerID: issuer.ID, Concept: "revenue"}, geo)
		require.NoError(t, err)
		require.Len(t, segs, 2)
		assert.Equal(t, "country:US", segs[0].Member)
		assert.Equal(t, "srt:EuropeMember", segs[1].Member)
		require.Len(t, segs[0].Points, 1)
		assert.True(t, segs[0].Points[0].Value.Equal(dec("60")))

		cite := segs[1].Points[0].Citations[0]
		require.NotNil(t, cite.Dimension)
		assert.Equal(t, geo, cite.Dimension.Axis)
		assert.Equal(t, "srt:EuropeMember", cite.Dimension.Member)
	})

	t.Run("single member", func(t *testing.T) {
		got, err := svc.ResolveSegment(ctx, service.ResolveQuery{IssuerID: issuer.ID, Concept: "revenue"}, geo, "country:US")
		require.NoError(t, err)
		assert.True(t, got.Value.Equal(dec("60")))
	})

	t.Run("consolidated resolution ignores segments", func(t *testing.T) {
		got, err := svc.Resolve(ctx, service.ResolveQuery{IssuerID: issuer.ID, Concept: "revenue"})
		require.NoError(t, err)
		assert.True(t, got.Value.Equal(dec("100")))
		assert.Nil(t, got.Citation.Dimension)
	})

	t.Run("untagged axis", func(t *testing.T) {
		_, err := svc.SegmentSeries(ctx, service.SeriesQuery{IssuerID: issuer.ID, Concept: "revenue"}, "us-gaap:ProductOrServiceAxis")
		ev := requireKind(t, err, apperrors.KindDimensionUnavailable)
		assert.Equal(t, []string{geo}, ev["available_dimensions"])
	})
}
