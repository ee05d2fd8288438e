package calc_test

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/calc"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/kpi"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

var periodEnd = time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

// fakeSource serves leaves from a map keyed by concept (prefixed "ttm:" for
// trailing-twelve-month leaves).
type fakeSource struct {
	mu     sync.Mutex
	leaves map[string]calc.Leaf
	errs   map[string]error
	calls  atomic.Int32
	block  chan struct{}
}

func newFakeSource() *fakeSource {
	return &fakeSource{leaves: map[string]calc.Leaf{}, errs: map[string]error{}}
}

func (s *fakeSource) with(concept, value, currency string) *fakeSource {
	kind := units.KindMonetary
	if currency == "" {
		kind = units.KindShares
	}
	s.leaves[concept] = calc.Leaf{
		Value:    decimal.RequireFromString(value),
		Kind:     kind,
		Currency: currency,
		Unit:     currency,
		AsOf:     periodEnd,
		Citations: []model.Citation{{
			Source:    model.CitationSourceFiling,
			Concept:   concept,
			Accession: "0000000001-25-000001",
			URL:       "https://example.test/filing",
			Unit:      currency,
			PeriodEnd: periodEnd.Format(model.DateLayout),
		}},
	}
	return s
}

func (s *fakeSource) Leaf(ctx context.Context, q calc.LeafQuery) (calc.Leaf, error) {
	s.calls.Add(1)
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return calc.Leaf{}, ctx.Err()
		}
	}
	key := q.Concept
	if q.TTM {
		key = "ttm:" + key
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err, ok := s.errs[key]; ok {
		return calc.Leaf{}, err
	}
	leaf, ok := s.leaves[key]
	if !ok {
		return calc.Leaf{}, apperrors.New(apperrors.KindConceptUnavailable, key)
	}
	return leaf, nil
}

// fixedFX converts with a constant rate and reports one fx citation.
type fixedFX struct {
	rate  decimal.Decimal
	calls atomic.Int32
}

func (f *fixedFX) Normalize(_ context.Context, v decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, *model.Citation, error) {
	f.calls.Add(1)
	if from == to {
		return v, nil, nil
	}
	prov := &model.FXProvenance{
		Pair:          from + "/" + to,
		From:          from,
		To:            to,
		RequestedDate: asOf.Format(model.DateLayout),
		Date:          asOf.Format(model.DateLayout),
		Rate:          f.rate,
		Source:        "ECB SDW",
		Dataset:       "EXR",
		Method:        "EUR_centric_cross_rate",
	}
	return v.Mul(f.rate), &model.Citation{Source: model.CitationSourceFX, URL: "https://fx.example.test", Unit: to, FXUsed: prov}, nil
}

func newEvaluator(t *testing.T, src calc.Source, fx calc.Converter) *calc.Evaluator {
	t.Helper()
	c, err := concepts.Load()
	require.NoError(t, err)
	m, err := kpi.Load(c)
	require.NoError(t, err)
	return calc.NewEvaluator(c, m, src, fx, log.New(io.Discard))
}

func q4() model.Period {
	return model.Period{Kind: model.PeriodQuarter, Year: 2024, Quarter: 4}
}

// WHY: the canonical explain example. Same currency means no FX entry and one
// citation per leaf.
func TestEvaluate_Subtraction(t *testing.T) {
	src := newFakeSource().with("revenue", "100", "USD").with("costOfRevenue", "60", "USD")
	fx := &fixedFX{rate: decimal.NewFromInt(2)}
	e := newEvaluator(t, src, fx)

	res, err := e.Evaluate(context.Background(), calc.Request{
		IssuerID: "AAA", Expr: "revenue - costOfRevenue", Period: q4(), Frequency: model.FrequencyQuarterly,
	})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(40).Equal(res.Value), "Expected 40, got %s", res.Value)
	assert.Equal(t, units.KindMonetary, res.Kind)
	assert.Equal(t, "USD", res.Currency)
	assert.False(t, res.FXApplied)
	assert.Zero(t, fx.calls.Load())
	require.Len(t, res.Citations, 2)
	assert.Equal(t, "revenue", res.Citations[0].Concept)
	assert.Equal(t, "costOfRevenue", res.Citations[1].Concept)
	assert.Equal(t, "2024-Q4", res.Period)

	require.NotNil(t, res.Breakdown)
	assert.Equal(t, "-", res.Breakdown.Op)
	assert.Equal(t, "revenue", res.Breakdown.Left.Concept)
	assert.Equal(t, "costOfRevenue", res.Breakdown.Right.Concept)
}

func TestEvaluate_NamedMetric(t *testing.T) {
	src := newFakeSource().with("revenue", "200", "USD").with("costOfRevenue", "120", "USD")
	e := newEvaluator(t, src, nil)

	res, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "grossMargin", Period: q4()})
	require.NoError(t, err)

	assert.True(t, decimal.RequireFromString("0.4").Equal(res.Value), "Expected 0.4, got %s", res.Value)
	assert.Equal(t, units.KindPure, res.Kind)
	assert.Empty(t, res.Currency)
	assert.Equal(t, "grossMargin", res.Breakdown.Metric)
	assert.NotEmpty(t, res.Breakdown.Formula)
	// revenue appears twice in the formula but is cited once.
	assert.Len(t, res.Citations, 2)
	assert.Equal(t, int32(2), src.calls.Load(), "each distinct leaf resolves once")
}

func TestEvaluate_Errors(t *testing.T) {
	t.Run("zero denominator", func(t *testing.T) {
		src := newFakeSource().with("revenue", "0", "USD").with("netIncome", "5", "USD")
		e := newEvaluator(t, src, nil)

		_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "netIncome / revenue", Period: q4()})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindDivisionUndefined, apperrors.KindOf(err))
		assert.Equal(t, "revenue", apperrors.EvidenceOf(err)["denominator"])
	})

	t.Run("unknown identifier", func(t *testing.T) {
		e := newEvaluator(t, newFakeSource(), nil)

		_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "revenue - bananas", Period: q4()})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindInvalidExpression, apperrors.KindOf(err))
		assert.Contains(t, apperrors.EvidenceOf(err), "known_concepts")
	})

	t.Run("adding shares to money", func(t *testing.T) {
		src := newFakeSource().with("revenue", "10", "USD").with("dilutedShares", "3", "")
		e := newEvaluator(t, src, nil)

		_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "revenue + dilutedShares", Period: q4()})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindUnitIncompatible, apperrors.KindOf(err))
	})

	t.Run("leaf failure propagates", func(t *testing.T) {
		src := newFakeSource().with("revenue", "10", "USD")
		e := newEvaluator(t, src, nil)

		_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "revenue - costOfRevenue", Period: q4()})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindConceptUnavailable, apperrors.KindOf(err))
	})

	t.Run("ttm on point-in-time metric", func(t *testing.T) {
		e := newEvaluator(t, newFakeSource(), nil)

		_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "ttm(debtToEquity)", Period: q4()})
		require.Error(t, err)
		assert.Equal(t, apperrors.KindTTMNotSupported, apperrors.KindOf(err))
	})
}

// WHY: a TTM metric needs four quarters of every leaf; a short history must
// surface insufficient_history instead of a partial sum.
func TestEvaluate_TTMInsufficientHistory(t *testing.T) {
	src := newFakeSource().with("ttm:revenue", "400", "USD").with("ttm:depreciationAmortization", "20", "USD")
	src.errs["ttm:operatingIncome"] = apperrors.New(apperrors.KindInsufficientHistory, "2 of 4 quarters").
		With("quarters_found", 2)
	e := newEvaluator(t, src, nil)

	_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "ttm(ebitdaMargin)", Period: q4()})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInsufficientHistory, apperrors.KindOf(err))
	assert.Equal(t, 2, apperrors.EvidenceOf(err)["quarters_found"])
}

func TestEvaluate_TTMRequestFlag(t *testing.T) {
	src := newFakeSource().with("ttm:netIncome", "40", "USD").with("ttm:revenue", "400", "USD")
	e := newEvaluator(t, src, nil)

	res, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "netMargin", Period: q4(), TTM: true})
	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.1").Equal(res.Value), "Expected 0.1, got %s", res.Value)
	assert.True(t, res.Breakdown.TTM)
}

// WHY: mixing currencies must convert before the operator is applied and
// leave an auditable fx citation behind.
func TestEvaluate_MixedCurrency(t *testing.T) {
	src := newFakeSource().with("revenue", "100", "EUR").with("costOfRevenue", "60", "USD")
	fx := &fixedFX{rate: decimal.RequireFromString("1.1")}
	e := newEvaluator(t, src, fx)

	res, err := e.Evaluate(context.Background(), calc.Request{
		IssuerID: "AAA", Expr: "revenue - costOfRevenue", Period: q4(), Currency: "usd",
	})
	require.NoError(t, err)

	assert.True(t, decimal.NewFromInt(50).Equal(res.Value), "Expected 50, got %s", res.Value)
	assert.Equal(t, "USD", res.Currency)
	assert.True(t, res.FXApplied)
	assert.Equal(t, int32(1), fx.calls.Load())

	require.Len(t, res.Citations, 3)
	assert.Equal(t, "revenue", res.Citations[0].Concept)
	require.NotNil(t, res.Citations[0].FXUsed)
	assert.Equal(t, "EUR/USD", res.Citations[0].FXUsed.Pair)
	assert.Equal(t, model.CitationSourceFX, res.Citations[1].Source)
	assert.Equal(t, "costOfRevenue", res.Citations[2].Concept)
}

func TestEvaluate_MixedCurrencyWithoutConverter(t *testing.T) {
	src := newFakeSource().with("revenue", "100", "EUR").with("costOfRevenue", "60", "USD")
	e := newEvaluator(t, src, nil)

	_, err := e.Evaluate(context.Background(), calc.Request{IssuerID: "AAA", Expr: "revenue - costOfRevenue", Period: q4()})
	require.Error(t, err)
	assert.Equal(t, apperrors.KindFXUnavailable, apperrors.KindOf(err))
}

func TestEvaluate_Deterministic(t *testing.T) {
	src := newFakeSource().
		with("operatingIncome", "30", "USD").
		with("depreciationAmortization", "10", "USD").
		with("revenue", "160", "USD")
	e := newEvaluator(t, src, nil)
	e.SetParallelism(8)

	req := calc.Request{IssuerID: "AAA", Expr: "ebitdaMargin * 100", Period: q4()}
	first, err := e.Evaluate(context.Background(), req)
	require.NoError(t, err)

	for i := 0; i < 20; i++ {
		again, err := e.Evaluate(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, first.Value.Equal(again.Value))
		assert.Equal(t, first.Citations, again.Citations)
	}
	assert.True(t, decimal.NewFromInt(25).Equal(first.Value), "Expected 25, got %s", first.Value)
}

func TestEvaluate_Cancelled(t *testing.T) {
	src := newFakeSource().with("revenue", "100", "USD").with("costOfRevenue", "60", "USD")
	src.block = make(chan struct{})
	e := newEvaluator(t, src, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := e.Evaluate(ctx, calc.Request{IssuerID: "AAA", Expr: "revenue - costOfRevenue", Period: q4()})
		done <- err
	}()

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
		assert.Equal(t, apperrors.KindRequestCancelled, apperrors.KindOf(err))
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("evaluation did not return after cancellation")
	}
}

func TestVerify(t *testing.T) {
	src := newFakeSource().with("revenue", "200", "USD").with("costOfRevenue", "118", "USD")
	e := newEvaluator(t, src, nil)
	req := calc.Request{IssuerID: "AAA", Expr: "grossMargin", Period: q4()}

	tests := []struct {
		name      string
		expected  string
		tolerance string
		want      bool
	}{
		{"exact", "0.41", "0", true},
		{"within tolerance", "0.40", "0.01", true},
		{"negative tolerance treated as absolute", "0.40", "-0.01", true},
		{"outside tolerance", "0.35", "0.01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := e.Verify(context.Background(), req,
				decimal.RequireFromString(tt.expected), decimal.RequireFromString(tt.tolerance))
			require.NoError(t, err)
			if v.Verified != tt.want {
				t.Errorf("Expected verified=%v, got %v (observed %s)", tt.want, v.Verified, v.Observed)
			}
			assert.NotEmpty(t, v.Citations)
		})
	}
}

func TestParseAssertion(t *testing.T) {
	for _, in := range []string{"0.41", " ≈ 0.41", "~0.41", "=0.41", "== 0.41"} {
		d, err := calc.ParseAssertion(in)
		require.NoError(t, err, in)
		assert.True(t, decimal.RequireFromString("0.41").Equal(d), in)
	}

	_, err := calc.ParseAssertion("about forty")
	require.Error(t, err)
	assert.Equal(t, apperrors.KindInvalidRequest, apperrors.KindOf(err))
}
