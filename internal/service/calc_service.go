package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/calc"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/expr"
	"github.com/finmetrics/grounding/internal/kpi"
	"github.com/finmetrics/grounding/internal/model"
)

// MetricSeries is a concept or derived metric over consecutive periods.
// Periods whose inputs are missing are listed as gaps, never filled.
type MetricSeries struct {
	Issuer    string              `json:"issuer"`
	Name      string              `json:"name"`
	Frequency model.Frequency     `json:"freq"`
	Derived   bool                `json:"derived"`
	Formula   string              `json:"formula,omitempty"`
	Points    []model.MetricPoint `json:"points"`
	Gaps      []model.SeriesGap   `json:"gaps,omitempty"`
	Demo      bool                `json:"demo_data,omitempty"`
}

// CalcService evaluates expressions for the calc endpoints.
type CalcService struct {
	evaluator *calc.Evaluator
	facts     *FactService
	concepts  *concepts.Registry
	metrics   *kpi.Registry
	logger    *log.Logger
}

// NewCalcService creates a new CalcService.
func NewCalcService(evaluator *calc.Evaluator, facts *FactService, c *concepts.Registry, m *kpi.Registry, logger *log.Logger) *CalcService {
	return &CalcService{
		evaluator: evaluator,
		facts:     facts,
		concepts:  c,
		metrics:   m,
		logger:    logger,
	}
}

// toCalcRequest converts a validated request body into an evaluator request.
func toCalcRequest(req request.ExplainRequest) (calc.Request, error) {
	period, err := model.ParsePeriod(req.Period)
	if err != nil {
		return calc.Request{}, apperrors.Wrap(apperrors.KindInvalidRequest, err, err.Error())
	}
	var freq model.Frequency
	if req.Freq != "" {
		if freq, err = model.ParseFrequency(req.Freq); err != nil {
			return calc.Request{}, apperrors.Wrap(apperrors.KindInvalidRequest, err, err.Error())
		}
	} else {
		freq = DefaultFrequency(period)
	}
	return calc.Request{
		IssuerID:     req.Issuer,
		Expr:         req.Expr,
		Period:       period,
		Frequency:    freq,
		Currency:     strings.ToUpper(req.Currency),
		AsReported:   req.AsReported,
		AccessionPin: req.Accession,
		TTM:          req.TTM,
	}, nil
}

// Explain evaluates an expression and returns the value with its breakdown
// and citations.
func (s *CalcService) Explain(ctx context.Context, req request.ExplainRequest) (*calc.Result, error) {
	creq, err := toCalcRequest(req)
	if err != nil {
		return nil, err
	}
	res, err := s.evaluator.Evaluate(ctx, creq)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("explained expression", "issuer", req.Issuer, "expr", req.Expr, "value", res.Value, "citations", len(res.Citations))
	return res, nil
}

// VerifyExpression evaluates an expression and compares it to the asserted
// value within the tolerance.
func (s *CalcService) VerifyExpression(ctx context.Context, req request.VerifyExpressionRequest) (*calc.Verification, error) {
	creq, err := toCalcRequest(req.ExplainRequest)
	if err != nil {
		return nil, err
	}
	expected, err := calc.ParseAssertion(string(req.AssertValue))
	if err != nil {
		return nil, err
	}
	tolerance := calc.DefaultTolerance
	if req.Tolerance != nil {
		tolerance = *req.Tolerance
	}
	return s.evaluator.Verify(ctx, creq, expected, tolerance)
}

// Series returns a stored concept series or, for a derived metric, the
// metric evaluated at every period any of its concepts reports.
func (s *CalcService) Series(ctx context.Context, q SeriesQuery) (*MetricSeries, error) {
	if q.Frequency == "" {
		q.Frequency = model.FrequencyQuarterly
	}
	if s.concepts.Known(q.Concept) {
		points, err := s.facts.Series(ctx, q)
		if err != nil {
			return nil, err
		}
		out := &MetricSeries{Issuer: q.IssuerID, Name: q.Concept, Frequency: q.Frequency, Points: points}
		for _, p := range points {
			out.Demo = out.Demo || p.Demo
		}
		return out, nil
	}

	metric, ok := s.metrics.Lookup(q.Concept)
	if !ok {
		return nil, apperrors.New(apperrors.KindConceptUnavailable,
			fmt.Sprintf("%q is neither a concept nor a metric", q.Concept)).
			With("known_concepts", s.concepts.Names()).
			With("known_metrics", metricNames(s.metrics))
	}
	return s.metricSeries(ctx, q, metric)
}

func metricNames(m *kpi.Registry) []string {
	all := m.Metrics()
	names := make([]string, 0, len(all))
	for _, x := range all {
		names = append(names, x.Name)
	}
	return names
}

func (s *CalcService) metricSeries(ctx context.Context, q SeriesQuery, metric kpi.Metric) (*MetricSeries, error) {
	periods, err := s.metricPeriods(ctx, q, metric)
	if err != nil {
		return nil, err
	}

	out := &MetricSeries{
		Issuer:    q.IssuerID,
		Name:      metric.Name,
		Frequency: q.Frequency,
		Derived:   true,
		Formula:   metric.Formula,
		Points:    []model.MetricPoint{},
	}
	for _, end := range periods {
		res, err := s.evaluator.Evaluate(ctx, calc.Request{
			IssuerID:   q.IssuerID,
			Expr:       metric.Name,
			Period:     model.Period{Kind: model.PeriodDate, Date: end},
			Frequency:  q.Frequency,
			AsReported: q.AsReported,
		})
		d := end.Format(model.DateLayout)
		if err != nil {
			if !gapKind(apperrors.KindOf(err)) {
				return nil, err
			}
			out.Gaps = append(out.Gaps, model.SeriesGap{PeriodEnd: d, Reason: string(apperrors.KindOf(err))})
			continue
		}
		out.Points = append(out.Points, model.MetricPoint{
			PeriodEnd: d,
			Value:     res.Value,
			Unit:      metric.Output,
			Currency:  res.Currency,
			Citations: res.Citations,
			Demo:      res.Demo,
		})
		out.Demo = out.Demo || res.Demo
	}
	return out, nil
}

// metricPeriods is the union of the period ends stored for any concept the
// metric reads, newest first, cut to the limit.
func (s *CalcService) metricPeriods(ctx context.Context, q SeriesQuery, metric kpi.Metric) ([]time.Time, error) {
	names := s.leafConcepts(metric.Expr(), nil, map[string]bool{}, 0)
	if len(names) == 0 {
		return nil, apperrors.New(apperrors.KindInvalidExpression,
			fmt.Sprintf("metric %s references no concept", metric.Name))
	}

	seen := map[time.Time]bool{}
	var ends []time.Time
	var firstErr error
	for _, name := range names {
		points, err := s.facts.Series(ctx, SeriesQuery{
			IssuerID:   q.IssuerID,
			Concept:    name,
			Frequency:  q.Frequency,
			Limit:      q.Limit,
			AsReported: q.AsReported,
		})
		if err != nil {
			if apperrors.KindOf(err) != apperrors.KindConceptUnavailable {
				return nil, err
			}
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		for _, p := range points {
			end, perr := time.Parse(model.DateLayout, p.PeriodEnd)
			if perr == nil && !seen[end] {
				seen[end] = true
				ends = append(ends, end)
			}
		}
	}
	if len(ends) == 0 {
		return nil, firstErr
	}

	sort.Slice(ends, func(i, j int) bool { return ends[i].After(ends[j]) })
	if q.Limit > 0 && len(ends) > q.Limit {
		ends = ends[:q.Limit]
	}
	return ends, nil
}

// gapKind reports errors that mean one period cannot be computed while the
// rest of the series still can.
func gapKind(k apperrors.Kind) bool {
	switch k {
	case apperrors.KindConceptUnavailable, apperrors.KindPeriodUnavailable,
		apperrors.KindDivisionUndefined, apperrors.KindInsufficientHistory,
		apperrors.KindFXUnavailable:
		return true
	}
	return false
}

// leafConcepts lists the concepts a formula reads, following metric
// references, in order of first appearance.
func (s *CalcService) leafConcepts(n *expr.Node, out []string, seen map[string]bool, depth int) []string {
	if n == nil || depth > 16 {
		return out
	}
	for _, id := range expr.Identifiers(n) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if s.concepts.Known(id) {
			out = append(out, id)
		} else if m, ok := s.metrics.Lookup(id); ok {
			out = s.leafConcepts(m.Expr(), out, seen, depth+1)
		}
	}
	return out
}
