// Package calc evaluates derived-metric expressions for an issuer. Leaves
// are resolved through a Source, converted to one currency when needed, and
// combined bottom-up with kind checking. Every result carries a breakdown
// tree and the citations of every leaf used.
package calc

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/expr"
	"github.com/finmetrics/grounding/internal/kpi"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

// DefaultParallelism caps concurrent leaf resolutions per evaluation.
const DefaultParallelism = 4

// DefaultTolerance is the absolute tolerance used by verify when none is given.
var DefaultTolerance = decimal.RequireFromString("0.01")

// Evaluator is safe for concurrent use; it holds no per-request state.
type Evaluator struct {
	concepts    *concepts.Registry
	metrics     *kpi.Registry
	source      Source
	fx          Converter
	parallelism int
	logger      *log.Logger
}

// NewEvaluator wires an evaluator. fx may be nil when no conversion source is configured.
func NewEvaluator(c *concepts.Registry, m *kpi.Registry, source Source, fx Converter, logger *log.Logger) *Evaluator {
	return &Evaluator{
		concepts:    c,
		metrics:     m,
		source:      source,
		fx:          fx,
		parallelism: DefaultParallelism,
		logger:      logger,
	}
}

// SetParallelism changes the leaf fan-out limit.
func (e *Evaluator) SetParallelism(n int) {
	if n < 1 {
		n = 1
	}
	e.parallelism = n
}

// Known reports whether name is a concept or a registered metric.
func (e *Evaluator) Known(name string) bool {
	return e.concepts.Known(name) || e.metrics.Known(name)
}

type leafKey struct {
	concept string
	ttm     bool
}

type planKind int

const (
	planNumber planKind = iota
	planLeaf
	planMetric
	planNeg
	planTTM
	planBinary
)

// plan is the expression with metric references expanded.
type plan struct {
	kind   planKind
	node   *expr.Node
	leaf   leafKey
	metric kpi.Metric
	ttm    bool
	left   *plan
	right  *plan
}

func (e *Evaluator) expand(n *expr.Node, ttm bool, depth int) (*plan, error) {
	if depth > 64 {
		return nil, apperrors.New(apperrors.KindInvalidExpression, "metric expansion too deep")
	}
	switch n.Kind {
	case expr.NodeNumber:
		return &plan{kind: planNumber, node: n}, nil

	case expr.NodeIdent:
		if e.concepts.Known(n.Name) {
			return &plan{kind: planLeaf, node: n, leaf: leafKey{concept: n.Name, ttm: ttm}, ttm: ttm}, nil
		}
		m, ok := e.metrics.Lookup(n.Name)
		if !ok {
			return nil, apperrors.New(apperrors.KindInvalidExpression, "unknown identifier "+n.Name)
		}
		if ttm && !m.TTM {
			return nil, apperrors.New(apperrors.KindTTMNotSupported,
				fmt.Sprintf("metric %s is not TTM eligible", m.Name)).
				With("metric", m.Name)
		}
		body, err := e.expand(m.Expr(), ttm, depth+1)
		if err != nil {
			return nil, err
		}
		return &plan{kind: planMetric, node: n, metric: m, ttm: ttm, left: body}, nil

	case expr.NodeNeg:
		child, err := e.expand(n.Left, ttm, depth+1)
		if err != nil {
			return nil, err
		}
		return &plan{kind: planNeg, node: n, left: child}, nil

	case expr.NodeCall:
		child, err := e.expand(n.Left, true, depth+1)
		if err != nil {
			return nil, err
		}
		return &plan{kind: planTTM, node: n, ttm: true, left: child}, nil

	case expr.NodeBinary:
		left, err := e.expand(n.Left, ttm, depth+1)
		if err != nil {
			return nil, err
		}
		right, err := e.expand(n.Right, ttm, depth+1)
		if err != nil {
			return nil, err
		}
		return &plan{kind: planBinary, node: n, left: left, right: right}, nil
	}
	return nil, apperrors.New(apperrors.KindInvalidExpression, "unsupported node")
}

// leaves lists distinct leaves in evaluation order.
func (p *plan) leaves(out []leafKey, seen map[leafKey]bool) []leafKey {
	if p == nil {
		return out
	}
	if p.kind == planLeaf {
		if !seen[p.leaf] {
			seen[p.leaf] = true
			out = append(out, p.leaf)
		}
		return out
	}
	out = p.left.leaves(out, seen)
	return p.right.leaves(out, seen)
}

// Evaluate computes req.Expr for the issuer and period.
func (e *Evaluator) Evaluate(ctx context.Context, req Request) (*Result, error) {
	tree, err := expr.Parse(req.Expr)
	if err != nil {
		return nil, err
	}
	if err := expr.Validate(tree, e.Known); err != nil {
		var ae *apperrors.Error
		if errors.As(err, &ae) {
			ae.With("known_concepts", e.concepts.Names())
		}
		return nil, err
	}
	p, err := e.expand(tree, req.TTM, 0)
	if err != nil {
		return nil, err
	}

	keys := p.leaves(nil, map[leafKey]bool{})
	resolved, err := e.resolveLeaves(ctx, req, keys)
	if err != nil {
		return nil, err
	}

	target := strings.ToUpper(req.Currency)
	if target != "" && !units.ValidCurrency(target) {
		return nil, apperrors.New(apperrors.KindInvalidRequest, fmt.Sprintf("unknown currency %q", req.Currency))
	}
	if target == "" {
		for _, l := range resolved {
			if l.Currency != "" {
				target = l.Currency
				break
			}
		}
	}

	values := make(map[leafKey]quantity, len(keys))
	var citations []model.Citation
	seen := map[string]bool{}
	appendCitation := func(c model.Citation) {
		if k := c.Key(); !seen[k] {
			seen[k] = true
			citations = append(citations, c)
		}
	}

	fxApplied, demo := false, false
	for i, key := range keys {
		leaf := resolved[i]
		demo = demo || leaf.Demo
		leafCitations := leaf.Citations
		var fxCitation *model.Citation

		if leaf.Currency != "" && leaf.Currency != target {
			if e.fx == nil {
				return nil, apperrors.New(apperrors.KindFXUnavailable, "no currency conversion source configured")
			}
			converted, cit, err := e.fx.Normalize(ctx, leaf.Value, leaf.Currency, target, leaf.AsOf)
			if err != nil {
				return nil, err
			}
			leaf.Value = converted
			leaf.Currency = target
			if cit != nil {
				fxApplied = true
				fxCitation = cit
				leafCitations = make([]model.Citation, len(leaf.Citations))
				for j, c := range leaf.Citations {
					c.FXUsed = cit.FXUsed
					leafCitations[j] = c
				}
			}
		}
		for _, c := range leafCitations {
			appendCitation(c)
		}
		if fxCitation != nil {
			appendCitation(*fxCitation)
		}
		values[key] = quantity{value: leaf.Value, kind: leaf.Kind, currency: leaf.Currency}
	}

	q, term, err := e.eval(p, values)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("evaluated expression", "issuer", req.IssuerID, "expr", req.Expr,
		"period", req.Period.String(), "leaves", len(keys), "fx", fxApplied)

	return &Result{
		Expr:      req.Expr,
		IssuerID:  req.IssuerID,
		Period:    req.Period.String(),
		Frequency: req.Frequency,
		Value:     q.value,
		Kind:      q.kind,
		Currency:  q.currency,
		Breakdown: term,
		Citations: citations,
		FXApplied: fxApplied,
		Demo:      demo,
	}, nil
}

// resolveLeaves fetches every leaf with bounded fan-out. Once ctx is
// cancelled no further leaves are scheduled; leaves already running finish
// and warm the caches behind the Source. When several leaves fail the error
// of the earliest one in evaluation order is returned.
func (e *Evaluator) resolveLeaves(ctx context.Context, req Request, keys []leafKey) ([]Leaf, error) {
	results := make([]Leaf, len(keys))
	errs := make([]error, len(keys))

	var g errgroup.Group
	g.SetLimit(e.parallelism)
	scheduled := 0
	for i, key := range keys {
		if ctx.Err() != nil {
			break
		}
		scheduled++
		g.Go(func() error {
			results[i], errs[i] = e.source.Leaf(ctx, LeafQuery{
				IssuerID:     req.IssuerID,
				Concept:      key.concept,
				Period:       req.Period,
				Frequency:    req.Frequency,
				AsReported:   req.AsReported,
				AccessionPin: req.AccessionPin,
				TTM:          key.ttm,
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.KindRequestCancelled, err,
			fmt.Sprintf("%d of %d leaves scheduled", scheduled, len(keys)))
	}
	for _, err := range errs {
		if err != nil {
			return nil, err
		}
	}
	return results, nil
}

func (e *Evaluator) eval(p *plan, values map[leafKey]quantity) (quantity, *Term, error) {
	switch p.kind {
	case planNumber:
		q := quantity{value: p.node.Value, kind: units.KindPure}
		return q, &Term{Expr: p.node.String(), Value: q.value, Kind: q.kind}, nil

	case planLeaf:
		q := values[p.leaf]
		text := p.leaf.concept
		if p.leaf.ttm {
			text = "ttm(" + text + ")"
		}
		return q, &Term{Expr: text, Concept: p.leaf.concept, TTM: p.leaf.ttm,
			Value: q.value, Kind: q.kind, Currency: q.currency}, nil

	case planMetric:
		q, body, err := e.eval(p.left, values)
		if err != nil {
			return quantity{}, nil, err
		}
		return q, &Term{Expr: p.metric.Name, Metric: p.metric.Name, Formula: p.metric.Formula, TTM: p.ttm,
			Value: q.value, Kind: q.kind, Currency: q.currency, Left: body}, nil

	case planNeg:
		q, child, err := e.eval(p.left, values)
		if err != nil {
			return quantity{}, nil, err
		}
		q.value = q.value.Neg()
		return q, &Term{Expr: p.node.String(), Op: "neg", Value: q.value, Kind: q.kind, Currency: q.currency, Left: child}, nil

	case planTTM:
		q, child, err := e.eval(p.left, values)
		if err != nil {
			return quantity{}, nil, err
		}
		return q, &Term{Expr: p.node.String(), Op: expr.FuncTTM, TTM: true, Value: q.value, Kind: q.kind, Currency: q.currency, Left: child}, nil

	case planBinary:
		l, lt, err := e.eval(p.left, values)
		if err != nil {
			return quantity{}, nil, err
		}
		r, rt, err := e.eval(p.right, values)
		if err != nil {
			return quantity{}, nil, err
		}
		var q quantity
		switch p.node.Op {
		case '+', '-':
			q, err = add(p.node.Op, l, r)
		case '*':
			q, err = mul(l, r)
		case '/':
			q, err = div(l, r, rt.Expr)
		default:
			err = apperrors.New(apperrors.KindInvalidExpression, fmt.Sprintf("unknown operator %q", p.node.Op))
		}
		if err != nil {
			return quantity{}, nil, err
		}
		return q, &Term{Expr: p.node.String(), Op: string(p.node.Op), Value: q.value, Kind: q.kind,
			Currency: q.currency, Left: lt, Right: rt}, nil
	}
	return quantity{}, nil, apperrors.New(apperrors.KindInvalidExpression, "unsupported plan node")
}

// Verify evaluates req and compares the result with expected.
func (e *Evaluator) Verify(ctx context.Context, req Request, expected, tolerance decimal.Decimal) (*Verification, error) {
	res, err := e.Evaluate(ctx, req)
	if err != nil {
		return nil, err
	}
	tol := tolerance.Abs()
	diff := res.Value.Sub(expected).Abs()
	return &Verification{
		Verified:   diff.LessThanOrEqual(tol),
		Observed:   res.Value,
		Expected:   expected,
		Difference: diff,
		Tolerance:  tol,
		Expr:       req.Expr,
		Citations:  res.Citations,
	}, nil
}

// ParseAssertion reads an asserted value such as "0.41", "≈ 0.41", "~0.41" or "=0.41".
func ParseAssertion(s string) (decimal.Decimal, error) {
	v := strings.TrimSpace(s)
	for _, prefix := range []string{"≈", "~", "==", "="} {
		if strings.HasPrefix(v, prefix) {
			v = strings.TrimSpace(strings.TrimPrefix(v, prefix))
			break
		}
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Zero, apperrors.New(apperrors.KindInvalidRequest,
			fmt.Sprintf("assert_value %q is not a number", s))
	}
	return d, nil
}
