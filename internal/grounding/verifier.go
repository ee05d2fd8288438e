// Package grounding decides whether numeric claims hold against supplied
// time series. It never fetches data and never interpolates: a claim that
// needs a point the series lacks is rejected with the date that was checked.
package grounding

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/model"
)

// Defaults used when the verifier is built without explicit settings.
const (
	DefaultSnapDays = 7
)

// DefaultPctTolerance is the allowed gap, in percentage points, for yoy and qoq claims.
var DefaultPctTolerance = decimal.RequireFromString("0.05")

var hundred = decimal.NewFromInt(100)

// Verifier is stateless and safe for concurrent use.
type Verifier struct {
	snap         time.Duration
	snapDays     int
	pctTolerance decimal.Decimal
}

// NewVerifier builds a verifier. snapDays bounds how far a point may sit from
// the date being looked up.
func NewVerifier(snapDays int, pctTolerance decimal.Decimal) *Verifier {
	if snapDays < 0 {
		snapDays = 0
	}
	return &Verifier{
		snap:         time.Duration(snapDays) * 24 * time.Hour,
		snapDays:     snapDays,
		pctTolerance: pctTolerance,
	}
}

// Verify checks every claim. Claims never short-circuit each other.
func (v *Verifier) Verify(claims []Claim, ctx Context) Report {
	byID := make(map[string]Series, len(ctx.Series))
	for _, s := range ctx.Series {
		byID[s.ID] = s
	}

	report := Report{AllVerified: len(claims) > 0, Results: make([]Result, 0, len(claims))}
	for _, c := range claims {
		var r Result
		if s, ok := byID[c.Metric]; ok {
			r = v.verifyClaim(c, s)
		} else {
			r = reject(c, ReasonSeriesNotFound, map[string]any{"metric": c.Metric})
		}
		report.Results = append(report.Results, r)
		report.AllVerified = report.AllVerified && r.Verified
	}
	return report
}

func reject(c Claim, reason string, evidence map[string]any) Result {
	if evidence == nil {
		evidence = map[string]any{}
	}
	return Result{ClaimID: c.ID, Verified: false, Reason: reason, Evidence: evidence}
}

func sortedPoints(s Series) []Point {
	pts := make([]Point, len(s.Points))
	copy(pts, s.Points)
	sort.SliceStable(pts, func(i, j int) bool { return pts[i].Date.Before(pts[j].Date.Time) })
	return pts
}

// locate returns the index of the point closest to target within the snap
// window, preferring the earlier point on a tie, or -1.
func (v *Verifier) locate(pts []Point, target time.Time) int {
	best := -1
	var bestGap time.Duration
	for i, p := range pts {
		gap := p.Date.Sub(target)
		if gap < 0 {
			gap = -gap
		}
		if gap > v.snap {
			continue
		}
		if best == -1 || gap < bestGap {
			best, bestGap = i, gap
		}
	}
	return best
}

func (v *Verifier) verifyClaim(c Claim, s Series) Result {
	pts := sortedPoints(s)
	if len(pts) == 0 {
		return reject(c, ReasonEmptySeries, map[string]any{"series": s.ID})
	}

	idx := len(pts) - 1
	if c.At != nil {
		idx = v.locate(pts, c.At.Time)
		if idx < 0 {
			return reject(c, ReasonPeriodUnavailable, map[string]any{
				"series":           s.ID,
				"at":               c.At.String(),
				"snap_window_days": v.snapDays,
				"first_point":      pts[0].Date.String(),
				"last_point":       pts[len(pts)-1].Date.String(),
			})
		}
	}
	cur := pts[idx]
	evidence := map[string]any{
		"series":       s.ID,
		"snapped_date": cur.Date.String(),
		"value":        cur.Value,
	}
	if c.At != nil {
		evidence["at"] = c.At.String()
	}

	switch c.Operator {
	case OpEqual, OpLess, OpLessEqual, OpGreater, OpGreaterEqual:
		tol := decimal.Zero
		if c.Tolerance != nil {
			tol = c.Tolerance.Abs()
		}
		evidence["tolerance"] = tol
		return verdict(c, cur.Value, compare(c.Operator, cur.Value, c.Value, tol), evidence)

	case OpChange:
		base := idx - 1
		if c.Window > 0 {
			checked := NewDate(cur.Date.AddDate(0, 0, -c.Window))
			evidence["window_days"] = c.Window
			evidence["checked_date"] = checked.String()
			evidence["snap_window_days"] = v.snapDays
			base = v.locate(pts, checked.Time)
			if base >= 0 && !pts[base].Date.Before(cur.Date.Time) {
				base = -1
			}
		}
		if base < 0 {
			evidence["required"] = "a preceding period"
			return rejectWith(c, ReasonNoPriorPeriod, evidence)
		}
		prev := pts[base]
		change := cur.Value.Sub(prev.Value)
		tol := decimal.Zero
		if c.Tolerance != nil {
			tol = c.Tolerance.Abs()
		}
		evidence["prev_date"] = prev.Date.String()
		evidence["prev_value"] = prev.Value
		evidence["change"] = change
		evidence["tolerance"] = tol
		return verdict(c, change, change.Sub(c.Value).Abs().LessThanOrEqual(tol), evidence)

	case OpYoY:
		switch s.Frequency {
		case model.FrequencyMonthly, model.FrequencyQuarterly, model.FrequencyAnnual:
		default:
			evidence["freq"] = string(s.Frequency)
			evidence["required"] = []string{"M", "Q", "A"}
			return rejectWith(c, ReasonInvalidFrequencyForYoY, evidence)
		}
		return v.growth(c, pts, cur, cur.Date.AddDate(-1, 0, 0), apperrors.KindInsufficientDataForYoY, evidence)

	case OpQoQ:
		if s.Frequency != model.FrequencyQuarterly {
			evidence["freq"] = string(s.Frequency)
			evidence["required"] = []string{"Q"}
			return rejectWith(c, ReasonInvalidFrequencyForQoQ, evidence)
		}
		return v.growth(c, pts, cur, cur.Date.AddDate(0, -3, 0), apperrors.KindInsufficientDataForQoQ, evidence)
	}

	evidence["operator"] = string(c.Operator)
	return rejectWith(c, ReasonUnsupportedOperator, evidence)
}

// growth compares the percentage change between cur and the point found at
// checked. The previous point must fall within the snap window of checked.
func (v *Verifier) growth(c Claim, pts []Point, cur Point, checked time.Time, missing apperrors.Kind, evidence map[string]any) Result {
	checkedDate := NewDate(checked)
	evidence["checked_date"] = checkedDate.String()
	evidence["snap_window_days"] = v.snapDays

	j := v.locate(pts, checked)
	if j < 0 || !pts[j].Date.Before(cur.Date.Time) {
		return rejectWith(c, string(missing), evidence)
	}
	prev := pts[j]
	evidence["prev_date"] = prev.Date.String()
	evidence["prev_value"] = prev.Value
	if prev.Value.IsZero() {
		return rejectWith(c, ReasonDivisionUndefined, evidence)
	}

	pct := cur.Value.Div(prev.Value).Sub(decimal.NewFromInt(1)).Mul(hundred)
	tol := v.pctTolerance
	if c.Tolerance != nil {
		tol = c.Tolerance.Abs()
	}
	evidence["pct"] = pct
	evidence["tolerance"] = tol
	return verdict(c, pct, pct.Sub(c.Value).Abs().LessThanOrEqual(tol), evidence)
}

func compare(op Operator, observed, claimed, tol decimal.Decimal) bool {
	switch op {
	case OpEqual:
		return observed.Sub(claimed).Abs().LessThanOrEqual(tol)
	case OpLess:
		return observed.Sub(tol).LessThan(claimed)
	case OpLessEqual:
		return observed.Sub(tol).LessThanOrEqual(claimed)
	case OpGreater:
		return observed.Add(tol).GreaterThan(claimed)
	case OpGreaterEqual:
		return observed.Add(tol).GreaterThanOrEqual(claimed)
	}
	return false
}

func verdict(c Claim, observed decimal.Decimal, ok bool, evidence map[string]any) Result {
	obs := observed
	r := Result{ClaimID: c.ID, Verified: ok, Observed: &obs, Evidence: evidence}
	if !ok {
		r.Reason = ReasonValueMismatch
		evidence["claimed"] = c.Value
	}
	return r
}

func rejectWith(c Claim, reason string, evidence map[string]any) Result {
	return Result{ClaimID: c.ID, Verified: false, Reason: reason, Evidence: evidence}
}
