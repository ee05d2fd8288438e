package grounding

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/model"
)

// Operator is a claim comparison.
type Operator string

const (
	OpEqual        Operator = "="
	OpLess         Operator = "<"
	OpLessEqual    Operator = "<="
	OpGreater      Operator = ">"
	OpGreaterEqual Operator = ">="
	OpChange       Operator = "change"
	OpYoY          Operator = "yoy"
	OpQoQ          Operator = "qoq"
)

// Rejection reasons that are not error kinds of their own.
const (
	ReasonSeriesNotFound         = "series_not_found"
	ReasonEmptySeries            = "empty_series"
	ReasonPeriodUnavailable      = "period_unavailable"
	ReasonNoPriorPeriod          = "insufficient_history"
	ReasonInvalidFrequencyForYoY = "invalid_frequency_for_yoy"
	ReasonInvalidFrequencyForQoQ = "invalid_frequency_for_qoq"
	ReasonDivisionUndefined      = "division_undefined"
	ReasonUnsupportedOperator    = "unsupported_operator"
	ReasonValueMismatch          = "value_mismatch"
)

// Date is a calendar date that marshals as YYYY-MM-DD.
type Date struct {
	time.Time
}

// NewDate truncates t to a UTC calendar date.
func NewDate(t time.Time) Date {
	y, m, d := t.UTC().Date()
	return Date{time.Date(y, m, d, 0, 0, 0, 0, time.UTC)}
}

// MustDate parses YYYY-MM-DD or panics; for fixtures.
func MustDate(s string) Date {
	d, err := ParseDate(s)
	if err != nil {
		panic(err)
	}
	return d
}

// ParseDate accepts YYYY-MM-DD or RFC 3339.
func ParseDate(s string) (Date, error) {
	if t, err := time.Parse(model.DateLayout, s); err == nil {
		return NewDate(t), nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q", s)
	}
	return NewDate(t), nil
}

func (d Date) String() string {
	return d.Format(model.DateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Claim is one numeric assertion to check.
type Claim struct {
	ID        string           `json:"id"`
	Metric    string           `json:"metric"`
	Operator  Operator         `json:"operator"`
	Value     decimal.Decimal  `json:"value"`
	At        *Date            `json:"at,omitempty"`
	Tolerance *decimal.Decimal `json:"tolerance,omitempty"`
	// Window is the look-back in days for change claims. Zero compares
	// with the preceding point.
	Window int `json:"window,omitempty"`
}

// Point is one observation in a series.
type Point struct {
	Date  Date
	Value decimal.Decimal
}

// MarshalJSON writes the object form.
func (p Point) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Date  Date            `json:"date"`
		Value decimal.Decimal `json:"value"`
	}{p.Date, p.Value})
}

// UnmarshalJSON accepts either {"date": ..., "value": ...} or a
// ["2024-01-01", 3.1] pair.
func (p *Point) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '[' {
		var pair []json.RawMessage
		if err := json.Unmarshal(data, &pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("series point must be [date, value], got %d elements", len(pair))
		}
		if err := json.Unmarshal(pair[0], &p.Date); err != nil {
			return err
		}
		return json.Unmarshal(pair[1], &p.Value)
	}
	var obj struct {
		Date  Date            `json:"date"`
		Value decimal.Decimal `json:"value"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	p.Date, p.Value = obj.Date, obj.Value
	return nil
}

// Series is a caller-supplied time series.
type Series struct {
	ID        string          `json:"id"`
	Frequency model.Frequency `json:"freq"`
	Points    []Point         `json:"points"`
}

// Context is the set of series claims are checked against.
type Context struct {
	Series []Series `json:"series"`
}

// Result is the verdict for one claim. Reason is set only when the claim
// could not be decided or did not hold.
type Result struct {
	ClaimID  string           `json:"claim_id"`
	Verified bool             `json:"verified"`
	Observed *decimal.Decimal `json:"observed,omitempty"`
	Reason   string           `json:"reason,omitempty"`
	Evidence map[string]any   `json:"evidence"`
}

// Report is the outcome of verifying a batch of claims.
type Report struct {
	AllVerified bool     `json:"all_verified"`
	Results     []Result `json:"results"`
}
