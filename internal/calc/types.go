package calc

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

// LeafQuery asks for the canonical value of one concept.
type LeafQuery struct {
	IssuerID     string
	Concept      string
	Period       model.Period
	Frequency    model.Frequency
	AsReported   bool
	AccessionPin string
	TTM          bool
}

// Leaf is a resolved concept value in its reporting currency.
type Leaf struct {
	Value     decimal.Decimal
	Kind      units.Kind
	Currency  string
	Unit      string
	AsOf      time.Time
	Citations []model.Citation
	Demo      bool
}

// Source resolves leaves. Implementations must be safe for concurrent use.
type Source interface {
	Leaf(ctx context.Context, q LeafQuery) (Leaf, error)
}

// Converter converts monetary values between currencies and returns the
// fx-reference citation for the rate used. A nil citation means no
// conversion happened.
type Converter interface {
	Normalize(ctx context.Context, value decimal.Decimal, from, to string, asOf time.Time) (decimal.Decimal, *model.Citation, error)
}

// Request is one evaluation.
type Request struct {
	IssuerID     string
	Expr         string
	Period       model.Period
	Frequency    model.Frequency
	Currency     string
	AsReported   bool
	AccessionPin string
	TTM          bool
}

// Term is one node of the evaluation breakdown.
type Term struct {
	Expr     string          `json:"expr"`
	Op       string          `json:"op,omitempty"`
	Concept  string          `json:"concept,omitempty"`
	Metric   string          `json:"metric,omitempty"`
	Formula  string          `json:"formula,omitempty"`
	TTM      bool            `json:"ttm,omitempty"`
	Value    decimal.Decimal `json:"value"`
	Kind     units.Kind      `json:"kind"`
	Currency string          `json:"currency,omitempty"`
	Left     *Term           `json:"left,omitempty"`
	Right    *Term           `json:"right,omitempty"`
}

// Result is the outcome of an explain evaluation.
type Result struct {
	Expr      string           `json:"expr"`
	IssuerID  string           `json:"issuer"`
	Period    string           `json:"period"`
	Frequency model.Frequency  `json:"freq"`
	Value     decimal.Decimal  `json:"value"`
	Kind      units.Kind       `json:"kind"`
	Currency  string           `json:"currency,omitempty"`
	Breakdown *Term            `json:"breakdown"`
	Citations []model.Citation `json:"citations"`
	FXApplied bool             `json:"fx_applied"`
	Demo      bool             `json:"demo_data,omitempty"`
}

// Verification is the outcome of a verify evaluation.
type Verification struct {
	Verified   bool             `json:"verified"`
	Observed   decimal.Decimal  `json:"observed"`
	Expected   decimal.Decimal  `json:"expected"`
	Difference decimal.Decimal  `json:"difference"`
	Tolerance  decimal.Decimal  `json:"tolerance"`
	Expr       string           `json:"expr"`
	Citations  []model.Citation `json:"citations"`
}
