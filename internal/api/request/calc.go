package request

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// ExplainRequest is the request body for POST /calc/explain.
type ExplainRequest struct {
	Issuer     string `json:"issuer"`                // Issuer is the registered issuer ID.
	Expr       string `json:"expr"`                  // Expr is the expression over concepts and metrics.
	Period     string `json:"period"`                // Period is latest, YYYY-MM-DD, YYYY-Qn or FYYYYY.
	Freq       string `json:"freq"`                  // Freq is Q or A. Defaults from the period.
	Currency   string `json:"currency,omitempty"`    // Currency converts every monetary leaf before evaluation.
	AsReported bool   `json:"as_reported,omitempty"` // AsReported ignores amended filings.
	Accession  string `json:"accession,omitempty"`   // Accession pins every leaf to one filing.
	TTM        bool   `json:"ttm,omitempty"`         // TTM evaluates every leaf on a trailing-twelve-month basis.
}

// VerifyExpressionRequest is the request body for POST /calc/verify-expression.
type VerifyExpressionRequest struct {
	ExplainRequest
	AssertValue Assertion        `json:"assert_value"`
	Tolerance   *decimal.Decimal `json:"tolerance,omitempty"`
}

// Assertion is an expected value given either as a JSON number or as a
// string such as "≈ 0.41".
type Assertion string

func (a *Assertion) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Assertion(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("assert_value must be a number or a string")
	}
	*a = Assertion(n.String())
	return nil
}
