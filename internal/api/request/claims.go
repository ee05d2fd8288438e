package request

import (
	"github.com/finmetrics/grounding/internal/grounding"
)

// SeriesSpec is one series in a claims context. Points may be supplied
// inline; when they are omitted, Issuer and Concept name a stored series
// that is loaded instead.
type SeriesSpec struct {
	ID      string            `json:"id"`
	Freq    string            `json:"freq"`
	Points  []grounding.Point `json:"points,omitempty"`
	Issuer  string            `json:"issuer,omitempty"`
	Concept string            `json:"concept,omitempty"`
	Limit   int               `json:"limit,omitempty"`
}

// ClaimsContext carries the series claims are verified against.
type ClaimsContext struct {
	Series []SeriesSpec `json:"series"`
}

// VerifyClaimsRequest is the request body for POST /claims/verify.
type VerifyClaimsRequest struct {
	Context  ClaimsContext     `json:"context"`
	Claims   []grounding.Claim `json:"claims"`
	Grounded bool              `json:"grounded,omitempty"` // Grounded rejects the whole request if any claim fails.
}
