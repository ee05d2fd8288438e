package ecb

import (
	"time"

	"github.com/shopspring/decimal"
)

// Dataset and method recorded in fx-reference citations.
const (
	SourceName = "ECB SDW"
	Dataset    = "EXR"
	Method     = "EUR_centric_cross_rate"
)

// Observation is one published euro reference rate: units of Currency per one EUR.
type Observation struct {
	Currency string
	Date     time.Time
	Rate     decimal.Decimal
}
