package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// FXRate is a published reference rate: units of QuoteCurrency per one BaseCurrency.
type FXRate struct {
	BaseCurrency  string
	QuoteCurrency string
	Date          time.Time
	Rate          decimal.Decimal
	SourceDataset string
	Method        string
	FetchedAt     time.Time
}

// Equal reports whether two rates describe the same publication.
func (r FXRate) Equal(other FXRate) bool {
	return r.BaseCurrency == other.BaseCurrency &&
		r.QuoteCurrency == other.QuoteCurrency &&
		r.Date.Equal(other.Date) &&
		r.Rate.Equal(other.Rate)
}
