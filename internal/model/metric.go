package model

import "github.com/shopspring/decimal"

// MetricPoint is one period of a resolved concept or metric series.
type MetricPoint struct {
	PeriodEnd string          `json:"period_end"`
	Value     decimal.Decimal `json:"value"`
	Unit      string          `json:"unit"`
	Currency  string          `json:"currency,omitempty"`
	Citations []Citation      `json:"citations"`
	Demo      bool            `json:"demo_data,omitempty"`
}

// SeriesGap records a period that exists for the series but could not be computed.
type SeriesGap struct {
	PeriodEnd string `json:"period_end"`
	Reason    string `json:"reason"`
}
