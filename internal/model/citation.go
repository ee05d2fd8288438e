package model

import "github.com/shopspring/decimal"

// Citation sources.
const (
	CitationSourceFiling = "regulator-filing"
	CitationSourceFX     = "fx-reference"
)

// Citation points a returned number back at the document it came from.
type Citation struct {
	Source    string        `json:"source"`
	Concept   string        `json:"concept,omitempty"`
	Tag       string        `json:"tag,omitempty"`
	Accession string        `json:"accession,omitempty"`
	URL       string        `json:"url"`
	Taxonomy  Taxonomy      `json:"taxonomy,omitempty"`
	Unit      string        `json:"unit"`
	Scale     int           `json:"scale"`
	PeriodEnd string        `json:"period_end,omitempty"`
	Form      string        `json:"form,omitempty"`
	Amended   bool          `json:"amended,omitempty"`
	Dimension *Dimension    `json:"dimension,omitempty"`
	FXUsed    *FXProvenance `json:"fx_used,omitempty"`
	// Degraded marks a stored fact served while its source was unreachable.
	Degraded bool `json:"degraded,omitempty"`
}

// Key identifies a citation for de-duplication.
func (c Citation) Key() string {
	key := c.Source + "|" + c.Accession + "|" + c.Concept + "|" + c.PeriodEnd + "|" + c.Unit
	if c.Dimension != nil {
		key += "|" + c.Dimension.Axis + "=" + c.Dimension.Member
	}
	if c.FXUsed != nil {
		key += "|" + c.FXUsed.Pair + "@" + c.FXUsed.Date
	}
	return key
}

// FXLeg is one published reference rate used in a conversion.
// Rate is units of Quote per one unit of Base.
type FXLeg struct {
	Base  string          `json:"base"`
	Quote string          `json:"quote"`
	Date  string          `json:"date"`
	Rate  decimal.Decimal `json:"rate"`
}

// FXProvenance records exactly which rate produced a converted number.
// Date is the oldest leg date actually used, which may precede RequestedDate.
type FXProvenance struct {
	Pair          string          `json:"pair"`
	From          string          `json:"from"`
	To            string          `json:"to"`
	RequestedDate string          `json:"requested_date"`
	Date          string          `json:"date"`
	Rate          decimal.Decimal `json:"rate"`
	Source        string          `json:"source"`
	Dataset       string          `json:"dataset"`
	Method        string          `json:"method"`
	Legs          []FXLeg         `json:"legs"`
	Degraded      bool            `json:"degraded,omitempty"`
}
