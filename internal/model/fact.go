package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Frequency is the native reporting frequency of a fact or series.
type Frequency string

const (
	FrequencyDaily     Frequency = "D"
	FrequencyWeekly    Frequency = "W"
	FrequencyMonthly   Frequency = "M"
	FrequencyQuarterly Frequency = "Q"
	FrequencyAnnual    Frequency = "A"
)

// Taxonomy identifies the reporting taxonomy an issuer files under.
type Taxonomy string

const (
	TaxonomyGAAP Taxonomy = "gaap"
	TaxonomyIFRS Taxonomy = "ifrs"
)

// AmendmentStatus distinguishes the first filing of a fact from later amendments.
type AmendmentStatus string

const (
	AmendmentOriginal AmendmentStatus = "original"
	AmendmentAmended  AmendmentStatus = "amended"
)

// Data sources for issuers and facts.
const (
	SourceRegulatorFiling = "regulator-filing"
	SourceDemo            = "demo"
)

// Dimension is an axis/member qualifier published with a segment fact.
// Both identifiers are kept verbatim as the filer tagged them.
type Dimension struct {
	Axis   string `json:"axis" yaml:"axis"`
	Member string `json:"member" yaml:"member"`
}

// Issuer is a reporting entity known to the fact store.
type Issuer struct {
	ID                string   `json:"id" yaml:"id"`
	Name              string   `json:"name" yaml:"name"`
	CIK               string   `json:"cik,omitempty" yaml:"cik"`
	Taxonomy          Taxonomy `json:"taxonomy" yaml:"taxonomy"`
	ReportingCurrency string   `json:"reporting_currency" yaml:"reporting_currency"`
	Source            string   `json:"source" yaml:"source"`
}

// Fact is an immutable observation taken from a filing. RawValue is stored
// exactly as filed; Scale is the power-of-ten exponent the filer applied.
type Fact struct {
	ID              string
	IssuerID        string
	Concept         string
	Tag             string
	Taxonomy        Taxonomy
	RawValue        decimal.Decimal
	Unit            string
	Scale           int
	Currency        string
	PeriodStart     *time.Time
	PeriodEnd       time.Time
	FiscalYear      int
	FiscalPeriod    string
	Frequency       Frequency
	Accession       string
	Form            string
	AmendmentStatus AmendmentStatus
	FiledAt         time.Time
	Dimension       *Dimension
	URL             string
	Source          string
}

// IsAmended reports whether the fact came from an amended filing.
func (f Fact) IsAmended() bool {
	return f.AmendmentStatus == AmendmentAmended
}
