package testutil

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

// IssuerBuilder provides a fluent interface for creating test issuers.
//
// Example usage:
//
//	// Simple creation with defaults (US-GAAP, USD, regulator filings)
//	issuer := testutil.NewIssuer().Build(t, db)
//
//	// Customized issuer
//	issuer := testutil.NewIssuer().
//	    WithID("SAP").
//	    IFRS("EUR").
//	    Build(t, db)
type IssuerBuilder struct {
	ID                string
	Name              string
	CIK               string
	Taxonomy          model.Taxonomy
	ReportingCurrency string
	Source            string
}

// NewIssuer creates an IssuerBuilder with sensible defaults.
func NewIssuer() *IssuerBuilder {
	id := MakeIssuerID()
	return &IssuerBuilder{
		ID:                id,
		Name:              id + " Inc.",
		Taxonomy:          model.TaxonomyGAAP,
		ReportingCurrency: "USD",
		Source:            model.SourceRegulatorFiling,
	}
}

// WithID sets a custom ID.
func (b *IssuerBuilder) WithID(id string) *IssuerBuilder {
	b.ID = id
	return b
}

// WithCIK sets the regulator's central index key.
func (b *IssuerBuilder) WithCIK(cik string) *IssuerBuilder {
	b.CIK = cik
	return b
}

// IFRS marks the issuer as an IFRS filer reporting in currency.
func (b *IssuerBuilder) IFRS(currency string) *IssuerBuilder {
	b.Taxonomy = model.TaxonomyIFRS
	b.ReportingCurrency = currency
	return b
}

// Demo marks the issuer as backed only by demo data.
func (b *IssuerBuilder) Demo() *IssuerBuilder {
	b.Source = model.SourceDemo
	return b
}

// Build creates the issuer in the database and returns it.
func (b *IssuerBuilder) Build(t *testing.T, db *sql.DB) model.Issuer {
	t.Helper()

	query := `
		INSERT INTO issuer (id, name, cik, taxonomy, reporting_currency, source)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query, b.ID, b.Name, b.CIK, string(b.Taxonomy), b.ReportingCurrency, b.Source)
	if err != nil {
		t.Fatalf("Failed to create test issuer: %v", err)
	}

	return model.Issuer{
		ID:                b.ID,
		Name:              b.Name,
		CIK:               b.CIK,
		Taxonomy:          b.Taxonomy,
		ReportingCurrency: b.ReportingCurrency,
		Source:            b.Source,
	}
}

// FactBuilder provides a fluent interface for creating test facts.
// Defaults describe quarterly revenue of 100 USD for the quarter ending
// 2024-12-31, filed on a 10-Q.
//
// Example usage:
//
//	testutil.NewFact(issuer.ID).Build(t, db)
//
//	testutil.NewFact(issuer.ID).
//	    WithConcept("costOfRevenue", "CostOfRevenue").
//	    WithValue("60").
//	    Build(t, db)
//
//	// An amendment of the same period
//	testutil.NewFact(issuer.ID).
//	    WithValue("105").
//	    Amended("0000000001-25-000009", "2025-03-01").
//	    Build(t, db)
type FactBuilder struct {
	fact model.Fact
}

// NewFact creates a FactBuilder with sensible defaults for issuerID.
func NewFact(issuerID string) *FactBuilder {
	start := MustDate("2024-10-01")
	return &FactBuilder{fact: model.Fact{
		ID:              MakeID(),
		IssuerID:        issuerID,
		Concept:         "revenue",
		Tag:             "Revenues",
		Taxonomy:        model.TaxonomyGAAP,
		RawValue:        decimal.NewFromInt(100),
		Unit:            "USD",
		Currency:        "USD",
		PeriodStart:     &start,
		PeriodEnd:       MustDate("2024-12-31"),
		FiscalYear:      2024,
		FiscalPeriod:    "Q4",
		Frequency:       model.FrequencyQuarterly,
		Accession:       "0000000001-25-000001",
		Form:            "10-Q",
		AmendmentStatus: model.AmendmentOriginal,
		FiledAt:         MustDate("2025-01-30"),
		URL:             "https://www.sec.gov/Archives/edgar/data/1/000000000125000001/",
		Source:          model.SourceRegulatorFiling,
	}}
}

// WithConcept sets the canonical concept and the tag it was filed under.
func (b *FactBuilder) WithConcept(concept, tag string) *FactBuilder {
	b.fact.Concept = concept
	b.fact.Tag = tag
	return b
}

// WithTaxonomy sets the taxonomy.
func (b *FactBuilder) WithTaxonomy(tax model.Taxonomy) *FactBuilder {
	b.fact.Taxonomy = tax
	return b
}

// WithValue sets the raw value as filed.
func (b *FactBuilder) WithValue(v string) *FactBuilder {
	b.fact.RawValue = decimal.RequireFromString(v)
	return b
}

// WithUnit sets the unit and derives the currency from it.
func (b *FactBuilder) WithUnit(unit string) *FactBuilder {
	b.fact.Unit = unit
	b.fact.Currency = units.CurrencyOf(unit)
	return b
}

// WithScale sets the power-of-ten exponent the filer applied.
func (b *FactBuilder) WithScale(exp int) *FactBuilder {
	b.fact.Scale = exp
	return b
}

// WithPeriod sets a duration period. Dates are YYYY-MM-DD.
func (b *FactBuilder) WithPeriod(start, end string) *FactBuilder {
	s := MustDate(start)
	b.fact.PeriodStart = &s
	b.fact.PeriodEnd = MustDate(end)
	return b
}

// Instant makes the fact a balance at end.
func (b *FactBuilder) Instant(end string) *FactBuilder {
	b.fact.PeriodStart = nil
	b.fact.PeriodEnd = MustDate(end)
	return b
}

// WithFiscal sets the fiscal year and period labels.
func (b *FactBuilder) WithFiscal(year int, period string) *FactBuilder {
	b.fact.FiscalYear = year
	b.fact.FiscalPeriod = period
	return b
}

// Annual marks the fact as an annual figure reported on a 10-K.
func (b *FactBuilder) Annual() *FactBuilder {
	b.fact.Frequency = model.FrequencyAnnual
	b.fact.FiscalPeriod = "FY"
	b.fact.Form = "10-K"
	return b
}

// WithAccession sets the filing accession.
func (b *FactBuilder) WithAccession(accn string) *FactBuilder {
	b.fact.Accession = accn
	return b
}

// WithFiled sets the filing date.
func (b *FactBuilder) WithFiled(date string) *FactBuilder {
	b.fact.FiledAt = MustDate(date)
	return b
}

// Amended marks the fact as coming from an amended filing.
func (b *FactBuilder) Amended(accn, filed string) *FactBuilder {
	b.fact.Accession = accn
	b.fact.FiledAt = MustDate(filed)
	b.fact.AmendmentStatus = model.AmendmentAmended
	b.fact.Form += "/A"
	return b
}

// WithDimension qualifies the fact by an axis and member.
func (b *FactBuilder) WithDimension(axis, member string) *FactBuilder {
	b.fact.Dimension = &model.Dimension{Axis: axis, Member: member}
	return b
}

// Demo marks the fact as demo data.
func (b *FactBuilder) Demo() *FactBuilder {
	b.fact.Source = model.SourceDemo
	return b
}

// Fact returns the fact without storing it.
func (b *FactBuilder) Fact() model.Fact {
	return b.fact
}

// Build creates the fact in the database and returns it.
func (b *FactBuilder) Build(t *testing.T, db *sql.DB) model.Fact {
	t.Helper()

	f := b.fact
	axis, member := "", ""
	if f.Dimension != nil {
		axis, member = f.Dimension.Axis, f.Dimension.Member
	}
	var start any
	if f.PeriodStart != nil {
		start = f.PeriodStart.Format(model.DateLayout)
	}

	query := `
		INSERT INTO fact (id, issuer_id, concept, tag, taxonomy, raw_value, unit, scale, currency,
			period_start, period_end, fiscal_year, fiscal_period, frequency, accession, form,
			amendment_status, filed_at, dimension_axis, dimension_member, url, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := db.Exec(query,
		f.ID, f.IssuerID, f.Concept, f.Tag, string(f.Taxonomy), f.RawValue.String(), f.Unit, f.Scale, f.Currency,
		start, f.PeriodEnd.Format(model.DateLayout), f.FiscalYear, f.FiscalPeriod, string(f.Frequency),
		f.Accession, f.Form, string(f.AmendmentStatus), f.FiledAt.Format(time.RFC3339),
		axis, member, f.URL, f.Source,
	)
	if err != nil {
		t.Fatalf("Failed to create test fact: %v", err)
	}

	return f
}

// Convenience functions

// CreateQuarters stores one quarterly fact per period end, oldest first,
// with distinct accessions.
//
// Example usage:
//
//	testutil.CreateQuarters(t, db, issuer.ID, "revenue", "Revenues",
//	    map[string]string{"2024-03-31": "10", "2024-06-30": "20"})
func CreateQuarters(t *testing.T, db *sql.DB, issuerID, concept, tag string, values map[string]string) []model.Fact {
	t.Helper()

	out := make([]model.Fact, 0, len(values))
	i := 0
	for end, v := range values {
		i++
		e := MustDate(end)
		out = append(out, NewFact(issuerID).
			WithConcept(concept, tag).
			WithValue(v).
			WithPeriod(e.AddDate(0, -3, 1).Format(model.DateLayout), end).
			WithFiscal(e.Year(), fmt.Sprintf("Q%d", (int(e.Month())+2)/3)).
			WithAccession(MakeAccession(e.Year()%100, e.YearDay()*10+i)).
			WithFiled(e.AddDate(0, 1, 0).Format(model.DateLayout)).
			Build(t, db))
	}
	return out
}

// CreateFXRate stores a EUR-based reference rate.
//
// Example usage:
//
//	testutil.CreateFXRate(t, db, "USD", "2024-12-31", "1.0389")
func CreateFXRate(t *testing.T, db *sql.DB, quote, date, rate string) model.FXRate {
	t.Helper()

	r := model.FXRate{
		BaseCurrency:  "EUR",
		QuoteCurrency: quote,
		Date:          MustDate(date),
		Rate:          decimal.RequireFromString(rate),
		SourceDataset: "EXR",
		Method:        "reference",
		FetchedAt:     time.Now().UTC(),
	}

	query := `
		INSERT INTO fx_rate (base_currency, quote_currency, date, rate, source_dataset, method, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.Exec(query, r.BaseCurrency, r.QuoteCurrency, date, r.Rate.String(), r.SourceDataset, r.Method,
		r.FetchedAt.Format(time.RFC3339))
	if err != nil {
		t.Fatalf("Failed to create test fx rate: %v", err)
	}
	return r
}
