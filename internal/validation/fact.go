package validation

import (
	"strings"

	"github.com/finmetrics/grounding/internal/model"
)

// ValidateIssuer validates an issuer record before it is stored.
func ValidateIssuer(is model.Issuer) error {
	errors := make(map[string]string)

	if err := ValidateIssuerID(is.ID); err != nil {
		errors["id"] = err.Error()
	}
	if strings.TrimSpace(is.Name) == "" {
		errors["name"] = "name is required"
	}
	if is.Taxonomy != model.TaxonomyGAAP && is.Taxonomy != model.TaxonomyIFRS {
		errors["taxonomy"] = "taxonomy must be gaap or ifrs"
	}
	if err := ValidateCurrency(is.ReportingCurrency); err != nil {
		errors["reporting_currency"] = err.Error()
	}
	if is.Source != "" && is.Source != model.SourceRegulatorFiling && is.Source != model.SourceDemo {
		errors["source"] = "source must be regulator-filing or demo"
	}

	return result(errors)
}

// ValidateFact validates a fact record before it is stored.
func ValidateFact(f model.Fact) error {
	errors := make(map[string]string)

	if strings.TrimSpace(f.Concept) == "" {
		errors["concept"] = "concept is required"
	}
	if strings.TrimSpace(f.Unit) == "" {
		errors["unit"] = "unit is required"
	}
	if f.PeriodEnd.IsZero() {
		errors["period_end"] = "period_end is required"
	}
	if f.PeriodStart != nil && !f.PeriodStart.Before(f.PeriodEnd) {
		errors["period_start"] = "period_start must be before period_end"
	}
	if f.Frequency != model.FrequencyQuarterly && f.Frequency != model.FrequencyAnnual {
		errors["freq"] = "freq must be Q or A"
	}
	if err := ValidateAccession(f.Accession); err != nil {
		errors["accession"] = err.Error()
	}
	if f.Dimension != nil && (f.Dimension.Axis == "" || f.Dimension.Member == "") {
		errors["dimension"] = "dimension needs both axis and member"
	}

	return result(errors)
}
