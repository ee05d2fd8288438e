package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

// MaxSeriesLimit caps how many periods a series request may return.
const MaxSeriesLimit = 200

// Common validation errors
var (
	ErrInvalidUUID      = fmt.Errorf("invalid UUID format")
	ErrInvalidIssuerID  = fmt.Errorf("invalid issuer id")
	ErrInvalidAccession = fmt.Errorf("invalid accession number")
	ErrEmptySlice       = fmt.Errorf("slice cannot be empty")
)

var (
	issuerPattern    = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,31}$`)
	accessionPattern = regexp.MustCompile(`^\d{10}-\d{2}-\d{6}$`)
)

// ValidateUUID checks if a string is a valid UUID
func ValidateUUID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidUUID, id)
	}
	return nil
}

// ValidateIssuerID checks an issuer id: a ticker-like token of letters,
// digits, dots, dashes and underscores.
func ValidateIssuerID(id string) error {
	if !issuerPattern.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidIssuerID, id)
	}
	return nil
}

// ValidateAccession checks the regulator accession format 0000320193-24-000123.
func ValidateAccession(accn string) error {
	if !accessionPattern.MatchString(accn) {
		return fmt.Errorf("%w: %q", ErrInvalidAccession, accn)
	}
	return nil
}

// ValidateCurrency checks an ISO-4217 code.
func ValidateCurrency(code string) error {
	if !units.ValidCurrency(strings.ToUpper(code)) {
		return fmt.Errorf("unknown currency %q", code)
	}
	return nil
}

// ValidateFilingFrequency accepts the frequencies filings are reported at.
func ValidateFilingFrequency(freq string) error {
	f, err := model.ParseFrequency(freq)
	if err != nil {
		return err
	}
	if f != model.FrequencyQuarterly && f != model.FrequencyAnnual {
		return fmt.Errorf("frequency must be Q or A, got %q", freq)
	}
	return nil
}

// ValidateLimit checks a series length.
func ValidateLimit(limit int) error {
	if limit < 0 || limit > MaxSeriesLimit {
		return fmt.Errorf("limit must be between 1 and %d", MaxSeriesLimit)
	}
	return nil
}
