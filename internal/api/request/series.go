package request

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/finmetrics/grounding/internal/model"
)

// DefaultSeriesLimit is the number of periods returned when no limit is given.
const DefaultSeriesLimit = 8

// SeriesFilters are the query parameters of the series endpoints.
type SeriesFilters struct {
	Frequency  model.Frequency
	Limit      int
	AsReported bool
	Axis       string
	Member     string
	Period     string
}

// ParseSeriesFilters extracts series filters from query parameters.
// All parameters are optional.
//
// Parsing rules:
//   - freq: Q or A (defaults to Q)
//   - limit: a positive number (defaults to DefaultSeriesLimit)
//   - as_reported: true/false, 1/0
//   - dim and member: passed through trimmed
//   - period: passed through; parsed by the resolver
//
// Range checks on limit are left to the validation package.
func ParseSeriesFilters(freqParam, limitParam, asReportedParam, dimParam, memberParam, periodParam string) (*SeriesFilters, error) {
	filters := &SeriesFilters{
		Frequency: model.FrequencyQuarterly,
		Limit:     DefaultSeriesLimit,
		Axis:      strings.TrimSpace(dimParam),
		Member:    strings.TrimSpace(memberParam),
		Period:    strings.TrimSpace(periodParam),
	}

	if freqParam != "" {
		freq, err := model.ParseFrequency(freqParam)
		if err != nil {
			return nil, err
		}
		if freq != model.FrequencyQuarterly && freq != model.FrequencyAnnual {
			return nil, fmt.Errorf("invalid freq: filing series are Q or A, got %q", freqParam)
		}
		filters.Frequency = freq
	}

	if limitParam != "" {
		limit, err := strconv.Atoi(limitParam)
		if err != nil {
			return nil, fmt.Errorf("invalid limit: must be a number")
		}
		if limit < 1 {
			return nil, fmt.Errorf("invalid limit: must be at least 1")
		}
		filters.Limit = limit
	}

	if asReportedParam != "" {
		asReported, err := strconv.ParseBool(asReportedParam)
		if err != nil {
			return nil, fmt.Errorf("invalid as_reported: must be true or false")
		}
		filters.AsReported = asReported
	}

	if filters.Member != "" && filters.Axis == "" {
		return nil, fmt.Errorf("member requires dim")
	}

	return filters, nil
}
