package model

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// PeriodKind tells how a Period selector matches facts.
type PeriodKind int

const (
	PeriodLatest PeriodKind = iota
	PeriodDate
	PeriodQuarter
	PeriodFiscalYear
)

// DateLayout is the storage and wire format for period dates.
const DateLayout = "2006-01-02"

var (
	quarterPattern = regexp.MustCompile(`^(\d{4})-?Q([1-4])$`)
	yearPattern    = regexp.MustCompile(`^(?:FY)?(\d{4})$`)
)

// Period selects which reporting period a fact must belong to.
type Period struct {
	Kind    PeriodKind
	Date    time.Time
	Year    int
	Quarter int
}

// ParsePeriod accepts "latest" (or empty), an ISO period-end date, a fiscal
// quarter such as "2024-Q4", or a fiscal year such as "2024" or "FY2024".
func ParsePeriod(s string) (Period, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "LATEST" {
		return Period{Kind: PeriodLatest}, nil
	}
	if m := quarterPattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		quarter, _ := strconv.Atoi(m[2])
		return Period{Kind: PeriodQuarter, Year: year, Quarter: quarter}, nil
	}
	if m := yearPattern.FindStringSubmatch(s); m != nil {
		year, _ := strconv.Atoi(m[1])
		return Period{Kind: PeriodFiscalYear, Year: year}, nil
	}
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period %q: expected latest, YYYY-MM-DD, YYYY-Qn or FYYYYY", s)
	}
	return Period{Kind: PeriodDate, Date: d.UTC()}, nil
}

// String renders the selector in the same form ParsePeriod accepts.
func (p Period) String() string {
	switch p.Kind {
	case PeriodDate:
		return p.Date.Format(DateLayout)
	case PeriodQuarter:
		return fmt.Sprintf("%d-Q%d", p.Year, p.Quarter)
	case PeriodFiscalYear:
		return fmt.Sprintf("FY%d", p.Year)
	default:
		return "latest"
	}
}

// Matches reports whether the fact belongs to the selected period. Fiscal
// labels win when the filer supplied them; otherwise the calendar of the
// period end is used.
func (p Period) Matches(f Fact) bool {
	switch p.Kind {
	case PeriodLatest:
		return true
	case PeriodDate:
		return f.PeriodEnd.Equal(p.Date)
	case PeriodQuarter:
		if f.FiscalYear != 0 && strings.HasPrefix(f.FiscalPeriod, "Q") {
			return f.FiscalYear == p.Year && f.FiscalPeriod == fmt.Sprintf("Q%d", p.Quarter)
		}
		end := f.PeriodEnd
		return end.Year() == p.Year && (int(end.Month())-1)/3+1 == p.Quarter
	case PeriodFiscalYear:
		if f.FiscalYear != 0 {
			return f.FiscalYear == p.Year
		}
		return f.PeriodEnd.Year() == p.Year
	}
	return false
}

// ParseFrequency validates a frequency code.
func ParseFrequency(s string) (Frequency, error) {
	switch f := Frequency(strings.ToUpper(strings.TrimSpace(s))); f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyAnnual:
		return f, nil
	}
	return "", fmt.Errorf("invalid frequency %q: expected one of D, W, M, Q, A", s)
}
