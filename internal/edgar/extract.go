package edgar

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/units"
)

// Taxonomy prefixes used by companyfacts.
var taxonomyPrefixes = map[string]model.Taxonomy{
	"us-gaap":   model.TaxonomyGAAP,
	"ifrs-full": model.TaxonomyIFRS,
}

// Duration windows, in days, that classify a flow fact.
const (
	quarterMinDays = 80
	quarterMaxDays = 100
	annualMinDays  = 350
	annualMaxDays  = 380
)

// ExtractStats summarises one extraction.
type ExtractStats struct {
	Facts        int
	SkippedTags  int
	SkippedUnits int
	SkippedSpans int
}

type factKey struct {
	concept   string
	end       string
	freq      model.Frequency
	accession string
}

type candidate struct {
	fact model.Fact
	rank int
}

// Extract maps a companyfacts document onto canonical facts for issuer.
// Only tags the registry knows for the issuer's taxonomy are kept. When
// several tags feed the same concept in one filing, the tag listed first in
// the registry wins. Durations that are neither a quarter nor a year are
// dropped. Instant facts reported at fiscal year end are emitted for both
// the annual and the quarterly series.
func Extract(issuer model.Issuer, doc CompanyFacts, reg *concepts.Registry) ([]model.Fact, ExtractStats) {
	var stats ExtractStats
	best := map[factKey]candidate{}
	primary := primaryPeriods(doc)

	for prefix, tags := range doc.Facts {
		tax, ok := taxonomyPrefixes[prefix]
		if !ok || tax != issuer.Taxonomy {
			stats.SkippedTags += len(tags)
			continue
		}
		for tag, tf := range tags {
			name, ok := reg.Canonical(tax, tag)
			if !ok {
				stats.SkippedTags++
				continue
			}
			mapping, _ := reg.Lookup(name)
			rank := tagRank(mapping, tax, tag)

			for unit, values := range tf.Units {
				if units.Classify(unit) != mapping.Kind {
					stats.SkippedUnits += len(values)
					continue
				}
				for _, v := range values {
					facts, ok := toFacts(issuer, mapping, tag, unit, v, primary)
					if !ok {
						stats.SkippedSpans++
						continue
					}
					for _, f := range facts {
						key := factKey{concept: f.Concept, end: f.PeriodEnd.Format(model.DateLayout), freq: f.Frequency, accession: f.Accession}
						if cur, seen := best[key]; seen && cur.rank <= rank {
							continue
						}
						best[key] = candidate{fact: f, rank: rank}
					}
				}
			}
		}
	}

	facts := make([]model.Fact, 0, len(best))
	for _, c := range best {
		facts = append(facts, c.fact)
	}
	sort.Slice(facts, func(i, j int) bool {
		a, b := facts[i], facts[j]
		if a.Concept != b.Concept {
			return a.Concept < b.Concept
		}
		if !a.PeriodEnd.Equal(b.PeriodEnd) {
			return a.PeriodEnd.Before(b.PeriodEnd)
		}
		if a.Frequency != b.Frequency {
			return a.Frequency < b.Frequency
		}
		return a.Accession < b.Accession
	})
	stats.Facts = len(facts)
	return facts, stats
}

func tagRank(m concepts.Mapping, tax model.Taxonomy, tag string) int {
	for i, t := range m.Tags(tax) {
		if strings.EqualFold(t, tag) {
			return i
		}
	}
	return len(m.Tags(tax))
}

// primaryPeriods records, per accession, the latest period end it reports.
// Only facts for that period carry the filing's fiscal labels; comparatives
// in the same filing belong to earlier fiscal periods.
func primaryPeriods(doc CompanyFacts) map[string]string {
	out := map[string]string{}
	for prefix, tags := range doc.Facts {
		if _, ok := taxonomyPrefixes[prefix]; !ok {
			continue
		}
		for _, tf := range tags {
			for _, values := range tf.Units {
				for _, v := range values {
					if v.End > out[v.Accn] {
						out[v.Accn] = v.End
					}
				}
			}
		}
	}
	return out
}

func toFacts(issuer model.Issuer, m concepts.Mapping, tag, unit string, v UnitValue, primary map[string]string) ([]model.Fact, bool) {
	end, err := time.Parse(model.DateLayout, v.End)
	if err != nil || v.Accn == "" {
		return nil, false
	}
	filed, err := time.Parse(model.DateLayout, v.Filed)
	if err != nil {
		filed = end
	}

	base := model.Fact{
		IssuerID:        issuer.ID,
		Concept:         m.Name,
		Tag:             tag,
		Taxonomy:        issuer.Taxonomy,
		RawValue:        v.Val,
		Unit:            unit,
		Currency:        units.CurrencyOf(unit),
		PeriodEnd:       end.UTC(),
		Accession:       v.Accn,
		Form:            v.Form,
		AmendmentStatus: model.AmendmentOriginal,
		FiledAt:         filed.UTC(),
		URL:             FilingURL(issuer.CIK, v.Accn),
		Source:          model.SourceRegulatorFiling,
	}
	if strings.HasSuffix(strings.ToUpper(v.Form), "/A") {
		base.AmendmentStatus = model.AmendmentAmended
	}
	isPrimary := primary[v.Accn] == v.End

	if v.Start != "" {
		start, err := time.Parse(model.DateLayout, v.Start)
		if err != nil {
			return nil, false
		}
		start = start.UTC()
		base.PeriodStart = &start
		days := int(end.Sub(start).Hours() / 24)
		switch {
		case days >= quarterMinDays && days <= quarterMaxDays:
			base.Frequency = model.FrequencyQuarterly
		case days >= annualMinDays && days <= annualMaxDays:
			base.Frequency = model.FrequencyAnnual
		default:
			return nil, false
		}
		if isPrimary {
			base.FiscalYear, base.FiscalPeriod = fiscalLabel(v, base.Frequency)
		}
		return []model.Fact{withID(base)}, true
	}

	// Instant facts take their frequency from the filing.
	switch {
	case strings.HasPrefix(strings.ToUpper(v.FP), "Q"):
		base.Frequency = model.FrequencyQuarterly
		if isPrimary {
			base.FiscalYear, base.FiscalPeriod = fiscalLabel(v, base.Frequency)
		}
		return []model.Fact{withID(base)}, true
	case strings.EqualFold(v.FP, "FY"):
		annual, quarter := base, base
		annual.Frequency = model.FrequencyAnnual
		quarter.Frequency = model.FrequencyQuarterly
		if isPrimary {
			annual.FiscalYear, annual.FiscalPeriod = fiscalLabel(v, model.FrequencyAnnual)
			quarter.FiscalYear, quarter.FiscalPeriod = fiscalLabel(v, model.FrequencyQuarterly)
		}
		return []model.Fact{withID(annual), withID(quarter)}, true
	}
	return nil, false
}

func fiscalLabel(v UnitValue, freq model.Frequency) (int, string) {
	fp := strings.ToUpper(v.FP)
	if freq == model.FrequencyQuarterly && fp == "FY" {
		fp = "Q4"
	}
	if freq == model.FrequencyAnnual {
		fp = "FY"
	}
	return v.FY, fp
}

func withID(f model.Fact) model.Fact {
	f.ID = uuid.New().String()
	return f
}

// FilingURL links to the filing index of an accession.
func FilingURL(cik, accession string) string {
	n, err := strconv.ParseInt(strings.TrimLeft(cik, "0"), 10, 64)
	if err != nil {
		return ""
	}
	return fmt.Sprintf("https://www.sec.gov/Archives/edgar/data/%d/%s/", n, strings.ReplaceAll(accession, "-", ""))
}
