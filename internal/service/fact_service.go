package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/cache"
	"github.com/finmetrics/grounding/internal/calc"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/repository"
	"github.com/finmetrics/grounding/internal/units"
)

// Quarter spacing accepted between consecutive periods of a TTM window.
const (
	ttmQuarters    = 4
	quarterGapMin  = 80
	quarterGapMax  = 100
	maxEvidenceLen = 20
)

// Backfiller loads an issuer's facts from the filing source on demand.
// Available reports whether the filing source is currently reachable.
type Backfiller interface {
	Backfill(ctx context.Context, issuer model.Issuer) error
	Available() bool
}

// factListKey identifies one candidate list in the fact cache.
type factListKey struct {
	IssuerID  string
	Concept   string
	Frequency model.Frequency
	Axis      string
	Member    string
}

var errNoFacts = errors.New("no facts stored")

// ResolveQuery selects one fact.
type ResolveQuery struct {
	IssuerID     string
	Concept      string
	Period       model.Period
	Frequency    model.Frequency
	AsReported   bool
	AccessionPin string
	Dimension    *model.Dimension
}

// ResolvedFact is a fact with its value normalized to base units.
type ResolvedFact struct {
	Fact     model.Fact
	Value    decimal.Decimal
	Kind     units.Kind
	Citation model.Citation
	Demo     bool
}

// SeriesQuery selects a run of periods.
type SeriesQuery struct {
	IssuerID   string
	Concept    string
	Frequency  model.Frequency
	Limit      int
	AsReported bool
	Dimension  *model.Dimension
}

// SegmentSeries is the series of one dimension member.
type SegmentSeries struct {
	Axis   string              `json:"axis"`
	Member string              `json:"member"`
	Points []model.MetricPoint `json:"points"`
}

// FactService resolves canonical facts from the fact store.
// It implements calc.Source.
type FactService struct {
	issuerRepo *repository.IssuerRepository
	factRepo   *repository.FactRepository
	concepts   *concepts.Registry
	facts      *cache.Cache[factListKey, []model.Fact]
	backfill   Backfiller
	strict     bool
	logger     *log.Logger
}

// NewFactService creates a new FactService. backfill may be nil, in which
// case a store miss is reported without contacting the filing source.
func NewFactService(
	issuerRepo *repository.IssuerRepository,
	factRepo *repository.FactRepository,
	reg *concepts.Registry,
	backfill Backfiller,
	ttl time.Duration,
	strict bool,
	logger *log.Logger,
) *FactService {
	return &FactService{
		issuerRepo: issuerRepo,
		factRepo:   factRepo,
		concepts:   reg,
		facts:      cache.New[factListKey, []model.Fact]("facts", ttl, cache.WithEqual[factListKey, []model.Fact](sameFacts)),
		backfill:   backfill,
		strict:     strict,
		logger:     logger,
	}
}

func sameFacts(a, b []model.Fact) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].ID != b[i].ID {
			return false
		}
	}
	return true
}

// SetBackfiller wires the on-demand loader after construction.
func (s *FactService) SetBackfiller(b Backfiller) {
	s.backfill = b
}

// StrictMode reports whether demo data is refused.
func (s *FactService) StrictMode() bool {
	return s.strict
}

// CacheStats reports the fact cache counters.
func (s *FactService) CacheStats() model.CacheStats {
	return s.facts.Stats()
}

// PruneCache drops expired candidate lists.
func (s *FactService) PruneCache() int {
	return s.facts.Prune()
}

// Invalidate forgets every cached list of an issuer, after new facts were stored.
func (s *FactService) Invalidate(issuerID string) int {
	return s.facts.Invalidate(func(k factListKey) bool { return k.IssuerID == issuerID })
}

// Issuer returns a servable issuer. Unknown issuers, and demo issuers in
// strict mode, are unsupported.
func (s *FactService) Issuer(ctx context.Context, issuerID string) (model.Issuer, error) {
	issuer, err := s.issuerRepo.GetIssuer(ctx, issuerID)
	if errors.Is(err, apperrors.ErrIssuerNotFound) {
		return model.Issuer{}, apperrors.New(apperrors.KindUnsupportedIssuer,
			fmt.Sprintf("issuer %s is not registered", issuerID)).
			With("issuer", issuerID)
	}
	if err != nil {
		return model.Issuer{}, err
	}
	if s.strict && issuer.Source == model.SourceDemo {
		return model.Issuer{}, apperrors.New(apperrors.KindUnsupportedIssuer,
			fmt.Sprintf("issuer %s is backed only by demo data", issuerID)).
			With("issuer", issuerID).
			With("source", issuer.Source).
			With("strict_mode", true)
	}
	return issuer, nil
}

// candidates returns every stored fact for the key, newest period first.
// A miss triggers one coalesced backfill from the filing source.
func (s *FactService) candidates(ctx context.Context, issuer model.Issuer, concept string, freq model.Frequency, dim *model.Dimension) ([]model.Fact, error) {
	key := factListKey{IssuerID: issuer.ID, Concept: concept, Frequency: freq}
	if dim != nil {
		key.Axis, key.Member = dim.Axis, dim.Member
	}
	filter := repository.FactFilter{IssuerID: issuer.ID, Concept: concept, Frequency: freq, Dimension: dim}

	facts, err := s.facts.GetOrFetch(ctx, key, func(fctx context.Context) ([]model.Fact, error) {
		found, err := s.factRepo.FindFacts(fctx, filter)
		if err != nil {
			return nil, err
		}
		if len(found) == 0 && dim == nil && s.backfill != nil && issuer.Source == model.SourceRegulatorFiling {
			if err := s.backfill.Backfill(fctx, issuer); err != nil {
				return nil, err
			}
			if found, err = s.factRepo.FindFacts(fctx, filter); err != nil {
				return nil, err
			}
		}
		if len(found) == 0 {
			return nil, errNoFacts
		}
		return found, nil
	})
	if err != nil {
		return nil, err
	}

	if !s.strict {
		return facts, nil
	}
	served := make([]model.Fact, 0, len(facts))
	for _, f := range facts {
		if f.Source != model.SourceDemo {
			served = append(served, f)
		}
	}
	if len(served) == 0 {
		return nil, errNoFacts
	}
	return served, nil
}

// conceptMissing reports a concept with no stored facts, listing the
// concepts that are stored for the issuer.
func (s *FactService) conceptMissing(ctx context.Context, issuer model.Issuer, concept string, freq model.Frequency) error {
	available, err := s.factRepo.ListConcepts(ctx, issuer.ID)
	if err != nil {
		return err
	}
	return apperrors.New(apperrors.KindConceptUnavailable,
		fmt.Sprintf("no %s facts for %s at frequency %s", concept, issuer.ID, freq)).
		With("issuer", issuer.ID).
		With("concept", concept).
		With("freq", string(freq)).
		With("available_concepts", available)
}

// DefaultFrequency picks the series a period selector most naturally refers to.
func DefaultFrequency(p model.Period) model.Frequency {
	if p.Kind == model.PeriodFiscalYear {
		return model.FrequencyAnnual
	}
	return model.FrequencyQuarterly
}

func (s *FactService) prepare(ctx context.Context, issuerID, concept string, freq model.Frequency) (model.Issuer, concepts.Mapping, error) {
	issuer, err := s.Issuer(ctx, issuerID)
	if err != nil {
		return model.Issuer{}, concepts.Mapping{}, err
	}
	mapping, err := s.concepts.Require(concept, issuer.Taxonomy)
	if err != nil {
		return model.Issuer{}, concepts.Mapping{}, err
	}
	if freq != model.FrequencyQuarterly && freq != model.FrequencyAnnual {
		return model.Issuer{}, concepts.Mapping{}, apperrors.New(apperrors.KindInvalidRequest,
			fmt.Sprintf("filing facts are quarterly or annual, not %q", freq))
	}
	return issuer, mapping, nil
}

// Resolve selects exactly one fact. A pinned accession must match; with
// AsReported amended filings are ignored; otherwise the most recently filed
// fact for the period wins. A missing period is reported, never filled.
func (s *FactService) Resolve(ctx context.Context, q ResolveQuery) (ResolvedFact, error) {
	if q.Frequency == "" {
		q.Frequency = DefaultFrequency(q.Period)
	}
	issuer, mapping, err := s.prepare(ctx, q.IssuerID, q.Concept, q.Frequency)
	if err != nil {
		return ResolvedFact{}, err
	}

	list, err := s.candidates(ctx, issuer, mapping.Name, q.Frequency, q.Dimension)
	if errors.Is(err, errNoFacts) {
		if q.Dimension != nil {
			return ResolvedFact{}, s.dimensionMissing(ctx, issuer, mapping.Name, q.Dimension)
		}
		return ResolvedFact{}, s.conceptMissing(ctx, issuer, mapping.Name, q.Frequency)
	}
	if err != nil {
		return ResolvedFact{}, err
	}

	fact, err := selectFact(list, q)
	if err != nil {
		return ResolvedFact{}, err
	}
	return s.normalize(fact, mapping)
}

// ResolveSegment resolves one fact qualified by an axis and member. The
// consolidated figure is never returned in its place.
func (s *FactService) ResolveSegment(ctx context.Context, q ResolveQuery, axis, member string) (ResolvedFact, error) {
	if axis == "" || member == "" {
		return ResolvedFact{}, apperrors.New(apperrors.KindInvalidRequest, "a segment needs both a dimension axis and a member")
	}
	q.Dimension = &model.Dimension{Axis: axis, Member: member}
	return s.Resolve(ctx, q)
}

// selectFact applies the pin, period and amendment rules to a candidate
// list ordered newest period first, then most recently filed first.
func selectFact(list []model.Fact, q ResolveQuery) (model.Fact, error) {
	if q.AccessionPin != "" {
		pinned := make([]model.Fact, 0, len(list))
		for _, f := range list {
			if f.Accession == q.AccessionPin {
				pinned = append(pinned, f)
			}
		}
		if len(pinned) == 0 {
			return model.Fact{}, apperrors.New(apperrors.KindAccessionNotFound,
				fmt.Sprintf("accession %s reports no %s fact", q.AccessionPin, q.Concept)).
				With("accession", q.AccessionPin).
				With("available_accessions", accessions(list))
		}
		list = pinned
	}

	var inPeriod []model.Fact
	if q.Period.Kind == model.PeriodLatest {
		latest := list[0].PeriodEnd
		for _, f := range list {
			if f.PeriodEnd.Equal(latest) {
				inPeriod = append(inPeriod, f)
			}
		}
	} else {
		for _, f := range list {
			if q.Period.Matches(f) {
				inPeriod = append(inPeriod, f)
			}
		}
	}
	if len(inPeriod) == 0 {
		return model.Fact{}, apperrors.New(apperrors.KindPeriodUnavailable,
			fmt.Sprintf("no %s fact for period %s", q.Concept, q.Period)).
			With("period", q.Period.String()).
			With("freq", string(q.Frequency)).
			With("available_periods", periodEnds(list))
	}

	if q.AsReported {
		originals := inPeriod[:0:0]
		for _, f := range inPeriod {
			if !f.IsAmended() {
				originals = append(originals, f)
			}
		}
		if len(originals) == 0 {
			return model.Fact{}, apperrors.New(apperrors.KindPeriodUnavailable,
				fmt.Sprintf("%s for %s is only available from amended filings", q.Concept, q.Period)).
				With("period", q.Period.String()).
				With("available_accessions", accessions(inPeriod))
		}
		inPeriod = originals
	}

	// Fiscal labels can match more than one period end; the newest wins,
	// then the latest filing, then the highest accession.
	return inPeriod[0], nil
}

func accessions(list []model.Fact) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, f := range list {
		if !seen[f.Accession] {
			seen[f.Accession] = true
			out = append(out, f.Accession)
		}
		if len(out) == maxEvidenceLen {
			break
		}
	}
	return out
}

func periodEnds(list []model.Fact) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, f := range list {
		d := f.PeriodEnd.Format(model.DateLayout)
		if !seen[d] {
			seen[d] = true
			out = append(out, d)
		}
		if len(out) == maxEvidenceLen {
			break
		}
	}
	return out
}

func (s *FactService) normalize(f model.Fact, mapping concepts.Mapping) (ResolvedFact, error) {
	kind := units.Classify(f.Unit)
	if kind != mapping.Kind {
		return ResolvedFact{}, apperrors.New(apperrors.KindUnitIncompatible,
			fmt.Sprintf("%s is reported in %q, expected a %s unit", mapping.Name, f.Unit, mapping.Kind)).
			With("unit", f.Unit).
			With("expected_kind", string(mapping.Kind)).
			With("accession", f.Accession)
	}
	currency := f.Currency
	if currency == "" {
		currency = units.CurrencyOf(f.Unit)
	}
	f.Currency = currency
	citation := citationFor(f)
	if f.Source != model.SourceDemo && s.backfill != nil && !s.backfill.Available() {
		citation.Degraded = true
	}
	return ResolvedFact{
		Fact:     f,
		Value:    units.Normalize(f.RawValue, f.Scale),
		Kind:     kind,
		Citation: citation,
		Demo:     f.Source == model.SourceDemo,
	}, nil
}

func citationFor(f model.Fact) model.Citation {
	c := model.Citation{
		Source:    model.CitationSourceFiling,
		Concept:   f.Concept,
		Tag:       f.Tag,
		Accession: f.Accession,
		URL:       f.URL,
		Taxonomy:  f.Taxonomy,
		Unit:      f.Unit,
		Scale:     f.Scale,
		PeriodEnd: f.PeriodEnd.Format(model.DateLayout),
		Form:      f.Form,
		Amended:   f.IsAmended(),
	}
	if f.Source == model.SourceDemo {
		c.Source = model.SourceDemo
	}
	if f.Dimension != nil {
		d := *f.Dimension
		c.Dimension = &d
	}
	return c
}

// Leaf resolves one evaluator leaf. TTM leaves sum the four quarters ending
// at the selected period for duration concepts; instant concepts use the
// balance at that period end.
func (s *FactService) Leaf(ctx context.Context, q calc.LeafQuery) (calc.Leaf, error) {
	freq := q.Frequency
	if freq == "" {
		freq = DefaultFrequency(q.Period)
	}
	if q.TTM && freq != model.FrequencyQuarterly {
		return calc.Leaf{}, apperrors.New(apperrors.KindTTMNotSupported,
			fmt.Sprintf("trailing twelve months need quarterly data, not %s", freq)).
			With("freq", string(freq))
	}

	rq := ResolveQuery{
		IssuerID:     q.IssuerID,
		Concept:      q.Concept,
		Period:       q.Period,
		Frequency:    freq,
		AsReported:   q.AsReported,
		AccessionPin: q.AccessionPin,
	}
	anchor, err := s.Resolve(ctx, rq)
	if err != nil {
		return calc.Leaf{}, err
	}

	mapping, _ := s.concepts.Lookup(q.Concept)
	if !q.TTM || mapping.PeriodType == concepts.PeriodInstant {
		return leafOf(anchor.Value, anchor, []model.Citation{anchor.Citation}), nil
	}
	return s.trailingSum(ctx, rq, anchor)
}

func leafOf(v decimal.Decimal, r ResolvedFact, citations []model.Citation) calc.Leaf {
	return calc.Leaf{
		Value:     v,
		Kind:      r.Kind,
		Currency:  r.Fact.Currency,
		Unit:      r.Fact.Unit,
		AsOf:      r.Fact.PeriodEnd,
		Citations: citations,
		Demo:      r.Demo,
	}
}

// trailingSum adds the anchor quarter and the three quarters before it.
// Each step back must land 80 to 100 days earlier; a gap or a short history
// fails insufficient_history. Earlier quarters follow the as-reported rule
// but not the accession pin, since one filing reports one quarter.
func (s *FactService) trailingSum(ctx context.Context, rq ResolveQuery, anchor ResolvedFact) (calc.Leaf, error) {
	issuer, mapping, err := s.prepare(ctx, rq.IssuerID, rq.Concept, rq.Frequency)
	if err != nil {
		return calc.Leaf{}, err
	}
	list, err := s.candidates(ctx, issuer, mapping.Name, rq.Frequency, nil)
	if err != nil {
		return calc.Leaf{}, err
	}
	if rq.AsReported {
		// A quarter known only from an amendment is missing history.
		list = originalsOnly(list)
	}

	total := anchor.Value
	citations := []model.Citation{anchor.Citation}
	demo := anchor.Demo
	found := []string{anchor.Fact.PeriodEnd.Format(model.DateLayout)}
	prevEnd := anchor.Fact.PeriodEnd

	for len(found) < ttmQuarters {
		end, ok := previousQuarterEnd(list, prevEnd)
		if !ok {
			return calc.Leaf{}, apperrors.New(apperrors.KindInsufficientHistory,
				fmt.Sprintf("%s has %d of %d quarters ending %s", rq.Concept, len(found), ttmQuarters,
					anchor.Fact.PeriodEnd.Format(model.DateLayout))).
				With("concept", rq.Concept).
				With("quarters_found", len(found)).
				With("quarters_required", ttmQuarters).
				With("periods", found).
				With("missing_before", prevEnd.Format(model.DateLayout)).
				With("as_reported", rq.AsReported)
		}

		fact, err := selectFact(list, ResolveQuery{
			Concept:    rq.Concept,
			Period:     model.Period{Kind: model.PeriodDate, Date: end},
			Frequency:  rq.Frequency,
			AsReported: rq.AsReported,
		})
		if err != nil {
			return calc.Leaf{}, err
		}
		r, err := s.normalize(fact, mapping)
		if err != nil {
			return calc.Leaf{}, err
		}
		if r.Fact.Currency != anchor.Fact.Currency {
			return calc.Leaf{}, apperrors.New(apperrors.KindUnitIncompatible,
				fmt.Sprintf("%s changes currency inside the trailing window", rq.Concept)).
				With("currencies", []string{anchor.Fact.Currency, r.Fact.Currency})
		}

		total = total.Add(r.Value)
		citations = append(citations, r.Citation)
		demo = demo || r.Demo
		found = append(found, end.Format(model.DateLayout))
		prevEnd = end
	}

	leaf := leafOf(total, anchor, citations)
	leaf.Demo = demo
	return leaf, nil
}

func originalsOnly(list []model.Fact) []model.Fact {
	out := make([]model.Fact, 0, len(list))
	for _, f := range list {
		if !f.IsAmended() {
			out = append(out, f)
		}
	}
	return out
}

// previousQuarterEnd finds the newest period end 80 to 100 days before end.
func previousQuarterEnd(list []model.Fact, end time.Time) (time.Time, bool) {
	for _, f := range list {
		days := int(end.Sub(f.PeriodEnd).Hours() / 24)
		if days >= quarterGapMin && days <= quarterGapMax {
			return f.PeriodEnd, true
		}
	}
	return time.Time{}, false
}

// Series returns up to limit periods of a concept, newest first, each with
// its citation. Periods are those the store holds; none are interpolated.
func (s *FactService) Series(ctx context.Context, q SeriesQuery) ([]model.MetricPoint, error) {
	if q.Frequency == "" {
		q.Frequency = model.FrequencyQuarterly
	}
	issuer, mapping, err := s.prepare(ctx, q.IssuerID, q.Concept, q.Frequency)
	if err != nil {
		return nil, err
	}
	list, err := s.candidates(ctx, issuer, mapping.Name, q.Frequency, q.Dimension)
	if errors.Is(err, errNoFacts) {
		if q.Dimension != nil {
			return nil, s.dimensionMissing(ctx, issuer, mapping.Name, q.Dimension)
		}
		return nil, s.conceptMissing(ctx, issuer, mapping.Name, q.Frequency)
	}
	if err != nil {
		return nil, err
	}
	return s.pointsOf(list, mapping, q)
}

func (s *FactService) pointsOf(list []model.Fact, mapping concepts.Mapping, q SeriesQuery) ([]model.MetricPoint, error) {
	points := []model.MetricPoint{}
	seen := map[string]bool{}
	for _, f := range list {
		d := f.PeriodEnd.Format(model.DateLayout)
		if seen[d] || (q.AsReported && f.IsAmended()) {
			continue
		}
		seen[d] = true
		r, err := s.normalize(f, mapping)
		if err != nil {
			return nil, err
		}
		points = append(points, model.MetricPoint{
			PeriodEnd: d,
			Value:     r.Value,
			Unit:      f.Unit,
			Currency:  r.Fact.Currency,
			Citations: []model.Citation{r.Citation},
			Demo:      r.Demo,
		})
		if q.Limit > 0 && len(points) == q.Limit {
			break
		}
	}
	return points, nil
}

// SegmentSeries returns one series per member of the requested axis. An
// issuer that does not tag the axis fails dimension_unavailable; the
// consolidated figure is never substituted.
func (s *FactService) SegmentSeries(ctx context.Context, q SeriesQuery, axis string) ([]SegmentSeries, error) {
	if q.Frequency == "" {
		q.Frequency = model.FrequencyQuarterly
	}
	issuer, mapping, err := s.prepare(ctx, q.IssuerID, q.Concept, q.Frequency)
	if err != nil {
		return nil, err
	}
	if axis == "" {
		return nil, apperrors.New(apperrors.KindInvalidRequest, "a dimension axis is required")
	}

	dim := &model.Dimension{Axis: axis}
	list, err := s.candidates(ctx, issuer, mapping.Name, q.Frequency, dim)
	if errors.Is(err, errNoFacts) {
		return nil, s.dimensionMissing(ctx, issuer, mapping.Name, dim)
	}
	if err != nil {
		return nil, err
	}

	byMember := map[string][]model.Fact{}
	for _, f := range list {
		byMember[f.Dimension.Member] = append(byMember[f.Dimension.Member], f)
	}
	members := make([]string, 0, len(byMember))
	for m := range byMember {
		members = append(members, m)
	}
	sort.Strings(members)

	out := make([]SegmentSeries, 0, len(members))
	for _, m := range members {
		points, err := s.pointsOf(byMember[m], mapping, q)
		if err != nil {
			return nil, err
		}
		out = append(out, SegmentSeries{Axis: axis, Member: m, Points: points})
	}
	return out, nil
}

func (s *FactService) dimensionMissing(ctx context.Context, issuer model.Issuer, concept string, dim *model.Dimension) error {
	axes, err := s.factRepo.ListDimensionAxes(ctx, issuer.ID, concept)
	if err != nil {
		return err
	}
	e := apperrors.New(apperrors.KindDimensionUnavailable,
		fmt.Sprintf("%s does not tag %s by %s", issuer.ID, concept, dim.Axis)).
		With("issuer", issuer.ID).
		With("concept", concept).
		With("dimension", dim.Axis).
		With("available_dimensions", axes)
	if dim.Member != "" {
		e.With("member", dim.Member)
	}
	return e
}
