package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
	"gopkg.in/yaml.v3"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/cache"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/edgar"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/repository"
	"github.com/finmetrics/grounding/internal/units"
	"github.com/finmetrics/grounding/internal/upstream"
	"github.com/finmetrics/grounding/internal/validation"
)

// IngestReport summarises one ingestion run.
type IngestReport struct {
	IssuerID     string `json:"issuer"`
	Extracted    int    `json:"extracted"`
	Inserted     int    `json:"inserted"`
	SkippedTags  int    `json:"skipped_tags"`
	SkippedUnits int    `json:"skipped_units"`
	SkippedSpans int    `json:"skipped_spans"`
}

// FactFile is the YAML document accepted by LoadFacts. It follows the
// retrieval client's fact contract.
type FactFile struct {
	Issuers []model.Issuer `yaml:"issuers"`
	Facts   []FactRecord   `yaml:"facts"`
}

// FactRecord is one fact as written in a fact file. Value is a decimal
// string so no precision is lost in YAML parsing.
type FactRecord struct {
	Issuer       string           `yaml:"issuer"`
	Concept      string           `yaml:"concept"`
	Tag          string           `yaml:"tag"`
	Value        string           `yaml:"value"`
	Unit         string           `yaml:"unit"`
	Scale        string           `yaml:"scale"`
	Currency     string           `yaml:"currency"`
	PeriodStart  string           `yaml:"period_start"`
	PeriodEnd    string           `yaml:"period_end"`
	FiscalYear   int              `yaml:"fiscal_year"`
	FiscalPeriod string           `yaml:"fiscal_period"`
	Freq         string           `yaml:"freq"`
	Accession    string           `yaml:"accession"`
	Form         string           `yaml:"form"`
	Amended      bool             `yaml:"amended"`
	Filed        string           `yaml:"filed"`
	Dimension    *model.Dimension `yaml:"dimension"`
	URL          string           `yaml:"url"`
}

// IngestService writes facts into the fact store, either from the regulator
// filing source or from fact files.
type IngestService struct {
	issuerRepo *repository.IssuerRepository
	factRepo   *repository.FactRepository
	concepts   *concepts.Registry
	client     edgar.Client
	guard      *upstream.Guard
	facts      *FactService
	flight     singleflight.Group
	backfilled *cache.Cache[string, struct{}]
	logger     *log.Logger
}

// NewIngestService creates a new IngestService. facts, when not nil, has
// its cache invalidated for every issuer that receives new facts. An issuer
// is backfilled at most once per backfillTTL.
func NewIngestService(
	issuerRepo *repository.IssuerRepository,
	factRepo *repository.FactRepository,
	reg *concepts.Registry,
	client edgar.Client,
	guard *upstream.Guard,
	facts *FactService,
	backfillTTL time.Duration,
	logger *log.Logger,
) *IngestService {
	return &IngestService{
		issuerRepo: issuerRepo,
		factRepo:   factRepo,
		concepts:   reg,
		client:     client,
		guard:      guard,
		facts:      facts,
		backfilled: cache.New[string, struct{}]("backfill", backfillTTL,
			cache.WithEqual[string, struct{}](func(_, _ struct{}) bool { return true })),
		logger: logger,
	}
}

// Backfill implements Backfiller. The first miss for an issuer fetches its
// company facts; later misses within the TTL, including misses for concepts
// the issuer never files, are answered from the store alone. Concurrent
// backfills share one fetch, which completes even if the caller goes away.
// Failed fetches are not remembered.
func (s *IngestService) Backfill(ctx context.Context, issuer model.Issuer) error {
	if s.client == nil || issuer.CIK == "" {
		return nil
	}
	_, err := s.backfilled.GetOrFetch(ctx, issuer.ID, func(fctx context.Context) (struct{}, error) {
		_, err := s.ingest(fctx, issuer)
		if apperrors.KindOf(err) == apperrors.KindUnsupportedIssuer {
			// The resolver reports the concept as missing instead.
			s.logger.Warn("filing source has no company facts", "issuer", issuer.ID, "cik", issuer.CIK)
			return struct{}{}, nil
		}
		return struct{}{}, err
	})
	return err
}

// Available implements Backfiller.
func (s *IngestService) Available() bool {
	return s.client != nil && (s.guard == nil || s.guard.Available())
}

// CacheStats reports the backfill marker counters.
func (s *IngestService) CacheStats() model.CacheStats {
	return s.backfilled.Stats()
}

// PruneCache drops expired backfill markers.
func (s *IngestService) PruneCache() int {
	return s.backfilled.Prune()
}

// RegisterIssuer validates and upserts an issuer so it can be ingested
// or loaded into.
func (s *IngestService) RegisterIssuer(ctx context.Context, issuer model.Issuer) error {
	if issuer.Source == "" {
		issuer.Source = model.SourceRegulatorFiling
	}
	if issuer.Taxonomy == "" {
		issuer.Taxonomy = model.TaxonomyGAAP
	}
	issuer.ReportingCurrency = strings.ToUpper(issuer.ReportingCurrency)
	if issuer.CIK != "" {
		cik, err := edgar.PadCIK(issuer.CIK)
		if err != nil {
			return apperrors.Wrap(apperrors.KindInvalidRequest, err, "invalid CIK")
		}
		issuer.CIK = cik
	}
	if err := validation.ValidateIssuer(issuer); err != nil {
		return apperrors.Wrap(apperrors.KindInvalidRequest, err, fmt.Sprintf("invalid issuer %q", issuer.ID))
	}
	if err := s.issuerRepo.UpsertIssuer(ctx, issuer); err != nil {
		return fmt.Errorf("failed to store issuer %s: %w", issuer.ID, err)
	}
	if s.facts != nil {
		s.facts.Invalidate(issuer.ID)
	}
	s.backfilled.Invalidate(func(id string) bool { return id == issuer.ID })
	return nil
}

// IngestIssuer pulls the issuer's company facts from the filing source.
func (s *IngestService) IngestIssuer(ctx context.Context, issuerID string) (IngestReport, error) {
	issuer, err := s.issuerRepo.GetIssuer(ctx, issuerID)
	if err != nil {
		return IngestReport{}, fmt.Errorf("failed to get issuer %s: %w", issuerID, err)
	}
	if issuer.CIK == "" {
		return IngestReport{}, apperrors.New(apperrors.KindInvalidRequest,
			fmt.Sprintf("issuer %s has no CIK to ingest from", issuerID))
	}
	if s.client == nil {
		return IngestReport{}, apperrors.New(apperrors.KindUpstreamUnavailable, "no filing source configured")
	}
	v, err, _ := s.flight.Do(issuer.ID, func() (any, error) {
		return s.ingest(ctx, issuer)
	})
	if err != nil {
		return IngestReport{}, err
	}
	_ = s.backfilled.Put(issuer.ID, struct{}{})
	return v.(IngestReport), nil
}

// RefreshIssuers ingests each issuer in turn and returns the reports of
// those that succeeded. Failures are logged and do not stop the run.
func (s *IngestService) RefreshIssuers(ctx context.Context, issuerIDs []string) []IngestReport {
	reports := make([]IngestReport, 0, len(issuerIDs))
	for _, id := range issuerIDs {
		if ctx.Err() != nil {
			break
		}
		r, err := s.IngestIssuer(ctx, id)
		if err != nil {
			s.logger.Error("issuer refresh failed", "issuer", id, "error", err)
			continue
		}
		reports = append(reports, r)
	}
	return reports
}

func (s *IngestService) ingest(ctx context.Context, issuer model.Issuer) (IngestReport, error) {
	start := time.Now()
	var doc edgar.CompanyFacts
	err := s.guard.Do(ctx, func(cctx context.Context) error {
		var ferr error
		doc, ferr = s.client.CompanyFacts(cctx, issuer.CIK)
		return ferr
	})
	var se *upstream.StatusError
	if errors.As(err, &se) && se.StatusCode == http.StatusNotFound {
		return IngestReport{}, apperrors.New(apperrors.KindUnsupportedIssuer,
			fmt.Sprintf("filing source has no company facts for CIK %s", issuer.CIK)).
			With("issuer", issuer.ID).
			With("cik", issuer.CIK)
	}
	if err != nil {
		return IngestReport{}, err
	}

	facts, stats := edgar.Extract(issuer, doc, s.concepts)
	inserted, err := s.factRepo.InsertFacts(ctx, facts)
	if err != nil {
		return IngestReport{}, fmt.Errorf("failed to store facts for %s: %w", issuer.ID, err)
	}
	if inserted > 0 && s.facts != nil {
		s.facts.Invalidate(issuer.ID)
	}

	report := IngestReport{
		IssuerID:     issuer.ID,
		Extracted:    stats.Facts,
		Inserted:     inserted,
		SkippedTags:  stats.SkippedTags,
		SkippedUnits: stats.SkippedUnits,
		SkippedSpans: stats.SkippedSpans,
	}
	s.logger.Info("ingested company facts",
		"issuer", issuer.ID,
		"cik", issuer.CIK,
		"extracted", report.Extracted,
		"inserted", report.Inserted,
		"duration", time.Since(start))
	return report, nil
}

// ParseFactFile decodes a fact file. Unknown keys are rejected.
func ParseFactFile(r io.Reader) (FactFile, error) {
	var ff FactFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&ff); err != nil {
		return FactFile{}, apperrors.Wrap(apperrors.KindInvalidRequest, err, "failed to parse fact file")
	}
	return ff, nil
}

// LoadFacts stores the issuers and facts of a fact file. Issuers are
// upserted; facts are write-once, so reloading the same file is a no-op
// and a file that contradicts stored facts fails data_integrity.
func (s *IngestService) LoadFacts(ctx context.Context, r io.Reader) (IngestReport, error) {
	ff, err := ParseFactFile(r)
	if err != nil {
		return IngestReport{}, err
	}

	issuers := map[string]model.Issuer{}
	for _, is := range ff.Issuers {
		if is.Source == "" {
			is.Source = model.SourceRegulatorFiling
		}
		is.ReportingCurrency = strings.ToUpper(is.ReportingCurrency)
		if err := validation.ValidateIssuer(is); err != nil {
			return IngestReport{}, apperrors.Wrap(apperrors.KindInvalidRequest, err,
				fmt.Sprintf("invalid issuer %q", is.ID))
		}
		if err := s.issuerRepo.UpsertIssuer(ctx, is); err != nil {
			return IngestReport{}, fmt.Errorf("failed to store issuer %s: %w", is.ID, err)
		}
		issuers[is.ID] = is
	}

	facts := make([]model.Fact, 0, len(ff.Facts))
	for i, rec := range ff.Facts {
		issuer, ok := issuers[rec.Issuer]
		if !ok {
			issuer, err = s.issuerRepo.GetIssuer(ctx, rec.Issuer)
			if err != nil {
				return IngestReport{}, apperrors.Wrap(apperrors.KindInvalidRequest, err,
					fmt.Sprintf("facts[%d]: unknown issuer %q", i, rec.Issuer))
			}
			issuers[issuer.ID] = issuer
		}
		f, err := s.factFromRecord(issuer, rec)
		if err != nil {
			return IngestReport{}, apperrors.Wrap(apperrors.KindInvalidRequest, err, fmt.Sprintf("facts[%d]", i))
		}
		facts = append(facts, f)
	}

	inserted, err := s.factRepo.InsertFacts(ctx, facts)
	if err != nil {
		return IngestReport{}, err
	}
	if s.facts != nil {
		for id := range issuers {
			s.facts.Invalidate(id)
		}
	}
	s.logger.Info("loaded fact file", "issuers", len(ff.Issuers), "facts", len(facts), "inserted", inserted)
	return IngestReport{Extracted: len(facts), Inserted: inserted}, nil
}

func (s *IngestService) factFromRecord(issuer model.Issuer, rec FactRecord) (model.Fact, error) {
	if !s.concepts.Known(rec.Concept) {
		return model.Fact{}, fmt.Errorf("unknown concept %q", rec.Concept)
	}
	raw, err := decimal.NewFromString(strings.TrimSpace(rec.Value))
	if err != nil {
		return model.Fact{}, fmt.Errorf("value %q is not a decimal", rec.Value)
	}
	scale, err := parseScale(rec.Scale)
	if err != nil {
		return model.Fact{}, err
	}
	end, err := time.Parse(model.DateLayout, rec.PeriodEnd)
	if err != nil {
		return model.Fact{}, fmt.Errorf("period_end: %w", err)
	}
	freq, err := model.ParseFrequency(rec.Freq)
	if err != nil {
		return model.Fact{}, err
	}

	f := model.Fact{
		IssuerID:        issuer.ID,
		Concept:         rec.Concept,
		Tag:             rec.Tag,
		Taxonomy:        issuer.Taxonomy,
		RawValue:        raw,
		Unit:            rec.Unit,
		Scale:           scale,
		Currency:        strings.ToUpper(rec.Currency),
		PeriodEnd:       end,
		FiscalYear:      rec.FiscalYear,
		FiscalPeriod:    rec.FiscalPeriod,
		Frequency:       freq,
		Accession:       rec.Accession,
		Form:            rec.Form,
		AmendmentStatus: model.AmendmentOriginal,
		Dimension:       rec.Dimension,
		URL:             rec.URL,
		Source:          issuer.Source,
	}
	if f.Tag == "" {
		f.Tag = rec.Concept
	}
	if f.Currency == "" {
		f.Currency = units.CurrencyOf(f.Unit)
	}
	if rec.Amended {
		f.AmendmentStatus = model.AmendmentAmended
	}
	if rec.PeriodStart != "" {
		start, err := time.Parse(model.DateLayout, rec.PeriodStart)
		if err != nil {
			return model.Fact{}, fmt.Errorf("period_start: %w", err)
		}
		f.PeriodStart = &start
	}
	f.FiledAt = end
	if rec.Filed != "" {
		filed, err := time.Parse(model.DateLayout, rec.Filed)
		if err != nil {
			return model.Fact{}, fmt.Errorf("filed: %w", err)
		}
		f.FiledAt = filed
	}
	if err := validation.ValidateFact(f); err != nil {
		return model.Fact{}, err
	}
	return f, nil
}

// parseScale accepts an exponent ("6") or a scale word ("millions").
// An omitted scale means ones.
func parseScale(s string) (int, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return units.ParseScale(s)
}
