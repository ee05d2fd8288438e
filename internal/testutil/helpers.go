package testutil

import (
	"database/sql"
	"fmt"
	"io"
	"math/rand"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/finmetrics/grounding/internal/calc"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/ecb"
	"github.com/finmetrics/grounding/internal/edgar"
	"github.com/finmetrics/grounding/internal/grounding"
	"github.com/finmetrics/grounding/internal/kpi"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/repository"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/upstream"
)

// Services is a fully wired engine over a test database.
type Services struct {
	Concepts *concepts.Registry
	Metrics  *kpi.Registry
	Facts    *service.FactService
	FX       *service.FXService
	Ingest   *service.IngestService
	Calc     *service.CalcService
	Claims   *service.ClaimsService
	Catalog  *service.CatalogService
	System   *service.SystemService
	Rates    *MockRateSource
	Filings  *MockFilingSource
	FXGuard  *upstream.Guard
	SECGuard *upstream.Guard
}

// ServiceOption adjusts NewTestServices.
type ServiceOption func(*serviceConfig)

type serviceConfig struct {
	strict  bool
	rates   *MockRateSource
	filings *MockFilingSource
}

// Strict turns strict mode on.
func Strict() ServiceOption {
	return func(c *serviceConfig) { c.strict = true }
}

// WithRates uses the given FX reference mock.
func WithRates(m *MockRateSource) ServiceOption {
	return func(c *serviceConfig) { c.rates = m }
}

// WithFilings uses the given filing source mock.
func WithFilings(m *MockFilingSource) ServiceOption {
	return func(c *serviceConfig) { c.filings = m }
}

// NewTestRegistries loads the embedded concept and metric tables.
func NewTestRegistries(t *testing.T) (*concepts.Registry, *kpi.Registry) {
	t.Helper()

	c, err := concepts.Load()
	if err != nil {
		t.Fatalf("Failed to load concept registry: %v", err)
	}
	m, err := kpi.Load(c)
	if err != nil {
		t.Fatalf("Failed to load metric catalog: %v", err)
	}
	return c, m
}

// NewTestGuard creates a guard with no rate limit, one retry and short
// timeouts, so failure paths run quickly.
func NewTestGuard(name string) *upstream.Guard {
	return upstream.NewGuard(upstream.Settings{
		Name:             name,
		Timeout:          time.Second,
		Retries:          1,
		Backoff:          time.Millisecond,
		MaxBackoff:       2 * time.Millisecond,
		FailureThreshold: 3,
		Cooldown:         time.Hour,
	}, log.New(io.Discard))
}

// NewTestServices wires every service the way the server does, with mock
// upstream sources and a discarded log.
//
// Example usage:
//
//	db := testutil.SetupTestDB(t)
//	svc := testutil.NewTestServices(t, db, testutil.Strict())
//	res, err := svc.Calc.Explain(ctx, req)
func NewTestServices(t *testing.T, db *sql.DB, opts ...ServiceOption) *Services {
	t.Helper()

	cfg := serviceConfig{rates: NewMockRateSource(), filings: NewMockFilingSource()}
	for _, o := range opts {
		o(&cfg)
	}

	logger := log.New(io.Discard)
	c, m := NewTestRegistries(t)
	issuerRepo := repository.NewIssuerRepository(db)
	factRepo := repository.NewFactRepository(db)
	fxGuard := NewTestGuard("fx-reference")
	secGuard := NewTestGuard("filing-source")

	facts := service.NewFactService(issuerRepo, factRepo, c, nil, time.Minute, cfg.strict, logger)
	ingest := service.NewIngestService(issuerRepo, factRepo, c, cfg.filings, secGuard, facts, time.Hour, logger)
	facts.SetBackfiller(ingest)
	fx := service.NewFXService(repository.NewFXRateRepository(db), cfg.rates, fxGuard, time.Hour, 0, logger)
	evaluator := calc.NewEvaluator(c, m, facts, fx, logger)

	return &Services{
		Concepts: c,
		Metrics:  m,
		Facts:    facts,
		FX:       fx,
		Ingest:   ingest,
		Calc:     service.NewCalcService(evaluator, facts, c, m, logger),
		Claims:   service.NewClaimsService(grounding.NewVerifier(7, grounding.DefaultPctTolerance), facts, logger),
		Catalog:  service.NewCatalogService(c, m, facts),
		System: service.NewSystemService(db, issuerRepo, factRepo,
			[]*upstream.Guard{secGuard, fxGuard},
			[]service.CacheReporter{facts, fx, ingest}, cfg.strict),
		Rates:    cfg.rates,
		Filings:  cfg.filings,
		FXGuard:  fxGuard,
		SECGuard: secGuard,
	}
}

// NewTestFactService creates a FactService without a filing source.
func NewTestFactService(t *testing.T, db *sql.DB, strict bool) *service.FactService {
	t.Helper()

	c, _ := NewTestRegistries(t)
	return service.NewFactService(
		repository.NewIssuerRepository(db),
		repository.NewFactRepository(db),
		c,
		nil,
		time.Minute,
		strict,
		log.New(io.Discard),
	)
}

// NewTestFXService creates an FXService over the given reference source.
func NewTestFXService(t *testing.T, db *sql.DB, rates ecb.Client) *service.FXService {
	t.Helper()

	return service.NewFXService(
		repository.NewFXRateRepository(db),
		rates,
		NewTestGuard("fx-reference"),
		time.Hour,
		service.DefaultWalkBackBusinessDays,
		log.New(io.Discard),
	)
}

// Compile-time checks that the mocks satisfy the client interfaces.
var (
	_ ecb.Client   = (*MockRateSource)(nil)
	_ edgar.Client = (*MockFilingSource)(nil)
)

// MakeID generates a UUID string for use in tests.
//
// Example usage:
//
//	id := testutil.MakeID()
//	// Returns: "550e8400-e29b-41d4-a716-446655440000"
func MakeID() string {
	return uuid.New().String()
}

// MakeIssuerID generates a unique ticker-like issuer id.
//
// Example usage:
//
//	id := testutil.MakeIssuerID()
//	// Returns: "T1A2B3"
func MakeIssuerID() string {
	return "T" + randomAlphanumeric(5)
}

// MakeAccession formats an accession number for filer 1.
//
// Example usage:
//
//	accn := testutil.MakeAccession(25, 42)
//	// Returns: "0000000001-25-000042"
func MakeAccession(year, seq int) string {
	return fmt.Sprintf("%010d-%02d-%06d", 1, year, seq)
}

// MustDate parses YYYY-MM-DD as a UTC date or panics.
func MustDate(s string) time.Time {
	d, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return d
}

// randomAlphanumeric generates a random alphanumeric string of specified length.
func randomAlphanumeric(length int) string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		//nolint:gosec // G404: Using math/rand for test data generation is acceptable
		result[i] = charset[rand.Intn(len(charset))]
	}
	return string(result)
}
