// Package app wires configuration, storage, upstream clients and services
// into a running engine. The server and the operator CLI share it.
package app

import (
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/finmetrics/grounding/internal/api"
	"github.com/finmetrics/grounding/internal/calc"
	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/config"
	"github.com/finmetrics/grounding/internal/database"
	"github.com/finmetrics/grounding/internal/ecb"
	"github.com/finmetrics/grounding/internal/edgar"
	"github.com/finmetrics/grounding/internal/grounding"
	"github.com/finmetrics/grounding/internal/kpi"
	"github.com/finmetrics/grounding/internal/repository"
	"github.com/finmetrics/grounding/internal/scheduler"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/upstream"
)

// App is a fully wired engine.
type App struct {
	Config   *config.Config
	Logger   *log.Logger
	DB       *sql.DB
	Concepts *concepts.Registry
	Metrics  *kpi.Registry

	Facts   *service.FactService
	FX      *service.FXService
	Ingest  *service.IngestService
	Calc    *service.CalcService
	Claims  *service.ClaimsService
	Catalog *service.CatalogService
	System  *service.SystemService
}

// New opens and migrates the database, loads the registries and builds
// every service. Close releases the database.
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	c, err := concepts.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load concept registry: %w", err)
	}
	m, err := kpi.Load(c)
	if err != nil {
		return nil, fmt.Errorf("failed to load metric catalog: %w", err)
	}

	if dir := filepath.Dir(cfg.Database.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := database.Migrate(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	issuerRepo := repository.NewIssuerRepository(db)
	factRepo := repository.NewFactRepository(db)
	fxRepo := repository.NewFXRateRepository(db)

	filingGuard := upstream.NewGuard(guardSettings("filing-source", cfg.Filing, cfg.Upstream), logger)
	fxGuard := upstream.NewGuard(guardSettings("fx-reference", cfg.FX, cfg.Upstream), logger)
	filings := edgar.NewFilingClient(cfg.Filing.URL, cfg.Filing.UserAgent)
	rates := ecb.NewReferenceClient(cfg.FX.URL)

	facts := service.NewFactService(issuerRepo, factRepo, c, nil, cfg.Engine.FactCacheTTL, cfg.Engine.StrictMode, logger)
	ingest := service.NewIngestService(issuerRepo, factRepo, c, filings, filingGuard, facts, cfg.Engine.BackfillTTL, logger)
	facts.SetBackfiller(ingest)
	fx := service.NewFXService(fxRepo, rates, fxGuard, cfg.Engine.FXCacheTTL, cfg.Engine.FXWalkBackDays, logger)
	evaluator := calc.NewEvaluator(c, m, facts, fx, logger)
	verifier := grounding.NewVerifier(cfg.Engine.ClaimsSnapDays, cfg.Engine.ClaimsPctTolerance)

	return &App{
		Config:   cfg,
		Logger:   logger,
		DB:       db,
		Concepts: c,
		Metrics:  m,
		Facts:    facts,
		FX:       fx,
		Ingest:   ingest,
		Calc:     service.NewCalcService(evaluator, facts, c, m, logger),
		Claims:   service.NewClaimsService(verifier, facts, logger),
		Catalog:  service.NewCatalogService(c, m, facts),
		System: service.NewSystemService(db, issuerRepo, factRepo,
			[]*upstream.Guard{filingGuard, fxGuard},
			[]service.CacheReporter{facts, fx, ingest},
			cfg.Engine.StrictMode),
	}, nil
}

// Router builds the HTTP handler.
func (a *App) Router() http.Handler {
	return api.NewRouter(api.Services{
		System:  a.System,
		Facts:   a.Facts,
		Calc:    a.Calc,
		Claims:  a.Claims,
		Catalog: a.Catalog,
	}, a.Config, a.Logger)
}

// Scheduler builds the cron jobs: cache pruning and tracked-issuer refresh.
func (a *App) Scheduler() (*scheduler.Scheduler, error) {
	return scheduler.New(scheduler.Config{
		PruneSchedule:   a.Config.Scheduler.PruneSchedule,
		RefreshSchedule: a.Config.Scheduler.RefreshSchedule,
		TrackedIssuers:  a.Config.Scheduler.TrackedIssuers,
	}, []scheduler.Pruner{a.Facts, a.FX, a.Ingest}, a.Ingest, a.Logger)
}

// Close releases the database.
func (a *App) Close() error {
	return a.DB.Close()
}

func guardSettings(name string, src config.SourceConfig, up config.UpstreamConfig) upstream.Settings {
	return upstream.Settings{
		Name:             name,
		RatePerSecond:    src.RatePerSecond,
		Burst:            src.Burst,
		Timeout:          up.Timeout,
		Retries:          up.Retries,
		Backoff:          up.Backoff,
		FailureThreshold: up.FailureThreshold,
		Cooldown:         up.Cooldown,
	}
}
