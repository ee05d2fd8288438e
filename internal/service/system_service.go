package service

import (
	"context"
	"database/sql"

	"github.com/finmetrics/grounding/internal/database"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/repository"
	"github.com/finmetrics/grounding/internal/upstream"
)

// Status values reported by SystemService.Status.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// CacheReporter is anything that can report cache counters.
type CacheReporter interface {
	CacheStats() model.CacheStats
}

// SystemService handles system-related operations
type SystemService struct {
	db         *sql.DB
	issuerRepo *repository.IssuerRepository
	factRepo   *repository.FactRepository
	guards     []*upstream.Guard
	caches     []CacheReporter
	strict     bool
}

// NewSystemService creates a new SystemService
func NewSystemService(
	db *sql.DB,
	issuerRepo *repository.IssuerRepository,
	factRepo *repository.FactRepository,
	guards []*upstream.Guard,
	caches []CacheReporter,
	strict bool,
) *SystemService {
	return &SystemService{
		db:         db,
		issuerRepo: issuerRepo,
		factRepo:   factRepo,
		guards:     guards,
		caches:     caches,
		strict:     strict,
	}
}

// CheckHealth checks the health of the system
func (s *SystemService) CheckHealth() error {
	return database.HealthCheck(s.db)
}

// Status reports database health, store sizes, the breaker state of each
// upstream dependency and the cache counters. Any open or half-open
// breaker makes the engine degraded: that dependency is served from cache.
func (s *SystemService) Status(ctx context.Context) model.StatusInfo {
	info := model.StatusInfo{
		Status:       StatusHealthy,
		StrictMode:   s.strict,
		Database:     "connected",
		Dependencies: make([]model.DependencyStatus, 0, len(s.guards)),
		Caches:       make([]model.CacheStats, 0, len(s.caches)),
	}

	for _, g := range s.guards {
		st := g.Status()
		if st.Degraded {
			info.Status = StatusDegraded
		}
		info.Dependencies = append(info.Dependencies, st)
	}
	for _, c := range s.caches {
		info.Caches = append(info.Caches, c.CacheStats())
	}

	if err := s.CheckHealth(); err != nil {
		info.Status = StatusUnhealthy
		info.Database = "disconnected"
		return info
	}
	if v, err := database.Version(s.db); err == nil {
		info.DbVersion = v
	}
	if n, err := s.factRepo.CountFacts(ctx); err == nil {
		info.Facts = int64(n)
	}
	if n, err := s.issuerRepo.CountIssuers(ctx); err == nil {
		info.Issuers = int64(n)
	}
	return info
}
