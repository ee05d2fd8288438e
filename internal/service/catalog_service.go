package service

import (
	"context"

	"github.com/finmetrics/grounding/internal/concepts"
	"github.com/finmetrics/grounding/internal/kpi"
)

// ConceptEntry is a concept as listed by the catalog. Stored is only
// filled when the catalog is asked about one issuer.
type ConceptEntry struct {
	concepts.Mapping
	Stored *bool `json:"stored,omitempty"`
}

// CatalogService lists the canonical concepts and derived metrics.
type CatalogService struct {
	concepts *concepts.Registry
	metrics  *kpi.Registry
	facts    *FactService
}

// NewCatalogService creates a new CatalogService.
func NewCatalogService(c *concepts.Registry, m *kpi.Registry, facts *FactService) *CatalogService {
	return &CatalogService{concepts: c, metrics: m, facts: facts}
}

// Concepts lists every concept. With an issuer, only the concepts its
// taxonomy maps are listed, each flagged with whether facts are stored.
func (s *CatalogService) Concepts(ctx context.Context, issuerID string) ([]ConceptEntry, error) {
	if issuerID == "" {
		all := s.concepts.Mappings()
		out := make([]ConceptEntry, 0, len(all))
		for _, m := range all {
			out = append(out, ConceptEntry{Mapping: m})
		}
		return out, nil
	}

	issuer, err := s.facts.Issuer(ctx, issuerID)
	if err != nil {
		return nil, err
	}
	stored, err := s.facts.factRepo.ListConcepts(ctx, issuer.ID)
	if err != nil {
		return nil, err
	}
	have := make(map[string]bool, len(stored))
	for _, c := range stored {
		have[c] = true
	}

	names := s.concepts.NamesFor(issuer.Taxonomy)
	out := make([]ConceptEntry, 0, len(names))
	for _, n := range names {
		m, _ := s.concepts.Lookup(n)
		ok := have[n]
		out = append(out, ConceptEntry{Mapping: m, Stored: &ok})
	}
	return out, nil
}

// Metrics lists every derived metric.
func (s *CatalogService) Metrics() []kpi.Metric {
	return s.metrics.Metrics()
}
