package handlers

import (
	"net/http"

	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/validation"
)

// CatalogHandler lists what the engine can answer.
type CatalogHandler struct {
	catalogService *service.CatalogService
}

// NewCatalogHandler creates a new CatalogHandler
func NewCatalogHandler(catalogService *service.CatalogService) *CatalogHandler {
	return &CatalogHandler{
		catalogService: catalogService,
	}
}

// Concepts lists the canonical concepts. With ?issuer= only the concepts
// that issuer's taxonomy maps are listed, flagged with whether facts are
// stored for them.
//
// Endpoint: GET /catalog/concepts?issuer=
// Response: 200 OK with []service.ConceptEntry
func (h *CatalogHandler) Concepts(w http.ResponseWriter, r *http.Request) {
	issuer := r.URL.Query().Get("issuer")
	if issuer != "" {
		if err := validation.ValidateIssuerID(issuer); err != nil {
			response.BadRequest(w, r, err.Error())
			return
		}
	}

	entries, err := h.catalogService.Concepts(r.Context(), issuer)
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, entries)
}

// Metrics lists the derived metrics with their formulas.
//
// Endpoint: GET /catalog/metrics
// Response: 200 OK with []kpi.Metric
func (h *CatalogHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	response.RespondJSON(w, http.StatusOK, h.catalogService.Metrics())
}
