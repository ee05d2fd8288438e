package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/validation"
)

// MetricsHandler serves concept and derived-metric time series.
type MetricsHandler struct {
	calcService *service.CalcService
}

// NewMetricsHandler creates a new MetricsHandler
func NewMetricsHandler(calcService *service.CalcService) *MetricsHandler {
	return &MetricsHandler{
		calcService: calcService,
	}
}

// Series returns the newest-first series of a canonical concept or derived
// metric. Every point carries its citations; periods a derived metric
// cannot be computed for are listed as gaps with their reason.
//
// Endpoint: GET /metrics/{issuer}/{concept}?freq=&limit=&as_reported=
// Response: 200 OK with service.MetricSeries
func (h *MetricsHandler) Series(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters, err := request.ParseSeriesFilters(q.Get("freq"), q.Get("limit"), q.Get("as_reported"), "", "", "")
	if err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}
	if err := validation.ValidateLimit(filters.Limit); err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}

	series, err := h.calcService.Series(r.Context(), service.SeriesQuery{
		IssuerID:   chi.URLParam(r, "issuer"),
		Concept:    chi.URLParam(r, "concept"),
		Frequency:  filters.Frequency,
		Limit:      filters.Limit,
		AsReported: filters.AsReported,
	})
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, series)
}
