package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/model"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/validation"
)

// SegmentHandler serves dimension-qualified facts.
type SegmentHandler struct {
	factService *service.FactService
}

// NewSegmentHandler creates a new SegmentHandler
func NewSegmentHandler(factService *service.FactService) *SegmentHandler {
	return &SegmentHandler{
		factService: factService,
	}
}

// SegmentResponse is a single segment value.
type SegmentResponse struct {
	Issuer  string            `json:"issuer"`
	Concept string            `json:"concept"`
	Axis    string            `json:"axis"`
	Member  string            `json:"member"`
	Freq    model.Frequency   `json:"freq"`
	Point   model.MetricPoint `json:"point"`
}

// SegmentsResponse lists one series per member of an axis.
type SegmentsResponse struct {
	Issuer   string                  `json:"issuer"`
	Concept  string                  `json:"concept"`
	Axis     string                  `json:"axis"`
	Freq     model.Frequency         `json:"freq"`
	Segments []service.SegmentSeries `json:"segments"`
}

// Segments returns the per-member series of a concept along one axis. With
// member set, the single value for that member is resolved instead, at
// the given period or the latest one.
//
// Endpoint: GET /segments/{issuer}/{metric}?dim=&member=&period=&freq=&limit=
// Response: 200 OK with SegmentsResponse, or SegmentResponse when member is set
// Error: 404 dimension_unavailable when the issuer does not tag the axis
func (h *SegmentHandler) Segments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters, err := request.ParseSeriesFilters(q.Get("freq"), q.Get("limit"), q.Get("as_reported"), q.Get("dim"), q.Get("member"), q.Get("period"))
	if err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}
	if filters.Axis == "" {
		response.BadRequest(w, r, "dim is required")
		return
	}
	if err := validation.ValidateLimit(filters.Limit); err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}

	issuer := chi.URLParam(r, "issuer")
	concept := chi.URLParam(r, "metric")

	if filters.Member != "" {
		h.segment(w, r, issuer, concept, filters)
		return
	}

	segments, err := h.factService.SegmentSeries(r.Context(), service.SeriesQuery{
		IssuerID:   issuer,
		Concept:    concept,
		Frequency:  filters.Frequency,
		Limit:      filters.Limit,
		AsReported: filters.AsReported,
	}, filters.Axis)
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, SegmentsResponse{
		Issuer:   issuer,
		Concept:  concept,
		Axis:     filters.Axis,
		Freq:     filters.Frequency,
		Segments: segments,
	})
}

func (h *SegmentHandler) segment(w http.ResponseWriter, r *http.Request, issuer, concept string, filters *request.SeriesFilters) {
	period, err := model.ParsePeriod(filters.Period)
	if err != nil {
		response.BadRequest(w, r, err.Error())
		return
	}

	res, err := h.factService.ResolveSegment(r.Context(), service.ResolveQuery{
		IssuerID:   issuer,
		Concept:    concept,
		Period:     period,
		Frequency:  filters.Frequency,
		AsReported: filters.AsReported,
	}, filters.Axis, filters.Member)
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, SegmentResponse{
		Issuer:  issuer,
		Concept: concept,
		Axis:    filters.Axis,
		Member:  filters.Member,
		Freq:    res.Fact.Frequency,
		Point: model.MetricPoint{
			PeriodEnd: res.Fact.PeriodEnd.Format(model.DateLayout),
			Value:     res.Value,
			Unit:      res.Fact.Unit,
			Currency:  res.Fact.Currency,
			Citations: []model.Citation{res.Citation},
			Demo:      res.Demo,
		},
	})
}
