package handlers

import (
	"net/http"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/validation"
)

// ClaimsHandler grounds numeric claims against series.
type ClaimsHandler struct {
	claimsService *service.ClaimsService
}

// NewClaimsHandler creates a new ClaimsHandler
func NewClaimsHandler(claimsService *service.ClaimsService) *ClaimsHandler {
	return &ClaimsHandler{
		claimsService: claimsService,
	}
}

// Verify checks each claim against the context series and returns one
// verdict per claim. With grounded set, any failing claim turns the answer
// into a 422 claims_not_grounded problem that still lists every verdict.
//
// Endpoint: POST /claims/verify
// Request: request.VerifyClaimsRequest
// Response: 200 OK with grounding.Report
func (h *ClaimsHandler) Verify(w http.ResponseWriter, r *http.Request) {
	var req request.VerifyClaimsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateVerifyClaimsRequest(req); err != nil {
		response.RespondError(w, r, err)
		return
	}

	report, err := h.claimsService.Verify(r.Context(), req)
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, report)
}
