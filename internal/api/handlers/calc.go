package handlers

import (
	"net/http"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/service"
	"github.com/finmetrics/grounding/internal/validation"
)

// CalcHandler evaluates expressions over grounded facts.
type CalcHandler struct {
	calcService *service.CalcService
}

// NewCalcHandler creates a new CalcHandler
func NewCalcHandler(calcService *service.CalcService) *CalcHandler {
	return &CalcHandler{
		calcService: calcService,
	}
}

// Explain evaluates an expression and returns its value together with the
// term breakdown and one citation per fact and FX rate used.
//
// Endpoint: POST /calc/explain
// Request: request.ExplainRequest
// Response: 200 OK with calc.Result
// Error: problem document typed by the failing condition
func (h *CalcHandler) Explain(w http.ResponseWriter, r *http.Request) {
	var req request.ExplainRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateExplainRequest(req); err != nil {
		response.RespondError(w, r, err)
		return
	}

	res, err := h.calcService.Explain(r.Context(), req)
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}

// VerifyExpression evaluates an expression and compares it with the
// asserted value. A mismatch is a normal 200 answer with verified false.
//
// Endpoint: POST /calc/verify-expression
// Request: request.VerifyExpressionRequest
// Response: 200 OK with calc.Verification
func (h *CalcHandler) VerifyExpression(w http.ResponseWriter, r *http.Request) {
	var req request.VerifyExpressionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := validation.ValidateVerifyExpressionRequest(req); err != nil {
		response.RespondError(w, r, err)
		return
	}

	res, err := h.calcService.VerifyExpression(r.Context(), req)
	if err != nil {
		response.RespondError(w, r, err)
		return
	}

	response.RespondJSON(w, http.StatusOK, res)
}
