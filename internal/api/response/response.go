// Package response provides utilities for sending consistent HTTP responses.
// Successful responses are plain JSON; failures are problem documents whose
// type is the engine error kind.
package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/validation"
)

// ProblemContentType is the media type of error bodies.
const ProblemContentType = "application/problem+json"

// Problem is a structured error body. Evidence members are flattened into
// the top-level object next to the standard members.
type Problem struct {
	Type     string         `json:"type"`
	Title    string         `json:"title"`
	Status   int            `json:"status"`
	Detail   string         `json:"detail,omitempty"`
	Instance string         `json:"instance,omitempty"`
	Evidence map[string]any `json:"-"`
}

// MarshalJSON flattens Evidence. Standard members win over evidence keys
// of the same name.
func (p Problem) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(p.Evidence)+5)
	for k, v := range p.Evidence {
		out[k] = v
	}
	out["type"] = p.Type
	out["title"] = p.Title
	out["status"] = p.Status
	if p.Detail != "" {
		out["detail"] = p.Detail
	}
	if p.Instance != "" {
		out["instance"] = p.Instance
	}
	return json.Marshal(out)
}

// RespondJSON sends a JSON response with the given status code.
// If data is nil, only the status code is sent.
// Logs encoding errors but does not fail the response.
func RespondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Error("failed to encode JSON response", "error", err)
		}
	}
}

// RespondError translates err into a problem document. Validation errors
// become invalid_request with the failing fields as evidence; untyped
// errors are reported as internal_error without leaking their text.
//
// Example:
//
//	res, err := h.calcService.Explain(r.Context(), req)
//	if err != nil {
//	    response.RespondError(w, r, err)
//	    return
//	}
func RespondError(w http.ResponseWriter, r *http.Request, err error) {
	p := NewProblem(err)
	p.Instance = middleware.GetReqID(r.Context())

	if p.Status >= http.StatusInternalServerError {
		log.Error("request failed", "method", r.Method, "path", r.URL.Path,
			"request_id", p.Instance, "type", p.Type, "error", err)
	}

	w.Header().Set("Content-Type", ProblemContentType)
	w.WriteHeader(p.Status)
	if err := json.NewEncoder(w).Encode(p); err != nil {
		log.Error("failed to encode problem response", "error", err)
	}
}

// NewProblem builds the problem document for err, without an instance.
func NewProblem(err error) Problem {
	var verr *validation.Error
	if errors.As(err, &verr) {
		kind := apperrors.KindInvalidRequest
		return Problem{
			Type:     string(kind),
			Title:    apperrors.Title(kind),
			Status:   apperrors.Status(kind),
			Detail:   verr.Error(),
			Evidence: map[string]any{"fields": verr.Fields},
		}
	}

	kind := apperrors.KindOf(err)
	p := Problem{
		Type:     string(kind),
		Title:    apperrors.Title(kind),
		Status:   apperrors.Status(kind),
		Evidence: apperrors.EvidenceOf(err),
	}
	var ae *apperrors.Error
	if errors.As(err, &ae) {
		p.Detail = ae.Detail
		if p.Detail == "" && ae.Err != nil && kind != apperrors.KindInternal {
			p.Detail = ae.Err.Error()
		}
	}
	if kind == apperrors.KindInternal && p.Detail == "" {
		p.Detail = "an unexpected error occurred"
	}
	return p
}

// BadRequest reports a malformed request body or parameter.
func BadRequest(w http.ResponseWriter, r *http.Request, detail string) {
	RespondError(w, r, apperrors.New(apperrors.KindInvalidRequest, detail))
}
