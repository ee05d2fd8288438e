// Package middleware provides HTTP middleware for request validation and processing.
package middleware

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/finmetrics/grounding/internal/api/response"
	"github.com/finmetrics/grounding/internal/validation"
)

// ValidateIssuerMiddleware validates the {issuer} URL parameter before the
// handler runs. Returns 400 with an invalid_request problem when it is
// missing or malformed.
//
// Example usage in router:
//
//	r.Route("/metrics/{issuer}", func(r chi.Router) {
//	    r.Use(middleware.ValidateIssuerMiddleware)
//	    r.Get("/{concept}", handler.Series)
//	})
func ValidateIssuerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		issuer := chi.URLParam(r, "issuer")

		if issuer == "" {
			response.BadRequest(w, r, "issuer is required")
			return
		}

		if err := validation.ValidateIssuerID(issuer); err != nil {
			response.RespondError(w, r, &validation.Error{Fields: map[string]string{"issuer": err.Error()}})
			return
		}

		next.ServeHTTP(w, r)
	})
}
