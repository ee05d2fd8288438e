// Package apperrors defines the typed error taxonomy shared by the engine,
// its HTTP layer and the operator CLI.
package apperrors

import (
	"context"
	"errors"
	"net/http"
)

// Kind is the machine-readable error type. It doubles as the problem "type" member.
type Kind string

const (
	KindConceptUnavailable     Kind = "concept_unavailable"
	KindUnitIncompatible       Kind = "unit_incompatible"
	KindFXUnavailable          Kind = "fx_unavailable"
	KindDivisionUndefined      Kind = "division_undefined"
	KindInsufficientHistory    Kind = "insufficient_history"
	KindInsufficientDataForYoY Kind = "insufficient_data_for_yoy"
	KindInsufficientDataForQoQ Kind = "insufficient_data_for_qoq"
	KindAccessionNotFound      Kind = "accession_not_found"
	KindDimensionUnavailable   Kind = "dimension_unavailable"
	KindClaimsNotGrounded      Kind = "claims_not_grounded"
	KindUnsupportedIssuer      Kind = "unsupported_issuer"
	KindPeriodUnavailable      Kind = "period_unavailable"
	KindInvalidExpression      Kind = "invalid_expression"
	KindInvalidRequest         Kind = "invalid_request"
	KindTTMNotSupported        Kind = "ttm_not_supported"
	KindDataIntegrity          Kind = "data_integrity"
	KindRequestCancelled       Kind = "request_cancelled"
	KindUpstreamUnavailable    Kind = "upstream_unavailable"
	KindInternal               Kind = "internal_error"
)

// Error is a typed engine error. Evidence carries whatever the caller needs
// to self-diagnose (available concepts, checked dates, observed values).
type Error struct {
	Kind     Kind
	Detail   string
	Evidence map[string]any
	Err      error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same Kind, so errors.Is(err, ErrFXUnavailable)
// holds for every fx_unavailable error regardless of detail.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

// With returns the error with an extra evidence entry.
func (e *Error) With(key string, value any) *Error {
	if e.Evidence == nil {
		e.Evidence = map[string]any{}
	}
	e.Evidence[key] = value
	return e
}

// New creates a typed error.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Wrap creates a typed error around a cause.
func Wrap(kind Kind, err error, detail string) *Error {
	return &Error{Kind: kind, Detail: detail, Err: err}
}

// Sentinels for errors.Is checks. Never mutate these; use New or Wrap.
var (
	// Resolution errors: data needed to answer is absent.
	ErrConceptUnavailable   = &Error{Kind: KindConceptUnavailable}
	ErrAccessionNotFound    = &Error{Kind: KindAccessionNotFound}
	ErrDimensionUnavailable = &Error{Kind: KindDimensionUnavailable}
	ErrPeriodUnavailable    = &Error{Kind: KindPeriodUnavailable}
	ErrUnsupportedIssuer    = &Error{Kind: KindUnsupportedIssuer}
	ErrInsufficientHistory  = &Error{Kind: KindInsufficientHistory}
	ErrFXUnavailable        = &Error{Kind: KindFXUnavailable}

	// Computation errors: data exists but the operation is undefined on it.
	ErrUnitIncompatible  = &Error{Kind: KindUnitIncompatible}
	ErrDivisionUndefined = &Error{Kind: KindDivisionUndefined}
	ErrTTMNotSupported   = &Error{Kind: KindTTMNotSupported}

	// Grounding errors.
	ErrInsufficientDataForYoY = &Error{Kind: KindInsufficientDataForYoY}
	ErrInsufficientDataForQoQ = &Error{Kind: KindInsufficientDataForQoQ}
	ErrClaimsNotGrounded      = &Error{Kind: KindClaimsNotGrounded}

	// Input errors.
	ErrInvalidExpression = &Error{Kind: KindInvalidExpression}
	ErrInvalidRequest    = &Error{Kind: KindInvalidRequest}

	// System errors.
	ErrDataIntegrity       = &Error{Kind: KindDataIntegrity}
	ErrRequestCancelled    = &Error{Kind: KindRequestCancelled}
	ErrUpstreamUnavailable = &Error{Kind: KindUpstreamUnavailable}
)

// Repository lookups. These are plain sentinels; services translate them
// into typed errors with evidence.
var (
	// ErrIssuerNotFound indicates no issuer row with the given ID.
	ErrIssuerNotFound = errors.New("issuer not found")

	// ErrFXRateNotFound indicates no stored rate for a pair and date.
	ErrFXRateNotFound = errors.New("fx rate not found")
)

// KindOf classifies any error into a Kind. Context cancellation maps to
// request_cancelled; untyped errors are internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindRequestCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindUpstreamUnavailable
	}
	return KindInternal
}

// EvidenceOf returns the evidence attached to the outermost typed error.
func EvidenceOf(err error) map[string]any {
	var e *Error
	if errors.As(err, &e) {
		return e.Evidence
	}
	return nil
}

// Status maps a Kind onto an HTTP status code.
func Status(kind Kind) int {
	switch kind {
	case KindConceptUnavailable, KindAccessionNotFound, KindDimensionUnavailable,
		KindPeriodUnavailable, KindUnsupportedIssuer:
		return http.StatusNotFound
	case KindInvalidExpression, KindInvalidRequest:
		return http.StatusBadRequest
	case KindRequestCancelled:
		return 499
	case KindUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case KindDataIntegrity, KindInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusUnprocessableEntity
	}
}

var titles = map[Kind]string{
	KindConceptUnavailable:     "Concept unavailable",
	KindUnitIncompatible:       "Unit incompatible",
	KindFXUnavailable:          "FX rate unavailable",
	KindDivisionUndefined:      "Division undefined",
	KindInsufficientHistory:    "Insufficient history",
	KindInsufficientDataForYoY: "Insufficient data for year-over-year",
	KindInsufficientDataForQoQ: "Insufficient data for quarter-over-quarter",
	KindAccessionNotFound:      "Accession not found",
	KindDimensionUnavailable:   "Dimension unavailable",
	KindClaimsNotGrounded:      "Claims not grounded",
	KindUnsupportedIssuer:      "Unsupported issuer",
	KindPeriodUnavailable:      "Period unavailable",
	KindInvalidExpression:      "Invalid expression",
	KindInvalidRequest:         "Invalid request",
	KindTTMNotSupported:        "TTM not supported",
	KindDataIntegrity:          "Data integrity violation",
	KindRequestCancelled:       "Request cancelled",
	KindUpstreamUnavailable:    "Upstream unavailable",
	KindInternal:               "Internal error",
}

// Title returns the human-readable summary for a Kind.
func Title(kind Kind) string {
	if t, ok := titles[kind]; ok {
		return t
	}
	return titles[KindInternal]
}
