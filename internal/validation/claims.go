package validation

import (
	"fmt"
	"strings"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/grounding"
	"github.com/finmetrics/grounding/internal/model"
)

// MaxClaims caps the claims in one verification request.
const MaxClaims = 100

var operators = map[grounding.Operator]bool{
	grounding.OpEqual: true, grounding.OpLess: true, grounding.OpLessEqual: true,
	grounding.OpGreater: true, grounding.OpGreaterEqual: true,
	grounding.OpChange: true, grounding.OpYoY: true, grounding.OpQoQ: true,
}

// ValidateVerifyClaimsRequest validates the claims and the series context.
// Series either carry points inline or name an issuer and concept to load.
func ValidateVerifyClaimsRequest(req request.VerifyClaimsRequest) error {
	errors := make(map[string]string)

	if len(req.Claims) == 0 {
		errors["claims"] = "at least one claim is required"
	} else if len(req.Claims) > MaxClaims {
		errors["claims"] = fmt.Sprintf("at most %d claims per request", MaxClaims)
	}

	ids := map[string]bool{}
	for i, s := range req.Context.Series {
		field := fmt.Sprintf("context.series[%d]", i)
		switch {
		case strings.TrimSpace(s.ID) == "":
			errors[field+".id"] = "id is required"
		case ids[s.ID]:
			errors[field+".id"] = fmt.Sprintf("duplicate series id %q", s.ID)
		}
		ids[s.ID] = true

		if s.Freq != "" {
			if _, err := model.ParseFrequency(s.Freq); err != nil {
				errors[field+".freq"] = err.Error()
			}
		}

		if len(s.Points) == 0 {
			if s.Issuer == "" || s.Concept == "" {
				errors[field] = "either points or issuer and concept are required"
			} else if err := ValidateIssuerID(s.Issuer); err != nil {
				errors[field+".issuer"] = err.Error()
			}
		}
		if err := ValidateLimit(s.Limit); err != nil {
			errors[field+".limit"] = err.Error()
		}
	}

	for i, c := range req.Claims {
		field := fmt.Sprintf("claims[%d]", i)
		if strings.TrimSpace(c.Metric) == "" {
			errors[field+".metric"] = "metric is required"
		}
		if !operators[c.Operator] {
			errors[field+".operator"] = fmt.Sprintf("unknown operator %q", c.Operator)
		}
		switch {
		case c.Window < 0:
			errors[field+".window"] = "window must not be negative"
		case c.Window > 0 && c.Operator != grounding.OpChange:
			errors[field+".window"] = "window applies only to change claims"
		}
	}

	return result(errors)
}
