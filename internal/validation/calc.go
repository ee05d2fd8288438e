package validation

import (
	"strings"

	"github.com/finmetrics/grounding/internal/api/request"
	"github.com/finmetrics/grounding/internal/model"
)

// ValidateExplainRequest validates an explain request.
//
// Required fields:
//   - issuer: a registered issuer id
//   - expr: a non-empty expression
//
// Optional fields (validated if provided):
//   - period: latest, YYYY-MM-DD, YYYY-Qn or FYYYYY
//   - freq: Q or A
//   - currency: ISO-4217 code
//   - accession: 0000000000-00-000000
//
// Returns a validation Error with field-specific error messages if validation fails.
func ValidateExplainRequest(req request.ExplainRequest) error {
	return result(explainFields(req))
}

func explainFields(req request.ExplainRequest) map[string]string {
	errors := make(map[string]string)

	if strings.TrimSpace(req.Issuer) == "" {
		errors["issuer"] = "issuer is required"
	} else if err := ValidateIssuerID(req.Issuer); err != nil {
		errors["issuer"] = err.Error()
	}

	if strings.TrimSpace(req.Expr) == "" {
		errors["expr"] = "expr is required"
	} else if len(req.Expr) > 500 {
		errors["expr"] = "expr must be 500 characters or less"
	}

	// optionals

	if req.Period != "" {
		if _, err := model.ParsePeriod(req.Period); err != nil {
			errors["period"] = err.Error()
		}
	}

	if req.Freq != "" {
		if err := ValidateFilingFrequency(req.Freq); err != nil {
			errors["freq"] = err.Error()
		}
	}

	if req.Currency != "" {
		if err := ValidateCurrency(req.Currency); err != nil {
			errors["currency"] = err.Error()
		}
	}

	if req.Accession != "" {
		if err := ValidateAccession(req.Accession); err != nil {
			errors["accession"] = err.Error()
		}
	}

	return errors
}

// ValidateVerifyExpressionRequest validates an explain request plus the
// asserted value. The assertion itself is parsed by the evaluator.
func ValidateVerifyExpressionRequest(req request.VerifyExpressionRequest) error {
	errors := explainFields(req.ExplainRequest)

	if strings.TrimSpace(string(req.AssertValue)) == "" {
		errors["assert_value"] = "assert_value is required"
	}

	return result(errors)
}
