package edgar

import "github.com/shopspring/decimal"

// CompanyFacts is the companyfacts document: every XBRL fact an entity has
// filed, grouped by taxonomy prefix, tag and unit.
type CompanyFacts struct {
	CIK        int                            `json:"cik"`
	EntityName string                         `json:"entityName"`
	Facts      map[string]map[string]TagFacts `json:"facts"`
}

// TagFacts holds the observations of one tag keyed by unit (USD, USD/shares, shares, pure, ...).
type TagFacts struct {
	Label       string                 `json:"label"`
	Description string                 `json:"description"`
	Units       map[string][]UnitValue `json:"units"`
}

// UnitValue is one reported observation. Start is empty for instant facts.
type UnitValue struct {
	Start string          `json:"start,omitempty"`
	End   string          `json:"end"`
	Val   decimal.Decimal `json:"val"`
	Accn  string          `json:"accn"`
	FY    int             `json:"fy"`
	FP    string          `json:"fp"`
	Form  string          `json:"form"`
	Filed string          `json:"filed"`
	Frame string          `json:"frame,omitempty"`
}
