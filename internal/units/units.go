// Package units converts raw filed values into canonical base units and
// classifies the unit strings filers use.
package units

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
)

// Kind is the dimensional class of a quantity.
type Kind string

const (
	KindMonetary Kind = "monetary"
	KindShares   Kind = "shares"
	KindPerShare Kind = "per_share"
	KindPure     Kind = "pure"
	KindUnknown  Kind = "unknown"
)

// Valid reports whether k is one of the known kinds other than unknown.
func (k Kind) Valid() bool {
	switch k {
	case KindMonetary, KindShares, KindPerShare, KindPure:
		return true
	}
	return false
}

var scaleWords = map[string]int{
	"":          0,
	"ONES":      0,
	"ONE":       0,
	"UNITS":     0,
	"U":         0,
	"THOUSANDS": 3,
	"THOUSAND":  3,
	"K":         3,
	"MILLIONS":  6,
	"MILLION":   6,
	"M":         6,
	"MM":        6,
	"BILLIONS":  9,
	"BILLION":   9,
	"B":         9,
	"BN":        9,
	"TRILLIONS": 12,
	"TRILLION":  12,
	"T":         12,
}

// ParseScale turns a scale label ("thousands", "M", "6") into a power-of-ten exponent.
func ParseScale(s string) (int, error) {
	key := strings.ToUpper(strings.TrimSpace(s))
	if exp, ok := scaleWords[key]; ok {
		return exp, nil
	}
	exp, err := strconv.Atoi(key)
	if err != nil || exp < 0 || exp > 15 {
		return 0, fmt.Errorf("invalid scale %q", s)
	}
	return exp, nil
}

// ScaleLabel is the inverse of ParseScale for the common exponents.
func ScaleLabel(exp int) string {
	switch exp {
	case 0:
		return "ones"
	case 3:
		return "thousands"
	case 6:
		return "millions"
	case 9:
		return "billions"
	case 12:
		return "trillions"
	}
	return strconv.Itoa(exp)
}

// Normalize applies the scale exponent exactly. Shifting the decimal
// exponent never rounds, so Denormalize(Normalize(v, s), s) == v.
func Normalize(raw decimal.Decimal, scale int) decimal.Decimal {
	return raw.Shift(int32(scale))
}

// Denormalize re-derives the filed value from a canonical one.
func Denormalize(value decimal.Decimal, scale int) decimal.Decimal {
	return value.Shift(-int32(scale))
}

// ValidCurrency reports whether code is an ISO-4217 currency.
func ValidCurrency(code string) bool {
	if len(code) != 3 {
		return false
	}
	return money.GetCurrency(strings.ToUpper(code)) != nil
}

// Classify maps a filer unit string onto a Kind.
//
//	USD, eur         -> monetary
//	shares           -> shares
//	USD/shares       -> per_share
//	pure, %, ratio   -> pure
func Classify(unit string) Kind {
	u := strings.TrimSpace(unit)
	lower := strings.ToLower(u)
	switch lower {
	case "shares", "share", "shrs":
		return KindShares
	case "pure", "ratio", "percent", "%", "number", "":
		return KindPure
	}
	if num, den, ok := splitRatio(u); ok {
		if ValidCurrency(num) && isShares(den) {
			return KindPerShare
		}
		if ValidCurrency(num) && ValidCurrency(den) {
			return KindPure
		}
		return KindUnknown
	}
	if ValidCurrency(u) {
		return KindMonetary
	}
	return KindUnknown
}

// CurrencyOf returns the ISO code carried by a monetary or per-share unit.
func CurrencyOf(unit string) string {
	u := strings.TrimSpace(unit)
	if num, _, ok := splitRatio(u); ok {
		u = num
	}
	if ValidCurrency(u) {
		return strings.ToUpper(u)
	}
	return ""
}

// RequireMonetary fails with unit_incompatible unless unit denotes money.
func RequireMonetary(unit string) error {
	if kind := Classify(unit); kind != KindMonetary {
		return apperrors.New(apperrors.KindUnitIncompatible, fmt.Sprintf("unit %q is not monetary", unit)).
			With("unit", unit).
			With("unit_kind", string(kind))
	}
	return nil
}

func splitRatio(u string) (string, string, bool) {
	for _, sep := range []string{"/", "-per-", " per "} {
		if i := indexFold(u, sep); i > 0 {
			return u[:i], u[i+len(sep):], true
		}
	}
	return "", "", false
}

// indexFold is strings.Index with ASCII case folding. The index is a byte
// offset into s itself, so it stays valid for non-ASCII units.
func indexFold(s, sep string) int {
	for i := 0; i+len(sep) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(sep)], sep) {
			return i
		}
	}
	return -1
}

func isShares(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "shares", "share", "shrs":
		return true
	}
	return false
}
