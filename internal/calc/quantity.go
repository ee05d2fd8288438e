package calc

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/finmetrics/grounding/internal/apperrors"
	"github.com/finmetrics/grounding/internal/units"
)

// quantity is a value with its dimensional kind. Currency is set for
// monetary and per-share quantities.
type quantity struct {
	value    decimal.Decimal
	kind     units.Kind
	currency string
}

func incompatible(op byte, a, b quantity) error {
	return apperrors.New(apperrors.KindUnitIncompatible,
		fmt.Sprintf("cannot apply %q to %s and %s", op, a.kind, b.kind)).
		With("left_kind", string(a.kind)).
		With("right_kind", string(b.kind)).
		With("left_currency", a.currency).
		With("right_currency", b.currency)
}

func add(op byte, a, b quantity) (quantity, error) {
	if a.kind != b.kind || a.currency != b.currency {
		return quantity{}, incompatible(op, a, b)
	}
	v := a.value.Add(b.value)
	if op == '-' {
		v = a.value.Sub(b.value)
	}
	return quantity{value: v, kind: a.kind, currency: a.currency}, nil
}

func mul(a, b quantity) (quantity, error) {
	v := a.value.Mul(b.value)
	switch {
	case a.kind == units.KindPure:
		return quantity{value: v, kind: b.kind, currency: b.currency}, nil
	case b.kind == units.KindPure:
		return quantity{value: v, kind: a.kind, currency: a.currency}, nil
	case a.kind == units.KindPerShare && b.kind == units.KindShares:
		return quantity{value: v, kind: units.KindMonetary, currency: a.currency}, nil
	case a.kind == units.KindShares && b.kind == units.KindPerShare:
		return quantity{value: v, kind: units.KindMonetary, currency: b.currency}, nil
	}
	return quantity{}, incompatible('*', a, b)
}

// div fails division_undefined on a zero denominator; it never yields
// infinity or a null.
func div(a, b quantity, denominator string) (quantity, error) {
	if b.value.IsZero() {
		return quantity{}, apperrors.New(apperrors.KindDivisionUndefined,
			fmt.Sprintf("denominator %s is zero", denominator)).
			With("denominator", denominator)
	}
	v := a.value.Div(b.value)
	switch {
	case a.kind == b.kind && a.currency == b.currency:
		return quantity{value: v, kind: units.KindPure}, nil
	case b.kind == units.KindPure:
		return quantity{value: v, kind: a.kind, currency: a.currency}, nil
	case a.kind == units.KindMonetary && b.kind == units.KindShares:
		return quantity{value: v, kind: units.KindPerShare, currency: a.currency}, nil
	case a.kind == units.KindMonetary && b.kind == units.KindPerShare && a.currency == b.currency:
		return quantity{value: v, kind: units.KindShares}, nil
	}
	return quantity{}, incompatible('/', a, b)
}
