package verify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"supplybot/internal/domain"
	"supplybot/internal/money"
)

var hundred = decimal.NewFromInt(100)

type Tolerance struct {
	Relative decimal.Decimal // fraction of the declared total, e.g. 0.005
	Absolute decimal.Decimal // currency amount, e.g. 0.50
}

// Allowed is the looser of the two bounds for a given declared total.
// Declared totals below 1 are treated as 1 for the relative bound.
func (t Tolerance) Allowed(declared decimal.Decimal) decimal.Decimal {
	base := declared.Abs()
	if base.LessThan(decimal.NewFromInt(1)) {
		base = decimal.NewFromInt(1)
	}
	rel := base.Mul(t.Relative)
	if rel.GreaterThan(t.Absolute) {
		return rel
	}
	return t.Absolute
}

// Line is one extracted item together with its settled match and the unit
// the catalog keeps it in.
type Line struct {
	Item        domain.ExtractedLineItem
	Match       domain.MatchResult
	CatalogUnit string
}

type Result struct {
	Outcome domain.VerificationOutcome
	// Lines are ready for submission: skipped lines are left out, quantities
	// and prices are in the catalog unit.
	Lines []domain.SupplyLine
}

type Verifier struct {
	units     *UnitTable
	rounding  money.RoundingMode
	tolerance Tolerance
}

func NewVerifier(units *UnitTable, rounding money.RoundingMode, tolerance Tolerance) *Verifier {
	if units == nil {
		units = DefaultUnits()
	}
	return &Verifier{units: units, rounding: rounding, tolerance: tolerance}
}

func (v *Verifier) Tolerance() Tolerance { return v.tolerance }

// Verify recomputes the document total and compares it with the declared
// one. An unknown unit pair returns ErrUnknownUnit; an out-of-tolerance total
// is reported through Outcome.WithinTolerance, not as an error.
func (v *Verifier) Verify(doc domain.ExtractedDocument, lines []Line) (Result, error) {
	rounder := money.Rounder{Mode: v.rounding, Currency: doc.Currency}
	subtotal := decimal.Zero
	tax := decimal.Zero
	var out []domain.SupplyLine

	for i, l := range lines {
		amount := rounder.Round(l.Item.Quantity.Mul(l.Item.UnitPrice))
		subtotal = subtotal.Add(amount)
		if l.Item.TaxRate.Valid {
			tax = tax.Add(rounder.Round(amount.Mul(l.Item.TaxRate.Decimal).Div(hundred)))
		}
		if l.Match.Skipped {
			continue
		}

		targetUnit := l.CatalogUnit
		if l.Match.CreateNew {
			targetUnit = ""
		}
		factor, err := v.units.Factor(l.Item.Unit, targetUnit)
		if err != nil {
			return Result{}, fmt.Errorf("line %d (%s): %w", i+1, strings.TrimSpace(l.Item.Description), err)
		}
		name := l.Match.Name
		if name == "" || l.Match.CreateNew {
			name = strings.TrimSpace(l.Item.Description)
		}
		sl := domain.SupplyLine{
			Name:      name,
			Quantity:  l.Item.Quantity.Mul(factor),
			UnitPrice: l.Item.UnitPrice.Div(factor),
			TaxRate:   l.Item.TaxRate,
		}
		if !l.Match.CreateNew {
			sl.ProductID = l.Match.ID
		}
		out = append(out, sl)
	}

	computed := rounder.Round(subtotal).Add(rounder.Round(tax))
	return Result{Outcome: v.compare(computed, doc.DeclaredTotal), Lines: out}, nil
}

func (v *Verifier) compare(computed decimal.Decimal, declared decimal.NullDecimal) domain.VerificationOutcome {
	o := domain.VerificationOutcome{Computed: computed}
	if !declared.Valid {
		o.Skipped = true
		o.WithinTolerance = true
		return o
	}
	o.Declared = declared.Decimal
	o.AbsoluteDelta = computed.Sub(declared.Decimal).Abs()
	if !declared.Decimal.IsZero() {
		o.RelativeDelta = o.AbsoluteDelta.DivRound(declared.Decimal.Abs(), 6)
	}
	o.Allowed = v.tolerance.Allowed(declared.Decimal)
	o.WithinTolerance = o.AbsoluteDelta.LessThanOrEqual(o.Allowed)
	return o
}
