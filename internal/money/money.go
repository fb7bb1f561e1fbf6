package money

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type RoundingMode string

const (
	HalfEven RoundingMode = "half_even"
	HalfUp   RoundingMode = "half_up"
	Floor    RoundingMode = "floor"
	Ceil     RoundingMode = "ceil"
	Truncate RoundingMode = "truncate"
)

// ParseRoundingMode accepts the mode names plus "bankers" as an alias of
// half_even. Empty input selects half_even.
func ParseRoundingMode(s string) (RoundingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "half_even", "bankers", "nearest_even":
		return HalfEven, nil
	case "half_up":
		return HalfUp, nil
	case "floor":
		return Floor, nil
	case "ceil":
		return Ceil, nil
	case "truncate", "down":
		return Truncate, nil
	}
	return "", fmt.Errorf("unknown rounding mode %q", s)
}

var minorUnits = map[string]int32{
	"BHD": 3,
	"CLP": 0,
	"JPY": 0,
	"KRW": 0,
	"KWD": 3,
	"VND": 0,
}

// MinorUnits returns the number of decimal places of a currency. Currencies
// not listed use two places.
func MinorUnits(currency string) int32 {
	if places, ok := minorUnits[strings.ToUpper(strings.TrimSpace(currency))]; ok {
		return places
	}
	return 2
}

// Round rounds d to places decimal places under mode.
func Round(d decimal.Decimal, places int32, mode RoundingMode) decimal.Decimal {
	switch mode {
	case HalfUp:
		return d.Round(places)
	case Floor:
		return d.RoundFloor(places)
	case Ceil:
		return d.RoundCeil(places)
	case Truncate:
		return d.Truncate(places)
	default:
		return d.RoundBank(places)
	}
}

// Rounder binds a mode to a currency so callers round the way the
// accounting system does.
type Rounder struct {
	Mode     RoundingMode
	Currency string
}

func (r Rounder) Round(d decimal.Decimal) decimal.Decimal {
	return Round(d, MinorUnits(r.Currency), r.Mode)
}

// MinorUnit is the smallest representable amount, e.g. 0.01 for UAH.
func (r Rounder) MinorUnit() decimal.Decimal {
	return decimal.New(1, -MinorUnits(r.Currency))
}
