package verify

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ErrUnknownUnit means no conversion factor is configured between two units.
var ErrUnknownUnit = errors.New("unknown unit conversion")

type unitsFile struct {
	Aliases     map[string][]string `yaml:"aliases"`
	Conversions []struct {
		From   string  `yaml:"from"`
		To     string  `yaml:"to"`
		Factor float64 `yaml:"factor"`
	} `yaml:"conversions"`
}

type pair struct{ from, to string }

// UnitTable holds static factors: quantity in `to` = quantity in `from` *
// factor. The reverse direction is derived.
type UnitTable struct {
	aliases map[string]string
	factors map[pair]decimal.Decimal
}

const defaultUnitsYAML = `
aliases:
  pcs: [pc, piece, pieces, шт, шт., штук]
  kg: [kilogram, kilograms, кг]
  g: [gram, grams, gr, г, гр]
  l: [litre, liter, litres, liters, л]
  ml: [millilitre, milliliter, мл]
  pack: [pk, pkg, уп, упак]
conversions:
  - {from: g, to: kg, factor: 0.001}
  - {from: ml, to: l, factor: 0.001}
`

// DefaultUnits returns the built-in table (metric mass and volume).
func DefaultUnits() *UnitTable {
	t, err := parseUnits([]byte(defaultUnitsYAML))
	if err != nil {
		panic(fmt.Sprintf("default units table: %v", err))
	}
	return t
}

// LoadUnits reads a YAML table and layers it over the defaults.
func LoadUnits(path string) (*UnitTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read units table: %w", err)
	}
	extra, err := parseUnits(data)
	if err != nil {
		return nil, err
	}
	t := DefaultUnits()
	for k, v := range extra.aliases {
		t.aliases[k] = v
	}
	for k, v := range extra.factors {
		t.factors[k] = v
	}
	return t, nil
}

func parseUnits(data []byte) (*UnitTable, error) {
	var f unitsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse units yaml: %w", err)
	}
	t := &UnitTable{aliases: map[string]string{}, factors: map[pair]decimal.Decimal{}}
	for canonical, names := range f.Aliases {
		c := normalizeUnit(canonical)
		t.aliases[c] = c
		for _, n := range names {
			t.aliases[normalizeUnit(n)] = c
		}
	}
	for i, c := range f.Conversions {
		if c.Factor <= 0 {
			return nil, fmt.Errorf("conversion %d (%s->%s): factor must be positive", i, c.From, c.To)
		}
		from, to := t.canonical(c.From), t.canonical(c.To)
		if from == "" || to == "" {
			return nil, fmt.Errorf("conversion %d: from and to are required", i)
		}
		t.factors[pair{from, to}] = decimal.NewFromFloat(c.Factor)
	}
	return t, nil
}

func normalizeUnit(u string) string {
	return strings.ToLower(strings.TrimSpace(u))
}

func (t *UnitTable) canonical(u string) string {
	u = normalizeUnit(u)
	if c, ok := t.aliases[u]; ok {
		return c
	}
	return u
}

// Factor returns the multiplier taking a quantity from one unit to another.
// Either unit being empty means the line did not state one and the factor is
// 1.
func (t *UnitTable) Factor(from, to string) (decimal.Decimal, error) {
	f, c := t.canonical(from), t.canonical(to)
	if f == "" || c == "" || f == c {
		return decimal.NewFromInt(1), nil
	}
	if factor, ok := t.factors[pair{f, c}]; ok {
		return factor, nil
	}
	if factor, ok := t.factors[pair{c, f}]; ok {
		return decimal.NewFromInt(1).Div(factor), nil
	}
	return decimal.Decimal{}, fmt.Errorf("%w: %s -> %s", ErrUnknownUnit, from, to)
}
