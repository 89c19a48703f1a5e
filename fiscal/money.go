package fiscal

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// DefaultCurrencyDecimals matches the millime, the dinar's subunit.
const DefaultCurrencyDecimals int32 = 3

// =============================================================================
// MONEY - A rounded monetary amount
// =============================================================================

// Money is an amount that has already been rounded to a section's precision.
// Only RoundingPolicy, ParseMoney and Add produce one, so a Money value is
// never passed through rounding a second time.
type Money struct {
	value  decimal.Decimal
	places int32
}

// ParseMoney restores a stored amount without rounding it again.
// The precision is taken from the literal ("60.000" has 3 places).
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, fmt.Errorf("invalid money amount %q: %w", s, err)
	}
	places := -d.Exponent()
	if places < 0 {
		places = 0
	}
	return Money{value: d, places: places}, nil
}

func (m Money) Decimal() decimal.Decimal { return m.value }
func (m Money) Places() int32            { return m.places }
func (m Money) IsZero() bool             { return m.value.IsZero() }
func (m Money) Equal(o Money) bool       { return m.value.Equal(o.value) }
func (m Money) Float64() float64         { return m.value.InexactFloat64() }

// String renders exactly Places() decimals.
func (m Money) String() string { return m.value.StringFixed(m.places) }

// Add sums two rounded amounts. The sum of two values with at most p places
// has at most p places, so no rounding happens here.
func (m Money) Add(o Money) Money {
	places := m.places
	if o.places > places {
		places = o.places
	}
	return Money{value: m.value.Add(o.value), places: places}
}

// MarshalJSON emits a JSON number with the fixed number of decimals.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	parsed, err := ParseMoney(string(bytes.Trim(data, `"`)))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// =============================================================================
// ROUNDING POLICY
// =============================================================================

// RoundingPolicy holds the currency precision per section.
// Rounding is half away from zero (decimal.Round).
type RoundingPolicy struct {
	decimals map[Section]int32
}

// NewRoundingPolicy copies the given precision table. Sections that are not
// listed use DefaultCurrencyDecimals.
func NewRoundingPolicy(decimals map[Section]int32) RoundingPolicy {
	copied := make(map[Section]int32, len(decimals))
	for s, d := range decimals {
		copied[s] = d
	}
	return RoundingPolicy{decimals: copied}
}

// Places returns the configured precision for a section.
func (p RoundingPolicy) Places(section Section) int32 {
	if d, ok := p.decimals[section]; ok {
		return d
	}
	return DefaultCurrencyDecimals
}

// Round is the single rounding step for every monetary output.
func (p RoundingPolicy) Round(amount decimal.Decimal, section Section) Money {
	places := p.Places(section)
	return Money{value: amount.Round(places), places: places}
}

func (p RoundingPolicy) Zero(section Section) Money {
	return Money{value: decimal.Zero, places: p.Places(section)}
}
