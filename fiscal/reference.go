package fiscal

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ReferencePriceBounds is the legal price range (TND/m²) a municipality may
// set for one TIB category, with the price currently in force.
type ReferencePriceBounds struct {
	Category     int
	Label        string
	LegalMin     decimal.Decimal
	LegalMax     decimal.Decimal
	CurrentPrice decimal.Decimal
}

// DefaultReferencePriceBounds returns the national bounds with each current
// price seeded at the midpoint.
func DefaultReferencePriceBounds() []ReferencePriceBounds {
	bounds := []ReferencePriceBounds{
		{Category: 1, Label: "≤ 100 m²", LegalMin: decimal.NewFromInt(100), LegalMax: decimal.NewFromInt(178)},
		{Category: 2, Label: "100-200 m²", LegalMin: decimal.NewFromInt(163), LegalMax: decimal.NewFromInt(238)},
		{Category: 3, Label: "200-400 m²", LegalMin: decimal.NewFromInt(217), LegalMax: decimal.NewFromInt(297)},
		{Category: 4, Label: "> 400 m²", LegalMin: decimal.NewFromInt(271), LegalMax: decimal.NewFromInt(356)},
	}
	for i := range bounds {
		bounds[i].CurrentPrice = bounds[i].Midpoint()
	}
	return bounds
}

func (b ReferencePriceBounds) Midpoint() decimal.Decimal {
	return b.LegalMin.Add(b.LegalMax).Div(decimal.NewFromInt(2))
}

func (b ReferencePriceBounds) Contains(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(b.LegalMin) && price.LessThanOrEqual(b.LegalMax)
}

// Validate checks 0 <= legal_min < legal_max and that a set current price
// lies inside the range.
func (b ReferencePriceBounds) Validate() error {
	if b.Category < 1 || b.Category > 4 {
		return fmt.Errorf("category must be 1-4, got %d", b.Category)
	}
	if b.LegalMin.IsNegative() {
		return errors.New("legal_min must not be negative")
	}
	if !b.LegalMin.LessThan(b.LegalMax) {
		return fmt.Errorf("legal_min (%s) must be below legal_max (%s)", b.LegalMin, b.LegalMax)
	}
	if !b.CurrentPrice.IsZero() && !b.Contains(b.CurrentPrice) {
		return fmt.Errorf("current_price %s outside [%s, %s]", b.CurrentPrice, b.LegalMin, b.LegalMax)
	}
	return nil
}
