/*
Package tib implements the Taxe sur les Immeubles Bâtis.

FORMULA (Code de la Fiscalité Locale 2025, art. 1-34):
  category  = surface ladder, ≤100 → 1, ≤200 → 2, ≤400 → 3, otherwise 4
  assiette  = 2% × reference price per m² × covered surface
  rate      = service rate of the highest band not above the service count
  tax       = assiette × rate; total = tax

The reference price comes from the commune's category price and the service
count from the locality (see ResolveServiceCount). Both are resolved by the
caller; the calculator only reads the Property value.

SEE ALSO:
  - fiscal/tariff.go: service rate bands
  - fiscal/exemption.go: rule-based exemptions
*/
package tib

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/fiscal"
)

// AssietteRate is the 2% legal base applied to the reference value.
var AssietteRate = decimal.RequireFromString("0.02")

// Property is the minimal built-property view the calculator reads.
// A zero ReferencePricePerM2 means the price was not configured.
type Property struct {
	SurfaceCouverte     decimal.Decimal
	ReferencePricePerM2 decimal.Decimal
	ServiceCount        int

	Affectation      string
	ConstructionYear int

	IsExempt        bool
	ExemptionReason string

	CommuneID  string
	Delegation string
}

type Result struct {
	fiscal.Assessment
	Category      int
	ServicesCount int
}

// =============================================================================
// CALCULATOR
// =============================================================================

// Calculator is stateless apart from its immutable tariff table and safe for
// concurrent use.
type Calculator struct {
	table *fiscal.TariffTable
}

func NewCalculator(table *fiscal.TariffTable) *Calculator {
	return &Calculator{table: table}
}

// Calculate assesses p as of today.
func (c *Calculator) Calculate(p Property) (*Result, error) {
	return c.CalculateAt(p, time.Now())
}

// CalculateAt assesses p; asOf only feeds age-based exemption rules.
func (c *Calculator) CalculateAt(p Property, asOf time.Time) (*Result, error) {
	rounding := c.table.Rounding()

	if p.IsExempt {
		return &Result{
			Assessment:    fiscal.ExemptAssessment(fiscal.SectionTIB, rounding, p.ExemptionReason, ""),
			ServicesCount: p.ServiceCount,
		}, nil
	}

	ctx := fiscal.ExemptionContext{
		Affectation:      p.Affectation,
		ExemptionReason:  p.ExemptionReason,
		ConstructionYear: p.ConstructionYear,
		Surface:          p.SurfaceCouverte,
	}
	if rule := c.table.Exemptions().Match(fiscal.SectionTIB, ctx, asOf.Year()); rule != nil {
		return &Result{
			Assessment:    fiscal.ExemptAssessment(fiscal.SectionTIB, rounding, rule.DisplayReason(), rule.Name),
			ServicesCount: p.ServiceCount,
		}, nil
	}

	if !p.SurfaceCouverte.IsPositive() {
		return nil, fiscal.InvalidSurfaceError("Covered surface")
	}

	category := Category(p.SurfaceCouverte)
	if !p.ReferencePricePerM2.IsPositive() {
		return nil, &fiscal.CalculationError{
			Code:    fiscal.CodeMissingConfiguration,
			Message: fmt.Sprintf("Reference price per m² required for category %d", category),
		}
	}
	if p.ServiceCount < 0 {
		return nil, &fiscal.CalculationError{
			Code:    fiscal.CodeInvalidServiceCount,
			Message: fmt.Sprintf("Service count must not be negative, got %d", p.ServiceCount),
		}
	}

	assiette := AssietteRate.Mul(p.ReferencePricePerM2).Mul(p.SurfaceCouverte)
	rate := c.table.ServiceRate(p.ServiceCount)
	tax := assiette.Mul(rate).Div(decimal.NewFromInt(100))

	taxAmount := rounding.Round(tax, fiscal.SectionTIB)
	return &Result{
		Assessment: fiscal.Assessment{
			Section:     fiscal.SectionTIB,
			BaseAmount:  rounding.Round(assiette, fiscal.SectionTIB),
			RatePercent: rate,
			TaxAmount:   taxAmount,
			TotalAmount: taxAmount,
		},
		Category:      category,
		ServicesCount: p.ServiceCount,
	}, nil
}

// =============================================================================
// CLASSIFICATION
// =============================================================================

var (
	category1Max = decimal.NewFromInt(100)
	category2Max = decimal.NewFromInt(200)
	category3Max = decimal.NewFromInt(400)
)

// Category maps a covered surface to its statutory category (1-4).
// Upper bounds are inclusive: 100 is category 1, 100.01 is category 2.
func Category(surface decimal.Decimal) int {
	switch {
	case surface.LessThanOrEqual(category1Max):
		return 1
	case surface.LessThanOrEqual(category2Max):
		return 2
	case surface.LessThanOrEqual(category3Max):
		return 3
	default:
		return 4
	}
}

// ResolveServiceCount uses the locality's own services when it has any and
// falls back to the commune-wide count otherwise.
func ResolveServiceCount(locality, communeWide int) int {
	if locality > 0 {
		return locality
	}
	if communeWide < 0 {
		return 0
	}
	return communeWide
}
