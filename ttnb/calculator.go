// Package ttnb implements the Taxe sur les Terrains Non Bâtis: a fixed
// per-m² tariff by urban zone (Décret 2017-396), with no rate applied.
package ttnb

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/fiscal-engine/fiscal"
)

// Land is the minimal unbuilt-land view the calculator reads.
type Land struct {
	Surface   decimal.Decimal
	UrbanZone string
	LandType  string

	IsExempt        bool
	ExemptionReason string

	CommuneID string
}

type Result struct {
	fiscal.Assessment
	Zone        fiscal.UrbanZone
	TariffPerM2 decimal.Decimal
	SurfaceM2   decimal.Decimal
}

type Calculator struct {
	table *fiscal.TariffTable
}

func NewCalculator(table *fiscal.TariffTable) *Calculator {
	return &Calculator{table: table}
}

func (c *Calculator) Calculate(l Land) (*Result, error) {
	return c.CalculateAt(l, time.Now())
}

// CalculateAt assesses l. Exemptions are checked before the zone, so an
// exempt plot needs no zone classification.
func (c *Calculator) CalculateAt(l Land, asOf time.Time) (*Result, error) {
	rounding := c.table.Rounding()

	if l.IsExempt {
		return &Result{
			Assessment: fiscal.ExemptAssessment(fiscal.SectionTTNB, rounding, l.ExemptionReason, ""),
			SurfaceM2:  l.Surface,
		}, nil
	}

	ctx := fiscal.ExemptionContext{
		LandType:        l.LandType,
		ExemptionReason: l.ExemptionReason,
		Surface:         l.Surface,
	}
	if rule := c.table.Exemptions().Match(fiscal.SectionTTNB, ctx, asOf.Year()); rule != nil {
		return &Result{
			Assessment: fiscal.ExemptAssessment(fiscal.SectionTTNB, rounding, rule.DisplayReason(), rule.Name),
			SurfaceM2:  l.Surface,
		}, nil
	}

	if strings.TrimSpace(l.UrbanZone) == "" {
		return nil, &fiscal.CalculationError{
			Code:       fiscal.CodeMissingConfiguration,
			Message:    "TTNB cannot be calculated without urban zone classification per Décret 2017-396",
			ValidZones: fiscal.ValidZones(),
		}
	}
	zone, ok := fiscal.ParseUrbanZone(l.UrbanZone)
	if !ok {
		return nil, &fiscal.CalculationError{
			Code:       fiscal.CodeInvalidZone,
			Message:    fmt.Sprintf("Invalid urban zone: %s", l.UrbanZone),
			ValidZones: fiscal.ValidZones(),
		}
	}

	if !l.Surface.IsPositive() {
		return nil, fiscal.InvalidSurfaceError("Land surface")
	}

	tariff, _ := fiscal.ZoneTariff(zone)
	tax := rounding.Round(l.Surface.Mul(tariff), fiscal.SectionTTNB)
	return &Result{
		Assessment: fiscal.Assessment{
			Section:     fiscal.SectionTTNB,
			BaseAmount:  tax,
			RatePercent: decimal.Zero,
			TaxAmount:   tax,
			TotalAmount: tax,
		},
		Zone:        zone,
		TariffPerM2: tariff,
		SurfaceM2:   l.Surface,
	}, nil
}
