/*
Package factory provides YAML to Go tariff table conversion.

PURPOSE:
  Converts tariff documents into an immutable fiscal.TariffTable. The
  municipality's finance office can adjust service rate bands, rounding and
  exemption rules without a code change; the factory applies the statutory
  defaults for anything the document leaves out and validates the rest.

YAML SCHEMA:
  TIB:
    surface_categories:
      - {min: 0, max: 100, label: "1", multiplier: 1.0}
    service_rates:
      - {min_services: 0, rate_percent: 8}
      - {min_services: 3, rate_percent: 10}
    rounding: {currency_decimals: 3}
    reference_price_bounds:
      - {category: 1, legal_min: 100, legal_max: 178, current_price: 139}
    exemptions:
      - name: public_buildings
        reason: Bâtiment public
        conditions:
          affectation_in: [public, administratif]
          max_age_years: 5
          expression: 'surface < 500.0'
  TTNB:
    base_rate_percent: 0.3
    rounding: {currency_decimals: 3}
    exemptions: []

KEY FEATURES:
  - Missing sections get the statutory defaults
  - Validates bands, bounds and precision
  - Compiles CEL exemption expressions once
  - Ships an embedded default document (tariffs_2025.yaml)

USAGE:
  table, err := factory.NewTariffFactory().LoadTariffs("./tariffs.yaml")
  calc := tib.NewCalculator(table)

SEE ALSO:
  - fiscal/tariff.go: TariffTable type definition
  - fiscal/exemption.go: ExemptionMatcher
*/
package factory

import (
	_ "embed"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/warp/fiscal-engine/fiscal"
)

//go:embed tariffs_2025.yaml
var defaultTariffsYAML []byte

// =============================================================================
// YAML SCHEMA TYPES
// =============================================================================

// TariffDocument is the YAML (and JSON) representation of a tariff table.
type TariffDocument struct {
	TIB  *TIBDocument  `yaml:"TIB,omitempty" json:"TIB,omitempty"`
	TTNB *TTNBDocument `yaml:"TTNB,omitempty" json:"TTNB,omitempty"`
}

type TIBDocument struct {
	SurfaceCategories    []SurfaceCategoryDocument `yaml:"surface_categories,omitempty" json:"surface_categories,omitempty"`
	ServiceRates         []ServiceRateDocument     `yaml:"service_rates,omitempty" json:"service_rates,omitempty"`
	Rounding             *RoundingDocument         `yaml:"rounding,omitempty" json:"rounding,omitempty"`
	ReferencePriceBounds []ReferenceBoundsDocument `yaml:"reference_price_bounds,omitempty" json:"reference_price_bounds,omitempty"`
	Exemptions           []ExemptionDocument       `yaml:"exemptions,omitempty" json:"exemptions,omitempty"`
}

type TTNBDocument struct {
	BaseRatePercent *float64            `yaml:"base_rate_percent,omitempty" json:"base_rate_percent,omitempty"` // legacy, unused
	Rounding        *RoundingDocument   `yaml:"rounding,omitempty" json:"rounding,omitempty"`
	Exemptions      []ExemptionDocument `yaml:"exemptions,omitempty" json:"exemptions,omitempty"`
}

type SurfaceCategoryDocument struct {
	Min        float64 `yaml:"min" json:"min"`
	Max        float64 `yaml:"max" json:"max"`
	Label      string  `yaml:"label" json:"label"`
	Multiplier float64 `yaml:"multiplier" json:"multiplier"`
}

type ServiceRateDocument struct {
	MinServices int     `yaml:"min_services" json:"min_services"`
	RatePercent float64 `yaml:"rate_percent" json:"rate_percent"`
}

type RoundingDocument struct {
	CurrencyDecimals int32 `yaml:"currency_decimals" json:"currency_decimals"`
}

type ReferenceBoundsDocument struct {
	Category     int      `yaml:"category" json:"category"`
	Label        string   `yaml:"label,omitempty" json:"label,omitempty"`
	LegalMin     float64  `yaml:"legal_min" json:"legal_min"`
	LegalMax     float64  `yaml:"legal_max" json:"legal_max"`
	CurrentPrice *float64 `yaml:"current_price,omitempty" json:"current_price,omitempty"`
}

type ExemptionDocument struct {
	Name       string             `yaml:"name,omitempty" json:"name,omitempty"`
	Reason     string             `yaml:"reason,omitempty" json:"reason,omitempty"`
	Conditions ConditionsDocument `yaml:"conditions" json:"conditions"`
}

type ConditionsDocument struct {
	AffectationIn     []string `yaml:"affectation_in,omitempty" json:"affectation_in,omitempty"`
	LandTypeIn        []string `yaml:"land_type_in,omitempty" json:"land_type_in,omitempty"`
	ExemptionReasonIn []string `yaml:"exemption_reason_in,omitempty" json:"exemption_reason_in,omitempty"`
	MaxAgeYears       *int     `yaml:"max_age_years,omitempty" json:"max_age_years,omitempty"`
	Expression        string   `yaml:"expression,omitempty" json:"expression,omitempty"`
}

// =============================================================================
// TARIFF FACTORY
// =============================================================================

// TariffFactory converts tariff documents to fiscal.TariffTable values.
type TariffFactory struct{}

func NewTariffFactory() *TariffFactory {
	return &TariffFactory{}
}

// DefaultTariffs builds the table from the embedded 2025 document.
func (f *TariffFactory) DefaultTariffs() (*fiscal.TariffTable, error) {
	return f.ParseTariffs(defaultTariffsYAML)
}

// LoadTariffs reads and parses a YAML document from disk.
// An empty path loads the embedded defaults.
func (f *TariffFactory) LoadTariffs(path string) (*fiscal.TariffTable, error) {
	if path == "" {
		return f.DefaultTariffs()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read tariff file %s: %w", path, err)
	}
	table, err := f.ParseTariffs(data)
	if err != nil {
		return nil, fmt.Errorf("tariff file %s: %w", path, err)
	}
	return table, nil
}

// ParseTariffs parses a YAML document into a validated TariffTable.
func (f *TariffFactory) ParseTariffs(data []byte) (*fiscal.TariffTable, error) {
	var doc TariffDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse tariff YAML: %w", err)
	}
	return f.FromDocument(doc)
}

// FromDocument applies defaults and builds the table.
func (f *TariffFactory) FromDocument(doc TariffDocument) (*fiscal.TariffTable, error) {
	tib := fiscal.DefaultTIBTable()
	if d := doc.TIB; d != nil {
		if len(d.SurfaceCategories) > 0 {
			tib.SurfaceCategories = make([]fiscal.SurfaceCategory, 0, len(d.SurfaceCategories))
			for _, c := range d.SurfaceCategories {
				tib.SurfaceCategories = append(tib.SurfaceCategories, fiscal.SurfaceCategory{
					Min:        decimal.NewFromFloat(c.Min),
					Max:        decimal.NewFromFloat(c.Max),
					Label:      c.Label,
					Multiplier: decimal.NewFromFloat(c.Multiplier),
				})
			}
		}
		if len(d.ServiceRates) > 0 {
			tib.ServiceRates = make([]fiscal.ServiceRate, 0, len(d.ServiceRates))
			for _, r := range d.ServiceRates {
				tib.ServiceRates = append(tib.ServiceRates, fiscal.ServiceRate{
					MinServices: r.MinServices,
					RatePercent: decimal.NewFromFloat(r.RatePercent),
				})
			}
		}
		if d.Rounding != nil {
			tib.CurrencyDecimals = d.Rounding.CurrencyDecimals
		}
		if len(d.ReferencePriceBounds) > 0 {
			tib.ReferencePriceBounds = parseReferenceBounds(d.ReferencePriceBounds)
		}
		tib.Exemptions = parseExemptions(d.Exemptions)
	}

	ttnb := fiscal.DefaultTTNBTable()
	if d := doc.TTNB; d != nil {
		if d.BaseRatePercent != nil {
			ttnb.BaseRatePercent = decimal.NewFromFloat(*d.BaseRatePercent)
		}
		if d.Rounding != nil {
			ttnb.CurrencyDecimals = d.Rounding.CurrencyDecimals
		}
		ttnb.Exemptions = parseExemptions(d.Exemptions)
	}

	return fiscal.NewTariffTable(tib, ttnb)
}

func parseReferenceBounds(docs []ReferenceBoundsDocument) []fiscal.ReferencePriceBounds {
	bounds := make([]fiscal.ReferencePriceBounds, 0, len(docs))
	for _, d := range docs {
		b := fiscal.ReferencePriceBounds{
			Category: d.Category,
			Label:    d.Label,
			LegalMin: decimal.NewFromFloat(d.LegalMin),
			LegalMax: decimal.NewFromFloat(d.LegalMax),
		}
		if d.CurrentPrice != nil {
			b.CurrentPrice = decimal.NewFromFloat(*d.CurrentPrice)
		} else {
			b.CurrentPrice = b.Midpoint()
		}
		bounds = append(bounds, b)
	}
	return bounds
}

func parseExemptions(docs []ExemptionDocument) []fiscal.ExemptionRule {
	if len(docs) == 0 {
		return nil
	}
	rules := make([]fiscal.ExemptionRule, 0, len(docs))
	for i, d := range docs {
		name := d.Name
		if name == "" {
			name = fmt.Sprintf("rule_%d", i+1)
		}
		rules = append(rules, fiscal.ExemptionRule{
			Name:   name,
			Reason: d.Reason,
			Conditions: fiscal.ExemptionConditions{
				AffectationIn:     d.Conditions.AffectationIn,
				LandTypeIn:        d.Conditions.LandTypeIn,
				ExemptionReasonIn: d.Conditions.ExemptionReasonIn,
				MaxAgeYears:       d.Conditions.MaxAgeYears,
				Expression:        d.Conditions.Expression,
			},
		})
	}
	return rules
}

// =============================================================================
// TABLE -> DOCUMENT
// =============================================================================

// ToDocument converts a table back to its document form.
func (f *TariffFactory) ToDocument(t *fiscal.TariffTable) TariffDocument {
	tib := &TIBDocument{
		Rounding: &RoundingDocument{CurrencyDecimals: t.TIB.CurrencyDecimals},
	}
	for _, c := range t.TIB.SurfaceCategories {
		tib.SurfaceCategories = append(tib.SurfaceCategories, SurfaceCategoryDocument{
			Min:        c.Min.InexactFloat64(),
			Max:        c.Max.InexactFloat64(),
			Label:      c.Label,
			Multiplier: c.Multiplier.InexactFloat64(),
		})
	}
	for _, r := range t.TIB.ServiceRates {
		tib.ServiceRates = append(tib.ServiceRates, ServiceRateDocument{
			MinServices: r.MinServices,
			RatePercent: r.RatePercent.InexactFloat64(),
		})
	}
	for _, b := range t.TIB.ReferencePriceBounds {
		price := b.CurrentPrice.InexactFloat64()
		tib.ReferencePriceBounds = append(tib.ReferencePriceBounds, ReferenceBoundsDocument{
			Category:     b.Category,
			Label:        b.Label,
			LegalMin:     b.LegalMin.InexactFloat64(),
			LegalMax:     b.LegalMax.InexactFloat64(),
			CurrentPrice: &price,
		})
	}
	tib.Exemptions = exemptionDocuments(t.TIB.Exemptions)

	baseRate := t.TTNB.BaseRatePercent.InexactFloat64()
	ttnb := &TTNBDocument{
		BaseRatePercent: &baseRate,
		Rounding:        &RoundingDocument{CurrencyDecimals: t.TTNB.CurrencyDecimals},
		Exemptions:      exemptionDocuments(t.TTNB.Exemptions),
	}

	return TariffDocument{TIB: tib, TTNB: ttnb}
}

func exemptionDocuments(rules []fiscal.ExemptionRule) []ExemptionDocument {
	var docs []ExemptionDocument
	for _, r := range rules {
		docs = append(docs, ExemptionDocument{
			Name:   r.Name,
			Reason: r.Reason,
			Conditions: ConditionsDocument{
				AffectationIn:     r.Conditions.AffectationIn,
				LandTypeIn:        r.Conditions.LandTypeIn,
				ExemptionReasonIn: r.Conditions.ExemptionReasonIn,
				MaxAgeYears:       r.Conditions.MaxAgeYears,
				Expression:        r.Conditions.Expression,
			},
		})
	}
	return docs
}
