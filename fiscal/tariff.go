package fiscal

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// =============================================================================
// URBAN ZONES - Décret 2017-396
// =============================================================================

type UrbanZone string

const (
	ZoneHauteDensite   UrbanZone = "haute_densite"
	ZoneDensiteMoyenne UrbanZone = "densite_moyenne"
	ZoneFaibleDensite  UrbanZone = "faible_densite"
	ZonePeripherique   UrbanZone = "peripherique"
)

// zoneTariffs are fixed by decree, in TND per m².
var zoneTariffs = map[UrbanZone]decimal.Decimal{
	ZoneHauteDensite:   decimal.RequireFromString("1.200"),
	ZoneDensiteMoyenne: decimal.RequireFromString("0.800"),
	ZoneFaibleDensite:  decimal.RequireFromString("0.400"),
	ZonePeripherique:   decimal.RequireFromString("0.200"),
}

// ValidZones lists the zone keys, densest first.
func ValidZones() []UrbanZone {
	return []UrbanZone{ZoneHauteDensite, ZoneDensiteMoyenne, ZoneFaibleDensite, ZonePeripherique}
}

// ParseUrbanZone normalizes case and surrounding space. ok is false for
// anything that is not one of the four keys.
func ParseUrbanZone(s string) (UrbanZone, bool) {
	zone := UrbanZone(strings.ToLower(strings.TrimSpace(s)))
	_, ok := zoneTariffs[zone]
	return zone, ok
}

// ZoneTariff returns the TND/m² tariff of a zone.
func ZoneTariff(zone UrbanZone) (decimal.Decimal, bool) {
	t, ok := zoneTariffs[zone]
	return t, ok
}

// =============================================================================
// TARIFF TABLE
// =============================================================================

// SurfaceCategory is a surface band from the tariff document.
// Multiplier is loaded and validated but does not enter the TIB formula.
type SurfaceCategory struct {
	Min        decimal.Decimal
	Max        decimal.Decimal
	Label      string
	Multiplier decimal.Decimal
}

// ServiceRate applies to every count >= MinServices until the next band.
type ServiceRate struct {
	MinServices int
	RatePercent decimal.Decimal
}

type TIBTable struct {
	SurfaceCategories    []SurfaceCategory
	ServiceRates         []ServiceRate
	CurrencyDecimals     int32
	Exemptions           []ExemptionRule
	ReferencePriceBounds []ReferencePriceBounds
}

type TTNBTable struct {
	// BaseRatePercent is kept for document compatibility only.
	BaseRatePercent  decimal.Decimal
	CurrencyDecimals int32
	Exemptions       []ExemptionRule
}

// TariffTable is the immutable, process-lifetime configuration passed to the
// calculators. Build it with NewTariffTable; the zero value is not usable.
type TariffTable struct {
	TIB  TIBTable
	TTNB TTNBTable

	rounding RoundingPolicy
	matcher  *ExemptionMatcher
}

// NewTariffTable validates both sections and compiles the exemption rules.
func NewTariffTable(tib TIBTable, ttnb TTNBTable) (*TariffTable, error) {
	if err := validateTIB(tib); err != nil {
		return nil, err
	}
	if err := validateDecimals(SectionTTNB, ttnb.CurrencyDecimals); err != nil {
		return nil, err
	}

	matcher, err := NewExemptionMatcher(map[Section][]ExemptionRule{
		SectionTIB:  tib.Exemptions,
		SectionTTNB: ttnb.Exemptions,
	})
	if err != nil {
		return nil, err
	}

	return &TariffTable{
		TIB:  tib,
		TTNB: ttnb,
		rounding: NewRoundingPolicy(map[Section]int32{
			SectionTIB:  tib.CurrencyDecimals,
			SectionTTNB: ttnb.CurrencyDecimals,
		}),
		matcher: matcher,
	}, nil
}

func (t *TariffTable) Rounding() RoundingPolicy      { return t.rounding }
func (t *TariffTable) Exemptions() *ExemptionMatcher { return t.matcher }

// ServiceRate returns the rate of the highest threshold not exceeding count.
// With a table that starts at 0 every non-negative count has a rate.
func (t *TariffTable) ServiceRate(count int) decimal.Decimal {
	rate := decimal.Zero
	best := -1
	for _, band := range t.TIB.ServiceRates {
		if band.MinServices <= count && band.MinServices >= best {
			best = band.MinServices
			rate = band.RatePercent
		}
	}
	return rate
}

// ReferenceBounds returns the configured bounds for a TIB category.
func (t *TariffTable) ReferenceBounds(category int) (ReferencePriceBounds, bool) {
	for _, b := range t.TIB.ReferencePriceBounds {
		if b.Category == category {
			return b, true
		}
	}
	return ReferencePriceBounds{}, false
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultServiceRates follow the statutory bands: ≤2→8%, 3–4→10%, 5–6→12%, ≥7→14%.
func DefaultServiceRates() []ServiceRate {
	return []ServiceRate{
		{MinServices: 0, RatePercent: decimal.NewFromInt(8)},
		{MinServices: 3, RatePercent: decimal.NewFromInt(10)},
		{MinServices: 5, RatePercent: decimal.NewFromInt(12)},
		{MinServices: 7, RatePercent: decimal.NewFromInt(14)},
	}
}

// DefaultSurfaceCategories mirror the four TIB categories.
func DefaultSurfaceCategories() []SurfaceCategory {
	return []SurfaceCategory{
		{Min: decimal.Zero, Max: decimal.NewFromInt(100), Label: "1", Multiplier: decimal.RequireFromString("1.00")},
		{Min: decimal.NewFromInt(100), Max: decimal.NewFromInt(200), Label: "2", Multiplier: decimal.RequireFromString("1.25")},
		{Min: decimal.NewFromInt(200), Max: decimal.NewFromInt(400), Label: "3", Multiplier: decimal.RequireFromString("1.50")},
		{Min: decimal.NewFromInt(400), Max: decimal.NewFromInt(1_000_000_000), Label: "4", Multiplier: decimal.RequireFromString("1.75")},
	}
}

func DefaultTIBTable() TIBTable {
	return TIBTable{
		SurfaceCategories:    DefaultSurfaceCategories(),
		ServiceRates:         DefaultServiceRates(),
		CurrencyDecimals:     DefaultCurrencyDecimals,
		ReferencePriceBounds: DefaultReferencePriceBounds(),
	}
}

func DefaultTTNBTable() TTNBTable {
	return TTNBTable{
		BaseRatePercent:  decimal.RequireFromString("0.3"),
		CurrencyDecimals: DefaultCurrencyDecimals,
	}
}

// DefaultTariffTable panics only if the built-in defaults are broken.
func DefaultTariffTable() *TariffTable {
	t, err := NewTariffTable(DefaultTIBTable(), DefaultTTNBTable())
	if err != nil {
		panic(fmt.Sprintf("default tariff table is invalid: %v", err))
	}
	return t
}

// =============================================================================
// VALIDATION
// =============================================================================

func validateTIB(tib TIBTable) error {
	if err := validateDecimals(SectionTIB, tib.CurrencyDecimals); err != nil {
		return err
	}
	if len(tib.ServiceRates) == 0 {
		return &TariffError{Section: SectionTIB, Field: "service_rates", Reason: "at least one band is required"}
	}
	prev := -1
	for i, band := range tib.ServiceRates {
		field := fmt.Sprintf("service_rates[%d]", i)
		if band.MinServices < 0 {
			return &TariffError{Section: SectionTIB, Field: field, Reason: "min_services must not be negative"}
		}
		if band.MinServices < prev {
			return &TariffError{Section: SectionTIB, Field: field, Reason: "thresholds must be non-decreasing"}
		}
		if band.RatePercent.IsNegative() {
			return &TariffError{Section: SectionTIB, Field: field, Reason: "rate_percent must not be negative"}
		}
		prev = band.MinServices
	}
	for i, c := range tib.SurfaceCategories {
		if c.Min.IsNegative() || !c.Min.LessThan(c.Max) {
			return &TariffError{
				Section: SectionTIB,
				Field:   fmt.Sprintf("surface_categories[%d]", i),
				Reason:  fmt.Sprintf("expected 0 <= min < max, got min=%s max=%s", c.Min, c.Max),
			}
		}
	}
	for i, b := range tib.ReferencePriceBounds {
		if err := b.Validate(); err != nil {
			return &TariffError{
				Section: SectionTIB,
				Field:   fmt.Sprintf("reference_price_bounds[%d]", i),
				Reason:  err.Error(),
			}
		}
	}
	return nil
}

func validateDecimals(section Section, decimals int32) error {
	if decimals < 0 || decimals > 8 {
		return &TariffError{
			Section: section,
			Field:   "rounding.currency_decimals",
			Reason:  fmt.Sprintf("must be between 0 and 8, got %d", decimals),
		}
	}
	return nil
}
