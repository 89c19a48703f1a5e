/*
Package fiscal provides the core municipal tax engine.

PURPOSE:
  This package contains the statutory building blocks shared by the TIB
  (built property) and TTNB (unbuilt land) calculators: money and rounding,
  the tariff table, exemption matching, late-payment penalty accrual and the
  tax record reconciliation that keeps stored penalties current.

KEY CONCEPTS IN THIS FILE (types.go):
  - Section: which tax a value belongs to ("TIB" or "TTNB")
  - Assessment: the common output of every calculator
  - TaxRecord: the persisted, per (asset, year) view of an assessment

DESIGN PRINCIPLES:
  1. Purity: calculators and the penalty function never do I/O
  2. Precision: decimal.Decimal everywhere, rounded once into Money
  3. Explicit configuration: a TariffTable is built once and passed in
  4. Idempotence: recomputing a penalty never accumulates

USAGE:
  table := fiscal.DefaultTariffTable()
  penalties := fiscal.NewPenaltyCalculator(table.Rounding())
  p := penalties.LatePayment(principal, 2023, fiscal.SectionTIB, asOf)

SEE ALSO:
  - money.go: Money and RoundingPolicy
  - tariff.go: TariffTable, service rates, zone tariffs
  - exemption.go: ExemptionMatcher
  - penalty.go: PenaltyCalculator
  - reconcile.go: PenaltyReconciler
*/
package fiscal

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// SECTION - Which statutory tax a value belongs to
// =============================================================================

type Section string

const (
	SectionTIB  Section = "TIB"  // Taxe sur les Immeubles Bâtis
	SectionTTNB Section = "TTNB" // Taxe sur les Terrains Non Bâtis
)

// ParseSection accepts "tib"/"ttnb" in any case.
func ParseSection(s string) (Section, error) {
	switch Section(strings.ToUpper(strings.TrimSpace(s))) {
	case SectionTIB:
		return SectionTIB, nil
	case SectionTTNB:
		return SectionTTNB, nil
	default:
		return "", fmt.Errorf("unknown tax section %q", s)
	}
}

func (s Section) String() string { return string(s) }

// =============================================================================
// ASSESSMENT - Common calculator output
// =============================================================================

// Assessment holds the monetary fields every calculator emits.
// Monetary fields are Money, so each went through the rounding policy once.
type Assessment struct {
	Section     Section
	BaseAmount  Money
	RatePercent decimal.Decimal
	TaxAmount   Money
	TotalAmount Money

	// Set when the result is a zero-tax exemption.
	Exempt          bool
	ExemptionReason string
	ExemptionRule   string
}

// ExemptAssessment is the all-zero result returned for exempt assets.
func ExemptAssessment(section Section, rounding RoundingPolicy, reason, rule string) Assessment {
	zero := rounding.Zero(section)
	return Assessment{
		Section:         section,
		BaseAmount:      zero,
		RatePercent:     decimal.Zero,
		TaxAmount:       zero,
		TotalAmount:     zero,
		Exempt:          true,
		ExemptionReason: reason,
		ExemptionRule:   rule,
	}
}

// =============================================================================
// TAX RECORD - Caller-owned persisted assessment
// =============================================================================

type RecordID string

type TaxStatus string

const (
	StatusPending    TaxStatus = "pending"
	StatusCalculated TaxStatus = "calculated"
	StatusNotified   TaxStatus = "notified"
	StatusPaid       TaxStatus = "paid"
	StatusOverdue    TaxStatus = "overdue"
	StatusDisputed   TaxStatus = "disputed"
)

// TaxRecord is created once per (asset, section, tax year).
// PenaltyAmount and TotalAmount are derived: while the record is unpaid
// they are recomputed from TaxAmount, TaxYear and the read date.
type TaxRecord struct {
	ID      RecordID
	AssetID string
	Section Section
	TaxYear int

	BaseAmount    Money
	RatePercent   decimal.Decimal
	TaxAmount     Money
	PenaltyAmount Money
	TotalAmount   Money

	Status          TaxStatus
	ExemptionReason string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewTaxRecord builds a freshly calculated record from an assessment.
func NewTaxRecord(id RecordID, assetID string, taxYear int, a Assessment, rounding RoundingPolicy, now time.Time) TaxRecord {
	return TaxRecord{
		ID:              id,
		AssetID:         assetID,
		Section:         a.Section,
		TaxYear:         taxYear,
		BaseAmount:      a.BaseAmount,
		RatePercent:     a.RatePercent,
		TaxAmount:       a.TaxAmount,
		PenaltyAmount:   rounding.Zero(a.Section),
		TotalAmount:     a.TotalAmount,
		Status:          StatusCalculated,
		ExemptionReason: a.ExemptionReason,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func (r TaxRecord) IsPaid() bool { return r.Status == StatusPaid }
