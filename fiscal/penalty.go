package fiscal

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// MonthlyPenaltyRate is 1.25% of principal per whole month, non-compounding.
	MonthlyPenaltyRate = decimal.RequireFromString("0.0125")

	// LateDeclarationRate is a one-off 10% of principal.
	LateDeclarationRate = decimal.RequireFromString("0.10")
)

// =============================================================================
// PENALTY CALCULATOR
// =============================================================================

// PenaltyCalculator computes late-payment and late-declaration penalties.
// Every method is a pure function of its arguments: calling it twice with
// the same inputs returns the same Money, which is what makes recompute on
// read safe.
type PenaltyCalculator struct {
	rounding RoundingPolicy
}

func NewPenaltyCalculator(rounding RoundingPolicy) *PenaltyCalculator {
	return &PenaltyCalculator{rounding: rounding}
}

// MonthsLate is the number of whole calendar months from Jan 1 of N+2 to the
// calendar date of asOf. Zero before accrual starts and for tax year 0.
func MonthsLate(taxYear int, asOf time.Time) int {
	if taxYear <= 0 {
		return 0
	}
	return MonthsBetween(AccrualStart(taxYear), asOf)
}

// LatePayment returns principal × 1.25% × MonthsLate, rounded for section.
// A non-positive principal yields zero.
func (c *PenaltyCalculator) LatePayment(principal decimal.Decimal, taxYear int, section Section, asOf time.Time) Money {
	months := MonthsLate(taxYear, asOf)
	if months == 0 || !principal.IsPositive() {
		return c.rounding.Zero(section)
	}
	penalty := principal.Mul(MonthlyPenaltyRate).Mul(decimal.NewFromInt(int64(months)))
	return c.rounding.Round(penalty, section)
}

// LatePaymentNow evaluates LatePayment on today's UTC date.
func (c *PenaltyCalculator) LatePaymentNow(principal decimal.Decimal, taxYear int, section Section) Money {
	return c.LatePayment(principal, taxYear, section, time.Now().UTC())
}

// LateDeclaration returns the flat 10% penalty for a late declaration.
func (c *PenaltyCalculator) LateDeclaration(principal decimal.Decimal, section Section) Money {
	if !principal.IsPositive() {
		return c.rounding.Zero(section)
	}
	return c.rounding.Round(principal.Mul(LateDeclarationRate), section)
}

// =============================================================================
// ACCRUAL SCHEDULE - Month by month breakdown
// =============================================================================

// AccrualEvent is one month's penalty increment. Amount is unrounded so that
// the schedule sums exactly to the figure LatePayment rounds.
type AccrualEvent struct {
	At     time.Time
	Month  int
	Amount decimal.Decimal
	Reason string
}

// Schedule lists the monthly accruals counted by LatePayment for asOf.
// The first event falls on Feb 1 of N+2, when the first month completes.
func (c *PenaltyCalculator) Schedule(principal decimal.Decimal, taxYear int, asOf time.Time) []AccrualEvent {
	months := MonthsLate(taxYear, asOf)
	if months == 0 || !principal.IsPositive() {
		return nil
	}

	start := AccrualStart(taxYear)
	step := principal.Mul(MonthlyPenaltyRate)
	events := make([]AccrualEvent, 0, months)
	for i := 1; i <= months; i++ {
		at := start.AddDate(0, i, 0)
		events = append(events, AccrualEvent{
			At:     at,
			Month:  i,
			Amount: step,
			Reason: fmt.Sprintf("late payment %d: month %d", taxYear, i),
		})
	}
	return events
}

// SumAccruals totals a schedule without rounding.
func SumAccruals(events []AccrualEvent) decimal.Decimal {
	total := decimal.Zero
	for _, e := range events {
		total = total.Add(e.Amount)
	}
	return total
}
