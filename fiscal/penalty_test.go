package fiscal_test

import (
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/fiscal-engine/fiscal"
)

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func newPenalties() *fiscal.PenaltyCalculator {
	return fiscal.NewPenaltyCalculator(fiscal.DefaultTariffTable().Rounding())
}

// =============================================================================
// LATE PAYMENT
// =============================================================================

func TestLatePayment_GraceYearIsFree(t *testing.T) {
	// GIVEN: tax year 2024, payable from Jan 1 2025
	// WHEN: checked on 2025-06-01, still before Jan 1 2026
	// THEN: no penalty
	p := newPenalties().LatePayment(dec("100"), 2024, fiscal.SectionTIB, date(2025, time.June, 1))
	assert.True(t, p.IsZero())
	assert.Equal(t, "0.000", p.String())
}

func TestLatePayment_AccruesPerWholeMonth(t *testing.T) {
	// GIVEN: tax year 2023, penalties from Jan 1 2025
	// WHEN: checked on 2025-06-15 (5 whole months)
	// THEN: 100 × 1.25% × 5 = 6.250
	p := newPenalties().LatePayment(dec("100.000"), 2023, fiscal.SectionTIB, date(2025, time.June, 15))
	assert.Equal(t, "6.250", p.String())
}

func TestLatePayment_Table(t *testing.T) {
	calc := newPenalties()

	tests := []struct {
		name      string
		principal string
		taxYear   int
		asOf      time.Time
		want      string
	}{
		{"accrual start day", "100", 2023, date(2025, time.January, 1), "0.000"},
		{"first month completes", "100", 2023, date(2025, time.February, 1), "1.250"},
		{"end of first month", "100", 2023, date(2025, time.January, 31), "0.000"},
		{"older year", "100", 2022, date(2025, time.June, 15), "21.250"},
		{"rounded once", "33.333", 2023, date(2025, time.April, 10), "1.250"},
		{"before tax year ends", "100", 2025, date(2025, time.June, 1), "0.000"},
		{"zero tax year", "100", 0, date(2025, time.June, 1), "0.000"},
		{"zero principal", "0", 2020, date(2025, time.June, 1), "0.000"},
		{"non compounding", "200", 2020, date(2024, time.January, 1), "60.000"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calc.LatePayment(dec(tt.principal), tt.taxYear, fiscal.SectionTIB, tt.asOf)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestLatePayment_UsesCalendarDateOfAsOf(t *testing.T) {
	// GIVEN: 00:30 on Feb 1 local time, still Jan 31 in UTC
	tunis := time.FixedZone("CET", 3600)
	asOf := time.Date(2025, time.February, 1, 0, 30, 0, 0, tunis)

	// THEN: the calendar fields as supplied decide (Feb 1: one month)
	p := newPenalties().LatePayment(dec("100"), 2023, fiscal.SectionTIB, asOf)
	assert.Equal(t, "1.250", p.String())
}

func TestLatePayment_IdempotentForRandomInputs(t *testing.T) {
	calc := newPenalties()
	rng := rand.New(rand.NewSource(42))
	monthly := dec("0.0125")

	for i := 0; i < 500; i++ {
		principal := decimal.New(int64(rng.Intn(10_000_000)), -3)
		taxYear := 2000 + rng.Intn(30)
		asOf := date(2000+rng.Intn(36), time.Month(1+rng.Intn(12)), 1+rng.Intn(28))

		first := calc.LatePayment(principal, taxYear, fiscal.SectionTIB, asOf)
		second := calc.LatePayment(principal, taxYear, fiscal.SectionTIB, asOf)

		require.True(t, first.Equal(second), "f(x) != f(x) for %s %d %s", principal, taxYear, asOf)
		require.False(t, first.Decimal().IsNegative())

		months := fiscal.MonthsLate(taxYear, asOf)
		want := principal.Mul(monthly).Mul(decimal.NewFromInt(int64(months))).Round(3)
		require.True(t, want.Equal(first.Decimal()), "want %s got %s", want, first)
	}
}

func TestLateDeclaration_FlatTenPercent(t *testing.T) {
	calc := newPenalties()
	assert.Equal(t, "6.000", calc.LateDeclaration(dec("60"), fiscal.SectionTIB).String())
	assert.Equal(t, "0.000", calc.LateDeclaration(dec("0"), fiscal.SectionTIB).String())
}

// =============================================================================
// SCHEDULE AND PHASES
// =============================================================================

func TestSchedule_SumsToPenalty(t *testing.T) {
	calc := newPenalties()
	asOf := date(2025, time.June, 15)

	events := calc.Schedule(dec("100"), 2023, asOf)
	require.Len(t, events, 5)
	assert.Equal(t, date(2025, time.February, 1), events[0].At)
	assert.Equal(t, date(2025, time.June, 1), events[4].At)
	assert.Equal(t, 5, events[4].Month)

	total := fiscal.SumAccruals(events)
	assert.True(t, total.Equal(calc.LatePayment(dec("100"), 2023, fiscal.SectionTIB, asOf).Decimal()))
}

func TestSchedule_EmptyBeforeAccrual(t *testing.T) {
	assert.Empty(t, newPenalties().Schedule(dec("100"), 2024, date(2025, time.June, 1)))
}

func TestPenaltyPhase(t *testing.T) {
	assert.Equal(t, fiscal.PhaseAssessment, fiscal.PenaltyPhase(2023, date(2023, time.June, 1)))
	assert.Equal(t, fiscal.PhaseGrace, fiscal.PenaltyPhase(2023, date(2024, time.January, 1)))
	assert.Equal(t, fiscal.PhaseGrace, fiscal.PenaltyPhase(2023, date(2024, time.December, 31)))
	assert.Equal(t, fiscal.PhaseAccruing, fiscal.PenaltyPhase(2023, date(2025, time.January, 1)))

	assert.Equal(t, date(2024, time.January, 1), fiscal.PayableFrom(2023))
	assert.Equal(t, date(2025, time.January, 1), fiscal.AccrualStart(2023))
}

func TestMonthsBetween(t *testing.T) {
	assert.Equal(t, 0, fiscal.MonthsBetween(date(2025, time.January, 31), date(2025, time.February, 28)))
	assert.Equal(t, 1, fiscal.MonthsBetween(date(2025, time.January, 15), date(2025, time.February, 15)))
	assert.Equal(t, 13, fiscal.MonthsBetween(date(2024, time.January, 1), date(2025, time.February, 1)))
	assert.Equal(t, 0, fiscal.MonthsBetween(date(2025, time.June, 1), date(2025, time.January, 1)))
}
