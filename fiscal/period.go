package fiscal

import (
	"time"
)

// =============================================================================
// STATUTORY PAYMENT CALENDAR
// =============================================================================
// For tax year N:
//
//	year N        assessment   the tax is computed and notified
//	year N+1      grace        payable without penalty from Jan 1
//	year N+2 ...  accruing     1.25% of principal per whole month since Jan 1 of N+2

const (
	// GraceYears is the offset from the tax year to the first payable day.
	GraceYears = 1
	// AccrualStartYears is the offset from the tax year to the first penalty day.
	AccrualStartYears = 2
)

// Phase describes where a tax year stands on the payment calendar.
type Phase string

const (
	PhaseAssessment Phase = "assessment"
	PhaseGrace      Phase = "grace"
	PhaseAccruing   Phase = "accruing"
)

// Window is a half-open calendar range [Start, End).
// A zero End means the window never closes.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Contains(t time.Time) bool {
	d := CalendarDate(t)
	if d.Before(w.Start) {
		return false
	}
	return w.End.IsZero() || d.Before(w.End)
}

// PayableFrom returns Jan 1 of N+1.
func PayableFrom(taxYear int) time.Time {
	return StartOfYear(taxYear + GraceYears)
}

// AccrualStart returns Jan 1 of N+2, the first day penalties can accrue.
func AccrualStart(taxYear int) time.Time {
	return StartOfYear(taxYear + AccrualStartYears)
}

// GraceWindow is the period during which the tax is payable without penalty.
func GraceWindow(taxYear int) Window {
	return Window{Start: PayableFrom(taxYear), End: AccrualStart(taxYear)}
}

// AccrualWindow is open-ended: penalties keep accruing until payment.
func AccrualWindow(taxYear int) Window {
	return Window{Start: AccrualStart(taxYear)}
}

// PenaltyPhase reports the phase of taxYear on the calendar date of asOf.
func PenaltyPhase(taxYear int, asOf time.Time) Phase {
	switch {
	case AccrualWindow(taxYear).Contains(asOf):
		return PhaseAccruing
	case GraceWindow(taxYear).Contains(asOf):
		return PhaseGrace
	default:
		return PhaseAssessment
	}
}
