package fiscal

import (
	"time"
)

// =============================================================================
// CALENDAR HELPERS
// =============================================================================
// Penalty rules are expressed in calendar years and months, so everything
// here works on calendar dates and ignores the time of day.

// CalendarDate strips the clock, keeping the date as seen in t's location.
func CalendarDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func StartOfYear(year int) time.Time { return time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC) }
func EndOfYear(year int) time.Time   { return time.Date(year, time.December, 31, 0, 0, 0, 0, time.UTC) }

func StartOfMonth(year int, month time.Month) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween returns the number of whole calendar months from `from` to
// `to`. A month only counts once its day-of-month is reached, so a partial
// month contributes zero. Returns 0 when to is before from.
func MonthsBetween(from, to time.Time) int {
	from, to = CalendarDate(from), CalendarDate(to)
	if to.Before(from) {
		return 0
	}
	months := (to.Year()-from.Year())*12 + int(to.Month()-from.Month())
	if to.Day() < from.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

// YearsSince returns the whole years between a year and the current year,
// never negative. ok is false when the year is unknown (zero or negative).
func YearsSince(year, currentYear int) (years int, ok bool) {
	if year <= 0 {
		return 0, false
	}
	years = currentYear - year
	if years < 0 {
		years = 0
	}
	return years, true
}
