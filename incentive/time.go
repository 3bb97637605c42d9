package incentive

import (
	"time"
)

// =============================================================================
// CALENDAR HELPERS
// =============================================================================
// All helpers keep the location of their input. Instants have one-second
// granularity: the end of a day is 23:59:59 and the next instant is 00:00:00.

// Clock returns the current instant. Inject a fixed clock in tests.
type Clock func() time.Time

// SystemClock is the wall clock truncated to seconds.
func SystemClock() time.Time { return time.Now().Truncate(time.Second) }

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Second)
}

// StartOfWeek returns Monday 00:00:00 of t's ISO week.
func StartOfWeek(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	return StartOfDay(t).AddDate(0, 0, -offset)
}

// EndOfWeek returns Sunday 23:59:59 of t's ISO week.
func EndOfWeek(t time.Time) time.Time {
	return EndOfDay(StartOfWeek(t).AddDate(0, 0, 6))
}

func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

func EndOfMonth(t time.Time) time.Time {
	return StartOfMonth(t).AddDate(0, 1, 0).Add(-time.Second)
}

// NextWeekday returns the first wd strictly after t's calendar day, at 00:00.
func NextWeekday(t time.Time, wd time.Weekday) time.Time {
	day := StartOfDay(t)
	n := (int(wd) - int(day.Weekday()) + 7) % 7
	if n == 0 {
		n = 7
	}
	return day.AddDate(0, 0, n)
}

// FirstWeekdayOfMonth returns the first wd on or after the 1st of t's month.
func FirstWeekdayOfMonth(t time.Time, wd time.Weekday) time.Time {
	first := StartOfMonth(t)
	n := (int(wd) - int(first.Weekday()) + 7) % 7
	return first.AddDate(0, 0, n)
}

// SecondSunday returns the second Sunday of t's month at 00:00.
func SecondSunday(t time.Time) time.Time {
	return FirstWeekdayOfMonth(t, time.Sunday).AddDate(0, 0, 7)
}

func SameDay(a, b time.Time) bool {
	b = b.In(a.Location())
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// MonthKey formats the calendar month of t as YYYY-MM.
func MonthKey(t time.Time) string { return t.Format("2006-01") }
