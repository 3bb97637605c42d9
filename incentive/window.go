package incentive

import (
	"fmt"
	"time"
)

// =============================================================================
// WINDOW - The evaluation boundary of one cycle
// =============================================================================

// Window is an inclusive range [Start, End] at one-second granularity.
// A window whose End is before its Start is empty.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains returns true if t is within [Start, End].
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && !t.After(w.End)
}

func (w Window) Empty() bool { return w.End.Before(w.Start) }

// Next returns the first instant after the window.
func (w Window) Next() time.Time { return w.End.Add(time.Second) }

func (w Window) String() string {
	return "[" + w.Start.Format(time.DateTime) + ", " + w.End.Format(time.DateTime) + "]"
}

// =============================================================================
// WINDOW RESOLVER
// =============================================================================

// ResolveWindow returns the calendar window a period assigns to today.
//
//	weekly_sunday:           Monday 00:00 - Sunday 23:59:59 of today's week
//	biweekly_second_sunday:  1st - day before the second Sunday, or
//	                         second Sunday - end of the current week
//	monthly_first_sunday:    calendar month
//	monthly_default:         calendar month
func ResolveWindow(period CalculationPeriod, today time.Time) (Window, error) {
	switch period {
	case PeriodWeeklySunday:
		return Window{Start: StartOfWeek(today), End: EndOfWeek(today)}, nil

	case PeriodBiweeklySecondSunday:
		second := SecondSunday(today)
		if StartOfDay(today).Before(second) {
			return Window{Start: StartOfMonth(today), End: EndOfDay(second.AddDate(0, 0, -1))}, nil
		}
		return Window{Start: second, End: EndOfWeek(today)}, nil

	case PeriodMonthlyFirstSunday, PeriodMonthlyDefault:
		return Window{Start: StartOfMonth(today), End: EndOfMonth(today)}, nil

	default:
		return Window{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}

// WindowFor returns the window a profile is evaluated over at asOf.
//
// The calendar is resolved at the last instant before asOf and the end is
// capped there, so evaluating at a scheduled payout date (00:00 of a Sunday
// or of the 1st) covers the cycle that just closed. Once a profile has been
// evaluated the start is pinned to the start of day of LastPayoutDate, which
// is the previous cycle's closing instant.
func WindowFor(p Profile, asOf time.Time) (Window, error) {
	cutoff := asOf.Truncate(time.Second).Add(-time.Second)
	w, err := ResolveWindow(p.Period, cutoff)
	if err != nil {
		return Window{}, &ConfigError{ProfileID: p.ID, Field: "calculation_period", Value: string(p.Period), Err: err}
	}

	if p.Evaluated() {
		w.Start = StartOfDay(p.LastPayoutDate.In(cutoff.Location()))
	}

	if cutoff.Before(w.End) {
		w.End = cutoff
	}
	return w, nil
}
