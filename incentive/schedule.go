package incentive

import (
	"fmt"
	"time"
)

// =============================================================================
// SCHEDULE ADVANCER
// =============================================================================

// NextPayoutDate returns the next evaluation date for a period, computed from
// now (never from the evaluation window), pinned to 00:00:00.
//
//	weekly_sunday:           next Sunday
//	biweekly_second_sunday:  next Sunday + 1 week
//	monthly_first_sunday:    first Sunday of next month
//	monthly_default:         1st of next month
//
// The result is always strictly after now.
func NextPayoutDate(period CalculationPeriod, now time.Time) (time.Time, error) {
	switch period {
	case PeriodWeeklySunday:
		return NextWeekday(now, time.Sunday), nil
	case PeriodBiweeklySecondSunday:
		return NextWeekday(now, time.Sunday).AddDate(0, 0, 7), nil
	case PeriodMonthlyFirstSunday:
		return FirstWeekdayOfMonth(StartOfMonth(now).AddDate(0, 1, 0), time.Sunday), nil
	case PeriodMonthlyDefault:
		return StartOfMonth(now).AddDate(0, 1, 0), nil
	default:
		return time.Time{}, fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}

// AttributionMonth returns the YYYY-MM a bonus record is booked under, derived
// from the freshly computed next payout date.
func AttributionMonth(period CalculationPeriod, nextPayout time.Time) (string, error) {
	switch period {
	case PeriodWeeklySunday:
		return MonthKey(nextPayout.AddDate(0, 0, -7)), nil
	case PeriodBiweeklySecondSunday:
		return MonthKey(nextPayout.AddDate(0, 0, -14)), nil
	case PeriodMonthlyFirstSunday, PeriodMonthlyDefault:
		return MonthKey(nextPayout.AddDate(0, -1, 0)), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownPeriod, period)
	}
}

// Advance moves a profile to its next cycle. LastPayoutDate takes the previous
// NextPayoutDate, not now, so windows chain without gap or overlap.
func Advance(p Profile, now time.Time) (Profile, error) {
	next, err := NextPayoutDate(p.Period, now)
	if err != nil {
		return p, &ConfigError{ProfileID: p.ID, Field: "calculation_period", Value: string(p.Period), Err: err}
	}
	p.LastPayoutDate = p.NextPayoutDate
	p.NextPayoutDate = next
	p.UpdatedAt = now
	return p, nil
}
