/*
batch.go - Due-profile processor

PURPOSE:
  RunDue is what the scheduler tick and the `run` command call. It loads
  every profile whose next payout date has arrived and takes each one
  through a full cycle before moving to the next:

    Idle -> Evaluating -> {Paid, PaidZero, Unpaid, Skipped} -> ScheduleAdvanced -> Idle

  Skipped profiles keep their schedule and are retried on the next run.

REFERENCE INSTANTS:
  The window is evaluated at the profile's scheduled NextPayoutDate, so a
  late run still closes the window where the next one opens. The new
  NextPayoutDate is computed from now.

ISOLATION:
  One WithTx per profile. A failing profile is rolled back, recorded in the
  summary and logged; the batch continues.
*/
package incentive

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/internal/logging"
)

// Observer receives batch measurements. internal/metrics implements it.
type Observer interface {
	ObserveOutcome(outcome string, paid decimal.Decimal)
	ObserveRun(d time.Duration)
}

type nopObserver struct{}

func (nopObserver) ObserveOutcome(string, decimal.Decimal) {}
func (nopObserver) ObserveRun(time.Duration)               {}

// ProfileOutcome is the per-profile line of a run.
type ProfileOutcome struct {
	ProfileID       ProfileID
	UserID          UserID
	Outcome         Outcome
	BonusRecordID   string
	AchievedAmount  decimal.Decimal
	IncentiveAmount decimal.Decimal
	NextPayoutDate  time.Time
	Error           string
}

type RunSummary struct {
	AsOf        time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	Processed   int
	Paid        int
	PaidZero    int
	Unpaid      int
	Skipped     int
	Outcomes    []ProfileOutcome
}

// Errors returns the error messages of failed or unpaid profiles.
func (s *RunSummary) Errors() []string {
	var errs []string
	for _, o := range s.Outcomes {
		if o.Error != "" {
			errs = append(errs, string(o.ProfileID)+": "+o.Error)
		}
	}
	return errs
}

func (s *RunSummary) add(o ProfileOutcome) {
	s.Processed++
	switch o.Outcome {
	case OutcomePaid:
		s.Paid++
	case OutcomePaidZero:
		s.PaidZero++
	case OutcomeUnpaid:
		s.Unpaid++
	case OutcomeSkipped:
		s.Skipped++
	}
	s.Outcomes = append(s.Outcomes, o)
}

// Processor evaluates and pays due profiles.
type Processor struct {
	Store    TxStore
	Writer   *Writer
	Log      *logging.Logger
	Observer Observer
	Clock    Clock

	// Location is the calendar used for weeks and months. Defaults to UTC.
	Location *time.Location
}

func (p *Processor) location() *time.Location {
	if p.Location == nil {
		return time.UTC
	}
	return p.Location
}

func (p *Processor) logger() *logging.Logger {
	if p.Log == nil {
		return logging.NewNop()
	}
	return p.Log
}

func (p *Processor) observer() Observer {
	if p.Observer == nil {
		return nopObserver{}
	}
	return p.Observer
}

// RunDue processes every profile due at now.
func (p *Processor) RunDue(ctx context.Context, now time.Time) (*RunSummary, error) {
	now = now.In(p.location()).Truncate(time.Second)
	clock := p.Clock
	if clock == nil {
		clock = SystemClock
	}
	summary := &RunSummary{AsOf: now, StartedAt: clock()}

	profiles, err := p.Store.DueProfiles(ctx, now)
	if err != nil {
		return nil, err
	}

	p.logger().Info("incentive run started",
		zap.Time("as_of", now),
		zap.Int("due", len(profiles)))

	for _, profile := range profiles {
		summary.add(p.processOne(ctx, profile.In(p.location()), now))
	}

	summary.CompletedAt = clock()
	p.observer().ObserveRun(summary.CompletedAt.Sub(summary.StartedAt))
	p.logger().Info("incentive run completed",
		zap.Int("processed", summary.Processed),
		zap.Int("paid", summary.Paid),
		zap.Int("paid_zero", summary.PaidZero),
		zap.Int("unpaid", summary.Unpaid),
		zap.Int("skipped", summary.Skipped))
	return summary, nil
}

func (p *Processor) processOne(ctx context.Context, profile Profile, now time.Time) ProfileOutcome {
	log := p.logger().With(
		zap.String("profile_id", string(profile.ID)),
		zap.String("user_id", string(profile.UserID)))

	outcome := ProfileOutcome{ProfileID: profile.ID, UserID: profile.UserID}

	var paid *PayoutResult
	err := p.Store.WithTx(ctx, func(s Store) error {
		res, err := Evaluate(ctx, s, profile, profile.NextPayoutDate)
		if err != nil {
			return &ProfileError{ProfileID: profile.ID, Stage: "evaluate", Err: err}
		}
		paid, err = p.Writer.Apply(ctx, s, res, profile, now)
		if err != nil {
			return &ProfileError{ProfileID: profile.ID, Stage: "payout", Err: err}
		}
		return nil
	})
	if err != nil {
		outcome.Outcome = OutcomeSkipped
		outcome.Error = err.Error()
		p.observer().ObserveOutcome(string(OutcomeSkipped), decimal.Zero)
		if IsConfigError(err) {
			log.Error("profile skipped: configuration error", zap.Error(err))
		} else {
			log.Error("profile skipped", zap.Error(err))
		}
		return outcome
	}

	outcome.Outcome = paid.Outcome
	outcome.BonusRecordID = paid.Record.ID
	outcome.AchievedAmount = paid.Record.AchievedAmount
	outcome.IncentiveAmount = paid.Record.IncentiveAmount
	outcome.NextPayoutDate = paid.Profile.NextPayoutDate

	credited := decimal.Zero
	if paid.Outcome == OutcomePaid {
		credited = paid.Record.IncentiveAmount
	}
	p.observer().ObserveOutcome(string(paid.Outcome), credited)

	if paid.WalletErr != nil {
		outcome.Error = paid.WalletErr.Error()
		log.Error("bonus recorded but not credited", zap.Error(paid.WalletErr),
			zap.String("incentive", paid.Record.IncentiveAmount.String()))
		return outcome
	}

	log.Info("profile evaluated",
		zap.String("outcome", string(paid.Outcome)),
		zap.String("window", paid.Record.PeriodStart.Format(time.DateTime)+" - "+paid.Record.PeriodEnd.Format(time.DateTime)),
		zap.String("achieved", paid.Record.AchievedAmount.String()),
		zap.String("incentive", paid.Record.IncentiveAmount.String()),
		zap.Time("next_payout_date", paid.Profile.NextPayoutDate))
	return outcome
}
