/*
payout.go - Bonus ledger writer

PURPOSE:
  Turns an evaluated Result into ledger rows. Apply must run inside the
  caller's WithTx: the bonus record, the wallet increment, its paired audit
  transaction and the schedule advance commit or roll back together.

STEPS:
  1. Advance the schedule (needed first: the next payout date decides the
     month the record is attributed to)
  2. Create the BonusRecord (always, even when nothing is paid)
  3. If the incentive is positive: credit the bonus wallet and append the
     bonus_in transaction with old/new balance
  4. Persist the new schedule

MISSING WALLET:
  The record is kept with payout_status=unpaid so "earned but unpaid" stays
  auditable; the wallet step is skipped entirely and ErrWalletNotFound is
  reported on the PayoutResult, not returned.
*/
package incentive

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Outcome is the terminal state of one profile cycle.
type Outcome string

const (
	OutcomePaid     Outcome = "paid"
	OutcomePaidZero Outcome = "paid_zero"
	OutcomeUnpaid   Outcome = "unpaid"
	OutcomeSkipped  Outcome = "skipped"
)

type PayoutResult struct {
	Outcome  Outcome
	Record   BonusRecord
	WalletTx *Transaction
	Profile  Profile // with the advanced schedule

	// WalletErr is set when a positive payout could not be credited.
	WalletErr error
}

// Writer books evaluated results.
type Writer struct {
	WalletCategory string
	NewID          func() string
}

func (w *Writer) category() string {
	if w.WalletCategory == "" {
		return DefaultWalletCategory
	}
	return w.WalletCategory
}

// Apply writes the ledger rows for res and advances p's schedule from now.
func (w *Writer) Apply(ctx context.Context, s Store, res *Result, p Profile, now time.Time) (*PayoutResult, error) {
	advanced, err := Advance(p, now)
	if err != nil {
		return nil, err
	}
	month, err := AttributionMonth(p.Period, advanced.NextPayoutDate)
	if err != nil {
		return nil, &ConfigError{ProfileID: p.ID, Field: "calculation_period", Value: string(p.Period), Err: err}
	}

	out := &PayoutResult{Outcome: OutcomePaidZero, Profile: advanced}
	rec := BonusRecord{
		ID:                 w.NewID(),
		ProfileID:          p.ID,
		UserID:             p.UserID,
		TargetAmount:       res.TargetAmount,
		AchievedAmount:     res.AchievedAmount,
		AchievedPercentage: res.AchievedPercentage,
		IncentiveRate:      res.IncentiveRate,
		IncentiveAmount:    res.IncentiveAmount,
		IncentiveMonth:     month,
		PeriodStart:        res.Window.Start,
		PeriodEnd:          res.Window.End,
		PayoutStatus:       PayoutZero,
		CreatedAt:          now,
	}

	var wallet *Wallet
	if res.IncentiveAmount.IsPositive() {
		wallet, err = s.GetWallet(ctx, p.UserID, w.category())
		switch {
		case errors.Is(err, ErrWalletNotFound):
			rec.PayoutStatus = PayoutUnpaid
			out.Outcome = OutcomeUnpaid
			out.WalletErr = fmt.Errorf("user %s: %w", p.UserID, err)
		case err != nil:
			return nil, fmt.Errorf("lookup wallet: %w", err)
		default:
			rec.PayoutStatus = PayoutPaid
			out.Outcome = OutcomePaid
		}
	}

	if err := s.CreateBonusRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("create bonus record: %w", err)
	}
	out.Record = rec

	if wallet != nil {
		newBalance := wallet.Balance.Add(rec.IncentiveAmount)
		if err := s.UpdateWalletBalance(ctx, wallet.ID, newBalance, now); err != nil {
			return nil, fmt.Errorf("credit wallet %s: %w", wallet.ID, err)
		}
		tx := Transaction{
			ID:            w.NewID(),
			UserID:        p.UserID,
			WalletID:      wallet.ID,
			Type:          TxBonusIn,
			Amount:        rec.IncentiveAmount,
			OldBalance:    wallet.Balance,
			NewBalance:    newBalance,
			Status:        StatusSuccessful,
			ReferenceID:   rec.ID,
			TransactionAt: now,
			CreatedAt:     now,
		}
		if err := s.AppendTransaction(ctx, tx); err != nil {
			return nil, fmt.Errorf("append wallet transaction: %w", err)
		}
		out.WalletTx = &tx
	}

	if err := s.UpdateProfileSchedule(ctx, p.ID, advanced.LastPayoutDate, advanced.NextPayoutDate, now); err != nil {
		return nil, fmt.Errorf("advance schedule: %w", err)
	}
	return out, nil
}
