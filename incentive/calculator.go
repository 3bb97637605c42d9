/*
calculator.go - Achievement aggregation and payout formula

PURPOSE:
  Evaluate is the single calculation path. The batch processor calls it
  inside its write transaction; the report calls it on the live store.
  Given the same profile, reference instant and data, both get the same
  Result.

FLOW:
  1. Resolve the window (window.go)
  2. Resolve the user set: owner, plus descendants in group mode
  3. Aggregate the category metric over the window
  4. Apply the payout formula

PAYOUT FORMULA:
  percent categories: percentage = achieved / target * 100
                      incentive  = achieved * rate / 100     if percentage >= threshold
  flat categories:    percentage = volume / target * 100
                      incentive  = rate                       if percentage >= threshold
  target == 0:        percentage = 0, TargetUndefined, incentive = 0
*/
package incentive

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Evaluate computes the achievement of a profile at asOf without writing anything.
func Evaluate(ctx context.Context, q SalesQuery, p Profile, asOf time.Time) (*Result, error) {
	if !p.Mode.Valid() {
		return nil, &ConfigError{ProfileID: p.ID, Field: "sales_calculation_mode", Value: string(p.Mode), Err: ErrUnknownMode}
	}
	rule, err := RuleFor(p.Category)
	if err != nil {
		return nil, &ConfigError{ProfileID: p.ID, Field: "sales_category", Value: string(p.Category), Err: err}
	}

	window, err := WindowFor(p, asOf)
	if err != nil {
		return nil, err
	}

	users, err := userSet(ctx, q, p)
	if err != nil {
		return nil, fmt.Errorf("resolve users for profile %s: %w", p.ID, err)
	}

	achieved, err := aggregate(ctx, q, rule, users, window)
	if err != nil {
		return nil, fmt.Errorf("aggregate sales for profile %s: %w", p.ID, err)
	}

	res := ComputePayout(p, rule, achieved)
	res.Window = window
	res.Participants = len(users)
	return &res, nil
}

// ComputePayout applies the payout formula of rule to an achieved amount.
func ComputePayout(p Profile, rule CategoryRule, achieved decimal.Decimal) Result {
	res := Result{
		ProfileID:            p.ID,
		UserID:               p.UserID,
		Mode:                 p.Mode,
		Category:             p.Category,
		Period:               p.Period,
		TargetAmount:         p.TargetAmount,
		AchievedAmount:       achieved,
		AchievedPercentage:   decimal.Zero,
		IncentiveRate:        p.IncentiveRate,
		CalculationThreshold: p.CalculationThreshold,
		IncentiveAmount:      decimal.Zero,
	}

	if p.TargetAmount.IsZero() {
		res.TargetUndefined = true
		return res
	}

	res.AchievedPercentage = achieved.Div(p.TargetAmount).Mul(hundred)
	res.Qualified = res.AchievedPercentage.GreaterThanOrEqual(p.CalculationThreshold)
	if !res.Qualified {
		return res
	}

	if rule.FlatPayout {
		res.IncentiveAmount = p.IncentiveRate
	} else {
		res.IncentiveAmount = achieved.Mul(p.IncentiveRate).Div(hundred).Round(2)
	}
	if res.IncentiveAmount.IsNegative() {
		res.IncentiveAmount = decimal.Zero
	}
	return res
}

// userSet returns the owner, plus the closure of descendants in group mode.
// The result is sorted so queries are issued identically on every call.
func userSet(ctx context.Context, q SalesQuery, p Profile) ([]UserID, error) {
	users := []UserID{p.UserID}
	if p.Mode == ModeGroup {
		descendants, err := q.Descendants(ctx, p.UserID)
		if err != nil {
			return nil, err
		}
		users = append(users, descendants...)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

func aggregate(ctx context.Context, q SalesQuery, rule CategoryRule, users []UserID, w Window) (decimal.Decimal, error) {
	if w.Empty() {
		return decimal.Zero, nil
	}

	if rule.Volume {
		logins, err := q.TradingAccounts(ctx, users)
		if err != nil {
			return decimal.Zero, err
		}
		if len(logins) == 0 {
			return decimal.Zero, nil
		}
		return q.SumTradeVolume(ctx, logins, w.Start, w.End)
	}

	total := decimal.Zero
	if len(rule.Inflows) > 0 {
		in, err := q.SumTransactions(ctx, users, rule.Inflows, w.Start, w.End)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Add(in)
	}
	if len(rule.Outflows) > 0 {
		out, err := q.SumTransactions(ctx, users, rule.Outflows, w.Start, w.End)
		if err != nil {
			return decimal.Zero, err
		}
		total = total.Sub(out)
	}
	return total, nil
}
