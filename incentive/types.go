/*
Package incentive provides the sales-incentive evaluation engine.

PURPOSE:
  Agents and members of the brokerage carry incentive profiles: a sales
  target, a rate, a category of sales and a payout period. This package
  resolves the evaluation window for a profile, aggregates the qualifying
  sales inside it, derives the achieved percentage and payout, writes the
  bonus ledger and advances the payout schedule.

KEY CONCEPTS IN THIS FILE (types.go):
  - Profile: A sales rule attached to one user
  - Result: The evaluated achievement of a profile for one window
  - BonusRecord: Immutable ledger entry, one per profile per evaluation
  - Wallet / Transaction: Balance and its append-only audit trail

DESIGN PRINCIPLES:
  1. One pure evaluation path: the batch and the report call Evaluate
  2. Precision: money and lots use decimal.Decimal
  3. Explicit time: every operation receives its reference instant
  4. Auditability: bonus records and wallet transactions are never updated

USAGE:
  res, err := incentive.Evaluate(ctx, store, profile, asOf)
  page, err := incentive.BuildReport(ctx, store, asOf, incentive.ReportQuery{})

SEE ALSO:
  - window.go: Evaluation window resolution
  - schedule.go: Next payout date and month attribution
  - calculator.go: Aggregation and payout formula
  - payout.go: Bonus ledger writer
  - batch.go: Due-profile processor
*/
package incentive

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type UserID string
type ProfileID string
type MetaLogin string

// =============================================================================
// ENUMS
// =============================================================================

// CalculationMode selects whose sales count towards a profile.
type CalculationMode string

const (
	ModePersonal CalculationMode = "personal" // the profile owner only
	ModeGroup    CalculationMode = "group"    // the owner and every descendant
)

func (m CalculationMode) Valid() bool {
	return m == ModePersonal || m == ModeGroup
}

// SalesCategory selects which sales metric is aggregated.
type SalesCategory string

const (
	CategoryGrossDeposit SalesCategory = "gross_deposit"
	CategoryNetDeposit   SalesCategory = "net_deposit"
	CategoryTradeVolume  SalesCategory = "trade_volume"
)

// CalculationPeriod selects the evaluation window and payout cadence.
type CalculationPeriod string

const (
	PeriodWeeklySunday         CalculationPeriod = "weekly_sunday"
	PeriodBiweeklySecondSunday CalculationPeriod = "biweekly_second_sunday"
	PeriodMonthlyFirstSunday   CalculationPeriod = "monthly_first_sunday"
	PeriodMonthlyDefault       CalculationPeriod = "monthly_default"
)

// Periods lists every supported calculation period.
var Periods = []CalculationPeriod{
	PeriodWeeklySunday,
	PeriodBiweeklySecondSunday,
	PeriodMonthlyFirstSunday,
	PeriodMonthlyDefault,
}

type TransactionType string

const (
	TxDeposit    TransactionType = "deposit"
	TxBalanceIn  TransactionType = "balance_in"
	TxWithdrawal TransactionType = "withdrawal"
	TxBalanceOut TransactionType = "balance_out"
	TxRebateOut  TransactionType = "rebate_out"
	TxBonusIn    TransactionType = "bonus_in" // wallet credit written by the payout step
)

type TransactionStatus string

const (
	StatusSuccessful TransactionStatus = "successful"
	StatusPending    TransactionStatus = "pending"
	StatusRejected   TransactionStatus = "rejected"
)

// PayoutStatus records what happened to the money of a bonus record.
type PayoutStatus string

const (
	PayoutPaid   PayoutStatus = "paid"   // wallet credited
	PayoutZero   PayoutStatus = "zero"   // nothing earned
	PayoutUnpaid PayoutStatus = "unpaid" // earned, but no bonus wallet to credit
)

// DefaultWalletCategory is the wallet credited with incentive payouts.
const DefaultWalletCategory = "bonus_wallet"

// =============================================================================
// PROFILE
// =============================================================================

// Profile is one sales rule evaluated repeatedly for a user.
//
// LastPayoutDate equals CreatedAt until the first evaluation; after that it
// holds the previous NextPayoutDate so consecutive windows chain.
type Profile struct {
	ID                   ProfileID
	UserID               UserID
	Mode                 CalculationMode
	Category             SalesCategory
	TargetAmount         decimal.Decimal
	IncentiveRate        decimal.Decimal
	CalculationThreshold decimal.Decimal
	Period               CalculationPeriod
	LastPayoutDate       time.Time
	NextPayoutDate       time.Time
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Evaluated reports whether the profile has been through at least one cycle.
func (p Profile) Evaluated() bool {
	return !SameDay(p.LastPayoutDate, p.CreatedAt)
}

// In returns a copy of the profile with every instant expressed in loc.
func (p Profile) In(loc *time.Location) Profile {
	if loc == nil {
		return p
	}
	p.LastPayoutDate = p.LastPayoutDate.In(loc)
	p.NextPayoutDate = p.NextPayoutDate.In(loc)
	p.CreatedAt = p.CreatedAt.In(loc)
	p.UpdatedAt = p.UpdatedAt.In(loc)
	return p
}

// ProfileFilter narrows ListProfiles. Zero fields match everything.
type ProfileFilter struct {
	UserID   UserID
	Mode     CalculationMode
	Category SalesCategory
}

func (f ProfileFilter) Match(p Profile) bool {
	if f.UserID != "" && p.UserID != f.UserID {
		return false
	}
	if f.Mode != "" && p.Mode != f.Mode {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	return true
}

// =============================================================================
// RESULT - Evaluated achievement for one window
// =============================================================================

type Result struct {
	ProfileID ProfileID
	UserID    UserID
	Mode      CalculationMode
	Category  SalesCategory
	Period    CalculationPeriod
	Window    Window

	// Participants is the number of users whose sales were aggregated.
	Participants int

	TargetAmount         decimal.Decimal
	AchievedAmount       decimal.Decimal
	AchievedPercentage   decimal.Decimal
	IncentiveRate        decimal.Decimal
	CalculationThreshold decimal.Decimal
	IncentiveAmount      decimal.Decimal

	Qualified       bool // AchievedPercentage >= CalculationThreshold
	TargetUndefined bool // TargetAmount is zero, percentage reported as 0
}

// =============================================================================
// LEDGER ENTITIES
// =============================================================================

// BonusRecord is the append-only outcome of one evaluation.
type BonusRecord struct {
	ID                 string
	ProfileID          ProfileID
	UserID             UserID
	TargetAmount       decimal.Decimal
	AchievedAmount     decimal.Decimal
	AchievedPercentage decimal.Decimal
	IncentiveRate      decimal.Decimal
	IncentiveAmount    decimal.Decimal
	IncentiveMonth     string // YYYY-MM
	PeriodStart        time.Time
	PeriodEnd          time.Time
	PayoutStatus       PayoutStatus
	CreatedAt          time.Time
}

type Wallet struct {
	ID        string
	UserID    UserID
	Category  string
	Balance   decimal.Decimal
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Transaction is a row of the money ledger: sales history (deposits,
// withdrawals, ...) and wallet credits share the table. Old/NewBalance are
// only meaningful for wallet rows.
type Transaction struct {
	ID            string
	UserID        UserID
	WalletID      string
	Type          TransactionType
	Amount        decimal.Decimal
	OldBalance    decimal.Decimal
	NewBalance    decimal.Decimal
	Status        TransactionStatus
	ReferenceID   string
	TransactionAt time.Time
	CreatedAt     time.Time
}

// =============================================================================
// HIERARCHY AND TRADING
// =============================================================================

type Role string

const (
	RoleMember Role = "member"
	RoleAgent  Role = "agent"
)

type User struct {
	ID        UserID
	Name      string
	Email     string
	Role      Role
	UplineID  UserID // empty for a root
	CreatedAt time.Time
}

type TradingAccount struct {
	MetaLogin MetaLogin
	UserID    UserID
	CreatedAt time.Time
}

// Trade is a closed position on the trading platform.
type Trade struct {
	ID        string
	MetaLogin MetaLogin
	Volume    decimal.Decimal // lots
	ClosedAt  time.Time
}
