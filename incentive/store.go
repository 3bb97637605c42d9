/*
store.go - Data access interfaces consumed by the engine

KEY INTERFACES:
  SalesQuery:   Read-only aggregation over sales history and hierarchy
  ProfileStore: Incentive profiles and their schedule state
  LedgerStore:  Bonus records, wallets and wallet audit transactions
  TxStore:      Store plus WithTx for the per-profile atomic cycle

APPEND-ONLY CONTRACT:
  Bonus records and transactions are only ever created. The only updates
  the engine performs are the wallet balance and the profile schedule, and
  both happen inside the same WithTx as the rows that justify them.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite
  - incentive/store/memory.go: In-memory for tests
*/
package incentive

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// SalesQuery is the read side used by Evaluate. Implementations count only
// StatusSuccessful transactions and must not mutate state.
type SalesQuery interface {
	// SumTransactions sums successful transactions of the given types for the
	// user set with TransactionAt in [from, to].
	SumTransactions(ctx context.Context, users []UserID, types []TransactionType, from, to time.Time) (decimal.Decimal, error)

	// SumTradeVolume sums trade lots of the given accounts closed in [from, to].
	SumTradeVolume(ctx context.Context, logins []MetaLogin, from, to time.Time) (decimal.Decimal, error)

	// TradingAccounts returns the meta logins owned by the user set.
	TradingAccounts(ctx context.Context, users []UserID) ([]MetaLogin, error)

	// Descendants returns every user below user in the referral hierarchy,
	// excluding user itself.
	Descendants(ctx context.Context, user UserID) ([]UserID, error)
}

type ProfileStore interface {
	GetProfile(ctx context.Context, id ProfileID) (*Profile, error)
	ListProfiles(ctx context.Context, filter ProfileFilter) ([]Profile, error)

	// DueProfiles returns profiles with NextPayoutDate <= asOf, oldest first.
	DueProfiles(ctx context.Context, asOf time.Time) ([]Profile, error)

	UpdateProfileSchedule(ctx context.Context, id ProfileID, last, next, updatedAt time.Time) error
}

type LedgerStore interface {
	// CreateBonusRecord returns ErrDuplicateBonus if the window is already booked.
	CreateBonusRecord(ctx context.Context, rec BonusRecord) error

	// GetWallet returns ErrWalletNotFound if the user has no wallet of the category.
	GetWallet(ctx context.Context, user UserID, category string) (*Wallet, error)

	UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error
	AppendTransaction(ctx context.Context, tx Transaction) error
}

type Store interface {
	SalesQuery
	ProfileStore
	LedgerStore
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, transaction is rolled back.
	// If fn returns nil, transaction is committed.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// =============================================================================
// ADMIN SIDE - Used by the HTTP API, the seed command and tests
// =============================================================================

// RunRecord is the persisted summary of one batch run.
type RunRecord struct {
	ID          string
	AsOf        time.Time
	Status      string // completed, failed
	Processed   int
	Paid        int
	PaidZero    int
	Unpaid      int
	Skipped     int
	Errors      []string
	StartedAt   time.Time
	CompletedAt time.Time
}

// NewRunRecord converts a summary into its persisted form.
func NewRunRecord(id string, s *RunSummary) RunRecord {
	return RunRecord{
		ID:          id,
		AsOf:        s.AsOf,
		Status:      "completed",
		Processed:   s.Processed,
		Paid:        s.Paid,
		PaidZero:    s.PaidZero,
		Unpaid:      s.Unpaid,
		Skipped:     s.Skipped,
		Errors:      s.Errors(),
		StartedAt:   s.StartedAt,
		CompletedAt: s.CompletedAt,
	}
}

// AdminStore maintains the reference data the engine reads.
type AdminStore interface {
	CreateUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id UserID) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// SetUpline moves user (and its subtree) below upline. An empty upline
	// makes the user a root. Returns ErrHierarchyCycle if upline is user or
	// one of its descendants.
	SetUpline(ctx context.Context, user, upline UserID) error

	SaveProfile(ctx context.Context, p Profile) error
	DeleteProfile(ctx context.Context, id ProfileID) error
	ListBonusRecords(ctx context.Context, profile ProfileID) ([]BonusRecord, error)

	CreateWallet(ctx context.Context, w Wallet) error
	ListWallets(ctx context.Context, user UserID) ([]Wallet, error)
	ListTransactions(ctx context.Context, user UserID, from, to time.Time) ([]Transaction, error)

	AddTradingAccount(ctx context.Context, a TradingAccount) error
	AddTrade(ctx context.Context, t Trade) error

	SaveRun(ctx context.Context, r RunRecord) error
	ListRuns(ctx context.Context, limit int) ([]RunRecord, error)

	// Reset deletes all data. Used by demo scenarios.
	Reset(ctx context.Context) error
}

// Backend is a complete storage implementation.
type Backend interface {
	TxStore
	AdminStore
}
