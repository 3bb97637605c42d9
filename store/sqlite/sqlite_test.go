package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/store/sqlite"
)

var t0 = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func newStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func mustUser(t *testing.T, s *sqlite.Store, id, upline incentive.UserID) {
	t.Helper()
	require.NoError(t, s.CreateUser(context.Background(), incentive.User{
		ID: id, Name: string(id), Role: incentive.RoleAgent, UplineID: upline, CreatedAt: t0,
	}))
}

func TestHierarchy_Descendants(t *testing.T) {
	// GIVEN: root -> a -> b, root -> c
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "root", "")
	mustUser(t, s, "a", "root")
	mustUser(t, s, "b", "a")
	mustUser(t, s, "c", "root")

	// THEN: the closure covers every level
	got, err := s.Descendants(ctx, "root")
	require.NoError(t, err)
	assert.Equal(t, []incentive.UserID{"a", "b", "c"}, got)

	got, err = s.Descendants(ctx, "b")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHierarchy_SetUplineMovesSubtree(t *testing.T) {
	// GIVEN: root -> a -> b and a separate root x
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "root", "")
	mustUser(t, s, "a", "root")
	mustUser(t, s, "b", "a")
	mustUser(t, s, "x", "")

	// WHEN: a is moved below x
	require.NoError(t, s.SetUpline(ctx, "a", "x"))

	// THEN: a and b left root's group and joined x's
	got, err := s.Descendants(ctx, "root")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = s.Descendants(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, []incentive.UserID{"a", "b"}, got)

	u, err := s.GetUser(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, incentive.UserID("x"), u.UplineID)
}

func TestHierarchy_RejectsCycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "root", "")
	mustUser(t, s, "a", "root")

	err := s.SetUpline(ctx, "root", "a")
	assert.ErrorIs(t, err, incentive.ErrHierarchyCycle)

	err = s.SetUpline(ctx, "a", "a")
	assert.ErrorIs(t, err, incentive.ErrHierarchyCycle)
}

func TestCreateUser_Errors(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "root", "")

	err := s.CreateUser(ctx, incentive.User{ID: "root", Name: "dup", CreatedAt: t0})
	assert.ErrorIs(t, err, incentive.ErrDuplicateID)

	err = s.CreateUser(ctx, incentive.User{ID: "orphan", Name: "o", UplineID: "ghost", CreatedAt: t0})
	assert.ErrorIs(t, err, incentive.ErrUserNotFound)
}

func TestSumTransactions_FiltersStatusTypeAndRange(t *testing.T) {
	// GIVEN: deposits inside and outside the range, a pending one, a withdrawal
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "")

	add := func(id string, typ incentive.TransactionType, amount int64, status incentive.TransactionStatus, at time.Time) {
		require.NoError(t, s.AppendTransaction(ctx, incentive.Transaction{
			ID: id, UserID: "u1", Type: typ, Amount: decimal.NewFromInt(amount),
			Status: status, TransactionAt: at, CreatedAt: at,
		}))
	}
	from := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 11, 23, 59, 59, 0, time.UTC)
	add("in-start", incentive.TxDeposit, 100, incentive.StatusSuccessful, from)
	add("in-end", incentive.TxDeposit, 50, incentive.StatusSuccessful, to)
	add("after", incentive.TxDeposit, 1000, incentive.StatusSuccessful, to.Add(time.Second))
	add("pending", incentive.TxDeposit, 1000, incentive.StatusPending, from.Add(time.Hour))
	add("withdrawal", incentive.TxWithdrawal, 30, incentive.StatusSuccessful, from.Add(time.Hour))

	// WHEN
	sum, err := s.SumTransactions(ctx, []incentive.UserID{"u1"}, []incentive.TransactionType{incentive.TxDeposit}, from, to)

	// THEN: both boundaries are inclusive
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(150).Equal(sum), "got %s", sum)

	sum, err = s.SumTransactions(ctx, []incentive.UserID{"u1"}, []incentive.TransactionType{incentive.TxWithdrawal}, from, to)
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(30).Equal(sum))
}

func TestSumTradeVolume(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "")
	require.NoError(t, s.AddTradingAccount(ctx, incentive.TradingAccount{MetaLogin: "9001", UserID: "u1", CreatedAt: t0}))
	require.NoError(t, s.AddTrade(ctx, incentive.Trade{ID: "t1", MetaLogin: "9001", Volume: decimal.RequireFromString("1.25"), ClosedAt: t0.Add(time.Hour)}))
	require.NoError(t, s.AddTrade(ctx, incentive.Trade{ID: "t2", MetaLogin: "9001", Volume: decimal.RequireFromString("0.75"), ClosedAt: t0.Add(2 * time.Hour)}))

	logins, err := s.TradingAccounts(ctx, []incentive.UserID{"u1"})
	require.NoError(t, err)
	assert.Equal(t, []incentive.MetaLogin{"9001"}, logins)

	sum, err := s.SumTradeVolume(ctx, logins, t0, t0.Add(24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "2", sum.String())
}

func newProfile(id incentive.ProfileID, user incentive.UserID, next time.Time) incentive.Profile {
	return incentive.Profile{
		ID:                   id,
		UserID:               user,
		Mode:                 incentive.ModePersonal,
		Category:             incentive.CategoryGrossDeposit,
		TargetAmount:         decimal.NewFromInt(1000),
		IncentiveRate:        decimal.NewFromInt(5),
		CalculationThreshold: decimal.NewFromInt(100),
		Period:               incentive.PeriodWeeklySunday,
		LastPayoutDate:       t0,
		NextPayoutDate:       next,
		CreatedAt:            t0,
		UpdatedAt:            t0,
	}
}

func TestProfiles_DueAndSchedule(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "")
	require.NoError(t, s.SaveProfile(ctx, newProfile("p-early", "u1", t0.AddDate(0, 0, 3))))
	require.NoError(t, s.SaveProfile(ctx, newProfile("p-late", "u1", t0.AddDate(0, 0, 10))))

	due, err := s.DueProfiles(ctx, t0.AddDate(0, 0, 3))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, incentive.ProfileID("p-early"), due[0].ID)
	assert.True(t, decimal.NewFromInt(1000).Equal(due[0].TargetAmount))

	next := t0.AddDate(0, 0, 17)
	require.NoError(t, s.UpdateProfileSchedule(ctx, "p-early", t0.AddDate(0, 0, 3), next, t0.AddDate(0, 0, 3)))
	p, err := s.GetProfile(ctx, "p-early")
	require.NoError(t, err)
	assert.True(t, p.NextPayoutDate.Equal(next))

	_, err = s.GetProfile(ctx, "missing")
	assert.ErrorIs(t, err, incentive.ErrProfileNotFound)

	err = s.SaveProfile(ctx, newProfile("p-orphan", "ghost", next))
	assert.ErrorIs(t, err, incentive.ErrUserNotFound)
}

func TestBonusRecord_DuplicateWindowRejected(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	rec := incentive.BonusRecord{
		ID: "r1", ProfileID: "p1", UserID: "u1", IncentiveMonth: "2026-01",
		PeriodStart: t0, PeriodEnd: t0.AddDate(0, 0, 7).Add(-time.Second),
		PayoutStatus: incentive.PayoutZero, CreatedAt: t0,
	}
	require.NoError(t, s.CreateBonusRecord(ctx, rec))

	rec.ID = "r2"
	err := s.CreateBonusRecord(ctx, rec)
	assert.ErrorIs(t, err, incentive.ErrDuplicateBonus)

	records, err := s.ListBonusRecords(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestWallet_UniquePerCategory(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "")
	w := incentive.Wallet{ID: "w1", UserID: "u1", Category: "bonus_wallet", Balance: decimal.Zero, CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, s.CreateWallet(ctx, w))

	w.ID = "w2"
	assert.ErrorIs(t, s.CreateWallet(ctx, w), incentive.ErrDuplicateID)

	_, err := s.GetWallet(ctx, "u1", "main")
	assert.ErrorIs(t, err, incentive.ErrWalletNotFound)
}

func TestWithTx_RollbackOnError(t *testing.T) {
	// GIVEN: a wallet
	s := newStore(t)
	ctx := context.Background()
	mustUser(t, s, "u1", "")
	require.NoError(t, s.CreateWallet(ctx, incentive.Wallet{ID: "w1", UserID: "u1", Category: "bonus_wallet", Balance: decimal.Zero, CreatedAt: t0, UpdatedAt: t0}))

	// WHEN: a transaction credits it and then fails
	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx incentive.Store) error {
		if err := tx.UpdateWalletBalance(ctx, "w1", decimal.NewFromInt(60), t0); err != nil {
			return err
		}
		w, err := tx.GetWallet(ctx, "u1", "bonus_wallet")
		if err != nil {
			return err
		}
		assert.Equal(t, "60", w.Balance.String(), "reads inside the tx see its writes")
		return boom
	})

	// THEN: nothing was committed
	assert.ErrorIs(t, err, boom)
	w, err := s.GetWallet(ctx, "u1", "bonus_wallet")
	require.NoError(t, err)
	assert.True(t, w.Balance.IsZero())
}

func TestRuns_MostRecentFirst(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveRun(ctx, incentive.RunRecord{ID: "run-1", AsOf: t0, Status: "completed", StartedAt: t0, CompletedAt: t0}))
	require.NoError(t, s.SaveRun(ctx, incentive.RunRecord{
		ID: "run-2", AsOf: t0.Add(time.Hour), Status: "completed", Processed: 2, Skipped: 1,
		Errors: []string{"p9: bad period"}, StartedAt: t0.Add(time.Hour), CompletedAt: t0.Add(time.Hour),
	}))

	runs, err := s.ListRuns(ctx, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, []string{"p9: bad period"}, runs[0].Errors)

	runs, err = s.ListRuns(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestScan_CorruptColumnsAreErrors(t *testing.T) {
	// GIVEN: A file database with a wallet, a profile and a credit row
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "incentive.db")
	s, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	mustUser(t, s, "u1", "")
	require.NoError(t, s.CreateWallet(ctx, incentive.Wallet{ID: "w1", UserID: "u1", Category: "bonus_wallet", Balance: decimal.NewFromInt(500), CreatedAt: t0, UpdatedAt: t0}))
	require.NoError(t, s.SaveProfile(ctx, newProfile("p1", "u1", t0.AddDate(0, 0, 3))))
	require.NoError(t, s.AppendTransaction(ctx, incentive.Transaction{
		ID: "tx-1", UserID: "u1", WalletID: "w1", Type: incentive.TxBonusIn, Amount: decimal.NewFromInt(60),
		OldBalance: decimal.NewFromInt(440), NewBalance: decimal.NewFromInt(500),
		Status: incentive.StatusSuccessful, TransactionAt: t0, CreatedAt: t0,
	}))

	// WHEN: The stored text is damaged behind the store's back
	raw, err := sql.Open("sqlite3", path+"?_busy_timeout=5000")
	require.NoError(t, err)
	defer raw.Close()
	for _, stmt := range []string{
		`UPDATE wallets SET balance = 'five hundred' WHERE id = 'w1'`,
		`UPDATE incentive_profiles SET next_payout_date = 'soon' WHERE id = 'p1'`,
		`UPDATE transactions SET new_balance = 'n/a' WHERE id = 'tx-1'`,
	} {
		_, err := raw.ExecContext(ctx, stmt)
		require.NoError(t, err, stmt)
	}

	// THEN: Reads fail instead of returning zero values
	_, err = s.GetWallet(ctx, "u1", "bonus_wallet")
	require.Error(t, err)
	assert.False(t, errors.Is(err, incentive.ErrWalletNotFound))

	_, err = s.GetProfile(ctx, "p1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "next_payout_date")

	_, err = s.ListTransactions(ctx, "u1", t0.AddDate(0, 0, -1), t0.AddDate(0, 0, 1))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "new_balance")
}
