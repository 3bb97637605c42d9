/*
Package sqlite provides a SQLite-backed implementation of the storage interfaces.

PURPOSE:
  Implements incentive.Backend (the engine's TxStore plus the admin side
  used by the API) on SQLite. In production the same schema runs on MySQL
  or PostgreSQL with minor dialect differences.

KEY TABLES:
  users, user_closure:   Referral hierarchy as a closure table
  trading_accounts:      Meta logins owned by users
  trades:                Closed positions (lots)
  transactions:          Sales history and wallet credits (append-only)
  incentive_profiles:    Sales rules and their payout schedule
  bonus_records:         One row per evaluated window (append-only)
  wallets:               One balance per (user, category)
  incentive_runs:        Batch run history

APPEND-ONLY ENFORCEMENT:
  - No UPDATE or DELETE statements on transactions and bonus_records
  - idx_bonus_records_window rejects a second record for the same window

CONCURRENCY:
  The pool is limited to one connection so ":memory:" databases are shared
  and writers are serialized. Inside WithTx every statement, reads
  included, goes through the *sql.Tx.

TIME AND MONEY:
  Instants are stored as UTC RFC3339 text so lexical order is time order.
  Amounts are stored as decimal text and summed in Go with
  shopspring/decimal; SQL SUM would go through float64.

USAGE:
  store, err := sqlite.New("./data/incentive.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New().

SEE ALSO:
  - incentive/store.go: Interface definitions
  - incentive/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/incentive"
)

// Store implements incentive.Backend using SQLite.
type Store struct {
	conn
	db *sql.DB
}

var _ incentive.Backend = (*Store)(nil)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// conn implements incentive.Store on top of a querier.
type conn struct {
	q querier
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &Store{conn: conn{q: db}, db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Users and referral hierarchy
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL DEFAULT 'member',
		upline_id TEXT REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	-- One row per (ancestor, descendant) pair, including depth 0 self rows
	CREATE TABLE IF NOT EXISTS user_closure (
		ancestor_id TEXT NOT NULL REFERENCES users(id),
		descendant_id TEXT NOT NULL REFERENCES users(id),
		depth INTEGER NOT NULL,
		PRIMARY KEY (ancestor_id, descendant_id)
	);

	CREATE INDEX IF NOT EXISTS idx_user_closure_descendant
		ON user_closure(descendant_id);

	-- Trading platform
	CREATE TABLE IF NOT EXISTS trading_accounts (
		meta_login TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trading_accounts_user
		ON trading_accounts(user_id);

	CREATE TABLE IF NOT EXISTS trades (
		id TEXT PRIMARY KEY,
		meta_login TEXT NOT NULL REFERENCES trading_accounts(meta_login),
		volume TEXT NOT NULL,
		closed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trades_login_closed
		ON trades(meta_login, closed_at);

	-- Money ledger (append-only): sales history and wallet credits
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		wallet_id TEXT,
		type TEXT NOT NULL,
		amount TEXT NOT NULL,
		old_balance TEXT,
		new_balance TEXT,
		status TEXT NOT NULL,
		reference_id TEXT,
		transaction_at TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	-- Aggregation hot path
	CREATE INDEX IF NOT EXISTS idx_transactions_user_type_date
		ON transactions(user_id, type, transaction_at);

	CREATE INDEX IF NOT EXISTS idx_transactions_reference
		ON transactions(reference_id) WHERE reference_id IS NOT NULL;

	-- Incentive profiles
	CREATE TABLE IF NOT EXISTS incentive_profiles (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		sales_calculation_mode TEXT NOT NULL,
		sales_category TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		incentive_rate TEXT NOT NULL,
		calculation_threshold TEXT NOT NULL,
		calculation_period TEXT NOT NULL,
		last_payout_date TEXT NOT NULL,
		next_payout_date TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incentive_profiles_next_payout
		ON incentive_profiles(next_payout_date);

	-- Bonus records (append-only); profile_id is not a foreign key so the
	-- audit trail outlives a deleted profile
	CREATE TABLE IF NOT EXISTS bonus_records (
		id TEXT PRIMARY KEY,
		profile_id TEXT NOT NULL,
		user_id TEXT NOT NULL,
		target_amount TEXT NOT NULL,
		achieved_amount TEXT NOT NULL,
		achieved_percentage TEXT NOT NULL,
		incentive_rate TEXT NOT NULL,
		incentive_amount TEXT NOT NULL,
		incentive_month TEXT NOT NULL,
		period_start TEXT NOT NULL,
		period_end TEXT NOT NULL,
		payout_status TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_bonus_records_window
		ON bonus_records(profile_id, period_start, period_end);

	-- Wallets
	CREATE TABLE IF NOT EXISTS wallets (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL REFERENCES users(id),
		category TEXT NOT NULL,
		balance TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		UNIQUE(user_id, category)
	);

	-- Batch runs
	CREATE TABLE IF NOT EXISTS incentive_runs (
		id TEXT PRIMARY KEY,
		as_of TEXT NOT NULL,
		status TEXT NOT NULL,
		processed INTEGER NOT NULL DEFAULT 0,
		paid INTEGER NOT NULL DEFAULT 0,
		paid_zero INTEGER NOT NULL DEFAULT 0,
		unpaid INTEGER NOT NULL DEFAULT 0,
		skipped INTEGER NOT NULL DEFAULT 0,
		errors_json TEXT,
		started_at TEXT NOT NULL,
		completed_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_incentive_runs_started
		ON incentive_runs(started_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (incentive.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(store incentive.Store) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(conn{q: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// =============================================================================
// SALES QUERY (incentive.SalesQuery interface)
// =============================================================================

func (c conn) SumTransactions(ctx context.Context, users []incentive.UserID, types []incentive.TransactionType, from, to time.Time) (decimal.Decimal, error) {
	if len(users) == 0 || len(types) == 0 {
		return decimal.Zero, nil
	}

	query := `
		SELECT amount FROM transactions
		WHERE status = ?
		  AND user_id IN (` + placeholders(len(users)) + `)
		  AND type IN (` + placeholders(len(types)) + `)
		  AND transaction_at >= ? AND transaction_at <= ?
	`
	args := []any{string(incentive.StatusSuccessful)}
	for _, u := range users {
		args = append(args, string(u))
	}
	for _, t := range types {
		args = append(args, string(t))
	}
	args = append(args, formatTime(from), formatTime(to))

	return c.sumColumn(ctx, query, args...)
}

func (c conn) SumTradeVolume(ctx context.Context, logins []incentive.MetaLogin, from, to time.Time) (decimal.Decimal, error) {
	if len(logins) == 0 {
		return decimal.Zero, nil
	}

	query := `
		SELECT volume FROM trades
		WHERE meta_login IN (` + placeholders(len(logins)) + `)
		  AND closed_at >= ? AND closed_at <= ?
	`
	args := make([]any, 0, len(logins)+2)
	for _, l := range logins {
		args = append(args, string(l))
	}
	args = append(args, formatTime(from), formatTime(to))

	return c.sumColumn(ctx, query, args...)
}

func (c conn) sumColumn(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to query amounts: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var v decimal.Decimal
		if err := rows.Scan(&v); err != nil {
			return decimal.Zero, fmt.Errorf("failed to scan amount: %w", err)
		}
		total = total.Add(v)
	}
	return total, rows.Err()
}

func (c conn) TradingAccounts(ctx context.Context, users []incentive.UserID) ([]incentive.MetaLogin, error) {
	if len(users) == 0 {
		return nil, nil
	}

	query := `SELECT meta_login FROM trading_accounts WHERE user_id IN (` + placeholders(len(users)) + `) ORDER BY meta_login`
	args := make([]any, len(users))
	for i, u := range users {
		args[i] = string(u)
	}

	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query trading accounts: %w", err)
	}
	defer rows.Close()

	var logins []incentive.MetaLogin
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, err
		}
		logins = append(logins, incentive.MetaLogin(l))
	}
	return logins, rows.Err()
}

func (c conn) Descendants(ctx context.Context, user incentive.UserID) ([]incentive.UserID, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT descendant_id FROM user_closure
		WHERE ancestor_id = ? AND depth > 0
		ORDER BY descendant_id
	`, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query descendants: %w", err)
	}
	defer rows.Close()

	var ids []incentive.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, incentive.UserID(id))
	}
	return ids, rows.Err()
}

// =============================================================================
// PROFILE STORE (incentive.ProfileStore interface)
// =============================================================================

const profileColumns = `id, user_id, sales_calculation_mode, sales_category, target_amount,
	incentive_rate, calculation_threshold, calculation_period, last_payout_date,
	next_payout_date, created_at, updated_at`

func (c conn) GetProfile(ctx context.Context, id incentive.ProfileID) (*incentive.Profile, error) {
	profiles, err := c.queryProfiles(ctx, `SELECT `+profileColumns+` FROM incentive_profiles WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("profile %s: %w", id, incentive.ErrProfileNotFound)
	}
	return &profiles[0], nil
}

func (c conn) ListProfiles(ctx context.Context, filter incentive.ProfileFilter) ([]incentive.Profile, error) {
	var (
		where []string
		args  []any
	)
	if filter.UserID != "" {
		where = append(where, "user_id = ?")
		args = append(args, string(filter.UserID))
	}
	if filter.Mode != "" {
		where = append(where, "sales_calculation_mode = ?")
		args = append(args, string(filter.Mode))
	}
	if filter.Category != "" {
		where = append(where, "sales_category = ?")
		args = append(args, string(filter.Category))
	}

	query := `SELECT ` + profileColumns + ` FROM incentive_profiles`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id`
	return c.queryProfiles(ctx, query, args...)
}

func (c conn) DueProfiles(ctx context.Context, asOf time.Time) ([]incentive.Profile, error) {
	return c.queryProfiles(ctx, `
		SELECT `+profileColumns+` FROM incentive_profiles
		WHERE next_payout_date <= ?
		ORDER BY next_payout_date, id
	`, formatTime(asOf))
}

func (c conn) UpdateProfileSchedule(ctx context.Context, id incentive.ProfileID, last, next, updatedAt time.Time) error {
	res, err := c.q.ExecContext(ctx, `
		UPDATE incentive_profiles
		SET last_payout_date = ?, next_payout_date = ?, updated_at = ?
		WHERE id = ?
	`, formatTime(last), formatTime(next), formatTime(updatedAt), string(id))
	if err != nil {
		return fmt.Errorf("failed to update profile schedule: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", id, incentive.ErrProfileNotFound)
	}
	return nil
}

func (c conn) queryProfiles(ctx context.Context, query string, args ...any) ([]incentive.Profile, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query profiles: %w", err)
	}
	defer rows.Close()

	var profiles []incentive.Profile
	for rows.Next() {
		var (
			p                            incentive.Profile
			last, next, created, updated string
		)
		if err := rows.Scan(
			&p.ID, &p.UserID, &p.Mode, &p.Category, &p.TargetAmount,
			&p.IncentiveRate, &p.CalculationThreshold, &p.Period,
			&last, &next, &created, &updated,
		); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		var cp columnParser
		p.LastPayoutDate = cp.time("last_payout_date", last)
		p.NextPayoutDate = cp.time("next_payout_date", next)
		p.CreatedAt = cp.time("created_at", created)
		p.UpdatedAt = cp.time("updated_at", updated)
		if cp.err != nil {
			return nil, fmt.Errorf("failed to scan profile %s: %w", p.ID, cp.err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// =============================================================================
// LEDGER STORE (incentive.LedgerStore interface)
// =============================================================================

func (c conn) CreateBonusRecord(ctx context.Context, rec incentive.BonusRecord) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO bonus_records
		(id, profile_id, user_id, target_amount, achieved_amount, achieved_percentage,
		 incentive_rate, incentive_amount, incentive_month, period_start, period_end,
		 payout_status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rec.ID, string(rec.ProfileID), string(rec.UserID),
		rec.TargetAmount.String(), rec.AchievedAmount.String(), rec.AchievedPercentage.String(),
		rec.IncentiveRate.String(), rec.IncentiveAmount.String(), rec.IncentiveMonth,
		formatTime(rec.PeriodStart), formatTime(rec.PeriodEnd),
		string(rec.PayoutStatus), formatTime(rec.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			if strings.Contains(err.Error(), "bonus_records.profile_id") {
				return fmt.Errorf("profile %s window %s - %s: %w", rec.ProfileID,
					rec.PeriodStart.Format(time.DateTime), rec.PeriodEnd.Format(time.DateTime), incentive.ErrDuplicateBonus)
			}
			return fmt.Errorf("bonus record %s: %w", rec.ID, incentive.ErrDuplicateID)
		}
		return fmt.Errorf("failed to insert bonus record: %w", err)
	}
	return nil
}

func (c conn) GetWallet(ctx context.Context, user incentive.UserID, category string) (*incentive.Wallet, error) {
	wallets, err := c.queryWallets(ctx, `
		SELECT id, user_id, category, balance, created_at, updated_at
		FROM wallets WHERE user_id = ? AND category = ?
	`, string(user), category)
	if err != nil {
		return nil, err
	}
	if len(wallets) == 0 {
		return nil, incentive.ErrWalletNotFound
	}
	return &wallets[0], nil
}

func (c conn) UpdateWalletBalance(ctx context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	res, err := c.q.ExecContext(ctx,
		`UPDATE wallets SET balance = ?, updated_at = ? WHERE id = ?`,
		balance.String(), formatTime(at), walletID)
	if err != nil {
		return fmt.Errorf("failed to update wallet: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("wallet %s: %w", walletID, incentive.ErrWalletNotFound)
	}
	return nil
}

func (c conn) AppendTransaction(ctx context.Context, tx incentive.Transaction) error {
	oldBalance, newBalance := sql.NullString{}, sql.NullString{}
	if tx.WalletID != "" {
		oldBalance = nullString(tx.OldBalance.String())
		newBalance = nullString(tx.NewBalance.String())
	}

	_, err := c.q.ExecContext(ctx, `
		INSERT INTO transactions
		(id, user_id, wallet_id, type, amount, old_balance, new_balance, status,
		 reference_id, transaction_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		tx.ID, string(tx.UserID), nullString(tx.WalletID), string(tx.Type), tx.Amount.String(),
		oldBalance, newBalance, string(tx.Status), nullString(tx.ReferenceID),
		formatTime(tx.TransactionAt), formatTime(tx.CreatedAt),
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return fmt.Errorf("transaction %s: %w", tx.ID, incentive.ErrDuplicateID)
		}
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func (c conn) queryWallets(ctx context.Context, query string, args ...any) ([]incentive.Wallet, error) {
	rows, err := c.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query wallets: %w", err)
	}
	defer rows.Close()

	var wallets []incentive.Wallet
	for rows.Next() {
		var (
			w                incentive.Wallet
			created, updated string
		)
		if err := rows.Scan(&w.ID, &w.UserID, &w.Category, &w.Balance, &created, &updated); err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		var cp columnParser
		w.CreatedAt = cp.time("created_at", created)
		w.UpdatedAt = cp.time("updated_at", updated)
		if cp.err != nil {
			return nil, fmt.Errorf("failed to scan wallet %s: %w", w.ID, cp.err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

// =============================================================================
// USERS AND HIERARCHY
// =============================================================================

// inTx runs fn on a raw transaction for the admin writes that span tables.
func (s *Store) inTx(ctx context.Context, fn func(q querier) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// CreateUser inserts the user and its closure rows: the depth 0 self row and
// one row per ancestor of the upline.
func (s *Store) CreateUser(ctx context.Context, u incentive.User) error {
	if u.Role == "" {
		u.Role = incentive.RoleMember
	}
	return s.inTx(ctx, func(q querier) error {
		if u.UplineID != "" {
			if err := userExists(ctx, q, u.UplineID); err != nil {
				return fmt.Errorf("upline %s: %w", u.UplineID, err)
			}
		}

		_, err := q.ExecContext(ctx, `
			INSERT INTO users (id, name, email, role, upline_id, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, string(u.ID), u.Name, nullString(u.Email), string(u.Role), nullString(string(u.UplineID)), formatTime(u.CreatedAt))
		if err != nil {
			if isUniqueConstraintError(err) {
				return fmt.Errorf("user %s: %w", u.ID, incentive.ErrDuplicateID)
			}
			return fmt.Errorf("failed to insert user: %w", err)
		}

		if _, err := q.ExecContext(ctx,
			`INSERT INTO user_closure (ancestor_id, descendant_id, depth) VALUES (?, ?, 0)`,
			string(u.ID), string(u.ID)); err != nil {
			return fmt.Errorf("failed to insert closure: %w", err)
		}
		if u.UplineID != "" {
			if _, err := q.ExecContext(ctx, `
				INSERT INTO user_closure (ancestor_id, descendant_id, depth)
				SELECT ancestor_id, ?, depth + 1 FROM user_closure WHERE descendant_id = ?
			`, string(u.ID), string(u.UplineID)); err != nil {
				return fmt.Errorf("failed to insert closure: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) GetUser(ctx context.Context, id incentive.UserID) (*incentive.User, error) {
	users, err := s.queryUsers(ctx, `SELECT id, name, email, role, upline_id, created_at FROM users WHERE id = ?`, string(id))
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, fmt.Errorf("user %s: %w", id, incentive.ErrUserNotFound)
	}
	return &users[0], nil
}

func (s *Store) ListUsers(ctx context.Context) ([]incentive.User, error) {
	return s.queryUsers(ctx, `SELECT id, name, email, role, upline_id, created_at FROM users ORDER BY id`)
}

func (s *Store) queryUsers(ctx context.Context, query string, args ...any) ([]incentive.User, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query users: %w", err)
	}
	defer rows.Close()

	var users []incentive.User
	for rows.Next() {
		var (
			u             incentive.User
			email, upline sql.NullString
			created       string
		)
		if err := rows.Scan(&u.ID, &u.Name, &email, &u.Role, &upline, &created); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		u.Email = email.String
		u.UplineID = incentive.UserID(upline.String)
		var cp columnParser
		u.CreatedAt = cp.time("created_at", created)
		if cp.err != nil {
			return nil, fmt.Errorf("failed to scan user %s: %w", u.ID, cp.err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetUpline re-links the subtree rooted at user below upline.
//
// Closure maintenance:
//  1. Reject if upline is in the subtree of user (depth 0 included)
//  2. Delete every link from an ancestor outside the subtree into it
//  3. Insert (a, d, da+ds+1) for each ancestor a of upline and each d in the subtree
func (s *Store) SetUpline(ctx context.Context, user, upline incentive.UserID) error {
	return s.inTx(ctx, func(q querier) error {
		if err := userExists(ctx, q, user); err != nil {
			return fmt.Errorf("user %s: %w", user, err)
		}

		if upline != "" {
			if err := userExists(ctx, q, upline); err != nil {
				return fmt.Errorf("upline %s: %w", upline, err)
			}
			var n int
			if err := q.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM user_closure WHERE ancestor_id = ? AND descendant_id = ?`,
				string(user), string(upline)).Scan(&n); err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%s below %s: %w", user, upline, incentive.ErrHierarchyCycle)
			}
		}

		subtree, err := closureLinks(ctx, q, `SELECT descendant_id, depth FROM user_closure WHERE ancestor_id = ?`, user)
		if err != nil {
			return err
		}
		ids := make([]any, len(subtree))
		for i, l := range subtree {
			ids[i] = string(l.id)
		}

		if _, err := q.ExecContext(ctx, `
			DELETE FROM user_closure
			WHERE descendant_id IN (`+placeholders(len(ids))+`)
			  AND ancestor_id NOT IN (`+placeholders(len(ids))+`)
		`, append(append([]any{}, ids...), ids...)...); err != nil {
			return fmt.Errorf("failed to unlink subtree: %w", err)
		}

		if upline != "" {
			ancestors, err := closureLinks(ctx, q, `SELECT ancestor_id, depth FROM user_closure WHERE descendant_id = ?`, upline)
			if err != nil {
				return err
			}
			for _, a := range ancestors {
				for _, d := range subtree {
					if _, err := q.ExecContext(ctx,
						`INSERT INTO user_closure (ancestor_id, descendant_id, depth) VALUES (?, ?, ?)`,
						string(a.id), string(d.id), a.depth+d.depth+1); err != nil {
						return fmt.Errorf("failed to link subtree: %w", err)
					}
				}
			}
		}

		_, err = q.ExecContext(ctx, `UPDATE users SET upline_id = ? WHERE id = ?`,
			nullString(string(upline)), string(user))
		return err
	})
}

type closureLink struct {
	id    incentive.UserID
	depth int
}

func closureLinks(ctx context.Context, q querier, query string, user incentive.UserID) ([]closureLink, error) {
	rows, err := q.QueryContext(ctx, query, string(user))
	if err != nil {
		return nil, fmt.Errorf("failed to query closure: %w", err)
	}
	defer rows.Close()

	var links []closureLink
	for rows.Next() {
		var l closureLink
		if err := rows.Scan(&l.id, &l.depth); err != nil {
			return nil, err
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

func userExists(ctx context.Context, q querier, id incentive.UserID) error {
	var n int
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE id = ?`, string(id)).Scan(&n); err != nil {
		return err
	}
	if n == 0 {
		return incentive.ErrUserNotFound
	}
	return nil
}

// =============================================================================
// PROFILE ADMINISTRATION
// =============================================================================

// SaveProfile inserts or replaces a profile.
func (s *Store) SaveProfile(ctx context.Context, p incentive.Profile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incentive_profiles (`+profileColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			sales_calculation_mode = excluded.sales_calculation_mode,
			sales_category = excluded.sales_category,
			target_amount = excluded.target_amount,
			incentive_rate = excluded.incentive_rate,
			calculation_threshold = excluded.calculation_threshold,
			calculation_period = excluded.calculation_period,
			last_payout_date = excluded.last_payout_date,
			next_payout_date = excluded.next_payout_date,
			updated_at = excluded.updated_at
	`,
		string(p.ID), string(p.UserID), string(p.Mode), string(p.Category),
		p.TargetAmount.String(), p.IncentiveRate.String(), p.CalculationThreshold.String(),
		string(p.Period), formatTime(p.LastPayoutDate), formatTime(p.NextPayoutDate),
		formatTime(p.CreatedAt), formatTime(p.UpdatedAt),
	)
	if err != nil {
		if isForeignKeyError(err) {
			return fmt.Errorf("user %s: %w", p.UserID, incentive.ErrUserNotFound)
		}
		return fmt.Errorf("failed to save profile: %w", err)
	}
	return nil
}

func (s *Store) DeleteProfile(ctx context.Context, id incentive.ProfileID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM incentive_profiles WHERE id = ?`, string(id))
	if err != nil {
		return fmt.Errorf("failed to delete profile: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("profile %s: %w", id, incentive.ErrProfileNotFound)
	}
	return nil
}

// ListBonusRecords returns the records of one profile, or all records when
// profile is empty, in window order.
func (s *Store) ListBonusRecords(ctx context.Context, profile incentive.ProfileID) ([]incentive.BonusRecord, error) {
	query := `
		SELECT id, profile_id, user_id, target_amount, achieved_amount, achieved_percentage,
		       incentive_rate, incentive_amount, incentive_month, period_start, period_end,
		       payout_status, created_at
		FROM bonus_records`
	var args []any
	if profile != "" {
		query += ` WHERE profile_id = ?`
		args = append(args, string(profile))
	}
	query += ` ORDER BY period_start, profile_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query bonus records: %w", err)
	}
	defer rows.Close()

	var records []incentive.BonusRecord
	for rows.Next() {
		var (
			r                   incentive.BonusRecord
			start, end, created string
		)
		if err := rows.Scan(
			&r.ID, &r.ProfileID, &r.UserID, &r.TargetAmount, &r.AchievedAmount, &r.AchievedPercentage,
			&r.IncentiveRate, &r.IncentiveAmount, &r.IncentiveMonth, &start, &end,
			&r.PayoutStatus, &created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan bonus record: %w", err)
		}
		var cp columnParser
		r.PeriodStart = cp.time("period_start", start)
		r.PeriodEnd = cp.time("period_end", end)
		r.CreatedAt = cp.time("created_at", created)
		if cp.err != nil {
			return nil, fmt.Errorf("failed to scan bonus record %s: %w", r.ID, cp.err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// =============================================================================
// WALLETS AND SALES HISTORY
// =============================================================================

func (s *Store) CreateWallet(ctx context.Context, w incentive.Wallet) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, category, balance, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, w.ID, string(w.UserID), w.Category, w.Balance.String(), formatTime(w.CreatedAt), formatTime(w.UpdatedAt))
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return fmt.Errorf("wallet %s/%s: %w", w.UserID, w.Category, incentive.ErrDuplicateID)
		case isForeignKeyError(err):
			return fmt.Errorf("user %s: %w", w.UserID, incentive.ErrUserNotFound)
		}
		return fmt.Errorf("failed to insert wallet: %w", err)
	}
	return nil
}

func (s *Store) ListWallets(ctx context.Context, user incentive.UserID) ([]incentive.Wallet, error) {
	return s.queryWallets(ctx, `
		SELECT id, user_id, category, balance, created_at, updated_at
		FROM wallets WHERE user_id = ? ORDER BY category
	`, string(user))
}

// ListTransactions returns a user's ledger rows with TransactionAt in [from, to].
func (s *Store) ListTransactions(ctx context.Context, user incentive.UserID, from, to time.Time) ([]incentive.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, wallet_id, type, amount, old_balance, new_balance, status,
		       reference_id, transaction_at, created_at
		FROM transactions
		WHERE user_id = ? AND transaction_at >= ? AND transaction_at <= ?
		ORDER BY transaction_at, created_at, id
	`, string(user), formatTime(from), formatTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	var txs []incentive.Transaction
	for rows.Next() {
		var (
			tx                              incentive.Transaction
			walletID, oldBal, newBal, refID sql.NullString
			at, created                     string
		)
		if err := rows.Scan(
			&tx.ID, &tx.UserID, &walletID, &tx.Type, &tx.Amount, &oldBal, &newBal, &tx.Status,
			&refID, &at, &created,
		); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		var cp columnParser
		tx.WalletID = walletID.String
		tx.OldBalance = cp.decimal("old_balance", oldBal)
		tx.NewBalance = cp.decimal("new_balance", newBal)
		tx.ReferenceID = refID.String
		tx.TransactionAt = cp.time("transaction_at", at)
		tx.CreatedAt = cp.time("created_at", created)
		if cp.err != nil {
			return nil, fmt.Errorf("failed to scan transaction %s: %w", tx.ID, cp.err)
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func (s *Store) AddTradingAccount(ctx context.Context, a incentive.TradingAccount) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trading_accounts (meta_login, user_id, created_at) VALUES (?, ?, ?)`,
		string(a.MetaLogin), string(a.UserID), formatTime(a.CreatedAt))
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return fmt.Errorf("trading account %s: %w", a.MetaLogin, incentive.ErrDuplicateID)
		case isForeignKeyError(err):
			return fmt.Errorf("user %s: %w", a.UserID, incentive.ErrUserNotFound)
		}
		return fmt.Errorf("failed to insert trading account: %w", err)
	}
	return nil
}

func (s *Store) AddTrade(ctx context.Context, t incentive.Trade) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trades (id, meta_login, volume, closed_at) VALUES (?, ?, ?, ?)`,
		t.ID, string(t.MetaLogin), t.Volume.String(), formatTime(t.ClosedAt))
	if err != nil {
		switch {
		case isUniqueConstraintError(err):
			return fmt.Errorf("trade %s: %w", t.ID, incentive.ErrDuplicateID)
		case isForeignKeyError(err):
			return fmt.Errorf("trading account %s: not found", t.MetaLogin)
		}
		return fmt.Errorf("failed to insert trade: %w", err)
	}
	return nil
}

// =============================================================================
// RUN HISTORY
// =============================================================================

func (s *Store) SaveRun(ctx context.Context, r incentive.RunRecord) error {
	errorsJSON, _ := json.Marshal(r.Errors)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO incentive_runs (id, as_of, status, processed, paid, paid_zero, unpaid,
			skipped, errors_json, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		r.ID, formatTime(r.AsOf), r.Status, r.Processed, r.Paid, r.PaidZero, r.Unpaid,
		r.Skipped, string(errorsJSON), formatTime(r.StartedAt), formatTime(r.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]incentive.RunRecord, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, as_of, status, processed, paid, paid_zero, unpaid, skipped,
		       errors_json, started_at, completed_at
		FROM incentive_runs
		ORDER BY started_at DESC, rowid DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []incentive.RunRecord
	for rows.Next() {
		var (
			r                        incentive.RunRecord
			asOf, started, completed string
			errorsJSON               sql.NullString
		)
		if err := rows.Scan(
			&r.ID, &asOf, &r.Status, &r.Processed, &r.Paid, &r.PaidZero, &r.Unpaid, &r.Skipped,
			&errorsJSON, &started, &completed,
		); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		var cp columnParser
		r.AsOf = cp.time("as_of", asOf)
		r.StartedAt = cp.time("started_at", started)
		r.CompletedAt = cp.time("completed_at", completed)
		if cp.err != nil {
			return nil, fmt.Errorf("failed to scan run %s: %w", r.ID, cp.err)
		}
		if errorsJSON.Valid && errorsJSON.String != "" {
			if err := json.Unmarshal([]byte(errorsJSON.String), &r.Errors); err != nil {
				return nil, fmt.Errorf("failed to scan run %s: column errors: %w", r.ID, err)
			}
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Reset deletes all data. Used by the demo scenario loader.
func (s *Store) Reset(ctx context.Context) error {
	return s.inTx(ctx, func(q querier) error {
		for _, table := range []string{
			"incentive_runs", "bonus_records", "transactions", "wallets", "incentive_profiles",
			"trades", "trading_accounts", "user_closure", "users",
		} {
			if _, err := q.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// Helper functions

func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// columnParser converts text columns after Scan. The first failure is kept
// in err and later calls return zero values.
type columnParser struct {
	err error
}

func (p *columnParser) time(column, s string) time.Time {
	if p.err != nil {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", column, err)
	}
	return t
}

// decimal parses a nullable decimal column. NULL is zero.
func (p *columnParser) decimal(column string, s sql.NullString) decimal.Decimal {
	if p.err != nil || !s.Valid {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s.String)
	if err != nil {
		p.err = fmt.Errorf("column %s: %w", column, err)
	}
	return d
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func isUniqueConstraintError(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

func isForeignKeyError(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintForeignKey
}
