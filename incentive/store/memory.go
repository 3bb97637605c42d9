// Package store provides an in-memory incentive.Backend.
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

// Memory implements incentive.Backend. WithTx is simulated with a snapshot
// of the whole state and a restore on error.
type Memory struct {
	mu sync.RWMutex
	st *state
}

type windowKey struct {
	ProfileID incentive.ProfileID
	Start     time.Time
	End       time.Time
}

type state struct {
	users        map[incentive.UserID]incentive.User
	profiles     map[incentive.ProfileID]incentive.Profile
	records      []incentive.BonusRecord
	booked       map[windowKey]bool
	wallets      map[string]incentive.Wallet
	transactions []incentive.Transaction
	accounts     map[incentive.MetaLogin]incentive.TradingAccount
	trades       []incentive.Trade
	runs         []incentive.RunRecord
}

var _ incentive.Backend = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{st: newState()}
}

func newState() *state {
	return &state{
		users:    make(map[incentive.UserID]incentive.User),
		profiles: make(map[incentive.ProfileID]incentive.Profile),
		booked:   make(map[windowKey]bool),
		wallets:  make(map[string]incentive.Wallet),
		accounts: make(map[incentive.MetaLogin]incentive.TradingAccount),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.users {
		c.users[k] = v
	}
	for k, v := range s.profiles {
		c.profiles[k] = v
	}
	for k, v := range s.booked {
		c.booked[k] = v
	}
	for k, v := range s.wallets {
		c.wallets[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	c.records = append([]incentive.BonusRecord{}, s.records...)
	c.transactions = append([]incentive.Transaction{}, s.transactions...)
	c.trades = append([]incentive.Trade{}, s.trades...)
	c.runs = append([]incentive.RunRecord{}, s.runs...)
	return c
}

// WithTx executes fn with exclusive access. Writes go straight to the live
// state; on error the snapshot taken before fn is put back.
func (m *Memory) WithTx(_ context.Context, fn func(incentive.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.st.clone()
	if err := fn(&txView{st: m.st}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = newState()
	return nil
}

// txView is the Store handed to WithTx callbacks. The lock is already held.
type txView struct {
	st *state
}

func (v *txView) SumTransactions(_ context.Context, users []incentive.UserID, types []incentive.TransactionType, from, to time.Time) (decimal.Decimal, error) {
	return v.st.sumTransactions(users, types, from, to), nil
}

func (v *txView) SumTradeVolume(_ context.Context, logins []incentive.MetaLogin, from, to time.Time) (decimal.Decimal, error) {
	return v.st.sumTradeVolume(logins, from, to), nil
}

func (v *txView) TradingAccounts(_ context.Context, users []incentive.UserID) ([]incentive.MetaLogin, error) {
	return v.st.tradingAccounts(users), nil
}

func (v *txView) Descendants(_ context.Context, user incentive.UserID) ([]incentive.UserID, error) {
	return v.st.descendants(user), nil
}

func (v *txView) GetProfile(_ context.Context, id incentive.ProfileID) (*incentive.Profile, error) {
	return v.st.getProfile(id)
}

func (v *txView) ListProfiles(_ context.Context, filter incentive.ProfileFilter) ([]incentive.Profile, error) {
	return v.st.listProfiles(filter), nil
}

func (v *txView) DueProfiles(_ context.Context, asOf time.Time) ([]incentive.Profile, error) {
	return v.st.dueProfiles(asOf), nil
}

func (v *txView) UpdateProfileSchedule(_ context.Context, id incentive.ProfileID, last, next, updatedAt time.Time) error {
	return v.st.updateSchedule(id, last, next, updatedAt)
}

func (v *txView) CreateBonusRecord(_ context.Context, rec incentive.BonusRecord) error {
	return v.st.createBonusRecord(rec)
}

func (v *txView) GetWallet(_ context.Context, user incentive.UserID, category string) (*incentive.Wallet, error) {
	return v.st.getWallet(user, category)
}

func (v *txView) UpdateWalletBalance(_ context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	return v.st.updateWalletBalance(walletID, balance, at)
}

func (v *txView) AppendTransaction(_ context.Context, tx incentive.Transaction) error {
	return v.st.appendTransaction(tx)
}

// =============================================================================
// incentive.Store on the live state
// =============================================================================

func (m *Memory) SumTransactions(_ context.Context, users []incentive.UserID, types []incentive.TransactionType, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.sumTransactions(users, types, from, to), nil
}

func (m *Memory) SumTradeVolume(_ context.Context, logins []incentive.MetaLogin, from, to time.Time) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.sumTradeVolume(logins, from, to), nil
}

func (m *Memory) TradingAccounts(_ context.Context, users []incentive.UserID) ([]incentive.MetaLogin, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.tradingAccounts(users), nil
}

func (m *Memory) Descendants(_ context.Context, user incentive.UserID) ([]incentive.UserID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.descendants(user), nil
}

func (m *Memory) GetProfile(_ context.Context, id incentive.ProfileID) (*incentive.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getProfile(id)
}

func (m *Memory) ListProfiles(_ context.Context, filter incentive.ProfileFilter) ([]incentive.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.listProfiles(filter), nil
}

func (m *Memory) DueProfiles(_ context.Context, asOf time.Time) ([]incentive.Profile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.dueProfiles(asOf), nil
}

func (m *Memory) UpdateProfileSchedule(_ context.Context, id incentive.ProfileID, last, next, updatedAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateSchedule(id, last, next, updatedAt)
}

func (m *Memory) CreateBonusRecord(_ context.Context, rec incentive.BonusRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.createBonusRecord(rec)
}

func (m *Memory) GetWallet(_ context.Context, user incentive.UserID, category string) (*incentive.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.st.getWallet(user, category)
}

func (m *Memory) UpdateWalletBalance(_ context.Context, walletID string, balance decimal.Decimal, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.updateWalletBalance(walletID, balance, at)
}

func (m *Memory) AppendTransaction(_ context.Context, tx incentive.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.st.appendTransaction(tx)
}

// =============================================================================
// incentive.AdminStore
// =============================================================================

func (m *Memory) CreateUser(_ context.Context, u incentive.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.users[u.ID]; ok {
		return fmt.Errorf("user %s: %w", u.ID, incentive.ErrDuplicateID)
	}
	if u.UplineID != "" {
		if _, ok := m.st.users[u.UplineID]; !ok {
			return fmt.Errorf("upline %s: %w", u.UplineID, incentive.ErrUserNotFound)
		}
	}
	m.st.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id incentive.UserID) (*incentive.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	u, ok := m.st.users[id]
	if !ok {
		return nil, fmt.Errorf("user %s: %w", id, incentive.ErrUserNotFound)
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]incentive.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]incentive.User, 0, len(m.st.users))
	for _, u := range m.st.users {
		result = append(result, u)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SetUpline(_ context.Context, user, upline incentive.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.st.users[user]
	if !ok {
		return fmt.Errorf("user %s: %w", user, incentive.ErrUserNotFound)
	}
	if upline != "" {
		if _, ok := m.st.users[upline]; !ok {
			return fmt.Errorf("upline %s: %w", upline, incentive.ErrUserNotFound)
		}
		// Walking up from the new upline must never reach user.
		for cur := upline; cur != ""; cur = m.st.users[cur].UplineID {
			if cur == user {
				return fmt.Errorf("%s below %s: %w", user, upline, incentive.ErrHierarchyCycle)
			}
		}
	}
	u.UplineID = upline
	m.st.users[user] = u
	return nil
}

func (m *Memory) SaveProfile(_ context.Context, p incentive.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.users[p.UserID]; !ok {
		return fmt.Errorf("user %s: %w", p.UserID, incentive.ErrUserNotFound)
	}
	m.st.profiles[p.ID] = p
	return nil
}

func (m *Memory) DeleteProfile(_ context.Context, id incentive.ProfileID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.profiles[id]; !ok {
		return fmt.Errorf("profile %s: %w", id, incentive.ErrProfileNotFound)
	}
	delete(m.st.profiles, id)
	return nil
}

func (m *Memory) ListBonusRecords(_ context.Context, profile incentive.ProfileID) ([]incentive.BonusRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []incentive.BonusRecord
	for _, r := range m.st.records {
		if profile == "" || r.ProfileID == profile {
			result = append(result, r)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].PeriodStart.Before(result[j].PeriodStart) })
	return result, nil
}

func (m *Memory) CreateWallet(_ context.Context, w incentive.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.wallets[w.ID]; ok {
		return fmt.Errorf("wallet %s: %w", w.ID, incentive.ErrDuplicateID)
	}
	if _, err := m.st.getWallet(w.UserID, w.Category); err == nil {
		return fmt.Errorf("wallet %s/%s: %w", w.UserID, w.Category, incentive.ErrDuplicateID)
	}
	m.st.wallets[w.ID] = w
	return nil
}

func (m *Memory) ListWallets(_ context.Context, user incentive.UserID) ([]incentive.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []incentive.Wallet
	for _, w := range m.st.wallets {
		if w.UserID == user {
			result = append(result, w)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Category < result[j].Category })
	return result, nil
}

func (m *Memory) ListTransactions(_ context.Context, user incentive.UserID, from, to time.Time) ([]incentive.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []incentive.Transaction
	for _, tx := range m.st.transactions {
		if tx.UserID == user && inRange(tx.TransactionAt, from, to) {
			result = append(result, tx)
		}
	}
	return result, nil
}

func (m *Memory) AddTradingAccount(_ context.Context, a incentive.TradingAccount) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.accounts[a.MetaLogin]; ok {
		return fmt.Errorf("trading account %s: %w", a.MetaLogin, incentive.ErrDuplicateID)
	}
	if _, ok := m.st.users[a.UserID]; !ok {
		return fmt.Errorf("user %s: %w", a.UserID, incentive.ErrUserNotFound)
	}
	m.st.accounts[a.MetaLogin] = a
	return nil
}

func (m *Memory) AddTrade(_ context.Context, t incentive.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.st.accounts[t.MetaLogin]; !ok {
		return fmt.Errorf("trading account %s: not found", t.MetaLogin)
	}
	m.st.trades = append(m.st.trades, t)
	return nil
}

func (m *Memory) SaveRun(_ context.Context, r incentive.RunRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.runs = append(m.st.runs, r)
	return nil
}

// ListRuns returns the most recent runs first.
func (m *Memory) ListRuns(_ context.Context, limit int) ([]incentive.RunRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]incentive.RunRecord, 0, len(m.st.runs))
	for i := len(m.st.runs) - 1; i >= 0; i-- {
		result = append(result, m.st.runs[i])
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

// =============================================================================
// STATE OPERATIONS - Callers hold the lock
// =============================================================================

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}

func (s *state) sumTransactions(users []incentive.UserID, types []incentive.TransactionType, from, to time.Time) decimal.Decimal {
	userSet := make(map[incentive.UserID]bool, len(users))
	for _, u := range users {
		userSet[u] = true
	}
	typeSet := make(map[incentive.TransactionType]bool, len(types))
	for _, t := range types {
		typeSet[t] = true
	}

	total := decimal.Zero
	for _, tx := range s.transactions {
		if tx.Status != incentive.StatusSuccessful || !userSet[tx.UserID] || !typeSet[tx.Type] {
			continue
		}
		if inRange(tx.TransactionAt, from, to) {
			total = total.Add(tx.Amount)
		}
	}
	return total
}

func (s *state) sumTradeVolume(logins []incentive.MetaLogin, from, to time.Time) decimal.Decimal {
	loginSet := make(map[incentive.MetaLogin]bool, len(logins))
	for _, l := range logins {
		loginSet[l] = true
	}
	total := decimal.Zero
	for _, t := range s.trades {
		if loginSet[t.MetaLogin] && inRange(t.ClosedAt, from, to) {
			total = total.Add(t.Volume)
		}
	}
	return total
}

func (s *state) tradingAccounts(users []incentive.UserID) []incentive.MetaLogin {
	userSet := make(map[incentive.UserID]bool, len(users))
	for _, u := range users {
		userSet[u] = true
	}
	var result []incentive.MetaLogin
	for login, a := range s.accounts {
		if userSet[a.UserID] {
			result = append(result, login)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (s *state) descendants(user incentive.UserID) []incentive.UserID {
	children := make(map[incentive.UserID][]incentive.UserID)
	for _, u := range s.users {
		if u.UplineID != "" {
			children[u.UplineID] = append(children[u.UplineID], u.ID)
		}
	}

	var result []incentive.UserID
	queue := append([]incentive.UserID{}, children[user]...)
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		result = append(result, next)
		queue = append(queue, children[next]...)
	}
	sort.Slice(result, func(i, j int) bool { return result[i] < result[j] })
	return result
}

func (s *state) getProfile(id incentive.ProfileID) (*incentive.Profile, error) {
	p, ok := s.profiles[id]
	if !ok {
		return nil, fmt.Errorf("profile %s: %w", id, incentive.ErrProfileNotFound)
	}
	return &p, nil
}

func (s *state) listProfiles(filter incentive.ProfileFilter) []incentive.Profile {
	var result []incentive.Profile
	for _, p := range s.profiles {
		if filter.Match(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result
}

func (s *state) dueProfiles(asOf time.Time) []incentive.Profile {
	var result []incentive.Profile
	for _, p := range s.profiles {
		if !p.NextPayoutDate.After(asOf) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].NextPayoutDate.Equal(result[j].NextPayoutDate) {
			return result[i].NextPayoutDate.Before(result[j].NextPayoutDate)
		}
		return result[i].ID < result[j].ID
	})
	return result
}

func (s *state) updateSchedule(id incentive.ProfileID, last, next, updatedAt time.Time) error {
	p, ok := s.profiles[id]
	if !ok {
		return fmt.Errorf("profile %s: %w", id, incentive.ErrProfileNotFound)
	}
	p.LastPayoutDate = last
	p.NextPayoutDate = next
	p.UpdatedAt = updatedAt
	s.profiles[id] = p
	return nil
}

func (s *state) createBonusRecord(rec incentive.BonusRecord) error {
	k := windowKey{ProfileID: rec.ProfileID, Start: rec.PeriodStart.UTC(), End: rec.PeriodEnd.UTC()}
	if s.booked[k] {
		return fmt.Errorf("profile %s window %s - %s: %w", rec.ProfileID,
			rec.PeriodStart.Format(time.DateTime), rec.PeriodEnd.Format(time.DateTime), incentive.ErrDuplicateBonus)
	}
	s.booked[k] = true
	s.records = append(s.records, rec)
	return nil
}

func (s *state) getWallet(user incentive.UserID, category string) (*incentive.Wallet, error) {
	for _, w := range s.wallets {
		if w.UserID == user && w.Category == category {
			return &w, nil
		}
	}
	return nil, incentive.ErrWalletNotFound
}

func (s *state) updateWalletBalance(walletID string, balance decimal.Decimal, at time.Time) error {
	w, ok := s.wallets[walletID]
	if !ok {
		return fmt.Errorf("wallet %s: %w", walletID, incentive.ErrWalletNotFound)
	}
	w.Balance = balance
	w.UpdatedAt = at
	s.wallets[walletID] = w
	return nil
}

func (s *state) appendTransaction(tx incentive.Transaction) error {
	for _, existing := range s.transactions {
		if existing.ID == tx.ID {
			return fmt.Errorf("transaction %s: %w", tx.ID, incentive.ErrDuplicateID)
		}
	}
	s.transactions = append(s.transactions, tx)
	return nil
}
