/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:
  Provides pre-built scenarios that populate the store with realistic data
  for demos. Each scenario creates users, a referral hierarchy, wallets,
  sales history and incentive profiles that demonstrate specific outcomes.

AVAILABLE SCENARIOS:
  agency:  One agent with a three level downline. Every category and mode,
           one profile whose owner has no bonus wallet (unpaid outcome).
  empty:   Reset only.

HOW SCENARIOS WORK:
 1. Reset store (clear all data)
 2. Create users top-down so uplines exist
 3. Open wallets and trading accounts
 4. Record sales over the fourteen days before now
 5. Create profiles as of fourteen days ago, so weekly ones are already due

USAGE VIA API:
  POST /api/scenarios/load
  {"scenario_id": "agency"}

NOTE:
  Scenarios reset the store. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: seed command
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "agency",
		Name:        "Agency",
		Description: "Agent with a three level downline, deposits, withdrawals and trades over two weeks",
	},
	{
		ID:          "empty",
		Name:        "Empty",
		Description: "No data",
	},
}

// ListScenarios returns available scenarios.
// GET /api/scenarios
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
// GET /api/scenarios/current
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	current := h.currentScenario
	h.mu.Unlock()

	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario resets the store and loads a predefined scenario.
// POST /api/scenarios/load
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if !h.decode(w, r, &req) {
		return
	}
	if !knownScenario(req.ScenarioID) {
		writeError(w, http.StatusBadRequest, "Unknown scenario", fmt.Errorf("scenario %q", req.ScenarioID))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.currentScenario = ""
	if err := Seed(r.Context(), h.Store, h.Profiles, req.ScenarioID, h.now(), h.WalletCategory); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}
	h.currentScenario = req.ScenarioID
	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))

	writeJSON(w, http.StatusOK, map[string]string{"status": "loaded", "scenario": req.ScenarioID})
}

func knownScenario(id string) bool {
	for _, s := range scenarios {
		if s.ID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

// Seed resets b and loads scenario id relative to now.
func Seed(ctx context.Context, b incentive.Backend, f *factory.ProfileFactory, id string, now time.Time, walletCategory string) error {
	if !knownScenario(id) {
		return fmt.Errorf("unknown scenario %q", id)
	}
	if err := b.Reset(ctx); err != nil {
		return fmt.Errorf("reset: %w", err)
	}
	if f == nil {
		f = factory.NewProfileFactory()
	}
	if walletCategory == "" {
		walletCategory = incentive.DefaultWalletCategory
	}

	switch id {
	case "agency":
		return loadAgencyScenario(ctx, b, f, now.Truncate(time.Second), walletCategory)
	default:
		return nil
	}
}

// loadAgencyScenario builds:
//
//	agent-1
//	├── member-1
//	│   └── member-3
//	└── member-2 (no bonus wallet)
func loadAgencyScenario(ctx context.Context, b incentive.Backend, f *factory.ProfileFactory, now time.Time, walletCategory string) error {
	created := now.AddDate(0, 0, -14)

	users := []incentive.User{
		{ID: "agent-1", Name: "Amara Okafor", Email: "amara@example.com", Role: incentive.RoleAgent},
		{ID: "member-1", Name: "Bao Tran", Email: "bao@example.com", Role: incentive.RoleMember, UplineID: "agent-1"},
		{ID: "member-2", Name: "Chidi Eze", Email: "chidi@example.com", Role: incentive.RoleMember, UplineID: "agent-1"},
		{ID: "member-3", Name: "Dana Levi", Email: "dana@example.com", Role: incentive.RoleMember, UplineID: "member-1"},
	}
	for _, u := range users {
		u.CreatedAt = created
		if err := b.CreateUser(ctx, u); err != nil {
			return err
		}
	}

	for _, u := range []incentive.UserID{"agent-1", "member-1", "member-3"} {
		if err := b.CreateWallet(ctx, incentive.Wallet{
			ID:        "wallet-" + string(u),
			UserID:    u,
			Category:  walletCategory,
			Balance:   decimal.Zero,
			CreatedAt: created,
			UpdatedAt: created,
		}); err != nil {
			return err
		}
	}

	for _, a := range []incentive.TradingAccount{
		{MetaLogin: "mt5-10001", UserID: "member-3"},
		{MetaLogin: "mt5-10002", UserID: "member-3"},
	} {
		a.CreatedAt = created
		if err := b.AddTradingAccount(ctx, a); err != nil {
			return err
		}
	}

	type sale struct {
		user    incentive.UserID
		typ     incentive.TransactionType
		amount  string
		daysAgo int
		status  incentive.TransactionStatus
	}
	sales := []sale{
		{"agent-1", incentive.TxDeposit, "2500", 13, incentive.StatusSuccessful},
		{"member-1", incentive.TxDeposit, "1200", 12, incentive.StatusSuccessful},
		{"member-1", incentive.TxBalanceIn, "300", 9, incentive.StatusSuccessful},
		{"member-1", incentive.TxWithdrawal, "400", 5, incentive.StatusSuccessful},
		{"member-1", incentive.TxDeposit, "900", 3, incentive.StatusPending},
		{"member-2", incentive.TxDeposit, "5000", 11, incentive.StatusSuccessful},
		{"member-2", incentive.TxDeposit, "700", 4, incentive.StatusSuccessful},
		{"member-3", incentive.TxDeposit, "800", 10, incentive.StatusSuccessful},
		{"member-3", incentive.TxRebateOut, "50", 6, incentive.StatusSuccessful},
		{"member-3", incentive.TxWithdrawal, "2000", 2, incentive.StatusRejected},
	}
	for i, s := range sales {
		at := now.AddDate(0, 0, -s.daysAgo)
		if err := b.AppendTransaction(ctx, incentive.Transaction{
			ID:            fmt.Sprintf("seed-tx-%02d", i+1),
			UserID:        s.user,
			Type:          s.typ,
			Amount:        decimal.RequireFromString(s.amount),
			Status:        s.status,
			TransactionAt: at,
			CreatedAt:     at,
		}); err != nil {
			return err
		}
	}

	trades := []incentive.Trade{
		{ID: "seed-trade-1", MetaLogin: "mt5-10001", Volume: decimal.RequireFromString("12.5")},
		{ID: "seed-trade-2", MetaLogin: "mt5-10001", Volume: decimal.RequireFromString("30")},
		{ID: "seed-trade-3", MetaLogin: "mt5-10002", Volume: decimal.RequireFromString("45.25")},
	}
	for i, t := range trades {
		t.ClosedAt = now.AddDate(0, 0, -(12 - 4*i))
		if err := b.AddTrade(ctx, t); err != nil {
			return err
		}
	}

	profiles := []factory.ProfileJSON{
		{
			ID: "inc-agent-1-group-net", UserID: "agent-1",
			Mode: "group", Category: "net_deposit",
			TargetAmount: "8000", IncentiveRate: "2", CalculationThreshold: "50",
			Period: "weekly_sunday",
		},
		{
			ID: "inc-member-1-gross", UserID: "member-1",
			Mode: "personal", Category: "gross_deposit",
			TargetAmount: "1000", IncentiveRate: "5", CalculationThreshold: "80",
			Period: "weekly_sunday",
		},
		{
			ID: "inc-member-2-gross", UserID: "member-2",
			Mode: "personal", Category: "gross_deposit",
			TargetAmount: "3000", IncentiveRate: "3", CalculationThreshold: "100",
			Period: "weekly_sunday",
		},
		{
			ID: "inc-member-3-biweekly", UserID: "member-3",
			Mode: "personal", Category: "net_deposit",
			TargetAmount: "500", IncentiveRate: "4", CalculationThreshold: "100",
			Period: "biweekly_second_sunday",
		},
		{
			ID: "inc-member-3-volume", UserID: "member-3",
			Mode: "personal", Category: "trade_volume",
			TargetAmount: "80", IncentiveRate: "200", CalculationThreshold: "75",
			Period: "monthly_default",
		},
		{
			ID: "inc-member-1-group-first-sunday", UserID: "member-1",
			Mode: "group", Category: "net_deposit",
			TargetAmount: "0", IncentiveRate: "1", CalculationThreshold: "0",
			Period: "monthly_first_sunday",
		},
	}
	for _, in := range profiles {
		p, err := f.Build(in, created)
		if err != nil {
			return fmt.Errorf("profile %s: %w", in.ID, err)
		}
		if err := b.SaveProfile(ctx, p); err != nil {
			return err
		}
	}
	return nil
}
