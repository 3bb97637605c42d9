/*
handlers.go - HTTP API handlers for the incentive engine

PURPOSE:
  Exposes the incentive engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users and hierarchy:
    GET    /api/users                          List users
    POST   /api/users                          Create user (optionally below an upline)
    GET    /api/users/{id}                     Get user
    PUT    /api/users/{id}/upline              Move user and subtree below another upline
    GET    /api/users/{id}/descendants         Every user below id

  Sales history:
    GET    /api/users/{id}/transactions        Ledger rows (?from=&to=)
    POST   /api/users/{id}/transactions        Record a deposit, withdrawal, ...
    POST   /api/users/{id}/trading-accounts    Link a meta login
    POST   /api/trades                         Record a closed trade

  Wallets:
    GET    /api/users/{id}/wallets             Wallets of a user
    POST   /api/users/{id}/wallets             Open a wallet (default: bonus wallet)

  Profiles:
    GET    /api/profiles                       List (?user_id=&mode=&category=)
    POST   /api/profiles                       Create from JSON
    GET    /api/profiles/{id}                  Get profile
    DELETE /api/profiles/{id}                  Delete profile (records are kept)
    GET    /api/profiles/{id}/evaluation       Live evaluation (?as_of=)
    GET    /api/profiles/{id}/bonus-records    Payout history

  Report and batch:
    GET    /api/report                         Ranked live report
    POST   /api/batch/run                      Run the batch now ({"as_of": ...})
    GET    /api/batch/runs                     Run history (?limit=)

  Admin:
    PUT    /api/admin/log-level                Change the log level ({"level": "debug"})

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, invalid input or report query
  - 404: Resource not found
  - 409: Conflict (duplicate id, duplicate bonus window, hierarchy cycle)
  - 422: Profile that cannot be evaluated as configured
  - 500: Internal errors

SECURITY NOTE:
  No authentication or authorization. Run behind the back office gateway.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/warp/incentive-engine/factory"
	"github.com/warp/incentive-engine/incentive"
	"github.com/warp/incentive-engine/internal/logging"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store          incentive.Backend
	Profiles       *factory.ProfileFactory
	Scheduler      *BatchScheduler
	Log            *logging.Logger
	Clock          incentive.Clock
	Location       *time.Location
	WalletCategory string

	validate *validator.Validate

	mu              sync.Mutex
	currentScenario string
}

// NewHandler creates a new handler with dependencies.
func NewHandler(store incentive.Backend, scheduler *BatchScheduler, log *logging.Logger) *Handler {
	if log == nil {
		log = logging.NewNop()
	}
	return &Handler{
		Store:          store,
		Profiles:       factory.NewProfileFactory(),
		Scheduler:      scheduler,
		Log:            log.Named("api"),
		Clock:          incentive.SystemClock,
		Location:       time.UTC,
		WalletCategory: incentive.DefaultWalletCategory,
		validate:       validator.New(),
	}
}

func (h *Handler) now() time.Time {
	return h.Clock().In(h.Location)
}

// =============================================================================
// USER ENDPOINTS
// =============================================================================

// ListUsers returns all users.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Store.ListUsers(r.Context())
	if err != nil {
		h.writeDomainError(w, "Failed to list users", err)
		return
	}
	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u, h.Location))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser creates a user, linked below upline_id when given.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if !h.decode(w, r, &req) {
		return
	}
	role := incentive.Role(req.Role)
	if role == "" {
		role = incentive.RoleMember
	}
	u := incentive.User{
		ID:        incentive.UserID(req.ID),
		Name:      req.Name,
		Email:     req.Email,
		Role:      role,
		UplineID:  incentive.UserID(req.UplineID),
		CreatedAt: h.now(),
	}
	if err := h.Store.CreateUser(r.Context(), u); err != nil {
		h.writeDomainError(w, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(u, h.Location))
}

// GetUser returns a single user.
// GET /api/users/{id}
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	u, err := h.Store.GetUser(r.Context(), incentive.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u, h.Location))
}

// SetUpline moves a user and its subtree. An empty upline_id makes it a root.
// PUT /api/users/{id}/upline
func (h *Handler) SetUpline(w http.ResponseWriter, r *http.Request) {
	var req SetUplineRequest
	if !h.decode(w, r, &req) {
		return
	}
	id := incentive.UserID(chi.URLParam(r, "id"))
	if err := h.Store.SetUpline(r.Context(), id, incentive.UserID(req.UplineID)); err != nil {
		h.writeDomainError(w, "Failed to set upline", err)
		return
	}
	u, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to get user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*u, h.Location))
}

// GetDescendants returns the group of a user.
// GET /api/users/{id}/descendants
func (h *Handler) GetDescendants(w http.ResponseWriter, r *http.Request) {
	id := incentive.UserID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetUser(r.Context(), id); err != nil {
		h.writeDomainError(w, "Failed to get user", err)
		return
	}
	ids, err := h.Store.Descendants(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, "Failed to load descendants", err)
		return
	}
	dto := DescendantsDTO{UserID: string(id), Descendants: make([]string, 0, len(ids))}
	for _, d := range ids {
		dto.Descendants = append(dto.Descendants, string(d))
	}
	writeJSON(w, http.StatusOK, dto)
}

// =============================================================================
// SALES HISTORY ENDPOINTS
// =============================================================================

// ListTransactions returns the ledger rows of a user.
// GET /api/users/{id}/transactions?from=&to=
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	from, err := h.parseTime(r, "from", time.Time{})
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid from", err)
		return
	}
	to, err := h.parseTime(r, "to", h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid to", err)
		return
	}

	txs, err := h.Store.ListTransactions(r.Context(), incentive.UserID(chi.URLParam(r, "id")), from, to)
	if err != nil {
		h.writeDomainError(w, "Failed to list transactions", err)
		return
	}
	dtos := make([]TransactionDTO, 0, len(txs))
	for _, tx := range txs {
		dtos = append(dtos, toTransactionDTO(tx, h.Location))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateTransaction records a sales transaction for a user.
// POST /api/users/{id}/transactions
func (h *Handler) CreateTransaction(w http.ResponseWriter, r *http.Request) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.TransactionAt.IsZero() {
		writeError(w, http.StatusBadRequest, "transaction_at is required", nil)
		return
	}
	if !req.Amount.IsPositive() {
		writeError(w, http.StatusBadRequest, "amount must be positive", nil)
		return
	}

	user := incentive.UserID(chi.URLParam(r, "id"))
	if _, err := h.Store.GetUser(r.Context(), user); err != nil {
		h.writeDomainError(w, "Failed to get user", err)
		return
	}

	status := incentive.TransactionStatus(req.Status)
	if status == "" {
		status = incentive.StatusSuccessful
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	tx := incentive.Transaction{
		ID:            id,
		UserID:        user,
		Type:          incentive.TransactionType(req.Type),
		Amount:        req.Amount,
		Status:        status,
		TransactionAt: req.TransactionAt.Truncate(time.Second),
		CreatedAt:     h.now(),
	}
	if err := h.Store.AppendTransaction(r.Context(), tx); err != nil {
		h.writeDomainError(w, "Failed to record transaction", err)
		return
	}
	writeJSON(w, http.StatusCreated, toTransactionDTO(tx, h.Location))
}

// CreateTradingAccount links a meta login to a user.
// POST /api/users/{id}/trading-accounts
func (h *Handler) CreateTradingAccount(w http.ResponseWriter, r *http.Request) {
	var req CreateTradingAccountRequest
	if !h.decode(w, r, &req) {
		return
	}
	a := incentive.TradingAccount{
		MetaLogin: incentive.MetaLogin(req.MetaLogin),
		UserID:    incentive.UserID(chi.URLParam(r, "id")),
		CreatedAt: h.now(),
	}
	if err := h.Store.AddTradingAccount(r.Context(), a); err != nil {
		h.writeDomainError(w, "Failed to create trading account", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{
		"meta_login": string(a.MetaLogin),
		"user_id":    string(a.UserID),
	})
}

// CreateTrade records a closed trade.
// POST /api/trades
func (h *Handler) CreateTrade(w http.ResponseWriter, r *http.Request) {
	var req CreateTradeRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.ClosedAt.IsZero() {
		writeError(w, http.StatusBadRequest, "closed_at is required", nil)
		return
	}
	if !req.Volume.IsPositive() {
		writeError(w, http.StatusBadRequest, "volume must be positive", nil)
		return
	}
	id := req.ID
	if id == "" {
		id = uuid.NewString()
	}
	t := incentive.Trade{
		ID:        id,
		MetaLogin: incentive.MetaLogin(req.MetaLogin),
		Volume:    req.Volume,
		ClosedAt:  req.ClosedAt.Truncate(time.Second),
	}
	if err := h.Store.AddTrade(r.Context(), t); err != nil {
		h.writeDomainError(w, "Failed to record trade", err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":         t.ID,
		"meta_login": string(t.MetaLogin),
		"volume":     t.Volume,
		"closed_at":  fmtTime(t.ClosedAt, h.Location),
	})
}

// =============================================================================
// WALLET ENDPOINTS
// =============================================================================

// ListWallets returns the wallets of a user.
// GET /api/users/{id}/wallets
func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.Store.ListWallets(r.Context(), incentive.UserID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to list wallets", err)
		return
	}
	dtos := make([]WalletDTO, 0, len(wallets))
	for _, wl := range wallets {
		dtos = append(dtos, toWalletDTO(wl, h.Location))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateWallet opens a wallet. Category defaults to the bonus wallet.
// POST /api/users/{id}/wallets
func (h *Handler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req CreateWalletRequest
	if !h.decode(w, r, &req) {
		return
	}
	if req.Category == "" {
		req.Category = h.WalletCategory
	}
	if req.Balance.IsNegative() {
		writeError(w, http.StatusBadRequest, "balance must not be negative", nil)
		return
	}
	now := h.now()
	wl := incentive.Wallet{
		ID:        uuid.NewString(),
		UserID:    incentive.UserID(chi.URLParam(r, "id")),
		Category:  req.Category,
		Balance:   req.Balance,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := h.Store.CreateWallet(r.Context(), wl); err != nil {
		h.writeDomainError(w, "Failed to create wallet", err)
		return
	}
	writeJSON(w, http.StatusCreated, toWalletDTO(wl, h.Location))
}

// =============================================================================
// PROFILE ENDPOINTS
// =============================================================================

// ListProfiles returns the profiles matching the query filter.
// GET /api/profiles?user_id=&mode=&category=
func (h *Handler) ListProfiles(w http.ResponseWriter, r *http.Request) {
	profiles, err := h.Store.ListProfiles(r.Context(), profileFilter(r))
	if err != nil {
		h.writeDomainError(w, "Failed to list profiles", err)
		return
	}
	dtos := make([]factory.ProfileJSON, 0, len(profiles))
	for _, p := range profiles {
		dtos = append(dtos, factory.ToJSON(p.In(h.Location)))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProfile creates a profile from JSON. The initial schedule is derived
// from the creation instant.
// POST /api/profiles
func (h *Handler) CreateProfile(w http.ResponseWriter, r *http.Request) {
	var in factory.ProfileJSON
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return
	}
	p, err := h.Profiles.Build(in, h.now())
	if err != nil {
		h.writeDomainError(w, "Invalid profile", err)
		return
	}
	if in.ID != "" {
		if _, err := h.Store.GetProfile(r.Context(), p.ID); err == nil {
			writeError(w, http.StatusConflict, "Profile already exists", fmt.Errorf("profile %s: %w", p.ID, incentive.ErrDuplicateID))
			return
		}
	}
	if err := h.Store.SaveProfile(r.Context(), p); err != nil {
		h.writeDomainError(w, "Failed to save profile", err)
		return
	}
	h.Log.Info("profile created",
		zap.String("profile_id", string(p.ID)),
		zap.String("user_id", string(p.UserID)),
		zap.Time("next_payout_date", p.NextPayoutDate))
	writeJSON(w, http.StatusCreated, factory.ToJSON(p))
}

// GetProfile returns a single profile.
// GET /api/profiles/{id}
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProfile(r.Context(), incentive.ProfileID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get profile", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ToJSON(p.In(h.Location)))
}

// DeleteProfile removes a profile. Its bonus records stay.
// DELETE /api/profiles/{id}
func (h *Handler) DeleteProfile(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteProfile(r.Context(), incentive.ProfileID(chi.URLParam(r, "id"))); err != nil {
		h.writeDomainError(w, "Failed to delete profile", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// EvaluateProfile evaluates a profile without writing anything.
// GET /api/profiles/{id}/evaluation?as_of=
func (h *Handler) EvaluateProfile(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.parseTime(r, "as_of", h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	p, err := h.Store.GetProfile(r.Context(), incentive.ProfileID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to get profile", err)
		return
	}
	res, err := incentive.Evaluate(r.Context(), h.Store, p.In(h.Location), asOf)
	if err != nil {
		h.writeDomainError(w, "Failed to evaluate profile", err)
		return
	}
	writeJSON(w, http.StatusOK, toResultDTO(*res, h.Location))
}

// ListBonusRecords returns the payout history of a profile.
// GET /api/profiles/{id}/bonus-records
func (h *Handler) ListBonusRecords(w http.ResponseWriter, r *http.Request) {
	records, err := h.Store.ListBonusRecords(r.Context(), incentive.ProfileID(chi.URLParam(r, "id")))
	if err != nil {
		h.writeDomainError(w, "Failed to list bonus records", err)
		return
	}
	dtos := make([]BonusRecordDTO, 0, len(records))
	for _, rec := range records {
		dtos = append(dtos, toBonusRecordDTO(rec, h.Location))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REPORT AND BATCH ENDPOINTS
// =============================================================================

// GetReport returns the ranked live report.
// GET /api/report?as_of=&sort_by=&page=&per_page=&user_id=&mode=&category=
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	asOf, err := h.parseTime(r, "as_of", h.now())
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid as_of", err)
		return
	}
	page, err := queryInt(r, "page")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid page", err)
		return
	}
	perPage, err := queryInt(r, "per_page")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid per_page", err)
		return
	}

	report, err := incentive.BuildReport(r.Context(), h.Store, asOf, incentive.ReportQuery{
		Filter:  profileFilter(r),
		SortBy:  incentive.SortField(r.URL.Query().Get("sort_by")),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		h.writeDomainError(w, "Failed to build report", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report, h.Location))
}

// RunBatch runs the due-profile batch now.
// POST /api/batch/run  {"as_of": "2026-03-08T00:00:00Z"} (optional)
func (h *Handler) RunBatch(w http.ResponseWriter, r *http.Request) {
	var req RunBatchRequest
	if r.ContentLength != 0 {
		if !h.decode(w, r, &req) {
			return
		}
	}
	asOf := h.now()
	if req.AsOf != nil {
		asOf = req.AsOf.In(h.Location)
	}

	summary, record, err := h.Scheduler.RunOnce(r.Context(), asOf)
	if err != nil && summary == nil {
		writeError(w, http.StatusInternalServerError, "Batch run failed", err)
		return
	}
	if err != nil {
		h.Log.Error("batch ran but was not recorded", zap.Error(err))
	}
	writeJSON(w, http.StatusOK, toRunDTO(record, summary.Outcomes, h.Location))
}

// ListRuns returns recent batch runs.
// GET /api/batch/runs?limit=
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	if limit == 0 {
		limit = 50
	}
	runs, err := h.Store.ListRuns(r.Context(), limit)
	if err != nil {
		h.writeDomainError(w, "Failed to list runs", err)
		return
	}
	dtos := make([]RunDTO, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, toRunDTO(run, nil, h.Location))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// Health reports liveness.
// GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{Status: "ok"}
	if h.Scheduler != nil && h.Scheduler.Enabled {
		resp.NextBatchCheck = fmtTime(h.Scheduler.NextRunTime(), h.Location)
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetLogLevel changes the level of every logger derived from the root one.
func (h *Handler) SetLogLevel(w http.ResponseWriter, r *http.Request) {
	var req LogLevelRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.Log.SetLevel(req.Level); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid level", err)
		return
	}
	h.Log.Warn("log level changed", zap.String("level", req.Level))
	writeJSON(w, http.StatusOK, LogLevelRequest{Level: req.Level})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses.
func (h *Handler) writeDomainError(w http.ResponseWriter, message string, err error) {
	var verr *factory.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: message, Details: verr.Fields})
	case errors.Is(err, incentive.ErrInvalidReportQuery):
		writeError(w, http.StatusBadRequest, message, err)
	case incentive.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case incentive.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case incentive.IsConfigError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		h.Log.Error(message, zap.Error(err))
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

// decode reads a JSON body into v and validates its struct tags. It writes
// the 400 response itself and reports whether the handler may continue.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON", err)
		return false
	}
	if err := h.validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]factory.FieldError, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, factory.FieldError{Field: fe.Field(), Rule: fe.Tag()})
			}
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "Validation failed", Details: fields})
			return false
		}
		writeError(w, http.StatusBadRequest, "Validation failed", err)
		return false
	}
	return true
}

// parseTime reads an RFC3339 instant or a YYYY-MM-DD date (midnight in the
// engine location) from the query string.
func (h *Handler) parseTime(r *http.Request, key string, def time.Time) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t.In(h.Location), nil
	}
	t, err := time.ParseInLocation(time.DateOnly, v, h.Location)
	if err != nil {
		return time.Time{}, fmt.Errorf("%s: expected RFC3339 or YYYY-MM-DD, got %q", key, v)
	}
	return t, nil
}

func queryInt(r *http.Request, key string) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s: expected a non-negative integer, got %q", key, v)
	}
	return n, nil
}

func profileFilter(r *http.Request) incentive.ProfileFilter {
	q := r.URL.Query()
	return incentive.ProfileFilter{
		UserID:   incentive.UserID(q.Get("user_id")),
		Mode:     incentive.CalculationMode(q.Get("mode")),
		Category: incentive.SalesCategory(q.Get("category")),
	}
}
