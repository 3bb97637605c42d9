/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

MONEY:
  Amounts are decimal.Decimal, serialized as JSON strings ("1200.5") so
  clients never round. Requests accept either numbers or strings.

TIMES:
  RFC3339 in the engine's configured location.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/profile.go: ProfileJSON type
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// USERS
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	UplineID  string `json:"upline_id,omitempty"`
	CreatedAt string `json:"created_at"`
}

type CreateUserRequest struct {
	ID       string `json:"id" validate:"required"`
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"omitempty,email"`
	Role     string `json:"role" validate:"omitempty,oneof=member agent"`
	UplineID string `json:"upline_id"`
}

type SetUplineRequest struct {
	UplineID string `json:"upline_id"`
}

type DescendantsDTO struct {
	UserID      string   `json:"user_id"`
	Descendants []string `json:"descendants"`
}

// =============================================================================
// SALES HISTORY
// =============================================================================

type TransactionDTO struct {
	ID            string           `json:"id"`
	UserID        string           `json:"user_id"`
	WalletID      string           `json:"wallet_id,omitempty"`
	Type          string           `json:"type"`
	Amount        decimal.Decimal  `json:"amount"`
	OldBalance    *decimal.Decimal `json:"old_balance,omitempty"`
	NewBalance    *decimal.Decimal `json:"new_balance,omitempty"`
	Status        string           `json:"status"`
	ReferenceID   string           `json:"reference_id,omitempty"`
	TransactionAt string           `json:"transaction_at"`
}

type CreateTransactionRequest struct {
	ID            string          `json:"id"`
	Type          string          `json:"type" validate:"required,oneof=deposit balance_in withdrawal balance_out rebate_out"`
	Amount        decimal.Decimal `json:"amount"`
	Status        string          `json:"status" validate:"omitempty,oneof=successful pending rejected"`
	TransactionAt time.Time       `json:"transaction_at"`
}

type CreateTradingAccountRequest struct {
	MetaLogin string `json:"meta_login" validate:"required"`
}

type CreateTradeRequest struct {
	ID        string          `json:"id"`
	MetaLogin string          `json:"meta_login" validate:"required"`
	Volume    decimal.Decimal `json:"volume"`
	ClosedAt  time.Time       `json:"closed_at"`
}

// =============================================================================
// WALLETS
// =============================================================================

type WalletDTO struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Category  string          `json:"category"`
	Balance   decimal.Decimal `json:"balance"`
	UpdatedAt string          `json:"updated_at"`
}

type CreateWalletRequest struct {
	Category string          `json:"category"`
	Balance  decimal.Decimal `json:"balance"`
}

// =============================================================================
// EVALUATION AND REPORT
// =============================================================================

type WindowDTO struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type ResultDTO struct {
	ProfileID            string          `json:"profile_id"`
	UserID               string          `json:"user_id"`
	Mode                 string          `json:"sales_calculation_mode"`
	Category             string          `json:"sales_category"`
	Period               string          `json:"calculation_period"`
	Window               WindowDTO       `json:"window"`
	Participants         int             `json:"participants"`
	TargetAmount         decimal.Decimal `json:"target_amount"`
	AchievedAmount       decimal.Decimal `json:"achieved_amount"`
	AchievedPercentage   decimal.Decimal `json:"achieved_percentage"`
	IncentiveRate        decimal.Decimal `json:"incentive_rate"`
	CalculationThreshold decimal.Decimal `json:"calculation_threshold"`
	IncentiveAmount      decimal.Decimal `json:"incentive_amount"`
	Qualified            bool            `json:"qualified"`
	TargetUndefined      bool            `json:"target_undefined,omitempty"`
}

type ReportRowDTO struct {
	Rank           int    `json:"rank"`
	NextPayoutDate string `json:"next_payout_date"`
	ResultDTO
}

type ReportErrorDTO struct {
	ProfileID string `json:"profile_id"`
	Error     string `json:"error"`
}

type ReportDTO struct {
	AsOf    string           `json:"as_of"`
	SortBy  string           `json:"sort_by"`
	Page    int              `json:"page"`
	PerPage int              `json:"per_page"`
	Total   int              `json:"total"`
	Rows    []ReportRowDTO   `json:"rows"`
	Errors  []ReportErrorDTO `json:"errors,omitempty"`
}

type BonusRecordDTO struct {
	ID                 string          `json:"id"`
	ProfileID          string          `json:"profile_id"`
	UserID             string          `json:"user_id"`
	TargetAmount       decimal.Decimal `json:"target_amount"`
	AchievedAmount     decimal.Decimal `json:"achieved_amount"`
	AchievedPercentage decimal.Decimal `json:"achieved_percentage"`
	IncentiveRate      decimal.Decimal `json:"incentive_rate"`
	IncentiveAmount    decimal.Decimal `json:"incentive_amount"`
	IncentiveMonth     string          `json:"incentive_month"`
	PeriodStart        string          `json:"period_start"`
	PeriodEnd          string          `json:"period_end"`
	PayoutStatus       string          `json:"payout_status"`
	CreatedAt          string          `json:"created_at"`
}

// =============================================================================
// BATCH
// =============================================================================

type RunBatchRequest struct {
	AsOf *time.Time `json:"as_of"`
}

type ProfileOutcomeDTO struct {
	ProfileID       string          `json:"profile_id"`
	UserID          string          `json:"user_id"`
	Outcome         string          `json:"outcome"`
	BonusRecordID   string          `json:"bonus_record_id,omitempty"`
	AchievedAmount  decimal.Decimal `json:"achieved_amount"`
	IncentiveAmount decimal.Decimal `json:"incentive_amount"`
	NextPayoutDate  string          `json:"next_payout_date,omitempty"`
	Error           string          `json:"error,omitempty"`
}

type RunDTO struct {
	ID          string              `json:"id"`
	AsOf        string              `json:"as_of"`
	Status      string              `json:"status"`
	Processed   int                 `json:"processed"`
	Paid        int                 `json:"paid"`
	PaidZero    int                 `json:"paid_zero"`
	Unpaid      int                 `json:"unpaid"`
	Skipped     int                 `json:"skipped"`
	Errors      []string            `json:"errors,omitempty"`
	StartedAt   string              `json:"started_at"`
	CompletedAt string              `json:"completed_at"`
	Outcomes    []ProfileOutcomeDTO `json:"outcomes,omitempty"`
}

// =============================================================================
// SCENARIOS AND ERRORS
// =============================================================================

type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id" validate:"required"`
}

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details any    `json:"details,omitempty"`
}

type HealthResponse struct {
	Status         string `json:"status"`
	NextBatchCheck string `json:"next_batch_check,omitempty"`
}

type LogLevelRequest struct {
	Level string `json:"level" validate:"required,oneof=debug info warn warning error"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

func fmtTime(t time.Time, loc *time.Location) string {
	if t.IsZero() {
		return ""
	}
	return t.In(loc).Format(time.RFC3339)
}

func toUserDTO(u incentive.User, loc *time.Location) UserDTO {
	return UserDTO{
		ID:        string(u.ID),
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		UplineID:  string(u.UplineID),
		CreatedAt: fmtTime(u.CreatedAt, loc),
	}
}

func toTransactionDTO(tx incentive.Transaction, loc *time.Location) TransactionDTO {
	dto := TransactionDTO{
		ID:            tx.ID,
		UserID:        string(tx.UserID),
		WalletID:      tx.WalletID,
		Type:          string(tx.Type),
		Amount:        tx.Amount,
		Status:        string(tx.Status),
		ReferenceID:   tx.ReferenceID,
		TransactionAt: fmtTime(tx.TransactionAt, loc),
	}
	if tx.WalletID != "" {
		oldBalance, newBalance := tx.OldBalance, tx.NewBalance
		dto.OldBalance = &oldBalance
		dto.NewBalance = &newBalance
	}
	return dto
}

func toWalletDTO(w incentive.Wallet, loc *time.Location) WalletDTO {
	return WalletDTO{
		ID:        w.ID,
		UserID:    string(w.UserID),
		Category:  w.Category,
		Balance:   w.Balance,
		UpdatedAt: fmtTime(w.UpdatedAt, loc),
	}
}

func toResultDTO(r incentive.Result, loc *time.Location) ResultDTO {
	return ResultDTO{
		ProfileID:            string(r.ProfileID),
		UserID:               string(r.UserID),
		Mode:                 string(r.Mode),
		Category:             string(r.Category),
		Period:               string(r.Period),
		Window:               WindowDTO{Start: fmtTime(r.Window.Start, loc), End: fmtTime(r.Window.End, loc)},
		Participants:         r.Participants,
		TargetAmount:         r.TargetAmount,
		AchievedAmount:       r.AchievedAmount,
		AchievedPercentage:   r.AchievedPercentage.Round(2),
		IncentiveRate:        r.IncentiveRate,
		CalculationThreshold: r.CalculationThreshold,
		IncentiveAmount:      r.IncentiveAmount,
		Qualified:            r.Qualified,
		TargetUndefined:      r.TargetUndefined,
	}
}

func toReportDTO(p *incentive.ReportPage, loc *time.Location) ReportDTO {
	dto := ReportDTO{
		AsOf:    fmtTime(p.AsOf, loc),
		SortBy:  string(p.SortBy),
		Page:    p.Page,
		PerPage: p.PerPage,
		Total:   p.Total,
		Rows:    make([]ReportRowDTO, 0, len(p.Rows)),
	}
	for _, row := range p.Rows {
		dto.Rows = append(dto.Rows, ReportRowDTO{
			Rank:           row.Rank,
			NextPayoutDate: fmtTime(row.NextPayoutDate, loc),
			ResultDTO:      toResultDTO(row.Result, loc),
		})
	}
	for _, e := range p.Errors {
		dto.Errors = append(dto.Errors, ReportErrorDTO{ProfileID: string(e.ProfileID), Error: e.Error})
	}
	return dto
}

func toBonusRecordDTO(r incentive.BonusRecord, loc *time.Location) BonusRecordDTO {
	return BonusRecordDTO{
		ID:                 r.ID,
		ProfileID:          string(r.ProfileID),
		UserID:             string(r.UserID),
		TargetAmount:       r.TargetAmount,
		AchievedAmount:     r.AchievedAmount,
		AchievedPercentage: r.AchievedPercentage.Round(2),
		IncentiveRate:      r.IncentiveRate,
		IncentiveAmount:    r.IncentiveAmount,
		IncentiveMonth:     r.IncentiveMonth,
		PeriodStart:        fmtTime(r.PeriodStart, loc),
		PeriodEnd:          fmtTime(r.PeriodEnd, loc),
		PayoutStatus:       string(r.PayoutStatus),
		CreatedAt:          fmtTime(r.CreatedAt, loc),
	}
}

func toRunDTO(r incentive.RunRecord, outcomes []incentive.ProfileOutcome, loc *time.Location) RunDTO {
	dto := RunDTO{
		ID:          r.ID,
		AsOf:        fmtTime(r.AsOf, loc),
		Status:      r.Status,
		Processed:   r.Processed,
		Paid:        r.Paid,
		PaidZero:    r.PaidZero,
		Unpaid:      r.Unpaid,
		Skipped:     r.Skipped,
		Errors:      r.Errors,
		StartedAt:   fmtTime(r.StartedAt, loc),
		CompletedAt: fmtTime(r.CompletedAt, loc),
	}
	for _, o := range outcomes {
		dto.Outcomes = append(dto.Outcomes, ProfileOutcomeDTO{
			ProfileID:       string(o.ProfileID),
			UserID:          string(o.UserID),
			Outcome:         string(o.Outcome),
			BonusRecordID:   o.BonusRecordID,
			AchievedAmount:  o.AchievedAmount,
			IncentiveAmount: o.IncentiveAmount,
			NextPayoutDate:  fmtTime(o.NextPayoutDate, loc),
			Error:           o.Error,
		})
	}
	return dto
}

// RunSummaryDTO renders a run with its per-profile outcomes.
func RunSummaryDTO(r incentive.RunRecord, s *incentive.RunSummary, loc *time.Location) RunDTO {
	return toRunDTO(r, s.Outcomes, loc)
}

// ReportPageDTO renders a report page.
func ReportPageDTO(p *incentive.ReportPage, loc *time.Location) ReportDTO {
	return toReportDTO(p, loc)
}
