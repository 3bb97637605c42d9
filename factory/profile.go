/*
Package factory provides JSON to Go incentive profile conversion.

PURPOSE:
  Converts JSON profile definitions into incentive.Profile values with a
  valid initial schedule. Back office staff configure incentives from the
  admin UI; the factory is the single place the request shape is checked.

JSON SCHEMA:
  {
    "id": "inc-agent-7",                          (optional, uuid if empty)
    "user_id": "agent-7",
    "sales_calculation_mode": "group",            personal | group
    "sales_category": "net_deposit",              any registered category
    "target_amount": "10000",
    "incentive_rate": "2.5",
    "calculation_threshold": "80",
    "calculation_period": "monthly_first_sunday"
  }

  Amounts may be JSON numbers or numeric strings.

INITIAL SCHEDULE:
  last_payout_date = created_at = now
  next_payout_date = incentive.NextPayoutDate(period, now)

USAGE:
  f := factory.NewProfileFactory()
  profile, err := f.Parse(body, time.Now())
*/
package factory

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/warp/incentive-engine/incentive"
)

// =============================================================================
// JSON SCHEMA TYPES
// =============================================================================

// ProfileJSON is the JSON representation of a profile. Schedule fields are
// output only and ignored by Build.
type ProfileJSON struct {
	ID                   string      `json:"id,omitempty"`
	UserID               string      `json:"user_id" validate:"required"`
	Mode                 string      `json:"sales_calculation_mode" validate:"required,oneof=personal group"`
	Category             string      `json:"sales_category" validate:"required,sales_category"`
	TargetAmount         json.Number `json:"target_amount" validate:"required,nonnegative"`
	IncentiveRate        json.Number `json:"incentive_rate" validate:"required,nonnegative"`
	CalculationThreshold json.Number `json:"calculation_threshold" validate:"required,nonnegative"`
	Period               string      `json:"calculation_period" validate:"required,oneof=weekly_sunday biweekly_second_sunday monthly_first_sunday monthly_default"`

	LastPayoutDate string `json:"last_payout_date,omitempty"`
	NextPayoutDate string `json:"next_payout_date,omitempty"`
	CreatedAt      string `json:"created_at,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
}

// FieldError is one failed validation rule.
type FieldError struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
}

// ValidationError lists every rule a ProfileJSON broke.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Field + " (" + f.Rule + ")"
	}
	return "invalid profile: " + strings.Join(parts, ", ")
}

// =============================================================================
// PROFILE FACTORY
// =============================================================================

type ProfileFactory struct {
	validate *validator.Validate
	NewID    func() string
}

func NewProfileFactory() *ProfileFactory {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("nonnegative", func(fl validator.FieldLevel) bool {
		d, err := decimal.NewFromString(fl.Field().String())
		return err == nil && !d.IsNegative()
	})
	_ = v.RegisterValidation("sales_category", func(fl validator.FieldLevel) bool {
		_, err := incentive.RuleFor(incentive.SalesCategory(fl.Field().String()))
		return err == nil
	})
	return &ProfileFactory{validate: v, NewID: uuid.NewString}
}

// Parse decodes and builds a profile created at now.
func (f *ProfileFactory) Parse(data []byte, now time.Time) (incentive.Profile, error) {
	var in ProfileJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return incentive.Profile{}, fmt.Errorf("invalid JSON: %w", err)
	}
	return f.Build(in, now)
}

// Build validates in and returns a profile with its initial schedule.
func (f *ProfileFactory) Build(in ProfileJSON, now time.Time) (incentive.Profile, error) {
	if err := f.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			out := &ValidationError{}
			for _, fe := range verrs {
				out.Fields = append(out.Fields, FieldError{Field: fe.Field(), Rule: fe.Tag()})
			}
			return incentive.Profile{}, out
		}
		return incentive.Profile{}, err
	}

	now = now.Truncate(time.Second)
	period := incentive.CalculationPeriod(in.Period)
	next, err := incentive.NextPayoutDate(period, now)
	if err != nil {
		return incentive.Profile{}, err
	}

	id := in.ID
	if id == "" {
		id = f.NewID()
	}
	return incentive.Profile{
		ID:                   incentive.ProfileID(id),
		UserID:               incentive.UserID(in.UserID),
		Mode:                 incentive.CalculationMode(in.Mode),
		Category:             incentive.SalesCategory(in.Category),
		TargetAmount:         decimal.RequireFromString(in.TargetAmount.String()),
		IncentiveRate:        decimal.RequireFromString(in.IncentiveRate.String()),
		CalculationThreshold: decimal.RequireFromString(in.CalculationThreshold.String()),
		Period:               period,
		LastPayoutDate:       now,
		NextPayoutDate:       next,
		CreatedAt:            now,
		UpdatedAt:            now,
	}, nil
}

// ToJSON converts a profile back to its JSON representation.
func ToJSON(p incentive.Profile) ProfileJSON {
	return ProfileJSON{
		ID:                   string(p.ID),
		UserID:               string(p.UserID),
		Mode:                 string(p.Mode),
		Category:             string(p.Category),
		TargetAmount:         json.Number(p.TargetAmount.String()),
		IncentiveRate:        json.Number(p.IncentiveRate.String()),
		CalculationThreshold: json.Number(p.CalculationThreshold.String()),
		Period:               string(p.Period),
		LastPayoutDate:       p.LastPayoutDate.Format(time.RFC3339),
		NextPayoutDate:       p.NextPayoutDate.Format(time.RFC3339),
		CreatedAt:            p.CreatedAt.Format(time.RFC3339),
		UpdatedAt:            p.UpdatedAt.Format(time.RFC3339),
	}
}
