/*
errors.go - Centralized error types for the incentive engine

ERROR CATEGORIES:
  1. Configuration errors - A profile that cannot be evaluated as stored
  2. Lookup errors - Missing profile, user or wallet
  3. Ledger errors - Duplicate bonus, hierarchy violations

  Per-profile errors never abort a batch run; they are collected in the
  RunSummary and logged.
*/
package incentive

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrUnknownPeriod is returned for a calculation_period with no window or schedule rule.
	ErrUnknownPeriod = errors.New("unknown calculation period")

	// ErrUnknownCategory is returned for a sales_category with no registered rule.
	ErrUnknownCategory = errors.New("unknown sales category")

	// ErrUnknownMode is returned for a sales_calculation_mode other than personal/group.
	ErrUnknownMode = errors.New("unknown sales calculation mode")

	ErrProfileNotFound = errors.New("incentive profile not found")
	ErrUserNotFound    = errors.New("user not found")

	// ErrWalletNotFound is returned when a user earned a payout but has no bonus wallet.
	ErrWalletNotFound = errors.New("bonus wallet not found")

	// ErrDuplicateBonus is returned when a window was already booked for a profile.
	ErrDuplicateBonus = errors.New("bonus already recorded for window")

	// ErrHierarchyCycle is returned when an upline change would make a user its own ancestor.
	ErrHierarchyCycle = errors.New("upline change would create a cycle")

	ErrDuplicateID = errors.New("duplicate id")

	// ErrInvalidReportQuery is returned for an unsupported report sort field.
	ErrInvalidReportQuery = errors.New("invalid report query")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// ConfigError reports a profile field that the engine cannot interpret.
type ConfigError struct {
	ProfileID ProfileID
	Field     string
	Value     string
	Err       error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("profile %s: invalid %s %q: %v", e.ProfileID, e.Field, e.Value, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ProfileError attaches a profile and processing stage to a failure.
type ProfileError struct {
	ProfileID ProfileID
	Stage     string // evaluate, payout, schedule
	Err       error
}

func (e *ProfileError) Error() string {
	return fmt.Sprintf("profile %s: %s: %v", e.ProfileID, e.Stage, e.Err)
}

func (e *ProfileError) Unwrap() error { return e.Err }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsConfigError returns true if the error comes from an uninterpretable profile.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) ||
		errors.Is(err, ErrUnknownPeriod) ||
		errors.Is(err, ErrUnknownCategory) ||
		errors.Is(err, ErrUnknownMode)
}

// IsNotFound returns true if the error indicates a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProfileNotFound) ||
		errors.Is(err, ErrUserNotFound) ||
		errors.Is(err, ErrWalletNotFound)
}

// IsConflict returns true if the error indicates a write that clashes with existing state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateBonus) ||
		errors.Is(err, ErrHierarchyCycle) ||
		errors.Is(err, ErrDuplicateID)
}
