/*
errors.go - Centralized error types for the tax engine

PURPOSE:
  All error types in one place for consistency and discoverability.
  Calculators return *CalculationError values so callers can render them
  directly into API responses without a translation layer.

ERROR CATEGORIES:
  1. Calculation errors - missing configuration, invalid zone/surface
  2. Configuration errors - malformed tariff tables
  3. Store errors - record lookups and uniqueness

USAGE:
  res, err := calc.Calculate(property)
  if errors.Is(err, fiscal.ErrMissingConfiguration) {
      // 400: ask the municipality to set its reference price
  }

SEE ALSO:
  - tib/calculator.go, ttnb/calculator.go: Return CalculationError
  - store.go: Uses the store sentinels
*/
package fiscal

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrMissingConfiguration is returned when a reference price or urban zone
	// is absent. Not retryable: the input has to change.
	ErrMissingConfiguration = errors.New("missing configuration")

	// ErrInvalidZone is returned for an urban zone outside the four statutory keys.
	ErrInvalidZone = errors.New("invalid urban zone")

	// ErrInvalidSurface is returned when a surface is zero or negative.
	ErrInvalidSurface = errors.New("invalid surface")

	// ErrInvalidServiceCount is returned when a service count is negative.
	ErrInvalidServiceCount = errors.New("invalid service count")

	// ErrInvalidTariffTable is returned when a tariff table fails validation.
	ErrInvalidTariffTable = errors.New("invalid tariff table")

	// ErrRecordNotFound is returned when a tax record doesn't exist.
	ErrRecordNotFound = errors.New("tax record not found")

	// ErrDuplicateRecord is returned when a record already exists for the
	// same asset, section and tax year.
	ErrDuplicateRecord = errors.New("tax record already exists for asset and year")

	// ErrRecordPaid is returned when trying to change a paid record.
	ErrRecordPaid = errors.New("tax record is paid")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// Calculation error codes.
const (
	CodeMissingConfiguration = "missing_configuration"
	CodeInvalidZone          = "invalid_zone"
	CodeInvalidSurface       = "invalid_surface"
	CodeInvalidServiceCount  = "invalid_service_count"
)

// CalculationError is the structured failure result of a calculator.
// It marshals to {"error": code, "message": text, "valid_zones": [...]}.
type CalculationError struct {
	Code       string      `json:"error"`
	Message    string      `json:"message"`
	ValidZones []UrbanZone `json:"valid_zones,omitempty"`
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CalculationError) Unwrap() error {
	switch e.Code {
	case CodeMissingConfiguration:
		return ErrMissingConfiguration
	case CodeInvalidZone:
		return ErrInvalidZone
	case CodeInvalidSurface:
		return ErrInvalidSurface
	case CodeInvalidServiceCount:
		return ErrInvalidServiceCount
	default:
		return nil
	}
}

// InvalidSurfaceError is shared by both calculators.
func InvalidSurfaceError(what string) *CalculationError {
	return &CalculationError{
		Code:    CodeInvalidSurface,
		Message: fmt.Sprintf("%s must be greater than 0", what),
	}
}

// TariffError names the part of a tariff table that failed validation.
type TariffError struct {
	Section Section
	Field   string
	Reason  string
}

func (e *TariffError) Error() string {
	return fmt.Sprintf("invalid tariff table: %s.%s: %s", e.Section, e.Field, e.Reason)
}

func (e *TariffError) Unwrap() error {
	return ErrInvalidTariffTable
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrMissingConfiguration) ||
		errors.Is(err, ErrInvalidZone) ||
		errors.Is(err, ErrInvalidSurface) ||
		errors.Is(err, ErrInvalidServiceCount)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// IsConflict returns true for uniqueness and paid-record violations.
func IsConflict(err error) bool {
	return errors.Is(err, ErrDuplicateRecord) || errors.Is(err, ErrRecordPaid)
}
