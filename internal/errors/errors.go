package errors

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// Common error types that can be used across the application
var (
	ErrNotFound         = new(ErrCodeNotFound, "resource not found")
	ErrAlreadyExists    = new(ErrCodeAlreadyExists, "resource already exists")
	ErrValidation       = new(ErrCodeValidation, "validation error")
	ErrInvalidOperation = new(ErrCodeInvalidOperation, "invalid operation")
	ErrDatabase         = new(ErrCodeDatabase, "database error")
	ErrSystem           = new(ErrCodeSystemError, "system error")

	// Entitlement engine errors
	ErrEntitlementNotFound     = new(ErrCodeEntitlementNotFound, "entitlement not found")
	ErrLimitExceeded           = new(ErrCodeLimitExceeded, "usage limit exceeded")
	ErrIncorrectUsageReporting = new(ErrCodeIncorrectUsageReporting, "incorrect usage reporting")
	ErrGrantCreateFailed       = new(ErrCodeGrantCreateFailed, "grant creation failed")
	ErrCycleCalculationFailed  = new(ErrCodeCycleCalculationFailed, "cycle calculation failed")
	ErrStorageFailed           = new(ErrCodeStorageFailed, "entitlement storage failed")

	// Billing engine errors
	ErrSubscriptionBusy      = new(ErrCodeSubscriptionBusy, "subscription is locked by another worker")
	ErrProviderFailed        = new(ErrCodeProviderFailed, "payment provider call failed")
	ErrProviderTotalMismatch = new(ErrCodeProviderTotalMismatch, "provider invoice total mismatch")
)

const (
	ErrCodeSystemError      = "system_error"
	ErrCodeNotFound         = "not_found"
	ErrCodeAlreadyExists    = "already_exists"
	ErrCodeValidation       = "validation_error"
	ErrCodeInvalidOperation = "invalid_operation"
	ErrCodeDatabase         = "database_error"

	ErrCodeEntitlementNotFound     = "ENTITLEMENT_NOT_FOUND"
	ErrCodeLimitExceeded           = "LIMIT_EXCEEDED"
	ErrCodeIncorrectUsageReporting = "INCORRECT_USAGE_REPORTING"
	ErrCodeGrantCreateFailed       = "GRANT_CREATE_FAILED"
	ErrCodeCycleCalculationFailed  = "CYCLE_CALCULATION_FAILED"
	ErrCodeStorageFailed           = "STORAGE_FAILED"
	ErrCodeSubscriptionBusy        = "SUBSCRIPTION_BUSY"
	ErrCodeProviderFailed          = "PROVIDER_FAILED"
	ErrCodeProviderTotalMismatch   = "PROVIDER_TOTAL_MISMATCH"
)

// InternalError represents a domain error
type InternalError struct {
	Code    string // Machine-readable error code
	Message string // Human-readable error message
	Err     error  // Underlying error
}

func (e *InternalError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Err.Error())
}

func (e *InternalError) Unwrap() error {
	return e.Err
}

// Is implements error matching for wrapped errors
func (e *InternalError) Is(target error) bool {
	if target == nil {
		return false
	}

	t, ok := target.(*InternalError)
	if !ok {
		return errors.Is(e.Err, target)
	}

	return e.Code == t.Code
}

// new creates a new InternalError used as a sentinel
func new(code string, message string) *InternalError {
	return &InternalError{
		Code:    code,
		Message: message,
	}
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Is(err error, reference error) bool {
	return errors.Is(err, reference)
}

// sentinels lists every reason-coded reference error, most specific
// first. Marked errors match by errors.Is, not by unwrap.
var sentinels = []*InternalError{
	ErrEntitlementNotFound,
	ErrLimitExceeded,
	ErrIncorrectUsageReporting,
	ErrGrantCreateFailed,
	ErrCycleCalculationFailed,
	ErrStorageFailed,
	ErrSubscriptionBusy,
	ErrProviderFailed,
	ErrProviderTotalMismatch,
	ErrNotFound,
	ErrAlreadyExists,
	ErrValidation,
	ErrInvalidOperation,
	ErrDatabase,
}

// Code returns the machine-readable reason code carried by the error, or
// system_error when the error is not a marked internal error
func Code(err error) string {
	var ie *InternalError
	if errors.As(err, &ie) {
		return ie.Code
	}
	for _, ref := range sentinels {
		if errors.Is(err, ref) {
			return ref.Code
		}
	}
	return ErrCodeSystemError
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) || errors.Is(err, ErrEntitlementNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if an error is a validation error
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

// IsDatabase checks if an error is a database error
func IsDatabase(err error) bool {
	return errors.Is(err, ErrDatabase)
}

// IsSubscriptionBusy checks if an error is a lock contention error
func IsSubscriptionBusy(err error) bool {
	return errors.Is(err, ErrSubscriptionBusy)
}

// IsLimitExceeded checks if an error is a verify or consume denial
func IsLimitExceeded(err error) bool {
	return errors.Is(err, ErrLimitExceeded)
}
