package services

import (
	"errors"
	"fmt"

	"DecentCredit/internal/ledger"
	"DecentCredit/internal/settlement"
)

var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidStatus       = errors.New("record is not pending")
	ErrInvalidProof        = errors.New("chain index proof mismatch")
	ErrEncryptionFailed    = errors.New("record payload does not decrypt")
	ErrInvalidData         = errors.New("content integrity check failed")
	ErrRecordNotFound      = errors.New("record not found")
	ErrInstitutionNotFound = errors.New("institution not found")
	ErrServiceDisabled     = errors.New("institution data service disabled")
	ErrNoRecords           = errors.New("no records")
	ErrBatchTooLarge       = errors.New("batch too large")
)

// ValidationError names the submission field that failed.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// ServiceDisabledError identifies the institution whose records blocked a
// subject query.
type ServiceDisabledError struct {
	InstitutionID string
}

func (e *ServiceDisabledError) Error() string {
	return fmt.Sprintf("institution %s has data service disabled", e.InstitutionID)
}

func (e *ServiceDisabledError) Is(target error) bool { return target == ErrServiceDisabled }

// Code maps an error to its stable numeric code, or 0 for unclassified errors.
func Code(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, ErrInvalidData):
		return 1001
	case errors.Is(err, ErrEncryptionFailed):
		return 1003
	case errors.Is(err, ErrInvalidProof):
		return 1005
	case errors.Is(err, ErrRecordNotFound):
		return 1006
	case errors.Is(err, ErrInvalidStatus):
		return 1008
	case errors.Is(err, ledger.ErrNetwork):
		return 2002
	case errors.Is(err, ErrValidation), errors.Is(err, ErrNoRecords), errors.Is(err, ErrBatchTooLarge):
		return 2003
	case errors.Is(err, settlement.ErrInsufficientBalance):
		return 3001
	case errors.Is(err, ErrInstitutionNotFound):
		return 4001
	case errors.Is(err, ErrServiceDisabled):
		return 4003
	}
	return 0
}

// Retryable reports whether repeating the failed call may succeed.
func Retryable(err error) bool {
	return ledger.Retryable(err)
}
