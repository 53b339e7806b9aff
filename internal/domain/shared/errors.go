// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")
	ErrInvalidFormat   = errors.New("invalid format")

	// State errors
	ErrInvalidState     = errors.New("invalid state")
	ErrStateTransition  = errors.New("invalid state transition")
	ErrAlreadyProcessed = errors.New("already processed")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrLocked                 = errors.New("resource is locked")

	// External service errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "identity", "conflict", "reputation"
	Op      string // Operation that failed, e.g., "Resolve", "Merge"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Identity domain errors
var (
	ErrInvalidPhoneFormat         = NewDomainError("identity", "Normalize", ErrInvalidFormat, "invalid phone format")
	ErrInvalidEmailFormat         = NewDomainError("identity", "Normalize", ErrInvalidFormat, "invalid email format")
	ErrIdentityNotFound           = NewDomainError("identity", "Find", ErrNotFound, "canonical identity not found")
	ErrLinkNotFound               = NewDomainError("identity", "FindLink", ErrNotFound, "identity link not found")
	ErrConcurrentCreationConflict = NewDomainError("identity", "Resolve", ErrConcurrentModification, "identity was created concurrently")
	ErrIdentityNotActive          = NewDomainError("identity", "CheckState", ErrStateTransition, "identity is not active")
	ErrHashTaken                  = NewDomainError("identity", "Backfill", ErrAlreadyExists, "hash already belongs to another identity")
)

// Merge domain errors
var (
	ErrSelfMerge          = NewDomainError("merge", "Merge", ErrInvalidInput, "cannot merge an identity with itself")
	ErrMergeInProgress    = NewDomainError("merge", "Lock", ErrLocked, "merge or unmerge already in progress for identity")
	ErrMergeAuditNotFound = NewDomainError("merge", "Unmerge", ErrNotFound, "merge audit not found")
	ErrAlreadyUnmerged    = NewDomainError("merge", "Unmerge", ErrAlreadyProcessed, "merge already reverted")
	ErrMergeSuperseded    = NewDomainError("merge", "Unmerge", ErrStateTransition, "merged links changed since the merge")
	ErrLinkMoveMismatch   = NewDomainError("merge", "MoveLinks", ErrConcurrentModification, "moved link count does not match")
)

// Conflict domain errors
var (
	ErrConflictNotFound        = NewDomainError("conflict", "Find", ErrNotFound, "conflict not found")
	ErrConflictAlreadyResolved = NewDomainError("conflict", "Resolve", ErrAlreadyProcessed, "conflict already resolved")
	ErrConflictHasNoCandidate  = NewDomainError("conflict", "Resolve", ErrInvalidInput, "conflict has no second identity to merge")
	ErrInvalidDecision         = NewDomainError("conflict", "Resolve", ErrInvalidInput, "invalid conflict decision")
)

// Reputation domain errors
var (
	ErrSnapshotNotFound    = NewDomainError("reputation", "FindSnapshot", ErrNotFound, "reputation snapshot not found")
	ErrInvalidEventKind    = NewDomainError("reputation", "Validate", ErrInvalidInput, "unknown behavioral event kind")
	ErrInvalidEventValue   = NewDomainError("reputation", "Validate", ErrValueOutOfRange, "event value must be between 0 and 1")
	ErrEventAlreadyStored  = NewDomainError("reputation", "Record", ErrAlreadyExists, "event already recorded")
	ErrAggregatorRunActive = NewDomainError("reputation", "Aggregate", ErrLocked, "aggregator run already in progress")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if the error is an "already exists" error.
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrInvalidFormat) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrValueOutOfRange) ||
		errors.Is(err, ErrFutureTimestamp)
}

// IsConflict checks if the error reports a state that blocks the operation.
func IsConflict(err error) bool {
	return errors.Is(err, ErrStateTransition) ||
		errors.Is(err, ErrAlreadyProcessed) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrConcurrentModification) ||
		errors.Is(err, ErrInvalidState)
}

// IsRetryable checks if the operation can be retried.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrLocked) ||
		errors.Is(err, ErrConcurrentModification)
}
