package domain

import (
	"errors"
	"fmt"
)

// ErrorClass is the failure taxonomy shared by the resolver, gate, and state machine.
type ErrorClass string

// Error classes.
const (
	ClassNone                ErrorClass = ""
	ClassNotFound            ErrorClass = "not_found"
	ClassConcurrencyConflict ErrorClass = "concurrency_conflict"
	ClassValidation          ErrorClass = "validation"
	ClassTransientIO         ErrorClass = "transient_io"
)

// ErrNotFound is returned when a referenced record cannot be resolved.
type ErrNotFound struct {
	Entity EntityType
	ID     string
}

func (e ErrNotFound) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

// InsufficientStockError reports that an atomic decrement observed less stock
// than requested. The decrement still applied, clamped at zero.
type InsufficientStockError struct {
	ItemID    string
	Requested float64
	Shortfall float64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("inventory item %s short by %g (requested %g)", e.ItemID, e.Shortfall, e.Requested)
}

// ValidationError rejects malformed input before any work is done.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Reason
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// TransientError wraps a storage or network failure that may succeed on retry.
type TransientError struct {
	Op  string
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transient wraps err as a TransientError unless it is nil or already classified.
func Transient(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransientError
	if errors.As(err, &te) || Classify(err) != ClassTransientIO {
		return err
	}
	return &TransientError{Op: op, Err: err}
}

var (
	// ErrExecutionClosed is returned for mutations on a completed or aborted run.
	ErrExecutionClosed = &ValidationError{Field: "status", Reason: "execution is no longer running"}
	// ErrConfirmationRequired is returned when finish or abort is not confirmed.
	ErrConfirmationRequired = &ValidationError{Field: "confirmed", Reason: "explicit confirmation required"}
)

// Classify maps err onto the failure taxonomy.
func Classify(err error) ErrorClass {
	if err == nil {
		return ClassNone
	}
	var nf ErrNotFound
	if errors.As(err, &nf) {
		return ClassNotFound
	}
	var nfp *ErrNotFound
	if errors.As(err, &nfp) {
		return ClassNotFound
	}
	var stock *InsufficientStockError
	if errors.As(err, &stock) {
		return ClassConcurrencyConflict
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ClassValidation
	}
	return ClassTransientIO
}

// IsValidation reports whether err belongs to the validation class.
func IsValidation(err error) bool { return Classify(err) == ClassValidation }
