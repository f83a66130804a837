package domain

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrInsufficientBalance requested amount exceeds the ledger balance.
	ErrInsufficientBalance = errors.New("insufficient balance")
	// ErrPriceUnavailable oracle returned no price.
	ErrPriceUnavailable = errors.New("price unavailable")
	// ErrFlowInProgress a flow for the same action is still running.
	ErrFlowInProgress = errors.New("another submission for this action is in progress")
)

// ValidationError input rejected locally before any remote call.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewValidationError creates a validation error for field.
func NewValidationError(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// RemoteError a ledger, protocol or bridge call returned a tagged failure.
// Payload is the decoded Err value: a string, a variant map, a list, or nil.
type RemoteError struct {
	Op      string
	Payload any
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s rejected: %v", e.Op, e.Payload)
}

// TransportError the call could not complete.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is (or wraps) a TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
