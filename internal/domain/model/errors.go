package model

import (
	"errors"
	"fmt"
)

// Sentinel kinds. Every typed error below unwraps to exactly one of these.
var (
	ErrValidation = errors.New("validation failed")
	ErrAuth       = errors.New("authentication required")
	ErrSequence   = errors.New("round out of sequence")
	ErrTransport  = errors.New("scoring backend unreachable")

	ErrBusy     = errors.New("another session change is in flight")
	ErrStale    = errors.New("result discarded: state changed while in flight")
	ErrNotReady = errors.New("auth guard not initialized")
	ErrNotFound = errors.New("session not found")
	ErrConflict = errors.New("conflict")

	// ErrForbidden is an action the signed-in identity may not take, such as
	// reading another judge's session.
	ErrForbidden = errors.New("permission denied")

	// ErrRoundRecorded is the backend reporting it already holds a round.
	ErrRoundRecorded = errors.New("round already recorded by the scoring backend")
)

// ValidationError is bad user input. It names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, msg string) error {
	return &ValidationError{Field: field, Message: msg}
}

// AuthError is a rejected or expired credential.
type AuthError struct {
	Reason string
}

func (e *AuthError) Error() string {
	if e.Reason == "" {
		return ErrAuth.Error()
	}
	return e.Reason
}

func (e *AuthError) Unwrap() error { return ErrAuth }

// Generic login rejection. The guard never says which of user or password was wrong.
const InvalidCredentials = "invalid username or password"

// SequenceError is a round-progression contract violation.
type SequenceError struct {
	SessionID    string
	Expected     int
	Got          int
	SessionState Status
}

func (e *SequenceError) Error() string {
	if e.SessionState == StatusCompleted {
		return fmt.Sprintf("session %s is completed; round %d rejected", e.SessionID, e.Got)
	}
	return fmt.Sprintf("session %s expects round %d, got %d", e.SessionID, e.Expected, e.Got)
}

func (e *SequenceError) Unwrap() error { return ErrSequence }

// TransportError is a failure to reach the scoring backend. It is retryable.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap exposes both the kind and the cause.
func (e *TransportError) Unwrap() []error { return []error{ErrTransport, e.Err} }

// IsRetryable reports whether the caller may simply try again.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrBusy)
}
