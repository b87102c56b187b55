package shared

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure without revealing the cause.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrDuplicate indicates a uniqueness constraint was violated.
	ErrDuplicate = errors.New("duplicate entry")
)

// LockedError signals that an account is temporarily locked.
type LockedError struct {
	// RemainingMinutes is rounded up so a caller never sees 0 while locked.
	RemainingMinutes int
	// JustLocked is true when this attempt crossed the failure threshold.
	JustLocked bool
}

func (e *LockedError) Error() string {
	if e.JustLocked {
		return "account locked due to multiple failed login attempts"
	}
	return fmt.Sprintf("account temporarily locked, try again in %d minutes", e.RemainingMinutes)
}

// ValidationError aggregates field-level validation messages.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	return "validation failed"
}

// NewValidationError builds a ValidationError with a single field message.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: message}}
}
