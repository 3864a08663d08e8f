package model

import (
	"errors"
	"fmt"
)

// Domain error kinds. Stores and services wrap these so the API layer can map
// them onto HTTP statuses without inspecting driver errors.
var (
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation is returned for bad input: invalid cron expressions,
	// missing required fields, or disallowed state transitions.
	ErrValidation = errors.New("validation failed")

	// ErrConflict is returned on duplicate or unique-invariant collisions.
	ErrConflict = errors.New("conflict")

	// ErrConnectionFailure is returned when a connector cannot reach or
	// authenticate against a data source.
	ErrConnectionFailure = errors.New("connection failure")

	// ErrExecutionFailure is returned when sensor SQL fails or produces
	// unparseable output.
	ErrExecutionFailure = errors.New("execution failure")
)

// NotFoundf wraps ErrNotFound with a formatted detail message.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Validationf wraps ErrValidation with a formatted detail message.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Conflictf wraps ErrConflict with a formatted detail message.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}
