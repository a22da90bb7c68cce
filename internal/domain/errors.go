package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input.
	ErrValidation = errors.New("validation error")
	// ErrNotFound marks an unknown thread, run, step, message or assistant.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an operation that is illegal in the current state.
	ErrConflict = errors.New("conflict")
)

func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// ErrorType classifies err for API responses.
func ErrorType(err error) string {
	switch {
	case errors.Is(err, ErrValidation):
		return "invalid_request_error"
	case errors.Is(err, ErrNotFound):
		return "not_found_error"
	case errors.Is(err, ErrConflict):
		return "conflict_error"
	default:
		return "server_error"
	}
}
