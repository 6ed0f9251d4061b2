package gateway

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the gateway. Callers compare with errors.Is;
// the messages are safe to show to end users and never include store
// details or credentials.
var (
	ErrDuplicateUser      = errors.New("username already registered")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrNotFound           = errors.New("file not found")
	ErrUnauthorized       = errors.New("not authorized for this resource")
	ErrStoreUnavailable   = errors.New("storage temporarily unavailable")
	ErrValidation         = errors.New("invalid input")
)

// errUserNotFound never leaves the gateway. Authenticate folds it
// into ErrInvalidCredentials so callers cannot enumerate usernames.
var errUserNotFound = errors.New("user not found")

// ErrFileTooLarge is a validation failure with its own HTTP status.
var ErrFileTooLarge = fmt.Errorf("%w: file exceeds upload size limit", ErrValidation)

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
