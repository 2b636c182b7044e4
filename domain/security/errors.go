package security

import (
	"errors"
	"fmt"
)

var (
	// ErrAccessDenied matches every AccessDeniedError.
	ErrAccessDenied = errors.New("access denied")

	// ErrDataSourceUnavailable matches every DataSourceUnavailableError.
	ErrDataSourceUnavailable = errors.New("data source unavailable")

	// ErrSessionNotFound matches every SessionNotFoundError.
	ErrSessionNotFound = errors.New("session not found")

	// ErrUserNotFound is returned by data sources for unknown principals.
	ErrUserNotFound = errors.New("user not found")
)

// AccessDeniedError is an authentication failure. Reason is for logs only and
// is never shown to the caller that failed to authenticate.
type AccessDeniedError struct {
	Login  string
	Source string
	Reason string
}

func (e *AccessDeniedError) Error() string {
	return fmt.Sprintf("access denied for %q in source %q", e.Login, e.Source)
}

func (e *AccessDeniedError) Is(target error) bool {
	return target == ErrAccessDenied
}

// DataSourceUnavailableError is a failure to reach the user store.
// It is never an authentication verdict.
type DataSourceUnavailableError struct {
	Op  string
	Err error
}

func (e *DataSourceUnavailableError) Error() string {
	return fmt.Sprintf("data source unavailable during %s: %v", e.Op, e.Err)
}

func (e *DataSourceUnavailableError) Unwrap() error {
	return e.Err
}

func (e *DataSourceUnavailableError) Is(target error) bool {
	return target == ErrDataSourceUnavailable
}

// SessionNotFoundError covers unknown, ended and expired session ids alike.
type SessionNotFoundError struct {
	ID string
}

func (e *SessionNotFoundError) Error() string {
	return fmt.Sprintf("session %q not found", e.ID)
}

func (e *SessionNotFoundError) Is(target error) bool {
	return target == ErrSessionNotFound
}
