// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"errors"
	"time"

	"github.com/artpar/bundlehost/domain/security"
)

// Store errors shared by every adapter.
var (
	ErrNotFound      = errors.New("not found")
	ErrSessionExists = errors.New("session id already in use")
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// Hasher hashes and verifies credentials.
type Hasher interface {
	Hash(plaintext string) ([]byte, error)
	Compare(hash []byte, plaintext string) bool
}

// -----------------------------------------------------------------------------
// Security Ports
// -----------------------------------------------------------------------------

// DataSource is the external store of principals consulted for authentication.
// Transport or storage failures must be returned as errors other than
// security.ErrUserNotFound; callers translate them to DataSourceUnavailableError.
type DataSource interface {
	// ResolveUser returns the user with login under source,
	// or security.ErrUserNotFound.
	ResolveUser(ctx context.Context, source, login string) (security.User, error)

	// VerifyCredential reports whether credential matches the user's secret.
	VerifyCredential(ctx context.Context, user security.User, credential string) (bool, error)

	// ListUsers returns every user under source.
	ListUsers(ctx context.Context, source string) ([]security.User, error)
}

// UserWriter provisions principals in a data source.
// Used by bootstrap to seed the administrator and by the CLI.
type UserWriter interface {
	// EnsureUser creates the user if absent; existing users are left untouched.
	EnsureUser(ctx context.Context, user security.User, credential string) (created bool, err error)

	// SetCredential replaces the user's credential.
	SetCredential(ctx context.Context, source, login, credential string) error
}

// SessionStore persists live sessions.
type SessionStore interface {
	// Create stores a new session. Returns ErrSessionExists on id collision.
	Create(ctx context.Context, s security.Session) error

	// Get retrieves a session by id, expired or not, or ErrNotFound.
	Get(ctx context.Context, id string) (security.Session, error)

	// Update replaces an existing session.
	Update(ctx context.Context, s security.Session) error

	// Delete removes a session. Deleting an unknown id is not an error.
	Delete(ctx context.Context, id string) error

	// DeleteIfExpired removes the session only if its stored deadline is not
	// after now. It reports whether a row was removed.
	DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error)

	// DeleteExpired removes sessions whose deadline is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)

	// Count returns the number of stored sessions.
	Count(ctx context.Context) (int, error)
}

// SecurityMetrics receives authentication and session counters.
type SecurityMetrics interface {
	SessionStarted(source string)
	SessionEnded()
	SessionsExpired(n int)
	AuthFailure(source, reason string)
	DataSourceError(op string)
}
