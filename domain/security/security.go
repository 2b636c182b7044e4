// Package security provides session and user value types and pure functions
// over them. This package has NO dependencies on I/O or external packages.
package security

import (
	"strings"
	"time"
)

// DefaultSource is the user source tag the bootstrap administrator lives under.
const DefaultSource = "kimios"

// AdminLogin is the uid of the bootstrap administrator.
const AdminLogin = "admin"

// User is a read-only projection of a principal record (immutable value type).
type User struct {
	UID     string
	Source  string
	Name    string
	Email   string
	Enabled bool
}

// Key returns the identity of the user across sources.
func (u User) Key() string {
	return u.UID + "@" + u.Source
}

// Session represents an authenticated principal (immutable value type).
type Session struct {
	ID           string
	UserID       string
	Source       string
	CreatedAt    time.Time
	LastAccessAt time.Time
	ExpiresAt    time.Time
}

// ExpiryPolicy controls how long sessions live.
type ExpiryPolicy struct {
	// TTL is the lifetime of a session from creation or last access.
	TTL time.Duration

	// Sliding extends ExpiresAt on every validated access.
	Sliding bool

	// SweepInterval is how often expired sessions are purged.
	SweepInterval time.Duration
}

// DefaultExpiryPolicy returns the policy used when none is configured.
func DefaultExpiryPolicy() ExpiryPolicy {
	return ExpiryPolicy{
		TTL:           30 * time.Minute,
		Sliding:       true,
		SweepInterval: time.Minute,
	}
}

// WithDefaults fills zero fields from DefaultExpiryPolicy.
func (p ExpiryPolicy) WithDefaults() ExpiryPolicy {
	d := DefaultExpiryPolicy()
	if p.TTL <= 0 {
		p.TTL = d.TTL
	}
	if p.SweepInterval <= 0 {
		p.SweepInterval = d.SweepInterval
	}
	return p
}

// NewSession builds a session for user issued at now.
func NewSession(id string, user User, now time.Time, policy ExpiryPolicy) Session {
	return Session{
		ID:           id,
		UserID:       user.UID,
		Source:       user.Source,
		CreatedAt:    now,
		LastAccessAt: now,
		ExpiresAt:    now.Add(policy.TTL),
	}
}

// IsExpired returns true if the session deadline has passed at now.
func (s Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Touch returns a copy of the session accessed at now.
// Under a sliding policy the deadline moves forward.
func (s Session) Touch(now time.Time, policy ExpiryPolicy) Session {
	s.LastAccessAt = now
	if policy.Sliding {
		s.ExpiresAt = now.Add(policy.TTL)
	}
	return s
}

// NormalizeLogin trims a login for lookup. Logins are case-sensitive.
func NormalizeLogin(login string) string {
	return strings.TrimSpace(login)
}
