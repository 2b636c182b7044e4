package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
)

// SessionStore implements ports.SessionStore using SQLite.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a new SQLite session store.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Create stores a new session.
func (s *SessionStore) Create(ctx context.Context, sess security.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, source, created_at, last_access_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, sess.ID, sess.UserID, sess.Source,
		toNanos(sess.CreatedAt), toNanos(sess.LastAccessAt), toNanos(sess.ExpiresAt))

	if isUniqueConstraintError(err) {
		return ports.ErrSessionExists
	}
	return err
}

// Get retrieves a session by id.
func (s *SessionStore) Get(ctx context.Context, id string) (security.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, source, created_at, last_access_at, expires_at
		FROM sessions
		WHERE id = ?
	`, id)

	var sess security.Session
	var created, accessed, expires int64
	err := row.Scan(&sess.ID, &sess.UserID, &sess.Source, &created, &accessed, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return security.Session{}, ports.ErrNotFound
	}
	if err != nil {
		return security.Session{}, err
	}

	sess.CreatedAt = fromNanos(created)
	sess.LastAccessAt = fromNanos(accessed)
	sess.ExpiresAt = fromNanos(expires)
	return sess, nil
}

// Update replaces the access and expiry times of an existing session.
func (s *SessionStore) Update(ctx context.Context, sess security.Session) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_access_at = ?, expires_at = ? WHERE id = ?
	`, toNanos(sess.LastAccessAt), toNanos(sess.ExpiresAt), sess.ID)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ports.ErrNotFound
	}
	return nil
}

// Delete removes a session. Unknown ids are ignored.
func (s *SessionStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	return err
}

// DeleteIfExpired removes the session if its stored deadline is not after now.
// A concurrent sliding update that moved the deadline keeps the row.
func (s *SessionStore) DeleteIfExpired(ctx context.Context, id string, now time.Time) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE id = ? AND expires_at <= ?
	`, id, toNanos(now))
	if err != nil {
		return false, err
	}
	rows, err := result.RowsAffected()
	return rows > 0, err
}

// DeleteExpired removes sessions whose deadline is not after now.
func (s *SessionStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM sessions WHERE expires_at <= ?
	`, toNanos(now))
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// Count returns the number of stored sessions.
func (s *SessionStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions`).Scan(&n)
	return n, err
}

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// Ensure interface compliance.
var _ ports.SessionStore = (*SessionStore)(nil)
