package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
	"github.com/rs/zerolog"
)

// rehasher is implemented by hashers that can tell when a stored hash is
// out of date.
type rehasher interface {
	NeedsRehash(hash []byte) bool
}

// DataSource implements ports.DataSource and ports.UserWriter using SQLite.
// Credentials are stored as hashes produced by the configured ports.Hasher.
type DataSource struct {
	db     *DB
	hasher ports.Hasher
	logger zerolog.Logger
}

// NewDataSource creates a new SQLite data source.
func NewDataSource(db *DB, h ports.Hasher) *DataSource {
	return &DataSource{db: db, hasher: h, logger: zerolog.Nop()}
}

// WithLogger sets the logger used for failures that do not fail the call.
func (d *DataSource) WithLogger(logger zerolog.Logger) *DataSource {
	d.logger = logger.With().Str("component", "sqlite_datasource").Logger()
	return d
}

// ResolveUser returns the user with login under source.
func (d *DataSource) ResolveUser(ctx context.Context, source, login string) (security.User, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT uid, source, name, email, enabled
		FROM users
		WHERE source = ? AND uid = ?
	`, source, login)

	var u security.User
	err := row.Scan(&u.UID, &u.Source, &u.Name, &u.Email, &u.Enabled)
	if errors.Is(err, sql.ErrNoRows) {
		return security.User{}, security.ErrUserNotFound
	}
	if err != nil {
		return security.User{}, fmt.Errorf("query user: %w", err)
	}
	return u, nil
}

// VerifyCredential compares credential with the stored hash. A matching
// credential whose hash is out of date is rehashed in place.
func (d *DataSource) VerifyCredential(ctx context.Context, user security.User, credential string) (bool, error) {
	var hash []byte
	err := d.db.QueryRowContext(ctx, `
		SELECT password_hash FROM users WHERE source = ? AND uid = ?
	`, user.Source, user.UID).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query credential: %w", err)
	}

	if !d.hasher.Compare(hash, credential) {
		return false, nil
	}

	if rh, ok := d.hasher.(rehasher); ok && rh.NeedsRehash(hash) {
		// The login itself already succeeded.
		if err := d.SetCredential(ctx, user.Source, user.UID, credential); err != nil {
			d.logger.Warn().Err(err).
				Str("user", user.Key()).
				Msg("credential rehash failed")
		}
	}
	return true, nil
}

// ListUsers returns every user under source ordered by uid.
func (d *DataSource) ListUsers(ctx context.Context, source string) ([]security.User, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT uid, source, name, email, enabled
		FROM users
		WHERE source = ?
		ORDER BY uid
	`, source)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	users := []security.User{}
	for rows.Next() {
		var u security.User
		if err := rows.Scan(&u.UID, &u.Source, &u.Name, &u.Email, &u.Enabled); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// EnsureUser inserts the user unless (source, uid) already exists.
func (d *DataSource) EnsureUser(ctx context.Context, user security.User, credential string) (bool, error) {
	hash, err := d.hasher.Hash(credential)
	if err != nil {
		return false, fmt.Errorf("hash credential: %w", err)
	}

	now := time.Now().UTC()
	result, err := d.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO users (source, uid, name, email, enabled, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.Source, user.UID, user.Name, user.Email, user.Enabled, hash, now, now)
	if err != nil {
		return false, fmt.Errorf("insert user: %w", err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateUser inserts a new user, failing with ErrDuplicate if it exists.
func (d *DataSource) CreateUser(ctx context.Context, user security.User, credential string) error {
	hash, err := d.hasher.Hash(credential)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}

	now := time.Now().UTC()
	_, err = d.db.ExecContext(ctx, `
		INSERT INTO users (source, uid, name, email, enabled, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, user.Source, user.UID, user.Name, user.Email, user.Enabled, hash, now, now)
	if isUniqueConstraintError(err) {
		return ErrDuplicate
	}
	return err
}

// SetCredential replaces a user's credential.
func (d *DataSource) SetCredential(ctx context.Context, source, login, credential string) error {
	hash, err := d.hasher.Hash(credential)
	if err != nil {
		return fmt.Errorf("hash credential: %w", err)
	}
	return d.update(ctx, `
		UPDATE users SET password_hash = ?, updated_at = ? WHERE source = ? AND uid = ?
	`, hash, time.Now().UTC(), source, login)
}

// SetEnabled enables or disables a user.
func (d *DataSource) SetEnabled(ctx context.Context, source, login string, enabled bool) error {
	return d.update(ctx, `
		UPDATE users SET enabled = ?, updated_at = ? WHERE source = ? AND uid = ?
	`, enabled, time.Now().UTC(), source, login)
}

func (d *DataSource) update(ctx context.Context, query string, args ...any) error {
	result, err := d.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return security.ErrUserNotFound
	}
	return nil
}

// Ensure interface compliance.
var (
	_ ports.DataSource = (*DataSource)(nil)
	_ ports.UserWriter = (*DataSource)(nil)
)
