// Package memory provides in-memory implementations of the security ports,
// used in tests and when no database is configured.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
)

type userRecord struct {
	user security.User
	hash []byte
}

// DataSource is an in-memory implementation of ports.DataSource and
// ports.UserWriter. Users are keyed by source tag, then login.
type DataSource struct {
	mu     sync.RWMutex
	users  map[string]map[string]userRecord
	hasher ports.Hasher

	// fail, when set, is returned from every read (for testing outages).
	fail error
}

// NewDataSource creates an empty data source hashing credentials with h.
func NewDataSource(h ports.Hasher) *DataSource {
	return &DataSource{
		users:  make(map[string]map[string]userRecord),
		hasher: h,
	}
}

// ResolveUser returns the user with login under source.
func (d *DataSource) ResolveUser(ctx context.Context, source, login string) (security.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.fail != nil {
		return security.User{}, d.fail
	}
	rec, ok := d.users[source][login]
	if !ok {
		return security.User{}, security.ErrUserNotFound
	}
	return rec.user, nil
}

// VerifyCredential compares credential against the stored hash.
func (d *DataSource) VerifyCredential(ctx context.Context, user security.User, credential string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.fail != nil {
		return false, d.fail
	}
	rec, ok := d.users[user.Source][user.UID]
	if !ok {
		return false, nil
	}
	return d.hasher.Compare(rec.hash, credential), nil
}

// ListUsers returns the users under source ordered by uid.
func (d *DataSource) ListUsers(ctx context.Context, source string) ([]security.User, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if d.fail != nil {
		return nil, d.fail
	}
	result := make([]security.User, 0, len(d.users[source]))
	for _, rec := range d.users[source] {
		result = append(result, rec.user)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].UID < result[j].UID })
	return result, nil
}

// EnsureUser adds the user unless one with the same uid and source exists.
func (d *DataSource) EnsureUser(ctx context.Context, user security.User, credential string) (bool, error) {
	hash, err := d.hasher.Hash(credential)
	if err != nil {
		return false, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	bySource, ok := d.users[user.Source]
	if !ok {
		bySource = make(map[string]userRecord)
		d.users[user.Source] = bySource
	}
	if _, exists := bySource[user.UID]; exists {
		return false, nil
	}
	bySource[user.UID] = userRecord{user: user, hash: hash}
	return true, nil
}

// SetCredential replaces a user's credential.
func (d *DataSource) SetCredential(ctx context.Context, source, login, credential string) error {
	hash, err := d.hasher.Hash(credential)
	if err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[source][login]
	if !ok {
		return security.ErrUserNotFound
	}
	rec.hash = hash
	d.users[source][login] = rec
	return nil
}

// SetEnabled enables or disables a user.
func (d *DataSource) SetEnabled(source, login string, enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	rec, ok := d.users[source][login]
	if !ok {
		return security.ErrUserNotFound
	}
	rec.user.Enabled = enabled
	d.users[source][login] = rec
	return nil
}

// FailWith makes every read return err until called with nil (for testing).
func (d *DataSource) FailWith(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fail = err
}

// Ensure interface compliance.
var (
	_ ports.DataSource = (*DataSource)(nil)
	_ ports.UserWriter = (*DataSource)(nil)
)
