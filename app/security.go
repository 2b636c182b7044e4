// Package app contains the SecurityController, the service the kernel module
// publishes for authentication and session management.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
	"github.com/rs/zerolog"
)

const (
	// DefaultDataSourceTimeout bounds every data source call.
	DefaultDataSourceTimeout = 5 * time.Second

	// maxIDAttempts is how many fresh ids StartSession tries before giving up.
	maxIDAttempts = 5
)

// SecurityController authenticates principals against a data source and
// manages the sessions it issues.
type SecurityController struct {
	source   ports.DataSource
	sessions ports.SessionStore
	clock    ports.Clock
	idGen    ports.IDGenerator
	metrics  ports.SecurityMetrics
	logger   zerolog.Logger

	defaultSource string
	timeout       time.Duration

	// Hot-reloadable
	policy atomic.Pointer[security.ExpiryPolicy]
}

// SecurityDeps contains dependencies for SecurityController.
type SecurityDeps struct {
	DataSource ports.DataSource
	Sessions   ports.SessionStore
	Clock      ports.Clock
	IDGen      ports.IDGenerator
	Metrics    ports.SecurityMetrics // optional
	Logger     zerolog.Logger
}

// SecurityConfig contains configuration for SecurityController.
type SecurityConfig struct {
	// DefaultSource is used when a caller passes an empty source tag.
	DefaultSource string

	Policy            security.ExpiryPolicy
	DataSourceTimeout time.Duration
}

// NewSecurityController creates a new security controller.
func NewSecurityController(deps SecurityDeps, cfg SecurityConfig) *SecurityController {
	c := &SecurityController{
		source:        deps.DataSource,
		sessions:      deps.Sessions,
		clock:         deps.Clock,
		idGen:         deps.IDGen,
		metrics:       deps.Metrics,
		logger:        deps.Logger.With().Str("component", "security").Logger(),
		defaultSource: cfg.DefaultSource,
		timeout:       cfg.DataSourceTimeout,
	}
	if c.defaultSource == "" {
		c.defaultSource = security.DefaultSource
	}
	if c.timeout <= 0 {
		c.timeout = DefaultDataSourceTimeout
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	c.UpdatePolicy(cfg.Policy)
	return c
}

// UpdatePolicy replaces the session expiry policy.
// Safe to call while sessions are being issued and validated.
func (c *SecurityController) UpdatePolicy(p security.ExpiryPolicy) {
	p = p.WithDefaults()
	c.policy.Store(&p)
}

// Policy returns the current session expiry policy.
func (c *SecurityController) Policy() security.ExpiryPolicy {
	return *c.policy.Load()
}

// DefaultSource returns the source tag used when none is given.
func (c *SecurityController) DefaultSource() string {
	return c.defaultSource
}

// StartSession authenticates login under source and issues a new session.
//
// An unknown principal, a disabled user and a wrong credential all return
// AccessDeniedError. A failing or stalled data source returns
// DataSourceUnavailableError. No session is created on any error.
func (c *SecurityController) StartSession(ctx context.Context, login, source, credential string) (security.Session, error) {
	login = security.NormalizeLogin(login)
	source = c.sourceOrDefault(source)

	if login == "" {
		return security.Session{}, c.deny(login, source, "empty login")
	}

	user, err := withTimeout(ctx, c.timeout, func(ctx context.Context) (security.User, error) {
		return c.source.ResolveUser(ctx, source, login)
	})
	if errors.Is(err, security.ErrUserNotFound) {
		return security.Session{}, c.deny(login, source, "unknown principal")
	}
	if err != nil {
		return security.Session{}, c.unavailable("resolve user", err)
	}

	if !user.Enabled {
		return security.Session{}, c.deny(login, source, "user disabled")
	}

	ok, err := withTimeout(ctx, c.timeout, func(ctx context.Context) (bool, error) {
		return c.source.VerifyCredential(ctx, user, credential)
	})
	if err != nil {
		return security.Session{}, c.unavailable("verify credential", err)
	}
	if !ok {
		return security.Session{}, c.deny(login, source, "credential mismatch")
	}

	sess, err := c.issue(ctx, user)
	if err != nil {
		return security.Session{}, err
	}

	c.metrics.SessionStarted(source)
	c.logger.Info().
		Str("user", user.Key()).
		Str("source", source).
		Time("expires_at", sess.ExpiresAt).
		Msg("session started")
	return sess, nil
}

// issue stores a session for user under a fresh id, retrying on collision.
func (c *SecurityController) issue(ctx context.Context, user security.User) (security.Session, error) {
	policy := c.Policy()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := c.idGen.New()
		if id == "" {
			continue
		}
		sess := security.NewSession(id, user, c.clock.Now(), policy)
		err := c.sessions.Create(ctx, sess)
		if errors.Is(err, ports.ErrSessionExists) {
			c.logger.Warn().Msg("session id collision, retrying")
			continue
		}
		if err != nil {
			return security.Session{}, fmt.Errorf("create session: %w", err)
		}
		return sess, nil
	}
	return security.Session{}, fmt.Errorf("create session: no unique id after %d attempts", maxIDAttempts)
}

// GetUsers lists every user under source. A valid source with no users
// returns an empty slice.
func (c *SecurityController) GetUsers(ctx context.Context, source string) ([]security.User, error) {
	source = c.sourceOrDefault(source)

	users, err := withTimeout(ctx, c.timeout, func(ctx context.Context) ([]security.User, error) {
		return c.source.ListUsers(ctx, source)
	})
	if err != nil {
		return nil, c.unavailable("list users", err)
	}
	if users == nil {
		users = []security.User{}
	}
	return users, nil
}

// EndSession invalidates a session. Ending an unknown or already ended
// session succeeds.
func (c *SecurityController) EndSession(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}

	_, err := c.sessions.Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("get session: %w", err)
	}

	if err := c.sessions.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}

	c.metrics.SessionEnded()
	c.logger.Info().Str("session", shortID(id)).Msg("session ended")
	return nil
}

// Session validates a session id. Unknown and expired ids both return
// SessionNotFoundError. Under a sliding policy the deadline is extended.
func (c *SecurityController) Session(ctx context.Context, id string) (security.Session, error) {
	if id == "" {
		return security.Session{}, &security.SessionNotFoundError{ID: id}
	}

	sess, err := c.sessions.Get(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return security.Session{}, &security.SessionNotFoundError{ID: id}
	}
	if err != nil {
		return security.Session{}, fmt.Errorf("get session: %w", err)
	}

	now := c.clock.Now()
	if sess.IsExpired(now) {
		// Conditional: a concurrent request may have just extended it.
		if _, err := c.sessions.DeleteIfExpired(ctx, id, now); err != nil {
			c.logger.Warn().Err(err).Msg("failed to delete expired session")
		}
		return security.Session{}, &security.SessionNotFoundError{ID: id}
	}

	policy := c.Policy()
	sess = sess.Touch(now, policy)
	if err := c.sessions.Update(ctx, sess); err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			// Ended concurrently
			return security.Session{}, &security.SessionNotFoundError{ID: id}
		}
		return security.Session{}, fmt.Errorf("update session: %w", err)
	}
	return sess, nil
}

// SweepExpired deletes sessions whose deadline has passed.
func (c *SecurityController) SweepExpired(ctx context.Context) (int64, error) {
	n, err := c.sessions.DeleteExpired(ctx, c.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("sweep sessions: %w", err)
	}
	if n > 0 {
		c.metrics.SessionsExpired(int(n))
		c.logger.Debug().Int64("count", n).Msg("expired sessions swept")
	}
	return n, nil
}

// Run sweeps expired sessions every SweepInterval until ctx is cancelled.
// The interval is re-read after each sweep so policy reloads apply.
func (c *SecurityController) Run(ctx context.Context) {
	interval := c.Policy().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.SweepExpired(ctx); err != nil {
				c.logger.Error().Err(err).Msg("session sweep failed")
			}
			if next := c.Policy().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
			}
		}
	}
}

func (c *SecurityController) sourceOrDefault(source string) string {
	if source == "" {
		return c.defaultSource
	}
	return source
}

func (c *SecurityController) deny(login, source, reason string) error {
	c.metrics.AuthFailure(source, reason)
	c.logger.Warn().
		Str("login", login).
		Str("source", source).
		Str("reason", reason).
		Msg("authentication failed")
	return &security.AccessDeniedError{Login: login, Source: source, Reason: reason}
}

func (c *SecurityController) unavailable(op string, err error) error {
	c.metrics.DataSourceError(op)
	c.logger.Error().Err(err).Str("op", op).Msg("data source unavailable")
	return &security.DataSourceUnavailableError{Op: op, Err: err}
}

// withTimeout runs fn under a deadline and returns when either fn completes
// or the deadline passes, even if fn ignores its context.
func withTimeout[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		ch <- result{v, err}
	}()

	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// shortID keeps session ids out of logs.
func shortID(id string) string {
	if len(id) <= 8 {
		return id
	}
	return id[:8] + "..."
}

type noopMetrics struct{}

func (noopMetrics) SessionStarted(string)      {}
func (noopMetrics) SessionEnded()              {}
func (noopMetrics) SessionsExpired(int)        {}
func (noopMetrics) AuthFailure(string, string) {}
func (noopMetrics) DataSourceError(string)     {}
