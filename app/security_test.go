package app_test

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/artpar/bundlehost/adapters/clock"
	"github.com/artpar/bundlehost/adapters/hasher"
	"github.com/artpar/bundlehost/adapters/idgen"
	"github.com/artpar/bundlehost/adapters/memory"
	"github.com/artpar/bundlehost/app"
	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
	"github.com/rs/zerolog"
)

var epoch = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

type securityFixture struct {
	ctrl     *app.SecurityController
	source   *memory.DataSource
	sessions *memory.SessionStore
	clock    *clock.Fake
	metrics  *recordingMetrics
}

func setupSecurity(t *testing.T, policy security.ExpiryPolicy) *securityFixture {
	t.Helper()
	ctx := context.Background()

	f := &securityFixture{
		source:   memory.NewDataSource(hasher.Fake{}),
		sessions: memory.NewSessionStore(),
		clock:    clock.NewFake(epoch),
		metrics:  &recordingMetrics{},
	}
	f.source.EnsureUser(ctx, security.User{UID: "admin", Source: "kimios", Name: "Administrator", Enabled: true}, "kimios")
	f.source.EnsureUser(ctx, security.User{UID: "jdoe", Source: "kimios", Enabled: true}, "secret")
	f.source.EnsureUser(ctx, security.User{UID: "gone", Source: "kimios", Enabled: false}, "secret")

	f.ctrl = app.NewSecurityController(app.SecurityDeps{
		DataSource: f.source,
		Sessions:   f.sessions,
		Clock:      f.clock,
		IDGen:      &scriptedIDs{prefix: "sess-"},
		Metrics:    f.metrics,
		Logger:     zerolog.Nop(),
	}, app.SecurityConfig{
		Policy:            policy,
		DataSourceTimeout: 200 * time.Millisecond,
	})
	return f
}

// scriptedIDs hands out ids in order, then prefix1, prefix2, ...
type scriptedIDs struct {
	mu     sync.Mutex
	ids    []string
	prefix string
	n      int
}

func (g *scriptedIDs) New() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.ids) > 0 {
		id := g.ids[0]
		g.ids = g.ids[1:]
		return id
	}
	g.n++
	return g.prefix + strconv.Itoa(g.n)
}

type recordingMetrics struct {
	mu           sync.Mutex
	started      int
	ended        int
	expired      int
	failures     []string
	sourceErrors []string
}

func (m *recordingMetrics) SessionStarted(string) { m.mu.Lock(); m.started++; m.mu.Unlock() }
func (m *recordingMetrics) SessionEnded()         { m.mu.Lock(); m.ended++; m.mu.Unlock() }
func (m *recordingMetrics) SessionsExpired(n int) { m.mu.Lock(); m.expired += n; m.mu.Unlock() }
func (m *recordingMetrics) AuthFailure(_, reason string) {
	m.mu.Lock()
	m.failures = append(m.failures, reason)
	m.mu.Unlock()
}
func (m *recordingMetrics) DataSourceError(op string) {
	m.mu.Lock()
	m.sourceErrors = append(m.sourceErrors, op)
	m.mu.Unlock()
}

// stalledSource never answers and ignores its context.
type stalledSource struct {
	release chan struct{}
}

func (s *stalledSource) ResolveUser(ctx context.Context, source, login string) (security.User, error) {
	<-s.release
	return security.User{}, errors.New("late")
}

func (s *stalledSource) VerifyCredential(ctx context.Context, u security.User, credential string) (bool, error) {
	<-s.release
	return false, errors.New("late")
}

func (s *stalledSource) ListUsers(ctx context.Context, source string) ([]security.User, error) {
	<-s.release
	return nil, errors.New("late")
}

// =============================================================================
// StartSession
// =============================================================================

func TestSecurity_StartSession(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: time.Hour})
	ctx := context.Background()

	first, err := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if first.ID == "" || first.UserID != "admin" || first.Source != "kimios" {
		t.Errorf("session = %+v", first)
	}
	if !first.ExpiresAt.Equal(epoch.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", first.ExpiresAt, epoch.Add(time.Hour))
	}

	second, err := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID == first.ID {
		t.Error("session ids must be unique")
	}
	if n, _ := f.sessions.Count(ctx); n != 2 {
		t.Errorf("stored sessions = %d, want 2", n)
	}
	if f.metrics.started != 2 {
		t.Errorf("SessionStarted calls = %d, want 2", f.metrics.started)
	}
}

func TestSecurity_StartSessionDefaultsSource(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{})

	sess, err := f.ctrl.StartSession(context.Background(), " admin ", "", "kimios")
	if err != nil {
		t.Fatalf("StartSession() error = %v", err)
	}
	if sess.Source != security.DefaultSource {
		t.Errorf("Source = %q, want %q", sess.Source, security.DefaultSource)
	}
}

func TestSecurity_StartSessionDenied(t *testing.T) {
	tests := []struct {
		name       string
		login      string
		source     string
		credential string
		reason     string
	}{
		{"wrong credential", "admin", "kimios", "nope", "credential mismatch"},
		{"unknown principal", "nobody", "kimios", "kimios", "unknown principal"},
		{"unknown source", "admin", "ldap", "kimios", "unknown principal"},
		{"disabled user", "gone", "kimios", "secret", "user disabled"},
		{"empty login", "  ", "kimios", "kimios", "empty login"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := setupSecurity(t, security.ExpiryPolicy{})
			ctx := context.Background()

			_, err := f.ctrl.StartSession(ctx, tt.login, tt.source, tt.credential)
			var denied *security.AccessDeniedError
			if !errors.As(err, &denied) {
				t.Fatalf("error = %v, want AccessDeniedError", err)
			}
			if denied.Reason != tt.reason {
				t.Errorf("Reason = %q, want %q", denied.Reason, tt.reason)
			}
			if errors.Is(err, security.ErrDataSourceUnavailable) {
				t.Error("denial must be distinguishable from an outage")
			}
			if n, _ := f.sessions.Count(ctx); n != 0 {
				t.Errorf("stored sessions = %d, want 0", n)
			}
			if len(f.metrics.failures) != 1 {
				t.Errorf("AuthFailure calls = %v", f.metrics.failures)
			}
		})
	}
}

func TestSecurity_StartSessionDataSourceDown(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{})
	f.source.FailWith(errors.New("connection refused"))

	_, err := f.ctrl.StartSession(context.Background(), "admin", "kimios", "kimios")
	if !errors.Is(err, security.ErrDataSourceUnavailable) {
		t.Fatalf("error = %v, want DataSourceUnavailableError", err)
	}
	if errors.Is(err, security.ErrAccessDenied) {
		t.Error("outage must not look like a denial")
	}
	if len(f.metrics.sourceErrors) != 1 || f.metrics.sourceErrors[0] != "resolve user" {
		t.Errorf("DataSourceError calls = %v", f.metrics.sourceErrors)
	}
}

func TestSecurity_StalledDataSourceTimesOut(t *testing.T) {
	stalled := &stalledSource{release: make(chan struct{})}
	defer close(stalled.release)

	ctrl := app.NewSecurityController(app.SecurityDeps{
		DataSource: stalled,
		Sessions:   memory.NewSessionStore(),
		Clock:      clock.Real{},
		IDGen:      idgen.UUID{},
		Logger:     zerolog.Nop(),
	}, app.SecurityConfig{DataSourceTimeout: 20 * time.Millisecond})

	start := time.Now()
	_, err := ctrl.StartSession(context.Background(), "admin", "kimios", "kimios")
	if !errors.Is(err, security.ErrDataSourceUnavailable) {
		t.Fatalf("StartSession() error = %v, want DataSourceUnavailableError", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error should wrap the deadline: %v", err)
	}

	_, err = ctrl.GetUsers(context.Background(), "kimios")
	if !errors.Is(err, security.ErrDataSourceUnavailable) {
		t.Fatalf("GetUsers() error = %v, want DataSourceUnavailableError", err)
	}

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("calls took %v, timeout not enforced", elapsed)
	}
}

func TestSecurity_StartSessionRetriesIDCollision(t *testing.T) {
	sessions := memory.NewSessionStore()
	ctrl := app.NewSecurityController(app.SecurityDeps{
		DataSource: setupSecurity(t, security.ExpiryPolicy{}).source,
		Sessions:   sessions,
		Clock:      clock.NewFake(epoch),
		IDGen:      &scriptedIDs{ids: []string{"taken", "taken"}, prefix: "fresh-"},
		Logger:     zerolog.Nop(),
	}, app.SecurityConfig{})
	ctx := context.Background()

	first, err := ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	if err != nil || first.ID != "taken" {
		t.Fatalf("first session = %q, %v", first.ID, err)
	}
	second, err := ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	if err != nil {
		t.Fatal(err)
	}
	if second.ID != "fresh-1" {
		t.Errorf("second session id = %q, want fresh-1", second.ID)
	}
}

// =============================================================================
// GetUsers
// =============================================================================

func TestSecurity_GetUsers(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{})
	ctx := context.Background()

	users, err := f.ctrl.GetUsers(ctx, "kimios")
	if err != nil {
		t.Fatal(err)
	}
	found := false
	for _, u := range users {
		if u.UID == "admin" {
			found = true
		}
	}
	if !found {
		t.Errorf("GetUsers(kimios) = %v, want admin included", users)
	}

	empty, err := f.ctrl.GetUsers(ctx, "ldap")
	if err != nil || empty == nil || len(empty) != 0 {
		t.Errorf("GetUsers(ldap) = %v, %v; want empty", empty, err)
	}

	f.source.FailWith(errors.New("disk I/O error"))
	if _, err := f.ctrl.GetUsers(ctx, "kimios"); !errors.Is(err, security.ErrDataSourceUnavailable) {
		t.Errorf("GetUsers() during outage error = %v", err)
	}
}

// =============================================================================
// Session / EndSession / Sweep
// =============================================================================

func TestSecurity_SessionAndEnd(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: time.Hour})
	ctx := context.Background()

	sess, _ := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")

	got, err := f.ctrl.Session(ctx, sess.ID)
	if err != nil || got.UserID != "admin" {
		t.Fatalf("Session() = %+v, %v", got, err)
	}

	if err := f.ctrl.EndSession(ctx, sess.ID); err != nil {
		t.Fatal(err)
	}
	if err := f.ctrl.EndSession(ctx, sess.ID); err != nil {
		t.Errorf("second EndSession() error = %v", err)
	}
	if err := f.ctrl.EndSession(ctx, "never-issued"); err != nil {
		t.Errorf("EndSession(unknown) error = %v", err)
	}
	if f.metrics.ended != 1 {
		t.Errorf("SessionEnded calls = %d, want 1", f.metrics.ended)
	}

	_, err = f.ctrl.Session(ctx, sess.ID)
	var notFound *security.SessionNotFoundError
	if !errors.As(err, &notFound) {
		t.Errorf("Session() after end error = %v, want SessionNotFoundError", err)
	}
}

func TestSecurity_ExpiredSessionLooksNeverIssued(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: time.Minute, Sliding: false})
	ctx := context.Background()

	sess, _ := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	f.clock.Advance(time.Minute)

	_, expiredErr := f.ctrl.Session(ctx, sess.ID)
	_, unknownErr := f.ctrl.Session(ctx, "never-issued")

	if !errors.Is(expiredErr, security.ErrSessionNotFound) || !errors.Is(unknownErr, security.ErrSessionNotFound) {
		t.Fatalf("errors = %v / %v, want SessionNotFoundError for both", expiredErr, unknownErr)
	}
	if n, _ := f.sessions.Count(ctx); n != 0 {
		t.Errorf("expired session should be deleted on access, %d stored", n)
	}
}

// staleSessions serves a fixed, outdated copy of a session from Get.
type staleSessions struct {
	*memory.SessionStore
	stale *security.Session
}

func (s *staleSessions) Get(ctx context.Context, id string) (security.Session, error) {
	if s.stale != nil && s.stale.ID == id {
		return *s.stale, nil
	}
	return s.SessionStore.Get(ctx, id)
}

func TestSecurity_StaleExpiredReadKeepsExtendedSession(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: 10 * time.Minute, Sliding: true})
	store := &staleSessions{SessionStore: memory.NewSessionStore()}
	ctrl := app.NewSecurityController(app.SecurityDeps{
		DataSource: f.source,
		Sessions:   store,
		Clock:      f.clock,
		IDGen:      &scriptedIDs{prefix: "s"},
		Logger:     zerolog.Nop(),
	}, app.SecurityConfig{Policy: security.ExpiryPolicy{TTL: 10 * time.Minute, Sliding: true}})
	ctx := context.Background()

	sess, err := ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	if err != nil {
		t.Fatal(err)
	}
	f.clock.Advance(9 * time.Minute)
	if _, err := ctrl.Session(ctx, sess.ID); err != nil {
		t.Fatalf("Session() error = %v", err)
	}

	// This request read the session before the extension above landed.
	f.clock.Advance(2 * time.Minute)
	store.stale = &sess
	if _, err := ctrl.Session(ctx, sess.ID); !errors.Is(err, security.ErrSessionNotFound) {
		t.Fatalf("stale read error = %v, want SessionNotFoundError", err)
	}

	got, err := store.SessionStore.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("extended session was deleted: %v", err)
	}
	if !got.ExpiresAt.Equal(epoch.Add(19 * time.Minute)) {
		t.Errorf("ExpiresAt = %v", got.ExpiresAt)
	}
}

func TestSecurity_SlidingExpiry(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: 10 * time.Minute, Sliding: true})
	ctx := context.Background()

	sess, _ := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")

	for i := 0; i < 3; i++ {
		f.clock.Advance(8 * time.Minute)
		got, err := f.ctrl.Session(ctx, sess.ID)
		if err != nil {
			t.Fatalf("access %d: Session() error = %v", i, err)
		}
		if !got.ExpiresAt.Equal(f.clock.Now().Add(10 * time.Minute)) {
			t.Errorf("access %d: ExpiresAt = %v", i, got.ExpiresAt)
		}
	}

	f.clock.Advance(11 * time.Minute)
	if _, err := f.ctrl.Session(ctx, sess.ID); !errors.Is(err, security.ErrSessionNotFound) {
		t.Errorf("idle session error = %v, want SessionNotFoundError", err)
	}
}

func TestSecurity_SweepExpired(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: time.Minute})
	ctx := context.Background()

	f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")
	f.ctrl.StartSession(ctx, "jdoe", "kimios", "secret")
	f.clock.Advance(2 * time.Minute)
	live, _ := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")

	n, err := f.ctrl.SweepExpired(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("SweepExpired() = %d, want 2", n)
	}
	if _, err := f.ctrl.Session(ctx, live.ID); err != nil {
		t.Errorf("live session swept: %v", err)
	}
	if f.metrics.expired != 2 {
		t.Errorf("SessionsExpired total = %d, want 2", f.metrics.expired)
	}
}

func TestSecurity_RunSweepsUntilCancelled(t *testing.T) {
	sessions := memory.NewSessionStore()
	ctrl := app.NewSecurityController(app.SecurityDeps{
		DataSource: memory.NewDataSource(hasher.Fake{}),
		Sessions:   sessions,
		Clock:      clock.Real{},
		IDGen:      idgen.UUID{},
		Logger:     zerolog.Nop(),
	}, app.SecurityConfig{Policy: security.ExpiryPolicy{TTL: time.Hour, SweepInterval: 5 * time.Millisecond}})

	ctx, cancel := context.WithCancel(context.Background())
	sessions.Create(ctx, security.Session{ID: "old", ExpiresAt: time.Now().Add(-time.Second)})

	done := make(chan struct{})
	go func() {
		ctrl.Run(ctx)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := sessions.Get(ctx, "old"); errors.Is(err, ports.ErrNotFound) {
			break
		}
		select {
		case <-deadline:
			t.Fatal("sweeper never removed the expired session")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
}

func TestSecurity_UpdatePolicy(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{TTL: time.Minute})

	f.ctrl.UpdatePolicy(security.ExpiryPolicy{TTL: 2 * time.Hour, Sliding: true})
	p := f.ctrl.Policy()
	if p.TTL != 2*time.Hour || !p.Sliding || p.SweepInterval != time.Minute {
		t.Errorf("Policy() = %+v", p)
	}

	sess, _ := f.ctrl.StartSession(context.Background(), "admin", "kimios", "kimios")
	if !sess.ExpiresAt.Equal(epoch.Add(2 * time.Hour)) {
		t.Errorf("ExpiresAt = %v, new policy not applied", sess.ExpiresAt)
	}
}

func TestSecurity_ConcurrentStartSession(t *testing.T) {
	f := setupSecurity(t, security.ExpiryPolicy{})
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := f.ctrl.StartSession(ctx, "admin", "kimios", "kimios")
			if err != nil {
				t.Error(err)
				return
			}
			ids <- sess.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Fatalf("duplicate session id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Errorf("got %d sessions, want 50", len(seen))
	}
}
