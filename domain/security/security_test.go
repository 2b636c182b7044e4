package security

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := ExpiryPolicy{TTL: time.Hour}
	user := User{UID: "admin", Source: DefaultSource}

	s := NewSession("s1", user, now, policy)

	if s.UserID != "admin" || s.Source != DefaultSource {
		t.Errorf("principal = %s@%s", s.UserID, s.Source)
	}
	if !s.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", s.ExpiresAt)
	}
	if s.IsExpired(now.Add(59 * time.Minute)) {
		t.Error("session should be live before deadline")
	}
	if !s.IsExpired(now.Add(time.Hour)) {
		t.Error("session should be expired at deadline")
	}
}

func TestSession_Touch(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewSession("s1", User{UID: "u"}, now, ExpiryPolicy{TTL: time.Minute})
	later := now.Add(30 * time.Second)

	fixed := s.Touch(later, ExpiryPolicy{TTL: time.Minute})
	if !fixed.ExpiresAt.Equal(s.ExpiresAt) {
		t.Error("non-sliding touch must not move the deadline")
	}
	if !fixed.LastAccessAt.Equal(later) {
		t.Error("touch must record access time")
	}

	slid := s.Touch(later, ExpiryPolicy{TTL: time.Minute, Sliding: true})
	if !slid.ExpiresAt.Equal(later.Add(time.Minute)) {
		t.Errorf("sliding ExpiresAt = %v", slid.ExpiresAt)
	}
}

func TestExpiryPolicy_WithDefaults(t *testing.T) {
	p := ExpiryPolicy{}.WithDefaults()
	if p.TTL != 30*time.Minute || p.SweepInterval != time.Minute {
		t.Errorf("defaults = %+v", p)
	}
	p = ExpiryPolicy{TTL: time.Second}.WithDefaults()
	if p.TTL != time.Second {
		t.Errorf("TTL overwritten: %v", p.TTL)
	}
}

func TestErrorsAreDistinct(t *testing.T) {
	denied := fmt.Errorf("login: %w", &AccessDeniedError{Login: "admin", Source: "kimios"})
	down := fmt.Errorf("login: %w", &DataSourceUnavailableError{Op: "resolve user", Err: context.DeadlineExceeded})
	missing := &SessionNotFoundError{ID: "x"}

	if !errors.Is(denied, ErrAccessDenied) || errors.Is(denied, ErrDataSourceUnavailable) {
		t.Error("access denied must only match ErrAccessDenied")
	}
	if !errors.Is(down, ErrDataSourceUnavailable) || errors.Is(down, ErrAccessDenied) {
		t.Error("data source failure must only match ErrDataSourceUnavailable")
	}
	if !errors.Is(down, context.DeadlineExceeded) {
		t.Error("data source failure should unwrap to its cause")
	}
	if !errors.Is(missing, ErrSessionNotFound) {
		t.Error("session not found should match sentinel")
	}
}
