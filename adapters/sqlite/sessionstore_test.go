package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/artpar/bundlehost/adapters/sqlite"
	"github.com/artpar/bundlehost/domain/security"
	"github.com/artpar/bundlehost/ports"
)

func testSession(id string, expires time.Time) security.Session {
	created := expires.Add(-time.Hour)
	return security.Session{
		ID:           id,
		UserID:       "admin",
		Source:       "kimios",
		CreatedAt:    created,
		LastAccessAt: created,
		ExpiresAt:    expires,
	}
}

func TestSessionStore_CreateAndGet(t *testing.T) {
	store := sqlite.NewSessionStore(setupTestDB(t))
	ctx := context.Background()

	session := testSession("sess_test123", time.Date(2024, 5, 1, 12, 0, 0, 123456789, time.UTC))
	if err := store.Create(ctx, session); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	got, err := store.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.UserID != "admin" || got.Source != "kimios" {
		t.Errorf("Get() = %+v", got)
	}
	if !got.ExpiresAt.Equal(session.ExpiresAt) {
		t.Errorf("ExpiresAt = %v, want %v", got.ExpiresAt, session.ExpiresAt)
	}
	if !got.CreatedAt.Equal(session.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, session.CreatedAt)
	}

	if err := store.Create(ctx, session); !errors.Is(err, ports.ErrSessionExists) {
		t.Errorf("duplicate Create() error = %v, want ErrSessionExists", err)
	}
}

func TestSessionStore_GetNotFound(t *testing.T) {
	store := sqlite.NewSessionStore(setupTestDB(t))

	if _, err := store.Get(context.Background(), "missing"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestSessionStore_Update(t *testing.T) {
	store := sqlite.NewSessionStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC()

	s := testSession("s1", now.Add(time.Minute))
	store.Create(ctx, s)

	s.LastAccessAt = now
	s.ExpiresAt = now.Add(time.Hour)
	if err := store.Update(ctx, s); err != nil {
		t.Fatal(err)
	}
	got, _ := store.Get(ctx, "s1")
	if !got.ExpiresAt.Equal(s.ExpiresAt) || !got.LastAccessAt.Equal(now) {
		t.Errorf("Update not persisted: %+v", got)
	}

	if err := store.Update(ctx, testSession("ghost", now)); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Update(unknown) error = %v", err)
	}
}

func TestSessionStore_Delete(t *testing.T) {
	store := sqlite.NewSessionStore(setupTestDB(t))
	ctx := context.Background()

	store.Create(ctx, testSession("s1", time.Now().Add(time.Hour)))

	if err := store.Delete(ctx, "s1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := store.Delete(ctx, "s1"); err != nil {
		t.Errorf("second Delete() error = %v, want nil", err)
	}
	if n, _ := store.Count(ctx); n != 0 {
		t.Errorf("Count() = %d, want 0", n)
	}
}

func TestSessionStore_DeleteExpired(t *testing.T) {
	store := sqlite.NewSessionStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store.Create(ctx, testSession("past", now.Add(-time.Nanosecond)))
	store.Create(ctx, testSession("boundary", now))
	store.Create(ctx, testSession("future", now.Add(time.Nanosecond)))

	n, err := store.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("DeleteExpired() = %d, want 2", n)
	}
	if _, err := store.Get(ctx, "future"); err != nil {
		t.Errorf("future session swept: %v", err)
	}
}

func TestSessionStore_DeleteIfExpired(t *testing.T) {
	store := sqlite.NewSessionStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	store.Create(ctx, testSession("s1", now.Add(-time.Second)))

	// Another request extends the session after this one read it as expired.
	extended := testSession("s1", now.Add(time.Hour))
	if err := store.Update(ctx, extended); err != nil {
		t.Fatal(err)
	}
	if ok, err := store.DeleteIfExpired(ctx, "s1", now); err != nil || ok {
		t.Fatalf("DeleteIfExpired() on extended session = %v, %v", ok, err)
	}
	if _, err := store.Get(ctx, "s1"); err != nil {
		t.Errorf("extended session deleted: %v", err)
	}

	if ok, err := store.DeleteIfExpired(ctx, "s1", now.Add(time.Hour)); err != nil || !ok {
		t.Errorf("DeleteIfExpired() at deadline = %v, %v", ok, err)
	}
	if _, err := store.Get(ctx, "s1"); !errors.Is(err, ports.ErrNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
}
