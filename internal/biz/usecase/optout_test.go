package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
)

type mockOptOutRepo struct {
	mu      sync.Mutex
	entries map[string]time.Time
	saves   int
	deletes int
	failing bool
}

func newMockOptOutRepo() *mockOptOutRepo {
	return &mockOptOutRepo{entries: make(map[string]time.Time)}
}

func (m *mockOptOutRepo) LoadAll(ctx context.Context) ([]domain.OptOutEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OptOutEntry
	for id, exp := range m.entries {
		out = append(out, domain.OptOutEntry{UserID: id, LockoutExpiresAt: exp})
	}
	return out, nil
}

func (m *mockOptOutRepo) Save(ctx context.Context, entry domain.OptOutEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return context.DeadlineExceeded
	}
	m.entries[entry.UserID] = entry.LockoutExpiresAt
	m.saves++
	return nil
}

func (m *mockOptOutRepo) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return context.DeadlineExceeded
	}
	delete(m.entries, userID)
	m.deletes++
	return nil
}

func (m *mockOptOutRepo) Close() error { return nil }

func (m *mockOptOutRepo) has(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.entries[userID]
	return ok
}

func newTestRegistry(t *testing.T, repo *mockOptOutRepo) (*OptOutRegistry, *fakeClock) {
	t.Helper()
	reg, err := NewOptOutRegistry(context.Background(), repo)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	clock := newFakeClock()
	reg.SetClock(clock.Now)
	return reg, clock
}

func TestOptOutThenLockedOut(t *testing.T) {
	repo := newMockOptOutRepo()
	reg, clock := newTestRegistry(t, repo)
	ctx := context.Background()

	if err := reg.OptOut(ctx, "u1", 30*24*time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reg.IsLockedOut(ctx, "u1") {
		t.Error("Expected u1 locked out immediately after opt-out")
	}
	if !repo.has("u1") {
		t.Error("Expected opt-out persisted before return")
	}

	clock.Advance(30*24*time.Hour + time.Second)
	if reg.IsLockedOut(ctx, "u1") {
		t.Error("Expected lockout expired after duration elapsed")
	}
	if repo.has("u1") {
		t.Error("Expected expired entry lazily purged from store")
	}
}

func TestOptInClearsLockout(t *testing.T) {
	repo := newMockOptOutRepo()
	reg, _ := newTestRegistry(t, repo)
	ctx := context.Background()

	if err := reg.OptOut(ctx, "u1", 365*24*time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if err := reg.OptIn(ctx, "u1"); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if reg.IsLockedOut(ctx, "u1") {
		t.Error("Expected opt-in to clear lockout regardless of duration")
	}
	if repo.has("u1") {
		t.Error("Expected entry deleted from store")
	}
}

func TestReOptOutRefreshesExpiry(t *testing.T) {
	repo := newMockOptOutRepo()
	reg, clock := newTestRegistry(t, repo)
	ctx := context.Background()

	if err := reg.OptOut(ctx, "u1", time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	clock.Advance(30 * time.Minute)
	if err := reg.OptOut(ctx, "u1", time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	clock.Advance(45 * time.Minute)
	if !reg.IsLockedOut(ctx, "u1") {
		t.Error("Expected refreshed lockout still active")
	}
}

func TestRegistryLoadsPersistedEntries(t *testing.T) {
	repo := newMockOptOutRepo()
	repo.entries["u1"] = time.Now().Add(time.Hour)

	reg, err := NewOptOutRegistry(context.Background(), repo)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if !reg.IsLockedOut(context.Background(), "u1") {
		t.Error("Expected persisted entry active after load")
	}
}

func TestOptOutPersistFailureLeavesStateUnchanged(t *testing.T) {
	repo := newMockOptOutRepo()
	reg, _ := newTestRegistry(t, repo)
	ctx := context.Background()

	repo.failing = true
	if err := reg.OptOut(ctx, "u1", time.Hour); err == nil {
		t.Fatal("Expected error when persistence fails")
	}
	if reg.IsLockedOut(ctx, "u1") {
		t.Error("Expected no lockout when the durable write failed")
	}
}

func TestLockedOutSet(t *testing.T) {
	repo := newMockOptOutRepo()
	reg, _ := newTestRegistry(t, repo)
	ctx := context.Background()

	if err := reg.OptOut(ctx, "u2", time.Hour); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	set := reg.LockedOutSet(ctx, []string{"u1", "u2", "u3", "u2"})
	if len(set) != 1 {
		t.Fatalf("Expected 1 locked-out user, got %d", len(set))
	}
	if _, ok := set["u2"]; !ok {
		t.Error("Expected u2 in locked-out set")
	}
}
