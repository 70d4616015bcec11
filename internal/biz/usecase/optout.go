package usecase

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"
)

// OptOutRegistry tracks users who disabled bot interaction.
// Mutations are written durably before returning; reads come from an
// in-memory view loaded at startup. Operations on the same user are
// linearized by a per-user lock; different users never contend.
type OptOutRegistry struct {
	repo repo.OptOutRepo
	now  func() time.Time

	mu      sync.Mutex // guards entries and locks maps
	entries map[string]time.Time
	locks   map[string]*sync.Mutex
}

// NewOptOutRegistry creates a registry and loads persisted entries
func NewOptOutRegistry(ctx context.Context, r repo.OptOutRepo) (*OptOutRegistry, error) {
	persisted, err := r.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load opt-out entries: %w", err)
	}

	entries := make(map[string]time.Time, len(persisted))
	for _, e := range persisted {
		entries[e.UserID] = e.LockoutExpiresAt
	}

	return &OptOutRegistry{
		repo:    r,
		now:     time.Now,
		entries: entries,
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// SetClock replaces the registry's clock. Test hook.
func (g *OptOutRegistry) SetClock(now func() time.Time) {
	g.now = now
}

func (g *OptOutRegistry) userLock(userID string) *sync.Mutex {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.locks[userID]; ok {
		return m
	}
	m := &sync.Mutex{}
	g.locks[userID] = m
	return m
}

func (g *OptOutRegistry) setEntry(userID string, expires time.Time) {
	g.mu.Lock()
	g.entries[userID] = expires
	g.mu.Unlock()
}

func (g *OptOutRegistry) deleteEntry(userID string) {
	g.mu.Lock()
	delete(g.entries, userID)
	g.mu.Unlock()
}

func (g *OptOutRegistry) getEntry(userID string) (time.Time, bool) {
	g.mu.Lock()
	expires, ok := g.entries[userID]
	g.mu.Unlock()
	return expires, ok
}

// OptOut sets or refreshes a user's lockout. The entry is durable
// before OptOut returns.
func (g *OptOutRegistry) OptOut(ctx context.Context, userID string, duration time.Duration) error {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	expires := g.now().Add(duration)
	err := g.repo.Save(ctx, domain.OptOutEntry{UserID: userID, LockoutExpiresAt: expires})
	if err != nil {
		return fmt.Errorf("persist opt-out: %w", err)
	}
	g.setEntry(userID, expires)
	return nil
}

// OptIn removes a user's lockout regardless of its expiry
func (g *OptOutRegistry) OptIn(ctx context.Context, userID string) error {
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	if err := g.repo.Delete(ctx, userID); err != nil {
		return fmt.Errorf("persist opt-in: %w", err)
	}
	g.deleteEntry(userID)
	return nil
}

// IsLockedOut reports whether the user currently has an active
// lockout. Expired entries are lazily purged on read.
func (g *OptOutRegistry) IsLockedOut(ctx context.Context, userID string) bool {
	expires, ok := g.getEntry(userID)
	if !ok {
		return false
	}
	if g.now().Before(expires) {
		return true
	}

	// Expired. Purge under the user lock, re-checking in case the
	// user re-opted-out while we waited.
	lock := g.userLock(userID)
	lock.Lock()
	defer lock.Unlock()

	expires, ok = g.getEntry(userID)
	if !ok {
		return false
	}
	if g.now().Before(expires) {
		return true
	}
	if err := g.repo.Delete(ctx, userID); err != nil {
		fmt.Printf("[OptOut] Failed to purge expired entry for %s: %v\n", userID, err)
		return false
	}
	g.deleteEntry(userID)
	return false
}

// Status returns the lockout expiry for a user, if an active one exists
func (g *OptOutRegistry) Status(ctx context.Context, userID string) (time.Time, bool) {
	if !g.IsLockedOut(ctx, userID) {
		return time.Time{}, false
	}
	expires, ok := g.getEntry(userID)
	return expires, ok
}

// LockedOutSet returns the subset of userIDs with an active lockout.
// Used to scrub locked-out authors from assembled context.
func (g *OptOutRegistry) LockedOutSet(ctx context.Context, userIDs []string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, id := range userIDs {
		if _, done := out[id]; done {
			continue
		}
		if g.IsLockedOut(ctx, id) {
			out[id] = struct{}{}
		}
	}
	return out
}
