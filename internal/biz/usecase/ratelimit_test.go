package usecase

import (
	"sync"
	"testing"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
)

// fakeClock returns a controllable clock for the limiter
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestCheckBurstThenRefill(t *testing.T) {
	clock := newFakeClock()
	l := NewRateLimiter(map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser: {Capacity: 5, RefillPerSecond: 1},
	})
	l.SetClock(clock.Now)

	keys := []domain.ScopeKey{domain.UserScope("u1")}

	for i := 0; i < 5; i++ {
		if d := l.Check(keys); !d.Admitted {
			t.Fatalf("Expected check %d to admit", i+1)
		}
	}
	if d := l.Check(keys); d.Admitted {
		t.Fatal("Expected 6th check within the same second to deny")
	} else if d.DeniedKind != domain.ScopeUser {
		t.Errorf("Expected denial at user scope, got %s", d.DeniedKind)
	}

	clock.Advance(time.Second)
	if d := l.Check(keys); !d.Admitted {
		t.Fatal("Expected exactly one admit after 1s refill")
	}
	if d := l.Check(keys); d.Admitted {
		t.Fatal("Expected second check after refill to deny")
	}
}

func TestCheckAllOrNothingDebit(t *testing.T) {
	l := NewRateLimiter(map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser:  {Capacity: 10, RefillPerSecond: 0},
		domain.ScopeGuild: {Capacity: 0, RefillPerSecond: 0},
	})

	keys := []domain.ScopeKey{
		domain.UserScope("u1"),
		domain.GuildScope("g1"),
	}

	d := l.Check(keys)
	if d.Admitted {
		t.Fatal("Expected denial at zero-capacity guild scope")
	}
	if d.DeniedKind != domain.ScopeGuild {
		t.Errorf("Expected denial at guild scope, got %s", d.DeniedKind)
	}

	// The user bucket passed its own check but must not have been debited
	if got := l.Remaining(domain.UserScope("u1")); got != 10 {
		t.Errorf("Expected user bucket untouched at 10, got %d", got)
	}
}

func TestCheckDeniedKindFollowsResolutionOrder(t *testing.T) {
	l := NewRateLimiter(map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser:   {Capacity: 0, RefillPerSecond: 0},
		domain.ScopeGlobal: {Capacity: 0, RefillPerSecond: 0},
	})

	keys := []domain.ScopeKey{
		domain.UserScope("u1"),
		domain.GlobalScope,
	}

	d := l.Check(keys)
	if d.Admitted {
		t.Fatal("Expected denial")
	}
	if d.DeniedKind != domain.ScopeUser {
		t.Errorf("Expected most specific denied kind first, got %s", d.DeniedKind)
	}
}

func TestCheckUnconfiguredKindIsUnlimited(t *testing.T) {
	l := NewRateLimiter(map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeGlobal: {Capacity: 100, RefillPerSecond: 1},
	})

	keys := []domain.ScopeKey{
		domain.UserScope("u1"),
		domain.GlobalScope,
	}

	for i := 0; i < 50; i++ {
		if d := l.Check(keys); !d.Admitted {
			t.Fatalf("Expected check %d to admit", i+1)
		}
	}
	if got := l.Remaining(domain.GlobalScope); got != 50 {
		t.Errorf("Expected 50 global tokens left, got %d", got)
	}
}

func TestCheckConcurrentSharedScope(t *testing.T) {
	l := NewRateLimiter(map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeUser:   {Capacity: 100, RefillPerSecond: 0},
		domain.ScopeGlobal: {Capacity: 40, RefillPerSecond: 0},
	})

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0

	// 10 users, 10 attempts each, all sharing the global scope.
	// Exactly the global capacity may be admitted, with no partial
	// debits on any interleaving.
	for u := 0; u < 10; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			keys := []domain.ScopeKey{
				domain.UserScope(string(rune('a' + u))),
				domain.GlobalScope,
			}
			for i := 0; i < 10; i++ {
				if d := l.Check(keys); d.Admitted {
					mu.Lock()
					admitted++
					mu.Unlock()
				}
			}
		}(u)
	}
	wg.Wait()

	if admitted != 40 {
		t.Errorf("Expected exactly 40 admits, got %d", admitted)
	}
	if got := l.Remaining(domain.GlobalScope); got != 0 {
		t.Errorf("Expected global bucket exhausted, got %d", got)
	}

	// User debits must equal per-user admits in aggregate
	total := 0
	for u := 0; u < 10; u++ {
		total += 100 - l.Remaining(domain.UserScope(string(rune('a'+u))))
	}
	if total != 40 {
		t.Errorf("Expected 40 user tokens debited in aggregate, got %d", total)
	}
}

func TestRemainingAndReset(t *testing.T) {
	l := NewRateLimiter(map[domain.ScopeKind]domain.BucketConfig{
		domain.ScopeChannel: {Capacity: 3, RefillPerSecond: 0},
	})

	key := domain.ChannelScope("c1")
	if got := l.Remaining(key); got != 3 {
		t.Errorf("Expected unseen scope to report capacity, got %d", got)
	}

	keys := []domain.ScopeKey{key}
	l.Check(keys)
	l.Check(keys)
	if got := l.Remaining(key); got != 1 {
		t.Errorf("Expected 1 token left, got %d", got)
	}

	l.Reset(key)
	if got := l.Remaining(key); got != 3 {
		t.Errorf("Expected reset to restore capacity, got %d", got)
	}
}
