package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
)

// Decision is the outcome of one admission check
type Decision struct {
	Admitted bool

	// DeniedKind names the first scope kind, in resolution order,
	// whose bucket had no token. Only set when Admitted is false.
	DeniedKind domain.ScopeKind
}

// scopeBucket pairs a bucket with its own lock so contention on one
// scope never blocks unrelated scopes
type scopeBucket struct {
	mu sync.Mutex
	b  *domain.Bucket
}

// RateLimiter keeps one token bucket per seen ScopeKey, configured
// per scope kind. Buckets are created lazily and kept for the process
// lifetime.
type RateLimiter struct {
	mu      sync.Mutex // guards buckets map only, never held during a check
	buckets map[domain.ScopeKey]*scopeBucket
	configs map[domain.ScopeKind]domain.BucketConfig
	now     func() time.Time
}

// NewRateLimiter creates a limiter with per-kind configs. Kinds with
// no config are unlimited and skipped during checks.
func NewRateLimiter(configs map[domain.ScopeKind]domain.BucketConfig) *RateLimiter {
	return &RateLimiter{
		buckets: make(map[domain.ScopeKey]*scopeBucket),
		configs: configs,
		now:     time.Now,
	}
}

// SetClock replaces the limiter's clock. Test hook.
func (l *RateLimiter) SetClock(now func() time.Time) {
	l.now = now
}

func (l *RateLimiter) getOrCreate(key domain.ScopeKey, now time.Time) *scopeBucket {
	l.mu.Lock()
	defer l.mu.Unlock()

	if sb, ok := l.buckets[key]; ok {
		return sb
	}
	sb := &scopeBucket{b: domain.NewBucket(l.configs[key.Kind], now)}
	l.buckets[key] = sb
	return sb
}

// Check runs one admission decision over the resolved scopes.
// Either every configured scope's bucket is debited exactly one token,
// or none is. Bucket locks are taken in the fixed (kind, ID) order so
// concurrent checks sharing a subset of scopes cannot deadlock.
func (l *RateLimiter) Check(keys []domain.ScopeKey) Decision {
	now := l.now()

	// Scopes whose kind carries no config are unlimited
	checked := make([]domain.ScopeKey, 0, len(keys))
	for _, key := range keys {
		if _, ok := l.configs[key.Kind]; ok {
			checked = append(checked, key)
		}
	}
	if len(checked) == 0 {
		return Decision{Admitted: true}
	}

	entries := make(map[domain.ScopeKey]*scopeBucket, len(checked))
	for _, key := range checked {
		entries[key] = l.getOrCreate(key, now)
	}

	locking := make([]domain.ScopeKey, len(checked))
	copy(locking, checked)
	sort.Slice(locking, func(i, j int) bool { return locking[i].Less(locking[j]) })

	for _, key := range locking {
		entries[key].mu.Lock()
	}
	defer func() {
		for i := len(locking) - 1; i >= 0; i-- {
			entries[locking[i]].mu.Unlock()
		}
	}()

	for _, key := range locking {
		entries[key].b.Refill(now)
	}

	// Report the denial against the resolution order, most specific first
	for _, key := range checked {
		if !entries[key].b.HasToken() {
			return Decision{Admitted: false, DeniedKind: key.Kind}
		}
	}

	for _, key := range checked {
		entries[key].b.Debit()
	}
	return Decision{Admitted: true}
}

// Remaining returns the whole tokens currently available for a scope,
// refilled to the present. A scope never seen reports its kind's full
// capacity; an unconfigured kind reports zero.
func (l *RateLimiter) Remaining(key domain.ScopeKey) int {
	cfg, ok := l.configs[key.Kind]
	if !ok {
		return 0
	}

	l.mu.Lock()
	sb, seen := l.buckets[key]
	l.mu.Unlock()
	if !seen {
		return cfg.Capacity
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.b.Refill(l.now())
	return sb.b.Remaining()
}

// Reset refills a scope's bucket to capacity. The external reset for
// consume-only buckets (refill rate zero).
func (l *RateLimiter) Reset(key domain.ScopeKey) {
	l.mu.Lock()
	sb, seen := l.buckets[key]
	l.mu.Unlock()
	if !seen {
		return
	}

	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.b.Reset(l.now())
}

// Configs returns the per-kind limiter parameters
func (l *RateLimiter) Configs() map[domain.ScopeKind]domain.BucketConfig {
	return l.configs
}
