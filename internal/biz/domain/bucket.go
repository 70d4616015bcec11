package domain

import "time"

// BucketConfig holds the per-scope-kind limiter parameters
type BucketConfig struct {
	Capacity        int     // max tokens; 0 permanently denies the scope
	RefillPerSecond float64 // 0 makes the bucket consume-only until reset
}

// Bucket is the token-bucket state for one ScopeKey.
// Tokens are fractional so slow refill rates accumulate smoothly.
// Invariant: 0 <= Tokens <= Capacity.
type Bucket struct {
	Config     BucketConfig
	Tokens     float64
	LastRefill time.Time
}

// NewBucket creates a full bucket
func NewBucket(cfg BucketConfig, now time.Time) *Bucket {
	return &Bucket{
		Config:     cfg,
		Tokens:     float64(cfg.Capacity),
		LastRefill: now,
	}
}

// Refill credits tokens for the time elapsed since the last refill
// and advances the refill timestamp. A clock that moved backwards
// credits nothing and keeps the timestamp, so the same interval is
// not credited again once time catches up.
func (b *Bucket) Refill(now time.Time) {
	elapsed := now.Sub(b.LastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.Tokens += elapsed * b.Config.RefillPerSecond
	if b.Tokens > float64(b.Config.Capacity) {
		b.Tokens = float64(b.Config.Capacity)
	}
	b.LastRefill = now
}

// HasToken reports whether one whole token is available
func (b *Bucket) HasToken() bool {
	return b.Tokens >= 1
}

// Debit consumes one token. Callers must have checked HasToken first;
// the balance is clamped at zero so the invariant survives misuse.
func (b *Bucket) Debit() {
	b.Tokens--
	if b.Tokens < 0 {
		b.Tokens = 0
	}
}

// Reset refills the bucket to capacity. Used as the external reset
// for consume-only buckets (RefillPerSecond = 0).
func (b *Bucket) Reset(now time.Time) {
	b.Tokens = float64(b.Config.Capacity)
	b.LastRefill = now
}

// Remaining returns the whole tokens currently available
func (b *Bucket) Remaining() int {
	if b.Tokens < 0 {
		return 0
	}
	return int(b.Tokens)
}
