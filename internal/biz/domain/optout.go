package domain

import "time"

// OptOutEntry records a user's self-requested interaction lockout
type OptOutEntry struct {
	UserID           string
	LockoutExpiresAt time.Time
}

// Expired reports whether the lockout has elapsed at the given instant
func (e OptOutEntry) Expired(now time.Time) bool {
	return !now.Before(e.LockoutExpiresAt)
}
