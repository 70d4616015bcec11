package repo

import (
	"context"

	"github.com/replygate/replygate/internal/biz/domain"
)

// OptOutRepo persists opt-out entries across restarts
type OptOutRepo interface {
	// LoadAll returns every persisted entry, expired ones included
	LoadAll(ctx context.Context) ([]domain.OptOutEntry, error)

	// Save inserts or refreshes an entry. The write is durable
	// before Save returns.
	Save(ctx context.Context, entry domain.OptOutEntry) error

	// Delete removes a user's entry. Deleting an absent entry is not an error.
	Delete(ctx context.Context, userID string) error

	// Close closes the underlying store
	Close() error
}
