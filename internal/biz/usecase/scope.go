package usecase

import (
	"github.com/replygate/replygate/internal/biz/domain"
)

// ScopeResolver derives the ordered set of rate-limit scopes that
// apply to an inbound event
type ScopeResolver struct{}

// NewScopeResolver creates a scope resolver
func NewScopeResolver() *ScopeResolver {
	return &ScopeResolver{}
}

// Resolve returns the ScopeKeys to check for an event, most specific
// first and Global always last. Direct messages contribute only the
// user and global scopes. Absent IDs are absent scopes, never errors.
func (r *ScopeResolver) Resolve(ev *domain.InboundEvent) []domain.ScopeKey {
	keys := make([]domain.ScopeKey, 0, 4)

	if ev.UserID != "" {
		keys = append(keys, domain.UserScope(ev.UserID))
	}
	if ev.InGroupChat() {
		if ev.ChannelID != "" {
			keys = append(keys, domain.ChannelScope(ev.ChannelID))
		}
		if ev.GuildID != "" {
			keys = append(keys, domain.GuildScope(ev.GuildID))
		}
	}
	keys = append(keys, domain.GlobalScope)

	return keys
}
