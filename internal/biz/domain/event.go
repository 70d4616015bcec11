package domain

import "time"

// InboundEvent is a single message delivered by the gateway
type InboundEvent struct {
	EventID    string
	UserID     string
	SenderName string
	ChannelID  string
	CategoryID string // empty outside server contexts
	GuildID    string // empty for direct messages
	Text       string
	Timestamp  time.Time

	IsDM         bool
	MentionsBot  bool
	IsReplyToBot bool
}

// InGroupChat reports whether the event originates in a shared
// conversation rather than a direct message. Only group-chat events
// contribute channel and guild rate-limit scopes; platforms without a
// guild layer leave GuildID empty.
func (e *InboundEvent) InGroupChat() bool {
	return !e.IsDM
}

// Addressed reports whether the sender obviously wants a reply:
// a direct message, an explicit mention, or a reply to the bot.
func (e *InboundEvent) Addressed() bool {
	return e.IsDM || e.MentionsBot || e.IsReplyToBot
}
