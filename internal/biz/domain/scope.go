package domain

// ScopeKind identifies the dimension a rate limit is tracked over
type ScopeKind string

const (
	ScopeUser    ScopeKind = "user"
	ScopeChannel ScopeKind = "channel"
	ScopeGuild   ScopeKind = "guild"
	ScopeGlobal  ScopeKind = "global"
)

// lockOrder gives every kind a fixed position so that concurrent
// multi-scope checks always acquire bucket locks in the same order
var lockOrder = map[ScopeKind]int{
	ScopeUser:    0,
	ScopeChannel: 1,
	ScopeGuild:   2,
	ScopeGlobal:  3,
}

// IsValid reports whether the kind is one of the recognized scope kinds
func (k ScopeKind) IsValid() bool {
	_, ok := lockOrder[k]
	return ok
}

// ScopeKey identifies a single rate-limit bucket.
// Keys compare structurally, so they can be used directly as map keys.
type ScopeKey struct {
	Kind ScopeKind
	ID   string
}

// GlobalScope is the singleton key for the process-wide limit
var GlobalScope = ScopeKey{Kind: ScopeGlobal, ID: "global"}

// UserScope returns the key for a user's bucket
func UserScope(userID string) ScopeKey {
	return ScopeKey{Kind: ScopeUser, ID: userID}
}

// ChannelScope returns the key for a channel's bucket
func ChannelScope(channelID string) ScopeKey {
	return ScopeKey{Kind: ScopeChannel, ID: channelID}
}

// GuildScope returns the key for a guild's bucket
func GuildScope(guildID string) ScopeKey {
	return ScopeKey{Kind: ScopeGuild, ID: guildID}
}

// Less orders keys by kind first, then ID. Used as the lock
// acquisition order during a multi-scope admission check.
func (s ScopeKey) Less(other ScopeKey) bool {
	if lockOrder[s.Kind] != lockOrder[other.Kind] {
		return lockOrder[s.Kind] < lockOrder[other.Kind]
	}
	return s.ID < other.ID
}

// String formats the key as kind/id for logs
func (s ScopeKey) String() string {
	return string(s.Kind) + "/" + s.ID
}
