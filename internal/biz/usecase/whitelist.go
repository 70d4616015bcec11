package usecase

// Whitelist is the immutable allow-list of platform IDs loaded at
// startup. An empty list means respond everywhere.
type Whitelist struct {
	ids map[string]struct{}
}

// NewWhitelist builds a whitelist from configured IDs. Blank entries
// are ignored.
func NewWhitelist(ids []string) *Whitelist {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	return &Whitelist{ids: set}
}

// Allowed reports whether an event from the given channel, category
// and guild may proceed. With no configured IDs every event is
// allowed; otherwise any one matching ID is enough.
func (w *Whitelist) Allowed(channelID, categoryID, guildID string) bool {
	if len(w.ids) == 0 {
		return true
	}
	for _, id := range []string{channelID, categoryID, guildID} {
		if id == "" {
			continue
		}
		if _, ok := w.ids[id]; ok {
			return true
		}
	}
	return false
}

// Listed returns the configured IDs. Empty means allow-all.
func (w *Whitelist) Listed() []string {
	out := make([]string, 0, len(w.ids))
	for id := range w.ids {
		out = append(out, id)
	}
	return out
}
