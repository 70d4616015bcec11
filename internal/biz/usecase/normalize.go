package usecase

import (
	"regexp"
	"strings"
)

var (
	userMentionRe   = regexp.MustCompile(`<@!?(\d+)>`)
	roleMentionRe   = regexp.MustCompile(`<@&(\d+)>`)
	customEmojiRe   = regexp.MustCompile(`<a?:(\w+):(\d+)>`)
	authorNameStrip = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

const maxAuthorNameLen = 64

// NormalizeMarkup rewrites platform mention and emoji markup into a
// plain form the generation API can read. names maps user IDs to
// display names; an unknown ID falls back to the raw ID.
func NormalizeMarkup(text string, names map[string]string) string {
	out := userMentionRe.ReplaceAllStringFunc(text, func(m string) string {
		id := userMentionRe.FindStringSubmatch(m)[1]
		if name, ok := names[id]; ok && name != "" {
			return "@" + name
		}
		return "@" + id
	})
	out = roleMentionRe.ReplaceAllString(out, "@role")
	out = customEmojiRe.ReplaceAllString(out, ":$1:")
	return out
}

// SanitizeAuthorName restricts a display name to the charset the
// generation API accepts in name fields: ascii letters, digits,
// underscore and hyphen, at most 64 characters
func SanitizeAuthorName(name string) string {
	s := authorNameStrip.ReplaceAllString(strings.ReplaceAll(name, " ", "-"), "")
	if len(s) > maxAuthorNameLen {
		s = s[:maxAuthorNameLen]
	}
	if s == "" {
		return "user"
	}
	return s
}
