package domain

import "time"

// Role labels who authored a context message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one entry in a channel's recent message log,
// as delivered by the gateway
type Message struct {
	ID         string
	ChannelID  string
	SenderID   string
	SenderName string
	Content    string
	CreateTime time.Time
	IsBot      bool // authored by this bot
}

// ContextMessage is a message prepared for prompt assembly:
// markup normalized, role attributed
type ContextMessage struct {
	Role       Role
	AuthorID   string
	AuthorName string
	Text       string
	Timestamp  time.Time
}

// FromMessage converts a log message into a context message,
// attributing the bot's own prior replies to the assistant role
func FromMessage(m Message) ContextMessage {
	role := RoleUser
	if m.IsBot {
		role = RoleAssistant
	}
	return ContextMessage{
		Role:       role,
		AuthorID:   m.SenderID,
		AuthorName: m.SenderName,
		Text:       m.Content,
		Timestamp:  m.CreateTime,
	}
}
