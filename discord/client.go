package discord

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/replygate/replygate/internal/biz/domain"
)

// Client wraps the Discord gateway connection
type Client struct {
	token   string
	session *discordgo.Session
	onEvent func(ev *domain.InboundEvent)
	stop    chan struct{}
}

// NewClient creates a new Discord client
func NewClient(token string) *Client {
	return &Client{
		token: token,
		stop:  make(chan struct{}),
	}
}

// OnEvent registers the inbound event handler
func (c *Client) OnEvent(handler func(ev *domain.InboundEvent)) {
	c.onEvent = handler
}

// Start connects to the Discord gateway and blocks until Stop
func (c *Client) Start() error {
	session, err := discordgo.New("Bot " + c.token)
	if err != nil {
		return fmt.Errorf("create discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent

	session.AddHandler(c.handleMessage)

	if err := session.Open(); err != nil {
		return fmt.Errorf("open discord gateway: %w", err)
	}
	c.session = session

	fmt.Println("[Discord] Gateway connected")
	<-c.stop
	return nil
}

// Stop disconnects from the gateway
func (c *Client) Stop() {
	close(c.stop)
	if c.session != nil {
		c.session.Close()
	}
}

func (c *Client) handleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if m.Content == "" {
		return
	}

	botID := ""
	if s.State != nil && s.State.User != nil {
		botID = s.State.User.ID
	}

	mentionsBot := false
	for _, u := range m.Mentions {
		if u.ID == botID {
			mentionsBot = true
			break
		}
	}
	isReplyToBot := m.ReferencedMessage != nil &&
		m.ReferencedMessage.Author != nil &&
		m.ReferencedMessage.Author.ID == botID

	ev := &domain.InboundEvent{
		EventID:      m.ID,
		UserID:       m.Author.ID,
		SenderName:   m.Author.Username,
		ChannelID:    m.ChannelID,
		CategoryID:   c.categoryOf(m.ChannelID),
		GuildID:      m.GuildID,
		Text:         m.Content,
		Timestamp:    m.Timestamp,
		IsDM:         m.GuildID == "",
		MentionsBot:  mentionsBot,
		IsReplyToBot: isReplyToBot,
	}

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// categoryOf resolves the parent category of a channel, preferring
// the gateway state cache over a REST call
func (c *Client) categoryOf(channelID string) string {
	if c.session == nil {
		return ""
	}
	ch, err := c.session.State.Channel(channelID)
	if err != nil {
		ch, err = c.session.Channel(channelID)
		if err != nil {
			return ""
		}
	}
	return ch.ParentID
}

// GetChannelHistory returns up to limit recent messages, oldest first
func (c *Client) GetChannelHistory(channelID string, limit int) ([]domain.Message, error) {
	if limit > 100 {
		limit = 100
	}
	if limit <= 0 {
		limit = 20
	}

	// Discord returns newest first
	raw, err := c.session.ChannelMessages(channelID, limit, "", "", "")
	if err != nil {
		return nil, fmt.Errorf("get channel messages: %w", err)
	}

	botID := ""
	if c.session.State != nil && c.session.State.User != nil {
		botID = c.session.State.User.ID
	}

	messages := make([]domain.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		m := raw[i]
		if m.Author == nil {
			continue
		}
		messages = append(messages, domain.Message{
			ID:         m.ID,
			ChannelID:  channelID,
			SenderID:   m.Author.ID,
			SenderName: m.Author.Username,
			Content:    m.Content,
			CreateTime: m.Timestamp,
			IsBot:      m.Author.ID == botID,
		})
	}
	return messages, nil
}

// SendText posts a message to a channel
func (c *Client) SendText(channelID, text string) error {
	if _, err := c.session.ChannelMessageSend(channelID, text); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// SendEphemeral posts a message and deletes it after ttl
func (c *Client) SendEphemeral(channelID, text string, ttl time.Duration) error {
	msg, err := c.session.ChannelMessageSend(channelID, text)
	if err != nil {
		return fmt.Errorf("send notice: %w", err)
	}
	time.AfterFunc(ttl, func() {
		if err := c.session.ChannelMessageDelete(channelID, msg.ID); err != nil {
			fmt.Printf("[Discord] Failed to delete notice %s: %v\n", msg.ID, err)
		}
	})
	return nil
}
