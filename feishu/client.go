package feishu

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	lark "github.com/larksuite/oapi-sdk-go/v3"
	larkcore "github.com/larksuite/oapi-sdk-go/v3/core"
	"github.com/larksuite/oapi-sdk-go/v3/event/dispatcher"
	larkim "github.com/larksuite/oapi-sdk-go/v3/service/im/v1"
	larkws "github.com/larksuite/oapi-sdk-go/v3/ws"

	"github.com/replygate/replygate/internal/biz/domain"
)

// Client wraps the Feishu websocket gateway. Feishu has no guild
// concept, so events carry only the chat as their channel scope.
type Client struct {
	appID     string
	appSecret string
	botOpenID string
	larkCli   *lark.Client
	wsCli     *larkws.Client
	onEvent   func(ev *domain.InboundEvent)
	ctx       context.Context
	cancel    context.CancelFunc
}

// NewClient creates a new Feishu client
func NewClient(appID, appSecret string) *Client {
	return &Client{
		appID:     appID,
		appSecret: appSecret,
	}
}

// OnEvent registers the inbound event handler
func (c *Client) OnEvent(handler func(ev *domain.InboundEvent)) {
	c.onEvent = handler
}

// Start connects the websocket and blocks until Stop
func (c *Client) Start() error {
	c.ctx, c.cancel = context.WithCancel(context.Background())

	c.larkCli = lark.NewClient(c.appID, c.appSecret)

	if err := c.fetchBotOpenID(); err != nil {
		fmt.Printf("[Feishu] Warning: failed to fetch bot open_id: %v\n", err)
	}

	// Handlers must return quickly so the SDK can ACK; Feishu retries
	// deliveries that time out
	eventHandler := dispatcher.NewEventDispatcher("", "").
		OnP2MessageReceiveV1(func(ctx context.Context, event *larkim.P2MessageReceiveV1) error {
			go c.handleMessage(event)
			return nil
		})

	c.wsCli = larkws.NewClient(c.appID, c.appSecret,
		larkws.WithEventHandler(eventHandler),
		larkws.WithLogLevel(larkcore.LogLevelInfo),
	)

	fmt.Println("[Feishu] Starting WebSocket connection...")
	return c.wsCli.Start(c.ctx)
}

// Stop disconnects from Feishu
func (c *Client) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
}

// fetchBotOpenID fetches the bot's own open_id, used to detect
// mentions and label the bot's prior replies in history
func (c *Client) fetchBotOpenID() error {
	tokenReq := fmt.Sprintf(`{"app_id":%q,"app_secret":%q}`, c.appID, c.appSecret)
	tokenResp, err := http.Post(
		"https://open.feishu.cn/open-apis/auth/v3/tenant_access_token/internal",
		"application/json",
		strings.NewReader(tokenReq),
	)
	if err != nil {
		return fmt.Errorf("get token: %w", err)
	}
	defer tokenResp.Body.Close()

	var tokenResult struct {
		Code              int    `json:"code"`
		TenantAccessToken string `json:"tenant_access_token"`
	}
	if err := json.NewDecoder(tokenResp.Body).Decode(&tokenResult); err != nil {
		return fmt.Errorf("decode token: %w", err)
	}

	req, _ := http.NewRequest("GET", "https://open.feishu.cn/open-apis/bot/v3/info", nil)
	req.Header.Set("Authorization", "Bearer "+tokenResult.TenantAccessToken)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("get bot info: %w", err)
	}
	defer resp.Body.Close()

	var botResult struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
		Bot  struct {
			OpenID string `json:"open_id"`
		} `json:"bot"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&botResult); err != nil {
		return fmt.Errorf("decode bot info: %w", err)
	}
	if botResult.Code != 0 {
		return fmt.Errorf("API error: %s", botResult.Msg)
	}

	c.botOpenID = botResult.Bot.OpenID
	fmt.Printf("[Feishu] Bot open_id: %s\n", c.botOpenID)
	return nil
}

func (c *Client) handleMessage(event *larkim.P2MessageReceiveV1) {
	msg := event.Event.Message
	if msg == nil {
		return
	}

	// Drop the bot's own messages to prevent loops
	if event.Event.Sender != nil && event.Event.Sender.SenderType != nil {
		if *event.Event.Sender.SenderType == "app" {
			return
		}
	}

	if msg.MessageType == nil || *msg.MessageType != "text" {
		return
	}

	senderID := ""
	if event.Event.Sender != nil && event.Event.Sender.SenderId != nil &&
		event.Event.Sender.SenderId.OpenId != nil {
		senderID = *event.Event.Sender.SenderId.OpenId
	}

	mentionsBot := false
	mentionNames := make(map[string]string)
	for _, mention := range msg.Mentions {
		if mention.Id != nil && mention.Id.OpenId != nil && *mention.Id.OpenId == c.botOpenID {
			mentionsBot = true
		}
		if mention.Key != nil && mention.Name != nil {
			mentionNames[*mention.Key] = *mention.Name
		}
	}

	content := parseTextContent(*msg.Content, mentionNames)

	timestamp := time.Now()
	if msg.CreateTime != nil {
		if ms, err := strconv.ParseInt(*msg.CreateTime, 10, 64); err == nil {
			timestamp = time.UnixMilli(ms)
		}
	}

	isDM := msg.ChatType != nil && *msg.ChatType == "p2p"

	ev := &domain.InboundEvent{
		EventID:     *msg.MessageId,
		UserID:      senderID,
		ChannelID:   *msg.ChatId,
		Text:        content,
		Timestamp:   timestamp,
		IsDM:        isDM,
		MentionsBot: mentionsBot,
	}

	fmt.Printf("[Feishu] Received message from chat %s: %s\n", ev.ChannelID, truncate(content, 50))

	if c.onEvent != nil {
		c.onEvent(ev)
	}
}

// parseTextContent extracts the text payload and resolves @_user_N
// mention placeholders to real names
func parseTextContent(content string, mentionNames map[string]string) string {
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return content
	}

	text := parsed.Text
	for key, name := range mentionNames {
		text = strings.ReplaceAll(text, key, "@"+name)
	}
	return text
}

// GetChatHistory returns up to limit recent messages, oldest first
func (c *Client) GetChatHistory(chatID string, limit int) ([]domain.Message, error) {
	if limit > 50 {
		limit = 50
	}
	if limit <= 0 {
		limit = 20
	}

	// ByCreateTimeDesc returns the latest messages; the API default
	// ascends from the start of the chat
	req := larkim.NewListMessageReqBuilder().
		ContainerIdType("chat").
		ContainerId(chatID).
		SortType("ByCreateTimeDesc").
		PageSize(limit).
		Build()

	resp, err := c.larkCli.Im.Message.List(context.Background(), req)
	if err != nil {
		return nil, fmt.Errorf("get chat history failed: %w", err)
	}
	if !resp.Success() {
		return nil, fmt.Errorf("get chat history error: %s", resp.Msg)
	}

	var messages []domain.Message
	for _, item := range resp.Data.Items {
		if item.MsgType == nil || *item.MsgType != "text" {
			continue
		}

		m := domain.Message{
			ID:        *item.MessageId,
			ChannelID: chatID,
		}
		if item.CreateTime != nil {
			if ms, err := strconv.ParseInt(*item.CreateTime, 10, 64); err == nil {
				m.CreateTime = time.UnixMilli(ms)
			}
		}
		if item.Body != nil && item.Body.Content != nil {
			m.Content = parseTextContent(*item.Body.Content, nil)
		}
		if item.Sender != nil && item.Sender.Id != nil {
			m.SenderID = *item.Sender.Id
			m.IsBot = *item.Sender.Id == c.botOpenID
			if item.Sender.SenderType != nil && *item.Sender.SenderType == "app" {
				m.IsBot = true
			}
		}
		messages = append(messages, m)
	}

	// Reverse to chronological order, oldest first
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// SendText posts a text message to a chat
func (c *Client) SendText(chatID, text string) error {
	content, _ := json.Marshal(map[string]string{"text": text})

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(context.Background(), req)
	if err != nil {
		return fmt.Errorf("send message failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send message error: %s", resp.Msg)
	}
	return nil
}

// SendEphemeral posts a message and deletes it after ttl
func (c *Client) SendEphemeral(chatID, text string, ttl time.Duration) error {
	content, _ := json.Marshal(map[string]string{"text": text})

	req := larkim.NewCreateMessageReqBuilder().
		ReceiveIdType(larkim.ReceiveIdTypeChatId).
		Body(larkim.NewCreateMessageReqBodyBuilder().
			ReceiveId(chatID).
			MsgType(larkim.MsgTypeText).
			Content(string(content)).
			Build()).
		Build()

	resp, err := c.larkCli.Im.Message.Create(context.Background(), req)
	if err != nil {
		return fmt.Errorf("send notice failed: %w", err)
	}
	if !resp.Success() {
		return fmt.Errorf("send notice error: %s", resp.Msg)
	}

	msgID := ""
	if resp.Data != nil && resp.Data.MessageId != nil {
		msgID = *resp.Data.MessageId
	}
	if msgID == "" {
		return nil
	}

	time.AfterFunc(ttl, func() {
		delReq := larkim.NewDeleteMessageReqBuilder().MessageId(msgID).Build()
		if _, err := c.larkCli.Im.Message.Delete(context.Background(), delReq); err != nil {
			fmt.Printf("[Feishu] Failed to delete notice %s: %v\n", msgID, err)
		}
	})
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
