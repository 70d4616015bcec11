package data

import (
	"context"
	"time"

	"github.com/replygate/replygate/feishu"
	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"
)

// feishuRepo implements the Gateway repository on the Feishu client
type feishuRepo struct {
	client *feishu.Client
}

// NewFeishuRepo creates a Gateway repository backed by Feishu
func NewFeishuRepo(client *feishu.Client) repo.GatewayRepo {
	return &feishuRepo{client: client}
}

func (r *feishuRepo) GetChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	return r.client.GetChatHistory(channelID, limit)
}

func (r *feishuRepo) SendReply(ctx context.Context, channelID, text string) error {
	return r.client.SendText(channelID, text)
}

func (r *feishuRepo) SendNotice(ctx context.Context, channelID, text string, ttl time.Duration) error {
	return r.client.SendEphemeral(channelID, text, ttl)
}
