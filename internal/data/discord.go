package data

import (
	"context"
	"time"

	"github.com/replygate/replygate/discord"
	"github.com/replygate/replygate/internal/biz/domain"
	"github.com/replygate/replygate/internal/biz/repo"
)

// discordRepo implements the Gateway repository on the Discord client
type discordRepo struct {
	client *discord.Client
}

// NewDiscordRepo creates a Gateway repository backed by Discord
func NewDiscordRepo(client *discord.Client) repo.GatewayRepo {
	return &discordRepo{client: client}
}

func (r *discordRepo) GetChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error) {
	return r.client.GetChannelHistory(channelID, limit)
}

func (r *discordRepo) SendReply(ctx context.Context, channelID, text string) error {
	return r.client.SendText(channelID, text)
}

func (r *discordRepo) SendNotice(ctx context.Context, channelID, text string, ttl time.Duration) error {
	return r.client.SendEphemeral(channelID, text, ttl)
}
