package repo

import (
	"context"
	"time"

	"github.com/replygate/replygate/internal/biz/domain"
)

// GatewayRepo is the outbound surface of the chat platform:
// fetch recent history, send replies, post short-lived notices
type GatewayRepo interface {
	// GetChannelHistory returns up to limit recent messages for a
	// channel, oldest first, newest last
	GetChannelHistory(ctx context.Context, channelID string, limit int) ([]domain.Message, error)

	// SendReply posts text to a channel
	SendReply(ctx context.Context, channelID, text string) error

	// SendNotice posts text that the platform adapter removes after ttl,
	// where the platform supports deletion. Best effort.
	SendNotice(ctx context.Context, channelID, text string, ttl time.Duration) error
}
