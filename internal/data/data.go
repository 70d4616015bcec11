package data

import (
	"fmt"

	"github.com/replygate/replygate/discord"
	"github.com/replygate/replygate/feishu"
	"github.com/replygate/replygate/internal/biz/repo"
	"github.com/replygate/replygate/internal/conf"
)

// Repositories contains all repositories
type Repositories struct {
	OptOut     repo.OptOutRepo
	Gateway    repo.GatewayRepo
	Generation repo.GenerationRepo
}

// NewRepositories creates all repositories for the configured platform.
// Exactly one of discordClient and feishuClient is non-nil.
func NewRepositories(
	cfg *conf.Config,
	discordClient *discord.Client,
	feishuClient *feishu.Client,
) (*Repositories, error) {
	optOutRepo, err := NewOptOutRepo(cfg.OptOut.DBPath)
	if err != nil {
		return nil, err
	}

	var gateway repo.GatewayRepo
	switch {
	case discordClient != nil:
		gateway = NewDiscordRepo(discordClient)
	case feishuClient != nil:
		gateway = NewFeishuRepo(feishuClient)
	default:
		optOutRepo.Close()
		return nil, fmt.Errorf("no gateway client for platform %s", cfg.Platform)
	}

	return &Repositories{
		OptOut:     optOutRepo,
		Gateway:    gateway,
		Generation: NewGenerationRepo(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Model),
	}, nil
}
