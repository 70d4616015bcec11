package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/replygate/replygate/discord"
	"github.com/replygate/replygate/feishu"
	"github.com/replygate/replygate/internal/biz/usecase"
	"github.com/replygate/replygate/internal/conf"
	"github.com/replygate/replygate/internal/data"
	"github.com/replygate/replygate/internal/server"
	"github.com/replygate/replygate/internal/service"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := conf.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	limits, err := conf.LoadRateLimits(cfg.Pipeline.RateLimitConfigPath)
	if err != nil {
		log.Fatalf("Failed to load rate limits: %v", err)
	}

	// Gateway client for the configured platform
	var discordClient *discord.Client
	var feishuClient *feishu.Client
	var source server.EventSource
	switch cfg.Platform {
	case conf.PlatformDiscord:
		discordClient = discord.NewClient(cfg.Discord.Token)
		source = discordClient
	case conf.PlatformFeishu:
		feishuClient = feishu.NewClient(cfg.Feishu.AppID, cfg.Feishu.AppSecret)
		source = feishuClient
	}

	repos, err := data.NewRepositories(cfg, discordClient, feishuClient)
	if err != nil {
		log.Fatalf("Failed to create repositories: %v", err)
	}
	defer repos.OptOut.Close()

	registry, err := usecase.NewOptOutRegistry(context.Background(), repos.OptOut)
	if err != nil {
		log.Fatalf("Failed to load opt-out registry: %v", err)
	}

	assembler, err := usecase.NewContextAssembler(cfg.Pipeline.ContextTokenBudget, nil)
	if err != nil {
		log.Fatalf("Invalid context budget: %v", err)
	}

	renderer, err := usecase.NewPromptRenderer(cfg.Pipeline.TemplateDir)
	if err != nil {
		log.Fatalf("Failed to load templates: %v", err)
	}

	pipeline := service.NewPipeline(
		service.Config{
			BotName:           cfg.Pipeline.BotName,
			DefaultLockout:    cfg.OptOut.DefaultLockout,
			HistoryLimit:      cfg.Pipeline.HistoryLimit,
			GenerateTimeout:   cfg.Pipeline.GenerateTimeout,
			RetryMaxAttempts:  cfg.Pipeline.RetryMaxAttempts,
			RetryBackoff:      cfg.Pipeline.RetryBackoff,
			NotifyRateLimited: cfg.Pipeline.NotifyRateLimited,
			Debug:             cfg.Debug,
		},
		usecase.NewWhitelist(cfg.Pipeline.Whitelist),
		registry,
		usecase.NewScopeResolver(),
		usecase.NewRateLimiter(limits),
		assembler,
		renderer,
		repos.Gateway,
		repos.Generation,
	)

	srv := server.NewServer(source, pipeline, cfg.Pipeline.WorkerCount)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		srv.Stop()
		os.Exit(0)
	}()

	fmt.Printf("Starting replygate on %s...\n", cfg.Platform)
	if err := srv.Start(); err != nil {
		log.Fatalf("Gateway error: %v", err)
	}
}
