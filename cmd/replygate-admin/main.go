package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/replygate/replygate/internal/biz/usecase"
	"github.com/replygate/replygate/internal/conf"
	"github.com/replygate/replygate/internal/data"
	"github.com/replygate/replygate/mcpserver"
)

// replygate-admin serves the operator MCP tools over stdio. It works
// directly on the opt-out database and config files, so it can run
// while the bot is down.
func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg := conf.LoadFromEnv()

	limits, err := conf.LoadRateLimits(cfg.Pipeline.RateLimitConfigPath)
	if err != nil {
		log.Fatalf("Failed to load rate limits: %v", err)
	}

	optOutRepo, err := data.NewOptOutRepo(cfg.OptOut.DBPath)
	if err != nil {
		log.Fatalf("Failed to open opt-out database: %v", err)
	}
	defer optOutRepo.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry, err := usecase.NewOptOutRegistry(ctx, optOutRepo)
	if err != nil {
		log.Fatalf("Failed to load opt-out registry: %v", err)
	}

	server := mcpserver.NewServer(
		registry,
		usecase.NewRateLimiter(limits),
		usecase.NewWhitelist(cfg.Pipeline.Whitelist),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "[Admin] Serving MCP tools on stdio")
	if err := server.Run(ctx); err != nil {
		log.Fatalf("MCP server error: %v", err)
	}
}
