package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/snowchat/snowchat/internal/cli"
	"github.com/snowchat/snowchat/internal/config"
	"github.com/snowchat/snowchat/internal/observability"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.LoadFromEnv("snowchat-api")
	if err != nil {
		slog.Error("failed to load config", slog.Any("error", err))
		os.Exit(1)
	}

	writer, closeLog := observability.LogWriter(cfg, os.Stdout)
	logger := observability.NewLogger(cfg, writer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = cli.Serve(ctx, cfg, logger)
	stop()
	if err != nil {
		logger.Error("api server stopped", slog.Any("error", err))
		_ = closeLog()
		os.Exit(1)
	}
	_ = closeLog()
}
