// Package main runs the Medal clip notifier: it polls Medal.tv for new clips
// of tracked creators and announces each new clip once to the chat channel
// configured per tenant.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medal-notifier/medal"
	"medal-notifier/poll"
	"medal-notifier/server"
	"medal-notifier/storage"
	"medal-notifier/telegram"

	gcs "cloud.google.com/go/storage"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	// Default to local development mode if no bucket specified
	if cfg.Bucket == "" && cfg.LocalStorage == "" {
		cfg.LocalStorage = "./data"
		logger.Info("No STORAGE_BUCKET set, defaulting to local development mode", "storage_path", cfg.LocalStorage)
	}

	var gcsClient *gcs.Client
	if cfg.LocalStorage != "" {
		if err := os.MkdirAll(cfg.LocalStorage, 0o755); err != nil {
			logger.Error("Failed to create local storage directory", "error", err)
			os.Exit(1)
		}
	} else {
		var err error
		gcsClient, err = gcs.NewClient(ctx)
		if err != nil {
			logger.Error("Failed to initialize Storage client", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := gcsClient.Close(); err != nil {
				logger.Warn("Failed to close storage client", "error", err)
			}
		}()
	}

	store := storage.New(gcsClient, cfg.Bucket, cfg.LocalStorage, logger)
	seedCredential(ctx, store, cfg.MedalAPIKey, logger)

	fetcher := medal.New(&http.Client{Timeout: 15 * time.Second}, cfg.MedalAPIURL, logger)

	// Mock delivery unless a bot token is provided
	var (
		announcer poll.Announcer
		ready     poll.ReadyFunc
		bot       *telegram.Bot
	)
	if cfg.BotToken == "" {
		logger.Info("Mock announcement mode enabled (no TELEGRAM_BOT_TOKEN)")
		mock := telegram.NewMockAnnouncer(logger)
		announcer = mock
		ready = mock.Ready
	} else {
		var err error
		bot, err = telegram.New(cfg.BotToken, store, logger)
		if err != nil {
			logger.Error("Failed to initialize Telegram bot", "error", err)
			os.Exit(1)
		}
		announcer = bot
		ready = bot.Ready
	}

	monitor := poll.New(fetcher, store, announcer, logger)
	sched := poll.NewScheduler(monitor, ready, cfg.PollInterval, logger)

	if err := sched.Start(ctx); err != nil {
		logger.Error("Failed to start poll scheduler", "error", err)
		os.Exit(1)
	}
	if bot != nil {
		bot.StartCommands(ctx, sched)
	}

	srv := server.New(sched, logger)
	go func() {
		if err := srv.Serve(cfg.Port); err != nil {
			logger.Error("Server failed", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	sched.Stop()
	logger.Info("Shutdown complete")
}

// seedCredential stores the env-provided API key, but only when none is
// persisted yet: a key set through the admin surface wins over the seed.
func seedCredential(ctx context.Context, store *storage.Store, apiKey string, logger *slog.Logger) {
	if apiKey == "" {
		return
	}
	existing, err := store.Credential(ctx)
	if err != nil {
		logger.Warn("Failed to read stored credential, skipping seed", "error", err)
		return
	}
	if existing != "" {
		return
	}
	if err := store.SetCredential(ctx, apiKey); err != nil {
		logger.Warn("Failed to seed credential from environment", "error", err)
		return
	}
	logger.Info("Seeded API credential from environment")
}
