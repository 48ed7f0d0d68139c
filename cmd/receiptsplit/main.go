package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/susu3304/receiptsplit/internal/api"
	"github.com/susu3304/receiptsplit/internal/bot"
	"github.com/susu3304/receiptsplit/internal/commands"
	"github.com/susu3304/receiptsplit/internal/config"
	"github.com/susu3304/receiptsplit/internal/currency"
	"github.com/susu3304/receiptsplit/internal/db"
	"github.com/susu3304/receiptsplit/internal/logger"
	"github.com/susu3304/receiptsplit/internal/share"
	"github.com/susu3304/receiptsplit/internal/store"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logCfg := logger.DefaultConfig()
	logCfg.Level = cfg.LogLevel
	logCfg.Format = cfg.LogFormat
	zlog := logger.New(logCfg)
	defer func() { _ = zlog.Sync() }()

	// Storage: Postgres when configured, otherwise process memory
	var st store.Store
	if cfg.DatabaseURL != "" {
		database, err := db.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			zlog.Fatal("failed to connect to database", zap.Error(err))
		}
		defer database.Close()

		if err := database.RunMigrations(context.Background()); err != nil {
			zlog.Fatal("failed to run migrations", zap.Error(err))
		}
		st = database
	} else {
		zlog.Warn("DATABASE_URL not set, books are kept in memory only")
		st = store.NewMemory()
	}

	rates := currency.NewNormalizer(cfg.BaseCurrency,
		currency.NewHTTPSource(cfg.RateAPIURL, cfg.RateTimeout),
		zlog.Named("currency"),
		currency.WithTimeout(cfg.RateTimeout),
	)
	shares := share.NewService(st, zlog.Named("share"))

	// Initialize API server
	apiServer := api.New(cfg, st, shares, rates, zlog.Named("api"))

	// Discord bot is optional
	if cfg.DiscordToken != "" {
		split := commands.NewSplit(st, cfg.BaseCurrency, cfg.WebUIBaseURL, zlog.Named("commands"))
		discordBot, err := bot.New(cfg.DiscordToken, st, split, cfg.ReminderInterval, zlog.Named("bot"))
		if err != nil {
			zlog.Fatal("failed to create discord bot", zap.Error(err))
		}
		if err := discordBot.Start(); err != nil {
			zlog.Fatal("failed to start discord bot", zap.Error(err))
		}
		defer discordBot.Stop()
	}

	// Start API server
	go func() {
		if err := apiServer.Start(); err != nil {
			zlog.Error("API server error", zap.Error(err))
		}
	}()

	// Wait for signal to stop
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	zlog.Info("shutting down")
}
