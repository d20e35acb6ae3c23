// Package main is the entry point for the episode bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"discord-episode-bot/internal/bot"
	"discord-episode-bot/internal/config"
	"discord-episode-bot/internal/crate"
	"discord-episode-bot/internal/episode"
	"discord-episode-bot/internal/gateway/discord"
	"discord-episode-bot/internal/media"
	"discord-episode-bot/internal/metrics"
	"discord-episode-bot/internal/pkg/db"
	"discord-episode-bot/internal/pkg/lock"
	"discord-episode-bot/internal/playback"
	"discord-episode-bot/internal/repository"
	"discord-episode-bot/internal/request"
	"discord-episode-bot/internal/scheduler"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if cfg.Bot.Token == "" {
		log.Fatal().Msg("Bot token is required")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	ledgerRepo := repository.NewLedgerRepository(dbPool.Pool)

	// Scan the episode catalog
	library, err := episode.Scan(cfg.Content.Directory, cfg.Content.Extension)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to scan episode catalog")
	}
	if library.Len() == 0 {
		log.Warn().Str("dir", cfg.Content.Directory).Msg("Episode catalog is empty")
	}

	// Initialize core components
	userLock := lock.NewUserLock()
	requests := request.NewManager()
	studio := media.NewStudio(cfg.Content)
	rewards := scheduler.New(userRepo, ledgerRepo, cfg.Rewards.Interval, cfg.Rewards.Points)

	// Initialize the Discord gateway
	gw, err := discord.New(cfg.Bot.Token, cfg.Content.FFmpegPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create discord client")
	}

	session := playback.NewSession(gw, gw, rewards, userRepo, ledgerRepo,
		cfg.Rewards.EpisodeBonus, cfg.Bot.Prefix)

	crates := crate.NewManager(userRepo, userLock, studio, library, gw, ledgerRepo, crate.Config{
		Price:           cfg.Crates.Price,
		VoicelineChance: cfg.Crates.VoicelineChance,
		QueueSize:       cfg.Crates.QueueSize,
		Prefix:          cfg.Bot.Prefix,
	})

	// Wire the bot and its command table
	b := bot.New(&bot.Dependencies{
		Config:   cfg,
		Users:    userRepo,
		Locks:    userLock,
		Requests: requests,
		Ledger:   ledgerRepo,
		History:  ledgerRepo,
		Replies:  gw,
		Voice:    gw,
		Session:  session,
		Library:  library,
		Studio:   studio,
		Crates:   crates,
	})
	gw.SetHandler(b.OnMessage)

	// Start the crate pipeline
	go func() {
		if err := crates.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("Crate pipeline stopped")
		}
	}()

	// Start the metrics endpoint
	if cfg.Metrics.Enabled {
		go metrics.Serve(ctx, cfg.Metrics.Addr)
	}

	// Connect to Discord
	if err := gw.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Discord")
	}
	log.Info().Msg("Bot is running")

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := session.Leave(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Failed to leave voice session")
	}
	gw.Close(shutdownCtx)
	cancel()
	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create users table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			user_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			access_level INT NOT NULL DEFAULT 0,
			current_points BIGINT NOT NULL DEFAULT 0,
			total_points BIGINT NOT NULL DEFAULT 0,
			crates_opened BIGINT NOT NULL DEFAULT 0,
			frame_seq BIGINT NOT NULL DEFAULT 0,
			voiceline_seq BIGINT NOT NULL DEFAULT 0,
			episodes_watched BIGINT NOT NULL DEFAULT 0,
			episode_list TEXT[] NOT NULL DEFAULT '{}',
			inventory JSONB NOT NULL DEFAULT '[]',
			last_sold_item JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_total_points ON users(total_points DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: users table created")

	// Migration 2: Create ledger table
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS ledger (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(user_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			description TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_user_time ON ledger(user_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_type_time ON ledger(type, created_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: ledger table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
