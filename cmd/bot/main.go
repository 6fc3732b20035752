// Package main is the entry point for the WCoin miner bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"wcoin-miner-bot/internal/bot"
	"wcoin-miner-bot/internal/chatstate"
	"wcoin-miner-bot/internal/config"
	"wcoin-miner-bot/internal/event"
	"wcoin-miner-bot/internal/metrics"
	"wcoin-miner-bot/internal/pkg/db"
	"wcoin-miner-bot/internal/pkg/lock"
	"wcoin-miner-bot/internal/repository"
	"wcoin-miner-bot/internal/service"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Optional .env for local development
	if err := godotenv.Load(); err == nil {
		log.Info().Msg(".env file loaded")
	}

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
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

	// Redis backs the multi-step chat flows
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()

	// Initialize repositories
	userRepo := repository.NewUserRepository(dbPool.Pool)
	leaseRepo := repository.NewLeaseRepository(dbPool.Pool)
	orderRepo := repository.NewOrderRepository(dbPool.Pool)
	opLog := repository.NewOpLogRepository(dbPool.Pool)

	// Core wiring: per-user locks, event bus, services
	userLock := lock.NewUserLock()
	bus := event.NewBus()
	admins := service.NewAdminSet(cfg.Admin.IDs)

	eligibility := service.NewEligibilityEvaluator(
		userRepo, leaseRepo, cfg.Economy.MinWithdraw, cfg.Economy.ReferralThreshold)
	accountService := service.NewAccountService(
		userRepo, leaseRepo, orderRepo, opLog, userLock, bus, eligibility, admins, cfg.Economy.JoinBonus)
	leaseService := service.NewLeaseService(userRepo, leaseRepo, orderRepo, opLog, userLock, bus)
	orderService := service.NewOrderService(
		userRepo, leaseRepo, orderRepo, opLog, userLock, bus, eligibility, leaseService, admins)
	referralService := service.NewReferralService(userRepo, opLog, userLock, bus, cfg.Economy.ReferralBonus)

	// Prometheus listener
	if cfg.Metrics.Enabled {
		go metrics.Serve(cfg.Metrics.Addr)
	}

	// Create bot dependencies
	deps := &bot.Dependencies{
		Config:          cfg,
		AccountService:  accountService,
		LeaseService:    leaseService,
		OrderService:    orderService,
		ReferralService: referralService,
		ChatState:       chatstate.NewStore(rdb),
		Bus:             bus,
	}

	// Initialize bot
	telegramBot, err := bot.New(deps)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create bot")
	}

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Start bot in a goroutine
	go func() {
		log.Info().Msg("Bot is starting...")
		telegramBot.Start()
	}()

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	// Graceful shutdown
	telegramBot.Stop()
	log.Info().Msg("Bot stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: Create users table
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS users (
			telegram_id BIGINT PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			referrals BIGINT NOT NULL DEFAULT 0,
			referred_by BIGINT,
			referral_credited BOOLEAN NOT NULL DEFAULT FALSE,
			withdraw_account VARCHAR(255),
			skip_verified BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_users_balance ON users(balance DESC);
		CREATE INDEX IF NOT EXISTS idx_users_referrals ON users(referrals DESC);
		CREATE INDEX IF NOT EXISTS idx_users_username ON users(LOWER(username));
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: users table created")

	// Migration 2: Create leases table. Expired leases are kept for history;
	// readers evaluate expiry lazily.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS leases (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			machine_key VARCHAR(32) NOT NULL,
			payment_method VARCHAR(16) NOT NULL,
			purchased_at TIMESTAMPTZ NOT NULL,
			expires_at TIMESTAMPTZ NOT NULL,
			last_claim_at TIMESTAMPTZ NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_leases_user ON leases(user_id);
		CREATE INDEX IF NOT EXISTS idx_leases_machine_expiry ON leases(machine_key, expires_at DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: leases table created")

	// Migration 3: Create orders table. The shared BIGSERIAL gives both
	// order kinds one strictly increasing id sequence, and the UNIQUE
	// user_id enforces one open order per user.
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS orders (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL UNIQUE REFERENCES users(telegram_id) ON DELETE CASCADE,
			kind VARCHAR(32) NOT NULL,
			status VARCHAR(32) NOT NULL,
			machine_key VARCHAR(32) NOT NULL DEFAULT '',
			payment_method VARCHAR(16) NOT NULL DEFAULT '',
			transfer_no VARCHAR(255) NOT NULL DEFAULT '',
			receipt_ref VARCHAR(255) NOT NULL DEFAULT '',
			amount BIGINT NOT NULL DEFAULT 0,
			account VARCHAR(255) NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_orders_kind ON orders(kind, id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: orders table created")

	// Migration 4: Create operations log
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS operations (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL REFERENCES users(telegram_id) ON DELETE CASCADE,
			amount BIGINT NOT NULL,
			type VARCHAR(50) NOT NULL,
			note TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_operations_user_time ON operations(user_id, id DESC);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: operations table created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
