package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carelink/backend/internal/api/handler"
	"carelink/backend/internal/auth"
	"carelink/backend/internal/callsession"
	"carelink/backend/internal/chathub"
	"carelink/backend/internal/config"
	"carelink/backend/internal/observability"
	"carelink/backend/internal/storage"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func setupDependencies(ctx context.Context, cfg *config.Config) (*gorm.DB, *redis.Client, error) {
	gormLogger := logger.Default.LogMode(logger.Warn)
	if cfg.Debug() {
		gormLogger = logger.Default.LogMode(logger.Info)
	}
	db, err := gorm.Open(postgres.Open(cfg.DatabaseDSN), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, nil, fmt.Errorf("connect postgres: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if _, err := rdb.Ping(ctx).Result(); err != nil {
		return nil, nil, fmt.Errorf("connect redis: %w", err)
	}

	log.Info().Str("module", "main").Str("redis", cfg.RedisAddr).Msg("database and redis connections established")
	return db, rdb, nil
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := godotenv.Load(); err != nil {
		log.Warn().Str("module", "main").Msg("no .env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Debug() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	db, rdb, err := setupDependencies(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to set up dependencies")
	}
	defer rdb.Close()

	store := storage.NewStorageService(db, rdb)
	if err := store.AutoMigrate(); err != nil {
		log.Fatal().Err(err).Msg("failed to run migrations")
	}

	metrics := observability.NewMetrics(nil)

	calls := callsession.NewManager(store, metrics, cfg.PersistQueueSize)
	go calls.Run()

	hub := chathub.NewManagerService(store, calls, metrics, cfg.PresenceTTL)
	go hub.ListenNotifications(ctx, store.SubscribeNotifications(chathub.NotificationChannel))

	h := handler.NewHandler(
		hub,
		auth.NewVerifier(cfg.JWTSecret, cfg.TokenExpiry),
		auth.NewStatusChecker(store),
		store,
		calls,
		cfg,
		metrics,
	)
	r := handler.SetupRouter(h)
	addr := fmt.Sprintf(":%d", cfg.Port)

	srv := &http.Server{
		Addr:           addr,
		Handler:        r,
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	go func() {
		log.Info().Str("module", "main").Str("addr", addr).Msg("carelink realtime server started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("server error")
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info().Str("module", "main").Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	// Flush call sessions and presence writes still waiting for storage.
	calls.Close()
	hub.Presence.Flush()
	log.Info().Str("module", "main").Int("live_calls", calls.Len()).Msg("server exited gracefully")
}
