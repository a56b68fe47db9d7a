package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/Jacobpac15/chatapp-parcial3/internal/access"
	"github.com/Jacobpac15/chatapp-parcial3/internal/api"
	"github.com/Jacobpac15/chatapp-parcial3/internal/api/middleware"
	"github.com/Jacobpac15/chatapp-parcial3/internal/broker"
	"github.com/Jacobpac15/chatapp-parcial3/internal/config"
	"github.com/Jacobpac15/chatapp-parcial3/internal/crypto"
	"github.com/Jacobpac15/chatapp-parcial3/internal/hub"
	"github.com/Jacobpac15/chatapp-parcial3/internal/ingest"
	"github.com/Jacobpac15/chatapp-parcial3/internal/session"
	"github.com/Jacobpac15/chatapp-parcial3/internal/store"
)

func main() {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	instanceID := crypto.NewInstanceID()
	logger = logger.With().Str("instance", instanceID).Logger()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db := openStore(ctx, cfg, logger)
	defer db.Close()

	var redisStore *store.RedisStore
	if cfg.RedisURL != "" {
		var err error
		redisStore, err = store.NewRedisStore(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection failed")
		}
		defer redisStore.Close()
		logger.Info().Msg("connected to Redis")
	}

	transport, err := broker.NewTransport(cfg.BrokerURL, broker.TransportOptions{
		Exchange:       cfg.BrokerExchange,
		ConnectionName: "chat-relay-" + instanceID,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid broker configuration")
	}
	bridge := broker.NewBridge(transport, cfg.BrokerRetryInterval, instanceID, logger)

	tokens := crypto.NewTokenManager(crypto.TokenConfig{
		Secret: cfg.JWTSecret,
		Issuer: cfg.JWTIssuer,
		TTL:    cfg.TokenTTL,
	})
	registry := hub.NewRegistry()
	oracle := access.NewOracle(db)
	coordinator := session.NewCoordinator(
		tokens,
		oracle,
		ingest.NewPipeline(db, oracle),
		bridge,
		registry,
		session.Config{
			OperationTimeout:   cfg.OperationTimeout,
			MaxFramesPerSecond: cfg.MaxFramesPerSecond,
			AllowedOrigins:     cfg.AllowedOrigins,
		},
		logger,
	)

	bridgeCtx, stopBridge := context.WithCancel(context.Background())
	bridgeDone := make(chan struct{})
	go func() {
		defer close(bridgeDone)
		bridge.Run(bridgeCtx, coordinator.HandleBrokerMessage)
	}()

	router := api.NewRouter(logger, api.Deps{
		Store:      db,
		Redis:      redisStore,
		Tokens:     tokens,
		Sessions:   coordinator,
		Broker:     bridge,
		Registry:   registry,
		InstanceID: instanceID,
		RateLimit: middleware.RateLimiterConfig{
			Whitelist:        cfg.RateLimitWhitelist,
			AutoBlockEnabled: cfg.AutoBlockEnabled,
		},
		AllowedOrigins: cfg.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Str("broker", transport.Name()).
			Msg("starting chat relay")

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := coordinator.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("sessions did not close in time")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}

	stopBridge()
	<-bridgeDone

	logger.Info().Msg("server stopped")
}

// openStore connects to Postgres when DATABASE_URL is set, running pending
// migrations first, and falls back to SQLite otherwise.
func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) store.DataStore {
	if cfg.DatabaseURL == "" {
		db, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Str("path", cfg.SQLitePath).Msg("sqlite open failed")
		}
		logger.Info().Str("path", cfg.SQLitePath).Msg("using SQLite store")
		return db
	}

	logger.Info().Msg("running database migrations...")
	if err := store.RunMigrations(ctx, cfg.DatabaseURL); err != nil {
		logger.Fatal().Err(err).Msg("migration failed")
	}
	logger.Info().Msg("migrations completed")

	db, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	logger.Info().Msg("connected to PostgreSQL")
	return db
}
