package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/courier-im/courier/internal/api"
	"github.com/courier-im/courier/internal/cipher"
	"github.com/courier-im/courier/internal/config"
	"github.com/courier-im/courier/internal/gateway"
	"github.com/courier-im/courier/internal/presence"
	"github.com/courier-im/courier/internal/relay"
	"github.com/courier-im/courier/internal/session"
	"github.com/courier-im/courier/internal/store"
)

func main() {
	// Load configuration
	cfg := config.Load()

	// Initialize logger
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

	if cfg.UsingDevKey {
		logger.Warn().Msg("SECRET_KEY not set, using development key; stored messages are not protected")
	}

	ctx := context.Background()

	// Initialize the primary store: PostgreSQL when configured, SQLite otherwise
	var dataStore store.DataStore
	if cfg.DatabaseURL != "" {
		pgStore, err := store.NewPostgresStore(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection failed")
		}
		dataStore = pgStore
		logger.Info().Msg("connected to PostgreSQL")
	} else {
		sqliteStore, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		dataStore = sqliteStore
		logger.Info().Str("path", cfg.SQLitePath).Msg("opened SQLite store")
	}
	defer dataStore.Close()

	// Initialize Redis (sessions, rate limits)
	redisStore, err := store.NewRedisStore(ctx, cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection failed")
	}
	defer redisStore.Close()
	logger.Info().Msg("connected to Redis")

	// At-rest encryption
	messageCipher, err := cipher.New(cfg.SecretKey)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid secret key")
	}

	// Sessions, presence and the relay core
	sessions := session.NewIssuer(redisStore.Client(), cfg.SessionTTL)
	table := presence.NewTable()
	messageRelay := relay.New(dataStore, messageCipher, table, logger)

	// Gateway: the live connection boundary
	gw, err := gateway.Listen(cfg.GatewayAddr, messageRelay, sessions, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("gateway listen failed")
	}
	defer gw.Close()
	messageRelay.AttachGateway(gw)
	logger.Info().Str("addr", gw.Addr().String()).Msg("gateway listening")

	// Create router
	router := api.NewRouter(logger, dataStore, redisStore, messageRelay, sessions, table, cfg.CORSOrigins)

	// Create server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("env", cfg.Env).
			Msg("starting courier server")

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server...")

	// Graceful shutdown with 30 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := gw.Close(); err != nil {
		logger.Warn().Err(err).Msg("gateway close failed")
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server forced to shutdown")
	}

	logger.Info().Msg("server stopped")
}
