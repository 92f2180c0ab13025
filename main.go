package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/Ishu-sri-001/neuro-nest/api"
	"github.com/Ishu-sri-001/neuro-nest/config"
	"github.com/Ishu-sri-001/neuro-nest/database"
	"github.com/Ishu-sri-001/neuro-nest/middleware"
	"github.com/Ishu-sri-001/neuro-nest/repository"
	"github.com/Ishu-sri-001/neuro-nest/services"
)

const (
	sessionMaxAge       = 12 * time.Hour
	sessionPruneEvery   = 10 * time.Minute
	limiterCleanupEvery = time.Minute
	limiterMaxIdle      = 10 * time.Minute
	shutdownGracePeriod = 10 * time.Second
)

func main() {
	config.LoadConfig()
	cfg := config.AppConfig
	setupLogger(cfg)

	db, err := database.Open(cfg.Database.DSN)
	if err != nil {
		log.Fatal().Err(err).Str("component", "Main").Msg("failed to initialize database")
	}
	if err := database.Migrate(db); err != nil {
		log.Fatal().Err(err).Str("component", "Main").Msg("failed to migrate database")
	}

	devices := newDeviceStorage(cfg, db)
	accountRepo := repository.NewAccountRepository(db)
	allowanceStore := repository.NewAllowanceStore(devices, accountRepo, cfg.Guest.MessageLimit)
	log.Info().Str("component", "Main").Str("guest_store", cfg.Guest.Store).Int("guest_limit", cfg.Guest.MessageLimit).Msg("repositories initialized")

	completion, err := services.NewCompletionService(cfg.LLM)
	if err != nil {
		log.Warn().Err(err).Str("component", "Main").Msg("completion provider unavailable, chat replies will fail until configured")
		completion = services.NewUnavailableCompletionService(err)
	}

	tokens := services.NewTokenIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	chatService := services.NewChatService(allowanceStore, completion, services.QuotaPolicy{GuestLimit: cfg.Guest.MessageLimit}, cfg.LLM.SystemPrompt)
	accountService := services.NewAccountService(accountRepo, tokens, cfg)
	log.Info().Str("component", "Main").Str("provider", cfg.LLM.Provider).Str("model", cfg.LLM.Model).Msg("services initialized")

	if !strings.EqualFold(cfg.Log.Level, "debug") {
		gin.SetMode(gin.ReleaseMode)
	}
	apiHandler := api.NewAPIHandler(chatService, accountService, cfg)
	limiter := middleware.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
	router := api.NewRouter(apiHandler, tokens, limiter)

	port := cfg.Server.Port
	if port == "" {
		log.Warn().Str("component", "Main").Msg("server port not configured, using default 8080")
		port = "8080"
	}
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go pruneSessions(ctx, chatService)
	limiter.StartCleanup(ctx, limiterCleanupEvery, limiterMaxIdle)

	go func() {
		log.Info().Str("component", "Main").Str("addr", server.Addr).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Str("component", "Main").Msg("server failed")
		}
	}()

	<-ctx.Done()
	log.Info().Str("component", "Main").Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	// Stop accepting requests first so no reply starts after the sessions close.
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Str("component", "Main").Msg("graceful shutdown failed")
	}
	chatService.Shutdown()
}

func setupLogger(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Log.Format != "json" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
}

func newDeviceStorage(cfg config.Config, db *gorm.DB) repository.DeviceStorage {
	if cfg.Guest.Store != "redis" {
		return repository.NewDeviceRepository(db)
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatal().Err(err).Str("component", "Main").Str("addr", cfg.Redis.Addr).Msg("failed to connect to redis")
	}
	return repository.NewRedisDeviceRepository(client)
}

func pruneSessions(ctx context.Context, chatService services.ChatService) {
	ticker := time.NewTicker(sessionPruneEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			chatService.Prune(sessionMaxAge)
		}
	}
}
