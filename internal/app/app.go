package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/auth"
	"github.com/vovakirdan/cinemate-server/internal/config"
	"github.com/vovakirdan/cinemate-server/internal/core"
	"github.com/vovakirdan/cinemate-server/internal/ratelimit"
	"github.com/vovakirdan/cinemate-server/internal/relay"
	"github.com/vovakirdan/cinemate-server/internal/relay/livekit"
	"github.com/vovakirdan/cinemate-server/internal/store"
	"github.com/vovakirdan/cinemate-server/internal/store/sqlite"
	transporthttp "github.com/vovakirdan/cinemate-server/internal/transport/http"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	registry        *core.Registry
	store           store.Store
	redis           *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	// Initialize database store
	st, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}

	logger.Info().Str("db_path", cfg.DatabasePath).Msg("database initialized")

	jwtConfig := &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      cfg.JWTTTL,
	}
	authService := auth.NewService(st, jwtConfig, cfg.TelegramBotToken)
	if cfg.TelegramBotToken == "" {
		logger.Warn().Msg("telegram_bot_token is empty, telegram login disabled")
	}

	var issuer relay.TokenIssuer
	if cfg.LiveKit.Enabled {
		issuer = livekit.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL, cfg.LiveKit.TokenTTL)
		logger.Info().Str("url", cfg.LiveKit.URL).Msg("livekit media relay enabled")
	}

	limiter, redisClient := newRoomLimiter(cfg.RateLimit, logger)

	registry := core.NewRegistry(logger)
	manager := core.NewManager(st, registry, logger, core.Options{
		HistoryLimit:              cfg.HistoryLimit,
		SendBuffer:                cfg.SendBuffer,
		MaxChatLength:             cfg.MaxChatLength,
		ChatRatePerMinute:         cfg.ChatRatePerMinute,
		EnforcePlaybackPermission: cfg.EnforcePlaybackPermission,
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Store:       st,
		Manager:     manager,
		Dispatcher:  core.NewDispatcher(manager, logger),
		Auth:        authService,
		Relay:       issuer,
		RoomLimiter: limiter,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		registry:        registry,
		store:           st,
		redis:           redisClient,
		log:             logger,
	}, nil
}

// newRoomLimiter picks a Redis-backed limiter when redis_addr is set so that
// several instances share counters, and an in-memory one otherwise.
func newRoomLimiter(cfg config.RateLimitConfig, logger *zerolog.Logger) (ratelimit.Limiter, *redis.Client) {
	if cfg.RoomCreatePerMinute <= 0 {
		return nil, nil
	}
	if cfg.RedisAddr == "" {
		return ratelimit.NewMemory(cfg.RoomCreatePerMinute, time.Minute), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	logger.Info().Str("redis_addr", cfg.RedisAddr).Msg("room creation limiter uses redis")
	return ratelimit.NewRedis(client, "cinemate:ratelimit:", cfg.RoomCreatePerMinute, time.Minute), client
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go func() {
		a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		// Hijacked websocket connections are not tracked by Shutdown.
		a.registry.CloseAll()
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
