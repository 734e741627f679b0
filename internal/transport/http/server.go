package http

import (
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/auth"
	"github.com/vovakirdan/cinemate-server/internal/config"
	"github.com/vovakirdan/cinemate-server/internal/core"
	"github.com/vovakirdan/cinemate-server/internal/ratelimit"
	"github.com/vovakirdan/cinemate-server/internal/relay"
	"github.com/vovakirdan/cinemate-server/internal/store"
)

// Deps are the collaborators served over HTTP.
type Deps struct {
	Store       store.Store
	Manager     *core.Manager
	Dispatcher  *core.Dispatcher
	Auth        *auth.Service
	Relay       relay.TokenIssuer // nil when the media relay is disabled
	RoomLimiter ratelimit.Limiter
}

// NewServer builds the HTTP server with all routes.
func NewServer(deps Deps, cfg *config.Config, logger *zerolog.Logger) *stdhttp.Server {
	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           NewRouter(deps, cfg, logger),
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}

// NewRouter registers the REST API and the live room channel on a gin engine.
func NewRouter(deps Deps, cfg *config.Config, logger *zerolog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), LoggerMiddleware(logger))

	router.GET("/health", healthHandler)

	rooms := NewRoomHandlers(deps.Store, cfg.PublicBaseURL, logger)
	api := router.Group("/api/rooms")
	api.POST("/create", RateLimitMiddleware(deps.RoomLimiter, "rooms:create", logger), rooms.CreateRoom)
	api.GET("/:room_id", rooms.GetRoom)
	api.GET("/:room_id/messages", rooms.ListMessages)

	handlers := NewAPIHandlers(deps.Auth, deps.Relay, deps.Store, cfg.LiveKit.Enabled, logger)
	router.GET("/config", handlers.ClientConfig)
	router.POST("/livekit/token", handlers.MediaToken)
	router.POST("/auth/telegram", handlers.TelegramLogin)

	ws := NewWSHandler(deps.Manager, deps.Dispatcher, deps.Auth, WSOptions{
		IdleTimeout:     cfg.IdleTimeout,
		MaxMessageBytes: cfg.MaxMessageBytes,
	}, logger)
	router.GET("/ws/:room_id", ws.Handle)

	return router
}

func healthHandler(c *gin.Context) {
	c.String(stdhttp.StatusOK, "ok")
}
