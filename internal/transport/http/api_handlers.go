package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/auth"
	"github.com/vovakirdan/cinemate-server/internal/relay"
	"github.com/vovakirdan/cinemate-server/internal/store"
)

// APIHandlers serves client configuration, media tokens and login.
type APIHandlers struct {
	authService  *auth.Service
	relay        relay.TokenIssuer
	store        store.UserStore
	relayEnabled bool
	log          *zerolog.Logger
}

// NewAPIHandlers creates a new API handlers instance.
func NewAPIHandlers(authService *auth.Service, issuer relay.TokenIssuer, users store.UserStore, relayEnabled bool, logger *zerolog.Logger) *APIHandlers {
	return &APIHandlers{
		authService:  authService,
		relay:        issuer,
		store:        users,
		relayEnabled: relayEnabled && issuer != nil,
		log:          logger,
	}
}

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// ClientConfigResponse tells the client which media path to use.
type ClientConfigResponse struct {
	UseLiveKit bool `json:"use_livekit"`
}

// MediaTokenRequest represents the media token request body.
type MediaTokenRequest struct {
	UserID string `json:"user_id" binding:"required"`
	RoomID string `json:"room_id" binding:"required"`
	Role   string `json:"role"`
}

// MediaTokenResponse carries a media relay join token.
type MediaTokenResponse struct {
	Token string `json:"token"`
	URL   string `json:"url"`
}

// LoginResponse is returned after a successful Telegram login.
type LoginResponse struct {
	Status string `json:"status"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// ClientConfig reports whether the media relay should be used for a room.
// GET /config?room_id=
func (h *APIHandlers) ClientConfig(c *gin.Context) {
	c.JSON(http.StatusOK, ClientConfigResponse{
		UseLiveKit: relay.UseMediaRelay(h.relayEnabled, c.Query("room_id")),
	})
}

// MediaToken issues a media relay join token.
// POST /livekit/token
func (h *APIHandlers) MediaToken(c *gin.Context) {
	if !h.relayEnabled {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "media relay is disabled"})
		return
	}

	var req MediaTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid media token request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	role, err := relay.ParseRole(req.Role)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "unknown role"})
		return
	}

	ctx := c.Request.Context()
	name := ""
	if user, err := h.store.GetUser(ctx, req.UserID); err == nil {
		name = user.Name
	}

	info, err := h.relay.IssueToken(ctx, req.RoomID, req.UserID, name, role)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", req.RoomID).Str("user_id", req.UserID).Msg("failed to issue media token")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", req.RoomID).Str("user_id", req.UserID).Str("role", string(role)).Msg("media token issued")
	c.JSON(http.StatusOK, MediaTokenResponse{Token: info.Token, URL: info.URL})
}

// TelegramLogin verifies a Telegram widget payload and issues a session token.
// POST /auth/telegram
func (h *APIHandlers) TelegramLogin(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 16<<10))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}
	payload, err := auth.DecodeTelegramPayload(body)
	if err != nil {
		h.log.Debug().Err(err).Msg("invalid telegram payload")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	session, err := h.authService.TelegramLogin(c.Request.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidSignature):
			c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid telegram signature"})
		case errors.Is(err, auth.ErrTelegramDisabled):
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "telegram login is disabled"})
		default:
			h.log.Error().Err(err).Msg("telegram login failed")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	h.log.Info().Str("user_id", session.UserID).Msg("telegram login")
	c.JSON(http.StatusOK, LoginResponse{
		Status: "ok",
		UserID: session.UserID,
		Name:   session.Name,
		Token:  session.Token,
	})
}
