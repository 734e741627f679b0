package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/store"
	"github.com/vovakirdan/cinemate-server/internal/utils"
)

const (
	defaultMessagePage = 50
	maxMessagePage     = 200
)

// RoomHandlers provides HTTP handlers for room endpoints.
type RoomHandlers struct {
	store         store.Store
	publicBaseURL string
	log           *zerolog.Logger
}

// NewRoomHandlers creates a new room handlers instance.
func NewRoomHandlers(st store.Store, publicBaseURL string, logger *zerolog.Logger) *RoomHandlers {
	return &RoomHandlers{
		store:         st,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
		log:           logger,
	}
}

// CreateRoomResponse is returned for a new room.
type CreateRoomResponse struct {
	RoomID  string `json:"room_id"`
	RoomURL string `json:"room_url"`
}

// RoomResponse represents a room in API responses.
type RoomResponse struct {
	RoomID    string  `json:"room_id"`
	VideoURL  *string `json:"video_url,omitempty"`
	CreatedAt string  `json:"created_at"`
}

// MessageResponse is one chat message.
type MessageResponse struct {
	ID        string `json:"id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// MessagesResponse is a chronological page of chat history.
type MessagesResponse struct {
	RoomID   string            `json:"room_id"`
	Messages []MessageResponse `json:"messages"`
}

// CreateRoom handles room creation.
// POST /api/rooms/create
func (h *RoomHandlers) CreateRoom(c *gin.Context) {
	room, err := h.store.CreateRoom(c.Request.Context(), utils.NewID())
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create room")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", room.ID).Msg("room created")
	c.JSON(http.StatusCreated, CreateRoomResponse{
		RoomID:  room.ID,
		RoomURL: h.publicBaseURL + "/?room=" + room.ID,
	})
}

// GetRoom returns a room by id.
// GET /api/rooms/:room_id
func (h *RoomHandlers) GetRoom(c *gin.Context) {
	roomID := c.Param("room_id")
	room, err := h.store.GetRoom(c.Request.Context(), roomID)
	if err != nil {
		h.writeLookupError(c, err, roomID)
		return
	}

	c.JSON(http.StatusOK, RoomResponse{
		RoomID:    room.ID,
		VideoURL:  room.VideoURL,
		CreatedAt: room.CreatedAt.UTC().Format(time.RFC3339),
	})
}

// ListMessages returns chat history of a room.
// GET /api/rooms/:room_id/messages?limit=&before=
func (h *RoomHandlers) ListMessages(c *gin.Context) {
	roomID := c.Param("room_id")

	limit := defaultMessagePage
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid limit"})
			return
		}
		limit = min(n, maxMessagePage)
	}

	var before *time.Time
	if raw := c.Query("before"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before timestamp"})
			return
		}
		before = &ts
	}

	ctx := c.Request.Context()
	if _, err := h.store.GetRoom(ctx, roomID); err != nil {
		h.writeLookupError(c, err, roomID)
		return
	}

	messages, err := h.store.ListMessages(ctx, roomID, limit, before)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	response := MessagesResponse{RoomID: roomID, Messages: make([]MessageResponse, 0, len(messages))}
	for _, m := range messages {
		response.Messages = append(response.Messages, messageFromStore(m))
	}
	c.JSON(http.StatusOK, response)
}

func (h *RoomHandlers) writeLookupError(c *gin.Context, err error, roomID string) {
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, ErrorResponse{Error: "room not found"})
		return
	}
	h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to get room")
	c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
}
