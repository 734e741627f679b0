package http

import (
	"context"
	"errors"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/auth"
	"github.com/vovakirdan/cinemate-server/internal/core"
	"github.com/vovakirdan/cinemate-server/internal/proto"
)

const writeTimeout = 10 * time.Second

// WSOptions configure the live room channel.
type WSOptions struct {
	IdleTimeout     time.Duration
	MaxMessageBytes int64
}

// WSHandler upgrades HTTP connections and bridges them to the room core.
type WSHandler struct {
	manager    *core.Manager
	dispatcher *core.Dispatcher
	auth       *auth.Service
	opts       WSOptions
	log        *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(manager *core.Manager, dispatcher *core.Dispatcher, authService *auth.Service, opts WSOptions, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{
		manager:    manager,
		dispatcher: dispatcher,
		auth:       authService,
		opts:       opts,
		log:        logger,
	}
}

// Handle serves GET /ws/:room_id?username=&user_id=&token=
func (h *WSHandler) Handle(c *gin.Context) {
	roomID := c.Param("room_id")
	username := c.Query("username")
	userID := c.Query("user_id")

	if token := c.Query("token"); token != "" {
		if h.auth == nil {
			c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "token auth is not available"})
			return
		}
		claims, err := h.auth.ValidateToken(token)
		if err != nil {
			h.log.Debug().Err(err).Msg("invalid ws token")
			c.JSON(stdhttp.StatusUnauthorized, ErrorResponse{Error: "invalid token"})
			return
		}
		userID = claims.UserID
		if username == "" {
			username = claims.Name
		}
	}

	h.serve(c.Writer, c.Request, roomID, username, userID)
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, roomID, username, userID string) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	user, err := h.manager.Join(ctx, roomID, username, userID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("join failed")
		h.rejectJoin(ctx, conn, err)
		return
	}

	peer := h.manager.NewPeer(roomID, user.ID)
	logger := h.log.With().Str("room_id", roomID).Str("user_id", user.ID).Str("peer_id", peer.ID).Logger()

	writerDone := make(chan error, 1)
	go func() {
		err := h.writeLoop(ctx, conn, peer)
		if err != nil {
			_ = conn.CloseNow()
		}
		writerDone <- err
	}()

	serveErr := h.dispatcher.Serve(ctx, peer, &frameReader{conn: conn, idle: h.opts.IdleTimeout})
	writeErr := <-writerDone

	if err := firstError(serveErr, writeErr); err != nil && !isExpectedClose(err) {
		logger.Warn().Err(err).Msg("ws connection closed with error")
		return
	}
	logger.Debug().Str("reason", string(peer.CloseReason())).Msg("ws connection closed")
}

func (h *WSHandler) rejectJoin(ctx context.Context, conn *websocket.Conn, err error) {
	code, reason := core.ErrCodeInternal, "join failed"
	var coreErr *core.Error
	if errors.As(err, &coreErr) {
		code, reason = coreErr.Code, coreErr.Message
	}
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_ = wsjson.Write(writeCtx, conn, proto.Error{Type: proto.TypeError, Code: code, Reason: reason})
	_ = conn.Close(rejectStatus(code), reason)
}

// writeLoop drains the peer's queue onto the socket. Once the peer is closed
// the remaining queued payloads are flushed and the socket is closed with a
// status derived from the close reason.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, peer *core.Peer) error {
	for {
		select {
		case msg := <-peer.Outbound():
			if err := write(ctx, conn, msg); err != nil {
				return err
			}
		case <-peer.Done():
			for {
				select {
				case msg := <-peer.Outbound():
					if err := write(ctx, conn, msg); err != nil {
						return err
					}
				default:
					status, reason := closeStatus(peer.CloseReason())
					_ = conn.Close(status, reason)
					return nil
				}
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func write(ctx context.Context, conn *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, msg)
}

// frameReader reads one websocket message per frame and enforces the idle timeout.
// Reads are not cut short by cancellation of ctx: a read ends when the writer
// closes the socket, after the peer's queue has been flushed.
type frameReader struct {
	conn *websocket.Conn
	idle time.Duration
}

func (r *frameReader) ReadFrame(ctx context.Context) ([]byte, error) {
	ctx = context.WithoutCancel(ctx)
	if r.idle > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.idle)
		defer cancel()
	}
	_, data, err := r.conn.Read(ctx)
	return data, err
}

func firstError(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func isExpectedClose(err error) bool {
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return true
	}
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
