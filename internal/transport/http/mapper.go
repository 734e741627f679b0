package http

import (
	"time"

	"github.com/coder/websocket"

	"github.com/vovakirdan/cinemate-server/internal/core"
	"github.com/vovakirdan/cinemate-server/internal/store"
)

// Application close codes sent with the final websocket frame.
const (
	StatusKicked       websocket.StatusCode = 4000
	StatusSuperseded   websocket.StatusCode = 4001
	StatusUnauthorized websocket.StatusCode = 4003
	StatusNotFound     websocket.StatusCode = 4004
)

// closeStatus maps why a peer was closed to the websocket close frame.
func closeStatus(reason core.CloseReason) (websocket.StatusCode, string) {
	switch reason {
	case core.CloseKicked:
		return StatusKicked, string(reason)
	case core.CloseSuperseded:
		return StatusSuperseded, string(reason)
	case core.CloseSendFailed:
		return websocket.StatusTryAgainLater, string(reason)
	case core.CloseShutdown:
		return websocket.StatusGoingAway, string(reason)
	default:
		return websocket.StatusNormalClosure, string(core.CloseNormal)
	}
}

// rejectStatus maps the error code of a failed join to the websocket close frame.
func rejectStatus(code string) websocket.StatusCode {
	switch code {
	case core.ErrCodeBadRequest:
		return websocket.StatusPolicyViolation
	case core.ErrCodeUnauthorized:
		return StatusUnauthorized
	case core.ErrCodeNotFound:
		return StatusNotFound
	case core.ErrCodeRateLimited:
		return websocket.StatusTryAgainLater
	default:
		return websocket.StatusInternalError
	}
}

func messageFromStore(m *store.Message) MessageResponse {
	return MessageResponse{
		ID:        m.ID,
		UserID:    m.UserID,
		Username:  m.Username,
		Message:   m.Text,
		Timestamp: m.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}
