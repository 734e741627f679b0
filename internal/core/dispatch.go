package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/proto"
	"github.com/vovakirdan/cinemate-server/internal/store"
)

// FrameReader yields inbound frames of one connection. It returns an error
// when the connection is closed or idle for too long.
type FrameReader interface {
	ReadFrame(ctx context.Context) ([]byte, error)
}

// Dispatcher runs the per-connection event loop.
type Dispatcher struct {
	manager *Manager
	log     *zerolog.Logger
}

// NewDispatcher builds a dispatcher over manager.
func NewDispatcher(manager *Manager, logger *zerolog.Logger) *Dispatcher {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Dispatcher{manager: manager, log: logger}
}

// Serve connects peer and handles its frames in arrival order until the reader
// fails, the peer is closed or ctx is cancelled. Disconnect cleanup always runs
// exactly once before Serve returns.
func (d *Dispatcher) Serve(ctx context.Context, peer *Peer, r FrameReader) error {
	defer d.manager.Release(context.WithoutCancel(ctx), peer)

	if err := d.manager.Connect(ctx, peer); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-peer.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		frame, err := r.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		d.Handle(ctx, peer, frame)
	}
}

// Handle decodes and applies a single frame. Rejections are sent to peer as
// error events; the connection stays open.
func (d *Dispatcher) Handle(ctx context.Context, peer *Peer, frame []byte) {
	if err := d.handle(ctx, peer, frame); err != nil {
		d.reject(peer, err)
	}
}

func (d *Dispatcher) handle(ctx context.Context, peer *Peer, frame []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return badRequest("invalid json")
	}

	switch head.Type {
	case "":
		return badRequest("type is required")
	case proto.TypePlay, proto.TypePause:
		return d.manager.Relay(ctx, peer, frame)
	case proto.TypeSeek:
		var in struct {
			Timestamp *float64 `json:"timestamp"`
		}
		if err := decodeFields(frame, &in); err != nil {
			return err
		}
		if in.Timestamp == nil {
			return badRequest("timestamp is required")
		}
		return d.manager.Relay(ctx, peer, frame)
	case proto.TypeChat:
		var in struct {
			Message string `json:"message"`
		}
		if err := decodeFields(frame, &in); err != nil {
			return err
		}
		return d.manager.Chat(ctx, peer, in.Message)
	case proto.TypeChangeVideo:
		var in struct {
			VideoURL string `json:"video_url"`
		}
		if err := decodeFields(frame, &in); err != nil {
			return err
		}
		return d.manager.ChangeVideo(ctx, peer.RoomID, peer.UserID, in.VideoURL)
	case proto.TypeSetPermissions:
		var in struct {
			TargetID    string          `json:"target_id"`
			Permissions json.RawMessage `json:"permissions"`
		}
		if err := decodeFields(frame, &in); err != nil {
			return err
		}
		update, err := decodePermissions(in.Permissions)
		if err != nil {
			return err
		}
		return d.manager.SetPermissions(ctx, peer.RoomID, peer.UserID, in.TargetID, update)
	case proto.TypeKick:
		var in struct {
			TargetID string `json:"target_id"`
		}
		if err := decodeFields(frame, &in); err != nil {
			return err
		}
		return d.manager.Kick(ctx, peer.RoomID, peer.UserID, in.TargetID)
	default:
		return badRequest("unknown event type")
	}
}

// decodeFields reads the fields one event kind uses; other fields are ignored.
func decodeFields(frame []byte, v any) error {
	if err := json.Unmarshal(frame, v); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return badRequest("invalid " + typeErr.Field)
		}
		return badRequest("invalid event")
	}
	return nil
}

func (d *Dispatcher) reject(peer *Peer, err error) {
	code := ErrCodeInternal
	reason := "internal error"
	var coreErr *Error
	if errors.As(err, &coreErr) {
		code = coreErr.Code
		reason = coreErr.Message
	} else {
		d.log.Error().Err(err).Str("room_id", peer.RoomID).Str("user_id", peer.UserID).Msg("handle event")
	}

	d.log.Debug().Str("room_id", peer.RoomID).Str("user_id", peer.UserID).Str("code", code).Str("reason", reason).Msg("event rejected")
	if sendErr := d.manager.sendTo(peer, proto.Error{Type: proto.TypeError, Code: code, Reason: reason}); sendErr != nil {
		d.log.Warn().Err(sendErr).Str("user_id", peer.UserID).Msg("failed to send error event")
	}
}
