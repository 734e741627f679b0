package proto

import (
	"encoding/json"

	"github.com/vovakirdan/cinemate-server/internal/store"
)

// Event types exchanged on the live room channel.
const (
	TypePlay           = "play"
	TypePause          = "pause"
	TypeSeek           = "seek"
	TypeChat           = "chat"
	TypeChangeVideo    = "change_video"
	TypeSetPermissions = "set_permissions"
	TypeKick           = "kick"

	TypeJoined       = "joined"
	TypeUsersUpdate  = "users_update"
	TypeVideoChanged = "video_changed"
	TypeKicked       = "kicked"
	TypeError        = "error"
)

// Inbound is a client event. Fields are used depending on Type.
type Inbound struct {
	Type        string          `json:"type"`
	Timestamp   *float64        `json:"timestamp,omitempty"`
	Message     string          `json:"message,omitempty"`
	UserID      string          `json:"user_id,omitempty"`
	VideoURL    string          `json:"video_url,omitempty"`
	TargetID    string          `json:"target_id,omitempty"`
	Permissions json.RawMessage `json:"permissions,omitempty"`
}

// Joined is sent once to a new connection.
type Joined struct {
	Type     string  `json:"type"`
	UserID   string  `json:"user_id"`
	RoomID   string  `json:"room_id"`
	VideoURL *string `json:"video_url,omitempty"`
}

// RosterEntry describes one connected participant.
type RosterEntry struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Role        store.Role        `json:"role"`
	Permissions store.Permissions `json:"permissions"`
}

// UsersUpdate is the roster snapshot broadcast to a room.
type UsersUpdate struct {
	Type  string        `json:"type"`
	Users []RosterEntry `json:"users"`
}

// Chat is a chat message as delivered to clients.
type Chat struct {
	Type      string `json:"type"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

// VideoChanged announces a new room video.
type VideoChanged struct {
	Type     string `json:"type"`
	VideoURL string `json:"video_url"`
}

// Kicked tells a participant it was removed from the room.
type Kicked struct {
	Type string `json:"type"`
}

// Error describes a rejected event. It is only sent to the event's author.
type Error struct {
	Type   string `json:"type"`
	Code   string `json:"code"`
	Reason string `json:"reason"`
}
