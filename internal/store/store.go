package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Role is the participant role inside a room.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleGuest Role = "guest"
)

// Room is a synchronization scope with a shared video.
type Room struct {
	ID        string
	VideoURL  *string
	CreatedAt time.Time
}

// User is a person known to the directory.
type User struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// Permissions is the fixed set of capabilities a participant may hold.
type Permissions struct {
	ControlVideo bool `json:"control_video"`
	Kick         bool `json:"kick"`
	ChangeVideo  bool `json:"change_video"`
}

// FullPermissions grants every capability.
func FullPermissions() Permissions {
	return Permissions{ControlVideo: true, Kick: true, ChangeVideo: true}
}

// PermissionUpdate is a partial permission change; nil fields are left untouched.
type PermissionUpdate struct {
	ControlVideo *bool `json:"control_video,omitempty"`
	Kick         *bool `json:"kick,omitempty"`
	ChangeVideo  *bool `json:"change_video,omitempty"`
}

// Empty reports whether the update changes nothing.
func (u PermissionUpdate) Empty() bool {
	return u.ControlVideo == nil && u.Kick == nil && u.ChangeVideo == nil
}

// Apply merges the update into p field by field.
func (u PermissionUpdate) Apply(p Permissions) Permissions {
	if u.ControlVideo != nil {
		p.ControlVideo = *u.ControlVideo
	}
	if u.Kick != nil {
		p.Kick = *u.Kick
	}
	if u.ChangeVideo != nil {
		p.ChangeVideo = *u.ChangeVideo
	}
	return p
}

// Participant binds a user to a room. There is at most one per (room, user).
type Participant struct {
	ID          int64
	RoomID      string
	UserID      string
	UserName    string // filled by reads that join users
	Role        Role
	Permissions Permissions
	Connected   bool
	JoinedAt    time.Time
}

// Message is a persisted chat message.
type Message struct {
	ID        string
	RoomID    string
	UserID    string
	Username  string
	Text      string
	CreatedAt time.Time
}

// RoomStore handles room persistence.
type RoomStore interface {
	// CreateRoom inserts a new room with the given id.
	CreateRoom(ctx context.Context, id string) (*Room, error)

	// GetRoom retrieves a room by id.
	GetRoom(ctx context.Context, id string) (*Room, error)

	// SetRoomVideo updates the current video URL of a room.
	SetRoomVideo(ctx context.Context, id, videoURL string) error
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser inserts a user unless one with the same id exists,
	// and returns the stored row either way.
	CreateUser(ctx context.Context, id, name string) (*User, error)

	// GetUser retrieves a user by id.
	GetUser(ctx context.Context, id string) (*User, error)
}

// ParticipantStore handles room membership persistence.
type ParticipantStore interface {
	// CreateParticipant inserts a membership row and sets p.ID.
	CreateParticipant(ctx context.Context, p *Participant) error

	// GetParticipant retrieves the membership of user in room.
	GetParticipant(ctx context.Context, roomID, userID string) (*Participant, error)

	// UpdateParticipant persists role, permissions, connected and joined_at.
	UpdateParticipant(ctx context.Context, p *Participant) error

	// CountParticipants counts membership rows of a room, connected or not.
	CountParticipants(ctx context.Context, roomID string) (int, error)

	// ListConnectedParticipants returns connected members ordered by join time.
	ListConnectedParticipants(ctx context.Context, roomID string) ([]*Participant, error)
}

// MessageStore handles chat persistence.
type MessageStore interface {
	// SaveMessage appends a message. Empty ID and zero CreatedAt are filled in.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit messages of a room in chronological order.
	// When before is set only messages strictly older than it are considered;
	// the newest matching messages are returned.
	ListMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]*Message, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	RoomStore
	UserStore
	ParticipantStore
	MessageStore

	// Close closes the underlying database connection.
	Close() error
}
