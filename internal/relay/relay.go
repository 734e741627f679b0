package relay

import (
	"context"
	"crypto/sha256"
	"errors"
	"strings"
)

// ErrUnknownRole is returned for a media role outside Roles.
var ErrUnknownRole = errors.New("unknown role")

// Role selects the grants a participant receives in the media room.
type Role string

const (
	RolePublisher  Role = "publisher"
	RoleSubscriber Role = "subscriber"
	RoleModerator  Role = "moderator"
)

// Grant lists the media-room capabilities of a role.
type Grant struct {
	RoomJoin     bool
	CanPublish   bool
	CanSubscribe bool
	RoomAdmin    bool
}

// Roles maps each role to its grant.
var Roles = map[Role]Grant{
	RolePublisher:  {RoomJoin: true, CanPublish: true, CanSubscribe: true},
	RoleSubscriber: {RoomJoin: true, CanSubscribe: true},
	RoleModerator:  {RoomJoin: true, CanPublish: true, CanSubscribe: true, RoomAdmin: true},
}

// ParseRole resolves a role name; empty means publisher.
func ParseRole(s string) (Role, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return RolePublisher, nil
	}
	role := Role(s)
	if _, ok := Roles[role]; !ok {
		return "", ErrUnknownRole
	}
	return role, nil
}

// JoinInfo contains what a client needs to join a media room.
type JoinInfo struct {
	URL      string `json:"url"`
	Token    string `json:"token"`
	Room     string `json:"room"`
	Identity string `json:"identity"`
}

// TokenIssuer abstracts the media backend that signs join tokens.
type TokenIssuer interface {
	IssueToken(ctx context.Context, roomID, userID, name string, role Role) (*JoinInfo, error)
}

// UseMediaRelay decides whether clients of roomID should use the media relay.
// The answer is stable per room so every participant agrees: the room id's
// SHA-256 digest read as a big-endian integer must be even.
func UseMediaRelay(enabled bool, roomID string) bool {
	if !enabled {
		return false
	}
	if roomID == "" {
		return true
	}
	digest := sha256.Sum256([]byte(roomID))
	return digest[len(digest)-1]%2 == 0
}
