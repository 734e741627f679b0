package livekit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/vovakirdan/cinemate-server/internal/relay"
)

// Issuer implements relay.TokenIssuer with LiveKit access tokens.
type Issuer struct {
	apiKey    string
	apiSecret string
	wsURL     string
	ttl       time.Duration
}

// New creates a new Issuer.
func New(apiKey, apiSecret, wsURL string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Issuer{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		ttl:       ttl,
	}
}

// IssueToken signs a join token for userID in the LiveKit room named after roomID.
// LiveKit creates rooms on demand when the first participant connects.
func (i *Issuer) IssueToken(_ context.Context, roomID, userID, name string, role relay.Role) (*relay.JoinInfo, error) {
	if roomID == "" || userID == "" {
		return nil, errors.New("room id and user id are required")
	}
	grant, ok := relay.Roles[role]
	if !ok {
		return nil, relay.ErrUnknownRole
	}

	videoGrant := &auth.VideoGrant{
		RoomJoin:  grant.RoomJoin,
		Room:      roomID,
		RoomAdmin: grant.RoomAdmin,
	}
	videoGrant.SetCanPublish(grant.CanPublish)
	videoGrant.SetCanSubscribe(grant.CanSubscribe)

	at := auth.NewAccessToken(i.apiKey, i.apiSecret)
	at.SetVideoGrant(videoGrant).
		SetIdentity(userID).
		SetValidFor(i.ttl)
	if name != "" {
		at.SetName(name)
	}

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &relay.JoinInfo{
		URL:      i.wsURL,
		Token:    token,
		Room:     roomID,
		Identity: userID,
	}, nil
}

var _ relay.TokenIssuer = (*Issuer)(nil)
