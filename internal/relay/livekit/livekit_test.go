package livekit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/vovakirdan/cinemate-server/internal/relay"
)

const (
	testKey    = "devkey"
	testSecret = "devsecret-devsecret-devsecret-32"
)

func parseVideoGrant(t *testing.T, token string) (jwt.MapClaims, map[string]any) {
	t.Helper()
	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (interface{}, error) {
		return []byte(testSecret), nil
	}, jwt.WithLeeway(time.Minute))
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	video, ok := claims["video"].(map[string]any)
	if !ok {
		t.Fatalf("token has no video grant: %v", claims)
	}
	return claims, video
}

func TestIssueTokenGrants(t *testing.T) {
	issuer := New(testKey, testSecret, "ws://localhost:7880", time.Hour)

	info, err := issuer.IssueToken(context.Background(), "room-1", "user-1", "Alice", relay.RoleModerator)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if info.URL != "ws://localhost:7880" || info.Room != "room-1" || info.Identity != "user-1" {
		t.Fatalf("unexpected join info %+v", info)
	}

	claims, video := parseVideoGrant(t, info.Token)
	if claims["iss"] != testKey || claims["sub"] != "user-1" {
		t.Fatalf("unexpected issuer/subject: %v", claims)
	}
	if video["room"] != "room-1" || video["roomJoin"] != true || video["roomAdmin"] != true {
		t.Fatalf("unexpected moderator grant: %v", video)
	}

	info, err = issuer.IssueToken(context.Background(), "room-1", "user-2", "", relay.RoleSubscriber)
	if err != nil {
		t.Fatalf("issue subscriber: %v", err)
	}
	_, video = parseVideoGrant(t, info.Token)
	if video["canPublish"] != false || video["canSubscribe"] != true {
		t.Fatalf("unexpected subscriber grant: %v", video)
	}
	if _, ok := video["roomAdmin"]; ok && video["roomAdmin"] != false {
		t.Fatalf("subscriber must not be room admin: %v", video)
	}
}

func TestIssueTokenRejectsUnknownRole(t *testing.T) {
	issuer := New(testKey, testSecret, "ws://localhost:7880", 0)
	if _, err := issuer.IssueToken(context.Background(), "room-1", "user-1", "", relay.Role("owner")); !errors.Is(err, relay.ErrUnknownRole) {
		t.Fatalf("expected unknown role, got %v", err)
	}
	if _, err := issuer.IssueToken(context.Background(), "", "user-1", "", relay.RolePublisher); err == nil {
		t.Fatalf("expected error for missing room")
	}
}
