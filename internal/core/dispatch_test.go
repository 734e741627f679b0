package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/vovakirdan/cinemate-server/internal/proto"
	"github.com/vovakirdan/cinemate-server/internal/store"
)

func TestHandleRejectsInvalidFrames(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	alice := connect(t, m, "room", "Alice", "alice")
	connect(t, m, "room", "Bob", "bob")

	cases := []struct {
		name  string
		frame string
		code  string
	}{
		{"not json", `hello`, ErrCodeBadRequest},
		{"missing type", `{"message":"x"}`, ErrCodeBadRequest},
		{"unknown type", `{"type":"dance"}`, ErrCodeBadRequest},
		{"seek without timestamp", `{"type":"seek"}`, ErrCodeBadRequest},
		{"seek with string timestamp", `{"type":"seek","timestamp":"soon"}`, ErrCodeBadRequest},
		{"blank chat", `{"type":"chat","message":"   "}`, ErrCodeBadRequest},
		{"empty video", `{"type":"change_video","video_url":""}`, ErrCodeBadRequest},
		{"unknown permission", `{"type":"set_permissions","target_id":"bob","permissions":{"admin":true}}`, ErrCodeBadRequest},
		{"empty permissions", `{"type":"set_permissions","target_id":"bob","permissions":{}}`, ErrCodeBadRequest},
		{"missing permissions", `{"type":"set_permissions","target_id":"bob"}`, ErrCodeBadRequest},
		{"set permissions without target", `{"type":"set_permissions","permissions":{"kick":true}}`, ErrCodeBadRequest},
		{"kick without target", `{"type":"kick"}`, ErrCodeBadRequest},
		{"kick unknown user", `{"type":"kick","target_id":"ghost"}`, ErrCodeNotFound},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			drain(alice)
			d.Handle(context.Background(), alice, []byte(tc.frame))
			e := decodeError(t, expectEvent(t, alice, proto.TypeError))
			if e.Code != tc.code || e.Reason == "" {
				t.Fatalf("expected %s with a reason, got %+v", tc.code, e)
			}
			if rest := drain(alice); len(rest) != 0 {
				t.Fatalf("rejected frame produced extra events: %d", len(rest))
			}
		})
	}
}

func TestHandleRelaysPlaybackVerbatim(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	alice := connect(t, m, "room", "Alice", "alice")
	bob := connect(t, m, "room", "Bob", "bob")
	drain(alice)
	drain(bob)

	frame := `{"type":"seek","timestamp":12.5,"extra":"kept"}`
	d.Handle(context.Background(), bob, []byte(frame))

	for _, p := range []*Peer{alice, bob} {
		ev := expectEvent(t, p, proto.TypeSeek)
		if string(ev.Raw) != frame {
			t.Fatalf("%s got %s, want verbatim %s", p.UserID, ev.Raw, frame)
		}
	}
}

func TestHandleIgnoresFieldsOtherKindsUse(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	alice := connect(t, m, "room", "Alice", "alice")
	drain(alice)

	d.Handle(context.Background(), alice, []byte(`{"type":"chat","message":"hi","timestamp":"3"}`))
	var chat proto.Chat
	if err := json.Unmarshal(expectEvent(t, alice, proto.TypeChat).Raw, &chat); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if chat.Message != "hi" {
		t.Fatalf("unexpected chat %+v", chat)
	}

	frame := `{"type":"play","message":1}`
	d.Handle(context.Background(), alice, []byte(frame))
	if ev := expectEvent(t, alice, proto.TypePlay); string(ev.Raw) != frame {
		t.Fatalf("play not relayed verbatim: %s", ev.Raw)
	}

	d.Handle(context.Background(), alice, []byte(`{"type":"chat","message":1}`))
	if e := decodeError(t, expectEvent(t, alice, proto.TypeError)); e.Code != ErrCodeBadRequest || e.Reason != "invalid message" {
		t.Fatalf("expected invalid message, got %+v", e)
	}
}

func TestHandlePlaybackPermissionEnforced(t *testing.T) {
	m, _ := newTestManager(t, Options{EnforcePlaybackPermission: true})
	d := NewDispatcher(m, nil)
	alice := connect(t, m, "room", "Alice", "alice")
	bob := connect(t, m, "room", "Bob", "bob")
	drain(alice)
	drain(bob)

	d.Handle(context.Background(), bob, []byte(`{"type":"play"}`))
	if e := decodeError(t, expectEvent(t, bob, proto.TypeError)); e.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", e)
	}
	if events := drain(alice); len(events) != 0 {
		t.Fatalf("rejected play was relayed")
	}

	d.Handle(context.Background(), alice, []byte(`{"type":"pause"}`))
	expectEvent(t, alice, proto.TypePause)
	expectEvent(t, bob, proto.TypePause)
}

func TestHandleChangeVideo(t *testing.T) {
	m, st := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	ctx := context.Background()
	alice := connect(t, m, "room", "Alice", "alice")
	bob := connect(t, m, "room", "Bob", "bob")
	drain(alice)
	drain(bob)

	d.Handle(ctx, bob, []byte(`{"type":"change_video","video_url":"https://example.com/b.mp4"}`))
	if e := decodeError(t, expectEvent(t, bob, proto.TypeError)); e.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", e)
	}
	if room, _ := st.GetRoom(ctx, "room"); room.VideoURL != nil {
		t.Fatalf("video changed without permission")
	}

	d.Handle(ctx, alice, []byte(`{"type":"change_video","video_url":"https://example.com/a.mp4"}`))
	for _, p := range []*Peer{alice, bob} {
		var vc proto.VideoChanged
		if err := json.Unmarshal(expectEvent(t, p, proto.TypeVideoChanged).Raw, &vc); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if vc.VideoURL != "https://example.com/a.mp4" {
			t.Fatalf("unexpected video %q", vc.VideoURL)
		}
	}

	carol := connect(t, m, "room", "Carol", "carol")
	var j proto.Joined
	if err := json.Unmarshal(expectEvent(t, carol, proto.TypeJoined).Raw, &j); err != nil {
		t.Fatalf("decode joined: %v", err)
	}
	if j.VideoURL == nil || *j.VideoURL != "https://example.com/a.mp4" {
		t.Fatalf("late joiner should see current video, got %v", j.VideoURL)
	}
}

func TestHandleChatIgnoresClaimedAuthor(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	alice := connect(t, m, "room", "Alice", "alice")
	bob := connect(t, m, "room", "Bob", "bob")
	drain(alice)
	drain(bob)

	d.Handle(context.Background(), bob, []byte(`{"type":"chat","message":"hi","user_id":"alice"}`))
	var c proto.Chat
	if err := json.Unmarshal(expectEvent(t, alice, proto.TypeChat).Raw, &c); err != nil {
		t.Fatalf("decode chat: %v", err)
	}
	if c.UserID != "bob" || c.Username != "Bob" || c.Message != "hi" {
		t.Fatalf("chat should be attributed to the connection, got %+v", c)
	}
	expectEvent(t, bob, proto.TypeChat)
}

// Alice joins first and grants Bob kick; Bob can then kick Alice. Carol, a
// guest without kick, is rejected and nothing changes.
func TestPermissionFlow(t *testing.T) {
	m, st := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	ctx := context.Background()

	alice := connect(t, m, "room", "Alice", "alice")
	bob := connect(t, m, "room", "Bob", "bob")
	carol := connect(t, m, "room", "Carol", "carol")

	if a := participant(t, st, "room", "alice"); a.Role != store.RoleAdmin || a.Permissions != store.FullPermissions() {
		t.Fatalf("alice should be admin, got %+v", a)
	}
	if b := participant(t, st, "room", "bob"); b.Role != store.RoleGuest || b.Permissions != (store.Permissions{}) {
		t.Fatalf("bob should be a plain guest, got %+v", b)
	}
	drain(alice)
	drain(bob)
	drain(carol)

	// Carol lacks kick.
	d.Handle(ctx, carol, []byte(`{"type":"kick","target_id":"alice"}`))
	if e := decodeError(t, expectEvent(t, carol, proto.TypeError)); e.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", e)
	}
	d.Handle(ctx, carol, []byte(`{"type":"set_permissions","target_id":"carol","permissions":{"kick":true}}`))
	if e := decodeError(t, expectEvent(t, carol, proto.TypeError)); e.Code != ErrCodeUnauthorized {
		t.Fatalf("expected unauthorized, got %+v", e)
	}
	if !participant(t, st, "room", "alice").Connected {
		t.Fatalf("rejected kick disconnected alice")
	}
	if participant(t, st, "room", "carol").Permissions.Kick {
		t.Fatalf("rejected set_permissions was applied")
	}
	if len(drain(alice)) != 0 || len(drain(bob)) != 0 {
		t.Fatalf("rejections must only reach the actor")
	}

	// Alice grants Bob kick.
	d.Handle(ctx, alice, []byte(`{"type":"set_permissions","target_id":"bob","permissions":{"kick":true}}`))
	roster := decodeRoster(t, expectEvent(t, carol, proto.TypeUsersUpdate))
	var bobEntry proto.RosterEntry
	for _, u := range roster {
		if u.ID == "bob" {
			bobEntry = u
		}
	}
	if !bobEntry.Permissions.Kick || bobEntry.Permissions.ControlVideo || bobEntry.Permissions.ChangeVideo {
		t.Fatalf("expected only kick merged in, got %+v", bobEntry.Permissions)
	}
	drain(alice)
	drain(bob)

	// Bob now kicks Alice.
	d.Handle(ctx, bob, []byte(`{"type":"kick","target_id":"alice"}`))
	expectEvent(t, alice, proto.TypeKicked)
	if alice.CloseReason() != CloseKicked {
		t.Fatalf("alice should be closed as kicked, got %q", alice.CloseReason())
	}
	roster = decodeRoster(t, expectEvent(t, bob, proto.TypeUsersUpdate))
	if len(roster) != 2 {
		t.Fatalf("expected bob and carol left, got %+v", roster)
	}
	if roster[0].ID != "bob" || roster[0].Role != store.RoleAdmin {
		t.Fatalf("bob should be promoted as earliest connected joiner, got %+v", roster[0])
	}
	if participant(t, st, "room", "alice").Connected {
		t.Fatalf("alice still connected after kick")
	}
}

func TestServeRunsCleanupOnDisconnect(t *testing.T) {
	m, st := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	ctx := context.Background()

	alice := connect(t, m, "room", "Alice", "alice")
	if _, err := m.Join(ctx, "room", "Bob", "bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	bob := m.NewPeer("room", "bob")
	reader := newChanReader()

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, bob, reader) }()

	expectEvent(t, bob, proto.TypeJoined)
	expectEvent(t, bob, proto.TypeUsersUpdate)
	reader.frames <- []byte(`{"type":"chat","message":"hello"}`)
	expectEvent(t, bob, proto.TypeChat)
	close(reader.frames)

	select {
	case err := <-done:
		if !errors.Is(err, io.EOF) {
			t.Fatalf("expected EOF from reader, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return")
	}

	events := drain(alice)
	// joined, roster, roster with bob, chat, roster without bob
	if got := countType(events, proto.TypeUsersUpdate); got != 3 {
		t.Fatalf("expected 3 roster updates for alice, got %d", got)
	}
	last := events[len(events)-1]
	if last.Type != proto.TypeUsersUpdate {
		t.Fatalf("expected final roster broadcast, got %s", last.Type)
	}
	if roster := decodeRoster(t, last); len(roster) != 1 || roster[0].ID != "alice" {
		t.Fatalf("unexpected final roster %+v", roster)
	}
	if participant(t, st, "room", "bob").Connected {
		t.Fatalf("bob still connected")
	}
	if m.Registry().Lookup("room", "bob") != nil {
		t.Fatalf("bob still registered")
	}
}

func TestServeStopsWhenKicked(t *testing.T) {
	m, _ := newTestManager(t, Options{})
	d := NewDispatcher(m, nil)
	ctx := context.Background()

	alice := connect(t, m, "room", "Alice", "alice")
	if _, err := m.Join(ctx, "room", "Bob", "bob"); err != nil {
		t.Fatalf("join bob: %v", err)
	}
	bob := m.NewPeer("room", "bob")
	reader := newChanReader()

	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx, bob, reader) }()
	expectEvent(t, bob, proto.TypeJoined)
	expectEvent(t, bob, proto.TypeUsersUpdate)
	drain(alice)

	d.Handle(ctx, alice, []byte(`{"type":"kick","target_id":"bob"}`))

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("kicked serve should end cleanly, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not stop after kick")
	}
	expectEvent(t, bob, proto.TypeKicked)

	if got := countType(drain(alice), proto.TypeUsersUpdate); got != 1 {
		t.Fatalf("expected exactly one roster broadcast after kick, got %d", got)
	}
}
