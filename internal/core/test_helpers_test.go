package core

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/vovakirdan/cinemate-server/internal/proto"
	"github.com/vovakirdan/cinemate-server/internal/store"
	"github.com/vovakirdan/cinemate-server/internal/store/sqlite"
)

type testEvent struct {
	Type string
	Raw  []byte
}

func newTestManager(t *testing.T, opts Options) (*Manager, store.Store) {
	t.Helper()
	st, err := sqlite.NewMemory()
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return NewManager(st, NewRegistry(nil), nil, opts), st
}

// connect joins userID to roomID and registers a live peer for it.
func connect(t *testing.T, m *Manager, roomID, name, userID string) *Peer {
	t.Helper()
	ctx := context.Background()
	user, err := m.Join(ctx, roomID, name, userID)
	if err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	peer := m.NewPeer(roomID, user.ID)
	if err := m.Connect(ctx, peer); err != nil {
		t.Fatalf("connect %s: %v", name, err)
	}
	return peer
}

// nextEvent returns the next queued event of p or fails the test.
func nextEvent(t *testing.T, p *Peer) testEvent {
	t.Helper()
	select {
	case raw := <-p.Outbound():
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(raw, &head); err != nil {
			t.Fatalf("decode event %q: %v", raw, err)
		}
		return testEvent{Type: head.Type, Raw: raw}
	case <-time.After(time.Second):
		t.Fatalf("no event for %s", p.UserID)
		return testEvent{}
	}
}

func expectEvent(t *testing.T, p *Peer, typ string) testEvent {
	t.Helper()
	ev := nextEvent(t, p)
	if ev.Type != typ {
		t.Fatalf("expected %s event for %s, got %s: %s", typ, p.UserID, ev.Type, ev.Raw)
	}
	return ev
}

// drain discards and returns everything currently queued for p.
func drain(p *Peer) []testEvent {
	var events []testEvent
	for {
		select {
		case raw := <-p.Outbound():
			var head struct {
				Type string `json:"type"`
			}
			_ = json.Unmarshal(raw, &head)
			events = append(events, testEvent{Type: head.Type, Raw: raw})
		default:
			return events
		}
	}
}

func countType(events []testEvent, typ string) int {
	n := 0
	for _, ev := range events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func decodeRoster(t *testing.T, ev testEvent) []proto.RosterEntry {
	t.Helper()
	var update proto.UsersUpdate
	if err := json.Unmarshal(ev.Raw, &update); err != nil {
		t.Fatalf("decode roster: %v", err)
	}
	return update.Users
}

func decodeError(t *testing.T, ev testEvent) proto.Error {
	t.Helper()
	var e proto.Error
	if err := json.Unmarshal(ev.Raw, &e); err != nil {
		t.Fatalf("decode error event: %v", err)
	}
	return e
}

func participant(t *testing.T, st store.Store, roomID, userID string) *store.Participant {
	t.Helper()
	p, err := st.GetParticipant(context.Background(), roomID, userID)
	if err != nil {
		t.Fatalf("get participant %s: %v", userID, err)
	}
	return p
}

// chanReader feeds frames to Dispatcher.Serve; closing frames ends the stream.
type chanReader struct {
	frames chan []byte
}

func newChanReader() *chanReader {
	return &chanReader{frames: make(chan []byte, 16)}
}

func (r *chanReader) ReadFrame(ctx context.Context) ([]byte, error) {
	select {
	case frame, ok := <-r.frames:
		if !ok {
			return nil, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
