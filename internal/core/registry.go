package core

import (
	"sync"

	"github.com/rs/zerolog"
)

// Registry maps (room, user) to the live peer of that user.
// Empty rooms are dropped from memory.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[string]*Peer
	log   *zerolog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *zerolog.Logger) *Registry {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Registry{
		rooms: make(map[string]map[string]*Peer),
		log:   logger,
	}
}

// Register stores p under (p.RoomID, p.UserID) and returns the peer it replaced, if any.
func (r *Registry) Register(p *Peer) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[p.RoomID]
	if !ok {
		room = make(map[string]*Peer)
		r.rooms[p.RoomID] = room
	}
	prev := room[p.UserID]
	room[p.UserID] = p
	if prev == p {
		return nil
	}
	return prev
}

// Unregister removes whatever peer is stored under (roomID, userID).
func (r *Registry) Unregister(roomID, userID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		return nil
	}
	p := room[userID]
	r.deleteLocked(roomID, userID)
	return p
}

// Remove unregisters p only if it is still the registered peer for its pair.
func (r *Registry) Remove(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rooms[p.RoomID][p.UserID] != p {
		return false
	}
	r.deleteLocked(p.RoomID, p.UserID)
	return true
}

func (r *Registry) deleteLocked(roomID, userID string) {
	room := r.rooms[roomID]
	delete(room, userID)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
}

// Lookup returns the live peer of userID in roomID, or nil.
func (r *Registry) Lookup(roomID, userID string) *Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[roomID][userID]
}

// Broadcast sends payload to every peer in roomID except the user excludeUserID
// (empty excludes nobody) and returns how many peers accepted it. A peer whose
// send fails is evicted and closed; delivery to the others continues.
func (r *Registry) Broadcast(roomID string, payload []byte, excludeUserID string) int {
	r.mu.RLock()
	peers := make([]*Peer, 0, len(r.rooms[roomID]))
	for userID, p := range r.rooms[roomID] {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		peers = append(peers, p)
	}
	r.mu.RUnlock()

	delivered := 0
	var failed []*Peer
	for _, p := range peers {
		if err := p.Send(payload); err != nil {
			r.log.Warn().Err(err).Str("room_id", roomID).Str("user_id", p.UserID).Msg("broadcast send failed")
			failed = append(failed, p)
			continue
		}
		delivered++
	}

	for _, p := range failed {
		r.Remove(p)
		p.Close(CloseSendFailed)
	}
	return delivered
}

// RoomSize returns the number of live peers in roomID.
func (r *Registry) RoomSize(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomCount returns the number of rooms with at least one live peer.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// CloseAll closes every live peer, used on shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, room := range r.rooms {
		for _, p := range room {
			p.Close(CloseShutdown)
		}
	}
}
