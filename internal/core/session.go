package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/vovakirdan/cinemate-server/internal/proto"
	"github.com/vovakirdan/cinemate-server/internal/ratelimit"
	"github.com/vovakirdan/cinemate-server/internal/store"
	"github.com/vovakirdan/cinemate-server/internal/utils"
)

const (
	defaultName     = "Anonymous"
	unknownName     = "Unknown"
	maxVideoURLSize = 2048
)

// Options tune the session manager.
type Options struct {
	HistoryLimit              int
	SendBuffer                int
	MaxChatLength             int
	ChatRatePerMinute         int
	EnforcePlaybackPermission bool
	Now                       func() time.Time
}

func (o *Options) withDefaults() {
	if o.HistoryLimit <= 0 {
		o.HistoryLimit = 50
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 64
	}
	if o.MaxChatLength <= 0 {
		o.MaxChatLength = 2000
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
}

// Manager orchestrates join, leave, roster and permission-gated mutations
// for every room. All mutations and broadcasts of one room run under that
// room's lock, so roster snapshots and delivery order are consistent.
type Manager struct {
	store    store.Store
	registry *Registry
	log      *zerolog.Logger
	opts     Options

	locks       *roomLocks
	chatLimiter *ratelimit.Memory
}

// NewManager wires a manager over the directory and the registry.
func NewManager(st store.Store, registry *Registry, logger *zerolog.Logger, opts Options) *Manager {
	opts.withDefaults()
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	return &Manager{
		store:       st,
		registry:    registry,
		log:         logger,
		opts:        opts,
		locks:       newRoomLocks(),
		chatLimiter: ratelimit.NewMemory(opts.ChatRatePerMinute, time.Minute),
	}
}

// Registry returns the connection registry used by the manager.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// NewPeer creates a peer whose queue can hold the join handshake and history.
func (m *Manager) NewPeer(roomID, userID string) *Peer {
	buffer := m.opts.SendBuffer
	if floor := m.opts.HistoryLimit + 8; buffer < floor {
		buffer = floor
	}
	return NewPeer(roomID, userID, buffer)
}

// Join resolves or creates the user, the room and the participant row.
// A new participant is admin only when it is the room's first participant row.
// Existing rows keep their role and permissions. Rows are marked connected by
// Connect, together with the registration of the live peer.
func (m *Manager) Join(ctx context.Context, roomID, displayName, userID string) (*store.User, error) {
	if roomID == "" {
		return nil, badRequest("room id is required")
	}
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = defaultName
	}

	user, err := m.resolveUser(ctx, userID, name)
	if err != nil {
		return nil, err
	}

	unlock := m.locks.lock(roomID)
	defer unlock()

	if _, err := m.store.GetRoom(ctx, roomID); err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get room: %w", err)
		}
		if _, err := m.store.CreateRoom(ctx, roomID); err != nil {
			return nil, fmt.Errorf("create room: %w", err)
		}
	}

	participant, err := m.store.GetParticipant(ctx, roomID, user.ID)
	switch {
	case err == nil:
		m.log.Debug().Str("room_id", roomID).Str("user_id", user.ID).Str("role", string(participant.Role)).Msg("participant rejoining")
		return user, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("get participant: %w", err)
	}

	count, err := m.store.CountParticipants(ctx, roomID)
	if err != nil {
		return nil, err
	}
	isFirst := count == 0
	participant = &store.Participant{
		RoomID:    roomID,
		UserID:    user.ID,
		Role:      store.RoleGuest,
		JoinedAt:  m.opts.Now(),
	}
	if isFirst {
		participant.Role = store.RoleAdmin
		participant.Permissions = store.FullPermissions()
	}
	if err := m.store.CreateParticipant(ctx, participant); err != nil {
		return nil, fmt.Errorf("create participant: %w", err)
	}
	m.log.Debug().Str("room_id", roomID).Str("user_id", user.ID).Str("role", string(participant.Role)).Msg("participant created")
	return user, nil
}

func (m *Manager) resolveUser(ctx context.Context, userID, name string) (*store.User, error) {
	if userID != "" {
		user, err := m.store.GetUser(ctx, userID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("get user: %w", err)
		}
	} else {
		userID = utils.NewID()
	}
	user, err := m.store.CreateUser(ctx, userID, name)
	if err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Connect marks the participant connected, registers peer and sends it the
// join handshake: joined, the roster (broadcast to the whole room) and the
// most recent chat history. Reactivation and registration happen under one
// room lock.
func (m *Manager) Connect(ctx context.Context, peer *Peer) error {
	unlock := m.locks.lock(peer.RoomID)
	defer unlock()

	room, err := m.store.GetRoom(ctx, peer.RoomID)
	if err != nil {
		return notFoundOr(err, "room not found")
	}

	participant, err := m.store.GetParticipant(ctx, peer.RoomID, peer.UserID)
	if err != nil {
		return notFoundOr(err, "participant not found")
	}
	participant.Connected = true
	participant.JoinedAt = m.opts.Now()
	if err := m.store.UpdateParticipant(ctx, participant); err != nil {
		return fmt.Errorf("activate participant: %w", err)
	}

	if err := m.sendTo(peer, proto.Joined{
		Type:     proto.TypeJoined,
		UserID:   peer.UserID,
		RoomID:   peer.RoomID,
		VideoURL: room.VideoURL,
	}); err != nil {
		return err
	}

	if prev := m.registry.Register(peer); prev != nil {
		prev.claimRelease()
		prev.Close(CloseSuperseded)
		m.log.Info().Str("room_id", peer.RoomID).Str("user_id", peer.UserID).Msg("previous connection superseded")
	}

	if err := m.broadcastRosterLocked(ctx, peer.RoomID); err != nil {
		return err
	}

	history, err := m.store.ListMessages(ctx, peer.RoomID, m.opts.HistoryLimit, nil)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	for _, msg := range history {
		if err := m.sendTo(peer, chatEvent(msg)); err != nil {
			return err
		}
	}

	m.log.Info().Str("room_id", peer.RoomID).Str("user_id", peer.UserID).Int("history", len(history)).Msg("connection joined room")
	return nil
}

// Release runs disconnect cleanup for peer exactly once: deregister, leave,
// and one roster rebroadcast. A peer replaced by a newer connection of the
// same user or removed by a kick is only deregistered.
func (m *Manager) Release(ctx context.Context, peer *Peer) {
	defer peer.Close(CloseNormal)
	m.chatLimiter.Forget(peer.ID)

	if !peer.claimRelease() {
		return
	}

	unlock := m.locks.lock(peer.RoomID)
	defer unlock()

	m.registry.Remove(peer)
	if current := m.registry.Lookup(peer.RoomID, peer.UserID); current != nil {
		return
	}

	if err := m.leaveLocked(ctx, peer.RoomID, peer.UserID); err != nil {
		m.log.Error().Err(err).Str("room_id", peer.RoomID).Str("user_id", peer.UserID).Msg("leave on disconnect")
	}
	if err := m.broadcastRosterLocked(ctx, peer.RoomID); err != nil {
		m.log.Error().Err(err).Str("room_id", peer.RoomID).Msg("roster after disconnect")
	}
	m.log.Info().Str("room_id", peer.RoomID).Str("user_id", peer.UserID).Msg("connection left room")
}

// Leave marks the participant disconnected. The row is kept for reactivation.
func (m *Manager) Leave(ctx context.Context, roomID, userID string) error {
	unlock := m.locks.lock(roomID)
	defer unlock()
	return m.leaveLocked(ctx, roomID, userID)
}

func (m *Manager) leaveLocked(ctx context.Context, roomID, userID string) error {
	participant, err := m.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return notFoundOr(err, "participant not found")
	}
	if !participant.Connected {
		return nil
	}
	participant.Connected = false
	if err := m.store.UpdateParticipant(ctx, participant); err != nil {
		return fmt.Errorf("mark participant disconnected: %w", err)
	}
	return nil
}

// ActiveParticipant returns the user only while their participant row is connected.
func (m *Manager) ActiveParticipant(ctx context.Context, roomID, userID string) (*store.User, error) {
	participant, err := m.store.GetParticipant(ctx, roomID, userID)
	if err != nil {
		return nil, notFoundOr(err, "participant not found")
	}
	if !participant.Connected {
		return nil, coreError(ErrCodeNotFound, "participant is not connected")
	}
	return &store.User{ID: participant.UserID, Name: participant.UserName}, nil
}

// SetPermissions merges update into the target's permissions. The actor must
// be a connected admin or hold the kick permission.
func (m *Manager) SetPermissions(ctx context.Context, roomID, actorID, targetID string, update store.PermissionUpdate) error {
	if targetID == "" {
		return badRequest("target_id is required")
	}
	if update.Empty() {
		return badRequest("permissions are required")
	}

	unlock := m.locks.lock(roomID)
	defer unlock()

	if _, err := m.authorize(ctx, roomID, actorID, canModerate); err != nil {
		return err
	}

	target, err := m.store.GetParticipant(ctx, roomID, targetID)
	if err != nil {
		return notFoundOr(err, "target participant not found")
	}
	target.Permissions = update.Apply(target.Permissions)
	if err := m.store.UpdateParticipant(ctx, target); err != nil {
		return fmt.Errorf("update permissions: %w", err)
	}

	m.log.Info().Str("room_id", roomID).Str("actor_id", actorID).Str("target_id", targetID).Msg("permissions updated")
	return m.broadcastRosterLocked(ctx, roomID)
}

// Kick disconnects the target participant. The actor must be a connected
// admin or hold the kick permission.
func (m *Manager) Kick(ctx context.Context, roomID, actorID, targetID string) error {
	if targetID == "" {
		return badRequest("target_id is required")
	}
	if targetID == actorID {
		return badRequest("cannot kick yourself")
	}

	unlock := m.locks.lock(roomID)
	defer unlock()

	if _, err := m.authorize(ctx, roomID, actorID, canModerate); err != nil {
		return err
	}

	target, err := m.store.GetParticipant(ctx, roomID, targetID)
	if err != nil {
		return notFoundOr(err, "target participant not found")
	}
	target.Connected = false
	if err := m.store.UpdateParticipant(ctx, target); err != nil {
		return fmt.Errorf("kick participant: %w", err)
	}

	if peer := m.registry.Lookup(roomID, targetID); peer != nil {
		peer.claimRelease()
		if err := m.sendTo(peer, proto.Kicked{Type: proto.TypeKicked}); err != nil {
			m.log.Warn().Err(err).Str("room_id", roomID).Str("user_id", targetID).Msg("failed to send kicked")
		}
		m.registry.Remove(peer)
		peer.Close(CloseKicked)
	}

	m.log.Info().Str("room_id", roomID).Str("actor_id", actorID).Str("target_id", targetID).Msg("participant kicked")
	return m.broadcastRosterLocked(ctx, roomID)
}

// BroadcastRoster recomputes the connected participant list, promotes an admin
// when needed and sends the snapshot to the room.
func (m *Manager) BroadcastRoster(ctx context.Context, roomID string) error {
	unlock := m.locks.lock(roomID)
	defer unlock()
	return m.broadcastRosterLocked(ctx, roomID)
}

func (m *Manager) broadcastRosterLocked(ctx context.Context, roomID string) error {
	participants, err := m.store.ListConnectedParticipants(ctx, roomID)
	if err != nil {
		return fmt.Errorf("list participants: %w", err)
	}

	if err := m.ensureSingleAdmin(ctx, participants); err != nil {
		return err
	}

	users := make([]proto.RosterEntry, 0, len(participants))
	for _, p := range participants {
		users = append(users, proto.RosterEntry{
			ID:          p.UserID,
			Name:        p.UserName,
			Role:        p.Role,
			Permissions: p.Permissions,
		})
	}

	payload, err := json.Marshal(proto.UsersUpdate{Type: proto.TypeUsersUpdate, Users: users})
	if err != nil {
		return fmt.Errorf("marshal roster: %w", err)
	}
	delivered := m.registry.Broadcast(roomID, payload, "")
	m.log.Debug().Str("room_id", roomID).Int("users", len(users)).Int("delivered", delivered).Msg("roster broadcast")
	return nil
}

// ensureSingleAdmin keeps exactly one admin among connected participants
// (ordered by join time): the earliest joiner is promoted when none is admin,
// later admins are demoted to guest with their permissions kept.
func (m *Manager) ensureSingleAdmin(ctx context.Context, participants []*store.Participant) error {
	if len(participants) == 0 {
		return nil
	}

	var admin *store.Participant
	for _, p := range participants {
		if p.Role != store.RoleAdmin {
			continue
		}
		if admin == nil {
			admin = p
			continue
		}
		p.Role = store.RoleGuest
		if err := m.store.UpdateParticipant(ctx, p); err != nil {
			return fmt.Errorf("demote admin: %w", err)
		}
	}
	if admin != nil {
		return nil
	}

	promoted := participants[0]
	promoted.Role = store.RoleAdmin
	promoted.Permissions = store.FullPermissions()
	if err := m.store.UpdateParticipant(ctx, promoted); err != nil {
		return fmt.Errorf("promote admin: %w", err)
	}
	m.log.Info().Str("room_id", promoted.RoomID).Str("user_id", promoted.UserID).Msg("admin promoted")
	return nil
}

// SetVideo stores the room's current video URL.
func (m *Manager) SetVideo(ctx context.Context, roomID, videoURL string) error {
	if err := m.store.SetRoomVideo(ctx, roomID, videoURL); err != nil {
		return notFoundOr(err, "room not found")
	}
	return nil
}

// ChangeVideo updates the room video on behalf of actor and announces it.
func (m *Manager) ChangeVideo(ctx context.Context, roomID, actorID, videoURL string) error {
	videoURL = strings.TrimSpace(videoURL)
	if videoURL == "" {
		return badRequest("video_url is required")
	}
	if len(videoURL) > maxVideoURLSize {
		return badRequest("video_url is too long")
	}

	unlock := m.locks.lock(roomID)
	defer unlock()

	if _, err := m.authorize(ctx, roomID, actorID, canChangeVideo); err != nil {
		return err
	}
	if err := m.SetVideo(ctx, roomID, videoURL); err != nil {
		return err
	}
	return m.broadcastLocked(roomID, proto.VideoChanged{Type: proto.TypeVideoChanged, VideoURL: videoURL})
}

// Chat persists a message from peer's user and broadcasts it to the room,
// sender included.
func (m *Manager) Chat(ctx context.Context, peer *Peer, text string) error {
	if strings.TrimSpace(text) == "" {
		return badRequest("message is required")
	}
	if len([]rune(text)) > m.opts.MaxChatLength {
		return badRequest("message is too long")
	}
	if ok, _ := m.chatLimiter.Allow(ctx, peer.ID); !ok {
		return coreError(ErrCodeRateLimited, "too many messages")
	}

	unlock := m.locks.lock(peer.RoomID)
	defer unlock()

	name := unknownName
	user, err := m.ActiveParticipant(ctx, peer.RoomID, peer.UserID)
	switch {
	case err == nil:
		name = user.Name
	case !errors.Is(err, ErrNotFound):
		return err
	}

	msg := &store.Message{
		ID:        utils.NewID(),
		RoomID:    peer.RoomID,
		UserID:    peer.UserID,
		Username:  name,
		Text:      text,
		CreatedAt: m.opts.Now(),
	}
	if err := m.store.SaveMessage(ctx, msg); err != nil {
		return fmt.Errorf("save message: %w", err)
	}
	return m.broadcastLocked(peer.RoomID, chatEvent(msg))
}

// Relay forwards a playback event verbatim to the room, sender included.
func (m *Manager) Relay(ctx context.Context, peer *Peer, raw []byte) error {
	unlock := m.locks.lock(peer.RoomID)
	defer unlock()

	if m.opts.EnforcePlaybackPermission {
		if _, err := m.authorize(ctx, peer.RoomID, peer.UserID, canControlVideo); err != nil {
			return err
		}
	}
	m.registry.Broadcast(peer.RoomID, raw, "")
	return nil
}

func (m *Manager) broadcastLocked(roomID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	m.registry.Broadcast(roomID, payload, "")
	return nil
}

func (m *Manager) sendTo(peer *Peer, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return peer.Send(payload)
}

// authorize loads the actor's participant row and applies check to it.
func (m *Manager) authorize(ctx context.Context, roomID, actorID string, check func(*store.Participant) bool) (*store.Participant, error) {
	actor, err := m.store.GetParticipant(ctx, roomID, actorID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, unauthorized("not a participant of this room")
		}
		return nil, fmt.Errorf("get actor: %w", err)
	}
	if !actor.Connected {
		return nil, unauthorized("not an active participant")
	}
	if !check(actor) {
		return nil, unauthorized("permission denied")
	}
	return actor, nil
}

func canModerate(p *store.Participant) bool {
	return p.Role == store.RoleAdmin || p.Permissions.Kick
}

func canChangeVideo(p *store.Participant) bool {
	return p.Role == store.RoleAdmin || p.Permissions.ChangeVideo
}

func canControlVideo(p *store.Participant) bool {
	return p.Role == store.RoleAdmin || p.Permissions.ControlVideo
}

func chatEvent(msg *store.Message) proto.Chat {
	return proto.Chat{
		Type:      proto.TypeChat,
		UserID:    msg.UserID,
		Username:  msg.Username,
		Message:   msg.Text,
		Timestamp: msg.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// roomLocks hands out one mutex per room and drops it when unused.
type roomLocks struct {
	mu    sync.Mutex
	locks map[string]*roomLock
}

type roomLock struct {
	sync.Mutex
	refs int
}

func newRoomLocks() *roomLocks {
	return &roomLocks{locks: make(map[string]*roomLock)}
}

func (l *roomLocks) lock(roomID string) func() {
	l.mu.Lock()
	rl, ok := l.locks[roomID]
	if !ok {
		rl = &roomLock{}
		l.locks[roomID] = rl
	}
	rl.refs++
	l.mu.Unlock()

	rl.Lock()
	return func() {
		rl.Unlock()
		l.mu.Lock()
		rl.refs--
		if rl.refs == 0 {
			delete(l.locks, roomID)
		}
		l.mu.Unlock()
	}
}
