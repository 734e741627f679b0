package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vovakirdan/cinemate-server/internal/store"
	"github.com/vovakirdan/cinemate-server/internal/utils"
)

//go:embed schema.sql
var schema string

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies the schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, Migrate)
}

// NewMemory returns an in-memory store with the schema applied.
func NewMemory() (*SQLiteStore, error) {
	return NewWithSetup(":memory:", Migrate)
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests to apply a custom schema.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Migrate applies the embedded schema. It is idempotent.
func Migrate(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== RoomStore implementation ====

// CreateRoom inserts a new room.
func (s *SQLiteStore) CreateRoom(ctx context.Context, id string) (*store.Room, error) {
	query := `INSERT INTO rooms (id, created_at) VALUES (?, ?)`
	if _, err := s.db.ExecContext(ctx, query, id, now()); err != nil {
		return nil, fmt.Errorf("insert room: %w", err)
	}
	return s.GetRoom(ctx, id)
}

// GetRoom retrieves a room by id.
func (s *SQLiteStore) GetRoom(ctx context.Context, id string) (*store.Room, error) {
	query := `SELECT id, current_video_url, created_at FROM rooms WHERE id = ?`

	var room store.Room
	var videoURL sql.NullString
	err := s.db.QueryRowContext(ctx, query, id).Scan(&room.ID, &videoURL, &room.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("room %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query room: %w", err)
	}
	if videoURL.Valid {
		room.VideoURL = &videoURL.String
	}
	return &room, nil
}

// SetRoomVideo updates the current video URL of a room.
func (s *SQLiteStore) SetRoomVideo(ctx context.Context, id, videoURL string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE rooms SET current_video_url = ? WHERE id = ?`, videoURL, id)
	if err != nil {
		return fmt.Errorf("update room video: %w", err)
	}
	return expectOneRow(res, "room "+id)
}

// ==== UserStore implementation ====

// CreateUser inserts a user if absent and returns the stored row.
func (s *SQLiteStore) CreateUser(ctx context.Context, id, name string) (*store.User, error) {
	query := `INSERT INTO users (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT(id) DO NOTHING`
	if _, err := s.db.ExecContext(ctx, query, id, name, now()); err != nil {
		return nil, fmt.Errorf("insert user: %w", err)
	}
	return s.GetUser(ctx, id)
}

// GetUser retrieves a user by id.
func (s *SQLiteStore) GetUser(ctx context.Context, id string) (*store.User, error) {
	query := `SELECT id, name, created_at FROM users WHERE id = ?`

	var user store.User
	err := s.db.QueryRowContext(ctx, query, id).Scan(&user.ID, &user.Name, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", id, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query user: %w", err)
	}
	return &user, nil
}

// ==== ParticipantStore implementation ====

const participantColumns = `p.id, p.room_id, p.user_id, u.name, p.role,
	p.perm_control_video, p.perm_kick, p.perm_change_video, p.connected, p.joined_at`

// CreateParticipant inserts a membership row.
func (s *SQLiteStore) CreateParticipant(ctx context.Context, p *store.Participant) error {
	query := `
		INSERT INTO room_participants
			(room_id, user_id, role, perm_control_video, perm_kick, perm_change_video, connected, joined_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if p.JoinedAt.IsZero() {
		p.JoinedAt = now()
	}
	result, err := s.db.ExecContext(ctx, query,
		p.RoomID, p.UserID, p.Role,
		p.Permissions.ControlVideo, p.Permissions.Kick, p.Permissions.ChangeVideo,
		p.Connected, p.JoinedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert participant: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}
	p.ID = id
	return nil
}

// GetParticipant retrieves the membership of user in room.
func (s *SQLiteStore) GetParticipant(ctx context.Context, roomID, userID string) (*store.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ? AND p.user_id = ?
	`
	p, err := scanParticipant(s.db.QueryRowContext(ctx, query, roomID, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("participant %s/%s: %w", roomID, userID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query participant: %w", err)
	}
	return p, nil
}

// UpdateParticipant persists the mutable participant fields.
func (s *SQLiteStore) UpdateParticipant(ctx context.Context, p *store.Participant) error {
	query := `
		UPDATE room_participants
		SET role = ?, perm_control_video = ?, perm_kick = ?, perm_change_video = ?,
			connected = ?, joined_at = ?
		WHERE room_id = ? AND user_id = ?
	`
	res, err := s.db.ExecContext(ctx, query,
		p.Role, p.Permissions.ControlVideo, p.Permissions.Kick, p.Permissions.ChangeVideo,
		p.Connected, p.JoinedAt.UTC(),
		p.RoomID, p.UserID,
	)
	if err != nil {
		return fmt.Errorf("update participant: %w", err)
	}
	return expectOneRow(res, "participant "+p.RoomID+"/"+p.UserID)
}

// CountParticipants counts membership rows of a room.
func (s *SQLiteStore) CountParticipants(ctx context.Context, roomID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM room_participants WHERE room_id = ?`, roomID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count participants: %w", err)
	}
	return count, nil
}

// ListConnectedParticipants returns connected members ordered by join time.
func (s *SQLiteStore) ListConnectedParticipants(ctx context.Context, roomID string) ([]*store.Participant, error) {
	query := `
		SELECT ` + participantColumns + `
		FROM room_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.room_id = ? AND p.connected = 1
		ORDER BY p.joined_at ASC, p.id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, roomID)
	if err != nil {
		return nil, fmt.Errorf("query participants: %w", err)
	}
	defer rows.Close()

	var participants []*store.Participant
	for rows.Next() {
		p, err := scanParticipant(rows)
		if err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}
	return participants, nil
}

// ==== MessageStore implementation ====

// SaveMessage appends a chat message.
func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.ID == "" {
		msg.ID = utils.NewID()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now()
	}
	query := `
		INSERT INTO messages (id, room_id, user_id, username, text, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.RoomID, msg.UserID, msg.Username, msg.Text, msg.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ListMessages returns the newest messages of a room in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int, before *time.Time) ([]*store.Message, error) {
	query := `
		SELECT id, room_id, user_id, username, text, created_at
		FROM messages
		WHERE room_id = ?
	`
	args := []any{roomID}
	if before != nil {
		query += ` AND created_at < ?`
		args = append(args, before.UTC())
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var m store.Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Text, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Newest first from the query; callers want chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanParticipant(row rowScanner) (*store.Participant, error) {
	var p store.Participant
	var role string
	err := row.Scan(
		&p.ID,
		&p.RoomID,
		&p.UserID,
		&p.UserName,
		&role,
		&p.Permissions.ControlVideo,
		&p.Permissions.Kick,
		&p.Permissions.ChangeVideo,
		&p.Connected,
		&p.JoinedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Role = store.Role(role)
	return &p, nil
}

func expectOneRow(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, store.ErrNotFound)
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

var _ store.Store = (*SQLiteStore)(nil)
