package sqlite

import (
	"context"
	"fmt"

	"github.com/vovakirdan/roomwire/internal/store"
)

const roomColumns = `id, name, description, created_by, is_private, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRoom(row rowScanner) (*store.Room, error) {
	var room store.Room
	if err := row.Scan(
		&room.ID,
		&room.Name,
		&room.Description,
		&room.CreatedBy,
		&room.IsPrivate,
		&room.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &room, nil
}

// CreateRoom creates a room and adds its creator as the first member.
func (s *SQLiteStore) CreateRoom(ctx context.Context, name, description string, creatorID int64, isPrivate bool) (*store.Room, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback() //nolint:errcheck // no-op after commit
	}()

	now := s.now()
	result, err := tx.ExecContext(ctx, `
		INSERT INTO rooms (name, description, created_by, is_private, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, name, description, creatorID, isPrivate, now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert room: %w", store.ErrConflict)
		}
		return nil, fmt.Errorf("insert room: %w", err)
	}

	roomID, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, roomID, creatorID, now); err != nil {
		return nil, fmt.Errorf("add creator to members: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit transaction: %w", err)
	}

	return s.GetRoomByID(ctx, roomID)
}

// GetRoomByID retrieves a room by ID.
func (s *SQLiteStore) GetRoomByID(ctx context.Context, id int64) (*store.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE id = ?`, id))
	if err != nil {
		return nil, notFound("room", err)
	}
	return room, nil
}

// GetRoomByName retrieves a room by name. The name column is NOCASE.
func (s *SQLiteStore) GetRoomByName(ctx context.Context, name string) (*store.Room, error) {
	room, err := scanRoom(s.db.QueryRowContext(ctx, `SELECT `+roomColumns+` FROM rooms WHERE name = ?`, name))
	if err != nil {
		return nil, notFound("room", err)
	}
	return room, nil
}

// ListRooms lists all rooms, newest first.
func (s *SQLiteStore) ListRooms(ctx context.Context) ([]*store.Room, error) {
	return s.queryRooms(ctx, `SELECT `+roomColumns+` FROM rooms ORDER BY created_at DESC, id DESC`)
}

// ListUserRooms lists rooms the user belongs to, newest first.
func (s *SQLiteStore) ListUserRooms(ctx context.Context, userID int64) ([]*store.Room, error) {
	return s.queryRooms(ctx, `
		SELECT r.id, r.name, r.description, r.created_by, r.is_private, r.created_at
		FROM rooms r
		JOIN room_members rm ON rm.room_id = r.id
		WHERE rm.user_id = ?
		ORDER BY r.created_at DESC, r.id DESC
	`, userID)
}

func (s *SQLiteStore) queryRooms(ctx context.Context, query string, args ...any) ([]*store.Room, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query rooms: %w", err)
	}
	defer rows.Close()

	var rooms []*store.Room
	for rows.Next() {
		room, err := scanRoom(rows)
		if err != nil {
			return nil, fmt.Errorf("scan room: %w", err)
		}
		rooms = append(rooms, room)
	}
	return rooms, rows.Err()
}

// AddMember adds a user to a room.
func (s *SQLiteStore) AddMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO room_members (room_id, user_id, joined_at)
		VALUES (?, ?, ?)
	`, roomID, userID, s.now())
	if err != nil {
		return fmt.Errorf("insert room member: %w", err)
	}
	return nil
}

// RemoveMember removes a user from a room.
func (s *SQLiteStore) RemoveMember(ctx context.Context, roomID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM room_members
		WHERE room_id = ? AND user_id = ?
	`, roomID, userID)
	if err != nil {
		return fmt.Errorf("delete room member: %w", err)
	}
	return nil
}

// IsMember checks if user is a member of the room.
func (s *SQLiteStore) IsMember(ctx context.Context, roomID, userID int64) (bool, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (SELECT 1 FROM room_members WHERE room_id = ? AND user_id = ?)
	`, roomID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	return exists == 1, nil
}

// ListMembers lists all members of a room with their profiles.
func (s *SQLiteStore) ListMembers(ctx context.Context, roomID int64) ([]store.Member, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.created_at,
		       COALESCE(p.avatar, ''), COALESCE(p.bio, ''), COALESCE(p.is_online, 0)
		FROM room_members rm
		JOIN users u ON u.id = rm.user_id
		LEFT JOIN user_profiles p ON p.user_id = u.id
		WHERE rm.room_id = ?
		ORDER BY rm.joined_at ASC, u.id ASC
	`, roomID)
	if err != nil {
		return nil, fmt.Errorf("query members: %w", err)
	}
	defer rows.Close()

	var members []store.Member
	for rows.Next() {
		var m store.Member
		if err := rows.Scan(
			&m.User.ID,
			&m.User.Username,
			&m.User.CreatedAt,
			&m.Profile.Avatar,
			&m.Profile.Bio,
			&m.Profile.IsOnline,
		); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		m.Profile.UserID = m.User.ID
		members = append(members, m)
	}
	return members, rows.Err()
}
