package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/vovakirdan/roomwire/internal/store"
)

const messageSelect = `
	SELECT m.id, m.room_id, m.user_id, u.username, m.content, m.image_url, m.file_url, m.created_at
	FROM messages m
	JOIN users u ON u.id = m.user_id
`

func scanMessage(row rowScanner) (*store.Message, error) {
	var msg store.Message
	if err := row.Scan(
		&msg.ID,
		&msg.RoomID,
		&msg.UserID,
		&msg.Username,
		&msg.Content,
		&msg.Attachments.ImageURL,
		&msg.Attachments.FileURL,
		&msg.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &msg, nil
}

// CreateMessage persists a room message.
func (s *SQLiteStore) CreateMessage(ctx context.Context, roomID, authorID int64, content string, att store.Attachments) (*store.Message, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (room_id, user_id, content, image_url, file_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, roomID, authorID, content, att.ImageURL, att.FileURL, s.now())
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetMessage(ctx, id)
}

// GetMessage retrieves a room message by ID.
func (s *SQLiteStore) GetMessage(ctx context.Context, id int64) (*store.Message, error) {
	msg, err := scanMessage(s.db.QueryRowContext(ctx, messageSelect+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, notFound("message", err)
	}
	return msg, nil
}

// DeleteMessage deletes a message if it belongs to the room.
func (s *SQLiteStore) DeleteMessage(ctx context.Context, id, roomID int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM messages WHERE id = ? AND room_id = ?`, id, roomID)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("message: %w", store.ErrNotFound)
	}
	return nil
}

// ListMessages retrieves the latest messages of a room in chronological order.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID int64, after *time.Time, limit int) ([]*store.Message, error) {
	query := messageSelect + ` WHERE m.room_id = ?`
	args := []any{roomID}
	if after != nil {
		query += ` AND m.created_at > ?`
		args = append(args, after.UTC())
	}
	query += ` ORDER BY m.id DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Reverse to get chronological order
	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}
	return messages, nil
}

// ==== ReadStore implementation ====

// UpsertMessageRead records a read receipt; repeated calls keep the first receipt.
func (s *SQLiteStore) UpsertMessageRead(ctx context.Context, messageID, userID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO message_reads (message_id, user_id, read_at)
		VALUES (?, ?, ?)
	`, messageID, userID, s.now())
	if err != nil {
		return fmt.Errorf("insert message read: %w", err)
	}
	return nil
}

// UpsertHiddenConversation sets or moves the hidden_at marker.
func (s *SQLiteStore) UpsertHiddenConversation(ctx context.Context, userID, roomID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO hidden_conversations (user_id, room_id, hidden_at)
		VALUES (?, ?, ?)
		ON CONFLICT (user_id, room_id) DO UPDATE SET hidden_at = excluded.hidden_at
	`, userID, roomID, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert hidden conversation: %w", err)
	}
	return nil
}

// GetHiddenConversation returns the hidden marker of a user in a room.
func (s *SQLiteStore) GetHiddenConversation(ctx context.Context, userID, roomID int64) (*store.HiddenConversation, error) {
	var h store.HiddenConversation
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, room_id, hidden_at
		FROM hidden_conversations
		WHERE user_id = ? AND room_id = ?
	`, userID, roomID).Scan(&h.UserID, &h.RoomID, &h.HiddenAt)
	if err != nil {
		return nil, notFound("hidden conversation", err)
	}
	return &h, nil
}

// CountUnread counts messages by other users without a read receipt for userID,
// newer than the user's hidden marker if one exists.
func (s *SQLiteStore) CountUnread(ctx context.Context, roomID, userID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM messages m
		LEFT JOIN hidden_conversations h ON h.room_id = m.room_id AND h.user_id = ?
		WHERE m.room_id = ?
		  AND m.user_id != ?
		  AND (h.hidden_at IS NULL OR m.created_at > h.hidden_at)
		  AND NOT EXISTS (
		      SELECT 1 FROM message_reads r
		      WHERE r.message_id = m.id AND r.user_id = ?
		  )
	`, userID, roomID, userID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread: %w", err)
	}
	return count, nil
}
