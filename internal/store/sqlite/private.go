package sqlite

import (
	"context"
	"fmt"

	"github.com/vovakirdan/roomwire/internal/store"
)

const privateSelect = `
	SELECT pm.id, pm.sender_id, pm.receiver_id, u.username, pm.content,
	       pm.image_url, pm.file_url, pm.is_read, pm.created_at
	FROM private_messages pm
	JOIN users u ON u.id = pm.sender_id
`

func scanPrivateMessage(row rowScanner) (*store.PrivateMessage, error) {
	var pm store.PrivateMessage
	if err := row.Scan(
		&pm.ID,
		&pm.SenderID,
		&pm.ReceiverID,
		&pm.Sender,
		&pm.Content,
		&pm.Attachments.ImageURL,
		&pm.Attachments.FileURL,
		&pm.IsRead,
		&pm.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &pm, nil
}

// CreatePrivateMessage persists a direct message.
func (s *SQLiteStore) CreatePrivateMessage(ctx context.Context, senderID, receiverID int64, content string, att store.Attachments) (*store.PrivateMessage, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO private_messages (sender_id, receiver_id, content, image_url, file_url, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, senderID, receiverID, content, att.ImageURL, att.FileURL, s.now())
	if err != nil {
		return nil, fmt.Errorf("insert private message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("get last insert id: %w", err)
	}
	return s.GetPrivateMessage(ctx, id)
}

// GetPrivateMessage retrieves a direct message by ID.
func (s *SQLiteStore) GetPrivateMessage(ctx context.Context, id int64) (*store.PrivateMessage, error) {
	pm, err := scanPrivateMessage(s.db.QueryRowContext(ctx, privateSelect+` WHERE pm.id = ?`, id))
	if err != nil {
		return nil, notFound("private message", err)
	}
	return pm, nil
}

// DeletePrivateMessage deletes a direct message.
func (s *SQLiteStore) DeletePrivateMessage(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM private_messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete private message: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("private message: %w", store.ErrNotFound)
	}
	return nil
}

// ListPrivateMessages returns the latest messages between two users, oldest first.
func (s *SQLiteStore) ListPrivateMessages(ctx context.Context, userA, userB int64, limit int) ([]*store.PrivateMessage, error) {
	rows, err := s.db.QueryContext(ctx, privateSelect+`
		WHERE (pm.sender_id = ? AND pm.receiver_id = ?)
		   OR (pm.sender_id = ? AND pm.receiver_id = ?)
		ORDER BY pm.id DESC
		LIMIT ?
	`, userA, userB, userB, userA, limit)
	if err != nil {
		return nil, fmt.Errorf("query private messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.PrivateMessage
	for rows.Next() {
		pm, err := scanPrivateMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan private message: %w", err)
		}
		messages = append(messages, pm)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range len(messages) / 2 {
		messages[i], messages[len(messages)-1-i] = messages[len(messages)-1-i], messages[i]
	}
	return messages, nil
}

// MarkConversationRead flips is_read for every unread message from sender to receiver.
func (s *SQLiteStore) MarkConversationRead(ctx context.Context, receiverID, senderID int64) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE private_messages
		SET is_read = 1
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`, receiverID, senderID)
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("get rows affected: %w", err)
	}
	return rows, nil
}

// CountUnreadPrivate counts unread messages from sender to receiver.
func (s *SQLiteStore) CountUnreadPrivate(ctx context.Context, receiverID, senderID int64) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM private_messages
		WHERE receiver_id = ? AND sender_id = ? AND is_read = 0
	`, receiverID, senderID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread private: %w", err)
	}
	return count, nil
}

// ListConversationPartners lists users with whom userID exchanged direct messages,
// most recently active first.
func (s *SQLiteStore) ListConversationPartners(ctx context.Context, userID int64) ([]store.ConversationPartner, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT u.id, u.username, u.created_at, MAX(pm.id) AS last_id
		FROM private_messages pm
		JOIN users u ON u.id = CASE WHEN pm.sender_id = ? THEN pm.receiver_id ELSE pm.sender_id END
		WHERE (pm.sender_id = ? OR pm.receiver_id = ?) AND u.id != ?
		GROUP BY u.id, u.username, u.created_at
		ORDER BY last_id DESC
	`, userID, userID, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("query conversation partners: %w", err)
	}
	defer rows.Close()

	var partners []store.ConversationPartner
	for rows.Next() {
		var p store.ConversationPartner
		if err := rows.Scan(&p.User.ID, &p.User.Username, &p.User.CreatedAt, &p.LastMessageID); err != nil {
			return nil, fmt.Errorf("scan conversation partner: %w", err)
		}
		partners = append(partners, p)
	}
	return partners, rows.Err()
}
