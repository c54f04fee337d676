package sqlstore

import (
	"context"

	"github.com/pkg/errors"

	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/store"
)

var errIncompleteCiphertext = errors.New("message is missing ciphertext, iv or tag")

func (s *SQLStore) SaveMessage(ctx context.Context, msg *models.Message) error {
	if len(msg.EncryptedContent) == 0 || len(msg.IV) == 0 || len(msg.Tag) == 0 {
		return errors.Wrap(errIncompleteCiphertext, "sqlstore.SaveMessage")
	}
	query := s.rebind("INSERT INTO messages (id, conversation_id, sender_id, encrypted_content, iv, tag, key_version, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, msg.ID, msg.ConversationID, msg.SenderID, msg.EncryptedContent, msg.IV, msg.Tag, msg.KeyVersion, msg.CreatedAt.UTC())
	return translate(err, "sqlstore.SaveMessage")
}

func (s *SQLStore) GetMessages(ctx context.Context, conversationID string, limit int, before store.Cursor) ([]models.Message, error) {
	// Newest page first, then flipped so callers get chronological order.
	query := `
		SELECT m.id, m.conversation_id, m.sender_id, u.username, m.encrypted_content, m.iv, m.tag, m.key_version, m.created_at
		FROM messages m
		JOIN users u ON m.sender_id = u.id
		WHERE m.conversation_id = ?`
	args := []any{conversationID}
	if !before.IsZero() {
		// Same ordering as the page itself, so ties on created_at are not lost.
		query += " AND (m.created_at < ? OR (m.created_at = ? AND m.id < ?))"
		at := before.CreatedAt.UTC()
		args = append(args, at, at, before.ID)
	}
	query += " ORDER BY m.created_at DESC, m.id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, translate(err, "sqlstore.GetMessages")
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.SenderUsername, &m.EncryptedContent, &m.IV, &m.Tag, &m.KeyVersion, &m.CreatedAt); err != nil {
			return nil, translate(err, "sqlstore.GetMessages: scan")
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, translate(err, "sqlstore.GetMessages")
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}
