package sqlstore

import (
	"context"
	"database/sql"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/pliu/letschat/internal/models"
	"github.com/pliu/letschat/internal/store"
)

const conversationColumns = "c.id, c.type, c.name, c.created_by, c.key_version, c.created_at, c.updated_at"

var (
	errKeyRequired = errors.New("conversation key version 1 with key material is required")
	errDirectPair  = errors.New("direct conversation needs exactly two participants")
)

// directKey names an unordered user pair.
func directKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return strconv.Itoa(len(userA)) + ":" + userA + ":" + userB
}

func scanConversation(row rowScanner) (*models.Conversation, error) {
	var (
		conv models.Conversation
		typ  string
	)
	if err := row.Scan(&conv.ID, &typ, &conv.Name, &conv.CreatedBy, &conv.KeyVersion, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
		return nil, err
	}
	conv.Type = models.ConversationType(typ)
	return &conv, nil
}

func (s *SQLStore) CreateConversation(ctx context.Context, conv *models.Conversation, participants []models.Participant, key models.ConversationKey) error {
	if key.Version != 1 || len(key.WrappedKey) == 0 || key.ConversationID != conv.ID {
		return errors.Wrap(errKeyRequired, "sqlstore.CreateConversation")
	}
	var pair sql.NullString
	if conv.Type == models.ConversationDirect {
		if len(participants) != 2 {
			return errors.Wrap(errDirectPair, "sqlstore.CreateConversation")
		}
		pair = sql.NullString{String: directKey(participants[0].UserID, participants[1].UserID), Valid: true}
	}

	return s.withTx(ctx, "sqlstore.CreateConversation", func(tx *sql.Tx) error {
		// A second direct conversation for the same pair fails here with ErrConflict.
		query := s.rebind("INSERT INTO conversations (id, type, name, created_by, key_version, direct_key, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, conv.ID, string(conv.Type), conv.Name, conv.CreatedBy, key.Version, pair, conv.CreatedAt.UTC(), conv.UpdatedAt.UTC()); err != nil {
			return translate(err, "sqlstore.CreateConversation: insert conversation")
		}
		conv.KeyVersion = key.Version

		query = s.rebind("INSERT INTO conversation_keys (conversation_id, version, wrapped_key, created_at) VALUES (?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, key.ConversationID, key.Version, key.WrappedKey, key.CreatedAt.UTC()); err != nil {
			return translate(err, "sqlstore.CreateConversation: insert key")
		}

		query = s.rebind("INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)")
		for _, p := range participants {
			if _, err := tx.ExecContext(ctx, query, conv.ID, p.UserID, string(p.Role), p.JoinedAt.UTC()); err != nil {
				return translate(err, "sqlstore.CreateConversation: insert participant")
			}
		}
		return nil
	})
}

func (s *SQLStore) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	query := s.rebind("SELECT " + conversationColumns + " FROM conversations c WHERE c.id = ?")
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err, "sqlstore.GetConversation")
	}
	return conv, nil
}

func (s *SQLStore) GetUserConversations(ctx context.Context, userID string) ([]models.Conversation, error) {
	query := s.rebind(`
		SELECT ` + conversationColumns + `
		FROM conversations c
		JOIN conversation_participants p ON c.id = p.conversation_id
		WHERE p.user_id = ?
		ORDER BY c.updated_at DESC, c.id
	`)
	return s.queryConversations(ctx, "sqlstore.GetUserConversations", query, userID)
}

func (s *SQLStore) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	query := s.rebind("SELECT " + conversationColumns + " FROM conversations c WHERE c.direct_key = ?")
	conv, err := scanConversation(s.db.QueryRowContext(ctx, query, directKey(userA, userB)))
	if err != nil {
		return nil, translate(err, "sqlstore.FindDirectConversation")
	}
	return conv, nil
}

func (s *SQLStore) queryConversations(ctx context.Context, op, query string, args ...any) ([]models.Conversation, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, translate(err, op)
	}
	defer rows.Close()

	convs := []models.Conversation{}
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, translate(err, op+": scan")
		}
		convs = append(convs, *conv)
	}
	return convs, translate(rows.Err(), op)
}

func (s *SQLStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	query := s.rebind("UPDATE conversations SET updated_at = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, at.UTC(), id)
	if err != nil {
		return translate(err, "sqlstore.TouchConversation")
	}
	return requireRow(res, "sqlstore.TouchConversation")
}

func (s *SQLStore) DeleteConversation(ctx context.Context, id string) error {
	return s.withTx(ctx, "sqlstore.DeleteConversation", func(tx *sql.Tx) error {
		// Children first for the foreign keys.
		for _, q := range []string{
			"DELETE FROM messages WHERE conversation_id = ?",
			"DELETE FROM conversation_keys WHERE conversation_id = ?",
			"DELETE FROM conversation_participants WHERE conversation_id = ?",
			"DELETE FROM conversations WHERE id = ?",
		} {
			if _, err := tx.ExecContext(ctx, s.rebind(q), id); err != nil {
				return translate(err, "sqlstore.DeleteConversation")
			}
		}
		return nil
	})
}

func (s *SQLStore) AddParticipant(ctx context.Context, p models.Participant) error {
	query := s.rebind("INSERT INTO conversation_participants (conversation_id, user_id, role, joined_at) VALUES (?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, p.ConversationID, p.UserID, string(p.Role), p.JoinedAt.UTC())
	return translate(err, "sqlstore.AddParticipant")
}

func (s *SQLStore) RemoveParticipant(ctx context.Context, conversationID, userID string) error {
	query := s.rebind("DELETE FROM conversation_participants WHERE conversation_id = ? AND user_id = ?")
	res, err := s.db.ExecContext(ctx, query, conversationID, userID)
	if err != nil {
		return translate(err, "sqlstore.RemoveParticipant")
	}
	return requireRow(res, "sqlstore.RemoveParticipant")
}

func (s *SQLStore) IsParticipant(ctx context.Context, conversationID, userID string) (bool, error) {
	var exists bool
	query := s.rebind("SELECT EXISTS(SELECT 1 FROM conversation_participants WHERE conversation_id = ? AND user_id = ?)")
	err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&exists)
	return exists, translate(err, "sqlstore.IsParticipant")
}

func (s *SQLStore) GetParticipantRole(ctx context.Context, conversationID, userID string) (models.Role, error) {
	var role string
	query := s.rebind("SELECT role FROM conversation_participants WHERE conversation_id = ? AND user_id = ?")
	if err := s.db.QueryRowContext(ctx, query, conversationID, userID).Scan(&role); err != nil {
		return "", translate(err, "sqlstore.GetParticipantRole")
	}
	return models.Role(role), nil
}

func (s *SQLStore) SetParticipantRole(ctx context.Context, conversationID, userID string, role models.Role) error {
	query := s.rebind("UPDATE conversation_participants SET role = ? WHERE conversation_id = ? AND user_id = ?")
	res, err := s.db.ExecContext(ctx, query, string(role), conversationID, userID)
	if err != nil {
		return translate(err, "sqlstore.SetParticipantRole")
	}
	return requireRow(res, "sqlstore.SetParticipantRole")
}

func (s *SQLStore) GetParticipants(ctx context.Context, conversationID string) ([]models.Participant, error) {
	query := s.rebind(`
		SELECT p.conversation_id, p.user_id, u.username, u.display_name, p.role, p.joined_at
		FROM conversation_participants p
		JOIN users u ON u.id = p.user_id
		WHERE p.conversation_id = ?
		ORDER BY p.joined_at, u.username
	`)
	rows, err := s.db.QueryContext(ctx, query, conversationID)
	if err != nil {
		return nil, translate(err, "sqlstore.GetParticipants")
	}
	defer rows.Close()

	participants := []models.Participant{}
	for rows.Next() {
		var (
			p    models.Participant
			role string
		)
		if err := rows.Scan(&p.ConversationID, &p.UserID, &p.Username, &p.DisplayName, &role, &p.JoinedAt); err != nil {
			return nil, translate(err, "sqlstore.GetParticipants: scan")
		}
		p.Role = models.Role(role)
		participants = append(participants, p)
	}
	return participants, translate(rows.Err(), "sqlstore.GetParticipants")
}

func (s *SQLStore) AddConversationKey(ctx context.Context, key models.ConversationKey) error {
	if key.Version < 1 || len(key.WrappedKey) == 0 {
		return errors.Wrap(errKeyRequired, "sqlstore.AddConversationKey")
	}

	return s.withTx(ctx, "sqlstore.AddConversationKey", func(tx *sql.Tx) error {
		query := s.rebind("INSERT INTO conversation_keys (conversation_id, version, wrapped_key, created_at) VALUES (?, ?, ?, ?)")
		if _, err := tx.ExecContext(ctx, query, key.ConversationID, key.Version, key.WrappedKey, key.CreatedAt.UTC()); err != nil {
			return translate(err, "sqlstore.AddConversationKey: insert")
		}

		// Only move forward; a stale rotation must not roll the version back.
		query = s.rebind("UPDATE conversations SET key_version = ?, updated_at = ? WHERE id = ? AND key_version < ?")
		res, err := tx.ExecContext(ctx, query, key.Version, key.CreatedAt.UTC(), key.ConversationID, key.Version)
		if err != nil {
			return translate(err, "sqlstore.AddConversationKey: update")
		}
		n, err := res.RowsAffected()
		if err != nil {
			return translate(err, "sqlstore.AddConversationKey: update")
		}
		if n == 0 {
			return errors.Wrap(store.ErrConflict, "sqlstore.AddConversationKey: version is not newer")
		}
		return nil
	})
}

func (s *SQLStore) GetConversationKey(ctx context.Context, conversationID string, version int) (*models.ConversationKey, error) {
	var key models.ConversationKey
	query := s.rebind("SELECT conversation_id, version, wrapped_key, created_at FROM conversation_keys WHERE conversation_id = ? AND version = ?")
	err := s.db.QueryRowContext(ctx, query, conversationID, version).Scan(&key.ConversationID, &key.Version, &key.WrappedKey, &key.CreatedAt)
	if err != nil {
		return nil, translate(err, "sqlstore.GetConversationKey")
	}
	return &key, nil
}
