package sqlstore

import (
	"context"
	"time"

	"github.com/pliu/letschat/internal/models"
)

func (s *SQLStore) CreateSession(ctx context.Context, session *models.UserSession) error {
	query := s.rebind("INSERT INTO user_sessions (id, user_id, token_hash, created_at, expires_at) VALUES (?, ?, ?, ?, ?)")
	_, err := s.db.ExecContext(ctx, query, session.ID, session.UserID, session.TokenHash, session.CreatedAt.UTC(), session.ExpiresAt.UTC())
	return translate(err, "sqlstore.CreateSession")
}

func (s *SQLStore) GetSession(ctx context.Context, id string) (*models.UserSession, error) {
	var session models.UserSession
	query := s.rebind("SELECT id, user_id, token_hash, created_at, expires_at FROM user_sessions WHERE id = ?")
	err := s.db.QueryRowContext(ctx, query, id).Scan(&session.ID, &session.UserID, &session.TokenHash, &session.CreatedAt, &session.ExpiresAt)
	if err != nil {
		return nil, translate(err, "sqlstore.GetSession")
	}
	return &session, nil
}

func (s *SQLStore) DeleteSession(ctx context.Context, id string) error {
	query := s.rebind("DELETE FROM user_sessions WHERE id = ?")
	_, err := s.db.ExecContext(ctx, query, id)
	return translate(err, "sqlstore.DeleteSession")
}

func (s *SQLStore) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	query := s.rebind("DELETE FROM user_sessions WHERE expires_at <= ?")
	res, err := s.db.ExecContext(ctx, query, now.UTC())
	if err != nil {
		return 0, translate(err, "sqlstore.DeleteExpiredSessions")
	}
	n, err := res.RowsAffected()
	return n, translate(err, "sqlstore.DeleteExpiredSessions")
}
