package sqlstore

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/pliu/letschat/internal/models"
)

const userColumns = "id, username, password_hash, display_name, status, last_seen, created_at"

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*models.User, error) {
	var (
		user     models.User
		status   string
		lastSeen sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.Username, &user.PasswordHash, &user.DisplayName, &status, &lastSeen, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Status = models.UserStatus(status)
	if lastSeen.Valid {
		t := lastSeen.Time
		user.LastSeen = &t
	}
	return &user, nil
}

func (s *SQLStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.Status == "" {
		user.Status = models.StatusOffline
	}
	query := s.rebind("INSERT INTO users (" + userColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?)")
	var lastSeen any
	if user.LastSeen != nil {
		lastSeen = user.LastSeen.UTC()
	}
	_, err := s.db.ExecContext(ctx, query, user.ID, user.Username, user.PasswordHash, user.DisplayName, string(user.Status), lastSeen, user.CreatedAt.UTC())
	return translate(err, "sqlstore.CreateUser")
}

func (s *SQLStore) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE id = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, translate(err, "sqlstore.GetUserByID")
	}
	return user, nil
}

func (s *SQLStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	query := s.rebind("SELECT " + userColumns + " FROM users WHERE username = ?")
	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		return nil, translate(err, "sqlstore.GetUserByUsername")
	}
	return user, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (s *SQLStore) SearchUsers(ctx context.Context, prefix string, limit int) ([]models.User, error) {
	query := s.rebind("SELECT " + userColumns + ` FROM users WHERE username LIKE ? ESCAPE '\' ORDER BY username LIMIT ?`)
	rows, err := s.db.QueryContext(ctx, query, likeEscaper.Replace(strings.ToLower(prefix))+"%", limit)
	if err != nil {
		return nil, translate(err, "sqlstore.SearchUsers")
	}
	defer rows.Close()

	users := []models.User{}
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, translate(err, "sqlstore.SearchUsers: scan")
		}
		users = append(users, *user)
	}
	return users, translate(rows.Err(), "sqlstore.SearchUsers")
}

func (s *SQLStore) SetUserStatus(ctx context.Context, userID string, status models.UserStatus, seen time.Time) error {
	query := s.rebind("UPDATE users SET status = ?, last_seen = ? WHERE id = ?")
	res, err := s.db.ExecContext(ctx, query, string(status), seen.UTC(), userID)
	if err != nil {
		return translate(err, "sqlstore.SetUserStatus")
	}
	return requireRow(res, "sqlstore.SetUserStatus")
}

func requireRow(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return translate(err, op)
	}
	if n == 0 {
		return translate(sql.ErrNoRows, op)
	}
	return nil
}
